// Package faceclient calls the face service that turns a captured image
// into a descriptor. The embedding model itself is the service's concern;
// this client only speaks its JSON contract.
package faceclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

// ErrNoFaceDetected is returned when the service finds no face in the image.
var ErrNoFaceDetected = errors.New("no face detected in image")

// Client calls the face embedding microservice.
type Client struct {
	BaseURL string
	HTTP    *http.Client
	// Skip short-circuits all calls with a canned descriptor, for dev
	// without the face service running.
	Skip bool
	// Dim is the descriptor length returned in skip mode.
	Dim int
}

// New creates a client with a timeout sized for model inference.
func New(baseURL string, skip bool, dim int) *Client {
	if dim <= 0 {
		dim = 128
	}
	return &Client{
		BaseURL: baseURL,
		Skip:    skip,
		Dim:     dim,
		HTTP: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// Extract requests a face descriptor for a base64 data-URL image.
func (c *Client) Extract(ctx context.Context, imageData string) ([]float32, error) {
	if c.Skip {
		return make([]float32, c.Dim), nil
	}
	if imageData == "" {
		return nil, fmt.Errorf("image data required")
	}

	body, _ := json.Marshal(map[string]string{"image": imageData})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/embed", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return nil, fmt.Errorf("face service request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		bodyBytes, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("face service error %s: %s", resp.Status, string(bodyBytes))
	}

	var out struct {
		Descriptor []float32 `json:"descriptor"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	if len(out.Descriptor) == 0 {
		return nil, ErrNoFaceDetected
	}
	return out.Descriptor, nil
}

// Health checks if the face service is available.
func (c *Client) Health(ctx context.Context) error {
	if c.Skip {
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+"/health", nil)
	if err != nil {
		return err
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("face service unavailable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("face service unhealthy: %s", resp.Status)
	}
	return nil
}
