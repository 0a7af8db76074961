package faceclient

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestExtract(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/embed" || r.Method != http.MethodPost {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		var req struct {
			Image string `json:"image"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Image == "" {
			t.Errorf("bad request body: %v", err)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"descriptor": []float32{0.1, 0.2, 0.3},
		})
	}))
	defer srv.Close()

	c := New(srv.URL, false, 0)
	got, err := c.Extract(context.Background(), "data:image/jpeg;base64,xxxx")
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if len(got) != 3 || got[0] != 0.1 {
		t.Errorf("descriptor = %v", got)
	}
}

func TestExtractNoFace(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"descriptor": []float32{}})
	}))
	defer srv.Close()

	c := New(srv.URL, false, 0)
	if _, err := c.Extract(context.Background(), "data:..."); !errors.Is(err, ErrNoFaceDetected) {
		t.Errorf("err = %v; want ErrNoFaceDetected", err)
	}
}

func TestExtractServiceError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "model not loaded", http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := New(srv.URL, false, 0)
	if _, err := c.Extract(context.Background(), "data:..."); err == nil {
		t.Error("expected error from failing service")
	}
}

func TestSkipMode(t *testing.T) {
	c := New("http://unused", true, 128)
	got, err := c.Extract(context.Background(), "")
	if err != nil {
		t.Fatalf("Extract in skip mode: %v", err)
	}
	if len(got) != 128 {
		t.Errorf("descriptor length = %d; want 128", len(got))
	}
	if err := c.Health(context.Background()); err != nil {
		t.Errorf("Health in skip mode: %v", err)
	}
}
