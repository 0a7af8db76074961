package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"faceattend/internal/attendance"
	"faceattend/internal/facematch"
	"faceattend/internal/notify"
)

func newTestRouter(t *testing.T) (*gin.Engine, *notify.Hub) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	store := attendance.NewMemoryStore()
	hub := notify.NewHub()
	svc := attendance.NewService(store, store, store, facematch.Matcher{Threshold: 0.6}, hub,
		attendance.Config{DescriptorDim: 4})

	h := New(svc, hub, nil, Options{
		AdminUser:     "admin",
		AdminPassword: "hunter2",
		JWTIssuer:     "faceattend-test",
		JWTSigningKey: "test-signing-key",
		AccessTTL:     time.Hour,
		Keepalive:     50 * time.Millisecond,
	})

	r := gin.New()
	h.Routes(r)
	return r, hub
}

func doJSON(t *testing.T, r *gin.Engine, method, path string, body any, token string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func adminToken(t *testing.T, r *gin.Engine) string {
	t.Helper()
	w := doJSON(t, r, http.MethodPost, "/api/adminLogin",
		gin.H{"username": "admin", "password": "hunter2"}, "")
	if w.Code != http.StatusOK {
		t.Fatalf("adminLogin status = %d: %s", w.Code, w.Body.String())
	}
	var resp struct {
		Token string `json:"token"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil || resp.Token == "" {
		t.Fatalf("adminLogin response: %s", w.Body.String())
	}
	return resp.Token
}

func TestRegisterEndpoint(t *testing.T) {
	r, _ := newTestRouter(t)

	w := doJSON(t, r, http.MethodPost, "/api/register",
		gin.H{"rollNumber": "21A", "faceDescriptor": []float32{1, 2, 3, 4}}, "")
	if w.Code != http.StatusCreated {
		t.Fatalf("register status = %d: %s", w.Code, w.Body.String())
	}

	// Same roll number again.
	w = doJSON(t, r, http.MethodPost, "/api/register",
		gin.H{"rollNumber": "21A", "faceDescriptor": []float32{9, 9, 9, 9}}, "")
	if w.Code != http.StatusConflict {
		t.Errorf("duplicate roll status = %d; want 409", w.Code)
	}

	// Near-duplicate face under a different roll number.
	w = doJSON(t, r, http.MethodPost, "/api/register",
		gin.H{"rollNumber": "21B", "faceDescriptor": []float32{1.1, 2, 3, 4}}, "")
	if w.Code != http.StatusConflict {
		t.Errorf("duplicate face status = %d; want 409", w.Code)
	}

	// Missing descriptor.
	w = doJSON(t, r, http.MethodPost, "/api/register", gin.H{"rollNumber": "21C"}, "")
	if w.Code != http.StatusBadRequest {
		t.Errorf("missing descriptor status = %d; want 400", w.Code)
	}
}

func TestMarkAttendanceStatusLadder(t *testing.T) {
	r, _ := newTestRouter(t)
	stored := []float32{0, 0, 0, 0}

	// No active session yet.
	w := doJSON(t, r, http.MethodPost, "/api/markAttendance",
		gin.H{"rollNumber": "21A", "faceDescriptor": stored}, "")
	if w.Code != http.StatusBadRequest {
		t.Errorf("no-session status = %d; want 400", w.Code)
	}

	token := adminToken(t, r)
	w = doJSON(t, r, http.MethodPost, "/api/startAttendance",
		gin.H{"companyName": "Acme", "duration": 30}, token)
	if w.Code != http.StatusOK {
		t.Fatalf("startAttendance status = %d: %s", w.Code, w.Body.String())
	}

	// Student not registered.
	w = doJSON(t, r, http.MethodPost, "/api/markAttendance",
		gin.H{"rollNumber": "21A", "faceDescriptor": stored}, "")
	if w.Code != http.StatusNotFound {
		t.Errorf("unknown student status = %d; want 404", w.Code)
	}

	w = doJSON(t, r, http.MethodPost, "/api/register",
		gin.H{"rollNumber": "21A", "faceDescriptor": stored}, "")
	if w.Code != http.StatusCreated {
		t.Fatalf("register status = %d: %s", w.Code, w.Body.String())
	}

	// Face too far from the stored descriptor.
	w = doJSON(t, r, http.MethodPost, "/api/markAttendance",
		gin.H{"rollNumber": "21A", "faceDescriptor": []float32{0.61, 0, 0, 0}}, "")
	if w.Code != http.StatusForbidden {
		t.Errorf("mismatch status = %d; want 403", w.Code)
	}

	// Close enough.
	w = doJSON(t, r, http.MethodPost, "/api/markAttendance",
		gin.H{"rollNumber": "21A", "faceDescriptor": []float32{0.59, 0, 0, 0}, "location": "12.9,77.6"}, "")
	if w.Code != http.StatusOK {
		t.Fatalf("mark status = %d: %s", w.Code, w.Body.String())
	}

	// Repeat submission.
	w = doJSON(t, r, http.MethodPost, "/api/markAttendance",
		gin.H{"rollNumber": "21A", "faceDescriptor": stored}, "")
	if w.Code != http.StatusConflict {
		t.Errorf("repeat status = %d; want 409", w.Code)
	}

	// Stop and verify check-in is rejected again.
	w = doJSON(t, r, http.MethodPost, "/api/stopAttendance", nil, token)
	if w.Code != http.StatusOK {
		t.Fatalf("stopAttendance status = %d: %s", w.Code, w.Body.String())
	}
	w = doJSON(t, r, http.MethodPost, "/api/markAttendance",
		gin.H{"rollNumber": "21A", "faceDescriptor": stored}, "")
	if w.Code != http.StatusBadRequest {
		t.Errorf("post-stop status = %d; want 400", w.Code)
	}
}

func TestAdminEndpointsRequireToken(t *testing.T) {
	r, _ := newTestRouter(t)

	w := doJSON(t, r, http.MethodPost, "/api/startAttendance",
		gin.H{"companyName": "Acme", "duration": 30}, "")
	if w.Code != http.StatusUnauthorized {
		t.Errorf("no-token status = %d; want 401", w.Code)
	}

	w = doJSON(t, r, http.MethodPost, "/api/adminLogin",
		gin.H{"username": "admin", "password": "wrong"}, "")
	if w.Code != http.StatusUnauthorized {
		t.Errorf("bad-credentials status = %d; want 401", w.Code)
	}

	w = doJSON(t, r, http.MethodPost, "/api/stopAttendance", nil, "garbage-token")
	if w.Code != http.StatusUnauthorized {
		t.Errorf("garbage-token status = %d; want 401", w.Code)
	}
}

func TestSessionReadEndpoints(t *testing.T) {
	r, _ := newTestRouter(t)

	for _, path := range []string{"/api/getActiveSession", "/api/getAttendance", "/api/getCompanyName"} {
		if w := doJSON(t, r, http.MethodGet, path, nil, ""); w.Code != http.StatusNotFound {
			t.Errorf("GET %s status = %d; want 404 before any session", path, w.Code)
		}
	}

	token := adminToken(t, r)
	if w := doJSON(t, r, http.MethodPost, "/api/startAttendance",
		gin.H{"companyName": "Acme", "duration": 30}, token); w.Code != http.StatusOK {
		t.Fatalf("startAttendance status = %d", w.Code)
	}

	w := doJSON(t, r, http.MethodGet, "/api/getActiveSession", nil, "")
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "Acme") {
		t.Errorf("getActiveSession = %d %s", w.Code, w.Body.String())
	}

	w = doJSON(t, r, http.MethodGet, "/api/getAttendance", nil, "")
	if w.Code != http.StatusOK {
		t.Fatalf("getAttendance status = %d", w.Code)
	}
	var snap attendance.Snapshot
	if err := json.Unmarshal(w.Body.Bytes(), &snap); err != nil {
		t.Fatalf("decode snapshot: %v", err)
	}
	if snap.Session == nil || snap.Session.CompanyName != "Acme" || snap.AttendanceList == nil {
		t.Errorf("snapshot = %+v", snap)
	}

	// Stopped sessions still show up as the latest context.
	if w := doJSON(t, r, http.MethodPost, "/api/stopAttendance", nil, token); w.Code != http.StatusOK {
		t.Fatalf("stopAttendance status = %d", w.Code)
	}
	if w := doJSON(t, r, http.MethodGet, "/api/getActiveSession", nil, ""); w.Code != http.StatusNotFound {
		t.Errorf("getActiveSession after stop = %d; want 404", w.Code)
	}
	if w := doJSON(t, r, http.MethodGet, "/api/getCompanyName", nil, ""); w.Code != http.StatusOK {
		t.Errorf("getCompanyName after stop = %d; want 200", w.Code)
	}
}

func TestAttendanceStreamInitialSnapshot(t *testing.T) {
	r, _ := newTestRouter(t)

	token := adminToken(t, r)
	if w := doJSON(t, r, http.MethodPost, "/api/startAttendance",
		gin.H{"companyName": "Acme", "duration": 30}, token); w.Code != http.StatusOK {
		t.Fatalf("startAttendance status = %d", w.Code)
	}

	ctx, cancel := context.WithCancel(context.Background())
	req := httptest.NewRequest(http.MethodGet, "/api/attendanceStream", nil).WithContext(ctx)
	w := httptest.NewRecorder()

	done := make(chan struct{})
	go func() {
		defer close(done)
		r.ServeHTTP(w, req)
	}()

	time.Sleep(100 * time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("stream handler did not return after client disconnect")
	}

	body := w.Body.String()
	if w.Header().Get("Content-Type") != "text/event-stream" {
		t.Errorf("Content-Type = %q", w.Header().Get("Content-Type"))
	}
	if !strings.Contains(body, "data:") || !strings.Contains(body, "Acme") {
		t.Errorf("stream body missing initial snapshot: %q", body)
	}
	if !strings.Contains(body, ": keepalive") {
		t.Errorf("stream body missing keepalive: %q", body)
	}
}
