package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/smazurov/videostream/internal/logging"
	"github.com/smazurov/videostream/pkg/vsl"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	host, err := vsl.NewHost(vsl.HostConfig{
		SocketPath: filepath.Join(t.TempDir(), "api-test.vsl"),
	})
	if err != nil {
		t.Fatalf("NewHost failed: %v", err)
	}
	t.Cleanup(func() { host.Close() })
	return NewServer(host)
}

func get(t *testing.T, s *Server, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	s.Mux().ServeHTTP(rec, req)
	return rec
}

func TestHealthEndpoint(t *testing.T) {
	s := newTestServer(t)

	rec := get(t, s, "/api/health")
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var body HealthData
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("Bad JSON: %v", err)
	}
	if body.Status != "ok" {
		t.Errorf("Expected status 'ok', got %q", body.Status)
	}
}

func TestStatusEndpoint(t *testing.T) {
	s := newTestServer(t)

	f, err := s.host.NewFrame(64, 64, "NV12", vsl.Timing{})
	if err != nil {
		t.Fatalf("NewFrame failed: %v", err)
	}
	if err := s.host.Publish(f); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}
	defer f.Release()

	rec := get(t, s, "/api/status")
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var body StatusData
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("Bad JSON: %v", err)
	}
	if body.LastSerial != 1 {
		t.Errorf("Expected last serial 1, got %d", body.LastSerial)
	}
	if len(body.Slots) != 1 || body.Slots[0].State != "published" {
		t.Errorf("Unexpected slots: %+v", body.Slots)
	}
}

func TestFramesEndpoint(t *testing.T) {
	s := newTestServer(t)

	f, err := s.host.NewFrame(64, 64, "GREY", vsl.Timing{})
	if err != nil {
		t.Fatalf("NewFrame failed: %v", err)
	}
	defer f.Release()

	rec := get(t, s, "/api/frames")
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var body FramesData
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("Bad JSON: %v", err)
	}
	if body.Count != 1 || body.Slots[0].State != "allocated" {
		t.Errorf("Unexpected pool state: %+v", body)
	}
}

func TestLogsEndpoint(t *testing.T) {
	s := newTestServer(t)
	logging.GetLogger("api-test").Info("an entry for the logs endpoint")

	rec := get(t, s, "/api/logs?limit=10")
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var body LogsData
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("Bad JSON: %v", err)
	}
	if body.Count == 0 {
		t.Error("Expected at least one log entry")
	}
	if body.Count > 10 {
		t.Errorf("Limit not honored: %d entries", body.Count)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	s := newTestServer(t)

	rec := get(t, s, "/metrics")
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}
	if rec.Body.Len() == 0 {
		t.Error("Expected Prometheus exposition output")
	}
}
