package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/chunklog/chunklog/internal/logging"
	"github.com/chunklog/chunklog/internal/scavenge"
)

func TestServer_AddrBeforeStart(t *testing.T) {
	s := NewServer(":0", nil, nil)
	if got := s.Addr(); got != ":0" {
		t.Errorf("Addr() before Start = %q, want %q", got, ":0")
	}
	if err := s.Close(); err != nil {
		t.Errorf("Close without Start failed: %v", err)
	}
}

func TestServer_StartAndClose(t *testing.T) {
	s := NewServer("127.0.0.1:0", prometheus.NewRegistry(), logging.Nop())
	if err := s.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	addr := s.Addr()
	if !strings.HasPrefix(addr, "127.0.0.1:") || addr == "127.0.0.1:0" {
		t.Errorf("Addr() = %q, expected bound port", addr)
	}
	if err := s.Close(); err != nil {
		t.Errorf("Close failed: %v", err)
	}
}

func TestServer_MetricsEndpoint(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewScavengeMetricsWithRegistry(reg)
	m.RecordChunk(scavenge.OutcomeRewritten, 0.25)
	m.RecordRewrite(2048, 1, 1)

	s := NewServer("127.0.0.1:0", reg, logging.Nop())
	if err := s.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer s.Close()

	resp, err := http.Get("http://" + s.Addr() + "/metrics")
	if err != nil {
		t.Fatalf("GET /metrics failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusOK)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("failed to read body: %v", err)
	}
	for _, want := range []string{
		`chunklog_scavenge_chunks_total{outcome="rewritten"} 1`,
		"chunklog_scavenge_bytes_saved_total 2048",
		"chunklog_scavenge_chunk_duration_seconds_bucket",
	} {
		if !strings.Contains(string(body), want) {
			t.Errorf("response missing %q", want)
		}
	}
}

func TestHandler_OpenMetricsNegotiation(t *testing.T) {
	reg := prometheus.NewRegistry()
	NewScavengeMetricsWithRegistry(reg).RecordChunk(scavenge.OutcomeSkipped, 0.01)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	req.Header.Set("Accept", "application/openmetrics-text; version=1.0.0")
	w := httptest.NewRecorder()
	Handler(reg, nil).ServeHTTP(w, req)

	if ct := w.Header().Get("Content-Type"); !strings.HasPrefix(ct, "application/openmetrics-text") {
		t.Errorf("Content-Type = %q, want OpenMetrics", ct)
	}
	if !strings.HasSuffix(strings.TrimSpace(w.Body.String()), "# EOF") {
		t.Error("OpenMetrics exposition should end with # EOF")
	}
}
