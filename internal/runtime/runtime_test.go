package runtime

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/loqalabs/loqa-voice/internal/config"
)

func TestNewEngine(t *testing.T) {
	cfg := config.Default().TTS
	if _, err := NewEngine(cfg); err != nil {
		t.Fatalf("mock engine: %v", err)
	}
	cfg.Mode = "exec"
	cfg.Command = "synth --voice 'af heart'"
	if _, err := NewEngine(cfg); err != nil {
		t.Fatalf("exec engine: %v", err)
	}
	cfg.Mode = "kokoro"
	if _, err := NewEngine(cfg); err == nil {
		t.Fatal("expected error for unknown mode")
	}
}

func TestReadiness(t *testing.T) {
	r := New(config.Default(), nil)
	rec := httptest.NewRecorder()
	r.handleReady(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected not ready before start, got %d", rec.Code)
	}
	r.ready.Store(true)
	rec = httptest.NewRecorder()
	r.handleReady(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected ready, got %d", rec.Code)
	}
}
