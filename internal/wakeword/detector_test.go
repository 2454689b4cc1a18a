package wakeword

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/loqalabs/loqa-voice/internal/config"
)

type fixedModel struct {
	score float64
	err   error
}

func (m *fixedModel) Name() string                   { return "test_model" }
func (m *fixedModel) Score([]int16) (float64, error) { return m.score, m.err }

type fakeSource struct {
	model *fixedModel
	loads int
}

func (s *fakeSource) Load(_ context.Context, name string) (Model, error) {
	if name == "missing" {
		return nil, ErrUnknownModel
	}
	s.loads++
	return s.model, nil
}

func (s *fakeSource) Available() []string { return []string{"test_model"} }

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestDetector(score float64) (*Detector, *fakeSource, *fakeClock) {
	source := &fakeSource{model: &fixedModel{score: score}}
	clock := &fakeClock{t: time.Unix(1700000000, 0)}
	d := NewDetector(source, Settings{
		Enabled:   true,
		Model:     "test_model",
		Threshold: 0.5,
		Timeout:   10 * time.Second,
		Debounce:  time.Second,
	}, WithClock(clock.now))
	return d, source, clock
}

var frame = []int16{100, -100, 100}

func TestDetectsAboveThreshold(t *testing.T) {
	d, _, _ := newTestDetector(0.9)
	got := d.Process(frame)
	if !got.Detected || got.Confidence != 0.9 || got.Model != "test_model" {
		t.Fatalf("unexpected detection: %+v", got)
	}
	if d.State() != StateActive {
		t.Fatalf("expected active, got %s", d.State())
	}
}

func TestBelowThresholdDoesNotTrigger(t *testing.T) {
	d, _, _ := newTestDetector(0.2)
	if got := d.Process(frame); got.Detected {
		t.Fatalf("unexpected detection: %+v", got)
	}
	if d.State() != StateListening {
		t.Fatalf("expected listening, got %s", d.State())
	}
}

func TestSuppressedWhileSpeakingOrProcessing(t *testing.T) {
	d, _, _ := newTestDetector(0.9)
	d.SetSpeaking(true)
	if d.State() != StateSpeaking {
		t.Fatalf("expected speaking, got %s", d.State())
	}
	if got := d.Process(frame); got.Detected {
		t.Fatal("detected while speaking")
	}
	d.SetSpeaking(false)
	d.SetProcessing(true)
	if got := d.Process(frame); got.Detected {
		t.Fatal("detected while processing")
	}
	d.SetListening()
	if got := d.Process(frame); !got.Detected {
		t.Fatal("expected detection after returning to listening")
	}
}

func TestDisabledNeverDetects(t *testing.T) {
	d, source, _ := newTestDetector(0.9)
	enabled := false
	d.UpdateSettings(Update{Enabled: &enabled})
	if got := d.Process(frame); got.Detected {
		t.Fatal("detected while disabled")
	}
	if source.loads != 0 {
		t.Fatal("model loaded while disabled")
	}
}

func TestDebounce(t *testing.T) {
	d, _, clock := newTestDetector(0.9)
	if !d.Process(frame).Detected {
		t.Fatal("expected first detection")
	}
	clock.advance(500 * time.Millisecond)
	if d.Process(frame).Detected {
		t.Fatal("detection inside debounce window")
	}
	clock.advance(600 * time.Millisecond)
	if !d.Process(frame).Detected {
		t.Fatal("expected detection after debounce window")
	}
}

func TestActiveTimesOut(t *testing.T) {
	d, _, clock := newTestDetector(0.9)
	d.Process(frame)
	clock.advance(9 * time.Second)
	if d.State() != StateActive {
		t.Fatalf("expected still active, got %s", d.State())
	}
	clock.advance(time.Second)
	if d.State() != StateListening {
		t.Fatalf("expected listening after timeout, got %s", d.State())
	}
}

func TestUpdateSettings(t *testing.T) {
	d, source, _ := newTestDetector(0.9)
	if err := d.PreloadModel(context.Background()); err != nil {
		t.Fatalf("preload: %v", err)
	}
	threshold := 1.7
	timeout := 3
	model := "other"
	got := d.UpdateSettings(Update{Threshold: &threshold, TimeoutSeconds: &timeout, Model: &model})
	if got.Threshold != 1 || got.Timeout != 3*time.Second || got.Model != "other" {
		t.Fatalf("unexpected settings: %+v", got)
	}
	d.Process(frame)
	if source.loads != 2 {
		t.Fatalf("expected model reload after model change, loads=%d", source.loads)
	}
}

func TestPreloadUnknownModel(t *testing.T) {
	d, _, _ := newTestDetector(0.9)
	model := "missing"
	d.UpdateSettings(Update{Model: &model})
	if err := d.PreloadModel(context.Background()); !errors.Is(err, ErrUnknownModel) {
		t.Fatalf("expected ErrUnknownModel, got %v", err)
	}
	if d.Process(frame).Detected {
		t.Fatal("detected without a model")
	}
}

func TestEnergyModel(t *testing.T) {
	m := NewEnergyModel("hey_jarvis")
	quiet, _ := m.Score([]int16{0, 0, 0})
	loud, _ := m.Score([]int16{30000, -30000, 30000})
	if quiet != 0 || loud != 1 {
		t.Fatalf("unexpected scores quiet=%f loud=%f", quiet, loud)
	}
}

func TestRegistryRejectsUnknownModel(t *testing.T) {
	r := NewRegistry(config.Default().WakeWord, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if _, err := r.Load(context.Background(), "nope"); !errors.Is(err, ErrUnknownModel) {
		t.Fatalf("expected ErrUnknownModel, got %v", err)
	}
	m, err := r.Load(context.Background(), "hey_jarvis")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	again, _ := r.Load(context.Background(), "hey_jarvis")
	if m != again {
		t.Fatal("expected the loaded model to be shared")
	}
	r.Close()
}

func TestScoringFailureIsLoggedAndReloads(t *testing.T) {
	d, source, _ := newTestDetector(0.9)
	var logs bytes.Buffer
	d.logger = slog.New(slog.NewJSONHandler(&logs, nil))
	source.model.err = errors.New("sidecar gone")

	for i := 0; i < 3; i++ {
		if got := d.Process(frame); got.Detected {
			t.Fatal("detected with a failing model")
		}
	}
	if source.loads != 3 {
		t.Fatalf("expected a reload per failed frame, loads=%d", source.loads)
	}
	if n := strings.Count(logs.String(), "wake word scoring failed"); n != 1 {
		t.Fatalf("expected one failure log, got %d: %s", n, logs.String())
	}
	if !strings.Contains(logs.String(), "sidecar gone") {
		t.Fatalf("expected error text in log: %s", logs.String())
	}

	source.model.err = nil
	if !d.Process(frame).Detected {
		t.Fatal("expected detection after recovery")
	}
	if !strings.Contains(logs.String(), "wake word model recovered") {
		t.Fatalf("expected recovery log: %s", logs.String())
	}
}

func sidecarRegistry(t *testing.T, body string, timeoutMS int) *Registry {
	t.Helper()
	script := filepath.Join(t.TempDir(), "wake.sh")
	if err := os.WriteFile(script, []byte(body), 0o755); err != nil {
		t.Fatalf("write script: %v", err)
	}
	cfg := config.Default().WakeWord
	cfg.Mode = "exec"
	cfg.Command = "sh " + script
	cfg.ScoreTimeoutMS = timeoutMS
	r := NewRegistry(cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	t.Cleanup(r.Close)
	return r
}

func TestSidecarScoreTimesOut(t *testing.T) {
	r := sidecarRegistry(t, "#!/bin/sh\nexec sleep 30\n", 100)
	m, err := r.Load(context.Background(), "hey_jarvis")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	start := time.Now()
	if _, err := m.Score(frame); !errors.Is(err, ErrScoreTimeout) {
		t.Fatalf("expected ErrScoreTimeout, got %v", err)
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Fatalf("score blocked for %s", elapsed)
	}
	if _, err := m.Score(frame); !errors.Is(err, ErrModelStopped) {
		t.Fatalf("expected ErrModelStopped after timeout, got %v", err)
	}
	again, err := r.Load(context.Background(), "hey_jarvis")
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if again == m {
		t.Fatal("expected a fresh sidecar after the timeout")
	}
}

func TestSidecarExitIsReloaded(t *testing.T) {
	r := sidecarRegistry(t, "#!/bin/sh\nread line\necho '{\"score\":0.8}'\n", 2000)
	m, err := r.Load(context.Background(), "hey_jarvis")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if score, err := m.Score(frame); err != nil || score != 0.8 {
		t.Fatalf("unexpected score %f %v", score, err)
	}
	if _, err := m.Score(frame); !errors.Is(err, ErrModelStopped) {
		t.Fatalf("expected ErrModelStopped from an exited sidecar, got %v", err)
	}
	again, err := r.Load(context.Background(), "hey_jarvis")
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if score, err := again.Score(frame); err != nil || score != 0.8 {
		t.Fatalf("reloaded sidecar: %f %v", score, err)
	}
}
