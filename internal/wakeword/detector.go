// Package wakeword tracks the wake state of one session and scores incoming
// microphone frames against a wake-word model.
package wakeword

import (
	"context"
	"log/slog"
	"math"
	"sync"
	"time"
)

type State int

const (
	StateListening State = iota
	StateActive
	StateProcessing
	StateSpeaking
)

func (s State) String() string {
	switch s {
	case StateActive:
		return "active"
	case StateProcessing:
		return "processing"
	case StateSpeaking:
		return "speaking"
	default:
		return "listening"
	}
}

type Detection struct {
	Detected   bool
	Confidence float64
	Model      string
}

type Settings struct {
	Enabled   bool
	Model     string
	Threshold float64
	Timeout   time.Duration
	Debounce  time.Duration
}

// Update changes the fields that are non-nil.
type Update struct {
	Enabled        *bool
	Model          *string
	Threshold      *float64
	TimeoutSeconds *int
}

// Model scores one frame of mono PCM16 audio in [0, 1]. Implementations are
// shared between sessions and must not keep per-session state.
type Model interface {
	Name() string
	Score(frame []int16) (float64, error)
}

// ModelSource loads models by name.
type ModelSource interface {
	Load(ctx context.Context, name string) (Model, error)
	Available() []string
}

type Option func(*Detector)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(d *Detector) { d.now = now }
}

// WithLogger sets where model failures are reported.
func WithLogger(log *slog.Logger) Option {
	return func(d *Detector) { d.logger = log }
}

// Detector is one session's wake state machine.
type Detector struct {
	source ModelSource
	now    func() time.Time
	logger *slog.Logger

	mu          sync.Mutex
	settings    Settings
	model       Model
	state       State
	speaking    bool
	processing  bool
	activeSince time.Time
	lastTrigger time.Time
	failing     bool
}

func NewDetector(source ModelSource, settings Settings, opts ...Option) *Detector {
	d := &Detector{source: source, settings: settings, now: time.Now, logger: slog.Default()}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Process scores frame and moves to active on a detection. Nothing is
// detected while disabled, speaking or processing, or within the debounce
// window of the previous trigger.
func (d *Detector) Process(frame []int16) Detection {
	d.mu.Lock()
	d.expireLocked()
	if !d.listeningLocked() || len(frame) == 0 {
		d.mu.Unlock()
		return Detection{}
	}
	model := d.model
	name := d.settings.Model
	d.mu.Unlock()

	if model == nil {
		loaded, err := d.source.Load(context.Background(), name)
		if err != nil {
			d.modelFailed(nil, name, "wake word model load failed", err)
			return Detection{}
		}
		d.mu.Lock()
		if d.settings.Model == name {
			d.model = loaded
		}
		d.mu.Unlock()
		model = loaded
	}

	score, err := model.Score(frame)
	if err != nil {
		d.modelFailed(model, name, "wake word scoring failed", err)
		return Detection{}
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.failing {
		d.failing = false
		d.logger.Info("wake word model recovered", slog.String("model", name))
	}
	result := Detection{Confidence: score, Model: model.Name()}
	if !d.listeningLocked() || score < d.settings.Threshold {
		return result
	}
	now := d.now()
	if !d.lastTrigger.IsZero() && now.Sub(d.lastTrigger) < d.settings.Debounce {
		return result
	}
	d.lastTrigger = now
	d.activeSince = now
	d.state = StateActive
	result.Detected = true
	return result
}

// modelFailed drops the cached model so the next frame reloads it. Only the
// first failure of a run is logged.
func (d *Detector) modelFailed(model Model, name, msg string, err error) {
	d.mu.Lock()
	if model != nil && d.model == model {
		d.model = nil
	}
	first := !d.failing
	d.failing = true
	d.mu.Unlock()
	if first {
		d.logger.Warn(msg, slog.String("model", name), slogError(err))
	}
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}

func (d *Detector) listeningLocked() bool {
	return d.settings.Enabled && !d.speaking && !d.processing
}

func (d *Detector) expireLocked() {
	if d.state == StateActive && d.now().Sub(d.activeSince) >= d.settings.Timeout {
		d.state = StateListening
	}
}

func (d *Detector) SetSpeaking(speaking bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.speaking = speaking
	if speaking {
		d.state = StateSpeaking
	} else if d.state == StateSpeaking {
		d.state = StateListening
	}
}

func (d *Detector) SetProcessing(processing bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.processing = processing
	if processing {
		d.state = StateProcessing
	} else if d.state == StateProcessing {
		d.state = StateListening
	}
}

// SetListening returns to passive listening and clears processing.
func (d *Detector) SetListening() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.processing = false
	d.state = StateListening
}

func (d *Detector) State() State {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.expireLocked()
	return d.state
}

func (d *Detector) Enabled() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.settings.Enabled
}

func (d *Detector) Settings() Settings {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.settings
}

// UpdateSettings applies u and returns the resulting settings. Threshold is
// clamped to [0, 1]; non-positive timeouts are ignored.
func (d *Detector) UpdateSettings(u Update) Settings {
	d.mu.Lock()
	defer d.mu.Unlock()
	if u.Enabled != nil {
		d.settings.Enabled = *u.Enabled
		if !d.settings.Enabled {
			d.state = StateListening
		}
	}
	if u.Model != nil && *u.Model != "" && *u.Model != d.settings.Model {
		d.settings.Model = *u.Model
		d.model = nil
	}
	if u.Threshold != nil {
		d.settings.Threshold = math.Max(0, math.Min(1, *u.Threshold))
	}
	if u.TimeoutSeconds != nil && *u.TimeoutSeconds > 0 {
		d.settings.Timeout = time.Duration(*u.TimeoutSeconds) * time.Second
	}
	return d.settings
}

// PreloadModel loads the configured model ahead of the first frame.
func (d *Detector) PreloadModel(ctx context.Context) error {
	d.mu.Lock()
	name := d.settings.Model
	loaded := d.model != nil
	d.mu.Unlock()
	if loaded {
		return nil
	}
	model, err := d.source.Load(ctx, name)
	if err != nil {
		return err
	}
	d.mu.Lock()
	if d.settings.Model == name {
		d.model = model
	}
	d.mu.Unlock()
	return nil
}

func (d *Detector) AvailableModels() []string { return d.source.Available() }
