package wakeword

import (
	"bufio"
	"context"
	"encoding/base64"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"os/exec"
	"slices"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/loqalabs/loqa-voice/internal/config"
	"github.com/mattn/go-shellwords"
)

var (
	ErrUnknownModel = errors.New("unknown wake word model")
	ErrModelStopped = errors.New("wake word model stopped")
	ErrScoreTimeout = errors.New("wake word score timed out")
)

const defaultScoreTimeout = 500 * time.Millisecond

// Registry loads models once and shares them between sessions.
type Registry struct {
	cfg    config.WakeWordConfig
	logger *slog.Logger

	mu     sync.Mutex
	models map[string]Model
}

func NewRegistry(cfg config.WakeWordConfig, log *slog.Logger) *Registry {
	return &Registry{
		cfg:    cfg,
		logger: log.With(slog.String("component", "wakeword")),
		models: make(map[string]Model),
	}
}

func (r *Registry) Available() []string { return append([]string(nil), r.cfg.Models...) }

// DefaultSettings returns detector settings from configuration.
func (r *Registry) DefaultSettings() Settings {
	return Settings{
		Enabled:   r.cfg.Enabled,
		Model:     r.cfg.Model,
		Threshold: r.cfg.Threshold,
		Timeout:   time.Duration(r.cfg.TimeoutSeconds) * time.Second,
		Debounce:  time.Duration(r.cfg.DebounceMS) * time.Millisecond,
	}
}

func (r *Registry) Load(ctx context.Context, name string) (Model, error) {
	if !slices.Contains(r.cfg.Models, name) {
		return nil, fmt.Errorf("%w: %s", ErrUnknownModel, name)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if m, ok := r.models[name]; ok {
		if sc, isSidecar := m.(*sidecarModel); !isSidecar || !sc.stopped() {
			return m, nil
		}
		delete(r.models, name)
		r.logger.Warn("wake word model stopped, reloading", slog.String("model", name))
	}

	var (
		m   Model
		err error
	)
	switch r.cfg.Mode {
	case "exec":
		m, err = startSidecar(ctx, r.cfg.Command, name, r.cfg.SampleRate, r.scoreTimeout())
	default:
		m = NewEnergyModel(name)
	}
	if err != nil {
		return nil, fmt.Errorf("load wake word model %s: %w", name, err)
	}
	r.models[name] = m
	r.logger.Info("wake word model loaded", slog.String("model", name), slog.String("mode", r.cfg.Mode))
	return m, nil
}

func (r *Registry) scoreTimeout() time.Duration {
	if r.cfg.ScoreTimeoutMS <= 0 {
		return defaultScoreTimeout
	}
	return time.Duration(r.cfg.ScoreTimeoutMS) * time.Millisecond
}

// Close stops any sidecar processes.
func (r *Registry) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for name, m := range r.models {
		if c, ok := m.(io.Closer); ok {
			if err := c.Close(); err != nil {
				r.logger.Warn("failed to stop wake word model", slog.String("model", name), slogError(err))
			}
		}
	}
	r.models = make(map[string]Model)
}

// energyModel scores frames by RMS loudness. A frame at a quarter of full
// scale scores 1.
type energyModel struct {
	name string
}

func NewEnergyModel(name string) Model { return energyModel{name: name} }

func (m energyModel) Name() string { return m.name }

func (m energyModel) Score(frame []int16) (float64, error) {
	if len(frame) == 0 {
		return 0, nil
	}
	var sum float64
	for _, s := range frame {
		v := float64(s)
		sum += v * v
	}
	rms := math.Sqrt(sum / float64(len(frame)))
	return math.Min(1, rms/(0.25*32768)), nil
}

// sidecarModel talks to a long-running scorer: one JSON line per frame in,
// one JSON line with a score out. A sidecar that misses the score timeout or
// exits is killed and reports ErrModelStopped until the registry reloads it.
type sidecarModel struct {
	name       string
	sampleRate int
	timeout    time.Duration

	mu      sync.Mutex
	cmd     *exec.Cmd
	stdin   io.WriteCloser
	stdout  *bufio.Reader
	dead    bool
	waitErr error
	waited  chan struct{}
}

type sidecarRequest struct {
	PCMBase64  string `json:"pcm_base64"`
	SampleRate int    `json:"sample_rate"`
}

type sidecarResponse struct {
	Score float64 `json:"score"`
	Error string  `json:"error,omitempty"`
}

type scoreLine struct {
	line []byte
	err  error
}

func startSidecar(ctx context.Context, command, name string, sampleRate int, timeout time.Duration) (*sidecarModel, error) {
	parser := shellwords.NewParser()
	args, err := parser.Parse(command)
	if err != nil {
		return nil, fmt.Errorf("parse wakeword command: %w", err)
	}
	if len(args) == 0 {
		return nil, errors.New("wakeword command empty")
	}
	args = append(args, "--model", name)

	// The sidecar outlives the load request, so it is not bound to ctx.
	cmd := exec.Command(args[0], args[1:]...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, err
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start wakeword command: %w", err)
	}
	return &sidecarModel{
		name:       name,
		sampleRate: sampleRate,
		timeout:    timeout,
		cmd:        cmd,
		stdin:      stdin,
		stdout:     bufio.NewReader(stdout),
		waited:     make(chan struct{}),
	}, nil
}

func (m *sidecarModel) Name() string { return m.name }

func (m *sidecarModel) Score(frame []int16) (float64, error) {
	pcm := make([]byte, len(frame)*2)
	for i, s := range frame {
		binary.LittleEndian.PutUint16(pcm[i*2:], uint16(s))
	}
	payload, err := sonic.Marshal(sidecarRequest{
		PCMBase64:  base64.StdEncoding.EncodeToString(pcm),
		SampleRate: m.sampleRate,
	})
	if err != nil {
		return 0, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.dead {
		return 0, ErrModelStopped
	}

	result := make(chan scoreLine, 1)
	go func() {
		if _, err := m.stdin.Write(append(payload, '\n')); err != nil {
			result <- scoreLine{err: fmt.Errorf("write frame: %w", err)}
			return
		}
		line, err := m.stdout.ReadBytes('\n')
		if err != nil {
			err = fmt.Errorf("read score: %w", err)
		}
		result <- scoreLine{line: line, err: err}
	}()

	timer := time.NewTimer(m.timeout)
	defer timer.Stop()
	var r scoreLine
	select {
	case r = <-result:
	case <-timer.C:
		// Killing the process unblocks the pending read.
		m.killLocked()
		return 0, fmt.Errorf("%w after %s", ErrScoreTimeout, m.timeout)
	}
	if r.err != nil {
		m.killLocked()
		return 0, fmt.Errorf("%w: %w", ErrModelStopped, r.err)
	}

	var resp sidecarResponse
	if err := sonic.Unmarshal(r.line, &resp); err != nil {
		return 0, fmt.Errorf("decode score: %w", err)
	}
	if resp.Error != "" {
		return 0, errors.New(resp.Error)
	}
	return resp.Score, nil
}

func (m *sidecarModel) stopped() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.dead
}

func (m *sidecarModel) killLocked() {
	if m.dead {
		return
	}
	m.dead = true
	_ = m.stdin.Close()
	if m.cmd.Process != nil {
		_ = m.cmd.Process.Kill()
	}
	go m.reap()
}

func (m *sidecarModel) reap() {
	m.waitErr = m.cmd.Wait()
	close(m.waited)
}

// Close asks the sidecar to exit by closing its stdin and kills it if it is
// still running after the score timeout.
func (m *sidecarModel) Close() error {
	m.mu.Lock()
	if m.dead {
		m.mu.Unlock()
		<-m.waited
		return nil
	}
	m.dead = true
	_ = m.stdin.Close()
	m.mu.Unlock()

	go m.reap()
	select {
	case <-m.waited:
		return m.waitErr
	case <-time.After(m.timeout):
		_ = m.cmd.Process.Kill()
		<-m.waited
		return nil
	}
}
