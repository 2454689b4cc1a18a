// Package voice drives one WebSocket client's speech output and wake state.
//
// Text arrives as synthesize (complete text, split into sentences) or
// synthesize_delta (streamed tokens, run through a Sentencizer). Both become
// jobs on a per-session queue served by a single worker goroutine, so audio
// for a message is always emitted in sentence order. A job for the same
// message queues behind the running one; a job for a different message
// preempts it at the next unit boundary and drops queued jobs of the old
// message. Dropped jobs that were final still produce tts_complete.
package voice

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/loqalabs/loqa-voice/internal/mdfilter"
	"github.com/loqalabs/loqa-voice/internal/protocol"
	"github.com/loqalabs/loqa-voice/internal/sentencizer"
	"github.com/loqalabs/loqa-voice/internal/tts"
	"github.com/loqalabs/loqa-voice/internal/wakeword"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Sender delivers outbound events to the client. It must be safe for
// concurrent use.
type Sender interface {
	Send(ctx context.Context, ev protocol.Event) error
}

type Config struct {
	ID           string
	NodeID       string
	Sentencizer  sentencizer.Options
	SynthTimeout time.Duration
	Pacing       time.Duration
}

type Option func(*Session)

func WithRecorder(r Recorder) Option {
	return func(s *Session) { s.recorder = r }
}

func WithMetrics(m *Metrics) Option {
	return func(s *Session) { s.metrics = m }
}

type job struct {
	messageID string
	units     []string
	final     bool
	// completeOnly jobs just emit tts_complete, keeping it ordered after
	// audio already queued for the session.
	completeOnly bool
	generation   uint64
}

type Session struct {
	cfg      Config
	client   *tts.Client
	detector *wakeword.Detector
	sender   Sender
	recorder Recorder
	metrics  *Metrics
	tracer   trace.Tracer
	logger   *slog.Logger

	// filter is only touched by the worker.
	filter *mdfilter.Filter
	// stream and deltaID are only touched by Handle, which the transport
	// calls from one read loop.
	stream  *sentencizer.Sentencizer
	deltaID string

	mu         sync.Mutex
	enabled    bool
	muted      bool
	speaking   bool
	running    bool
	currentID  string
	hasCurrent bool
	activeID   string
	generation uint64
	queue      []job
	signal     chan struct{}

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewSession(parent context.Context, cfg Config, client *tts.Client, detector *wakeword.Detector, sender Sender, log *slog.Logger, opts ...Option) *Session {
	ctx, cancel := context.WithCancel(parent)
	s := &Session{
		cfg:      cfg,
		client:   client,
		detector: detector,
		sender:   sender,
		recorder: nopRecorder{},
		tracer:   otel.Tracer("github.com/loqalabs/loqa-voice/voice"),
		logger:   log.With(slog.String("component", "voice-session"), slog.String("session_id", cfg.ID)),
		filter:   mdfilter.New(),
		stream:   sentencizer.New(cfg.Sentencizer),
		enabled:  true,
		signal:   make(chan struct{}, 1),
		ctx:      ctx,
		cancel:   cancel,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Session) ID() string { return s.cfg.ID }

// Start launches the synthesis worker.
func (s *Session) Start() {
	s.wg.Add(1)
	go s.run()
}

// Connect greets the client with its session id.
func (s *Session) Connect(ctx context.Context) {
	s.emit(ctx, protocol.NewConnected(s.cfg.ID))
}

// Close stops the worker and releases the session. Queued jobs are
// discarded without events.
func (s *Session) Close() {
	s.cancel()
	s.wg.Wait()
}

// Speaking reports whether a synthesis job is producing audio.
func (s *Session) Speaking() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.speaking
}

// Handle applies one inbound message. Failures are reported to the client
// as error events and never returned.
func (s *Session) Handle(ctx context.Context, msg protocol.Inbound) {
	switch m := msg.(type) {
	case protocol.Synthesize:
		var units []string
		if strings.TrimSpace(m.Text) != "" {
			units = sentencizer.Split(m.Text)
		}
		s.enqueue(m.MessageID, units, m.IsFinal)
	case protocol.SynthesizeDelta:
		s.handleDelta(m)
	case protocol.SetTTSEnabled:
		s.mu.Lock()
		s.enabled = m.Enabled
		s.mu.Unlock()
		s.logger.Info("tts enabled changed", slog.Bool("enabled", m.Enabled))
	case protocol.SetTTSMuted:
		s.mu.Lock()
		s.muted = m.Muted
		s.mu.Unlock()
		s.logger.Info("tts muted changed", slog.Bool("muted", m.Muted))
	case protocol.SetVoice:
		if m.Voice == "" {
			return
		}
		if err := s.client.SetVoice(m.Voice); err != nil {
			s.emit(ctx, protocol.NewError(err.Error()))
			return
		}
		s.emit(ctx, protocol.NewVoiceChanged(m.Voice))
	case protocol.SetSpeed:
		s.client.SetSpeed(m.Speed)
	case protocol.SetWakeWordSettings:
		s.detector.UpdateSettings(wakeword.Update{
			Enabled:        m.Enabled,
			Model:          m.Model,
			Threshold:      m.Threshold,
			TimeoutSeconds: m.TimeoutSeconds,
		})
		if m.Enabled != nil && *m.Enabled {
			if err := s.detector.PreloadModel(ctx); err != nil {
				s.logger.Warn("failed to preload wake word model", slogError(err))
				s.emit(ctx, protocol.NewError(fmt.Sprintf("Wake word model failed: %v", err)))
			}
		}
		s.emit(ctx, protocol.NewWakeWordSettingsChanged(s.wakeSettings()))
	case protocol.GetSettings:
		s.emit(ctx, protocol.NewSettings(s.ttsSettings(), s.wakeSettings()))
	case protocol.GetVoices:
		s.emit(ctx, protocol.NewVoices(s.client.Voices()))
	case protocol.GetWakeWordModels:
		s.emit(ctx, protocol.NewWakeWordModels(s.detector.AvailableModels()))
	case protocol.StopSpeaking:
		s.stop()
		s.detector.SetSpeaking(false)
	case protocol.SetProcessing:
		s.detector.SetProcessing(m.Processing)
	case protocol.SetListening:
		s.detector.SetListening()
		s.emit(ctx, protocol.NewWakeStatus(s.detector.State().String()))
	}
}

// HandleAudio feeds a binary PCM16 frame to the wake-word detector.
func (s *Session) HandleAudio(ctx context.Context, frame []byte) {
	if !s.detector.Enabled() {
		return
	}
	samples, err := protocol.DecodePCM16(frame)
	if err != nil {
		s.logger.Debug("dropping audio frame", slogError(err))
		return
	}
	det := s.detector.Process(samples)
	if !det.Detected {
		return
	}
	s.metrics.wakeDetected(ctx, det.Model)
	s.logger.Info("wake word detected", slog.String("model", det.Model), slog.Float64("confidence", det.Confidence))
	s.emit(ctx, protocol.NewWakeDetected(wakeword.StateActive.String(), det.Confidence))
}

func (s *Session) handleDelta(m protocol.SynthesizeDelta) {
	if m.MessageID != s.deltaID {
		s.stream.Reset()
		s.deltaID = m.MessageID
	}
	var units []string
	if unit, ok := s.stream.AddToken(m.Delta); ok {
		units = append(units, unit)
		for {
			unit, ok := s.stream.AddToken("")
			if !ok {
				break
			}
			units = append(units, unit)
		}
	}
	if m.IsFinal {
		if unit, ok := s.stream.Flush(); ok {
			units = append(units, unit)
		}
	}
	if len(units) == 0 && !m.IsFinal {
		return
	}
	s.enqueue(m.MessageID, units, m.IsFinal)
}

func (s *Session) enqueue(messageID string, units []string, final bool) {
	s.mu.Lock()
	if !s.enabled || s.muted || len(units) == 0 {
		if final {
			s.queue = append(s.queue, job{messageID: messageID, final: true, completeOnly: true})
			s.notifyLocked()
		}
		s.mu.Unlock()
		return
	}
	if (s.running || len(s.queue) > 0) && s.activeID != messageID {
		s.generation++
		s.queue = completionsFor(s.queue)
		s.logger.Info("preempting synthesis", slog.String("previous_message_id", s.activeID), slog.String("message_id", messageID))
	}
	s.activeID = messageID
	s.queue = append(s.queue, job{messageID: messageID, units: units, final: final, generation: s.generation})
	s.notifyLocked()
	s.mu.Unlock()
}

// stop cancels the running job at its next checkpoint and drops the queue.
func (s *Session) stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.speaking = false
	s.generation++
	s.queue = completionsFor(s.queue)
}

// completionsFor keeps only the tts_complete owed by dropped jobs.
func completionsFor(queue []job) []job {
	var out []job
	for _, j := range queue {
		if j.final {
			out = append(out, job{messageID: j.messageID, final: true, completeOnly: true})
		}
	}
	return out
}

func (s *Session) notifyLocked() {
	select {
	case s.signal <- struct{}{}:
	default:
	}
}

func (s *Session) run() {
	defer s.wg.Done()
	for {
		j, ok := s.next()
		if !ok {
			return
		}
		s.process(j)
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
	}
}

func (s *Session) next() (job, bool) {
	for {
		s.mu.Lock()
		if len(s.queue) > 0 {
			j := s.queue[0]
			s.queue = s.queue[1:]
			s.running = true
			s.mu.Unlock()
			return j, true
		}
		s.mu.Unlock()

		select {
		case <-s.ctx.Done():
			return job{}, false
		case <-s.signal:
		}
	}
}

// checkpoint reports whether job j may keep producing audio.
func (s *Session) checkpoint(j job) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.speaking && j.generation == s.generation && s.ctx.Err() == nil
}

func (s *Session) process(j job) {
	if j.completeOnly {
		s.emit(s.ctx, protocol.NewTTSComplete(j.messageID))
		return
	}

	s.mu.Lock()
	if j.generation != s.generation {
		s.mu.Unlock()
		if j.final {
			s.emit(s.ctx, protocol.NewTTSComplete(j.messageID))
		}
		return
	}
	resetFilter := !s.hasCurrent || s.currentID != j.messageID
	s.currentID = j.messageID
	s.hasCurrent = true
	s.speaking = true
	s.mu.Unlock()

	if resetFilter {
		s.filter.Reset()
	}

	ctx, span := s.tracer.Start(s.ctx, "voice.synthesize", trace.WithAttributes(
		attribute.String("session.id", s.cfg.ID),
		attribute.String("message.id", j.messageID),
		attribute.Int("units", len(j.units)),
	))
	defer span.End()

	s.detector.SetSpeaking(true)
	s.emit(ctx, protocol.NewTTSStart(j.messageID))

	defer func() {
		s.mu.Lock()
		s.speaking = false
		s.mu.Unlock()
		s.detector.SetSpeaking(false)
		s.detector.SetListening()
		if j.final {
			s.emit(ctx, protocol.NewTTSComplete(j.messageID))
		}
	}()

	sent := 0
	for _, unit := range j.units {
		if !s.checkpoint(j) {
			span.SetAttributes(attribute.Bool("cancelled", true))
			break
		}
		text, ok := s.filter.Filter(unit)
		if !ok {
			continue
		}
		seg, err := s.synthesize(ctx, text)
		if err != nil {
			if s.ctx.Err() != nil {
				return
			}
			s.metrics.synthFailed(ctx)
			span.RecordError(err)
			span.SetStatus(codes.Error, "synthesis failed")
			s.logger.Warn("tts failed", slog.String("message_id", j.messageID), slogError(err))
			s.emit(ctx, protocol.NewError("TTS failed: "+err.Error()))
			return
		}
		if seg.Empty() {
			continue
		}
		if !s.checkpoint(j) {
			break
		}
		s.emit(ctx, protocol.NewTTSAudio(seg.Base64(), seg.SampleRate, seg.Duration.Seconds(), j.messageID))
		sent++
		if !s.pace() {
			return
		}
	}
	span.SetAttributes(attribute.Int("units.sent", sent))
}

func (s *Session) synthesize(ctx context.Context, text string) (tts.AudioSegment, error) {
	if s.cfg.SynthTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.SynthTimeout)
		defer cancel()
	}
	start := time.Now()
	seg, err := s.client.Synthesize(ctx, text)
	if errors.Is(err, context.DeadlineExceeded) {
		err = fmt.Errorf("synthesis timed out after %s", s.cfg.SynthTimeout)
	}
	if err == nil {
		s.metrics.unitSynthesized(ctx, time.Since(start))
	}
	return seg, err
}

// pace waits between units. It returns false when the session is closing.
func (s *Session) pace() bool {
	if s.cfg.Pacing <= 0 {
		return s.ctx.Err() == nil
	}
	timer := time.NewTimer(s.cfg.Pacing)
	defer timer.Stop()
	select {
	case <-s.ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

func (s *Session) emit(ctx context.Context, ev protocol.Event) {
	if err := s.sender.Send(ctx, ev); err != nil {
		s.logger.Debug("failed to send event", slog.String("type", ev.EventType()), slogError(err))
	}
	if rec, ok := sessionEvent(s.cfg, ev); ok {
		s.recorder.Record(ctx, rec)
	}
}

func (s *Session) ttsSettings() protocol.TTSSettings {
	s.mu.Lock()
	enabled, muted := s.enabled, s.muted
	s.mu.Unlock()
	return protocol.TTSSettings{
		Enabled: enabled,
		Muted:   muted,
		Voice:   s.client.Voice(),
		Speed:   s.client.Speed(),
		Voices:  s.client.Voices(),
	}
}

func (s *Session) wakeSettings() protocol.WakeWordSettings {
	settings := s.detector.Settings()
	return protocol.WakeWordSettings{
		Enabled:        settings.Enabled,
		Model:          settings.Model,
		Threshold:      settings.Threshold,
		TimeoutSeconds: int(settings.Timeout / time.Second),
		DebounceMS:     int(settings.Debounce / time.Millisecond),
		State:          s.detector.State().String(),
	}
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
