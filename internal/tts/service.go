package tts

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/loqalabs/loqa-voice/internal/bus"
	"github.com/loqalabs/loqa-voice/internal/mdfilter"
	"github.com/loqalabs/loqa-voice/internal/protocol"
	"github.com/loqalabs/loqa-voice/internal/sentencizer"
	"github.com/nats-io/nats.go"
)

// Service answers synthesis requests from other services on the bus. Each
// request is split into sentences, cleaned of markdown and published unit by
// unit to voice.tts.audio.<sessionId>, ending with a final chunk.
type Service struct {
	bus     *bus.Client
	engine  Engine
	catalog *Catalog
	voice   string
	speed   float64
	timeout time.Duration
	sub     *nats.Subscription
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	logger  *slog.Logger
}

func NewService(parent context.Context, busClient *bus.Client, engine Engine, catalog *Catalog, voice string, speed float64, timeout time.Duration, log *slog.Logger) *Service {
	ctx, cancel := context.WithCancel(parent)
	return &Service{
		bus:     busClient,
		engine:  engine,
		catalog: catalog,
		voice:   voice,
		speed:   ClampSpeed(speed),
		timeout: timeout,
		ctx:     ctx,
		cancel:  cancel,
		logger:  log.With(slog.String("component", "tts-service")),
	}
}

func (s *Service) Start() error {
	sub, err := s.bus.Conn().Subscribe(protocol.SubjectSynthRequest, s.handleRequest)
	if err != nil {
		return err
	}
	s.sub = sub
	return nil
}

func (s *Service) Close() {
	s.cancel()
	if s.sub != nil {
		_ = s.sub.Drain()
	}
	s.wg.Wait()
}

func (s *Service) Healthy() bool { return s.sub != nil && s.sub.IsValid() }

func (s *Service) handleRequest(msg *nats.Msg) {
	var req protocol.SynthRequest
	if err := sonic.Unmarshal(msg.Data, &req); err != nil {
		s.logger.Warn("failed to decode tts request", slogError(err))
		return
	}
	if req.SessionID == "" {
		s.logger.Warn("tts request without session id")
		return
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.respond(req)
	}()
}

func (s *Service) respond(req protocol.SynthRequest) {
	voice := s.voice
	if req.Voice != "" {
		if !s.catalog.Has(req.Voice) {
			s.publish(protocol.SynthChunk{SessionID: req.SessionID, MessageID: req.MessageID, Final: true, Error: unknownVoice(s.catalog, req.Voice).Error()})
			return
		}
		voice = req.Voice
	}
	speed := s.speed
	if req.Speed > 0 {
		speed = ClampSpeed(req.Speed)
	}

	filter := mdfilter.New()
	sequence := 0
	for _, unit := range sentencizer.Split(req.Text) {
		text, ok := filter.Filter(unit)
		if !ok || strings.TrimSpace(text) == "" {
			continue
		}
		seg, err := s.synthesize(text, voice, speed)
		if err != nil {
			if s.ctx.Err() != nil {
				return
			}
			s.logger.Warn("tts synthesis error", slog.String("session_id", req.SessionID), slogError(err))
			s.publish(protocol.SynthChunk{SessionID: req.SessionID, MessageID: req.MessageID, Sequence: sequence, Final: true, Error: err.Error()})
			return
		}
		if seg.Empty() {
			continue
		}
		s.publish(protocol.SynthChunk{
			SessionID:  req.SessionID,
			MessageID:  req.MessageID,
			Sequence:   sequence,
			SampleRate: seg.SampleRate,
			PCMBase64:  seg.Base64(),
		})
		sequence++
	}
	s.publish(protocol.SynthChunk{SessionID: req.SessionID, MessageID: req.MessageID, Sequence: sequence, Final: true})
}

func (s *Service) synthesize(text, voice string, speed float64) (AudioSegment, error) {
	ctx := s.ctx
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}
	return s.engine.Synthesize(ctx, Request{Text: text, Voice: voice, Speed: speed})
}

func (s *Service) publish(chunk protocol.SynthChunk) {
	data, err := sonic.Marshal(chunk)
	if err != nil {
		s.logger.Warn("failed to marshal tts chunk", slogError(err))
		return
	}
	if err := s.bus.Conn().Publish(protocol.SynthAudioSubject(chunk.SessionID), data); err != nil {
		s.logger.Warn("failed to publish tts chunk", slogError(err))
	}
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
