// Package server exposes voice sessions over WebSocket and a small HTTP API.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/loqalabs/loqa-voice/internal/config"
	"github.com/loqalabs/loqa-voice/internal/protocol"
	"github.com/loqalabs/loqa-voice/internal/sentencizer"
	"github.com/loqalabs/loqa-voice/internal/tts"
	"github.com/loqalabs/loqa-voice/internal/voice"
	"github.com/loqalabs/loqa-voice/internal/wakeword"
	"go.opentelemetry.io/otel/metric"
)

// Deps are the process-wide collaborators shared by every session.
type Deps struct {
	Engine   tts.Engine
	Catalog  *tts.Catalog
	Wake     *wakeword.Registry
	Recorder voice.Recorder
	Metrics  *voice.Metrics
	Meter    metric.Meter
}

type Server struct {
	cfg      config.Config
	deps     Deps
	root     *slog.Logger
	log      *slog.Logger
	upgrader websocket.Upgrader

	mu       sync.RWMutex
	sessions map[string]*voice.Session

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func New(parent context.Context, cfg config.Config, deps Deps, log *slog.Logger) (*Server, error) {
	if deps.Engine == nil {
		return nil, errors.New("server: tts engine is required")
	}
	if deps.Catalog == nil {
		deps.Catalog = tts.NewCatalog(cfg.TTS.Voices)
	}
	if deps.Wake == nil {
		deps.Wake = wakeword.NewRegistry(cfg.WakeWord, log)
	}
	if deps.Recorder == nil {
		deps.Recorder = voice.Recorders(nil)
	}
	ctx, cancel := context.WithCancel(parent)
	s := &Server{
		cfg:  cfg,
		deps: deps,
		root: log,
		log:  log.With(slog.String("component", "voice-server")),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		sessions: make(map[string]*voice.Session),
		ctx:      ctx,
		cancel:   cancel,
	}
	if deps.Meter != nil {
		if err := s.initMetrics(); err != nil {
			s.log.Warn("failed to initialize metrics", slog.String("error", err.Error()))
		}
	}
	return s, nil
}

// Register mounts the WebSocket endpoint and the HTTP API on mux.
func (s *Server) Register(mux *http.ServeMux) {
	mux.HandleFunc("/ws", s.handleWS)
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/api/voices", s.handleVoices)
	mux.HandleFunc("/api/wakeword/models", s.handleWakeModels)
}

// ActiveSessions returns the number of connected sessions.
func (s *Server) ActiveSessions() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// Close disconnects every session and waits for their goroutines.
func (s *Server) Close() {
	s.cancel()
	s.wg.Wait()
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	if s.ctx.Err() != nil {
		http.Error(w, "shutting down", http.StatusServiceUnavailable)
		return
	}
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("websocket upgrade failed", slog.String("error", err.Error()))
		return
	}
	s.wg.Add(1)
	defer s.wg.Done()
	s.serve(ws)
}

func (s *Server) serve(ws *websocket.Conn) {
	id := uuid.NewString()
	log := s.log.With(slog.String("session_id", id))
	sc := s.cfg.Session
	c := newConn(ws, sc.OutboundBuffer,
		time.Duration(sc.WriteTimeoutMS)*time.Millisecond,
		time.Duration(sc.PingIntervalMS)*time.Millisecond,
		log)

	sess, err := s.newSession(id, c)
	if err != nil {
		log.Error("failed to create session", slog.String("error", err.Error()))
		_ = ws.Close()
		return
	}

	ctx, cancel := context.WithCancel(s.ctx)
	defer cancel()

	var pump sync.WaitGroup
	pump.Add(1)
	go func() {
		defer pump.Done()
		c.writePump()
	}()
	// Unblock the read loop on shutdown.
	go func() {
		select {
		case <-ctx.Done():
			c.close()
		case <-c.done:
		}
	}()

	s.add(id, sess)
	sess.Start()
	sess.Connect(ctx)
	log.Info("client connected", slog.String("remote", ws.RemoteAddr().String()))

	s.readLoop(ctx, ws, sess, c, log)

	c.close()
	sess.Close()
	pump.Wait()
	s.remove(id)
	s.deps.Recorder.Record(context.WithoutCancel(ctx), voice.Lifecycle(id, s.cfg.Node.ID, protocol.EventDisconnected))
	log.Info("client disconnected")
}

func (s *Server) readLoop(ctx context.Context, ws *websocket.Conn, sess *voice.Session, c *conn, log *slog.Logger) {
	ws.SetReadLimit(s.cfg.Session.MaxMessageBytes)
	if c.pingInterval > 0 {
		wait := 2 * c.pingInterval
		_ = ws.SetReadDeadline(time.Now().Add(wait))
		ws.SetPongHandler(func(string) error {
			return ws.SetReadDeadline(time.Now().Add(wait))
		})
	}
	for {
		kind, data, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseNoStatusReceived) {
				select {
				case <-c.done:
				default:
					log.Warn("websocket read failed", slog.String("error", err.Error()))
				}
			}
			return
		}
		switch kind {
		case websocket.TextMessage:
			msg, err := protocol.Decode(data)
			if errors.Is(err, protocol.ErrUnknownType) {
				log.Debug("ignoring message", slog.String("error", err.Error()))
				continue
			}
			if err != nil {
				log.Warn("dropping malformed message", slog.String("error", err.Error()))
				continue
			}
			sess.Handle(ctx, msg)
		case websocket.BinaryMessage:
			sess.HandleAudio(ctx, data)
		}
	}
}

func (s *Server) newSession(id string, c *conn) (*voice.Session, error) {
	client, err := tts.NewClient(s.deps.Engine, s.deps.Catalog, s.cfg.TTS.Voice, s.cfg.TTS.Speed)
	if err != nil {
		return nil, err
	}
	detector := wakeword.NewDetector(s.deps.Wake, s.deps.Wake.DefaultSettings(),
		wakeword.WithLogger(s.root.With(slog.String("component", "wakeword"), slog.String("session_id", id))))
	return voice.NewSession(s.ctx, voice.Config{
		ID:     id,
		NodeID: s.cfg.Node.ID,
		Sentencizer: sentencizer.Options{
			MinSentenceLength: s.cfg.Sentencizer.MinSentenceLength,
			MinClauseLength:   s.cfg.Sentencizer.MinClauseLength,
			MaxBufferLength:   s.cfg.Sentencizer.MaxBufferLength,
		},
		SynthTimeout: time.Duration(s.cfg.TTS.SynthTimeoutMS) * time.Millisecond,
		Pacing:       time.Duration(s.cfg.TTS.PacingMS) * time.Millisecond,
	}, client, detector, c, s.root,
		voice.WithRecorder(s.deps.Recorder),
		voice.WithMetrics(s.deps.Metrics),
	), nil
}

func (s *Server) add(id string, sess *voice.Session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[id] = sess
}

func (s *Server) remove(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, id)
}

func (s *Server) initMetrics() error {
	gauge, err := s.deps.Meter.Int64ObservableGauge("loqa.voice.active_sessions", metric.WithDescription("Connected voice sessions"))
	if err != nil {
		return err
	}
	_, err = s.deps.Meter.RegisterCallback(func(_ context.Context, obs metric.Observer) error {
		obs.ObserveInt64(gauge, int64(s.ActiveSessions()))
		return nil
	}, gauge)
	return err
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, map[string]string{"status": "ok", "service": "voice"})
}

func (s *Server) handleVoices(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, map[string]any{"voices": s.deps.Catalog.Map()})
}

func (s *Server) handleWakeModels(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, map[string]any{"models": s.deps.Wake.Available()})
}

func writeJSON(w http.ResponseWriter, v any) {
	data, err := sonic.Marshal(v)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(data)
}
