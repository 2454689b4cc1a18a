package runtime

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/loqalabs/loqa-voice/internal/bus"
	"github.com/loqalabs/loqa-voice/internal/config"
	"github.com/loqalabs/loqa-voice/internal/eventstore"
	"github.com/loqalabs/loqa-voice/internal/natsserver"
	"github.com/loqalabs/loqa-voice/internal/presence"
	"github.com/loqalabs/loqa-voice/internal/server"
	"github.com/loqalabs/loqa-voice/internal/tts"
	"github.com/loqalabs/loqa-voice/internal/voice"
	"github.com/loqalabs/loqa-voice/internal/wakeword"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
)

const pruneInterval = time.Hour

type Runtime struct {
	cfg         config.Config
	logger      *slog.Logger
	httpServer  *http.Server
	tracerClose func(context.Context) error
	ready       atomic.Bool
	wg          sync.WaitGroup

	embedded *natsserver.EmbeddedServer
	bus      *bus.Client
	store    *eventstore.Store
	wake     *wakeword.Registry
	voice    *server.Server
	ttsSvc   *tts.Service
	presence *presence.Registry
}

func New(cfg config.Config, logger *slog.Logger) *Runtime {
	return &Runtime{
		cfg:    cfg,
		logger: logger,
	}
}

// NewEngine builds the configured synthesis engine.
func NewEngine(cfg config.TTSConfig) (tts.Engine, error) {
	switch cfg.Mode {
	case "", "mock":
		return tts.NewMockEngine(cfg.SampleRate), nil
	case "exec":
		return tts.NewExecEngine(cfg)
	default:
		return nil, fmt.Errorf("unknown tts mode %q", cfg.Mode)
	}
}

func (r *Runtime) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	shutdownTelemetry, metricsHandler, err := setupTelemetry(r.cfg, r.logger)
	if err != nil {
		return fmt.Errorf("failed to setup telemetry: %w", err)
	}
	r.tracerClose = shutdownTelemetry

	defer r.shutdown()

	if err := r.startComponents(ctx); err != nil {
		return err
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", r.handleHealth)
	mux.HandleFunc("/readyz", r.handleReady)
	if metricsHandler != nil {
		mux.Handle("/metrics", metricsHandler)
	}
	r.voice.Register(mux)

	addr := fmt.Sprintf("%s:%d", r.cfg.HTTP.Bind, r.cfg.HTTP.Port)
	r.httpServer = &http.Server{
		Addr:              addr,
		Handler:           otelhttp.NewHandler(mux, r.cfg.RuntimeName),
		ReadHeaderTimeout: 5 * time.Second,
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		if err := r.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			r.logger.Error("http server failed", slog.String("error", err.Error()))
			cancel()
		}
	}()

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		r.store.RunPruner(ctx, pruneInterval)
	}()

	r.ready.Store(true)
	r.logger.Info("runtime started", slog.String("addr", addr), slog.String("tts_mode", r.cfg.TTS.Mode))

	<-ctx.Done()
	r.ready.Store(false)
	r.logger.Info("runtime stopping")
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()
	if err := r.httpServer.Shutdown(shutdownCtx); err != nil {
		r.logger.Error("http shutdown error", slog.String("error", err.Error()))
	}
	r.wg.Wait()

	return nil
}

func (r *Runtime) startComponents(ctx context.Context) error {
	store, err := eventstore.Open(ctx, r.cfg.EventStore, r.logger)
	if err != nil {
		return fmt.Errorf("open event store: %w", err)
	}
	r.store = store

	engine, err := NewEngine(r.cfg.TTS)
	if err != nil {
		return err
	}
	catalog := tts.NewCatalog(r.cfg.TTS.Voices)
	r.wake = wakeword.NewRegistry(r.cfg.WakeWord, r.logger)

	meter := otel.Meter("github.com/loqalabs/loqa-voice/voice")
	metrics, err := voice.NewMetrics(meter)
	if err != nil {
		r.logger.Warn("failed to initialize voice metrics", slog.String("error", err.Error()))
	}

	recorders := voice.Recorders{store}
	if r.cfg.Bus.Enabled {
		if err := r.connectBus(ctx); err != nil {
			return err
		}
		recorders = append(recorders, bus.NewSessionPublisher(r.bus))
	}

	r.voice, err = server.New(ctx, r.cfg, server.Deps{
		Engine:   engine,
		Catalog:  catalog,
		Wake:     r.wake,
		Recorder: recorders,
		Metrics:  metrics,
		Meter:    meter,
	}, r.logger)
	if err != nil {
		return err
	}

	if r.bus != nil {
		timeout := time.Duration(r.cfg.TTS.SynthTimeoutMS) * time.Millisecond
		r.ttsSvc = tts.NewService(ctx, r.bus, engine, catalog, r.cfg.TTS.Voice, r.cfg.TTS.Speed, timeout, r.logger)
		if err := r.ttsSvc.Start(); err != nil {
			return fmt.Errorf("start tts service: %w", err)
		}
		caps := presence.VoiceCapabilities(catalog.IDs(), r.cfg.TTS.Voice, r.wake.Available(), r.cfg.WakeWord.Enabled)
		r.presence, err = presence.NewRegistry(ctx, r.cfg.Node, caps, r.voice, r.bus, r.logger)
		if err != nil {
			return fmt.Errorf("start presence: %w", err)
		}
	}
	return nil
}

func (r *Runtime) connectBus(ctx context.Context) error {
	busCfg := r.cfg.Bus
	embedded, err := natsserver.Start(busCfg, r.logger)
	if err != nil {
		return err
	}
	r.embedded = embedded
	if embedded != nil {
		busCfg.Servers = []string{embedded.ClientURL()}
	}
	client, err := bus.Connect(ctx, busCfg, r.logger)
	if err != nil {
		return err
	}
	r.bus = client
	return nil
}

// shutdown releases components in reverse start order.
func (r *Runtime) shutdown() {
	if r.voice != nil {
		r.voice.Close()
	}
	if r.presence != nil {
		r.presence.Close()
	}
	if r.ttsSvc != nil {
		r.ttsSvc.Close()
	}
	if r.bus != nil {
		r.bus.Close()
	}
	r.embedded.Shutdown()
	if r.wake != nil {
		r.wake.Close()
	}
	if r.store != nil {
		if err := r.store.Close(); err != nil {
			r.logger.Error("event store close error", slog.String("error", err.Error()))
		}
	}
	if r.tracerClose != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := r.tracerClose(ctx); err != nil {
			r.logger.Error("telemetry shutdown error", slog.String("error", err.Error()))
		}
	}
}

func (r *Runtime) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (r *Runtime) handleReady(w http.ResponseWriter, _ *http.Request) {
	if r.ready.Load() && (r.bus == nil || r.bus.Healthy()) && (r.presence == nil || r.presence.Healthy()) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
		return
	}
	w.WriteHeader(http.StatusServiceUnavailable)
	_, _ = w.Write([]byte("not ready"))
}
