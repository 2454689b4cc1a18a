package runtime

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/loqalabs/loqa-voice/internal/config"
	semconv "go.opentelemetry.io/otel/semconv/v1.30.0"
)

func traceOnce(t *testing.T, cfg config.Config) string {
	t.Helper()
	ctx := context.Background()
	res, err := newResource(ctx, cfg)
	if err != nil {
		t.Fatalf("resource: %v", err)
	}
	var out bytes.Buffer
	tp, err := initTracer(ctx, cfg, res, &out, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("init tracer: %v", err)
	}
	_, span := tp.Tracer("test").Start(ctx, "voice.synthesize")
	span.End()
	if err := tp.Shutdown(ctx); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
	return out.String()
}

func TestResourceCarriesNode(t *testing.T) {
	cfg := config.Default()
	cfg.Node.ID = "voice-7"
	cfg.Node.Role = "edge"
	res, err := newResource(context.Background(), cfg)
	if err != nil {
		t.Fatalf("resource: %v", err)
	}
	if v, ok := res.Set().Value(semconv.ServiceInstanceIDKey); !ok || v.AsString() != "voice-7" {
		t.Fatalf("expected service.instance.id voice-7, got %v", v)
	}
	if v, ok := res.Set().Value(nodeRoleKey); !ok || v.AsString() != "edge" {
		t.Fatalf("expected node role edge, got %v", v)
	}
}

func TestStdoutTracesAreOptIn(t *testing.T) {
	cfg := config.Default()
	if out := traceOnce(t, cfg); out != "" {
		t.Fatalf("expected no span output by default, got %q", out)
	}

	cfg.Telemetry.TraceStdout = true
	cfg.Node.ID = "voice-7"
	out := traceOnce(t, cfg)
	if !strings.Contains(out, "voice.synthesize") || !strings.Contains(out, "voice-7") {
		t.Fatalf("expected span with node id, got %q", out)
	}
	if lines := strings.Count(strings.TrimSpace(out), "\n"); lines != 0 {
		t.Fatalf("expected one line per span, got %d extra lines", lines)
	}
}
