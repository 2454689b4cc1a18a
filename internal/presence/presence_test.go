package presence

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/loqalabs/loqa-voice/internal/bus"
	"github.com/loqalabs/loqa-voice/internal/config"
	"github.com/loqalabs/loqa-voice/internal/natsserver"
)

type fixedSessions int

func (f fixedSessions) ActiveSessions() int { return int(f) }

func connectBus(t *testing.T) *bus.Client {
	t.Helper()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	cfg := config.Default().Bus
	cfg.Enabled = true
	cfg.Embedded = true
	cfg.Port = -1
	cfg.StoreDir = ""
	es, err := natsserver.Start(cfg, log)
	if err != nil {
		t.Fatalf("start embedded nats: %v", err)
	}
	t.Cleanup(es.Shutdown)
	cfg.Servers = []string{es.ClientURL()}
	client, err := bus.Connect(context.Background(), cfg, log)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(client.Close)
	return client
}

func nodeConfig(id string) config.NodeConfig {
	return config.NodeConfig{ID: id, Role: "voice", HeartbeatInterval: 20, HeartbeatTimeout: 200}
}

func TestNodesSeeEachOther(t *testing.T) {
	client := connectBus(t)
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	caps := VoiceCapabilities([]string{"af_heart", "am_adam"}, "af_heart", []string{"hey_jarvis", "alexa"}, true)

	a, err := NewRegistry(context.Background(), nodeConfig("node-a"), caps, fixedSessions(3), client, log)
	if err != nil {
		t.Fatalf("registry a: %v", err)
	}
	defer a.Close()
	b, err := NewRegistry(context.Background(), nodeConfig("node-b"), caps, fixedSessions(1), client, log)
	if err != nil {
		t.Fatalf("registry b: %v", err)
	}
	defer b.Close()

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		nodes := a.Nodes()
		if len(nodes) == 2 && nodes[1].ActiveSessions == 1 && nodes[0].ActiveSessions == 3 {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}
	nodes := a.Nodes()
	if len(nodes) != 2 || nodes[0].ID != "node-a" || nodes[1].ID != "node-b" {
		t.Fatalf("unexpected nodes %+v", nodes)
	}
	if nodes[1].ActiveSessions != 1 {
		t.Fatalf("expected heartbeat session count, got %d", nodes[1].ActiveSessions)
	}
	if !a.Healthy() || !b.Healthy() {
		t.Fatal("expected both nodes healthy")
	}
	if got := nodes[0].Capabilities[1].Attributes["models"]; got != "alexa,hey_jarvis" {
		t.Fatalf("unexpected wakeword models attribute %q", got)
	}
}

func TestStaleNodeBecomesUnhealthy(t *testing.T) {
	r := &Registry{cfg: nodeConfig("node-a"), nodes: make(map[string]*NodeInfo)}
	now := time.Now()
	r.updateNode("node-a", "voice", nil, 2, now)
	r.evaluateHealth(now.Add(100 * time.Millisecond))
	if !r.Healthy() {
		t.Fatal("expected healthy inside the timeout")
	}
	r.evaluateHealth(now.Add(time.Second))
	if r.Healthy() {
		t.Fatal("expected unhealthy after the timeout")
	}
	r.updateNode("node-a", "", nil, -1, now.Add(time.Second))
	if nodes := r.Nodes(); !nodes[0].Healthy || nodes[0].ActiveSessions != 2 {
		t.Fatalf("unexpected node %+v", nodes[0])
	}
}
