package bus

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/bytedance/sonic"
	"github.com/loqalabs/loqa-voice/internal/config"
	"github.com/loqalabs/loqa-voice/internal/natsserver"
	"github.com/loqalabs/loqa-voice/internal/protocol"
)

func startBus(t *testing.T) *Client {
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
	client, err := Connect(context.Background(), cfg, log)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(client.Close)
	return client
}

func TestSessionPublisher(t *testing.T) {
	client := startBus(t)
	sub, err := client.Conn().SubscribeSync(protocol.SubjectSessionPrefix + ".>")
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	if err := client.Conn().Flush(); err != nil {
		t.Fatalf("flush: %v", err)
	}

	pub := NewSessionPublisher(client)
	pub.Record(context.Background(), protocol.SessionEvent{
		SessionID: "abc",
		NodeID:    "node-1",
		Type:      protocol.EventTTSComplete,
		MessageID: "m1",
		Timestamp: time.Now().UTC(),
	})

	msg, err := sub.NextMsg(2 * time.Second)
	if err != nil {
		t.Fatalf("next msg: %v", err)
	}
	if msg.Subject != "voice.session.abc.tts_complete" {
		t.Fatalf("unexpected subject %s", msg.Subject)
	}
	var ev protocol.SessionEvent
	if err := sonic.Unmarshal(msg.Data, &ev); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if ev.MessageID != "m1" || ev.NodeID != "node-1" {
		t.Fatalf("unexpected event %+v", ev)
	}
	if !client.Healthy() {
		t.Fatal("expected healthy client")
	}
}

func TestConnectRequiresServers(t *testing.T) {
	cfg := config.Default().Bus
	cfg.Servers = nil
	if _, err := Connect(context.Background(), cfg, slog.New(slog.NewTextHandler(io.Discard, nil))); err == nil {
		t.Fatal("expected error without servers")
	}
}
