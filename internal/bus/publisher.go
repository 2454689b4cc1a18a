package bus

import (
	"context"
	"log/slog"

	"github.com/bytedance/sonic"
	"github.com/loqalabs/loqa-voice/internal/protocol"
)

// SessionPublisher publishes session lifecycle events to
// voice.session.<sessionId>.<type>. Publishing is fire-and-forget: a bus
// outage never affects the session.
type SessionPublisher struct {
	client *Client
	log    *slog.Logger
}

func NewSessionPublisher(client *Client) *SessionPublisher {
	return &SessionPublisher{
		client: client,
		log:    client.log.With(slog.String("component", "session-publisher")),
	}
}

func (p *SessionPublisher) Record(_ context.Context, ev protocol.SessionEvent) {
	data, err := sonic.Marshal(ev)
	if err != nil {
		p.log.Warn("failed to marshal session event", slog.String("error", err.Error()))
		return
	}
	if err := p.client.conn.Publish(protocol.SessionSubject(ev.SessionID, ev.Type), data); err != nil {
		p.log.Debug("failed to publish session event", slog.String("type", ev.Type), slog.String("error", err.Error()))
	}
}
