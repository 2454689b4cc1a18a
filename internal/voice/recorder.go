package voice

import (
	"context"
	"time"

	"github.com/loqalabs/loqa-voice/internal/protocol"
)

// Recorder receives session lifecycle events for the bus and the event
// store. Implementations must not block for long; they run on the session's
// goroutines.
type Recorder interface {
	Record(ctx context.Context, ev protocol.SessionEvent)
}

// Recorders fans an event out to several recorders.
type Recorders []Recorder

func (rs Recorders) Record(ctx context.Context, ev protocol.SessionEvent) {
	for _, r := range rs {
		if r != nil {
			r.Record(ctx, ev)
		}
	}
}

type nopRecorder struct{}

func (nopRecorder) Record(context.Context, protocol.SessionEvent) {}

// sessionEvent maps an outbound event to its lifecycle record. Audio and
// settings traffic is not recorded.
func sessionEvent(cfg Config, ev protocol.Event) (protocol.SessionEvent, bool) {
	rec := protocol.SessionEvent{
		SessionID: cfg.ID,
		NodeID:    cfg.NodeID,
		Type:      ev.EventType(),
		Timestamp: time.Now().UTC(),
	}
	switch e := ev.(type) {
	case protocol.TTSStart:
		rec.MessageID = e.MessageID
	case protocol.TTSComplete:
		rec.MessageID = e.MessageID
	case protocol.Error:
		rec.Detail = e.Error
	case protocol.WakeStatus:
		rec.Detail = e.State
	case protocol.Connected:
	default:
		return protocol.SessionEvent{}, false
	}
	return rec, true
}

// Lifecycle builds a record for events the transport owns, such as
// connected and disconnected.
func Lifecycle(sessionID, nodeID, eventType string) protocol.SessionEvent {
	return protocol.SessionEvent{
		SessionID: sessionID,
		NodeID:    nodeID,
		Type:      eventType,
		Timestamp: time.Now().UTC(),
	}
}
