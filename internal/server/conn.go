package server

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/loqalabs/loqa-voice/internal/protocol"
)

var ErrConnClosed = errors.New("connection closed")

// conn owns the write side of one WebSocket. Events are queued on out and
// written by a single pump goroutine, since gorilla connections allow only
// one concurrent writer.
type conn struct {
	ws           *websocket.Conn
	out          chan []byte
	done         chan struct{}
	closeOnce    sync.Once
	writeTimeout time.Duration
	pingInterval time.Duration
	log          *slog.Logger
}

func newConn(ws *websocket.Conn, buffer int, writeTimeout, pingInterval time.Duration, log *slog.Logger) *conn {
	return &conn{
		ws:           ws,
		out:          make(chan []byte, buffer),
		done:         make(chan struct{}),
		writeTimeout: writeTimeout,
		pingInterval: pingInterval,
		log:          log,
	}
}

// Send implements voice.Sender. It blocks while the outbound buffer is full.
func (c *conn) Send(ctx context.Context, ev protocol.Event) error {
	data, err := protocol.Encode(ev)
	if err != nil {
		return err
	}
	select {
	case <-c.done:
		return ErrConnClosed
	default:
	}
	select {
	case c.out <- data:
		return nil
	case <-c.done:
		return ErrConnClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *conn) close() {
	c.closeOnce.Do(func() { close(c.done) })
}

func (c *conn) writePump() {
	defer c.ws.Close()
	var ping <-chan time.Time
	if c.pingInterval > 0 {
		ticker := time.NewTicker(c.pingInterval)
		defer ticker.Stop()
		ping = ticker.C
	}
	for {
		select {
		case data := <-c.out:
			_ = c.ws.SetWriteDeadline(time.Now().Add(c.writeTimeout))
			if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
				c.log.Debug("write failed", slog.String("error", err.Error()))
				c.close()
				return
			}
		case <-ping:
			if err := c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.writeTimeout)); err != nil {
				c.log.Debug("ping failed", slog.String("error", err.Error()))
				c.close()
				return
			}
		case <-c.done:
			msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
			_ = c.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(c.writeTimeout))
			return
		}
	}
}
