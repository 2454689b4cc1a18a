package eventstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/loqalabs/loqa-voice/internal/config"
	"github.com/loqalabs/loqa-voice/internal/protocol"
	_ "modernc.org/sqlite"
)

// Timestamps are stored as fixed-width UTC text so they compare in order.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// Event represents a recorded timeline entry.
type Event struct {
	ID        int64
	SessionID string
	NodeID    string
	Type      string
	MessageID string
	Detail    string
	CreatedAt time.Time
}

// Session is one connection's row in the timeline.
type Session struct {
	ID        string
	NodeID    string
	CreatedAt time.Time
	EndedAt   time.Time
}

// Store wraps a SQLite-backed session event timeline.
//
// Retention modes: "ephemeral" keeps nothing, "session" drops a session's
// events when it disconnects, "persistent" keeps them until pruned by age or
// session count.
type Store struct {
	db    *sql.DB
	cfg   config.EventStoreConfig
	log   *slog.Logger
	clock func() time.Time
}

// Open initializes the event store according to config.
func Open(ctx context.Context, cfg config.EventStoreConfig, log *slog.Logger) (*Store, error) {
	log = log.With(slog.String("component", "event-store"))
	if cfg.RetentionMode == "ephemeral" {
		return &Store{cfg: cfg, log: log, clock: time.Now}, nil
	}

	dir := filepath.Dir(cfg.Path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=foreign_keys(ON)&_pragma=busy_timeout(5000)", cfg.Path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	s := &Store{db: db, cfg: cfg, log: log, clock: time.Now}

	if err := s.initSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}

	if cfg.VacuumOnStart {
		if err := s.vacuum(ctx); err != nil {
			log.Warn("event store vacuum failed", slog.String("error", err.Error()))
		}
	}

	if err := s.Prune(ctx); err != nil {
		log.Warn("event store prune on start failed", slog.String("error", err.Error()))
	}

	return s, nil
}

func (s *Store) initSchema(ctx context.Context) error {
	if s.db == nil {
		return nil
	}
	ddl := `
CREATE TABLE IF NOT EXISTS sessions (
    session_id TEXT PRIMARY KEY,
    node_id TEXT NOT NULL DEFAULT '',
    created_at TEXT NOT NULL,
    ended_at TEXT
);
CREATE TABLE IF NOT EXISTS events (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    session_id TEXT NOT NULL,
    event_type TEXT NOT NULL,
    message_id TEXT NOT NULL DEFAULT '',
    detail TEXT NOT NULL DEFAULT '',
    created_at TEXT NOT NULL,
    FOREIGN KEY(session_id) REFERENCES sessions(session_id) ON DELETE CASCADE
);
CREATE INDEX IF NOT EXISTS idx_events_session_created ON events(session_id, created_at);
`
	_, err := s.db.ExecContext(ctx, ddl)
	return err
}

func (s *Store) vacuum(ctx context.Context) error {
	if s.db == nil {
		return nil
	}
	_, err := s.db.ExecContext(ctx, "VACUUM")
	return err
}

func (s *Store) enabled() bool {
	return s.cfg.RetentionMode != "ephemeral" && s.db != nil
}

// Close releases underlying resources.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Record implements voice.Recorder. Failures are logged; the session never
// waits on the store.
func (s *Store) Record(ctx context.Context, ev protocol.SessionEvent) {
	if !s.enabled() {
		return
	}
	var err error
	switch ev.Type {
	case protocol.EventConnected:
		if err = s.AppendSession(ctx, ev.SessionID, ev.NodeID); err == nil {
			err = s.AppendEvent(ctx, fromSessionEvent(ev))
		}
	case protocol.EventDisconnected:
		err = s.EndSession(ctx, ev.SessionID)
	default:
		err = s.AppendEvent(ctx, fromSessionEvent(ev))
	}
	if err != nil {
		s.log.Warn("failed to record session event",
			slog.String("session_id", ev.SessionID),
			slog.String("type", ev.Type),
			slog.String("error", err.Error()))
	}
}

func fromSessionEvent(ev protocol.SessionEvent) Event {
	return Event{
		SessionID: ev.SessionID,
		NodeID:    ev.NodeID,
		Type:      ev.Type,
		MessageID: ev.MessageID,
		Detail:    ev.Detail,
		CreatedAt: ev.Timestamp,
	}
}

// AppendSession ensures a session row exists.
func (s *Store) AppendSession(ctx context.Context, sessionID, nodeID string) error {
	if !s.enabled() {
		return nil
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions(session_id, node_id, created_at)
		 VALUES(?, ?, ?)
		 ON CONFLICT(session_id) DO UPDATE SET node_id=excluded.node_id`,
		sessionID, nodeID, s.clock().UTC().Format(timeLayout))
	return err
}

// EndSession marks a session disconnected. In "session" retention mode the
// session and its events are deleted instead.
func (s *Store) EndSession(ctx context.Context, sessionID string) error {
	if !s.enabled() {
		return nil
	}
	if s.cfg.RetentionMode == "session" {
		_, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE session_id = ?`, sessionID)
		return err
	}
	_, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET ended_at = ? WHERE session_id = ?`,
		s.clock().UTC().Format(timeLayout), sessionID)
	return err
}

// AppendEvent writes an event into the store. The session row is created
// when missing so events recorded before connected are kept.
func (s *Store) AppendEvent(ctx context.Context, evt Event) error {
	if !s.enabled() {
		return nil
	}
	if evt.CreatedAt.IsZero() {
		evt.CreatedAt = s.clock()
	}
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions(session_id, node_id, created_at) VALUES(?, ?, ?)
		 ON CONFLICT(session_id) DO NOTHING`,
		evt.SessionID, evt.NodeID, evt.CreatedAt.UTC().Format(timeLayout)); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO events(session_id, event_type, message_id, detail, created_at)
		 VALUES(?, ?, ?, ?, ?)`,
		evt.SessionID, evt.Type, evt.MessageID, evt.Detail, evt.CreatedAt.UTC().Format(timeLayout))
	return err
}

// ListSessionEvents retrieves up to limit events for a session ordered ascending by time.
func (s *Store) ListSessionEvents(ctx context.Context, sessionID string, limit int) ([]Event, error) {
	if !s.enabled() {
		return nil, nil
	}
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT e.id, e.session_id, s.node_id, e.event_type, e.message_id, e.detail, e.created_at
		 FROM events e JOIN sessions s ON s.session_id = e.session_id
		 WHERE e.session_id = ? ORDER BY e.created_at ASC, e.id ASC LIMIT ?`, sessionID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var e Event
		var created string
		if err := rows.Scan(&e.ID, &e.SessionID, &e.NodeID, &e.Type, &e.MessageID, &e.Detail, &created); err != nil {
			return nil, err
		}
		e.CreatedAt = parseTime(created)
		events = append(events, e)
	}
	return events, rows.Err()
}

// ListSessions returns up to limit sessions, newest first.
func (s *Store) ListSessions(ctx context.Context, limit int) ([]Session, error) {
	if !s.enabled() {
		return nil, nil
	}
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT session_id, node_id, created_at, ended_at FROM sessions ORDER BY created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sessions []Session
	for rows.Next() {
		var sess Session
		var created string
		var ended sql.NullString
		if err := rows.Scan(&sess.ID, &sess.NodeID, &created, &ended); err != nil {
			return nil, err
		}
		sess.CreatedAt = parseTime(created)
		if ended.Valid {
			sess.EndedAt = parseTime(ended.String)
		}
		sessions = append(sessions, sess)
	}
	return sessions, rows.Err()
}

func parseTime(value string) time.Time {
	ts, err := time.Parse(timeLayout, value)
	if err != nil {
		return time.Time{}
	}
	return ts
}

// Prune applies configured retention (called on startup and on a schedule).
func (s *Store) Prune(ctx context.Context) (err error) {
	if !s.enabled() {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if s.cfg.RetentionDays > 0 {
		cutoff := s.clock().Add(-time.Duration(s.cfg.RetentionDays) * 24 * time.Hour).UTC().Format(timeLayout)
		if _, err = tx.ExecContext(ctx, `DELETE FROM events WHERE created_at < ?`, cutoff); err != nil {
			return err
		}
		if _, err = tx.ExecContext(ctx, `DELETE FROM sessions WHERE created_at < ?`, cutoff); err != nil {
			return err
		}
	}
	if s.cfg.MaxSessions > 0 {
		_, err = tx.ExecContext(ctx, `DELETE FROM sessions WHERE session_id IN (
			SELECT session_id FROM sessions ORDER BY created_at DESC LIMIT -1 OFFSET ?
		)`, s.cfg.MaxSessions)
		if err != nil {
			return err
		}
	}
	err = tx.Commit()
	return err
}

// RunPruner prunes every interval until ctx is done.
func (s *Store) RunPruner(ctx context.Context, interval time.Duration) {
	if !s.enabled() || interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.Prune(ctx); err != nil && !errors.Is(err, context.Canceled) {
				s.log.Warn("event store prune failed", slog.String("error", err.Error()))
			}
		}
	}
}

// Ensure checks that an ephemeral store holds no database connection.
func (s *Store) Ensure() error {
	if s.cfg.RetentionMode == "ephemeral" && s.db != nil {
		return errors.New("ephemeral store should not have database connection")
	}
	return nil
}
