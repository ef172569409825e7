// Package queue implements the durable offline queue for the MQTT path:
// a crash-surviving FIFO in a single SQLite file with a write-ahead
// journal, governed by per-message-type retention windows.
package queue

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"
)

// MessageType classifies queued messages for retention purposes.
type MessageType string

const (
	Realtime  MessageType = "realtime"
	Threshold MessageType = "threshold"
)

// Retention ceilings per message type. Stale realtime data is worthless
// after an hour; threshold events keep some evidentiary value longer.
const (
	RealtimeRetention  = 1 * time.Hour
	ThresholdRetention = 48 * time.Hour
)

const schema = `
CREATE TABLE IF NOT EXISTS unsent_messages (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	topic TEXT NOT NULL,
	payload TEXT NOT NULL,
	msg_type TEXT NOT NULL,
	created_at TEXT NOT NULL
);
`

// Message is one queued publish.
type Message struct {
	ID        int64
	Topic     string
	Payload   []byte
	Type      MessageType
	CreatedAt time.Time
}

// Store is the durable queue. Every operation takes the exclusive lock,
// opens the database, runs one short transaction, and closes it before
// returning; at most one goroutine touches the file at a time and no
// cursor outlives its call.
type Store struct {
	mu     sync.Mutex
	path   string
	logger *slog.Logger
	now    func() time.Time
}

// Open initializes the queue database at path, creating the schema if
// needed. A store failure here or in any later operation is fatal for
// the caller: silent data loss is worse than a visible crash.
func Open(path string, logger *slog.Logger) (*Store, error) {
	s := &Store{path: path, logger: logger, now: time.Now}

	s.mu.Lock()
	defer s.mu.Unlock()
	conn, err := s.open()
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	if err := sqlitex.ExecuteScript(conn, schema, nil); err != nil {
		return nil, fmt.Errorf("queue: create schema: %w", err)
	}
	logger.Info("offline queue initialised", "path", path)
	return s, nil
}

func (s *Store) open() (*sqlite.Conn, error) {
	conn, err := sqlite.OpenConn(s.path, sqlite.OpenReadWrite|sqlite.OpenCreate|sqlite.OpenWAL)
	if err != nil {
		return nil, fmt.Errorf("queue: open %s: %w", s.path, err)
	}
	return conn, nil
}

// Enqueue inserts a message stamped with the current UTC time.
func (s *Store) Enqueue(topic string, payload []byte, msgType MessageType) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	conn, err := s.open()
	if err != nil {
		return err
	}
	defer conn.Close()

	created := s.now().UTC().Format(time.RFC3339)
	err = sqlitex.Execute(conn,
		"INSERT INTO unsent_messages (topic, payload, msg_type, created_at) VALUES (?, ?, ?, ?)",
		&sqlitex.ExecOptions{Args: []any{topic, string(payload), string(msgType), created}})
	if err != nil {
		return fmt.Errorf("queue: enqueue %s: %w", msgType, err)
	}
	s.logger.Debug("buffered message", "msg_type", msgType, "topic", topic)
	return nil
}

// Flush replays queued messages oldest-first through publish. Rows past
// their retention ceiling are deleted unsent. The first publish failure
// stops the flush and leaves all remaining rows in place, so a
// half-broken connection is not hammered with a long backlog.
func (s *Store) Flush(publish func(topic string, payload []byte) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	conn, err := s.open()
	if err != nil {
		return err
	}
	defer conn.Close()

	messages, err := loadAll(conn)
	if err != nil {
		return err
	}

	now := s.now().UTC()
	for _, msg := range messages {
		age := now.Sub(msg.CreatedAt)
		if age > retentionFor(msg.Type) {
			if err := deleteRow(conn, msg.ID); err != nil {
				return err
			}
			s.logger.Info("dropped expired queued message", "msg_type", msg.Type, "id", msg.ID, "age", age.Round(time.Second))
			continue
		}
		if err := publish(msg.Topic, msg.Payload); err != nil {
			s.logger.Warn("broker unreachable; stopping flush", "id", msg.ID, "error", err)
			return nil
		}
		if err := deleteRow(conn, msg.ID); err != nil {
			return err
		}
		s.logger.Info("flushed queued message", "msg_type", msg.Type, "id", msg.ID, "topic", msg.Topic)
	}
	return nil
}

// Prune deletes all rows past their retention ceiling, regardless of
// connection state. Run on an hourly timer so the queue never grows
// unbounded even if the broker never reconnects.
func (s *Store) Prune() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	conn, err := s.open()
	if err != nil {
		return 0, err
	}
	defer conn.Close()

	now := s.now().UTC()
	cutoffRealtime := now.Add(-RealtimeRetention).Format(time.RFC3339)
	cutoffThreshold := now.Add(-ThresholdRetention).Format(time.RFC3339)

	err = sqlitex.Execute(conn,
		"DELETE FROM unsent_messages WHERE (msg_type = ? AND created_at < ?) OR (msg_type = ? AND created_at < ?)",
		&sqlitex.ExecOptions{Args: []any{
			string(Realtime), cutoffRealtime,
			string(Threshold), cutoffThreshold,
		}})
	if err != nil {
		return 0, fmt.Errorf("queue: prune: %w", err)
	}

	pruned := conn.Changes()
	if pruned > 0 {
		s.logger.Info("pruned expired queued messages", "count", pruned)
	}
	return pruned, nil
}

// Depth returns the number of queued messages.
func (s *Store) Depth() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	conn, err := s.open()
	if err != nil {
		return 0, err
	}
	defer conn.Close()

	var depth int
	err = sqlitex.Execute(conn, "SELECT COUNT(*) FROM unsent_messages", &sqlitex.ExecOptions{
		ResultFunc: func(stmt *sqlite.Stmt) error {
			depth = stmt.ColumnInt(0)
			return nil
		}})
	if err != nil {
		return 0, fmt.Errorf("queue: depth: %w", err)
	}
	return depth, nil
}

func loadAll(conn *sqlite.Conn) ([]Message, error) {
	var messages []Message
	err := sqlitex.Execute(conn,
		"SELECT id, topic, payload, msg_type, created_at FROM unsent_messages ORDER BY id ASC",
		&sqlitex.ExecOptions{
			ResultFunc: func(stmt *sqlite.Stmt) error {
				created, err := time.Parse(time.RFC3339, stmt.ColumnText(4))
				if err != nil {
					return fmt.Errorf("row %d: parse created_at: %w", stmt.ColumnInt64(0), err)
				}
				messages = append(messages, Message{
					ID:        stmt.ColumnInt64(0),
					Topic:     stmt.ColumnText(1),
					Payload:   []byte(stmt.ColumnText(2)),
					Type:      MessageType(stmt.ColumnText(3)),
					CreatedAt: created,
				})
				return nil
			}})
	if err != nil {
		return nil, fmt.Errorf("queue: load: %w", err)
	}
	return messages, nil
}

func deleteRow(conn *sqlite.Conn, id int64) error {
	err := sqlitex.Execute(conn, "DELETE FROM unsent_messages WHERE id = ?",
		&sqlitex.ExecOptions{Args: []any{id}})
	if err != nil {
		return fmt.Errorf("queue: delete row %d: %w", id, err)
	}
	return nil
}

func retentionFor(t MessageType) time.Duration {
	if t == Threshold {
		return ThresholdRetention
	}
	return RealtimeRetention
}
