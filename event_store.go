package main

import (
	"database/sql"
	stdjson "encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"
)

const (
	eventKindReset       = "reset"
	eventKindContacts    = "contacts_replaced"
	eventKindDuration    = "duration_changed"
	eventKindAlert       = "alert_cycle"
	eventKindManualAlert = "manual_alert"

	eventQueueSize      = 256
	defaultHistoryLimit = 25
	maxHistoryLimit     = 200
)

type resetDetail struct {
	Deadline int64  `json:"deadline"`
	Duration int64  `json:"duration"`
	Source   string `json:"source,omitempty"`
}

type contactsDetail struct {
	Count     int `json:"count"`
	Reachable int `json:"reachable"`
}

type durationDetail struct {
	Previous int64 `json:"previous"`
	Current  int64 `json:"current"`
}

type alertCycleDetail struct {
	Deadline int64 `json:"deadline,omitempty"`
	Sent     int   `json:"sent"`
	Failed   int   `json:"failed"`
	Total    int   `json:"total"`
}

// CheckinEvent is one audit row as served by the history endpoint.
type CheckinEvent struct {
	ID        int64              `json:"id"`
	CreatedAt int64              `json:"createdAt"` // epoch ms
	Kind      string             `json:"kind"`
	Actor     string             `json:"actor,omitempty"`
	Detail    stdjson.RawMessage `json:"detail,omitempty"`
}

type storedEvent struct {
	at     time.Time
	kind   string
	actor  string
	detail []byte
	done   chan struct{}
}

// eventStore is an append-only audit log of monitor activity. Writes go
// through a buffered channel and a single writer goroutine so the timer hot
// path never blocks on sqlite I/O. The log is never consulted to restore
// timer state; a restart always starts a fresh cycle.
type eventStore struct {
	db       *sql.DB
	queue    chan storedEvent
	done     chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once
	closing  atomic.Bool
}

func eventDBPath(dataDir string) string {
	if dataDir == "" {
		dataDir = defaultDataDir
	}
	return filepath.Join(dataDir, "state", "events.db")
}

func openEventStore(path string) (*eventStore, error) {
	if path == "" {
		return nil, os.ErrInvalid
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path+"?_foreign_keys=1&_journal=WAL")
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, err
	}

	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS checkin_events (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			created_at_unix_ms INTEGER NOT NULL,
			kind TEXT NOT NULL,
			actor TEXT,
			detail TEXT
		)
	`); err != nil {
		_ = db.Close()
		return nil, err
	}
	if _, err := db.Exec(`CREATE INDEX IF NOT EXISTS checkin_events_created_idx ON checkin_events (created_at_unix_ms)`); err != nil {
		_ = db.Close()
		return nil, err
	}

	s := &eventStore{
		db:    db,
		queue: make(chan storedEvent, eventQueueSize),
		done:  make(chan struct{}),
	}
	s.wg.Add(1)
	go s.run()
	return s, nil
}

func (s *eventStore) run() {
	defer s.wg.Done()
	for {
		select {
		case evt := <-s.queue:
			s.writeEvent(evt)
		case <-s.done:
			for {
				select {
				case evt := <-s.queue:
					s.writeEvent(evt)
				default:
					return
				}
			}
		}
	}
}

func (s *eventStore) writeEvent(evt storedEvent) {
	if evt.done != nil {
		close(evt.done)
		return
	}
	if _, err := s.db.Exec(
		"INSERT INTO checkin_events (created_at_unix_ms, kind, actor, detail) VALUES (?, ?, ?, ?)",
		evt.at.UnixMilli(), evt.kind, evt.actor, string(evt.detail),
	); err != nil {
		logger.Warn("event store insert", "error", err, "kind", evt.kind)
	}
}

// Record queues one event. When the queue is full the event is dropped with
// a warning; callers never block on the audit log.
func (s *eventStore) Record(kind, actor string, detail any) {
	if s == nil || s.db == nil {
		return
	}
	if s.closing.Load() {
		return
	}
	var payload []byte
	if detail != nil {
		b, err := fastJSONMarshal(detail)
		if err != nil {
			logger.Warn("encode event detail", "error", err, "kind", kind)
		} else {
			payload = b
		}
	}
	select {
	case s.queue <- storedEvent{at: time.Now(), kind: kind, actor: strings.TrimSpace(actor), detail: payload}:
	case <-s.done:
	default:
		logger.Warn("event store queue full; dropping event", "kind", kind)
	}
}

// Flush blocks until every event queued before the call has been written.
func (s *eventStore) Flush() {
	if s == nil || s.db == nil || s.closing.Load() {
		return
	}
	done := make(chan struct{})
	select {
	case s.queue <- storedEvent{done: done}:
	case <-s.done:
		return
	}
	select {
	case <-done:
	case <-s.done:
	}
}

// Recent returns up to limit events, newest first.
func (s *eventStore) Recent(limit int) ([]CheckinEvent, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	if limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}
	rows, err := s.db.Query(
		"SELECT id, created_at_unix_ms, kind, actor, detail FROM checkin_events ORDER BY id DESC LIMIT ?",
		limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []CheckinEvent
	for rows.Next() {
		var evt CheckinEvent
		var actor, detail sql.NullString
		if err := rows.Scan(&evt.ID, &evt.CreatedAt, &evt.Kind, &actor, &detail); err != nil {
			return nil, err
		}
		evt.Actor = strings.TrimSpace(actor.String)
		if d := strings.TrimSpace(detail.String); d != "" {
			evt.Detail = stdjson.RawMessage(d)
		}
		events = append(events, evt)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return events, nil
}

func (s *eventStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	var err error
	s.stopOnce.Do(func() {
		s.closing.Store(true)
		close(s.done)
		s.wg.Wait()
		err = s.db.Close()
	})
	return err
}
