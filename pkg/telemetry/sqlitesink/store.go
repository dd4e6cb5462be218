// Package sqlitesink persists telemetry records to a SQLite database.
package sqlitesink

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/devicelab-dev/axrunner/pkg/core"
	"github.com/devicelab-dev/axrunner/pkg/logger"
)

// Schema for the telemetry table. Applied by Init.
const Schema = `
CREATE TABLE IF NOT EXISTS telemetry (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	command_id TEXT,
	operation TEXT NOT NULL,
	duration_us INTEGER NOT NULL,
	success INTEGER NOT NULL,
	cache TEXT,
	strategy TEXT,
	reason TEXT,
	timestamp INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_telemetry_ts ON telemetry(timestamp);
CREATE INDEX IF NOT EXISTS idx_telemetry_cmd ON telemetry(command_id) WHERE command_id != '';
`

const (
	bufferSize    = 1024
	batchSize     = 64
	flushInterval = time.Second
)

// Store writes records asynchronously in batches. Record never blocks.
type Store struct {
	db   *sql.DB
	ch   chan core.TelemetryRecord
	done chan struct{}
	once sync.Once
	log  *slog.Logger

	mu     sync.RWMutex
	closed bool

	ownsDB bool
}

// Open opens (or creates) the database at path and applies the schema.
// Use ":memory:" for a throwaway database.
func Open(path string, log *slog.Logger) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open telemetry db: %w", err)
	}
	// An in-memory database lives on a single connection.
	db.SetMaxOpenConns(1)

	s := NewStore(db, log)
	s.ownsDB = true
	if err := s.Init(); err != nil {
		s.Close()
		return nil, fmt.Errorf("failed to init telemetry schema: %w", err)
	}
	return s, nil
}

// NewStore starts the flush goroutine on an open database.
func NewStore(db *sql.DB, log *slog.Logger) *Store {
	s := &Store{
		db:   db,
		ch:   make(chan core.TelemetryRecord, bufferSize),
		done: make(chan struct{}),
		log:  logger.OrDiscard(log),
	}
	go s.flushLoop()
	return s
}

// Init creates the telemetry table if it doesn't exist.
func (s *Store) Init() error {
	_, err := s.db.Exec(Schema)
	return err
}

// Record implements core.TelemetrySink. Non-blocking; drops if buffer full.
func (s *Store) Record(rec core.TelemetryRecord) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return
	}
	select {
	case s.ch <- rec:
	default:
		// buffer full, drop
	}
}

// Drain writes every queued record and stops the flush goroutine.
// Records arriving afterwards are dropped.
func (s *Store) Drain() {
	s.once.Do(func() {
		s.mu.Lock()
		s.closed = true
		close(s.ch)
		s.mu.Unlock()
		<-s.done
	})
}

// Close drains the store and closes the database if Open created it.
func (s *Store) Close() error {
	s.Drain()
	if s.ownsDB {
		return s.db.Close()
	}
	return nil
}

func (s *Store) flushLoop() {
	defer close(s.done)

	batch := make([]core.TelemetryRecord, 0, batchSize)
	ticker := time.NewTicker(flushInterval)
	defer ticker.Stop()

	for {
		select {
		case rec, ok := <-s.ch:
			if !ok {
				s.flushBatch(batch)
				return
			}
			batch = append(batch, rec)
			if len(batch) >= batchSize {
				s.flushBatch(batch)
				batch = batch[:0]
			}
		case <-ticker.C:
			if len(batch) > 0 {
				s.flushBatch(batch)
				batch = batch[:0]
			}
		}
	}
}

func (s *Store) flushBatch(batch []core.TelemetryRecord) {
	if len(batch) == 0 {
		return
	}

	tx, err := s.db.Begin()
	if err != nil {
		s.log.Error("telemetry store: begin tx", "error", err)
		return
	}

	stmt, err := tx.Prepare(`INSERT INTO telemetry (command_id, operation, duration_us, success, cache, strategy, reason, timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		tx.Rollback()
		s.log.Error("telemetry store: prepare", "error", err)
		return
	}
	defer stmt.Close()

	for _, r := range batch {
		if _, err := stmt.Exec(r.CommandID, r.Operation, r.Duration.Microseconds(), r.Success,
			string(r.Cache), r.Strategy, r.Reason, r.Timestamp.UnixMicro()); err != nil {
			s.log.Error("telemetry store: insert", "error", err)
		}
	}

	if err := tx.Commit(); err != nil {
		s.log.Error("telemetry store: commit", "error", err)
	}
}

// OperationStats summarises one operation.
type OperationStats struct {
	Operation   string
	Count       int
	Successes   int
	AvgDuration time.Duration
	MaxDuration time.Duration
}

// Summary aggregates every stored record by operation.
func (s *Store) Summary(ctx context.Context) ([]OperationStats, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT operation, COUNT(*), SUM(success), AVG(duration_us), MAX(duration_us)
		FROM telemetry
		GROUP BY operation
		ORDER BY operation`)
	if err != nil {
		return nil, fmt.Errorf("failed to query telemetry: %w", err)
	}
	defer rows.Close()

	var stats []OperationStats
	for rows.Next() {
		var st OperationStats
		var avg float64
		var maxUs int64
		if err := rows.Scan(&st.Operation, &st.Count, &st.Successes, &avg, &maxUs); err != nil {
			return nil, fmt.Errorf("failed to scan telemetry row: %w", err)
		}
		st.AvgDuration = time.Duration(avg) * time.Microsecond
		st.MaxDuration = time.Duration(maxUs) * time.Microsecond
		stats = append(stats, st)
	}
	return stats, rows.Err()
}
