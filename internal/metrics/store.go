package metrics

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

const (
	// flushInterval is how often buffered samples are committed.
	flushInterval = time.Second

	// compactInterval is how often the retention compactor runs.
	compactInterval = 10 * time.Minute

	writeBufferCap = 1024
)

// Store is the SQLite-backed time-series and audit store. Writes are
// append-only and buffered; a background loop (Run) flushes the buffer
// and enforces the retention window. Reads flush first, so a completed
// Write is always visible to a subsequent Query.
//
// Store is safe for concurrent use.
type Store struct {
	db        *sql.DB
	retention time.Duration
	now       func() time.Time // injectable for deterministic tests

	bufMu  sync.Mutex
	buffer []Sample

	flushMu sync.Mutex // serializes flush transactions
}

// Open creates or opens the store under dir with the given retention
// window.
func Open(dir string, retention time.Duration) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("store: create dir: %w", err)
	}

	dbPath := filepath.Join(dir, "tradesentry.db")
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_synchronous=NORMAL")
	if err != nil {
		return nil, fmt.Errorf("store: open database: %w", err)
	}

	s := &Store{
		db:        db,
		retention: retention,
		now:       time.Now,
		buffer:    make([]Sample, 0, writeBufferCap),
	}

	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: init schema: %w", err)
	}
	return s, nil
}

func (s *Store) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS samples (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL,
		ts_ns INTEGER NOT NULL,
		value REAL NOT NULL,
		tags TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_samples_name_ts ON samples(name, ts_ns);
	CREATE INDEX IF NOT EXISTS idx_samples_ts ON samples(ts_ns);

	CREATE TABLE IF NOT EXISTS notifications (
		id TEXT PRIMARY KEY,
		alert_id TEXT NOT NULL,
		channel TEXT NOT NULL,
		attempt INTEGER NOT NULL,
		sent_at_ns INTEGER NOT NULL,
		success INTEGER NOT NULL,
		error TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_notifications_alert ON notifications(alert_id);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Write appends samples to the store. It never blocks on the database;
// samples land in an in-memory buffer committed by Flush or the Run loop.
func (s *Store) Write(samples ...Sample) {
	s.bufMu.Lock()
	s.buffer = append(s.buffer, samples...)
	s.bufMu.Unlock()
}

// Flush commits all buffered samples in a single transaction.
func (s *Store) Flush() error {
	s.bufMu.Lock()
	if len(s.buffer) == 0 {
		s.bufMu.Unlock()
		return nil
	}
	batch := s.buffer
	s.buffer = make([]Sample, 0, writeBufferCap)
	s.bufMu.Unlock()

	s.flushMu.Lock()
	defer s.flushMu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("store: begin flush: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`INSERT INTO samples (name, ts_ns, value, tags) VALUES (?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("store: prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, sm := range batch {
		tagsJSON := "{}"
		if len(sm.Tags) > 0 {
			if data, err := json.Marshal(sm.Tags); err == nil {
				tagsJSON = string(data)
			}
		}
		if _, err := stmt.Exec(sm.Name, sm.Timestamp.UnixNano(), sm.Value, tagsJSON); err != nil {
			return fmt.Errorf("store: insert sample: %w", err)
		}
	}
	return tx.Commit()
}

// retentionCutoff returns the oldest timestamp queries may return.
func (s *Store) retentionCutoff() time.Time {
	return s.now().Add(-s.retention)
}

// Query returns the samples for name within [from, to] in timestamp
// order. from is clamped to the retention window — samples older than
// the window are never returned, even if compaction has not yet deleted
// them.
func (s *Store) Query(ctx context.Context, name string, from, to time.Time) ([]Sample, error) {
	if err := s.Flush(); err != nil {
		return nil, err
	}
	if cutoff := s.retentionCutoff(); from.Before(cutoff) {
		from = cutoff
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT ts_ns, value, tags FROM samples
		WHERE name = ? AND ts_ns >= ? AND ts_ns <= ?
		ORDER BY ts_ns`,
		name, from.UnixNano(), to.UnixNano())
	if err != nil {
		return nil, fmt.Errorf("store: query %q: %w", name, err)
	}
	defer rows.Close()

	var out []Sample
	for rows.Next() {
		var tsNS int64
		var value float64
		var tagsJSON sql.NullString
		if err := rows.Scan(&tsNS, &value, &tagsJSON); err != nil {
			return nil, fmt.Errorf("store: scan sample: %w", err)
		}
		sm := Sample{Name: name, Value: value, Timestamp: time.Unix(0, tsNS)}
		if tagsJSON.Valid && tagsJSON.String != "" && tagsJSON.String != "{}" {
			_ = json.Unmarshal([]byte(tagsJSON.String), &sm.Tags)
		}
		out = append(out, sm)
	}
	return out, rows.Err()
}

// LatestSnapshot returns the most recent value per metric name within
// the retention window.
func (s *Store) LatestSnapshot(ctx context.Context) (map[string]float64, error) {
	if err := s.Flush(); err != nil {
		return nil, err
	}

	// SQLite resolves the bare value column to the row holding MAX(ts_ns).
	rows, err := s.db.QueryContext(ctx, `
		SELECT name, value, MAX(ts_ns) FROM samples
		WHERE ts_ns >= ?
		GROUP BY name`,
		s.retentionCutoff().UnixNano())
	if err != nil {
		return nil, fmt.Errorf("store: latest snapshot: %w", err)
	}
	defer rows.Close()

	snap := make(map[string]float64)
	for rows.Next() {
		var name string
		var value float64
		var tsNS int64
		if err := rows.Scan(&name, &value, &tsNS); err != nil {
			return nil, fmt.Errorf("store: scan snapshot row: %w", err)
		}
		snap[name] = value
	}
	return snap, rows.Err()
}

// LatestSample returns the newest sample recorded for name, if any.
func (s *Store) LatestSample(ctx context.Context, name string) (Sample, bool, error) {
	if err := s.Flush(); err != nil {
		return Sample{}, false, err
	}

	var tsNS int64
	var value float64
	err := s.db.QueryRowContext(ctx, `
		SELECT ts_ns, value FROM samples
		WHERE name = ? AND ts_ns >= ?
		ORDER BY ts_ns DESC LIMIT 1`,
		name, s.retentionCutoff().UnixNano()).Scan(&tsNS, &value)
	if err == sql.ErrNoRows {
		return Sample{}, false, nil
	}
	if err != nil {
		return Sample{}, false, fmt.Errorf("store: latest sample %q: %w", name, err)
	}
	return Sample{Name: name, Value: value, Timestamp: time.Unix(0, tsNS)}, true, nil
}

// LastWriteTime returns the timestamp of the newest sample across all
// metrics, used by the data-freshness health check.
func (s *Store) LastWriteTime(ctx context.Context) (time.Time, bool, error) {
	if err := s.Flush(); err != nil {
		return time.Time{}, false, err
	}

	var tsNS sql.NullInt64
	err := s.db.QueryRowContext(ctx, `SELECT MAX(ts_ns) FROM samples`).Scan(&tsNS)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("store: last write time: %w", err)
	}
	if !tsNS.Valid {
		return time.Time{}, false, nil
	}
	return time.Unix(0, tsNS.Int64), true, nil
}

// RecordNotification appends one delivery attempt to the audit log.
func (s *Store) RecordNotification(ctx context.Context, rec NotificationRecord) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO notifications (id, alert_id, channel, attempt, sent_at_ns, success, error)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.AlertID, rec.Channel, rec.Attempt, rec.SentAt.UnixNano(),
		boolToInt(rec.Success), rec.Error)
	if err != nil {
		return fmt.Errorf("store: record notification: %w", err)
	}
	return nil
}

// Notifications returns all recorded delivery attempts for an alert,
// oldest first.
func (s *Store) Notifications(ctx context.Context, alertID string) ([]NotificationRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, channel, attempt, sent_at_ns, success, error FROM notifications
		WHERE alert_id = ?
		ORDER BY sent_at_ns`,
		alertID)
	if err != nil {
		return nil, fmt.Errorf("store: query notifications: %w", err)
	}
	defer rows.Close()

	var out []NotificationRecord
	for rows.Next() {
		rec := NotificationRecord{AlertID: alertID}
		var tsNS int64
		var success int
		var errMsg sql.NullString
		if err := rows.Scan(&rec.ID, &rec.Channel, &rec.Attempt, &tsNS, &success, &errMsg); err != nil {
			return nil, fmt.Errorf("store: scan notification: %w", err)
		}
		rec.SentAt = time.Unix(0, tsNS)
		rec.Success = success != 0
		rec.Error = errMsg.String
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Compact deletes samples older than the retention window. It returns
// the number of samples removed.
func (s *Store) Compact(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM samples WHERE ts_ns < ?`,
		s.retentionCutoff().UnixNano())
	if err != nil {
		return 0, fmt.Errorf("store: compact: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// Run starts the background flush and compaction loops. It blocks until
// ctx is cancelled, then performs a final flush.
func (s *Store) Run(ctx context.Context) {
	flushT := time.NewTicker(flushInterval)
	defer flushT.Stop()
	compactT := time.NewTicker(compactInterval)
	defer compactT.Stop()

	for {
		select {
		case <-ctx.Done():
			if err := s.Flush(); err != nil {
				slog.Error("store: final flush failed", "err", err)
			}
			return
		case <-flushT.C:
			if err := s.Flush(); err != nil {
				slog.Error("store: flush failed", "err", err)
			}
		case <-compactT.C:
			if n, err := s.Compact(ctx); err != nil {
				slog.Error("store: compaction failed", "err", err)
			} else if n > 0 {
				slog.Debug("store: compacted expired samples", "count", n)
			}
		}
	}
}

// Close flushes any buffered samples and closes the database.
func (s *Store) Close() error {
	if err := s.Flush(); err != nil {
		return err
	}
	return s.db.Close()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
