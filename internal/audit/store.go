// Package audit keeps a SQLite trail of mutating API operations.
package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"grimm.is/vpnadmin/internal/clock"
	"grimm.is/vpnadmin/internal/logging"
)

// DefaultRetentionDays applies when the configured retention is not positive.
const DefaultRetentionDays = 90

// Event is a single audit entry.
type Event struct {
	ID        int64          `json:"id"`
	Timestamp time.Time      `json:"timestamp"`
	Actor     string         `json:"actor"`
	RequestID string         `json:"requestId,omitempty"`
	Action    string         `json:"action"`
	Resource  string         `json:"resource"`
	Details   map[string]any `json:"details,omitempty"`
	Status    int            `json:"status"`
	IP        string         `json:"ip,omitempty"`
}

// Filter selects events. Zero fields match everything.
type Filter struct {
	Since  time.Time
	Until  time.Time
	Action string
	Actor  string
	Limit  int
}

// Store provides persistent storage for audit events.
type Store struct {
	mu            sync.RWMutex
	db            *sql.DB
	retentionDays int
	logger        *logging.Logger
}

// NewStore opens (or creates) the audit database at dbPath. Each written
// event is also logged through logger.Audit.
func NewStore(dbPath string, retentionDays int, logger *logging.Logger) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o750); err != nil {
		return nil, fmt.Errorf("create audit dir: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open audit db: %w", err)
	}
	// SQLite serializes writers; one connection avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS audit_events (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			ts INTEGER NOT NULL,
			actor TEXT NOT NULL,
			request_id TEXT,
			action TEXT NOT NULL,
			resource TEXT NOT NULL,
			details TEXT,
			status INTEGER DEFAULT 0,
			ip TEXT
		);
		CREATE INDEX IF NOT EXISTS idx_audit_ts ON audit_events(ts);
		CREATE INDEX IF NOT EXISTS idx_audit_action ON audit_events(action);
	`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create audit table: %w", err)
	}

	if retentionDays <= 0 {
		retentionDays = DefaultRetentionDays
	}
	if logger == nil {
		logger = logging.Default()
	}

	return &Store{
		db:            db,
		retentionDays: retentionDays,
		logger:        logger.WithComponent("audit"),
	}, nil
}

// Write persists an event. A zero timestamp is set to now.
func (s *Store) Write(evt Event) error {
	if evt.Timestamp.IsZero() {
		evt.Timestamp = clock.Now()
	}

	var details []byte
	if evt.Details != nil {
		var err error
		details, err = json.Marshal(evt.Details)
		if err != nil {
			details = []byte("{}")
		}
	}

	s.mu.Lock()
	_, err := s.db.Exec(`
		INSERT INTO audit_events (ts, actor, request_id, action, resource, details, status, ip)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, evt.Timestamp.UnixMicro(), evt.Actor, evt.RequestID, evt.Action, evt.Resource, string(details), evt.Status, evt.IP)
	s.mu.Unlock()
	if err != nil {
		return fmt.Errorf("insert audit event: %w", err)
	}

	s.logger.Audit(evt.Action, evt.Resource, map[string]any{
		"actor":      evt.Actor,
		"status":     evt.Status,
		"ip":         evt.IP,
		"request_id": evt.RequestID,
	})
	return nil
}

// Query returns events matching f, newest first.
func (s *Store) Query(f Filter) ([]Event, error) {
	var (
		where []string
		args  []any
	)
	if !f.Since.IsZero() {
		where = append(where, "ts >= ?")
		args = append(args, f.Since.UnixMicro())
	}
	if !f.Until.IsZero() {
		where = append(where, "ts <= ?")
		args = append(args, f.Until.UnixMicro())
	}
	if f.Action != "" {
		where = append(where, "action = ?")
		args = append(args, f.Action)
	}
	if f.Actor != "" {
		where = append(where, "actor = ?")
		args = append(args, f.Actor)
	}

	query := `SELECT id, ts, actor, request_id, action, resource, details, status, ip FROM audit_events`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY ts DESC, id DESC"
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("query audit events: %w", err)
	}
	defer rows.Close()

	events := []Event{}
	for rows.Next() {
		var (
			evt       Event
			ts        int64
			requestID sql.NullString
			details   sql.NullString
			ip        sql.NullString
		)
		if err := rows.Scan(&evt.ID, &ts, &evt.Actor, &requestID, &evt.Action,
			&evt.Resource, &details, &evt.Status, &ip); err != nil {
			return nil, fmt.Errorf("scan audit event: %w", err)
		}
		evt.Timestamp = time.UnixMicro(ts).UTC()
		evt.RequestID = requestID.String
		evt.IP = ip.String
		if details.Valid && details.String != "" {
			json.Unmarshal([]byte(details.String), &evt.Details)
		}
		events = append(events, evt)
	}
	return events, rows.Err()
}

// Prune removes events older than the retention period.
func (s *Store) Prune() (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := clock.Now().AddDate(0, 0, -s.retentionDays)
	result, err := s.db.Exec("DELETE FROM audit_events WHERE ts < ?", cutoff.UnixMicro())
	if err != nil {
		return 0, fmt.Errorf("prune audit events: %w", err)
	}
	return result.RowsAffected()
}

// RunPruner prunes once per interval until ctx is cancelled.
func (s *Store) RunPruner(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := s.Prune()
			if err != nil {
				s.logger.Warn("audit prune failed", "error", err)
			} else if n > 0 {
				s.logger.Info("audit events pruned", "count", n)
			}
		}
	}
}

// Count returns the total number of events in the store.
func (s *Store) Count() (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var count int64
	err := s.db.QueryRow("SELECT COUNT(*) FROM audit_events").Scan(&count)
	return count, err
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}
