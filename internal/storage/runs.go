package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// RunLog is one row of sync history.
type RunLog struct {
	ID         string    `json:"id"`
	Trigger    string    `json:"trigger"`
	StartedAt  time.Time `json:"startedAt"`
	FinishedAt time.Time `json:"finishedAt"`
	Status     string    `json:"status"`
	ERPRead    int       `json:"erpRead"`
	RowsRead   int       `json:"rowsRead"`
	Accepted   int       `json:"accepted"`
	Rejected   int       `json:"rejected"`
	Unmatched  int       `json:"unmatched"`
	Skipped    int       `json:"skipped"`
	Error      string    `json:"error,omitempty"`
}

// ErrNoRuns is returned by LastRunLog on an empty history.
var ErrNoRuns = errors.New("no sync runs recorded")

// RunStore persists sync run summaries.
type RunStore struct {
	db *DB
}

// NewRunStore creates a new RunStore.
func NewRunStore(db *DB) *RunStore {
	return &RunStore{db: db}
}

// CreateRunLog inserts a run. An empty ID is filled with a fresh UUID.
func (s *RunStore) CreateRunLog(log *RunLog) error {
	if log.ID == "" {
		log.ID = uuid.New().String()
	}
	if log.Trigger == "" {
		log.Trigger = "manual"
	}
	_, err := s.db.conn.Exec(
		`INSERT INTO sync_runs (id, trigger, started_at, finished_at, status,
		 erp_read, rows_read, accepted, rejected, unmatched, skipped, error)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		log.ID, log.Trigger, log.StartedAt, log.FinishedAt, log.Status,
		log.ERPRead, log.RowsRead, log.Accepted, log.Rejected, log.Unmatched, log.Skipped, log.Error,
	)
	if err != nil {
		return fmt.Errorf("insert sync run: %w", err)
	}
	return nil
}

// ListRunLogs returns the most recent runs, newest first.
func (s *RunStore) ListRunLogs(limit int) ([]RunLog, error) {
	rows, err := s.db.conn.Query(
		`SELECT id, trigger, started_at, finished_at, status,
		 erp_read, rows_read, accepted, rejected, unmatched, skipped, error
		 FROM sync_runs ORDER BY started_at DESC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var logs []RunLog
	for rows.Next() {
		l, err := scanRunLog(rows)
		if err != nil {
			return nil, err
		}
		logs = append(logs, *l)
	}
	return logs, rows.Err()
}

// LastRunLog returns the most recent run.
func (s *RunStore) LastRunLog() (*RunLog, error) {
	row := s.db.conn.QueryRow(
		`SELECT id, trigger, started_at, finished_at, status,
		 erp_read, rows_read, accepted, rejected, unmatched, skipped, error
		 FROM sync_runs ORDER BY started_at DESC LIMIT 1`,
	)
	l, err := scanRunLog(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNoRuns
	}
	return l, err
}

// PruneRunLogs keeps only the newest keep runs.
func (s *RunStore) PruneRunLogs(keep int) (int64, error) {
	res, err := s.db.conn.Exec(
		`DELETE FROM sync_runs WHERE id NOT IN (
			SELECT id FROM sync_runs ORDER BY started_at DESC LIMIT ?
		)`, keep,
	)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRunLog(sc scanner) (*RunLog, error) {
	var l RunLog
	if err := sc.Scan(
		&l.ID, &l.Trigger, &l.StartedAt, &l.FinishedAt, &l.Status,
		&l.ERPRead, &l.RowsRead, &l.Accepted, &l.Rejected, &l.Unmatched, &l.Skipped, &l.Error,
	); err != nil {
		return nil, err
	}
	return &l, nil
}
