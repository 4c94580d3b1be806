// Package ledger keeps a per-run summary of every audit session in sqlite.
// It records outcomes only; the event stream itself is never stored.
package ledger

import (
	"context"
	"database/sql"
	"time"

	"go.uber.org/zap"

	"github.com/teranos/brandguard/errors"
)

// DefaultListLimit caps List when no limit is given
const DefaultListLimit = 50

// MaxListLimit is the largest page List will return
const MaxListLimit = 500

// Entry is one session's ledger row
type Entry struct {
	SessionID    string     `json:"session_id"`
	VideoURL     string     `json:"video_url"`
	VideoID      string     `json:"video_id"`
	State        string     `json:"state"`
	EventCount   int        `json:"event_count"`
	FindingCount int        `json:"finding_count"`
	FinalStatus  string     `json:"final_status,omitempty"`
	Error        string     `json:"error,omitempty"`
	StartedAt    time.Time  `json:"started_at"`
	FinishedAt   *time.Time `json:"finished_at,omitempty"`
}

// Outcome is what a session reports when it reaches a terminal state
type Outcome struct {
	State        string
	EventCount   int
	FindingCount int
	FinalStatus  string
	Error        string
}

// Store persists ledger entries
type Store struct {
	db     *sql.DB
	logger *zap.SugaredLogger
	now    func() time.Time
}

// NewStore wraps a migrated database
func NewStore(db *sql.DB, logger *zap.SugaredLogger) *Store {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Store{db: db, logger: logger, now: time.Now}
}

// Start records a session entering the running state
func (s *Store) Start(ctx context.Context, sessionID, videoURL, videoID string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_sessions (session_id, video_url, video_id, state, started_at)
		VALUES (?, ?, ?, ?, ?)`,
		sessionID, videoURL, videoID, "running", s.now().UTC())
	if err != nil {
		return errors.Wrapf(err, "record start of session %s", sessionID)
	}
	return nil
}

// Finish stamps the terminal outcome on a started session
func (s *Store) Finish(ctx context.Context, sessionID string, out Outcome) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE audit_sessions
		SET state = ?, event_count = ?, finding_count = ?, final_status = ?, error = ?, finished_at = ?
		WHERE session_id = ?`,
		out.State, out.EventCount, out.FindingCount, out.FinalStatus, out.Error, s.now().UTC(), sessionID)
	if err != nil {
		return errors.Wrapf(err, "record finish of session %s", sessionID)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "rows affected")
	}
	if n == 0 {
		return errors.Wrapf(errors.ErrNotFound, "session %s", sessionID)
	}
	return nil
}

// Get returns one entry by session id
func (s *Store) Get(ctx context.Context, sessionID string) (*Entry, error) {
	row := s.db.QueryRowContext(ctx, selectEntries+` WHERE session_id = ?`, sessionID)
	e, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errors.Wrapf(errors.ErrNotFound, "session %s", sessionID)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "get session %s", sessionID)
	}
	return e, nil
}

// List returns the most recent entries first
func (s *Store) List(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	if limit > MaxListLimit {
		limit = MaxListLimit
	}

	rows, err := s.db.QueryContext(ctx, selectEntries+` ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, errors.Wrap(err, "list audit sessions")
	}
	defer rows.Close()

	entries := []Entry{}
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, errors.Wrap(err, "scan audit session")
		}
		entries = append(entries, *e)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "iterate audit sessions")
	}
	return entries, nil
}

const selectEntries = `
	SELECT session_id, video_url, video_id, state, event_count, finding_count,
	       final_status, error, started_at, finished_at
	FROM audit_sessions`

type scanner interface {
	Scan(dest ...any) error
}

func scanEntry(sc scanner) (*Entry, error) {
	var e Entry
	var finished sql.NullTime
	if err := sc.Scan(&e.SessionID, &e.VideoURL, &e.VideoID, &e.State, &e.EventCount,
		&e.FindingCount, &e.FinalStatus, &e.Error, &e.StartedAt, &finished); err != nil {
		return nil, err
	}
	if finished.Valid {
		t := finished.Time
		e.FinishedAt = &t
	}
	return &e, nil
}
