package history

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite" // Pure Go SQLite driver

	"github.com/jmrobles/citawatch/internal/watch/domain"
)

const schema = `
CREATE TABLE IF NOT EXISTS reschedule_attempts (
    id             TEXT PRIMARY KEY,
    run_id         TEXT NOT NULL,
    appt_type      TEXT NOT NULL,
    old_start      TEXT NOT NULL,
    new_start      TEXT,
    success        INTEGER NOT NULL DEFAULT 0,
    failure_reason TEXT NOT NULL DEFAULT '',
    attempted_at   TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_attempts_attempted_at
    ON reschedule_attempts(attempted_at);
`

// SQLiteRepository implements Repository using SQLite.
type SQLiteRepository struct {
	db *sql.DB
}

// OpenSQLite opens (creating if needed) the attempt store at path and
// bootstraps the schema.
func OpenSQLite(ctx context.Context, path string) (*SQLiteRepository, error) {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create history directory: %w", err)
		}
	}

	// WAL and a busy timeout keep concurrent CLI reads from failing while
	// a run is writing.
	dsn := path
	if !strings.Contains(dsn, "?") {
		dsn += "?"
	} else {
		dsn += "&"
	}
	dsn += "_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)"

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open history database: %w", err)
	}

	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to bootstrap history schema: %w", err)
	}

	return &SQLiteRepository{db: db}, nil
}

func (r *SQLiteRepository) Save(ctx context.Context, attempt *Attempt) error {
	var newStart sql.NullString
	if attempt.NewStart != nil {
		newStart = sql.NullString{String: attempt.NewStart.Format(time.RFC3339), Valid: true}
	}

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO reschedule_attempts
			(id, run_id, appt_type, old_start, new_start, success, failure_reason, attempted_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		attempt.ID.String(),
		attempt.RunID.String(),
		string(attempt.Type),
		attempt.OldStart.Format(time.RFC3339),
		newStart,
		attempt.Success,
		attempt.FailureReason,
		attempt.AttemptedAt.Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("failed to save attempt: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) ListRecent(ctx context.Context, limit int) ([]*Attempt, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, run_id, appt_type, old_start, new_start, success, failure_reason, attempted_at
		FROM reschedule_attempts
		ORDER BY attempted_at DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list attempts: %w", err)
	}
	defer rows.Close()

	var attempts []*Attempt
	for rows.Next() {
		attempt, err := scanAttempt(rows)
		if err != nil {
			return nil, err
		}
		attempts = append(attempts, attempt)
	}
	return attempts, rows.Err()
}

func (r *SQLiteRepository) DeleteOld(ctx context.Context, before time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx, `
		DELETE FROM reschedule_attempts WHERE attempted_at < ?`,
		before.Format(time.RFC3339))
	if err != nil {
		return 0, fmt.Errorf("failed to delete old attempts: %w", err)
	}
	return result.RowsAffected()
}

func (r *SQLiteRepository) Close() error {
	return r.db.Close()
}

func scanAttempt(rows *sql.Rows) (*Attempt, error) {
	var (
		id, runID, apptType, oldStart, failureReason, attemptedAt string
		newStart                                                  sql.NullString
		success                                                   bool
	)
	if err := rows.Scan(&id, &runID, &apptType, &oldStart, &newStart, &success, &failureReason, &attemptedAt); err != nil {
		return nil, fmt.Errorf("failed to scan attempt row: %w", err)
	}

	attempt := &Attempt{
		Type:          domain.AppointmentType(apptType),
		Success:       success,
		FailureReason: failureReason,
	}
	attempt.ID, _ = uuid.Parse(id)
	attempt.RunID, _ = uuid.Parse(runID)
	attempt.OldStart, _ = time.Parse(time.RFC3339, oldStart)
	attempt.AttemptedAt, _ = time.Parse(time.RFC3339, attemptedAt)
	if newStart.Valid {
		t, _ := time.Parse(time.RFC3339, newStart.String)
		attempt.NewStart = &t
	}
	return attempt, nil
}
