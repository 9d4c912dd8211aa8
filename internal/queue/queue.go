// Package queue is the sqlite-backed FIFO of pending pipeline runs.
package queue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// DefaultTrigger is recorded when a request names no trigger.
const DefaultTrigger = "system:manual"

// Queue stores runs in the run_queue table.
type Queue struct {
	db *sql.DB
}

// New wraps a database opened by storage.OpenSQLite.
func New(db *sql.DB) *Queue {
	return &Queue{db: db}
}

// Enqueue adds a run and returns its id.
func (q *Queue) Enqueue(ctx context.Context, req EnqueueRequest) (string, error) {
	if req.Pipeline == "" {
		return "", fmt.Errorf("pipeline is empty")
	}
	if req.SubmittedBy == "" {
		return "", fmt.Errorf("submitted_by is empty")
	}
	trigger := req.Trigger
	if trigger == "" {
		trigger = DefaultTrigger
	}

	id := uuid.NewString()
	now := time.Now().UTC().Format(time.RFC3339Nano)
	_, err := q.db.ExecContext(ctx, `
INSERT INTO run_queue(id, pipeline, trigger_origin, payload, variables, status, submitted_by, created_at)
VALUES(?, ?, ?, ?, ?, ?, ?, ?);
`, id, req.Pipeline, trigger, nullJSON(req.Payload), nullJSON(req.Variables), StatusQueued, req.SubmittedBy, now)
	if err != nil {
		return "", fmt.Errorf("enqueue run: %w", err)
	}
	return id, nil
}

func nullJSON(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return string(b)
}

const jobColumns = `id, pipeline, trigger_origin, payload, variables, status, submitted_by, created_at, started_at, completed_at, last_error`

// Dequeue claims the oldest queued run and marks it running. It returns
// (nil, nil) when the queue is empty.
func (q *Queue) Dequeue(ctx context.Context) (*Job, error) {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	row := q.db.QueryRowContext(ctx, `
WITH next AS (
  SELECT id FROM run_queue
  WHERE status = ?
  ORDER BY created_at ASC, rowid ASC
  LIMIT 1
)
UPDATE run_queue
SET status = ?, started_at = ?
WHERE id IN (SELECT id FROM next)
RETURNING `+jobColumns+`;
`, StatusQueued, StatusRunning, now)

	j, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("dequeue run: %w", err)
	}
	return j, nil
}

// Get returns one job.
func (q *Queue) Get(ctx context.Context, id string) (*Job, error) {
	j, err := scanJob(q.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM run_queue WHERE id = ?;`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrJobNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("read run: %w", err)
	}
	return j, nil
}

// Complete moves a job to a terminal status.
func (q *Queue) Complete(ctx context.Context, id string, status Status, lastError *string) error {
	if id == "" {
		return fmt.Errorf("job id is empty")
	}
	if !status.Terminal() {
		return fmt.Errorf("invalid terminal status: %q", status)
	}
	now := time.Now().UTC().Format(time.RFC3339Nano)
	res, err := q.db.ExecContext(ctx, `
UPDATE run_queue SET status = ?, completed_at = ?, last_error = ? WHERE id = ?;
`, status, now, lastError, id)
	if err != nil {
		return fmt.Errorf("complete run: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrJobNotFound, id)
	}
	return nil
}

// Depth counts runs still waiting.
func (q *Queue) Depth(ctx context.Context) (int, error) {
	var n int
	if err := q.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM run_queue WHERE status = ?;`, StatusQueued).Scan(&n); err != nil {
		return 0, fmt.Errorf("queue depth: %w", err)
	}
	return n, nil
}

// RecoverOrphans requeues runs left running by a previous process and
// returns how many were reset.
func (q *Queue) RecoverOrphans(ctx context.Context) (int64, error) {
	res, err := q.db.ExecContext(ctx, `
UPDATE run_queue SET status = ?, started_at = NULL WHERE status = ?;
`, StatusQueued, StatusRunning)
	if err != nil {
		return 0, fmt.Errorf("recover orphaned runs: %w", err)
	}
	return res.RowsAffected()
}

func scanJob(row interface{ Scan(...any) error }) (*Job, error) {
	var (
		j                                 Job
		payload, variables                sql.NullString
		status, createdAt                 string
		startedAt, completedAt, lastError sql.NullString
	)
	if err := row.Scan(&j.ID, &j.Pipeline, &j.Trigger, &payload, &variables, &status, &j.SubmittedBy,
		&createdAt, &startedAt, &completedAt, &lastError); err != nil {
		return nil, err
	}
	j.Status = Status(status)
	if payload.Valid {
		j.Payload = []byte(payload.String)
	}
	if variables.Valid {
		j.Variables = []byte(variables.String)
	}
	j.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	j.StartedAt = parseOptional(startedAt)
	j.CompletedAt = parseOptional(completedAt)
	if lastError.Valid {
		j.LastError = &lastError.String
	}
	return &j, nil
}

func parseOptional(s sql.NullString) *time.Time {
	if !s.Valid {
		return nil
	}
	t, err := time.Parse(time.RFC3339Nano, s.String)
	if err != nil {
		return nil
	}
	return &t
}
