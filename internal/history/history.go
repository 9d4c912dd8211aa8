// Package history persists finished runs so they can be listed and
// inspected after the process exits.
package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mattjoyce/pipelab/internal/engine"
)

// ErrNotFound is returned for unknown entry ids.
var ErrNotFound = errors.New("history entry not found")

// ExecutionStep is one step of a recorded run.
type ExecutionStep struct {
	UID        string            `json:"uid"`
	PluginID   string            `json:"plugin_id"`
	NodeID     string            `json:"node_id"`
	Status     engine.StepStatus `json:"status"`
	StartedAt  time.Time         `json:"started_at"`
	FinishedAt time.Time         `json:"finished_at,omitempty"`
	Outputs    map[string]any    `json:"outputs"`
	Logs       []engine.LogEntry `json:"logs"`
	Error      string            `json:"error,omitempty"`
}

// Entry is one recorded run.
type Entry struct {
	ID           string           `json:"id"`
	PipelineName string           `json:"pipeline_name"`
	PipelinePath string           `json:"pipeline_path,omitempty"`
	Fingerprint  string           `json:"fingerprint,omitempty"`
	Status       engine.RunStatus `json:"status"`
	StartedAt    time.Time        `json:"started_at"`
	FinishedAt   time.Time        `json:"finished_at,omitempty"`
	DurationMs   int64            `json:"duration_ms"`
	Error        string           `json:"error,omitempty"`
	Steps        []ExecutionStep  `json:"steps,omitempty"`
}

// FromRecord converts a run record into a history entry.
func FromRecord(rec *engine.RunRecord, path, fingerprint string) Entry {
	snap := rec.Snapshot()
	e := Entry{
		ID:           snap.ID,
		PipelineName: snap.Pipeline,
		PipelinePath: path,
		Fingerprint:  fingerprint,
		Status:       snap.Status,
		StartedAt:    snap.StartedAt,
		FinishedAt:   snap.FinishedAt,
		DurationMs:   rec.Duration().Milliseconds(),
		Error:        snap.Error,
	}
	for _, s := range snap.StepsInOrder() {
		pluginID, nodeID, _ := strings.Cut(s.Origin, ":")
		e.Steps = append(e.Steps, ExecutionStep{
			UID:        s.UID,
			PluginID:   pluginID,
			NodeID:     nodeID,
			Status:     s.Status,
			StartedAt:  s.StartedAt,
			FinishedAt: s.FinishedAt,
			Outputs:    s.Outputs,
			Logs:       s.Logs,
			Error:      s.Error,
		})
	}
	return e
}

// Store reads and writes entries in sqlite.
type Store struct {
	db *sql.DB
}

// NewStore wraps a database opened by storage.OpenSQLite.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

const timeLayout = time.RFC3339Nano

func formatTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.UTC().Format(timeLayout)
}

func parseTime(s sql.NullString) time.Time {
	if !s.Valid {
		return time.Time{}
	}
	t, _ := time.Parse(timeLayout, s.String)
	return t
}

// Save inserts or replaces e and its steps.
func (s *Store) Save(ctx context.Context, e Entry) error {
	if e.ID == "" {
		return fmt.Errorf("history entry id is empty")
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM run_history WHERE id = ?;`, e.ID); err != nil {
		return fmt.Errorf("replace history entry: %w", err)
	}
	_, err = tx.ExecContext(ctx, `
INSERT INTO run_history(id, pipeline_name, pipeline_path, fingerprint, status, started_at, finished_at, duration_ms, error)
VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?);`,
		e.ID, e.PipelineName, e.PipelinePath, e.Fingerprint, string(e.Status),
		formatTime(e.StartedAt), formatTime(e.FinishedAt), e.DurationMs, e.Error)
	if err != nil {
		return fmt.Errorf("insert history entry: %w", err)
	}

	for i, st := range e.Steps {
		outputs, err := json.Marshal(orEmptyMap(st.Outputs))
		if err != nil {
			return fmt.Errorf("encode outputs of %s: %w", st.UID, err)
		}
		logs, err := json.Marshal(orEmptyLogs(st.Logs))
		if err != nil {
			return fmt.Errorf("encode logs of %s: %w", st.UID, err)
		}
		_, err = tx.ExecContext(ctx, `
INSERT INTO run_history_steps(run_id, position, uid, plugin_id, node_id, status, started_at, finished_at, outputs, logs, error)
VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?);`,
			e.ID, i, st.UID, st.PluginID, st.NodeID, string(st.Status),
			formatTime(st.StartedAt), formatTime(st.FinishedAt), string(outputs), string(logs), st.Error)
		if err != nil {
			return fmt.Errorf("insert step %s: %w", st.UID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

const selectEntry = `SELECT id, pipeline_name, pipeline_path, fingerprint, status, started_at, finished_at, duration_ms, error FROM run_history`

func scanEntry(row interface{ Scan(...any) error }) (Entry, error) {
	var (
		e                   Entry
		path, fp, errMsg    sql.NullString
		status              string
		startedAt, finished sql.NullString
	)
	if err := row.Scan(&e.ID, &e.PipelineName, &path, &fp, &status, &startedAt, &finished, &e.DurationMs, &errMsg); err != nil {
		return Entry{}, err
	}
	e.PipelinePath, e.Fingerprint, e.Error = path.String, fp.String, errMsg.String
	e.Status = engine.RunStatus(status)
	e.StartedAt, e.FinishedAt = parseTime(startedAt), parseTime(finished)
	return e, nil
}

// Get returns the entry with id, including its steps.
func (s *Store) Get(ctx context.Context, id string) (Entry, error) {
	e, err := scanEntry(s.db.QueryRowContext(ctx, selectEntry+` WHERE id = ?;`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return Entry{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return Entry{}, fmt.Errorf("read history entry: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `
SELECT uid, plugin_id, node_id, status, started_at, finished_at, outputs, logs, error
FROM run_history_steps WHERE run_id = ? ORDER BY position;`, id)
	if err != nil {
		return Entry{}, fmt.Errorf("read history steps: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			st                ExecutionStep
			status            string
			started, finished sql.NullString
			outputs, logs     string
			errMsg            sql.NullString
		)
		if err := rows.Scan(&st.UID, &st.PluginID, &st.NodeID, &status, &started, &finished, &outputs, &logs, &errMsg); err != nil {
			return Entry{}, fmt.Errorf("scan history step: %w", err)
		}
		st.Status = engine.StepStatus(status)
		st.StartedAt, st.FinishedAt = parseTime(started), parseTime(finished)
		st.Error = errMsg.String
		if err := json.Unmarshal([]byte(outputs), &st.Outputs); err != nil {
			return Entry{}, fmt.Errorf("decode outputs of %s: %w", st.UID, err)
		}
		if err := json.Unmarshal([]byte(logs), &st.Logs); err != nil {
			return Entry{}, fmt.Errorf("decode logs of %s: %w", st.UID, err)
		}
		e.Steps = append(e.Steps, st)
	}
	return e, rows.Err()
}

// List returns the most recent entries without steps, newest first. A
// limit of zero or less means no limit.
func (s *Store) List(ctx context.Context, limit int) ([]Entry, error) {
	return s.list(ctx, selectEntry+` ORDER BY started_at DESC LIMIT ?;`, limitArg(limit))
}

// ListByPipeline is List filtered by pipeline name.
func (s *Store) ListByPipeline(ctx context.Context, name string, limit int) ([]Entry, error) {
	return s.list(ctx, selectEntry+` WHERE pipeline_name = ? ORDER BY started_at DESC LIMIT ?;`, name, limitArg(limit))
}

func limitArg(limit int) int {
	if limit <= 0 {
		return -1
	}
	return limit
}

func (s *Store) list(ctx context.Context, query string, args ...any) ([]Entry, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list history: %w", err)
	}
	defer rows.Close()
	out := []Entry{}
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("scan history entry: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// Delete removes one entry. Unknown ids yield ErrNotFound.
func (s *Store) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM run_history WHERE id = ?;`, id)
	if err != nil {
		return fmt.Errorf("delete history entry: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return nil
}

// Clear removes every entry and returns how many were deleted.
func (s *Store) Clear(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM run_history;`)
	if err != nil {
		return 0, fmt.Errorf("clear history: %w", err)
	}
	return res.RowsAffected()
}

func orEmptyMap(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}

func orEmptyLogs(l []engine.LogEntry) []engine.LogEntry {
	if l == nil {
		return []engine.LogEntry{}
	}
	return l
}
