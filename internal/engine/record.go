package engine

import (
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/mattjoyce/pipelab/internal/migration"
	"github.com/mattjoyce/pipelab/internal/plugin"
)

// StepStatus is the state of one executed block.
type StepStatus string

const (
	StepRunning   StepStatus = "running"
	StepCompleted StepStatus = "completed"
	StepFailed    StepStatus = "failed"
	StepCancelled StepStatus = "cancelled"
)

// RunStatus is the state of a whole run.
type RunStatus string

const (
	RunIdle      RunStatus = "idle"
	RunRunning   RunStatus = "running"
	RunCompleted RunStatus = "completed"
	RunFailed    RunStatus = "failed"
	RunCancelled RunStatus = "cancelled"
)

// Terminal reports whether the run has finished.
func (s RunStatus) Terminal() bool {
	return s == RunCompleted || s == RunFailed || s == RunCancelled
}

// ExitCode maps a run status to a process exit code.
func (s RunStatus) ExitCode() int {
	switch s {
	case RunCompleted:
		return 0
	case RunCancelled:
		return 130
	default:
		return 1
	}
}

// LogEntry is one line a runner logged.
type LogEntry struct {
	Time    time.Time `json:"time"`
	Level   string    `json:"level"`
	Message string    `json:"message"`
}

// StepRecord is the run record entry for one block.
type StepRecord struct {
	UID        string         `json:"uid"`
	Origin     string         `json:"origin"`
	Kind       string         `json:"kind"`
	Status     StepStatus     `json:"status"`
	Outputs    map[string]any `json:"outputs"`
	Logs       []LogEntry     `json:"logs"`
	Error      string         `json:"error,omitempty"`
	Result     any            `json:"result,omitempty"`
	Meta       plugin.Meta    `json:"meta,omitempty"`
	Iterations int            `json:"iterations,omitempty"`
	StartedAt  time.Time      `json:"started_at"`
	FinishedAt time.Time      `json:"finished_at,omitempty"`
}

func (s *StepRecord) clone() *StepRecord {
	cp := *s
	cp.Outputs, _ = migration.Clone(s.Outputs).(map[string]any)
	cp.Logs = append([]LogEntry(nil), s.Logs...)
	if s.Meta != nil {
		cp.Meta = s.Meta.Clone()
	}
	return &cp
}

// RunRecord is the outcome of one execution. It is safe to read while the
// run is in progress.
type RunRecord struct {
	mu sync.RWMutex

	ID         string                 `json:"id"`
	Pipeline   string                 `json:"pipeline"`
	Status     RunStatus              `json:"status"`
	StartedAt  time.Time              `json:"started_at"`
	FinishedAt time.Time              `json:"finished_at,omitempty"`
	Error      string                 `json:"error,omitempty"`
	Steps      map[string]*StepRecord `json:"steps"`
	// Order lists step uids in the order they started.
	Order []string `json:"order"`

	err error
}

func newRecord(id, pipeline string) *RunRecord {
	return &RunRecord{
		ID:       id,
		Pipeline: pipeline,
		Status:   RunIdle,
		Steps:    make(map[string]*StepRecord),
		Order:    []string{},
	}
}

// Output implements expr.OutputSource. Only outputs committed by a finished
// runner invocation are visible.
func (r *RunRecord) Output(uid, name string) (any, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.Steps[uid]
	if !ok {
		return nil, false
	}
	v, ok := s.Outputs[name]
	return v, ok
}

// Step returns a copy of the step record for uid.
func (r *RunRecord) Step(uid string) (StepRecord, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.Steps[uid]
	if !ok {
		return StepRecord{}, false
	}
	return *s.clone(), true
}

// StepsInOrder returns copies of all step records in start order.
func (r *RunRecord) StepsInOrder() []StepRecord {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]StepRecord, 0, len(r.Order))
	for _, uid := range r.Order {
		out = append(out, *r.Steps[uid].clone())
	}
	return out
}

// Snapshot returns a deep copy detached from the running executor.
func (r *RunRecord) Snapshot() *RunRecord {
	r.mu.RLock()
	defer r.mu.RUnlock()
	cp := &RunRecord{
		ID:         r.ID,
		Pipeline:   r.Pipeline,
		Status:     r.Status,
		StartedAt:  r.StartedAt,
		FinishedAt: r.FinishedAt,
		Error:      r.Error,
		Steps:      make(map[string]*StepRecord, len(r.Steps)),
		Order:      append([]string{}, r.Order...),
		err:        r.err,
	}
	for uid, s := range r.Steps {
		cp.Steps[uid] = s.clone()
	}
	return cp
}

// Err returns the error that ended the run, nil when it completed.
func (r *RunRecord) Err() error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.err
}

// Duration is the wall time of a finished run.
func (r *RunRecord) Duration() time.Duration {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.FinishedAt.IsZero() {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}

// MarshalJSON encodes the record under its read lock.
func (r *RunRecord) MarshalJSON() ([]byte, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	type plain struct {
		ID         string                 `json:"id"`
		Pipeline   string                 `json:"pipeline"`
		Status     RunStatus              `json:"status"`
		StartedAt  time.Time              `json:"started_at"`
		FinishedAt time.Time              `json:"finished_at,omitempty"`
		Error      string                 `json:"error,omitempty"`
		Steps      map[string]*StepRecord `json:"steps"`
		Order      []string               `json:"order"`
	}
	return json.Marshal(plain{
		ID: r.ID, Pipeline: r.Pipeline, Status: r.Status,
		StartedAt: r.StartedAt, FinishedAt: r.FinishedAt, Error: r.Error,
		Steps: r.Steps, Order: r.Order,
	})
}

// UnmarshalJSON decodes a record written by MarshalJSON.
func (r *RunRecord) UnmarshalJSON(data []byte) error {
	type plain struct {
		ID         string                 `json:"id"`
		Pipeline   string                 `json:"pipeline"`
		Status     RunStatus              `json:"status"`
		StartedAt  time.Time              `json:"started_at"`
		FinishedAt time.Time              `json:"finished_at"`
		Error      string                 `json:"error"`
		Steps      map[string]*StepRecord `json:"steps"`
		Order      []string               `json:"order"`
	}
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ID, r.Pipeline, r.Status = p.ID, p.Pipeline, p.Status
	r.StartedAt, r.FinishedAt, r.Error = p.StartedAt, p.FinishedAt, p.Error
	r.Steps, r.Order = p.Steps, p.Order
	if r.Steps == nil {
		r.Steps = make(map[string]*StepRecord)
	}
	if len(r.Order) == 0 {
		for uid := range r.Steps {
			r.Order = append(r.Order, uid)
		}
		sort.Strings(r.Order)
	}
	return nil
}

// mutators; callers hold no lock.

func (r *RunRecord) start(at time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Status = RunRunning
	r.StartedAt = at
}

func (r *RunRecord) finish(status RunStatus, err error, at time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Status = status
	r.FinishedAt = at
	r.err = err
	if err != nil {
		r.Error = err.Error()
	}
}

func (r *RunRecord) beginStep(s *StepRecord) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.Steps[s.UID]; !exists {
		r.Order = append(r.Order, s.UID)
	}
	r.Steps[s.UID] = s
}

func (r *RunRecord) updateStep(uid string, fn func(s *StepRecord)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.Steps[uid]; ok {
		fn(s)
	}
}
