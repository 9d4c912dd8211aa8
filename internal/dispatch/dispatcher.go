package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/mattjoyce/pipelab/internal/engine"
	"github.com/mattjoyce/pipelab/internal/history"
	"github.com/mattjoyce/pipelab/internal/log"
	"github.com/mattjoyce/pipelab/internal/pipeline"
	"github.com/mattjoyce/pipelab/internal/queue"
)

//go:generate mockgen -destination=mocks/mock_queue.go -package=mocks github.com/mattjoyce/pipelab/internal/dispatch RunQueue

// RunQueue is the part of queue.Queue the dispatcher drives.
type RunQueue interface {
	Dequeue(ctx context.Context) (*queue.Job, error)
	Complete(ctx context.Context, id string, status queue.Status, lastError *string) error
}

// Source resolves pipeline names. pipeline.Library implements it.
type Source interface {
	Load(name string) (*pipeline.Document, string, error)
}

// Recorder persists finished runs. history.Store implements it.
type Recorder interface {
	Save(ctx context.Context, e history.Entry) error
}

// Dispatcher executes queued runs serially.
type Dispatcher struct {
	queue    RunQueue
	source   Source
	executor *engine.Executor
	history  Recorder
	poll     time.Duration
	logger   *slog.Logger

	wake chan struct{}

	mu       sync.Mutex
	current  string
	cancel   context.CancelFunc
	waiters  map[string][]chan queue.Status
	finished map[string]queue.Status
	recent   []string
}

// maxRecent bounds how many finished statuses Wait remembers.
const maxRecent = 1024

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithPollInterval sets how often the queue is checked when idle.
func WithPollInterval(d time.Duration) Option { return func(x *Dispatcher) { x.poll = d } }

// WithHistory records every finished run.
func WithHistory(r Recorder) Option { return func(x *Dispatcher) { x.history = r } }

// New creates a dispatcher.
func New(q RunQueue, src Source, ex *engine.Executor, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		queue:    q,
		source:   src,
		executor: ex,
		poll:     time.Second,
		logger:   log.WithComponent("dispatch"),
		wake:     make(chan struct{}, 1),
		waiters:  make(map[string][]chan queue.Status),
		finished: make(map[string]queue.Status),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Notify wakes the loop after an enqueue instead of waiting for the next
// poll.
func (d *Dispatcher) Notify() {
	select {
	case d.wake <- struct{}{}:
	default:
	}
}

// Start runs the dispatch loop until ctx is cancelled.
func (d *Dispatcher) Start(ctx context.Context) error {
	d.logger.Info("dispatch loop started")
	defer d.logger.Info("dispatch loop stopped")

	ticker := time.NewTicker(d.poll)
	defer ticker.Stop()
	for {
		// Drain everything queued before sleeping again.
		for {
			ran, err := d.ProcessNext(ctx)
			if err != nil {
				d.logger.Error("failed to process run", "error", err)
			}
			if !ran || ctx.Err() != nil {
				break
			}
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		case <-d.wake:
		}
	}
}

// ProcessNext executes the next queued run, if any, and reports whether one
// ran.
func (d *Dispatcher) ProcessNext(ctx context.Context) (bool, error) {
	job, err := d.queue.Dequeue(ctx)
	if err != nil {
		return false, fmt.Errorf("dequeue: %w", err)
	}
	if job == nil {
		return false, nil
	}
	d.execute(ctx, job)
	return true, nil
}

func (d *Dispatcher) execute(ctx context.Context, job *queue.Job) {
	logger := log.WithRun(job.ID).With("pipeline", job.Pipeline, "trigger", job.Trigger)
	logger.Info("executing run", "submitted_by", job.SubmittedBy)

	doc, path, err := d.source.Load(job.Pipeline)
	if err != nil {
		logger.Error("cannot load pipeline", "error", err)
		d.complete(ctx, job.ID, queue.StatusFailed, err)
		return
	}
	req, err := buildRequest(job)
	if err != nil {
		logger.Error("bad run request", "error", err)
		d.complete(ctx, job.ID, queue.StatusFailed, err)
		return
	}

	runCtx, cancel := context.WithCancel(ctx)
	d.mu.Lock()
	d.current, d.cancel = job.ID, cancel
	d.mu.Unlock()
	defer func() {
		cancel()
		d.mu.Lock()
		d.current, d.cancel = "", nil
		d.mu.Unlock()
	}()

	rec := d.executor.Run(runCtx, doc, req)

	if d.history != nil {
		fp, _ := doc.Fingerprint()
		// Record even when shutting down.
		if err := d.history.Save(context.WithoutCancel(ctx), history.FromRecord(rec, path, fp)); err != nil {
			logger.Error("failed to record history", "error", err)
		}
	}

	status := queue.StatusFailed
	switch rec.Status {
	case engine.RunCompleted:
		status = queue.StatusSucceeded
	case engine.RunCancelled:
		status = queue.StatusCancelled
	}
	logger.Info("run finished", "status", status, "duration", rec.Duration())
	d.complete(ctx, job.ID, status, rec.Err())
}

func buildRequest(job *queue.Job) (engine.Request, error) {
	req := engine.Request{RunID: job.ID}
	if job.Trigger != "" {
		pluginID, nodeID, ok := strings.Cut(job.Trigger, ":")
		if !ok {
			return req, fmt.Errorf("invalid trigger %q, want plugin:node", job.Trigger)
		}
		req.Trigger = pipeline.Origin{PluginID: pluginID, NodeID: nodeID}
	}
	if len(job.Payload) > 0 {
		if err := json.Unmarshal(job.Payload, &req.Payload); err != nil {
			return req, fmt.Errorf("decode payload: %w", err)
		}
	}
	if len(job.Variables) > 0 {
		if err := json.Unmarshal(job.Variables, &req.Variables); err != nil {
			return req, fmt.Errorf("decode variables: %w", err)
		}
	}
	return req, nil
}

func (d *Dispatcher) complete(ctx context.Context, id string, status queue.Status, runErr error) {
	var msg *string
	if runErr != nil {
		s := runErr.Error()
		msg = &s
	}
	if err := d.queue.Complete(context.WithoutCancel(ctx), id, status, msg); err != nil {
		d.logger.Error("failed to complete run", "run_id", id, "error", err)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	d.finished[id] = status
	d.recent = append(d.recent, id)
	if len(d.recent) > maxRecent {
		delete(d.finished, d.recent[0])
		d.recent = d.recent[1:]
	}
	for _, ch := range d.waiters[id] {
		ch <- status
		close(ch)
	}
	delete(d.waiters, id)
}

// Current returns the id of the run in flight, or "".
func (d *Dispatcher) Current() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.current
}

// Cancel stops the run with id if it is the one executing.
func (d *Dispatcher) Cancel(id string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.current != id || d.cancel == nil {
		return false
	}
	d.cancel()
	return true
}

// ErrWaitTimeout is returned by Wait when ctx ends first.
var ErrWaitTimeout = errors.New("timed out waiting for run")

// Wait blocks until the run with id finishes in this process and returns
// its queue status.
func (d *Dispatcher) Wait(ctx context.Context, id string) (queue.Status, error) {
	d.mu.Lock()
	if st, ok := d.finished[id]; ok {
		d.mu.Unlock()
		return st, nil
	}
	ch := make(chan queue.Status, 1)
	d.waiters[id] = append(d.waiters[id], ch)
	d.mu.Unlock()

	select {
	case st := <-ch:
		return st, nil
	case <-ctx.Done():
		return "", fmt.Errorf("%w %s: %v", ErrWaitTimeout, id, ctx.Err())
	}
}
