package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/mattjoyce/pipelab/internal/pipeline"
	"github.com/mattjoyce/pipelab/internal/plugin"
)

// step tracks one block while its runner is in flight. Outputs set by the
// runner accumulate in pending and reach the record only on a successful
// commit.
type step struct {
	run     *run
	uid     string
	pending map[string]any
}

func (r *run) begin(b *pipeline.Block) *step {
	r.rec.beginStep(&StepRecord{
		UID:       b.UID,
		Origin:    b.Origin.String(),
		Kind:      string(b.Type),
		Status:    StepRunning,
		Outputs:   map[string]any{},
		Logs:      []LogEntry{},
		StartedAt: r.exec.now(),
	})
	r.exec.observers.enter(r.rec.ID, b)
	return &step{run: r, uid: b.UID}
}

func (s *step) log(level plugin.LogLevel, msg string) {
	entry := LogEntry{Time: s.run.exec.now(), Level: string(level), Message: msg}
	s.run.rec.updateStep(s.uid, func(rec *StepRecord) {
		rec.Logs = append(rec.Logs, entry)
	})
	s.run.logger.Debug("step log", "step_uid", s.uid, "level", level, "message", msg)
	s.run.exec.observers.log(s.run.rec.ID, s.uid, entry)
}

// commit publishes pending outputs. Declared output defaults fill in keys
// the runner never set when withDefaults is true.
func (s *step) commit(def *plugin.NodeDefinition, withDefaults bool) {
	pending := s.pending
	s.pending = make(map[string]any)
	if !def.Type.HasOutputs() {
		return
	}
	var defaults map[string]any
	if withDefaults {
		defaults = def.OutputDefaults()
	}
	s.run.rec.updateStep(s.uid, func(rec *StepRecord) {
		for k, v := range defaults {
			if _, set := rec.Outputs[k]; !set {
				rec.Outputs[k] = v
			}
		}
		for k, v := range pending {
			rec.Outputs[k] = v
		}
	})
}

// discard drops outputs of a runner that failed so later steps never see
// them.
func (s *step) discard() {
	s.pending = make(map[string]any)
}

func (s *step) setResult(v any) {
	s.run.rec.updateStep(s.uid, func(rec *StepRecord) { rec.Result = v })
}

func (s *step) setMeta(m plugin.Meta) {
	m = m.Clone()
	s.run.rec.updateStep(s.uid, func(rec *StepRecord) { rec.Meta = m })
}

func (s *step) iterate() {
	s.run.rec.updateStep(s.uid, func(rec *StepRecord) { rec.Iterations++ })
}

func (r *run) end(b *pipeline.Block, st *step, status StepStatus, msg string) {
	at := r.exec.now()
	r.rec.updateStep(st.uid, func(rec *StepRecord) {
		rec.Status = status
		rec.Error = msg
		rec.FinishedAt = at
	})
	snap, _ := r.rec.Step(st.uid)
	r.exec.observers.exit(r.rec.ID, b, snap)
}

func (r *run) complete(b *pipeline.Block, st *step) error {
	r.end(b, st, StepCompleted, "")
	return nil
}

func (r *run) fail(b *pipeline.Block, st *step, err error) error {
	r.end(b, st, StepFailed, err.Error())
	r.logger.Error("step failed", "step_uid", b.UID, "origin", b.Origin.String(), "error", err)
	var re *RunnerError
	if errors.As(err, &re) && re.UID == b.UID {
		return err
	}
	return &RunnerError{UID: b.UID, Origin: b.Origin.String(), Err: err}
}

func (r *run) cancel(b *pipeline.Block, st *step) error {
	r.end(b, st, StepCancelled, ErrCancelled.Error())
	r.logger.Info("step cancelled", "step_uid", b.UID)
	return ErrCancelled
}

// failRunner classifies a runner error. Errors seen after the run's context
// is done mean cancellation; a deadline on the step's own context is a
// timeout failure.
func (r *run) failRunner(ctx context.Context, b *pipeline.Block, st *step, err error) error {
	if ctx.Err() != nil {
		return r.cancel(b, st)
	}
	if r.exec.stepTimeout > 0 && errors.Is(err, context.DeadlineExceeded) {
		err = fmt.Errorf("timed out after %v: %w", r.exec.stepTimeout, err)
	}
	return r.fail(b, st, err)
}
