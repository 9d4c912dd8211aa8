package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"github.com/mattjoyce/pipelab/internal/expr"
	"github.com/mattjoyce/pipelab/internal/pipeline"
	"github.com/mattjoyce/pipelab/internal/plugin"
	"github.com/mattjoyce/pipelab/internal/workspace"
)

// run is the state of one in-flight execution.
type run struct {
	exec     *Executor
	rec      *RunRecord
	ws       *workspace.Workspace
	vars     map[string]any
	logger   *slog.Logger
	failures int
}

// walk executes blocks depth-first in order. It stops before the next block
// once ctx is done.
func (r *run) walk(ctx context.Context, blocks []pipeline.Block) error {
	for i := range blocks {
		if ctx.Err() != nil {
			return ErrCancelled
		}
		b := &blocks[i]
		if err := r.block(ctx, b); err != nil {
			if errors.Is(err, ErrCancelled) || r.exec.policy != BestEffort {
				return err
			}
			r.failures++
			r.logger.Warn("step failed, continuing with siblings", "step_uid", b.UID, "error", err)
		}
	}
	return nil
}

func (r *run) block(ctx context.Context, b *pipeline.Block) error {
	switch b.Type {
	case pipeline.BlockComment:
		return nil
	case pipeline.BlockEvent:
		r.logger.Debug("event block outside triggers ignored", "step_uid", b.UID)
		return nil
	}
	if b.Disabled {
		r.logger.Debug("block disabled, skipping", "step_uid", b.UID, "origin", b.Origin.String())
		return nil
	}

	st := r.begin(b)
	def, runner, err := r.exec.reg.Lookup(b.Origin.PluginID, b.Origin.NodeID)
	if err != nil {
		return r.fail(b, st, err)
	}
	if err := plugin.CheckKind(b.Type, def.Type); err != nil {
		return r.fail(b, st, err)
	}
	report := plugin.CheckParams(def, b.Params)
	for _, name := range report.Unexpected {
		st.log(plugin.LevelWarn, fmt.Sprintf("unexpected param %q", name))
	}
	if err := report.Err(b.Origin.String()); err != nil {
		return r.fail(b, st, err)
	}

	switch def.Type {
	case plugin.KindAction:
		return r.action(ctx, b, st, def, runner.(plugin.ActionRunner))
	case plugin.KindExpression:
		return r.expression(ctx, b, st, def, runner.(plugin.ExpressionRunner))
	case plugin.KindCondition:
		return r.condition(ctx, b, st, def, runner.(plugin.ConditionRunner))
	case plugin.KindLoop:
		return r.loop(ctx, b, st, def, runner.(plugin.LoopRunner))
	}
	return r.fail(b, st, fmt.Errorf("node kind %q cannot be executed", def.Type))
}

func (r *run) action(ctx context.Context, b *pipeline.Block, st *step, def *plugin.NodeDefinition, runner plugin.ActionRunner) error {
	rc, err := r.context(b, st, def, nil)
	if err != nil {
		return r.fail(b, st, err)
	}
	err = r.invoke(ctx, func(ctx context.Context) error {
		return runner.RunAction(ctx, rc)
	})
	if err != nil {
		st.discard()
		return r.failRunner(ctx, b, st, err)
	}
	st.commit(def, true)
	return r.complete(b, st)
}

func (r *run) expression(ctx context.Context, b *pipeline.Block, st *step, def *plugin.NodeDefinition, runner plugin.ExpressionRunner) error {
	rc, err := r.context(b, st, def, nil)
	if err != nil {
		return r.fail(b, st, err)
	}
	var result string
	err = r.invoke(ctx, func(ctx context.Context) error {
		var err error
		result, err = runner.EvaluateExpression(ctx, rc)
		return err
	})
	if err == nil {
		st.pending["result"] = result
		st.setResult(result)
	}
	if err != nil {
		st.discard()
		return r.failRunner(ctx, b, st, err)
	}
	st.commit(def, true)
	return r.complete(b, st)
}

func (r *run) condition(ctx context.Context, b *pipeline.Block, st *step, def *plugin.NodeDefinition, runner plugin.ConditionRunner) error {
	rc, err := r.context(b, st, def, nil)
	if err != nil {
		return r.fail(b, st, err)
	}
	var result bool
	err = r.invoke(ctx, func(ctx context.Context) error {
		var err error
		result, err = runner.EvaluateCondition(ctx, rc)
		return err
	})
	if err != nil {
		st.discard()
		return r.failRunner(ctx, b, st, err)
	}
	st.commit(def, true)
	st.setResult(result)
	if err := r.complete(b, st); err != nil {
		return err
	}
	if result {
		return r.walk(ctx, b.BranchTrue)
	}
	return r.walk(ctx, b.BranchFalse)
}

func (r *run) loop(ctx context.Context, b *pipeline.Block, st *step, def *plugin.NodeDefinition, runner plugin.LoopRunner) error {
	meta := plugin.Meta{}
	for iteration := 0; ; iteration++ {
		if ctx.Err() != nil {
			return r.cancel(b, st)
		}
		rc, err := r.context(b, st, def, meta)
		if err != nil {
			return r.fail(b, st, err)
		}
		var (
			decision plugin.LoopDecision
			next     plugin.Meta
		)
		err = r.invoke(ctx, func(ctx context.Context) error {
			var err error
			decision, next, err = runner.NextIteration(ctx, rc)
			return err
		})
		if err != nil {
			st.discard()
			return r.failRunner(ctx, b, st, err)
		}
		st.commit(def, iteration == 0)
		if next != nil {
			meta = next.Clone()
		}
		st.setMeta(meta)

		switch decision {
		case plugin.LoopExit:
			return r.complete(b, st)
		case plugin.LoopStep:
			st.iterate()
			if err := r.walk(ctx, b.Children); err != nil {
				if errors.Is(err, ErrCancelled) {
					return r.cancel(b, st)
				}
				return r.fail(b, st, fmt.Errorf("iteration %d: %w", iteration, err))
			}
		default:
			return r.fail(b, st, fmt.Errorf("loop runner returned %q, want %q or %q", decision, plugin.LoopStep, plugin.LoopExit))
		}
	}
}

// trigger runs the event runner of the trigger that started the run.
func (r *run) trigger(ctx context.Context, b *pipeline.Block, payload map[string]any) error {
	st := r.begin(b)
	def, runner, err := r.exec.reg.Lookup(b.Origin.PluginID, b.Origin.NodeID)
	if err != nil {
		return r.fail(b, st, err)
	}
	if def.Type != plugin.KindEvent {
		return r.fail(b, st, fmt.Errorf("trigger origin is a %s node, not an event", def.Type))
	}
	rc, err := r.context(b, st, def, nil)
	if err != nil {
		return r.fail(b, st, err)
	}
	if payload == nil {
		payload = map[string]any{}
	}
	rc.Inputs["payload"] = payload
	err = r.invoke(ctx, func(ctx context.Context) error {
		return runner.(plugin.EventRunner).HandleEvent(ctx, rc)
	})
	if err != nil {
		st.discard()
		return r.failRunner(ctx, b, st, err)
	}
	st.commit(def, true)
	return r.complete(b, st)
}

// context resolves b's params against the run so far and builds the runner
// context. Declared params the block omits take their default value.
func (r *run) context(b *pipeline.Block, st *step, def *plugin.NodeDefinition, meta plugin.Meta) (_ *plugin.RunContext, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("resolve params: %v", p)
		}
	}()
	inputs := def.ParamDefaults()
	scope := expr.Scope{Steps: r.rec, Variables: r.vars}

	names := make([]string, 0, len(b.Params))
	for name := range b.Params {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		v, err := expr.ResolveParam(b.Params[name], scope)
		if err != nil {
			return nil, fmt.Errorf("param %q: %w", name, err)
		}
		if m, ok := v.(expr.Missing); ok {
			st.log(plugin.LevelWarn, fmt.Sprintf("param %q: unresolved reference %s", name, m.Reference))
			v = nil
		}
		inputs[name] = v
	}

	cwd, err := r.ws.StepDir(b.UID)
	if err != nil {
		return nil, err
	}
	paths := r.exec.paths
	paths.Run = r.ws.Dir
	if paths.Cache == "" {
		paths.Cache = r.ws.Cache
	}

	var config map[string]any
	if r.exec.pluginConfig != nil {
		config = r.exec.pluginConfig(b.Origin.PluginID)
	}

	st.pending = make(map[string]any)
	return &plugin.RunContext{
		RunID:    r.rec.ID,
		StepUID:  b.UID,
		Inputs:   inputs,
		Meta:     meta.Clone(),
		Cwd:      cwd,
		Paths:    paths,
		API:      r.exec.api,
		Config:   config,
		OnLog:    st.log,
		OnOutput: func(key string, value any) { st.pending[key] = value },
	}, nil
}

// invoke calls fn under the step timeout, converting panics into errors.
func (r *run) invoke(ctx context.Context, fn func(ctx context.Context) error) (err error) {
	if r.exec.stepTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.exec.stepTimeout)
		defer cancel()
	}
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("runner panic: %v", p)
		}
	}()
	return fn(ctx)
}
