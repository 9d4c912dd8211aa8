package engine

import (
	"github.com/mattjoyce/pipelab/internal/pipeline"
)

// Observer receives run progress. Calls are made synchronously from the
// executing goroutine, in traversal order; implementations must not block.
type Observer interface {
	OnRunStart(rec *RunRecord)
	OnNodeEnter(runID string, b *pipeline.Block)
	OnNodeExit(runID string, b *pipeline.Block, step StepRecord)
	OnLog(runID, uid string, entry LogEntry)
	OnRunFinish(rec *RunRecord)
}

// NopObserver implements Observer with no-ops. Embed it to override only
// some callbacks.
type NopObserver struct{}

func (NopObserver) OnRunStart(*RunRecord)                          {}
func (NopObserver) OnNodeEnter(string, *pipeline.Block)            {}
func (NopObserver) OnNodeExit(string, *pipeline.Block, StepRecord) {}
func (NopObserver) OnLog(string, string, LogEntry)                 {}
func (NopObserver) OnRunFinish(*RunRecord)                         {}

type observers []Observer

func (o observers) runStart(rec *RunRecord) {
	for _, ob := range o {
		ob.OnRunStart(rec)
	}
}

func (o observers) enter(runID string, b *pipeline.Block) {
	for _, ob := range o {
		ob.OnNodeEnter(runID, b)
	}
}

func (o observers) exit(runID string, b *pipeline.Block, step StepRecord) {
	for _, ob := range o {
		ob.OnNodeExit(runID, b, step)
	}
}

func (o observers) log(runID, uid string, entry LogEntry) {
	for _, ob := range o {
		ob.OnLog(runID, uid, entry)
	}
}

func (o observers) runFinish(rec *RunRecord) {
	for _, ob := range o {
		ob.OnRunFinish(rec)
	}
}
