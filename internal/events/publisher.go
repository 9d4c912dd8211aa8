package events

import (
	"github.com/mattjoyce/pipelab/internal/engine"
	"github.com/mattjoyce/pipelab/internal/pipeline"
)

// RunSummary is the payload of run.started and run.finished.
type RunSummary struct {
	Pipeline string           `json:"pipeline"`
	Status   engine.RunStatus `json:"status"`
	Error    string           `json:"error,omitempty"`
	Duration string           `json:"duration,omitempty"`
}

// StepSummary is the payload of step.started and step.finished.
type StepSummary struct {
	UID    string            `json:"uid"`
	Origin string            `json:"origin"`
	Kind   string            `json:"kind"`
	Status engine.StepStatus `json:"status,omitempty"`
	Error  string            `json:"error,omitempty"`
	Result any               `json:"result,omitempty"`
}

// LogLine is the payload of step.log.
type LogLine struct {
	UID     string `json:"uid"`
	Level   string `json:"level"`
	Message string `json:"message"`
}

// RunPublisher is an engine.Observer that republishes run progress on a Hub.
type RunPublisher struct {
	hub *Hub
}

var _ engine.Observer = (*RunPublisher)(nil)

// NewRunPublisher returns an observer publishing to hub.
func NewRunPublisher(hub *Hub) *RunPublisher {
	return &RunPublisher{hub: hub}
}

func (p *RunPublisher) OnRunStart(rec *engine.RunRecord) {
	snap := rec.Snapshot()
	p.hub.Publish(RunStarted, snap.ID, RunSummary{Pipeline: snap.Pipeline, Status: snap.Status})
}

func (p *RunPublisher) OnNodeEnter(runID string, b *pipeline.Block) {
	p.hub.Publish(StepStarted, runID, StepSummary{
		UID:    b.UID,
		Origin: b.Origin.String(),
		Kind:   string(b.Type),
	})
}

func (p *RunPublisher) OnNodeExit(runID string, b *pipeline.Block, step engine.StepRecord) {
	p.hub.Publish(StepFinished, runID, StepSummary{
		UID:    step.UID,
		Origin: step.Origin,
		Kind:   step.Kind,
		Status: step.Status,
		Error:  step.Error,
		Result: step.Result,
	})
}

func (p *RunPublisher) OnLog(runID, uid string, entry engine.LogEntry) {
	p.hub.Publish(StepLog, runID, LogLine{UID: uid, Level: entry.Level, Message: entry.Message})
}

func (p *RunPublisher) OnRunFinish(rec *engine.RunRecord) {
	snap := rec.Snapshot()
	p.hub.Publish(RunFinished, snap.ID, RunSummary{
		Pipeline: snap.Pipeline,
		Status:   snap.Status,
		Error:    snap.Error,
		Duration: rec.Duration().String(),
	})
}
