package events

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/pipelab/internal/engine"
	"github.com/mattjoyce/pipelab/internal/log"
	"github.com/mattjoyce/pipelab/internal/pipeline"
	"github.com/mattjoyce/pipelab/internal/plugin"
	"github.com/mattjoyce/pipelab/internal/workspace"
)

func TestMain(m *testing.M) {
	log.Setup("ERROR", "json")
	os.Exit(m.Run())
}

func TestPublisherStreamsRun(t *testing.T) {
	reg := plugin.NewRegistry()
	reg.MustRegister(plugin.Definition{ID: "t", Nodes: []plugin.Node{{
		Node: plugin.NodeDefinition{ID: "say", Type: plugin.KindAction},
		Runner: plugin.ActionFunc(func(_ context.Context, rc *plugin.RunContext) error {
			rc.Log("hello")
			return nil
		}),
	}}})
	ws, err := workspace.NewFSManager(t.TempDir(), workspace.Options{ClearOnEnd: true})
	require.NoError(t, err)

	hub := NewHub(32)
	ex := engine.New(reg, engine.WithWorkspaces(ws), engine.WithObserver(NewRunPublisher(hub)))
	doc := &pipeline.Document{
		Version: pipeline.CurrentVersion,
		Name:    "p",
		Canvas: pipeline.Canvas{Blocks: []pipeline.Block{{
			Type: pipeline.BlockAction, UID: "s", Origin: pipeline.Origin{PluginID: "t", NodeID: "say"},
		}}},
	}
	rec := ex.Run(context.Background(), doc, engine.Request{RunID: "run-1"})
	require.Equal(t, engine.RunCompleted, rec.Status)

	var types []string
	for _, ev := range hub.Since(0, "run-1") {
		types = append(types, ev.Type)
	}
	assert.Equal(t, []string{RunStarted, StepStarted, StepLog, StepFinished, RunFinished}, types)
}
