package system

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/golang/mock/gomock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/pipelab/internal/engine"
	"github.com/mattjoyce/pipelab/internal/log"
	"github.com/mattjoyce/pipelab/internal/pipeline"
	"github.com/mattjoyce/pipelab/internal/platform"
	"github.com/mattjoyce/pipelab/internal/platform/mocks"
	"github.com/mattjoyce/pipelab/internal/plugin"
	"github.com/mattjoyce/pipelab/internal/workspace"
)

func TestMain(m *testing.M) {
	log.Setup("ERROR", "json")
	os.Exit(m.Run())
}

func newRC(inputs map[string]any) (*plugin.RunContext, map[string]any, *[]string) {
	outputs := map[string]any{}
	var logs []string
	return &plugin.RunContext{
		Inputs:   inputs,
		Meta:     plugin.Meta{},
		API:      platform.NewHeadless(),
		OnLog:    func(_ plugin.LogLevel, msg string) { logs = append(logs, msg) },
		OnOutput: func(k string, v any) { outputs[k] = v },
	}, outputs, &logs
}

func TestDefinitionRegisters(t *testing.T) {
	reg := plugin.NewRegistry()
	require.NoError(t, reg.Register(Definition()))
	for _, id := range []string{"log", "sleep", "alert", "prompt", "branch", "for", "join", "manual", "webhook"} {
		_, ok := reg.GetRunner(PluginID, id)
		assert.True(t, ok, id)
	}
}

func TestCompare(t *testing.T) {
	tests := []struct {
		a    any
		op   string
		b    any
		want bool
	}{
		{1.0, "<", 2.0, true},
		{"10", ">", "9", true},
		{"abc", "<", "abd", true},
		{"a", "=", "a", true},
		{1.0, "=", "1", true},
		{true, "!=", false, true},
		{3.0, ">=", 3.0, true},
		{3.0, "<=", 2.0, false},
		{"b", ">", "a", true},
	}
	for _, tt := range tests {
		got, err := Compare(tt.a, tt.op, tt.b)
		require.NoError(t, err)
		assert.Equal(t, tt.want, got, "%v %s %v", tt.a, tt.op, tt.b)
	}

	_, err := Compare(1, "~", 2)
	assert.ErrorContains(t, err, "unknown operator")
}

func TestForIteratesList(t *testing.T) {
	rc, outputs, _ := newRC(map[string]any{"value": []any{"a", "b"}})

	var items []any
	for i := 0; i < 5; i++ {
		decision, meta, err := nextForIteration(context.Background(), rc)
		require.NoError(t, err)
		if decision == plugin.LoopExit {
			break
		}
		items = append(items, outputs["item"])
		rc.Meta = meta
	}
	assert.Equal(t, []any{"a", "b"}, items)
	assert.Equal(t, 2, rc.Meta[loopIndexKey])

	rc, _, _ = newRC(map[string]any{"value": "nope"})
	_, _, err := nextForIteration(context.Background(), rc)
	assert.Error(t, err)
}

func TestJoin(t *testing.T) {
	rc, _, _ := newRC(map[string]any{"input": []any{"a", 1.0, true}})
	got, err := evaluateJoin(context.Background(), rc)
	require.NoError(t, err)
	assert.Equal(t, "a, 1, true", got)

	rc, _, _ = newRC(map[string]any{"input": []any{"a", "b"}, "separator": "-"})
	got, _ = evaluateJoin(context.Background(), rc)
	assert.Equal(t, "a-b", got)
}

func TestSleepHonoursContext(t *testing.T) {
	rc, _, _ := newRC(map[string]any{"duration": 10_000.0})
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, runSleep(ctx, rc), context.DeadlineExceeded)

	rc, _, _ = newRC(map[string]any{"duration": -1.0})
	assert.Error(t, runSleep(context.Background(), rc))
}

func TestPromptUsesPlatform(t *testing.T) {
	ctrl := gomock.NewController(t)
	svc := mocks.NewMockServices(ctrl)
	svc.EXPECT().
		Execute(gomock.Any(), platform.ChannelPrompt, map[string]any{"message": "name?", "default": ""}).
		Return(platform.Success(map[string]any{"answer": "ada"}))
	svc.EXPECT().
		Execute(gomock.Any(), platform.ChannelAlert, gomock.Any()).
		Return(platform.Response{Type: platform.ResponseError, Error: "closed"})

	rc, outputs, _ := newRC(map[string]any{"message": "name?"})
	rc.API = svc
	require.NoError(t, runPrompt(context.Background(), rc))
	assert.Equal(t, "ada", outputs["answer"])

	assert.ErrorContains(t, runAlert(context.Background(), rc), "closed")
}

func TestWebhookExposesBody(t *testing.T) {
	rc, outputs, _ := newRC(map[string]any{"payload": map[string]any{
		"body":    map[string]any{"ref": "main"},
		"headers": map[string]any{"X-Event": "push"},
	}})
	require.NoError(t, handleWebhook(context.Background(), rc))
	assert.Equal(t, map[string]any{"ref": "main"}, outputs["body"])
	assert.Equal(t, map[string]any{"X-Event": "push"}, outputs["headers"])
}

func TestPresetsRun(t *testing.T) {
	reg := plugin.NewRegistry()
	reg.MustRegister(Definition())
	ws, err := workspace.NewFSManager(t.TempDir(), workspace.Options{ClearOnEnd: true})
	require.NoError(t, err)
	ex := engine.New(reg, engine.WithWorkspaces(ws))

	for _, name := range []string{"blank", "if", "loop"} {
		t.Run(name, func(t *testing.T) {
			doc, err := pipeline.Preset(name)
			require.NoError(t, err)
			rec := ex.Run(context.Background(), doc, engine.Request{})
			assert.Equal(t, engine.RunCompleted, rec.Status, rec.Error)
		})
	}

	doc, _ := pipeline.Preset("loop")
	rec := ex.Run(context.Background(), doc, engine.Request{})
	var logged []string
	for _, s := range rec.StepsInOrder() {
		if s.Origin == "system:log" {
			for _, l := range s.Logs {
				logged = append(logged, l.Message)
			}
		}
	}
	// The child step record is replaced each iteration; the last one wins.
	assert.Equal(t, []string{"c"}, logged)

	loopStep := rec.StepsInOrder()[1]
	assert.Equal(t, 3, loopStep.Iterations)
}
