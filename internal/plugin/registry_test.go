package plugin

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/pipelab/internal/pipeline"
)

func noopAction() ActionFunc {
	return func(context.Context, *RunContext) error { return nil }
}

func TestRegisterAndLookup(t *testing.T) {
	reg := NewRegistry()
	err := reg.Register(Definition{
		ID:   "test",
		Name: "Test",
		Nodes: []Node{
			{Node: NodeDefinition{ID: "echo", Type: KindAction}, Runner: noopAction()},
			{Node: NodeDefinition{ID: "yes", Type: KindCondition}, Runner: ConditionFunc(func(context.Context, *RunContext) (bool, error) { return true, nil })},
		},
	})
	require.NoError(t, err)

	r, ok := reg.GetRunner("test", "echo")
	require.True(t, ok)
	_, isAction := r.(ActionRunner)
	assert.True(t, isAction)

	def, ok := reg.GetDefinition("test", "yes")
	require.True(t, ok)
	assert.Equal(t, KindCondition, def.Type)

	_, ok = reg.GetRunner("test", "missing")
	assert.False(t, ok)

	_, _, err = reg.Lookup("nope", "echo")
	assert.True(t, errors.Is(err, ErrUnregisteredNode))
	assert.Contains(t, err.Error(), "nope:echo")

	nodes := reg.Nodes()
	require.Len(t, nodes, 2)
	assert.Equal(t, "echo", nodes[0].Node.ID)
}

func TestDefinitionsAreCopies(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register(Definition{ID: "test", Nodes: []Node{{
		Node: NodeDefinition{ID: "echo", Type: KindAction,
			Params:  map[string]ParamDefinition{"message": {Value: map[string]any{"k": "v"}}},
			Outputs: map[string]OutputDefinition{"out": {Value: "none"}}},
		Runner: noopAction(),
	}}}))

	def, ok := reg.GetDefinition("test", "echo")
	require.True(t, ok)
	def.Params["extra"] = ParamDefinition{Value: 1}
	def.Params["message"].Value.(map[string]any)["k"] = "changed"
	def.Outputs["out"] = OutputDefinition{Value: "mutated"}

	again, _, err := reg.Lookup("test", "echo")
	require.NoError(t, err)
	assert.NotContains(t, again.Params, "extra")
	assert.Equal(t, map[string]any{"k": "v"}, again.Params["message"].Value)
	assert.Equal(t, "none", again.Outputs["out"].Value)
}

func TestRegisterRejectsBadBundles(t *testing.T) {
	tests := []struct {
		name string
		def  Definition
		want string
	}{
		{"no id", Definition{}, "plugin id is required"},
		{"kind mismatch", Definition{ID: "p", Nodes: []Node{
			{Node: NodeDefinition{ID: "n", Type: KindLoop}, Runner: noopAction()},
		}}, "does not implement the loop contract"},
		{"nil runner", Definition{ID: "p", Nodes: []Node{
			{Node: NodeDefinition{ID: "n", Type: KindAction}},
		}}, "runner is required"},
		{"duplicate node", Definition{ID: "p", Nodes: []Node{
			{Node: NodeDefinition{ID: "n", Type: KindAction}, Runner: noopAction()},
			{Node: NodeDefinition{ID: "n", Type: KindAction}, Runner: noopAction()},
		}}, "duplicate node"},
		{"unknown kind", Definition{ID: "p", Nodes: []Node{
			{Node: NodeDefinition{ID: "n", Type: "widget"}, Runner: noopAction()},
		}}, "invalid type"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reg := NewRegistry()
			err := reg.Register(tt.def)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
			assert.Empty(t, reg.Nodes(), "rejected bundle must not be partially registered")
		})
	}
}

func TestRegisterDuplicatePlugin(t *testing.T) {
	reg := NewRegistry()
	def := Definition{ID: "p", Nodes: []Node{{Node: NodeDefinition{ID: "n", Type: KindAction}, Runner: noopAction()}}}
	require.NoError(t, reg.Register(def))
	assert.Error(t, reg.Register(def))
	assert.Panics(t, func() { reg.MustRegister(def) })
}

func TestCheckParams(t *testing.T) {
	def := &NodeDefinition{
		ID:   "n",
		Type: KindAction,
		Params: map[string]ParamDefinition{
			"implicit": {Label: "Implicit"},
			"explicit": {Label: "Explicit", Required: func() *bool { b := true; return &b }()},
			"optional": {Label: "Optional", Required: Optional()},
		},
	}

	report := CheckParams(def, map[string]pipeline.ParamValue{
		"explicit": pipeline.Expr("  "),
		"extra":    pipeline.Raw(1),
	})
	assert.Equal(t, []string{"explicit", "implicit"}, report.Missing)
	assert.Equal(t, []string{"extra"}, report.Unexpected)

	var missing *MissingParamError
	require.True(t, errors.As(report.Err("p:n"), &missing))
	assert.Equal(t, "node p:n: missing required param(s): explicit, implicit", missing.Error())

	report = CheckParams(def, map[string]pipeline.ParamValue{
		"implicit": pipeline.Raw(""),
		"explicit": pipeline.Expr("steps['a']['outputs']['b']"),
	})
	assert.Empty(t, report.Missing)
	assert.NoError(t, report.Err("p:n"))
}

func TestRunContextInputs(t *testing.T) {
	var logs []string
	outputs := map[string]any{}
	rc := &RunContext{
		Inputs: map[string]any{
			"s":    "x",
			"n":    float64(2.5),
			"ns":   "3",
			"b":    "true",
			"list": []any{"a", 1.0},
		},
		OnLog:    func(level LogLevel, msg string) { logs = append(logs, string(level)+":"+msg) },
		OnOutput: func(k string, v any) { outputs[k] = v },
	}

	assert.Equal(t, "x", rc.String("s"))
	assert.Equal(t, "2.5", rc.String("n"))
	assert.Equal(t, "", rc.String("absent"))
	f, err := rc.Float("ns")
	require.NoError(t, err)
	assert.Equal(t, 3.0, f)
	_, err = rc.Float("s")
	assert.Error(t, err)
	assert.True(t, rc.Bool("b", false))
	assert.True(t, rc.Bool("absent", true))
	assert.Equal(t, []string{"a", "1"}, rc.Strings("list"))

	rc.Logf("hello %s", "world")
	rc.LogAt(LevelWarn, "careful")
	rc.SetOutput("k", 1)
	assert.Equal(t, []string{"info:hello world", "warn:careful"}, logs)
	assert.Equal(t, 1, outputs["k"])

	var bare RunContext
	bare.Log("dropped")
	bare.SetOutput("dropped", 1)
}

func TestMetaClone(t *testing.T) {
	m := Meta{"loopindex": 1}
	c := m.Clone()
	c["loopindex"] = 2
	assert.Equal(t, 1, m["loopindex"])
	assert.NotNil(t, Meta(nil).Clone())
}
