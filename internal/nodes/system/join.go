package system

import (
	"context"
	"strings"

	"github.com/mattjoyce/pipelab/internal/plugin"
)

const defaultSeparator = ", "

var joinNode = plugin.NodeDefinition{
	ID:          "join",
	Type:        plugin.KindExpression,
	Name:        "Join",
	Description: "Join values into one string",
	Params: map[string]plugin.ParamDefinition{
		"input": textParam("Input", []any{}),
		"separator": {
			Label:    "Separator",
			Value:    defaultSeparator,
			Control:  plugin.Control{Type: "input", Options: map[string]any{"kind": "text"}},
			Required: plugin.Optional(),
		},
	},
	Outputs: map[string]plugin.OutputDefinition{
		"result": {Label: "Value", Value: ""},
	},
}

func evaluateJoin(_ context.Context, rc *plugin.RunContext) (string, error) {
	sep := defaultSeparator
	if _, ok := rc.Inputs["separator"].(string); ok {
		sep = rc.String("separator")
	}
	return strings.Join(rc.Strings("input"), sep), nil
}
