package system

import (
	"context"
	"fmt"

	"github.com/mattjoyce/pipelab/internal/plugin"
)

var forNode = plugin.NodeDefinition{
	ID:          "for",
	Type:        plugin.KindLoop,
	Name:        "For",
	Description: "Run the children once for every element of a list",
	Params: map[string]plugin.ParamDefinition{
		"value": {
			Label:   "Value",
			Value:   []any{},
			Control: plugin.Control{Type: "expression"},
		},
	},
	Outputs: map[string]plugin.OutputDefinition{
		"item":  {Label: "Item", Value: nil},
		"index": {Label: "Index", Value: 0},
	},
}

const loopIndexKey = "loopindex"

func nextForIteration(_ context.Context, rc *plugin.RunContext) (plugin.LoopDecision, plugin.Meta, error) {
	items, err := list(rc.Inputs["value"])
	if err != nil {
		return "", nil, err
	}
	index := 0
	if v, ok := rc.Meta[loopIndexKey]; ok {
		f, err := plugin.ToFloat(v)
		if err != nil {
			return "", nil, fmt.Errorf("loop meta: %w", err)
		}
		index = int(f)
	}
	if index >= len(items) {
		return plugin.LoopExit, nil, nil
	}

	rc.LogAt(plugin.LevelDebug, fmt.Sprintf("iteration %d of %d", index+1, len(items)))
	rc.SetOutput("item", items[index])
	rc.SetOutput("index", index)
	meta := rc.Meta.Clone()
	meta[loopIndexKey] = index + 1
	return plugin.LoopStep, meta, nil
}

func list(v any) ([]any, error) {
	switch t := v.(type) {
	case nil:
		return nil, nil
	case []any:
		return t, nil
	case []string:
		out := make([]any, len(t))
		for i, s := range t {
			out[i] = s
		}
		return out, nil
	}
	return nil, fmt.Errorf("value must be a list, got %T", v)
}
