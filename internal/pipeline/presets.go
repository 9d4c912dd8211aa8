package pipeline

import (
	"fmt"
	"sort"

	"github.com/google/uuid"
)

var manualTrigger = Origin{PluginID: "system", NodeID: "manual"}

// PresetFunc builds a fresh document. Each call generates new uids.
type PresetFunc func() *Document

var presets = map[string]PresetFunc{
	"blank": blankPreset,
	"if":    ifPreset,
	"loop":  loopPreset,
	"demo":  demoPreset,
}

// PresetNames lists the available presets, sorted.
func PresetNames() []string {
	names := make([]string, 0, len(presets))
	for name := range presets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Preset builds the named preset document.
func Preset(name string) (*Document, error) {
	fn, ok := presets[name]
	if !ok {
		return nil, fmt.Errorf("unknown preset %q", name)
	}
	return fn(), nil
}

func newDocument(name, description string, blocks ...Block) *Document {
	return &Document{
		Version:     CurrentVersion,
		Name:        name,
		Description: description,
		Variables:   []Variable{},
		Canvas: Canvas{
			Triggers: []Block{{
				Type:   BlockEvent,
				UID:    "manual-start",
				Origin: manualTrigger,
				Params: map[string]ParamValue{},
			}},
			Blocks: blocks,
		},
	}
}

func logBlock(message string) Block {
	return Block{
		Type:   BlockAction,
		UID:    uuid.NewString(),
		Origin: Origin{PluginID: "system", NodeID: "log"},
		Params: map[string]ParamValue{"message": Expr(message)},
	}
}

func blankPreset() *Document {
	return newDocument("New pipeline", "")
}

func ifPreset() *Document {
	return newDocument("If", "Branch on a comparison", Block{
		Type:   BlockCondition,
		UID:    uuid.NewString(),
		Origin: Origin{PluginID: "system", NodeID: "branch"},
		Params: map[string]ParamValue{
			"valueA":   Expr("1"),
			"operator": Raw("<"),
			"valueB":   Expr("2"),
		},
		BranchTrue:  []Block{logBlock(`"1 is lower than 2"`)},
		BranchFalse: []Block{logBlock(`"1 is not lower than 2"`)},
	})
}

func loopPreset() *Document {
	loopUID := uuid.NewString()
	return newDocument("Loop", "Log every element of a list", Block{
		Type:   BlockLoop,
		UID:    loopUID,
		Origin: Origin{PluginID: "system", NodeID: "for"},
		Params: map[string]ParamValue{
			"value": Expr(`["a", "b", "c"]`),
		},
		Children: []Block{logBlock(fmt.Sprintf("steps['%s']['outputs']['item']", loopUID))},
	})
}

func demoPreset() *Document {
	doc := newDocument("Demo", "Wait, then log a variable",
		Block{
			Type:    BlockComment,
			UID:     uuid.NewString(),
			Comment: "Edit the greeting variable to change the message",
		},
		Block{
			Type:   BlockAction,
			UID:    uuid.NewString(),
			Origin: Origin{PluginID: "system", NodeID: "sleep"},
			Params: map[string]ParamValue{"duration": Expr("500")},
		},
		logBlock("variables['greeting']"),
	)
	doc.Variables = []Variable{{
		ID:          "greeting",
		Name:        "Greeting",
		Description: "Message printed by the demo",
		Type:        VariableString,
		Value:       "Hello from pipelab",
	}}
	return doc
}
