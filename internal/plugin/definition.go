package plugin

import (
	"fmt"

	"github.com/mattjoyce/pipelab/internal/migration"
)

// NodeKind is the execution contract a node implements.
type NodeKind string

const (
	KindAction     NodeKind = "action"
	KindCondition  NodeKind = "condition"
	KindLoop       NodeKind = "loop"
	KindExpression NodeKind = "expression"
	KindEvent      NodeKind = "event"
)

func (k NodeKind) valid() bool {
	switch k {
	case KindAction, KindCondition, KindLoop, KindExpression, KindEvent:
		return true
	}
	return false
}

// HasOutputs reports whether nodes of this kind declare outputs.
func (k NodeKind) HasOutputs() bool {
	return k == KindAction || k == KindLoop || k == KindExpression || k == KindEvent
}

// Control describes the editor widget for a param. Only Type matters to the
// engine: it hints at the primitive shape of the value.
type Control struct {
	Type    string         `json:"type" yaml:"type"`
	Options map[string]any `json:"options,omitempty" yaml:"options,omitempty"`
}

// ParamDefinition declares one input of a node.
type ParamDefinition struct {
	Label       string  `json:"label" yaml:"label"`
	Description string  `json:"description,omitempty" yaml:"description,omitempty"`
	Value       any     `json:"value" yaml:"value"`
	Control     Control `json:"control" yaml:"control"`
	// Required is nil when the definition omits the key, which counts as
	// required. Only an explicit false makes a param optional.
	Required *bool `json:"required,omitempty" yaml:"required,omitempty"`
}

// OutputDefinition declares one output of a node and its default value.
type OutputDefinition struct {
	Label       string `json:"label" yaml:"label"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
	Value       any    `json:"value" yaml:"value"`
}

// NodeDefinition is the static description of a node.
type NodeDefinition struct {
	ID          string                      `json:"id" yaml:"id"`
	Type        NodeKind                    `json:"type" yaml:"type"`
	Name        string                      `json:"name" yaml:"name"`
	Description string                      `json:"description,omitempty" yaml:"description,omitempty"`
	Icon        string                      `json:"icon,omitempty" yaml:"icon,omitempty"`
	Params      map[string]ParamDefinition  `json:"params" yaml:"params"`
	Outputs     map[string]OutputDefinition `json:"outputs,omitempty" yaml:"outputs,omitempty"`
}

// OutputDefaults returns the declared default of every output.
func (d *NodeDefinition) OutputDefaults() map[string]any {
	out := make(map[string]any, len(d.Outputs))
	for name, o := range d.Outputs {
		out[name] = o.Value
	}
	return out
}

// Clone returns a copy that shares no maps or default values with d.
func (d NodeDefinition) Clone() NodeDefinition {
	if d.Params != nil {
		params := make(map[string]ParamDefinition, len(d.Params))
		for name, p := range d.Params {
			p.Value = migration.Clone(p.Value)
			if p.Control.Options != nil {
				p.Control.Options, _ = migration.Clone(p.Control.Options).(map[string]any)
			}
			if p.Required != nil {
				req := *p.Required
				p.Required = &req
			}
			params[name] = p
		}
		d.Params = params
	}
	if d.Outputs != nil {
		outputs := make(map[string]OutputDefinition, len(d.Outputs))
		for name, o := range d.Outputs {
			o.Value = migration.Clone(o.Value)
			outputs[name] = o
		}
		d.Outputs = outputs
	}
	return d
}

func (d *NodeDefinition) validate() error {
	if d.ID == "" {
		return fmt.Errorf("node id is required")
	}
	if !d.Type.valid() {
		return fmt.Errorf("node %q: invalid type %q", d.ID, d.Type)
	}
	if len(d.Outputs) > 0 && !d.Type.HasOutputs() {
		return fmt.Errorf("node %q: %s nodes cannot declare outputs", d.ID, d.Type)
	}
	return nil
}

// Node pairs a definition with the runner that executes it.
type Node struct {
	Node   NodeDefinition
	Runner Runner
}

// Definition is the bundle a plugin registers.
type Definition struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Icon        string `json:"icon,omitempty"`
	Nodes       []Node `json:"-"`
}
