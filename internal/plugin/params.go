package plugin

import (
	"fmt"
	"sort"
	"strings"

	"github.com/mattjoyce/pipelab/internal/pipeline"
)

// IsRequired reports whether a param must be supplied. An omitted required
// key counts as required.
func IsRequired(p ParamDefinition) bool {
	return p.Required == nil || *p.Required
}

// MissingParamError lists required params a block leaves empty.
type MissingParamError struct {
	Node   string
	Params []string
}

func (e *MissingParamError) Error() string {
	return fmt.Sprintf("node %s: missing required param(s): %s", e.Node, strings.Join(e.Params, ", "))
}

// ParamReport is the outcome of CheckParams.
type ParamReport struct {
	Missing    []string
	Unexpected []string
}

// Err returns a *MissingParamError when any required param is missing.
func (r ParamReport) Err(node string) error {
	if len(r.Missing) == 0 {
		return nil
	}
	return &MissingParamError{Node: node, Params: r.Missing}
}

// CheckParams compares a block's params against its node definition. A
// required param is missing when its key is absent, its value is nil, or it
// is an empty expression. Unexpected keys are reported but are not errors.
func CheckParams(def *NodeDefinition, params map[string]pipeline.ParamValue) ParamReport {
	var report ParamReport
	for name, pd := range def.Params {
		if !IsRequired(pd) {
			continue
		}
		v, ok := params[name]
		if !ok || v.IsEmpty() {
			report.Missing = append(report.Missing, name)
		}
	}
	for name := range params {
		if _, ok := def.Params[name]; !ok {
			report.Unexpected = append(report.Unexpected, name)
		}
	}
	sort.Strings(report.Missing)
	sort.Strings(report.Unexpected)
	return report
}

// ParamDefaults returns the default value of every declared param.
func (d *NodeDefinition) ParamDefaults() map[string]any {
	out := make(map[string]any, len(d.Params))
	for name, p := range d.Params {
		out[name] = p.Value
	}
	return out
}

// Optional marks a ParamDefinition as not required.
func Optional() *bool {
	f := false
	return &f
}

// CheckKind reports whether a block of type block can run a node of kind.
// Action blocks also host expression nodes.
func CheckKind(block pipeline.BlockType, kind NodeKind) error {
	ok := false
	switch block {
	case pipeline.BlockAction:
		ok = kind == KindAction || kind == KindExpression
	case pipeline.BlockCondition:
		ok = kind == KindCondition
	case pipeline.BlockLoop:
		ok = kind == KindLoop
	case pipeline.BlockEvent:
		ok = kind == KindEvent
	}
	if !ok {
		return fmt.Errorf("%s block cannot run a %s node", block, kind)
	}
	return nil
}
