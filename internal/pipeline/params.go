package pipeline

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mattjoyce/pipelab/internal/migration"
)

// EditorExpression marks a param whose value is an expression resolved
// just before the block runs.
const EditorExpression = "editor"

// ParamValue is either a raw literal or an editor-wrapped value
// ({"editor": "editor", "value": <expression>}).
type ParamValue struct {
	// Editor is empty for raw values.
	Editor string
	Value  any
}

// Raw wraps a literal that is passed to the runner unchanged.
func Raw(v any) ParamValue {
	return ParamValue{Value: v}
}

// Expr wraps an expression string.
func Expr(expression string) ParamValue {
	return ParamValue{Editor: EditorExpression, Value: expression}
}

// IsExpression reports whether the value must go through the resolver.
func (p ParamValue) IsExpression() bool {
	return p.Editor == EditorExpression
}

// IsEmpty reports whether the param carries no usable value: nil, or an
// expression editor left blank.
func (p ParamValue) IsEmpty() bool {
	if p.Value == nil {
		return true
	}
	if p.IsExpression() {
		if s, ok := p.Value.(string); ok && strings.TrimSpace(s) == "" {
			return true
		}
	}
	return false
}

func (p ParamValue) MarshalJSON() ([]byte, error) {
	if p.Editor == "" {
		return json.Marshal(p.Value)
	}
	return json.Marshal(struct {
		Editor string `json:"editor"`
		Value  any    `json:"value"`
	}{p.Editor, p.Value})
}

func (p *ParamValue) UnmarshalJSON(data []byte) error {
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return fmt.Errorf("param value: %w", err)
	}
	*p = paramFromAny(v)
	return nil
}

// paramFromAny recognises the wrapper by shape: an object holding a string
// "editor" key and, at most, a "value" key.
func paramFromAny(v any) ParamValue {
	m, ok := v.(map[string]any)
	if !ok {
		return ParamValue{Value: v}
	}
	editor, ok := m["editor"].(string)
	if !ok || editor == "" {
		return ParamValue{Value: v}
	}
	for k := range m {
		if k != "editor" && k != "value" {
			return ParamValue{Value: v}
		}
	}
	return ParamValue{Editor: editor, Value: m["value"]}
}

func (p ParamValue) clone() ParamValue {
	return ParamValue{Editor: p.Editor, Value: migration.Clone(p.Value)}
}
