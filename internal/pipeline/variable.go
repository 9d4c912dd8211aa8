package pipeline

import (
	"fmt"

	"github.com/mattjoyce/pipelab/internal/migration"
)

// VariableType tags the Variable union.
type VariableType string

const (
	VariableString  VariableType = "string"
	VariableBoolean VariableType = "boolean"
	VariableArray   VariableType = "array"
)

// Variable is a user-declared value referenced from expressions by ID.
// Of is set only for array variables and names the element type.
type Variable struct {
	ID          string       `json:"id"`
	Name        string       `json:"name"`
	Description string       `json:"description"`
	Type        VariableType `json:"type,omitempty"`
	Of          VariableType `json:"of,omitempty"`
	Value       any          `json:"value"`
}

// validate checks the value against the declared type. Untyped variables
// (documents saved before types existed) are accepted as-is.
func (v Variable) validate() error {
	switch v.Type {
	case "":
		return nil
	case VariableString:
		if _, ok := v.Value.(string); !ok && v.Value != nil {
			return fmt.Errorf("value must be a string, got %T", v.Value)
		}
	case VariableBoolean:
		if _, ok := v.Value.(bool); !ok && v.Value != nil {
			return fmt.Errorf("value must be a boolean, got %T", v.Value)
		}
	case VariableArray:
		if v.Of != VariableString && v.Of != VariableBoolean && v.Of != VariableArray {
			return fmt.Errorf("array variable needs of=string|boolean|array, got %q", v.Of)
		}
		if v.Value == nil {
			return nil
		}
		items, ok := v.Value.([]any)
		if !ok {
			return fmt.Errorf("value must be an array, got %T", v.Value)
		}
		for i, item := range items {
			// Nested arrays carry no element type of their own.
			elem := Variable{Type: v.Of, Value: item}
			if v.Of == VariableArray {
				if _, ok := item.([]any); !ok {
					return fmt.Errorf("value[%d]: value must be an array, got %T", i, item)
				}
				continue
			}
			if err := elem.validate(); err != nil {
				return fmt.Errorf("value[%d]: %w", i, err)
			}
		}
	default:
		return fmt.Errorf("unknown variable type %q", v.Type)
	}
	return nil
}

func (v Variable) clone() Variable {
	v.Value = migration.Clone(v.Value)
	return v
}
