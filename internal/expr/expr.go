// Package expr resolves parameter expressions against the run so far.
//
// The canonical reference forms are
//
//	steps['<uid>']['outputs']['<name>']
//	variables['<id>']   (or variables.<id>)
//
// Anything around references is evaluated as a literal expression: strings,
// numbers, booleans, null, lists, objects, comparisons, arithmetic, logic and
// the ternary operator. No functions are available. Text containing
// {{ ... }} is treated as a template whose placeholders are resolved and
// interpolated.
package expr

import (
	"errors"
	"fmt"
	"strings"

	"github.com/mattjoyce/pipelab/internal/pipeline"
)

// ErrInvalidExpression wraps syntax and evaluation failures.
var ErrInvalidExpression = errors.New("invalid expression")

// OutputSource exposes completed step outputs.
type OutputSource interface {
	Output(uid, name string) (any, bool)
}

// Outputs is a plain OutputSource keyed by uid then output name.
type Outputs map[string]map[string]any

// Output implements OutputSource.
func (o Outputs) Output(uid, name string) (any, bool) {
	step, ok := o[uid]
	if !ok {
		return nil, false
	}
	v, ok := step[name]
	return v, ok
}

// Scope is what an expression can see.
type Scope struct {
	Steps     OutputSource
	Variables map[string]any
}

// Missing is the value of an expression whose reference cannot be resolved
// yet: the step has not run, or the output or variable does not exist.
type Missing struct {
	Reference string
}

func (m Missing) String() string {
	return "<missing " + m.Reference + ">"
}

// IsMissing reports whether v is the Missing sentinel.
func IsMissing(v any) bool {
	_, ok := v.(Missing)
	return ok
}

// Resolve evaluates expression in scope. Unresolvable references yield
// Missing rather than an error. An empty expression yields nil.
func Resolve(expression string, scope Scope) (any, error) {
	trimmed := strings.TrimSpace(expression)
	if trimmed == "" {
		return nil, nil
	}
	if strings.Contains(trimmed, "{{") {
		return resolveTemplate(expression, scope)
	}

	// A lone reference keeps its Go value untouched.
	if ref, n, ok := matchReference(trimmed); ok && n == len(trimmed) {
		return lookup(ref, scope), nil
	}

	src, refs, err := translate(trimmed)
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %v", ErrInvalidExpression, expression, err)
	}
	values := make(map[string]any, len(refs))
	for name, ref := range refs {
		v := lookup(ref, scope)
		if m, ok := v.(Missing); ok {
			return m, nil
		}
		values[name] = v
	}
	out, err := evaluate(src, values)
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %v", ErrInvalidExpression, expression, err)
	}
	return out, nil
}

// ResolveParam resolves a block parameter. Raw values and non-string
// expression values pass through unchanged.
func ResolveParam(v pipeline.ParamValue, scope Scope) (any, error) {
	if !v.IsExpression() {
		return v.Value, nil
	}
	s, ok := v.Value.(string)
	if !ok {
		return v.Value, nil
	}
	return Resolve(s, scope)
}

func lookup(ref Reference, scope Scope) any {
	switch ref.Kind {
	case RefStep:
		if scope.Steps != nil {
			if v, ok := scope.Steps.Output(ref.UID, ref.Name); ok {
				return v
			}
		}
	case RefVariable:
		if v, ok := scope.Variables[ref.Name]; ok {
			return v
		}
	}
	return Missing{Reference: ref.Text}
}

// resolveTemplate interpolates every {{ inner }} placeholder. A template that
// is a single placeholder keeps the placeholder's value type.
func resolveTemplate(tmpl string, scope Scope) (any, error) {
	trimmed := strings.TrimSpace(tmpl)
	if strings.HasPrefix(trimmed, "{{") && strings.HasSuffix(trimmed, "}}") &&
		strings.Count(trimmed, "{{") == 1 {
		return Resolve(trimmed[2:len(trimmed)-2], scope)
	}

	var b strings.Builder
	rest := tmpl
	for {
		start := strings.Index(rest, "{{")
		if start < 0 {
			b.WriteString(rest)
			break
		}
		end := strings.Index(rest[start:], "}}")
		if end < 0 {
			return nil, fmt.Errorf("%w: %q: unterminated {{", ErrInvalidExpression, tmpl)
		}
		b.WriteString(rest[:start])
		v, err := Resolve(rest[start+2:start+end], scope)
		if err != nil {
			return nil, err
		}
		if IsMissing(v) {
			return v, nil
		}
		b.WriteString(Stringify(v))
		rest = rest[start+end+2:]
	}
	return b.String(), nil
}
