package system

import (
	"context"
	"fmt"
	"strings"

	"github.com/mattjoyce/pipelab/internal/expr"
	"github.com/mattjoyce/pipelab/internal/plugin"
)

var operators = []string{"=", "!=", "<", "<=", ">", ">="}

var branchNode = plugin.NodeDefinition{
	ID:          "branch",
	Type:        plugin.KindCondition,
	Name:        "Branch",
	Description: "Compare two values",
	Params: map[string]plugin.ParamDefinition{
		"valueA": textParam("First value", ""),
		"operator": {
			Label:   "Comparison",
			Value:   "=",
			Control: plugin.Control{Type: "select", Options: map[string]any{"options": operators}},
		},
		"valueB": textParam("Second value", ""),
	},
}

func evaluateBranch(_ context.Context, rc *plugin.RunContext) (bool, error) {
	op := strings.TrimSpace(rc.String("operator"))
	result, err := Compare(rc.Inputs["valueA"], op, rc.Inputs["valueB"])
	if err != nil {
		return false, err
	}
	rc.Logf("%s %s %s is %t", expr.Stringify(rc.Inputs["valueA"]), op, expr.Stringify(rc.Inputs["valueB"]), result)
	return result, nil
}

// Compare applies op to a and b. Two numeric operands compare as numbers,
// anything else compares by its string form.
func Compare(a any, op string, b any) (bool, error) {
	var c int
	fa, errA := plugin.ToFloat(a)
	fb, errB := plugin.ToFloat(b)
	if errA == nil && errB == nil {
		switch {
		case fa < fb:
			c = -1
		case fa > fb:
			c = 1
		}
	} else {
		c = strings.Compare(expr.Stringify(a), expr.Stringify(b))
	}

	switch op {
	case "=", "==":
		return c == 0, nil
	case "!=":
		return c != 0, nil
	case "<":
		return c < 0, nil
	case "<=":
		return c <= 0, nil
	case ">":
		return c > 0, nil
	case ">=":
		return c >= 0, nil
	}
	return false, fmt.Errorf("unknown operator %q (valid: %s)", op, strings.Join(operators, " "))
}
