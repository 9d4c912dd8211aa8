package system

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/mattjoyce/pipelab/internal/expr"
	"github.com/mattjoyce/pipelab/internal/platform"
	"github.com/mattjoyce/pipelab/internal/plugin"
)

var logNode = plugin.NodeDefinition{
	ID:          "log",
	Type:        plugin.KindAction,
	Name:        "Log",
	Description: "Write a message to the step log",
	Params:      map[string]plugin.ParamDefinition{"message": textParam("Message", "")},
}

func runLog(_ context.Context, rc *plugin.RunContext) error {
	rc.Log(expr.Stringify(rc.Inputs["message"]))
	return nil
}

var sleepNode = plugin.NodeDefinition{
	ID:          "sleep",
	Type:        plugin.KindAction,
	Name:        "Wait",
	Description: "Wait for a given time in milliseconds",
	Params: map[string]plugin.ParamDefinition{
		"duration": {
			Label:   "Duration",
			Value:   2000,
			Control: plugin.Control{Type: "input", Options: map[string]any{"kind": "number"}},
		},
	},
}

func runSleep(ctx context.Context, rc *plugin.RunContext) error {
	ms, err := rc.Float("duration")
	if err != nil {
		return fmt.Errorf("duration: %w", err)
	}
	if ms < 0 {
		return fmt.Errorf("duration must not be negative, got %v", ms)
	}
	t := time.NewTimer(time.Duration(ms * float64(time.Millisecond)))
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

var answerOutput = map[string]plugin.OutputDefinition{
	"answer": {Label: "Answer", Value: ""},
}

var alertNode = plugin.NodeDefinition{
	ID:          "alert",
	Type:        plugin.KindAction,
	Name:        "Alert",
	Description: "Show a message to the user",
	Params:      map[string]plugin.ParamDefinition{"message": textParam("Message", "")},
	Outputs:     answerOutput,
}

func runAlert(ctx context.Context, rc *plugin.RunContext) error {
	answer, err := dialog(ctx, rc, platform.ChannelAlert, map[string]any{
		"message": expr.Stringify(rc.Inputs["message"]),
	})
	if err != nil {
		return err
	}
	rc.SetOutput("answer", answer)
	return nil
}

var promptNode = plugin.NodeDefinition{
	ID:          "prompt",
	Type:        plugin.KindAction,
	Name:        "Prompt",
	Description: "Ask the user for a value",
	Params: map[string]plugin.ParamDefinition{
		"message": textParam("Message", ""),
		"default": {
			Label:    "Default answer",
			Value:    "",
			Control:  plugin.Control{Type: "input", Options: map[string]any{"kind": "text"}},
			Required: plugin.Optional(),
		},
	},
	Outputs: answerOutput,
}

func runPrompt(ctx context.Context, rc *plugin.RunContext) error {
	answer, err := dialog(ctx, rc, platform.ChannelPrompt, map[string]any{
		"message": expr.Stringify(rc.Inputs["message"]),
		"default": rc.String("default"),
	})
	if err != nil {
		return err
	}
	rc.Logf("answer: %s", answer)
	rc.SetOutput("answer", answer)
	return nil
}

// dialog sends a request on channel and extracts the answer, which hosts
// return either bare or as {"answer": ...}.
func dialog(ctx context.Context, rc *plugin.RunContext, channel string, payload map[string]any) (string, error) {
	if rc.API == nil {
		return "", errors.New("no platform services available")
	}
	resp := rc.API.Execute(ctx, channel, payload)
	if err := resp.Err(); err != nil {
		return "", err
	}
	if m, ok := resp.Result.(map[string]any); ok {
		return expr.Stringify(m["answer"]), nil
	}
	return expr.Stringify(resp.Result), nil
}
