package system

import (
	"context"

	"github.com/mattjoyce/pipelab/internal/plugin"
)

var manualNode = plugin.NodeDefinition{
	ID:          "manual",
	Type:        plugin.KindEvent,
	Name:        "Manual start",
	Description: "Start the pipeline by hand",
	Params:      map[string]plugin.ParamDefinition{},
	Outputs: map[string]plugin.OutputDefinition{
		"payload": {Label: "Payload", Value: map[string]any{}},
	},
}

func handleManual(_ context.Context, rc *plugin.RunContext) error {
	rc.SetOutput("payload", rc.Inputs["payload"])
	return nil
}

var webhookNode = plugin.NodeDefinition{
	ID:          "webhook",
	Type:        plugin.KindEvent,
	Name:        "Webhook",
	Description: "Start the pipeline from a signed HTTP request",
	Params:      map[string]plugin.ParamDefinition{},
	Outputs: map[string]plugin.OutputDefinition{
		"body":    {Label: "Body", Value: nil},
		"headers": {Label: "Headers", Value: map[string]any{}},
	},
}

// handleWebhook exposes the request body and headers. The webhook server
// delivers them as payload.body and payload.headers; any other payload is
// treated as the body itself.
func handleWebhook(_ context.Context, rc *plugin.RunContext) error {
	payload, _ := rc.Inputs["payload"].(map[string]any)
	body, hasBody := payload["body"]
	if !hasBody {
		body = payload
	}
	rc.SetOutput("body", body)
	if headers, ok := payload["headers"]; ok {
		rc.SetOutput("headers", headers)
	}
	rc.Logf("webhook received (%d payload keys)", len(payload))
	return nil
}
