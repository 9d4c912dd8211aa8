// Package system provides the built-in "system" plugin: logging, waiting,
// branching, looping, dialogs and the manual and webhook start triggers.
package system

import (
	"github.com/mattjoyce/pipelab/internal/plugin"
)

// PluginID is the id the system nodes register under.
const PluginID = "system"

// Definition returns the system plugin bundle.
func Definition() plugin.Definition {
	return plugin.Definition{
		ID:          PluginID,
		Name:        "System",
		Description: "Core nodes shipped with pipelab",
		Nodes: []plugin.Node{
			{Node: logNode, Runner: plugin.ActionFunc(runLog)},
			{Node: sleepNode, Runner: plugin.ActionFunc(runSleep)},
			{Node: alertNode, Runner: plugin.ActionFunc(runAlert)},
			{Node: promptNode, Runner: plugin.ActionFunc(runPrompt)},
			{Node: branchNode, Runner: plugin.ConditionFunc(evaluateBranch)},
			{Node: forNode, Runner: plugin.LoopFunc(nextForIteration)},
			{Node: joinNode, Runner: plugin.ExpressionFunc(evaluateJoin)},
			{Node: manualNode, Runner: plugin.EventFunc(handleManual)},
			{Node: webhookNode, Runner: plugin.EventFunc(handleWebhook)},
		},
	}
}

func textParam(label string, value any) plugin.ParamDefinition {
	return plugin.ParamDefinition{
		Label:   label,
		Value:   value,
		Control: plugin.Control{Type: "input", Options: map[string]any{"kind": "text"}},
	}
}
