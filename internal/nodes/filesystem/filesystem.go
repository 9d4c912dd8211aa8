// Package filesystem provides the built-in "filesystem" plugin: copying,
// removing, archiving and listing files, and running external commands.
package filesystem

import (
	"fmt"
	"path/filepath"

	"github.com/mattjoyce/pipelab/internal/plugin"
)

// PluginID is the id the filesystem nodes register under.
const PluginID = "filesystem"

// Definition returns the filesystem plugin bundle.
func Definition() plugin.Definition {
	return plugin.Definition{
		ID:          PluginID,
		Name:        "Filesystem",
		Description: "Files, folders, archives and processes",
		Nodes: []plugin.Node{
			{Node: copyNode, Runner: plugin.ActionFunc(runCopy)},
			{Node: removeNode, Runner: plugin.ActionFunc(runRemove)},
			{Node: zipNode, Runner: plugin.ActionFunc(runZip)},
			{Node: unzipNode, Runner: plugin.ActionFunc(runUnzip)},
			{Node: runNode, Runner: plugin.ActionFunc(runCommand)},
			{Node: listNode, Runner: plugin.ActionFunc(runList)},
			{Node: isFileNode, Runner: plugin.ConditionFunc(evaluateIsFile)},
		},
	}
}

func pathParam(label string) plugin.ParamDefinition {
	return plugin.ParamDefinition{Label: label, Value: "", Control: plugin.Control{Type: "path"}}
}

func boolParam(label string, value bool) plugin.ParamDefinition {
	return plugin.ParamDefinition{
		Label:    label,
		Value:    value,
		Control:  plugin.Control{Type: "boolean"},
		Required: plugin.Optional(),
	}
}

// resolvePath returns input key as a path. Relative paths are taken from the
// step's working directory.
func resolvePath(rc *plugin.RunContext, key string) (string, error) {
	p := rc.String(key)
	if p == "" {
		return "", fmt.Errorf("%s: path is required", key)
	}
	if !filepath.IsAbs(p) && rc.Cwd != "" {
		p = filepath.Join(rc.Cwd, p)
	}
	return filepath.Clean(p), nil
}
