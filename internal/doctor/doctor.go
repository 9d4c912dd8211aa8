// Package doctor checks pipeline documents and settings against the node
// registry before anything runs.
package doctor

import (
	"errors"
	"fmt"
	"os"
	"sort"

	"github.com/mattjoyce/pipelab/internal/config"
	"github.com/mattjoyce/pipelab/internal/expr"
	"github.com/mattjoyce/pipelab/internal/pipeline"
	"github.com/mattjoyce/pipelab/internal/plugin"
)

// Result holds the outcome of a check.
type Result struct {
	Valid    bool    `json:"valid"`
	Errors   []Issue `json:"errors,omitempty"`
	Warnings []Issue `json:"warnings,omitempty"`
}

// Issue describes a single error or warning.
type Issue struct {
	Category string `json:"category"`
	Message  string `json:"message"`
	Field    string `json:"field,omitempty"`
}

func (r *Result) addError(category, field, msg string) {
	r.Errors = append(r.Errors, Issue{Category: category, Field: field, Message: msg})
}

func (r *Result) addWarning(category, field, msg string) {
	r.Warnings = append(r.Warnings, Issue{Category: category, Field: field, Message: msg})
}

func (r *Result) finish() *Result {
	r.Valid = len(r.Errors) == 0
	return r
}

// Merge appends other's issues to r.
func (r *Result) Merge(other *Result) *Result {
	r.Errors = append(r.Errors, other.Errors...)
	r.Warnings = append(r.Warnings, other.Warnings...)
	return r.finish()
}

// Registry is the part of plugin.Registry the checks need.
type Registry interface {
	GetDefinition(pluginID, nodeID string) (*plugin.NodeDefinition, bool)
	Plugin(id string) (plugin.Definition, bool)
}

// CheckDocument reports structural problems, unregistered origins, kind
// mismatches, missing required params, unexpected params and references to
// steps or variables that do not exist.
func CheckDocument(doc *pipeline.Document, reg Registry) *Result {
	r := &Result{}
	if doc == nil {
		r.addError("structure", "", "document is nil")
		return r.finish()
	}

	if err := doc.Validate(); err != nil {
		for _, e := range flatten(err) {
			r.addError("structure", "", e.Error())
		}
	}

	if len(doc.Canvas.Triggers) == 0 {
		r.addWarning("triggers", "canvas.triggers", "no triggers; any start is accepted")
	}
	for i := range doc.Canvas.Triggers {
		t := &doc.Canvas.Triggers[i]
		checkBlock(r, reg, t, fmt.Sprintf("canvas.triggers[%s]", t.UID))
	}

	uids := make(map[string]bool)
	pipeline.Walk(doc.Canvas.Triggers, func(b *pipeline.Block) bool { uids[b.UID] = true; return true })
	pipeline.Walk(doc.Canvas.Blocks, func(b *pipeline.Block) bool { uids[b.UID] = true; return true })
	vars := make(map[string]bool, len(doc.Variables))
	for _, v := range doc.Variables {
		vars[v.ID] = true
	}

	pipeline.Walk(doc.Canvas.Blocks, func(b *pipeline.Block) bool {
		if b.Type == pipeline.BlockComment {
			return true
		}
		field := fmt.Sprintf("block[%s]", b.UID)
		if b.Type == pipeline.BlockEvent {
			r.addWarning("structure", field, "event block in canvas.blocks is ignored; move it to canvas.triggers")
			return true
		}
		checkBlock(r, reg, b, field)
		checkReferences(r, b, field, uids, vars)
		return true
	})
	return r.finish()
}

func checkBlock(r *Result, reg Registry, b *pipeline.Block, field string) {
	def, ok := reg.GetDefinition(b.Origin.PluginID, b.Origin.NodeID)
	if !ok {
		r.addError("registry", field, fmt.Sprintf("node %s:%s is not registered", b.Origin.PluginID, b.Origin.NodeID))
		return
	}
	if err := plugin.CheckKind(b.Type, def.Type); err != nil {
		r.addError("registry", field, err.Error())
		return
	}
	report := plugin.CheckParams(def, b.Params)
	for _, name := range report.Missing {
		r.addError("params", field+".params."+name, fmt.Sprintf("required param %q is missing", name))
	}
	for _, name := range report.Unexpected {
		r.addWarning("params", field+".params."+name, fmt.Sprintf("unexpected param %q", name))
	}
}

func checkReferences(r *Result, b *pipeline.Block, field string, uids, vars map[string]bool) {
	names := make([]string, 0, len(b.Params))
	for name := range b.Params {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		p := b.Params[name]
		text, ok := p.Value.(string)
		if !p.IsExpression() || !ok {
			continue
		}
		for _, ref := range expr.References(text) {
			switch {
			case ref.Kind == expr.RefStep && !uids[ref.UID]:
				r.addWarning("references", field+".params."+name, fmt.Sprintf("%s refers to unknown step %q", ref.Text, ref.UID))
			case ref.Kind == expr.RefVariable && !vars[ref.Name]:
				r.addWarning("references", field+".params."+name, fmt.Sprintf("%s refers to unknown variable %q", ref.Text, ref.Name))
			}
		}
	}
}

// flatten unwraps wrapped and joined errors into their leaves.
func flatten(err error) []error {
	if joined, ok := err.(interface{ Unwrap() []error }); ok {
		var out []error
		for _, e := range joined.Unwrap() {
			out = append(out, flatten(e)...)
		}
		return out
	}
	if inner := errors.Unwrap(err); inner != nil {
		if _, ok := inner.(interface{ Unwrap() []error }); ok {
			return flatten(inner)
		}
	}
	return []error{err}
}

// Pipelines resolves pipeline names. pipeline.Library implements it.
type Pipelines interface {
	Path(name string) (string, error)
}

// CheckConfig reports settings that point at things that do not exist:
// webhook pipelines missing from the library, plugin blocks for plugins
// that were never registered, and unauthenticated API exposure.
func CheckConfig(cfg *config.Config, reg Registry, pipelines Pipelines) *Result {
	r := &Result{}

	if cfg.API.Enabled && cfg.API.Auth.APIKey == "" {
		r.addWarning("api", "api.auth.api_key", "API enabled but no api_key configured")
	}

	if _, err := os.Stat(cfg.PipelinesDir); err != nil {
		r.addWarning("pipelines", "pipelines_dir", fmt.Sprintf("pipelines_dir %q is not readable: %v", cfg.PipelinesDir, err))
	}

	if cfg.Webhooks != nil {
		for i, ep := range cfg.Webhooks.Endpoints {
			field := fmt.Sprintf("webhooks.endpoints[%d].pipeline", i)
			if _, err := pipelines.Path(ep.Pipeline); err != nil {
				r.addError("webhooks", field, fmt.Sprintf("webhook %s: %v", ep.Path, err))
			}
		}
	}

	ids := make([]string, 0, len(cfg.Plugins))
	for id := range cfg.Plugins {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		if !cfg.Plugins[id].IsEnabled() {
			continue
		}
		if _, ok := reg.Plugin(id); !ok {
			r.addError("plugin_refs", "plugins."+id, fmt.Sprintf("plugin %q is configured but not registered", id))
		}
	}
	return r.finish()
}
