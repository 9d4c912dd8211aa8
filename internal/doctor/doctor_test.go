package doctor

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/mattjoyce/pipelab/internal/config"
	"github.com/mattjoyce/pipelab/internal/log"
	"github.com/mattjoyce/pipelab/internal/nodes/system"
	"github.com/mattjoyce/pipelab/internal/pipeline"
	"github.com/mattjoyce/pipelab/internal/plugin"
)

func TestMain(m *testing.M) {
	log.Setup("ERROR", "json")
	os.Exit(m.Run())
}

func registry() *plugin.Registry {
	reg := plugin.NewRegistry()
	reg.MustRegister(system.Definition())
	return reg
}

func hasIssue(issues []Issue, category, substr string) bool {
	for _, i := range issues {
		if i.Category == category && strings.Contains(i.Message, substr) {
			return true
		}
	}
	return false
}

func TestPresetsAreHealthy(t *testing.T) {
	for _, name := range pipeline.PresetNames() {
		doc, err := pipeline.Preset(name)
		if err != nil {
			t.Fatal(err)
		}
		r := CheckDocument(doc, registry())
		if !r.Valid || len(r.Warnings) > 0 {
			t.Errorf("preset %s: errors %+v warnings %+v", name, r.Errors, r.Warnings)
		}
	}
}

func TestCheckDocumentFindsProblems(t *testing.T) {
	doc := &pipeline.Document{
		Version:   pipeline.CurrentVersion,
		Name:      "broken",
		Variables: []pipeline.Variable{{ID: "known", Type: pipeline.VariableString, Value: "x"}},
		Canvas: pipeline.Canvas{
			Blocks: []pipeline.Block{
				{
					Type:   pipeline.BlockAction,
					UID:    "a",
					Origin: pipeline.Origin{PluginID: "system", NodeID: "log"},
					Params: map[string]pipeline.ParamValue{
						"message": pipeline.Expr("steps['ghost']['outputs']['x'] + variables['nope'] + variables['known']"),
						"colour":  pipeline.Raw("red"),
					},
				},
				{
					Type:   pipeline.BlockAction,
					UID:    "b",
					Origin: pipeline.Origin{PluginID: "system", NodeID: "log"},
					Params: map[string]pipeline.ParamValue{},
				},
				{
					Type:   pipeline.BlockLoop,
					UID:    "c",
					Origin: pipeline.Origin{PluginID: "system", NodeID: "log"},
				},
				{
					Type:   pipeline.BlockAction,
					UID:    "d",
					Origin: pipeline.Origin{PluginID: "nowhere", NodeID: "x"},
				},
				{Type: pipeline.BlockComment, UID: "note", Comment: "fine"},
			},
		},
	}

	r := CheckDocument(doc, registry())
	if r.Valid {
		t.Fatal("expected invalid result")
	}
	for _, want := range []struct{ category, substr string }{
		{"params", `required param "message" is missing`},
		{"registry", "loop block cannot run a action node"},
		{"registry", "nowhere:x is not registered"},
	} {
		if !hasIssue(r.Errors, want.category, want.substr) {
			t.Errorf("missing error %s %q in %+v", want.category, want.substr, r.Errors)
		}
	}
	for _, want := range []struct{ category, substr string }{
		{"params", `unexpected param "colour"`},
		{"references", `unknown step "ghost"`},
		{"references", `unknown variable "nope"`},
		{"triggers", "no triggers"},
	} {
		if !hasIssue(r.Warnings, want.category, want.substr) {
			t.Errorf("missing warning %s %q in %+v", want.category, want.substr, r.Warnings)
		}
	}
	if hasIssue(r.Warnings, "references", `"known"`) {
		t.Error("declared variable reported as unknown")
	}
}

func TestCheckDocumentStructure(t *testing.T) {
	doc := &pipeline.Document{
		Version: pipeline.CurrentVersion,
		Canvas: pipeline.Canvas{
			Triggers: []pipeline.Block{{Type: pipeline.BlockEvent, UID: "x", Origin: pipeline.Origin{PluginID: "system", NodeID: "manual"}}},
			Blocks: []pipeline.Block{
				{Type: pipeline.BlockAction, UID: "x", Origin: pipeline.Origin{PluginID: "system", NodeID: "log"},
					Params: map[string]pipeline.ParamValue{"message": pipeline.Expr(`"hi"`)}},
			},
		},
	}
	r := CheckDocument(doc, registry())
	if !hasIssue(r.Errors, "structure", `duplicate uid "x"`) {
		t.Fatalf("errors = %+v", r.Errors)
	}
	if len(r.Errors) != 1 {
		t.Fatalf("joined validation errors should be split, got %+v", r.Errors)
	}
}

func TestCheckDocumentNil(t *testing.T) {
	if CheckDocument(nil, registry()).Valid {
		t.Fatal("nil document must be invalid")
	}
}

func TestCheckConfig(t *testing.T) {
	dir := t.TempDir()
	lib := pipeline.Library{Dir: dir}
	doc, _ := pipeline.Preset("blank")
	if err := pipeline.SaveFile(filepath.Join(dir, "deploy.yaml"), doc); err != nil {
		t.Fatal(err)
	}

	off := false
	cfg := config.Defaults()
	cfg.PipelinesDir = dir
	cfg.API.Enabled = true
	cfg.Plugins = map[string]config.PluginConf{
		"system":  {},
		"missing": {},
		"ignored": {Enabled: &off},
	}
	cfg.Webhooks = &config.WebhooksConfig{
		Listen: ":8081",
		Endpoints: []config.WebhookEndpoint{
			{Path: "/ok", Pipeline: "deploy", Secret: "s"},
			{Path: "/bad", Pipeline: "ghost", Secret: "s"},
		},
	}

	r := CheckConfig(cfg, registry(), lib)
	if r.Valid {
		t.Fatal("expected errors")
	}
	if len(r.Errors) != 2 {
		t.Fatalf("errors = %+v", r.Errors)
	}
	if !hasIssue(r.Errors, "webhooks", "/bad") || !hasIssue(r.Errors, "plugin_refs", `"missing"`) {
		t.Fatalf("errors = %+v", r.Errors)
	}
	if !hasIssue(r.Warnings, "api", "no api_key") {
		t.Fatalf("warnings = %+v", r.Warnings)
	}

	merged := (&Result{}).Merge(r)
	if merged.Valid || len(merged.Errors) != 2 {
		t.Fatalf("Merge = %+v", merged)
	}
}
