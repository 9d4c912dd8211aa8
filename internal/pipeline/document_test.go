package pipeline

import (
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"
)

const v3Doc = `{
  "version": "3.0.0",
  "name": "echo",
  "description": "",
  "variables": [{"id": "who", "name": "Who", "description": "", "type": "string", "value": "world"}],
  "canvas": {
    "triggers": [{"type": "event", "uid": "start", "origin": {"pluginId": "system", "nodeId": "manual"}, "params": {}}],
    "blocks": [
      {"type": "action", "uid": "a", "origin": {"pluginId": "test", "nodeId": "echo"},
        "params": {"message": {"editor": "editor", "value": "\"hi\""}, "count": 3}}
    ]
  }
}`

func TestParseJSON(t *testing.T) {
	doc, err := Parse([]byte(v3Doc), FormatJSON)
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if doc.Name != "echo" || len(doc.Canvas.Blocks) != 1 {
		t.Fatalf("unexpected document: %+v", doc)
	}

	p := doc.Canvas.Blocks[0].Params["message"]
	if !p.IsExpression() || p.Value != `"hi"` {
		t.Fatalf("message param = %+v, want expression", p)
	}
	raw := doc.Canvas.Blocks[0].Params["count"]
	if raw.IsExpression() || raw.Value != float64(3) {
		t.Fatalf("count param = %+v, want raw 3", raw)
	}
	if got := doc.VariableValues()["who"]; got != "world" {
		t.Fatalf("variable who = %v", got)
	}
}

func TestParseYAMLMigratesOldDocuments(t *testing.T) {
	src := `
version: "1.0.0"
name: from-yaml
description: legacy
variables: []
canvas:
  blocks:
    - type: event
      uid: start
      origin: {pluginId: system, nodeId: manual}
      params: {}
    - type: action
      uid: wait
      origin: {pluginId: system, nodeId: sleep}
      params:
        duration: 10
`
	doc, err := Parse([]byte(src), FormatYAML)
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if doc.Version != CurrentVersion {
		t.Fatalf("version = %s, want %s", doc.Version, CurrentVersion)
	}
	if len(doc.Canvas.Triggers) != 1 || doc.Canvas.Triggers[0].UID != "start" {
		t.Fatalf("triggers = %+v", doc.Canvas.Triggers)
	}
	p := doc.Canvas.Blocks[0].Params["duration"]
	if !p.IsExpression() || p.Value != float64(10) {
		t.Fatalf("duration = %+v, want wrapped 10", p)
	}
}

func TestValidateReportsAllProblems(t *testing.T) {
	doc := &Document{
		Version: CurrentVersion,
		Variables: []Variable{
			{ID: "v", Type: VariableBoolean, Value: "not a bool"},
			{ID: "v", Type: VariableString, Value: "x"},
			{ID: "list", Type: VariableArray, Value: []any{"a"}},
		},
		Canvas: Canvas{
			Triggers: []Block{{Type: BlockAction, UID: "t", Origin: Origin{"p", "n"}}},
			Blocks: []Block{
				{Type: BlockAction, UID: "dup", Origin: Origin{"p", "n"}},
				{Type: BlockCondition, UID: "c", Origin: Origin{"p", "n"},
					BranchTrue: []Block{{Type: BlockAction, UID: "dup", Origin: Origin{"p", "n"}}}},
				{Type: "mystery", UID: "m"},
				{Type: BlockAction, UID: "noorigin"},
				{Type: BlockAction, UID: "kids", Origin: Origin{"p", "n"}, Children: []Block{{Type: BlockComment, UID: "x"}}},
			},
		},
	}

	err := doc.Validate()
	if err == nil {
		t.Fatal("expected validation error")
	}
	for _, want := range []string{
		"value must be a boolean",
		`duplicate id "v"`,
		"array variable needs of",
		"trigger must be an event block",
		`duplicate uid "dup"`,
		`unknown block type "mystery"`,
		"origin pluginId and nodeId are required",
		"cannot have nested blocks",
	} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error missing %q:\n%v", want, err)
		}
	}
}

func TestValidateNestedArrayVariables(t *testing.T) {
	src := `{
  "version": "3.0.0", "name": "nested", "description": "",
  "variables": [{"id": "m", "name": "M", "description": "", "type": "array", "of": "array", "value": [["a"], ["b", true]]}],
  "canvas": {"triggers": [], "blocks": []}
}`
	doc, err := Parse([]byte(src), FormatJSON)
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if got := doc.VariableValues()["m"]; len(got.([]any)) != 2 {
		t.Fatalf("variable m = %v", got)
	}

	doc.Variables[0].Value = []any{[]any{"a"}, "flat"}
	err = doc.Validate()
	if err == nil || !strings.Contains(err.Error(), "value[1]: value must be an array") {
		t.Fatalf("Validate() error = %v, want non-array element rejected", err)
	}
}

func TestParamValueJSON(t *testing.T) {
	tests := []struct {
		name   string
		in     string
		editor string
		value  any
		out    string
	}{
		{"raw string", `"x"`, "", "x", `"x"`},
		{"raw object", `{"foo":"bar"}`, "", map[string]any{"foo": "bar"}, `{"foo":"bar"}`},
		{"wrapped", `{"editor":"editor","value":"1 + 1"}`, "editor", "1 + 1", `{"editor":"editor","value":"1 + 1"}`},
		{"wrapped null", `{"editor":"editor","value":null}`, "editor", nil, `{"editor":"editor","value":null}`},
		{"simple editor", `{"editor":"simple","value":true}`, "simple", true, `{"editor":"simple","value":true}`},
		{"object with editor and extras is raw", `{"editor":"editor","value":1,"x":2}`, "", nil, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var p ParamValue
			if err := json.Unmarshal([]byte(tt.in), &p); err != nil {
				t.Fatalf("Unmarshal() error = %v", err)
			}
			if p.Editor != tt.editor {
				t.Fatalf("editor = %q, want %q", p.Editor, tt.editor)
			}
			if tt.out == "" {
				return
			}
			got, err := json.Marshal(p)
			if err != nil {
				t.Fatal(err)
			}
			if string(got) != tt.out {
				t.Fatalf("Marshal() = %s, want %s", got, tt.out)
			}
		})
	}
}

func TestParamValueIsEmpty(t *testing.T) {
	if !Expr("   ").IsEmpty() {
		t.Error("blank expression should be empty")
	}
	if !Raw(nil).IsEmpty() {
		t.Error("nil raw value should be empty")
	}
	if Raw("").IsEmpty() {
		t.Error("raw empty string is a value")
	}
	if Expr("1").IsEmpty() {
		t.Error("expression should not be empty")
	}
}

func TestCloneIsIndependent(t *testing.T) {
	doc, err := Parse([]byte(v3Doc), FormatJSON)
	if err != nil {
		t.Fatal(err)
	}
	cp := doc.Clone()
	cp.Canvas.Blocks[0].Params["message"] = Raw("changed")
	cp.Variables[0].Value = "moon"

	if doc.Canvas.Blocks[0].Params["message"].Value != `"hi"` {
		t.Fatal("clone shares params with original")
	}
	if doc.Variables[0].Value != "world" {
		t.Fatal("clone shares variables with original")
	}
}

func TestFingerprintStable(t *testing.T) {
	a, err := Parse([]byte(v3Doc), FormatJSON)
	if err != nil {
		t.Fatal(err)
	}
	b := a.Clone()

	fa, err := a.Fingerprint()
	if err != nil {
		t.Fatal(err)
	}
	fb, _ := b.Fingerprint()
	if fa != fb || !strings.HasPrefix(fa, "blake3:") {
		t.Fatalf("fingerprints %q vs %q", fa, fb)
	}

	b.Name = "other"
	if fc, _ := b.Fingerprint(); fc == fa {
		t.Fatal("fingerprint did not change with content")
	}
}

func TestSaveAndLoadRoundTrip(t *testing.T) {
	doc, err := Preset("loop")
	if err != nil {
		t.Fatal(err)
	}
	for _, name := range []string{"p.json", "p.yaml"} {
		path := filepath.Join(t.TempDir(), name)
		if err := SaveFile(path, doc); err != nil {
			t.Fatalf("SaveFile(%s) error = %v", name, err)
		}
		loaded, err := LoadFile(path)
		if err != nil {
			t.Fatalf("LoadFile(%s) error = %v", name, err)
		}
		want, _ := doc.Fingerprint()
		got, _ := loaded.Fingerprint()
		if want != got {
			t.Fatalf("%s round trip changed document", name)
		}
	}
}

func TestPresetsAreValid(t *testing.T) {
	for _, name := range PresetNames() {
		doc, err := Preset(name)
		if err != nil {
			t.Fatalf("Preset(%s) error = %v", name, err)
		}
		if err := doc.Validate(); err != nil {
			t.Errorf("preset %s invalid: %v", name, err)
		}
	}
	if _, err := Preset("nope"); err == nil {
		t.Error("expected error for unknown preset")
	}
}

func TestWalkOrder(t *testing.T) {
	blocks := []Block{
		{Type: BlockCondition, UID: "c",
			BranchTrue:  []Block{{Type: BlockAction, UID: "t"}},
			BranchFalse: []Block{{Type: BlockAction, UID: "f"}}},
		{Type: BlockLoop, UID: "l", Children: []Block{{Type: BlockAction, UID: "child"}}},
	}
	var got []string
	Walk(blocks, func(b *Block) bool {
		got = append(got, b.UID)
		return true
	})
	if strings.Join(got, ",") != "c,t,f,l,child" {
		t.Fatalf("Walk order = %v", got)
	}
}
