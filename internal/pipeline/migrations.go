package pipeline

import (
	"fmt"

	"github.com/mattjoyce/pipelab/internal/migration"
)

// CurrentVersion is the schema version Document represents.
const CurrentVersion = "3.0.0"

var documentChain = migration.MustNew("pipeline",
	migration.Step{From: "1.0.0", To: "2.0.0", Apply: extractTriggers},
	migration.Step{From: "2.0.0", To: "3.0.0", Apply: wrapParams},
)

// Migrations exposes the document migration chain.
func Migrations() *migration.Chain {
	return documentChain
}

// extractTriggers moves every event block out of canvas.blocks into
// canvas.triggers. Relative order is preserved on both sides.
func extractTriggers(doc map[string]any) (map[string]any, error) {
	canvas, err := canvasOf(doc)
	if err != nil {
		return nil, err
	}
	blocks, err := blockList(canvas["blocks"], "canvas.blocks")
	if err != nil {
		return nil, err
	}

	triggers := make([]any, 0)
	rest := make([]any, 0, len(blocks))
	for i, raw := range blocks {
		b, ok := raw.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("canvas.blocks[%d]: expected object, got %T", i, raw)
		}
		if b["type"] == string(BlockEvent) {
			triggers = append(triggers, b)
		} else {
			rest = append(rest, b)
		}
	}

	canvas["blocks"] = rest
	canvas["triggers"] = triggers
	return doc, nil
}

// wrapParams wraps every action and loop param in the expression editor
// wrapper, nested blocks included. Trigger params stay raw.
func wrapParams(doc map[string]any) (map[string]any, error) {
	canvas, err := canvasOf(doc)
	if err != nil {
		return nil, err
	}
	blocks, err := blockList(canvas["blocks"], "canvas.blocks")
	if err != nil {
		return nil, err
	}
	if err := wrapBlockParams(blocks, "canvas.blocks"); err != nil {
		return nil, err
	}
	return doc, nil
}

func wrapBlockParams(blocks []any, path string) error {
	for i, raw := range blocks {
		at := fmt.Sprintf("%s[%d]", path, i)
		b, ok := raw.(map[string]any)
		if !ok {
			return fmt.Errorf("%s: expected object, got %T", at, raw)
		}

		switch BlockType(fmt.Sprint(b["type"])) {
		case BlockAction, BlockLoop:
			if params, ok := b["params"].(map[string]any); ok {
				for k, v := range params {
					params[k] = map[string]any{"editor": EditorExpression, "value": v}
				}
			} else if b["params"] != nil {
				return fmt.Errorf("%s.params: expected object, got %T", at, b["params"])
			}
		}

		for _, key := range []string{"branchTrue", "branchFalse", "children"} {
			if b[key] == nil {
				continue
			}
			nested, err := blockList(b[key], at+"."+key)
			if err != nil {
				return err
			}
			if err := wrapBlockParams(nested, at+"."+key); err != nil {
				return err
			}
		}
	}
	return nil
}

func canvasOf(doc map[string]any) (map[string]any, error) {
	canvas, ok := doc["canvas"].(map[string]any)
	if !ok {
		return nil, fmt.Errorf("canvas: expected object, got %T", doc["canvas"])
	}
	return canvas, nil
}

func blockList(v any, path string) ([]any, error) {
	if v == nil {
		return []any{}, nil
	}
	blocks, ok := v.([]any)
	if !ok {
		return nil, fmt.Errorf("%s: expected array, got %T", path, v)
	}
	return blocks, nil
}
