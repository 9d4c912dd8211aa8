package pipeline

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/zeebo/blake3"
)

// Validate checks structural invariants: known block types, unique uids
// across triggers and blocks, origins on dispatchable blocks, unique
// variable ids and well-typed variable values.
func (d *Document) Validate() error {
	var errs []error

	if d.Version != CurrentVersion {
		errs = append(errs, fmt.Errorf("version %q is not %s", d.Version, CurrentVersion))
	}

	seenVars := make(map[string]bool, len(d.Variables))
	for i, v := range d.Variables {
		if v.ID == "" {
			errs = append(errs, fmt.Errorf("variables[%d]: id is required", i))
			continue
		}
		if seenVars[v.ID] {
			errs = append(errs, fmt.Errorf("variables[%d]: duplicate id %q", i, v.ID))
		}
		seenVars[v.ID] = true
		if err := v.validate(); err != nil {
			errs = append(errs, fmt.Errorf("variables[%d] (%s): %w", i, v.ID, err))
		}
	}

	seen := make(map[string]bool)
	checkBlock := func(path string, b *Block) {
		if !b.Type.Valid() {
			errs = append(errs, fmt.Errorf("%s: unknown block type %q", path, b.Type))
			return
		}
		if b.UID == "" {
			errs = append(errs, fmt.Errorf("%s: uid is required", path))
		} else if seen[b.UID] {
			errs = append(errs, fmt.Errorf("%s: duplicate uid %q", path, b.UID))
		}
		seen[b.UID] = true
		if b.Type != BlockComment && (b.Origin.PluginID == "" || b.Origin.NodeID == "") {
			errs = append(errs, fmt.Errorf("%s (%s): origin pluginId and nodeId are required", path, b.UID))
		}
	}

	for i := range d.Canvas.Triggers {
		t := &d.Canvas.Triggers[i]
		path := fmt.Sprintf("canvas.triggers[%d]", i)
		if t.Type != BlockEvent {
			errs = append(errs, fmt.Errorf("%s: trigger must be an event block, got %q", path, t.Type))
		}
		checkBlock(path, t)
	}

	var walk func(blocks []Block, path string)
	walk = func(blocks []Block, path string) {
		for i := range blocks {
			b := &blocks[i]
			at := fmt.Sprintf("%s[%d]", path, i)
			checkBlock(at, b)
			switch b.Type {
			case BlockCondition:
				walk(b.BranchTrue, at+".branchTrue")
				walk(b.BranchFalse, at+".branchFalse")
			case BlockLoop:
				walk(b.Children, at+".children")
			default:
				if len(b.BranchTrue)+len(b.BranchFalse)+len(b.Children) > 0 {
					errs = append(errs, fmt.Errorf("%s (%s): %s blocks cannot have nested blocks", at, b.UID, b.Type))
				}
			}
		}
	}
	walk(d.Canvas.Blocks, "canvas.blocks")

	if len(errs) > 0 {
		return fmt.Errorf("invalid pipeline: %w", errors.Join(errs...))
	}
	return nil
}

// Fingerprint returns a stable content hash of the document.
func (d *Document) Fingerprint() (string, error) {
	data, err := json.Marshal(d)
	if err != nil {
		return "", fmt.Errorf("fingerprint: %w", err)
	}
	sum := blake3.Sum256(data)
	return "blake3:" + hex.EncodeToString(sum[:]), nil
}
