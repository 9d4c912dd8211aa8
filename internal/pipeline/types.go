package pipeline

// BlockType discriminates the Block union.
type BlockType string

const (
	BlockEvent     BlockType = "event"
	BlockAction    BlockType = "action"
	BlockCondition BlockType = "condition"
	BlockLoop      BlockType = "loop"
	BlockComment   BlockType = "comment"
)

// Valid reports whether t is one of the known block types.
func (t BlockType) Valid() bool {
	switch t {
	case BlockEvent, BlockAction, BlockCondition, BlockLoop, BlockComment:
		return true
	}
	return false
}

// Document is a pipeline at the current schema version.
type Document struct {
	Version     string     `json:"version"`
	Name        string     `json:"name"`
	Description string     `json:"description"`
	Variables   []Variable `json:"variables"`
	Canvas      Canvas     `json:"canvas"`
}

// Canvas holds the start triggers and the executable block forest.
type Canvas struct {
	Triggers []Block `json:"triggers"`
	Blocks   []Block `json:"blocks"`
}

// Origin names the registered node that governs a block.
type Origin struct {
	PluginID string `json:"pluginId"`
	NodeID   string `json:"nodeId"`
}

func (o Origin) String() string {
	return o.PluginID + ":" + o.NodeID
}

// Block is one node of the pipeline forest. Which fields are meaningful
// depends on Type: BranchTrue/BranchFalse only for conditions, Children only
// for loops, Disabled only for actions, Comment only for comments.
type Block struct {
	Type        BlockType             `json:"type"`
	UID         string                `json:"uid"`
	Origin      Origin                `json:"origin"`
	Params      map[string]ParamValue `json:"params,omitempty"`
	Disabled    bool                  `json:"disabled,omitempty"`
	BranchTrue  []Block               `json:"branchTrue,omitempty"`
	BranchFalse []Block               `json:"branchFalse,omitempty"`
	Children    []Block               `json:"children,omitempty"`
	Comment     string                `json:"comment,omitempty"`
}

// Executable reports whether the walker dispatches this block to a runner.
func (b *Block) Executable() bool {
	switch b.Type {
	case BlockAction, BlockCondition, BlockLoop:
		return true
	}
	return false
}

// Walk visits blocks depth-first in pre-order, descending into condition
// branches (true before false) and loop children. Returning false from fn
// skips the block's descendants.
func Walk(blocks []Block, fn func(b *Block) bool) {
	for i := range blocks {
		b := &blocks[i]
		if !fn(b) {
			continue
		}
		switch b.Type {
		case BlockCondition:
			Walk(b.BranchTrue, fn)
			Walk(b.BranchFalse, fn)
		case BlockLoop:
			Walk(b.Children, fn)
		}
	}
}

// VariableValues returns variable values keyed by id.
func (d *Document) VariableValues() map[string]any {
	out := make(map[string]any, len(d.Variables))
	for _, v := range d.Variables {
		out[v.ID] = v.Value
	}
	return out
}

// Trigger returns the trigger block with the given origin.
func (d *Document) Trigger(origin Origin) (*Block, bool) {
	for i := range d.Canvas.Triggers {
		if d.Canvas.Triggers[i].Origin == origin {
			return &d.Canvas.Triggers[i], true
		}
	}
	return nil, false
}

// Clone returns a deep copy of the document.
func (d *Document) Clone() *Document {
	if d == nil {
		return nil
	}
	out := *d
	out.Variables = make([]Variable, len(d.Variables))
	for i, v := range d.Variables {
		out.Variables[i] = v.clone()
	}
	out.Canvas = Canvas{
		Triggers: cloneBlocks(d.Canvas.Triggers),
		Blocks:   cloneBlocks(d.Canvas.Blocks),
	}
	return &out
}

func cloneBlocks(in []Block) []Block {
	if in == nil {
		return nil
	}
	out := make([]Block, len(in))
	for i, b := range in {
		out[i] = b.clone()
	}
	return out
}

func (b Block) clone() Block {
	out := b
	if b.Params != nil {
		out.Params = make(map[string]ParamValue, len(b.Params))
		for k, p := range b.Params {
			out.Params[k] = p.clone()
		}
	}
	out.BranchTrue = cloneBlocks(b.BranchTrue)
	out.BranchFalse = cloneBlocks(b.BranchFalse)
	out.Children = cloneBlocks(b.Children)
	return out
}
