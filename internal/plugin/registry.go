package plugin

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/mattjoyce/pipelab/internal/log"
)

// ErrUnregisteredNode is returned when an origin has no registered node.
var ErrUnregisteredNode = errors.New("unregistered node")

type nodeKey struct {
	plugin string
	node   string
}

type entry struct {
	def    NodeDefinition
	runner Runner
}

// Registry maps (pluginId, nodeId) to node definitions and runners. It is
// built at startup and read concurrently afterwards.
type Registry struct {
	mu      sync.RWMutex
	plugins map[string]Definition
	nodes   map[nodeKey]entry
}

// NewRegistry creates an empty node registry.
func NewRegistry() *Registry {
	return &Registry{
		plugins: make(map[string]Definition),
		nodes:   make(map[nodeKey]entry),
	}
}

// Register adds every node of def. The whole bundle is rejected if any node
// is invalid, duplicated or paired with a runner of the wrong kind.
func (r *Registry) Register(def Definition) error {
	if def.ID == "" {
		return fmt.Errorf("plugin id is required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.plugins[def.ID]; exists {
		return fmt.Errorf("plugin %q already registered", def.ID)
	}

	pending := make(map[nodeKey]entry, len(def.Nodes))
	for i, n := range def.Nodes {
		if err := n.Node.validate(); err != nil {
			return fmt.Errorf("plugin %q nodes[%d]: %w", def.ID, i, err)
		}
		if n.Runner == nil {
			return fmt.Errorf("plugin %q node %q: runner is required", def.ID, n.Node.ID)
		}
		if err := checkRunner(n.Node.Type, n.Runner); err != nil {
			return fmt.Errorf("plugin %q node %q: %w", def.ID, n.Node.ID, err)
		}
		key := nodeKey{def.ID, n.Node.ID}
		if _, dup := pending[key]; dup {
			return fmt.Errorf("plugin %q: duplicate node %q", def.ID, n.Node.ID)
		}
		pending[key] = entry{def: n.Node.Clone(), runner: n.Runner}
	}

	for k, e := range pending {
		r.nodes[k] = e
	}
	r.plugins[def.ID] = def
	log.WithPlugin(def.ID).Debug("registered plugin", "nodes", len(def.Nodes))
	return nil
}

// MustRegister registers each definition and panics on error. For built-in
// plugins whose definitions are fixed at compile time.
func (r *Registry) MustRegister(defs ...Definition) {
	for _, def := range defs {
		if err := r.Register(def); err != nil {
			panic(err)
		}
	}
}

// GetRunner returns the runner registered for the origin.
func (r *Registry) GetRunner(pluginID, nodeID string) (Runner, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.nodes[nodeKey{pluginID, nodeID}]
	if !ok {
		return nil, false
	}
	return e.runner, true
}

// GetDefinition returns a copy of the node definition registered for the
// origin.
func (r *Registry) GetDefinition(pluginID, nodeID string) (*NodeDefinition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.nodes[nodeKey{pluginID, nodeID}]
	if !ok {
		return nil, false
	}
	def := e.def.Clone()
	return &def, true
}

// Lookup returns both halves of a node, or an error wrapping
// ErrUnregisteredNode. Misses are logged.
func (r *Registry) Lookup(pluginID, nodeID string) (*NodeDefinition, Runner, error) {
	r.mu.RLock()
	e, ok := r.nodes[nodeKey{pluginID, nodeID}]
	r.mu.RUnlock()
	if !ok {
		log.WithComponent("plugin").Error("node lookup failed", "plugin_id", pluginID, "node_id", nodeID)
		return nil, nil, fmt.Errorf("%w: %s:%s", ErrUnregisteredNode, pluginID, nodeID)
	}
	def := e.def.Clone()
	return &def, e.runner, nil
}

// Plugin returns a registered bundle by id.
func (r *Registry) Plugin(id string) (Definition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	def, ok := r.plugins[id]
	return def, ok
}

// Plugins returns all registered bundles sorted by id.
func (r *Registry) Plugins() []Definition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Definition, 0, len(r.plugins))
	for _, def := range r.plugins {
		out = append(out, def)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// NodeInfo is a flattened registry entry for listings.
type NodeInfo struct {
	PluginID string         `json:"pluginId"`
	Node     NodeDefinition `json:"node"`
}

// Nodes lists every registered node sorted by plugin then node id.
func (r *Registry) Nodes() []NodeInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]NodeInfo, 0, len(r.nodes))
	for k, e := range r.nodes {
		out = append(out, NodeInfo{PluginID: k.plugin, Node: e.def.Clone()})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].PluginID != out[j].PluginID {
			return out[i].PluginID < out[j].PluginID
		}
		return out[i].Node.ID < out[j].Node.ID
	})
	return out
}
