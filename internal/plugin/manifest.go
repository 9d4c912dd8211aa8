package plugin

import (
	"fmt"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// SupportedManifestVersion is the manifest schema this build understands.
const SupportedManifestVersion = 1

// UnmarshalYAML accepts either the full mapping form or a bare widget name:
//
//	control: {type: input, options: {kind: text}}
//	control: checkbox
func (c *Control) UnmarshalYAML(n *yaml.Node) error {
	switch n.Kind {
	case yaml.ScalarNode:
		*c = Control{Type: strings.TrimSpace(n.Value)}
		return nil
	case yaml.MappingNode:
		type plain Control
		var tmp plain
		if err := n.Decode(&tmp); err != nil {
			return fmt.Errorf("invalid control: %w", err)
		}
		*c = Control(tmp)
		return nil
	default:
		return fmt.Errorf("control must be a string or a mapping")
	}
}

// Manifest is the manifest.yaml of an external plugin.
type Manifest struct {
	ManifestVersion int              `yaml:"manifest_version"`
	ID              string           `yaml:"id"`
	Name            string           `yaml:"name"`
	Version         string           `yaml:"version"`
	Protocol        int              `yaml:"protocol"`
	Entrypoint      string           `yaml:"entrypoint"`
	Description     string           `yaml:"description,omitempty"`
	Icon            string           `yaml:"icon,omitempty"`
	Timeout         time.Duration    `yaml:"timeout,omitempty"`
	Nodes           []NodeDefinition `yaml:"nodes"`
}

// Plugin represents a discovered and validated external plugin.
type Plugin struct {
	ID          string
	Name        string
	Path        string // absolute plugin directory
	Entrypoint  string // absolute path to the executable
	Protocol    int
	Version     string
	Description string
	Icon        string
	Timeout     time.Duration
	Nodes       []NodeDefinition
}

// Node returns the named node definition.
func (p *Plugin) Node(id string) (NodeDefinition, bool) {
	for _, n := range p.Nodes {
		if n.ID == id {
			return n, true
		}
	}
	return NodeDefinition{}, false
}

// Definition builds the registry bundle for p. Every node is served by an
// ExecRunner spawning the plugin's entrypoint.
func (p *Plugin) Definition(opts ExecOptions) Definition {
	def := Definition{
		ID:          p.ID,
		Name:        p.Name,
		Description: p.Description,
		Icon:        p.Icon,
	}
	if opts.Timeout == 0 {
		opts.Timeout = p.Timeout
	}
	for _, n := range p.Nodes {
		def.Nodes = append(def.Nodes, Node{
			Node:   n,
			Runner: NewExecRunner(p, n, opts),
		})
	}
	return def
}
