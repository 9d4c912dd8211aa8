package pipeline

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/mattjoyce/pipelab/internal/migration"
)

// Format selects the on-disk encoding of a document.
type Format string

const (
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
)

// FormatFor picks a format from a file extension. Anything that is not
// .yaml or .yml is JSON.
func FormatFor(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML
	}
	return FormatJSON
}

// DecodeRaw decodes data into the generic form the migration chain works on.
func DecodeRaw(data []byte, format Format) (map[string]any, error) {
	var raw map[string]any
	switch format {
	case FormatYAML:
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return nil, fmt.Errorf("parse yaml document: %w", err)
		}
		// yaml.v3 decodes integers as int; normalise to the JSON value model.
		normalised, err := roundTrip(raw)
		if err != nil {
			return nil, err
		}
		raw = normalised
	default:
		dec := json.NewDecoder(bytes.NewReader(data))
		if err := dec.Decode(&raw); err != nil {
			return nil, fmt.Errorf("parse json document: %w", err)
		}
	}
	if raw == nil {
		return nil, fmt.Errorf("document is empty")
	}
	return raw, nil
}

// Migrate upgrades a generic document and decodes the result. Errors from
// the migration chain are returned unwrapped.
func Migrate(raw map[string]any, opts migration.Options) (*Document, error) {
	migrated, err := documentChain.Migrate(raw, opts)
	if err != nil {
		return nil, err
	}
	return fromMap(migrated)
}

// Parse decodes, migrates to the current version and validates a document.
func Parse(data []byte, format Format) (*Document, error) {
	raw, err := DecodeRaw(data, format)
	if err != nil {
		return nil, err
	}
	doc, err := Migrate(raw, migration.Options{})
	if err != nil {
		return nil, err
	}
	if err := doc.Validate(); err != nil {
		return nil, err
	}
	return doc, nil
}

// LoadFile reads and parses a document from disk.
func LoadFile(path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read pipeline %q: %w", path, err)
	}
	doc, err := Parse(data, FormatFor(path))
	if err != nil {
		return nil, fmt.Errorf("load pipeline %q: %w", path, err)
	}
	return doc, nil
}

// Encode serializes a document. JSON output is indented.
func Encode(doc *Document, format Format) ([]byte, error) {
	return EncodeRaw(doc, format)
}

// EncodeRaw serializes any document-shaped value, typed or generic.
func EncodeRaw(v any, format Format) ([]byte, error) {
	if format == FormatYAML {
		generic, err := roundTrip(v)
		if err != nil {
			return nil, err
		}
		return yaml.Marshal(generic)
	}
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode document: %w", err)
	}
	return append(out, '\n'), nil
}

// SaveFile writes doc to path in the format implied by its extension.
func SaveFile(path string, doc *Document) error {
	data, err := Encode(doc, FormatFor(path))
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write pipeline %q: %w", path, err)
	}
	return nil
}

func fromMap(m map[string]any) (*Document, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("encode migrated document: %w", err)
	}
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decode migrated document: %w", err)
	}
	return &doc, nil
}

func roundTrip(v any) (map[string]any, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("normalise document: %w", err)
	}
	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("normalise document: %w", err)
	}
	return out, nil
}
