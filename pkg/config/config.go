// Package config loads and decodes container and component
// configuration. It owns two concerns the framework treats as pluggable
// external collaborators: a named-configuration Loader, and the
// environment-variable substitution pass applied to whatever the loader
// returns before it is parsed.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/a8m/envsubst"
	"gopkg.in/yaml.v3"
)

// Loader resolves the raw configuration text for a named container or
// component. It returns ok=false if no configuration exists under name.
type Loader interface {
	Load(name string) (string, bool)
}

// FileLoader is the default Loader: it reads "<Dir>/<name>.yaml".
type FileLoader struct {
	Dir string
}

func (f FileLoader) Load(name string) (string, bool) {
	path := filepath.Join(f.Dir, name+".yaml")
	data, err := os.ReadFile(path)
	if err != nil {
		return "", false
	}
	return string(data), true
}

// Substitute replaces ${VAR} (and $VAR) references in text with values
// from the process environment, matching the substitution pass the
// container applies to configuration before decoding it.
func Substitute(text string) (string, error) {
	out, err := envsubst.String(text)
	if err != nil {
		return "", fmt.Errorf("substituting environment variables: %w", err)
	}
	return out, nil
}

// DeclEntry is one (component name, factory type) pair from a container
// declaration, in the order it appeared in the source document.
type DeclEntry struct {
	Name string
	Type string
}

// DecodeDeclaration decodes a container declaration document, preserving
// declaration order. A plain map[string]string cannot be used here
// because Go randomizes map iteration order and the framework's
// start/stop ordering is defined in terms of declaration order.
func DecodeDeclaration(text string) ([]DeclEntry, error) {
	var root yaml.Node
	if err := yaml.Unmarshal([]byte(text), &root); err != nil {
		return nil, fmt.Errorf("decoding container declaration: %w", err)
	}
	if len(root.Content) == 0 {
		return nil, nil
	}
	mapping := root.Content[0]
	if mapping.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("decoding container declaration: expected a mapping document")
	}
	entries := make([]DeclEntry, 0, len(mapping.Content)/2)
	for i := 0; i+1 < len(mapping.Content); i += 2 {
		key := mapping.Content[i]
		val := mapping.Content[i+1]
		entries = append(entries, DeclEntry{Name: key.Value, Type: val.Value})
	}
	return entries, nil
}

// DecodeMap decodes a component's own configuration into a generic
// string-keyed value tree, the minimal shape the scheduler and built-in
// factories actually need (Library/Factory/Logger/Priority/Affinity and
// arbitrary component-specific scalars).
func DecodeMap(text string) (map[string]any, error) {
	var m map[string]any
	if err := yaml.Unmarshal([]byte(text), &m); err != nil {
		return nil, fmt.Errorf("decoding component configuration: %w", err)
	}
	if m == nil {
		m = map[string]any{}
	}
	return m, nil
}

// GetString returns m[key] as a string, or def if absent or not a string.
func GetString(m map[string]any, key, def string) string {
	if v, ok := m[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return def
}

// GetInt returns m[key] as an int, or def if absent or not a number.
func GetInt(m map[string]any, key string, def int) int {
	v, ok := m[key]
	if !ok {
		return def
	}
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	default:
		return def
	}
}
