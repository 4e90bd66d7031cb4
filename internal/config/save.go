package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Save persists the configuration to a YAML file.
// Creates parent directories if they don't exist.
func Save(cfg *Config, path string) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("creating directory %s: %w", dir, err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("writing config to %s: %w", path, err)
	}

	return nil
}

// Set returns a copy of cfg with the dotted key (e.g. "scheduler.tick_interval")
// replaced by value, parsed as a YAML scalar. Unknown keys, values of the wrong
// type and results that fail Validate are errors; cfg is never modified.
func Set(cfg *Config, key, value string) (*Config, error) {
	parts := strings.Split(key, ".")
	for _, p := range parts {
		if p == "" {
			return nil, fmt.Errorf("invalid key %q", key)
		}
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return nil, fmt.Errorf("marshaling config: %w", err)
	}
	var tree map[string]any
	if err := yaml.Unmarshal(data, &tree); err != nil {
		return nil, fmt.Errorf("reading config tree: %w", err)
	}

	node := tree
	for _, p := range parts[:len(parts)-1] {
		switch child := node[p].(type) {
		case map[string]any:
			node = child
		case nil:
			next := map[string]any{}
			node[p] = next
			node = next
		default:
			return nil, fmt.Errorf("%s: %q is not a section", key, p)
		}
	}

	var v any
	if err := yaml.Unmarshal([]byte(value), &v); err != nil {
		return nil, fmt.Errorf("parsing value for %s: %w", key, err)
	}
	node[parts[len(parts)-1]] = v

	data, err = yaml.Marshal(tree)
	if err != nil {
		return nil, fmt.Errorf("marshaling config: %w", err)
	}
	next := &Config{}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(next); err != nil {
		return nil, fmt.Errorf("setting %s: %w", key, err)
	}
	if err := next.Validate(); err != nil {
		return nil, err
	}
	return next, nil
}
