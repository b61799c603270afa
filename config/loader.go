package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/c360/slotbus/errors"
	"github.com/c360/slotbus/types"
)

const (
	maxConfigSize = 10 << 20 // 10MB max config file size
	maxDepth      = 100      // maximum nesting depth of a config document
	maxEnvVarLen  = 10000
	maxPathLen    = 4096

	// EnvPrefix prefixes the environment overrides applied by Load
	EnvPrefix = "SLOTBUS"
)

// fileConfig mirrors Config with the services kept as raw YAML nodes
type fileConfig struct {
	Config   `yaml:",inline"`
	Services []yaml.Node `yaml:"services"`
}

// Load reads a YAML (.yaml, .yml) or JSON (.json) file over the defaults, applies
// environment overrides and validates the result.
func Load(path string) (*Config, error) {
	data, err := safeReadFile(path)
	if err != nil {
		return nil, err
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		if err := validateJSON(data); err != nil {
			return nil, errors.WrapInvalid(err, "Config", "Load", "check JSON")
		}
	case ".yaml", ".yml":
	default:
		return nil, errors.WrapInvalid(
			fmt.Errorf("%w: unsupported config extension %q", errors.ErrConfiguration, filepath.Ext(path)),
			"Config", "Load", "check extension")
	}

	cfg, err := Parse(data)
	if err != nil {
		return nil, err
	}
	if err := applyEnvOverrides(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Parse decodes a configuration document over the defaults. JSON input goes
// through the YAML decoder too, so service entries keep their key order.
func Parse(data []byte) (*Config, error) {
	var root yaml.Node
	if err := yaml.Unmarshal(data, &root); err != nil {
		return nil, errors.WrapInvalid(fmt.Errorf("%w: %v", errors.ErrConfiguration, err),
			"Config", "Parse", "decode document")
	}
	if err := checkDepth(&root, 0); err != nil {
		return nil, errors.WrapInvalid(err, "Config", "Parse", "check depth")
	}

	raw := fileConfig{Config: *Default()}
	if len(root.Content) > 0 {
		if err := root.Decode(&raw); err != nil {
			return nil, errors.WrapInvalid(fmt.Errorf("%w: %v", errors.ErrConfiguration, err),
				"Config", "Parse", "decode fields")
		}
	}

	cfg := raw.Config
	cfg.Services = make([]*types.ConfigTree, 0, len(raw.Services))
	for i := range raw.Services {
		tree, err := TreeFromNode(&raw.Services[i])
		if err != nil {
			return nil, errors.Wrap(err, "Config", "Parse", fmt.Sprintf("services[%d]", i))
		}
		cfg.Services = append(cfg.Services, tree)
	}
	return &cfg, nil
}

// TreeFromNode converts a YAML mapping into a ConfigTree in document order.
// Scalars become string entries, mappings nested trees and sequences repeated
// keys.
func TreeFromNode(n *yaml.Node) (*types.ConfigTree, error) {
	if n.Kind == yaml.DocumentNode && len(n.Content) == 1 {
		n = n.Content[0]
	}
	if n.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("%w: line %d: expected a mapping", errors.ErrConfiguration, n.Line)
	}

	tree := types.NewConfigTree()
	for i := 0; i+1 < len(n.Content); i += 2 {
		if err := addNode(tree, n.Content[i].Value, n.Content[i+1]); err != nil {
			return nil, err
		}
	}
	return tree, nil
}

func addNode(tree *types.ConfigTree, key string, n *yaml.Node) error {
	switch n.Kind {
	case yaml.ScalarNode:
		tree.Add(key, n.Value)
	case yaml.MappingNode:
		child, err := TreeFromNode(n)
		if err != nil {
			return err
		}
		tree.AddChild(key, child)
	case yaml.SequenceNode:
		for _, item := range n.Content {
			if item.Kind == yaml.SequenceNode {
				return fmt.Errorf("%w: line %d: nested sequences under %q", errors.ErrConfiguration, item.Line, key)
			}
			if err := addNode(tree, key, item); err != nil {
				return err
			}
		}
	case yaml.AliasNode:
		return addNode(tree, key, n.Alias)
	default:
		return fmt.Errorf("%w: line %d: unsupported node under %q", errors.ErrConfiguration, n.Line, key)
	}
	return nil
}

func checkDepth(n *yaml.Node, depth int) error {
	if depth > maxDepth {
		return fmt.Errorf("%w: nesting too deep: %d > %d", errors.ErrConfiguration, depth, maxDepth)
	}
	for _, c := range n.Content {
		if err := checkDepth(c, depth+1); err != nil {
			return err
		}
	}
	return nil
}

func validateJSON(data []byte) error {
	if !json.Valid(bytes.TrimSpace(data)) {
		return fmt.Errorf("%w: malformed JSON", errors.ErrConfiguration)
	}
	return nil
}

// applyEnvOverrides applies SLOTBUS_* environment variables
func applyEnvOverrides(cfg *Config) error {
	overrides := []struct {
		name  string
		apply func(string) error
	}{
		{"LOG_LEVEL", func(v string) error { cfg.Logging.Level = v; return nil }},
		{"LOG_FORMAT", func(v string) error { cfg.Logging.Format = v; return nil }},
		{"NATS_URL", func(v string) error { cfg.NATS.URL = v; return nil }},
		{"METRICS_PORT", func(v string) error {
			port, err := strconv.Atoi(v)
			if err != nil {
				return fmt.Errorf("%w: %q is not a port", errors.ErrConfiguration, v)
			}
			cfg.Metrics.Port = port
			return nil
		}},
	}

	for _, o := range overrides {
		key := EnvPrefix + "_" + o.name
		val := os.Getenv(key)
		if val == "" {
			continue
		}
		if err := validateEnvVar(key, val); err != nil {
			return errors.WrapInvalid(err, "Config", "Load", "environment override")
		}
		if err := o.apply(val); err != nil {
			return errors.WrapInvalid(err, "Config", "Load", "environment override "+key)
		}
	}
	return nil
}

// safeReadFile reads a config file after basic path and size checks
func safeReadFile(path string) ([]byte, error) {
	if path == "" {
		return nil, errors.WrapInvalid(fmt.Errorf("%w: empty config path", errors.ErrConfiguration),
			"Config", "Load", "check path")
	}
	if len(path) > maxPathLen {
		return nil, errors.WrapInvalid(fmt.Errorf("%w: path too long: %d > %d", errors.ErrConfiguration, len(path), maxPathLen),
			"Config", "Load", "check path")
	}

	info, err := os.Stat(path)
	if err != nil {
		return nil, errors.WrapInvalid(fmt.Errorf("%w: %v", errors.ErrConfiguration, err), "Config", "Load", "stat file")
	}
	if !info.Mode().IsRegular() {
		return nil, errors.WrapInvalid(fmt.Errorf("%w: not a regular file: %s", errors.ErrConfiguration, path),
			"Config", "Load", "check file")
	}
	if info.Size() > maxConfigSize {
		return nil, errors.WrapInvalid(
			fmt.Errorf("%w: config file too large: %d bytes > %d", errors.ErrConfiguration, info.Size(), maxConfigSize),
			"Config", "Load", "check file")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.WrapTransient(err, "Config", "Load", "read file")
	}
	return data, nil
}

func validateEnvVar(key, value string) error {
	if len(value) > maxEnvVarLen {
		return fmt.Errorf("%w: environment variable %s too long: %d > %d", errors.ErrConfiguration, key, len(value), maxEnvVarLen)
	}
	if strings.Contains(value, "\x00") {
		return fmt.Errorf("%w: null byte in environment variable %s", errors.ErrConfiguration, key)
	}
	return nil
}
