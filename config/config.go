package config

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"unicode"

	"github.com/c360/slotbus/errors"
	"github.com/c360/slotbus/types"
)

// Config represents the complete process configuration
type Config struct {
	Version  string         `json:"version" yaml:"version"`
	Logging  LoggingConfig  `json:"logging" yaml:"logging"`
	Metrics  MetricsConfig  `json:"metrics" yaml:"metrics"`
	NATS     NATSConfig     `json:"nats" yaml:"nats"`
	Workers  []WorkerConfig `json:"workers,omitempty" yaml:"workers,omitempty"`

	// Services holds one configuration tree per service instance, in file order
	Services []*types.ConfigTree `json:"-" yaml:"-"`

	Connections []ConnectionConfig `json:"connections,omitempty" yaml:"connections,omitempty"`
	Proxies     []ProxyConfig      `json:"proxies,omitempty" yaml:"proxies,omitempty"`
}

// LoggingConfig selects the slog handler
type LoggingConfig struct {
	Level  string `json:"level" yaml:"level"`
	Format string `json:"format" yaml:"format"` // json or text
}

// MetricsConfig controls the Prometheus endpoint
type MetricsConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Port    int    `json:"port" yaml:"port"`
	Path    string `json:"path" yaml:"path"`
}

// NATSConfig defines the bridge connection settings. An empty URL disables the bridge.
type NATSConfig struct {
	URL           string  `json:"url,omitempty" yaml:"url,omitempty"`
	SubjectPrefix string  `json:"subject_prefix,omitempty" yaml:"subject_prefix,omitempty"`
	PublishRate   float64 `json:"publish_rate,omitempty" yaml:"publish_rate,omitempty"`
	PublishBurst  int     `json:"publish_burst,omitempty" yaml:"publish_burst,omitempty"`
	Codec         string  `json:"codec,omitempty" yaml:"codec,omitempty"` // json (default) or msgpack

	// Exports publish a service signal on a subject; imports emit a service signal
	// for every message on a subject. Subjects are relative to SubjectPrefix.
	Exports []BridgeRoute `json:"exports,omitempty" yaml:"exports,omitempty"`
	Imports []BridgeRoute `json:"imports,omitempty" yaml:"imports,omitempty"`
}

// BridgeRoute ties a service signal to a NATS subject
type BridgeRoute struct {
	Signal  Endpoint `json:"signal" yaml:"signal"`
	Subject string   `json:"subject" yaml:"subject"`
}

// WorkerConfig declares a named worker created at startup
type WorkerConfig struct {
	Name string `json:"name" yaml:"name"`
}

// Endpoint names a signal or slot of a service
type Endpoint struct {
	Service string `json:"service" yaml:"service"`
	Key     string `json:"key" yaml:"key"`
}

func (e Endpoint) String() string { return e.Service + "." + e.Key }

// ConnectionConfig connects one signal to one slot
type ConnectionConfig struct {
	Signal Endpoint `json:"signal" yaml:"signal"`
	Slot   Endpoint `json:"slot" yaml:"slot"`
}

// ProxyConfig joins signals and slots to a named channel
type ProxyConfig struct {
	Channel string     `json:"channel" yaml:"channel"`
	Signals []Endpoint `json:"signals,omitempty" yaml:"signals,omitempty"`
	Slots   []Endpoint `json:"slots,omitempty" yaml:"slots,omitempty"`
}

// Default returns the configuration used when no file is given
func Default() *Config {
	return &Config{
		Version: "1.0.0",
		Logging: LoggingConfig{Level: "info", Format: "json"},
		Metrics: MetricsConfig{Enabled: true, Port: 9090, Path: "/metrics"},
		NATS: NATSConfig{
			SubjectPrefix: "slotbus",
			PublishRate:   100,
			PublishBurst:  10,
		},
	}
}

// Validate checks the configuration and fails with ErrConfiguration on the first problem
func (c *Config) Validate() error {
	invalid := func(format string, args ...any) error {
		return errors.WrapInvalid(fmt.Errorf("%w: "+format, append([]any{errors.ErrConfiguration}, args...)...),
			"Config", "Validate", "check configuration")
	}

	switch strings.ToLower(c.Logging.Level) {
	case "", "debug", "info", "warn", "error":
	default:
		return invalid("logging.level %q must be debug, info, warn or error", c.Logging.Level)
	}
	switch c.Logging.Format {
	case "", "json", "text":
	default:
		return invalid("logging.format %q must be json or text", c.Logging.Format)
	}

	if c.Metrics.Enabled {
		if c.Metrics.Port <= 0 || c.Metrics.Port > 65535 {
			return invalid("metrics.port %d out of range", c.Metrics.Port)
		}
		if c.Metrics.Path != "" && !strings.HasPrefix(c.Metrics.Path, "/") {
			return invalid("metrics.path %q must start with /", c.Metrics.Path)
		}
	}

	if c.NATS.URL != "" {
		if !isValidSubjectPart(c.NATS.SubjectPrefix) {
			return invalid("nats.subject_prefix %q is not valid for NATS subjects", c.NATS.SubjectPrefix)
		}
		if c.NATS.PublishRate < 0 || c.NATS.PublishBurst < 0 {
			return invalid("nats publish rate and burst must not be negative")
		}
		switch strings.ToLower(c.NATS.Codec) {
		case "", "json", "msgpack":
		default:
			return invalid("nats.codec %q must be json or msgpack", c.NATS.Codec)
		}
	}
	routes := append(append([]BridgeRoute(nil), c.NATS.Exports...), c.NATS.Imports...)
	if len(routes) > 0 && c.NATS.URL == "" {
		return invalid("nats routes need nats.url")
	}
	for _, r := range routes {
		if !isValidSubjectPart(r.Subject) {
			return invalid("nats route subject %q is not valid for NATS subjects", r.Subject)
		}
		if r.Signal.Service == "" || r.Signal.Key == "" {
			return invalid("nats route %q needs a service and a signal key", r.Subject)
		}
	}

	seen := make(map[string]bool, len(c.Workers))
	for i, w := range c.Workers {
		if w.Name == "" {
			return invalid("workers[%d].name is required", i)
		}
		if seen[w.Name] {
			return invalid("worker %q declared twice", w.Name)
		}
		seen[w.Name] = true
	}

	ids := make(map[string]bool, len(c.Services))
	disabled := make(map[string]bool)
	for i, svc := range c.Services {
		if err := svc.Require("uid", "type"); err != nil {
			return errors.Wrap(err, "Config", "Validate", fmt.Sprintf("services[%d]", i))
		}
		uid, _ := svc.Get("uid")
		if ids[uid] {
			return invalid("service %q declared twice", uid)
		}
		ids[uid] = true
		if w, ok := svc.Get("worker"); ok && !seen[w] {
			return invalid("service %q uses undeclared worker %q", uid, w)
		}
		enabled, err := svc.Bool("enabled", true)
		if err != nil {
			return errors.Wrap(err, "Config", "Validate", fmt.Sprintf("service %q enabled flag", uid))
		}
		disabled[uid] = !enabled
	}

	checkEndpoint := func(where string, e Endpoint) error {
		if e.Service == "" || e.Key == "" {
			return invalid("%s needs a service and a key", where)
		}
		if disabled[e.Service] {
			return invalid("%s references disabled service %q", where, e.Service)
		}
		return nil
	}
	for _, r := range routes {
		if err := checkEndpoint("nats route "+r.Subject, r.Signal); err != nil {
			return err
		}
	}
	for i, conn := range c.Connections {
		if err := checkEndpoint(fmt.Sprintf("connections[%d].signal", i), conn.Signal); err != nil {
			return err
		}
		if err := checkEndpoint(fmt.Sprintf("connections[%d].slot", i), conn.Slot); err != nil {
			return err
		}
	}
	for i, p := range c.Proxies {
		if p.Channel == "" {
			return invalid("proxies[%d].channel is required", i)
		}
		for _, e := range p.Signals {
			if err := checkEndpoint("proxy "+p.Channel+" signal", e); err != nil {
				return err
			}
		}
		for _, e := range p.Slots {
			if err := checkEndpoint("proxy "+p.Channel+" slot", e); err != nil {
				return err
			}
		}
	}
	return nil
}

// ServiceSpecs returns one spec per service entry, in file order. A service is
// enabled unless its tree sets enabled to false.
func (c *Config) ServiceSpecs() (types.ServiceSpecs, error) {
	specs := make(types.ServiceSpecs, 0, len(c.Services))
	for i, tree := range c.Services {
		if tree == nil {
			specs = append(specs, types.ServiceSpec{Enabled: true})
			continue
		}
		enabled, err := tree.Bool("enabled", true)
		if err != nil {
			return nil, errors.Wrap(err, "Config", "ServiceSpecs", fmt.Sprintf("services[%d]", i))
		}
		specs = append(specs, types.ServiceSpec{
			UID:     tree.GetOr("uid", ""),
			Type:    tree.GetOr("type", ""),
			Enabled: enabled,
			Tree:    tree,
		})
	}
	return specs, nil
}

// Service returns the configuration tree of the service with the given uid
func (c *Config) Service(uid string) (*types.ConfigTree, bool) {
	for _, svc := range c.Services {
		if v, _ := svc.Get("uid"); v == uid {
			return svc, true
		}
	}
	return nil, false
}

// isValidSubjectPart checks if a string is valid for use in NATS subjects.
// Valid characters are alphanumeric, dots, dashes, and underscores.
func isValidSubjectPart(s string) bool {
	if len(s) == 0 {
		return false
	}
	for _, r := range s {
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) &&
			r != '-' && r != '_' && r != '.' {
			return false
		}
	}
	return true
}

// Clone creates a deep copy of the configuration
func (c *Config) Clone() *Config {
	if c == nil {
		return &Config{}
	}
	clone := *c
	clone.Workers = append([]WorkerConfig(nil), c.Workers...)
	clone.NATS.Exports = append([]BridgeRoute(nil), c.NATS.Exports...)
	clone.NATS.Imports = append([]BridgeRoute(nil), c.NATS.Imports...)
	clone.Connections = append([]ConnectionConfig(nil), c.Connections...)
	clone.Proxies = make([]ProxyConfig, len(c.Proxies))
	for i, p := range c.Proxies {
		clone.Proxies[i] = ProxyConfig{
			Channel: p.Channel,
			Signals: append([]Endpoint(nil), p.Signals...),
			Slots:   append([]Endpoint(nil), p.Slots...),
		}
	}
	clone.Services = make([]*types.ConfigTree, len(c.Services))
	for i, svc := range c.Services {
		clone.Services[i] = svc.Clone()
	}
	return &clone
}

// String returns a JSON representation of the config
func (c *Config) String() string {
	type alias Config
	services := make([]map[string]any, len(c.Services))
	for i, svc := range c.Services {
		services[i] = svc.ToMap()
	}
	data, _ := json.MarshalIndent(struct {
		*alias
		Services []map[string]any `json:"services"`
	}{(*alias)(c), services}, "", "  ")
	return string(data)
}

// SafeConfig provides thread-safe access to configuration
type SafeConfig struct {
	mu     sync.RWMutex
	config *Config
}

// NewSafeConfig creates a new thread-safe config wrapper
func NewSafeConfig(cfg *Config) *SafeConfig {
	if cfg == nil {
		cfg = Default()
	}
	return &SafeConfig{config: cfg}
}

// Get returns a deep copy of the current configuration
func (sc *SafeConfig) Get() *Config {
	sc.mu.RLock()
	defer sc.mu.RUnlock()
	return sc.config.Clone()
}

// Update atomically replaces the configuration after validation
func (sc *SafeConfig) Update(cfg *Config) error {
	if cfg == nil {
		return errors.WrapInvalid(fmt.Errorf("%w: nil config", errors.ErrConfiguration),
			"SafeConfig", "Update", "check config")
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	sc.mu.Lock()
	defer sc.mu.Unlock()
	sc.config = cfg
	return nil
}
