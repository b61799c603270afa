package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/slotbus/errors"
	"github.com/c360/slotbus/types"
)

const sampleYAML = `
version: "1.2.0"
logging:
  level: debug
metrics:
  port: 9191
nats:
  url: nats://localhost:4222
workers:
  - name: io
services:
  - uid: ticker
    type: ticker
    out: {key: value}
  - uid: printer
    type: printer
    worker: io
    in:
      - key: value
        uid: ticker/value
        auto_connect: true
      - group: views
        key:
          - uid: v0
          - uid: v1
`

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoad_YAML(t *testing.T) {
	cfg, err := Load(writeFile(t, "slotbus.yaml", sampleYAML))
	require.NoError(t, err)

	assert.Equal(t, "1.2.0", cfg.Version)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.Format, "unset fields keep their defaults")
	assert.Equal(t, 9191, cfg.Metrics.Port)
	assert.True(t, cfg.Metrics.Enabled)
	assert.Equal(t, "slotbus", cfg.NATS.SubjectPrefix)
	assert.Equal(t, []WorkerConfig{{Name: "io"}}, cfg.Workers)

	require.Len(t, cfg.Services, 2)
	printer, ok := cfg.Service("printer")
	require.True(t, ok)
	assert.Equal(t, []string{"uid", "type", "worker", "in", "in"}, printer.Keys())

	ins := printer.Children("in")
	require.Len(t, ins, 2)
	assert.Equal(t, "ticker/value", ins[0].GetOr("uid", ""))
	auto, err := ins[0].Bool("auto_connect", false)
	require.NoError(t, err)
	assert.True(t, auto)
	assert.Len(t, ins[1].Children("key"), 2)
}

func TestLoad_JSONKeepsOrder(t *testing.T) {
	doc := `{
  "logging": {"level": "warn", "format": "text"},
  "metrics": {"enabled": false},
  "services": [
    {"uid": "b", "type": "printer", "in": {"key": "value", "uid": "a/value"}},
    {"uid": "a", "type": "ticker"}
  ]
}`
	cfg, err := Load(writeFile(t, "slotbus.json", doc))
	require.NoError(t, err)

	assert.Equal(t, "text", cfg.Logging.Format)
	assert.False(t, cfg.Metrics.Enabled)
	require.Len(t, cfg.Services, 2)
	assert.Equal(t, []string{"uid", "type", "in"}, cfg.Services[0].Keys())
	assert.Equal(t, "a", cfg.Services[1].GetOr("uid", ""))
}

func TestLoad_Errors(t *testing.T) {
	tests := []struct {
		name    string
		file    string
		content string
	}{
		{"unknown extension", "slotbus.toml", "version = 1"},
		{"malformed json", "slotbus.json", `{"version": `},
		{"malformed yaml", "slotbus.yaml", "logging: [level"},
		{"service without type", "slotbus.yaml", "services:\n  - uid: a\n"},
		{"duplicate service", "slotbus.yaml", "services:\n  - {uid: a, type: t}\n  - {uid: a, type: t}\n"},
		{"undeclared worker", "slotbus.yaml", "services:\n  - {uid: a, type: t, worker: io}\n"},
		{"scalar service", "slotbus.yaml", "services:\n  - printer\n"},
		{"bad level", "slotbus.yaml", "logging: {level: loud}\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeFile(t, tt.file, tt.content))
			assert.ErrorIs(t, err, errors.ErrConfiguration)
		})
	}

	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorIs(t, err, errors.ErrConfiguration)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("SLOTBUS_LOG_LEVEL", "error")
	t.Setenv("SLOTBUS_NATS_URL", "nats://bus:4222")
	t.Setenv("SLOTBUS_METRICS_PORT", "9300")

	cfg, err := Load(writeFile(t, "slotbus.yaml", sampleYAML))
	require.NoError(t, err)
	assert.Equal(t, "error", cfg.Logging.Level)
	assert.Equal(t, "nats://bus:4222", cfg.NATS.URL)
	assert.Equal(t, 9300, cfg.Metrics.Port)

	t.Setenv("SLOTBUS_METRICS_PORT", "ninety")
	_, err = Load(writeFile(t, "slotbus.yaml", sampleYAML))
	assert.ErrorIs(t, err, errors.ErrConfiguration)
}

func TestParse_Empty(t *testing.T) {
	cfg, err := Parse(nil)
	require.NoError(t, err)
	assert.Equal(t, Default().Metrics, cfg.Metrics)
	assert.Empty(t, cfg.Services)
	assert.NoError(t, cfg.Validate())
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"metrics port", func(c *Config) { c.Metrics.Port = 0 }},
		{"metrics path", func(c *Config) { c.Metrics.Path = "metrics" }},
		{"log format", func(c *Config) { c.Logging.Format = "xml" }},
		{"subject prefix", func(c *Config) { c.NATS.URL = "nats://x"; c.NATS.SubjectPrefix = "a b" }},
		{"negative rate", func(c *Config) { c.NATS.URL = "nats://x"; c.NATS.PublishRate = -1 }},
		{"unknown codec", func(c *Config) { c.NATS.URL = "nats://x"; c.NATS.Codec = "xml" }},
		{"unnamed worker", func(c *Config) { c.Workers = []WorkerConfig{{}} }},
		{"duplicate worker", func(c *Config) { c.Workers = []WorkerConfig{{Name: "io"}, {Name: "io"}} }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			assert.ErrorIs(t, cfg.Validate(), errors.ErrConfiguration)
		})
	}

	assert.NoError(t, Default().Validate())
}

func TestClone_IsDeep(t *testing.T) {
	cfg := Default()
	cfg.Workers = []WorkerConfig{{Name: "io"}}
	cfg.Services = []*types.ConfigTree{types.NewConfigTree().Add("uid", "a").Add("type", "t")}

	clone := cfg.Clone()
	clone.Workers[0].Name = "cpu"
	clone.Services[0].Set("uid", "b")

	assert.Equal(t, "io", cfg.Workers[0].Name)
	assert.Equal(t, "a", cfg.Services[0].GetOr("uid", ""))
	assert.Contains(t, cfg.String(), `"uid": "a"`)
}

func TestSafeConfig_ThreadSafety(t *testing.T) {
	safe := NewSafeConfig(Default())

	const goroutines = 20
	var wg sync.WaitGroup
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if i%2 == 0 {
				next := Default()
				next.Version = fmt.Sprintf("1.0.%d", i)
				assert.NoError(t, safe.Update(next))
				return
			}
			for n := 0; n < 100; n++ {
				assert.NotNil(t, safe.Get())
			}
		}(i)
	}
	wg.Wait()

	invalid := Default()
	invalid.Metrics.Port = -1
	assert.ErrorIs(t, safe.Update(invalid), errors.ErrConfiguration)
	assert.ErrorIs(t, safe.Update(nil), errors.ErrConfiguration)
}

func TestLoad_ConnectionsAndProxies(t *testing.T) {
	doc := `
services:
  - {uid: ticker, type: ticker}
  - {uid: printer, type: printer}
connections:
  - signal: {service: ticker, key: started}
    slot: {service: printer, key: update}
proxies:
  - channel: values
    signals: [{service: ticker, key: updated}]
    slots: [{service: printer, key: update}]
`
	cfg, err := Load(writeFile(t, "slotbus.yaml", doc))
	require.NoError(t, err)

	require.Len(t, cfg.Connections, 1)
	assert.Equal(t, "ticker.started", cfg.Connections[0].Signal.String())
	require.Len(t, cfg.Proxies, 1)
	assert.Equal(t, "values", cfg.Proxies[0].Channel)
	assert.Equal(t, []Endpoint{{Service: "printer", Key: "update"}}, cfg.Proxies[0].Slots)

	broken := cfg.Clone()
	broken.Connections[0].Slot.Key = ""
	assert.ErrorIs(t, broken.Validate(), errors.ErrConfiguration)
	assert.Equal(t, "update", cfg.Connections[0].Slot.Key)
}

func TestLoad_BridgeRoutes(t *testing.T) {
	doc := `
nats:
  url: nats://localhost:4222
  codec: msgpack
  exports:
    - signal: {service: ticker, key: ticked}
      subject: ticks
  imports:
    - signal: {service: remote, key: ticked}
      subject: remote.ticks
services:
  - {uid: ticker, type: ticker}
`
	cfg, err := Load(writeFile(t, "slotbus.yaml", doc))
	require.NoError(t, err)
	require.Len(t, cfg.NATS.Exports, 1)
	assert.Equal(t, "ticks", cfg.NATS.Exports[0].Subject)
	assert.Equal(t, "ticker.ticked", cfg.NATS.Exports[0].Signal.String())
	require.Len(t, cfg.NATS.Imports, 1)
	assert.Equal(t, "msgpack", cfg.NATS.Codec)

	noURL := cfg.Clone()
	noURL.NATS.URL = ""
	assert.ErrorIs(t, noURL.Validate(), errors.ErrConfiguration)

	wildcard := cfg.Clone()
	wildcard.NATS.Imports[0].Subject = "remote.>"
	assert.ErrorIs(t, wildcard.Validate(), errors.ErrConfiguration)
	assert.Equal(t, "remote.ticks", cfg.NATS.Imports[0].Subject, "clone is deep")
}

func TestServiceSpecs_Enabled(t *testing.T) {
	doc := `
services:
  - {uid: clock, type: ticker}
  - {uid: spare, type: ticker, enabled: false}
  - {uid: console, type: printer, enabled: "yes"}
connections:
  - signal: {service: clock, key: ticked}
    slot: {service: console, key: update}
`
	cfg, err := Load(writeFile(t, "slotbus.yaml", doc))
	require.NoError(t, err)

	specs, err := cfg.ServiceSpecs()
	require.NoError(t, err)
	require.Len(t, specs, 3)
	assert.Equal(t, "spare", specs[1].UID)
	assert.False(t, specs[1].Enabled)

	enabled := specs.Enabled()
	require.Len(t, enabled, 2)
	assert.Equal(t, "clock", enabled[0].UID)
	assert.Equal(t, "printer", enabled[1].Type)
	for _, spec := range enabled {
		assert.NoError(t, spec.Validate())
	}

	referencing := cfg.Clone()
	referencing.Connections[0].Slot.Service = "spare"
	err = referencing.Validate()
	assert.ErrorIs(t, err, errors.ErrConfiguration)
	assert.Contains(t, err.Error(), "disabled service")

	badFlag := cfg.Clone()
	badFlag.Services[0] = types.NewConfigTree().Add("uid", "clock").Add("type", "ticker").Add("enabled", "maybe")
	assert.ErrorIs(t, badFlag.Validate(), errors.ErrConfiguration)
	_, err = badFlag.ServiceSpecs()
	assert.ErrorIs(t, err, errors.ErrConfiguration)
}
