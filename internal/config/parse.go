package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	yaml "go.yaml.in/yaml/v3"
)

// Load reads and strictly parses the config file, then validates it.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg, err := ParseBytes(path, b)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ParseBytes decodes JSON or YAML (by extension) with unknown fields
// disallowed in both formats.
func ParseBytes(path string, data []byte) (*Config, error) {
	jb, _, err := coerceToJSONBytes(path, data)
	if err != nil {
		return nil, err
	}
	var cfg Config
	dec := json.NewDecoder(bytes.NewReader(jb))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&cfg); err != nil {
		return nil, err
	}
	// reject trailing tokens (e.g. concatenated JSON)
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		if err == nil {
			return nil, fmt.Errorf("invalid config: trailing data")
		}
		return nil, err
	}
	return &cfg, nil
}

// Validate checks everything that can fail later at a worse time: duration
// strings, the transport driver, and per-instance credentials.
func (c *Config) Validate() error {
	if _, err := c.Dispatch.ScanIntervalOr(); err != nil {
		return err
	}
	if _, err := c.Dispatch.MessagePauseOr(); err != nil {
		return err
	}
	if _, err := c.Dispatch.ReadyTimeoutOr(); err != nil {
		return err
	}
	if _, err := ParseDurationField("server.read_timeout", c.Server.ReadTimeout); err != nil {
		return err
	}
	if _, err := ParseDurationField("server.write_timeout", c.Server.WriteTimeout); err != nil {
		return err
	}
	if _, err := ParseDurationField("storage.busy_timeout", c.Storage.BusyTimeout); err != nil {
		return err
	}

	switch strings.ToLower(strings.TrimSpace(c.Transport.Driver)) {
	case "", "telegram":
	default:
		return fmt.Errorf("transport.driver: unknown driver %q", c.Transport.Driver)
	}
	for id, inst := range c.Transport.Instances {
		if strings.TrimSpace(id) == "" {
			return fmt.Errorf("transport.instances: empty instance id")
		}
		if strings.TrimSpace(inst.Token) == "" {
			return fmt.Errorf("transport.instances.%s: token is required", id)
		}
	}
	return nil
}

// coerceToJSONBytes converts YAML config to JSON bytes so the strict JSON
// decoder (DisallowUnknownFields) covers both formats.
//
// Returns (jsonBytes, format, err) where format is "json" or "yaml".
func coerceToJSONBytes(path string, data []byte) ([]byte, string, error) {
	ext := strings.ToLower(filepath.Ext(path))
	if ext != ".yaml" && ext != ".yml" {
		return data, "json", nil
	}

	var v any
	if err := yaml.Unmarshal(data, &v); err != nil {
		return nil, "yaml", fmt.Errorf("yaml unmarshal: %w", err)
	}
	v = normalizeYAML(v)
	j, err := json.Marshal(v)
	if err != nil {
		return nil, "yaml", fmt.Errorf("yaml->json marshal: %w", err)
	}
	return j, "yaml", nil
}

// normalizeYAML ensures all map keys are strings so the result can be
// JSON-marshaled.
func normalizeYAML(in any) any {
	switch x := in.(type) {
	case map[any]any:
		m := make(map[string]any, len(x))
		for k, v := range x {
			m[fmt.Sprint(k)] = normalizeYAML(v)
		}
		return m
	case map[string]any:
		m := make(map[string]any, len(x))
		for k, v := range x {
			m[k] = normalizeYAML(v)
		}
		return m
	case []any:
		for i := range x {
			x[i] = normalizeYAML(x[i])
		}
		return x
	default:
		return in
	}
}
