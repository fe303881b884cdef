package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "HEARTH_"

// Load reads a YAML config file, expands ${VAR} references, applies
// HEARTH_* environment overrides and defaults, and validates the result.
// Unknown keys are rejected.
func Load(path string) (*Config, error) {
	var cfg Config
	if err := decodeFile(path, &cfg); err != nil {
		return nil, err
	}
	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return nil, fmt.Errorf("invalid environment override: %w", err)
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return &cfg, nil
}

// userServicesFile is the layout of the reloadable user service list.
type userServicesFile struct {
	Services []ServiceConfig `yaml:"services"`
}

// LoadUserServices reads the user service list. A missing file yields an
// empty list, since user services are optional. Invalid entries are
// skipped with a warning.
func LoadUserServices(path string, warn WarnFunc) ([]ServiceConfig, error) {
	if path == "" {
		return nil, nil
	}
	var file userServicesFile
	if err := decodeFile(path, &file); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	return ValidServices(file.Services, warn), nil
}

// ValidServices drops entries that fail validation or reuse a name.
func ValidServices(services []ServiceConfig, warn WarnFunc) []ServiceConfig {
	warn = orNop(warn)
	seen := make(map[string]bool, len(services))
	valid := make([]ServiceConfig, 0, len(services))
	for _, svc := range services {
		if err := svc.Validate(); err != nil {
			warn("skipping invalid service entry", map[string]any{"error": err.Error()})
			continue
		}
		if seen[svc.Name] {
			warn("skipping duplicate service entry", map[string]any{"service": svc.Name})
			continue
		}
		seen[svc.Name] = true
		valid = append(valid, svc)
	}
	return valid
}

func decodeFile(path string, out any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("config file not found: %s: %w", path, os.ErrNotExist)
		}
		return fmt.Errorf("cannot read config file %q: %w", path, err)
	}

	dec := yaml.NewDecoder(bytes.NewReader([]byte(ExpandEnv(string(data)))))
	dec.KnownFields(true)
	if err := dec.Decode(out); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("invalid YAML in %s: %w", path, err)
	}
	return nil
}
