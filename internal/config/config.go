// Package config loads tally configuration from YAML files and the
// environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/nvandessel/tally/internal/store"
)

// DefaultDescriptionLimit is the maximum task description length in characters.
const DefaultDescriptionLimit = 500

// FileName is the config file looked up in the global and project directories.
const FileName = "config.yaml"

// TallyConfig holds user-tunable settings.
type TallyConfig struct {
	Tasks   TasksConfig   `yaml:"tasks"`
	Logging LoggingConfig `yaml:"logging"`
	Store   StoreConfig   `yaml:"store"`
}

// TasksConfig configures the task description editor.
type TasksConfig struct {
	DescriptionLimit int `yaml:"description_limit" validate:"gte=1"`
}

// LoggingConfig configures the logger.
type LoggingConfig struct {
	Level string `yaml:"level" validate:"omitempty,oneof=debug info warn error disabled"`
	JSON  bool   `yaml:"json"`
}

// StoreConfig selects the storage backend.
type StoreConfig struct {
	// Backend is "sqlite" (default) or "memory".
	Backend string `yaml:"backend" validate:"oneof=sqlite memory"`
}

// Default returns the built-in configuration.
func Default() *TallyConfig {
	return &TallyConfig{
		Tasks:   TasksConfig{DescriptionLimit: DefaultDescriptionLimit},
		Logging: LoggingConfig{Level: "info"},
		Store:   StoreConfig{Backend: "sqlite"},
	}
}

// Load builds the effective configuration: defaults, then each existing file
// in paths (later files win), then TALLY_* environment overrides.
func Load(paths ...string) (*TallyConfig, error) {
	cfg := Default()
	for _, p := range paths {
		if p == "" {
			continue
		}
		data, err := os.ReadFile(p)
		if errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("reading config %s: %w", p, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config %s: %w", p, err)
		}
	}
	if err := applyEnv(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadForRoot loads ~/.tally/config.yaml followed by <root>/.tally/config.yaml.
// Without a home directory only the project file is read.
func LoadForRoot(root string) (*TallyConfig, error) {
	var paths []string
	if global, err := store.GlobalTallyPath(); err == nil {
		paths = append(paths, filepath.Join(global, FileName))
	}
	paths = append(paths, filepath.Join(store.LocalTallyPath(root), FileName))
	return Load(paths...)
}

// Validate checks field constraints.
func (c *TallyConfig) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

func applyEnv(cfg *TallyConfig) error {
	if v := os.Getenv("TALLY_DESCRIPTION_LIMIT"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("TALLY_DESCRIPTION_LIMIT: %w", err)
		}
		cfg.Tasks.DescriptionLimit = n
	}
	if v := os.Getenv("TALLY_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("TALLY_STORE_BACKEND"); v != "" {
		cfg.Store.Backend = v
	}
	return nil
}
