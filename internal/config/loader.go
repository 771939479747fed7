package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Load reads "<configDir>/defaults.yaml" (if present), expands environment
// variables, merges it over the built-in defaults, and validates the
// result. A missing file is not an error — the built-in defaults are
// returned as-is; an override file is optional.
func Load(configDir string) (NodeDefaults, error) {
	log := slog.With("config_dir", configDir)

	path := filepath.Join(configDir, "defaults.yaml")
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		log.Info("no node-defaults override found, using built-in defaults")
		return Default(), nil
	}
	if err != nil {
		return NodeDefaults{}, NewLoadError(path, err)
	}

	data = ExpandEnv(data)

	var override NodeDefaults
	if err := yaml.Unmarshal(data, &override); err != nil {
		return NodeDefaults{}, NewLoadError(path, fmt.Errorf("%w: %v", ErrInvalidYAML, err))
	}

	merged, err := mergeOverride(Default(), override)
	if err != nil {
		return NodeDefaults{}, NewLoadError(path, err)
	}

	if err := Validate(merged); err != nil {
		return NodeDefaults{}, fmt.Errorf("%w: %v", ErrValidationFailed, err)
	}

	log.Info("node defaults loaded", "recall_threshold", merged.RecallThreshold, "stm_mode", merged.STMMode)
	return merged, nil
}
