package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/getmockd/mockd-chaos/pkg/chaos"
)

// Common errors for configuration loading.
var (
	ErrFileNotFound     = errors.New("configuration file not found")
	ErrPermissionDenied = errors.New("permission denied")
	ErrInvalidJSON      = errors.New("invalid JSON syntax")
	ErrInvalidYAML      = errors.New("invalid YAML syntax")
	ErrEmptyFile        = errors.New("configuration file is empty")
	ErrValidation       = errors.New("validation failed")
)

// LoadFromFile reads a chaos configuration from a JSON or YAML file.
// The format is auto-detected based on file extension (.yaml, .yml for YAML, otherwise JSON).
// The result is clamped and validated.
func LoadFromFile(path string) (*chaos.Config, error) {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrFileNotFound, path)
		}
		if os.IsPermission(err) {
			return nil, fmt.Errorf("%w: %s", ErrPermissionDenied, path)
		}
		return nil, fmt.Errorf("failed to stat file: %w", err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("path is a directory, not a file: %s", path)
	}

	file, err := os.Open(path)
	if err != nil {
		if os.IsPermission(err) {
			return nil, fmt.Errorf("%w: %s", ErrPermissionDenied, path)
		}
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	defer func() { _ = file.Close() }()

	data, err := io.ReadAll(file)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrEmptyFile, path)
	}

	if isYAML(path) {
		return ParseYAML(data)
	}
	if !json.Valid(data) {
		return nil, fmt.Errorf("%w in file: %s", ErrInvalidJSON, path)
	}
	return ParseJSON(data)
}

// ParseJSON parses, clamps and validates a JSON chaos configuration.
func ParseJSON(data []byte) (*chaos.Config, error) {
	var cfg chaos.Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidJSON, err)
	}
	return normalize(&cfg)
}

// ParseYAML parses, clamps and validates a YAML chaos configuration.
func ParseYAML(data []byte) (*chaos.Config, error) {
	var cfg chaos.Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidYAML, err)
	}
	return normalize(&cfg)
}

// normalize clamps out-of-range values, then rejects what clamping cannot fix.
func normalize(cfg *chaos.Config) (*chaos.Config, error) {
	cfg.Clamp()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrValidation, err)
	}
	return cfg, nil
}

// ToJSON marshals a configuration to indented JSON with a trailing newline.
func ToJSON(cfg *chaos.Config) ([]byte, error) {
	if cfg == nil {
		return nil, errors.New("config cannot be nil")
	}
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal to JSON: %w", err)
	}
	return append(data, '\n'), nil
}

// ToYAML marshals a configuration to YAML.
func ToYAML(cfg *chaos.Config) ([]byte, error) {
	if cfg == nil {
		return nil, errors.New("config cannot be nil")
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal to YAML: %w", err)
	}
	return data, nil
}

func isYAML(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".yaml" || ext == ".yml"
}
