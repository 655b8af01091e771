// Package config loads option files and environment settings.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// MaxFileSize caps the size of files read by LoadFile.
const MaxFileSize = 1 * 1024 * 1024 // 1MB

// Format is a supported file encoding.
type Format string

const (
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
)

// FormatOf returns the format implied by a file extension.
func FormatOf(path string) (Format, error) {
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".json":
		return FormatJSON, nil
	case ".yaml", ".yml":
		return FormatYAML, nil
	default:
		return "", fmt.Errorf("config file must have .json, .yaml or .yml extension, got %q", ext)
	}
}

// ReadFile validates the path and returns the file contents with its format.
func ReadFile(path string) ([]byte, Format, error) {
	cleanPath := filepath.Clean(path)
	format, err := FormatOf(cleanPath)
	if err != nil {
		return nil, "", err
	}

	// Check file size for safety
	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, "", fmt.Errorf("failed to stat config file: %w", err)
	}
	if fileInfo.Size() > MaxFileSize {
		return nil, "", fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), MaxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, "", fmt.Errorf("failed to read config file: %w", err)
	}
	return data, format, nil
}

// Decode unmarshals data in the given format into v.
func Decode(data []byte, format Format, v any) error {
	switch format {
	case FormatJSON:
		if err := json.Unmarshal(data, v); err != nil {
			return fmt.Errorf("failed to parse config JSON: %w", err)
		}
	case FormatYAML:
		if err := yaml.Unmarshal(data, v); err != nil {
			return fmt.Errorf("failed to parse config YAML: %w", err)
		}
	default:
		return fmt.Errorf("unknown config format %q", format)
	}
	return nil
}

// LoadFile reads a JSON or YAML file into v. Fields absent from the file keep
// whatever v already holds, so partial files are safe.
func LoadFile(path string, v any) error {
	data, format, err := ReadFile(path)
	if err != nil {
		return err
	}
	return Decode(data, format, v)
}

// LoadBag reads a JSON or YAML file holding a single object, such as a
// tracker option bag. An empty file yields an empty bag.
func LoadBag(path string) (map[string]any, error) {
	bag := map[string]any{}
	if err := LoadFile(path, &bag); err != nil {
		return nil, err
	}
	if bag == nil {
		bag = map[string]any{}
	}
	return bag, nil
}

// ParseEnv loads configuration from environment variables.
func ParseEnv(target any) error {
	if err := env.Parse(target); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}
