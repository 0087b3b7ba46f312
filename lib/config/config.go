// Copyright 2026 The Seamster Authors
// SPDX-License-Identifier: Apache-2.0

// Package config provides configuration loading for the Seamster
// server.
//
// Configuration is loaded from a single YAML file specified by:
//   - SEAMSTER_CONFIG environment variable, or
//   - --config flag passed to the command
//
// There are no fallbacks or automatic discovery, and environment
// variables do not override file values. This ensures deterministic,
// auditable configuration with no hidden overrides. The loaded Config
// is constructed once at startup and passed by reference into every
// component — nothing reads ambient global state.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"

	"gopkg.in/yaml.v3"
)

// Config is the master configuration for a Seamster deployment. One
// deployment serves exactly one logical artifact.
type Config struct {
	// ListenAddress is the TCP listen address (e.g., ":8080").
	ListenAddress string `yaml:"listen_address"`

	// PublicDir is the root directory for static file serving. The
	// default document is PublicDir/index.html.
	PublicDir string `yaml:"public_dir"`

	// Parts describes where the artifact's volume files live and how
	// they are named.
	Parts PartsConfig `yaml:"parts"`

	// Pipeline selects what happens between reassembly and delivery.
	Pipeline PipelineConfig `yaml:"pipeline"`

	// CacheDir is where rebuilt output and its entry record are
	// published. Defaults to <public_dir>/.seamster-cache.
	CacheDir string `yaml:"cache_dir"`

	// ChunkSize is the read/copy unit for part concatenation, in
	// bytes. Chosen for I/O efficiency, not semantically meaningful.
	// Default: 2 MiB.
	ChunkSize int `yaml:"chunk_size"`
}

// PartsConfig locates the split archive's volume files. Exactly one
// of ManifestFile or the naming-convention fields (BaseName, Count)
// describes the part list; when ManifestFile is set it wins.
type PartsConfig struct {
	// Dir is the directory holding the part files. Relative paths
	// are resolved against PublicDir.
	Dir string `yaml:"dir"`

	// ManifestFile is an explicit artifact descriptor (JSONC). When
	// set, the naming-convention fields below are ignored.
	ManifestFile string `yaml:"manifest_file"`

	// BaseName is the artifact name without extension for the fixed
	// naming convention: <base>.z01..<base>.zNN plus a trailing
	// <base>.zip final volume.
	BaseName string `yaml:"base_name"`

	// Count is the number of .zNN volumes (the trailing .zip is not
	// counted).
	Count int `yaml:"count"`

	// Pad is the numeric zero-padding width of the .zNN extension:
	// z01..z09 is 2, z001 is 3. Default: 2.
	Pad int `yaml:"pad"`

	// MinPartSize rejects part files smaller than this many bytes as
	// likely pointer stand-ins rather than real binary content.
	// Default: 200.
	MinPartSize int64 `yaml:"min_part_size"`
}

// PipelineConfig selects the delivery pipeline stages:
// Concatenate → [Extract] → [Repackage] → Select → Stream.
type PipelineConfig struct {
	// Mode is one of:
	//   "concat"    — stream the raw concatenation as-is
	//   "extract"   — unpack the archive, serve the selected member
	//   "repackage" — unpack, then recompress into one normalized
	//                 single-volume archive and serve that
	// Default: concat.
	Mode string `yaml:"mode"`

	// RepackFormat is the normalized archive format for mode
	// "repackage": "zip", "tar.zst", or "tar.lz4". Default: zip.
	RepackFormat string `yaml:"repack_format"`

	// PreferredArtifact is the member filename to serve after
	// extraction, matched case-insensitively anywhere in the
	// extracted tree. Empty means "largest file wins".
	PreferredArtifact string `yaml:"preferred_artifact"`

	// ToolBinary is an external unpacking tool (e.g. "7z") used
	// instead of the built-in archive reader, for multi-volume
	// layouts a plain index reader cannot span. Empty uses the
	// built-in reader.
	ToolBinary string `yaml:"tool_binary"`
}

// Pipeline modes.
const (
	ModeConcat    = "concat"
	ModeExtract   = "extract"
	ModeRepackage = "repackage"
)

// Default returns the default configuration. These defaults ensure
// all fields have sensible zero-values before the file is loaded; the
// config file remains the source of truth.
func Default() *Config {
	return &Config{
		ListenAddress: ":8080",
		PublicDir:     ".",
		Parts: PartsConfig{
			Dir:         "files",
			Pad:         2,
			MinPartSize: 200,
		},
		Pipeline: PipelineConfig{
			Mode:         ModeConcat,
			RepackFormat: "zip",
		},
		ChunkSize: 2 << 20,
	}
}

// Load loads configuration from the SEAMSTER_CONFIG environment
// variable. There are no fallbacks — if SEAMSTER_CONFIG is not set,
// this fails.
func Load() (*Config, error) {
	configPath := os.Getenv("SEAMSTER_CONFIG")
	if configPath == "" {
		return nil, fmt.Errorf("SEAMSTER_CONFIG environment variable not set; " +
			"set it to the path of your seamster.yaml config file, or use --config flag")
	}

	return LoadFile(configPath)
}

// LoadFile loads configuration from a specific file path, merging
// over the defaults. The only expansion performed is ${HOME} and
// similar path variables for portability.
func LoadFile(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}

	cfg.expandVariables()
	return cfg, nil
}

// expandVariables expands ${VAR} and ${VAR:-default} patterns in the
// path fields.
func (c *Config) expandVariables() {
	vars := map[string]string{
		"HOME": os.Getenv("HOME"),
	}

	c.PublicDir = expandVars(c.PublicDir, vars)
	c.Parts.Dir = expandVars(c.Parts.Dir, vars)
	c.Parts.ManifestFile = expandVars(c.Parts.ManifestFile, vars)
	c.CacheDir = expandVars(c.CacheDir, vars)
}

var varPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

func expandVars(s string, vars map[string]string) string {
	return varPattern.ReplaceAllStringFunc(s, func(match string) string {
		parts := varPattern.FindStringSubmatch(match)
		if len(parts) < 2 {
			return match
		}

		name := parts[1]
		defaultValue := ""
		if len(parts) >= 3 {
			defaultValue = parts[2]
		}

		// Check provided vars first, then environment.
		if value, ok := vars[name]; ok && value != "" {
			return value
		}
		if value := os.Getenv(name); value != "" {
			return value
		}
		return defaultValue
	})
}

// PartsDir returns the absolute parts directory, resolving a relative
// Parts.Dir against PublicDir.
func (c *Config) PartsDir() string {
	if filepath.IsAbs(c.Parts.Dir) {
		return c.Parts.Dir
	}
	return filepath.Join(c.PublicDir, c.Parts.Dir)
}

// ResolvedCacheDir returns the cache directory, applying the default
// location under PublicDir when unset.
func (c *Config) ResolvedCacheDir() string {
	if c.CacheDir != "" {
		return c.CacheDir
	}
	return filepath.Join(c.PublicDir, ".seamster-cache")
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []error

	if c.ListenAddress == "" {
		errs = append(errs, fmt.Errorf("listen_address is required"))
	}
	if c.PublicDir == "" {
		errs = append(errs, fmt.Errorf("public_dir is required"))
	}
	if c.ChunkSize <= 0 {
		errs = append(errs, fmt.Errorf("chunk_size must be positive, got %d", c.ChunkSize))
	}

	if c.Parts.ManifestFile == "" {
		if c.Parts.BaseName == "" {
			errs = append(errs, fmt.Errorf("parts.base_name is required when parts.manifest_file is not set"))
		}
		if c.Parts.Count < 1 {
			errs = append(errs, fmt.Errorf("parts.count must be at least 1, got %d", c.Parts.Count))
		}
		if c.Parts.Pad < 1 {
			errs = append(errs, fmt.Errorf("parts.pad must be at least 1, got %d", c.Parts.Pad))
		}
	}

	switch c.Pipeline.Mode {
	case ModeConcat, ModeExtract, ModeRepackage:
	default:
		errs = append(errs, fmt.Errorf("pipeline.mode must be one of concat, extract, repackage; got %q", c.Pipeline.Mode))
	}

	switch c.Pipeline.RepackFormat {
	case "zip", "tar.zst", "tar.lz4":
	default:
		errs = append(errs, fmt.Errorf("pipeline.repack_format must be one of zip, tar.zst, tar.lz4; got %q", c.Pipeline.RepackFormat))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// EnsurePaths creates the cache directory if it does not exist. The
// public and parts directories are operator-provided content and are
// not created implicitly.
func (c *Config) EnsurePaths() error {
	dir := c.ResolvedCacheDir()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating %s: %w", dir, err)
	}
	return nil
}
