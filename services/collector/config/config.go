// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package config loads per-project collector settings.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/AleutianAI/codecollector/services/collector/resolve"
	"github.com/AleutianAI/codecollector/services/collector/tracer"
)

const (
	// FileName is the config file looked up in the project root.
	FileName = "collector.config.yaml"

	// DotEnvName is the optional env file looked up in the project root.
	DotEnvName = ".env"
)

// Environment variables that override file settings.
const (
	EnvMaxNodes   = "COLLECTOR_MAX_NODES"
	EnvMaxDepth   = "COLLECTOR_MAX_DEPTH"
	EnvMaxFiles   = "COLLECTOR_MAX_FILES"
	EnvWorkers    = "COLLECTOR_WORKERS"
	EnvWholeClass = "COLLECTOR_WHOLE_CLASS"
)

// ErrInvalidConfig wraps every config parse and validation failure.
var ErrInvalidConfig = errors.New("invalid collector config")

// DefaultExcludes are directory names never walked when listing or
// watching a project.
var DefaultExcludes = []string{
	".git", "node_modules", "__pycache__", ".venv", "venv", "env", "dist", "build",
}

// Config holds project settings.
//
// Description:
//
//	Loaded from <projectRoot>/collector.config.yaml. All fields are
//	optional; zero values fall back to tracer defaults. A missing file is
//	not an error.
//
// Thread Safety: Safe for concurrent reads after construction.
type Config struct {
	MaxNodes int `yaml:"max_nodes" validate:"gte=0"`
	MaxDepth int `yaml:"max_depth" validate:"gte=0"`
	MaxFiles int `yaml:"max_files" validate:"gte=0"`
	Workers  int `yaml:"workers" validate:"gte=0,lte=64"`

	// IncludeWholeClass emits the full class of every collected method.
	IncludeWholeClass bool `yaml:"include_whole_class"`

	// PreferLocalClassReceiver resolves `Recv.name()` against a local class
	// before an import of the same name.
	PreferLocalClassReceiver bool `yaml:"prefer_local_class_receiver"`

	// Exclude lists doublestar globs, relative to the project root, of
	// paths skipped when listing or watching.
	// Example: ["generated/**", "**/*_pb2.py"]
	Exclude []string `yaml:"exclude" validate:"dive,required"`

	// Families replaces the default module resolution conventions.
	Families []resolve.Family `yaml:"families" validate:"dive"`
}

var validate = validator.New()

// Load reads the config file from projectRoot.
//
// Inputs:
//
//	projectRoot - Project directory. May be empty.
//
// Outputs:
//
//	Config - Parsed config, or the zero config when the file is missing.
//	error - Wraps ErrInvalidConfig when the file exists but is invalid.
func Load(projectRoot string) (Config, error) {
	if projectRoot == "" {
		return Config{}, nil
	}

	path := filepath.Join(projectRoot, FileName)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Config{}, nil
		}
		return Config{}, fmt.Errorf("reading %s: %w", FileName, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("%w: parsing %s: %v", ErrInvalidConfig, FileName, err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// LoadDotEnv loads <projectRoot>/.env into the process environment when
// present. Variables already set are left alone.
func LoadDotEnv(projectRoot string) error {
	path := filepath.Join(projectRoot, DotEnvName)
	if _, err := os.Stat(path); err != nil {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("loading %s: %w", DotEnvName, err)
	}
	return nil
}

// ApplyEnv overrides settings from environment variables read through
// getenv. Empty variables are ignored.
func (c *Config) ApplyEnv(getenv func(string) string) error {
	ints := []struct {
		key string
		dst *int
	}{
		{EnvMaxNodes, &c.MaxNodes},
		{EnvMaxDepth, &c.MaxDepth},
		{EnvMaxFiles, &c.MaxFiles},
		{EnvWorkers, &c.Workers},
	}
	for _, e := range ints {
		val := strings.TrimSpace(getenv(e.key))
		if val == "" {
			continue
		}
		n, err := strconv.Atoi(val)
		if err != nil {
			return fmt.Errorf("%w: %s=%q is not an integer", ErrInvalidConfig, e.key, val)
		}
		*e.dst = n
	}

	if val := strings.TrimSpace(getenv(EnvWholeClass)); val != "" {
		b, err := strconv.ParseBool(val)
		if err != nil {
			return fmt.Errorf("%w: %s=%q is not a boolean", ErrInvalidConfig, EnvWholeClass, val)
		}
		c.IncludeWholeClass = b
	}
	return c.Validate()
}

// Validate reports invalid values.
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return nil
}

// TraceOptions converts the config into tracer options.
func (c Config) TraceOptions() tracer.Options {
	return tracer.Options{
		MaxDepth:                     c.MaxDepth,
		MaxNodes:                     c.MaxNodes,
		MaxFiles:                     c.MaxFiles,
		Workers:                      c.Workers,
		IncludeWholeClassOnMethodHit: c.IncludeWholeClass,
		Families:                     c.Families,
		PreferLocalClassReceiver:     c.PreferLocalClassReceiver,
	}
}

// Excludes returns the default directory excludes followed by the
// configured globs.
func (c Config) Excludes() []string {
	out := make([]string, 0, len(DefaultExcludes)+len(c.Exclude))
	out = append(out, DefaultExcludes...)
	return append(out, c.Exclude...)
}
