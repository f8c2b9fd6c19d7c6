// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package config loads the lockd configuration file.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/AleutianAI/objectlock/pkg/extensions"
	"github.com/AleutianAI/objectlock/services/objectlock"
	"github.com/AleutianAI/objectlock/services/objectlock/storage/badger"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Environment overrides.
const (
	EnvAddr   = "LOCKD_ADDR"
	EnvDBPath = "LOCKD_DB_PATH"
)

// LockdConfig is the root of lockd.yaml.
type LockdConfig struct {
	Server  ServerConfig      `yaml:"server"`
	Storage StorageConfig     `yaml:"storage"`
	Lock    objectlock.Config `yaml:"lock"`
	Auth    AuthConfig        `yaml:"auth"`
	Logging LoggingConfig     `yaml:"logging"`
	Tracing TracingConfig     `yaml:"tracing"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	// Addr is the listen address. Overridden by LOCKD_ADDR.
	Addr string `yaml:"addr" validate:"required,hostname_port"`

	// CommitRate limits bulk commits per second. Zero disables the limit.
	CommitRate float64 `yaml:"commit_rate" validate:"gte=0"`

	// CommitBurst is the burst allowed above CommitRate.
	CommitBurst int `yaml:"commit_burst" validate:"gte=0"`
}

// StorageConfig configures the resource database.
type StorageConfig struct {
	badger.Config `yaml:",inline"`

	// IDs is "sequence" or "uuid".
	IDs badger.IDStrategy `yaml:"ids" validate:"omitempty,oneof=sequence uuid"`
}

// AuthConfig configures caller authentication.
//
// With no tokens every caller is the local admin.
type AuthConfig struct {
	Tokens []TokenConfig `yaml:"tokens,omitempty" validate:"dive"`
}

// TokenConfig maps one bearer token to an identity.
type TokenConfig struct {
	Token               string `yaml:"token" validate:"required,min=16"`
	extensions.AuthInfo `yaml:",inline"`
}

// LoggingConfig configures the process logger.
type LoggingConfig struct {
	Level string `yaml:"level" validate:"omitempty,oneof=debug info warn warning error"`
	JSON  bool   `yaml:"json"`
	Dir   string `yaml:"dir"`
}

// TracingConfig enables span export to stdout.
type TracingConfig struct {
	Enabled bool `yaml:"enabled"`
}

// DefaultConfig returns the configuration written on first run.
func DefaultConfig() LockdConfig {
	storage := badger.DefaultConfig()
	storage.Path = defaultDBPath()
	return LockdConfig{
		Server: ServerConfig{
			Addr:        "127.0.0.1:8470",
			CommitRate:  2,
			CommitBurst: 5,
		},
		Storage: StorageConfig{Config: storage, IDs: badger.IDSequence},
		Lock:    objectlock.DefaultConfig(),
		Logging: LoggingConfig{Level: "info"},
	}
}

// DefaultPath is ~/.lockd/lockd.yaml.
func DefaultPath() string {
	return filepath.Join(homeDir(), ".lockd", "lockd.yaml")
}

func defaultDBPath() string {
	return filepath.Join(homeDir(), ".lockd", "data")
}

func homeDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return home
}

// Load reads the configuration at path, creating it with defaults when it
// does not exist. Environment overrides are applied before validation.
//
// # Inputs
//
//   - path: Config file. Empty means DefaultPath().
//
// # Outputs
//
//   - LockdConfig: Validated configuration.
//   - bool: True when the file was created by this call.
//   - error: Read, parse or validation failure.
func Load(path string) (LockdConfig, bool, error) {
	if path == "" {
		path = DefaultPath()
	}

	created := false
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		if err := createDefault(path); err != nil {
			return LockdConfig{}, false, err
		}
		created = true
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return LockdConfig{}, created, fmt.Errorf("read config file: %w", err)
	}
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return LockdConfig{}, created, fmt.Errorf("parse config file %s: %w", path, err)
	}
	applyEnv(&cfg)
	if err := Validate(cfg); err != nil {
		return LockdConfig{}, created, err
	}
	return cfg, created, nil
}

func applyEnv(cfg *LockdConfig) {
	if v := os.Getenv(EnvAddr); v != "" {
		cfg.Server.Addr = v
	}
	if v := os.Getenv(EnvDBPath); v != "" {
		cfg.Storage.Path = v
	}
}

// Validate checks field rules and cross-field constraints.
func Validate(cfg LockdConfig) error {
	if err := validator.New().Struct(cfg); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if !cfg.Storage.InMemory && cfg.Storage.Path == "" {
		return errors.New("invalid config: storage.path is required unless storage.in_memory is set")
	}
	seen := make(map[string]bool, len(cfg.Auth.Tokens))
	for _, t := range cfg.Auth.Tokens {
		if seen[t.Token] {
			return fmt.Errorf("invalid config: duplicate token for user %q", t.UserID)
		}
		seen[t.Token] = true
	}
	return nil
}

// TokenTable returns the table of a StaticTokenProvider.
func (a AuthConfig) TokenTable() map[string]extensions.AuthInfo {
	out := make(map[string]extensions.AuthInfo, len(a.Tokens))
	for _, t := range a.Tokens {
		out[t.Token] = t.AuthInfo
	}
	return out
}

func createDefault(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	data, err := yaml.Marshal(DefaultConfig())
	if err != nil {
		return fmt.Errorf("encode default config: %w", err)
	}
	return os.WriteFile(path, data, 0600)
}
