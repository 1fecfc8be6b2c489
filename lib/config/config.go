// Copyright 2026 The narpush Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"regexp"
	"runtime"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"
)

// Environment variables consulted by Load and ApplyEnvironment.
const (
	// ConfigEnv names the configuration file.
	ConfigEnv = "NARPUSH_CONFIG"

	// ServerURLEnv overrides server.url.
	ServerURLEnv = "NARPUSH_SERVER_URL"

	// AuthTokenEnv overrides server.auth_token. Keeping the token in
	// the environment keeps it out of checked-in config files.
	AuthTokenEnv = "NARPUSH_AUTH_TOKEN"
)

// Config is the narpush configuration.
type Config struct {
	// Server configures the cache service.
	Server ServerConfig `yaml:"server"`

	// Upload configures staging and transfer.
	Upload UploadConfig `yaml:"upload"`

	// Nix configures access to the local store.
	Nix NixConfig `yaml:"nix"`
}

// ServerConfig configures the cache service.
type ServerConfig struct {
	// URL is the service root, e.g. https://cache.example.org.
	URL string `yaml:"url"`

	// AuthToken is the bearer token for negotiate and complete.
	// Mutually exclusive with AuthTokenFile.
	AuthToken string `yaml:"auth_token"`

	// AuthTokenFile is a file holding the bearer token (for example a
	// systemd credential). Surrounding whitespace is trimmed.
	AuthTokenFile string `yaml:"auth_token_file"`
}

// UploadConfig configures staging and transfer.
type UploadConfig struct {
	// MaxConcurrent bounds the uploads in flight in each phase.
	// Default: 16
	MaxConcurrent int `yaml:"max_concurrent"`

	// Compression is none, zstd or lz4.
	// Default: zstd
	Compression string `yaml:"compression"`

	// ZstdLevel is the zstd level, 1-22.
	// Default: 3
	ZstdLevel int `yaml:"zstd_level"`

	// TempDir is where compressed archives are staged. Staging needs
	// room for MaxConcurrent compressed archives at once.
	// Default: the system temp directory
	TempDir string `yaml:"temp_dir"`

	// FailFast cancels the remaining uploads of a phase at the first
	// failure instead of finishing them and reporting every failure.
	// Default: false
	FailFast bool `yaml:"fail_fast"`
}

// NixConfig configures access to the local store.
type NixConfig struct {
	// Binary is the nix binary name or absolute path.
	// Default: nix (found in PATH)
	Binary string `yaml:"binary"`

	// PathInfoFile, when set, reads closure metadata from this file
	// (the JSON nix path-info --recursive --json prints) instead of
	// running nix.
	PathInfoFile string `yaml:"path_info_file"`

	// CaseHack strips the ~nix~case~hack~ suffixes that Nix adds on
	// case-insensitive filesystems. Unset means enabled on macOS only.
	CaseHack *bool `yaml:"case_hack"`
}

// Default returns the default configuration, the base the config file
// is loaded over.
func Default() *Config {
	return &Config{
		Upload: UploadConfig{
			MaxConcurrent: 16,
			Compression:   "zstd",
			ZstdLevel:     3,
		},
		Nix: NixConfig{
			Binary: "nix",
		},
	}
}

// Load loads configuration from the file named by NARPUSH_CONFIG and
// applies environment overrides. It fails if NARPUSH_CONFIG is not set.
func Load() (*Config, error) {
	configPath := os.Getenv(ConfigEnv)
	if configPath == "" {
		return nil, fmt.Errorf("%s environment variable not set; "+
			"set it to the path of your narpush.yaml config file, or use --config flag", ConfigEnv)
	}

	return LoadFile(configPath)
}

// LoadFile loads configuration from a specific file path, then applies
// environment overrides and expands ${VAR} references in path fields.
func LoadFile(path string) (*Config, error) {
	cfg := Default()

	if err := cfg.loadFile(path); err != nil {
		return nil, fmt.Errorf("loading config %s: %w", path, err)
	}

	cfg.ApplyEnvironment()
	cfg.expandVariables()

	return cfg, nil
}

// loadFile loads a single configuration file, merging into the current
// config. Unknown keys are rejected so typos do not go unnoticed.
func (c *Config) loadFile(path string) error {
	file, err := os.Open(path)
	if err != nil {
		return err
	}
	defer file.Close()

	decoder := yaml.NewDecoder(file)
	decoder.KnownFields(true)
	if err := decoder.Decode(c); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// ApplyEnvironment applies NARPUSH_SERVER_URL and NARPUSH_AUTH_TOKEN
// over the file's values. A token from the environment replaces a
// token file.
func (c *Config) ApplyEnvironment() {
	if value := os.Getenv(ServerURLEnv); value != "" {
		c.Server.URL = value
	}
	if value := os.Getenv(AuthTokenEnv); value != "" {
		c.Server.AuthToken = value
		c.Server.AuthTokenFile = ""
	}
}

// expandVariables expands ${VAR} and ${VAR:-default} patterns in paths.
func (c *Config) expandVariables() {
	vars := map[string]string{
		"HOME": os.Getenv("HOME"),
	}

	c.Server.AuthTokenFile = expandVars(c.Server.AuthTokenFile, vars)
	c.Upload.TempDir = expandVars(c.Upload.TempDir, vars)
	c.Nix.Binary = expandVars(c.Nix.Binary, vars)
	c.Nix.PathInfoFile = expandVars(c.Nix.PathInfoFile, vars)
}

// expandVars expands ${VAR} and ${VAR:-default} patterns.
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

// Validate checks the configuration for errors. All problems are
// reported at once.
func (c *Config) Validate() error {
	var errs []error

	if c.Server.URL == "" {
		errs = append(errs, fmt.Errorf("server.url is required (or set %s)", ServerURLEnv))
	}
	if c.Server.AuthToken != "" && c.Server.AuthTokenFile != "" {
		errs = append(errs, fmt.Errorf("server.auth_token and server.auth_token_file are mutually exclusive"))
	}
	if c.Server.AuthToken == "" && c.Server.AuthTokenFile == "" {
		errs = append(errs, fmt.Errorf("server.auth_token or server.auth_token_file is required (or set %s)", AuthTokenEnv))
	}

	if c.Upload.MaxConcurrent < 1 {
		errs = append(errs, fmt.Errorf("upload.max_concurrent must be at least 1, got %d", c.Upload.MaxConcurrent))
	}

	compressions := []string{"none", "zstd", "lz4"}
	if !slices.Contains(compressions, c.Upload.Compression) {
		errs = append(errs, fmt.Errorf("upload.compression must be one of: %v", compressions))
	}
	if c.Upload.ZstdLevel < 1 || c.Upload.ZstdLevel > 22 {
		errs = append(errs, fmt.Errorf("upload.zstd_level must be between 1 and 22, got %d", c.Upload.ZstdLevel))
	}

	if c.Nix.Binary == "" && c.Nix.PathInfoFile == "" {
		errs = append(errs, fmt.Errorf("nix.binary is required unless nix.path_info_file is set"))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// AuthToken returns the bearer token, reading AuthTokenFile if that is
// how the token is configured.
func (c *Config) AuthToken() (string, error) {
	if c.Server.AuthTokenFile == "" {
		return c.Server.AuthToken, nil
	}
	data, err := os.ReadFile(c.Server.AuthTokenFile)
	if err != nil {
		return "", fmt.Errorf("reading server.auth_token_file: %w", err)
	}
	token := strings.TrimSpace(string(data))
	if token == "" {
		return "", fmt.Errorf("server.auth_token_file %s is empty", c.Server.AuthTokenFile)
	}
	return token, nil
}

// CaseHackEnabled resolves Nix.CaseHack against the platform default.
func (c *Config) CaseHackEnabled() bool {
	if c.Nix.CaseHack != nil {
		return *c.Nix.CaseHack
	}
	return runtime.GOOS == "darwin"
}
