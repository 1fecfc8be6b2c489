// Copyright 2026 The narpush Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	configPath := filepath.Join(t.TempDir(), "narpush.yaml")
	if err := os.WriteFile(configPath, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	return configPath
}

// clearEnvironment unsets every variable the package reads.
func clearEnvironment(t *testing.T) {
	t.Helper()
	for _, name := range []string{ConfigEnv, ServerURLEnv, AuthTokenEnv} {
		t.Setenv(name, "")
		os.Unsetenv(name)
	}
}

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg.Upload.MaxConcurrent != 16 {
		t.Errorf("expected max_concurrent=16, got %d", cfg.Upload.MaxConcurrent)
	}

	if cfg.Upload.Compression != "zstd" {
		t.Errorf("expected compression=zstd, got %s", cfg.Upload.Compression)
	}

	if cfg.Nix.Binary != "nix" {
		t.Errorf("expected nix.binary=nix, got %s", cfg.Nix.Binary)
	}

	if got, want := cfg.CaseHackEnabled(), runtime.GOOS == "darwin"; got != want {
		t.Errorf("CaseHackEnabled() = %v, want %v on %s", got, want, runtime.GOOS)
	}
}

func TestLoad_RequiresNarpushConfig(t *testing.T) {
	clearEnvironment(t)

	_, err := Load()
	if err == nil {
		t.Fatal("expected error when NARPUSH_CONFIG not set, got nil")
	}

	expectedMsg := "NARPUSH_CONFIG environment variable not set"
	if !strings.HasPrefix(err.Error(), expectedMsg) {
		t.Errorf("expected error message to start with %q, got %q", expectedMsg, err.Error())
	}
}

func TestLoad_WithNarpushConfig(t *testing.T) {
	clearEnvironment(t)
	configPath := writeConfig(t, `
server:
  url: https://cache.example.org
  auth_token: secret
`)
	t.Setenv(ConfigEnv, configPath)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	if cfg.Server.URL != "https://cache.example.org" {
		t.Errorf("expected url=https://cache.example.org, got %s", cfg.Server.URL)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() = %v", err)
	}
}

func TestLoadFile(t *testing.T) {
	clearEnvironment(t)
	configPath := writeConfig(t, `
server:
  url: https://cache.example.org
  auth_token_file: /run/credentials/narpush/token

upload:
  max_concurrent: 4
  compression: lz4
  temp_dir: /var/tmp/narpush
  fail_fast: true

nix:
  binary: /nix/var/nix/profiles/default/bin/nix
  case_hack: true
`)

	cfg, err := LoadFile(configPath)
	if err != nil {
		t.Fatalf("LoadFile failed: %v", err)
	}

	if cfg.Server.AuthTokenFile != "/run/credentials/narpush/token" {
		t.Errorf("expected auth_token_file, got %q", cfg.Server.AuthTokenFile)
	}
	if cfg.Upload.MaxConcurrent != 4 {
		t.Errorf("expected max_concurrent=4, got %d", cfg.Upload.MaxConcurrent)
	}
	if cfg.Upload.Compression != "lz4" {
		t.Errorf("expected compression=lz4, got %s", cfg.Upload.Compression)
	}
	if !cfg.Upload.FailFast {
		t.Error("expected fail_fast=true")
	}
	if cfg.Upload.ZstdLevel != 3 {
		t.Errorf("expected default zstd_level=3 to survive, got %d", cfg.Upload.ZstdLevel)
	}
	if !cfg.CaseHackEnabled() {
		t.Error("expected case_hack=true")
	}
}

func TestLoadFile_EmptyFile(t *testing.T) {
	clearEnvironment(t)
	cfg, err := LoadFile(writeConfig(t, ""))
	if err != nil {
		t.Fatalf("LoadFile on empty file: %v", err)
	}
	if cfg.Upload.MaxConcurrent != 16 {
		t.Errorf("expected defaults, got max_concurrent=%d", cfg.Upload.MaxConcurrent)
	}
}

func TestLoadFile_UnknownKey(t *testing.T) {
	clearEnvironment(t)
	_, err := LoadFile(writeConfig(t, "upload:\n  max_concurrency: 4\n"))
	if err == nil {
		t.Fatal("expected error for misspelled key")
	}
}

func TestLoadFile_MissingFile(t *testing.T) {
	_, err := LoadFile(filepath.Join(t.TempDir(), "missing.yaml"))
	if err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestEnvironmentOverrides(t *testing.T) {
	clearEnvironment(t)
	configPath := writeConfig(t, `
server:
  url: https://file.example.org
  auth_token_file: /etc/narpush/token
`)
	t.Setenv(ServerURLEnv, "https://env.example.org")
	t.Setenv(AuthTokenEnv, "from-env")

	cfg, err := LoadFile(configPath)
	if err != nil {
		t.Fatalf("LoadFile failed: %v", err)
	}
	if cfg.Server.URL != "https://env.example.org" {
		t.Errorf("expected url from environment, got %s", cfg.Server.URL)
	}
	token, err := cfg.AuthToken()
	if err != nil {
		t.Fatalf("AuthToken: %v", err)
	}
	if token != "from-env" {
		t.Errorf("expected token from environment, got %q", token)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() = %v", err)
	}
}

func TestVariableExpansion(t *testing.T) {
	clearEnvironment(t)
	t.Setenv("HOME", "/home/builder")
	t.Setenv("NARPUSH_TEST_SCRATCH", "")

	configPath := writeConfig(t, `
server:
  url: https://cache.example.org
  auth_token_file: ${HOME}/.config/narpush/token
upload:
  temp_dir: ${NARPUSH_TEST_SCRATCH:-/var/tmp}/staging
`)
	cfg, err := LoadFile(configPath)
	if err != nil {
		t.Fatalf("LoadFile failed: %v", err)
	}
	if cfg.Server.AuthTokenFile != "/home/builder/.config/narpush/token" {
		t.Errorf("auth_token_file = %q", cfg.Server.AuthTokenFile)
	}
	if cfg.Upload.TempDir != "/var/tmp/staging" {
		t.Errorf("temp_dir = %q", cfg.Upload.TempDir)
	}
}

func TestAuthToken_File(t *testing.T) {
	tokenPath := filepath.Join(t.TempDir(), "token")
	if err := os.WriteFile(tokenPath, []byte("  file-token\n"), 0600); err != nil {
		t.Fatal(err)
	}

	cfg := Default()
	cfg.Server.AuthTokenFile = tokenPath
	token, err := cfg.AuthToken()
	if err != nil {
		t.Fatalf("AuthToken: %v", err)
	}
	if token != "file-token" {
		t.Errorf("token = %q, want file-token", token)
	}

	if err := os.WriteFile(tokenPath, []byte("\n"), 0600); err != nil {
		t.Fatal(err)
	}
	if _, err := cfg.AuthToken(); err == nil {
		t.Error("expected error for empty token file")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr []string
	}{
		{
			name:   "valid",
			modify: func(c *Config) {},
		},
		{
			name:    "missing url",
			modify:  func(c *Config) { c.Server.URL = "" },
			wantErr: []string{"server.url is required"},
		},
		{
			name:    "missing token",
			modify:  func(c *Config) { c.Server.AuthToken = "" },
			wantErr: []string{"server.auth_token or server.auth_token_file is required"},
		},
		{
			name:    "both token sources",
			modify:  func(c *Config) { c.Server.AuthTokenFile = "/etc/token" },
			wantErr: []string{"mutually exclusive"},
		},
		{
			name: "several problems at once",
			modify: func(c *Config) {
				c.Upload.MaxConcurrent = 0
				c.Upload.Compression = "xz"
				c.Upload.ZstdLevel = 30
			},
			wantErr: []string{"upload.max_concurrent", "upload.compression", "upload.zstd_level"},
		},
		{
			name: "path info file replaces nix binary",
			modify: func(c *Config) {
				c.Nix.Binary = ""
				c.Nix.PathInfoFile = "/tmp/closure.json"
			},
		},
		{
			name:    "no metadata source",
			modify:  func(c *Config) { c.Nix.Binary = "" },
			wantErr: []string{"nix.binary is required"},
		},
	}

	for _, testCase := range tests {
		t.Run(testCase.name, func(t *testing.T) {
			cfg := Default()
			cfg.Server.URL = "https://cache.example.org"
			cfg.Server.AuthToken = "secret"
			testCase.modify(cfg)

			err := cfg.Validate()
			if len(testCase.wantErr) == 0 {
				if err != nil {
					t.Fatalf("Validate() = %v, want nil", err)
				}
				return
			}
			if err == nil {
				t.Fatalf("Validate() = nil, want errors containing %v", testCase.wantErr)
			}
			for _, want := range testCase.wantErr {
				if !strings.Contains(err.Error(), want) {
					t.Errorf("Validate() = %v, want it to mention %q", err, want)
				}
			}
		})
	}
}
