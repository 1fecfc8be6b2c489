// Copyright 2026 The narpush Authors
// SPDX-License-Identifier: Apache-2.0

// Package config provides YAML configuration loading for narpush.
//
// Configuration is loaded from a single file specified by either the
// NARPUSH_CONFIG environment variable (via [Load]) or a --config flag
// (via [LoadFile]). There is no automatic file search. Without a file,
// commands start from [Default] and rely on flags and the environment.
//
// Two environment variables override file values: NARPUSH_SERVER_URL
// and NARPUSH_AUTH_TOKEN, so that the token can come from a secret
// store rather than a file on disk. Command-line flags override both.
//
// Variable expansion is performed on path fields after loading:
// ${HOME} and ${VAR:-default} patterns are expanded.
//
// Key exports:
//
//   - [Config] -- master struct with Server, Upload, Nix
//   - [Default] -- returns a Config with defaults
//   - [Load] and [LoadFile] -- the two entry points for loading
//   - [Config.Validate] -- reports every problem at once
//
// This package depends on no other narpush packages.
package config
