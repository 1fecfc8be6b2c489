// Copyright 2026 The narpush Authors
// SPDX-License-Identifier: Apache-2.0

// Package nix provides access to the local Nix store: resolving the
// nix binary, querying closure metadata, and parsing store paths.
//
// The nix binary is resolved the same way for every invocation: PATH
// first (works inside nix develop and on NixOS), then the Determinate
// Nix profile directory.
//
// Closure metadata comes from a [Provider]. [CommandProvider] runs
// "nix path-info --recursive --json"; [FileProvider] reads the same
// JSON from a file, which is how tests and air-gapped pushes supply it.
// Both return a map from store path to [PathInfo] covering the full
// transitive closure of the requested roots.
package nix

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// determinateProfileBin is where Determinate Nix installs its binaries.
// This location is outside PATH by default, so we check it explicitly
// after the PATH lookup fails.
const determinateProfileBin = "/nix/var/nix/profiles/default/bin"

// FindBinary resolves a Nix binary by name (e.g., "nix", "nix-store"),
// checking PATH first and then the standard Determinate Nix installation
// directory. Returns the absolute path to the binary.
func FindBinary(name string) (string, error) {
	if path, err := exec.LookPath(name); err == nil {
		return path, nil
	}

	determinatePath := filepath.Join(determinateProfileBin, name)
	if _, err := os.Stat(determinatePath); err == nil {
		return determinatePath, nil
	}

	return "", fmt.Errorf("%s not found on PATH or at %s; install Nix or set nix.binary in the config",
		name, determinatePath)
}

// run executes binary with the given arguments and environment and
// returns stdout. binary may be a bare name (resolved via FindBinary)
// or an absolute path. Stderr is captured separately and included in
// error messages.
func run(ctx context.Context, binary string, env []string, args []string) ([]byte, error) {
	binaryPath := binary
	if !filepath.IsAbs(binary) {
		resolved, err := FindBinary(binary)
		if err != nil {
			return nil, err
		}
		binaryPath = resolved
	}

	var stdout, stderr bytes.Buffer
	command := exec.CommandContext(ctx, binaryPath, args...)
	command.Stdout = &stdout
	command.Stderr = &stderr
	if len(env) > 0 {
		command.Env = env
	}

	if err := command.Run(); err != nil {
		return nil, formatError(filepath.Base(binary), args, &stderr, err)
	}
	return stdout.Bytes(), nil
}

// DefaultStoreDir is the standard Nix store root directory.
const DefaultStoreDir = "/nix/store"

// StoreDirectory extracts the top-level store path from a path within
// it. The store path is the first path component after /nix/store/:
//
//	"/nix/store/abc-hello/bin/hello" → "/nix/store/abc-hello"
//	"/nix/store/abc-hello"           → "/nix/store/abc-hello"
//
// Returns an error for paths not under /nix/store/ or paths that are
// exactly /nix/store/ with no entry name.
func StoreDirectory(path string) (string, error) {
	prefix := DefaultStoreDir + "/"
	if !strings.HasPrefix(path, prefix) {
		return "", fmt.Errorf("path %q is not under %s", path, prefix)
	}

	// Everything after "/nix/store/" is the store entry name, potentially
	// followed by subdirectory components.
	remainder := path[len(prefix):]
	if remainder == "" {
		return "", fmt.Errorf("path %q has no store entry name", path)
	}

	slashIndex := strings.IndexByte(remainder, '/')
	if slashIndex == -1 {
		return path, nil
	}

	return path[:len(prefix)+slashIndex], nil
}

// formatError produces an error message for a failed nix command,
// preferring stderr output (which contains the actual nix error) over
// the generic exec error.
func formatError(binaryName string, args []string, stderr *bytes.Buffer, err error) error {
	commandString := binaryName + " " + strings.Join(args, " ")
	stderrText := strings.TrimSpace(stderr.String())
	if stderrText != "" {
		return fmt.Errorf("%s: %s", commandString, stderrText)
	}
	return fmt.Errorf("%s: %w", commandString, err)
}
