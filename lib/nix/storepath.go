// Copyright 2026 The narpush Authors
// SPDX-License-Identifier: Apache-2.0

package nix

import (
	"fmt"
	"path"
	"strings"

	"github.com/narcache/narpush/lib/nixbase32"
)

// StorePathHashLength is the length of the hash part of a store path:
// a 160-bit digest in nix32.
const StorePathHashLength = 32

// StorePathHash returns the hash part of a store path, the segment of
// its final component before the first "-":
//
//	"/nix/store/0c0m1h3a8yscb8d1hy43jv3iz5dhc8w9-hello-2.12" → "0c0m1h3a8yscb8d1hy43jv3iz5dhc8w9"
//
// The hash keys every cache object belonging to the path, so it is
// validated strictly: exactly 32 characters of the nix32 alphabet.
func StorePathHash(storePath string) (string, error) {
	base := path.Base(storePath)
	hash, name, found := strings.Cut(base, "-")
	if !found || name == "" {
		return "", fmt.Errorf("invalid store path %q: final component is not <hash>-<name>", storePath)
	}
	if len(hash) != StorePathHashLength {
		return "", fmt.Errorf("invalid store path %q: hash has length %d, want %d",
			storePath, len(hash), StorePathHashLength)
	}
	if !nixbase32.IsValid(hash) {
		return "", fmt.Errorf("invalid store path %q: hash contains characters outside the nix32 alphabet", storePath)
	}
	return hash, nil
}

// StorePathBase returns the final component of a store path
// ("<hash>-<name>"), the form narinfo files use for references and
// derivers.
func StorePathBase(storePath string) string {
	return path.Base(storePath)
}
