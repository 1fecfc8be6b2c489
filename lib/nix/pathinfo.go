// Copyright 2026 The narpush Authors
// SPDX-License-Identifier: Apache-2.0

package nix

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/narcache/narpush/lib/nixbase32"
)

// PathInfo is the metadata of one store path, as reported by
// "nix path-info --json". It is read-only once returned by a Provider.
type PathInfo struct {
	// Path is the store path. Filled in from the map key when the
	// JSON is keyed by path.
	Path string `json:"path,omitempty"`

	// NarHash and NarSize describe the uncompressed archive.
	NarHash Hash   `json:"narHash"`
	NarSize uint64 `json:"narSize"`

	// References are the direct dependencies, as full store paths. A
	// path may reference itself.
	References []string `json:"references"`

	Deriver    string         `json:"deriver,omitempty"`
	Signatures []string       `json:"signatures,omitempty"`
	CA         ContentAddress `json:"ca,omitempty"`
}

// Hash is a digest as printed by nix. Nix before 2.33 prints a string
// ("sha256-<base64>" or "sha256:<nix32>"); later versions print an
// object with algorithm, format and hash fields. Both decode into the
// string form.
type Hash string

// UnmarshalJSON accepts both the string and the structured form.
func (h *Hash) UnmarshalJSON(data []byte) error {
	var text string
	if err := json.Unmarshal(data, &text); err == nil {
		*h = Hash(text)
		return nil
	}

	var structured struct {
		Algorithm string `json:"algorithm"`
		Format    string `json:"format"`
		Hash      string `json:"hash"`
	}
	if err := json.Unmarshal(data, &structured); err != nil {
		return fmt.Errorf("hash must be a string or an object: %w", err)
	}
	if structured.Format == "sri" {
		*h = Hash(structured.Hash)
		return nil
	}
	if structured.Algorithm == "" {
		return fmt.Errorf("structured hash %s has no algorithm", data)
	}
	*h = Hash(structured.Algorithm + ":" + structured.Hash)
	return nil
}

// Normalized returns the hash as "<algorithm>:<nix32>", the form
// narinfo NarHash lines use.
func (h Hash) Normalized() (string, error) {
	return nixbase32.NormalizeHash(string(h))
}

// ContentAddress is the "ca" field of a content-addressed path, kept
// in the string form narinfo CA lines use ("fixed:r:sha256:<nix32>",
// "text:sha256:<nix32>", ...).
type ContentAddress string

// caMethodPrefixes maps the structured "method" values to the string
// form prefixes.
var caMethodPrefixes = map[string]string{
	"nar":  "fixed:r:",
	"flat": "fixed:",
	"git":  "fixed:git:",
	"text": "text:",
}

// UnmarshalJSON accepts the string form and the structured
// {"method": ..., "hash": ...} form.
func (ca *ContentAddress) UnmarshalJSON(data []byte) error {
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		*ca = ""
		return nil
	}

	var text string
	if err := json.Unmarshal(data, &text); err == nil {
		*ca = ContentAddress(text)
		return nil
	}

	var structured struct {
		Method string `json:"method"`
		Hash   Hash   `json:"hash"`
	}
	if err := json.Unmarshal(data, &structured); err != nil {
		return fmt.Errorf("ca must be a string or an object: %w", err)
	}
	prefix, known := caMethodPrefixes[structured.Method]
	if !known {
		return fmt.Errorf("unknown content address method %q", structured.Method)
	}
	hash, err := structured.Hash.Normalized()
	if err != nil {
		return fmt.Errorf("content address hash: %w", err)
	}
	*ca = ContentAddress(prefix + hash)
	return nil
}
