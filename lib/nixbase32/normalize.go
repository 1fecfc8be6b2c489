// Copyright 2026 The narpush Authors
// SPDX-License-Identifier: Apache-2.0

package nixbase32

import (
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strings"
)

// digestSizes lists the digest algorithms Nix accepts in narinfo and
// path-info output, keyed by name.
var digestSizes = map[string]int{
	"md5":    16,
	"sha1":   20,
	"sha256": 32,
	"sha512": 64,
}

// ParseHash decodes a digest given in any of the textual forms Nix
// produces and returns the algorithm name and the raw digest bytes.
// Accepted forms:
//
//	sha256-<base64>        SRI, as printed by nix path-info --json
//	sha256:<nix32>         narinfo form
//	sha256:<base16>
//	sha256:<base64>
//
// The encoding of the "algorithm:" forms is inferred from the length of
// the digest text, which is unambiguous for every supported algorithm.
func ParseHash(text string) (string, []byte, error) {
	if algorithm, encoded, ok := strings.Cut(text, ":"); ok {
		size, known := digestSizes[algorithm]
		if !known {
			return "", nil, fmt.Errorf("unsupported hash algorithm %q in %q", algorithm, text)
		}
		digest, err := decodeBySize(encoded, size)
		if err != nil {
			return "", nil, fmt.Errorf("parsing hash %q: %w", text, err)
		}
		return algorithm, digest, nil
	}

	if algorithm, encoded, ok := strings.Cut(text, "-"); ok {
		size, known := digestSizes[algorithm]
		if !known {
			return "", nil, fmt.Errorf("unsupported hash algorithm %q in %q", algorithm, text)
		}
		digest, err := base64.StdEncoding.DecodeString(encoded)
		if err != nil {
			return "", nil, fmt.Errorf("parsing SRI hash %q: %w", text, err)
		}
		if len(digest) != size {
			return "", nil, fmt.Errorf("SRI hash %q decodes to %d bytes, want %d", text, len(digest), size)
		}
		return algorithm, digest, nil
	}

	return "", nil, fmt.Errorf("hash %q has no algorithm prefix", text)
}

func decodeBySize(encoded string, size int) ([]byte, error) {
	switch len(encoded) {
	case hex.EncodedLen(size):
		return hex.DecodeString(encoded)
	case EncodedLen(size):
		return Decode(encoded)
	case base64.StdEncoding.EncodedLen(size):
		return base64.StdEncoding.DecodeString(encoded)
	default:
		return nil, fmt.Errorf("digest text has length %d, which matches no encoding of a %d-byte digest", len(encoded), size)
	}
}

// NormalizeHash rewrites a digest into the canonical
// "<algorithm>:<nix32>" form.
func NormalizeHash(text string) (string, error) {
	algorithm, digest, err := ParseHash(text)
	if err != nil {
		return "", err
	}
	return DigestAddress(algorithm, digest), nil
}
