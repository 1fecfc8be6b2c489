// Copyright 2026 The narpush Authors
// SPDX-License-Identifier: Apache-2.0

// Package nixbase32 implements the base-32 encoding Nix uses for store
// path hashes and digests in narinfo files.
//
// The alphabet is 0123456789abcdfghijklmnpqrsvwxyz: the letters e, o, t
// and u are omitted so encoded hashes never spell words. The bit order
// differs from RFC 4648 base32: the encoder walks 5-bit groups from the
// end of the input towards the start, so the first output character
// carries the most significant bits of the last input byte. This is
// the order the Nix C++ implementation uses and the one every binary
// cache expects; do not "fix" it.
//
// The API surface:
//
//   - [Encode] and [Decode] convert between raw bytes and the text form
//   - [DigestAddress] formats "<algorithm>:<encoded digest>"
//   - [NormalizeHash] converts a digest given as SRI, base16, base64 or
//     nix32 into the canonical "<algorithm>:<nix32>" form
//
// This package has no dependencies on other narpush packages.
package nixbase32
