// Copyright 2026 The narpush Authors
// SPDX-License-Identifier: Apache-2.0

package nixbase32

import (
	"bytes"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"testing"
)

func TestEncode(t *testing.T) {
	tests := []struct {
		name  string
		input []byte
		want  string
	}{
		{name: "empty", input: nil, want: ""},
		{name: "zero byte", input: []byte{0x00}, want: "00"},
		{name: "all ones byte", input: []byte{0xff}, want: "7z"},
		{
			name:  "sha256 of test",
			input: mustHex(t, "9f86d081884c7d659a2feaa0c55ad015a3bf4f1b2b0b822cd15d6c15b0f00a08"),
			want:  "020ay2q1av2xs4n842rb3d7vz8qms1dcb87a5yd6azaci20x11lz",
		},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			got := Encode(test.input)
			if got != test.want {
				t.Errorf("Encode(%x) = %q, want %q", test.input, got, test.want)
			}
			if len(got) != EncodedLen(len(test.input)) {
				t.Errorf("len(Encode(%x)) = %d, EncodedLen = %d", test.input, len(got), EncodedLen(len(test.input)))
			}
		})
	}
}

func TestEncodedLen(t *testing.T) {
	// ceil(n*8/5) for every length a digest can have.
	for n := 0; n <= 64; n++ {
		want := (n*8 + 4) / 5
		if got := EncodedLen(n); got != want {
			t.Errorf("EncodedLen(%d) = %d, want %d", n, got, want)
		}
	}
}

func TestEncodeUsesAlphabetOnly(t *testing.T) {
	input := make([]byte, 256)
	for i := range input {
		input[i] = byte(i)
	}
	encoded := Encode(input)
	if !IsValid(encoded) {
		t.Fatalf("Encode produced characters outside the alphabet: %q", encoded)
	}
	for _, forbidden := range []byte("eotu") {
		if bytes.IndexByte([]byte(encoded), forbidden) >= 0 {
			t.Errorf("encoded output contains forbidden letter %q", forbidden)
		}
	}
}

func TestDecodeRoundTrip(t *testing.T) {
	for size := 1; size <= 64; size++ {
		input := make([]byte, size)
		for i := range input {
			input[i] = byte(i*37 + size)
		}
		encoded := Encode(input)
		decoded, err := Decode(encoded)
		if err != nil {
			t.Fatalf("Decode(%q): %v", encoded, err)
		}
		if !bytes.Equal(decoded, input) {
			t.Fatalf("Decode(Encode(%x)) = %x", input, decoded)
		}
	}
}

func TestDecodeRejectsInvalid(t *testing.T) {
	for _, text := range []string{"0e", "7u", "zz", "!!"} {
		if _, err := Decode(text); err == nil {
			t.Errorf("Decode(%q) succeeded, want error", text)
		}
	}
}

func TestDigestAddress(t *testing.T) {
	digest := sha256.Sum256([]byte("test"))
	got := DigestAddress("sha256", digest[:])
	want := "sha256:020ay2q1av2xs4n842rb3d7vz8qms1dcb87a5yd6azaci20x11lz"
	if got != want {
		t.Errorf("DigestAddress = %q, want %q", got, want)
	}
}

func TestNormalizeHash(t *testing.T) {
	digest := sha256.Sum256([]byte("test"))
	want := "sha256:020ay2q1av2xs4n842rb3d7vz8qms1dcb87a5yd6azaci20x11lz"

	inputs := map[string]string{
		"sri":    "sha256-" + base64.StdEncoding.EncodeToString(digest[:]),
		"nix32":  want,
		"base16": "sha256:" + hex.EncodeToString(digest[:]),
		"base64": "sha256:" + base64.StdEncoding.EncodeToString(digest[:]),
	}
	for name, input := range inputs {
		t.Run(name, func(t *testing.T) {
			got, err := NormalizeHash(input)
			if err != nil {
				t.Fatalf("NormalizeHash(%q): %v", input, err)
			}
			if got != want {
				t.Errorf("NormalizeHash(%q) = %q, want %q", input, got, want)
			}
		})
	}
}

func TestNormalizeHashErrors(t *testing.T) {
	for _, input := range []string{
		"",
		"deadbeef",
		"blake9:abcd",
		"sha256:tooshort",
		"sha256-AAAA",
	} {
		if _, err := NormalizeHash(input); err == nil {
			t.Errorf("NormalizeHash(%q) succeeded, want error", input)
		}
	}
}

func mustHex(t *testing.T, text string) []byte {
	t.Helper()
	decoded, err := hex.DecodeString(text)
	if err != nil {
		t.Fatalf("decoding hex %q: %v", text, err)
	}
	return decoded
}
