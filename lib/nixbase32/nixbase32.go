// Copyright 2026 The narpush Authors
// SPDX-License-Identifier: Apache-2.0

package nixbase32

import (
	"fmt"
	"strings"
)

// Alphabet is the 32-symbol alphabet used by Nix.
const Alphabet = "0123456789abcdfghijklmnpqrsvwxyz"

// reverseAlphabet maps an ASCII byte to its digit value, or -1.
var reverseAlphabet = func() [256]int8 {
	var table [256]int8
	for i := range table {
		table[i] = -1
	}
	for i := 0; i < len(Alphabet); i++ {
		table[Alphabet[i]] = int8(i)
	}
	return table
}()

// EncodedLen returns the length of the encoding of n bytes:
// ceil(n*8/5), and 0 for n == 0.
func EncodedLen(n int) int {
	if n == 0 {
		return 0
	}
	return (n*8-1)/5 + 1
}

// DecodedLen returns the number of bytes encoded by a string of n
// characters.
func DecodedLen(n int) int {
	return n * 5 / 8
}

// Encode returns the Nix base-32 encoding of input.
func Encode(input []byte) string {
	length := EncodedLen(len(input))
	if length == 0 {
		return ""
	}

	output := make([]byte, 0, length)
	for n := length - 1; n >= 0; n-- {
		bit := n * 5
		index := bit / 8
		shift := bit % 8

		var digit byte
		if index < len(input) {
			digit = input[index] >> shift
		}
		if index+1 < len(input) {
			digit |= input[index+1] << (8 - shift)
		}
		output = append(output, Alphabet[digit&0x1f])
	}
	return string(output)
}

// Decode parses a Nix base-32 string. It rejects characters outside
// [Alphabet] and encodings whose unused high bits are non-zero, so
// Encode(Decode(s)) == s for every accepted s.
func Decode(text string) ([]byte, error) {
	output := make([]byte, DecodedLen(len(text)))

	for n := 0; n < len(text); n++ {
		character := text[len(text)-n-1]
		digit := reverseAlphabet[character]
		if digit < 0 {
			return nil, fmt.Errorf("nixbase32: invalid character %q at offset %d", character, len(text)-n-1)
		}

		bit := n * 5
		index := bit / 8
		shift := bit % 8

		if index < len(output) {
			output[index] |= byte(digit) << shift
		} else if byte(digit)<<shift != 0 {
			return nil, fmt.Errorf("nixbase32: %q has non-zero padding bits", text)
		}

		carry := byte(digit) >> (8 - shift)
		if shift > 3 {
			if index+1 < len(output) {
				output[index+1] |= carry
			} else if carry != 0 {
				return nil, fmt.Errorf("nixbase32: %q has non-zero padding bits", text)
			}
		}
	}
	return output, nil
}

// DigestAddress formats a digest as "<algorithm>:<nix32 digest>", the
// form used on NarHash and FileHash lines.
func DigestAddress(algorithm string, digest []byte) string {
	return algorithm + ":" + Encode(digest)
}

// IsValid reports whether every byte of text is in [Alphabet].
func IsValid(text string) bool {
	return strings.IndexFunc(text, func(r rune) bool {
		return r > 0xff || reverseAlphabet[r] < 0
	}) == -1
}
