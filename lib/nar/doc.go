// Copyright 2026 The narpush Authors
// SPDX-License-Identifier: Apache-2.0

// Package nar serializes filesystem trees into the Nix ARchive (NAR)
// format and decodes the structure of existing archives.
//
// A NAR is a canonical encoding: the same tree always produces the same
// bytes, independent of filesystem enumeration order, timestamps,
// ownership or any permission bit other than "executable". Binary
// caches key archives by the SHA-256 of these bytes, so the output of
// [Dump] must be bit-identical to what nix-store --dump produces.
//
// Every atom in the format is a byte string: an 8-byte little-endian
// length, the raw bytes, then zero bytes up to the next multiple of 8.
// Structural tokens ("(", "type", "regular", ...) and variable data
// (names, symlink targets, file contents) are all encoded this way:
//
//	archive   = "nix-archive-1" "(" node ")"
//	node      = "type" ( regular | symlink | directory )
//	regular   = "regular" [ "executable" "" ] "contents" <bytes>
//	symlink   = "symlink" "target" <bytes>
//	directory = "directory" { "entry" "(" "name" <bytes> "node" "(" node ")" ")" }
//
// Directory entries are sorted by the raw bytes of their names.
//
// On case-insensitive filesystems Nix stores names that collide by case
// with a "~nix~case~hack~N" suffix. With [Options.CaseHack] set, [Dump]
// truncates a name at the first byte of that marker before emitting
// it, restoring the logical name. The flag defaults to on for darwin
// only (see [DefaultOptions]) but is an ordinary runtime option so it
// can be exercised on any platform.
//
// [List] reads an archive back into a [Listing], the directory-tree
// description binary caches publish as .ls files. It validates the
// framing, padding and entry order but never extracts anything to disk.
package nar
