// Copyright 2026 The narpush Authors
// SPDX-License-Identifier: Apache-2.0

package nar

import (
	"runtime"
	"strings"
)

// CaseHackMarker is the infix Nix appends (followed by a counter) to
// names that would otherwise collide on a case-insensitive filesystem.
const CaseHackMarker = "~nix~case~hack~"

// Options controls archive production.
type Options struct {
	// CaseHack strips [CaseHackMarker] and everything after it from
	// directory entry names.
	CaseHack bool
}

// DefaultOptions returns the options matching the local platform's
// store conventions: the case hack is only in use on darwin.
func DefaultOptions() Options {
	return Options{CaseHack: runtime.GOOS == "darwin"}
}

// StripCaseHack truncates name at the first occurrence of
// [CaseHackMarker]. Names without the marker are returned unchanged.
func StripCaseHack(name string) string {
	if index := strings.Index(name, CaseHackMarker); index >= 0 {
		return name[:index]
	}
	return name
}

func (o Options) entryName(name string) string {
	if !o.CaseHack {
		return name
	}
	return StripCaseHack(name)
}
