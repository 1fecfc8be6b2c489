// Copyright 2026 The narpush Authors
// SPDX-License-Identifier: Apache-2.0

package nar

import "fmt"

// PathError records a filesystem failure while archiving: an
// unreadable file, a failed symlink read, or an object type the format
// cannot represent.
type PathError struct {
	// Op is the failing operation ("lstat", "open", "readdir",
	// "readlink", "archive").
	Op string

	// Path is the filesystem path being archived.
	Path string

	Err error
}

func (e *PathError) Error() string {
	return fmt.Sprintf("nar: %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *PathError) Unwrap() error { return e.Err }

// IntegrityError reports that a regular file yielded a different
// number of bytes than its size when it was stat'ed. The archive
// already declared the stat'ed length, so continuing would produce a
// corrupt NAR.
type IntegrityError struct {
	Path     string
	Declared uint64
	Streamed uint64
}

func (e *IntegrityError) Error() string {
	if e.Streamed > e.Declared {
		return fmt.Sprintf("nar: %s grew while archiving: declared %d bytes, file has more",
			e.Path, e.Declared)
	}
	return fmt.Sprintf("nar: %s changed while archiving: declared %d bytes, streamed %d",
		e.Path, e.Declared, e.Streamed)
}

// FormatError reports malformed archive input to [List].
type FormatError struct {
	Offset uint64
	Reason string
}

func (e *FormatError) Error() string {
	return fmt.Sprintf("nar: malformed archive at offset %d: %s", e.Offset, e.Reason)
}
