// Copyright 2026 The narpush Authors
// SPDX-License-Identifier: Apache-2.0

package nar

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"strings"
)

// EntryType is the kind of a node in an archive.
type EntryType string

const (
	TypeRegular   EntryType = "regular"
	TypeDirectory EntryType = "directory"
	TypeSymlink   EntryType = "symlink"
)

// Listing describes the tree stored in an archive. Its JSON encoding
// matches the .ls files Nix binary caches serve next to archives.
type Listing struct {
	Version int    `json:"version"`
	Root    *Entry `json:"root"`
}

// Entry is one node of a [Listing].
type Entry struct {
	Type EntryType `json:"type"`

	// Size and NarOffset are set for regular files. NarOffset is the
	// position of the first content byte within the archive.
	Size       *uint64 `json:"size,omitempty"`
	Executable bool    `json:"executable,omitempty"`
	NarOffset  *uint64 `json:"narOffset,omitempty"`

	// Entries is set for directories.
	Entries map[string]*Entry `json:"entries,omitempty"`

	// Target is set for symlinks.
	Target string `json:"target,omitempty"`
}

// maxTokenLength bounds every non-content string read by List.
// Entry names are limited to 255 bytes by every supported filesystem
// and symlink targets to PATH_MAX.
const maxTokenLength = 4096

// List decodes the structure of the archive read from r. File contents
// are skipped, not buffered. Trailing data after the archive is an
// error.
func List(r io.Reader) (*Listing, error) {
	decoder := &decoder{reader: bufio.NewReaderSize(r, 64*1024)}

	if err := decoder.expect(Magic); err != nil {
		return nil, err
	}
	if err := decoder.expect("("); err != nil {
		return nil, err
	}
	root, err := decoder.node()
	if err != nil {
		return nil, err
	}

	if _, err := decoder.reader.ReadByte(); err == nil {
		return nil, decoder.errorf("trailing data after archive")
	} else if !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("reading archive: %w", err)
	}

	return &Listing{Version: 1, Root: root}, nil
}

type decoder struct {
	reader  *bufio.Reader
	offset  uint64
	scratch [8]byte
}

func (d *decoder) errorf(format string, args ...any) error {
	return &FormatError{Offset: d.offset, Reason: fmt.Sprintf(format, args...)}
}

func (d *decoder) readFull(buffer []byte) error {
	n, err := io.ReadFull(d.reader, buffer)
	d.offset += uint64(n)
	if err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return d.errorf("unexpected end of archive")
		}
		return fmt.Errorf("reading archive: %w", err)
	}
	return nil
}

func (d *decoder) readLength() (uint64, error) {
	if err := d.readFull(d.scratch[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(d.scratch[:]), nil
}

func (d *decoder) readPadding(length uint64) error {
	padding := Padding(length)
	if padding == 0 {
		return nil
	}
	buffer := d.scratch[:padding]
	if err := d.readFull(buffer); err != nil {
		return err
	}
	for _, b := range buffer {
		if b != 0 {
			return d.errorf("non-zero padding byte")
		}
	}
	return nil
}

func (d *decoder) readString() (string, error) {
	length, err := d.readLength()
	if err != nil {
		return "", err
	}
	if length > maxTokenLength {
		return "", d.errorf("string of %d bytes exceeds limit of %d", length, maxTokenLength)
	}
	buffer := make([]byte, length)
	if err := d.readFull(buffer); err != nil {
		return "", err
	}
	if err := d.readPadding(length); err != nil {
		return "", err
	}
	return string(buffer), nil
}

func (d *decoder) expect(token string) error {
	got, err := d.readString()
	if err != nil {
		return err
	}
	if got != token {
		return d.errorf("expected %q, got %q", token, got)
	}
	return nil
}

// node decodes a node body and its closing parenthesis.
func (d *decoder) node() (*Entry, error) {
	if err := d.expect("type"); err != nil {
		return nil, err
	}
	nodeType, err := d.readString()
	if err != nil {
		return nil, err
	}

	switch EntryType(nodeType) {
	case TypeRegular:
		return d.regular()
	case TypeSymlink:
		return d.symlink()
	case TypeDirectory:
		return d.directory()
	default:
		return nil, d.errorf("unknown node type %q", nodeType)
	}
}

func (d *decoder) regular() (*Entry, error) {
	entry := &Entry{Type: TypeRegular}

	token, err := d.readString()
	if err != nil {
		return nil, err
	}
	if token == "executable" {
		if err := d.expect(""); err != nil {
			return nil, err
		}
		entry.Executable = true
		if token, err = d.readString(); err != nil {
			return nil, err
		}
	}
	if token != "contents" {
		return nil, d.errorf("expected %q, got %q", "contents", token)
	}

	size, err := d.readLength()
	if err != nil {
		return nil, err
	}
	if size > math.MaxInt64 {
		return nil, d.errorf("file contents length %d out of range", size)
	}
	offset := d.offset
	entry.Size = &size
	entry.NarOffset = &offset

	skipped, err := io.CopyN(io.Discard, d.reader, int64(size))
	d.offset += uint64(skipped)
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, d.errorf("unexpected end of archive in file contents")
		}
		return nil, fmt.Errorf("reading archive: %w", err)
	}
	if err := d.readPadding(size); err != nil {
		return nil, err
	}

	if err := d.expect(")"); err != nil {
		return nil, err
	}
	return entry, nil
}

func (d *decoder) symlink() (*Entry, error) {
	if err := d.expect("target"); err != nil {
		return nil, err
	}
	target, err := d.readString()
	if err != nil {
		return nil, err
	}
	if err := d.expect(")"); err != nil {
		return nil, err
	}
	return &Entry{Type: TypeSymlink, Target: target}, nil
}

func (d *decoder) directory() (*Entry, error) {
	entry := &Entry{Type: TypeDirectory, Entries: map[string]*Entry{}}
	previous := ""
	first := true

	for {
		token, err := d.readString()
		if err != nil {
			return nil, err
		}
		if token == ")" {
			return entry, nil
		}
		if token != "entry" {
			return nil, d.errorf("expected %q or %q, got %q", "entry", ")", token)
		}

		if err := d.expect("("); err != nil {
			return nil, err
		}
		if err := d.expect("name"); err != nil {
			return nil, err
		}
		name, err := d.readString()
		if err != nil {
			return nil, err
		}
		if err := validateName(name); err != nil {
			return nil, d.errorf("%v", err)
		}
		if !first && name <= previous {
			return nil, d.errorf("entry %q is not sorted after %q", name, previous)
		}
		first = false
		previous = name

		if err := d.expect("node"); err != nil {
			return nil, err
		}
		if err := d.expect("("); err != nil {
			return nil, err
		}
		child, err := d.node()
		if err != nil {
			return nil, err
		}
		if err := d.expect(")"); err != nil {
			return nil, err
		}
		entry.Entries[name] = child
	}
}

func validateName(name string) error {
	switch {
	case name == "":
		return fmt.Errorf("empty entry name")
	case name == "." || name == "..":
		return fmt.Errorf("invalid entry name %q", name)
	case strings.ContainsAny(name, "/\x00"):
		return fmt.Errorf("entry name %q contains a slash or NUL", name)
	}
	return nil
}
