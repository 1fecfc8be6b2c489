// Copyright 2026 The narpush Authors
// SPDX-License-Identifier: Apache-2.0

package nar

import (
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
)

// Magic is the version token every archive starts with.
const Magic = "nix-archive-1"

// Structural tokens, pre-encoded so the hot path never re-derives
// their length prefix and padding.
var (
	tokenMagic      = encodeToken(Magic)
	tokenOpen       = encodeToken("(")
	tokenClose      = encodeToken(")")
	tokenType       = encodeToken("type")
	tokenRegular    = encodeToken("regular")
	tokenExecutable = encodeToken("executable")
	tokenEmpty      = encodeToken("")
	tokenContents   = encodeToken("contents")
	tokenDirectory  = encodeToken("directory")
	tokenEntry      = encodeToken("entry")
	tokenName       = encodeToken("name")
	tokenNode       = encodeToken("node")
	tokenSymlink    = encodeToken("symlink")
	tokenTarget     = encodeToken("target")
)

// copyBufferSize is the read size used when streaming file contents.
const copyBufferSize = 128 * 1024

var zeroPadding [8]byte

// Padding returns the number of zero bytes that follow a string of
// length n: (8 - n mod 8) mod 8.
func Padding(n uint64) uint64 {
	return (8 - n%8) % 8
}

func encodeToken(token string) []byte {
	length := uint64(len(token))
	buffer := make([]byte, 8+length+Padding(length))
	binary.LittleEndian.PutUint64(buffer[:8], length)
	copy(buffer[8:], token)
	return buffer
}

// Dump writes the archive of path to w. path may be a regular file, a
// symlink (which is archived, not followed) or a directory.
//
// Filesystem failures are returned as *[PathError], a file that
// changes size mid-stream as *[IntegrityError]. Errors from w are
// returned wrapped as-is.
func Dump(w io.Writer, path string, options Options) error {
	encoder := &encoder{
		writer:  w,
		options: options,
		buffer:  make([]byte, copyBufferSize),
	}

	if err := encoder.write(tokenMagic); err != nil {
		return err
	}
	if err := encoder.write(tokenOpen); err != nil {
		return err
	}

	info, err := os.Lstat(path)
	if err != nil {
		return &PathError{Op: "lstat", Path: path, Err: err}
	}
	if err := encoder.node(path, info); err != nil {
		return err
	}

	return encoder.write(tokenClose)
}

// Digest archives path and returns the archive's length and SHA-256
// without keeping any of it. This is the NarSize/NarHash pair.
func Digest(path string, options Options) (uint64, [32]byte, error) {
	hasher := sha256.New()
	counter := &countingWriter{writer: hasher}
	if err := Dump(counter, path, options); err != nil {
		return 0, [32]byte{}, err
	}
	var digest [32]byte
	copy(digest[:], hasher.Sum(nil))
	return counter.count, digest, nil
}

type countingWriter struct {
	writer io.Writer
	count  uint64
}

func (c *countingWriter) Write(data []byte) (int, error) {
	written, err := c.writer.Write(data)
	c.count += uint64(written)
	return written, err
}

type encoder struct {
	writer  io.Writer
	options Options
	buffer  []byte
	scratch [8]byte
}

func (e *encoder) write(data []byte) error {
	if _, err := e.writer.Write(data); err != nil {
		return fmt.Errorf("writing archive: %w", err)
	}
	return nil
}

func (e *encoder) writeLength(length uint64) error {
	binary.LittleEndian.PutUint64(e.scratch[:], length)
	return e.write(e.scratch[:])
}

func (e *encoder) writePadding(length uint64) error {
	if padding := Padding(length); padding > 0 {
		return e.write(zeroPadding[:padding])
	}
	return nil
}

// writeString encodes variable data: names and symlink targets.
func (e *encoder) writeString(value string) error {
	length := uint64(len(value))
	if err := e.writeLength(length); err != nil {
		return err
	}
	if _, err := io.WriteString(e.writer, value); err != nil {
		return fmt.Errorf("writing archive: %w", err)
	}
	return e.writePadding(length)
}

// node emits "type" and the body of one node. The caller has already
// written the node's opening parenthesis and writes the closing one.
func (e *encoder) node(path string, info fs.FileInfo) error {
	if err := e.write(tokenType); err != nil {
		return err
	}

	mode := info.Mode()
	switch {
	case mode.IsRegular():
		return e.regular(path, info)
	case mode.IsDir():
		return e.directory(path)
	case mode&fs.ModeSymlink != 0:
		return e.symlink(path)
	default:
		return &PathError{
			Op:   "archive",
			Path: path,
			Err:  fmt.Errorf("unsupported file type %s", mode.Type()),
		}
	}
}

func (e *encoder) regular(path string, info fs.FileInfo) error {
	if err := e.write(tokenRegular); err != nil {
		return err
	}
	if info.Mode()&0o100 != 0 {
		if err := e.write(tokenExecutable); err != nil {
			return err
		}
		if err := e.write(tokenEmpty); err != nil {
			return err
		}
	}
	if err := e.write(tokenContents); err != nil {
		return err
	}

	declared := uint64(info.Size())
	if err := e.writeLength(declared); err != nil {
		return err
	}

	file, err := os.Open(path)
	if err != nil {
		return &PathError{Op: "open", Path: path, Err: err}
	}
	defer file.Close()

	streamed, err := io.CopyBuffer(e.writer, io.LimitReader(file, int64(declared)), e.buffer)
	if err != nil {
		var pathErr *fs.PathError
		if errors.As(err, &pathErr) {
			return &PathError{Op: "read", Path: path, Err: err}
		}
		return fmt.Errorf("writing archive: %w", err)
	}
	if uint64(streamed) != declared {
		return &IntegrityError{Path: path, Declared: declared, Streamed: uint64(streamed)}
	}

	// The length is already on the wire, so a file that grew cannot be
	// represented either.
	var extra [1]byte
	if n, _ := file.Read(extra[:]); n > 0 {
		return &IntegrityError{Path: path, Declared: declared, Streamed: declared + uint64(n)}
	}

	return e.writePadding(declared)
}

func (e *encoder) symlink(path string) error {
	target, err := os.Readlink(path)
	if err != nil {
		return &PathError{Op: "readlink", Path: path, Err: err}
	}
	if err := e.write(tokenSymlink); err != nil {
		return err
	}
	if err := e.write(tokenTarget); err != nil {
		return err
	}
	return e.writeString(target)
}

type directoryEntry struct {
	name     string // name on disk
	emitted  string // name written to the archive
	fullPath string
}

func (e *encoder) directory(path string) error {
	if err := e.write(tokenDirectory); err != nil {
		return err
	}

	dirEntries, err := os.ReadDir(path)
	if err != nil {
		return &PathError{Op: "readdir", Path: path, Err: err}
	}

	entries := make([]directoryEntry, 0, len(dirEntries))
	for _, dirEntry := range dirEntries {
		entries = append(entries, directoryEntry{
			name:     dirEntry.Name(),
			emitted:  e.options.entryName(dirEntry.Name()),
			fullPath: filepath.Join(path, dirEntry.Name()),
		})
	}
	// Go string comparison is bytewise, which is the order the format
	// requires.
	slices.SortFunc(entries, func(a, b directoryEntry) int {
		return strings.Compare(a.emitted, b.emitted)
	})
	for i := 1; i < len(entries); i++ {
		if entries[i].emitted == entries[i-1].emitted {
			return &PathError{
				Op:   "archive",
				Path: path,
				Err: fmt.Errorf("entries %q and %q have the same name %q after removing the case hack",
					entries[i-1].name, entries[i].name, entries[i].emitted),
			}
		}
	}

	for _, entry := range entries {
		info, err := os.Lstat(entry.fullPath)
		if err != nil {
			return &PathError{Op: "lstat", Path: entry.fullPath, Err: err}
		}

		if err := e.write(tokenEntry); err != nil {
			return err
		}
		if err := e.write(tokenOpen); err != nil {
			return err
		}
		if err := e.write(tokenName); err != nil {
			return err
		}
		if err := e.writeString(entry.emitted); err != nil {
			return err
		}
		if err := e.write(tokenNode); err != nil {
			return err
		}
		if err := e.write(tokenOpen); err != nil {
			return err
		}
		if err := e.node(entry.fullPath, info); err != nil {
			return err
		}
		if err := e.write(tokenClose); err != nil {
			return err
		}
		if err := e.write(tokenClose); err != nil {
			return err
		}
	}
	return nil
}
