// Copyright 2026 The narpush Authors
// SPDX-License-Identifier: Apache-2.0

package nar

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestListRoundTrip(t *testing.T) {
	root := buildTree(t)
	data := dump(t, root, Options{})

	listing, err := List(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if listing.Version != 1 {
		t.Errorf("Version = %d, want 1", listing.Version)
	}
	if listing.Root.Type != TypeDirectory {
		t.Fatalf("root type = %q, want directory", listing.Root.Type)
	}

	wantNames := []string{"a", "b.sh", "deep", "empty", "emptydir", "link"}
	if len(listing.Root.Entries) != len(wantNames) {
		t.Fatalf("root has %d entries, want %d", len(listing.Root.Entries), len(wantNames))
	}
	for _, name := range wantNames {
		if listing.Root.Entries[name] == nil {
			t.Errorf("missing entry %q", name)
		}
	}

	// Every regular file's offset must point at its contents.
	files := map[string]string{
		"a":    "alpha",
		"b.sh": "#!/bin/sh\n",
	}
	for name, content := range files {
		entry := listing.Root.Entries[name]
		if entry.Type != TypeRegular {
			t.Fatalf("%s: type = %q, want regular", name, entry.Type)
		}
		if *entry.Size != uint64(len(content)) {
			t.Errorf("%s: size = %d, want %d", name, *entry.Size, len(content))
		}
		start := *entry.NarOffset
		if got := string(data[start : start+*entry.Size]); got != content {
			t.Errorf("%s: content at offset %d = %q, want %q", name, start, got, content)
		}
	}

	if !listing.Root.Entries["b.sh"].Executable {
		t.Error("b.sh not marked executable")
	}
	if listing.Root.Entries["a"].Executable {
		t.Error("a marked executable")
	}
	if *listing.Root.Entries["empty"].Size != 0 {
		t.Error("empty file has non-zero size")
	}
	if got := listing.Root.Entries["link"].Target; got != "a" {
		t.Errorf("link target = %q, want a", got)
	}
	if len(listing.Root.Entries["emptydir"].Entries) != 0 {
		t.Error("emptydir has entries")
	}

	deep := listing.Root.Entries["deep"].Entries["x"].Entries["y"].Entries["file"]
	if deep == nil || deep.Type != TypeRegular {
		t.Fatalf("deep/x/y/file missing or wrong type: %+v", deep)
	}
}

func TestListJSONShape(t *testing.T) {
	directory := t.TempDir()
	path := filepath.Join(directory, "tool")
	if err := os.WriteFile(path, []byte("bin"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.Chmod(path, 0o755); err != nil {
		t.Fatal(err)
	}

	listing, err := List(bytes.NewReader(dump(t, path, Options{})))
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	encoded, err := json.Marshal(listing)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	// The contents start after magic (24), "(" (16), "type" (16),
	// "regular" (16), "executable" (24), "" (8), "contents" (16) and
	// the length word (8).
	want := `{"version":1,"root":{"type":"regular","size":3,"executable":true,"narOffset":128}}`
	if string(encoded) != want {
		t.Errorf("listing JSON = %s, want %s", encoded, want)
	}
}

func TestListRejectsMalformedArchives(t *testing.T) {
	valid := archive(Magic, "(", "type", "regular", "contents", "abc", ")")

	nonZeroPadding := append([]byte(nil), valid...)
	// The "abc" padding starts 3 bytes after the contents.
	contentsIndex := bytes.Index(nonZeroPadding, []byte("abc"))
	nonZeroPadding[contentsIndex+3] = 1

	// A contents length that does not fit in an int64, with no bytes behind it.
	hugeContents := archive(Magic, "(", "type", "regular", "contents")
	hugeContents = binary.LittleEndian.AppendUint64(hugeContents, 1<<63)
	hugeContents = append(hugeContents, archive(")")...)

	tests := []struct {
		name string
		data []byte
	}{
		{name: "empty input", data: nil},
		{name: "wrong magic", data: archive("nix-archive-2", "(", "type", "regular", "contents", "", ")")},
		{name: "unknown type", data: archive(Magic, "(", "type", "fifo", ")")},
		{name: "truncated", data: valid[:len(valid)-4]},
		{name: "trailing data", data: append(append([]byte(nil), valid...), 0)},
		{name: "non-zero padding", data: nonZeroPadding},
		{name: "contents length out of range", data: hugeContents},
		{
			name: "unsorted entries",
			data: archive(Magic, "(", "type", "directory",
				"entry", "(", "name", "b", "node", "(", "type", "regular", "contents", "", ")", ")",
				"entry", "(", "name", "a", "node", "(", "type", "regular", "contents", "", ")", ")",
				")"),
		},
		{
			name: "duplicate entries",
			data: archive(Magic, "(", "type", "directory",
				"entry", "(", "name", "a", "node", "(", "type", "regular", "contents", "", ")", ")",
				"entry", "(", "name", "a", "node", "(", "type", "regular", "contents", "", ")", ")",
				")"),
		},
		{
			name: "slash in name",
			data: archive(Magic, "(", "type", "directory",
				"entry", "(", "name", "a/b", "node", "(", "type", "regular", "contents", "", ")", ")",
				")"),
		},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			_, err := List(bytes.NewReader(test.data))
			var formatErr *FormatError
			if !errors.As(err, &formatErr) {
				t.Fatalf("List error = %v, want *FormatError", err)
			}
		})
	}
}
