// Copyright 2026 The narpush Authors
// SPDX-License-Identifier: Apache-2.0

// Package narinfo renders and parses narinfo files, the per-path text
// records a binary cache serves at "<hash>.narinfo".
//
// A narinfo is one "Key: value" line per field:
//
//	StorePath: /nix/store/0c0m1h3a8yscb8d1hy43jv3iz5dhc8w9-hello-2.12
//	URL: nar/0c0m1h3a8yscb8d1hy43jv3iz5dhc8w9.nar.zst
//	Compression: zstd
//	FileHash: sha256:...
//	FileSize: 41232
//	NarHash: sha256:...
//	NarSize: 226560
//	References: 1b9p07z77phvv2hf6gm9f28syp39f1ag-glibc-2.38
//	Deriver: 2w1ia5pq0ij3yx5nrk1c7ivv3nv4xc6a-hello-2.12.drv
//	Sig: cache.example.org-1:...
//	CA: fixed:r:sha256:...
//
// References and Deriver name store paths by basename.
package narinfo

import (
	"bufio"
	"fmt"
	"path"
	"slices"
	"strconv"
	"strings"
)

// Info is the content of one narinfo file.
type Info struct {
	StorePath   string
	URL         string
	Compression string

	// FileHash and FileSize describe the compressed archive at URL.
	FileHash string
	FileSize uint64

	// NarHash and NarSize describe the uncompressed archive.
	NarHash string
	NarSize uint64

	// References and Deriver may be full store paths or basenames;
	// they are always rendered as basenames.
	References []string
	Deriver    string

	Signatures []string
	CA         string
}

// Render formats info as a narinfo. References are sorted so the
// output is deterministic; the References line is omitted when there
// are none.
func Render(info *Info) string {
	var builder strings.Builder
	writeField := func(key, value string) {
		builder.WriteString(key)
		builder.WriteString(": ")
		builder.WriteString(value)
		builder.WriteByte('\n')
	}

	writeField("StorePath", info.StorePath)
	writeField("URL", info.URL)
	writeField("Compression", info.Compression)
	writeField("FileHash", info.FileHash)
	writeField("FileSize", strconv.FormatUint(info.FileSize, 10))
	writeField("NarHash", info.NarHash)
	writeField("NarSize", strconv.FormatUint(info.NarSize, 10))

	if len(info.References) > 0 {
		references := make([]string, len(info.References))
		for index, reference := range info.References {
			references[index] = path.Base(reference)
		}
		slices.Sort(references)
		writeField("References", strings.Join(references, " "))
	}
	if info.Deriver != "" {
		writeField("Deriver", path.Base(info.Deriver))
	}
	for _, signature := range info.Signatures {
		writeField("Sig", signature)
	}
	if info.CA != "" {
		writeField("CA", info.CA)
	}
	return builder.String()
}

// Parse reads a narinfo. Unknown keys are ignored, as Nix does, so
// files written by newer tools still parse. StorePath, URL, NarHash
// and NarSize are required.
func Parse(text string) (*Info, error) {
	info := &Info{}
	seen := make(map[string]bool)

	scanner := bufio.NewScanner(strings.NewReader(text))
	lineNumber := 0
	for scanner.Scan() {
		lineNumber++
		line := scanner.Text()
		if line == "" {
			continue
		}
		key, value, found := strings.Cut(line, ": ")
		if !found {
			// "References:" with nothing after it is how Nix writes
			// an empty reference list.
			if strings.HasSuffix(line, ":") {
				key, value = strings.TrimSuffix(line, ":"), ""
			} else {
				return nil, fmt.Errorf("narinfo line %d: expected \"Key: value\", got %q", lineNumber, line)
			}
		}
		if seen[key] && key != "Sig" {
			return nil, fmt.Errorf("narinfo line %d: duplicate %s", lineNumber, key)
		}
		seen[key] = true

		var err error
		switch key {
		case "StorePath":
			info.StorePath = value
		case "URL":
			info.URL = value
		case "Compression":
			info.Compression = value
		case "FileHash":
			info.FileHash = value
		case "FileSize":
			info.FileSize, err = strconv.ParseUint(value, 10, 64)
		case "NarHash":
			info.NarHash = value
		case "NarSize":
			info.NarSize, err = strconv.ParseUint(value, 10, 64)
		case "References":
			info.References = strings.Fields(value)
		case "Deriver":
			info.Deriver = value
		case "Sig":
			info.Signatures = append(info.Signatures, value)
		case "CA":
			info.CA = value
		}
		if err != nil {
			return nil, fmt.Errorf("narinfo line %d: %s: %w", lineNumber, key, err)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading narinfo: %w", err)
	}

	for _, required := range []string{"StorePath", "URL", "NarHash", "NarSize"} {
		if !seen[required] {
			return nil, fmt.Errorf("narinfo is missing %s", required)
		}
	}
	if info.Compression == "" {
		// Nix's default for narinfos that predate the field.
		info.Compression = "bzip2"
	}
	return info, nil
}
