// Copyright 2026 The narpush Authors
// SPDX-License-Identifier: Apache-2.0

package nix

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"slices"

	"github.com/tidwall/jsonc"
)

// Provider returns closure metadata: a map from store path to
// [PathInfo] covering every root and everything reachable from it
// through references.
type Provider interface {
	QueryClosure(ctx context.Context, roots []string) (map[string]*PathInfo, error)
}

// MetadataError reports that closure metadata could not be obtained or
// is unusable.
type MetadataError struct {
	// Source names where the metadata came from: the nix command line
	// or the metadata file path.
	Source string
	Err    error
}

func (e *MetadataError) Error() string {
	return fmt.Sprintf("closure metadata from %s: %v", e.Source, e.Err)
}

func (e *MetadataError) Unwrap() error { return e.Err }

// CommandProvider queries the local store with
// "nix path-info --recursive --json".
type CommandProvider struct {
	// Binary is the nix binary name or absolute path. Empty means "nix".
	Binary string

	// Env, if non-empty, replaces the command's environment
	// (e.g. to set NIX_REMOTE or NIX_STORE_DIR).
	Env []string
}

// QueryClosure implements Provider.
func (p *CommandProvider) QueryClosure(ctx context.Context, roots []string) (map[string]*PathInfo, error) {
	binary := p.Binary
	if binary == "" {
		binary = "nix"
	}
	args := append([]string{
		"--extra-experimental-features", "nix-command",
		"path-info", "--recursive", "--json", "--",
	}, roots...)

	output, err := run(ctx, binary, p.Env, args)
	if err != nil {
		return nil, &MetadataError{Source: binary + " path-info", Err: err}
	}

	infos, err := ParsePathInfoJSON(output)
	if err != nil {
		return nil, &MetadataError{Source: binary + " path-info", Err: err}
	}
	if err := CheckClosure(infos, roots); err != nil {
		return nil, &MetadataError{Source: binary + " path-info", Err: err}
	}
	return infos, nil
}

// FileProvider reads path-info JSON from a file. The file may contain
// more paths than the requested closure; only the closure of the roots
// is returned. Comments and trailing commas are accepted.
type FileProvider struct {
	Path string
}

// QueryClosure implements Provider.
func (p *FileProvider) QueryClosure(_ context.Context, roots []string) (map[string]*PathInfo, error) {
	data, err := os.ReadFile(p.Path)
	if err != nil {
		return nil, &MetadataError{Source: p.Path, Err: err}
	}

	all, err := ParsePathInfoJSON(jsonc.ToJSON(data))
	if err != nil {
		return nil, &MetadataError{Source: p.Path, Err: err}
	}

	closure, err := Closure(all, roots)
	if err != nil {
		return nil, &MetadataError{Source: p.Path, Err: err}
	}
	return closure, nil
}

// ParsePathInfoJSON decodes path-info JSON in either of the shapes
// nix has produced: an array of objects carrying a "path" field (before
// Nix 2.19) or an object keyed by store path. A null value in the
// keyed form means the path is not valid in the store.
func ParsePathInfoJSON(data []byte) (map[string]*PathInfo, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("empty path-info output")
	}

	result := make(map[string]*PathInfo)

	switch trimmed[0] {
	case '[':
		var list []*PathInfo
		if err := json.Unmarshal(trimmed, &list); err != nil {
			return nil, fmt.Errorf("parsing path-info list: %w", err)
		}
		for index, info := range list {
			if info == nil || info.Path == "" {
				return nil, fmt.Errorf("path-info entry %d has no path", index)
			}
			result[info.Path] = info
		}

	case '{':
		var keyed map[string]*PathInfo
		if err := json.Unmarshal(trimmed, &keyed); err != nil {
			return nil, fmt.Errorf("parsing path-info map: %w", err)
		}
		for storePath, info := range keyed {
			if info == nil {
				return nil, fmt.Errorf("store path %s is not valid", storePath)
			}
			info.Path = storePath
			result[storePath] = info
		}

	default:
		return nil, fmt.Errorf("path-info output is neither a JSON array nor an object")
	}

	for storePath, info := range result {
		if _, err := StorePathHash(storePath); err != nil {
			return nil, err
		}
		if info.NarHash == "" {
			return nil, fmt.Errorf("store path %s has no narHash", storePath)
		}
	}
	return result, nil
}

// CheckClosure verifies that infos contains every root and every
// reference of every path, i.e. that it is closed under references.
func CheckClosure(infos map[string]*PathInfo, roots []string) error {
	for _, root := range roots {
		if _, ok := infos[root]; !ok {
			return fmt.Errorf("root %s missing from closure metadata", root)
		}
	}
	for storePath, info := range infos {
		for _, reference := range info.References {
			if _, ok := infos[reference]; !ok {
				return fmt.Errorf("%s references %s, which is missing from closure metadata", storePath, reference)
			}
		}
	}
	return nil
}

// Closure returns the subset of all reachable from roots by following
// references. It fails if a root or a reference is missing.
func Closure(all map[string]*PathInfo, roots []string) (map[string]*PathInfo, error) {
	result := make(map[string]*PathInfo)
	stack := slices.Clone(roots)

	for len(stack) > 0 {
		storePath := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if _, seen := result[storePath]; seen {
			continue
		}

		info, ok := all[storePath]
		if !ok {
			return nil, fmt.Errorf("%s missing from closure metadata", storePath)
		}
		result[storePath] = info
		for _, reference := range info.References {
			if _, seen := result[reference]; !seen {
				stack = append(stack, reference)
			}
		}
	}
	return result, nil
}
