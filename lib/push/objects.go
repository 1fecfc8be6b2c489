// Copyright 2026 The narpush Authors
// SPDX-License-Identifier: Apache-2.0

package push

import (
	"fmt"
	"slices"

	"github.com/narcache/narpush/lib/cacheclient"
	"github.com/narcache/narpush/lib/narstage"
	"github.com/narcache/narpush/lib/nix"
)

// NarinfoKey returns the object key of a store path's narinfo.
func NarinfoKey(hash string) string {
	return hash + ".narinfo"
}

// ArchiveKey returns the object key of a store path's compressed
// archive. The key doubles as the narinfo URL.
func ArchiveKey(hash string, compression narstage.Compression) string {
	return "nar/" + hash + ".nar" + compression.Extension()
}

// PathObjects are the cache objects of one store path.
type PathObjects struct {
	StorePath string

	// Hash is the store path's hash part, shared by both keys.
	Hash string

	Info *nix.PathInfo

	// Narinfo refs are the narinfo keys of the path's references
	// (self-references excluded), followed by the archive key.
	Narinfo cacheclient.Object

	// Archive has no refs.
	Archive cacheclient.Object
}

// ClosureKey identifies the path's pending closure.
func (objects *PathObjects) ClosureKey() string {
	return objects.Narinfo.Key
}

// BuildObjects derives the cache objects of every record, sorted by
// store path so negotiation order is deterministic.
func BuildObjects(records map[string]*nix.PathInfo, compression narstage.Compression) ([]*PathObjects, error) {
	storePaths := make([]string, 0, len(records))
	for storePath := range records {
		storePaths = append(storePaths, storePath)
	}
	slices.Sort(storePaths)

	result := make([]*PathObjects, 0, len(storePaths))
	for _, storePath := range storePaths {
		info := records[storePath]
		hash, err := nix.StorePathHash(storePath)
		if err != nil {
			return nil, err
		}

		archiveKey := ArchiveKey(hash, compression)
		refs := make([]string, 0, len(info.References)+1)
		for _, reference := range info.References {
			referenceHash, err := nix.StorePathHash(reference)
			if err != nil {
				return nil, fmt.Errorf("reference of %s: %w", storePath, err)
			}
			// A self-reference would only point the narinfo at itself.
			if referenceHash == hash {
				continue
			}
			refs = append(refs, NarinfoKey(referenceHash))
		}
		slices.Sort(refs)
		refs = slices.Compact(refs)
		refs = append(refs, archiveKey)

		result = append(result, &PathObjects{
			StorePath: storePath,
			Hash:      hash,
			Info:      info,
			Narinfo:   cacheclient.Object{Key: NarinfoKey(hash), Refs: refs},
			Archive:   cacheclient.Object{Key: archiveKey},
		})
	}
	return result, nil
}

// objectKind distinguishes the two objects of a path.
type objectKind int

const (
	kindArchive objectKind = iota
	kindNarinfo
)

type objectRef struct {
	path *PathObjects
	kind objectKind
}

// indexByKey maps every object key back to its path.
func indexByKey(objects []*PathObjects) map[string]objectRef {
	index := make(map[string]objectRef, 2*len(objects))
	for _, path := range objects {
		index[path.Narinfo.Key] = objectRef{path: path, kind: kindNarinfo}
		index[path.Archive.Key] = objectRef{path: path, kind: kindArchive}
	}
	return index
}
