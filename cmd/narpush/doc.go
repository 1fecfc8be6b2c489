// Copyright 2026 The narpush Authors
// SPDX-License-Identifier: Apache-2.0

// narpush uploads Nix store closures to a binary cache service.
//
// "narpush push" resolves the closure of the given store paths,
// negotiates with the cache which objects it is missing, and uploads
// those as compressed archives and narinfo files. The remaining
// subcommands expose the archive codec for inspection: "dump" writes
// the archive of a path, "hash" prints its NarHash and NarSize, and
// "ls" lists the contents of an archive file.
package main
