// Copyright 2026 The narpush Authors
// SPDX-License-Identifier: Apache-2.0

// Package push uploads the closure of a set of store paths to a binary
// cache.
//
// Every store path becomes two cache objects: its compressed archive
// ("nar/<hash>.nar.zst") and its narinfo ("<hash>.narinfo"), whose
// refs name the narinfos of its dependencies and its own archive. Each
// path is negotiated as its own pending closure, keyed by its narinfo.
// The pending objects the service reports across all negotiations are
// merged by key, so a dependency shared by several roots is uploaded
// once.
//
// Uploads run in two phases under the same concurrency bound. Phase
// one stages and transfers archives; phase two renders and transfers
// narinfos, which embed the compressed size and digest that only
// phase one can produce. A narinfo therefore never reaches the service
// before its archive. Once both phases succeed, every pending closure
// is completed.
//
// By default a phase runs every task to completion and then reports
// all failures together as a *[BatchError]; a single failure still
// fails the push. [Config.FailFast] cancels the remaining tasks at the
// first failure instead. Filesystem failures always cancel the phase,
// since they will not go away on their own.
package push
