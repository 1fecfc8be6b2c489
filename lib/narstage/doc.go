// Copyright 2026 The narpush Authors
// SPDX-License-Identifier: Apache-2.0

// Package narstage turns a store path into a compressed archive on
// local disk whose size and digest are known before the transfer
// begins.
//
// Presigned PUT targets require a Content-Length up front, but the
// compressed size of an archive is only known once compression has
// finished. [Stage] therefore runs the archive encoder and the
// compressor concurrently on either side of a bounded in-memory pipe,
// hashes the compressed stream as it is written to a temporary file,
// and returns an [Artifact] owning that file:
//
//	nar.Dump ─▶ bufio (64 KiB) ─▶ io.Pipe ─▶ compressor ─▶ sha256+count ─▶ temp file
//	    └─▶ sha256+count (uncompressed)
//
// The pipe blocks the encoder while the compressor is behind and the
// compressor while the encoder is behind, so memory use does not
// depend on the archive's size. Each stage owns its digests and its
// temporary file; nothing is shared between concurrent stages except
// the pool of idle zstd encoders.
package narstage
