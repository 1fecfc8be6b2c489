// Copyright 2026 The narpush Authors
// SPDX-License-Identifier: Apache-2.0

package narstage

import (
	"fmt"
	"io"
	"sync"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Compression identifies the transfer compression applied to an
// archive. The string value is what narinfo Compression lines and the
// configuration file carry.
type Compression string

const (
	// CompressionNone stores the archive as-is.
	CompressionNone Compression = "none"

	// CompressionZstd is the default: good ratio on store contents
	// (binaries, text, man pages) at acceptable CPU cost.
	CompressionZstd Compression = "zstd"

	// CompressionLZ4 uses the LZ4 frame format. Faster than zstd with
	// a worse ratio, for pushes where CPU is scarcer than bandwidth.
	CompressionLZ4 Compression = "lz4"
)

// ParseCompression parses a compression name. The empty string selects
// [CompressionZstd].
func ParseCompression(name string) (Compression, error) {
	switch name {
	case "", "zstd":
		return CompressionZstd, nil
	case "none":
		return CompressionNone, nil
	case "lz4":
		return CompressionLZ4, nil
	default:
		return "", fmt.Errorf("unknown compression %q (want none, zstd or lz4)", name)
	}
}

// Extension returns the suffix appended to "nar/<hash>.nar" in the
// archive's object key.
func (c Compression) Extension() string {
	switch c {
	case CompressionZstd:
		return ".zst"
	case CompressionLZ4:
		return ".lz4"
	default:
		return ""
	}
}

func (c Compression) String() string { return string(c) }

// compressor is a streaming compressor over a destination writer.
// Close flushes the final frame; it does not close the destination.
// release returns pooled state and must be called exactly once, after
// Close or on abandonment.
type compressor interface {
	io.WriteCloser
	release(clean bool)
}

func newCompressor(compression Compression, zstdLevel int, destination io.Writer) (compressor, error) {
	switch compression {
	case CompressionNone:
		return &plainCompressor{Writer: destination}, nil

	case CompressionZstd:
		pool := zstdPool(zstdLevel)
		encoder, ok := pool.Get().(*zstd.Encoder)
		if !ok || encoder == nil {
			var err error
			encoder, err = zstd.NewWriter(nil,
				zstd.WithEncoderLevel(zstd.EncoderLevelFromZstd(zstdLevel)),
				zstd.WithEncoderConcurrency(1),
			)
			if err != nil {
				return nil, fmt.Errorf("zstd encoder initialization: %w", err)
			}
		}
		encoder.Reset(destination)
		return &zstdCompressor{Encoder: encoder, pool: pool}, nil

	case CompressionLZ4:
		writer := lz4.NewWriter(destination)
		if err := writer.Apply(lz4.ConcurrencyOption(1)); err != nil {
			return nil, fmt.Errorf("lz4 writer options: %w", err)
		}
		return &lz4Compressor{Writer: writer}, nil

	default:
		return nil, fmt.Errorf("unsupported compression %q", compression)
	}
}

type plainCompressor struct{ io.Writer }

func (*plainCompressor) Close() error    { return nil }
func (*plainCompressor) release(_ bool) {}

// Encoders are reused across stages to avoid repeated allocation of
// their (multi-megabyte) window buffers. An encoder is only returned to
// its pool after a clean Close; one abandoned mid-frame is dropped.
var zstdPools sync.Map // int level -> *sync.Pool

func zstdPool(level int) *sync.Pool {
	if pool, ok := zstdPools.Load(level); ok {
		return pool.(*sync.Pool)
	}
	pool, _ := zstdPools.LoadOrStore(level, &sync.Pool{})
	return pool.(*sync.Pool)
}

type zstdCompressor struct {
	*zstd.Encoder
	pool *sync.Pool
}

func (c *zstdCompressor) release(clean bool) {
	if !clean {
		return
	}
	c.Encoder.Reset(nil)
	c.pool.Put(c.Encoder)
}

type lz4Compressor struct{ *lz4.Writer }

func (*lz4Compressor) release(_ bool) {}
