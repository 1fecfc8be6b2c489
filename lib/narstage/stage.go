// Copyright 2026 The narpush Authors
// SPDX-License-Identifier: Apache-2.0

package narstage

import (
	"bufio"
	"context"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"hash"
	"io"
	"os"

	"github.com/narcache/narpush/lib/nar"
	"github.com/narcache/narpush/lib/nixbase32"
)

// DefaultPipeBufferSize is the capacity of the buffer between the
// archive encoder and the compressor.
const DefaultPipeBufferSize = 64 * 1024

// DefaultZstdLevel is the zstd level used when Options.ZstdLevel is
// zero.
const DefaultZstdLevel = 3

// Options configures [Stage].
type Options struct {
	Compression Compression

	// ZstdLevel is the zstd compression level (1-22). Zero means
	// DefaultZstdLevel. Ignored for other compressions.
	ZstdLevel int

	// TempDir is where staging files are created. Empty means
	// os.TempDir().
	TempDir string

	// Archive controls archive encoding (case hack).
	Archive nar.Options

	// PipeBufferSize overrides DefaultPipeBufferSize.
	PipeBufferSize int
}

func (o Options) withDefaults() Options {
	if o.Compression == "" {
		o.Compression = CompressionZstd
	}
	if o.ZstdLevel == 0 {
		o.ZstdLevel = DefaultZstdLevel
	}
	if o.PipeBufferSize <= 0 {
		o.PipeBufferSize = DefaultPipeBufferSize
	}
	return o
}

// Artifact is a staged, compressed archive on local disk. The caller
// owns it and must call Close to delete the file.
type Artifact struct {
	// StorePath is the path that was archived.
	StorePath string

	// Path is the temporary file holding the compressed archive.
	Path string

	Compression Compression

	// Size and FileHash describe the compressed bytes in Path.
	// FileHash is "sha256:" followed by the standard base64 encoding
	// of the digest.
	Size     uint64
	FileHash string

	// NarSize and NarHash describe the uncompressed archive. NarHash
	// is "sha256:<nix32>".
	NarSize uint64
	NarHash string
}

// Open returns a reader over the compressed archive, positioned at the
// start. The caller closes it. Open may be called repeatedly.
func (a *Artifact) Open() (*os.File, error) {
	file, err := os.Open(a.Path)
	if err != nil {
		return nil, fmt.Errorf("opening staged archive for %s: %w", a.StorePath, err)
	}
	return file, nil
}

// Close deletes the staging file. It is safe to call more than once.
func (a *Artifact) Close() error {
	if a.Path == "" {
		return nil
	}
	err := os.Remove(a.Path)
	a.Path = ""
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("removing staged archive: %w", err)
	}
	return nil
}

// Verify compares the uncompressed size and digest observed while
// staging against the values recorded in the store's metadata.
// narHash may be in any form [nixbase32.NormalizeHash] accepts.
func (a *Artifact) Verify(narHash string, narSize uint64) error {
	expected, err := nixbase32.NormalizeHash(narHash)
	if err != nil {
		return fmt.Errorf("recorded narHash for %s: %w", a.StorePath, err)
	}
	if narSize != a.NarSize || expected != a.NarHash {
		return &MismatchError{
			StorePath:    a.StorePath,
			ExpectedHash: expected,
			ExpectedSize: narSize,
			ActualHash:   a.NarHash,
			ActualSize:   a.NarSize,
		}
	}
	return nil
}

// MismatchError reports that a path's archive does not match the
// metadata the store recorded for it: the path was modified on disk,
// or the archive encoder disagrees with Nix's.
type MismatchError struct {
	StorePath    string
	ExpectedHash string
	ExpectedSize uint64
	ActualHash   string
	ActualSize   uint64
}

func (e *MismatchError) Error() string {
	return fmt.Sprintf("archive of %s does not match store metadata: recorded %s (%d bytes), archived %s (%d bytes)",
		e.StorePath, e.ExpectedHash, e.ExpectedSize, e.ActualHash, e.ActualSize)
}

// Stage archives storePath, compresses it and writes the result to a
// temporary file, computing the compressed and uncompressed sizes and
// digests along the way.
//
// Archive failures are returned unchanged (*nar.PathError,
// *nar.IntegrityError) so callers can classify them with errors.As.
// On any error the temporary file has already been removed.
func Stage(ctx context.Context, storePath string, options Options) (artifact *Artifact, err error) {
	options = options.withDefaults()

	file, err := os.CreateTemp(options.TempDir, "narpush-*.nar"+options.Compression.Extension())
	if err != nil {
		return nil, fmt.Errorf("creating staging file: %w", err)
	}
	defer func() {
		if err != nil {
			file.Close()
			os.Remove(file.Name())
		}
	}()

	compressed := newAccumulator(file)
	compressor, err := newCompressor(options.Compression, options.ZstdLevel, compressed)
	if err != nil {
		return nil, err
	}

	pipeReader, pipeWriter := io.Pipe()
	uncompressed := newAccumulator(io.Discard)
	produced := make(chan error, 1)

	go func() {
		buffered := bufio.NewWriterSize(pipeWriter, options.PipeBufferSize)
		produceErr := nar.Dump(io.MultiWriter(uncompressed, buffered), storePath, options.Archive)
		if produceErr == nil {
			produceErr = buffered.Flush()
		}
		// A nil error closes the pipe with io.EOF.
		pipeWriter.CloseWithError(produceErr)
		produced <- produceErr
	}()

	copyErr := consume(ctx, compressor, pipeReader)
	if copyErr != nil {
		// Unblock the producer if it is waiting on a full pipe.
		pipeReader.CloseWithError(copyErr)
	}
	compressor.release(copyErr == nil)

	// The producer's own failure is more precise than the pipe error
	// the consumer saw, so it takes precedence.
	if produceErr := <-produced; produceErr != nil {
		return nil, produceErr
	}
	if copyErr != nil {
		return nil, fmt.Errorf("compressing archive of %s: %w", storePath, copyErr)
	}

	if err := file.Close(); err != nil {
		return nil, fmt.Errorf("closing staging file: %w", err)
	}

	return &Artifact{
		StorePath:   storePath,
		Path:        file.Name(),
		Compression: options.Compression,
		Size:        compressed.count,
		FileHash:    "sha256:" + base64.StdEncoding.EncodeToString(compressed.sum()),
		NarSize:     uncompressed.count,
		NarHash:     nixbase32.DigestAddress("sha256", uncompressed.sum()),
	}, nil
}

// consume copies the pipe through the compressor and flushes the final
// frame.
func consume(ctx context.Context, compressor compressor, source io.Reader) error {
	buffer := make([]byte, DefaultPipeBufferSize)
	if _, err := io.CopyBuffer(compressor, &contextReader{ctx: ctx, reader: source}, buffer); err != nil {
		return err
	}
	return compressor.Close()
}

// accumulator counts and hashes every byte written through it. Each
// stage owns its accumulators; they are read only after the goroutine
// writing them has finished.
type accumulator struct {
	writer io.Writer
	hasher hash.Hash
	count  uint64
}

func newAccumulator(writer io.Writer) *accumulator {
	return &accumulator{writer: writer, hasher: sha256.New()}
}

func (a *accumulator) Write(data []byte) (int, error) {
	written, err := a.writer.Write(data)
	a.hasher.Write(data[:written])
	a.count += uint64(written)
	return written, err
}

func (a *accumulator) sum() []byte {
	return a.hasher.Sum(nil)
}

// contextReader stops a copy once ctx is done.
type contextReader struct {
	ctx    context.Context
	reader io.Reader
}

func (r *contextReader) Read(buffer []byte) (int, error) {
	if err := r.ctx.Err(); err != nil {
		return 0, err
	}
	return r.reader.Read(buffer)
}
