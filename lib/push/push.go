// Copyright 2026 The narpush Authors
// SPDX-License-Identifier: Apache-2.0

package push

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/narcache/narpush/lib/cacheclient"
	"github.com/narcache/narpush/lib/narinfo"
	"github.com/narcache/narpush/lib/narstage"
	"github.com/narcache/narpush/lib/nix"
)

// DefaultMaxConcurrent bounds in-flight uploads when
// Config.MaxConcurrent is zero.
const DefaultMaxConcurrent = 16

// CacheService is the upload protocol. *cacheclient.Client implements
// it.
type CacheService interface {
	Negotiate(ctx context.Context, closure string, objects []cacheclient.Object) (*cacheclient.PendingClosure, error)
	Upload(ctx context.Context, presignedURL string, body io.Reader, size int64) error
	Complete(ctx context.Context, id string) error
}

// Config holds configuration for creating a Pusher.
type Config struct {
	// Provider supplies closure metadata. Required.
	Provider nix.Provider

	// Service is the cache service. Required.
	Service CacheService

	// MaxConcurrent bounds the tasks in flight in each upload phase.
	// Defaults to DefaultMaxConcurrent.
	MaxConcurrent int

	// Stage configures archive staging: compression, temp directory
	// and case hack.
	Stage narstage.Options

	// FailFast cancels a phase's remaining tasks at the first failure
	// instead of running them all and reporting every failure.
	FailFast bool

	// Logger is used for structured logging. Defaults to slog.Default().
	Logger *slog.Logger
}

// Pusher uploads closures to a cache service.
type Pusher struct {
	provider      nix.Provider
	service       CacheService
	maxConcurrent int
	stage         narstage.Options
	stager        func(context.Context, string, narstage.Options) (*narstage.Artifact, error)
	failFast      bool
	logger        *slog.Logger
}

// New creates a Pusher.
func New(config Config) (*Pusher, error) {
	if config.Provider == nil {
		return nil, errors.New("push: Provider is required")
	}
	if config.Service == nil {
		return nil, errors.New("push: Service is required")
	}
	if config.MaxConcurrent < 0 {
		return nil, fmt.Errorf("push: MaxConcurrent must be positive (got %d)", config.MaxConcurrent)
	}
	maxConcurrent := config.MaxConcurrent
	if maxConcurrent == 0 {
		maxConcurrent = DefaultMaxConcurrent
	}

	stage := config.Stage
	if stage.Compression == "" {
		stage.Compression = narstage.CompressionZstd
	}
	if _, err := narstage.ParseCompression(string(stage.Compression)); err != nil {
		return nil, fmt.Errorf("push: %w", err)
	}

	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Pusher{
		provider:      config.Provider,
		service:       config.Service,
		maxConcurrent: maxConcurrent,
		stage:         stage,
		stager:        narstage.Stage,
		failFast:      config.FailFast,
		logger:        logger,
	}, nil
}

// Report summarizes a push.
type Report struct {
	// Paths is the number of store paths in the closure.
	Paths int

	// ClosureIDs are the pending closures negotiated, in negotiation
	// order. After a failed push they remain pending on the service.
	ClosureIDs []string

	// Completed is true once every pending closure was completed.
	Completed bool

	ArchivesUploaded int
	NarinfosUploaded int

	// ArchivesStaged counts archives that were already on the service
	// but had to be staged again because their narinfo was missing.
	ArchivesStaged int

	// Present counts objects the service already held.
	Present int

	// BytesUploaded is the total of compressed archive and narinfo
	// bytes transferred.
	BytesUploaded uint64

	Duration time.Duration
}

// archiveResult is what phase two needs from phase one.
type archiveResult struct {
	fileSize uint64
	fileHash string
	uploaded bool
}

// Push uploads the closure of roots. The returned Report is non-nil
// whenever negotiation started, including on failure, so callers can
// see which pending closures were left behind.
func (p *Pusher) Push(ctx context.Context, roots []string) (*Report, error) {
	start := time.Now()
	report := &Report{}
	defer func() { report.Duration = time.Since(start) }()

	if len(roots) == 0 {
		return report, errors.New("push: no store paths given")
	}

	records, err := p.provider.QueryClosure(ctx, roots)
	if err != nil {
		return report, err
	}
	objects, err := BuildObjects(records, p.stage.Compression)
	if err != nil {
		return report, &nix.MetadataError{Source: "closure", Err: err}
	}
	report.Paths = len(objects)
	p.logger.Info("resolved closure", "roots", len(roots), "paths", len(objects))

	pending, err := p.negotiate(ctx, objects, report)
	if err != nil {
		return report, err
	}
	report.Present = 2*len(objects) - len(pending)
	p.logger.Info("negotiated closures",
		"closures", len(report.ClosureIDs),
		"pending", len(pending),
		"present", report.Present,
	)

	if err := p.upload(ctx, objects, pending, report); err != nil {
		p.logger.Warn("push failed, pending closures left incomplete",
			"closure_ids", report.ClosureIDs,
			"error", err,
		)
		return report, err
	}

	for _, id := range report.ClosureIDs {
		if err := p.service.Complete(ctx, id); err != nil {
			return report, err
		}
	}
	report.Completed = true

	p.logger.Info("push complete",
		"paths", report.Paths,
		"archives_uploaded", report.ArchivesUploaded,
		"narinfos_uploaded", report.NarinfosUploaded,
		"bytes_uploaded", report.BytesUploaded,
	)
	return report, nil
}

// negotiate submits every path's closure, in order, and merges the
// pending objects of all of them by key.
func (p *Pusher) negotiate(ctx context.Context, objects []*PathObjects, report *Report) (map[string]cacheclient.PendingObject, error) {
	pending := make(map[string]cacheclient.PendingObject)
	for _, path := range objects {
		closure, err := p.service.Negotiate(ctx, path.ClosureKey(),
			[]cacheclient.Object{path.Narinfo, path.Archive})
		if err != nil {
			return nil, err
		}
		report.ClosureIDs = append(report.ClosureIDs, closure.ID)
		for key, object := range closure.PendingObjects {
			pending[key] = object
		}
	}
	return pending, nil
}

// upload runs the archive phase and then the narinfo phase.
func (p *Pusher) upload(ctx context.Context, objects []*PathObjects, pending map[string]cacheclient.PendingObject, report *Report) error {
	index := indexByKey(objects)

	// A narinfo needs its archive's compressed size and digest, so an
	// archive is staged if either object is pending.
	var archivePaths, narinfoPaths []*PathObjects
	for _, path := range objects {
		_, archivePending := pending[path.Archive.Key]
		_, narinfoPending := pending[path.Narinfo.Key]
		if archivePending || narinfoPending {
			archivePaths = append(archivePaths, path)
		}
		if narinfoPending {
			narinfoPaths = append(narinfoPaths, path)
		}
	}
	for key := range pending {
		if _, known := index[key]; !known {
			return fmt.Errorf("push: service reported unknown pending object %q", key)
		}
	}

	results := make([]archiveResult, len(archivePaths))
	archiveTasks := make([]task, len(archivePaths))
	for taskIndex, path := range archivePaths {
		target, transfer := pending[path.Archive.Key]
		archiveTasks[taskIndex] = task{
			key: path.Archive.Key,
			run: func(ctx context.Context) error {
				result, err := p.stageArchive(ctx, path, target.PresignedURL, transfer)
				results[taskIndex] = result
				return err
			},
		}
	}
	if err := runBatch(ctx, "archive", p.maxConcurrent, p.failFast, archiveTasks); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	archives := make(map[string]archiveResult, len(archivePaths))
	for taskIndex, path := range archivePaths {
		result := results[taskIndex]
		archives[path.Hash] = result
		if result.uploaded {
			report.ArchivesUploaded++
			report.BytesUploaded += result.fileSize
		} else {
			report.ArchivesStaged++
		}
	}

	sizes := make([]int, len(narinfoPaths))
	narinfoTasks := make([]task, len(narinfoPaths))
	for taskIndex, path := range narinfoPaths {
		target := pending[path.Narinfo.Key]
		narinfoTasks[taskIndex] = task{
			key: path.Narinfo.Key,
			run: func(ctx context.Context) error {
				archive, ok := archives[path.Hash]
				if !ok {
					return fmt.Errorf("archive of %s has no staging result", path.StorePath)
				}
				size, err := p.uploadNarinfo(ctx, path, archive, target.PresignedURL)
				sizes[taskIndex] = size
				return err
			},
		}
	}
	if err := runBatch(ctx, "narinfo", p.maxConcurrent, p.failFast, narinfoTasks); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	for _, size := range sizes {
		report.NarinfosUploaded++
		report.BytesUploaded += uint64(size)
	}
	return nil
}

// stageArchive stages the archive of path, checks it against the
// recorded metadata and, when transfer is set, uploads it.
func (p *Pusher) stageArchive(ctx context.Context, path *PathObjects, presignedURL string, transfer bool) (archiveResult, error) {
	artifact, err := p.stager(ctx, path.StorePath, p.stage)
	if err != nil {
		return archiveResult{}, err
	}
	defer artifact.Close()

	if err := artifact.Verify(string(path.Info.NarHash), path.Info.NarSize); err != nil {
		return archiveResult{}, err
	}

	result := archiveResult{fileSize: artifact.Size, fileHash: artifact.FileHash}
	if !transfer {
		p.logger.Debug("staged archive without transfer",
			"store_path", path.StorePath,
			"object_key", path.Archive.Key,
		)
		return result, nil
	}

	file, err := artifact.Open()
	if err != nil {
		return archiveResult{}, err
	}
	defer file.Close()

	if err := p.service.Upload(ctx, presignedURL, file, int64(artifact.Size)); err != nil {
		return archiveResult{}, err
	}
	result.uploaded = true

	p.logger.Debug("uploaded archive",
		"store_path", path.StorePath,
		"object_key", path.Archive.Key,
		"nar_size", artifact.NarSize,
		"file_size", artifact.Size,
	)
	return result, nil
}

// uploadNarinfo renders and uploads the narinfo of path. It returns
// the rendered size.
func (p *Pusher) uploadNarinfo(ctx context.Context, path *PathObjects, archive archiveResult, presignedURL string) (int, error) {
	narHash, err := path.Info.NarHash.Normalized()
	if err != nil {
		return 0, fmt.Errorf("narHash of %s: %w", path.StorePath, err)
	}

	content := narinfo.Render(&narinfo.Info{
		StorePath:   path.StorePath,
		URL:         path.Archive.Key,
		Compression: p.stage.Compression.String(),
		FileHash:    archive.fileHash,
		FileSize:    archive.fileSize,
		NarHash:     narHash,
		NarSize:     path.Info.NarSize,
		References:  path.Info.References,
		Deriver:     path.Info.Deriver,
		Signatures:  path.Info.Signatures,
		CA:          string(path.Info.CA),
	})

	if err := p.service.Upload(ctx, presignedURL, bytes.NewReader([]byte(content)), int64(len(content))); err != nil {
		return 0, err
	}

	p.logger.Debug("uploaded narinfo",
		"store_path", path.StorePath,
		"object_key", path.Narinfo.Key,
	)
	return len(content), nil
}
