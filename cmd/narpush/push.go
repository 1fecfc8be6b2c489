// Copyright 2026 The narpush Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/pflag"

	"github.com/narcache/narpush/lib/cacheclient"
	"github.com/narcache/narpush/lib/config"
	"github.com/narcache/narpush/lib/nar"
	"github.com/narcache/narpush/lib/narstage"
	"github.com/narcache/narpush/lib/nix"
	"github.com/narcache/narpush/lib/push"
	"github.com/narcache/narpush/lib/version"
)

// pushOptions holds the push command's flags. flags is the most
// recently parsed flag set, consulted to tell explicit flags from
// defaults.
type pushOptions struct {
	flags *pflag.FlagSet

	configPath    string
	serverURL     string
	tokenFile     string
	maxConcurrent int
	compression   string
	zstdLevel     int
	tempDir       string
	failFast      bool
	nixBinary     string
	pathInfoFile  string
	caseHack      bool
	verbose       bool
	jsonOutput    bool
}

func pushCommand(app *app) *command {
	var options pushOptions
	return &command{
		Name:    "push",
		Summary: "Upload the closure of store paths to a cache",
		Description: `Upload the closure of one or more store paths to a cache service.

Every path in the closure is negotiated with the service; only the
objects the service is missing are staged, compressed and uploaded.
Archives are uploaded before narinfos, so a narinfo never names an
archive the cache does not hold.

Configuration is read from --config, else from the file named by
NARPUSH_CONFIG, else built from flags and the NARPUSH_SERVER_URL and
NARPUSH_AUTH_TOKEN environment variables. Flags override the file.`,
		Usage: "narpush push [flags] <store-path>...",
		Examples: []example{
			{
				Description: "Push a build result",
				Command:     "narpush push --server https://cache.example.org ./result",
			},
			{
				Description: "Push with a config file and LZ4 compression",
				Command:     "narpush push --config /etc/narpush.yaml --compression lz4 /nix/store/...-hello-2.12",
			},
		},
		Environment: []envVar{
			{Name: config.ConfigEnv, Description: "configuration file, when --config is not given"},
			{Name: config.ServerURLEnv, Description: "cache service URL, overriding server.url"},
			{Name: config.AuthTokenEnv, Description: "bearer token, overriding server.auth_token and server.auth_token_file"},
		},
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("push", pflag.ContinueOnError)
			flagSet.StringVar(&options.configPath, "config", "", "configuration file (default: $NARPUSH_CONFIG)")
			flagSet.StringVar(&options.serverURL, "server", "", "cache service URL")
			flagSet.StringVar(&options.tokenFile, "token-file", "", "file holding the bearer token")
			flagSet.IntVarP(&options.maxConcurrent, "jobs", "j", push.DefaultMaxConcurrent, "maximum concurrent uploads per phase")
			flagSet.StringVar(&options.compression, "compression", "zstd", "archive compression: none, zstd or lz4")
			flagSet.IntVar(&options.zstdLevel, "zstd-level", narstage.DefaultZstdLevel, "zstd compression level (1-22)")
			flagSet.StringVar(&options.tempDir, "temp-dir", "", "directory for staged archives (default: system temp)")
			flagSet.BoolVar(&options.failFast, "fail-fast", false, "stop a phase at its first failed upload")
			flagSet.StringVar(&options.nixBinary, "nix", "nix", "nix binary used to query closure metadata")
			flagSet.StringVar(&options.pathInfoFile, "path-info-file", "", "read closure metadata from this nix path-info JSON file instead of running nix")
			flagSet.BoolVar(&options.caseHack, "case-hack", false, "strip ~nix~case~hack~ suffixes from entry names (default: on for macOS)")
			flagSet.BoolVarP(&options.verbose, "verbose", "v", false, "log every staged and uploaded object")
			flagSet.BoolVar(&options.jsonOutput, "json", false, "print the push report as JSON")
			options.flags = flagSet
			return flagSet
		},
		Run: func(ctx context.Context, args []string) error {
			return runPush(ctx, app, &options, args)
		},
	}
}

// pushSummary is the --json form of a push report.
type pushSummary struct {
	Paths            int      `json:"paths"`
	ClosureIDs       []string `json:"closure_ids"`
	Completed        bool     `json:"completed"`
	ArchivesUploaded int      `json:"archives_uploaded"`
	NarinfosUploaded int      `json:"narinfos_uploaded"`
	ArchivesStaged   int      `json:"archives_staged"`
	Present          int      `json:"present"`
	BytesUploaded    uint64   `json:"bytes_uploaded"`
	DurationSeconds  float64  `json:"duration_seconds"`
}

func runPush(ctx context.Context, app *app, options *pushOptions, args []string) error {
	if len(args) == 0 {
		return errors.New("at least one store path is required\n\nRun 'narpush push --help' for usage.")
	}

	cfg, err := options.resolveConfig()
	if err != nil {
		return err
	}
	logger := newLogger(app.stderr, options.verbose)

	token, err := cfg.AuthToken()
	if err != nil {
		return err
	}
	client, err := cacheclient.New(cacheclient.Config{
		ServerURL: cfg.Server.URL,
		AuthToken: token,
		UserAgent: version.UserAgent("narpush"),
		Logger:    logger,
	})
	if err != nil {
		return err
	}

	var provider nix.Provider
	if cfg.Nix.PathInfoFile != "" {
		provider = &nix.FileProvider{Path: cfg.Nix.PathInfoFile}
	} else {
		provider = &nix.CommandProvider{Binary: cfg.Nix.Binary}
	}

	compression, err := narstage.ParseCompression(cfg.Upload.Compression)
	if err != nil {
		return err
	}
	pusher, err := push.New(push.Config{
		Provider:      provider,
		Service:       client,
		MaxConcurrent: cfg.Upload.MaxConcurrent,
		Stage: narstage.Options{
			Compression: compression,
			ZstdLevel:   cfg.Upload.ZstdLevel,
			TempDir:     cfg.Upload.TempDir,
			Archive:     nar.Options{CaseHack: cfg.CaseHackEnabled()},
		},
		FailFast: cfg.Upload.FailFast,
		Logger:   logger,
	})
	if err != nil {
		return err
	}

	roots := make([]string, len(args))
	for index, arg := range args {
		roots[index] = resolveRoot(arg)
	}

	report, pushErr := pusher.Push(ctx, roots)
	if report != nil && (pushErr == nil || options.jsonOutput) {
		if err := printReport(app, report, options.jsonOutput); err != nil {
			return err
		}
	}
	return pushErr
}

// resolveConfig loads the configuration and applies explicitly set
// flags over it.
func (options *pushOptions) resolveConfig() (*config.Config, error) {
	var cfg *config.Config
	var err error
	switch {
	case options.configPath != "":
		cfg, err = config.LoadFile(options.configPath)
	case os.Getenv(config.ConfigEnv) != "":
		cfg, err = config.Load()
	default:
		cfg = config.Default()
		cfg.ApplyEnvironment()
	}
	if err != nil {
		return nil, err
	}

	flags := options.flags
	if flags.Changed("server") {
		cfg.Server.URL = options.serverURL
	}
	if flags.Changed("token-file") {
		cfg.Server.AuthToken = ""
		cfg.Server.AuthTokenFile = options.tokenFile
	}
	if flags.Changed("jobs") {
		cfg.Upload.MaxConcurrent = options.maxConcurrent
	}
	if flags.Changed("compression") {
		cfg.Upload.Compression = options.compression
	}
	if flags.Changed("zstd-level") {
		cfg.Upload.ZstdLevel = options.zstdLevel
	}
	if flags.Changed("temp-dir") {
		cfg.Upload.TempDir = options.tempDir
	}
	if flags.Changed("fail-fast") {
		cfg.Upload.FailFast = options.failFast
	}
	if flags.Changed("nix") {
		cfg.Nix.Binary = options.nixBinary
	}
	if flags.Changed("path-info-file") {
		cfg.Nix.PathInfoFile = options.pathInfoFile
	}
	if flags.Changed("case-hack") {
		caseHack := options.caseHack
		cfg.Nix.CaseHack = &caseHack
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration:\n%w", err)
	}
	return cfg, nil
}

// resolveRoot maps a command-line path to the store entry it names.
// Paths inside a store entry resolve to the entry; symlinks into the
// store (such as ./result) are followed. Anything else is passed
// through for the metadata provider to judge.
func resolveRoot(arg string) string {
	if entry, err := nix.StoreDirectory(arg); err == nil {
		return entry
	}
	if target, err := filepath.EvalSymlinks(arg); err == nil {
		if entry, err := nix.StoreDirectory(target); err == nil {
			return entry
		}
	}
	if absolute, err := filepath.Abs(arg); err == nil {
		return absolute
	}
	return filepath.Clean(arg)
}

func printReport(app *app, report *push.Report, jsonOutput bool) error {
	if jsonOutput {
		closureIDs := report.ClosureIDs
		if closureIDs == nil {
			closureIDs = []string{}
		}
		encoder := json.NewEncoder(app.stdout)
		encoder.SetIndent("", "  ")
		return encoder.Encode(pushSummary{
			Paths:            report.Paths,
			ClosureIDs:       closureIDs,
			Completed:        report.Completed,
			ArchivesUploaded: report.ArchivesUploaded,
			NarinfosUploaded: report.NarinfosUploaded,
			ArchivesStaged:   report.ArchivesStaged,
			Present:          report.Present,
			BytesUploaded:    report.BytesUploaded,
			DurationSeconds:  report.Duration.Seconds(),
		})
	}

	fmt.Fprintf(app.stdout, "pushed %d paths in %s: %d archives and %d narinfos uploaded (%s), %d objects already present\n",
		report.Paths,
		report.Duration.Round(time.Millisecond),
		report.ArchivesUploaded,
		report.NarinfosUploaded,
		formatBytes(report.BytesUploaded),
		report.Present,
	)
	return nil
}

// formatBytes renders a byte count with a binary unit suffix.
func formatBytes(count uint64) string {
	const unit = 1024
	if count < unit {
		return fmt.Sprintf("%d B", count)
	}
	divisor, exponent := uint64(unit), 0
	for n := count / unit; n >= unit; n /= unit {
		divisor *= unit
		exponent++
	}
	return fmt.Sprintf("%.1f %ciB", float64(count)/float64(divisor), "KMGTPE"[exponent])
}
