// Copyright 2026 The narpush Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"runtime"
	"slices"

	"github.com/spf13/pflag"

	"github.com/narcache/narpush/lib/nar"
	"github.com/narcache/narpush/lib/narstage"
	"github.com/narcache/narpush/lib/nixbase32"
	"github.com/narcache/narpush/lib/process"
)

func dumpCommand(app *app) *command {
	var caseHack bool
	return &command{
		Name:    "dump",
		Summary: "Write the archive of a path to stdout",
		Description: `Serialize a file, symlink or directory tree as an uncompressed
Nix archive on stdout. The output is byte-identical to
"nix-store --dump" for the same path.`,
		Usage: "narpush dump [flags] <path>",
		Examples: []example{
			{
				Description: "Compare with nix-store",
				Command:     "narpush dump ./result | cmp - <(nix-store --dump ./result)",
			},
		},
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("dump", pflag.ContinueOnError)
			flagSet.BoolVar(&caseHack, "case-hack", runtime.GOOS == "darwin", "strip ~nix~case~hack~ suffixes from entry names")
			return flagSet
		},
		Run: func(_ context.Context, args []string) error {
			if len(args) != 1 {
				return fmt.Errorf("dump takes exactly one path (got %d)", len(args))
			}
			if isTerminal(app.stdout) {
				return errors.New("refusing to write an archive to a terminal; redirect stdout")
			}
			writer := bufio.NewWriterSize(app.stdout, narstage.DefaultPipeBufferSize)
			if err := nar.Dump(writer, args[0], nar.Options{CaseHack: caseHack}); err != nil {
				return err
			}
			return writer.Flush()
		},
	}
}

func hashCommand(app *app) *command {
	var caseHack bool
	var expect string
	return &command{
		Name:    "hash",
		Summary: "Print the archive hash and size of a path",
		Description: `Compute the SHA-256 of the archive of a path without storing the
archive, and print it in the "sha256:<nix32>" form narinfo NarHash
lines use, followed by the archive size.

With --expect, exit with status 1 if the hash differs. The expected
hash may be given in nix32, hex or SRI form.`,
		Usage: "narpush hash [flags] <path>",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("hash", pflag.ContinueOnError)
			flagSet.BoolVar(&caseHack, "case-hack", runtime.GOOS == "darwin", "strip ~nix~case~hack~ suffixes from entry names")
			flagSet.StringVar(&expect, "expect", "", "expected archive hash")
			return flagSet
		},
		Run: func(_ context.Context, args []string) error {
			if len(args) != 1 {
				return fmt.Errorf("hash takes exactly one path (got %d)", len(args))
			}
			size, digest, err := nar.Digest(args[0], nar.Options{CaseHack: caseHack})
			if err != nil {
				return err
			}
			narHash := nixbase32.DigestAddress("sha256", digest[:])
			fmt.Fprintf(app.stdout, "%s %d\n", narHash, size)

			if expect == "" {
				return nil
			}
			expected, err := nixbase32.NormalizeHash(expect)
			if err != nil {
				return fmt.Errorf("--expect: %w", err)
			}
			if expected != narHash {
				fmt.Fprintf(app.stderr, "hash mismatch: expected %s, got %s\n", expected, narHash)
				return &process.ExitError{Code: 1}
			}
			return nil
		},
	}
}

func lsCommand(app *app) *command {
	var jsonOutput bool
	return &command{
		Name:    "ls",
		Summary: "List the contents of an archive file",
		Description: `Decode an uncompressed archive file and list its entries without
extracting it. Use "-" to read from stdin; compressed archives can be
piped through their decompressor, e.g. "zstd -dc x.nar.zst | narpush ls -".

--json prints the listing in the format of the .ls files binary caches
serve next to archives.`,
		Usage: "narpush ls [flags] <archive>",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("ls", pflag.ContinueOnError)
			flagSet.BoolVar(&jsonOutput, "json", false, "print the listing as JSON")
			return flagSet
		},
		Run: func(_ context.Context, args []string) error {
			if len(args) != 1 {
				return fmt.Errorf("ls takes exactly one archive (got %d)", len(args))
			}

			source := app.stdin
			if args[0] != "-" {
				file, err := os.Open(args[0])
				if err != nil {
					return err
				}
				defer file.Close()
				source = file
			}

			listing, err := nar.List(source)
			if err != nil {
				return fmt.Errorf("%s: %w", args[0], err)
			}

			if jsonOutput {
				return json.NewEncoder(app.stdout).Encode(listing)
			}
			writer := bufio.NewWriter(app.stdout)
			printEntry(writer, "", listing.Root)
			return writer.Flush()
		},
	}
}

// printEntry writes one line per entry in the style of "nix nar ls -lR".
func printEntry(w io.Writer, name string, entry *nar.Entry) {
	display := name
	if display == "" {
		display = "."
	}
	switch entry.Type {
	case nar.TypeRegular:
		mode := "-r--r--r--"
		if entry.Executable {
			mode = "-r-xr-xr-x"
		}
		var size uint64
		if entry.Size != nil {
			size = *entry.Size
		}
		fmt.Fprintf(w, "%s %12d %s\n", mode, size, display)
	case nar.TypeSymlink:
		fmt.Fprintf(w, "lrwxrwxrwx %12d %s -> %s\n", 0, display, entry.Target)
	case nar.TypeDirectory:
		fmt.Fprintf(w, "dr-xr-xr-x %12d %s\n", 0, display)
		names := make([]string, 0, len(entry.Entries))
		for child := range entry.Entries {
			names = append(names, child)
		}
		slices.Sort(names)
		for _, child := range names {
			printEntry(w, path.Join(name, child), entry.Entries[child])
		}
	}
}
