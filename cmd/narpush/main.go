// Copyright 2026 The narpush Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/narcache/narpush/lib/process"
	"github.com/narcache/narpush/lib/version"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := run(ctx, os.Args[1:], &app{stdin: os.Stdin, stdout: os.Stdout, stderr: os.Stderr})
	stop()
	if err != nil {
		process.Fatal(err)
	}
}

// app carries the process streams so commands can be run against
// buffers in tests.
type app struct {
	stdin  io.Reader
	stdout io.Writer
	stderr io.Writer
}

func run(ctx context.Context, args []string, app *app) error {
	// Handle --version before dispatch so it works without a subcommand.
	if len(args) > 0 && (args[0] == "--version" || args[0] == "version") {
		version.Print(app.stdout, "narpush")
		return nil
	}
	return commands(app).execute(ctx, app.stderr, args)
}

func commands(app *app) *commandSet {
	return &commandSet{
		summary: "narpush uploads Nix store closures to a binary cache.",
		commands: []*command{
			pushCommand(app),
			dumpCommand(app),
			hashCommand(app),
			lsCommand(app),
		},
	}
}
