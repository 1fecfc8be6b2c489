// Copyright 2026 The narpush Authors
// SPDX-License-Identifier: Apache-2.0

// Package process provides entrypoint helpers for the narpush binary.
// It centralizes the raw I/O that happens before the structured logger
// exists or after a command has failed:
//
//   - Fatal error reporting to stderr when the logger may not be
//     initialized.
//   - Exit codes for errors that carry their own ([ExitCoder]).
//
// Library packages never write to stdout or stderr directly; they
// return errors and log through *slog.Logger.
package process
