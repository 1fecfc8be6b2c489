// Copyright 2026 The narpush Authors
// SPDX-License-Identifier: Apache-2.0

package process

import (
	"errors"
	"fmt"
	"io"
	"os"
)

// ExitCoder is implemented by errors that select the process exit
// code. Commands return one when they have already reported the
// failure themselves.
type ExitCoder interface {
	error
	ExitCode() int
}

// ExitError signals a non-zero exit without an extra error message.
type ExitError struct {
	Code int
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("exit code %d", e.Code)
}

// ExitCode returns the exit code.
func (e *ExitError) ExitCode() int {
	return e.Code
}

// Report writes "error: err" to w unless err is an [ExitCoder], and
// returns the exit code for err. A nil err reports nothing and
// returns 0.
func Report(w io.Writer, err error) int {
	if err == nil {
		return 0
	}
	var coder ExitCoder
	if errors.As(err, &coder) {
		return coder.ExitCode()
	}
	fmt.Fprintf(w, "error: %v\n", err)
	return 1
}

// Fatal writes "error: err" to stderr and exits with code 1, or with
// the error's own code if it is an [ExitCoder]. Use it in main() for
// errors from run() where the structured logger may not be
// initialized.
func Fatal(err error) {
	os.Exit(Report(os.Stderr, err))
}
