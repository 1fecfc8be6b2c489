// Copyright 2026 The narpush Authors
// SPDX-License-Identifier: Apache-2.0

package push

import (
	"fmt"
	"strings"
)

// TaskError is the failure of one upload task, identified by the
// object key it was producing.
type TaskError struct {
	Key string
	Err error
}

func (err *TaskError) Error() string {
	return err.Key + ": " + err.Err.Error()
}

func (err *TaskError) Unwrap() error { return err.Err }

// BatchError reports that one or more tasks of an upload phase failed.
// Failures are sorted by key. errors.As and errors.Is see through it to
// the individual task errors.
type BatchError struct {
	// Phase is "archive" or "narinfo".
	Phase string

	// Total is the number of tasks the phase scheduled.
	Total int

	Failures []*TaskError
}

func (err *BatchError) Error() string {
	var builder strings.Builder
	fmt.Fprintf(&builder, "push: %d of %d %s uploads failed", len(err.Failures), err.Total, err.Phase)
	for _, failure := range err.Failures {
		builder.WriteString("\n  ")
		builder.WriteString(failure.Error())
	}
	return builder.String()
}

func (err *BatchError) Unwrap() []error {
	errs := make([]error, len(err.Failures))
	for index, failure := range err.Failures {
		errs[index] = failure
	}
	return errs
}
