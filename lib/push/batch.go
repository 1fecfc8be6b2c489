// Copyright 2026 The narpush Authors
// SPDX-License-Identifier: Apache-2.0

package push

import (
	"context"
	"errors"
	"slices"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/narcache/narpush/lib/nar"
)

// task produces one object. Each task writes only its own result slot,
// so tasks share no mutable state.
type task struct {
	key string
	run func(ctx context.Context) error
}

// runBatch runs tasks with at most limit in flight. Unless failFast is
// set, every task runs to completion and all failures are reported
// together. A filesystem failure cancels the remaining tasks in either
// mode. Tasks that never started because the batch was cancelled are
// not reported as failures.
func runBatch(ctx context.Context, phase string, limit int, failFast bool, tasks []task) error {
	batchCtx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	var group errgroup.Group
	group.SetLimit(limit)

	errs := make([]error, len(tasks))
	for index, current := range tasks {
		if batchCtx.Err() != nil {
			break
		}
		group.Go(func() error {
			if batchCtx.Err() != nil {
				return nil
			}
			err := current.run(batchCtx)
			if err == nil {
				return nil
			}
			errs[index] = err
			if failFast || isFilesystemError(err) {
				cancel(err)
			}
			return nil
		})
	}
	group.Wait()

	var failures []*TaskError
	for index, err := range errs {
		if err != nil {
			failures = append(failures, &TaskError{Key: tasks[index].key, Err: err})
		}
	}
	if len(failures) == 0 {
		return nil
	}
	slices.SortFunc(failures, func(a, b *TaskError) int {
		return strings.Compare(a.Key, b.Key)
	})
	return &BatchError{Phase: phase, Total: len(tasks), Failures: failures}
}

func isFilesystemError(err error) bool {
	var pathError *nar.PathError
	return errors.As(err, &pathError)
}
