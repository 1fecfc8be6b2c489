// Copyright 2026 The narpush Authors
// SPDX-License-Identifier: Apache-2.0

package process

import (
	"bytes"
	"errors"
	"fmt"
	"testing"
)

func TestReport(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantCode   int
		wantOutput string
	}{
		{name: "nil", err: nil, wantCode: 0},
		{name: "plain error", err: errors.New("boom"), wantCode: 1, wantOutput: "error: boom\n"},
		{name: "exit error", err: &ExitError{Code: 3}, wantCode: 3},
		{name: "wrapped exit error", err: fmt.Errorf("push: %w", &ExitError{Code: 2}), wantCode: 2},
	}
	for _, testCase := range tests {
		t.Run(testCase.name, func(t *testing.T) {
			var output bytes.Buffer
			code := Report(&output, testCase.err)
			if code != testCase.wantCode {
				t.Errorf("Report() = %d, want %d", code, testCase.wantCode)
			}
			if output.String() != testCase.wantOutput {
				t.Errorf("output = %q, want %q", output.String(), testCase.wantOutput)
			}
		})
	}
}
