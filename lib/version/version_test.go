// Copyright 2026 The narpush Authors
// SPDX-License-Identifier: Apache-2.0

package version

import (
	"bytes"
	"runtime"
	"strings"
	"testing"
)

func TestInfo_Dirty(t *testing.T) {
	savedCommit, savedDirty := GitCommit, GitDirty
	t.Cleanup(func() { GitCommit, GitDirty = savedCommit, savedDirty })

	GitCommit = "abc1234"
	GitDirty = "false"
	if got := Info(); !strings.Contains(got, "(abc1234, ") {
		t.Errorf("Info() = %q, want commit without dirty suffix", got)
	}

	GitDirty = "true"
	if got := Info(); !strings.Contains(got, "(abc1234-dirty, ") {
		t.Errorf("Info() = %q, want -dirty suffix", got)
	}
}

func TestUserAgent(t *testing.T) {
	if got, want := UserAgent("narpush"), "narpush/"+Version; got != want {
		t.Errorf("UserAgent() = %q, want %q", got, want)
	}
}

func TestPrint(t *testing.T) {
	var buffer bytes.Buffer
	Print(&buffer, "narpush")
	output := buffer.String()
	if !strings.HasPrefix(output, "narpush "+Version) {
		t.Errorf("Print output = %q, want program and version first", output)
	}
	if !strings.Contains(output, runtime.GOOS+"/"+runtime.GOARCH) {
		t.Errorf("Print output = %q, want platform", output)
	}
}
