// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package process

import (
	"errors"
	"fmt"
	"testing"
)

func TestExitCode(t *testing.T) {
	notCaptured := &ExitError{Code: 3}
	tests := []struct {
		err  error
		want int
	}{
		{nil, 0},
		{errors.New("boom"), 1},
		{notCaptured, 3},
		{fmt.Errorf("is-captured: %w", notCaptured), 3},
	}
	for _, test := range tests {
		if got := ExitCode(test.err); got != test.want {
			t.Errorf("ExitCode(%v) = %d, want %d", test.err, got, test.want)
		}
	}
	if notCaptured.Error() != "exit status 3" {
		t.Errorf("Error = %q", notCaptured.Error())
	}
}
