package errs

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os/exec"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Kind
		hint bool
	}{
		{"missing exec", exec.ErrNotFound, KindMissingBrowser, true},
		{"missing exec text", errors.New(`exec: "chromium": executable file not found in $PATH`), KindMissingBrowser, true},
		{"deadline", fmt.Errorf("wait: %w", context.DeadlineExceeded), KindCaptureTimeout, true},
		{"canceled", fmt.Errorf("wait: %w", context.Canceled), KindCanceled, false},
		{"dial", &net.OpError{Op: "dial", Net: "tcp", Err: errors.New("connection refused")}, KindConnection, true},
		{"other", errors.New("boom"), KindConnection, true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := Classify("op", tc.err)
			assert.Equal(t, tc.want, KindOf(err))
			assert.ErrorIs(t, err, tc.err)
			if tc.hint {
				assert.NotEmpty(t, HintOf(err))
			} else {
				assert.Empty(t, HintOf(err))
			}
		})
	}
}

func TestClassifyKeepsClassified(t *testing.T) {
	in := InputError("model", "bad")
	assert.Same(t, in, Classify("other", in))
	assert.Nil(t, Classify("op", nil))
}

func TestSentinels(t *testing.T) {
	err := fmt.Errorf("wrap: %w", CaptureTimeoutError("capture", "%d attempts", 3))
	assert.ErrorIs(t, err, CaptureTimeout)
	assert.NotErrorIs(t, err, Connection)
	assert.Equal(t, "CanceledError", KindCanceled.String())
}
