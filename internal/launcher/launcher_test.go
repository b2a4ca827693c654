package launcher

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"signbridge/internal/capture"
	"signbridge/pkg/errs"
)

func TestAllocatorOptions(t *testing.T) {
	l := New(WithFlag("lang", "zh-CN"))
	base := len(l.allocatorOptions(capture.ConnectOptions{Headless: true}))
	full := len(l.allocatorOptions(capture.ConnectOptions{
		Headless:    false,
		ExecPath:    "/usr/bin/chromium",
		UserDataDir: t.TempDir(),
		UserAgent:   "Mozilla/5.0",
	}))
	assert.Equal(t, base+3, full)
}

func TestDialMissingExecutable(t *testing.T) {
	l := New()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_, err := l.Dial(ctx, capture.ConnectOptions{
		Headless: true,
		ExecPath: filepath.Join(t.TempDir(), "no-such-chrome"),
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, errs.MissingBrowser)
}
