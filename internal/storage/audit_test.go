package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"signbridge/internal/ctxkeys"
	"signbridge/internal/logger"
	"signbridge/pkg/errs"
	"signbridge/pkg/traffic"
)

func openTemp(t *testing.T) *AuditDB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "data", "audit.sqlite3"), "test_", logger.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestOpenRequiresDSN(t *testing.T) {
	_, err := Open("", "", nil)
	require.ErrorIs(t, err, errs.Config)
}

func TestRecordAndRecent(t *testing.T) {
	db := openTemp(t)
	ctx := ctxkeys.WithTraceID(context.Background(), "trace-1")

	require.NoError(t, db.Record(ctx, Outcome{
		Operation: OpSign,
		Mode:      "js-enhanced",
		Method:    "POST",
		URI:       "/api/sns/web/v1/feed",
		Headers: traffic.Header{
			"x-s": "XYS_a", "x-t": "1", "x-s-common": "c", "x-b3-traceid": "0123456789abcdef",
		},
		Duration: 12 * time.Millisecond,
	}))
	require.NoError(t, db.Record(context.Background(), Outcome{
		Operation: OpCapture,
		Mode:      "browser",
		Method:    "GET",
		URI:       "/api/sns/web/v1/homefeed",
		Err:       errs.CaptureTimeoutError("capture", "no headers"),
	}))

	recs, err := db.Recent(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, recs, 2)

	assert.Equal(t, OpCapture, recs[0].Operation)
	assert.False(t, recs[0].Success)
	assert.Equal(t, "CaptureTimeoutError", recs[0].Kind)
	assert.Contains(t, recs[0].Error, "no headers")

	assert.Equal(t, "trace-1", recs[1].TraceID)
	assert.True(t, recs[1].Success)
	assert.Equal(t, "x-b3-traceid,x-s,x-s-common,x-t", recs[1].Headers)
	assert.EqualValues(t, 12, recs[1].DurationMs)
}

func TestStats(t *testing.T) {
	db := openTemp(t)
	ctx := context.Background()
	for _, o := range []Outcome{
		{Operation: OpSign, Mode: "js"},
		{Operation: OpSign, Mode: "js"},
		{Operation: OpCapture, Mode: "browser", Err: errs.ConnectionError("capture", assert.AnError)},
	} {
		require.NoError(t, db.Record(ctx, o))
	}
	stats, err := db.Stats(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []ModeCount{
		{Mode: "browser", Success: false, Total: 1},
		{Mode: "js", Success: true, Total: 2},
	}, stats)
}

func TestNopRecorder(t *testing.T) {
	var r Recorder = NopRecorder{}
	assert.NoError(t, r.Record(context.Background(), Outcome{}))
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "abc", truncate("abcdef", 3))
	assert.Equal(t, "ab", truncate("ab", 3))
}
