package cdp

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"signbridge/internal/capture"
	"signbridge/pkg/errs"
)

func TestNormalizeEndpoint(t *testing.T) {
	assert.Equal(t, "", NormalizeEndpoint("  "))
	assert.Equal(t, "http://127.0.0.1:9222", NormalizeEndpoint("127.0.0.1:9222"))
	assert.Equal(t, "http://host:9222", NormalizeEndpoint("http://host:9222/"))
	assert.Equal(t, "https://remote", NormalizeEndpoint("https://remote"))
}

func devtoolsServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/json/version", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"Browser":"Chrome/120.0","Protocol-Version":"1.3","webSocketDebuggerUrl":"ws://127.0.0.1/devtools/browser/x"}`))
	})
	mux.HandleFunc("/json/list", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`[
			{"id":"p1","type":"page","title":"小红书","url":"https://www.xiaohongshu.com/explore","webSocketDebuggerUrl":"ws://127.0.0.1/devtools/page/p1"},
			{"id":"w1","type":"service_worker","title":"sw","url":"https://www.xiaohongshu.com/sw.js","webSocketDebuggerUrl":"ws://127.0.0.1/devtools/page/w1"},
			{"id":"p2","type":"page","title":"busy","url":"about:blank"}
		]`))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestDialAndListPages(t *testing.T) {
	srv := devtoolsServer(t)
	m := New(nil)

	b, err := m.Dial(context.Background(), captureOpts(srv.URL))
	require.NoError(t, err)
	assert.False(t, b.Owned())

	pages, err := b.Pages(context.Background())
	require.NoError(t, err)
	require.Len(t, pages, 1)

	info, err := pages[0].Info(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "p1", string(info.ID))
	assert.Equal(t, "小红书", info.Title)

	require.NoError(t, pages[0].Detach())
	require.NoError(t, b.Close())
}

func TestDialUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	_, err := New(nil).Dial(context.Background(), captureOpts(url))
	require.ErrorIs(t, err, errs.Connection)

	_, err = New(nil).Dial(context.Background(), captureOpts(""))
	require.ErrorIs(t, err, errs.Config)
}

func captureOpts(endpoint string) capture.ConnectOptions {
	return capture.ConnectOptions{DebugEndpoint: endpoint}
}
