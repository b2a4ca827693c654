package capture

import (
	"context"
	"encoding/json"
	"errors"
	"os/exec"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"signbridge/internal/rules"
	"signbridge/pkg/errs"
	"signbridge/pkg/model"
	"signbridge/pkg/traffic"
)

const feedURL = "https://edith.xiaohongshu.com/api/sns/web/v1/feed"

func signedHeaders() traffic.Header {
	return traffic.Header{
		"x-s":          "XYS_captured",
		"x-t":          "1700000000000",
		"x-s-common":   "common",
		"x-b3-traceid": "0123456789abcdef",
		"cookie":       "a1=abc",
		"user-agent":   "Mozilla/5.0",
	}
}

func newTestClient(attach, launch Dialer, clk *fakeClock) *Client {
	return New(DefaultOptions(), attach, launch, WithClock(clk))
}

func TestCaptureAttachedSession(t *testing.T) {
	other := &fakePage{info: model.TargetInfo{URL: "https://example.com", Title: "Example"}}
	xhs := &fakePage{info: model.TargetInfo{URL: "https://www.xiaohongshu.com/explore", Title: "小红书"}}
	xhs.evalFn = func(expr string, n int) (json.RawMessage, error) {
		xhs.emit("https://edith.xiaohongshu.com/api/sns/web/v1/feed", signedHeaders())
		return json.RawMessage("true"), nil
	}
	browser := &fakeBrowser{pages: []*fakePage{other, xhs}}
	attach := &fakeDialer{browser: browser}
	clk := &fakeClock{}
	c := newTestClient(attach, nil, clk)

	h, err := c.Capture(context.Background(), model.CaptureRequest{
		URL:           feedURL,
		Method:        model.MethodPOST,
		Payload:       []byte(`{"source_note_id":"n1"}`),
		Cookie:        "a1=abc; webId=w",
		DebugEndpoint: "http://127.0.0.1:9222",
	})
	require.NoError(t, err)
	assert.Equal(t, "XYS_captured", h.Get(traffic.HeaderXS))
	assert.Equal(t, "common", h.Get(traffic.HeaderXSCommon))
	assert.Equal(t, DefaultReferer, h.Get(traffic.HeaderReferer))
	assert.Equal(t, DefaultOrigin, h.Get(traffic.HeaderOrigin))

	require.Len(t, attach.calls, 1)
	assert.Equal(t, "http://127.0.0.1:9222", attach.calls[0].DebugEndpoint)

	// 已在平台页面上，不再导航
	assert.Empty(t, xhs.navigated)
	assert.Len(t, xhs.cookies, 2)
	assert.Equal(t, DefaultCookieDomain, xhs.cookies[0].Domain)

	require.NotEmpty(t, xhs.scripts)
	assert.Contains(t, xhs.scripts[0], `"credentials":"include"`)
	assert.Contains(t, xhs.scripts[0], `source_note_id`)

	// 附加会话只断开，不关闭页面
	assert.True(t, xhs.stopped)
	assert.True(t, xhs.detached)
	assert.False(t, xhs.closed)
	assert.False(t, other.detached)
	assert.True(t, browser.closed)
	assert.Empty(t, c.sessions.List())
}

func TestCaptureStopsPollingOnceCaptured(t *testing.T) {
	page := &fakePage{info: model.TargetInfo{URL: "https://www.xiaohongshu.com/explore"}}
	clk := &fakeClock{}
	clk.onSleep = func(n int) {
		if n == 3 {
			page.emit(feedURL, signedHeaders())
		}
	}
	c := newTestClient(nil, &fakeDialer{browser: &fakeBrowser{pages: []*fakePage{page}, owned: true}}, clk)

	h, err := c.Capture(context.Background(), model.CaptureRequest{URL: feedURL, Method: model.MethodGET})
	require.NoError(t, err)
	assert.Equal(t, "XYS_captured", h.Get(traffic.HeaderXS))
	assert.Equal(t, 3, clk.count(500*time.Millisecond))
	assert.Len(t, page.scripts, 1)

	// 自有会话关闭页面
	assert.True(t, page.closed)
	assert.False(t, page.detached)
}

func TestCaptureCustomAPIRules(t *testing.T) {
	page := &fakePage{info: model.TargetInfo{URL: "https://www.xiaohongshu.com/explore"}}
	clk := &fakeClock{}
	clk.onSleep = func(n int) {
		switch n {
		case 1:
			// 缺少 x-s-common，不满足自定义规则
			h := signedHeaders()
			delete(h, "x-s-common")
			page.emit(feedURL, h)
		case 2:
			page.emit("https://edith.xiaohongshu.com/api/sns/web/v1/homefeed", signedHeaders())
		}
	}
	rule := rules.Rule{ID: "feed-with-common", Match: rules.Match{AllOf: []rules.Condition{
		{Type: "url", Mode: "regex", Pattern: `/api/sns/web/v1/(feed|homefeed)$`},
		{Type: "header", Key: "X-S-Common"},
	}}}
	c := New(DefaultOptions(), nil, &fakeDialer{browser: &fakeBrowser{pages: []*fakePage{page}, owned: true}},
		WithClock(clk), WithAPIRules(rule))

	h, err := c.Capture(context.Background(), model.CaptureRequest{URL: feedURL})
	require.NoError(t, err)
	assert.Equal(t, "common", h.Get(traffic.HeaderXSCommon))
	assert.Equal(t, 2, clk.count(500*time.Millisecond))
	assert.Zero(t, c.ActiveSessions())
}

func TestCaptureExhausted(t *testing.T) {
	page := &fakePage{info: model.TargetInfo{URL: "https://www.xiaohongshu.com/explore"}}
	clk := &fakeClock{}
	browser := &fakeBrowser{pages: []*fakePage{page}, owned: true}
	c := newTestClient(nil, &fakeDialer{browser: browser}, clk)

	// 非目标命名空间和缺少 x-s 的请求不计入
	page.evalFn = func(string, int) (json.RawMessage, error) {
		page.emit("https://www.xiaohongshu.com/explore/abc", signedHeaders())
		page.emit(feedURL, traffic.Header{"cookie": "a1=x"})
		return json.RawMessage("true"), nil
	}

	_, err := c.Capture(context.Background(), model.CaptureRequest{URL: feedURL})
	require.ErrorIs(t, err, errs.CaptureTimeout)
	assert.Len(t, page.scripts, 3)
	// 3 次尝试 × 30 次轮询，外加 2 次重试前等待
	assert.Len(t, clk.sleeps, 3*30+2)
	assert.True(t, page.stopped)
	assert.True(t, page.closed)
	assert.True(t, browser.closed)
}

func TestCaptureTriggerErrorIsNotFatal(t *testing.T) {
	page := &fakePage{info: model.TargetInfo{URL: "https://www.xiaohongshu.com/"}}
	page.evalFn = func(_ string, n int) (json.RawMessage, error) {
		if n == 1 {
			return nil, errors.New("Execution context was destroyed")
		}
		page.emit(feedURL, signedHeaders())
		return json.RawMessage("true"), nil
	}
	c := newTestClient(nil, &fakeDialer{browser: &fakeBrowser{pages: []*fakePage{page}, owned: true}}, &fakeClock{})
	h, err := c.Capture(context.Background(), model.CaptureRequest{URL: feedURL})
	require.NoError(t, err)
	assert.NotEmpty(t, h.Get(traffic.HeaderXS))
}

func TestCaptureNavigatesAndToleratesNavError(t *testing.T) {
	blank := &fakePage{info: model.TargetInfo{URL: "about:blank"}, navErr: context.DeadlineExceeded}
	blank.evalFn = func(string, int) (json.RawMessage, error) {
		blank.emit(feedURL, signedHeaders())
		return json.RawMessage("true"), nil
	}
	c := newTestClient(nil, &fakeDialer{browser: &fakeBrowser{pages: []*fakePage{blank}, owned: true}}, &fakeClock{})

	_, err := c.Capture(context.Background(), model.CaptureRequest{URL: feedURL})
	require.NoError(t, err)
	assert.Equal(t, []string{DefaultEntryURL}, blank.navigated)
}

func TestLocatePageCreatesWhenEmpty(t *testing.T) {
	created := &fakePage{}
	c := newTestClient(nil, nil, &fakeClock{})
	p, err := c.locatePage(context.Background(), &fakeBrowser{created: created})
	require.NoError(t, err)
	assert.Same(t, created, p)

	_, err = c.locatePage(context.Background(), &fakeBrowser{})
	require.ErrorIs(t, err, errs.PageUnavailable)
}

func TestLocatePageFallsBackToFirst(t *testing.T) {
	first := &fakePage{info: model.TargetInfo{URL: "https://a.example"}}
	second := &fakePage{info: model.TargetInfo{URL: "https://b.example", Title: "RED"}}
	c := newTestClient(nil, nil, &fakeClock{})

	p, err := c.locatePage(context.Background(), &fakeBrowser{pages: []*fakePage{first, second}})
	require.NoError(t, err)
	assert.Same(t, second, p)

	p, err = c.locatePage(context.Background(), &fakeBrowser{pages: []*fakePage{first}})
	require.NoError(t, err)
	assert.Same(t, first, p)
}

func TestCaptureInputErrors(t *testing.T) {
	dialer := &fakeDialer{}
	c := newTestClient(dialer, dialer, &fakeClock{})

	_, err := c.Capture(context.Background(), model.CaptureRequest{})
	require.ErrorIs(t, err, errs.Input)

	_, err = c.Capture(context.Background(), model.CaptureRequest{URL: feedURL, Method: "PATCH"})
	require.ErrorIs(t, err, errs.Input)
	assert.Empty(t, dialer.calls)
}

func TestCaptureDialErrorsAreClassified(t *testing.T) {
	c := newTestClient(
		&fakeDialer{err: errors.New("dial tcp 127.0.0.1:9222: connect: connection refused")},
		&fakeDialer{err: exec.ErrNotFound},
		&fakeClock{},
	)

	_, err := c.Capture(context.Background(), model.CaptureRequest{URL: feedURL, DebugEndpoint: "http://127.0.0.1:9222"})
	require.ErrorIs(t, err, errs.Connection)
	assert.NotEmpty(t, errs.HintOf(err))

	_, err = c.Capture(context.Background(), model.CaptureRequest{URL: feedURL})
	require.ErrorIs(t, err, errs.MissingBrowser)
}

func TestCaptureWithoutDriver(t *testing.T) {
	c := newTestClient(nil, nil, &fakeClock{})
	_, err := c.Capture(context.Background(), model.CaptureRequest{URL: feedURL, DebugEndpoint: "http://x"})
	require.ErrorIs(t, err, errs.Config)
}

func TestCaptureContextCanceled(t *testing.T) {
	page := &fakePage{info: model.TargetInfo{URL: "https://www.xiaohongshu.com/"}}
	ctx, cancel := context.WithCancel(context.Background())
	clk := &fakeClock{}
	clk.onSleep = func(n int) {
		if n == 2 {
			cancel()
		}
	}
	browser := &fakeBrowser{pages: []*fakePage{page}, owned: true}
	c := newTestClient(nil, &fakeDialer{browser: browser}, clk)

	_, err := c.Capture(ctx, model.CaptureRequest{URL: feedURL})
	require.ErrorIs(t, err, errs.Canceled)
	assert.Empty(t, errs.HintOf(err), "取消不附带连接诊断")
	assert.True(t, browser.closed)
	assert.Len(t, clk.sleeps, 2)
}

func TestReadSecondaryToken(t *testing.T) {
	page := &fakePage{info: model.TargetInfo{URL: "https://www.xiaohongshu.com/explore"}}
	page.evalFn = func(expr string, _ int) (json.RawMessage, error) {
		if strings.Contains(expr, `getItem("b1")`) {
			return json.RawMessage(`"b1-token"`), nil
		}
		return json.RawMessage(`""`), nil
	}
	attach := &fakeDialer{browser: &fakeBrowser{pages: []*fakePage{page}}}
	c := newTestClient(attach, nil, &fakeClock{})

	tok, err := c.ReadSecondaryToken(context.Background(), Target{DebugEndpoint: "http://127.0.0.1:9222", Cookie: "a1=abc"})
	require.NoError(t, err)
	assert.Equal(t, "b1-token", tok)
	assert.Nil(t, page.handler)
	assert.False(t, page.stopped)
	assert.True(t, page.detached)
	assert.Len(t, page.cookies, 1)
}

func TestReadStorageNonString(t *testing.T) {
	page := &fakePage{info: model.TargetInfo{URL: "https://www.xiaohongshu.com/"}}
	page.evalFn = func(string, int) (json.RawMessage, error) { return json.RawMessage(`{"a":1}`), nil }
	c := newTestClient(nil, &fakeDialer{browser: &fakeBrowser{pages: []*fakePage{page}, owned: true}}, &fakeClock{})

	_, err := c.ReadStorage(context.Background(), "b1", Target{})
	require.ErrorIs(t, err, errs.Encoding)

	page.evalFn = func(string, int) (json.RawMessage, error) { return json.RawMessage(`null`), nil }
	v, err := c.ReadStorage(context.Background(), "b1", Target{})
	require.NoError(t, err)
	assert.Empty(t, v)
}

func TestAbsoluteURL(t *testing.T) {
	c := newTestClient(nil, nil, &fakeClock{})
	assert.Equal(t, feedURL, c.absoluteURL(feedURL))
	assert.Equal(t, DefaultAPIOrigin+"/api/sns/web/v1/feed", c.absoluteURL("/api/sns/web/v1/feed"))
	assert.Equal(t, DefaultAPIOrigin+"/api/x", c.absoluteURL("api/x"))
}

func TestFetchScript(t *testing.T) {
	s := fetchScript("https://edith.xiaohongshu.com/api/sns/web/v1/search/notes", model.MethodGET, []byte(`{"keyword":"a b","page":1}`))
	assert.Contains(t, s, `search/notes?keyword=a+b&page=1`)
	assert.NotContains(t, s, `"body"`)

	s = fetchScript(feedURL, model.MethodPOST, []byte("{\n \"id\": \"1\"\n}"))
	assert.Contains(t, s, `"body":"{\"id\":\"1\"}"`)
	assert.Contains(t, s, `"method":"POST"`)
	assert.True(t, strings.HasSuffix(s, "})()"))
}
