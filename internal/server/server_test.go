package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"signbridge/internal/ctxkeys"
	"signbridge/pkg/api"
	"signbridge/pkg/errs"
	"signbridge/pkg/model"
	"signbridge/pkg/traffic"
)

type fakeService struct {
	mu         sync.Mutex
	signs      []model.SignRequest
	captures   []model.CaptureRequest
	traceIDs   []string
	signErr    error
	captureErr error
	degraded   bool
	forgotten  [][2]string
}

func (f *fakeService) Sign(ctx context.Context, req model.SignRequest) (model.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.signs = append(f.signs, req)
	f.traceIDs = append(f.traceIDs, ctxkeys.TraceID(ctx))
	if f.signErr != nil {
		return model.Result{}, f.signErr
	}
	if req.URI == "" {
		return model.Result{}, errs.InputError("model.validate", "缺少 url 参数")
	}
	mode := model.UsedJSEnhanced
	if f.degraded {
		mode = model.UsedJS
	}
	return model.Result{
		Headers:  traffic.Header{"x-s": "XYS_test", "x-t": "1700000000000"},
		Mode:     mode,
		Degraded: f.degraded,
	}, nil
}

func (f *fakeService) CaptureHeaders(_ context.Context, req model.CaptureRequest) (traffic.Header, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.captures = append(f.captures, req)
	if f.captureErr != nil {
		return nil, f.captureErr
	}
	return traffic.Header{"x-s": "XYS_live", "x-s-common": "common"}, nil
}

func (f *fakeService) Stats(context.Context) ([]api.ModeStat, error) {
	return []api.ModeStat{{Mode: "js", Success: true, Total: 2}}, nil
}

func (f *fakeService) Runtime() api.Runtime {
	n := 2
	return api.Runtime{CachedTokens: &n, ActiveSessions: 1}
}

func (f *fakeService) ForgetSecondary(_ context.Context, a1, cookie string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if a1 == "" && cookie == "" {
		return errs.InputError("api.forget", "a1 与 cookie 至少提供一个")
	}
	f.forgotten = append(f.forgotten, [2]string{a1, cookie})
	return nil
}

func (f *fakeService) Close() error { return nil }

func do(t *testing.T, s *Server, method, path, body string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return rec, out
}

func TestHealth(t *testing.T) {
	s := New(Options{Version: "1.2.3"}, &fakeService{}, nil)
	rec, out := do(t, s, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", out["status"])
	assert.Equal(t, "1.2.3", out["version"])
	assert.NotEmpty(t, out["stats"])
	rt := out["runtime"].(map[string]any)
	assert.EqualValues(t, 2, rt["cachedTokens"])
	assert.EqualValues(t, 1, rt["activeSessions"])
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestSignJS(t *testing.T) {
	svc := &fakeService{}
	s := New(Options{}, svc, nil)

	rec, out := do(t, s, http.MethodPost, "/sign/xhs",
		`{"url":"/api/sns/web/v1/feed","method":"post","data":{"source_note_id":"1"},"a1":"a","cookie":"a1=a","debugPort":9222,"mode":"browser"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, out["success"])
	assert.Equal(t, model.UsedJSEnhanced, out["mode"])
	data := out["data"].(map[string]any)
	assert.Equal(t, "XYS_test", data["x-s"])

	require.Len(t, svc.signs, 1)
	got := svc.signs[0]
	assert.Equal(t, model.ModeJS, got.Mode, "/sign/xhs 固定使用 js 模式")
	assert.Equal(t, model.MethodPOST, got.Method)
	assert.Equal(t, "http://127.0.0.1:9222", got.DebugEndpoint)
	assert.True(t, got.AutoFetchSecondary)
	assert.JSONEq(t, `{"source_note_id":"1"}`, string(got.Payload))

	// 追踪 ID 与响应头一致
	assert.Equal(t, rec.Header().Get("X-Request-ID"), svc.traceIDs[0])
}

func TestSignDegradedNote(t *testing.T) {
	s := New(Options{}, &fakeService{degraded: true}, nil)
	_, out := do(t, s, http.MethodPost, "/sign/xhs", `{"url":"/api/x","autoFetchB1":false}`)
	assert.Equal(t, model.UsedJS, out["mode"])
	assert.Equal(t, true, out["degraded"])
	assert.NotEmpty(t, out["note"])
}

func TestSignMissingURL(t *testing.T) {
	s := New(Options{}, &fakeService{}, nil)
	rec, out := do(t, s, http.MethodPost, "/sign/xhs", `{"method":"GET"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, false, out["success"])
	assert.Contains(t, out["error"], "url")
}

func TestSignBadBody(t *testing.T) {
	s := New(Options{}, &fakeService{}, nil)
	rec, _ := do(t, s, http.MethodPost, "/sign/xhs", `{"url":`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, _ = do(t, s, http.MethodPost, "/sign/xhs", `{"url":"/x","debugPort":"abc"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHybridDefaultsToAuto(t *testing.T) {
	svc := &fakeService{}
	s := New(Options{}, svc, nil)

	_, _ = do(t, s, http.MethodPost, "/sign/xhs/hybrid", `{"url":"/api/x"}`)
	_, _ = do(t, s, http.MethodPost, "/sign/xhs/hybrid", `{"url":"/api/x","mode":"browser","needXsCommon":true}`)
	require.Len(t, svc.signs, 2)
	assert.Equal(t, model.ModeAuto, svc.signs[0].Mode)
	assert.Equal(t, model.ModeBrowser, svc.signs[1].Mode)
	assert.True(t, svc.signs[1].NeedXSCommon)
}

func TestBrowser(t *testing.T) {
	svc := &fakeService{}
	s := New(Options{}, svc, nil)

	rec, out := do(t, s, http.MethodPost, "/sign/xhs/browser",
		`{"url":"/api/sns/web/v1/homefeed","cookie":"a1=x","debugEndpoint":"http://10.0.0.2:9222","userAgent":"UA"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, model.UsedBrowser, out["mode"])
	require.Len(t, svc.captures, 1)
	assert.Equal(t, "http://10.0.0.2:9222", svc.captures[0].DebugEndpoint)
	assert.Equal(t, "UA", svc.captures[0].UserAgent)
}

func TestErrorStatusMapping(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		status int
	}{
		{"timeout", errs.CaptureTimeoutError("capture", "未捕获"), http.StatusGatewayTimeout},
		{"connection", errs.ConnectionError("capture.attach", errors.New("connection refused")), http.StatusBadGateway},
		{"page", errs.PageUnavailableError("capture.newPage", errors.New("no target")), http.StatusBadGateway},
		{"canceled", errs.Classify("capture.wait", context.Canceled), 499},
		{"config", errs.ConfigError("hybrid.browser", "未配置"), http.StatusBadRequest},
		{"encoding", errs.EncodingError("signer", "bad"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			s := New(Options{}, &fakeService{captureErr: tc.err}, nil)
			rec, out := do(t, s, http.MethodPost, "/sign/xhs/browser", `{"url":"/api/x"}`)
			assert.Equal(t, tc.status, rec.Code)
			assert.Equal(t, false, out["success"])
			assert.NotEmpty(t, out["message"])
		})
	}
}

func TestSuggestionsFromHint(t *testing.T) {
	err := errs.Classify("capture.attach", context.DeadlineExceeded)
	s := New(Options{}, &fakeService{captureErr: err}, nil)
	_, out := do(t, s, http.MethodPost, "/sign/xhs/browser", `{"url":"/api/x"}`)
	assert.NotEmpty(t, out["suggestions"])
}

func TestForgetB1(t *testing.T) {
	svc := &fakeService{}
	s := New(Options{}, svc, nil)

	rec, out := do(t, s, http.MethodDelete, "/sign/xhs/b1", `{"cookie":"a1=x; web_session=s"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, out["success"])
	require.Len(t, svc.forgotten, 1)
	assert.Equal(t, [2]string{"", "a1=x; web_session=s"}, svc.forgotten[0])

	rec, _ = do(t, s, http.MethodDelete, "/sign/xhs/b1", `{}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
