// Package handler 签名服务的 HTTP 处理函数。
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"signbridge/internal/logger"
	"signbridge/pkg/api"
	"signbridge/pkg/errs"
	"signbridge/pkg/model"
)

// Handler 将 HTTP 请求转换为签名服务调用
type Handler struct {
	svc     api.Service
	version string
	log     logger.Logger
}

// Config 配置选项
type Config struct {
	Service api.Service
	Version string
	Logger  logger.Logger
}

// New 创建处理器
func New(cfg Config) *Handler {
	l := cfg.Logger
	if l == nil {
		l = logger.NewNop()
	}
	return &Handler{svc: cfg.Service, version: cfg.Version, log: l.With("component", "http")}
}

// SignBody 各签名端点共用的请求体
type SignBody struct {
	URL           string          `json:"url"`
	Method        string          `json:"method"`
	Data          json.RawMessage `json:"data"`
	A1            string          `json:"a1"`
	B1            string          `json:"b1"`
	Cookie        string          `json:"cookie"`
	Mode          string          `json:"mode"`
	NeedXSCommon  bool            `json:"needXsCommon"`
	DebugPort     json.Number     `json:"debugPort"`
	DebugEndpoint string          `json:"debugEndpoint"`
	AutoFetchB1   *bool           `json:"autoFetchB1"`
	UserAgent     string          `json:"userAgent"`
	Headless      *bool           `json:"headless"`
}

// endpoint debugEndpoint 优先，其次本机 debugPort
func (b *SignBody) endpoint() (string, error) {
	if b.DebugEndpoint != "" {
		return b.DebugEndpoint, nil
	}
	if b.DebugPort == "" {
		return "", nil
	}
	port, err := strconv.Atoi(b.DebugPort.String())
	if err != nil || port <= 0 || port > 65535 {
		return "", errs.InputError("http.debugPort", "debugPort 不合法: %s", b.DebugPort)
	}
	return "http://127.0.0.1:" + strconv.Itoa(port), nil
}

func (b *SignBody) signRequest(mode model.Mode) (model.SignRequest, error) {
	ep, err := b.endpoint()
	if err != nil {
		return model.SignRequest{}, err
	}
	auto := true
	if b.AutoFetchB1 != nil {
		auto = *b.AutoFetchB1
	}
	return model.SignRequest{
		Method:             model.Method(strings.ToUpper(b.Method)),
		URI:                b.URL,
		Payload:            b.Data,
		IdentityToken:      b.A1,
		SecondaryToken:     b.B1,
		Mode:               mode,
		NeedXSCommon:       b.NeedXSCommon,
		Cookie:             b.Cookie,
		DebugEndpoint:      ep,
		AutoFetchSecondary: auto,
	}, nil
}

// Health GET /health
func (h *Handler) Health(c echo.Context) error {
	resp := map[string]any{
		"status":    "ok",
		"service":   "signbridge",
		"version":   h.version,
		"modes":     []model.Mode{model.ModeJS, model.ModeBrowser, model.ModeAuto},
		"runtime":   h.svc.Runtime(),
		"timestamp": time.Now().UnixMilli(),
	}
	stats, err := h.svc.Stats(c.Request().Context())
	if err != nil {
		h.log.Warn("读取审计统计失败", "error", err)
	} else if stats != nil {
		resp["stats"] = stats
	}
	return c.JSON(http.StatusOK, resp)
}

// Sign POST /sign/xhs 纯算法签名，默认尝试自动获取 b1
func (h *Handler) Sign(c echo.Context) error {
	return h.sign(c, func(b *SignBody) model.Mode { return model.ModeJS }, "签名生成失败")
}

// Hybrid POST /sign/xhs/hybrid 由 mode 字段选择，缺省 auto
func (h *Handler) Hybrid(c echo.Context) error {
	return h.sign(c, func(b *SignBody) model.Mode {
		if strings.TrimSpace(b.Mode) == "" {
			return model.ModeAuto
		}
		return model.Mode(b.Mode)
	}, "混合模式签名失败")
}

func (h *Handler) sign(c echo.Context, pick func(*SignBody) model.Mode, failMsg string) error {
	var body SignBody
	if err := c.Bind(&body); err != nil {
		return h.fail(c, errs.InputError("http.bind", "请求体不是合法的 JSON"), failMsg)
	}
	req, err := body.signRequest(pick(&body))
	if err != nil {
		return h.fail(c, err, failMsg)
	}
	res, err := h.svc.Sign(c.Request().Context(), req)
	if err != nil {
		return h.fail(c, err, failMsg)
	}
	resp := map[string]any{
		"success":   true,
		"data":      res.Headers,
		"mode":      res.Mode,
		"timestamp": time.Now().UnixMilli(),
	}
	if res.Degraded {
		resp["degraded"] = true
		resp["note"] = "如需完整签名（含 x-s-common），请提供 b1 或使用 /sign/xhs/browser 端点"
	}
	return c.JSON(http.StatusOK, resp)
}

// Browser POST /sign/xhs/browser 浏览器抓取
func (h *Handler) Browser(c echo.Context) error {
	const failMsg = "浏览器获取请求头失败"
	var body SignBody
	if err := c.Bind(&body); err != nil {
		return h.fail(c, errs.InputError("http.bind", "请求体不是合法的 JSON"), failMsg)
	}
	ep, err := body.endpoint()
	if err != nil {
		return h.fail(c, err, failMsg)
	}
	h.log.Info("浏览器模式请求", "url", body.URL, "debugEndpoint", ep, "cookieLen", len(body.Cookie))

	headers, err := h.svc.CaptureHeaders(c.Request().Context(), model.CaptureRequest{
		URL:           body.URL,
		Method:        model.Method(strings.ToUpper(body.Method)),
		Payload:       body.Data,
		Cookie:        body.Cookie,
		DebugEndpoint: ep,
		UserAgent:     body.UserAgent,
		Headless:      body.Headless,
	})
	if err != nil {
		return h.fail(c, err, failMsg)
	}
	h.log.Info("浏览器模式成功获取请求头", "fields", strings.Join(headers.Keys(), ","))
	return c.JSON(http.StatusOK, map[string]any{
		"success":   true,
		"data":      headers,
		"mode":      model.UsedBrowser,
		"timestamp": time.Now().UnixMilli(),
	})
}

// ForgetB1 DELETE /sign/xhs/b1 丢弃 a1 或 cookie 对应的 b1 缓存
func (h *Handler) ForgetB1(c echo.Context) error {
	const failMsg = "清除 b1 缓存失败"
	var body SignBody
	if err := c.Bind(&body); err != nil {
		return h.fail(c, errs.InputError("http.bind", "请求体不是合法的 JSON"), failMsg)
	}
	if err := h.svc.ForgetSecondary(c.Request().Context(), body.A1, body.Cookie); err != nil {
		return h.fail(c, err, failMsg)
	}
	h.log.Info("已清除 b1 缓存", "hasA1", body.A1 != "", "cookieLen", len(body.Cookie))
	return c.JSON(http.StatusOK, map[string]any{
		"success":   true,
		"timestamp": time.Now().UnixMilli(),
	})
}

func (h *Handler) fail(c echo.Context, err error, msg string) error {
	status := StatusFor(err)
	if status >= http.StatusInternalServerError {
		h.log.Err(err, msg, "kind", errs.KindOf(err).String())
	} else {
		h.log.Debug(msg, "error", err)
	}
	resp := map[string]any{
		"success":   false,
		"message":   messageFor(err, msg),
		"error":     err.Error(),
		"timestamp": time.Now().UnixMilli(),
	}
	if hint := errs.HintOf(err); hint != "" {
		resp["suggestions"] = []string{hint}
	}
	return c.JSON(status, resp)
}

// StatusClientClosedRequest 调用方在响应前断开
const StatusClientClosedRequest = 499

// StatusFor 错误类型到 HTTP 状态码
func StatusFor(err error) int {
	switch {
	case errors.Is(err, errs.Input), errors.Is(err, errs.Config):
		return http.StatusBadRequest
	case errors.Is(err, errs.CaptureTimeout), errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, errs.Connection), errors.Is(err, errs.PageUnavailable):
		return http.StatusBadGateway
	case errors.Is(err, errs.Canceled), errors.Is(err, context.Canceled):
		return StatusClientClosedRequest
	default:
		return http.StatusInternalServerError
	}
}

func messageFor(err error, fallback string) string {
	switch errs.KindOf(err) {
	case errs.KindInput:
		return "请求参数错误"
	case errs.KindConnection:
		return "浏览器连接失败"
	case errs.KindCaptureTimeout:
		return "浏览器操作超时"
	case errs.KindMissingBrowser:
		return "浏览器未安装"
	case errs.KindCanceled:
		return "请求已取消"
	default:
		return fallback
	}
}
