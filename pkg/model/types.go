package model

import (
	"encoding/json"
	"strings"

	"signbridge/pkg/errs"
	"signbridge/pkg/traffic"
)

type SessionID string
type TargetID string

// DefaultAppID 平台 Web 端应用标识
const DefaultAppID = "xhs-pc-web"

// Method 签名支持的 HTTP 方法
type Method string

const (
	MethodGET  Method = "GET"
	MethodPOST Method = "POST"
)

// ParseMethod 大小写不敏感，空串视为 GET
func ParseMethod(s string) (Method, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "", "GET":
		return MethodGET, nil
	case "POST":
		return MethodPOST, nil
	default:
		return "", errs.InputError("model.method", "不支持的请求方法: %q", s)
	}
}

// Mode 签名模式
type Mode string

const (
	ModeJS      Mode = "js"
	ModeBrowser Mode = "browser"
	ModeAuto    Mode = "auto"
)

// 结果中实际使用的模式
const (
	UsedJS         = "js"
	UsedJSEnhanced = "js-enhanced"
	UsedBrowser    = "browser"
)

// ParseMode 空串视为 js，其余未知取值返回 ConfigError
func ParseMode(s string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(s))) {
	case "", ModeJS:
		return ModeJS, nil
	case ModeBrowser:
		return ModeBrowser, nil
	case ModeAuto:
		return ModeAuto, nil
	default:
		return "", errs.ConfigError("model.mode", "未知的签名模式: %q", s)
	}
}

// SignRequest 一次签名请求
type SignRequest struct {
	Method         Method          `json:"method"`
	URI            string          `json:"url"`
	Payload        json.RawMessage `json:"data,omitempty"`
	IdentityToken  string          `json:"a1,omitempty"`
	SecondaryToken string          `json:"b1,omitempty"`
	AppID          string          `json:"appId,omitempty"`

	Mode               Mode   `json:"mode,omitempty"`
	NeedXSCommon       bool   `json:"needXsCommon,omitempty"`
	Cookie             string `json:"cookie,omitempty"`
	DebugEndpoint      string `json:"debugEndpoint,omitempty"`
	AutoFetchSecondary bool   `json:"autoFetchB1,omitempty"`
}

// App 返回应用标识，未设置时取默认值
func (r *SignRequest) App() string {
	if r.AppID == "" {
		return DefaultAppID
	}
	return r.AppID
}

// HasPayload 判断是否携带了有效载荷（null 视为未携带）
func (r *SignRequest) HasPayload() bool {
	p := strings.TrimSpace(string(r.Payload))
	return p != "" && p != "null"
}

// Identity 当 a1 为空时尝试从 Cookie 中读取
func (r *SignRequest) Identity() string {
	if r.IdentityToken != "" {
		return r.IdentityToken
	}
	if r.Cookie != "" {
		return traffic.ParseCookie(r.Cookie)["a1"]
	}
	return ""
}

// Validate 在任何外部交互之前校验输入
func (r *SignRequest) Validate() error {
	if strings.TrimSpace(r.URI) == "" {
		return errs.InputError("model.validate", "缺少 url 参数")
	}
	if _, err := ParseMethod(string(r.Method)); err != nil {
		return err
	}
	if r.HasPayload() && !json.Valid(r.Payload) {
		return errs.InputError("model.validate", "data 不是合法的 JSON")
	}
	return nil
}

// CaptureRequest 浏览器抓取请求
type CaptureRequest struct {
	URL           string          `json:"url"`
	Method        Method          `json:"method"`
	Payload       json.RawMessage `json:"data,omitempty"`
	Cookie        string          `json:"cookie,omitempty"`
	DebugEndpoint string          `json:"debugEndpoint,omitempty"`
	UserAgent     string          `json:"userAgent,omitempty"`
	Headless      *bool           `json:"headless,omitempty"`
}

// FromSign 由签名请求构造抓取请求
func FromSign(r *SignRequest) CaptureRequest {
	return CaptureRequest{
		URL:           r.URI,
		Method:        r.Method,
		Payload:       r.Payload,
		Cookie:        r.Cookie,
		DebugEndpoint: r.DebugEndpoint,
	}
}

// Result 签名结果，Mode 为实际使用的模式
type Result struct {
	Headers  traffic.Header `json:"headers"`
	Mode     string         `json:"mode"`
	Degraded bool           `json:"degraded,omitempty"`
}

// TargetInfo 浏览器页面信息
type TargetInfo struct {
	ID    TargetID `json:"id"`
	Type  string   `json:"type"`
	URL   string   `json:"url"`
	Title string   `json:"title"`
}
