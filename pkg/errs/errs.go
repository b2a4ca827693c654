package errs

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os/exec"
	"strings"
)

// Kind 错误分类
type Kind int

const (
	KindUnknown Kind = iota
	KindInput
	KindConnection
	KindPageUnavailable
	KindCaptureTimeout
	KindEncoding
	KindConfig
	KindMissingBrowser
	KindCanceled
)

func (k Kind) String() string {
	switch k {
	case KindInput:
		return "InputError"
	case KindConnection:
		return "ConnectionError"
	case KindPageUnavailable:
		return "PageUnavailableError"
	case KindCaptureTimeout:
		return "CaptureTimeoutError"
	case KindEncoding:
		return "EncodingError"
	case KindConfig:
		return "ConfigError"
	case KindMissingBrowser:
		return "MissingBrowserError"
	case KindCanceled:
		return "CanceledError"
	default:
		return "UnknownError"
	}
}

// 用于 errors.Is 的分类哨兵
var (
	Input           = &Error{Kind: KindInput}
	Connection      = &Error{Kind: KindConnection}
	PageUnavailable = &Error{Kind: KindPageUnavailable}
	CaptureTimeout  = &Error{Kind: KindCaptureTimeout}
	Encoding        = &Error{Kind: KindEncoding}
	Config          = &Error{Kind: KindConfig}
	MissingBrowser  = &Error{Kind: KindMissingBrowser}
	Canceled        = &Error{Kind: KindCanceled}
)

// Error 带分类和诊断提示的错误
type Error struct {
	Kind Kind
	Op   string
	Err  error
	Hint string
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(e.Kind.String())
	if e.Op != "" {
		b.WriteString(" [")
		b.WriteString(e.Op)
		b.WriteString("]")
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

// Is 按分类匹配，哨兵只比较 Kind
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && (t.Op == "" || t.Op == e.Op)
}

func newf(kind Kind, op, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Err: fmt.Errorf(format, args...), Hint: defaultHint(kind)}
}

func InputError(op, format string, args ...any) *Error {
	return newf(KindInput, op, format, args...)
}

func ConfigError(op, format string, args ...any) *Error {
	return newf(KindConfig, op, format, args...)
}

func EncodingError(op, format string, args ...any) *Error {
	return newf(KindEncoding, op, format, args...)
}

func CaptureTimeoutError(op, format string, args ...any) *Error {
	return newf(KindCaptureTimeout, op, format, args...)
}

func PageUnavailableError(op string, err error) *Error {
	return &Error{Kind: KindPageUnavailable, Op: op, Err: err, Hint: defaultHint(KindPageUnavailable)}
}

func ConnectionError(op string, err error) *Error {
	return &Error{Kind: KindConnection, Op: op, Err: err, Hint: defaultHint(KindConnection)}
}

// KindOf 返回错误链上第一个分类，没有则为 KindUnknown
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// HintOf 返回诊断提示
func HintOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		if e.Hint != "" {
			return e.Hint
		}
		return defaultHint(e.Kind)
	}
	return ""
}

// Classify 将浏览器路径上的原始错误归类，已分类的错误原样返回
func Classify(op string, err error) error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return err
	}
	kind := KindConnection
	var netErr net.Error
	var opErr *net.OpError
	switch {
	case errors.Is(err, exec.ErrNotFound), looksLikeMissingExecutable(err):
		kind = KindMissingBrowser
	case errors.Is(err, context.DeadlineExceeded):
		kind = KindCaptureTimeout
	case errors.Is(err, context.Canceled):
		kind = KindCanceled
	case errors.As(err, &opErr):
		kind = KindConnection
	case errors.As(err, &netErr) && netErr.Timeout():
		kind = KindCaptureTimeout
	}
	return &Error{Kind: kind, Op: op, Err: err, Hint: defaultHint(kind)}
}

func looksLikeMissingExecutable(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "executable file not found") ||
		(strings.Contains(msg, "no such file or directory") && strings.Contains(msg, "exec"))
}

func defaultHint(kind Kind) string {
	switch kind {
	case KindConnection:
		return "确认浏览器宿主正在运行且开启了远程调试端口，可用 curl http://<host:port>/json/version 验证"
	case KindCaptureTimeout:
		return "浏览器操作超时：网络可能较慢，可重试或改用 js 模式"
	case KindMissingBrowser:
		return "未找到可执行的 Chrome/Chromium，请安装浏览器、配置 browser.execPath，或指定 debugEndpoint 连接已有浏览器"
	case KindPageUnavailable:
		return "无法定位或创建目标页面"
	case KindInput:
		return "请求参数不完整"
	case KindConfig:
		return "配置无效"
	case KindEncoding:
		return "编码内部错误"
	default:
		return ""
	}
}
