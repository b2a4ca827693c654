package capture

import (
	"context"
	"encoding/json"

	"signbridge/pkg/model"
	"signbridge/pkg/traffic"
)

// ConnectOptions 建立浏览器会话的参数
type ConnectOptions struct {
	DebugEndpoint string // 非空时附加到已有浏览器
	ExecPath      string
	Headless      bool
	UserDataDir   string
	UserAgent     string
}

// Dialer 建立浏览器会话
type Dialer interface {
	Dial(ctx context.Context, opts ConnectOptions) (Browser, error)
}

// DialerFunc 函数适配
type DialerFunc func(ctx context.Context, opts ConnectOptions) (Browser, error)

func (f DialerFunc) Dial(ctx context.Context, opts ConnectOptions) (Browser, error) {
	return f(ctx, opts)
}

// Browser 一个浏览器会话
type Browser interface {
	// Pages 枚举现有页面
	Pages(ctx context.Context) ([]Page, error)
	// NewPage 新开页面
	NewPage(ctx context.Context) (Page, error)
	// Owned 是否由本进程启动
	Owned() bool
	// Close 自有会话终止浏览器，附加会话只断开连接
	Close() error
}

// RequestHandler 拦截到请求时的回调，返回后请求会原样放行
type RequestHandler func(req *traffic.Request)

// Page 一个页面
type Page interface {
	Info(ctx context.Context) (model.TargetInfo, error)
	Navigate(ctx context.Context, url string) error
	// Evaluate 执行表达式，Promise 会被等待，返回 JSON 值
	Evaluate(ctx context.Context, expr string) (json.RawMessage, error)
	SetCookies(ctx context.Context, cookies []traffic.Cookie) error
	// Intercept 在请求阶段拦截所有请求，返回的 stop 用于卸载
	Intercept(ctx context.Context, fn RequestHandler) (stop func(), err error)
	// Detach 断开与页面的连接，页面保持打开
	Detach() error
	// Close 关闭页面
	Close() error
}
