// Package cdp 通过远程调试端口附加到已运行的浏览器。
package cdp

import (
	"context"
	"strings"
	"sync"

	"github.com/mafredri/cdp"
	"github.com/mafredri/cdp/devtool"
	"github.com/mafredri/cdp/rpcc"

	"signbridge/internal/capture"
	"signbridge/internal/logger"
	"signbridge/pkg/errs"
)

// Manager 附加模式驱动，实现 capture.Dialer
type Manager struct {
	log logger.Logger
}

// New 创建附加驱动
func New(l logger.Logger) *Manager {
	if l == nil {
		l = logger.NewNop()
	}
	return &Manager{log: l.With("component", "cdp")}
}

// Dial 校验调试端点可达并返回附加会话
func (m *Manager) Dial(ctx context.Context, opts capture.ConnectOptions) (capture.Browser, error) {
	endpoint := NormalizeEndpoint(opts.DebugEndpoint)
	if endpoint == "" {
		return nil, errs.ConfigError("cdp.dial", "缺少调试端点")
	}
	dt := devtool.New(endpoint)
	if _, err := dt.Version(ctx); err != nil {
		return nil, errs.ConnectionError("cdp.dial", err)
	}
	m.log.Debug("已连接调试端点", "endpoint", endpoint)
	return &browser{dt: dt, endpoint: endpoint, log: m.log}, nil
}

// NormalizeEndpoint 补全协议前缀，去掉结尾斜杠
func NormalizeEndpoint(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	if !strings.Contains(s, "://") {
		s = "http://" + s
	}
	return strings.TrimRight(s, "/")
}

type browser struct {
	dt       *devtool.DevTools
	endpoint string
	log      logger.Logger

	mu    sync.Mutex
	pages []*page
}

func (b *browser) Pages(ctx context.Context) ([]capture.Page, error) {
	targets, err := b.dt.List(ctx)
	if err != nil {
		return nil, errs.ConnectionError("cdp.list", err)
	}
	var out []capture.Page
	for _, t := range targets {
		if t.Type != devtool.Page || t.WebSocketDebuggerURL == "" {
			continue
		}
		out = append(out, b.track(t))
	}
	return out, nil
}

func (b *browser) NewPage(ctx context.Context) (capture.Page, error) {
	t, err := b.dt.Create(ctx)
	if err != nil {
		return nil, errs.PageUnavailableError("cdp.create", err)
	}
	b.log.Debug("已新建页面", "target", t.ID)
	return b.track(t), nil
}

func (b *browser) track(t *devtool.Target) *page {
	p := &page{target: t, dt: b.dt, log: b.log.With("target", t.ID)}
	b.mu.Lock()
	b.pages = append(b.pages, p)
	b.mu.Unlock()
	return p
}

func (b *browser) Owned() bool { return false }

// Close 断开所有页面连接，不影响浏览器进程
func (b *browser) Close() error {
	b.mu.Lock()
	pages := b.pages
	b.pages = nil
	b.mu.Unlock()
	for _, p := range pages {
		_ = p.Detach()
	}
	return nil
}

// client 按需建立页面的 WebSocket 连接
func (p *page) client(ctx context.Context) (*cdp.Client, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cli != nil {
		return p.cli, nil
	}
	conn, err := rpcc.DialContext(ctx, p.target.WebSocketDebuggerURL)
	if err != nil {
		return nil, errs.ConnectionError("cdp.connect", err)
	}
	p.conn = conn
	p.cli = cdp.NewClient(conn)
	p.log.Debug("已连接页面")
	return p.cli, nil
}

var _ capture.Dialer = (*Manager)(nil)
