// Package launcher 用 chromedp 启动独立的浏览器实例。
package launcher

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/fetch"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"

	cdpadapter "signbridge/internal/adapter/chromedp"
	"signbridge/internal/capture"
	"signbridge/internal/logger"
	"signbridge/pkg/errs"
	"signbridge/pkg/model"
	"signbridge/pkg/traffic"
)

// Launcher 启动模式驱动，实现 capture.Dialer
type Launcher struct {
	log   logger.Logger
	flags map[string]any
}

// Option 启动器选项
type Option func(*Launcher)

// WithFlag 追加命令行开关
func WithFlag(name string, value any) Option {
	return func(l *Launcher) { l.flags[name] = value }
}

func WithLogger(l logger.Logger) Option {
	return func(lc *Launcher) { lc.log = l }
}

// New 创建启动器
func New(opts ...Option) *Launcher {
	l := &Launcher{log: logger.NewNop(), flags: make(map[string]any)}
	for _, o := range opts {
		o(l)
	}
	l.log = l.log.With("component", "launcher")
	return l
}

// allocatorOptions 默认开关之上叠加反自动化检测与容器友好设置
func (l *Launcher) allocatorOptions(o capture.ConnectOptions) []chromedp.ExecAllocatorOption {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", o.Headless),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("mute-audio", true),
		chromedp.Flag("no-first-run", true),
		chromedp.Flag("no-default-browser-check", true),
	)
	if o.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(o.ExecPath))
	}
	if o.UserDataDir != "" {
		opts = append(opts, chromedp.UserDataDir(o.UserDataDir))
	}
	if o.UserAgent != "" {
		opts = append(opts, chromedp.UserAgent(o.UserAgent))
	}
	for k, v := range l.flags {
		opts = append(opts, chromedp.Flag(k, v))
	}
	return opts
}

// Dial 启动浏览器进程并打开首个标签页
func (l *Launcher) Dial(ctx context.Context, o capture.ConnectOptions) (capture.Browser, error) {
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), l.allocatorOptions(o)...)
	tabCtx, tabCancel := chromedp.NewContext(allocCtx)

	// 首次 Run 分配浏览器进程，不能带调用方的超时
	started := make(chan error, 1)
	go func() { started <- chromedp.Run(tabCtx) }()
	select {
	case err := <-started:
		if err != nil {
			tabCancel()
			allocCancel()
			return nil, errs.Classify("launcher.start", err)
		}
	case <-ctx.Done():
		tabCancel()
		allocCancel()
		return nil, errs.Classify("launcher.start", ctx.Err())
	}

	b := &browser{allocCancel: allocCancel, log: l.log}
	b.primary = &tab{ctx: tabCtx, cancel: tabCancel, log: l.log}
	b.tabs = []*tab{b.primary}
	l.log.Info("已启动浏览器", "headless", o.Headless, "execPath", o.ExecPath)
	return b, nil
}

type browser struct {
	allocCancel context.CancelFunc
	log         logger.Logger

	mu      sync.Mutex
	primary *tab
	tabs    []*tab
	once    sync.Once
}

func (b *browser) Pages(context.Context) ([]capture.Page, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]capture.Page, 0, len(b.tabs))
	for _, t := range b.tabs {
		out = append(out, t)
	}
	return out, nil
}

func (b *browser) NewPage(context.Context) (capture.Page, error) {
	tctx, cancel := chromedp.NewContext(b.primary.ctx)
	t := &tab{ctx: tctx, cancel: cancel, log: b.log}
	// 新标签页的首次 Run 同样不能带调用方的取消
	if err := chromedp.Run(tctx); err != nil {
		cancel()
		return nil, errs.PageUnavailableError("launcher.newPage", err)
	}
	b.mu.Lock()
	b.tabs = append(b.tabs, t)
	b.mu.Unlock()
	return t, nil
}

func (b *browser) Owned() bool { return true }

// Close 优雅关闭浏览器后回收进程
func (b *browser) Close() error {
	var err error
	b.once.Do(func() {
		err = chromedp.Cancel(b.primary.ctx)
		b.allocCancel()
		b.log.Debug("浏览器已关闭")
	})
	return err
}

// tab 一个由 chromedp 上下文代表的标签页
type tab struct {
	ctx    context.Context
	cancel context.CancelFunc
	log    logger.Logger
}

// run 在标签页上执行动作，同时响应调用方的取消
func (t *tab) run(ctx context.Context, actions ...chromedp.Action) error {
	rctx, cancel := context.WithCancel(t.ctx)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()
	if err := chromedp.Run(rctx, actions...); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return err
	}
	return nil
}

func (t *tab) Info(ctx context.Context) (model.TargetInfo, error) {
	var info model.TargetInfo
	if c := chromedp.FromContext(t.ctx); c != nil && c.Target != nil {
		info.ID = model.TargetID(c.Target.TargetID)
	}
	info.Type = "page"
	if err := t.run(ctx, chromedp.Location(&info.URL), chromedp.Title(&info.Title)); err != nil {
		return info, errs.Classify("launcher.info", err)
	}
	return info, nil
}

func (t *tab) Navigate(ctx context.Context, url string) error {
	if err := t.run(ctx, chromedp.Navigate(url)); err != nil {
		return errs.Classify("launcher.navigate", err)
	}
	t.log.Debug("页面导航完成", "url", url)
	return nil
}

func (t *tab) Evaluate(ctx context.Context, expr string) (json.RawMessage, error) {
	var raw []byte
	err := t.run(ctx, chromedp.Evaluate(expr, &raw, func(p *runtime.EvaluateParams) *runtime.EvaluateParams {
		return p.WithAwaitPromise(true)
	}))
	if err != nil {
		return nil, err
	}
	return json.RawMessage(raw), nil
}

func (t *tab) SetCookies(ctx context.Context, cookies []traffic.Cookie) error {
	if len(cookies) == 0 {
		return nil
	}
	params := cdpadapter.ToCookieParams(cookies)
	return t.run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		return network.SetCookies(params).Do(ctx)
	}))
}

// Intercept 监听 Fetch.requestPaused，回调在独立 goroutine 中执行后放行
func (t *tab) Intercept(ctx context.Context, fn capture.RequestHandler) (func(), error) {
	lctx, lcancel := context.WithCancel(t.ctx)
	chromedp.ListenTarget(lctx, func(ev any) {
		e, ok := ev.(*fetch.EventRequestPaused)
		if !ok {
			return
		}
		go func() {
			fn(cdpadapter.ToNeutralRequest(e))
			c := chromedp.FromContext(t.ctx)
			if c == nil || c.Target == nil {
				return
			}
			if err := fetch.ContinueRequest(e.RequestID).Do(cdp.WithExecutor(t.ctx, c.Target)); err != nil {
				t.log.Debug("放行请求失败", "error", err)
			}
		}()
	})

	patterns := []*fetch.RequestPattern{{URLPattern: "*", RequestStage: fetch.RequestStageRequest}}
	if err := t.run(ctx, fetch.Enable().WithPatterns(patterns)); err != nil {
		lcancel()
		return nil, errs.Classify("launcher.intercept", err)
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			if err := t.run(context.Background(), fetch.Disable()); err != nil {
				t.log.Debug("关闭请求拦截失败", "error", err)
			}
			lcancel()
		})
	}, nil
}

// Detach 自有标签页无需断开
func (t *tab) Detach() error { return nil }

func (t *tab) Close() error {
	t.cancel()
	return nil
}

var (
	_ capture.Dialer = (*Launcher)(nil)
	_ capture.Page   = (*tab)(nil)
)
