package capture

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"signbridge/pkg/model"
	"signbridge/pkg/traffic"
)

type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	sleeps []time.Duration
	// onSleep 在第 n 次 Sleep 时回调
	onSleep func(n int)
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	c.sleeps = append(c.sleeps, d)
	c.now = c.now.Add(d)
	n := len(c.sleeps)
	cb := c.onSleep
	c.mu.Unlock()
	if cb != nil {
		cb(n)
	}
	return nil
}

func (c *fakeClock) count(d time.Duration) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, s := range c.sleeps {
		if s == d {
			n++
		}
	}
	return n
}

type fakePage struct {
	mu        sync.Mutex
	info      model.TargetInfo
	navigated []string
	navErr    error
	cookies   []traffic.Cookie
	scripts   []string
	evalFn    func(expr string, n int) (json.RawMessage, error)
	handler   RequestHandler
	stopped   bool
	detached  bool
	closed    bool
}

func (p *fakePage) Info(context.Context) (model.TargetInfo, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.info, nil
}

func (p *fakePage) Navigate(_ context.Context, url string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.navigated = append(p.navigated, url)
	if p.navErr != nil {
		return p.navErr
	}
	p.info.URL = url
	return nil
}

func (p *fakePage) Evaluate(_ context.Context, expr string) (json.RawMessage, error) {
	p.mu.Lock()
	p.scripts = append(p.scripts, expr)
	n := len(p.scripts)
	fn := p.evalFn
	p.mu.Unlock()
	if fn != nil {
		return fn(expr, n)
	}
	return json.RawMessage("true"), nil
}

func (p *fakePage) SetCookies(_ context.Context, cs []traffic.Cookie) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cookies = append(p.cookies, cs...)
	return nil
}

func (p *fakePage) Intercept(_ context.Context, fn RequestHandler) (func(), error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.handler = fn
	return func() {
		p.mu.Lock()
		p.stopped = true
		p.handler = nil
		p.mu.Unlock()
	}, nil
}

// emit 模拟页面发出一个请求
func (p *fakePage) emit(url string, headers traffic.Header) {
	p.mu.Lock()
	fn := p.handler
	p.mu.Unlock()
	if fn == nil {
		return
	}
	req := traffic.NewRequest()
	req.URL = url
	req.Method = "POST"
	for k, v := range headers {
		req.Headers.Set(k, v)
	}
	fn(req)
}

func (p *fakePage) Detach() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.detached = true
	return nil
}

func (p *fakePage) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

type fakeBrowser struct {
	mu      sync.Mutex
	pages   []*fakePage
	created *fakePage
	owned   bool
	closed  bool
}

func (b *fakeBrowser) Pages(context.Context) ([]Page, error) {
	out := make([]Page, len(b.pages))
	for i, p := range b.pages {
		out[i] = p
	}
	return out, nil
}

func (b *fakeBrowser) NewPage(context.Context) (Page, error) {
	if b.created == nil {
		return nil, errors.New("cannot create page")
	}
	return b.created, nil
}

func (b *fakeBrowser) Owned() bool { return b.owned }

func (b *fakeBrowser) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	return nil
}

type fakeDialer struct {
	browser *fakeBrowser
	err     error
	calls   []ConnectOptions
}

func (d *fakeDialer) Dial(_ context.Context, o ConnectOptions) (Browser, error) {
	d.calls = append(d.calls, o)
	if d.err != nil {
		return nil, d.err
	}
	return d.browser, nil
}
