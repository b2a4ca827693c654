// Package capture 通过真实浏览器页面抓取平台请求携带的签名头。
package capture

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"signbridge/internal/ctxkeys"
	"signbridge/internal/logger"
	"signbridge/internal/rules"
	"signbridge/internal/session"
	"signbridge/pkg/errs"
	"signbridge/pkg/model"
	"signbridge/pkg/traffic"
)

// 平台相关默认值
const (
	DefaultEntryURL     = "https://www.xiaohongshu.com/explore"
	DefaultAPIPattern   = "/api/sns/"
	DefaultAPIOrigin    = "https://edith.xiaohongshu.com"
	DefaultCookieDomain = ".xiaohongshu.com"
	DefaultPlatformHost = "xiaohongshu.com"
	DefaultReferer      = "https://www.xiaohongshu.com/"
	DefaultOrigin       = "https://www.xiaohongshu.com"
	SecondaryTokenKey   = "b1"
)

// Options 抓取参数
type Options struct {
	EntryURL        string
	APIPattern      string
	APIOrigin       string
	CookieDomain    string
	PlatformHost    string
	TitleMarkers    []string
	Attempts        int
	Polls           int
	PollInterval    time.Duration
	RetryDelay      time.Duration
	NavigateTimeout time.Duration
	Headless        bool
	ExecPath        string
	UserDataDir     string
	UserAgent       string
}

// DefaultOptions 3 次尝试，每次 30 × 500ms 轮询
func DefaultOptions() Options {
	return Options{
		EntryURL:        DefaultEntryURL,
		APIPattern:      DefaultAPIPattern,
		APIOrigin:       DefaultAPIOrigin,
		CookieDomain:    DefaultCookieDomain,
		PlatformHost:    DefaultPlatformHost,
		TitleMarkers:    []string{"小红书", "RED"},
		Attempts:        3,
		Polls:           30,
		PollInterval:    500 * time.Millisecond,
		RetryDelay:      500 * time.Millisecond,
		NavigateTimeout: 30 * time.Second,
		Headless:        true,
	}
}

func (o *Options) normalize() {
	d := DefaultOptions()
	if o.EntryURL == "" {
		o.EntryURL = d.EntryURL
	}
	if o.APIPattern == "" {
		o.APIPattern = d.APIPattern
	}
	if o.APIOrigin == "" {
		o.APIOrigin = d.APIOrigin
	}
	if o.CookieDomain == "" {
		o.CookieDomain = d.CookieDomain
	}
	if o.PlatformHost == "" {
		o.PlatformHost = d.PlatformHost
	}
	if len(o.TitleMarkers) == 0 {
		o.TitleMarkers = d.TitleMarkers
	}
	if o.Attempts <= 0 {
		o.Attempts = d.Attempts
	}
	if o.Polls <= 0 {
		o.Polls = d.Polls
	}
	if o.PollInterval <= 0 {
		o.PollInterval = d.PollInterval
	}
	if o.RetryDelay < 0 {
		o.RetryDelay = d.RetryDelay
	}
	if o.NavigateTimeout <= 0 {
		o.NavigateTimeout = d.NavigateTimeout
	}
}

// Option 客户端选项
type Option func(*Client)

func WithClock(c Clock) Option { return func(cl *Client) { cl.clock = c } }

func WithLogger(l logger.Logger) Option { return func(cl *Client) { cl.log = l } }

// WithAPIRules 替换判定目标 API 请求的规则
func WithAPIRules(rs ...rules.Rule) Option {
	return func(cl *Client) { cl.apiRules = rules.New(rs...) }
}

// Client 浏览器抓取客户端，同一时间只执行一次调用
type Client struct {
	mu       sync.Mutex
	opts     Options
	attach   Dialer
	launch   Dialer
	clock    Clock
	log      logger.Logger
	sessions *session.Manager
	apiRules *rules.Engine
	pages    *rules.Engine
}

// New attach 用于附加已有浏览器，launch 用于启动独立浏览器，二者可为 nil
func New(opts Options, attach, launch Dialer, options ...Option) *Client {
	opts.normalize()
	c := &Client{
		opts:   opts,
		attach: attach,
		launch: launch,
		clock:  realClock{},
		log:    logger.NewNop(),
	}
	for _, o := range options {
		o(c)
	}
	c.log = c.log.With("component", "capture")
	c.sessions = session.NewManager(c.log)
	if c.apiRules == nil {
		c.apiRules = rules.New(rules.URLContains("api-namespace", opts.APIPattern))
	}
	c.pages = rules.New(rules.PageOf("platform-page", opts.PlatformHost, opts.TitleMarkers...))
	c.log.Debug("抓取客户端已创建", "apiRules", c.apiRules.Len())
	return c
}

// Options 当前生效的参数
func (c *Client) Options() Options { return c.opts }

// Target 连接目标
type Target struct {
	Cookie        string
	DebugEndpoint string
	UserAgent     string
	Headless      *bool
}

// captureSession 一次调用持有的资源
type captureSession struct {
	id      model.SessionID
	browser Browser
	page    Page
	owned   bool
}

// slot 抓取结果槽
type slot struct {
	mu      sync.Mutex
	headers traffic.Header
	url     string
}

func (s *slot) set(h traffic.Header, url string) {
	s.mu.Lock()
	s.headers = h
	s.url = url
	s.mu.Unlock()
}

func (s *slot) get() (traffic.Header, string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.headers, s.url
}

// Capture 在页面内触发目标请求并返回其携带的签名头
func (c *Client) Capture(ctx context.Context, req model.CaptureRequest) (traffic.Header, error) {
	if strings.TrimSpace(req.URL) == "" {
		return nil, errs.InputError("capture", "缺少 url 参数")
	}
	method, err := model.ParseMethod(string(req.Method))
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	sess, err := c.open(ctx, Target{
		Cookie:        req.Cookie,
		DebugEndpoint: req.DebugEndpoint,
		UserAgent:     req.UserAgent,
		Headless:      req.Headless,
	})
	if err != nil {
		return nil, err
	}
	defer c.sessions.Release(sess.id)
	ctx = ctxkeys.WithSessionID(ctx, string(sess.id))
	log := c.log.With("sessionID", ctxkeys.SessionID(ctx), "traceId", ctxkeys.TraceID(ctx))

	captured := &slot{}
	stop, err := sess.page.Intercept(ctx, func(r *traffic.Request) {
		if !c.apiRules.Matches(rules.Ctx{URL: r.URL, Method: r.Method, Headers: r.Headers, Query: r.Query, Cookies: r.Cookies, Body: string(r.Body)}) {
			return
		}
		if !r.Headers.Has(traffic.HeaderXS) {
			return
		}
		captured.set(c.extract(r), r.URL)
		log.Debug("拦截到目标请求", "url", r.URL)
	})
	if err != nil {
		return nil, errs.Classify("capture.intercept", err)
	}
	defer stop()

	start := c.clock.Now()
	target := c.absoluteURL(req.URL)
	script := fetchScript(target, method, req.Payload)
	for attempt := 0; attempt < c.opts.Attempts; attempt++ {
		if attempt > 0 {
			log.Info("重试触发请求", "attempt", attempt+1)
			if err := c.clock.Sleep(ctx, c.opts.RetryDelay); err != nil {
				return nil, errs.Classify("capture.wait", err)
			}
		}
		log.Debug("触发页面内请求", "method", method, "url", target)
		if _, err := sess.page.Evaluate(ctx, script); err != nil {
			log.Warn("触发请求出错", "error", err, "attempt", attempt+1)
		}
		for poll := 0; poll < c.opts.Polls; poll++ {
			if h, u := captured.get(); h != nil {
				log.Info("成功捕获请求头", "url", u, "attempt", attempt+1, "polls", poll, "elapsed", c.clock.Now().Sub(start))
				return h, nil
			}
			if err := c.clock.Sleep(ctx, c.opts.PollInterval); err != nil {
				return nil, errs.Classify("capture.wait", err)
			}
		}
		if h, _ := captured.get(); h != nil {
			return h, nil
		}
	}
	return nil, errs.CaptureTimeoutError("capture", "%d 次尝试后仍未捕获到 %s 请求", c.opts.Attempts, c.opts.APIPattern)
}

// ReadStorage 连接并定位页面后读取 localStorage，不安装拦截
func (c *Client) ReadStorage(ctx context.Context, key string, t Target) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	sess, err := c.open(ctx, t)
	if err != nil {
		return "", err
	}
	defer c.sessions.Release(sess.id)

	raw, err := sess.page.Evaluate(ctx, storageScript(key))
	if err != nil {
		return "", errs.Classify("capture.storage", err)
	}
	var v string
	if len(raw) > 0 && string(raw) != "null" {
		if err := json.Unmarshal(raw, &v); err != nil {
			return "", errs.EncodingError("capture.storage", "localStorage 返回值不是字符串: %s", string(raw))
		}
	}
	c.log.Debug("读取localStorage", "key", key, "found", v != "")
	return v, nil
}

// ReadSecondaryToken 读取 b1
func (c *Client) ReadSecondaryToken(ctx context.Context, t Target) (string, error) {
	return c.ReadStorage(ctx, SecondaryTokenKey, t)
}

// ActiveSessions 当前未释放的抓取会话数
func (c *Client) ActiveSessions() int { return len(c.sessions.List()) }

// Close 清理残留会话
func (c *Client) Close() error {
	c.sessions.CloseAll()
	return nil
}

// open 建立连接、定位页面、注入 Cookie 并按需导航
func (c *Client) open(ctx context.Context, t Target) (*captureSession, error) {
	opts := ConnectOptions{
		DebugEndpoint: t.DebugEndpoint,
		ExecPath:      c.opts.ExecPath,
		Headless:      c.opts.Headless,
		UserDataDir:   c.opts.UserDataDir,
		UserAgent:     c.opts.UserAgent,
	}
	if t.Headless != nil {
		opts.Headless = *t.Headless
	}
	if t.UserAgent != "" {
		opts.UserAgent = t.UserAgent
	}

	dialer, op := c.launch, "capture.launch"
	if t.DebugEndpoint != "" {
		dialer, op = c.attach, "capture.attach"
	}
	if dialer == nil {
		return nil, errs.ConfigError(op, "未配置浏览器驱动")
	}
	browser, err := dialer.Dial(ctx, opts)
	if err != nil {
		return nil, errs.Classify(op, err)
	}

	page, err := c.locatePage(ctx, browser)
	if err != nil {
		_ = browser.Close()
		return nil, err
	}

	sess := &captureSession{
		id:      model.SessionID(uuid.NewString()),
		browser: browser,
		page:    page,
		owned:   browser.Owned(),
	}
	c.sessions.Create(sess.id, sess.owned, t.DebugEndpoint, func() { c.teardown(sess) })

	if t.Cookie != "" {
		cookies := traffic.CookiesFor(t.Cookie, c.opts.CookieDomain)
		if err := page.SetCookies(ctx, cookies); err != nil {
			c.log.Warn("注入Cookie失败", "error", err)
		} else {
			c.log.Debug("已注入Cookie", "count", len(cookies))
		}
	}
	c.ensureOnPlatform(ctx, page)
	return sess, nil
}

// locatePage 优先平台页面，其次第一个页面，最后新开页面
func (c *Client) locatePage(ctx context.Context, b Browser) (Page, error) {
	pages, err := b.Pages(ctx)
	if err != nil {
		return nil, errs.Classify("capture.pages", err)
	}
	for _, p := range pages {
		info, err := p.Info(ctx)
		if err != nil {
			continue
		}
		if c.pages.Matches(rules.Ctx{URL: info.URL, Title: info.Title}) {
			c.log.Debug("找到平台页面", "url", info.URL, "title", info.Title)
			return p, nil
		}
	}
	if len(pages) > 0 {
		c.log.Debug("未找到平台页面，使用第一个页面")
		return pages[0], nil
	}
	p, err := b.NewPage(ctx)
	if err != nil {
		return nil, errs.PageUnavailableError("capture.newPage", err)
	}
	return p, nil
}

// ensureOnPlatform 页面不在平台域名下时导航到入口页，失败只记录日志
func (c *Client) ensureOnPlatform(ctx context.Context, p Page) {
	if info, err := p.Info(ctx); err == nil && strings.Contains(info.URL, c.opts.PlatformHost) {
		return
	}
	nctx, cancel := context.WithTimeout(ctx, c.opts.NavigateTimeout)
	defer cancel()
	if err := p.Navigate(nctx, c.opts.EntryURL); err != nil {
		c.log.Warn("页面导航未完成，继续执行", "url", c.opts.EntryURL, "error", err)
	}
}

// teardown 自有会话关闭页面和浏览器，附加会话只断开
func (c *Client) teardown(s *captureSession) {
	if s.owned {
		if err := s.page.Close(); err != nil {
			c.log.Debug("关闭页面出错", "error", err)
		}
	} else if err := s.page.Detach(); err != nil {
		c.log.Debug("断开页面出错", "error", err)
	}
	if err := s.browser.Close(); err != nil {
		c.log.Debug("关闭浏览器会话出错", "error", err)
	}
}

// extract 从拦截到的请求中取出签名相关头
func (c *Client) extract(r *traffic.Request) traffic.Header {
	h := make(traffic.Header, 8)
	for _, k := range []string{
		traffic.HeaderXS, traffic.HeaderXT, traffic.HeaderXSCommon, traffic.HeaderTraceID,
		traffic.HeaderCookie, traffic.HeaderUserAgent,
	} {
		h.Set(k, r.Headers.Get(k))
	}
	referer := r.Headers.Get(traffic.HeaderReferer)
	if referer == "" {
		referer = DefaultReferer
	}
	h.Set(traffic.HeaderReferer, referer)
	h.Set(traffic.HeaderOrigin, DefaultOrigin)
	return h
}

func (c *Client) absoluteURL(u string) string {
	if strings.HasPrefix(u, "http://") || strings.HasPrefix(u, "https://") {
		return u
	}
	if !strings.HasPrefix(u, "/") {
		u = "/" + u
	}
	return strings.TrimSuffix(c.opts.APIOrigin, "/") + u
}
