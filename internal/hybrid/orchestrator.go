// Package hybrid 在算法签名与浏览器抓取之间调度，并维护 b1 缓存。
package hybrid

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"signbridge/internal/cache"
	"signbridge/internal/capture"
	"signbridge/internal/ctxkeys"
	"signbridge/internal/logger"
	"signbridge/internal/signer"
	"signbridge/internal/storage"
	"signbridge/pkg/errs"
	"signbridge/pkg/model"
	"signbridge/pkg/traffic"
)

type Mode = model.Mode

const (
	ModeJS      = model.ModeJS
	ModeBrowser = model.ModeBrowser
	ModeAuto    = model.ModeAuto
)

// ParseMode 未知取值返回 ConfigError
func ParseMode(s string) (Mode, error) { return model.ParseMode(s) }

// Signer 算法签名
type Signer interface {
	Sign(req *model.SignRequest) (traffic.Header, error)
}

// Capturer 浏览器抓取
type Capturer interface {
	Capture(ctx context.Context, req model.CaptureRequest) (traffic.Header, error)
	ReadSecondaryToken(ctx context.Context, t capture.Target) (string, error)
	Close() error
}

// Option 调度器选项
type Option func(*Orchestrator)

func WithEnhancer(e signer.Enhancer) Option { return func(o *Orchestrator) { o.enhancer = e } }

func WithCapture(c Capturer) Option { return func(o *Orchestrator) { o.capture = c } }

func WithCache(c *cache.TokenCache) Option { return func(o *Orchestrator) { o.cache = c } }

func WithRecorder(r storage.Recorder) Option { return func(o *Orchestrator) { o.recorder = r } }

func WithLogger(l logger.Logger) Option { return func(o *Orchestrator) { o.log = l } }

// WithAutoFetch 请求未显式开启时是否仍尝试从浏览器读取 b1
func WithAutoFetch(on bool) Option { return func(o *Orchestrator) { o.autoFetch = on } }

// Orchestrator 持有签名器、b1 缓存与至多一个长期存活的抓取客户端
type Orchestrator struct {
	signer    Signer
	enhancer  signer.Enhancer
	cache     *cache.TokenCache
	capture   Capturer
	recorder  storage.Recorder
	log       logger.Logger
	autoFetch bool
	fetches   singleflight.Group

	closeOnce sync.Once
	closeErr  error
}

// New capture 未配置时 browser 模式返回 ConfigError，b1 也不会自动读取
func New(s Signer, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		signer:   s,
		enhancer: signer.NewCommonEnhancer(),
		recorder: storage.NopRecorder{},
		log:      logger.NewNop(),
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.cache == nil {
		o.cache = cache.New(nil, cache.DefaultTTL, cache.WithLogger(o.log))
	}
	o.log = o.log.With("component", "hybrid")
	return o
}

// GetHeaders 按模式生成请求头，结果标注实际使用的模式
func (o *Orchestrator) GetHeaders(ctx context.Context, req *model.SignRequest) (model.Result, error) {
	start := time.Now()
	if err := req.Validate(); err != nil {
		return model.Result{}, err
	}
	mode, err := ParseMode(string(req.Mode))
	if err != nil {
		return model.Result{}, err
	}
	if mode == ModeAuto {
		mode = ModeJS
		if req.NeedXSCommon {
			mode = ModeBrowser
		}
		o.log.Debug("自动选择模式", "mode", mode, "needXsCommon", req.NeedXSCommon)
	}

	var res model.Result
	switch mode {
	case ModeBrowser:
		res, err = o.browser(ctx, req)
	default:
		res, err = o.js(ctx, req)
	}

	op := storage.OpSign
	if mode == ModeBrowser {
		op = storage.OpCapture
	}
	o.audit(ctx, storage.Outcome{
		Operation: op,
		Mode:      usedMode(res, mode),
		Method:    string(req.Method),
		URI:       req.URI,
		Headers:   res.Headers,
		Err:       err,
		Duration:  time.Since(start),
	})
	return res, err
}

// Capture 仅走浏览器抓取
func (o *Orchestrator) Capture(ctx context.Context, req model.CaptureRequest) (traffic.Header, error) {
	if o.capture == nil {
		return nil, errs.ConfigError("hybrid.capture", "未配置浏览器抓取")
	}
	start := time.Now()
	h, err := o.capture.Capture(ctx, req)
	o.audit(ctx, storage.Outcome{
		Operation: storage.OpCapture,
		Mode:      model.UsedBrowser,
		Method:    string(req.Method),
		URI:       req.URL,
		Headers:   h,
		Err:       err,
		Duration:  time.Since(start),
	})
	if err != nil {
		return nil, errs.Classify("hybrid.capture", err)
	}
	return h, nil
}

func (o *Orchestrator) js(ctx context.Context, req *model.SignRequest) (model.Result, error) {
	base, err := o.signer.Sign(req)
	if err != nil {
		return model.Result{}, err
	}
	log := o.log.With("traceId", ctxkeys.TraceID(ctx))

	b1 := o.resolveSecondary(ctx, req)
	if b1 == "" {
		log.Warn("未获取到 b1，返回基础签名（仅 x-s/x-t）", "url", req.URI)
		return model.Result{Headers: base, Mode: model.UsedJS, Degraded: true}, nil
	}

	enhanced, err := o.enhancer.Enhance(req.Identity(), b1, base.Get(traffic.HeaderXS), base.Get(traffic.HeaderXT))
	if err != nil {
		log.Warn("生成 x-s-common 失败，返回基础签名", "error", err)
		return model.Result{Headers: base, Mode: model.UsedJS, Degraded: true}, nil
	}
	h := base.Clone()
	h.Merge(enhanced)
	log.Debug("已生成增强签名", "url", req.URI)
	return model.Result{Headers: h, Mode: model.UsedJSEnhanced}, nil
}

func (o *Orchestrator) browser(ctx context.Context, req *model.SignRequest) (model.Result, error) {
	if o.capture == nil {
		return model.Result{}, errs.ConfigError("hybrid.browser", "未配置浏览器抓取")
	}
	h, err := o.capture.Capture(ctx, model.FromSign(req))
	if err != nil {
		return model.Result{}, errs.Classify("hybrid.browser", err)
	}
	return model.Result{Headers: h, Mode: model.UsedBrowser}, nil
}

// resolveSecondary 依次取请求参数、缓存、浏览器 localStorage，浏览器读到的值写回缓存
func (o *Orchestrator) resolveSecondary(ctx context.Context, req *model.SignRequest) string {
	if req.SecondaryToken != "" {
		return req.SecondaryToken
	}
	key := cache.Key(req.IdentityToken, req.Cookie)
	if tok, ok := o.cache.Get(ctx, key); ok {
		o.log.Debug("b1 命中缓存")
		return tok
	}
	if o.capture == nil || !(req.AutoFetchSecondary || o.autoFetch) {
		return ""
	}
	if req.Cookie == "" && req.DebugEndpoint == "" {
		return ""
	}

	// 同一 key 的并发请求共享一次浏览器读取
	v, err, shared := o.fetches.Do(key, func() (any, error) {
		o.log.Info("b1 未提供，尝试通过浏览器获取")
		start := time.Now()
		tok, err := o.capture.ReadSecondaryToken(ctx, capture.Target{Cookie: req.Cookie, DebugEndpoint: req.DebugEndpoint})
		o.audit(ctx, storage.Outcome{
			Operation: storage.OpB1,
			Mode:      model.UsedBrowser,
			URI:       req.URI,
			Err:       err,
			Duration:  time.Since(start),
		})
		if err != nil {
			return "", err
		}
		if tok != "" {
			if err := o.cache.Put(ctx, key, tok); err != nil {
				o.log.Warn("写入 b1 缓存失败", "error", err)
			}
		}
		return tok, nil
	})
	if err != nil {
		o.log.Warn("自动获取 b1 出错", "error", err, "hint", errs.HintOf(err))
		return ""
	}
	tok, _ := v.(string)
	if tok == "" {
		o.log.Warn("自动获取 b1 失败，返回空值")
		return ""
	}
	o.log.Info("成功自动获取 b1", "shared", shared)
	return tok
}

// ForgetSecondary 丢弃缓存中的 b1
func (o *Orchestrator) ForgetSecondary(ctx context.Context, a1, cookie string) error {
	return o.cache.Invalidate(ctx, cache.Key(a1, cookie))
}

// CachedTokens 缓存中的 b1 条目数，后端不支持计数时 ok 为 false
func (o *Orchestrator) CachedTokens() (n int, ok bool) {
	return o.cache.Len()
}

func (o *Orchestrator) audit(ctx context.Context, out storage.Outcome) {
	if err := o.recorder.Record(ctx, out); err != nil {
		o.log.Debug("写入审计记录失败", "error", err)
	}
}

// Close 释放抓取客户端与缓存
func (o *Orchestrator) Close() error {
	o.closeOnce.Do(func() {
		if o.capture != nil {
			o.closeErr = o.capture.Close()
		}
		if err := o.cache.Close(); err != nil && o.closeErr == nil {
			o.closeErr = err
		}
	})
	return o.closeErr
}

func usedMode(res model.Result, mode Mode) string {
	if res.Mode != "" {
		return res.Mode
	}
	return string(mode)
}
