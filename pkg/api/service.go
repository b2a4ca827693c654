package api

import (
	"context"

	"signbridge/internal/cache"
	"signbridge/internal/capture"
	"signbridge/internal/cdp"
	"signbridge/internal/config"
	"signbridge/internal/hybrid"
	"signbridge/internal/launcher"
	"signbridge/internal/logger"
	"signbridge/internal/signer"
	"signbridge/internal/storage"
	"signbridge/pkg/errs"
	"signbridge/pkg/model"
	"signbridge/pkg/traffic"
)

// Service 服务接口
type Service interface {
	// Sign 按请求中的模式生成签名头
	Sign(ctx context.Context, req model.SignRequest) (model.Result, error)

	// CaptureHeaders 通过浏览器抓取真实请求头
	CaptureHeaders(ctx context.Context, req model.CaptureRequest) (traffic.Header, error)

	// Stats 按模式统计的调用结果，审计关闭时返回空
	Stats(ctx context.Context) ([]ModeStat, error)

	// Runtime 缓存与抓取会话的即时状态
	Runtime() Runtime

	// ForgetSecondary 丢弃 a1（或 Cookie）对应的 b1 缓存
	ForgetSecondary(ctx context.Context, a1, cookie string) error

	// Close 释放浏览器会话、缓存连接与审计库
	Close() error
}

// ModeStat 单个模式的调用统计
type ModeStat struct {
	Mode    string `json:"mode"`
	Success bool   `json:"success"`
	Total   int64  `json:"total"`
}

// Runtime 运行时状态，CachedTokens 为 nil 表示后端不支持计数
type Runtime struct {
	CachedTokens   *int `json:"cachedTokens,omitempty"`
	ActiveSessions int  `json:"activeSessions"`
}

type service struct {
	orch          *hybrid.Orchestrator
	capture       *capture.Client
	audit         *storage.AuditDB
	debugEndpoint string
	log           logger.Logger
}

// NewService 按配置装配签名器、b1 缓存、抓取驱动与审计库
func NewService(ctx context.Context, cfg *config.Config, l logger.Logger) (Service, error) {
	if l == nil {
		l = logger.NewNop()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	layout, err := signer.ParseLayout(cfg.Signer.Layout)
	if err != nil {
		return nil, err
	}

	store, err := newStore(ctx, cfg.Cache)
	if err != nil {
		return nil, err
	}
	tokens := cache.New(store, cfg.Cache.TTL, cache.WithLogger(l))

	var audit *storage.AuditDB
	var recorder storage.Recorder = storage.NopRecorder{}
	if cfg.Sqlite.Dsn != "" {
		if audit, err = storage.Open(cfg.Sqlite.Dsn, cfg.Sqlite.Prefix, l); err != nil {
			_ = tokens.Close()
			return nil, err
		}
		recorder = audit
	}

	b := cfg.Browser
	client := capture.New(capture.Options{
		EntryURL:        b.EntryURL,
		APIPattern:      b.APIPattern,
		Attempts:        b.Attempts,
		Polls:           b.Polls,
		PollInterval:    b.PollInterval,
		RetryDelay:      b.RetryDelay,
		NavigateTimeout: b.NavigateTimeout,
		Headless:        b.Headless,
		ExecPath:        b.ExecPath,
		UserDataDir:     b.UserDataDir,
	}, cdp.New(l), launcher.New(launcherOptions(b, l)...), captureOptions(b, l)...)

	orch := hybrid.New(
		signer.New(signer.WithLayout(layout), signer.WithLogger(l)),
		hybrid.WithCapture(client),
		hybrid.WithCache(tokens),
		hybrid.WithRecorder(recorder),
		hybrid.WithAutoFetch(b.AutoFetchB1),
		hybrid.WithLogger(l),
	)
	l.Info("签名服务已就绪", "layout", layout, "cache", cfg.Cache.Backend, "audit", audit != nil)
	return &service{orch: orch, capture: client, audit: audit, debugEndpoint: b.DebugEndpoint, log: l}, nil
}

func launcherOptions(b config.Browser, l logger.Logger) []launcher.Option {
	opts := []launcher.Option{launcher.WithLogger(l)}
	for name, value := range b.Flags {
		opts = append(opts, launcher.WithFlag(name, value))
	}
	return opts
}

func captureOptions(b config.Browser, l logger.Logger) []capture.Option {
	opts := []capture.Option{capture.WithLogger(l)}
	if len(b.APIRules) > 0 {
		opts = append(opts, capture.WithAPIRules(b.APIRules...))
	}
	return opts
}

// New 由已装配的调度器构造服务，audit 可为空
func New(orch *hybrid.Orchestrator, audit *storage.AuditDB, debugEndpoint string, l logger.Logger) Service {
	if l == nil {
		l = logger.NewNop()
	}
	return &service{orch: orch, audit: audit, debugEndpoint: debugEndpoint, log: l}
}

func newStore(ctx context.Context, c config.Cache) (cache.Store, error) {
	if c.Backend != "redis" {
		return cache.NewMemoryStore(), nil
	}
	store, err := cache.NewRedisStore(ctx, cache.RedisOptions{
		URL:       c.Redis.URL,
		Addr:      c.Redis.Addr,
		Username:  c.Redis.Username,
		Password:  c.Redis.Password,
		DB:        c.Redis.DB,
		TLS:       c.Redis.TLS,
		KeyPrefix: c.Redis.KeyPrefix,
	})
	if err != nil {
		return nil, errs.Classify("api.redis", err)
	}
	return store, nil
}

func (s *service) Sign(ctx context.Context, req model.SignRequest) (model.Result, error) {
	if req.DebugEndpoint == "" {
		req.DebugEndpoint = s.debugEndpoint
	}
	return s.orch.GetHeaders(ctx, &req)
}

func (s *service) CaptureHeaders(ctx context.Context, req model.CaptureRequest) (traffic.Header, error) {
	if req.DebugEndpoint == "" {
		req.DebugEndpoint = s.debugEndpoint
	}
	return s.orch.Capture(ctx, req)
}

func (s *service) Stats(ctx context.Context) ([]ModeStat, error) {
	if s.audit == nil {
		return nil, nil
	}
	rows, err := s.audit.Stats(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]ModeStat, 0, len(rows))
	for _, r := range rows {
		out = append(out, ModeStat{Mode: r.Mode, Success: r.Success, Total: r.Total})
	}
	return out, nil
}

func (s *service) Runtime() Runtime {
	var rt Runtime
	if n, ok := s.orch.CachedTokens(); ok {
		rt.CachedTokens = &n
	}
	if s.capture != nil {
		rt.ActiveSessions = s.capture.ActiveSessions()
	}
	return rt
}

func (s *service) ForgetSecondary(ctx context.Context, a1, cookie string) error {
	if a1 == "" && cookie == "" {
		return errs.InputError("api.forget", "a1 与 cookie 至少提供一个")
	}
	return s.orch.ForgetSecondary(ctx, a1, cookie)
}

func (s *service) Close() error {
	err := s.orch.Close()
	if aerr := s.audit.Close(); aerr != nil && err == nil {
		err = aerr
	}
	s.log.Info("签名服务已关闭")
	return err
}
