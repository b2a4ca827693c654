package cache

import (
	"context"
	"time"

	"signbridge/internal/logger"
)

// DefaultTTL b1 默认缓存 30 分钟
const DefaultTTL = 30 * time.Minute

// DefaultKey a1 与 Cookie 均缺失时使用的键
const DefaultKey = "default"

// Key 缓存键：优先 a1，其次完整 Cookie 串
func Key(a1, cookie string) string {
	switch {
	case a1 != "":
		return a1
	case cookie != "":
		return cookie
	default:
		return DefaultKey
	}
}

// TokenCache 带 TTL 的次级令牌缓存
type TokenCache struct {
	store Store
	ttl   time.Duration
	now   func() time.Time
	log   logger.Logger
}

// Option TokenCache 选项
type Option func(*TokenCache)

func WithClock(now func() time.Time) Option {
	return func(c *TokenCache) { c.now = now }
}

func WithLogger(l logger.Logger) Option {
	return func(c *TokenCache) { c.log = l }
}

// New store 为空时使用内存后端，ttl 非正时使用默认值
func New(store Store, ttl time.Duration, opts ...Option) *TokenCache {
	if store == nil {
		store = NewMemoryStore()
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	c := &TokenCache{store: store, ttl: ttl, now: time.Now, log: logger.NewNop()}
	for _, o := range opts {
		o(c)
	}
	return c
}

// TTL 有效期
func (c *TokenCache) TTL() time.Duration { return c.ttl }

// Get 命中且未过期时返回令牌；过期条目会被删除
func (c *TokenCache) Get(ctx context.Context, key string) (string, bool) {
	e, ok, err := c.store.Get(ctx, key)
	if err != nil {
		c.log.Err(err, "读取b1缓存失败", "key", mask(key))
		return "", false
	}
	if !ok || e.Token == "" {
		return "", false
	}
	if c.now().Sub(e.StoredAt) > c.ttl {
		_ = c.store.Delete(ctx, key)
		c.log.Debug("b1缓存已过期", "key", mask(key), "storedAt", e.StoredAt)
		return "", false
	}
	return e.Token, true
}

// Put 以新条目替换旧条目
func (c *TokenCache) Put(ctx context.Context, key, token string) error {
	if token == "" {
		return nil
	}
	e := Entry{Key: key, Token: token, StoredAt: c.now()}
	if err := c.store.Set(ctx, e, c.ttl); err != nil {
		c.log.Err(err, "写入b1缓存失败", "key", mask(key))
		return err
	}
	c.log.Debug("b1已缓存", "key", mask(key), "ttl", c.ttl)
	return nil
}

// Invalidate 删除条目
func (c *TokenCache) Invalidate(ctx context.Context, key string) error {
	return c.store.Delete(ctx, key)
}

// Len 存储支持计数时返回条目数，redis 后端返回 false
func (c *TokenCache) Len() (int, bool) {
	if s, ok := c.store.(Sizer); ok {
		return s.Len(), true
	}
	return 0, false
}

func (c *TokenCache) Close() error { return c.store.Close() }

// mask 日志中只保留键的头部
func mask(key string) string {
	if len(key) <= 8 {
		return key
	}
	return key[:8] + "..."
}
