package cache

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisOptions Redis 连接参数，URL 优先
type RedisOptions struct {
	URL       string
	Addr      string
	Username  string
	Password  string
	DB        int
	TLS       bool
	KeyPrefix string
}

// RedisStore 多实例共享的 Redis 后端
type RedisStore struct {
	rdb    *redis.Client
	prefix string
}

// NewRedisClient 按配置创建客户端
func NewRedisClient(o RedisOptions) (*redis.Client, error) {
	if o.URL != "" {
		opt, err := redis.ParseURL(o.URL)
		if err != nil {
			return nil, err
		}
		return redis.NewClient(opt), nil
	}
	addr := o.Addr
	if addr == "" {
		addr = "127.0.0.1:6379"
	}
	opt := &redis.Options{
		Addr:     addr,
		DB:       o.DB,
		Username: o.Username,
		Password: o.Password,
	}
	if o.TLS {
		opt.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	return redis.NewClient(opt), nil
}

// NewRedisStore 连接并 Ping 校验
func NewRedisStore(ctx context.Context, o RedisOptions) (*RedisStore, error) {
	rdb, err := NewRedisClient(o)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return NewRedisStoreFromClient(rdb, o.KeyPrefix), nil
}

// NewRedisStoreFromClient 复用已有客户端
func NewRedisStoreFromClient(rdb *redis.Client, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "signbridge:b1:"
	}
	return &RedisStore{rdb: rdb, prefix: prefix}
}

func (r *RedisStore) key(k string) string { return r.prefix + k }

func (r *RedisStore) Get(ctx context.Context, key string) (Entry, bool, error) {
	raw, err := r.rdb.Get(ctx, r.key(key)).Result()
	if errors.Is(err, redis.Nil) {
		return Entry{}, false, nil
	}
	if err != nil {
		return Entry{}, false, err
	}
	var e Entry
	if err := json.Unmarshal([]byte(raw), &e); err != nil {
		// 反序列化失败按未命中处理
		return Entry{}, false, nil
	}
	return e, true, nil
}

// Set 使用 SET EX 整体替换
func (r *RedisStore) Set(ctx context.Context, e Entry, ttl time.Duration) error {
	b, err := json.Marshal(e)
	if err != nil {
		return err
	}
	return r.rdb.Set(ctx, r.key(e.Key), b, ttl).Err()
}

func (r *RedisStore) Delete(ctx context.Context, key string) error {
	return r.rdb.Del(ctx, r.key(key)).Err()
}

func (r *RedisStore) Close() error {
	if r == nil || r.rdb == nil {
		return nil
	}
	return r.rdb.Close()
}
