// Package signer 以纯算法方式生成 x-s / x-t 请求头。
package signer

import (
	"math/rand/v2"
	"strconv"
	"sync"
	"time"

	"github.com/tidwall/sjson"

	"signbridge/internal/canonical"
	"signbridge/internal/logger"
	"signbridge/pkg/codec"
	"signbridge/pkg/errs"
	"signbridge/pkg/model"
	"signbridge/pkg/traffic"
)

const (
	// Prefix x-s 固定前缀
	Prefix = "XYS_"
	// X3Prefix 信封中 x3 字段的前缀
	X3Prefix = "mns0101_"

	envelopeVersion  = "4.2.6"
	envelopePlatform = "Windows"
	envelopeType     = "object"
)

// Layout 签名帧布局
type Layout string

const (
	LayoutFrame  Layout = "frame"
	LayoutLegacy Layout = "legacy"
)

// ParseLayout 空串视为 frame
func ParseLayout(s string) (Layout, error) {
	switch Layout(s) {
	case "", LayoutFrame:
		return LayoutFrame, nil
	case LayoutLegacy:
		return LayoutLegacy, nil
	default:
		return "", errs.ConfigError("signer.layout", "未知的签名布局: %q", s)
	}
}

// Rand 签名过程使用的随机源
type Rand interface {
	Uint32() uint32
	IntN(n int) int
}

type globalRand struct{}

func (globalRand) Uint32() uint32 { return rand.Uint32() }
func (globalRand) IntN(n int) int { return rand.IntN(n) }

// Option 签名器选项
type Option func(*Signer)

// WithRand 指定随机源
func WithRand(r Rand) Option {
	return func(s *Signer) { s.rnd = r }
}

// WithClock 指定时钟
func WithClock(now func() time.Time) Option {
	return func(s *Signer) { s.now = now }
}

// WithLayout 指定帧布局
func WithLayout(l Layout) Option {
	return func(s *Signer) { s.layout = l }
}

// WithLogger 指定日志
func WithLogger(l logger.Logger) Option {
	return func(s *Signer) { s.log = l }
}

// Signer 签名帧组装器，可并发使用
type Signer struct {
	mu     sync.Mutex
	rnd    Rand
	now    func() time.Time
	layout Layout
	log    logger.Logger
}

// New 创建签名器
func New(opts ...Option) *Signer {
	s := &Signer{
		rnd:    globalRand{},
		now:    time.Now,
		layout: LayoutFrame,
		log:    logger.NewNop(),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Layout 当前布局
func (s *Signer) Layout() Layout { return s.layout }

// Sign 生成 x-s 与 x-t
func (s *Signer) Sign(req *model.SignRequest) (traffic.Header, error) {
	method, err := model.ParseMethod(string(req.Method))
	if err != nil {
		return nil, err
	}
	content, dValue, err := canonical.Encode(method, req.URI, req.Payload)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	now := s.now()
	in := frameInput{content: content, dValue: dValue, a1: req.IdentityToken, appID: req.App(), now: now}
	var frame []byte
	if s.layout == LayoutLegacy {
		frame = s.buildLegacyFrame(in)
	} else {
		frame = s.buildFrame(in)
	}
	s.mu.Unlock()

	xs, err := Envelope(encodeFrame(frame))
	if err != nil {
		return nil, err
	}
	s.log.Debug("生成签名", "method", method, "uri", canonical.ExtractURI(req.URI), "layout", s.layout, "dValue", dValue)

	h := make(traffic.Header, 2)
	h.Set(traffic.HeaderXS, xs)
	h.Set(traffic.HeaderXT, strconv.FormatInt(now.UnixMilli(), 10))
	return h, nil
}

// Envelope 将 Base58 签名核心包装为 x-s
func Envelope(core string) (string, error) {
	doc := "{}"
	var err error
	for _, kv := range [][2]string{
		{"x0", envelopeVersion},
		{"x1", model.DefaultAppID},
		{"x2", envelopePlatform},
		{"x3", X3Prefix + core},
		{"x4", envelopeType},
	} {
		if doc, err = sjson.Set(doc, kv[0], kv[1]); err != nil {
			return "", errs.EncodingError("signer.envelope", "%v", err)
		}
	}
	return Prefix + codec.Base64Encode([]byte(doc)), nil
}
