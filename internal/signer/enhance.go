package signer

import (
	"crypto/rand"
	"encoding/hex"

	"github.com/tidwall/sjson"

	"signbridge/pkg/codec"
	"signbridge/pkg/errs"
	"signbridge/pkg/traffic"
)

// Enhancer 由 (a1, b1, x-s, x-t) 推导 x-s-common 与 x-b3-traceid
type Enhancer interface {
	Enhance(a1, b1, xs, xt string) (traffic.Header, error)
}

// EnhancerFunc 函数适配
type EnhancerFunc func(a1, b1, xs, xt string) (traffic.Header, error)

func (f EnhancerFunc) Enhance(a1, b1, xs, xt string) (traffic.Header, error) {
	return f(a1, b1, xs, xt)
}

const commonXORKey = "xhs2024"

// CommonEnhancer 近似实现，与平台真实算法不保证逐位一致
type CommonEnhancer struct {
	// TraceID 可替换的追踪 ID 生成器，默认 16 位小写十六进制
	TraceID func() string
}

// NewCommonEnhancer 创建默认增强器
func NewCommonEnhancer() *CommonEnhancer {
	return &CommonEnhancer{TraceID: NewTraceID}
}

func (e *CommonEnhancer) Enhance(a1, b1, xs, xt string) (traffic.Header, error) {
	if b1 == "" {
		return nil, errs.InputError("signer.enhance", "缺少 b1")
	}
	doc, err := commonPayload(a1, b1, xs, xt)
	if err != nil {
		return nil, err
	}
	common := codec.Base64Encode(codec.XOR([]byte(doc), []byte(commonXORKey)))

	traceID := e.TraceID
	if traceID == nil {
		traceID = NewTraceID
	}
	h := make(traffic.Header, 4)
	h.Set(traffic.HeaderXS, xs)
	h.Set(traffic.HeaderXT, xt)
	h.Set(traffic.HeaderXSCommon, common)
	h.Set(traffic.HeaderTraceID, traceID())
	return h, nil
}

// commonPayload 按固定键顺序构造 x-s-common 明文
func commonPayload(a1, b1, xs, xt string) (string, error) {
	fields := []struct {
		key string
		val any
	}{
		{"s0", 5},
		{"s1", ""},
		{"x0", "1"},
		{"x1", "3.7.8-2"},
		{"x2", "Windows"},
		{"x3", "xhs-pc-web"},
		{"x4", "4.86.0"},
		{"x5", a1},
		{"x6", xs},
		{"x7", xt},
		{"x8", b1},
		{"x9", shortHash(xs + xt + b1)},
		{"x10", 1},
		{"x11", "normal"},
	}
	doc := "{}"
	var err error
	for _, f := range fields {
		if doc, err = sjson.Set(doc, f.key, f.val); err != nil {
			return "", errs.EncodingError("signer.common", "%v", err)
		}
	}
	return doc, nil
}

func shortHash(s string) string {
	if s == "" {
		return ""
	}
	return codec.MD5Hex([]byte(s))[:16]
}

// NewTraceID 16 位小写十六进制随机串
func NewTraceID() string {
	var b [8]byte
	_, _ = rand.Read(b[:])
	return hex.EncodeToString(b[:])
}
