package signer

import (
	"strings"

	"github.com/tidwall/gjson"

	"signbridge/pkg/codec"
	"signbridge/pkg/errs"
)

// Decoded x-s 解开后的结构
type Decoded struct {
	Envelope string // 信封 JSON
	Core     string // x3 去掉前缀后的 Base58 串
	Frame    []byte // 去掉长密钥异或后的原始帧
}

// Decode 逆向解开 x-s，用于排查与校验
func Decode(xs string) (*Decoded, error) {
	if !strings.HasPrefix(xs, Prefix) {
		return nil, errs.EncodingError("signer.decode", "缺少 %s 前缀", Prefix)
	}
	raw, err := codec.Base64Decode(strings.TrimPrefix(xs, Prefix))
	if err != nil {
		return nil, err
	}
	if !gjson.ValidBytes(raw) {
		return nil, errs.EncodingError("signer.decode", "信封不是合法 JSON")
	}
	x3 := gjson.GetBytes(raw, "x3").String()
	if !strings.HasPrefix(x3, X3Prefix) {
		return nil, errs.EncodingError("signer.decode", "x3 缺少 %s 前缀", X3Prefix)
	}
	core := strings.TrimPrefix(x3, X3Prefix)
	frame, err := decodeFrame(core)
	if err != nil {
		return nil, err
	}
	return &Decoded{Envelope: string(raw), Core: core, Frame: frame}, nil
}
