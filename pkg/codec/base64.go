package codec

import (
	"encoding/base64"
	"strings"

	"signbridge/pkg/errs"
)

const (
	StdAlphabet    = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789+/"
	CustomAlphabet = "ZmserbBoHQtNP+wOcza/LpngG8yJq42KWYj0DSfdikx3VT16IlUAFM97hECvuRX5"
)

var (
	toCustom [256]byte
	toStd    [256]byte
)

func init() {
	for i := range 256 {
		toCustom[i] = byte(i)
		toStd[i] = byte(i)
	}
	for i := 0; i < len(StdAlphabet); i++ {
		toCustom[StdAlphabet[i]] = CustomAlphabet[i]
		toStd[CustomAlphabet[i]] = StdAlphabet[i]
	}
}

// TranslateFromStd 标准 Base64 文本逐符号映射到自定义字母表，'=' 等其他字符原样保留
func TranslateFromStd(s string) string {
	return translate(s, &toCustom)
}

// TranslateToStd 自定义字母表映射回标准 Base64 文本
func TranslateToStd(s string) string {
	return translate(s, &toStd)
}

func translate(s string, table *[256]byte) string {
	out := make([]byte, len(s))
	for i := 0; i < len(s); i++ {
		out[i] = table[s[i]]
	}
	return string(out)
}

// Base64Encode 先做标准 Base64 再映射到自定义字母表
func Base64Encode(b []byte) string {
	return TranslateFromStd(base64.StdEncoding.EncodeToString(b))
}

// Base64Decode 映射回标准字母表后解码
func Base64Decode(s string) ([]byte, error) {
	out, err := base64.StdEncoding.DecodeString(TranslateToStd(strings.TrimSpace(s)))
	if err != nil {
		return nil, errs.EncodingError("base64.decode", "%v", err)
	}
	return out, nil
}
