package codec

import (
	"github.com/mr-tron/base58"

	"signbridge/pkg/errs"
)

// PlatformAlphabet 平台脚本中的原始字母表（97 个符号，存在重复）。
// 编码基数为 58，只有前 58 个符号参与编码。
const PlatformAlphabet = "NOPQRStuvwxWXYZabcyz012DEFTKLMdefghijkl4563GHIJBC7mnop89+/AUVqrsOPQefghijkABCDEFGuvwz0123456789xy"

const radix = 58

var base58Alphabet = base58.NewAlphabet(PlatformAlphabet[:radix])

// Base58ZeroSymbol 前导零字节对应的符号
const Base58ZeroSymbol = 'N'

// Base58Encode 大端数值解释，前导零字节保留为零符号
func Base58Encode(b []byte) string {
	if len(b) == 0 {
		return ""
	}
	return base58.FastBase58EncodingAlphabet(b, base58Alphabet)
}

// Base58Decode 是 Base58Encode 的逆运算
func Base58Decode(s string) ([]byte, error) {
	if s == "" {
		return []byte{}, nil
	}
	out, err := base58.FastBase58DecodingAlphabet(s, base58Alphabet)
	if err != nil {
		return nil, errs.EncodingError("base58.decode", "%v", err)
	}
	return out, nil
}
