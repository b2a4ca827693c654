package codec

import (
	"crypto/md5"
	"encoding/hex"
)

// XOR 按字节与 key 异或，key 不足时循环使用
func XOR(data, key []byte) []byte {
	out := make([]byte, len(data))
	if len(key) == 0 {
		copy(out, data)
		return out
	}
	for i, b := range data {
		out[i] = b ^ key[i%len(key)]
	}
	return out
}

// XORByte 与单字节异或
func XORByte(data []byte, k byte) []byte {
	out := make([]byte, len(data))
	for i, b := range data {
		out[i] = b ^ k
	}
	return out
}

func MD5(b []byte) [16]byte { return md5.Sum(b) }

func MD5Hex(b []byte) string {
	sum := md5.Sum(b)
	return hex.EncodeToString(sum[:])
}

// PutUint32BE 旧版路径：按无符号 32 位回绕后大端写出
func PutUint32BE(v int64) []byte {
	u := uint32(v)
	return []byte{byte(u >> 24), byte(u >> 16), byte(u >> 8), byte(u)}
}

// PutUint16BE 旧版路径：按无符号 16 位回绕后大端写出
func PutUint16BE(v int64) []byte {
	u := uint16(v)
	return []byte{byte(u >> 8), byte(u)}
}

// PutLE 帧组装路径：按 width 字节截断后小端写出，width 取 2/4/8
func PutLE(v int64, width int) []byte {
	u := uint64(v)
	out := make([]byte, width)
	for i := 0; i < width && i < 8; i++ {
		out[i] = byte(u >> (8 * i))
	}
	return out
}
