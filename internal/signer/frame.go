package signer

import (
	"encoding/hex"
	"time"

	"signbridge/pkg/codec"
)

const hexKey = "af572b95ca65b2d9ec76bb5d2e97cb653299cc663399cc663399cce673399cce6733190c06030100000000008040209048241289c4e271381c0e0703018040a05028148ac56231180c0683c16030984c2693c964b259ac56abd5eaf5fafd7e3f9f4f279349a4d2e9743a9d4e279349a4d2e9f47a3d1e8f47239148a4d269341a8d4623110884422190c86432994ca6d3e974baddee773b1d8e47a35128148ac5623198cce6f3f97c3e1f8f47a3d168b45aad562b158ac5e2f1f87c3e9f4f279349a4d269b45aad56"

const (
	timestampXORKey  = 41
	startupOffsetMin = 1000
	startupOffsetMax = 4000
	fixedMarker1     = 15
	fixedMarker2     = 1291
)

var (
	frameKey     = mustHex(hexKey)
	versionBytes = []byte{119, 104, 96, 41}
	envBytes     = []byte{1, 249, 83, 102, 103, 201, 181, 131, 99, 94, 7, 68, 250, 132, 21}
)

func mustHex(s string) []byte {
	b, err := hex.DecodeString(s)
	if err != nil {
		panic(err)
	}
	return b
}

// frameInput 组帧所需的全部输入
type frameInput struct {
	content string
	dValue  string
	a1      string
	appID   string
	now     time.Time
}

// buildFrame 按固定字段顺序组装签名帧（未做整体异或）
func (s *Signer) buildFrame(in frameInput) []byte {
	seed := s.rnd.Uint32()
	seedBytes := codec.PutLE(int64(seed), 4)
	ts := in.now.UnixMilli()
	startup := ts - int64(startupOffsetMin+s.rnd.IntN(startupOffsetMax-startupOffsetMin))

	frame := make([]byte, 0, 96+len(in.a1)+len(in.appID))
	frame = append(frame, seedBytes...)
	frame = append(frame, s.obfuscateTimestamp(ts)...)
	frame = append(frame, s.obfuscateTimestamp(startup)...)
	frame = append(frame, versionBytes...)
	frame = append(frame, codec.PutLE(fixedMarker1, 4)...)
	frame = append(frame, codec.PutLE(fixedMarker2, 4)...)
	frame = append(frame, codec.PutLE(int64(len(in.content)), 4)...)

	digest, _ := hex.DecodeString(in.dValue)
	if len(digest) < 8 {
		digest = append(digest, make([]byte, 8-len(digest))...)
	}
	frame = append(frame, codec.XORByte(digest[:8], seedBytes[0])...)

	frame = appendLenPrefixed(frame, in.a1)
	frame = appendLenPrefixed(frame, in.appID)

	frame = append(frame, envBytes[0], s.randByte())
	frame = append(frame, envBytes[1:]...)
	return frame
}

// obfuscateTimestamp 8 字节小端与 41 异或，首字节重新随机
func (s *Signer) obfuscateTimestamp(ms int64) []byte {
	b := codec.XORByte(codec.PutLE(ms, 8), timestampXORKey)
	b[0] = s.randByte()
	return b
}

func (s *Signer) randByte() byte {
	return byte(s.rnd.IntN(256))
}

// appendLenPrefixed 1 字节长度（按字节截断）+ UTF-8 内容
func appendLenPrefixed(dst []byte, v string) []byte {
	dst = append(dst, byte(len(v)))
	return append(dst, v...)
}

// encodeFrame 整体与长密钥异或后做 Base58
func encodeFrame(frame []byte) string {
	return codec.Base58Encode(codec.XOR(frame, frameKey))
}

// decodeFrame 是 encodeFrame 的逆运算
func decodeFrame(s string) ([]byte, error) {
	raw, err := codec.Base58Decode(s)
	if err != nil {
		return nil, err
	}
	return codec.XOR(raw, frameKey), nil
}
