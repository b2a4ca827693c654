package signer

import (
	"signbridge/pkg/codec"
)

// buildLegacyFrame 旧版布局：大端 32 位时间戳、16 位标记、完整 MD5 摘要
func (s *Signer) buildLegacyFrame(in frameInput) []byte {
	ts := in.now.UnixMilli()
	startup := ts - int64(startupOffsetMin+s.rnd.IntN(startupOffsetMax-startupOffsetMin+1))

	frame := make([]byte, 0, 4+4+4+2+16*3+2+len(envBytes)+16)
	frame = append(frame, codec.PutUint32BE(ts^timestampXORKey)...)
	frame = append(frame, codec.PutUint32BE(startup^timestampXORKey)...)
	frame = append(frame, versionBytes...)
	frame = append(frame, codec.PutUint16BE(fixedMarker1)...)

	for _, part := range []string{in.dValue, in.a1, in.appID} {
		sum := codec.MD5([]byte(part))
		frame = append(frame, sum[:]...)
	}

	frame = append(frame, codec.PutUint16BE(fixedMarker2)...)
	frame = append(frame, envBytes...)
	sum := codec.MD5([]byte(in.content))
	return append(frame, sum[:]...)
}
