package ctxkeys

import "context"

// TraceIDKey 请求追踪 ID 在 context 中的键
type TraceIDKey struct{}

// SessionIDKey 抓取会话 ID 在 context 中的键
type SessionIDKey struct{}

// WithTraceID 写入追踪 ID
func WithTraceID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, TraceIDKey{}, id)
}

// TraceID 读取追踪 ID，不存在时返回空串
func TraceID(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	v, _ := ctx.Value(TraceIDKey{}).(string)
	return v
}

// WithSessionID 写入会话 ID
func WithSessionID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, SessionIDKey{}, id)
}

// SessionID 读取会话 ID
func SessionID(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	v, _ := ctx.Value(SessionIDKey{}).(string)
	return v
}
