package storage

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"signbridge/internal/ctxkeys"
	"signbridge/internal/logger"
)

// DefaultSlowWrite 审计写入超过该耗时记为慢写入
const DefaultSlowWrite = 200 * time.Millisecond

// auditLog 把审计库的 SQL 日志接入应用日志。
// 审计是旁路写入，成功的语句只在 Info 级别输出，出错与慢写入带上追踪 ID 与会话 ID。
type auditLog struct {
	log   logger.Logger
	level gormlogger.LogLevel
	slow  time.Duration
}

func newAuditLog(l logger.Logger) *auditLog {
	if l == nil {
		l = logger.NewNop()
	}
	return &auditLog{log: l.With("component", "audit"), level: gormlogger.Warn, slow: DefaultSlowWrite}
}

func (a *auditLog) LogMode(level gormlogger.LogLevel) gormlogger.Interface {
	cp := *a
	cp.level = level
	return &cp
}

func (a *auditLog) Info(ctx context.Context, msg string, data ...any) {
	if a.level >= gormlogger.Info {
		a.log.Info(msg, a.fields(ctx, "data", data)...)
	}
}

func (a *auditLog) Warn(ctx context.Context, msg string, data ...any) {
	if a.level >= gormlogger.Warn {
		a.log.Warn(msg, a.fields(ctx, "data", data)...)
	}
}

func (a *auditLog) Error(ctx context.Context, msg string, data ...any) {
	if a.level >= gormlogger.Error {
		a.log.Error(msg, a.fields(ctx, "data", data)...)
	}
}

// Trace 未命中记录不算错误
func (a *auditLog) Trace(ctx context.Context, begin time.Time, fc func() (string, int64), err error) {
	if a.level <= gormlogger.Silent {
		return
	}
	elapsed := time.Since(begin)
	failed := err != nil && !errors.Is(err, gorm.ErrRecordNotFound)
	slow := a.slow > 0 && elapsed > a.slow

	if !failed && !slow && a.level < gormlogger.Info {
		return
	}
	sql, rows := fc()
	kv := a.fields(ctx, "sql", sql, "rows", rows, "elapsed", elapsed)
	switch {
	case failed && a.level >= gormlogger.Error:
		a.log.Err(err, "审计写入失败", kv...)
	case slow && a.level >= gormlogger.Warn:
		a.log.Warn("审计写入过慢", append(kv, "threshold", a.slow)...)
	case a.level >= gormlogger.Info:
		a.log.Debug("审计SQL", kv...)
	}
}

func (a *auditLog) fields(ctx context.Context, kv ...any) []any {
	out := make([]any, 0, len(kv)+4)
	if id := ctxkeys.TraceID(ctx); id != "" {
		out = append(out, "traceId", id)
	}
	if id := ctxkeys.SessionID(ctx); id != "" {
		out = append(out, "sessionID", id)
	}
	return append(out, kv...)
}
