// Package storage 基于 SQLite 的签名/抓取审计记录。
package storage

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/schema"

	"signbridge/internal/ctxkeys"
	"signbridge/internal/logger"
	"signbridge/pkg/errs"
	"signbridge/pkg/traffic"
)

// 审计操作类型
const (
	OpSign    = "sign"
	OpCapture = "capture"
	OpB1      = "b1"
)

// Record 一次签名或抓取的结果
type Record struct {
	ID         uint   `gorm:"primaryKey"`
	TraceID    string `gorm:"size:64;index"`
	Operation  string `gorm:"size:16;index"`
	Mode       string `gorm:"size:16"`
	Method     string `gorm:"size:8"`
	URI        string `gorm:"size:1024"`
	Success    bool   `gorm:"index"`
	Kind       string `gorm:"size:32"`
	Headers    string `gorm:"size:256"` // 存在的请求头名称，逗号分隔
	Error      string `gorm:"size:1024"`
	DurationMs int64
	CreatedAt  time.Time `gorm:"index"`
}

// Outcome 写入审计所需的信息
type Outcome struct {
	Operation string
	Mode      string
	Method    string
	URI       string
	Headers   traffic.Header
	Err       error
	Duration  time.Duration
}

// Recorder 审计写入接口
type Recorder interface {
	Record(ctx context.Context, o Outcome) error
}

// NopRecorder 不做任何记录
type NopRecorder struct{}

func (NopRecorder) Record(context.Context, Outcome) error { return nil }

var _ Recorder = (*AuditDB)(nil)

// AuditDB 审计仓库
type AuditDB struct {
	db  *gorm.DB
	log logger.Logger
}

// Open 打开或创建 SQLite 审计库并迁移表结构
func Open(dsn, prefix string, l logger.Logger) (*AuditDB, error) {
	if dsn == "" {
		return nil, errs.ConfigError("storage.open", "sqlite.dsn 为空")
	}
	if l == nil {
		l = logger.NewNop()
	}
	if dir := filepath.Dir(dsn); dir != "." && !strings.HasPrefix(dsn, "file:") && !strings.Contains(dsn, ":memory:") {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, errs.ConfigError("storage.open", "创建数据目录失败: %v", err)
		}
	}
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:         newAuditLog(l),
		NamingStrategy: schema.NamingStrategy{TablePrefix: prefix},
	})
	if err != nil {
		return nil, errs.ConfigError("storage.open", "打开审计库失败: %v", err)
	}
	if err := db.AutoMigrate(&Record{}); err != nil {
		return nil, errs.ConfigError("storage.migrate", "迁移审计表失败: %v", err)
	}
	l.Info("审计库已打开", "dsn", dsn)
	return &AuditDB{db: db, log: l}, nil
}

// Record 写入一条审计
func (a *AuditDB) Record(ctx context.Context, o Outcome) error {
	rec := Record{
		TraceID:    ctxkeys.TraceID(ctx),
		Operation:  o.Operation,
		Mode:       o.Mode,
		Method:     o.Method,
		URI:        truncate(o.URI, 1024),
		Success:    o.Err == nil,
		Headers:    strings.Join(presentHeaders(o.Headers), ","),
		DurationMs: o.Duration.Milliseconds(),
	}
	if o.Err != nil {
		rec.Kind = errs.KindOf(o.Err).String()
		rec.Error = truncate(o.Err.Error(), 1024)
	}
	return a.db.WithContext(ctx).Create(&rec).Error
}

// Recent 按时间倒序返回最近的记录
func (a *AuditDB) Recent(ctx context.Context, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = 50
	}
	var out []Record
	err := a.db.WithContext(ctx).Order("id desc").Limit(limit).Find(&out).Error
	return out, err
}

// ModeCount 按模式统计的成功/失败次数
type ModeCount struct {
	Mode    string
	Success bool
	Total   int64
}

// Stats 按模式与结果聚合
func (a *AuditDB) Stats(ctx context.Context) ([]ModeCount, error) {
	var out []ModeCount
	err := a.db.WithContext(ctx).Model(&Record{}).
		Select("mode, success, count(*) as total").
		Group("mode, success").
		Order("mode, success").
		Scan(&out).Error
	return out, err
}

// Close 关闭底层连接
func (a *AuditDB) Close() error {
	if a == nil || a.db == nil {
		return nil
	}
	sqlDB, err := a.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func presentHeaders(h traffic.Header) []string {
	names := make([]string, 0, 4)
	for _, k := range []string{traffic.HeaderXS, traffic.HeaderXT, traffic.HeaderXSCommon, traffic.HeaderTraceID} {
		if h.Has(k) {
			names = append(names, k)
		}
	}
	sort.Strings(names)
	return names
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
