package logger

import (
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Logger 键值对风格的日志接口
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
	Err(err error, msg string, args ...any)
	With(args ...any) Logger
}

// Options 日志配置
type Options struct {
	Level  string
	Writer []string // console / file
	File   string
	// 以下为文件轮转参数
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

type zlog struct {
	z zerolog.Logger
}

// New 按配置创建 zerolog 实现
func New(opts Options) Logger {
	var writers []io.Writer
	for _, w := range opts.Writer {
		switch strings.ToLower(w) {
		case "console":
			writers = append(writers, zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.DateTime})
		case "file":
			writers = append(writers, newRotateWriter(opts))
		}
	}
	if len(writers) == 0 {
		writers = append(writers, zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.DateTime})
	}
	var out io.Writer = writers[0]
	if len(writers) > 1 {
		out = zerolog.MultiLevelWriter(writers...)
	}
	z := zerolog.New(out).Level(ParseLevel(opts.Level)).With().Timestamp().Logger()
	return &zlog{z: z}
}

// NewWithWriter 输出到指定 writer，主要用于测试
func NewWithWriter(w io.Writer, level string) Logger {
	return &zlog{z: zerolog.New(w).Level(ParseLevel(level)).With().Timestamp().Logger()}
}

// NewNop 丢弃所有日志
func NewNop() Logger {
	return &zlog{z: zerolog.Nop()}
}

func newRotateWriter(opts Options) io.Writer {
	file := opts.File
	if file == "" {
		file = filepath.Join("logs", "signbridge.log")
	}
	maxSize := opts.MaxSizeMB
	if maxSize <= 0 {
		maxSize = 50
	}
	return &lumberjack.Logger{
		Filename:   file,
		MaxSize:    maxSize,
		MaxBackups: opts.MaxBackups,
		MaxAge:     opts.MaxAgeDays,
		Compress:   true,
	}
}

// ParseLevel 未知级别按 info 处理
func ParseLevel(level string) zerolog.Level {
	l, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil || level == "" {
		return zerolog.InfoLevel
	}
	return l
}

func (l *zlog) Debug(msg string, args ...any) { l.z.Debug().Fields(fields(args)).Msg(msg) }
func (l *zlog) Info(msg string, args ...any)  { l.z.Info().Fields(fields(args)).Msg(msg) }
func (l *zlog) Warn(msg string, args ...any)  { l.z.Warn().Fields(fields(args)).Msg(msg) }
func (l *zlog) Error(msg string, args ...any) { l.z.Error().Fields(fields(args)).Msg(msg) }

func (l *zlog) Err(err error, msg string, args ...any) {
	l.z.Error().Err(err).Fields(fields(args)).Msg(msg)
}

func (l *zlog) With(args ...any) Logger {
	return &zlog{z: l.z.With().Fields(fields(args)).Logger()}
}

// fields 将 k1, v1, k2, v2 转为 map，落单的值记到 "extra"
func fields(args []any) map[string]any {
	if len(args) == 0 {
		return nil
	}
	m := make(map[string]any, len(args)/2+1)
	for i := 0; i < len(args); i += 2 {
		key, ok := args[i].(string)
		if !ok {
			m["extra"] = args[i]
			i--
			continue
		}
		if i+1 >= len(args) {
			m["extra"] = key
			break
		}
		v := args[i+1]
		if err, ok := v.(error); ok && err != nil {
			v = err.Error()
		}
		m[key] = v
	}
	return m
}
