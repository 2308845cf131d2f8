package logger

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Logger 日志接口
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
	Err(err error, msg string, args ...any)
}

// Options 日志配置
type Options struct {
	Level      string   // debug / info / warn / error
	Writers    []string // console / file
	File       string
	MaxSizeMB  int
	MaxBackups int
}

// ZeroLogger 基于 zerolog 的实现
type ZeroLogger struct {
	zl zerolog.Logger
}

// New 根据配置创建日志记录器
func New(opts Options) *ZeroLogger {
	var writers []io.Writer
	for _, w := range opts.Writers {
		switch strings.ToLower(w) {
		case "console":
			writers = append(writers, zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: "2006-01-02 15:04:05.000"})
		case "file":
			if opts.File == "" {
				continue
			}
			_ = os.MkdirAll(filepath.Dir(opts.File), 0o755)
			writers = append(writers, &lumberjack.Logger{
				Filename:   opts.File,
				MaxSize:    opts.MaxSizeMB,
				MaxBackups: opts.MaxBackups,
				LocalTime:  true,
			})
		}
	}
	if len(writers) == 0 {
		writers = append(writers, os.Stdout)
	}
	return NewWithWriter(zerolog.MultiLevelWriter(writers...), opts.Level)
}

// NewWithWriter 输出到指定 writer
func NewWithWriter(w io.Writer, level string) *ZeroLogger {
	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}
	zl := zerolog.New(w).Level(lvl).With().Timestamp().Logger()
	return &ZeroLogger{zl: zl}
}

// Debug 记录调试信息
func (l *ZeroLogger) Debug(msg string, args ...any) { l.write(l.zl.Debug(), msg, args) }

// Info 记录一般信息
func (l *ZeroLogger) Info(msg string, args ...any) { l.write(l.zl.Info(), msg, args) }

// Warn 记录警告信息
func (l *ZeroLogger) Warn(msg string, args ...any) { l.write(l.zl.Warn(), msg, args) }

// Error 记录错误信息
func (l *ZeroLogger) Error(msg string, args ...any) { l.write(l.zl.Error(), msg, args) }

// Err 记录带错误对象的错误信息
func (l *ZeroLogger) Err(err error, msg string, args ...any) {
	l.write(l.zl.Error().Err(err), msg, args)
}

func (l *ZeroLogger) write(ev *zerolog.Event, msg string, args []any) {
	if ev == nil {
		return
	}
	if len(args)%2 != 0 {
		args = append(args, "MISSING")
	}
	for i := 0; i < len(args); i += 2 {
		key := fmt.Sprintf("%v", args[i])
		switch v := args[i+1].(type) {
		case error:
			ev = ev.AnErr(key, v)
		case time.Duration:
			ev = ev.Dur(key, v)
		default:
			ev = ev.Interface(key, v)
		}
	}
	ev.Msg(msg)
}

// nop 空日志实现
type nop struct{}

// NewNop 创建不输出任何内容的日志记录器
func NewNop() Logger { return nop{} }

func (nop) Debug(string, ...any) {}
func (nop) Info(string, ...any) {}
func (nop) Warn(string, ...any) {}
func (nop) Error(string, ...any) {}
func (nop) Err(error, string, ...any) {}
