package utils

import (
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gopkg.in/natefinch/lumberjack.v2"
)

// 日志文件名
const (
	MainLogFile  = "court_crawler.log"
	ErrorLogFile = "court_crawler_error.log"
)

// Logger 全局日志器. InitLogger 之前丢弃所有输出, 测试与库调用无需初始化.
var Logger = zerolog.Nop()

// LogConfig 日志配置
type LogConfig struct {
	Level      string // 日志级别: trace, debug, info, warn, error, fatal, panic
	LogDir     string // 日志目录
	MaxSize    int    // 单个日志文件最大大小(MB)
	MaxBackups int    // 保留的旧日志文件数量
	MaxAge     int    // 保留天数
	Compress   bool   // 是否压缩旧日志
	NoConsole  bool   // 不输出到控制台(show/verify 的JSON输出模式)
}

// DefaultLogConfig 默认日志配置: 5MB轮转, 保留10天
func DefaultLogConfig() LogConfig {
	return LogConfig{
		Level:      "info",
		LogDir:     "logs",
		MaxSize:    5,
		MaxBackups: 10,
		MaxAge:     10,
		Compress:   true,
	}
}

// InitLogger 初始化日志系统
func InitLogger(config LogConfig) error {
	if err := os.MkdirAll(config.LogDir, 0755); err != nil {
		return err
	}

	level, err := zerolog.ParseLevel(config.Level)
	if err != nil || config.Level == "" {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	rotate := func(name string) *lumberjack.Logger {
		return &lumberjack.Logger{
			Filename:   filepath.Join(config.LogDir, name),
			MaxSize:    config.MaxSize,
			MaxBackups: config.MaxBackups,
			MaxAge:     config.MaxAge,
			Compress:   config.Compress,
		}
	}

	writers := []io.Writer{
		rotate(MainLogFile),
		&FilteredWriter{Writer: rotate(ErrorLogFile), MinLevel: zerolog.ErrorLevel},
	}
	if !config.NoConsole {
		writers = append(writers, zerolog.ConsoleWriter{
			Out:        os.Stderr,
			TimeFormat: time.RFC3339,
		})
	}

	Logger = zerolog.New(zerolog.MultiLevelWriter(writers...)).
		With().
		Timestamp().
		Logger()
	log.Logger = Logger

	Logger.Debug().
		Str("level", level.String()).
		Str("log_dir", config.LogDir).
		Msg("日志系统初始化完成")

	return nil
}

// JobLogger 带作业上下文的子日志器
func JobLogger(jobID, address string) zerolog.Logger {
	return Logger.With().Str("job", jobID).Str("address", address).Logger()
}

// FilteredWriter 仅写入指定级别及以上的日志
type FilteredWriter struct {
	Writer   io.Writer
	MinLevel zerolog.Level
}

// Write 丢弃无级别信息的写入
func (w *FilteredWriter) Write(p []byte) (n int, err error) {
	return len(p), nil
}

// WriteLevel 带级别的写入
func (w *FilteredWriter) WriteLevel(level zerolog.Level, p []byte) (n int, err error) {
	if level >= w.MinLevel {
		return w.Writer.Write(p)
	}
	return len(p), nil
}

// 以下为全局日志器的快捷方法

func Info(msg string)                           { Logger.Info().Msg(msg) }
func Infof(format string, args ...interface{})  { Logger.Info().Msgf(format, args...) }
func Warnf(format string, args ...interface{})  { Logger.Warn().Msgf(format, args...) }
func Debug(msg string)                          { Logger.Debug().Msg(msg) }
func Debugf(format string, args ...interface{}) { Logger.Debug().Msgf(format, args...) }
func Errorf(format string, args ...interface{}) { Logger.Error().Msgf(format, args...) }
func Error(err error, msg string)               { Logger.Error().Err(err).Msg(msg) }
