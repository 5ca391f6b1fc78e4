package logger

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	rotatelogs "github.com/lestrrat-go/file-rotatelogs"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/metrics-bridge/pkg/config"
	"github.com/metrics-bridge/pkg/goid"
)

type Logger = zap.Logger

var (
	// 初始化前使用 Nop，库代码可以在任何时候安全打日志
	baseLogger       = zap.NewNop()
	facadeLogger     = baseLogger
	defaultComponent = "bridge"
	mu               sync.RWMutex
)

// ParseLevel 字符串 → zap 级别，未知值回退到 info
func ParseLevel(s string) zapcore.Level {
	switch strings.ToLower(s) {
	case "dbg", "debug":
		return zapcore.DebugLevel
	case "war", "warn":
		return zapcore.WarnLevel
	case "err", "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

// InitLogger 初始化全局日志：控制台彩色输出 + 按天切割的文件输出
func InitLogger(cfg *config.ZapLogConfig) (*zap.Logger, error) {
	level := ParseLevel(cfg.Level)

	if err := os.MkdirAll(cfg.Path, 0755); err != nil {
		return nil, fmt.Errorf("create log dir %s: %w", cfg.Path, err)
	}

	writer, err := rotatelogs.New(cfg.FilePattern(), rotateOptions(cfg)...)
	if err != nil {
		return nil, fmt.Errorf("create rotate writer: %w", err)
	}

	core := zapcore.NewTee(
		zapcore.NewCore(consoleEncoder(), zapcore.AddSync(os.Stdout), level),
		zapcore.NewCore(fileEncoder(cfg.Format), zapcore.AddSync(writer), level),
	)

	l := zap.New(core, zap.AddCaller(), zap.AddStacktrace(zapcore.ErrorLevel))
	SetLogger(l)
	return l, nil
}

// rotateOptions max_age > 0 时按天数清理，否则按 max_backup 保留文件数
// rotatelogs 不允许两者同时生效
func rotateOptions(cfg *config.ZapLogConfig) []rotatelogs.Option {
	opts := []rotatelogs.Option{
		rotatelogs.WithRotationTime(24 * time.Hour),
		rotatelogs.WithRotationSize(int64(cfg.MaxSize) * 1024 * 1024),
	}
	if cfg.MaxAge > 0 {
		return append(opts, rotatelogs.WithMaxAge(time.Duration(cfg.MaxAge)*24*time.Hour))
	}
	return append(opts, rotatelogs.WithMaxAge(-1), rotatelogs.WithRotationCount(uint(cfg.MaxBackup)))
}

// SetLogger 替换全局日志（测试中注入 observer）
func SetLogger(l *zap.Logger) {
	mu.Lock()
	defer mu.Unlock()
	baseLogger = l
	// Debug/Info/... 经过 log 两层包装
	facadeLogger = l.WithOptions(zap.AddCallerSkip(2))
}

func consoleEncoder() zapcore.Encoder {
	// 控制台彩色时间
	timeEncoder := func(t time.Time, enc zapcore.PrimitiveArrayEncoder) {
		enc.AppendString(fmt.Sprintf("\033[34m%s\033[0m", t.Format("2006-01-02 15:04:05.000 -07:00")))
	}

	cfg := zap.NewDevelopmentEncoderConfig()
	cfg.ConsoleSeparator = " "
	cfg.EncodeLevel = coloredLevelEncoder
	cfg.EncodeTime = timeEncoder
	// Caller 两级路径
	cfg.EncodeCaller = func(c zapcore.EntryCaller, enc zapcore.PrimitiveArrayEncoder) {
		rel := filepath.Join(filepath.Base(filepath.Dir(c.File)), filepath.Base(c.File))
		enc.AppendString(fmt.Sprintf("%s:%d", rel, c.Line))
	}
	return zapcore.NewConsoleEncoder(cfg)
}

func fileEncoder(format string) zapcore.Encoder {
	cfg := zap.NewProductionEncoderConfig()
	cfg.TimeKey = "timestamp"
	// 文件日志纯文本时间
	cfg.EncodeTime = func(t time.Time, enc zapcore.PrimitiveArrayEncoder) {
		enc.AppendString(t.Format("2006-01-02 15:04:05.000 -07:00"))
	}
	cfg.EncodeLevel = zapcore.LowercaseLevelEncoder
	if format == "console" {
		return zapcore.NewConsoleEncoder(cfg)
	}
	return zapcore.NewJSONEncoder(cfg)
}

func coloredLevelEncoder(level zapcore.Level, enc zapcore.PrimitiveArrayEncoder) {
	var levelStr string
	switch level {
	case zapcore.DebugLevel:
		levelStr = "\033[36mDEBUG\033[0m"
	case zapcore.InfoLevel:
		levelStr = "\033[32mINFO \033[0m"
	case zapcore.WarnLevel:
		levelStr = "\033[33mWARN \033[0m"
	case zapcore.ErrorLevel:
		levelStr = "\033[31mERROR\033[0m"
	case zapcore.DPanicLevel, zapcore.PanicLevel, zapcore.FatalLevel:
		levelStr = "\033[35m" + level.CapitalString() + "\033[0m"
	default:
		levelStr = "UNK  "
	}
	enc.AppendString(levelStr)
}

// SetDefaultComponent 设置默认 component 字段
func SetDefaultComponent(component string) {
	mu.Lock()
	defer mu.Unlock()
	defaultComponent = component
}

// GetDefaultComponent 当前默认 component
func GetDefaultComponent() string {
	mu.RLock()
	defer mu.RUnlock()
	return defaultComponent
}

func log(level zapcore.Level, msg string, fields ...zapcore.Field) {
	mu.RLock()
	l := facadeLogger
	component := defaultComponent
	mu.RUnlock()

	ce := l.Check(level, msg)
	if ce == nil {
		return
	}
	merged := make([]zapcore.Field, 0, len(fields)+2)
	merged = append(merged,
		zap.String("component", component),
		zap.String("goid", strconv.FormatUint(goid.GetGID(), 10)),
	)
	merged = append(merged, fields...)
	ce.Write(merged...)
}

func Debug(msg string, fields ...zapcore.Field) { log(zap.DebugLevel, msg, fields...) }
func Info(msg string, fields ...zapcore.Field)  { log(zap.InfoLevel, msg, fields...) }
func Warn(msg string, fields ...zapcore.Field)  { log(zap.WarnLevel, msg, fields...) }
func Error(msg string, fields ...zapcore.Field) { log(zap.ErrorLevel, msg, fields...) }

// Sync 刷盘，程序退出前调用
func Sync() error {
	mu.RLock()
	defer mu.RUnlock()
	return baseLogger.Sync()
}

// GetGlobalLogger 返回全局 *zap.Logger
func GetGlobalLogger() *zap.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return baseLogger
}
