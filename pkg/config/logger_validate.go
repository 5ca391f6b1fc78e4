package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// LogFilePattern 日志文件名模板（strftime），按天切割
const LogFilePattern = "bridge-%Y%m%d.log"

// FilePattern 日志文件完整路径模板
func (l *ZapLogConfig) FilePattern() string {
	return filepath.Join(l.Path, LogFilePattern)
}

// Validate 日志配置校验
// level/format 由 tag 预校验，这里再做大小写无关的检查，并确保日志目录可写
func (l *ZapLogConfig) Validate() error {
	if err := valid.Struct(l); err != nil {
		return fmt.Errorf("log: %w", err)
	}

	switch strings.ToLower(l.Level) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log.level must be one of debug/info/warn/error, got %q", l.Level)
	}
	if l.Format != "json" && l.Format != "console" {
		return fmt.Errorf("log.format must be json or console, got %q", l.Format)
	}
	// 两者都为 0 时日志永不清理
	if l.MaxAge == 0 && l.MaxBackup == 0 {
		return errors.New("log.max_age and log.max_backup cannot both be 0")
	}

	abs, err := filepath.Abs(l.Path)
	if err != nil {
		return fmt.Errorf("log.path %q: %w", l.Path, err)
	}
	if err := ensureDir(abs); err != nil {
		return fmt.Errorf("log.path %q is not a writable directory: %w", l.Path, err)
	}
	return nil
}

// ensureDir 目录不存在时创建，存在时必须是目录且可写
func ensureDir(path string) error {
	stat, err := os.Stat(path)
	if os.IsNotExist(err) {
		return os.MkdirAll(path, 0755)
	}
	if err != nil {
		return err
	}
	if !stat.IsDir() {
		return fmt.Errorf("%s is not a directory", path)
	}
	f, err := os.CreateTemp(path, ".bridge-write-check-*")
	if err != nil {
		return err
	}
	name := f.Name()
	_ = f.Close()
	return os.Remove(name)
}
