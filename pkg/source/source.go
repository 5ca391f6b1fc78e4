// Package source 定义数据源读取器。每个读取器一次调用产出一份原始文本，
// 失败只影响自身（FetchFailed / ReadFailed），不会中断整个采集周期，也不在内部重试。
package source

import (
	"context"
	"errors"
	"fmt"

	"github.com/metrics-bridge/pkg/parser"
)

var (
	// ErrFetchFailed 远端拉取失败：网络错误、超时或非 2xx 响应
	ErrFetchFailed = errors.New("fetch failed")
	// ErrReadFailed 本地伪文件读取失败：文件不存在或读错误
	ErrReadFailed = errors.New("read failed")
)

// Source 数据源核心接口（所有读取器必须实现）
type Source interface {
	Name() string                            // 数据源名称（唯一标识）
	Format() parser.Format                   // 原始文本的语法，决定使用哪个解析器
	Init() error                             // 预检查资源
	Read(ctx context.Context) ([]byte, error) // 读取一次原始数据
	Close() error                            // 释放资源
}

// Error 数据源级错误，Kind 为 ErrFetchFailed 或 ErrReadFailed
type Error struct {
	Source string
	Kind   error
	Err    error
}

func (e *Error) Error() string {
	return fmt.Sprintf("source %q: %v: %v", e.Source, e.Kind, e.Err)
}

// Is 让 errors.Is(err, ErrFetchFailed) 成立
func (e *Error) Is(target error) bool { return target == e.Kind }

func (e *Error) Unwrap() error { return e.Err }

func fetchFailed(name string, err error) error {
	return &Error{Source: name, Kind: ErrFetchFailed, Err: err}
}

func readFailed(name string, err error) error {
	return &Error{Source: name, Kind: ErrReadFailed, Err: err}
}
