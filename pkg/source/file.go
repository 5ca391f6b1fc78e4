package source

import (
	"context"
	"fmt"
	"os"

	"github.com/metrics-bridge/pkg/parser"
)

// 默认内核伪文件路径
const (
	DefaultMeminfoPath = "/proc/meminfo"
	DefaultStatPath    = "/proc/stat"
)

// FileSource 读取内核暴露的伪文件（/proc/meminfo、/proc/stat）
type FileSource struct {
	name   string
	path   string
	format parser.Format
}

// NewFileSource 创建本地伪文件数据源
func NewFileSource(name, path string, format parser.Format) *FileSource {
	return &FileSource{name: name, path: path, format: format}
}

func (s *FileSource) Name() string { return s.name }

func (s *FileSource) Format() parser.Format { return s.format }

// Init 预检查文件可读
func (s *FileSource) Init() error {
	f, err := os.Open(s.path)
	if err != nil {
		return fmt.Errorf("source %q: open %s: %w", s.name, s.path, err)
	}
	return f.Close()
}

// Read 整体读取文件，伪文件很小且每次内容都重新生成
func (s *FileSource) Read(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, readFailed(s.name, err)
	}
	raw, err := os.ReadFile(s.path)
	if err != nil {
		return nil, readFailed(s.name, err)
	}
	return raw, nil
}

func (s *FileSource) Close() error { return nil }
