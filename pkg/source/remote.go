package source

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/prometheus/common/expfmt"

	"github.com/metrics-bridge/pkg/parser"
)

const (
	// DefaultFetchTimeout 单次远端拉取超时
	DefaultFetchTimeout = 5 * time.Second
	// maxBodyBytes 远端响应体上限，防止异常端点撑爆内存
	maxBodyBytes = 32 << 20
)

// RemoteSource 通过 HTTP GET 拉取文本暴露格式
type RemoteSource struct {
	name    string
	url     string
	client  *http.Client
	timeout time.Duration
	maxBody int64
}

// NewRemoteSource 创建远端数据源，timeout <= 0 时使用 DefaultFetchTimeout，client 为空时新建
func NewRemoteSource(name, endpoint string, timeout time.Duration, client *http.Client) *RemoteSource {
	if timeout <= 0 {
		timeout = DefaultFetchTimeout
	}
	if client == nil {
		client = &http.Client{Timeout: timeout}
	}
	return &RemoteSource{name: name, url: endpoint, client: client, timeout: timeout, maxBody: maxBodyBytes}
}

func (s *RemoteSource) Name() string { return s.name }

func (s *RemoteSource) Format() parser.Format { return parser.FormatExposition }

// Init 校验 URL，不做网络探测（远端可能稍后才启动）
func (s *RemoteSource) Init() error {
	u, err := url.Parse(s.url)
	if err != nil {
		return fmt.Errorf("source %q: parse url: %w", s.name, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("source %q: unsupported url scheme %q", s.name, u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("source %q: url has no host", s.name)
	}
	return nil
}

// Read 执行一次 GET，任何失败都包装为 ErrFetchFailed
func (s *RemoteSource) Read(ctx context.Context) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return nil, fetchFailed(s.name, fmt.Errorf("build request: %w", err))
	}
	req.Header.Set("Accept", string(expfmt.NewFormat(expfmt.TypeTextPlain)))

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fetchFailed(s.name, fmt.Errorf("http get: %w", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, fetchFailed(s.name, fmt.Errorf("unexpected status %d", resp.StatusCode))
	}

	// 多读一个字节判断是否超限，截断的响应体不交给解析器
	body, err := io.ReadAll(io.LimitReader(resp.Body, s.maxBody+1))
	if err != nil {
		return nil, fetchFailed(s.name, fmt.Errorf("read body: %w", err))
	}
	if int64(len(body)) > s.maxBody {
		return nil, fetchFailed(s.name, fmt.Errorf("response body exceeds %d bytes", s.maxBody))
	}
	return body, nil
}

// Close 释放空闲连接
func (s *RemoteSource) Close() error {
	s.client.CloseIdleConnections()
	return nil
}
