package server

import (
	"context"
	"errors"
	"fmt"
	"html/template"
	"net"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/metrics-bridge/pkg/config"
	"github.com/metrics-bridge/pkg/coordinator"
	"github.com/metrics-bridge/pkg/logger"
)

// Version 构建版本，可通过 -ldflags 覆盖
var Version = "v1.0.0"

// Server HTTP服务实例，封装核心依赖和配置
type Server struct {
	cfg      *config.ServerConfig
	server   *http.Server
	scraper  coordinator.Scraper
	mux      *customMux
	listener net.Listener
}

// statusWriter 包装ResponseWriter，捕获状态码
type statusWriter struct {
	http.ResponseWriter
	status int
}

// customMux 自定义Mux，兼容原生用法并记录路由
type customMux struct {
	http.ServeMux
	routes []string
	mu     sync.Mutex
}

const defaultShutdownTimeout = 5 * time.Second

// Handle 重写Handle，注册路由时记录路径
func (m *customMux) Handle(pattern string, handler http.Handler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.routes = append(m.routes, pattern)
	m.ServeMux.Handle(pattern, handler)
}

// HandleFunc 重写HandleFunc
func (m *customMux) HandleFunc(pattern string, handler func(http.ResponseWriter, *http.Request)) {
	m.Handle(pattern, http.HandlerFunc(handler))
}

// NewHTTPServer 创建HTTP服务实例
func NewHTTPServer(cfg *config.ServerConfig, scraper coordinator.Scraper) *Server {
	mux := &customMux{}

	srv := &Server{
		cfg:     cfg,
		scraper: scraper,
		mux:     mux,
	}

	// 注册核心端点
	srv.registerEndpoints()

	srv.server = &http.Server{
		Addr:         cfg.Addr,
		Handler:      srv.logMiddleware(mux),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	return srv
}

// Handler 带日志中间件的完整路由
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

// logMiddleware 统一日志记录
func (s *Server) logMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(sw, r)

		logger.Debug(
			"HTTP request",
			zap.String("method", r.Method),
			zap.String("url", r.URL.String()),
			zap.String("remote", r.RemoteAddr),
			zap.Int("status", sw.status),
			zap.Duration("duration", time.Since(start)),
		)
	})
}

var indexTemplate = template.Must(template.New("index").Parse(`<!DOCTYPE html>
<html lang="zh-CN">
<head>
	<meta charset="UTF-8">
	<title>Metrics Bridge</title>
	<style>
		body { font-family: Arial, sans-serif; margin: 40px; }
		h1 { color: #333; }
		a { display: block; margin: 8px 0; font-size: 18px; }
		code { background-color: #f0f0f0; padding: 2px 4px; }
	</style>
</head>
<body>
	<h1>Metrics Bridge</h1>
	<p>Version: <code>{{.Version}}</code></p>
	<h2>Available Endpoints:</h2>
	<a href="/health">/health - 健康检查</a>
	<a href="{{.MetricsPath}}">{{.MetricsPath}} - 指标暴露</a>
</body>
</html>
`))

// registerEndpoints 注册核心路由
func (s *Server) registerEndpoints() {
	// 根路径 / 显示 HTML 页面，包含可点击的链接
	s.mux.HandleFunc("GET /{$}", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		err := indexTemplate.Execute(w, struct{ Version, MetricsPath string }{Version, s.cfg.MetricsPath})
		if err != nil {
			logger.Warn("render index page failed", zap.Error(err))
		}
	})

	// 指标端点：部分或全部数据源失败仍返回 200
	s.mux.HandleFunc("GET "+s.cfg.MetricsPath, s.handleMetrics)

	// /health 端点
	s.mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	payload, contentType, err := s.scraper.Scrape(r.Context())
	if err != nil {
		if r.Context().Err() != nil {
			// 调用方已取消，不返回内容
			logger.Debug("scrape cancelled by client", zap.Error(err))
			return
		}
		logger.Error("render exposition failed", zap.Error(err))
		http.Error(w, fmt.Sprintf("render exposition: %v", err), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(payload); err != nil {
		logger.Debug("write scrape response failed", zap.Error(err))
	}
}

// WriteHeader 捕获状态码
func (w *statusWriter) WriteHeader(statusCode int) {
	w.status = statusCode
	w.ResponseWriter.WriteHeader(statusCode)
}

// Start 监听端口并在后台提供服务，监听失败直接返回
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.cfg.Addr, err)
	}
	s.listener = ln

	logger.Info(
		"starting HTTP server",
		zap.String("listen_addr", ln.Addr().String()),
		zap.Strings("handle_funcs", s.mux.routes),
	)
	go func() {
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("HTTP server failed", zap.Error(err))
		}
	}()
	return nil
}

// Addr 实际监听地址（配置端口为 0 时有用）
func (s *Server) Addr() string {
	if s.listener == nil {
		return s.cfg.Addr
	}
	return s.listener.Addr().String()
}

// Shutdown 优雅关闭HTTP服务，ctx 无截止时间时使用默认超时
func (s *Server) Shutdown(ctx context.Context) error {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, defaultShutdownTimeout)
		defer cancel()
	}

	if err := s.server.Shutdown(ctx); err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			logger.Warn("shutdown timeout exceeded")
			return nil
		}
		logger.Error("HTTP server shutdown failed", zap.Error(err))
		return err
	}

	logger.Info("HTTP server shutdown successfully")
	return nil
}
