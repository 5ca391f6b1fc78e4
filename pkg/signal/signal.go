package signal

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/metrics-bridge/pkg/logger"
)

// WaitForShutdown 阻塞直到收到 SIGINT/SIGTERM 或 ctx 结束，然后在 timeout 内执行 shutdownFunc
func WaitForShutdown(ctx context.Context, timeout time.Duration, shutdownFunc func(ctx context.Context) error) error {
	sigCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// 阻塞等待信号
	<-sigCtx.Done()
	logger.Info("received shutdown signal", zap.NamedError("cause", context.Cause(sigCtx)))

	// 超时控制关闭逻辑
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- shutdownFunc(shutdownCtx)
	}()

	select {
	case err := <-done:
		if err != nil {
			logger.Error("shutdown failed", zap.Error(err))
			return err
		}
		logger.Info("shutdown completed")
		return nil
	case <-shutdownCtx.Done():
		logger.Error("shutdown timed out", zap.Duration("timeout", timeout))
		return fmt.Errorf("shutdown timed out after %s", timeout)
	}
}
