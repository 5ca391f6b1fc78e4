package agent

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/metrics-bridge/cmd/server"
	"github.com/metrics-bridge/pkg/config"
	"github.com/metrics-bridge/pkg/coordinator"
	"github.com/metrics-bridge/pkg/logger"
	"github.com/metrics-bridge/pkg/signal"
	"github.com/metrics-bridge/pkg/util"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "metrics-bridge",
	Short: "Collects metrics from remote exposition endpoints and local pseudo-files and re-exposes them on one scrape endpoint",
	// 配置错误不打印 usage
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.LoadConfigWithCli(cmd)
		if err != nil {
			fmt.Fprintf(os.Stderr, "请检查配置文件路径或使用 -c 参数指定\n")
			return err
		}
		return runServer(cmd.Context(), cfg)
	},
}

// Execute 命令入口
func Execute() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "配置文件路径（为空时只使用默认值、flags 和 BRIDGE_* 环境变量）")
	// 注册分组 flag
	initServerFlags(rootCmd)
	initMonitorFlags(rootCmd)
	initLogFlags(rootCmd)
}

func runServer(ctx context.Context, cfg *config.Config) error {
	// 初始化日志
	if _, err := logger.InitLogger(&cfg.Log); err != nil {
		return fmt.Errorf("日志初始化失败: %w", err)
	}
	// 程序退出时刷盘
	defer func() { _ = logger.Sync() }()
	logger.SetDefaultComponent("bridge")

	bridge, err := coordinator.InitCoordinator(ctx, cfg)
	if err != nil {
		return fmt.Errorf("init coordinator: %w", err)
	}

	httpServer := server.NewHTTPServer(&cfg.Server, bridge.Coordinator)
	if err := httpServer.Start(); err != nil {
		_ = bridge.Coordinator.Shutdown(ctx)
		return fmt.Errorf("start HTTP server failed: %w", err)
	}

	names := make([]string, 0, len(bridge.Sources))
	for _, s := range bridge.Sources {
		names = append(names, s.Name())
	}
	util.PrintBanner(os.Stdout, "metrics-bridge", "cyan")
	util.StartupSummary(os.Stdout, httpServer.Addr(), cfg.Server.MetricsPath, cfg.Monitor.Mode, names)
	logger.Info("metrics bridge started",
		zap.String("addr", httpServer.Addr()),
		zap.String("metrics_path", cfg.Server.MetricsPath),
		zap.String("mode", cfg.Monitor.Mode),
		zap.Strings("sources", names))

	// 关闭顺序：HTTP服务 → 协调器（关闭数据源）
	return signal.WaitForShutdown(ctx, 10*time.Second, func(ctx context.Context) error {
		return multierr.Combine(
			httpServer.Shutdown(ctx),
			bridge.Coordinator.Shutdown(ctx),
		)
	})
}
