package coordinator

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/metrics-bridge/pkg/config"
	"github.com/metrics-bridge/pkg/logger"
	"github.com/metrics-bridge/pkg/metrics"
	"github.com/metrics-bridge/pkg/source"
)

// Bridge InitCoordinator 的返回值
// Registry     采集到的业务指标
// PromRegistry bridge 自身指标（以及可选的进程指标），与 Registry 一起渲染
// Coordinator  已启动的周期协调器，同时是 HTTP 前端的 Scraper
// Sources      已注册的数据源
type Bridge struct {
	Registry     *metrics.Registry
	PromRegistry *prometheus.Registry
	Coordinator  *Coordinator
	Sources      []source.Source
}

// ModeFromConfig 配置字符串 → Mode
func ModeFromConfig(mode string) Mode {
	if mode == config.ModeScrape {
		return ModeScrape
	}
	return ModeInterval
}

// InitCoordinator 按配置组装注册表、自身指标、数据源并启动协调器
func InitCoordinator(ctx context.Context, cfg *config.Config) (*Bridge, error) {
	registry := metrics.NewRegistry()

	// 自身指标单独注册，不注册 Go 运行时指标
	promReg := prometheus.NewRegistry()
	if cfg.Server.EnableProcessMetrics {
		promReg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	}
	factory := metrics.NewMetricFactory(metrics.NewPromRegistry(promReg))
	self := factory.NewSelfMetrics(registry)

	c := New(registry, self, promReg, Options{
		Mode:         ModeFromConfig(cfg.Monitor.Mode),
		Interval:     cfg.Monitor.Interval,
		CycleTimeout: cfg.Monitor.CycleTimeout,
	})

	sources, err := RegisterSources(c, Modules(cfg, nil))
	logger.Debug("source enable status",
		zap.Int("remote", len(cfg.Sources.Remote)),
		zap.Bool("memory_enable", cfg.Sources.Memory.Enable),
		zap.Bool("cpu_enable", cfg.Sources.CPU.Enable),
		zap.Bool("host_enable", cfg.Sources.Host.Enable),
	)
	if err != nil {
		logger.Error("failed to register sources", zap.Error(err))
		return nil, err
	}

	c.Start(ctx)

	return &Bridge{
		Registry:     registry,
		PromRegistry: promReg,
		Coordinator:  c,
		Sources:      sources,
	}, nil
}
