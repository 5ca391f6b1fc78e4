package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// SelfMetrics bridge 自身运行指标，和采集到的业务指标分开注册
type SelfMetrics struct {
	SourceErrors   *prometheus.CounterVec   // 每个数据源的失败次数
	SourceDuration *prometheus.HistogramVec // 每个数据源读取+解析耗时
	SkippedLines   *prometheus.CounterVec   // 解析时丢弃的行数
	Cycles         *prometheus.CounterVec   // 采集周期结果
	RegistryErrors *prometheus.CounterVec   // 注册表拒绝的更新（kind_mismatch/invalid_delta/counter_decreased）
}

// NewSelfMetrics 创建并注册全部自身指标，registry 非 nil 时额外暴露其条目数
func (f *MetricFactory) NewSelfMetrics(registry *Registry) *SelfMetrics {
	if registry != nil {
		f.NewRegistryMetrics(registry)
	}
	return &SelfMetrics{
		SourceErrors:   f.NewSourceErrorsTotal(),
		SourceDuration: f.NewSourceDurationSeconds(),
		SkippedLines:   f.NewParseSkippedLinesTotal(),
		Cycles:         f.NewCyclesTotal(),
		RegistryErrors: f.NewRegistryErrorsTotal(),
	}
}

// NewSourceErrorsTotal 创建「数据源错误总数」指标
// 标签说明：
// source: 数据源名称（配置中的 name，如 "redpanda"、"memory"）
func (f *MetricFactory) NewSourceErrorsTotal() *prometheus.CounterVec {
	return promauto.With(f.reg).NewCounterVec(
		prometheus.CounterOpts{
			Name: "bridge_source_errors_total",
			Help: "Total number of failed source reads.",
		},
		[]string{"source"},
	)
}

// NewSourceDurationSeconds 数据源单次读取+解析耗时分布
func (f *MetricFactory) NewSourceDurationSeconds() *prometheus.HistogramVec {
	return promauto.With(f.reg).NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "bridge_source_duration_seconds",
			Help:    "Duration of one source read and parse.",
			Buckets: prometheus.ExponentialBuckets(0.001, 4, 8), // 1ms ~ 16s
		},
		[]string{"source"},
	)
}

func (f *MetricFactory) NewParseSkippedLinesTotal() *prometheus.CounterVec {
	return promauto.With(f.reg).NewCounterVec(
		prometheus.CounterOpts{
			Name: "bridge_parse_skipped_lines_total",
			Help: "Total number of malformed lines dropped by the parser.",
		},
		[]string{"source"},
	)
}

// NewCyclesTotal outcome: completed / partially_failed
func (f *MetricFactory) NewCyclesTotal() *prometheus.CounterVec {
	return promauto.With(f.reg).NewCounterVec(
		prometheus.CounterOpts{
			Name: "bridge_cycles_total",
			Help: "Total number of collection cycles by outcome.",
		},
		[]string{"outcome"},
	)
}

func (f *MetricFactory) NewRegistryErrorsTotal() *prometheus.CounterVec {
	return promauto.With(f.reg).NewCounterVec(
		prometheus.CounterOpts{
			Name: "bridge_registry_errors_total",
			Help: "Total number of rejected registry updates by reason.",
		},
		[]string{"reason"},
	)
}

// NewRegistryMetrics 注册表当前条目数（抓取时读取）
func (f *MetricFactory) NewRegistryMetrics(registry *Registry) prometheus.GaugeFunc {
	return promauto.With(f.reg).NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "bridge_registry_metrics",
			Help: "Number of metrics currently held by the bridge registry.",
		},
		func() float64 { return float64(registry.Len()) },
	)
}
