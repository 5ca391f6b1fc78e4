package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Registers 接口隔离 Prometheus 的默认实现，bridge 自身指标都通过它注册，便于单测替换。
type Registers interface {
	prometheus.Registerer                          // 嵌入 Prometheus 官方注册器接口
	Register(collector prometheus.Collector) error //自定义扩展方法
}

// promRegistry Prometheus 实现，内部包裹了官方的 *prometheus.Registry
type promRegistry struct {
	registry *prometheus.Registry
}

// NewPromRegistry 包装 *prometheus.Registry
func NewPromRegistry(registry *prometheus.Registry) Registers {
	return &promRegistry{registry: registry}
}

// MustRegister 实现 prometheus.Registerer，重复注册直接 panic（属于编程错误）
func (p *promRegistry) MustRegister(collectors ...prometheus.Collector) {
	for _, c := range collectors {
		if err := p.registry.Register(c); err != nil {
			panic(err)
		}
	}
}

// Unregister 实现 prometheus.Registerer
func (p *promRegistry) Unregister(collector prometheus.Collector) bool {
	return p.registry.Unregister(collector)
}

// Register 实现自定义 Registry 接口
func (p *promRegistry) Register(collector prometheus.Collector) error {
	return p.registry.Register(collector)
}

// MetricFactory 自身指标工厂，所有指标通过 promauto.With(reg) 创建并注册
type MetricFactory struct {
	reg Registers
}

// NewMetricFactory 创建指标工厂
func NewMetricFactory(reg Registers) *MetricFactory {
	return &MetricFactory{reg: reg}
}
