package parser

import (
	"sync"

	"github.com/metrics-bridge/pkg/metrics"
)

// CPUUsage 根据相邻两次 cpu_seconds_total 的差值派生使用率
// 首次观测只记录基准，不输出使用率
type CPUUsage struct {
	mu   sync.Mutex
	last map[string]map[string]float64 // cpu -> mode -> seconds
}

// NewCPUUsage 创建派生器
func NewCPUUsage() *CPUUsage {
	return &CPUUsage{last: make(map[string]map[string]float64)}
}

// Derive 输入一次 cpustat 解析结果，返回派生样本：
// cpu_usage_percent{cpu} = (Δtotal - Δidle) / Δtotal × 100
// cpu_usage_mode_percent{cpu,mode} = Δmode / Δtotal × 100
func (u *CPUUsage) Derive(samples []Sample) []Sample {
	current := make(map[string]map[string]float64)
	var order []string
	for _, s := range samples {
		if s.Name != CPUSecondsTotal {
			continue
		}
		cpu, mode := s.Labels["cpu"], s.Labels["mode"]
		if _, ok := current[cpu]; !ok {
			current[cpu] = make(map[string]float64, len(cpuModes))
			order = append(order, cpu)
		}
		current[cpu][mode] = s.Value
	}

	u.mu.Lock()
	defer u.mu.Unlock()

	var out []Sample
	for _, cpu := range order {
		cur := current[cpu]
		prev, seen := u.last[cpu]
		u.last[cpu] = cur
		if !seen {
			continue
		}

		var deltaTotal float64
		deltas := make(map[string]float64, len(cur))
		for mode, v := range cur {
			d := v - prev[mode]
			if d < 0 {
				// 计数回绕或 CPU 热插拔，本次跳过
				deltaTotal = 0
				break
			}
			deltas[mode] = d
			deltaTotal += d
		}
		if deltaTotal <= 0 {
			continue
		}

		for _, mode := range cpuModes {
			d, ok := deltas[mode]
			if !ok {
				continue
			}
			out = append(out, Sample{
				Name:   CPUUsageModePercent,
				Labels: metrics.Labels{"cpu": cpu, "mode": mode},
				Value:  d / deltaTotal * 100,
				Kind:   metrics.KindGauge,
			})
		}
		out = append(out, Sample{
			Name:   CPUUsagePercent,
			Labels: metrics.Labels{"cpu": cpu},
			Value:  (deltaTotal - deltas["idle"]) / deltaTotal * 100,
			Kind:   metrics.KindGauge,
		})
	}
	return out
}
