package source

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/host"
	cload "github.com/shirou/gopsutil/v3/load"
	"github.com/shirou/gopsutil/v3/mem"
	"go.uber.org/multierr"

	"github.com/metrics-bridge/pkg/parser"
)

// HostSource 通过 gopsutil 探测主机状态，输出文本暴露格式，
// 适用于没有 /proc 的平台；单项探测失败只丢弃该项
type HostSource struct {
	name string
}

// NewHostSource 创建主机探测数据源
func NewHostSource(name string) *HostSource {
	return &HostSource{name: name}
}

func (s *HostSource) Name() string { return s.name }

func (s *HostSource) Format() parser.Format { return parser.FormatExposition }

// Init 预检查CPU可用性
func (s *HostSource) Init() error {
	if _, err := cpu.Counts(true); err != nil {
		return fmt.Errorf("source %q: get CPU counts: %w", s.name, err)
	}
	return nil
}

type hostProbe struct {
	name  string
	help  string
	value func(ctx context.Context) (float64, error)
}

var hostProbes = []hostProbe{
	{"host_load1", "1 minute load average.", func(ctx context.Context) (float64, error) {
		l, err := cload.AvgWithContext(ctx)
		if err != nil {
			return 0, err
		}
		return l.Load1, nil
	}},
	{"host_load5", "5 minute load average.", func(ctx context.Context) (float64, error) {
		l, err := cload.AvgWithContext(ctx)
		if err != nil {
			return 0, err
		}
		return l.Load5, nil
	}},
	{"host_load15", "15 minute load average.", func(ctx context.Context) (float64, error) {
		l, err := cload.AvgWithContext(ctx)
		if err != nil {
			return 0, err
		}
		return l.Load15, nil
	}},
	{"host_cpu_logical_count", "Number of logical CPUs.", func(ctx context.Context) (float64, error) {
		n, err := cpu.CountsWithContext(ctx, true)
		return float64(n), err
	}},
	{"host_memory_used_percent", "Used virtual memory in percent.", func(ctx context.Context) (float64, error) {
		vm, err := mem.VirtualMemoryWithContext(ctx)
		if err != nil {
			return 0, err
		}
		return vm.UsedPercent, nil
	}},
	{"host_uptime_seconds", "Host uptime in seconds.", func(ctx context.Context) (float64, error) {
		up, err := host.UptimeWithContext(ctx)
		return float64(up), err
	}},
}

// Read 依次执行探测，全部失败时返回 ErrReadFailed
func (s *HostSource) Read(ctx context.Context) ([]byte, error) {
	var (
		buf  bytes.Buffer
		errs error
		ok   int
	)
	for _, p := range hostProbes {
		v, err := p.value(ctx)
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("%s: %w", p.name, err))
			continue
		}
		fmt.Fprintf(&buf, "# HELP %s %s\n# TYPE %s gauge\n%s %s\n",
			p.name, p.help, p.name, p.name, strconv.FormatFloat(v, 'g', -1, 64))
		ok++
	}
	if ok == 0 {
		if errs == nil {
			errs = errors.New("no host probes available")
		}
		return nil, readFailed(s.name, errs)
	}
	return buf.Bytes(), nil
}

func (s *HostSource) Close() error { return nil }
