package coordinator

import (
	"fmt"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/metrics-bridge/pkg/logger"
	"github.com/metrics-bridge/pkg/metrics"
	"github.com/metrics-bridge/pkg/parser"
	"github.com/metrics-bridge/pkg/source"
)

// CounterPolicy 上游计数器如何并入注册表
type CounterPolicy int

const (
	// PolicyDelta 记录每个身份上次观测到的上游值，按差值 IncrementCounter；
	// 观测值变小视为上游重启，整个新值作为增量
	PolicyDelta CounterPolicy = iota
	// PolicyAbsolute 上游已是累计值，直接 SetCounter，变小会被拒绝
	PolicyAbsolute
)

func (p CounterPolicy) String() string {
	switch p {
	case PolicyDelta:
		return "delta"
	case PolicyAbsolute:
		return "absolute"
	default:
		return fmt.Sprintf("policy(%d)", int(p))
	}
}

// ParseCounterPolicy 配置字符串 → CounterPolicy，空串为 delta
func ParseCounterPolicy(s string) (CounterPolicy, error) {
	switch s {
	case "", "delta":
		return PolicyDelta, nil
	case "absolute":
		return PolicyAbsolute, nil
	default:
		return 0, fmt.Errorf("unknown counter policy %q", s)
	}
}

// BindingOption 数据源接入选项
type BindingOption func(b *binding)

// WithCounterPolicy 设置计数器合并策略
func WithCounterPolicy(p CounterPolicy) BindingOption {
	return func(b *binding) { b.policy = p }
}

// WithConstLabels 每个样本附加常量标签，与样本自带标签冲突时常量标签优先
func WithConstLabels(labels map[string]string) BindingOption {
	return func(b *binding) {
		for k, v := range labels {
			b.labels[k] = v
		}
	}
}

// WithPerCore cpustat 数据源是否保留每核心样本，默认只保留 cpu="total"
func WithPerCore(enable bool) BindingOption {
	return func(b *binding) { b.perCore = enable }
}

// binding 数据源及其合并状态，只在持有周期锁时访问
type binding struct {
	src     source.Source
	policy  CounterPolicy
	labels  metrics.Labels
	perCore bool
	usage   *parser.CPUUsage
	last    map[string]float64 // identity key -> 上次观测到的上游计数器值
	warned  map[string]bool    // 已告警过的共享计数器的其他数据源
}

func newBinding(src source.Source, opts ...BindingOption) *binding {
	b := &binding{
		src:    src,
		labels: make(metrics.Labels),
		last:   make(map[string]float64),
		warned: make(map[string]bool),
	}
	for _, opt := range opts {
		opt(b)
	}
	if src.Format() == parser.FormatCPUStat {
		b.usage = parser.NewCPUUsage()
	}
	return b
}

func (b *binding) name() string { return b.src.Name() }

// samples 过滤每核心样本并追加派生样本
func (b *binding) samples(res parser.Result) []parser.Sample {
	if b.src.Format() != parser.FormatCPUStat {
		return res.Samples
	}
	out := res.Samples
	if !b.perCore {
		out = make([]parser.Sample, 0, len(res.Samples))
		for _, s := range res.Samples {
			if cpu, ok := s.Labels["cpu"]; ok && cpu != parser.CPUTotalLabel {
				continue
			}
			out = append(out, s)
		}
	}
	return append(out, b.usage.Derive(out)...)
}

func (b *binding) identity(s parser.Sample) metrics.Identity {
	if len(b.labels) == 0 {
		return s.Identity()
	}
	labels := make(metrics.Labels, len(s.Labels)+len(b.labels))
	for k, v := range s.Labels {
		labels[k] = v
	}
	for k, v := range b.labels {
		labels[k] = v
	}
	return metrics.NewIdentity(s.Name, labels)
}

// apply 把一次解析结果写入 batch，返回成功写入条数、与其他数据源共享的计数器数和被注册表拒绝的错误
// owners 记录本周期内每个计数器身份的首个写入数据源
func (b *binding) apply(batch *metrics.Batch, res parser.Result, owners map[string]string) (int, int, error) {
	for name, help := range res.Help {
		batch.SetHelp(name, help)
	}

	var (
		applied int
		shared  int
		errs    error
	)
	for _, s := range b.samples(res) {
		id := b.identity(s)
		if s.Kind == metrics.KindCounter && b.claim(owners, id) {
			shared++
		}
		var err error
		switch {
		case s.Kind == metrics.KindGauge:
			err = batch.SetGauge(id, s.Value)
		case b.policy == PolicyAbsolute:
			err = batch.SetCounter(id, s.Value)
		default:
			err = b.incrementDelta(batch, id, s.Value)
		}
		if err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		applied++
	}
	return applied, shared, errs
}

// claim 登记计数器身份的写入者，已被其他数据源写过时返回 true
// 多个数据源的差值会累加到同一个计数器，每对数据源只告警一次
func (b *binding) claim(owners map[string]string, id metrics.Identity) bool {
	key := id.Key()
	owner, ok := owners[key]
	if !ok {
		owners[key] = b.name()
		return false
	}
	if owner == b.name() {
		return false
	}
	if !b.warned[owner] {
		b.warned[owner] = true
		logger.Warn("counter written by more than one source; values are summed, add constant labels to separate them",
			zap.String("source", b.name()),
			zap.String("other_source", owner),
			zap.Stringer("identity", id),
		)
	}
	return true
}

func (b *binding) incrementDelta(batch *metrics.Batch, id metrics.Identity, value float64) error {
	key := id.Key()
	delta := value
	if prev, ok := b.last[key]; ok && value >= prev {
		delta = value - prev
	}
	if err := batch.IncrementCounter(id, delta); err != nil {
		return err
	}
	b.last[key] = value
	return nil
}
