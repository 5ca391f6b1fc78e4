package metrics

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"
)

var (
	// ErrKindMismatch 同名指标以不同类型被请求（注册表误用）
	ErrKindMismatch = errors.New("metric kind mismatch")
	// ErrInvalidDelta 计数器增量为负数或 NaN
	ErrInvalidDelta = errors.New("invalid counter delta")
	// ErrCounterDecreased 计数器被设置为更小的值
	ErrCounterDecreased = errors.New("counter decreased")
)

const defaultHelp = "Metric collected by metrics-bridge."

// Metric 注册表条目（Snapshot 返回的是副本）
type Metric struct {
	Identity Identity
	Kind     Kind
	Help     string
	Value    float64
}

type family struct {
	kind    Kind
	metrics map[string]*Metric
}

// Registry 进程级指标表，按 Identity 唯一，get-or-create 语义，并发安全
type Registry struct {
	mu       sync.RWMutex
	families map[string]*family
	helps    map[string]string
	size     int
}

// NewRegistry 创建空注册表
func NewRegistry() *Registry {
	return &Registry{families: make(map[string]*family), helps: make(map[string]string)}
}

// GetOrCreate 返回已存在的指标，不存在则以零值创建
func (r *Registry) GetOrCreate(id Identity, kind Kind) (Metric, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, err := r.getOrCreate(id, kind)
	if err != nil {
		return Metric{}, err
	}
	return m.copy(), nil
}

// SetGauge 覆盖 gauge 当前值，不存在则创建
func (r *Registry) SetGauge(id Identity, value float64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.setGauge(id, value)
}

// IncrementCounter 计数器累加 delta，delta < 0 返回 ErrInvalidDelta 并保留原值
func (r *Registry) IncrementCounter(id Identity, delta float64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.incrementCounter(id, delta)
}

// SetCounter 以累计值覆盖计数器，小于当前值返回 ErrCounterDecreased
func (r *Registry) SetCounter(id Identity, value float64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.setCounter(id, value)
}

// SetHelp 设置指标族的帮助信息，首次非空写入生效
func (r *Registry) SetHelp(name, help string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.setHelp(name, help)
}

// Batch 在一次写锁内执行多次更新，快照要么看到整批要么一条都看不到
func (r *Registry) Batch(fn func(b *Batch)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	fn(&Batch{r: r})
}

// Len 当前指标条目数
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.size
}

// Snapshot 返回某一时刻的一致视图，按名称、标签排序
func (r *Registry) Snapshot() []Metric {
	r.mu.RLock()
	out := make([]Metric, 0, r.size)
	for name, fam := range r.families {
		help := r.helps[name]
		if help == "" {
			help = defaultHelp
		}
		for _, m := range fam.metrics {
			cp := m.copy()
			cp.Help = help
			out = append(out, cp)
		}
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Identity.Name != out[j].Identity.Name {
			return out[i].Identity.Name < out[j].Identity.Name
		}
		return out[i].Identity.Key() < out[j].Identity.Key()
	})
	return out
}

// Batch 批量更新句柄，只能在 Registry.Batch 回调内使用
type Batch struct {
	r *Registry
}

func (b *Batch) SetGauge(id Identity, value float64) error { return b.r.setGauge(id, value) }

func (b *Batch) IncrementCounter(id Identity, delta float64) error {
	return b.r.incrementCounter(id, delta)
}

func (b *Batch) SetCounter(id Identity, value float64) error { return b.r.setCounter(id, value) }

func (b *Batch) SetHelp(name, help string) { b.r.setHelp(name, help) }

// -------------------------- 以下函数调用方必须持有写锁 --------------------------

func (r *Registry) getOrCreate(id Identity, kind Kind) (*Metric, error) {
	fam, ok := r.families[id.Name]
	if !ok {
		fam = &family{kind: kind, metrics: make(map[string]*Metric)}
		r.families[id.Name] = fam
	}
	if fam.kind != kind {
		return nil, fmt.Errorf("%w: %s is a %s, requested as %s", ErrKindMismatch, id, fam.kind, kind)
	}
	key := id.Key()
	if m, ok := fam.metrics[key]; ok {
		return m, nil
	}
	m := &Metric{Identity: id.clone(), Kind: kind}
	fam.metrics[key] = m
	r.size++
	return m, nil
}

func (r *Registry) setGauge(id Identity, value float64) error {
	m, err := r.getOrCreate(id, KindGauge)
	if err != nil {
		return err
	}
	m.Value = value
	return nil
}

func (r *Registry) incrementCounter(id Identity, delta float64) error {
	if delta < 0 || math.IsNaN(delta) {
		return fmt.Errorf("%w: %s by %v", ErrInvalidDelta, id, delta)
	}
	m, err := r.getOrCreate(id, KindCounter)
	if err != nil {
		return err
	}
	m.Value += delta
	return nil
}

func (r *Registry) setCounter(id Identity, value float64) error {
	if math.IsNaN(value) {
		return fmt.Errorf("%w: %s set to NaN", ErrInvalidDelta, id)
	}
	m, err := r.getOrCreate(id, KindCounter)
	if err != nil {
		return err
	}
	if value < m.Value {
		return fmt.Errorf("%w: %s from %v to %v", ErrCounterDecreased, id, m.Value, value)
	}
	m.Value = value
	return nil
}

func (r *Registry) setHelp(name, help string) {
	if help == "" {
		return
	}
	if _, ok := r.helps[name]; ok {
		return
	}
	r.helps[name] = help
}

func (m *Metric) copy() Metric {
	return Metric{Identity: m.Identity.clone(), Kind: m.Kind, Help: m.Help, Value: m.Value}
}
