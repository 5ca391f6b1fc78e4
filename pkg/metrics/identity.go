package metrics

import (
	"sort"
	"strconv"
	"strings"

	"github.com/prometheus/common/model"
)

// Kind 指标类型
type Kind int

const (
	// KindGauge 任意值，最后一次写入生效
	KindGauge Kind = iota
	// KindCounter 进程生命周期内单调不减
	KindCounter
)

func (k Kind) String() string {
	switch k {
	case KindGauge:
		return "gauge"
	case KindCounter:
		return "counter"
	default:
		return "unknown"
	}
}

// Labels 标签集合（key -> value）
type Labels map[string]string

// Identity 指标身份：名称 + 标签集合，标签顺序无关
type Identity struct {
	Name   string
	Labels Labels
}

// NewIdentity 创建身份，复制标签并丢弃空值标签（x{a=""} 与 x 等价）
func NewIdentity(name string, labels Labels) Identity {
	cp := make(Labels, len(labels))
	for k, v := range labels {
		if v == "" {
			continue
		}
		cp[k] = v
	}
	return Identity{Name: name, Labels: cp}
}

// LabelNames 返回排序后的标签名
func (id Identity) LabelNames() []string {
	names := make([]string, 0, len(id.Labels))
	for k, v := range id.Labels {
		if v == "" {
			continue
		}
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// Key 规范化键，用于注册表查找
func (id Identity) Key() string {
	var b strings.Builder
	b.WriteString(id.Name)
	for _, k := range id.LabelNames() {
		b.WriteByte(model.SeparatorByte)
		b.WriteString(k)
		b.WriteByte(model.SeparatorByte)
		b.WriteString(id.Labels[k])
	}
	return b.String()
}

// String 以 name{k="v",...} 形式输出，标签按 key 排序
func (id Identity) String() string {
	names := id.LabelNames()
	if len(names) == 0 {
		return id.Name
	}
	var b strings.Builder
	b.WriteString(id.Name)
	b.WriteByte('{')
	for i, k := range names {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(strconv.Quote(id.Labels[k]))
	}
	b.WriteByte('}')
	return b.String()
}

func (id Identity) clone() Identity {
	return NewIdentity(id.Name, id.Labels)
}
