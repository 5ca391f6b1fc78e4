package metrics

import (
	dto "github.com/prometheus/client_model/go"
	"google.golang.org/protobuf/proto"
)

// Gather 实现 prometheus.Gatherer，每次调用只取一次 Snapshot
func (r *Registry) Gather() ([]*dto.MetricFamily, error) {
	return Families(r.Snapshot()), nil
}

// Families 将快照转换为指标族，输入需按名称排序（Snapshot 已保证）
func Families(snapshot []Metric) []*dto.MetricFamily {
	var (
		out []*dto.MetricFamily
		cur *dto.MetricFamily
	)
	for _, m := range snapshot {
		if cur == nil || cur.GetName() != m.Identity.Name {
			cur = &dto.MetricFamily{
				Name: proto.String(m.Identity.Name),
				Help: proto.String(m.Help),
				Type: dtoType(m.Kind),
			}
			out = append(out, cur)
		}
		cur.Metric = append(cur.Metric, toDTO(m))
	}
	return out
}

func dtoType(k Kind) *dto.MetricType {
	if k == KindCounter {
		return dto.MetricType_COUNTER.Enum()
	}
	return dto.MetricType_GAUGE.Enum()
}

func toDTO(m Metric) *dto.Metric {
	names := m.Identity.LabelNames()
	pairs := make([]*dto.LabelPair, 0, len(names))
	for _, k := range names {
		pairs = append(pairs, &dto.LabelPair{
			Name:  proto.String(k),
			Value: proto.String(m.Identity.Labels[k]),
		})
	}
	out := &dto.Metric{Label: pairs}
	if m.Kind == KindCounter {
		out.Counter = &dto.Counter{Value: proto.Float64(m.Value)}
	} else {
		out.Gauge = &dto.Gauge{Value: proto.Float64(m.Value)}
	}
	return out
}
