package parser

import (
	"strconv"
	"strings"

	"github.com/metrics-bridge/pkg/metrics"
)

// meminfoNames /proc/meminfo 中关注的键 -> 指标名，其余键忽略
var meminfoNames = map[string]string{
	"MemTotal":     "memory_total_bytes",
	"MemFree":      "memory_free_bytes",
	"MemAvailable": "memory_available_bytes",
	"Buffers":      "memory_buffers_bytes",
	"Cached":       "memory_cached_bytes",
	"SwapTotal":    "memory_swap_total_bytes",
	"SwapFree":     "memory_swap_free_bytes",
}

// parseMeminfo 解析 "Key:   value kB" 行，kB 换算为字节（×1024）
// 派生 memory_used_bytes = MemTotal - MemAvailable
// 旧内核没有 MemAvailable 时退化为 MemTotal - MemFree - Buffers - Cached
func parseMeminfo(raw []byte) Result {
	var res Result
	values := make(map[string]float64)

	res.eachLine(raw, maxLineBytes, func(lineNo int, line string) {
		key, rest, ok := strings.Cut(line, ":")
		if !ok {
			res.skip(lineNo, line, "missing ':' separator")
			return
		}
		key = strings.TrimSpace(key)
		fields := strings.Fields(rest)
		if key == "" || len(fields) == 0 || len(fields) > 2 {
			res.skip(lineNo, line, "expected 'Key: value [unit]'")
			return
		}
		v, err := strconv.ParseFloat(fields[0], 64)
		if err != nil {
			res.skip(lineNo, line, "non-numeric value")
			return
		}
		if len(fields) == 2 {
			switch strings.ToLower(fields[1]) {
			case "kb":
				v *= 1024
			default:
				res.skip(lineNo, line, "unknown unit")
				return
			}
		}

		name, known := meminfoNames[key]
		if !known {
			return
		}
		values[key] = v
		res.add(name, nil, v, metrics.KindGauge)
	})

	total, ok := values["MemTotal"]
	if !ok {
		return res
	}
	var used float64
	if avail, ok := values["MemAvailable"]; ok {
		used = total - avail
	} else if free, ok := values["MemFree"]; ok {
		used = total - free - values["Buffers"] - values["Cached"]
	} else {
		return res
	}
	res.add("memory_used_bytes", nil, used, metrics.KindGauge)
	if total > 0 {
		res.add("memory_used_ratio", nil, used/total, metrics.KindGauge)
	}
	return res
}
