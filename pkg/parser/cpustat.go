package parser

import (
	"strconv"
	"strings"

	"github.com/metrics-bridge/pkg/metrics"
)

// maxStatLineBytes /proc/stat 单行上限
const maxStatLineBytes = 4 << 20

// UserHZ /proc/stat 的时钟节拍频率（USER_HZ），Linux 用户态固定为 100
const UserHZ = 100

// cpuModes /proc/stat cpu 行的字段顺序（Linux 标准）
// user(1) → nice(2) → system(3) → idle(4) → iowait(5) → irq(6) → softirq(7) → steal(8)
// guest/guest_nice 已计入 user/nice，不再单独统计
var cpuModes = []string{"user", "nice", "system", "idle", "iowait", "irq", "softirq", "steal"}

// CPU 相关指标名
const (
	CPUSecondsTotal     = "cpu_seconds_total"
	CPUUsagePercent     = "cpu_usage_percent"
	CPUUsageModePercent = "cpu_usage_mode_percent"
	// CPUTotalLabel 汇总行 "cpu" 的 cpu 标签值
	CPUTotalLabel = "total"
)

// parseCPUStat 解析 /proc/stat
// cpu 行输出 cpu_seconds_total{cpu,mode}（节拍 / USER_HZ），缺失的尾部字段按 0 处理
// 另外解析 ctxt/processes/procs_running/procs_blocked/btime，intr 等行忽略
func parseCPUStat(raw []byte) Result {
	var res Result

	// intr 行在多核机器上很长
	res.eachLine(raw, maxStatLineBytes, func(lineNo int, line string) {
		fields := strings.Fields(line)
		key := fields[0]

		switch {
		case strings.HasPrefix(key, "cpu"):
			parseCPULine(&res, lineNo, line, fields)
		case key == "ctxt":
			parseScalar(&res, lineNo, line, fields, "context_switches_total", metrics.KindCounter)
		case key == "processes":
			parseScalar(&res, lineNo, line, fields, "forks_total", metrics.KindCounter)
		case key == "procs_running":
			parseScalar(&res, lineNo, line, fields, "procs_running", metrics.KindGauge)
		case key == "procs_blocked":
			parseScalar(&res, lineNo, line, fields, "procs_blocked", metrics.KindGauge)
		case key == "btime":
			parseScalar(&res, lineNo, line, fields, "boot_time_seconds", metrics.KindGauge)
		}
	})
	return res
}

func parseCPULine(res *Result, lineNo int, line string, fields []string) {
	// 至少需要 "cpu" + 4个基础时间字段(user/nice/system/idle）
	if len(fields) < 5 {
		res.skip(lineNo, line, "cpu line needs at least 4 tick counters")
		return
	}
	cpu := fields[0]
	if cpu == "cpu" {
		cpu = CPUTotalLabel
	} else if _, err := strconv.Atoi(strings.TrimPrefix(cpu, "cpu")); err != nil {
		res.skip(lineNo, line, "invalid cpu id")
		return
	}

	ticks := make([]float64, len(cpuModes))
	for i := range cpuModes {
		if i+1 >= len(fields) {
			break
		}
		v, err := strconv.ParseFloat(fields[i+1], 64)
		if err != nil {
			res.skip(lineNo, line, "non-numeric tick counter")
			return
		}
		ticks[i] = v
	}
	for i, mode := range cpuModes {
		res.add(CPUSecondsTotal, metrics.Labels{"cpu": cpu, "mode": mode}, ticks[i]/UserHZ, metrics.KindCounter)
	}
}

func parseScalar(res *Result, lineNo int, line string, fields []string, name string, kind metrics.Kind) {
	if len(fields) != 2 {
		res.skip(lineNo, line, "expected 'key value'")
		return
	}
	v, err := strconv.ParseFloat(fields[1], 64)
	if err != nil {
		res.skip(lineNo, line, "non-numeric value")
		return
	}
	res.add(name, nil, v, kind)
}
