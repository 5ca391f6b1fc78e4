package parser

import (
	"strconv"
	"strings"

	"github.com/metrics-bridge/pkg/metrics"
)

// parseExposition 解析文本暴露格式
// 每行：指标名、可选 {key="value",...}、空白、数值、可选时间戳
// 注释行 "# HELP" / "# TYPE" 用于确定帮助信息和类型，其余注释忽略
func parseExposition(raw []byte) Result {
	res := Result{Help: make(map[string]string)}
	types := make(map[string]string)

	res.eachLine(raw, maxLineBytes, func(lineNo int, line string) {
		if line[0] == '#' {
			parseComment(line, res.Help, types)
			return
		}

		name, labels, value, reason := parseSampleLine(line)
		if reason != "" {
			res.skip(lineNo, line, reason)
			return
		}
		res.add(name, labels, value, kindOf(name, types))
	})

	propagateHelp(&res, types)
	return res
}

func parseComment(line string, help, types map[string]string) {
	body := strings.TrimSpace(strings.TrimPrefix(line, "#"))
	fields := strings.Fields(body)
	if len(fields) < 3 {
		return
	}
	name := fields[1]
	if !validMetricName(name) {
		return
	}
	switch fields[0] {
	case "HELP":
		// HELP 文本保留内部空白，只去掉关键字和名称前缀
		text := strings.TrimSpace(strings.TrimPrefix(body, "HELP"))
		text = strings.TrimSpace(strings.TrimPrefix(text, name))
		if _, ok := help[name]; !ok {
			help[name] = unescapeHelp(text)
		}
	case "TYPE":
		if _, ok := types[name]; !ok {
			types[name] = strings.ToLower(fields[2])
		}
	}
}

// kindOf 根据 TYPE 注释推断样本类型
// counter 及 histogram/summary 的 _bucket/_count/_sum 是计数器，其余均为 gauge
func kindOf(name string, types map[string]string) metrics.Kind {
	if t, ok := types[name]; ok {
		if t == "counter" {
			return metrics.KindCounter
		}
		return metrics.KindGauge
	}
	if base, ok := strings.CutSuffix(name, "_total"); ok && types[base] == "counter" {
		return metrics.KindCounter
	}
	if base, ok := strings.CutSuffix(name, "_bucket"); ok && types[base] == "histogram" {
		return metrics.KindCounter
	}
	for _, suffix := range []string{"_count", "_sum"} {
		if base, ok := strings.CutSuffix(name, suffix); ok {
			if t := types[base]; t == "histogram" || t == "summary" {
				return metrics.KindCounter
			}
		}
	}
	return metrics.KindGauge
}

// propagateHelp histogram/summary 的 HELP 挂在基础名上，复制给派生序列
func propagateHelp(res *Result, types map[string]string) {
	for _, s := range res.Samples {
		if _, ok := res.Help[s.Name]; ok {
			continue
		}
		for _, suffix := range []string{"_total", "_bucket", "_count", "_sum"} {
			base, ok := strings.CutSuffix(s.Name, suffix)
			if !ok {
				continue
			}
			if _, typed := types[base]; !typed {
				continue
			}
			if h, ok := res.Help[base]; ok {
				res.Help[s.Name] = h
				break
			}
		}
	}
}

func parseSampleLine(line string) (string, metrics.Labels, float64, string) {
	i := 0
	for i < len(line) && isNameChar(line[i], i == 0, true) {
		i++
	}
	if i == 0 {
		return "", nil, 0, "invalid metric name"
	}
	name := line[:i]

	labels := metrics.Labels{}
	if i < len(line) && line[i] == '{' {
		n, reason := parseLabels(line[i+1:], labels)
		if reason != "" {
			return "", nil, 0, reason
		}
		i += 1 + n
	}

	rest := line[i:]
	if rest == "" || (rest[0] != ' ' && rest[0] != '\t') {
		return "", nil, 0, "missing value"
	}
	fields := strings.Fields(rest)
	if len(fields) == 0 || len(fields) > 2 {
		return "", nil, 0, "unexpected trailing fields"
	}
	value, err := strconv.ParseFloat(fields[0], 64)
	if err != nil {
		return "", nil, 0, "non-numeric value"
	}
	if len(fields) == 2 {
		if _, err := strconv.ParseInt(fields[1], 10, 64); err != nil {
			return "", nil, 0, "invalid timestamp"
		}
	}
	return name, labels, value, ""
}

// parseLabels 解析 '{' 之后的内容，返回消耗的字节数（含 '}'）
func parseLabels(s string, out metrics.Labels) (int, string) {
	i := 0
	skipSpace := func() {
		for i < len(s) && (s[i] == ' ' || s[i] == '\t') {
			i++
		}
	}
	for {
		skipSpace()
		if i >= len(s) {
			return 0, "unterminated label set"
		}
		if s[i] == '}' {
			return i + 1, ""
		}

		start := i
		for i < len(s) && isNameChar(s[i], i == start, false) {
			i++
		}
		key := s[start:i]
		if key == "" {
			return 0, "invalid label name"
		}
		if strings.HasPrefix(key, "__") {
			return 0, "reserved label name"
		}
		if _, dup := out[key]; dup {
			return 0, "duplicate label name"
		}

		skipSpace()
		if i >= len(s) || s[i] != '=' {
			return 0, "expected '=' after label name"
		}
		i++
		skipSpace()
		if i >= len(s) || s[i] != '"' {
			return 0, "expected quoted label value"
		}
		i++

		var val strings.Builder
		closed := false
		for i < len(s) {
			c := s[i]
			if c == '\\' {
				if i+1 >= len(s) {
					return 0, "unterminated escape"
				}
				switch s[i+1] {
				case '\\':
					val.WriteByte('\\')
				case '"':
					val.WriteByte('"')
				case 'n':
					val.WriteByte('\n')
				default:
					return 0, "invalid escape sequence"
				}
				i += 2
				continue
			}
			if c == '"' {
				closed = true
				i++
				break
			}
			val.WriteByte(c)
			i++
		}
		if !closed {
			return 0, "unterminated label value"
		}
		out[key] = val.String()

		skipSpace()
		if i >= len(s) {
			return 0, "unterminated label set"
		}
		switch s[i] {
		case ',':
			i++
		case '}':
			return i + 1, ""
		default:
			return 0, "expected ',' or '}' after label value"
		}
	}
}

func isNameChar(c byte, first, allowColon bool) bool {
	switch {
	case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c == '_':
		return true
	case c == ':':
		return allowColon
	case c >= '0' && c <= '9':
		return !first
	}
	return false
}

func validMetricName(name string) bool {
	if name == "" {
		return false
	}
	for i := 0; i < len(name); i++ {
		if !isNameChar(name[i], i == 0, true) {
			return false
		}
	}
	return true
}

func unescapeHelp(s string) string {
	if !strings.Contains(s, `\`) {
		return s
	}
	return strings.NewReplacer(`\\`, `\`, `\n`, "\n").Replace(s)
}
