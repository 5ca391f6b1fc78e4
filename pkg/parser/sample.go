// Package parser 把数据源返回的原始文本转换为带类型的样本。
//
// 解析按行进行且尽力而为：格式错误的行被跳过并计数，不会中断整个解析。
// Parse 是纯函数，对同一输入多次调用得到相同结果；需要跨周期状态的派生量
// （例如 CPU 使用率）由 CPUUsage 单独维护。
package parser

import (
	"bytes"
	"fmt"

	"github.com/metrics-bridge/pkg/metrics"
)

// Format 原始数据的文本语法
type Format int

const (
	// FormatExposition name{k="v"} value [timestamp] 行格式
	FormatExposition Format = iota
	// FormatMeminfo /proc/meminfo 的 "Key: value kB" 行格式
	FormatMeminfo
	// FormatCPUStat /proc/stat 的 "cpu user nice system idle ..." 行格式
	FormatCPUStat
)

func (f Format) String() string {
	switch f {
	case FormatExposition:
		return "exposition"
	case FormatMeminfo:
		return "meminfo"
	case FormatCPUStat:
		return "cpustat"
	default:
		return fmt.Sprintf("format(%d)", int(f))
	}
}

const (
	// maxLineErrors Result.Errors 最多保留的条数，只用于诊断日志
	maxLineErrors = 8
	// maxLineBytes 单行长度上限，超出的行整行丢弃
	maxLineBytes = 1 << 20
	// maxErrorText LineError.Text 保留的最大字节数
	maxErrorText = 128
)

// Sample 单个原始样本，周期结束后丢弃
type Sample struct {
	Name   string
	Labels metrics.Labels
	Value  float64
	Kind   metrics.Kind
}

// Identity 样本对应的注册表身份
func (s Sample) Identity() metrics.Identity {
	return metrics.NewIdentity(s.Name, s.Labels)
}

// LineError 被跳过的行
type LineError struct {
	Line   int
	Text   string
	Reason string
}

func (e LineError) Error() string {
	return fmt.Sprintf("line %d: %s: %q", e.Line, e.Reason, e.Text)
}

// Result 一次解析的输出
type Result struct {
	Samples []Sample
	// Help 指标名 -> 帮助信息（仅 exposition 格式有）
	Help map[string]string
	// Skipped 被丢弃的格式错误行数
	Skipped int
	// Errors 前 maxLineErrors 个被丢弃行的原因
	Errors []LineError
}

func (r *Result) skip(line int, text, reason string) {
	r.Skipped++
	if len(r.Errors) < maxLineErrors {
		if len(text) > maxErrorText {
			text = text[:maxErrorText] + "..."
		}
		r.Errors = append(r.Errors, LineError{Line: line, Text: text, Reason: reason})
	}
}

// eachLine 逐行遍历 raw 并把去掉首尾空白的非空行交给 fn
// 超过 maxLen 的行记一次跳过，后续行照常处理
func (r *Result) eachLine(raw []byte, maxLen int, fn func(lineNo int, line string)) {
	lineNo := 0
	for len(raw) > 0 {
		lineNo++
		var line []byte
		if i := bytes.IndexByte(raw, '\n'); i >= 0 {
			line, raw = raw[:i], raw[i+1:]
		} else {
			line, raw = raw, nil
		}
		if len(line) > maxLen {
			r.skip(lineNo, string(line[:maxErrorText]), fmt.Sprintf("line exceeds %d bytes", maxLen))
			continue
		}
		text := string(bytes.TrimSpace(line))
		if text == "" {
			continue
		}
		fn(lineNo, text)
	}
}

func (r *Result) add(name string, labels metrics.Labels, value float64, kind metrics.Kind) {
	r.Samples = append(r.Samples, Sample{Name: name, Labels: labels, Value: value, Kind: kind})
}

// Parse 按 format 解析原始文本
func Parse(raw []byte, format Format) Result {
	switch format {
	case FormatMeminfo:
		return parseMeminfo(raw)
	case FormatCPUStat:
		return parseCPUStat(raw)
	default:
		return parseExposition(raw)
	}
}
