// Package exposition 把指标族序列化为文本暴露格式。
package exposition

import (
	"bytes"
	"fmt"
	"strings"

	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"
)

// ContentType 文本暴露格式的 Content-Type
func ContentType() string {
	return string(expfmt.NewFormat(expfmt.TypeTextPlain))
}

// Render 依次编码 families，并在末尾以 "# " 注释行追加 notes
// 相同输入得到相同字节；families 的排序由调用方保证（Gatherer 已排序）
func Render(families []*dto.MetricFamily, notes ...string) ([]byte, string, error) {
	var buf bytes.Buffer
	for _, mf := range families {
		if _, err := expfmt.MetricFamilyToText(&buf, mf); err != nil {
			return nil, "", fmt.Errorf("encode metric family %q: %w", mf.GetName(), err)
		}
	}
	for _, note := range notes {
		writeComment(&buf, note)
	}
	return buf.Bytes(), ContentType(), nil
}

// writeComment 多行注释逐行加 "# " 前缀，保证输出仍可被解析
func writeComment(buf *bytes.Buffer, note string) {
	for _, line := range strings.Split(note, "\n") {
		buf.WriteString("# ")
		buf.WriteString(line)
		buf.WriteByte('\n')
	}
}
