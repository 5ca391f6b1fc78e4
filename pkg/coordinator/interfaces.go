package coordinator

import (
	"context"

	"github.com/metrics-bridge/pkg/source"
)

// Agent 采集生命周期管理
// 新增数据源只需实现 source.Source，通过 Register 接入
type Agent interface {
	Register(src source.Source, opts ...BindingOption) // 注册数据源
	Start(ctx context.Context)                         // 启动（interval 模式下开启定时循环）
	Shutdown(ctx context.Context) error                // 优雅停止并关闭数据源
}

// Scraper HTTP 前端依赖的抓取接口
type Scraper interface {
	// Scrape 返回渲染后的暴露文本及 Content-Type；ctx 被取消时不返回内容
	Scrape(ctx context.Context) ([]byte, string, error)
}
