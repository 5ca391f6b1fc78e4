package agent

import (
	"github.com/spf13/cobra"

	"github.com/metrics-bridge/pkg/config"
)

var defaultCfg = config.NewDefaultConfig()

func initServerFlags(root *cobra.Command) {
	f := root.PersistentFlags()

	f.String("server.addr", defaultCfg.Server.Addr, "-> HTTP listening address (HTTP监听地址)")
	f.String("server.metrics-path", defaultCfg.Server.MetricsPath, "-> Exposition path (指标暴露路径)")
	f.Duration("server.read-timeout", defaultCfg.Server.ReadTimeout, "-> Read timeout duration (读取超时时间)")
	f.Duration("server.write-timeout", defaultCfg.Server.WriteTimeout, "-> Write timeout duration (写入超时时间)")
	f.Duration("server.idle-timeout", defaultCfg.Server.IdleTimeout, "-> Idle connection timeout duration (空闲连接超时时间)")
	f.Bool("server.enable-process-metrics", defaultCfg.Server.EnableProcessMetrics, "-> Expose process metrics of the bridge itself (暴露本进程指标)")
}
