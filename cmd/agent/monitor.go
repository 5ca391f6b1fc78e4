package agent

import (
	"github.com/spf13/cobra"
)

func initMonitorFlags(root *cobra.Command) {
	f := root.PersistentFlags()

	f.String("monitor.mode", defaultCfg.Monitor.Mode, "触发方式 [interval,scrape]")
	f.Duration("monitor.interval", defaultCfg.Monitor.Interval, "采集间隔")
	f.Duration("monitor.cycle-timeout", defaultCfg.Monitor.CycleTimeout, "单个采集周期超时")

	f.Bool("sources.memory.enable", defaultCfg.Sources.Memory.Enable, "启用 /proc/meminfo")
	f.String("sources.memory.path", defaultCfg.Sources.Memory.Path, "meminfo 路径")
	f.Bool("sources.cpu.enable", defaultCfg.Sources.CPU.Enable, "启用 /proc/stat")
	f.String("sources.cpu.path", defaultCfg.Sources.CPU.Path, "stat 路径")
	f.Bool("sources.cpu.collect-per-core", defaultCfg.Sources.CPU.CollectPerCore, "按每核心输出")
	f.String("sources.cpu.counter-policy", defaultCfg.Sources.CPU.CounterPolicy, "CPU 计数器合并策略 (delta|absolute)")
	f.Bool("sources.host.enable", defaultCfg.Sources.Host.Enable, "启用 gopsutil 主机探测")
}
