package agent

import (
	"github.com/spf13/cobra"
)

func initLogFlags(root *cobra.Command) {
	f := root.PersistentFlags()
	logPrefix := "log."

	f.String(
		logPrefix+"level",
		defaultCfg.Log.Level,
		"-> Log level [debug,info,warn,error] | 日志级别")
	f.String(
		logPrefix+"format",
		defaultCfg.Log.Format,
		"-> Log format [console,json] | 日志格式 [console,json]")
	f.String(
		logPrefix+"path",
		defaultCfg.Log.Path,
		"-> Directory for bridge-YYYYMMDD.log files | 日志目录，按天生成 bridge-YYYYMMDD.log")
	f.Int(
		logPrefix+"max-size",
		defaultCfg.Log.MaxSize,
		"-> Rotate bridge-YYYYMMDD.log early once it reaches this size (MB) | 单文件达到该大小提前切割（MB）")
	f.Int(
		logPrefix+"max-backup",
		defaultCfg.Log.MaxBackup,
		"-> Rotated files to keep when max-age is 0 | max-age 为 0 时保留的文件数")
	f.Int(
		logPrefix+"max-age",
		defaultCfg.Log.MaxAge,
		"-> Days to keep bridge-*.log files, 0 keeps max-backup files instead | 保存天数，0 表示按 max-backup 数量保留")
}
