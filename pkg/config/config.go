package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

var valid = validator.New()

// 采集触发方式
const (
	ModeInterval = "interval" // 定时器驱动
	ModeScrape   = "scrape"   // 每次抓取请求触发一次（并发请求合并）
)

// 计数器合并策略
const (
	CounterPolicyDelta    = "delta"    // 记录上次观测值，按差值累加
	CounterPolicyAbsolute = "absolute" // 直接以上游累计值覆盖
)

// Config 全局配置结构体（聚合所有核心模块），启动后只读
type Config struct {
	Server  ServerConfig  `yaml:"server" mapstructure:"server" comment:"HTTP服务配置"`
	Monitor MonitorConfig `yaml:"monitor" mapstructure:"monitor" comment:"采集周期配置"`
	Sources SourcesConfig `yaml:"sources" mapstructure:"sources" comment:"数据源配置"`
	Log     ZapLogConfig  `yaml:"log" mapstructure:"log" comment:"日志配置"`
}

// ServerConfig HTTP服务配置（超时统一为time.Duration，支持"30s"解析）
type ServerConfig struct {
	Addr                 string        `yaml:"addr" mapstructure:"addr" env:"BRIDGE_SERVER_ADDR" validate:"required,hostname_port" comment:"HTTP监听地址（格式：ip:port）"`
	MetricsPath          string        `yaml:"metrics_path" mapstructure:"metrics_path" env:"BRIDGE_SERVER_METRICS_PATH" validate:"required,startswith=/" comment:"指标暴露路径"`
	ReadTimeout          time.Duration `yaml:"read_timeout" mapstructure:"read_timeout" validate:"required,gt=0" comment:"读取超时时间（如30s）"`
	WriteTimeout         time.Duration `yaml:"write_timeout" mapstructure:"write_timeout" validate:"required,gt=0" comment:"写入超时时间（如30s）"`
	IdleTimeout          time.Duration `yaml:"idle_timeout" mapstructure:"idle_timeout" validate:"required,gt=0" comment:"空闲连接超时时间（如60s）"`
	EnableProcessMetrics bool          `yaml:"enable_process_metrics" mapstructure:"enable_process_metrics" comment:"是否暴露本进程指标"`
}

// MonitorConfig 采集周期配置
type MonitorConfig struct {
	Mode         string        `yaml:"mode" mapstructure:"mode" env:"BRIDGE_MONITOR_MODE" validate:"required,oneof=interval scrape" comment:"触发方式 interval/scrape"`
	Interval     time.Duration `yaml:"interval" mapstructure:"interval" env:"BRIDGE_MONITOR_INTERVAL" validate:"required,gt=0" comment:"采集间隔（如15s）"`
	CycleTimeout time.Duration `yaml:"cycle_timeout" mapstructure:"cycle_timeout" validate:"required,gt=0" comment:"单个采集周期超时"`
}

// SourcesConfig 多数据源配置
type SourcesConfig struct {
	Remote []RemoteSourceConfig `yaml:"remote" mapstructure:"remote" validate:"dive" comment:"远端文本暴露端点"`
	Memory FileSourceConfig     `yaml:"memory" mapstructure:"memory" comment:"/proc/meminfo"`
	CPU    CPUSourceConfig      `yaml:"cpu" mapstructure:"cpu" comment:"/proc/stat"`
	Host   HostSourceConfig     `yaml:"host" mapstructure:"host" comment:"gopsutil 主机探测"`
}

// RemoteSourceConfig 单个远端端点
type RemoteSourceConfig struct {
	Name          string            `yaml:"name" mapstructure:"name" validate:"required,excludesall= /" comment:"数据源名称（唯一）"`
	URL           string            `yaml:"url" mapstructure:"url" validate:"required,url" comment:"拉取地址"`
	Timeout       time.Duration     `yaml:"timeout" mapstructure:"timeout" validate:"gte=0" comment:"拉取超时，0 表示默认5s"`
	Labels        map[string]string `yaml:"labels" mapstructure:"labels" comment:"附加到每个样本的常量标签"`
	CounterPolicy string            `yaml:"counter_policy" mapstructure:"counter_policy" validate:"omitempty,oneof=delta absolute" comment:"计数器合并策略"`
}

// FileSourceConfig 本地伪文件数据源
type FileSourceConfig struct {
	Enable bool   `yaml:"enable" mapstructure:"enable" env:"BRIDGE_SOURCES_MEMORY_ENABLE" comment:"是否启用"`
	Path   string `yaml:"path" mapstructure:"path" validate:"required_if=Enable true" comment:"伪文件路径"`
}

// CPUSourceConfig /proc/stat 数据源
type CPUSourceConfig struct {
	Enable         bool   `yaml:"enable" mapstructure:"enable" env:"BRIDGE_SOURCES_CPU_ENABLE" comment:"是否启用"`
	Path           string `yaml:"path" mapstructure:"path" validate:"required_if=Enable true" comment:"伪文件路径"`
	CollectPerCore bool   `yaml:"collect_per_core" mapstructure:"collect_per_core" comment:"是否按每核心输出"`
	CounterPolicy  string `yaml:"counter_policy" mapstructure:"counter_policy" validate:"omitempty,oneof=delta absolute" comment:"计数器合并策略"`
}

// HostSourceConfig gopsutil 主机探测
type HostSourceConfig struct {
	Enable bool `yaml:"enable" mapstructure:"enable" env:"BRIDGE_SOURCES_HOST_ENABLE" comment:"是否启用"`
}

// ZapLogConfig 日志配置
type ZapLogConfig struct {
	Level     string `yaml:"level" mapstructure:"level" env:"BRIDGE_LOG_LEVEL" validate:"required,oneof=debug info warn error" comment:"日志级别" default:"info"`
	Format    string `yaml:"format" mapstructure:"format" env:"BRIDGE_LOG_FORMAT" validate:"required,oneof=json console" comment:"日志格式（json/console）" default:"json"`
	Path      string `yaml:"path" mapstructure:"path" env:"BRIDGE_LOG_PATH" validate:"required" comment:"日志存储路径" default:"./logs"`
	MaxSize   int    `yaml:"max_size" mapstructure:"max_size" validate:"required,gt=0" comment:"单个日志文件最大大小（MB）" default:"100"`
	MaxBackup int    `yaml:"max_backup" mapstructure:"max_backup" validate:"gte=0" comment:"max_age 为 0 时保留的日志文件数" default:"30"`
	MaxAge    int    `yaml:"max_age" mapstructure:"max_age" validate:"gte=0" comment:"日志文件最大保存天数，优先于 max_backup" default:"7"`
}

// NewDefaultConfig 创建默认配置（所有字段兜底，避免空指针/非法值）
func NewDefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:         "0.0.0.0:9102",
			MetricsPath:  "/metrics",
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		Monitor: MonitorConfig{
			Mode:         ModeInterval,
			Interval:     15 * time.Second,
			CycleTimeout: 10 * time.Second,
		},
		Sources: SourcesConfig{
			Remote: []RemoteSourceConfig{},
			Memory: FileSourceConfig{
				Enable: true,
				Path:   "/proc/meminfo",
			},
			CPU: CPUSourceConfig{
				Enable:         true,
				Path:           "/proc/stat",
				CollectPerCore: false,
				CounterPolicy:  CounterPolicyDelta,
			},
			Host: HostSourceConfig{
				Enable: false,
			},
		},
		Log: ZapLogConfig{
			Level:     "info",
			Format:    "json",
			Path:      "./logs",
			MaxSize:   100,
			MaxBackup: 30,
			MaxAge:    7,
		},
	}
}

// LoadConfigWithCli 支持 time.Duration，(Flags + YAML + ENV)
func LoadConfigWithCli(cmd *cobra.Command) (*Config, error) {
	v := viper.New()

	// 1. 绑定 Cobra Flags → Viper（server.read-timeout -> server.read_timeout）
	var bindErr error
	cmd.Flags().VisitAll(func(f *pflag.Flag) {
		key := strings.ReplaceAll(f.Name, "-", "_")
		if err := v.BindPFlag(key, f); err != nil && bindErr == nil {
			bindErr = fmt.Errorf("bind flag %s: %w", f.Name, err)
		}
	})
	if bindErr != nil {
		return nil, bindErr
	}

	// 2. 解析配置文件 (--config)，未指定时只使用默认值 + flags + env
	configFile, _ := cmd.Flags().GetString("config")
	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config file %s: %w", configFile, err)
		}
	}

	return decode(v)
}

// decode 环境变量绑定 + 反序列化 + 校验
func decode(v *viper.Viper) (*Config, error) {
	cfg := NewDefaultConfig()

	// 3. 绑定环境变量 ENV -> Viper （BRIDGE_SERVER_ADDR -> server.addr）
	v.SetEnvPrefix("BRIDGE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	// 4. 解码反序列化到结构体（支持 time.Duration）
	decoderConfig := &mapstructure.DecoderConfig{
		Metadata:         nil,
		Result:           cfg,
		WeaklyTypedInput: true,
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		),
	}

	decoder, err := mapstructure.NewDecoder(decoderConfig)
	if err != nil {
		return nil, fmt.Errorf("new decoder: %w", err)
	}

	if err := decoder.Decode(settings(v)); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	cfg.applyDefaults()

	// 5. 校验配置
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return cfg, nil
}

// settings AllSettings 不会返回只存在于环境变量中的键，这里按已知键补齐
func settings(v *viper.Viper) map[string]any {
	all := v.AllSettings()
	for _, key := range envKeys {
		if !v.IsSet(key) {
			continue
		}
		setNested(all, strings.Split(key, "."), v.Get(key))
	}
	return all
}

// envKeys 可以只通过环境变量设置的键
var envKeys = []string{
	"server.addr",
	"server.metrics_path",
	"monitor.mode",
	"monitor.interval",
	"sources.memory.enable",
	"sources.cpu.enable",
	"sources.host.enable",
	"log.level",
	"log.format",
	"log.path",
}

func setNested(m map[string]any, path []string, value any) {
	for _, p := range path[:len(path)-1] {
		next, ok := m[p].(map[string]any)
		if !ok {
			next = make(map[string]any)
			m[p] = next
		}
		m = next
	}
	m[path[len(path)-1]] = value
}

// applyDefaults 补齐列表元素里未填写的字段
func (c *Config) applyDefaults() {
	for i := range c.Sources.Remote {
		if c.Sources.Remote[i].CounterPolicy == "" {
			c.Sources.Remote[i].CounterPolicy = CounterPolicyDelta
		}
	}
	if c.Sources.CPU.CounterPolicy == "" {
		c.Sources.CPU.CounterPolicy = CounterPolicyDelta
	}
}

// Validate 配置校验
func (c *Config) Validate() error {
	err := valid.Struct(c)
	if err != nil {
		return err
	}
	// 	1,校验Server服务配置
	if err := c.Server.Validate(); err != nil {
		return err
	}
	// 	2，校验采集配置
	if err := c.Monitor.Validate(); err != nil {
		return err
	}
	// 	3，校验数据源配置
	if err := c.Sources.Validate(); err != nil {
		return err
	}
	// 	4，校验日志配置
	if err := c.Log.Validate(); err != nil {
		return err
	}
	return nil
}
