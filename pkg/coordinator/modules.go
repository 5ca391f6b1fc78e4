package coordinator

import (
	"errors"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"github.com/metrics-bridge/pkg/config"
	"github.com/metrics-bridge/pkg/logger"
	"github.com/metrics-bridge/pkg/parser"
	"github.com/metrics-bridge/pkg/source"
)

// Module 一个可开关的数据源
type Module struct {
	Enabled bool
	Name    string
	NewFunc func() (source.Source, []BindingOption, error)
}

// Modules 根据配置生成数据源列表，新增数据源只需在这里加一条
// remote 在前，本地数据源在后，合并按此顺序进行
func Modules(cfg *config.Config, client *http.Client) []Module {
	var mods []Module
	for _, r := range cfg.Sources.Remote {
		mods = append(mods, Module{
			Enabled: true,
			Name:    r.Name,
			NewFunc: func() (source.Source, []BindingOption, error) {
				policy, err := ParseCounterPolicy(r.CounterPolicy)
				if err != nil {
					return nil, nil, err
				}
				return source.NewRemoteSource(r.Name, r.URL, r.Timeout, client),
					[]BindingOption{WithCounterPolicy(policy), WithConstLabels(r.Labels)}, nil
			},
		})
	}

	mods = append(mods,
		Module{
			Enabled: cfg.Sources.Memory.Enable,
			Name:    "memory",
			NewFunc: func() (source.Source, []BindingOption, error) {
				return source.NewFileSource("memory", cfg.Sources.Memory.Path, parser.FormatMeminfo), nil, nil
			},
		},
		Module{
			Enabled: cfg.Sources.CPU.Enable,
			Name:    "cpu",
			NewFunc: func() (source.Source, []BindingOption, error) {
				policy, err := ParseCounterPolicy(cfg.Sources.CPU.CounterPolicy)
				if err != nil {
					return nil, nil, err
				}
				return source.NewFileSource("cpu", cfg.Sources.CPU.Path, parser.FormatCPUStat),
					[]BindingOption{WithCounterPolicy(policy), WithPerCore(cfg.Sources.CPU.CollectPerCore)}, nil
			},
		},
		Module{
			Enabled: cfg.Sources.Host.Enable,
			Name:    "host",
			NewFunc: func() (source.Source, []BindingOption, error) {
				return source.NewHostSource("host"), nil, nil
			},
		},
	)
	return mods
}

// RegisterSources 数据源注册统一入口，返回所有已注册的数据源
func RegisterSources(agent Agent, mods []Module) ([]source.Source, error) {
	var (
		registered []source.Source
		names      []string
	)
	for _, m := range mods {
		if !m.Enabled {
			logger.Debug("source disabled", zap.String("source", m.Name))
			continue
		}
		src, opts, err := m.NewFunc()
		if err != nil {
			return nil, fmt.Errorf("build source %s: %w", m.Name, err)
		}
		agent.Register(src, opts...)
		registered = append(registered, src)
		names = append(names, src.Name())
		logger.Debug("registered source", zap.String("source", m.Name))
	}
	if len(registered) == 0 {
		return nil, errors.New("no sources enabled; check the sources section of the config")
	}
	logger.Info("all enabled sources registered", zap.Strings("sources", names))
	return registered, nil
}
