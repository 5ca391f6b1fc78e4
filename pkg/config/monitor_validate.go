package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"
	"time"
)

// Validate HTTP服务配置校验
func (h *ServerConfig) Validate() error {
	if err := valid.Struct(h); err != nil {
		return err
	}
	// 	校验Addr格式(必须是 ":port" 或 "ip:port")
	if h.Addr == "" {
		return errors.New("server.addr cannot be empty")
	}
	// 	用net包解析地址，验证格式合法性
	if _, err := net.ResolveTCPAddr("tcp", h.Addr); err != nil {
		return fmt.Errorf("server.addr format invalid (expected: :port or ip:port), got %s: %w", h.Addr, err)
	}
	if h.MetricsPath == "/" || h.MetricsPath == "/health" {
		return fmt.Errorf("server.metrics_path %q collides with a built-in route", h.MetricsPath)
	}
	return nil
}

// Validate 采集周期校验
func (m *MonitorConfig) Validate() error {
	if err := valid.Struct(m); err != nil {
		return err
	}
	if m.Interval < time.Second || m.Interval > 3600*time.Second {
		return fmt.Errorf("monitor.interval must be between 1 and 3600 seconds, got %s", m.Interval)
	}
	if m.Mode == ModeInterval && m.CycleTimeout > m.Interval {
		return fmt.Errorf("monitor.cycle_timeout (%s) must not exceed monitor.interval (%s)", m.CycleTimeout, m.Interval)
	}
	return nil
}

// Validate 至少启用一个数据源，否则没有意义
// remote 名称不能重复，也不能与本地数据源重名
func (s *SourcesConfig) Validate() error {
	if err := valid.Struct(s); err != nil {
		return err
	}
	if len(s.Remote) == 0 && !s.Memory.Enable && !s.CPU.Enable && !s.Host.Enable {
		return errors.New("at least one source must be enabled (remote/memory/cpu/host)")
	}

	seen := map[string]bool{"memory": true, "cpu": true, "host": true}
	for _, r := range s.Remote {
		if strings.TrimSpace(r.Name) == "" {
			return errors.New("sources.remote: name cannot be empty")
		}
		if seen[r.Name] {
			return fmt.Errorf("sources.remote: duplicate source name %q", r.Name)
		}
		seen[r.Name] = true

		if err := r.validate(); err != nil {
			return err
		}
	}
	return nil
}

func (r *RemoteSourceConfig) validate() error {
	u, err := url.Parse(r.URL)
	if err != nil {
		return fmt.Errorf("sources.remote[%s]: invalid url %q: %w", r.Name, r.URL, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("sources.remote[%s]: url scheme must be http or https, got %q", r.Name, u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("sources.remote[%s]: url %q has no host", r.Name, r.URL)
	}
	for k := range r.Labels {
		if k == "" || strings.HasPrefix(k, "__") {
			return fmt.Errorf("sources.remote[%s]: invalid label name %q", r.Name, k)
		}
	}
	return nil
}
