// Package coordinator 驱动采集周期：并行读取所有数据源，按注册顺序把解析结果
// 合并进注册表，单个数据源失败不影响其它数据源。
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/metrics-bridge/pkg/exposition"
	"github.com/metrics-bridge/pkg/logger"
	"github.com/metrics-bridge/pkg/metrics"
	"github.com/metrics-bridge/pkg/parser"
	"github.com/metrics-bridge/pkg/source"
)

// Mode 周期触发方式
type Mode int

const (
	// ModeInterval 定时器驱动，抓取只读取最近一次结果
	ModeInterval Mode = iota
	// ModeScrape 每次抓取触发一个周期，并发抓取合并为一次
	ModeScrape
)

// Outcome 周期状态：Idle → Running → {Completed, PartiallyFailed}
type Outcome int

const (
	OutcomeIdle Outcome = iota
	OutcomeRunning
	OutcomeCompleted
	OutcomePartiallyFailed
)

func (o Outcome) String() string {
	switch o {
	case OutcomeIdle:
		return "idle"
	case OutcomeRunning:
		return "running"
	case OutcomeCompleted:
		return "completed"
	case OutcomePartiallyFailed:
		return "partially_failed"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// SourceFailure 单个数据源本周期的失败
type SourceFailure struct {
	Source string
	Err    error
}

// CycleReport 一次周期的结果
type CycleReport struct {
	Outcome  Outcome
	Started  time.Time
	Duration time.Duration
	// Sources 参与本周期的数据源数量
	Sources  int
	Failures []SourceFailure
	// Skipped 所有数据源被丢弃的格式错误行总数
	Skipped int
	// Applied 成功写入注册表的样本数
	Applied int
	// Rejected 被注册表拒绝的样本数
	Rejected int
	// Shared 被多个数据源同时写入的计数器样本数
	Shared int
}

// Err 汇总本周期所有数据源错误，全部成功时为 nil
func (r CycleReport) Err() error {
	var err error
	for _, f := range r.Failures {
		err = multierr.Append(err, f.Err)
	}
	return err
}

// AllFailed 所有数据源都失败
func (r CycleReport) AllFailed() bool {
	return r.Sources > 0 && len(r.Failures) == r.Sources
}

// Options 周期参数
type Options struct {
	Mode         Mode
	Interval     time.Duration
	CycleTimeout time.Duration
}

const (
	defaultInterval     = 15 * time.Second
	defaultCycleTimeout = 10 * time.Second
)

// Coordinator 实现 Agent 和 Scraper
type Coordinator struct {
	registry  *metrics.Registry
	self      *metrics.SelfMetrics
	gatherers prometheus.Gatherers
	opts      Options

	mu       sync.Mutex // 保护 bindings 注册
	bindings []*binding

	cycleMu sync.Mutex // 同一时刻只有一个周期在合并
	flight  singleflight.Group

	stateMu sync.RWMutex
	state   Outcome
	last    CycleReport

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New 创建周期协调器
// self 为 nil 时自身指标注册到一个不对外暴露的 prometheus.Registry；
// selfGatherer 非 nil 时与 registry 一起渲染
func New(registry *metrics.Registry, self *metrics.SelfMetrics, selfGatherer prometheus.Gatherer, opts Options) *Coordinator {
	if opts.Interval <= 0 {
		opts.Interval = defaultInterval
	}
	if opts.CycleTimeout <= 0 {
		opts.CycleTimeout = defaultCycleTimeout
	}
	if self == nil {
		self = metrics.NewMetricFactory(metrics.NewPromRegistry(prometheus.NewRegistry())).NewSelfMetrics(nil)
	}
	gatherers := prometheus.Gatherers{registry}
	if selfGatherer != nil {
		gatherers = append(gatherers, selfGatherer)
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Coordinator{
		registry:  registry,
		self:      self,
		gatherers: gatherers,
		opts:      opts,
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Register 注册数据源，需在 Start 前调用
func (c *Coordinator) Register(src source.Source, opts ...BindingOption) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.bindings = append(c.bindings, newBinding(src, opts...))
}

func (c *Coordinator) snapshotBindings() []*binding {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*binding, len(c.bindings))
	copy(out, c.bindings)
	return out
}

// InitAll 初始化所有数据源，失败只告警，读取时会再次报告为数据源错误
func (c *Coordinator) InitAll() {
	for _, b := range c.snapshotBindings() {
		if err := b.src.Init(); err != nil {
			logger.Warn("source init failed", zap.String("source", b.name()), zap.Error(err))
			continue
		}
		logger.Debug("source initialized", zap.String("source", b.name()), zap.Stringer("format", b.src.Format()))
	}
}

// Start 初始化数据源；interval 模式下立即执行一次周期并开启定时循环
func (c *Coordinator) Start(ctx context.Context) {
	c.InitAll()

	if c.opts.Mode == ModeScrape {
		logger.Info("coordinator started in scrape mode", zap.Int("sources", len(c.snapshotBindings())))
		return
	}

	logger.Info("coordinator started",
		zap.Duration("interval", c.opts.Interval),
		zap.Int("sources", len(c.snapshotBindings())))

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		ticker := time.NewTicker(c.opts.Interval)
		defer ticker.Stop()

		c.runTimed(ctx)
		for {
			select {
			case <-ticker.C:
				c.runTimed(ctx)
			case <-ctx.Done(): // 外部关闭
				logger.Info("coordinator stopped by external context", zap.Error(ctx.Err()))
				return
			case <-c.ctx.Done(): // Shutdown
				logger.Info("coordinator stopped by shutdown")
				return
			}
		}
	}()
}

func (c *Coordinator) runTimed(ctx context.Context) {
	cctx, cancel := context.WithTimeout(ctx, c.opts.CycleTimeout)
	defer cancel()
	c.RunCycle(cctx)
}

// Shutdown 停止定时循环并关闭所有数据源
func (c *Coordinator) Shutdown(ctx context.Context) error {
	logger.Info("shutting down coordinator")
	c.cancel()

	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return fmt.Errorf("wait for collection loop: %w", ctx.Err())
	}
	return c.CloseAll()
}

// CloseAll 关闭所有数据源，错误合并返回，不阻断其它数据源关闭
func (c *Coordinator) CloseAll() error {
	var errs error
	for _, b := range c.snapshotBindings() {
		if err := b.src.Close(); err != nil {
			logger.Error("failed to close source", zap.String("source", b.name()), zap.Error(err))
			errs = multierr.Append(errs, fmt.Errorf("close %s: %w", b.name(), err))
		}
	}
	return errs
}

// State 当前周期状态
func (c *Coordinator) State() Outcome {
	c.stateMu.RLock()
	defer c.stateMu.RUnlock()
	return c.state
}

// LastReport 最近一次完成的周期结果
func (c *Coordinator) LastReport() CycleReport {
	c.stateMu.RLock()
	defer c.stateMu.RUnlock()
	return c.last
}

type readResult struct {
	res      parser.Result
	err      error
	duration time.Duration
}

// RunCycle 执行一次完整周期
// 读取并行执行；合并在一次 Batch 内按注册顺序进行，快照要么看到整个周期要么看不到
func (c *Coordinator) RunCycle(ctx context.Context) CycleReport {
	c.cycleMu.Lock()
	defer c.cycleMu.Unlock()

	c.setState(OutcomeRunning)
	bindings := c.snapshotBindings()
	report := CycleReport{Started: time.Now(), Sources: len(bindings)}

	results := make([]readResult, len(bindings))
	var g errgroup.Group
	for i, b := range bindings {
		g.Go(func() error {
			results[i] = c.read(ctx, b)
			return nil
		})
	}
	_ = g.Wait()

	var rejected error
	owners := make(map[string]string)
	c.registry.Batch(func(batch *metrics.Batch) {
		for i, b := range bindings {
			r := results[i]
			if r.err != nil {
				report.Failures = append(report.Failures, SourceFailure{Source: b.name(), Err: r.err})
				continue
			}
			report.Skipped += r.res.Skipped
			applied, shared, err := b.apply(batch, r.res, owners)
			report.Applied += applied
			report.Shared += shared
			rejected = multierr.Append(rejected, err)
		}
	})
	c.recordRejected(rejected, &report)

	report.Duration = time.Since(report.Started)
	report.Outcome = OutcomeCompleted
	if len(report.Failures) > 0 {
		report.Outcome = OutcomePartiallyFailed
	}
	c.self.Cycles.WithLabelValues(report.Outcome.String()).Inc()

	c.stateMu.Lock()
	c.state = report.Outcome
	c.last = report
	c.stateMu.Unlock()

	fields := []zap.Field{
		zap.Stringer("outcome", report.Outcome),
		zap.Duration("duration", report.Duration),
		zap.Int("applied", report.Applied),
		zap.Int("failed_sources", len(report.Failures)),
	}
	if report.Outcome == OutcomePartiallyFailed {
		logger.Warn("collection cycle partially failed", append(fields, zap.Error(report.Err()))...)
	} else {
		logger.Debug("collection cycle completed", fields...)
	}
	return report
}

func (c *Coordinator) setState(o Outcome) {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	c.state = o
}

// read 读取并解析单个数据源
func (c *Coordinator) read(ctx context.Context, b *binding) readResult {
	start := time.Now()
	raw, err := b.src.Read(ctx)
	if err != nil {
		d := time.Since(start)
		c.self.SourceErrors.WithLabelValues(b.name()).Inc()
		c.self.SourceDuration.WithLabelValues(b.name()).Observe(d.Seconds())
		logger.Warn("source read failed", zap.String("source", b.name()), zap.Error(err))
		return readResult{err: err, duration: d}
	}

	res := parser.Parse(raw, b.src.Format())
	d := time.Since(start)
	c.self.SourceDuration.WithLabelValues(b.name()).Observe(d.Seconds())
	if res.Skipped > 0 {
		c.self.SkippedLines.WithLabelValues(b.name()).Add(float64(res.Skipped))
		logger.Debug("skipped malformed lines",
			zap.String("source", b.name()),
			zap.Int("skipped", res.Skipped),
			zap.Errors("first_errors", lineErrors(res.Errors)))
	}
	return readResult{res: res, duration: d}
}

func lineErrors(in []parser.LineError) []error {
	out := make([]error, len(in))
	for i, e := range in {
		out[i] = e
	}
	return out
}

// recordRejected 按原因统计注册表拒绝的更新；KindMismatch 属于配置缺陷，以 Error 级别输出
func (c *Coordinator) recordRejected(rejected error, report *CycleReport) {
	for _, err := range multierr.Errors(rejected) {
		report.Rejected++
		switch {
		case errors.Is(err, metrics.ErrKindMismatch):
			c.self.RegistryErrors.WithLabelValues("kind_mismatch").Inc()
			logger.Error("metric kind mismatch", zap.Error(err))
		case errors.Is(err, metrics.ErrCounterDecreased):
			c.self.RegistryErrors.WithLabelValues("counter_decreased").Inc()
			logger.Warn("counter update rejected", zap.Error(err))
		case errors.Is(err, metrics.ErrInvalidDelta):
			c.self.RegistryErrors.WithLabelValues("invalid_delta").Inc()
			logger.Warn("counter update rejected", zap.Error(err))
		default:
			c.self.RegistryErrors.WithLabelValues("other").Inc()
			logger.Warn("registry update rejected", zap.Error(err))
		}
	}
}

// Scrape scrape 模式下触发一次周期（并发调用共享同一次周期），然后渲染当前状态
// 周期运行在与调用方解耦的 context 上，调用方取消后周期仍会完成并更新注册表
func (c *Coordinator) Scrape(ctx context.Context) ([]byte, string, error) {
	if c.opts.Mode == ModeScrape {
		ch := c.flight.DoChan("cycle", func() (any, error) {
			cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.opts.CycleTimeout)
			defer cancel()
			return c.RunCycle(cctx), nil
		})
		select {
		case <-ch:
		case <-ctx.Done():
			return nil, "", ctx.Err()
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, "", err
	}

	families, gatherErr := c.gatherers.Gather()
	return exposition.Render(families, c.notes(gatherErr)...)
}

// notes 追加在暴露文本末尾的注释：上一周期失败的数据源、Gather 错误
func (c *Coordinator) notes(gatherErr error) []string {
	report := c.LastReport()
	var notes []string
	if report.AllFailed() {
		notes = append(notes, fmt.Sprintf("collection failed for all %d sources", report.Sources))
	}
	for _, f := range report.Failures {
		notes = append(notes, fmt.Sprintf("source %q failed: %v", f.Source, f.Err))
	}
	if gatherErr != nil {
		notes = append(notes, fmt.Sprintf("gather: %v", gatherErr))
	}
	return notes
}
