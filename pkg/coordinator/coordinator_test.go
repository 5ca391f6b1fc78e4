package coordinator_test

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/metrics-bridge/pkg/config"
	"github.com/metrics-bridge/pkg/coordinator"
	"github.com/metrics-bridge/pkg/logger"
	"github.com/metrics-bridge/pkg/metrics"
	"github.com/metrics-bridge/pkg/parser"
	"github.com/metrics-bridge/pkg/source"
)

// fakeSource 每次 Read 调用 body
type fakeSource struct {
	name   string
	format parser.Format
	body   func(ctx context.Context) ([]byte, error)
	closed atomic.Bool
}

func (f *fakeSource) Name() string { return f.name }
func (f *fakeSource) Format() parser.Format { return f.format }
func (f *fakeSource) Init() error { return nil }
func (f *fakeSource) Read(ctx context.Context) ([]byte, error) { return f.body(ctx) }
func (f *fakeSource) Close() error { f.closed.Store(true); return nil }

// sequence 依次返回 bodies，最后一个重复
func sequence(bodies ...string) func(context.Context) ([]byte, error) {
	var i atomic.Int32
	return func(context.Context) ([]byte, error) {
		n := int(i.Add(1)) - 1
		if n >= len(bodies) {
			n = len(bodies) - 1
		}
		return []byte(bodies[n]), nil
	}
}

type fixture struct {
	registry *metrics.Registry
	self     *metrics.SelfMetrics
	promReg  *prometheus.Registry
	coord    *coordinator.Coordinator
}

func newFixture(t *testing.T, mode coordinator.Mode) *fixture {
	t.Helper()
	registry := metrics.NewRegistry()
	promReg := prometheus.NewRegistry()
	self := metrics.NewMetricFactory(metrics.NewPromRegistry(promReg)).NewSelfMetrics(registry)
	c := coordinator.New(registry, self, promReg, coordinator.Options{
		Mode:         mode,
		Interval:     20 * time.Millisecond,
		CycleTimeout: time.Second,
	})
	return &fixture{registry: registry, self: self, promReg: promReg, coord: c}
}

func value(t *testing.T, r *metrics.Registry, name string, labels metrics.Labels) (float64, bool) {
	t.Helper()
	want := metrics.NewIdentity(name, labels).Key()
	for _, m := range r.Snapshot() {
		if m.Identity.Key() == want {
			return m.Value, true
		}
	}
	return 0, false
}

func TestRemoteTimeoutIsPartiallyFailed(t *testing.T) {
	var slowHangs atomic.Bool
	slow := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if slowHangs.Load() {
			<-r.Context().Done()
			return
		}
		fmt.Fprintln(w, `redpanda_consumer_lag{topic="orders",consumer_group="billing"} 5`)
	}))
	defer slow.Close()

	var fastValue atomic.Int64
	fastValue.Store(1)
	fast := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, "# TYPE up gauge\nup{job=\"fast\"} %d\n", fastValue.Load())
	}))
	defer fast.Close()

	f := newFixture(t, coordinator.ModeInterval)
	f.coord.Register(source.NewRemoteSource("slow", slow.URL, 50*time.Millisecond, nil))
	f.coord.Register(source.NewRemoteSource("fast", fast.URL, time.Second, nil))

	report := f.coord.RunCycle(context.Background())
	require.Equal(t, coordinator.OutcomeCompleted, report.Outcome)
	require.NoError(t, report.Err())

	slowHangs.Store(true)
	fastValue.Store(2)

	report = f.coord.RunCycle(context.Background())
	assert.Equal(t, coordinator.OutcomePartiallyFailed, report.Outcome)
	assert.Equal(t, coordinator.OutcomePartiallyFailed, f.coord.State())
	require.Len(t, report.Failures, 1)
	assert.Equal(t, "slow", report.Failures[0].Source)
	assert.ErrorIs(t, report.Err(), source.ErrFetchFailed)
	assert.False(t, report.AllFailed())

	lag, ok := value(t, f.registry, "redpanda_consumer_lag", metrics.Labels{"topic": "orders", "consumer_group": "billing"})
	require.True(t, ok, "last-known value of the failed source must be retained")
	assert.Equal(t, 5.0, lag)

	up, ok := value(t, f.registry, "up", metrics.Labels{"job": "fast"})
	require.True(t, ok)
	assert.Equal(t, 2.0, up)

	assert.Equal(t, 1.0, testutil.ToFloat64(f.self.SourceErrors.WithLabelValues("slow")))
	assert.Equal(t, 1.0, testutil.ToFloat64(f.self.Cycles.WithLabelValues("partially_failed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(f.self.Cycles.WithLabelValues("completed")))
}

func TestNeverObservedFailedSourceIsAbsent(t *testing.T) {
	f := newFixture(t, coordinator.ModeInterval)
	f.coord.Register(&fakeSource{name: "down", body: func(context.Context) ([]byte, error) {
		return nil, errors.New("connection refused")
	}})
	f.coord.Register(&fakeSource{name: "ok", body: sequence("ok_metric 1\n")})

	report := f.coord.RunCycle(context.Background())
	assert.Equal(t, coordinator.OutcomePartiallyFailed, report.Outcome)
	assert.Equal(t, 1, f.registry.Len())
}

func TestMemoryUsedBytesScenario(t *testing.T) {
	path := filepath.Join(t.TempDir(), "meminfo")
	require.NoError(t, os.WriteFile(path, []byte("MemTotal: 1000000 kB\nMemAvailable: 400000 kB\n"), 0o644))

	f := newFixture(t, coordinator.ModeInterval)
	f.coord.Register(source.NewFileSource("memory", path, parser.FormatMeminfo))
	f.coord.RunCycle(context.Background())

	payload, contentType, err := f.coord.Scrape(context.Background())
	require.NoError(t, err)
	assert.Contains(t, contentType, "text/plain")

	res := parser.Parse(payload, parser.FormatExposition)
	require.Zero(t, res.Skipped)
	var found bool
	for _, s := range res.Samples {
		if s.Name == "memory_used_bytes" {
			found = true
			assert.Equal(t, float64((1000000-400000)*1024), s.Value)
			assert.Equal(t, metrics.KindGauge, s.Kind)
		}
	}
	assert.True(t, found, "memory_used_bytes missing from payload:\n%s", payload)
}

func TestConcurrentScrapesDuringSlowCycle(t *testing.T) {
	var hits atomic.Int32
	var mu sync.Mutex
	n := 0
	slow := &fakeSource{name: "slow", body: func(ctx context.Context) ([]byte, error) {
		hits.Add(1)
		time.Sleep(100 * time.Millisecond)
		mu.Lock()
		n++
		v := n
		mu.Unlock()
		return []byte(fmt.Sprintf("# TYPE jobs_total counter\njobs_total %d\nqueue_depth %d\n", v*10, v)), nil
	}}

	f := newFixture(t, coordinator.ModeScrape)
	f.coord.Register(slow)

	const scrapers = 8
	payloads := make([][]byte, scrapers)
	var wg sync.WaitGroup
	for i := 0; i < scrapers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p, _, err := f.coord.Scrape(context.Background())
			assert.NoError(t, err)
			payloads[i] = p
		}()
	}
	wg.Wait()

	for _, p := range payloads {
		require.NotEmpty(t, p)
		res := parser.Parse(p, parser.FormatExposition)
		assert.Zero(t, res.Skipped)
		names := map[string]bool{}
		for _, s := range res.Samples {
			names[s.Name] = true
		}
		assert.True(t, names["jobs_total"])
		assert.True(t, names["queue_depth"])
	}
	assert.Less(t, int(hits.Load()), scrapers, "concurrent scrapes should share cycles")
}

func TestCancelledScrapeStillCompletesCycle(t *testing.T) {
	release := make(chan struct{})
	f := newFixture(t, coordinator.ModeScrape)
	f.coord.Register(&fakeSource{name: "blocked", body: func(context.Context) ([]byte, error) {
		<-release
		return []byte("late_metric 7\n"), nil
	}})

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() {
		payload, _, err := f.coord.Scrape(ctx)
		assert.Nil(t, payload)
		errc <- err
	}()

	cancel()
	assert.ErrorIs(t, <-errc, context.Canceled)

	close(release)
	assert.Eventually(t, func() bool {
		v, ok := value(t, f.registry, "late_metric", nil)
		return ok && v == 7
	}, time.Second, 10*time.Millisecond)
}

func TestAllSourcesFailedStillRenders(t *testing.T) {
	f := newFixture(t, coordinator.ModeScrape)
	f.coord.Register(&fakeSource{name: "a", body: func(context.Context) ([]byte, error) {
		return nil, errors.New("unreachable")
	}})

	payload, _, err := f.coord.Scrape(context.Background())
	require.NoError(t, err)
	assert.Contains(t, string(payload), "# collection failed for all 1 sources\n")
	assert.Contains(t, string(payload), `# source "a" failed: unreachable`)
	assert.True(t, f.coord.LastReport().AllFailed())

	res := parser.Parse(payload, parser.FormatExposition)
	assert.Zero(t, res.Skipped)
}

func TestDeltaCounterPolicy(t *testing.T) {
	f := newFixture(t, coordinator.ModeInterval)
	f.coord.Register(&fakeSource{name: "up", body: sequence(
		"# TYPE reqs_total counter\nreqs_total 10\n",
		"# TYPE reqs_total counter\nreqs_total 15\n",
		"# TYPE reqs_total counter\nreqs_total 3\n", // 上游重启
	)})

	want := []float64{10, 15, 18}
	for _, w := range want {
		report := f.coord.RunCycle(context.Background())
		require.Equal(t, coordinator.OutcomeCompleted, report.Outcome)
		v, ok := value(t, f.registry, "reqs_total", nil)
		require.True(t, ok)
		assert.Equal(t, w, v)
	}
}

func TestAbsoluteCounterPolicy(t *testing.T) {
	f := newFixture(t, coordinator.ModeInterval)
	f.coord.Register(&fakeSource{name: "up", body: sequence(
		"# TYPE reqs_total counter\nreqs_total 10\n",
		"# TYPE reqs_total counter\nreqs_total 15\n",
		"# TYPE reqs_total counter\nreqs_total 3\n",
	)}, coordinator.WithCounterPolicy(coordinator.PolicyAbsolute))

	for _, w := range []float64{10, 15, 15} {
		f.coord.RunCycle(context.Background())
		v, ok := value(t, f.registry, "reqs_total", nil)
		require.True(t, ok)
		assert.Equal(t, w, v)
	}
	assert.Equal(t, 1, f.coord.LastReport().Rejected)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.self.RegistryErrors.WithLabelValues("counter_decreased")))
}

func TestCounterSharedAcrossSourcesWarnsOnce(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	logger.SetLogger(zap.New(core))
	t.Cleanup(func() { logger.SetLogger(zap.NewNop()) })

	f := newFixture(t, coordinator.ModeInterval)
	body := "# TYPE process_cpu_seconds_total counter\nprocess_cpu_seconds_total 5\n"
	f.coord.Register(&fakeSource{name: "a", body: sequence(body)})
	f.coord.Register(&fakeSource{name: "b", body: sequence(body)})
	f.coord.Register(&fakeSource{name: "c", body: sequence(body)},
		coordinator.WithConstLabels(map[string]string{"instance": "c"}))

	for range 2 {
		report := f.coord.RunCycle(context.Background())
		assert.Equal(t, 1, report.Shared)
	}

	// a 和 b 的值被累加，c 有独立身份
	v, ok := value(t, f.registry, "process_cpu_seconds_total", nil)
	require.True(t, ok)
	assert.Equal(t, 10.0, v)
	v, ok = value(t, f.registry, "process_cpu_seconds_total", metrics.Labels{"instance": "c"})
	require.True(t, ok)
	assert.Equal(t, 5.0, v)

	warned := logs.FilterMessageSnippet("more than one source").All()
	require.Len(t, warned, 1)
	assert.Equal(t, "b", warned[0].ContextMap()["source"])
	assert.Equal(t, "a", warned[0].ContextMap()["other_source"])
}

func TestKindMismatchIsIsolated(t *testing.T) {
	f := newFixture(t, coordinator.ModeInterval)
	f.coord.Register(&fakeSource{name: "a", body: sequence("shared 1\nonly_a 1\n")})
	f.coord.Register(&fakeSource{name: "b", body: sequence("# TYPE shared counter\nshared 2\nonly_b 2\n")})

	report := f.coord.RunCycle(context.Background())
	assert.Equal(t, coordinator.OutcomeCompleted, report.Outcome)
	assert.Equal(t, 1, report.Rejected)
	assert.Equal(t, 3, report.Applied)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.self.RegistryErrors.WithLabelValues("kind_mismatch")))

	v, ok := value(t, f.registry, "only_b", nil)
	require.True(t, ok)
	assert.Equal(t, 2.0, v)
}

func TestConstLabels(t *testing.T) {
	f := newFixture(t, coordinator.ModeInterval)
	f.coord.Register(&fakeSource{name: "a", body: sequence(`lag{topic="x",cluster="wrong"} 4` + "\n")},
		coordinator.WithConstLabels(map[string]string{"cluster": "dev"}))

	f.coord.RunCycle(context.Background())
	v, ok := value(t, f.registry, "lag", metrics.Labels{"topic": "x", "cluster": "dev"})
	require.True(t, ok)
	assert.Equal(t, 4.0, v)
}

func TestCPUStatDerivesUsageAndFiltersCores(t *testing.T) {
	f := newFixture(t, coordinator.ModeInterval)
	f.coord.Register(&fakeSource{name: "cpu", format: parser.FormatCPUStat, body: sequence(
		"cpu  100 0 100 800 0 0 0 0\ncpu0 50 0 50 400 0 0 0 0\n",
		"cpu  200 0 200 1000 0 0 0 0\ncpu0 100 0 100 500 0 0 0 0\n",
	)})

	f.coord.RunCycle(context.Background())
	_, ok := value(t, f.registry, parser.CPUUsagePercent, metrics.Labels{"cpu": "total"})
	assert.False(t, ok, "first observation only records a baseline")

	f.coord.RunCycle(context.Background())
	usage, ok := value(t, f.registry, parser.CPUUsagePercent, metrics.Labels{"cpu": "total"})
	require.True(t, ok)
	assert.InDelta(t, 50.0, usage, 1e-9)

	secs, ok := value(t, f.registry, parser.CPUSecondsTotal, metrics.Labels{"cpu": "total", "mode": "user"})
	require.True(t, ok)
	assert.Equal(t, 2.0, secs)

	_, ok = value(t, f.registry, parser.CPUSecondsTotal, metrics.Labels{"cpu": "cpu0", "mode": "user"})
	assert.False(t, ok, "per-core series are dropped unless enabled")
}

func TestCPUStatPerCore(t *testing.T) {
	f := newFixture(t, coordinator.ModeInterval)
	f.coord.Register(&fakeSource{name: "cpu", format: parser.FormatCPUStat, body: sequence(
		"cpu  100 0 100 800 0 0 0 0\ncpu0 50 0 50 400 0 0 0 0\n",
	)}, coordinator.WithPerCore(true))

	f.coord.RunCycle(context.Background())
	_, ok := value(t, f.registry, parser.CPUSecondsTotal, metrics.Labels{"cpu": "cpu0", "mode": "user"})
	assert.True(t, ok)
}

func TestSkippedLinesCounted(t *testing.T) {
	f := newFixture(t, coordinator.ModeInterval)
	f.coord.Register(&fakeSource{name: "a", body: sequence("good 1\nbad line here\n{oops} 2\n")})

	report := f.coord.RunCycle(context.Background())
	assert.Equal(t, 2, report.Skipped)
	assert.Equal(t, 2.0, testutil.ToFloat64(f.self.SkippedLines.WithLabelValues("a")))
}

func TestScrapeIncludesSelfMetrics(t *testing.T) {
	f := newFixture(t, coordinator.ModeScrape)
	f.coord.Register(&fakeSource{name: "a", body: sequence("app_up 1\n")})

	payload, _, err := f.coord.Scrape(context.Background())
	require.NoError(t, err)
	assert.Contains(t, string(payload), "app_up 1\n")
	assert.Contains(t, string(payload), `bridge_cycles_total{outcome="completed"} 1`)
	assert.Contains(t, string(payload), "bridge_registry_metrics 1\n")
}

func TestStartAndShutdown(t *testing.T) {
	src := &fakeSource{name: "tick", body: sequence("tick 1\n")}
	f := newFixture(t, coordinator.ModeInterval)
	f.coord.Register(src)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f.coord.Start(ctx)

	assert.Eventually(t, func() bool {
		return testutil.ToFloat64(f.self.Cycles.WithLabelValues("completed")) >= 2
	}, time.Second, 5*time.Millisecond)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), time.Second)
	defer shutdownCancel()
	require.NoError(t, f.coord.Shutdown(shutdownCtx))
	assert.True(t, src.closed.Load())
}

func TestInitCoordinatorFromConfig(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintln(w, `redpanda_messages_total{topic="orders"} 42`)
	}))
	defer upstream.Close()

	memPath := filepath.Join(t.TempDir(), "meminfo")
	require.NoError(t, os.WriteFile(memPath, []byte("MemTotal: 2048 kB\nMemFree: 1024 kB\n"), 0o644))

	cfg := config.NewDefaultConfig()
	cfg.Monitor.Mode = config.ModeScrape
	cfg.Sources.Remote = []config.RemoteSourceConfig{{
		Name:   "redpanda",
		URL:    upstream.URL,
		Labels: map[string]string{"cluster": "dev"},
	}}
	cfg.Sources.Memory.Path = memPath
	cfg.Sources.CPU.Enable = false

	bridge, err := coordinator.InitCoordinator(context.Background(), cfg)
	require.NoError(t, err)
	defer bridge.Coordinator.Shutdown(context.Background())
	require.Len(t, bridge.Sources, 2)

	payload, _, err := bridge.Coordinator.Scrape(context.Background())
	require.NoError(t, err)
	assert.Contains(t, string(payload), `redpanda_messages_total{cluster="dev",topic="orders"} 42`)
	assert.Contains(t, string(payload), "memory_total_bytes 2.097152e+06\n")
	assert.Contains(t, string(payload), "bridge_source_duration_seconds_bucket")
}

func TestInitCoordinatorNoSources(t *testing.T) {
	cfg := config.NewDefaultConfig()
	cfg.Sources.Memory.Enable = false
	cfg.Sources.CPU.Enable = false

	_, err := coordinator.InitCoordinator(context.Background(), cfg)
	assert.Error(t, err)
}

func TestParseCounterPolicy(t *testing.T) {
	p, err := coordinator.ParseCounterPolicy("")
	require.NoError(t, err)
	assert.Equal(t, coordinator.PolicyDelta, p)

	p, err = coordinator.ParseCounterPolicy("absolute")
	require.NoError(t, err)
	assert.Equal(t, coordinator.PolicyAbsolute, p)

	_, err = coordinator.ParseCounterPolicy("sum")
	assert.Error(t, err)
}
