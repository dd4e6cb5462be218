package cli

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/devicelab-dev/axrunner/pkg/axsource"
	"github.com/devicelab-dev/axrunner/pkg/config"
	"github.com/devicelab-dev/axrunner/pkg/core"
	"github.com/devicelab-dev/axrunner/pkg/dispatch"
	"github.com/devicelab-dev/axrunner/pkg/extract"
	"github.com/devicelab-dev/axrunner/pkg/flow"
	"github.com/devicelab-dev/axrunner/pkg/logger"
	"github.com/devicelab-dev/axrunner/pkg/matcher"
	"github.com/devicelab-dev/axrunner/pkg/prefetch"
	"github.com/devicelab-dev/axrunner/pkg/recovery"
	"github.com/devicelab-dev/axrunner/pkg/recovery/redisstore"
	"github.com/devicelab-dev/axrunner/pkg/role"
	"github.com/devicelab-dev/axrunner/pkg/telemetry"
	"github.com/devicelab-dev/axrunner/pkg/telemetry/sqlitesink"
	"github.com/devicelab-dev/axrunner/pkg/walker"
)

// EngineOptions supplies the collaborators that are not built from config.
type EngineOptions struct {
	Executor core.ActionExecutor // required
	SlowPath core.SlowPath
	Logger   *slog.Logger
	// Registry receives the Prometheus collectors. Nil creates one per engine.
	Registry *prometheus.Registry
}

// Engine is a dispatcher wired from a workspace config, plus the background
// components that must be shut down with it.
type Engine struct {
	Dispatcher *dispatch.Dispatcher
	Warmer     *prefetch.Warmer     // nil unless prefetch is enabled
	Stats      *sqlitesink.Store    // nil unless telemetry.sqlite is set
	Resolver   *axsource.FileResolver
	Walker     *walker.Walker
	Classifier *role.Classifier
	Extractor  *extract.Extractor

	// Summary holds the telemetry totals read from Stats during Close.
	Summary []sqlitesink.OperationStats

	metricsAddr string
	closers     []func(context.Context) error
	log         *slog.Logger
}

// NewEngine builds every component named by cfg. On error, whatever was
// already started is shut down.
func NewEngine(ctx context.Context, cfg *config.Config, opts EngineOptions) (eng *Engine, err error) {
	if opts.Executor == nil {
		return nil, errors.New("engine: action executor is required")
	}
	log := logger.OrDiscard(opts.Logger)
	eng = &Engine{log: log}
	defer func() {
		if err != nil {
			eng.Close(context.Background())
			eng = nil
		}
	}()

	snapshot := cfg.Snapshot
	if snapshot == "" {
		snapshot = config.GetSnapshotsDir()
	}
	eng.Resolver = &axsource.FileResolver{Path: snapshot}
	eng.Classifier = role.New(role.WithMapping(cfg.RoleMapping()))
	eng.Walker = walker.New(cfg.Walker, eng.Classifier, log)
	eng.Extractor = extract.New(cfg.Extractor, log)
	m := matcher.New(cfg.Matcher, matcher.WithLogger(log))

	rec, err := eng.newRecovery(ctx, cfg)
	if err != nil {
		return eng, err
	}

	sink, err := eng.newSink(cfg, opts.Registry)
	if err != nil {
		return eng, err
	}

	deps := dispatch.Deps{
		Resolver:   eng.Resolver,
		Executor:   opts.Executor,
		SlowPath:   opts.SlowPath,
		Probe:      eng.Resolver,
		Sink:       sink,
		Logger:     log,
		Extractor:  eng.Extractor,
		Matcher:    m,
		Walker:     eng.Walker,
		Classifier: eng.Classifier,
		Recovery:   rec,
	}

	dcfg := cfg.Dispatch
	dcfg.DefaultApp = defaultApp(cfg)
	if cfg.Prefetch.Enabled {
		pcfg := cfg.Prefetch.Config
		// Prefetched trees are only reused at the dispatcher's primary depth.
		pcfg.MaxDepth = dcfg.MaxDepth
		if pcfg.MaxDepth <= 0 {
			pcfg.MaxDepth = eng.Walker.MaxDepth()
		}
		eng.Warmer = prefetch.New(pcfg, eng.Resolver, eng.Walker, eng.Extractor,
			prefetch.WithSink(sink), prefetch.WithLogger(log))
		eng.onClose(func(context.Context) error { return eng.Warmer.Close() })
		deps.Trees = eng.Warmer
	}

	eng.Dispatcher, err = dispatch.New(dcfg, deps)
	if err != nil {
		return eng, err
	}
	return eng, nil
}

// newRecovery builds the recovery manager. With redis enabled the strategy
// history is loaded at start and saved on Close; an unreachable server only
// costs the shared history.
func (e *Engine) newRecovery(ctx context.Context, cfg *config.Config) (*recovery.Manager, error) {
	mgr, err := recovery.New(cfg.Recovery,
		recovery.WithProbe(e.Resolver),
		recovery.WithLogger(e.log),
	)
	if err != nil || !cfg.Redis.Enabled {
		return mgr, err
	}

	store, rdb, err := redisstore.Connect(ctx, cfg.Redis.Config)
	if err != nil {
		e.log.Warn("recovery history unavailable, using local history", "error", err)
		return mgr, nil
	}
	if n, err := mgr.Load(ctx, store); err != nil {
		e.log.Warn("failed to load recovery history", "error", err)
	} else {
		e.log.Debug("recovery history loaded", "kinds", n)
	}
	e.onClose(func(ctx context.Context) error {
		defer rdb.Close()
		if err := mgr.Persist(ctx, store); err != nil {
			return fmt.Errorf("failed to save recovery history: %w", err)
		}
		return nil
	})
	return mgr, nil
}

// newSink assembles the configured telemetry sinks behind one Async queue.
func (e *Engine) newSink(cfg *config.Config, reg *prometheus.Registry) (core.TelemetrySink, error) {
	var sinks telemetry.Multi
	tc := cfg.Telemetry

	if tc.Log {
		sinks = append(sinks, telemetry.LogSink{Logger: e.log})
	}

	if tc.SQLite != "" {
		store, err := sqlitesink.Open(tc.SQLite, e.log)
		if err != nil {
			return nil, err
		}
		e.Stats = store
		e.onClose(func(ctx context.Context) error {
			store.Drain()
			stats, err := store.Summary(ctx)
			if err != nil {
				e.log.Warn("failed to summarise telemetry", "error", err)
			}
			e.Summary = stats
			return store.Close()
		})
		sinks = append(sinks, store)
	}

	if tc.MetricsAddr != "" {
		if reg == nil {
			reg = prometheus.NewRegistry()
		}
		sinks = append(sinks, telemetry.NewPrometheusSink(reg))
		if err := e.serveMetrics(tc.MetricsAddr, reg); err != nil {
			return nil, err
		}
	}

	if len(sinks) == 0 {
		return telemetry.Nop{}, nil
	}
	async := telemetry.NewAsync(sinks, tc.Buffer, e.log)
	e.onClose(func(context.Context) error {
		if n := async.Dropped(); n > 0 {
			e.log.Warn("telemetry records dropped", "count", n)
		}
		return async.Close()
	})
	return async, nil
}

func (e *Engine) serveMetrics(addr string, reg *prometheus.Registry) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	e.metricsAddr = ln.Addr().String()

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			e.log.Error("metrics server stopped", "error", err)
		}
	}()
	e.log.Info("serving metrics", "addr", e.metricsAddr)
	e.onClose(srv.Shutdown)
	return nil
}

// MetricsAddr returns the bound metrics address, or "" when metrics are off.
func (e *Engine) MetricsAddr() string {
	return e.metricsAddr
}

func (e *Engine) onClose(fn func(context.Context) error) {
	e.closers = append(e.closers, fn)
}

// Close stops background work in reverse start order.
func (e *Engine) Close(ctx context.Context) error {
	var errs []error
	for i := len(e.closers) - 1; i >= 0; i-- {
		if err := e.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	e.closers = nil
	return errors.Join(errs...)
}

// CommandResult is one dispatched command of a flow.
type CommandResult struct {
	Command core.Command
	Outcome *dispatch.Outcome
}

// FlowResult is the outcome of one flow.
type FlowResult struct {
	Name     string
	File     string
	Commands []CommandResult
	Duration time.Duration
}

// Counts returns how many commands succeeded on the fast path, were deferred
// to the slow path, and failed.
func (r *FlowResult) Counts() (fast, deferred, failed int) {
	for _, c := range r.Commands {
		switch c.Outcome.Status {
		case dispatch.StatusFastPathSuccess:
			fast++
		case dispatch.StatusDeferredToSlowPath:
			deferred++
		default:
			failed++
		}
	}
	return fast, deferred, failed
}

// Failed reports whether any command failed outright.
func (r *FlowResult) Failed() bool {
	_, _, failed := r.Counts()
	return failed > 0
}

// FlowHooks observe the commands of a running flow. Either hook may be nil.
type FlowHooks struct {
	OnCommandStart func(i int, cmd core.Command)
	OnCommandEnd   func(i int, res CommandResult)
}

// RunFlow dispatches the flow's commands in order. With prefetch enabled the
// flow's commands are warmed up front and the next command's tree is fetched
// once the current one has completed.
func (e *Engine) RunFlow(ctx context.Context, f *flow.Flow, hooks FlowHooks) FlowResult {
	start := time.Now()
	res := FlowResult{Name: f.Name(), File: f.SourcePath}

	if e.Warmer != nil && len(f.Commands) > 0 {
		e.Warmer.WarmCommands(f.Texts())
		e.Warmer.PrefetchTree(e.appFor(f.Commands[0]))
	}

	for i, cmd := range f.Commands {
		if ctx.Err() != nil {
			break
		}
		if hooks.OnCommandStart != nil {
			hooks.OnCommandStart(i, cmd)
		}
		out := e.Dispatcher.Dispatch(ctx, cmd)
		cr := CommandResult{Command: cmd, Outcome: out}
		res.Commands = append(res.Commands, cr)

		if e.Warmer != nil && i+1 < len(f.Commands) {
			e.Warmer.PrefetchTree(e.appFor(f.Commands[i+1]))
		}
		if hooks.OnCommandEnd != nil {
			hooks.OnCommandEnd(i, cr)
		}
	}

	res.Duration = time.Since(start)
	return res
}

// defaultApp is the app for commands that name none.
func defaultApp(cfg *config.Config) string {
	return cmp.Or(cfg.Dispatch.DefaultApp, cfg.App)
}

func (e *Engine) appFor(cmd core.Command) string {
	if cmd.App != "" {
		return cmd.App
	}
	return e.Dispatcher.Config().DefaultApp
}
