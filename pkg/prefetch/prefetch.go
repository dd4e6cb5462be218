// Package prefetch warms the dispatcher caches in the background.
//
// A Warmer owns a fixed pool of workers fed by a bounded queue. Submitting work
// never blocks: when the queue is full, or the token bucket is empty, the work
// is dropped. Workers only write into caches and are never awaited by the
// dispatcher.
package prefetch

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"

	"github.com/devicelab-dev/axrunner/pkg/cache"
	"github.com/devicelab-dev/axrunner/pkg/core"
	"github.com/devicelab-dev/axrunner/pkg/extract"
	"github.com/devicelab-dev/axrunner/pkg/logger"
	"github.com/devicelab-dev/axrunner/pkg/telemetry"
	"github.com/devicelab-dev/axrunner/pkg/walker"
)

// Defaults
const (
	DefaultWorkers = 2
	DefaultQueue   = 32
	DefaultTreeTTL = 2 * time.Second
	DefaultRate    = 5.0
	DefaultBurst   = 2
	DefaultTimeout = time.Second
)

// Config configures a Warmer.
type Config struct {
	Workers  int           `yaml:"workers"`
	Queue    int           `yaml:"queue"`
	TreeTTL  time.Duration `yaml:"tree_ttl"`
	MaxDepth int           `yaml:"max_depth"`
	Rate     float64       `yaml:"rate"` // tree prefetches per second
	Burst    int           `yaml:"burst"`
	Timeout  time.Duration `yaml:"timeout"`
}

func (c Config) withDefaults() Config {
	if c.Workers <= 0 {
		c.Workers = DefaultWorkers
	}
	if c.Queue <= 0 {
		c.Queue = DefaultQueue
	}
	if c.TreeTTL <= 0 {
		c.TreeTTL = DefaultTreeTTL
	}
	if c.MaxDepth <= 0 {
		c.MaxDepth = walker.DefaultMaxDepth
	}
	if c.Rate <= 0 {
		c.Rate = DefaultRate
	}
	if c.Burst <= 0 {
		c.Burst = DefaultBurst
	}
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	return c
}

// Option configures a Warmer.
type Option func(*Warmer)

// WithSink reports prefetch work to a telemetry sink.
func WithSink(s core.TelemetrySink) Option {
	return func(w *Warmer) { w.sink = s }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(w *Warmer) { w.log = logger.OrDiscard(l) }
}

// task is one unit of background work.
type task struct {
	name string
	run  func(ctx context.Context)
}

// Warmer prefetches accessibility trees and warms the extractor cache.
type Warmer struct {
	cfg       Config
	resolver  core.RootResolver
	walker    *walker.Walker
	extractor *extract.Extractor
	trees     *cache.Cache[string, []core.ElementRecord]
	limiter   *rate.Limiter
	group     singleflight.Group
	sink      core.TelemetrySink
	log       *slog.Logger
	now       func() time.Time

	queue  chan task
	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.RWMutex
	closed bool

	dropped atomic.Int64
}

// New starts cfg.Workers workers. extractor may be nil when command warming is unused.
func New(cfg Config, resolver core.RootResolver, w *walker.Walker, extractor *extract.Extractor, opts ...Option) *Warmer {
	cfg = cfg.withDefaults()
	ctx, cancel := context.WithCancel(context.Background())
	wm := &Warmer{
		cfg:       cfg,
		resolver:  resolver,
		walker:    w,
		extractor: extractor,
		trees: cache.New[string, []core.ElementRecord](cache.Config{
			TTL:             cfg.TreeTTL,
			MaxEntries:      64,
			CleanupInterval: cfg.TreeTTL,
		}),
		limiter: rate.NewLimiter(rate.Limit(cfg.Rate), cfg.Burst),
		log:     logger.Discard(),
		now:     time.Now,
		queue:   make(chan task, cfg.Queue),
		ctx:     ctx,
		cancel:  cancel,
	}
	for _, o := range opts {
		o(wm)
	}
	if wm.walker == nil {
		wm.walker = walker.New(walker.Config{MaxDepth: cfg.MaxDepth}, nil, wm.log)
	}

	for i := 0; i < cfg.Workers; i++ {
		wm.wg.Add(1)
		go wm.work(i)
	}
	return wm
}

func (w *Warmer) work(id int) {
	defer w.wg.Done()
	for t := range w.queue {
		w.runTask(id, t)
	}
}

func (w *Warmer) runTask(id int, t task) {
	defer func() {
		if r := recover(); r != nil {
			w.log.Warn("prefetch task panicked", "worker", id, "task", t.name, "panic", r)
		}
	}()
	t.run(w.ctx)
}

// submit queues t without blocking. It reports whether t was accepted.
func (w *Warmer) submit(t task) bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.closed {
		w.dropped.Add(1)
		return false
	}
	select {
	case w.queue <- t:
		return true
	default:
		w.dropped.Add(1)
		w.log.Debug("prefetch queue full, dropping", "task", t.name)
		return false
	}
}

// PrefetchTree schedules a background traversal of app. It reports whether the
// work was queued; throttled or dropped requests return false.
func (w *Warmer) PrefetchTree(app string) bool {
	if !w.limiter.Allow() {
		w.dropped.Add(1)
		return false
	}
	return w.submit(task{
		name: "tree:" + app,
		run: func(ctx context.Context) {
			if _, err := w.Refresh(ctx, app); err != nil {
				w.log.Debug("tree prefetch failed", "app", app, "error", err)
			}
		},
	})
}

// Refresh resolves and traverses app now and stores the tree.
// Concurrent calls for the same app share one traversal.
func (w *Warmer) Refresh(ctx context.Context, app string) ([]core.ElementRecord, error) {
	v, err, _ := w.group.Do(app, func() (any, error) {
		span := telemetry.Start(w.sink, "", telemetry.OpPrefetch)
		defer span.End()

		ctx, cancel := context.WithTimeout(ctx, w.cfg.Timeout)
		defer cancel()

		root, err := w.resolver.ApplicationRoot(ctx, app)
		if err != nil {
			span.Fail(core.KindOf(err).String())
			return nil, fmt.Errorf("failed to resolve %q: %w", app, err)
		}
		records := w.walker.Traverse(ctx, root, w.cfg.MaxDepth)
		if len(records) == 0 {
			span.Fail(core.KindTreeTraversalFailed.String())
			return nil, core.ErrTreeTraversal.WithMessage(fmt.Sprintf("empty tree for %q", app))
		}
		w.trees.Put(app, records, w.now())
		span.Succeed()
		return records, nil
	})
	if err != nil {
		return nil, err
	}
	return slices.Clone(v.([]core.ElementRecord)), nil
}

// WarmCommands schedules extraction of commands into the extractor cache.
func (w *Warmer) WarmCommands(commands []string) bool {
	if w.extractor == nil || len(commands) == 0 {
		return false
	}
	cmds := slices.Clone(commands)
	return w.submit(task{
		name: "extract",
		run: func(ctx context.Context) {
			n := w.extractor.Warm(cmds)
			w.log.Debug("warmed extractor cache", "commands", n)
		},
	})
}

// CachedTree returns a copy of the prefetched tree for app, if still fresh.
func (w *Warmer) CachedTree(app string) ([]core.ElementRecord, bool) {
	records, ok := w.trees.Get(app, w.now())
	if !ok {
		return nil, false
	}
	return slices.Clone(records), true
}

// Invalidate forgets the prefetched tree for app.
func (w *Warmer) Invalidate(app string) {
	w.trees.Delete(app)
}

// Dropped returns how many submissions were throttled or discarded.
func (w *Warmer) Dropped() int64 {
	return w.dropped.Load()
}

// Close stops accepting work, waits for queued work to finish and cancels
// anything still running after that.
func (w *Warmer) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	close(w.queue)
	w.mu.Unlock()

	w.wg.Wait()
	w.cancel()
	return nil
}
