// Package recovery retries failed fast-path operations with per-error-kind strategies.
//
// Each error kind maps to an ordered list of strategies. A strategy prepares the
// next attempt (waits, shortens the timeout, requests a fresh tree, switches to
// the alternative search) and the operation is run again. Strategy scores are
// kept as an exponential moving average so that strategies which worked before
// are tried first.
package recovery

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"math/rand"
	"time"

	"github.com/devicelab-dev/axrunner/pkg/core"
	"github.com/devicelab-dev/axrunner/pkg/logger"
)

// Operation is the fast-path work being retried.
type Operation func(ctx context.Context, ec *core.ExecutionContext) error

// Attempt records one recovery iteration.
type Attempt struct {
	Strategy  Strategy              `json:"strategy"`
	Index     int                   `json:"index"`
	Timestamp time.Time             `json:"timestamp"`
	Duration  time.Duration         `json:"duration"`
	Delay     time.Duration         `json:"delay"`
	Outcome   Outcome               `json:"outcome"`
	Context   core.ExecutionContext `json:"context"`
	Err       error                 `json:"-"`
}

// Option configures a Manager.
type Option func(*Manager)

// WithProbe sets the permission probe used by PermissionRecheck.
func WithProbe(p core.CapabilityProbe) Option {
	return func(m *Manager) { m.probe = p }
}

// WithHistory shares a strategy history between managers.
func WithHistory(h *History) Option {
	return func(m *Manager) { m.history = h }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) { m.log = logger.OrDiscard(l) }
}

// WithSleep replaces the delay function. It must return early with ctx.Err() when ctx ends.
func WithSleep(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(m *Manager) { m.sleep = sleep }
}

// WithRand replaces the jitter source. It must return values in [0, 1).
func WithRand(r func() float64) Option {
	return func(m *Manager) { m.rand = r }
}

// Manager runs recovery loops. Safe for concurrent use; each call is sequential.
type Manager struct {
	cfg     Config
	probe   core.CapabilityProbe
	history *History
	log     *slog.Logger
	sleep   func(ctx context.Context, d time.Duration) error
	rand    func() float64
	now     func() time.Time
}

// New creates a manager. An invalid config is rejected.
func New(cfg Config, opts ...Option) (*Manager, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	m := &Manager{
		cfg:     cfg,
		history: NewHistory(),
		log:     logger.Discard(),
		sleep:   sleepContext,
		rand:    rand.Float64,
		now:     time.Now,
	}
	for _, o := range opts {
		o(m)
	}
	return m, nil
}

// Config returns the manager configuration.
func (m *Manager) Config() Config {
	return m.cfg
}

// History returns the strategy history.
func (m *Manager) History() *History {
	return m.history
}

// Load replaces the strategy history with the snapshot held by store.
func (m *Manager) Load(ctx context.Context, store Store) (int, error) {
	snap, err := store.Load(ctx)
	if err != nil {
		return 0, err
	}
	m.history.Restore(snap)
	return len(snap), nil
}

// Persist saves the current strategy history to store.
func (m *Manager) Persist(ctx context.Context, store Store) error {
	return store.Save(ctx, m.history.Snapshot())
}

// AttemptRecovery retries op after err, up to MaxRetries times.
//
// It returns OutcomeSuccess with a nil error as soon as op succeeds. When a
// permission recheck fails it stops with OutcomeFallbackRequired; when retries
// run out or ctx ends it returns OutcomeExhausted. In both failure cases the
// returned error is err itself.
func (m *Manager) AttemptRecovery(ctx context.Context, err error, op Operation, ec *core.ExecutionContext) (Outcome, []Attempt, error) {
	kind := core.KindOf(err)
	cands := Candidates(kind)
	used := make(map[Strategy]bool)
	var attempts []Attempt

	for n := 1; n <= m.cfg.MaxRetries; n++ {
		if ctx.Err() != nil {
			return m.exhausted(attempts, err)
		}

		st := m.selectStrategy(kind, cands, used)
		used[st] = true

		start := m.now()
		att := Attempt{Strategy: st, Index: n, Timestamp: start}

		delay, proceed := m.apply(ctx, st, n, ec)
		att.Delay = delay
		if !proceed {
			m.history.Record(kind, st, false)
			att.Outcome = OutcomeFallbackRequired
			att.Context = ec.Snapshot()
			att.Duration = m.now().Sub(start)
			attempts = append(attempts, att)
			m.log.Info("recovery requires fallback", "kind", kind, "strategy", st, "attempt", n)
			return OutcomeFallbackRequired, attempts, err
		}

		if delay > 0 {
			if sErr := m.sleep(ctx, delay); sErr != nil {
				att.Outcome = OutcomeExhausted
				att.Err = sErr
				att.Context = ec.Snapshot()
				att.Duration = m.now().Sub(start)
				attempts = append(attempts, att)
				return OutcomeExhausted, attempts, err
			}
		}

		opErr := runOperation(ctx, op, ec)
		att.Context = ec.Snapshot()
		att.Duration = m.now().Sub(start)

		if opErr == nil {
			m.history.Record(kind, st, true)
			att.Outcome = OutcomeSuccess
			attempts = append(attempts, att)
			m.log.Debug("recovery succeeded", "kind", kind, "strategy", st, "attempt", n)
			return OutcomeSuccess, attempts, nil
		}

		m.history.Record(kind, st, false)
		att.Outcome = OutcomeRetry
		att.Err = opErr
		attempts = append(attempts, att)
		m.log.Debug("recovery attempt failed", "kind", kind, "strategy", st, "attempt", n, "error", opErr)
	}

	return m.exhausted(attempts, err)
}

func (m *Manager) exhausted(attempts []Attempt, err error) (Outcome, []Attempt, error) {
	if len(attempts) > 0 && attempts[len(attempts)-1].Outcome == OutcomeRetry {
		attempts[len(attempts)-1].Outcome = OutcomeExhausted
	}
	m.log.Debug("recovery exhausted", "kind", core.KindOf(err), "attempts", len(attempts))
	return OutcomeExhausted, attempts, err
}

// selectStrategy prefers a proven strategy, then the next unused candidate,
// then ExponentialBackoff.
func (m *Manager) selectStrategy(kind core.ErrorKind, cands []Strategy, used map[Strategy]bool) Strategy {
	if st, ok := m.history.Preferred(kind, used); ok {
		return st
	}
	for _, st := range cands {
		if !used[st] {
			return st
		}
	}
	return ExponentialBackoff
}

// apply performs the strategy side effect and returns the delay before the
// retry. proceed is false when the retry must not happen.
func (m *Manager) apply(ctx context.Context, st Strategy, n int, ec *core.ExecutionContext) (delay time.Duration, proceed bool) {
	switch st {
	case ImmediateRetry:
		return 0, true
	case LinearBackoff:
		return m.LinearDelay(n), true
	case ExponentialBackoff:
		return m.ExponentialDelay(n), true
	case TimeoutReduction:
		ec.Timeout = m.ReducedTimeout(ec.Timeout)
		return 0, true
	case TreeRefresh:
		ec.RefreshTree = true
		ec.InvalidateCache = true
		return 0, true
	case PermissionRecheck:
		if m.probe == nil || !m.probe.HasAccessibilityPermission(ctx) {
			return 0, false
		}
		ec.PermissionsRechecked = true
		return 0, true
	case AlternativeMethod:
		ec.UseAlternativeMethod = true
		ec.AlternativeReason = fmt.Sprintf("recovery attempt %d", n)
		return 0, true
	}
	return 0, true
}

// LinearDelay is BaseDelay * n.
func (m *Manager) LinearDelay(n int) time.Duration {
	return m.cfg.BaseDelay * time.Duration(n)
}

// ExponentialDelay is min(MaxDelay, BaseDelay * ExponentialBase^(n-1)) with jitter.
func (m *Manager) ExponentialDelay(n int) time.Duration {
	if n < 1 {
		n = 1
	}
	d := float64(m.cfg.BaseDelay) * math.Pow(m.cfg.ExponentialBase, float64(n-1))
	d = math.Min(d, float64(m.cfg.MaxDelay))
	j := m.cfg.JitterFactor
	d *= 1 - j + 2*j*m.rand()
	return time.Duration(d)
}

// ReducedTimeout shrinks timeout by TimeoutReductionFactor, never below MinTimeout.
func (m *Manager) ReducedTimeout(timeout time.Duration) time.Duration {
	reduced := time.Duration(float64(timeout) * m.cfg.TimeoutReductionFactor)
	if reduced < m.cfg.MinTimeout {
		return m.cfg.MinTimeout
	}
	return reduced
}

func runOperation(ctx context.Context, op Operation, ec *core.ExecutionContext) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("operation panicked: %v", r)
		}
	}()
	return op(ctx, ec)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
