package recovery

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/devicelab-dev/axrunner/pkg/core"
	"github.com/devicelab-dev/axrunner/pkg/driver/mock"
)

// recordingSleep captures delays without waiting.
type recordingSleep struct {
	delays []time.Duration
}

func (r *recordingSleep) sleep(ctx context.Context, d time.Duration) error {
	r.delays = append(r.delays, d)
	return ctx.Err()
}

func newTestManager(t *testing.T, cfg Config, opts ...Option) (*Manager, *recordingSleep) {
	t.Helper()
	rs := &recordingSleep{}
	opts = append([]Option{WithSleep(rs.sleep), WithRand(func() float64 { return 0.5 })}, opts...)
	m, err := New(cfg, opts...)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return m, rs
}

func failingOp(calls *int, err error) Operation {
	return func(ctx context.Context, ec *core.ExecutionContext) error {
		*calls++
		return err
	}
}

func TestConfig_Validate(t *testing.T) {
	if err := DefaultConfig().Validate(); err != nil {
		t.Fatalf("Expected default config to be valid, got %v", err)
	}

	tests := []struct {
		name   string
		mutate func(*Config)
		field  string
	}{
		{"negative retries", func(c *Config) { c.MaxRetries = -1 }, "max_retries"},
		{"negative base", func(c *Config) { c.BaseDelay = -time.Millisecond }, "base_delay"},
		{"max below base", func(c *Config) { c.MaxDelay = c.BaseDelay / 2 }, "max_delay"},
		{"exponent one", func(c *Config) { c.ExponentialBase = 1 }, "exponential_base"},
		{"jitter above one", func(c *Config) { c.JitterFactor = 1.5 }, "jitter_factor"},
		{"negative jitter", func(c *Config) { c.JitterFactor = -0.1 }, "jitter_factor"},
		{"reduction above one", func(c *Config) { c.TimeoutReductionFactor = 2 }, "timeout_reduction_factor"},
		{"negative min timeout", func(c *Config) { c.MinTimeout = -1 }, "min_timeout"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.field) {
				t.Errorf("Validate() = %v, want error mentioning %s", err, tt.field)
			}
			if _, err := New(cfg); err == nil {
				t.Error("Expected New to reject invalid config")
			}
		})
	}
}

func TestCandidates(t *testing.T) {
	tests := []struct {
		kind core.ErrorKind
		want []Strategy
	}{
		{core.KindOperationTimedOut, []Strategy{TimeoutReduction, ExponentialBackoff}},
		{core.KindPermissionDenied, []Strategy{PermissionRecheck}},
		{core.KindElementNotFound, []Strategy{TreeRefresh, AlternativeMethod}},
		{core.KindUnknown, []Strategy{ExponentialBackoff}},
		{core.KindActionFailed, []Strategy{ExponentialBackoff}},
	}
	for _, tt := range tests {
		got := Candidates(tt.kind)
		if len(got) != len(tt.want) {
			t.Errorf("Candidates(%s) = %v, want %v", tt.kind, got, tt.want)
			continue
		}
		for i := range got {
			if got[i] != tt.want[i] {
				t.Errorf("Candidates(%s)[%d] = %s, want %s", tt.kind, i, got[i], tt.want[i])
			}
		}
	}

	// Callers must not be able to mutate the table.
	c := Candidates(core.KindElementNotFound)
	c[0] = ImmediateRetry
	if Candidates(core.KindElementNotFound)[0] != TreeRefresh {
		t.Error("Expected candidate table to be unaffected by callers")
	}
}

func TestAttemptRecovery_SuccessOnSecondAttempt(t *testing.T) {
	m, _ := newTestManager(t, DefaultConfig())
	calls := 0
	op := func(ctx context.Context, ec *core.ExecutionContext) error {
		calls++
		if calls == 1 {
			return core.ErrElementNotFound
		}
		return nil
	}
	ec := core.NewExecutionContext(time.Second, "")

	outcome, attempts, err := m.AttemptRecovery(context.Background(), core.ErrElementNotFound, op, ec)
	if outcome != OutcomeSuccess || err != nil {
		t.Fatalf("AttemptRecovery() = (%s, %v), want success", outcome, err)
	}
	if len(attempts) != 2 {
		t.Fatalf("Expected 2 attempts, got %d", len(attempts))
	}
	if attempts[0].Strategy != TreeRefresh || attempts[1].Strategy != AlternativeMethod {
		t.Errorf("Unexpected strategy order %s, %s", attempts[0].Strategy, attempts[1].Strategy)
	}
	if attempts[0].Outcome != OutcomeRetry || attempts[1].Outcome != OutcomeSuccess {
		t.Errorf("Unexpected outcomes %s, %s", attempts[0].Outcome, attempts[1].Outcome)
	}
	if attempts[0].Index != 1 || attempts[1].Index != 2 {
		t.Error("Expected 1-based attempt indexes")
	}
	if !attempts[0].Context.RefreshTree || !attempts[0].Context.InvalidateCache {
		t.Error("Expected TreeRefresh to set refresh and invalidate flags")
	}
	if !ec.UseAlternativeMethod || ec.AlternativeReason == "" {
		t.Error("Expected AlternativeMethod to mark the context")
	}
}

func TestAttemptRecovery_ExhaustionReturnsOriginalError(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxRetries = 4
	m, rs := newTestManager(t, cfg)
	calls := 0
	original := core.ErrElementNotFound.WithMessage("no Gmail link")

	outcome, attempts, err := m.AttemptRecovery(context.Background(), original, failingOp(&calls, errors.New("still failing")), core.NewExecutionContext(time.Second, ""))
	if outcome != OutcomeExhausted {
		t.Errorf("Expected exhausted, got %s", outcome)
	}
	if err != original {
		t.Errorf("Expected the original error back, got %v", err)
	}
	if calls != 4 || len(attempts) != 4 {
		t.Errorf("Expected 4 operation calls and attempts, got %d and %d", calls, len(attempts))
	}
	if attempts[3].Outcome != OutcomeExhausted {
		t.Errorf("Expected last attempt marked exhausted, got %s", attempts[3].Outcome)
	}
	// Candidates first, then exponential backoff for the rest.
	want := []Strategy{TreeRefresh, AlternativeMethod, ExponentialBackoff, ExponentialBackoff}
	for i, w := range want {
		if attempts[i].Strategy != w {
			t.Errorf("attempt %d strategy = %s, want %s", i+1, attempts[i].Strategy, w)
		}
	}
	if len(rs.delays) != 2 {
		t.Errorf("Expected two backoff sleeps, got %v", rs.delays)
	}
}

func TestAttemptRecovery_ZeroRetries(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxRetries = 0
	m, _ := newTestManager(t, cfg)
	calls := 0

	outcome, attempts, err := m.AttemptRecovery(context.Background(), core.ErrTimeout, failingOp(&calls, core.ErrTimeout), core.NewExecutionContext(time.Second, ""))
	if outcome != OutcomeExhausted || err != core.ErrTimeout || calls != 0 || len(attempts) != 0 {
		t.Errorf("Expected immediate exhaustion, got (%s, %d attempts, %v, %d calls)", outcome, len(attempts), err, calls)
	}
}

func TestAttemptRecovery_PermissionRecheckDenied(t *testing.T) {
	probe := &mock.Probe{Granted: false}
	m, _ := newTestManager(t, DefaultConfig(), WithProbe(probe))
	calls := 0

	outcome, attempts, err := m.AttemptRecovery(context.Background(), core.ErrPermissionDenied, failingOp(&calls, core.ErrPermissionDenied), core.NewExecutionContext(time.Second, ""))
	if outcome != OutcomeFallbackRequired {
		t.Errorf("Expected fallback required, got %s", outcome)
	}
	if err != core.ErrPermissionDenied {
		t.Errorf("Expected original error, got %v", err)
	}
	if calls != 0 || len(attempts) != 1 || probe.Calls() != 1 {
		t.Errorf("Expected one probe and no retries, got %d calls, %d attempts, %d probes", calls, len(attempts), probe.Calls())
	}
}

func TestAttemptRecovery_PermissionRecheckGranted(t *testing.T) {
	probe := &mock.Probe{Granted: true}
	m, _ := newTestManager(t, DefaultConfig(), WithProbe(probe))
	ec := core.NewExecutionContext(time.Second, "")
	op := func(ctx context.Context, ec *core.ExecutionContext) error { return nil }

	outcome, _, err := m.AttemptRecovery(context.Background(), core.ErrCapabilityUnavailable, op, ec)
	if outcome != OutcomeSuccess || err != nil {
		t.Errorf("Expected success after granted recheck, got (%s, %v)", outcome, err)
	}
	if !ec.PermissionsRechecked {
		t.Error("Expected context to record the recheck")
	}
}

func TestAttemptRecovery_NoProbeRequiresFallback(t *testing.T) {
	m, _ := newTestManager(t, DefaultConfig())
	calls := 0
	outcome, _, _ := m.AttemptRecovery(context.Background(), core.ErrPermissionDenied, failingOp(&calls, nil), core.NewExecutionContext(time.Second, ""))
	if outcome != OutcomeFallbackRequired {
		t.Errorf("Expected fallback without a probe, got %s", outcome)
	}
}

func TestAttemptRecovery_TimeoutReduction(t *testing.T) {
	m, _ := newTestManager(t, DefaultConfig())
	ec := core.NewExecutionContext(2*time.Second, "")
	calls := 0

	m.AttemptRecovery(context.Background(), core.ErrTimeout, failingOp(&calls, core.ErrTimeout), ec)
	if ec.Timeout != time.Second {
		t.Errorf("Expected timeout halved to 1s, got %s", ec.Timeout)
	}

	if got := m.ReducedTimeout(600 * time.Millisecond); got != 500*time.Millisecond {
		t.Errorf("ReducedTimeout(600ms) = %s, want floor 500ms", got)
	}
}

func TestAttemptRecovery_OperationPanicIsFailure(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxRetries = 1
	m, _ := newTestManager(t, cfg)
	op := func(ctx context.Context, ec *core.ExecutionContext) error { panic("boom") }

	outcome, attempts, err := m.AttemptRecovery(context.Background(), core.ErrMatchingEngine, op, core.NewExecutionContext(time.Second, ""))
	if outcome != OutcomeExhausted || err != core.ErrMatchingEngine {
		t.Errorf("Expected exhaustion with original error, got (%s, %v)", outcome, err)
	}
	if attempts[0].Err == nil {
		t.Error("Expected the panic to be recorded as the attempt error")
	}
}

func TestAttemptRecovery_ContextCancelledDuringDelay(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	m, err := New(DefaultConfig())
	if err != nil {
		t.Fatal(err)
	}
	calls := 0

	outcome, _, got := m.AttemptRecovery(ctx, core.ErrTreeTraversal, failingOp(&calls, core.ErrTreeTraversal), core.NewExecutionContext(time.Second, ""))
	if outcome != OutcomeExhausted || got != core.ErrTreeTraversal || calls != 0 {
		t.Errorf("Expected exhaustion without calls, got (%s, %v, %d calls)", outcome, got, calls)
	}
}

func TestAttemptRecovery_PrefersProvenStrategy(t *testing.T) {
	m, _ := newTestManager(t, DefaultConfig())
	m.History().Record(core.KindElementNotFound, AlternativeMethod, true)

	op := func(ctx context.Context, ec *core.ExecutionContext) error { return nil }
	_, attempts, _ := m.AttemptRecovery(context.Background(), core.ErrElementNotFound, op, core.NewExecutionContext(time.Second, ""))
	if attempts[0].Strategy != AlternativeMethod {
		t.Errorf("Expected proven strategy first, got %s", attempts[0].Strategy)
	}

	state := m.History().Kind(core.KindElementNotFound)
	if state.LastSuccess != AlternativeMethod || state.Successes != 2 {
		t.Errorf("Unexpected history state %+v", state)
	}
}

func TestAttemptRecovery_IgnoresDemotedStrategy(t *testing.T) {
	m, _ := newTestManager(t, DefaultConfig())
	h := m.History()
	h.Record(core.KindElementNotFound, AlternativeMethod, true)
	for i := 0; i < 3; i++ {
		h.Record(core.KindElementNotFound, AlternativeMethod, false)
	}

	op := func(ctx context.Context, ec *core.ExecutionContext) error { return nil }
	_, attempts, _ := m.AttemptRecovery(context.Background(), core.ErrElementNotFound, op, core.NewExecutionContext(time.Second, ""))
	if attempts[0].Strategy != TreeRefresh {
		t.Errorf("Expected low-scoring strategy to be skipped, got %s", attempts[0].Strategy)
	}
}

func TestImmediateRetryIsFast(t *testing.T) {
	m, err := New(DefaultConfig())
	if err != nil {
		t.Fatal(err)
	}
	ec := core.NewExecutionContext(time.Second, "")
	calls := 0
	op := func(ctx context.Context, ec *core.ExecutionContext) error {
		calls++
		return nil
	}

	start := time.Now()
	// Coordinate failures try TreeRefresh then ImmediateRetry; prove ImmediateRetry first.
	m.History().Record(core.KindCoordinateResolutionFailed, ImmediateRetry, true)
	_, attempts, _ := m.AttemptRecovery(context.Background(), core.ErrCoordinateResolution, op, ec)
	elapsed := time.Since(start)

	if attempts[0].Strategy != ImmediateRetry || attempts[0].Delay != 0 {
		t.Errorf("Expected undelayed immediate retry, got %+v", attempts[0])
	}
	if elapsed >= 5*time.Millisecond {
		t.Errorf("Expected immediate retry under 5ms, took %v", elapsed)
	}
}

func TestExponentialDelayBounds(t *testing.T) {
	cfg := DefaultConfig()
	cfg.BaseDelay = 100 * time.Millisecond
	cfg.MaxDelay = 2 * time.Second
	cfg.JitterFactor = 0.2

	for _, r := range []float64{0, 0.25, 0.5, 0.999} {
		m, err := New(cfg, WithRand(func() float64 { return r }))
		if err != nil {
			t.Fatal(err)
		}
		for n := 1; n <= 8; n++ {
			d := m.ExponentialDelay(n)
			lower := float64(cfg.BaseDelay) * pow(cfg.ExponentialBase, n-1) * (1 - cfg.JitterFactor)
			if lower > float64(cfg.MaxDelay)*(1-cfg.JitterFactor) {
				lower = float64(cfg.MaxDelay) * (1 - cfg.JitterFactor)
			}
			upper := float64(cfg.MaxDelay) * (1 + cfg.JitterFactor)
			if float64(d) < lower-1 || float64(d) > upper+1 {
				t.Errorf("ExponentialDelay(%d) with rand %.3f = %s, want in [%s, %s]", n, r, d, time.Duration(lower), time.Duration(upper))
			}
		}
	}
}

func pow(b float64, e int) float64 {
	out := 1.0
	for i := 0; i < e; i++ {
		out *= b
	}
	return out
}

func TestLinearDelay(t *testing.T) {
	m, _ := newTestManager(t, DefaultConfig())
	for n := 1; n <= 3; n++ {
		if got, want := m.LinearDelay(n), time.Duration(n)*50*time.Millisecond; got != want {
			t.Errorf("LinearDelay(%d) = %s, want %s", n, got, want)
		}
	}
}

func TestLinearBackoffSleeps(t *testing.T) {
	m, rs := newTestManager(t, DefaultConfig())
	calls := 0
	// Tree traversal failures go TreeRefresh then LinearBackoff.
	m.AttemptRecovery(context.Background(), core.ErrTreeTraversal, failingOp(&calls, core.ErrTreeTraversal), core.NewExecutionContext(time.Second, ""))
	if len(rs.delays) == 0 || rs.delays[0] != 100*time.Millisecond {
		t.Errorf("Expected linear delay of base*2 on attempt 2, got %v", rs.delays)
	}
}

func TestStrategy_Text(t *testing.T) {
	var s Strategy
	if err := s.UnmarshalText([]byte("tree_refresh")); err != nil || s != TreeRefresh {
		t.Errorf("UnmarshalText() = %v, %s", err, s)
	}
	if err := s.UnmarshalText([]byte("bogus")); err == nil {
		t.Error("Expected error for unknown strategy")
	}
	if ExponentialBackoff.String() != "exponential_backoff" {
		t.Errorf("Unexpected name %q", ExponentialBackoff.String())
	}
}

func TestHistory_SnapshotRoundTrip(t *testing.T) {
	h := NewHistory()
	h.Record(core.KindElementNotFound, TreeRefresh, true)
	h.Record(core.KindOperationTimedOut, TimeoutReduction, false)

	data, err := json.Marshal(h.Snapshot())
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	if !strings.Contains(string(data), "element_not_found") || !strings.Contains(string(data), "tree_refresh") {
		t.Errorf("Expected named keys in %s", data)
	}

	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	restored := NewHistory()
	restored.Restore(snap)

	if st, ok := restored.Preferred(core.KindElementNotFound, nil); !ok || st != TreeRefresh {
		t.Errorf("Expected restored preference for tree_refresh, got %s, %v", st, ok)
	}
	if got := restored.Kind(core.KindOperationTimedOut); got.Attempts != 1 || got.Successes != 0 {
		t.Errorf("Unexpected restored state %+v", got)
	}
}

func TestMemoryStore(t *testing.T) {
	ctx := context.Background()
	store := &MemoryStore{}
	empty, err := store.Load(ctx)
	if err != nil || len(empty) != 0 {
		t.Errorf("Expected empty snapshot, got %v, %v", empty, err)
	}

	h := NewHistory()
	h.Record(core.KindElementNotFound, TreeRefresh, true)
	if err := store.Save(ctx, h.Snapshot()); err != nil {
		t.Fatal(err)
	}
	h.Record(core.KindElementNotFound, TreeRefresh, true)

	loaded, _ := store.Load(ctx)
	if loaded[core.KindElementNotFound].Successes != 1 {
		t.Error("Expected saved snapshot to be isolated from later updates")
	}
}

func TestManager_PersistAndLoad(t *testing.T) {
	ctx := context.Background()
	store := &MemoryStore{}

	first, err := New(DefaultConfig())
	if err != nil {
		t.Fatal(err)
	}
	first.History().Record(core.KindElementNotFound, AlternativeMethod, true)
	if err := first.Persist(ctx, store); err != nil {
		t.Fatalf("Persist() error = %v", err)
	}

	second, err := New(DefaultConfig())
	if err != nil {
		t.Fatal(err)
	}
	n, err := second.Load(ctx, store)
	if err != nil || n != 1 {
		t.Fatalf("Load() = %d, %v", n, err)
	}
	if got := second.History().Kind(core.KindElementNotFound); got.Successes != 1 || got.LastSuccess != AlternativeMethod {
		t.Errorf("Unexpected loaded state %+v", got)
	}
}
