// Package dispatch executes commands on the fast path and hands them to the
// slow path when the fast path gives up.
//
// A command is turned into a search phrase, the target application's tree is
// walked, actionable elements are matched against the phrase and the first
// match is acted on at its centre. Failures while locating the element go
// through the recovery manager; whatever recovery cannot fix is deferred to
// the slow path exactly once, together with the search diagnostics.
package dispatch

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/google/uuid"

	"github.com/devicelab-dev/axrunner/pkg/cache"
	"github.com/devicelab-dev/axrunner/pkg/core"
	"github.com/devicelab-dev/axrunner/pkg/extract"
	"github.com/devicelab-dev/axrunner/pkg/logger"
	"github.com/devicelab-dev/axrunner/pkg/matcher"
	"github.com/devicelab-dev/axrunner/pkg/recovery"
	"github.com/devicelab-dev/axrunner/pkg/role"
	"github.com/devicelab-dev/axrunner/pkg/telemetry"
	"github.com/devicelab-dev/axrunner/pkg/walker"
)

// Defaults
const (
	DefaultBudget               = 2 * time.Second
	DefaultAttemptTimeout       = time.Second
	DefaultAlternativeMaxDepth  = 20
	DefaultAlternativeThreshold = 70.0
	DefaultActionRetries        = 2
	DefaultActionRetryDelay     = 50 * time.Millisecond

	maxDiagnosticCandidates = 10
)

// Config tunes the fast path. Zero values take defaults; MaxDepth and
// Threshold default to the walker's and matcher's own settings.
type Config struct {
	Budget               time.Duration `yaml:"budget"`
	AttemptTimeout       time.Duration `yaml:"attempt_timeout"`
	MaxDepth             int           `yaml:"max_depth"`
	AlternativeMaxDepth  int           `yaml:"alternative_max_depth"`
	Threshold            float64       `yaml:"threshold"`
	AlternativeThreshold float64       `yaml:"alternative_threshold"`
	// ActionRetries is the number of retries after a transient action failure.
	// Negative disables retries.
	ActionRetries    int           `yaml:"action_retries"`
	ActionRetryDelay time.Duration `yaml:"action_retry_delay"`
	DefaultApp       string        `yaml:"default_app"`
}

// TreeSource serves prefetched trees.
type TreeSource interface {
	CachedTree(app string) ([]core.ElementRecord, bool)
	Invalidate(app string)
}

// Deps are the collaborators of a Dispatcher. Resolver and Executor are
// required; the engine components are created with defaults when nil.
type Deps struct {
	Resolver core.RootResolver
	Executor core.ActionExecutor
	SlowPath core.SlowPath
	Probe    core.CapabilityProbe
	Sink     core.TelemetrySink
	Trees    TreeSource
	Logger   *slog.Logger

	Extractor  *extract.Extractor
	Matcher    *matcher.Matcher
	Walker     *walker.Walker
	Classifier *role.Classifier
	Recovery   *recovery.Manager
}

// Dispatcher runs commands. Safe for concurrent use; each Dispatch call is
// one synchronous unit.
type Dispatcher struct {
	cfg        Config
	resolver   core.RootResolver
	executor   core.ActionExecutor
	slow       core.SlowPath
	sink       core.TelemetrySink
	trees      TreeSource
	log        *slog.Logger
	extractor  *extract.Extractor
	matcher    *matcher.Matcher
	walker     *walker.Walker
	classifier *role.Classifier
	recovery   *recovery.Manager
	now        func() time.Time
}

// New creates a dispatcher.
func New(cfg Config, deps Deps) (*Dispatcher, error) {
	if deps.Resolver == nil {
		return nil, errors.New("dispatch: root resolver is required")
	}
	if deps.Executor == nil {
		return nil, errors.New("dispatch: action executor is required")
	}

	log := logger.OrDiscard(deps.Logger)
	d := &Dispatcher{
		resolver:   deps.Resolver,
		executor:   deps.Executor,
		slow:       deps.SlowPath,
		sink:       deps.Sink,
		trees:      deps.Trees,
		log:        log,
		extractor:  deps.Extractor,
		matcher:    deps.Matcher,
		walker:     deps.Walker,
		classifier: deps.Classifier,
		recovery:   deps.Recovery,
		now:        time.Now,
	}
	if d.sink == nil {
		d.sink = telemetry.Nop{}
	}
	if d.classifier == nil {
		d.classifier = role.New()
	}
	if d.extractor == nil {
		d.extractor = extract.New(cache.DefaultConfig, log)
	}
	if d.matcher == nil {
		d.matcher = matcher.New(matcher.Config{}, matcher.WithLogger(log))
	}
	if d.walker == nil {
		d.walker = walker.New(walker.Config{}, d.classifier, log)
	}
	if d.recovery == nil {
		m, err := recovery.New(recovery.DefaultConfig(), recovery.WithProbe(deps.Probe), recovery.WithLogger(log))
		if err != nil {
			return nil, err
		}
		d.recovery = m
	}
	d.cfg = d.withDefaults(cfg)
	return d, nil
}

func (d *Dispatcher) withDefaults(c Config) Config {
	if c.Budget <= 0 {
		c.Budget = DefaultBudget
	}
	if c.AttemptTimeout <= 0 {
		c.AttemptTimeout = DefaultAttemptTimeout
	}
	if c.MaxDepth <= 0 {
		c.MaxDepth = d.walker.MaxDepth()
	}
	if c.AlternativeMaxDepth <= 0 {
		c.AlternativeMaxDepth = max(DefaultAlternativeMaxDepth, c.MaxDepth)
	}
	if c.Threshold <= 0 {
		c.Threshold = d.matcher.Config().Threshold
	}
	if c.AlternativeThreshold <= 0 {
		c.AlternativeThreshold = min(DefaultAlternativeThreshold, c.Threshold)
	}
	switch {
	case c.ActionRetries == 0:
		c.ActionRetries = DefaultActionRetries
	case c.ActionRetries < 0:
		c.ActionRetries = 0
	}
	if c.ActionRetryDelay <= 0 {
		c.ActionRetryDelay = DefaultActionRetryDelay
	}
	return c
}

// Config returns the effective configuration.
func (d *Dispatcher) Config() Config {
	return d.cfg
}

// search carries the state of one command across recovery attempts.
type search struct {
	cmd    core.Command
	target string
	action core.ActionType
	start  time.Time
	last   *core.MatchResult
	best   float64
}

func (s *search) observe(res *core.MatchResult) {
	s.last = res
	if c := res.BestConfidence(); c > s.best {
		s.best = c
	}
}

// Dispatch runs cmd. It never returns nil and never panics on collaborator
// failures; the outcome carries the failure kind instead.
func (d *Dispatcher) Dispatch(ctx context.Context, cmd core.Command) *Outcome {
	start := d.now()
	if cmd.ID == "" {
		cmd.ID = uuid.NewString()
	}
	if cmd.App == "" {
		cmd.App = d.cfg.DefaultApp
	}

	out := &Outcome{CommandID: cmd.ID}
	span := telemetry.Start(d.sink, cmd.ID, telemetry.OpDispatch)
	defer func() {
		out.Duration = d.now().Sub(start)
		if out.Succeeded() {
			span.Succeed()
		} else {
			span.Fail(out.Reason.String())
		}
		span.End()
		d.log.Info("command dispatched",
			"command", cmd.ID,
			"text", cmd.Text,
			"status", out.Status,
			"duration", out.Duration,
		)
	}()

	espan := telemetry.Start(d.sink, cmd.ID, telemetry.OpExtract)
	ext := d.extractor.Extract(cmd.Text)
	out.Extraction = ext
	if strings.TrimSpace(ext.Target) == "" {
		espan.Cache(ext.Cached).Fail(core.KindTargetExtractionFailed.String()).End()
		return d.fail(out, core.KindTargetExtractionFailed, "command has no target")
	}
	espan.Cache(ext.Cached).Succeed().End()

	s := &search{cmd: cmd, target: ext.Target, action: ext.Action, start: start}

	fast, cancel := context.WithTimeout(ctx, d.cfg.Budget)
	defer cancel()

	ec := core.NewExecutionContext(d.cfg.AttemptTimeout, cmd.App)
	match, err := d.locate(fast, s, ec)
	if err != nil {
		d.log.Debug("fast path failed, recovering", "command", cmd.ID, "error", err)
		match, err = d.retryLocate(fast, s, ec, out, err)
	}
	if err != nil {
		out.Match = s.last
		return d.deferToSlowPath(ctx, out, s, d.failureKind(fast, err), err.Error())
	}
	out.Match = match

	if err := d.act(fast, cmd, match); err != nil {
		kind := core.KindActionFailed
		if errors.Is(fast.Err(), context.DeadlineExceeded) {
			kind = core.KindOperationTimedOut
		}
		return d.deferToSlowPath(ctx, out, s, kind, err.Error())
	}

	out.Status = StatusFastPathSuccess
	return out
}

// failureKind classifies a fast-path error. Budget expiry is a timeout
// whatever the last attempt reported.
func (d *Dispatcher) failureKind(fast context.Context, err error) core.ErrorKind {
	if errors.Is(fast.Err(), context.DeadlineExceeded) {
		return core.KindOperationTimedOut
	}
	return core.KindOf(err)
}

func (d *Dispatcher) retryLocate(ctx context.Context, s *search, ec *core.ExecutionContext, out *Outcome, err error) (*core.MatchResult, error) {
	span := telemetry.Start(d.sink, s.cmd.ID, telemetry.OpRecovery)
	defer span.End()

	var match *core.MatchResult
	outcome, attempts, rerr := d.recovery.AttemptRecovery(ctx, err, func(ctx context.Context, ec *core.ExecutionContext) error {
		m, err := d.locate(ctx, s, ec)
		match = m
		return err
	}, ec)
	out.Attempts = attempts
	if n := len(attempts); n > 0 {
		span.Strategy(attempts[n-1].Strategy.String())
	}

	if outcome == recovery.OutcomeSuccess {
		span.Succeed()
		return match, nil
	}
	span.Fail(outcome.String())
	d.log.Debug("recovery gave up", "command", s.cmd.ID, "outcome", outcome, "attempts", len(attempts))
	return nil, rerr
}

// locate resolves, traverses and matches once, honouring the execution context.
func (d *Dispatcher) locate(ctx context.Context, s *search, ec *core.ExecutionContext) (*core.MatchResult, error) {
	refresh, invalidate := ec.ConsumeRefresh()
	if invalidate {
		d.matcher.InvalidateCache()
		if d.trees != nil {
			d.trees.Invalidate(ec.AppName)
		}
	}

	depth, threshold := d.cfg.MaxDepth, d.cfg.Threshold
	if ec.UseAlternativeMethod {
		depth, threshold = d.cfg.AlternativeMaxDepth, d.cfg.AlternativeThreshold
	}

	ctx, cancel := context.WithTimeout(ctx, ec.Timeout)
	defer cancel()

	records, err := d.tree(ctx, s.cmd.ID, ec.AppName, depth, refresh)
	if err != nil {
		return nil, err
	}
	return d.match(ctx, s, d.classifier.Filter(records), threshold)
}

// tree returns the flattened tree of app, from the prefetch cache when allowed.
func (d *Dispatcher) tree(ctx context.Context, id, app string, depth int, refresh bool) ([]core.ElementRecord, error) {
	if d.trees != nil && !refresh && depth == d.cfg.MaxDepth {
		if records, ok := d.trees.CachedTree(app); ok {
			telemetry.Start(d.sink, id, telemetry.OpTraverse).Cache(true).Succeed().End()
			return records, nil
		}
	}

	rspan := telemetry.Start(d.sink, id, telemetry.OpResolve)
	root, err := d.resolve(ctx, app)
	if err != nil {
		rspan.Fail(core.KindOf(err).String()).End()
		return nil, err
	}
	rspan.Succeed().End()

	tspan := telemetry.Start(d.sink, id, telemetry.OpTraverse)
	defer tspan.End()
	if d.trees != nil {
		tspan.Cache(false)
	}
	records := d.walker.Traverse(ctx, root, depth)
	if len(records) == 0 {
		var err error
		if ctx.Err() != nil {
			err = core.ErrTimeout.WithCause(ctx.Err()).WithMessage("tree traversal timed out")
		} else {
			err = core.ErrTreeTraversal.WithMessage(fmt.Sprintf("no readable elements in %q", app))
		}
		tspan.Fail(core.KindOf(err).String())
		return nil, err
	}
	tspan.Succeed()
	return records, nil
}

func (d *Dispatcher) resolve(ctx context.Context, app string) (root *core.AppRoot, err error) {
	defer func() {
		if r := recover(); r != nil {
			root, err = nil, core.ErrTreeTraversal.WithMessage(fmt.Sprintf("root resolver panicked: %v", r))
		}
	}()

	root, err = d.resolver.ApplicationRoot(ctx, app)
	switch {
	case err == nil && root == nil:
		return nil, core.ErrTreeTraversal.WithMessage(fmt.Sprintf("no root for %q", app))
	case err == nil:
		return root, nil
	case core.KindOf(err) != core.KindUnknown:
		return nil, err
	case ctx.Err() != nil:
		return nil, core.ErrTimeout.WithCause(err)
	default:
		return nil, core.ErrTreeTraversal.WithCause(err)
	}
}

// match checks candidates in traversal order. The first element matching at
// or above threshold with usable bounds wins.
func (d *Dispatcher) match(ctx context.Context, s *search, candidates []*core.ElementRecord, threshold float64) (*core.MatchResult, error) {
	span := telemetry.Start(d.sink, s.cmd.ID, telemetry.OpMatch)
	defer span.End()

	b := core.NewMatchResultBuilder(d.now())
	var fallback bool
	var unplaced *core.ElementRecord

	for _, rec := range candidates {
		if ctx.Err() != nil {
			break
		}
		b.CheckedRole(rec.Role)
		em := d.matcher.CheckElementWith(ctx, rec, s.target, threshold)
		for _, a := range em.Checked {
			b.CheckedAttribute(a)
		}
		for _, c := range em.Candidates {
			b.Candidate(c)
		}
		fallback = fallback || em.Fallback
		if !em.Found {
			continue
		}
		if rec.Bounds.IsEmpty() {
			if unplaced == nil {
				unplaced = rec
			}
			continue
		}

		res := b.Found(rec, em.Confidence, em.Attribute, fallback, d.now())
		s.observe(res)
		span.Succeed()
		d.log.Debug("element matched",
			"command", s.cmd.ID,
			"target", s.target,
			"role", rec.Role,
			"label", rec.Label(),
			"confidence", em.Confidence,
			"attribute", em.Attribute,
		)
		return res, nil
	}

	s.observe(b.NotFound(fallback, d.now()))

	var err error
	switch {
	case ctx.Err() != nil:
		err = core.ErrTimeout.WithCause(ctx.Err()).WithMessage("element search timed out")
	case unplaced != nil:
		err = core.ErrCoordinateResolution.WithMessage(fmt.Sprintf("%q matched a %s without on-screen bounds", s.target, unplaced.Role))
	default:
		err = core.ErrElementNotFound.WithMessage(fmt.Sprintf("no element matching %q among %d candidates", s.target, len(candidates)))
	}
	span.Fail(core.KindOf(err).String())
	return nil, err
}

// act performs the action at the element centre, retrying transient failures.
func (d *Dispatcher) act(ctx context.Context, cmd core.Command, match *core.MatchResult) error {
	span := telemetry.Start(d.sink, cmd.ID, telemetry.OpAction)
	defer span.End()

	elem := match.Element
	x, y := elem.Bounds.Center()
	tries := 0
	op := func() error {
		tries++
		res := d.execute(ctx, elem.Role, x, y)
		if res.Success {
			return nil
		}
		err := res.Err
		if err == nil {
			err = errors.New("executor reported failure")
		}
		if !res.Transient {
			return backoff.Permanent(err)
		}
		d.log.Debug("transient action failure", "command", cmd.ID, "attempt", tries, "error", err)
		return err
	}

	b := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(d.cfg.ActionRetryDelay), uint64(d.cfg.ActionRetries)),
		ctx,
	)
	if err := backoff.Retry(op, b); err != nil {
		span.Fail(core.KindActionFailed.String())
		return core.ErrActionFailed.WithCause(err).WithMessage(fmt.Sprintf("action failed after %d attempt(s)", tries))
	}
	span.Succeed()
	return nil
}

func (d *Dispatcher) execute(ctx context.Context, r core.Role, x, y int) (res core.ActionResult) {
	defer func() {
		if p := recover(); p != nil {
			res = core.ActionResult{Err: fmt.Errorf("action executor panicked: %v", p)}
		}
	}()
	return d.executor.Execute(ctx, r, x, y)
}

// fail ends the command without involving the slow path.
func (d *Dispatcher) fail(out *Outcome, kind core.ErrorKind, detail string) *Outcome {
	out.Status = StatusFailed
	out.Reason = kind
	out.Hint = core.RemediationHint(kind)
	out.Detail = detail
	return out
}

// deferToSlowPath hands the command to the slow path once. Without a slow
// path, or when it fails, the command fails.
func (d *Dispatcher) deferToSlowPath(ctx context.Context, out *Outcome, s *search, kind core.ErrorKind, detail string) *Outcome {
	d.fail(out, kind, detail)

	diag := core.Diagnostics{
		CommandID:        s.cmd.ID,
		Target:           s.target,
		Action:           s.action,
		BestConfidence:   s.best,
		Elapsed:          d.now().Sub(s.start),
		Reason:           kind,
		Detail:           detail,
		RecoveryAttempts: len(out.Attempts),
	}
	if s.last != nil {
		diag.RolesChecked = s.last.RolesChecked
		diag.AttributesChecked = s.last.AttributesChecked
		diag.Candidates = topCandidates(s.last.Candidates, maxDiagnosticCandidates)
	}

	if d.slow == nil {
		out.Detail = detail + "; no slow path configured"
		d.log.Warn("fast path failed and no slow path is configured", "command", s.cmd.ID, "reason", kind)
		return out
	}

	out.Diagnostics = &diag
	span := telemetry.Start(d.sink, s.cmd.ID, telemetry.OpSlowPath)
	defer span.End()

	d.log.Info("deferring to slow path", "command", s.cmd.ID, "reason", kind, "best_confidence", s.best)
	if err := d.fallback(ctx, s.cmd, diag); err != nil {
		out.Detail = fmt.Sprintf("%s; slow path: %v", detail, err)
		span.Fail(kind.String())
		return out
	}
	span.Succeed()
	out.Status = StatusDeferredToSlowPath
	return out
}

func (d *Dispatcher) fallback(ctx context.Context, cmd core.Command, diag core.Diagnostics) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("slow path panicked: %v", r)
		}
	}()
	return d.slow.Fallback(ctx, cmd, diag)
}

// topCandidates returns the n best-scoring candidates, ties in original order.
func topCandidates(cands []core.FuzzyCandidate, n int) []core.FuzzyCandidate {
	sorted := slices.Clone(cands)
	slices.SortStableFunc(sorted, func(a, b core.FuzzyCandidate) int {
		return cmp.Compare(b.Score, a.Score)
	})
	if len(sorted) > n {
		sorted = sorted[:n]
	}
	return sorted
}
