// Package matcher decides whether element text matches a search phrase.
//
// Scores are on a 0-100 scale. A fuzzy backend produces graded scores; when it is
// missing or fails, an exact/substring comparison gives 100 or 0. Every call is
// bounded by a timeout and a timed-out comparison counts as no match.
package matcher

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/devicelab-dev/axrunner/pkg/cache"
	"github.com/devicelab-dev/axrunner/pkg/core"
	"github.com/devicelab-dev/axrunner/pkg/logger"
)

// Defaults
const (
	DefaultThreshold = 85.0
	DefaultTimeout   = 200 * time.Millisecond
)

// Config controls matching.
type Config struct {
	Threshold float64       `yaml:"threshold"`
	Timeout   time.Duration `yaml:"timeout"`
	Cache     cache.Config  `yaml:"cache"`
}

func (c Config) withDefaults() Config {
	if c.Threshold <= 0 {
		c.Threshold = DefaultThreshold
	}
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	return c
}

// Option configures a Matcher.
type Option func(*Matcher)

// WithBackend replaces the fuzzy backend. A nil backend forces exact/substring matching.
func WithBackend(b Backend) Option {
	return func(m *Matcher) { m.backend = b }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(m *Matcher) { m.log = l }
}

// WithClock sets the clock used for cache expiry.
func WithClock(now func() time.Time) Option {
	return func(m *Matcher) { m.now = now }
}

type score struct {
	found      bool
	confidence float64
	fallback   bool
	// transient is set when the backend failed; such results are not cached.
	transient bool
}

// Matcher compares text. Safe for concurrent use.
type Matcher struct {
	cfg     Config
	backend Backend
	cache   *cache.Cache[string, score]
	log     *slog.Logger
	now     func() time.Time
}

// New creates a matcher using PartialRatio unless WithBackend says otherwise.
func New(cfg Config, opts ...Option) *Matcher {
	cfg = cfg.withDefaults()
	m := &Matcher{
		cfg:     cfg,
		backend: PartialRatio{},
		cache:   cache.New[string, score](cfg.Cache),
		log:     logger.Discard(),
		now:     time.Now,
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Config returns the effective configuration.
func (m *Matcher) Config() Config {
	return m.cfg
}

// Match compares with the configured threshold and timeout.
func (m *Matcher) Match(ctx context.Context, subject, target string) (bool, float64) {
	return m.MatchWith(ctx, subject, target, m.cfg.Threshold, m.cfg.Timeout)
}

// MatchWith reports whether subject matches target at or above threshold.
// Empty inputs and timeouts yield (false, 0).
func (m *Matcher) MatchWith(ctx context.Context, subject, target string, threshold float64, timeout time.Duration) (bool, float64) {
	s := m.matchWith(ctx, subject, target, threshold, timeout)
	return s.found, s.confidence
}

func (m *Matcher) matchWith(ctx context.Context, subject, target string, threshold float64, timeout time.Duration) score {
	subject, target = Normalize(subject), Normalize(target)
	if subject == "" || target == "" {
		return score{}
	}
	if timeout <= 0 {
		timeout = m.cfg.Timeout
	}

	key := fmt.Sprintf("%s\x00%s\x00%g", subject, target, threshold)
	if s, ok := m.cache.Get(key, m.now()); ok {
		return s
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	done := make(chan score, 1)
	go func() {
		done <- m.score(ctx, subject, target, threshold)
	}()

	select {
	case s := <-done:
		if !s.transient {
			m.cache.Put(key, s, m.now())
		}
		return s
	case <-ctx.Done():
		m.log.Debug("match timed out", "subject", subject, "target", target, "timeout", timeout)
		return score{}
	}
}

// score runs the backend, falling back to exact/substring comparison when it
// is absent, errors or panics.
func (m *Matcher) score(ctx context.Context, subject, target string, threshold float64) (s score) {
	if m.backend == nil {
		return fallbackResult(subject, target, threshold, false)
	}
	defer func() {
		if r := recover(); r != nil {
			m.log.Warn("fuzzy backend panicked, using exact match", "panic", r)
			s = fallbackResult(subject, target, threshold, true)
		}
	}()

	conf, err := m.backend.Score(ctx, subject, target)
	if err != nil {
		m.log.Debug("fuzzy backend failed, using exact match", "error", err)
		return fallbackResult(subject, target, threshold, true)
	}
	conf = min(max(conf, 0), 100)
	return score{found: conf >= threshold, confidence: conf}
}

func fallbackResult(subject, target string, threshold float64, transient bool) score {
	conf := fallbackScore(subject, target)
	return score{found: conf >= threshold, confidence: conf, fallback: true, transient: transient}
}

// ElementMatch is the result of checking one element.
type ElementMatch struct {
	Found      bool
	Confidence float64
	Attribute  string
	// Checked lists the attributes examined, present or not.
	Checked    []string
	Candidates []core.FuzzyCandidate
	// Fallback is set when any comparison used exact/substring matching.
	Fallback bool
}

// BestConfidence returns the highest candidate score.
func (e ElementMatch) BestConfidence() float64 {
	best := 0.0
	for _, c := range e.Candidates {
		if c.Score > best {
			best = c.Score
		}
	}
	return best
}

// CheckElement matches target against title, description and value in that
// order using the configured threshold. The first matching attribute wins.
func (m *Matcher) CheckElement(ctx context.Context, rec *core.ElementRecord, target string) ElementMatch {
	return m.CheckElementWith(ctx, rec, target, m.cfg.Threshold)
}

// CheckElementWith is CheckElement with an explicit threshold.
func (m *Matcher) CheckElementWith(ctx context.Context, rec *core.ElementRecord, target string, threshold float64) ElementMatch {
	var res ElementMatch
	if rec == nil {
		return res
	}
	for _, attr := range core.MatchAttributes {
		res.Checked = append(res.Checked, attr)
		text, ok := rec.Attr(attr)
		if !ok {
			continue
		}
		s := m.matchWith(ctx, text, target, threshold, m.cfg.Timeout)
		res.Candidates = append(res.Candidates, core.FuzzyCandidate{Text: text, Attribute: attr, Score: s.confidence})
		res.Fallback = res.Fallback || s.fallback
		if s.found {
			res.Found = true
			res.Confidence = s.confidence
			res.Attribute = attr
			return res
		}
	}
	return res
}

// InvalidateCache drops every cached comparison.
func (m *Matcher) InvalidateCache() {
	m.cache.Clear()
}

// CacheStats returns the comparison cache counters.
func (m *Matcher) CacheStats() cache.Stats {
	return m.cache.Stats()
}
