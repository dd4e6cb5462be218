// Package extract turns a command such as "Click on the Gmail link" into an
// action and the phrase to search for.
package extract

import (
	"log/slog"
	"strings"
	"time"
	"unicode"

	"github.com/devicelab-dev/axrunner/pkg/cache"
	"github.com/devicelab-dev/axrunner/pkg/core"
	"github.com/devicelab-dev/axrunner/pkg/logger"
)

var verbs = map[string]core.ActionType{
	"click":        core.ActionClick,
	"press":        core.ActionPress,
	"type":         core.ActionTypeText,
	"select":       core.ActionSelect,
	"choose":       core.ActionChoose,
	"tap":          core.ActionTap,
	"double-click": core.ActionDoubleClick,
	"right-click":  core.ActionRightClick,
}

var articles = map[string]bool{"the": true, "a": true, "an": true}

// particles complete a verb phrase ("click on", "tap at") and are only
// stripped directly after a verb.
var particles = map[string]bool{"on": true, "at": true, "in": true, "into": true}

const baseConfidence = 0.5

// Result is the outcome of one extraction.
type Result struct {
	Target       string          `json:"target"`
	Action       core.ActionType `json:"action"`
	Confidence   float64         `json:"confidence"`
	RemovedWords []string        `json:"removedWords,omitempty"`
	Cached       bool            `json:"cached"`
}

// Extractor parses commands. Safe for concurrent use.
type Extractor struct {
	cache *cache.Cache[string, Result]
	log   *slog.Logger
	now   func() time.Time
}

// New creates an extractor with its own result cache.
func New(cfg cache.Config, log *slog.Logger) *Extractor {
	return &Extractor{
		cache: cache.New[string, Result](cfg),
		log:   logger.OrDiscard(log),
		now:   time.Now,
	}
}

// Extract strips action verbs and articles from command. The first verb seen
// becomes the action. If nothing but stripped words remain, the command itself
// is the target. Empty input yields an empty target with zero confidence.
func (e *Extractor) Extract(command string) Result {
	key := strings.ToLower(strings.TrimSpace(command))
	if key == "" {
		return Result{Action: core.ActionUnknown}
	}

	if r, ok := e.cache.Get(key, e.now()); ok {
		r.Cached = true
		return r
	}

	r := parse(command)
	e.cache.Put(key, r, e.now())
	e.log.Debug("target extracted", "command", command, "target", r.Target, "action", r.Action, "confidence", r.Confidence)
	return r
}

// Warm parses and caches commands ahead of use.
func (e *Extractor) Warm(commands []string) int {
	warmed := 0
	for _, c := range commands {
		key := strings.ToLower(strings.TrimSpace(c))
		if key == "" {
			continue
		}
		if _, ok := e.cache.Get(key, e.now()); ok {
			continue
		}
		e.cache.Put(key, parse(c), e.now())
		warmed++
	}
	return warmed
}

// CacheStats returns the result cache counters.
func (e *Extractor) CacheStats() cache.Stats {
	return e.cache.Stats()
}

func parse(command string) Result {
	tokens := strings.Fields(command)
	res := Result{Action: core.ActionUnknown}

	var kept []string
	afterVerb := false
	for _, tok := range tokens {
		word := strings.ToLower(strings.TrimFunc(tok, isEdgePunct))

		if action, ok := verbs[word]; ok {
			if res.Action == core.ActionUnknown {
				res.Action = action
			}
			res.RemovedWords = append(res.RemovedWords, tok)
			afterVerb = true
			continue
		}
		if articles[word] || (afterVerb && particles[word]) {
			res.RemovedWords = append(res.RemovedWords, tok)
			continue
		}
		afterVerb = false
		kept = append(kept, tok)
	}

	if len(kept) == 0 {
		return Result{
			Target:     command,
			Action:     res.Action,
			Confidence: baseConfidence,
		}
	}

	res.Target = strings.Join(kept, " ")
	res.Confidence = baseConfidence
	if n := len(res.RemovedWords); n > 0 {
		res.Confidence = min(1.0, baseConfidence+0.1*float64(n))
	}
	return res
}

// isEdgePunct trims quotes and sentence punctuation but keeps the hyphen in
// "double-click".
func isEdgePunct(r rune) bool {
	return unicode.IsPunct(r) && r != '-'
}
