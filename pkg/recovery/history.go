package recovery

import (
	"context"
	"sync"

	"github.com/devicelab-dev/axrunner/pkg/core"
)

// EMA settings for strategy scores.
const (
	scoreAlpha   = 0.3
	neutralScore = 0.5
	// preferScore is the minimum score for a strategy to be tried first.
	preferScore = 0.5
)

// KindState is the recovery record for one error kind.
type KindState struct {
	LastSuccess Strategy             `json:"lastSuccess"`
	Attempts    int                  `json:"attempts"`
	Successes   int                  `json:"successes"`
	Scores      map[Strategy]float64 `json:"scores,omitempty"`
	// Proven lists strategies that have succeeded at least once.
	Proven map[Strategy]bool `json:"proven,omitempty"`
}

func newKindState() *KindState {
	return &KindState{
		Scores: make(map[Strategy]float64),
		Proven: make(map[Strategy]bool),
	}
}

func (s *KindState) score(st Strategy) float64 {
	if v, ok := s.Scores[st]; ok {
		return v
	}
	return neutralScore
}

func (s *KindState) observe(st Strategy, success bool) {
	obs := 0.0
	if success {
		obs = 1.0
		s.Successes++
		s.LastSuccess = st
		s.Proven[st] = true
	}
	s.Attempts++
	s.Scores[st] = scoreAlpha*obs + (1-scoreAlpha)*s.score(st)
}

func (s *KindState) clone() KindState {
	c := KindState{
		LastSuccess: s.LastSuccess,
		Attempts:    s.Attempts,
		Successes:   s.Successes,
		Scores:      make(map[Strategy]float64, len(s.Scores)),
		Proven:      make(map[Strategy]bool, len(s.Proven)),
	}
	for k, v := range s.Scores {
		c.Scores[k] = v
	}
	for k, v := range s.Proven {
		c.Proven[k] = v
	}
	return c
}

// Snapshot is a serialisable copy of the history, keyed by error kind.
type Snapshot map[core.ErrorKind]KindState

// History tracks how well each strategy works per error kind. Safe for concurrent use.
type History struct {
	mu    sync.Mutex
	kinds map[core.ErrorKind]*KindState
}

// NewHistory creates an empty history.
func NewHistory() *History {
	return &History{kinds: make(map[core.ErrorKind]*KindState)}
}

func (h *History) state(kind core.ErrorKind) *KindState {
	s, ok := h.kinds[kind]
	if !ok {
		s = newKindState()
		h.kinds[kind] = s
	}
	return s
}

// Record updates the score of strategy for kind.
func (h *History) Record(kind core.ErrorKind, st Strategy, success bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.state(kind).observe(st, success)
}

// Preferred returns the best proven strategy for kind that is not excluded,
// if its score is at least preferScore.
func (h *History) Preferred(kind core.ErrorKind, exclude map[Strategy]bool) (Strategy, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	s, ok := h.kinds[kind]
	if !ok {
		return StrategyNone, false
	}
	best, bestScore := StrategyNone, -1.0
	for st := range s.Proven {
		if exclude[st] {
			continue
		}
		sc := s.score(st)
		// Ties go to the lower strategy value so the choice is deterministic.
		if sc > bestScore || (sc == bestScore && st < best) {
			best, bestScore = st, sc
		}
	}
	if best == StrategyNone || bestScore < preferScore {
		return StrategyNone, false
	}
	return best, true
}

// Kind returns a copy of the state for kind.
func (h *History) Kind(kind core.ErrorKind) KindState {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state(kind).clone()
}

// Snapshot returns a copy of the whole history.
func (h *History) Snapshot() Snapshot {
	h.mu.Lock()
	defer h.mu.Unlock()

	snap := make(Snapshot, len(h.kinds))
	for k, s := range h.kinds {
		snap[k] = s.clone()
	}
	return snap
}

// Restore replaces the history with snap.
func (h *History) Restore(snap Snapshot) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.kinds = make(map[core.ErrorKind]*KindState, len(snap))
	for k, s := range snap {
		st := s.clone()
		h.kinds[k] = &st
	}
}

// Store persists history snapshots between runs.
type Store interface {
	Load(ctx context.Context) (Snapshot, error)
	Save(ctx context.Context, snap Snapshot) error
}

// MemoryStore keeps the last saved snapshot in memory.
type MemoryStore struct {
	mu   sync.Mutex
	snap Snapshot
}

// Load implements Store.
func (m *MemoryStore) Load(ctx context.Context) (Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return copySnapshot(m.snap), nil
}

// Save implements Store.
func (m *MemoryStore) Save(ctx context.Context, snap Snapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snap = copySnapshot(snap)
	return nil
}

func copySnapshot(snap Snapshot) Snapshot {
	out := make(Snapshot, len(snap))
	for k, s := range snap {
		out[k] = s.clone()
	}
	return out
}
