package core

import (
	"time"
)

// ActionType is the action verb recognised in a command.
type ActionType string

// Recognised actions.
const (
	ActionClick       ActionType = "click"
	ActionPress       ActionType = "press"
	ActionTypeText    ActionType = "type"
	ActionSelect      ActionType = "select"
	ActionChoose      ActionType = "choose"
	ActionTap         ActionType = "tap"
	ActionDoubleClick ActionType = "double-click"
	ActionRightClick  ActionType = "right-click"
	ActionUnknown     ActionType = "unknown"
)

// Command is a pre-validated user command produced upstream.
type Command struct {
	ID         string  `json:"id" yaml:"id"`
	Text       string  `json:"text" yaml:"text"`
	Type       string  `json:"type,omitempty" yaml:"type"` // Inferred command type (e.g. "gui_interaction")
	Confidence float64 `json:"confidence" yaml:"confidence"`
	App        string  `json:"app,omitempty" yaml:"app"` // Target application; empty = default
}

// FuzzyCandidate is one attribute text scored against the target.
type FuzzyCandidate struct {
	Text      string  `json:"text"`
	Attribute string  `json:"attribute"`
	Score     float64 `json:"score"`
}

// MatchResult is the outcome of one element search.
// It is built once and must not be modified afterwards.
type MatchResult struct {
	Found             bool             `json:"found"`
	Element           *ElementRecord   `json:"element,omitempty"`
	Confidence        float64          `json:"confidence"`
	MatchedAttribute  string           `json:"matchedAttribute,omitempty"`
	RolesChecked      []Role           `json:"rolesChecked,omitempty"`
	AttributesChecked []string         `json:"attributesChecked,omitempty"`
	Candidates        []FuzzyCandidate `json:"candidates,omitempty"`
	FallbackTriggered bool             `json:"fallbackTriggered"`
	Elapsed           time.Duration    `json:"elapsed"`
}

// BestConfidence returns the highest candidate score seen during the search.
func (m *MatchResult) BestConfidence() float64 {
	if m == nil {
		return 0
	}
	best := m.Confidence
	for _, c := range m.Candidates {
		if c.Score > best {
			best = c.Score
		}
	}
	return best
}

// MatchResultBuilder accumulates search bookkeeping before a MatchResult is frozen.
type MatchResultBuilder struct {
	start      time.Time
	roles      []Role
	seenRoles  map[Role]bool
	attrs      []string
	seenAttrs  map[string]bool
	candidates []FuzzyCandidate
}

// NewMatchResultBuilder starts timing a search.
func NewMatchResultBuilder(start time.Time) *MatchResultBuilder {
	return &MatchResultBuilder{
		start:     start,
		seenRoles: make(map[Role]bool),
		seenAttrs: make(map[string]bool),
	}
}

// CheckedRole records a role that was examined, keeping first-seen order.
func (b *MatchResultBuilder) CheckedRole(r Role) {
	if !b.seenRoles[r] {
		b.seenRoles[r] = true
		b.roles = append(b.roles, r)
	}
}

// CheckedAttribute records an attribute that was examined, keeping first-seen order.
func (b *MatchResultBuilder) CheckedAttribute(name string) {
	if !b.seenAttrs[name] {
		b.seenAttrs[name] = true
		b.attrs = append(b.attrs, name)
	}
}

// Candidate records a scored attribute text.
func (b *MatchResultBuilder) Candidate(c FuzzyCandidate) {
	b.candidates = append(b.candidates, c)
}

// Found freezes a successful result. fallback reports whether any comparison
// in the search used exact/substring matching.
func (b *MatchResultBuilder) Found(elem *ElementRecord, confidence float64, attribute string, fallback bool, now time.Time) *MatchResult {
	return &MatchResult{
		Found:             true,
		Element:           elem,
		Confidence:        confidence,
		MatchedAttribute:  attribute,
		RolesChecked:      b.roles,
		AttributesChecked: b.attrs,
		Candidates:        b.candidates,
		FallbackTriggered: fallback,
		Elapsed:           now.Sub(b.start),
	}
}

// NotFound freezes an unsuccessful result.
func (b *MatchResultBuilder) NotFound(fallback bool, now time.Time) *MatchResult {
	return &MatchResult{
		RolesChecked:      b.roles,
		AttributesChecked: b.attrs,
		Candidates:        b.candidates,
		FallbackTriggered: fallback,
		Elapsed:           now.Sub(b.start),
	}
}

// Diagnostics is handed to the slow path when the fast path gives up.
type Diagnostics struct {
	CommandID         string           `json:"commandId"`
	Target            string           `json:"target"`
	Action            ActionType       `json:"action"`
	RolesChecked      []Role           `json:"rolesChecked,omitempty"`
	AttributesChecked []string         `json:"attributesChecked,omitempty"`
	Candidates        []FuzzyCandidate `json:"candidates,omitempty"`
	BestConfidence    float64          `json:"bestConfidence"`
	Elapsed           time.Duration    `json:"elapsed"`
	Reason            ErrorKind        `json:"reason"`
	Detail            string           `json:"detail,omitempty"`
	RecoveryAttempts  int              `json:"recoveryAttempts"`
}
