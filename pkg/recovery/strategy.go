package recovery

import (
	"fmt"

	"github.com/devicelab-dev/axrunner/pkg/core"
)

// Strategy is a way of preparing the next retry.
type Strategy int

const (
	StrategyNone Strategy = iota
	ImmediateRetry
	LinearBackoff
	ExponentialBackoff
	TimeoutReduction
	TreeRefresh
	PermissionRecheck
	AlternativeMethod
)

var strategyNames = map[Strategy]string{
	StrategyNone:       "none",
	ImmediateRetry:     "immediate_retry",
	LinearBackoff:      "linear_backoff",
	ExponentialBackoff: "exponential_backoff",
	TimeoutReduction:   "timeout_reduction",
	TreeRefresh:        "tree_refresh",
	PermissionRecheck:  "permission_recheck",
	AlternativeMethod:  "alternative_method",
}

func (s Strategy) String() string {
	if name, ok := strategyNames[s]; ok {
		return name
	}
	return fmt.Sprintf("strategy(%d)", int(s))
}

// MarshalText encodes the strategy by name.
func (s Strategy) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText decodes a strategy name.
func (s *Strategy) UnmarshalText(text []byte) error {
	for k, name := range strategyNames {
		if name == string(text) {
			*s = k
			return nil
		}
	}
	return fmt.Errorf("unknown recovery strategy %q", text)
}

// candidates lists the strategies tried for each error kind, in order.
var candidates = map[core.ErrorKind][]Strategy{
	core.KindOperationTimedOut:          {TimeoutReduction, ExponentialBackoff},
	core.KindPermissionDenied:           {PermissionRecheck},
	core.KindCapabilityUnavailable:      {PermissionRecheck},
	core.KindElementNotFound:            {TreeRefresh, AlternativeMethod},
	core.KindTreeTraversalFailed:        {TreeRefresh, LinearBackoff},
	core.KindCoordinateResolutionFailed: {TreeRefresh, ImmediateRetry},
	core.KindMatchingEngineFailed:       {AlternativeMethod, ImmediateRetry},
	core.KindTargetExtractionFailed:     {AlternativeMethod},
}

var defaultCandidates = []Strategy{ExponentialBackoff}

// Candidates returns the ordered strategies for kind.
func Candidates(kind core.ErrorKind) []Strategy {
	if c, ok := candidates[kind]; ok {
		return append([]Strategy(nil), c...)
	}
	return append([]Strategy(nil), defaultCandidates...)
}

// Outcome is the result of one attempt or of a whole recovery run.
type Outcome int

const (
	OutcomeRetry Outcome = iota
	OutcomeSuccess
	OutcomeFallbackRequired
	OutcomeExhausted
)

func (o Outcome) String() string {
	switch o {
	case OutcomeRetry:
		return "retry"
	case OutcomeSuccess:
		return "success"
	case OutcomeFallbackRequired:
		return "fallback_required"
	case OutcomeExhausted:
		return "exhausted"
	default:
		return "unknown"
	}
}

// MarshalText encodes the outcome by name.
func (o Outcome) MarshalText() ([]byte, error) {
	return []byte(o.String()), nil
}
