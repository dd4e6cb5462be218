package dispatch

import (
	"fmt"
	"time"

	"github.com/devicelab-dev/axrunner/pkg/core"
	"github.com/devicelab-dev/axrunner/pkg/extract"
	"github.com/devicelab-dev/axrunner/pkg/recovery"
)

// Status is the final state of one command.
type Status int

// Status values
const (
	StatusFailed Status = iota
	StatusFastPathSuccess
	StatusDeferredToSlowPath
)

var statusNames = [...]string{
	StatusFailed:             "failed",
	StatusFastPathSuccess:    "fast_path_success",
	StatusDeferredToSlowPath: "deferred_to_slow_path",
}

func (s Status) String() string {
	if s >= 0 && int(s) < len(statusNames) {
		return statusNames[s]
	}
	return fmt.Sprintf("status(%d)", int(s))
}

// MarshalText encodes the status by name.
func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Outcome reports how a command was handled. Failures carry a kind, a hint
// and a detail string rather than a raw error.
type Outcome struct {
	CommandID  string             `json:"commandId"`
	Status     Status             `json:"status"`
	Match      *core.MatchResult  `json:"match,omitempty"`
	Extraction extract.Result     `json:"extraction"`
	Reason     core.ErrorKind     `json:"reason"`
	Hint       string             `json:"hint,omitempty"`
	Detail     string             `json:"detail,omitempty"`
	Attempts   []recovery.Attempt `json:"attempts,omitempty"`
	// Diagnostics is what the slow path received, if it was invoked.
	Diagnostics *core.Diagnostics `json:"diagnostics,omitempty"`
	Duration    time.Duration     `json:"duration"`
}

// Succeeded reports whether the fast path completed the command.
func (o *Outcome) Succeeded() bool {
	return o != nil && o.Status == StatusFastPathSuccess
}
