// Package report provides JSON-based run reporting with live updates.
//
// Layout:
//   - report.json: Main index file (small, frequently updated, mutex-protected)
//   - flows/flow-XXX.json: Per-flow detail files (one writer each, no lock needed)
//
// The index is the single source of truth for status and change tracking.
// Consumers poll report.json and only fetch changed flow details as needed.
package report

import "time"

// Version is the report schema version.
const Version = "1.0.0"

// Status represents the execution status.
type Status string

// Status values.
const (
	StatusPending  Status = "pending"
	StatusRunning  Status = "running"
	StatusPassed   Status = "passed"   // every command completed on the fast path
	StatusDeferred Status = "deferred" // at least one command was handed to the slow path
	StatusFailed   Status = "failed"
)

// IsTerminal returns true if the status is a final state.
func (s Status) IsTerminal() bool {
	return s == StatusPassed || s == StatusDeferred || s == StatusFailed
}

// ============================================================================
// INDEX (report.json)
// ============================================================================

// Index is the main report file that binds everything together.
type Index struct {
	Version     string      `json:"version"`
	UpdateSeq   uint64      `json:"updateSeq"`
	Status      Status      `json:"status"`
	StartTime   time.Time   `json:"startTime"`
	EndTime     *time.Time  `json:"endTime,omitempty"`
	LastUpdated time.Time   `json:"lastUpdated"`
	App         string      `json:"app,omitempty"`
	Snapshot    string      `json:"snapshot,omitempty"`
	Runner      RunnerInfo  `json:"runner"`
	Summary     Summary     `json:"summary"`
	Flows       []FlowEntry `json:"flows"`
}

// RunnerInfo identifies the runner build.
type RunnerInfo struct {
	Version string `json:"version"`
}

// Summary contains aggregated flow counts.
type Summary struct {
	Total    int `json:"total"`
	Passed   int `json:"passed"`
	Deferred int `json:"deferred"`
	Failed   int `json:"failed"`
	Running  int `json:"running"`
	Pending  int `json:"pending"`
}

// FlowEntry is the index entry for a flow (minimal info).
type FlowEntry struct {
	Index       int            `json:"index"`
	ID          string         `json:"id"`
	Name        string         `json:"name"`
	SourceFile  string         `json:"sourceFile"`
	DataFile    string         `json:"dataFile"` // Path to flow detail JSON
	Status      Status         `json:"status"`
	UpdateSeq   uint64         `json:"updateSeq"`
	StartTime   *time.Time     `json:"startTime,omitempty"`
	EndTime     *time.Time     `json:"endTime,omitempty"`
	Duration    *int64         `json:"duration,omitempty"` // milliseconds
	LastUpdated *time.Time     `json:"lastUpdated,omitempty"`
	Commands    CommandSummary `json:"commands"`
	Error       *string        `json:"error,omitempty"`
}

// CommandSummary contains command counts for a flow.
type CommandSummary struct {
	Total    int  `json:"total"`
	Passed   int  `json:"passed"`
	Deferred int  `json:"deferred"`
	Failed   int  `json:"failed"`
	Running  int  `json:"running"`
	Pending  int  `json:"pending"`
	Current  *int `json:"current,omitempty"` // Currently running command index
}

// ============================================================================
// FLOW DETAIL (flows/flow-XXX.json)
// ============================================================================

// FlowDetail contains full flow execution details.
type FlowDetail struct {
	ID         string     `json:"id"`
	Name       string     `json:"name"`
	SourceFile string     `json:"sourceFile"`
	Tags       []string   `json:"tags,omitempty"`
	App        string     `json:"app,omitempty"`
	StartTime  time.Time  `json:"startTime"`
	EndTime    *time.Time `json:"endTime,omitempty"`
	Duration   *int64     `json:"duration,omitempty"` // milliseconds
	Commands   []Command  `json:"commands"`
}

// Command represents a single command execution.
type Command struct {
	ID         string     `json:"id"`
	Index      int        `json:"index"`
	Text       string     `json:"text"`
	App        string     `json:"app,omitempty"`
	Status     Status     `json:"status"`
	StartTime  *time.Time `json:"startTime,omitempty"`
	EndTime    *time.Time `json:"endTime,omitempty"`
	Duration   *int64     `json:"duration,omitempty"` // milliseconds
	Action     string     `json:"action,omitempty"`
	Target     string     `json:"target,omitempty"`
	Element    *Element   `json:"element,omitempty"`
	Recovery   []Recovery `json:"recovery,omitempty"`
	Error      *Error     `json:"error,omitempty"`
	Candidates []string   `json:"candidates,omitempty"` // best near-misses, for deferred commands
}

// Element contains information about the matched element.
type Element struct {
	Found      bool    `json:"found"`
	Role       string  `json:"role,omitempty"`
	NativeRole string  `json:"nativeRole,omitempty"`
	Label      string  `json:"label,omitempty"`
	Attribute  string  `json:"attribute,omitempty"`
	Confidence float64 `json:"confidence"`
	Bounds     *Bounds `json:"bounds,omitempty"`
}

// Bounds represents element bounds.
type Bounds struct {
	X      int `json:"x"`
	Y      int `json:"y"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Recovery is one recovery attempt.
type Recovery struct {
	Strategy string `json:"strategy"`
	Outcome  string `json:"outcome"`
	Duration int64  `json:"duration"` // milliseconds
}

// Error contains error details.
type Error struct {
	Type       string `json:"type"` // error kind, e.g. element_not_found
	Message    string `json:"message"`
	Suggestion string `json:"suggestion,omitempty"`
}

// ============================================================================
// UPDATE TYPES
// ============================================================================

// FlowUpdate contains the fields to update in index for a flow.
type FlowUpdate struct {
	Status    Status
	StartTime *time.Time
	EndTime   *time.Time
	Duration  *int64
	Commands  CommandSummary
	Error     *string
}
