package report

import (
	"path/filepath"
	"time"

	"github.com/devicelab-dev/axrunner/pkg/core"
	"github.com/devicelab-dev/axrunner/pkg/dispatch"
)

// maxCandidates caps the near-misses kept per deferred command.
const maxCandidates = 3

// FlowWriter writes updates for a single flow.
// Each flow has its own FlowWriter - no locking needed.
type FlowWriter struct {
	flow  *FlowDetail
	path  string
	index *IndexWriter
	err   error
}

// NewFlowWriter creates a new FlowWriter for a flow.
func NewFlowWriter(flowDetail *FlowDetail, outputDir string, index *IndexWriter) *FlowWriter {
	return &FlowWriter{
		flow:  flowDetail,
		path:  filepath.Join(outputDir, "flows", flowDetail.ID+".json"),
		index: index,
	}
}

// Start marks the flow as started.
func (w *FlowWriter) Start() {
	now := time.Now()
	w.flow.StartTime = now

	w.flush()
	w.updateIndex(StatusRunning, &now, nil, nil, nil)
}

// CommandStart marks a command as started.
func (w *FlowWriter) CommandStart(cmdIndex int) {
	if cmdIndex < 0 || cmdIndex >= len(w.flow.Commands) {
		return
	}

	now := time.Now()
	cmd := &w.flow.Commands[cmdIndex]
	cmd.Status = StatusRunning
	cmd.StartTime = &now

	w.flush()
	w.updateIndexProgress()
}

// CommandEnd records the dispatch outcome of a command.
func (w *FlowWriter) CommandEnd(cmdIndex int, out *dispatch.Outcome) {
	if cmdIndex < 0 || cmdIndex >= len(w.flow.Commands) || out == nil {
		return
	}

	now := time.Now()
	cmd := &w.flow.Commands[cmdIndex]
	cmd.EndTime = &now
	duration := out.Duration.Milliseconds()
	cmd.Duration = &duration
	if cmd.ID == "" {
		cmd.ID = out.CommandID
	}

	cmd.Status = statusOf(out.Status)
	cmd.Action = string(out.Extraction.Action)
	cmd.Target = out.Extraction.Target
	cmd.Element = elementOf(out.Match)
	cmd.Recovery = recoveryOf(out)
	if out.Status != dispatch.StatusFastPathSuccess {
		cmd.Error = &Error{
			Type:       out.Reason.String(),
			Message:    out.Detail,
			Suggestion: out.Hint,
		}
		cmd.Candidates = candidatesOf(out)
	}

	w.flush()
	w.updateIndexProgress()
}

// End marks the flow as complete and returns its final status.
func (w *FlowWriter) End() Status {
	now := time.Now()
	w.flow.EndTime = &now

	var duration int64
	if !w.flow.StartTime.IsZero() {
		duration = now.Sub(w.flow.StartTime).Milliseconds()
		w.flow.Duration = &duration
	}

	w.flush()

	summary := w.commandSummary()
	status := StatusPassed
	switch {
	case summary.Failed > 0:
		status = StatusFailed
	case summary.Deferred > 0:
		status = StatusDeferred
	}

	var errMsg *string
	if status == StatusFailed {
		// Find first error
		for _, cmd := range w.flow.Commands {
			if cmd.Status == StatusFailed && cmd.Error != nil {
				errMsg = &cmd.Error.Message
				break
			}
		}
	}

	w.updateIndex(status, nil, &now, &duration, errMsg)
	return status
}

// GetFlowDetail returns the current flow detail (for reading).
func (w *FlowWriter) GetFlowDetail() *FlowDetail {
	return w.flow
}

// Err returns the first write error.
func (w *FlowWriter) Err() error {
	return w.err
}

func (w *FlowWriter) flush() {
	if err := atomicWriteJSON(w.path, w.flow); err != nil && w.err == nil {
		w.err = err
	}
}

func (w *FlowWriter) updateIndex(status Status, startTime, endTime *time.Time, duration *int64, errMsg *string) {
	w.index.UpdateFlow(w.flow.ID, &FlowUpdate{
		Status:    status,
		StartTime: startTime,
		EndTime:   endTime,
		Duration:  duration,
		Commands:  w.commandSummary(),
		Error:     errMsg,
	})
}

func (w *FlowWriter) updateIndexProgress() {
	w.index.UpdateFlow(w.flow.ID, &FlowUpdate{
		Status:   StatusRunning,
		Commands: w.commandSummary(),
	})
}

func (w *FlowWriter) commandSummary() CommandSummary {
	var s CommandSummary
	s.Total = len(w.flow.Commands)

	for i, cmd := range w.flow.Commands {
		switch cmd.Status {
		case StatusPassed:
			s.Passed++
		case StatusDeferred:
			s.Deferred++
		case StatusFailed:
			s.Failed++
		case StatusRunning:
			s.Running++
			idx := i
			s.Current = &idx
		case StatusPending:
			s.Pending++
		}
	}

	return s
}

func statusOf(s dispatch.Status) Status {
	switch s {
	case dispatch.StatusFastPathSuccess:
		return StatusPassed
	case dispatch.StatusDeferredToSlowPath:
		return StatusDeferred
	default:
		return StatusFailed
	}
}

func elementOf(m *core.MatchResult) *Element {
	if m == nil {
		return nil
	}
	el := &Element{Found: m.Found, Confidence: m.BestConfidence()}
	if m.Found && m.Element != nil {
		rec := m.Element
		el.Role = string(rec.Role)
		el.NativeRole = rec.NativeRole
		el.Label = rec.Label()
		el.Attribute = m.MatchedAttribute
		el.Confidence = m.Confidence
		el.Bounds = &Bounds{X: rec.Bounds.X, Y: rec.Bounds.Y, Width: rec.Bounds.Width, Height: rec.Bounds.Height}
	}
	return el
}

// candidatesOf prefers the ranked candidates handed to the slow path.
func candidatesOf(out *dispatch.Outcome) []string {
	var cands []core.FuzzyCandidate
	switch {
	case out.Diagnostics != nil:
		cands = out.Diagnostics.Candidates
	case out.Match != nil:
		cands = out.Match.Candidates
	}
	var texts []string
	for _, c := range cands {
		if len(texts) == maxCandidates {
			break
		}
		texts = append(texts, c.Text)
	}
	return texts
}

func recoveryOf(out *dispatch.Outcome) []Recovery {
	var rs []Recovery
	for _, a := range out.Attempts {
		rs = append(rs, Recovery{
			Strategy: a.Strategy.String(),
			Outcome:  a.Outcome.String(),
			Duration: a.Duration.Milliseconds(),
		})
	}
	return rs
}
