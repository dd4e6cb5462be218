package report

import (
	"path/filepath"
	"sync"
	"time"
)

// progressDebounce delays non-terminal index writes.
const progressDebounce = 100 * time.Millisecond

// IndexWriter provides thread-safe updates to the report index.
type IndexWriter struct {
	mu    sync.Mutex
	path  string
	index *Index
	err   error // first write error

	// Debouncing for progress updates
	pending map[string]*FlowUpdate
	timer   *time.Timer
	closed  bool
}

// NewIndexWriter creates a new IndexWriter.
func NewIndexWriter(outputDir string, index *Index) *IndexWriter {
	return &IndexWriter{
		path:    filepath.Join(outputDir, "report.json"),
		index:   index,
		pending: make(map[string]*FlowUpdate),
	}
}

// Start marks the run as started.
func (w *IndexWriter) Start() {
	w.mu.Lock()
	defer w.mu.Unlock()

	now := time.Now()
	w.index.Status = StatusRunning
	w.index.StartTime = now

	w.flushLocked()
}

// UpdateFlow updates a flow entry in the index.
// Terminal states flush immediately; progress updates are debounced.
func (w *IndexWriter) UpdateFlow(flowID string, update *FlowUpdate) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.pending[flowID] = update

	if update.Status.IsTerminal() {
		w.flushLocked()
		return
	}

	if w.timer == nil && !w.closed {
		w.timer = time.AfterFunc(progressDebounce, w.flush)
	}
}

// End marks the run as complete.
func (w *IndexWriter) End() {
	w.mu.Lock()
	defer w.mu.Unlock()

	now := time.Now()
	w.index.EndTime = &now
	w.applyPendingLocked()
	w.index.Status = w.computeRunStatus()

	w.flushLocked()
}

// Close flushes pending updates and returns the first write error.
func (w *IndexWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.closed = true
	w.flushLocked()
	return w.err
}

// GetIndex returns the current index (for reading).
func (w *IndexWriter) GetIndex() *Index {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.index
}

func (w *IndexWriter) flush() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.flushLocked()
}

func (w *IndexWriter) flushLocked() {
	w.applyPendingLocked()

	w.index.UpdateSeq++
	w.index.LastUpdated = time.Now()
	w.index.Summary = w.computeSummary()

	if w.timer != nil {
		w.timer.Stop()
		w.timer = nil
	}

	if err := atomicWriteJSON(w.path, w.index); err != nil && w.err == nil {
		w.err = err
	}
}

func (w *IndexWriter) applyPendingLocked() {
	for flowID, update := range w.pending {
		w.applyUpdate(flowID, update)
	}
	clear(w.pending)
}

// applyUpdate applies a FlowUpdate to the index.
func (w *IndexWriter) applyUpdate(flowID string, update *FlowUpdate) {
	for i := range w.index.Flows {
		if w.index.Flows[i].ID != flowID {
			continue
		}
		f := &w.index.Flows[i]
		f.Status = update.Status
		if update.StartTime != nil {
			f.StartTime = update.StartTime
		}
		if update.EndTime != nil {
			f.EndTime = update.EndTime
		}
		if update.Duration != nil {
			f.Duration = update.Duration
		}
		f.Commands = update.Commands
		if update.Error != nil {
			f.Error = update.Error
		}
		f.UpdateSeq++
		now := time.Now()
		f.LastUpdated = &now
		return
	}
}

// computeSummary calculates summary from flow statuses.
func (w *IndexWriter) computeSummary() Summary {
	var s Summary
	for _, f := range w.index.Flows {
		s.Total++
		switch f.Status {
		case StatusPassed:
			s.Passed++
		case StatusDeferred:
			s.Deferred++
		case StatusFailed:
			s.Failed++
		case StatusRunning:
			s.Running++
		case StatusPending:
			s.Pending++
		}
	}
	return s
}

// computeRunStatus determines overall run status from flows. A run with
// deferred flows but no failures is deferred.
func (w *IndexWriter) computeRunStatus() Status {
	status := StatusPassed
	for _, f := range w.index.Flows {
		switch {
		case !f.Status.IsTerminal():
			return StatusRunning
		case f.Status == StatusFailed:
			status = StatusFailed
		case f.Status == StatusDeferred && status == StatusPassed:
			status = StatusDeferred
		}
	}
	return status
}
