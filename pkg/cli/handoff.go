package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/devicelab-dev/axrunner/pkg/core"
	"github.com/devicelab-dev/axrunner/pkg/logger"
)

// logExecutor stands in for the OS input layer: snapshots cannot be clicked,
// so every action is logged and reported as performed.
type logExecutor struct {
	log *slog.Logger
}

// Execute implements core.ActionExecutor.
func (e *logExecutor) Execute(ctx context.Context, r core.Role, x, y int) core.ActionResult {
	if err := ctx.Err(); err != nil {
		return core.ActionResult{Err: err}
	}
	logger.OrDiscard(e.log).Info("action", "role", r, "x", x, "y", y)
	return core.ActionResult{Success: true}
}

// Handoff is one command handed to the slow path, as written to the handoff file.
type Handoff struct {
	Command     core.Command     `json:"command"`
	Diagnostics core.Diagnostics `json:"diagnostics"`
	Time        time.Time        `json:"time"`
}

// handoffWriter is the slow path of the CLI: deferred commands are appended
// to w as JSON lines for a model-based pipeline to pick up.
type handoffWriter struct {
	mu  sync.Mutex
	enc *json.Encoder
	log *slog.Logger
	n   int
}

func newHandoffWriter(w io.Writer, log *slog.Logger) *handoffWriter {
	return &handoffWriter{enc: json.NewEncoder(w), log: logger.OrDiscard(log)}
}

// Fallback implements core.SlowPath.
func (h *handoffWriter) Fallback(ctx context.Context, cmd core.Command, diag core.Diagnostics) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if err := h.enc.Encode(Handoff{Command: cmd, Diagnostics: diag, Time: time.Now()}); err != nil {
		return fmt.Errorf("failed to write handoff: %w", err)
	}
	h.n++
	h.log.Info("deferred to slow path",
		"command", cmd.ID,
		"reason", diag.Reason,
		"best_confidence", diag.BestConfidence,
	)
	return nil
}

// Count returns how many commands were handed off.
func (h *handoffWriter) Count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.n
}
