package core

import (
	"context"
	"time"
)

// RootResolver supplies the accessibility root of a running application.
// An empty app name means the frontmost/default application.
type RootResolver interface {
	ApplicationRoot(ctx context.Context, app string) (*AppRoot, error)
}

// ActionResult reports the outcome of one action injection.
type ActionResult struct {
	Success bool
	// Transient marks failures worth retrying (e.g. element momentarily busy).
	Transient bool
	Err       error
}

// ActionExecutor performs the physical action at screen coordinates.
type ActionExecutor interface {
	Execute(ctx context.Context, role Role, x, y int) ActionResult
}

// SlowPath is the model-based fallback pipeline, invoked only after the fast path gives up.
type SlowPath interface {
	Fallback(ctx context.Context, cmd Command, diag Diagnostics) error
}

// CapabilityProbe reports whether the process may use the accessibility API.
type CapabilityProbe interface {
	HasAccessibilityPermission(ctx context.Context) bool
}

// CacheStatus describes a cache lookup in telemetry.
type CacheStatus string

// CacheStatus values
const (
	CacheNone CacheStatus = ""
	CacheHit  CacheStatus = "hit"
	CacheMiss CacheStatus = "miss"
)

// TelemetryRecord is one per-operation report.
type TelemetryRecord struct {
	CommandID string        `json:"commandId"`
	Operation string        `json:"operation"` // extract, resolve, traverse, match, recovery, action, slow_path, dispatch
	Duration  time.Duration `json:"duration"`
	Success   bool          `json:"success"`
	Cache     CacheStatus   `json:"cache,omitempty"`
	Strategy  string        `json:"strategy,omitempty"`
	Reason    string        `json:"reason,omitempty"`
	Timestamp time.Time     `json:"timestamp"`
}

// TelemetrySink receives telemetry records.
// Implementations must not block; slow sinks are wrapped by telemetry.Async.
type TelemetrySink interface {
	Record(rec TelemetryRecord)
}
