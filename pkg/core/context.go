package core

import "time"

// ExecutionContext is the mutable state of one command attempt.
// Recovery strategies adjust it; the dispatcher reads it before every retry.
// It is owned by a single Dispatch call and must not be shared.
type ExecutionContext struct {
	Timeout              time.Duration
	AppName              string
	RefreshTree          bool
	InvalidateCache      bool
	UseAlternativeMethod bool
	AlternativeReason    string
	PermissionsRechecked bool
}

// NewExecutionContext creates a context with the given per-attempt timeout.
func NewExecutionContext(timeout time.Duration, app string) *ExecutionContext {
	return &ExecutionContext{Timeout: timeout, AppName: app}
}

// Snapshot returns a copy for attempt history.
func (c *ExecutionContext) Snapshot() ExecutionContext {
	if c == nil {
		return ExecutionContext{}
	}
	return *c
}

// ConsumeRefresh reports and clears the one-shot refresh flags.
func (c *ExecutionContext) ConsumeRefresh() (refreshTree, invalidateCache bool) {
	refreshTree, invalidateCache = c.RefreshTree, c.InvalidateCache
	c.RefreshTree = false
	c.InvalidateCache = false
	return refreshTree, invalidateCache
}
