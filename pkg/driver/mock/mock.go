// Package mock provides in-memory collaborators for running the engine without
// an accessibility backend.
package mock

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/devicelab-dev/axrunner/pkg/core"
)

// Element is a scripted core.Node. The zero value is an enabled node with no role.
type Element struct {
	NativeRole  string
	Title       string
	Description string
	Value       string
	Bounds      core.Bounds
	Disabled    bool
	IsEditable  bool
	Kids        []*Element

	// Failure injection
	RoleErr     error
	FrameErr    error
	AttrErr     error
	ChildrenErr error
	EditableErr error
	// PanicOn names an accessor ("role", "frame", "attribute", "children", "editable") that panics.
	PanicOn string
	// ChildrenDelay is slept before Children returns.
	ChildrenDelay time.Duration
}

// NewElement creates an enabled element.
func NewElement(nativeRole, title string, bounds core.Bounds, kids ...*Element) *Element {
	return &Element{NativeRole: nativeRole, Title: title, Bounds: bounds, Kids: kids}
}

func (e *Element) maybePanic(accessor string) {
	if e.PanicOn == accessor {
		panic(fmt.Sprintf("mock: %s panicked", accessor))
	}
}

// Role returns the native role.
func (e *Element) Role() (string, error) {
	e.maybePanic("role")
	if e.RoleErr != nil {
		return "", e.RoleErr
	}
	return e.NativeRole, nil
}

// Attribute returns a text attribute.
func (e *Element) Attribute(name string) (string, error) {
	e.maybePanic("attribute")
	if e.AttrErr != nil {
		return "", e.AttrErr
	}
	switch name {
	case core.AttrTitle:
		return e.Title, nil
	case core.AttrDescription:
		return e.Description, nil
	case core.AttrValue:
		return e.Value, nil
	}
	return "", nil
}

// Frame returns the bounds.
func (e *Element) Frame() (core.Bounds, error) {
	e.maybePanic("frame")
	if e.FrameErr != nil {
		return core.Bounds{}, e.FrameErr
	}
	return e.Bounds, nil
}

// Enabled reports !Disabled.
func (e *Element) Enabled() (bool, error) {
	return !e.Disabled, nil
}

// Editable reports IsEditable.
func (e *Element) Editable() (bool, error) {
	e.maybePanic("editable")
	if e.EditableErr != nil {
		return false, e.EditableErr
	}
	return e.IsEditable, nil
}

// Children returns Kids as nodes.
func (e *Element) Children() ([]core.Node, error) {
	e.maybePanic("children")
	if e.ChildrenDelay > 0 {
		time.Sleep(e.ChildrenDelay)
	}
	if e.ChildrenErr != nil {
		return nil, e.ChildrenErr
	}
	nodes := make([]core.Node, len(e.Kids))
	for i, k := range e.Kids {
		nodes[i] = k
	}
	return nodes, nil
}

// Resolver serves fixed application roots.
type Resolver struct {
	// Root is returned for any app not found in Apps.
	Root *core.AppRoot
	Apps map[string]*core.AppRoot
	Err  error

	mu    sync.Mutex
	calls []string
}

// ApplicationRoot implements core.RootResolver.
func (r *Resolver) ApplicationRoot(ctx context.Context, app string) (*core.AppRoot, error) {
	r.mu.Lock()
	r.calls = append(r.calls, app)
	r.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if r.Err != nil {
		return nil, r.Err
	}
	if root, ok := r.Apps[app]; ok {
		return root, nil
	}
	if r.Root == nil {
		return nil, core.ErrTreeTraversal.WithMessage(fmt.Sprintf("no application %q", app))
	}
	return r.Root, nil
}

// Calls returns the requested app names in call order.
func (r *Resolver) Calls() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.calls...)
}

// ActionCall records one Execute call.
type ActionCall struct {
	Role core.Role
	X, Y int
}

// Executor records actions. The first FailTimes calls fail.
type Executor struct {
	FailTimes int
	Transient bool
	Err       error

	mu    sync.Mutex
	calls []ActionCall
}

// Execute implements core.ActionExecutor.
func (e *Executor) Execute(ctx context.Context, r core.Role, x, y int) core.ActionResult {
	e.mu.Lock()
	e.calls = append(e.calls, ActionCall{Role: r, X: x, Y: y})
	n := len(e.calls)
	e.mu.Unlock()

	if n <= e.FailTimes {
		err := e.Err
		if err == nil {
			err = errors.New("mock action failure")
		}
		return core.ActionResult{Transient: e.Transient, Err: err}
	}
	return core.ActionResult{Success: true}
}

// Calls returns the recorded actions.
func (e *Executor) Calls() []ActionCall {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]ActionCall(nil), e.calls...)
}

// SlowPathCall records one Fallback call.
type SlowPathCall struct {
	Command     core.Command
	Diagnostics core.Diagnostics
}

// SlowPath records fallbacks and returns Err.
type SlowPath struct {
	Err error

	mu    sync.Mutex
	calls []SlowPathCall
}

// Fallback implements core.SlowPath.
func (s *SlowPath) Fallback(ctx context.Context, cmd core.Command, diag core.Diagnostics) error {
	s.mu.Lock()
	s.calls = append(s.calls, SlowPathCall{Command: cmd, Diagnostics: diag})
	s.mu.Unlock()
	return s.Err
}

// Calls returns the recorded fallbacks.
func (s *SlowPath) Calls() []SlowPathCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]SlowPathCall(nil), s.calls...)
}

// Probe reports a fixed permission state.
type Probe struct {
	Granted bool

	mu    sync.Mutex
	calls int
}

// HasAccessibilityPermission implements core.CapabilityProbe.
func (p *Probe) HasAccessibilityPermission(ctx context.Context) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	return p.Granted
}

// Calls returns the number of probes.
func (p *Probe) Calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

// Sink collects telemetry records.
type Sink struct {
	mu      sync.Mutex
	records []core.TelemetryRecord
}

// Record implements core.TelemetrySink.
func (s *Sink) Record(rec core.TelemetryRecord) {
	s.mu.Lock()
	s.records = append(s.records, rec)
	s.mu.Unlock()
}

// Records returns the collected records.
func (s *Sink) Records() []core.TelemetryRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]core.TelemetryRecord(nil), s.records...)
}

// Operations returns the operation names in record order.
func (s *Sink) Operations() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ops := make([]string, len(s.records))
	for i, r := range s.records {
		ops[i] = r.Operation
	}
	return ops
}
