package mock

import (
	"context"
	"errors"
	"testing"

	"github.com/devicelab-dev/axrunner/pkg/core"
)

func TestExecutor_FailTimes(t *testing.T) {
	e := &Executor{FailTimes: 2, Transient: true}
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		res := e.Execute(ctx, core.RoleButton, 1, 2)
		if res.Success || !res.Transient || res.Err == nil {
			t.Errorf("call %d: expected transient failure, got %+v", i+1, res)
		}
	}
	if res := e.Execute(ctx, core.RoleButton, 1, 2); !res.Success {
		t.Errorf("Expected third call to succeed, got %+v", res)
	}
	if len(e.Calls()) != 3 {
		t.Errorf("Expected 3 recorded calls, got %d", len(e.Calls()))
	}
}

func TestResolver_AppsAndDefault(t *testing.T) {
	mail := &core.AppRoot{App: core.AppInfo{Name: "Mail"}}
	def := &core.AppRoot{App: core.AppInfo{Name: "Finder"}}
	r := &Resolver{Root: def, Apps: map[string]*core.AppRoot{"Mail": mail}}

	got, err := r.ApplicationRoot(context.Background(), "Mail")
	if err != nil || got != mail {
		t.Errorf("Expected Mail root, got %v, %v", got, err)
	}
	got, err = r.ApplicationRoot(context.Background(), "")
	if err != nil || got != def {
		t.Errorf("Expected default root, got %v, %v", got, err)
	}
	if calls := r.Calls(); len(calls) != 2 || calls[0] != "Mail" {
		t.Errorf("Unexpected calls %v", calls)
	}
}

func TestResolver_NoRoot(t *testing.T) {
	r := &Resolver{}
	_, err := r.ApplicationRoot(context.Background(), "Ghost")
	if core.KindOf(err) != core.KindTreeTraversalFailed {
		t.Errorf("Expected tree traversal error, got %v", err)
	}
}

func TestElement_FailureInjection(t *testing.T) {
	boom := errors.New("boom")
	e := &Element{NativeRole: "AXButton", RoleErr: boom}
	if _, err := e.Role(); !errors.Is(err, boom) {
		t.Errorf("Expected injected role error, got %v", err)
	}

	p := &Element{PanicOn: "frame"}
	defer func() {
		if recover() == nil {
			t.Error("Expected Frame to panic")
		}
	}()
	p.Frame()
}

func TestElement_Children(t *testing.T) {
	child := NewElement("AXButton", "OK", core.Bounds{Width: 10, Height: 10})
	parent := NewElement("AXWindow", "", core.Bounds{}, child)
	kids, err := parent.Children()
	if err != nil || len(kids) != 1 {
		t.Fatalf("Children() = %v, %v", kids, err)
	}
	if title, _ := kids[0].Attribute(core.AttrTitle); title != "OK" {
		t.Errorf("Expected child title OK, got %q", title)
	}
}
