package walker

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/devicelab-dev/axrunner/pkg/core"
	"github.com/devicelab-dev/axrunner/pkg/driver/mock"
	"github.com/devicelab-dev/axrunner/pkg/logger"
)

func box(x, y int) core.Bounds {
	return core.Bounds{X: x, Y: y, Width: 100, Height: 20}
}

// sampleTree is window > [toolbar > [Compose button, Inbox link], Gmail link].
func sampleTree() *core.AppRoot {
	compose := mock.NewElement("AXButton", "Compose", box(10, 10))
	inbox := mock.NewElement("AXLink", "Inbox", box(10, 40))
	toolbar := mock.NewElement("AXToolbar", "", box(0, 0), compose, inbox)
	gmail := mock.NewElement("AXLink", "Gmail", box(100, 200))
	window := mock.NewElement("AXWindow", "Mail", box(0, 0), toolbar, gmail)
	return &core.AppRoot{App: core.AppInfo{Name: "Mail", PID: 42}, Node: window}
}

func titles(records []core.ElementRecord) []string {
	var out []string
	for _, r := range records {
		out = append(out, r.Title)
	}
	return out
}

func TestTraverse_PreOrder(t *testing.T) {
	w := New(Config{}, nil, nil)
	records := w.Traverse(context.Background(), sampleTree(), 10)

	want := []string{"Mail", "", "Compose", "Inbox", "Gmail"}
	got := titles(records)
	if len(got) != len(want) {
		t.Fatalf("Traverse() titles = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("record %d title = %q, want %q", i, got[i], want[i])
		}
	}

	gmail := records[4]
	if gmail.Role != core.RoleLink || gmail.NativeRole != "AXLink" || gmail.Depth != 1 {
		t.Errorf("Unexpected Gmail record %+v", gmail)
	}
	if gmail.App.Name != "Mail" || gmail.App.PID != 42 {
		t.Errorf("Expected app info to be attached, got %+v", gmail.App)
	}
	if !gmail.Enabled || gmail.Source == nil {
		t.Error("Expected enabled record with live source")
	}
}

func TestTraverse_NilRootAndZeroDepth(t *testing.T) {
	w := New(Config{}, nil, nil)
	ctx := context.Background()

	if got := w.Traverse(ctx, nil, 10); len(got) != 0 {
		t.Errorf("Expected empty result for nil root, got %d", len(got))
	}
	if got := w.Traverse(ctx, &core.AppRoot{}, 10); len(got) != 0 {
		t.Errorf("Expected empty result for root without node, got %d", len(got))
	}
	if got := w.Traverse(ctx, sampleTree(), 0); len(got) != 0 {
		t.Errorf("Expected empty result for depth 0, got %d", len(got))
	}
	if got := w.Traverse(ctx, sampleTree(), -1); len(got) != 0 {
		t.Errorf("Expected empty result for negative depth, got %d", len(got))
	}
}

func TestTraverse_DepthBound(t *testing.T) {
	w := New(Config{}, nil, nil)
	ctx := context.Background()

	if got := w.Traverse(ctx, sampleTree(), 1); len(got) != 1 || got[0].Title != "Mail" {
		t.Errorf("Expected only the root at depth 1, got %v", titles(got))
	}
	got := w.Traverse(ctx, sampleTree(), 2)
	if len(got) != 3 {
		t.Errorf("Expected root and its two children at depth 2, got %v", titles(got))
	}
	for _, r := range got {
		if r.Depth >= 2 {
			t.Errorf("Record %q at depth %d exceeds bound", r.Title, r.Depth)
		}
	}
}

func TestTraverse_RoleFailureSkipsSubtree(t *testing.T) {
	root := sampleTree()
	toolbar := root.Node.(*mock.Element).Kids[0]
	toolbar.RoleErr = errors.New("element vanished")

	got := titles(New(Config{}, nil, nil).Traverse(context.Background(), root, 10))
	if len(got) != 2 || got[0] != "Mail" || got[1] != "Gmail" {
		t.Errorf("Expected toolbar subtree skipped, got %v", got)
	}
}

func TestTraverse_UnreadableRootIsLogged(t *testing.T) {
	var buf bytes.Buffer
	w := New(Config{}, nil, logger.New(logger.Options{Writer: &buf, NoColor: true, Verbose: true}))

	root := sampleTree()
	root.Node.(*mock.Element).RoleErr = errors.New("element vanished")

	if got := w.Traverse(context.Background(), root, 10); len(got) != 0 {
		t.Fatalf("Expected no records, got %v", titles(got))
	}
	out := buf.String()
	for _, want := range []string{"tree traversal produced no records", "app=Mail", "element vanished"} {
		if !strings.Contains(out, want) {
			t.Errorf("Expected %q in %q", want, out)
		}
	}
}

func TestTraverse_SuccessIsQuiet(t *testing.T) {
	var buf bytes.Buffer
	w := New(Config{}, nil, logger.New(logger.Options{Writer: &buf, NoColor: true, Verbose: true}))

	if got := w.Traverse(context.Background(), sampleTree(), 10); len(got) != 5 {
		t.Fatalf("Expected 5 records, got %v", titles(got))
	}
	if buf.Len() != 0 {
		t.Errorf("Expected no log output, got %q", buf.String())
	}
}

func TestTraverse_FramePanicSkipsSubtree(t *testing.T) {
	root := sampleTree()
	root.Node.(*mock.Element).Kids[0].PanicOn = "frame"

	got := titles(New(Config{}, nil, nil).Traverse(context.Background(), root, 10))
	if len(got) != 2 {
		t.Errorf("Expected panicking subtree skipped, got %v", got)
	}
}

func TestTraverse_AttributeFailureIsAbsent(t *testing.T) {
	root := sampleTree()
	gmail := root.Node.(*mock.Element).Kids[1]
	gmail.AttrErr = errors.New("attribute unsupported")

	records := New(Config{}, nil, nil).Traverse(context.Background(), root, 10)
	if len(records) != 5 {
		t.Fatalf("Expected node kept, got %d records", len(records))
	}
	if r := records[4]; r.Title != "" || r.NativeRole != "AXLink" {
		t.Errorf("Expected kept node with absent title, got %+v", r)
	}
}

func TestTraverse_ChildrenFailureKeepsNode(t *testing.T) {
	root := sampleTree()
	root.Node.(*mock.Element).Kids[0].ChildrenErr = errors.New("children unavailable")

	got := titles(New(Config{}, nil, nil).Traverse(context.Background(), root, 10))
	if len(got) != 3 || got[1] != "" || got[2] != "Gmail" {
		t.Errorf("Expected toolbar kept without children, got %v", got)
	}
}

func TestTraverse_ChildrenPanicKeepsNode(t *testing.T) {
	root := sampleTree()
	root.Node.(*mock.Element).Kids[0].PanicOn = "children"

	got := New(Config{}, nil, nil).Traverse(context.Background(), root, 10)
	if len(got) != 3 {
		t.Errorf("Expected toolbar kept without children, got %v", titles(got))
	}
}

func TestTraverse_Timeout(t *testing.T) {
	root := sampleTree()
	root.Node.(*mock.Element).ChildrenDelay = 200 * time.Millisecond

	w := New(Config{Timeout: 20 * time.Millisecond}, nil, nil)
	start := time.Now()
	got := w.Traverse(context.Background(), root, 10)
	if len(got) != 0 {
		t.Errorf("Expected empty result on timeout, got %d records", len(got))
	}
	if elapsed := time.Since(start); elapsed > 150*time.Millisecond {
		t.Errorf("Expected traversal to return at the timeout, took %v", elapsed)
	}
}

func TestTraverse_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if got := New(Config{}, nil, nil).Traverse(ctx, sampleTree(), 10); len(got) != 0 {
		t.Errorf("Expected empty result for cancelled context, got %d", len(got))
	}
}

func TestTraverse_DisabledElement(t *testing.T) {
	root := sampleTree()
	root.Node.(*mock.Element).Kids[1].Disabled = true

	records := New(Config{}, nil, nil).Traverse(context.Background(), root, 10)
	if records[4].Enabled {
		t.Error("Expected disabled element recorded as not enabled")
	}
}
