package core

import (
	"testing"
	"time"
)

func TestBounds_Center(t *testing.T) {
	b := Bounds{X: 100, Y: 200, Width: 80, Height: 40}
	x, y := b.Center()
	if x != 140 || y != 220 {
		t.Errorf("Center() = (%d, %d), want (140, 220)", x, y)
	}
}

func TestBounds_Contains(t *testing.T) {
	b := Bounds{X: 10, Y: 10, Width: 10, Height: 10}
	if !b.Contains(10, 10) {
		t.Error("Expected top-left corner to be inside")
	}
	if b.Contains(20, 20) {
		t.Error("Expected bottom-right edge to be outside")
	}
}

func TestBounds_IsEmpty(t *testing.T) {
	if !(Bounds{Width: 0, Height: 10}).IsEmpty() {
		t.Error("Expected zero-width bounds to be empty")
	}
	if (Bounds{Width: 1, Height: 1}).IsEmpty() {
		t.Error("Expected 1x1 bounds to be non-empty")
	}
}

func TestElementRecord_Attr(t *testing.T) {
	rec := &ElementRecord{Title: "Gmail", Value: "inbox"}

	if v, ok := rec.Attr(AttrTitle); !ok || v != "Gmail" {
		t.Errorf("Attr(title) = (%q, %v), want (Gmail, true)", v, ok)
	}
	if _, ok := rec.Attr(AttrDescription); ok {
		t.Error("Expected empty description to be absent")
	}
	if _, ok := rec.Attr("bogus"); ok {
		t.Error("Expected unknown attribute to be absent")
	}
	if rec.Label() != "Gmail" {
		t.Errorf("Label() = %q, want Gmail", rec.Label())
	}
}

func TestRole_IsTextEntry(t *testing.T) {
	if !RoleTextField.IsTextEntry() || !RoleTextArea.IsTextEntry() {
		t.Error("Expected text roles to be text entry")
	}
	if RoleButton.IsTextEntry() {
		t.Error("Expected button not to be text entry")
	}
}

func TestMatchResultBuilder(t *testing.T) {
	start := time.Unix(1000, 0)
	b := NewMatchResultBuilder(start)
	b.CheckedRole(RoleLink)
	b.CheckedRole(RoleButton)
	b.CheckedRole(RoleLink)
	b.CheckedAttribute(AttrTitle)
	b.CheckedAttribute(AttrTitle)
	b.Candidate(FuzzyCandidate{Text: "Gmail", Attribute: AttrTitle, Score: 100})

	elem := &ElementRecord{Role: RoleLink, Title: "Gmail"}
	res := b.Found(elem, 100, AttrTitle, true, start.Add(30*time.Millisecond))

	if !res.Found || res.Element != elem {
		t.Fatal("Expected found result with element")
	}
	if !res.FallbackTriggered {
		t.Error("Expected FallbackTriggered on a found result")
	}
	if len(res.RolesChecked) != 2 || res.RolesChecked[0] != RoleLink {
		t.Errorf("RolesChecked = %v, want [link button]", res.RolesChecked)
	}
	if len(res.AttributesChecked) != 1 {
		t.Errorf("AttributesChecked = %v, want [title]", res.AttributesChecked)
	}
	if res.Elapsed != 30*time.Millisecond {
		t.Errorf("Elapsed = %v, want 30ms", res.Elapsed)
	}
}

func TestMatchResult_BestConfidence(t *testing.T) {
	var nilResult *MatchResult
	if nilResult.BestConfidence() != 0 {
		t.Error("Expected 0 for nil result")
	}

	b := NewMatchResultBuilder(time.Now())
	b.Candidate(FuzzyCandidate{Score: 42})
	b.Candidate(FuzzyCandidate{Score: 71})
	res := b.NotFound(true, time.Now())
	if res.BestConfidence() != 71 {
		t.Errorf("BestConfidence() = %v, want 71", res.BestConfidence())
	}
	if !res.FallbackTriggered {
		t.Error("Expected FallbackTriggered")
	}
}

func TestExecutionContext_ConsumeRefresh(t *testing.T) {
	ec := NewExecutionContext(time.Second, "Safari")
	ec.RefreshTree = true
	ec.InvalidateCache = true

	snap := ec.Snapshot()
	refresh, invalidate := ec.ConsumeRefresh()
	if !refresh || !invalidate {
		t.Error("Expected both flags to be reported")
	}
	if ec.RefreshTree || ec.InvalidateCache {
		t.Error("Expected flags to be cleared")
	}
	if !snap.RefreshTree {
		t.Error("Snapshot should not be affected by later changes")
	}
}
