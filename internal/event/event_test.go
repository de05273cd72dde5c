package event

import (
	"context"
	"testing"
)

func TestNew(t *testing.T) {
	e := New(TypeAttackDetected, SeverityHigh, "203.0.113.7")
	if e.ID == "" {
		t.Error("ID should be set")
	}
	if e.Timestamp.IsZero() {
		t.Error("Timestamp should be set")
	}
	if e.Type != TypeAttackDetected || e.Severity != SeverityHigh || e.IP != "203.0.113.7" {
		t.Errorf("event = %+v", e)
	}
	if New(TypeAttackDetected, SeverityHigh, "").ID == e.ID {
		t.Error("ids must be unique")
	}
}

func TestWith_DoesNotAlias(t *testing.T) {
	base := New(TypeAuthFailure, SeverityMedium, "").With("reason", "expired")
	a := base.With("path", "/a")
	b := base.With("path", "/b").WithUser("u1")

	if a.Details["path"] != "/a" || b.Details["path"] != "/b" {
		t.Errorf("details aliased: a=%v b=%v", a.Details, b.Details)
	}
	if _, ok := base.Details["path"]; ok {
		t.Error("base must not be mutated")
	}
	if b.UserID != "u1" || a.UserID != "" {
		t.Error("WithUser should only affect the copy")
	}
}

func TestSeverityRank(t *testing.T) {
	if !SeverityCritical.AtLeast(SeverityHigh) || !SeverityHigh.AtLeast(SeverityHigh) {
		t.Error("AtLeast ordering broken")
	}
	if SeverityLow.AtLeast(SeverityMedium) {
		t.Error("low should not be at least medium")
	}
	if Severity("unknown").Rank() != 0 {
		t.Error("unknown severity should rank low")
	}
}

func TestRecorderFunc(t *testing.T) {
	var got []Event
	r := RecorderFunc(func(_ context.Context, e Event) { got = append(got, e) })
	r.Record(context.Background(), New(TypeIPBlocked, SeverityHigh, "1.2.3.4"))
	if len(got) != 1 {
		t.Fatalf("recorded %d events, want 1", len(got))
	}
	OrNop(nil).Record(context.Background(), got[0])
}

func TestRing(t *testing.T) {
	r := NewRing[int](3)
	if r.Len() != 0 || len(r.Snapshot()) != 0 {
		t.Fatal("new ring should be empty")
	}
	r.Push(1)
	r.Push(2)
	if s := r.Snapshot(); len(s) != 2 || s[0] != 1 || s[1] != 2 {
		t.Errorf("snapshot = %v", s)
	}
	r.Push(3)
	r.Push(4)
	r.Push(5)
	s := r.Snapshot()
	if len(s) != 3 || s[0] != 3 || s[1] != 4 || s[2] != 5 {
		t.Errorf("snapshot after wrap = %v, want [3 4 5]", s)
	}
	if r.Len() != 3 {
		t.Errorf("Len = %d, want 3", r.Len())
	}
	odd := r.Filter(func(v int) bool { return v%2 == 1 })
	if len(odd) != 2 || odd[0] != 3 || odd[1] != 5 {
		t.Errorf("filter = %v", odd)
	}
	if NewRing[int](0).Len() != 0 {
		t.Error("zero capacity ring should still work")
	}
}
