package protocol

import "testing"

func id(n int64) *int64 { return &n }

func TestApplyGuard_Monotonic(t *testing.T) {
	var g ApplyGuard
	if !g.Admit(id(1)) {
		t.Fatal("expected first event admitted")
	}
	if g.Admit(id(1)) {
		t.Fatal("expected duplicate rejected")
	}
	if !g.Admit(id(5)) {
		t.Fatal("expected gap tolerated")
	}
	if g.Admit(id(3)) {
		t.Fatal("expected stale id rejected after gap")
	}
	if g.LastApplied() != 5 {
		t.Fatalf("unexpected cursor: %d", g.LastApplied())
	}
}

func TestApplyGuard_NilIDAlwaysAdmitted(t *testing.T) {
	var g ApplyGuard
	g.Admit(id(10))
	if !g.Admit(nil) {
		t.Fatal("expected nil id admitted")
	}
	if g.LastApplied() != 10 {
		t.Fatalf("nil id must not move the cursor, got %d", g.LastApplied())
	}
}

func TestApplyGuard_Reset(t *testing.T) {
	var g ApplyGuard
	g.Admit(id(42))
	g.Reset()
	if g.LastApplied() != 0 {
		t.Fatalf("expected cursor rewound, got %d", g.LastApplied())
	}
	if !g.Admit(id(1)) {
		t.Fatal("expected id 1 admitted after reset")
	}
}
