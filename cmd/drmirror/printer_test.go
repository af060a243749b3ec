package main

import (
	"io"
	"testing"

	"drmirror/internal/reconcile"
	"drmirror/internal/session"
)

func logView(total int, messages ...string) session.View {
	logs := make([]session.LogEntry, 0, len(messages))
	for _, msg := range messages {
		logs = append(logs, session.LogEntry{Level: "info", Message: msg})
	}
	return session.View{Logs: logs, LogsTotal: total}
}

func freshMessages(entries []session.LogEntry) []string {
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.Message)
	}
	return out
}

func TestPrinterFlush_LogsAfterRotation(t *testing.T) {
	p := newPrinter(io.Discard)

	fresh := p.flush(logView(3, "l0", "l1", "l2"), reconcile.Snapshot{})
	if got := freshMessages(fresh); len(got) != 3 || got[0] != "l0" || got[2] != "l2" {
		t.Fatalf("first flush: got %v", got)
	}

	// The bounded list rotated: l0 and l1 fell off, l3 and l4 arrived. The
	// length is unchanged, so only the cumulative count identifies the new
	// entries.
	fresh = p.flush(logView(5, "l2", "l3", "l4"), reconcile.Snapshot{})
	if got := freshMessages(fresh); len(got) != 2 || got[0] != "l3" || got[1] != "l4" {
		t.Fatalf("second flush: got %v, want [l3 l4]", got)
	}

	// Steady state reports nothing.
	if got := p.flush(logView(5, "l2", "l3", "l4"), reconcile.Snapshot{}); len(got) != 0 {
		t.Fatalf("third flush: got %v, want none", freshMessages(got))
	}
}

func TestPrinterFlush_LogBurstBeyondBound(t *testing.T) {
	p := newPrinter(io.Discard)
	p.flush(logView(3, "l0", "l1", "l2"), reconcile.Snapshot{})

	// Ten entries arrived between flushes but the view retains only three;
	// everything still held must be reported, nothing more.
	fresh := p.flush(logView(13, "l10", "l11", "l12"), reconcile.Snapshot{})
	if got := freshMessages(fresh); len(got) != 3 || got[0] != "l10" || got[2] != "l12" {
		t.Fatalf("burst flush: got %v", got)
	}
}
