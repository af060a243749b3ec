package main

import (
	"fmt"
	"io"

	"drmirror/internal/reconcile"
	"drmirror/internal/session"
)

// printer renders the incremental difference between snapshots to the
// terminal and reports which log entries are new so the caller can persist
// them.
type printer struct {
	w io.Writer

	lastStatus      session.Status
	genericTurns    int
	rootTurns       int
	printedCalls    map[string]reconcile.CallStatus
	printedCards    map[string]reconcile.CallStatus
	lastReportToken int64
	seenLogTotal    int
}

func newPrinter(w io.Writer) *printer {
	return &printer{
		w:            w,
		printedCalls: map[string]reconcile.CallStatus{},
		printedCards: map[string]reconcile.CallStatus{},
	}
}

func (p *printer) flush(view session.View, snap reconcile.Snapshot) []session.LogEntry {
	if view.Status != p.lastStatus {
		fmt.Fprintf(p.w, "-- status: %s\n", view.Status)
		p.lastStatus = view.Status
	}

	for _, t := range view.Turns[min(p.genericTurns, len(view.Turns)):] {
		fmt.Fprintf(p.w, "[%s] %s\n", t.Role, t.Content)
	}
	p.genericTurns = len(view.Turns)

	for _, t := range snap.Turns[min(p.rootTurns, len(snap.Turns)):] {
		fmt.Fprintf(p.w, "[%s] %s\n", t.Role, t.Content)
	}
	p.rootTurns = len(snap.Turns)

	for id, call := range snap.Calls {
		if p.printedCalls[id] == call.Status {
			continue
		}
		p.printedCalls[id] = call.Status
		fmt.Fprintf(p.w, "-- tool %s (%s): %s\n", call.ToolName, id, call.Status)
	}

	for _, id := range snap.CardOrder {
		card := snap.Cards[id]
		if p.printedCards[id] == card.Status {
			continue
		}
		p.printedCards[id] = card.Status
		switch card.Status {
		case reconcile.CallCompleted:
			fmt.Fprintf(p.w, "-- subagent %q finished: %s\n", card.Title, card.Summary)
		default:
			fmt.Fprintf(p.w, "-- subagent %q started\n", card.Title)
		}
	}

	if snap.Report.Path != "" && snap.Report.ReloadToken != p.lastReportToken {
		p.lastReportToken = snap.Report.ReloadToken
		fmt.Fprintf(p.w, "-- final report: %s\n", snap.Report.Path)
	}

	// The log list is bounded, so its length stops growing once it rotates;
	// the cumulative counter keeps the accounting correct past that point.
	newCount := view.LogsTotal - p.seenLogTotal
	if newCount > len(view.Logs) {
		// More entries arrived than the bound retains; persist what is left.
		newCount = len(view.Logs)
	}
	if newCount < 0 {
		newCount = 0
	}
	p.seenLogTotal = view.LogsTotal
	return view.Logs[len(view.Logs)-newCount:]
}
