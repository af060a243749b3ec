// Package reconcile applies the dr.* domain event stream onto the
// conversation tree, exactly once and in order, regardless of whether an
// event arrived via history replay or the live socket.
package reconcile

import (
	"context"
	"io"
	"log/slog"
	"sort"
	"strconv"
	"sync"

	"drmirror/internal/protocol"
	"drmirror/internal/report"
)

type Phase string

const (
	// PhaseReplay buffers live frames while the one-shot history loads.
	PhaseReplay Phase = "replay"
	// PhaseLive applies frames as they arrive. The transition is one-way.
	PhaseLive Phase = "live"
)

// HistoryFunc fetches the ordered event history for a session, pre-sorted by
// event id.
type HistoryFunc func(ctx context.Context, sessionID string) ([]protocol.Frame, error)

type Reconciler struct {
	mu sync.Mutex

	sessionID string
	phase     Phase
	guard     protocol.ApplyGuard
	queue     []protocol.Frame

	root        *scope
	cards       map[string]*Card
	cardOrder   []string
	cardsByTurn map[string][]string
	orphanCards []string

	artifacts   []protocol.ArtifactFile
	todos       []protocol.TodoItem
	todosByCall map[string][]protocol.TodoItem

	reportTracker report.Tracker

	fetchHistory HistoryFunc
	// onWorkerExit, when set, receives the terminal status carried by a
	// dr.worker.exited frame so the session layer can fold it in.
	onWorkerExit func(status string)

	logger *slog.Logger
}

func New(sessionID string, fetchHistory HistoryFunc, logger *slog.Logger) *Reconciler {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	r := &Reconciler{
		fetchHistory: fetchHistory,
		logger:       logger,
	}
	r.resetLocked(sessionID)
	return r
}

func (r *Reconciler) OnWorkerExit(fn func(status string)) {
	r.mu.Lock()
	r.onWorkerExit = fn
	r.mu.Unlock()
}

// Reset switches the reconciler to a new session: all state is dropped
// atomically and the phase machine rewinds to replay.
func (r *Reconciler) Reset(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.resetLocked(sessionID)
}

func (r *Reconciler) resetLocked(sessionID string) {
	r.sessionID = sessionID
	r.phase = PhaseReplay
	r.guard.Reset()
	r.queue = nil
	r.root = newScope()
	r.cards = map[string]*Card{}
	r.cardOrder = nil
	r.cardsByTurn = map[string][]string{}
	r.orphanCards = nil
	r.artifacts = nil
	r.todos = nil
	r.todosByCall = map[string][]protocol.TodoItem{}
	r.reportTracker.Reset()
}

func (r *Reconciler) SessionID() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sessionID
}

// HandleFrame is the prefix handler registered with the session manager under
// "dr.". While history replays, live frames are buffered; once live they
// apply immediately.
func (r *Reconciler) HandleFrame(frame protocol.Frame) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.phase == PhaseReplay {
		r.queue = append(r.queue, frame)
		return
	}
	r.applyLocked(frame)
}

// LoadHistory fetches the replay feed once, applies it in array order, flips
// to live, then drains the buffered live frames: only frames carrying an
// event id survive, applied in ascending id order. The apply guard naturally
// drops anything history already covered. A failed fetch still transitions to
// live so the socket channel can proceed with a partial view.
func (r *Reconciler) LoadHistory(ctx context.Context) error {
	r.mu.Lock()
	sessionID := r.sessionID
	fetch := r.fetchHistory
	r.mu.Unlock()

	var events []protocol.Frame
	var fetchErr error
	if fetch != nil {
		events, fetchErr = fetch(ctx, sessionID)
		if fetchErr != nil {
			r.logger.Warn("history fetch failed", "session_id", sessionID, "err", fetchErr)
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sessionID != sessionID || r.phase != PhaseReplay {
		// The session switched while the fetch was in flight; this result
		// is stale and must not touch the new session's state.
		return nil
	}
	for _, ev := range events {
		r.applyLocked(ev)
	}
	r.phase = PhaseLive

	pending := r.queue
	r.queue = nil
	ordered := pending[:0]
	for _, ev := range pending {
		if ev.EventID != nil {
			ordered = append(ordered, ev)
		}
	}
	sort.SliceStable(ordered, func(i, j int) bool {
		return *ordered[i].EventID < *ordered[j].EventID
	})
	for _, ev := range ordered {
		r.applyLocked(ev)
	}
	return fetchErr
}

func (r *Reconciler) Phase() Phase {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.phase
}

// ApplyEvent applies one frame through the ordering guard, for callers that
// bypass the phase machine (history entries already in hand).
func (r *Reconciler) ApplyEvent(frame protocol.Frame) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.applyLocked(frame)
}

func (r *Reconciler) applyLocked(frame protocol.Frame) {
	if !r.guard.Admit(frame.EventID) {
		return
	}
	switch frame.Type {
	case protocol.TypeChatMessage, protocol.TypeSubagentMessage:
		r.applyChatMessage(frame)
	case protocol.TypeChatMessageDelta, protocol.TypeSubagentMessageDelta:
		r.applyChatDelta(frame)
	case protocol.TypeChatMessageCompleted:
		r.applyChatCompleted(frame)
	case protocol.TypeToolCall, protocol.TypeSubagentToolCall:
		r.applyToolCall(frame)
	case protocol.TypeToolResult, protocol.TypeSubagentToolResult:
		r.applyToolResult(frame)
	case protocol.TypeCardStart:
		r.applyCardStart(frame)
	case protocol.TypeCardCompleted:
		r.applyCardCompleted(frame)
	case protocol.TypeArtifactUpdated:
		r.applyArtifactUpdated(frame)
	case protocol.TypeTodoState:
		r.applyTodoState(frame)
	case protocol.TypeWorkerError:
		r.applyWorkerError(frame)
	case protocol.TypeWorkerExited:
		r.applyWorkerExited(frame)
	default:
		r.logger.Debug("unknown domain frame", "type", frame.Type)
	}
}

// scopeFor resolves the scope a payload addresses: the root conversation, or
// the card named by card_id. An unknown card is created implicitly as an
// orphan so partial histories never drop nested traffic.
func (r *Reconciler) scopeFor(cardID string) *scope {
	if cardID == "" {
		return r.root
	}
	card := r.ensureCard(cardID)
	return card.scope
}

func (r *Reconciler) ensureCard(cardID string) *Card {
	if card, ok := r.cards[cardID]; ok {
		return card
	}
	card := &Card{ID: cardID, Status: CallRunning, scope: newScope()}
	r.cards[cardID] = card
	r.cardOrder = append(r.cardOrder, cardID)
	r.orphanCards = append(r.orphanCards, cardID)
	return card
}

func (r *Reconciler) applyChatMessage(frame protocol.Frame) {
	var p protocol.ChatMessagePayload
	if err := frame.DecodePayload(&p); err != nil || p.MessageID == "" {
		return
	}
	r.scopeFor(p.CardID).upsertTurn(p.MessageID, p.Role, p.Content)
}

func (r *Reconciler) applyChatDelta(frame protocol.Frame) {
	var p protocol.ChatDeltaPayload
	if err := frame.DecodePayload(&p); err != nil || p.MessageID == "" {
		return
	}
	sc := r.scopeFor(p.CardID)
	t, ok := sc.turn(p.MessageID)
	if !ok {
		content := p.Full
		if content == "" {
			content = p.Delta
		}
		sc.upsertTurn(p.MessageID, "assistant", content)
		r.trackCardStream(p.CardID, content)
		return
	}
	if p.Full != "" {
		t.Content = p.Full
	} else {
		t.Content += p.Delta
	}
	r.trackCardStream(p.CardID, t.Content)
}

func (r *Reconciler) trackCardStream(cardID, content string) {
	if cardID == "" {
		return
	}
	if card, ok := r.cards[cardID]; ok {
		card.Stream = content
	}
}

func (r *Reconciler) applyChatCompleted(frame protocol.Frame) {
	var p protocol.ChatMessagePayload
	if err := frame.DecodePayload(&p); err != nil || p.MessageID == "" {
		return
	}
	t, ok := r.root.turn(p.MessageID)
	if !ok {
		return
	}
	if p.Content != "" {
		t.Content = p.Content
	}
	t.Completed = true
}

func (r *Reconciler) applyToolCall(frame protocol.Frame) {
	var p protocol.ToolCallPayload
	if err := frame.DecodePayload(&p); err != nil || p.CallID == "" {
		return
	}
	sc := r.scopeFor(p.CardID)
	var name string
	var args []byte
	if p.Tool != nil {
		name = p.Tool.Name
		args = p.Tool.Arguments
	}
	call, ok := sc.call(p.CallID)
	if !ok {
		call = &ToolCall{ID: p.CallID, Status: CallRunning}
		sc.putCall(call)
	}
	if name != "" {
		call.ToolName = name
	}
	if len(args) > 0 {
		call.Arguments = args
	}
	if p.SourceMessageID != "" {
		call.SourceTurnID = p.SourceMessageID
		t := sc.upsertTurn(p.SourceMessageID, "", "")
		t.indexCall(p.CallID)
	}
	r.reportTracker.ObserveCall(call.ToolName, call.Arguments, call.ResultText)
}

func (r *Reconciler) applyToolResult(frame protocol.Frame) {
	var p protocol.ToolResultPayload
	if err := frame.DecodePayload(&p); err != nil || p.CallID == "" {
		return
	}
	sc := r.scopeFor(p.CardID)
	call, ok := sc.call(p.CallID)
	if !ok {
		// Result before call is a tolerated race: materialize the call
		// directly from the result.
		call = &ToolCall{ID: p.CallID}
		sc.putCall(call)
	}
	if p.ToolName != "" {
		call.ToolName = p.ToolName
	}
	if p.Tool != nil {
		if call.ToolName == "" {
			call.ToolName = p.Tool.Name
		}
		if len(call.Arguments) == 0 {
			call.Arguments = p.Tool.Arguments
		}
	}
	call.ResultText = p.ResultText
	call.IsError = p.IsError
	call.Status = CallCompleted
	r.reportTracker.ObserveCall(call.ToolName, call.Arguments, call.ResultText)
}

func (r *Reconciler) applyCardStart(frame protocol.Frame) {
	var p protocol.CardStartPayload
	if err := frame.DecodePayload(&p); err != nil || p.CardID == "" {
		return
	}
	card, existed := r.cards[p.CardID]
	if !existed {
		card = &Card{ID: p.CardID, scope: newScope()}
		r.cards[p.CardID] = card
		r.cardOrder = append(r.cardOrder, p.CardID)
	}
	card.Status = CallRunning
	if p.Title != "" {
		card.Title = p.Title
	}
	if p.ToolName != "" {
		card.ToolName = p.ToolName
	}
	if p.SourceMessageID != "" {
		card.SourceTurnID = p.SourceMessageID
		r.dropOrphan(p.CardID)
		r.indexCardByTurn(p.SourceMessageID, p.CardID)
	} else if !existed {
		r.orphanCards = append(r.orphanCards, p.CardID)
	}
}

func (r *Reconciler) indexCardByTurn(turnID, cardID string) {
	for _, id := range r.cardsByTurn[turnID] {
		if id == cardID {
			return
		}
	}
	r.cardsByTurn[turnID] = append(r.cardsByTurn[turnID], cardID)
}

func (r *Reconciler) dropOrphan(cardID string) {
	for i, id := range r.orphanCards {
		if id == cardID {
			r.orphanCards = append(r.orphanCards[:i], r.orphanCards[i+1:]...)
			return
		}
	}
}

func (r *Reconciler) applyCardCompleted(frame protocol.Frame) {
	var p protocol.CardCompletedPayload
	if err := frame.DecodePayload(&p); err != nil || p.CardID == "" {
		return
	}
	card, ok := r.cards[p.CardID]
	if !ok {
		return
	}
	card.Status = CallCompleted
	if p.Summary != "" {
		card.Summary = p.Summary
	}
}

func (r *Reconciler) applyArtifactUpdated(frame protocol.Frame) {
	var p protocol.ArtifactUpdatedPayload
	if err := frame.DecodePayload(&p); err != nil {
		return
	}
	// Each listing is a total replacement, not a diff.
	r.artifacts = append([]protocol.ArtifactFile(nil), p.Files...)
	r.reportTracker.ObserveListing(r.artifacts)
}

func (r *Reconciler) applyTodoState(frame protocol.Frame) {
	var p protocol.TodoStatePayload
	if err := frame.DecodePayload(&p); err != nil {
		return
	}
	r.todos = append([]protocol.TodoItem(nil), p.Todos...)
	if p.CallID != "" {
		r.todosByCall[p.CallID] = append([]protocol.TodoItem(nil), p.Todos...)
	}
}

func (r *Reconciler) applyWorkerError(frame protocol.Frame) {
	var p protocol.WorkerErrorPayload
	if err := frame.DecodePayload(&p); err != nil || p.Error == "" {
		return
	}
	id := "worker-error-" + strconv.Itoa(len(r.root.turnOrder))
	t := r.root.upsertTurn(id, "system", p.Error)
	t.Completed = true
}

func (r *Reconciler) applyWorkerExited(frame protocol.Frame) {
	var p protocol.WorkerExitedPayload
	if err := frame.DecodePayload(&p); err != nil {
		return
	}
	if r.onWorkerExit != nil {
		status := p.Status
		if status == "" {
			status = "completed"
		}
		r.onWorkerExit(status)
	}
}

// Snapshot returns a deep copy of the reconciled tree.
func (r *Reconciler) Snapshot() Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()

	snap := Snapshot{
		SessionID:     r.sessionID,
		Phase:         r.phase,
		LastAppliedID: r.guard.LastApplied(),
		Turns:         r.root.snapshotTurns(),
		Calls:         r.root.snapshotCalls(),
		Cards:         make(map[string]CardView, len(r.cards)),
		CardOrder:     append([]string(nil), r.cardOrder...),
		CardsByTurn:   make(map[string][]string, len(r.cardsByTurn)),
		OrphanCards:   append([]string(nil), r.orphanCards...),
		Artifacts:     append([]protocol.ArtifactFile(nil), r.artifacts...),
		Todos:         append([]protocol.TodoItem(nil), r.todos...),
		TodosByCall:   make(map[string][]protocol.TodoItem, len(r.todosByCall)),
		Report:        r.reportTracker.Pointer(),
	}
	for id, card := range r.cards {
		snap.Cards[id] = CardView{
			ID:           card.ID,
			Title:        card.Title,
			ToolName:     card.ToolName,
			Status:       card.Status,
			Stream:       card.Stream,
			Summary:      card.Summary,
			SourceTurnID: card.SourceTurnID,
			Turns:        card.scope.snapshotTurns(),
			Calls:        card.scope.snapshotCalls(),
		}
	}
	for turnID, ids := range r.cardsByTurn {
		snap.CardsByTurn[turnID] = append([]string(nil), ids...)
	}
	for callID, todos := range r.todosByCall {
		snap.TodosByCall[callID] = append([]protocol.TodoItem(nil), todos...)
	}
	return snap
}
