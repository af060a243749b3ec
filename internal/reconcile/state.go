package reconcile

import (
	"encoding/json"

	"drmirror/internal/protocol"
	"drmirror/internal/report"
)

type CallStatus string

const (
	CallRunning   CallStatus = "running"
	CallCompleted CallStatus = "completed"
)

type Turn struct {
	ID        string
	Role      string
	Content   string
	Completed bool
	// CallIDs is the ordered index of tool calls originating from this turn.
	CallIDs []string
}

type ToolCall struct {
	ID           string
	ToolName     string
	Arguments    json.RawMessage
	Status       CallStatus
	ResultText   string
	IsError      bool
	SourceTurnID string
}

// Card is a nested sub-agent session. It owns its own ordered turn list and
// tool-call set, mirroring the root scope one level deep.
type Card struct {
	ID           string
	Title        string
	ToolName     string
	Status       CallStatus
	Stream       string
	Summary      string
	SourceTurnID string
	scope        *scope
}

// scope holds the keyed turn/call stores for the root conversation or for a
// single card. Upserts only; nothing is removed short of a session reset.
type scope struct {
	turnOrder []string
	turns     map[string]*Turn
	calls     map[string]*ToolCall
}

func newScope() *scope {
	return &scope{
		turns: map[string]*Turn{},
		calls: map[string]*ToolCall{},
	}
}

func (s *scope) turn(id string) (*Turn, bool) {
	t, ok := s.turns[id]
	return t, ok
}

func (s *scope) upsertTurn(id, role, content string) *Turn {
	if t, ok := s.turns[id]; ok {
		if role != "" {
			t.Role = role
		}
		if content != "" {
			t.Content = content
		}
		return t
	}
	t := &Turn{ID: id, Role: role, Content: content}
	s.turns[id] = t
	s.turnOrder = append(s.turnOrder, id)
	return t
}

func (s *scope) call(id string) (*ToolCall, bool) {
	c, ok := s.calls[id]
	return c, ok
}

func (s *scope) putCall(c *ToolCall) {
	s.calls[c.ID] = c
}

func (t *Turn) indexCall(callID string) {
	for _, id := range t.CallIDs {
		if id == callID {
			return
		}
	}
	t.CallIDs = append(t.CallIDs, callID)
}

// Snapshot is the read-only view handed to renderers. All slices and maps are
// copies; mutating a snapshot never touches reconciler state.
type Snapshot struct {
	SessionID    string
	Phase        Phase
	LastAppliedID int64

	Turns []TurnView
	Calls map[string]ToolCallView

	Cards       map[string]CardView
	CardOrder   []string
	CardsByTurn map[string][]string
	OrphanCards []string

	Artifacts []protocol.ArtifactFile

	Todos       []protocol.TodoItem
	TodosByCall map[string][]protocol.TodoItem

	Report report.Pointer
}

type TurnView struct {
	ID        string
	Role      string
	Content   string
	Completed bool
	CallIDs   []string
}

type ToolCallView struct {
	ID           string
	ToolName     string
	Arguments    json.RawMessage
	Status       CallStatus
	ResultText   string
	IsError      bool
	SourceTurnID string
}

type CardView struct {
	ID           string
	Title        string
	ToolName     string
	Status       CallStatus
	Stream       string
	Summary      string
	SourceTurnID string
	Turns        []TurnView
	Calls        map[string]ToolCallView
}

func (s *scope) snapshotTurns() []TurnView {
	out := make([]TurnView, 0, len(s.turnOrder))
	for _, id := range s.turnOrder {
		t := s.turns[id]
		out = append(out, TurnView{
			ID:        t.ID,
			Role:      t.Role,
			Content:   t.Content,
			Completed: t.Completed,
			CallIDs:   append([]string(nil), t.CallIDs...),
		})
	}
	return out
}

func (s *scope) snapshotCalls() map[string]ToolCallView {
	out := make(map[string]ToolCallView, len(s.calls))
	for id, c := range s.calls {
		out[id] = ToolCallView{
			ID:           c.ID,
			ToolName:     c.ToolName,
			Arguments:    append(json.RawMessage(nil), c.Arguments...),
			Status:       c.Status,
			ResultText:   c.ResultText,
			IsError:      c.IsError,
			SourceTurnID: c.SourceTurnID,
		}
	}
	return out
}
