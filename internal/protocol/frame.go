package protocol

import "encoding/json"

// Domain event namespace. Every reconciler-owned frame type starts with
// DomainPrefix; the session manager routes them by string prefix.
const DomainPrefix = "dr."

const (
	TypeChatMessage          = "dr.chat.message"
	TypeChatMessageDelta     = "dr.chat.message.delta"
	TypeChatMessageCompleted = "dr.chat.message.completed"
	TypeToolCall             = "dr.tool.call"
	TypeToolResult           = "dr.tool.result"
	TypeCardStart            = "dr.subagent.card.start"
	TypeCardCompleted        = "dr.subagent.card.completed"
	TypeSubagentMessage      = "dr.subagent.message"
	TypeSubagentMessageDelta = "dr.subagent.message.delta"
	TypeSubagentToolCall     = "dr.subagent.tool.call"
	TypeSubagentToolResult   = "dr.subagent.tool.result"
	TypeArtifactUpdated      = "dr.artifact.updated"
	TypeTodoState            = "dr.state"
	TypeWorkerError          = "dr.worker.error"
	TypeWorkerExited         = "dr.worker.exited"
)

// Generic (non-domain) frame types handled by the session manager itself.
const (
	TypeMessage  = "message"
	TypeStream   = "stream"
	TypeLog      = "log"
	TypeProgress = "progress"
	TypeStatus   = "status"
	TypeComplete = "complete"
	TypeError    = "error"
)

// Frame is the wire shape shared by the live socket and the history replay.
// Domain frames carry their fields inside Payload; older generic frames put
// them flat on the frame itself, so Raw keeps the original bytes for
// per-type decoding.
type Frame struct {
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	EventID   *int64          `json:"event_id,omitempty"`
	SessionID string          `json:"session_id,omitempty"`

	Raw json.RawMessage `json:"-"`
}

func ParseFrame(raw []byte) (Frame, error) {
	var f Frame
	if err := json.Unmarshal(raw, &f); err != nil {
		return Frame{}, err
	}
	f.Raw = append(json.RawMessage(nil), raw...)
	return f, nil
}

// DecodePayload unmarshals the domain payload into out.
func (f Frame) DecodePayload(out any) error {
	if len(f.Payload) == 0 {
		return nil
	}
	return json.Unmarshal(f.Payload, out)
}

// DecodeFlat unmarshals the whole frame into out, for generic frames whose
// fields live beside "type" rather than under "payload".
func (f Frame) DecodeFlat(out any) error {
	if len(f.Raw) == 0 {
		return nil
	}
	return json.Unmarshal(f.Raw, out)
}

// Domain payloads, field names per the backend eventizer.

type ChatMessagePayload struct {
	MessageID string `json:"message_id"`
	Role      string `json:"role"`
	Content   string `json:"content"`
	Name      string `json:"name,omitempty"`
	CardID    string `json:"card_id,omitempty"`
}

type ChatDeltaPayload struct {
	MessageID string `json:"message_id"`
	Delta     string `json:"delta"`
	Full      string `json:"full"`
	CardID    string `json:"card_id,omitempty"`
}

type ToolSpec struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

type ToolCallPayload struct {
	CallID          string    `json:"call_id"`
	SourceMessageID string    `json:"source_message_id,omitempty"`
	Tool            *ToolSpec `json:"tool,omitempty"`
	Category        string    `json:"category,omitempty"`
	CardID          string    `json:"card_id,omitempty"`
	Updated         bool      `json:"updated,omitempty"`
}

type ToolResultPayload struct {
	CallID     string    `json:"call_id"`
	ToolName   string    `json:"tool_name"`
	ResultText string    `json:"result_text"`
	IsError    bool      `json:"is_error,omitempty"`
	Tool       *ToolSpec `json:"tool,omitempty"`
	CardID     string    `json:"card_id,omitempty"`
}

type CardStartPayload struct {
	CardID          string `json:"card_id"`
	ToolName        string `json:"tool_name"`
	Title           string `json:"title"`
	SourceMessageID string `json:"source_message_id,omitempty"`
}

type CardCompletedPayload struct {
	CardID  string `json:"card_id"`
	Summary string `json:"summary,omitempty"`
}

type ArtifactFile struct {
	Path         string  `json:"path"`
	RelativePath string  `json:"relative_path,omitempty"`
	Size         int64   `json:"size"`
	Modified     float64 `json:"modified"`
}

type ArtifactUpdatedPayload struct {
	Files []ArtifactFile `json:"files"`
}

type TodoItem struct {
	ID       string `json:"id"`
	Content  string `json:"content"`
	Status   string `json:"status"`
	Priority string `json:"priority,omitempty"`
}

type TodoStatePayload struct {
	Todos  []TodoItem `json:"todos"`
	CallID string     `json:"call_id,omitempty"`
}

type WorkerErrorPayload struct {
	Error     string `json:"error"`
	Traceback string `json:"traceback,omitempty"`
}

type WorkerExitedPayload struct {
	Status string `json:"status"`
}

// Generic flat frames, shapes from the worker manager and agent runner.

type MessageFrame struct {
	Role     string          `json:"role"`
	Content  string          `json:"content"`
	Subtype  string          `json:"subtype,omitempty"`
	Metadata json.RawMessage `json:"metadata,omitempty"`
}

type StreamFrame struct {
	Content string `json:"content"`
	Done    bool   `json:"done"`
}

type LogFrame struct {
	Level     string `json:"level"`
	Message   string `json:"message"`
	Timestamp string `json:"timestamp"`
}

type ProgressFrame struct {
	ProgressType string            `json:"progress_type"`
	CurrentStep  string            `json:"current_step,omitempty"`
	Steps        []string          `json:"steps,omitempty"`
	StepStatus   map[string]string `json:"step_status,omitempty"`
	Path         string            `json:"path,omitempty"`
	Status       string            `json:"status,omitempty"`
}

type StatusFrame struct {
	Status string `json:"status"`
}

type ErrorFrame struct {
	Message string `json:"message"`
}

// Outbound client actions.

type Action struct {
	Action string `json:"action"`
	Query  string `json:"query,omitempty"`
	Input  string `json:"input,omitempty"`
}

func StartAction(query string) Action     { return Action{Action: "start", Query: query} }
func SendInputAction(input string) Action { return Action{Action: "send_input", Input: input} }
func GetStatusAction() Action             { return Action{Action: "get_status"} }
func StopAction() Action                  { return Action{Action: "stop"} }

func (a Action) Marshal() ([]byte, error) {
	return json.Marshal(a)
}
