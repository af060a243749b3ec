package session

type Status string

const (
	StatusIdle      Status = "idle"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusError     Status = "error"
	StatusStopped   Status = "stopped"
)

func normalizeStatus(s string) Status {
	switch Status(s) {
	case StatusRunning, StatusCompleted, StatusError, StatusStopped, StatusIdle:
		return Status(s)
	}
	return StatusIdle
}

// Turn is a generic chat turn owned by the session manager: user input,
// streamed assistant output, and system notices outside the dr.* namespace.
type Turn struct {
	ID        string
	Role      string
	Content   string
	Completed bool
}

type WorkflowProgress struct {
	CurrentStep string
	Steps       []string
	StepStatus  map[string]string
}

type FileProgress struct {
	Path   string
	Status string
}

type LogEntry struct {
	Level     string
	Message   string
	Timestamp string
	SessionID string
}

// viewState is the manager-owned mutable session view. Everything here is
// reset when the manager opens a different session.
type viewState struct {
	sessionID string
	status    Status
	busy      bool

	turns []Turn

	streaming    bool
	streamBuffer string

	workflow     *WorkflowProgress
	fileProgress *FileProgress

	logs []LogEntry
	// logsTotal counts every log ever received this run; unlike len(logs) it
	// keeps growing after the bounded list starts rotating.
	logsTotal int
}

// clearRunArtifacts drops the transient per-run indicators, kept in one place
// because every status change away from running clears the same set.
func (v *viewState) clearRunArtifacts() {
	v.workflow = nil
	v.fileProgress = nil
	v.streaming = false
	v.streamBuffer = ""
}

// View is the read-only copy handed to callers.
type View struct {
	SessionID    string
	Status       Status
	Busy         bool
	Turns        []Turn
	Streaming    bool
	StreamBuffer string
	Workflow     *WorkflowProgress
	FileProgress *FileProgress
	Logs         []LogEntry
	LogsTotal    int
}

func (v *viewState) view() View {
	out := View{
		SessionID:    v.sessionID,
		Status:       v.status,
		Busy:         v.busy,
		Turns:        append([]Turn(nil), v.turns...),
		Streaming:    v.streaming,
		StreamBuffer: v.streamBuffer,
		Logs:         append([]LogEntry(nil), v.logs...),
		LogsTotal:    v.logsTotal,
	}
	if v.workflow != nil {
		wf := WorkflowProgress{
			CurrentStep: v.workflow.CurrentStep,
			Steps:       append([]string(nil), v.workflow.Steps...),
			StepStatus:  make(map[string]string, len(v.workflow.StepStatus)),
		}
		for k, val := range v.workflow.StepStatus {
			wf.StepStatus[k] = val
		}
		out.Workflow = &wf
	}
	if v.fileProgress != nil {
		fp := *v.fileProgress
		out.FileProgress = &fp
	}
	return out
}
