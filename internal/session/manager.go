// Package session owns the one live duplex connection per backend session,
// generic frame dispatch, optimistic local mutations, and the pluggable
// prefix-handler registry that domain reconcilers claim namespaces through.
package session

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"

	"github.com/google/uuid"

	"drmirror/internal/protocol"
	"drmirror/internal/ws"
)

const defaultMaxLogs = 500

// Handler receives every inbound frame whose type starts with the registered
// prefix. All matching handlers fire; matching any handler suppresses the
// manager's generic dispatch for that frame.
type Handler func(protocol.Frame)

// StatusMirror propagates status changes into an external session list.
type StatusMirror interface {
	MirrorStatus(sessionID string, status string)
}

// LastSessionStore persists the last-opened session id across restarts.
type LastSessionStore interface {
	SaveLastSession(sessionID string) error
	ClearLastSession() error
}

type prefixHandler struct {
	id      int
	prefix  string
	handler Handler
}

type activeConn struct {
	sessionID string
	gen       int
	client    *ws.Client
	cancel    context.CancelFunc
}

type Manager struct {
	mu sync.Mutex

	dialer ws.Dialer
	wsURL  func(sessionID string) string
	logger *slog.Logger

	mirror StatusMirror
	last   LastSessionStore

	handlers      []prefixHandler
	nextHandlerID int

	conn    *activeConn
	nextGen int

	state   viewState
	maxLogs int
}

type Options struct {
	Dialer  ws.Dialer
	WSURL   func(sessionID string) string
	Logger  *slog.Logger
	Mirror  StatusMirror
	Last    LastSessionStore
	MaxLogs int
}

func NewManager(opts Options) *Manager {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	maxLogs := opts.MaxLogs
	if maxLogs <= 0 {
		maxLogs = defaultMaxLogs
	}
	return &Manager{
		dialer:  opts.Dialer,
		wsURL:   opts.WSURL,
		logger:  logger,
		mirror:  opts.Mirror,
		last:    opts.Last,
		maxLogs: maxLogs,
	}
}

// RegisterHandler adds a prefix handler and returns its unregister func.
// Prefixes may share or nest; every match fires.
func (m *Manager) RegisterHandler(prefix string, handler Handler) func() {
	m.mu.Lock()
	m.nextHandlerID++
	id := m.nextHandlerID
	m.handlers = append(m.handlers, prefixHandler{id: id, prefix: prefix, handler: handler})
	m.mu.Unlock()
	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		for i, h := range m.handlers {
			if h.id == id {
				m.handlers = append(m.handlers[:i], m.handlers[i+1:]...)
				return
			}
		}
	}
}

// Open binds the manager to sessionID: any prior connection closes first, the
// view resets, and exactly one of start (with pendingQuery) or get_status is
// sent on the fresh socket.
func (m *Manager) Open(ctx context.Context, sessionID string, pendingQuery string) error {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return fmt.Errorf("session id is required")
	}
	if m.dialer == nil || m.wsURL == nil {
		return fmt.Errorf("session manager is not configured for connections")
	}

	m.closeConn()

	sock, err := m.dialer.Dial(ctx, m.wsURL(sessionID))
	if err != nil {
		return fmt.Errorf("dial session %s: %w", sessionID, err)
	}

	runCtx, cancel := context.WithCancel(context.Background())
	client := ws.NewClient(sock)

	m.mu.Lock()
	m.nextGen++
	gen := m.nextGen
	m.conn = &activeConn{sessionID: sessionID, gen: gen, client: client, cancel: cancel}
	m.state = viewState{sessionID: sessionID, status: StatusIdle}
	m.mu.Unlock()

	client.OnText(func(text string) {
		frame, err := protocol.ParseFrame([]byte(text))
		if err != nil {
			m.logger.Warn("drop malformed frame", "session_id", sessionID, "err", err)
			return
		}
		m.dispatch(gen, frame)
	})
	go func() {
		if err := client.Run(runCtx); err != nil {
			m.logger.Warn("socket closed", "session_id", sessionID, "err", err)
		}
	}()

	if pendingQuery != "" {
		m.appendLocalUserTurn(pendingQuery)
		if err := m.sendAction(ctx, protocol.StartAction(pendingQuery)); err != nil {
			// The opening action never reached the backend; a half-bound
			// connection must not stay registered.
			m.closeConn()
			return err
		}
		m.setBusy(true)
	} else {
		if err := m.sendAction(ctx, protocol.GetStatusAction()); err != nil {
			m.closeConn()
			return err
		}
	}

	if m.last != nil {
		if err := m.last.SaveLastSession(sessionID); err != nil {
			m.logger.Warn("persist last session failed", "session_id", sessionID, "err", err)
		}
	}
	return nil
}

// Close tears down the live connection. No handler fires for frames read
// after close; the generation guard drops them.
func (m *Manager) Close() {
	m.closeConn()
}

// Clear abandons the session entirely: connection down, view reset, resume
// key removed.
func (m *Manager) Clear() {
	m.closeConn()
	m.mu.Lock()
	m.state = viewState{}
	m.mu.Unlock()
	if m.last != nil {
		if err := m.last.ClearLastSession(); err != nil {
			m.logger.Warn("clear last session failed", "err", err)
		}
	}
}

func (m *Manager) closeConn() {
	m.mu.Lock()
	conn := m.conn
	m.conn = nil
	m.mu.Unlock()
	if conn == nil {
		return
	}
	conn.cancel()
	if err := conn.client.Close(); err != nil {
		m.logger.Debug("close socket", "session_id", conn.sessionID, "err", err)
	}
}

// Send appends an optimistic user turn and forwards the text: start for a
// fresh run, send_input for an ongoing one. Busy goes true either way; the
// next authoritative status frame reconciles it.
func (m *Manager) Send(ctx context.Context, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return fmt.Errorf("input text is required")
	}
	m.appendLocalUserTurn(text)

	m.mu.Lock()
	running := m.state.status == StatusRunning
	m.mu.Unlock()

	action := protocol.StartAction(text)
	if running {
		action = protocol.SendInputAction(text)
	}
	if err := m.sendAction(ctx, action); err != nil {
		return err
	}
	m.setBusy(true)
	return nil
}

// Stop is advisory and optimistic: the stop action goes out, and local state
// flips to stopped immediately without waiting for acknowledgment.
func (m *Manager) Stop(ctx context.Context) error {
	err := m.sendAction(ctx, protocol.StopAction())

	m.mu.Lock()
	m.state.status = StatusStopped
	m.state.busy = false
	m.state.clearRunArtifacts()
	sessionID := m.state.sessionID
	m.mu.Unlock()
	m.mirrorStatus(sessionID, string(StatusStopped))
	return err
}

func (m *Manager) sendAction(ctx context.Context, action protocol.Action) error {
	m.mu.Lock()
	conn := m.conn
	m.mu.Unlock()
	if conn == nil {
		return fmt.Errorf("no open session connection")
	}
	raw, err := action.Marshal()
	if err != nil {
		return err
	}
	return conn.client.Send(ctx, string(raw))
}

func (m *Manager) View() View {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.view()
}

// SetTerminalStatus folds an externally derived terminal status (such as a
// worker-exited event surfaced by a domain handler) into the view, same as an
// authoritative status frame.
func (m *Manager) SetTerminalStatus(status string) {
	m.applyStatus(normalizeStatus(status))
}

func (m *Manager) appendLocalUserTurn(text string) {
	m.mu.Lock()
	m.state.turns = append(m.state.turns, Turn{
		ID:        "local-" + uuid.NewString(),
		Role:      "user",
		Content:   text,
		Completed: true,
	})
	m.mu.Unlock()
}

func (m *Manager) setBusy(busy bool) {
	m.mu.Lock()
	m.state.busy = busy
	m.mu.Unlock()
}

func (m *Manager) dispatch(gen int, frame protocol.Frame) {
	m.mu.Lock()
	if m.conn == nil || m.conn.gen != gen {
		m.mu.Unlock()
		return
	}
	matched := make([]Handler, 0, 2)
	for _, h := range m.handlers {
		if strings.HasPrefix(frame.Type, h.prefix) {
			matched = append(matched, h.handler)
		}
	}
	m.mu.Unlock()

	if len(matched) > 0 {
		for _, h := range matched {
			h(frame)
		}
		return
	}
	m.dispatchGeneric(frame)
}

func (m *Manager) dispatchGeneric(frame protocol.Frame) {
	switch frame.Type {
	case protocol.TypeMessage:
		m.handleMessage(frame)
	case protocol.TypeStream:
		m.handleStream(frame)
	case protocol.TypeLog:
		m.handleLog(frame)
	case protocol.TypeProgress:
		m.handleProgress(frame)
	case protocol.TypeStatus:
		m.handleStatus(frame)
	case protocol.TypeComplete:
		m.applyStatus(StatusCompleted)
	case protocol.TypeError:
		m.handleError(frame)
	default:
		m.logger.Debug("unhandled frame", "type", frame.Type)
	}
}

func (m *Manager) handleMessage(frame protocol.Frame) {
	var p protocol.MessageFrame
	if err := frame.DecodeFlat(&p); err != nil {
		return
	}
	role := p.Role
	if role == "" {
		role = "assistant"
	}
	m.mu.Lock()
	m.state.turns = append(m.state.turns, Turn{
		ID:        "msg-" + uuid.NewString(),
		Role:      role,
		Content:   p.Content,
		Completed: true,
	})
	if p.Subtype == "waiting_input" || metadataMarksComplete(p.Metadata) {
		m.state.busy = false
	}
	m.mu.Unlock()
}

func metadataMarksComplete(raw []byte) bool {
	if len(raw) == 0 {
		return false
	}
	var meta struct {
		IsComplete bool `json:"is_complete"`
		Completed  bool `json:"completed"`
	}
	if err := json.Unmarshal(raw, &meta); err != nil {
		return false
	}
	return meta.IsComplete || meta.Completed
}

func (m *Manager) handleStream(frame protocol.Frame) {
	var p protocol.StreamFrame
	if err := frame.DecodeFlat(&p); err != nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if !p.Done {
		// Non-terminal frames carry full snapshots, not deltas; the scratch
		// buffer is overwritten, never appended to.
		m.state.streamBuffer = p.Content
		m.state.streaming = true
		return
	}
	content := m.state.streamBuffer
	if p.Content != "" {
		content = p.Content
	}
	if content != "" {
		m.state.turns = append(m.state.turns, Turn{
			ID:        "stream-" + uuid.NewString(),
			Role:      "assistant",
			Content:   content,
			Completed: true,
		})
	}
	m.state.streamBuffer = ""
	m.state.streaming = false
	m.state.busy = false
}

func (m *Manager) handleLog(frame protocol.Frame) {
	var p protocol.LogFrame
	if err := frame.DecodeFlat(&p); err != nil {
		return
	}
	m.mu.Lock()
	m.state.logs = append(m.state.logs, LogEntry{
		Level:     p.Level,
		Message:   p.Message,
		Timestamp: p.Timestamp,
		SessionID: m.state.sessionID,
	})
	m.state.logsTotal++
	if len(m.state.logs) > m.maxLogs {
		m.state.logs = m.state.logs[len(m.state.logs)-m.maxLogs:]
	}
	m.mu.Unlock()
}

func (m *Manager) handleProgress(frame protocol.Frame) {
	var p protocol.ProgressFrame
	if err := frame.DecodeFlat(&p); err != nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	switch p.ProgressType {
	case "workflow":
		m.state.workflow = &WorkflowProgress{
			CurrentStep: p.CurrentStep,
			Steps:       append([]string(nil), p.Steps...),
			StepStatus:  p.StepStatus,
		}
	case "file":
		m.state.fileProgress = &FileProgress{Path: p.Path, Status: p.Status}
	}
}

func (m *Manager) handleStatus(frame protocol.Frame) {
	var p protocol.StatusFrame
	if err := frame.DecodeFlat(&p); err != nil {
		return
	}
	m.applyStatus(normalizeStatus(p.Status))
}

func (m *Manager) applyStatus(status Status) {
	m.mu.Lock()
	m.state.status = status
	if status != StatusRunning {
		m.state.clearRunArtifacts()
	}
	m.state.busy = status == StatusRunning
	sessionID := m.state.sessionID
	m.mu.Unlock()
	m.mirrorStatus(sessionID, string(status))
}

func (m *Manager) handleError(frame protocol.Frame) {
	var p protocol.ErrorFrame
	if err := frame.DecodeFlat(&p); err != nil {
		return
	}
	m.mu.Lock()
	m.state.turns = append(m.state.turns, Turn{
		ID:        "err-" + uuid.NewString(),
		Role:      "system",
		Content:   p.Message,
		Completed: true,
	})
	m.state.busy = false
	status := StatusError
	if isBenignTermination(p.Message) {
		// Expected shutdown races surface as errors upstream; keep them out
		// of the error state.
		status = StatusCompleted
	}
	m.state.status = status
	m.state.clearRunArtifacts()
	sessionID := m.state.sessionID
	m.mu.Unlock()
	m.mirrorStatus(sessionID, string(status))
}

var benignPhrases = []string{
	"process has terminated",
	"workflow completed",
	"not running",
}

func isBenignTermination(message string) bool {
	lower := strings.ToLower(message)
	for _, phrase := range benignPhrases {
		if strings.Contains(lower, phrase) {
			return true
		}
	}
	return false
}

func (m *Manager) mirrorStatus(sessionID, status string) {
	if m.mirror == nil || sessionID == "" {
		return
	}
	m.mirror.MirrorStatus(sessionID, status)
}
