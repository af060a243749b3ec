// Package api is the REST client for the backend's session/project CRUD,
// history replay, and file content endpoints.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"drmirror/internal/protocol"
)

type SessionInfo struct {
	ID          string `json:"id"`
	ProjectID   string `json:"project_id"`
	ProjectName string `json:"project_name"`
	Status      string `json:"status"`
	CreatedAt   string `json:"created_at"`
}

type ProjectInfo struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	DisplayName string `json:"display_name"`
	Description string `json:"description"`
	Type        string `json:"type"`
}

type FileContent struct {
	Content  string `json:"content"`
	Path     string `json:"path"`
	Filename string `json:"filename"`
	Language string `json:"language"`
	Size     int64  `json:"size"`
}

type FileListing struct {
	Tree      json.RawMessage `json:"tree"`
	OutputDir string          `json:"output_dir"`
}

type Client struct {
	baseURL string
	http    *http.Client
}

func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 30 * time.Second},
	}
}

// WSURL builds the live socket endpoint for a session from the REST base.
func (c *Client) WSURL(sessionID string) string {
	wsBase := c.baseURL
	switch {
	case strings.HasPrefix(wsBase, "https://"):
		wsBase = "wss://" + strings.TrimPrefix(wsBase, "https://")
	case strings.HasPrefix(wsBase, "http://"):
		wsBase = "ws://" + strings.TrimPrefix(wsBase, "http://")
	}
	return wsBase + "/ws/sessions/" + url.PathEscape(sessionID)
}

func (c *Client) ListSessions(ctx context.Context) ([]SessionInfo, error) {
	var out []SessionInfo
	if err := c.doJSON(ctx, http.MethodGet, "/api/sessions", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) CreateSession(ctx context.Context, projectID string) (SessionInfo, error) {
	body := map[string]string{"project_id": projectID}
	var out SessionInfo
	if err := c.doJSON(ctx, http.MethodPost, "/api/sessions", body, &out); err != nil {
		return SessionInfo{}, err
	}
	return out, nil
}

func (c *Client) GetSession(ctx context.Context, sessionID string) (SessionInfo, error) {
	var out SessionInfo
	if err := c.doJSON(ctx, http.MethodGet, "/api/sessions/"+url.PathEscape(sessionID), nil, &out); err != nil {
		return SessionInfo{}, err
	}
	return out, nil
}

func (c *Client) DeleteSession(ctx context.Context, sessionID string) error {
	return c.doJSON(ctx, http.MethodDelete, "/api/sessions/"+url.PathEscape(sessionID), nil, nil)
}

func (c *Client) ListProjects(ctx context.Context) ([]ProjectInfo, error) {
	var out []ProjectInfo
	if err := c.doJSON(ctx, http.MethodGet, "/api/projects", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// FetchHistory is the one-shot replay feed, pre-sorted by event id.
func (c *Client) FetchHistory(ctx context.Context, sessionID string) ([]protocol.Frame, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.baseURL+"/api/sessions/"+url.PathEscape(sessionID)+"/events", nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, httpError(resp)
	}
	var envelope struct {
		Events []json.RawMessage `json:"events"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return nil, err
	}
	frames := make([]protocol.Frame, 0, len(envelope.Events))
	for _, raw := range envelope.Events {
		frame, err := protocol.ParseFrame(raw)
		if err != nil {
			// Skip a malformed entry rather than abandoning the replay.
			continue
		}
		frames = append(frames, frame)
	}
	return frames, nil
}

func (c *Client) ListFiles(ctx context.Context) (FileListing, error) {
	var out FileListing
	if err := c.doJSON(ctx, http.MethodGet, "/api/files/list", nil, &out); err != nil {
		return FileListing{}, err
	}
	return out, nil
}

// ReadFile fetches raw text content by session-scoped relative path.
func (c *Client) ReadFile(ctx context.Context, sessionID, path string) (FileContent, error) {
	body := map[string]string{"path": path}
	if sessionID != "" {
		body["session_id"] = sessionID
	}
	var out FileContent
	if err := c.doJSON(ctx, http.MethodPost, "/api/files/read", body, &out); err != nil {
		return FileContent{}, err
	}
	return out, nil
}

func (c *Client) doJSON(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return httpError(resp)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func httpError(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	detail := strings.TrimSpace(string(raw))
	if detail == "" {
		return fmt.Errorf("backend returned %s", resp.Status)
	}
	return fmt.Errorf("backend returned %s: %s", resp.Status, detail)
}
