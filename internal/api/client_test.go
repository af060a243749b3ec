package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestWSURL(t *testing.T) {
	cases := []struct {
		base string
		want string
	}{
		{"http://127.0.0.1:8000", "ws://127.0.0.1:8000/ws/sessions/s1"},
		{"https://research.example.com", "wss://research.example.com/ws/sessions/s1"},
		{"http://127.0.0.1:8000/", "ws://127.0.0.1:8000/ws/sessions/s1"},
	}
	for _, tc := range cases {
		if got := NewClient(tc.base).WSURL("s1"); got != tc.want {
			t.Fatalf("WSURL(%q) = %q, want %q", tc.base, got, tc.want)
		}
	}
}

func TestFetchHistory_SkipsMalformedEntries(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/sessions/s1/events" {
			t.Fatalf("unexpected path: %s", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"events":[
			{"type":"dr.chat.message","event_id":1,"payload":{"message_id":"m1","role":"user","content":"hi"}},
			"not a frame",
			{"type":"dr.chat.message","event_id":2,"payload":{"message_id":"m2","role":"assistant","content":"hello"}}
		]}`))
	}))
	defer srv.Close()

	frames, err := NewClient(srv.URL).FetchHistory(context.Background(), "s1")
	if err != nil {
		t.Fatalf("FetchHistory failed: %v", err)
	}
	if len(frames) != 2 {
		t.Fatalf("expected malformed entry skipped, got %d frames", len(frames))
	}
	if frames[0].EventID == nil || *frames[0].EventID != 1 {
		t.Fatalf("unexpected first frame: %+v", frames[0])
	}
	if frames[1].Type != "dr.chat.message" {
		t.Fatalf("unexpected second frame: %+v", frames[1])
	}
}

func TestFetchHistory_ErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "session not found", http.StatusNotFound)
	}))
	defer srv.Close()

	if _, err := NewClient(srv.URL).FetchHistory(context.Background(), "missing"); err == nil {
		t.Fatal("expected error for 404")
	}
}

func TestReadFile_PostsSessionScopedPath(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/files/read" {
			t.Fatalf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		var body map[string]string
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Fatalf("decode request body: %v", err)
		}
		if body["path"] != "final_report.md" || body["session_id"] != "s1" {
			t.Fatalf("unexpected body: %v", body)
		}
		json.NewEncoder(w).Encode(FileContent{
			Content: "# Report", Path: "final_report.md", Filename: "final_report.md", Size: 8,
		})
	}))
	defer srv.Close()

	content, err := NewClient(srv.URL).ReadFile(context.Background(), "s1", "final_report.md")
	if err != nil {
		t.Fatalf("ReadFile failed: %v", err)
	}
	if content.Content != "# Report" || content.Size != 8 {
		t.Fatalf("unexpected content: %+v", content)
	}
}

func TestCreateSession(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/sessions" {
			t.Fatalf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		var body map[string]string
		json.NewDecoder(r.Body).Decode(&body)
		if body["project_id"] != "deep_research" {
			t.Fatalf("unexpected body: %v", body)
		}
		json.NewEncoder(w).Encode(SessionInfo{ID: "s-new", ProjectID: "deep_research", Status: "idle"})
	}))
	defer srv.Close()

	info, err := NewClient(srv.URL).CreateSession(context.Background(), "deep_research")
	if err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}
	if info.ID != "s-new" || info.ProjectID != "deep_research" {
		t.Fatalf("unexpected session: %+v", info)
	}
}

func TestListSessions_ErrorIncludesDetail(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "backend restarting", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL).ListSessions(context.Background())
	if err == nil {
		t.Fatal("expected error")
	}
	if got := err.Error(); !strings.Contains(got, "backend restarting") {
		t.Fatalf("expected detail in error, got %q", got)
	}
}
