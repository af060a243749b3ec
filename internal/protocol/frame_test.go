package protocol

import (
	"encoding/json"
	"testing"
)

func TestParseFrame_DomainPayload(t *testing.T) {
	raw := []byte(`{"type":"dr.chat.message","event_id":7,"session_id":"s1","payload":{"message_id":"m1","role":"user","content":"hi"}}`)
	frame, err := ParseFrame(raw)
	if err != nil {
		t.Fatalf("ParseFrame failed: %v", err)
	}
	if frame.Type != TypeChatMessage {
		t.Fatalf("unexpected type: %s", frame.Type)
	}
	if frame.EventID == nil || *frame.EventID != 7 {
		t.Fatalf("expected event_id 7, got %v", frame.EventID)
	}
	if frame.SessionID != "s1" {
		t.Fatalf("unexpected session id: %s", frame.SessionID)
	}
	var p ChatMessagePayload
	if err := frame.DecodePayload(&p); err != nil {
		t.Fatalf("DecodePayload failed: %v", err)
	}
	if p.MessageID != "m1" || p.Role != "user" || p.Content != "hi" {
		t.Fatalf("unexpected payload: %+v", p)
	}
}

func TestParseFrame_MissingEventID(t *testing.T) {
	frame, err := ParseFrame([]byte(`{"type":"status","status":"running"}`))
	if err != nil {
		t.Fatalf("ParseFrame failed: %v", err)
	}
	if frame.EventID != nil {
		t.Fatalf("expected nil event id, got %d", *frame.EventID)
	}
	var p StatusFrame
	if err := frame.DecodeFlat(&p); err != nil {
		t.Fatalf("DecodeFlat failed: %v", err)
	}
	if p.Status != "running" {
		t.Fatalf("unexpected status: %s", p.Status)
	}
}

func TestParseFrame_Malformed(t *testing.T) {
	if _, err := ParseFrame([]byte(`{"type":`)); err == nil {
		t.Fatal("expected error for malformed frame")
	}
}

func TestActions_Marshal(t *testing.T) {
	cases := []struct {
		action Action
		want   string
	}{
		{StartAction("find papers"), `{"action":"start","query":"find papers"}`},
		{SendInputAction("yes"), `{"action":"send_input","input":"yes"}`},
		{GetStatusAction(), `{"action":"get_status"}`},
		{StopAction(), `{"action":"stop"}`},
	}
	for _, tc := range cases {
		raw, err := tc.action.Marshal()
		if err != nil {
			t.Fatalf("marshal %q failed: %v", tc.action.Action, err)
		}
		if string(raw) != tc.want {
			t.Fatalf("unexpected wire form: %s (want %s)", raw, tc.want)
		}
	}
}

func TestToolSpec_OpaqueArguments(t *testing.T) {
	raw := []byte(`{"type":"dr.tool.call","payload":{"call_id":"c1","tool":{"name":"file_system---write_file","arguments":"{\"path\":\"report.md\"}"}}}`)
	frame, err := ParseFrame(raw)
	if err != nil {
		t.Fatalf("ParseFrame failed: %v", err)
	}
	var p ToolCallPayload
	if err := frame.DecodePayload(&p); err != nil {
		t.Fatalf("DecodePayload failed: %v", err)
	}
	if p.Tool == nil {
		t.Fatal("expected tool spec")
	}
	// Arguments stay opaque: a string-encoded payload must round-trip as-is.
	var s string
	if err := json.Unmarshal(p.Tool.Arguments, &s); err != nil {
		t.Fatalf("arguments should hold the original JSON string: %v", err)
	}
	if s != `{"path":"report.md"}` {
		t.Fatalf("unexpected arguments: %s", s)
	}
}
