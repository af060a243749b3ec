package ws

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestClient_RunDeliversTextInOrder(t *testing.T) {
	sock := NewFakeSocket()
	client := NewClient(sock)

	var mu sync.Mutex
	var got []string
	client.OnText(func(text string) {
		mu.Lock()
		got = append(got, text)
		mu.Unlock()
	})

	done := make(chan error, 1)
	go func() { done <- client.Run(context.Background()) }()

	sock.EmitText("one")
	sock.EmitText("two")
	sock.EmitText("three")
	if err := sock.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run returned error on clean close: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after close")
	}

	mu.Lock()
	defer mu.Unlock()
	if len(got) != 3 || got[0] != "one" || got[2] != "three" {
		t.Fatalf("unexpected delivery: %v", got)
	}
}

func TestClient_RunStopsOnContextCancel(t *testing.T) {
	sock := NewFakeSocket()
	client := NewClient(sock)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- client.Run(ctx) }()
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("cancellation must not surface as an error, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestClient_SendRecordsWrites(t *testing.T) {
	sock := NewFakeSocket()
	client := NewClient(sock)

	if err := client.Send(context.Background(), `{"action":"stop"}`); err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	sent := sock.Sent()
	if len(sent) != 1 || sent[0] != `{"action":"stop"}` {
		t.Fatalf("unexpected writes: %v", sent)
	}
}

func TestFakeSocket_WriteAfterCloseFails(t *testing.T) {
	sock := NewFakeSocket()
	if err := sock.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if err := sock.WriteText(context.Background(), "x"); err == nil {
		t.Fatal("expected write after close to fail")
	}
	// Emits after close are swallowed, not panics.
	sock.EmitText("dropped")
}

func TestFakeDialer_FailAndCount(t *testing.T) {
	dialer := NewFakeDialer()
	dialer.Fail(errors.New("refused"))
	if _, err := dialer.Dial(context.Background(), "ws://test"); err == nil {
		t.Fatal("expected dial failure")
	}

	dialer.Fail(nil)
	if _, err := dialer.Dial(context.Background(), "ws://test"); err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	if dialer.Dialed() != 1 {
		t.Fatalf("expected one successful dial counted, got %d", dialer.Dialed())
	}
}
