package ws

import (
	"context"
	"errors"
	"io"
	"sync"
)

// Client pumps inbound text frames from a Socket to a single handler.
type Client struct {
	sock   Socket
	onText func(string)
}

func NewClient(sock Socket) *Client {
	return &Client{sock: sock}
}

func (c *Client) OnText(fn func(string)) {
	c.onText = fn
}

func (c *Client) Run(ctx context.Context) error {
	for {
		text, err := c.sock.ReadText(ctx)
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		}
		if c.onText != nil {
			c.onText(text)
		}
	}
}

func (c *Client) Send(ctx context.Context, text string) error {
	return c.sock.WriteText(ctx, text)
}

func (c *Client) Close() error {
	return c.sock.Close()
}

// FakeSocket is an in-memory Socket for tests: EmitText feeds the read side,
// writes are recorded.
type FakeSocket struct {
	mu     sync.Mutex
	readCh chan string
	closed bool
	sent   []string
}

func NewFakeSocket() *FakeSocket {
	return &FakeSocket{readCh: make(chan string, 64)}
}

func (f *FakeSocket) EmitText(text string) {
	f.mu.Lock()
	closed := f.closed
	f.mu.Unlock()
	if closed {
		return
	}
	f.readCh <- text
}

func (f *FakeSocket) ReadText(ctx context.Context) (string, error) {
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case text, ok := <-f.readCh:
		if !ok {
			return "", io.EOF
		}
		return text, nil
	}
}

func (f *FakeSocket) WriteText(ctx context.Context, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return io.ErrClosedPipe
	}
	f.sent = append(f.sent, text)
	return nil
}

func (f *FakeSocket) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return nil
	}
	f.closed = true
	close(f.readCh)
	return nil
}

func (f *FakeSocket) Sent() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.sent))
	copy(out, f.sent)
	return out
}

// FakeDialer hands out prepared sockets in order.
type FakeDialer struct {
	mu      sync.Mutex
	sockets []*FakeSocket
	dialed  int
	err     error
}

func NewFakeDialer(sockets ...*FakeSocket) *FakeDialer {
	return &FakeDialer{sockets: sockets}
}

func (d *FakeDialer) Fail(err error) {
	d.mu.Lock()
	d.err = err
	d.mu.Unlock()
}

func (d *FakeDialer) Dial(ctx context.Context, url string) (Socket, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return nil, d.err
	}
	if d.dialed >= len(d.sockets) {
		sock := NewFakeSocket()
		d.sockets = append(d.sockets, sock)
	}
	sock := d.sockets[d.dialed]
	d.dialed++
	return sock, nil
}

func (d *FakeDialer) Dialed() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dialed
}
