package conductor

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
)

// mockSocket implements socket for testing. It records written frames and
// delivers scripted inbound frames via Inject.
type mockSocket struct {
	mu       sync.Mutex
	inbound  chan []byte
	written  []Frame
	closed   bool
	writeErr error
}

func newMockSocket() *mockSocket {
	return &mockSocket{inbound: make(chan []byte, 32)}
}

func (s *mockSocket) ReadMessage() (int, []byte, error) {
	data, ok := <-s.inbound
	if !ok {
		return 0, nil, fmt.Errorf("mock socket: closed")
	}
	return 1, data, nil
}

func (s *mockSocket) WriteJSON(v any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("mock socket: write on closed socket")
	}
	if s.writeErr != nil {
		return s.writeErr
	}
	frame, ok := v.(Frame)
	if !ok {
		return fmt.Errorf("mock socket: unexpected write type %T", v)
	}
	s.written = append(s.written, frame)
	return nil
}

func (s *mockSocket) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.inbound)
	}
	return nil
}

// Inject delivers an inbound frame to the read loop.
func (s *mockSocket) Inject(t FrameType, payload any) {
	raw, _ := json.Marshal(payload)
	data, _ := json.Marshal(Frame{Type: t, Payload: raw})
	s.inbound <- data
}

// InjectRaw delivers raw bytes to the read loop.
func (s *mockSocket) InjectRaw(data []byte) {
	s.inbound <- data
}

// Drop simulates a transport failure: the read loop's next read errors.
func (s *mockSocket) Drop() {
	s.Close()
}

// Written returns a copy of the frames written so far.
func (s *mockSocket) Written() []Frame {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Frame, len(s.written))
	copy(out, s.written)
	return out
}

// WrittenOfType returns the written frames with the given type tag.
func (s *mockSocket) WrittenOfType(t FrameType) []Frame {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Frame
	for _, f := range s.written {
		if f.Type == t {
			out = append(out, f)
		}
	}
	return out
}

// mockDialer implements dialer for testing. Each successful Dial hands out a
// fresh mockSocket; DialErr makes every attempt fail.
type mockDialer struct {
	mu      sync.Mutex
	sockets []*mockSocket
	dials   int
	DialErr error
}

func (d *mockDialer) Dial(ctx context.Context, wsURL string, header http.Header) (socket, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dials++
	if d.DialErr != nil {
		return nil, d.DialErr
	}
	s := newMockSocket()
	d.sockets = append(d.sockets, s)
	return s, nil
}

// Dials returns how many connection attempts were made.
func (d *mockDialer) Dials() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}

// Last returns the most recently dialed socket.
func (d *mockDialer) Last() *mockSocket {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.sockets) == 0 {
		return nil
	}
	return d.sockets[len(d.sockets)-1]
}

// SetDialErr scripts failure for subsequent dial attempts.
func (d *mockDialer) SetDialErr(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.DialErr = err
}
