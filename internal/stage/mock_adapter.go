package stage

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// MockAdapter implements Adapter for testing. It records sent messages and
// typing calls, and allows simulating inbound messages and guild changes.
type MockAdapter struct {
	mu           sync.Mutex
	connected    bool
	closed       bool
	inbound      chan InboundMessage
	guildChanges chan []string
	sent         []OutboundMessage
	typing       []TypingCall
	guilds       []string
	botUserID    string
}

// TypingCall records one Typing invocation.
type TypingCall struct {
	ChannelID string
	Active    bool
}

// NewMockAdapter creates a MockAdapter with buffered channels.
func NewMockAdapter() *MockAdapter {
	return &MockAdapter{
		inbound:      make(chan InboundMessage, 100),
		guildChanges: make(chan []string, 16),
	}
}

// BotUserID returns the configured bot user ID (implements BotUserIDer).
func (m *MockAdapter) BotUserID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.botUserID
}

// SetBotUserID sets the bot user ID for testing.
func (m *MockAdapter) SetBotUserID(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.botUserID = id
}

// Connect marks the adapter as connected.
func (m *MockAdapter) Connect(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return fmt.Errorf("mock adapter: already closed")
	}
	m.connected = true
	return nil
}

// Listen returns the inbound message channel. Must be called after Connect.
func (m *MockAdapter) Listen(ctx context.Context) (<-chan InboundMessage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.connected {
		return nil, fmt.Errorf("mock adapter: not connected")
	}
	return m.inbound, nil
}

// Send records the outbound message.
func (m *MockAdapter) Send(ctx context.Context, msg OutboundMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.connected {
		return fmt.Errorf("mock adapter: not connected")
	}
	m.sent = append(m.sent, msg)
	return nil
}

// Typing records the typing call.
func (m *MockAdapter) Typing(ctx context.Context, channelID string, active bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.connected {
		return fmt.Errorf("mock adapter: not connected")
	}
	m.typing = append(m.typing, TypingCall{ChannelID: channelID, Active: active})
	return nil
}

// Guilds returns the configured guild list.
func (m *MockAdapter) Guilds() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.guilds))
	copy(out, m.guilds)
	return out
}

// GuildChanges returns the guild-change channel.
func (m *MockAdapter) GuildChanges() <-chan []string {
	return m.guildChanges
}

// Close shuts down the mock adapter and closes its channels.
func (m *MockAdapter) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true
	m.connected = false
	close(m.inbound)
	close(m.guildChanges)
	return nil
}

// --- Test helpers ---

// SimulateInbound sends a message into the inbound channel as if it came
// from the chat platform. Safe to call from any goroutine.
func (m *MockAdapter) SimulateInbound(msg InboundMessage) {
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}
	m.inbound <- msg
}

// SetGuilds replaces the guild list and emits a guild-change notification.
func (m *MockAdapter) SetGuilds(ids []string) {
	m.mu.Lock()
	m.guilds = append([]string(nil), ids...)
	snapshot := append([]string(nil), ids...)
	m.mu.Unlock()
	m.guildChanges <- snapshot
}

// LastSent returns the most recently sent outbound message.
// Returns zero value and false if no messages have been sent.
func (m *MockAdapter) LastSent() (OutboundMessage, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.sent) == 0 {
		return OutboundMessage{}, false
	}
	return m.sent[len(m.sent)-1], true
}

// SentCount returns the number of outbound messages sent.
func (m *MockAdapter) SentCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sent)
}

// AllSent returns a copy of all sent outbound messages.
func (m *MockAdapter) AllSent() []OutboundMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]OutboundMessage, len(m.sent))
	copy(out, m.sent)
	return out
}

// TypingCalls returns a copy of all recorded typing calls.
func (m *MockAdapter) TypingCalls() []TypingCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]TypingCall, len(m.typing))
	copy(out, m.typing)
	return out
}
