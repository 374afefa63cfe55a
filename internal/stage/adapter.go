// Package stage bridges the bot to its chat platform (Discord today).
package stage

import (
	"context"
	"time"
)

// Adapter is the interface that platform-specific implementations must
// satisfy. Each adapter handles connection management, message
// sending/receiving, typing indicators, and guild membership for a single
// chat platform.
type Adapter interface {
	// Connect establishes a connection to the chat platform.
	Connect(ctx context.Context) error

	// Listen returns a channel of inbound messages from the platform.
	// The channel is closed when the context is cancelled or the adapter
	// is closed. Listen must only be called after Connect.
	Listen(ctx context.Context) (<-chan InboundMessage, error)

	// Send posts a message to a channel, optionally as a reply.
	Send(ctx context.Context, msg OutboundMessage) error

	// Typing toggles the typing indicator in a channel.
	Typing(ctx context.Context, channelID string, active bool) error

	// Guilds returns the IDs of the guilds the bot currently belongs to.
	// Only valid after Connect.
	Guilds() []string

	// GuildChanges returns a channel that receives the full guild list
	// whenever membership changes. The channel is closed with the adapter.
	GuildChanges() <-chan []string

	// Close gracefully shuts down the adapter connection.
	Close() error
}

// InboundMessage represents a message received from the chat platform.
type InboundMessage struct {
	Platform  string    // e.g. "discord"
	GuildID   string    // guild the message was posted in (empty for DMs)
	ChannelID string    // platform-specific channel identifier
	MessageID string    // platform-specific message identifier
	UserID    string    // author's user identifier
	UserName  string    // human-readable username
	Text      string    // raw message text
	Mentioned bool      // whether the bot was mentioned or replied to
	Timestamp time.Time // when the message was sent
}

// OutboundMessage represents a message to be sent to the chat platform.
type OutboundMessage struct {
	ChannelID string // target channel
	ReplyToID string // message to reply to (empty for a plain post)
	Text      string // message text (platform-native formatting)
}

// BotUserIDer is an optional interface that adapters can implement to
// expose the bot's own user ID. This enables self-message filtering.
type BotUserIDer interface {
	BotUserID() string
}
