// Package discord implements the stage Adapter for Discord using the Gateway WebSocket.
package discord

import (
	"context"
	"fmt"
	"log"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/banterlabs/troupe/internal/stage"
	"github.com/bwmarrin/discordgo"
)

const (
	// maxRetries is the max number of retries for rate-limited API calls.
	maxRetries = 3
	// baseBackoff is the initial backoff duration for rate-limited retries.
	baseBackoff = 2 * time.Second
	// maxBackoff caps the exponential backoff.
	maxBackoff = 2 * time.Minute
)

// session abstracts the discordgo.Session methods we use, enabling test mocks.
type session interface {
	Open() error
	Close() error
	ChannelMessageSendComplex(channelID string, data *discordgo.MessageSend, options ...discordgo.RequestOption) (*discordgo.Message, error)
	ChannelTyping(channelID string, options ...discordgo.RequestOption) error
	AddHandler(handler interface{}) func()
}

// realSession wraps *discordgo.Session to implement the session interface.
type realSession struct {
	s *discordgo.Session
}

func (r *realSession) Open() error  { return r.s.Open() }
func (r *realSession) Close() error { return r.s.Close() }
func (r *realSession) ChannelMessageSendComplex(channelID string, data *discordgo.MessageSend, options ...discordgo.RequestOption) (*discordgo.Message, error) {
	return r.s.ChannelMessageSendComplex(channelID, data, options...)
}
func (r *realSession) ChannelTyping(channelID string, options ...discordgo.RequestOption) error {
	return r.s.ChannelTyping(channelID, options...)
}
func (r *realSession) AddHandler(handler interface{}) func() {
	return r.s.AddHandler(handler)
}

// Adapter implements stage.Adapter for Discord via the Gateway WebSocket.
type Adapter struct {
	sess         session
	botToken     string
	mu           sync.Mutex
	connected    bool
	closed       bool
	botUserID    string
	guilds       map[string]struct{}
	inbound      chan stage.InboundMessage
	guildChanges chan []string
	removeFns    []func()
	baseBackoff  time.Duration
	maxBackoff   time.Duration
}

// AdapterOpts holds parameters for creating a Discord Adapter.
type AdapterOpts struct {
	BotToken string // Discord bot token
	// For testing: inject a mock session instead of real Discord API.
	Session session
}

// New creates a Discord Adapter.
func New(opts AdapterOpts) (*Adapter, error) {
	if opts.Session == nil && opts.BotToken == "" {
		return nil, fmt.Errorf("discord: bot token is required")
	}

	a := &Adapter{
		botToken:     opts.BotToken,
		guilds:       make(map[string]struct{}),
		inbound:      make(chan stage.InboundMessage, 100),
		guildChanges: make(chan []string, 16),
		baseBackoff:  baseBackoff,
		maxBackoff:   maxBackoff,
	}

	if opts.Session != nil {
		a.sess = opts.Session
	}

	return a, nil
}

// Connect establishes the Discord Gateway WebSocket connection and registers
// the lifecycle handlers that track the bot identity and guild membership.
func (a *Adapter) Connect(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return fmt.Errorf("discord: adapter already closed")
	}
	if a.connected {
		return nil
	}

	// Create real session if not injected (production path).
	if a.sess == nil {
		dg, err := discordgo.New("Bot " + a.botToken)
		if err != nil {
			return fmt.Errorf("discord: create session: %w", err)
		}
		dg.Identify.Intents = discordgo.IntentsGuilds |
			discordgo.IntentsGuildMessages |
			discordgo.IntentsMessageContent
		a.sess = &realSession{s: dg}
	}

	a.removeFns = append(a.removeFns, a.sess.AddHandler(func(_ *discordgo.Session, r *discordgo.Ready) {
		a.mu.Lock()
		a.botUserID = r.User.ID
		a.guilds = make(map[string]struct{}, len(r.Guilds))
		for _, g := range r.Guilds {
			a.guilds[g.ID] = struct{}{}
		}
		snapshot := a.guildListLocked()
		a.mu.Unlock()
		log.Printf("discord: connected as %s (ID: %s), %d guilds", r.User.Username, r.User.ID, len(snapshot))
		a.notifyGuilds(snapshot)
	}))

	a.removeFns = append(a.removeFns, a.sess.AddHandler(func(_ *discordgo.Session, g *discordgo.GuildCreate) {
		a.mu.Lock()
		if _, known := a.guilds[g.ID]; known {
			a.mu.Unlock()
			return
		}
		a.guilds[g.ID] = struct{}{}
		snapshot := a.guildListLocked()
		a.mu.Unlock()
		log.Printf("discord: joined guild %s", g.ID)
		a.notifyGuilds(snapshot)
	}))

	a.removeFns = append(a.removeFns, a.sess.AddHandler(func(_ *discordgo.Session, g *discordgo.GuildDelete) {
		// Unavailable guilds are outages, not removals.
		if g.Unavailable {
			return
		}
		a.mu.Lock()
		delete(a.guilds, g.ID)
		snapshot := a.guildListLocked()
		a.mu.Unlock()
		log.Printf("discord: left guild %s", g.ID)
		a.notifyGuilds(snapshot)
	}))

	a.removeFns = append(a.removeFns, a.sess.AddHandler(func(_ *discordgo.Session, d *discordgo.Disconnect) {
		log.Printf("discord: gateway disconnected, discordgo will auto-reconnect")
	}))

	if err := a.sess.Open(); err != nil {
		return fmt.Errorf("discord: open gateway: %w", err)
	}

	a.connected = true
	return nil
}

// Listen returns a channel of inbound messages from Discord. Registers a
// message handler on the Gateway session. Must be called after Connect.
func (a *Adapter) Listen(ctx context.Context) (<-chan stage.InboundMessage, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.connected {
		return nil, fmt.Errorf("discord: not connected")
	}

	a.removeFns = append(a.removeFns, a.sess.AddHandler(func(_ *discordgo.Session, m *discordgo.MessageCreate) {
		a.handleMessage(m)
	}))

	return a.inbound, nil
}

// Send posts a message to a channel. ReplyToID, when set, becomes a Discord
// message reference so the post renders as a reply.
func (a *Adapter) Send(ctx context.Context, msg stage.OutboundMessage) error {
	a.mu.Lock()
	if !a.connected {
		a.mu.Unlock()
		return fmt.Errorf("discord: not connected")
	}
	a.mu.Unlock()

	if msg.ChannelID == "" {
		return fmt.Errorf("discord: no channel specified")
	}

	data := &discordgo.MessageSend{Content: msg.Text}
	if msg.ReplyToID != "" {
		data.Reference = &discordgo.MessageReference{
			MessageID: msg.ReplyToID,
			ChannelID: msg.ChannelID,
		}
	}

	err := a.retryOnRateLimit(ctx, func() error {
		_, sendErr := a.sess.ChannelMessageSendComplex(msg.ChannelID, data)
		return sendErr
	})
	if err != nil {
		return fmt.Errorf("discord: send message: %w", err)
	}
	return nil
}

// Typing toggles the typing indicator. Discord has no explicit "stop typing"
// call; the indicator expires on its own and is cleared by the next message,
// so active=false is a no-op.
func (a *Adapter) Typing(ctx context.Context, channelID string, active bool) error {
	if !active {
		return nil
	}

	a.mu.Lock()
	if !a.connected {
		a.mu.Unlock()
		return fmt.Errorf("discord: not connected")
	}
	a.mu.Unlock()

	err := a.retryOnRateLimit(ctx, func() error {
		return a.sess.ChannelTyping(channelID)
	})
	if err != nil {
		return fmt.Errorf("discord: typing indicator: %w", err)
	}
	return nil
}

// Guilds returns the IDs of the guilds the bot currently belongs to.
func (a *Adapter) Guilds() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.guildListLocked()
}

// GuildChanges returns the guild-change notification channel.
func (a *Adapter) GuildChanges() <-chan []string {
	return a.guildChanges
}

// Close gracefully shuts down the adapter connection.
func (a *Adapter) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return nil
	}
	a.closed = true
	a.connected = false
	for _, remove := range a.removeFns {
		remove()
	}
	a.removeFns = nil
	close(a.inbound)
	close(a.guildChanges)
	if a.sess != nil {
		return a.sess.Close()
	}
	return nil
}

// BotUserID returns the bot's Discord user ID (available after Connect).
func (a *Adapter) BotUserID() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.botUserID
}

// handleMessage converts a Discord message event to an InboundMessage.
func (a *Adapter) handleMessage(m *discordgo.MessageCreate) {
	if m.Author == nil {
		return
	}

	a.mu.Lock()
	botID := a.botUserID
	closed := a.closed
	a.mu.Unlock()
	if closed {
		return
	}

	// Filter self-messages and other bots.
	if m.Author.ID == botID || m.Author.Bot {
		return
	}

	mentioned := false
	for _, u := range m.Mentions {
		if u.ID == botID {
			mentioned = true
			break
		}
	}
	// A reply to one of the bot's messages counts as addressing the bot.
	if !mentioned && m.ReferencedMessage != nil &&
		m.ReferencedMessage.Author != nil &&
		m.ReferencedMessage.Author.ID == botID {
		mentioned = true
	}

	ts, _ := discordgo.SnowflakeTimestamp(m.ID)

	a.inbound <- stage.InboundMessage{
		Platform:  "discord",
		GuildID:   m.GuildID,
		ChannelID: m.ChannelID,
		MessageID: m.ID,
		UserID:    m.Author.ID,
		UserName:  m.Author.Username,
		Text:      m.Content,
		Mentioned: mentioned,
		Timestamp: ts,
	}
}

// guildListLocked returns a sorted snapshot of guild IDs. Callers must hold a.mu.
func (a *Adapter) guildListLocked() []string {
	ids := make([]string, 0, len(a.guilds))
	for id := range a.guilds {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// notifyGuilds emits a membership snapshot without blocking the gateway
// handler. If the consumer is behind, the oldest snapshot is dropped; only
// the latest membership matters.
func (a *Adapter) notifyGuilds(snapshot []string) {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return
	}
	a.mu.Unlock()

	for {
		select {
		case a.guildChanges <- snapshot:
			return
		default:
			select {
			case <-a.guildChanges:
			default:
			}
		}
	}
}

// retryOnRateLimit calls fn and retries with exponential backoff on Discord
// rate limit errors. It respects context cancellation.
func (a *Adapter) retryOnRateLimit(ctx context.Context, fn func() error) error {
	for attempt := 0; attempt <= maxRetries; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}

		restErr, ok := err.(*discordgo.RESTError)
		if !ok || restErr.Response == nil || restErr.Response.StatusCode != 429 {
			return err // not a rate limit error
		}

		if attempt == maxRetries {
			return err
		}

		wait := time.Duration(math.Pow(2, float64(attempt))) * a.baseBackoff
		if wait > a.maxBackoff {
			wait = a.maxBackoff
		}

		log.Printf("discord: rate limited (attempt %d/%d), retrying in %v",
			attempt+1, maxRetries, wait)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
	return nil // unreachable
}
