// Package conductor implements the client side of the multi-bot
// turn-coordination protocol: a persistent WebSocket to the conductor
// service carrying tagged JSON frames for registration, heartbeats,
// mention reports, turn requests, and follow-up arbitration.
package conductor

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// State is the connection lifecycle state.
type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	StateRegistered   State = "registered"
	StateFailed       State = "failed"
)

const (
	// DefaultReconnectInterval is the fixed wait between reconnect attempts.
	DefaultReconnectInterval = 5 * time.Second
	// DefaultMaxReconnectAttempts bounds reconnection before giving up.
	DefaultMaxReconnectAttempts = 10
	// DialTimeout bounds a single connection attempt.
	DialTimeout = 10 * time.Second
	// HeartbeatInterval is how often a liveness frame is emitted while connected.
	HeartbeatInterval = 30 * time.Second

	// readyBufferSize bounds the response-ready channel. A host that stops
	// consuming loses notifications rather than blocking the turn path.
	readyBufferSize = 64
)

// Generator produces a reply for a granted turn. It is supplied by the host
// and may take arbitrarily long (it performs a model inference).
type Generator func(ctx context.Context, convo ConversationContext) (string, error)

// TypingFunc signals UI presence around response generation.
type TypingFunc func(channelID, guildID string, typing bool)

// ResponseReady notifies the host that a turn produced a response. Text is
// empty and Failed is set when the generator failed.
type ResponseReady struct {
	TurnID  string
	EventID string
	Text    string
	Failed  bool
}

// socket abstracts the websocket connection methods we use, enabling test fakes.
type socket interface {
	ReadMessage() (messageType int, data []byte, err error)
	WriteJSON(v any) error
	Close() error
}

// dialer abstracts connection establishment for testability.
type dialer interface {
	Dial(ctx context.Context, wsURL string, header http.Header) (socket, error)
}

// wsDialer is the production dialer backed by gorilla/websocket.
type wsDialer struct {
	timeout time.Duration
}

func (d *wsDialer) Dial(ctx context.Context, wsURL string, header http.Header) (socket, error) {
	wd := websocket.Dialer{HandshakeTimeout: d.timeout}
	dialCtx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()
	conn, resp, err := wd.DialContext(dialCtx, wsURL, header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial: %w (status %d)", err, resp.StatusCode)
		}
		return nil, err
	}
	return conn, nil
}

// Client participates in shared conversations coordinated by the conductor
// service. One Client owns one transport connection; all inbound frames pass
// through a single dispatch path.
type Client struct {
	botID     string
	botName   string
	apiKey    string
	wsURL     string
	interval  time.Duration // reconnect interval
	maxRetry  int
	generator Generator
	typing    TypingFunc
	onConnect func()
	dial      dialer

	// Fixed by the protocol; shortened in tests.
	hbInterval time.Duration
	fuTimeout  time.Duration
	guildRetry time.Duration

	mu             sync.Mutex
	state          State
	sock           socket
	gen            int // connection generation; stale read loops are ignored
	attempts       int
	runCtx         context.Context
	hbStop         chan struct{}
	reconnectTimer *time.Timer
	guilds         guildSync
	followups      map[string]*pendingFollowUp

	wmu sync.Mutex // serializes writes to the socket

	ready   chan ResponseReady
	invites chan BanterInvitePayload
}

// Opts holds parameters for creating a Client.
type Opts struct {
	BaseURL string // conductor HTTP(S) base URL; the ws(s) URL is derived
	APIKey  string
	BotID   string
	BotName string

	ReconnectInterval    time.Duration // defaults to DefaultReconnectInterval
	MaxReconnectAttempts int           // defaults to DefaultMaxReconnectAttempts

	Generator Generator  // required; invoked once per granted turn
	Typing    TypingFunc // optional; defaults to a no-op
	OnConnect func()     // optional; invoked after the transport opens

	// For testing: inject a fake transport instead of a real WebSocket.
	Dialer dialer
}

// New creates a Client. It does not connect.
func New(opts Opts) (*Client, error) {
	if opts.BaseURL == "" {
		return nil, fmt.Errorf("conductor: base URL is required")
	}
	if opts.APIKey == "" {
		return nil, fmt.Errorf("conductor: api key is required")
	}
	if opts.BotID == "" {
		return nil, fmt.Errorf("conductor: bot id is required")
	}
	if opts.Generator == nil {
		return nil, fmt.Errorf("conductor: generator is required")
	}
	wsURL, err := deriveWSURL(opts.BaseURL)
	if err != nil {
		return nil, err
	}

	interval := opts.ReconnectInterval
	if interval <= 0 {
		interval = DefaultReconnectInterval
	}
	maxRetry := opts.MaxReconnectAttempts
	if maxRetry <= 0 {
		maxRetry = DefaultMaxReconnectAttempts
	}
	typing := opts.Typing
	if typing == nil {
		typing = func(string, string, bool) {}
	}
	dial := opts.Dialer
	if dial == nil {
		dial = &wsDialer{timeout: DialTimeout}
	}

	return &Client{
		botID:      opts.BotID,
		botName:    opts.BotName,
		apiKey:     opts.APIKey,
		wsURL:      wsURL,
		interval:   interval,
		maxRetry:   maxRetry,
		generator:  opts.Generator,
		typing:     typing,
		onConnect:  opts.OnConnect,
		dial:       dial,
		hbInterval: HeartbeatInterval,
		fuTimeout:  FollowUpTimeout,
		guildRetry: GuildRetryInterval,
		state:      StateDisconnected,
		followups:  make(map[string]*pendingFollowUp),
		ready:      make(chan ResponseReady, readyBufferSize),
		invites:    make(chan BanterInvitePayload, 16),
	}, nil
}

// deriveWSURL swaps the http(s) scheme of the base URL for its ws(s)
// equivalent and appends the protocol endpoint path.
func deriveWSURL(base string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("conductor: parse base URL %q: %w", base, err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
		// already a websocket URL
	default:
		return "", fmt.Errorf("conductor: unsupported scheme %q in base URL", u.Scheme)
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + "/ws"
	return u.String(), nil
}

// Connect establishes the transport, sends the register frame, and starts
// the heartbeat. It is a no-op when already connected or registered. A dial
// that does not complete within DialTimeout fails the call.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	switch c.state {
	case StateConnected, StateRegistered:
		c.mu.Unlock()
		return nil
	case StateConnecting:
		c.mu.Unlock()
		return fmt.Errorf("conductor: connect already in progress")
	}
	c.state = StateConnecting
	c.runCtx = ctx
	c.mu.Unlock()

	header := http.Header{}
	header.Set("Authorization", "Bearer "+c.apiKey)

	sock, err := c.dial.Dial(ctx, c.wsURL, header)
	if err != nil {
		c.mu.Lock()
		c.state = StateDisconnected
		c.mu.Unlock()
		return fmt.Errorf("conductor: connect %s: %w", c.wsURL, err)
	}

	c.mu.Lock()
	c.sock = sock
	c.state = StateConnected
	c.gen++
	gen := c.gen
	hbStop := make(chan struct{})
	c.hbStop = hbStop
	c.mu.Unlock()

	log.Printf("conductor: connected to %s as %s", c.wsURL, c.botID)

	go c.readLoop(sock, gen)
	go c.heartbeatLoop(hbStop)

	if err := c.send(FrameRegister, RegisterPayload{BotID: c.botID, BotName: c.botName}); err != nil {
		log.Printf("conductor: send register: %v", err)
	}
	if c.onConnect != nil {
		c.onConnect()
	}
	return nil
}

// Disconnect cancels every outstanding timer, closes the transport, and
// resets the reconnect counter. Pending follow-ups resolve as denied so no
// caller is left waiting against a torn-down connection.
func (c *Client) Disconnect() {
	c.mu.Lock()
	c.gen++ // invalidate the running read loop
	if c.hbStop != nil {
		close(c.hbStop)
		c.hbStop = nil
	}
	if c.reconnectTimer != nil {
		c.reconnectTimer.Stop()
		c.reconnectTimer = nil
	}
	c.guilds.disarm()
	if c.sock != nil {
		c.sock.Close()
		c.sock = nil
	}
	c.state = StateDisconnected
	c.attempts = 0
	pending := c.takeFollowUpsLocked()
	c.mu.Unlock()

	for eventID, p := range pending {
		p.timer.Stop()
		p.ch <- FollowUpAckPayload{EventID: eventID, Approved: false, Reason: ReasonNotConnected}
	}
	log.Printf("conductor: disconnected")
}

// State returns the current connection state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Status is a point-in-time snapshot of the client's coordination state.
type Status struct {
	State             State `json:"state"`
	ReconnectAttempts int   `json:"reconnectAttempts"`
	PendingFollowUps  int   `json:"pendingFollowUps"`
	GuildSyncPending  bool  `json:"guildSyncPending"`
}

// Status returns a snapshot for observability surfaces.
func (c *Client) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Status{
		State:             c.state,
		ReconnectAttempts: c.attempts,
		PendingFollowUps:  len(c.followups),
		GuildSyncPending:  c.guilds.dirty,
	}
}

// Ready returns the channel of response-ready notifications, one per
// processed turn request.
func (c *Client) Ready() <-chan ResponseReady {
	return c.ready
}

// Invites returns the channel of banter invitations received from the
// conductor.
func (c *Client) Invites() <-chan BanterInvitePayload {
	return c.invites
}

// NotifyMention reports a user interaction to the conductor. It is
// fire-and-forget: when disconnected the event is silently dropped, never
// queued, and the call never fails to the host's message path.
func (c *Client) NotifyMention(event MentionPayload) {
	c.mu.Lock()
	st := c.state
	c.mu.Unlock()
	if st != StateConnected && st != StateRegistered {
		log.Printf("conductor: drop mention %s: not connected", event.EventID)
		return
	}
	if err := c.send(FrameMention, event); err != nil {
		log.Printf("conductor: drop mention %s: %v", event.EventID, err)
	}
}

// send encodes and writes one frame. Writes are serialized; gorilla permits
// only one concurrent writer.
func (c *Client) send(t FrameType, payload any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("conductor: encode %s payload: %w", t, err)
	}
	c.mu.Lock()
	sock := c.sock
	c.mu.Unlock()
	if sock == nil {
		return fmt.Errorf("conductor: send %s: not connected", t)
	}
	c.wmu.Lock()
	defer c.wmu.Unlock()
	return sock.WriteJSON(Frame{Type: t, Payload: raw})
}

// readLoop pumps inbound frames until the transport errors. All dispatch
// happens on this single goroutine except turn handling, which runs
// concurrently so a slow generator never blocks heartbeats or acks.
func (c *Client) readLoop(sock socket, gen int) {
	for {
		_, data, err := sock.ReadMessage()
		if err != nil {
			c.connLost(gen, err)
			return
		}
		c.dispatch(data)
	}
}

// dispatch decodes one inbound frame and routes it by type tag. Malformed
// and unknown frames are logged and dropped; the protocol continues.
func (c *Client) dispatch(data []byte) {
	frame, err := DecodeFrame(data)
	if err != nil {
		log.Printf("conductor: drop malformed frame: %v", err)
		return
	}
	if !frame.Known() {
		log.Printf("conductor: drop unknown frame type %q", frame.Type)
		return
	}

	switch frame.Type {
	case FrameRegisterAck:
		c.handleRegisterAck(frame)
	case FrameHeartbeatAck, FrameMentionAck, FrameResponseAck:
		// liveness acks carry no client-side state
	case FrameResponseRequest:
		var req ResponseRequestPayload
		if err := frame.Decode(&req); err != nil {
			log.Printf("conductor: drop response_request: %v", err)
			return
		}
		go c.handleTurn(req)
	case FrameFollowUpAck:
		var ack FollowUpAckPayload
		if err := frame.Decode(&ack); err != nil {
			log.Printf("conductor: drop follow_up_ack: %v", err)
			return
		}
		c.resolveFollowUp(ack)
	case FrameBanterInvite:
		var invite BanterInvitePayload
		if err := frame.Decode(&invite); err != nil {
			log.Printf("conductor: drop banter_invite: %v", err)
			return
		}
		select {
		case c.invites <- invite:
		default:
			log.Printf("conductor: invite channel full, dropping banter invite %s", invite.EventID)
		}
	case FrameError:
		var e ErrorPayload
		if err := frame.Decode(&e); err != nil {
			log.Printf("conductor: drop error frame: %v", err)
			return
		}
		log.Printf("conductor: service error: %s %s", e.Code, e.Message)
	default:
		// register, heartbeat, mention, response_complete, request_follow_up
		// are outbound-only; a server echoing them is noise.
		log.Printf("conductor: drop unexpected inbound frame %q", frame.Type)
	}
}

// handleRegisterAck completes the connect → register → ready lifecycle and
// flushes any queued guild update exactly once.
func (c *Client) handleRegisterAck(frame Frame) {
	var ack RegisterAckPayload
	if len(frame.Payload) > 0 {
		if err := frame.Decode(&ack); err != nil {
			log.Printf("conductor: drop register_ack: %v", err)
			return
		}
		// A bare ack means success; only an explicit rejection blocks.
		if !ack.Success && ack.Reason != "" {
			log.Printf("conductor: registration rejected: %s", ack.Reason)
			return
		}
	}
	c.mu.Lock()
	c.state = StateRegistered
	c.mu.Unlock()
	log.Printf("conductor: registered as %s (%s)", c.botID, c.botName)
	c.flushGuilds()
}

// connLost tears down the current connection and drives bounded
// reconnection. A stale generation means Disconnect or a newer connection
// already superseded this one.
func (c *Client) connLost(gen int, cause error) {
	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		return
	}
	if c.hbStop != nil {
		close(c.hbStop)
		c.hbStop = nil
	}
	if c.sock != nil {
		c.sock.Close()
		c.sock = nil
	}
	c.state = StateDisconnected
	c.mu.Unlock()

	log.Printf("conductor: connection lost: %v", cause)
	c.scheduleReconnect()
}

// scheduleReconnect arms a single retry timer with the fixed interval, or
// transitions to Failed once attempts are exhausted. Terminal failure is a
// logged event, never a panic into the host.
func (c *Client) scheduleReconnect() {
	c.mu.Lock()
	if c.state != StateDisconnected {
		c.mu.Unlock()
		return
	}
	if c.attempts >= c.maxRetry {
		c.state = StateFailed
		attempts := c.attempts
		c.mu.Unlock()
		log.Printf("conductor: giving up after %d reconnect attempts", attempts)
		return
	}
	c.attempts++
	attempt := c.attempts
	ctx := c.runCtx
	c.reconnectTimer = time.AfterFunc(c.interval, func() {
		if err := c.Connect(ctx); err != nil {
			log.Printf("conductor: reconnect attempt %d/%d: %v", attempt, c.maxRetry, err)
			c.scheduleReconnect()
		}
	})
	c.mu.Unlock()
	log.Printf("conductor: reconnecting in %s (attempt %d/%d)", c.interval, attempt, c.maxRetry)
}

// heartbeatLoop emits a liveness frame every HeartbeatInterval until the
// stop channel closes. Heartbeats are fire-and-forget; a missed ack is not
// a failure signal.
func (c *Client) heartbeatLoop(stop <-chan struct{}) {
	ticker := time.NewTicker(c.hbInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			c.sendHeartbeat()
		}
	}
}

// sendHeartbeat emits one heartbeat frame, attaching the guild list only
// while a sync is pending.
func (c *Client) sendHeartbeat() {
	c.mu.Lock()
	var guilds []string
	if c.guilds.dirty {
		guilds = c.guilds.pending
	}
	c.mu.Unlock()

	hb := HeartbeatPayload{
		BotID:     c.botID,
		Timestamp: time.Now().UTC(),
		Status:    "online",
		Guilds:    guilds,
	}
	if err := c.send(FrameHeartbeat, hb); err != nil {
		log.Printf("conductor: heartbeat: %v", err)
	}
}
