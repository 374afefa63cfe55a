package conductor

import (
	"encoding/json"
	"fmt"
	"time"
)

// FrameType discriminates the tagged JSON frames exchanged with the
// conductor service.
type FrameType string

const (
	FrameRegister         FrameType = "register"
	FrameRegisterAck      FrameType = "register_ack"
	FrameHeartbeat        FrameType = "heartbeat"
	FrameHeartbeatAck     FrameType = "heartbeat_ack"
	FrameMention          FrameType = "mention"
	FrameMentionAck       FrameType = "mention_ack"
	FrameResponseRequest  FrameType = "response_request"
	FrameResponseComplete FrameType = "response_complete"
	FrameResponseAck      FrameType = "response_ack"
	FrameFollowUpRequest  FrameType = "request_follow_up"
	FrameFollowUpAck      FrameType = "follow_up_ack"
	FrameBanterInvite     FrameType = "banter_invite"
	FrameError            FrameType = "error"
)

// knownFrames is the closed set of frame types this client understands.
// Anything else is dropped by the dispatcher, not treated as a protocol
// violation.
var knownFrames = map[FrameType]bool{
	FrameRegister:         true,
	FrameRegisterAck:      true,
	FrameHeartbeat:        true,
	FrameHeartbeatAck:     true,
	FrameMention:          true,
	FrameMentionAck:       true,
	FrameResponseRequest:  true,
	FrameResponseComplete: true,
	FrameResponseAck:      true,
	FrameFollowUpRequest:  true,
	FrameFollowUpAck:      true,
	FrameBanterInvite:     true,
	FrameError:            true,
}

// Frame is the wire envelope: a type tag plus an undecoded payload. The
// payload is decoded a second time once the dispatcher knows the concrete
// shape, so a bad payload for one frame never tears down the read loop.
type Frame struct {
	Type    FrameType       `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Known reports whether the frame's type tag is one this client understands.
func (f Frame) Known() bool {
	return knownFrames[f.Type]
}

// Decode unmarshals the frame's payload into the concrete shape for its
// type tag.
func (f Frame) Decode(v any) error {
	if len(f.Payload) == 0 {
		return fmt.Errorf("conductor: %s frame: missing payload", f.Type)
	}
	return json.Unmarshal(f.Payload, v)
}

// EncodeFrame marshals a typed payload into a wire frame.
func EncodeFrame(t FrameType, payload any) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("conductor: encode %s payload: %w", t, err)
	}
	data, err := json.Marshal(Frame{Type: t, Payload: raw})
	if err != nil {
		return nil, fmt.Errorf("conductor: encode %s frame: %w", t, err)
	}
	return data, nil
}

// DecodeFrame parses the envelope of an inbound frame without decoding the
// payload.
func DecodeFrame(data []byte) (Frame, error) {
	var f Frame
	if err := json.Unmarshal(data, &f); err != nil {
		return f, fmt.Errorf("conductor: decode frame: %w", err)
	}
	if f.Type == "" {
		return f, fmt.Errorf("conductor: decode frame: missing type tag")
	}
	return f, nil
}

// RegisterPayload announces this bot's identity after the transport opens.
type RegisterPayload struct {
	BotID   string `json:"botId"`
	BotName string `json:"botName"`
}

// RegisterAckPayload confirms registration.
type RegisterAckPayload struct {
	Success bool   `json:"success"`
	Reason  string `json:"reason,omitempty"`
}

// HeartbeatPayload is the periodic liveness frame. Guilds is present only
// while a guild list is pending or being actively synced.
type HeartbeatPayload struct {
	BotID     string    `json:"botId"`
	Timestamp time.Time `json:"timestamp"`
	Status    string    `json:"status"`
	Guilds    []string  `json:"guilds,omitempty"`
}

// ContextMessage is one prior turn in a conversation snapshot.
type ContextMessage struct {
	AuthorID   string    `json:"authorId"`
	AuthorName string    `json:"authorName"`
	Text       string    `json:"text"`
	Timestamp  time.Time `json:"timestamp"`
	IsBot      bool      `json:"isBot"`
}

// ConversationContext is the read-only snapshot the conductor attaches to a
// turn request. It is passed verbatim to the response generator.
type ConversationContext struct {
	Messages  []ContextMessage `json:"messages"`
	TurnCount int              `json:"turnCount"`
	MaxTurns  int              `json:"maxTurns"`
	IsBanter  bool             `json:"isBanter"`
	Bots      []string         `json:"bots,omitempty"`
}

// MentionPayload reports a user interaction that may need coordinated
// handling. The EventID is chosen by the host and must be derived from the
// originating message so a resend is idempotent at the conductor.
type MentionPayload struct {
	EventID       string   `json:"eventId"`
	MessageID     string   `json:"messageId"`
	ChannelID     string   `json:"channelId"`
	GuildID       string   `json:"guildId"`
	AuthorID      string   `json:"authorId"`
	Content       string   `json:"content"`
	MentionedBots []string `json:"mentionedBots,omitempty"`
	Triggers      []string `json:"triggers,omitempty"`
}

// MentionAckPayload acknowledges a mention frame.
type MentionAckPayload struct {
	EventID string `json:"eventId"`
}

// ResponseRequestPayload is an inbound invitation to produce a reply now.
// TimeoutAt is the conductor's expected deadline; this client records it but
// does not enforce it locally; turn reassignment is the conductor's job.
type ResponseRequestPayload struct {
	TurnID    string              `json:"turnId"`
	EventID   string              `json:"eventId"`
	Context   ConversationContext `json:"context"`
	TimeoutAt time.Time           `json:"timeoutAt,omitempty"`
	ChannelID string              `json:"channelId,omitempty"`
	GuildID   string              `json:"guildId,omitempty"`
}

// ResponseCompletePayload answers a turn request. ResponseText is empty when
// the generator failed.
type ResponseCompletePayload struct {
	TurnID       string `json:"turnId"`
	ResponseText string `json:"responseText"`
	MessageID    string `json:"messageId,omitempty"`
}

// ResponseAckPayload acknowledges a completed turn.
type ResponseAckPayload struct {
	TurnID string `json:"turnId"`
}

// FollowUpRequestPayload is a client-initiated bid for another turn within
// the same event.
type FollowUpRequestPayload struct {
	EventID     string `json:"eventId"`
	BotID       string `json:"botId"`
	TargetBotID string `json:"targetBotId,omitempty"`
	Reason      string `json:"reason,omitempty"`
}

// FollowUpAckPayload resolves a follow-up request, from either the conductor
// or a local timeout.
type FollowUpAckPayload struct {
	EventID       string `json:"eventId"`
	Approved      bool   `json:"approved"`
	Reason        string `json:"reason,omitempty"`
	TurnID        string `json:"turnId,omitempty"`
	QueuePosition int    `json:"queuePosition,omitempty"`
}

// BanterInvitePayload invites this bot into an ongoing multi-bot exchange.
// Received only; this client never initiates banter.
type BanterInvitePayload struct {
	EventID   string   `json:"eventId"`
	ChannelID string   `json:"channelId"`
	GuildID   string   `json:"guildId"`
	Bots      []string `json:"bots,omitempty"`
}

// ErrorPayload carries a conductor-side error report.
type ErrorPayload struct {
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
}
