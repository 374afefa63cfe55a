package conductor

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"
)

func TestTurn_HappyPath(t *testing.T) {
	var seen ConversationContext
	gen := func(ctx context.Context, convo ConversationContext) (string, error) {
		seen = convo
		return "hello", nil
	}
	typing := &typingRecorder{}
	c, d := newTestClient(t, gen, typing.fn)
	defer c.Disconnect()
	sock := register(t, c, d)

	sock.Inject(FrameResponseRequest, ResponseRequestPayload{
		TurnID:    "t1",
		EventID:   "e1",
		ChannelID: "c1",
		GuildID:   "g1",
		Context: ConversationContext{
			Messages:  []ContextMessage{{AuthorID: "u1", AuthorName: "alice", Text: "hi"}},
			TurnCount: 1,
			MaxTurns:  4,
		},
	})

	waitFor(t, time.Second, "turn completion", func() bool {
		return len(sock.WrittenOfType(FrameResponseComplete)) == 1
	})

	var done ResponseCompletePayload
	if err := json.Unmarshal(sock.WrittenOfType(FrameResponseComplete)[0].Payload, &done); err != nil {
		t.Fatalf("unmarshal completion: %v", err)
	}
	if done.TurnID != "t1" || done.ResponseText != "hello" {
		t.Errorf("completion = %+v, want turnId=t1 text=hello", done)
	}

	select {
	case r := <-c.Ready():
		if r.TurnID != "t1" || r.EventID != "e1" || r.Text != "hello" || r.Failed {
			t.Errorf("ready = %+v, want (t1, e1, hello)", r)
		}
	case <-time.After(time.Second):
		t.Fatal("no ready notification")
	}

	if got := typing.snapshot(); len(got) != 2 || !got[0] || got[1] {
		t.Errorf("typing calls = %v, want [true false]", got)
	}
	if len(seen.Messages) != 1 || seen.Messages[0].AuthorName != "alice" {
		t.Errorf("generator context = %+v", seen)
	}
}

func TestTurn_GeneratorFailure(t *testing.T) {
	gen := func(ctx context.Context, convo ConversationContext) (string, error) {
		return "", fmt.Errorf("model overloaded")
	}
	typing := &typingRecorder{}
	c, d := newTestClient(t, gen, typing.fn)
	defer c.Disconnect()
	sock := register(t, c, d)

	sock.Inject(FrameResponseRequest, ResponseRequestPayload{
		TurnID:    "t3",
		EventID:   "e3",
		ChannelID: "c1",
		GuildID:   "g1",
	})

	waitFor(t, time.Second, "turn completion", func() bool {
		return len(sock.WrittenOfType(FrameResponseComplete)) == 1
	})

	var done ResponseCompletePayload
	if err := json.Unmarshal(sock.WrittenOfType(FrameResponseComplete)[0].Payload, &done); err != nil {
		t.Fatalf("unmarshal completion: %v", err)
	}
	if done.TurnID != "t3" || done.ResponseText != "" {
		t.Errorf("completion = %+v, want turnId=t3 empty text", done)
	}

	// The host still gets notified, with an empty string, so it never hangs.
	select {
	case r := <-c.Ready():
		if r.EventID != "e3" || r.Text != "" || !r.Failed {
			t.Errorf("ready = %+v, want (e3, \"\", failed)", r)
		}
	case <-time.After(time.Second):
		t.Fatal("no ready notification on failure")
	}

	if got := typing.snapshot(); len(got) != 2 || !got[0] || got[1] {
		t.Errorf("typing calls = %v, want [true false] even on failure", got)
	}
}

func TestTurn_NoChannelSkipsTyping(t *testing.T) {
	typing := &typingRecorder{}
	c, d := newTestClient(t, nil, typing.fn)
	defer c.Disconnect()
	sock := register(t, c, d)

	sock.Inject(FrameResponseRequest, ResponseRequestPayload{TurnID: "t4", EventID: "e4"})

	waitFor(t, time.Second, "turn completion", func() bool {
		return len(sock.WrittenOfType(FrameResponseComplete)) == 1
	})
	if got := typing.snapshot(); len(got) != 0 {
		t.Errorf("typing calls = %v, want none without channel/guild", got)
	}
}

func TestTurn_SlowGeneratorDoesNotBlockHeartbeat(t *testing.T) {
	release := make(chan struct{})
	gen := func(ctx context.Context, convo ConversationContext) (string, error) {
		<-release
		return "late", nil
	}
	c, d := newTestClient(t, gen, nil)
	defer c.Disconnect()
	sock := register(t, c, d)

	sock.Inject(FrameResponseRequest, ResponseRequestPayload{TurnID: "t6", EventID: "e6"})

	// Heartbeats keep flowing while the generator is suspended.
	before := len(sock.WrittenOfType(FrameHeartbeat))
	waitFor(t, time.Second, "heartbeats during generation", func() bool {
		return len(sock.WrittenOfType(FrameHeartbeat)) >= before+2
	})

	close(release)
	waitFor(t, time.Second, "turn completion", func() bool {
		return len(sock.WrittenOfType(FrameResponseComplete)) == 1
	})
}

func TestBanterInvite_Delivered(t *testing.T) {
	c, d := newTestClient(t, nil, nil)
	defer c.Disconnect()
	sock := register(t, c, d)

	sock.Inject(FrameBanterInvite, BanterInvitePayload{
		EventID:   "e7",
		ChannelID: "c1",
		GuildID:   "g1",
		Bots:      []string{"bot-a", "bot-b"},
	})

	select {
	case invite := <-c.Invites():
		if invite.EventID != "e7" || len(invite.Bots) != 2 {
			t.Errorf("invite = %+v", invite)
		}
	case <-time.After(time.Second):
		t.Fatal("banter invite not delivered")
	}
}
