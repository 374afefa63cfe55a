package conductor

import (
	"context"
	"encoding/json"
	"testing"
	"time"
)

// guildFrames returns the heartbeat frames that carry a guild list.
func guildFrames(sock *mockSocket) []HeartbeatPayload {
	var out []HeartbeatPayload
	for _, f := range sock.WrittenOfType(FrameHeartbeat) {
		var hb HeartbeatPayload
		if err := json.Unmarshal(f.Payload, &hb); err != nil {
			continue
		}
		if len(hb.Guilds) > 0 {
			out = append(out, hb)
		}
	}
	return out
}

func TestUpdateGuilds_QueuedUntilRegistered(t *testing.T) {
	c, d := newTestClient(t, nil, nil)
	c.hbInterval = time.Hour // keep the scheduler out of this test
	defer c.Disconnect()

	// Two updates before any connection: last write wins, one send.
	c.UpdateGuilds([]string{"g1"})
	c.UpdateGuilds([]string{"g1", "g2"})

	if !c.Status().GuildSyncPending {
		t.Fatal("guild sync should be pending before registration")
	}

	sock := register(t, c, d)

	waitFor(t, time.Second, "guild sync", func() bool {
		return len(guildFrames(sock)) > 0
	})
	// Let any stray retry timer fire; the count must stay at one.
	time.Sleep(50 * time.Millisecond)

	frames := guildFrames(sock)
	if len(frames) != 1 {
		t.Fatalf("guild heartbeats = %d, want exactly 1", len(frames))
	}
	if got := frames[0].Guilds; len(got) != 2 || got[0] != "g1" || got[1] != "g2" {
		t.Errorf("guilds = %v, want [g1 g2]", got)
	}
	if c.Status().GuildSyncPending {
		t.Error("guild sync still pending after send")
	}
}

func TestUpdateGuilds_ImmediateWhenRegistered(t *testing.T) {
	c, d := newTestClient(t, nil, nil)
	c.hbInterval = time.Hour
	defer c.Disconnect()
	sock := register(t, c, d)

	c.UpdateGuilds([]string{"g1"})
	waitFor(t, time.Second, "guild sync", func() bool {
		return len(guildFrames(sock)) == 1
	})
}

func TestUpdateGuilds_UnchangedListNotResent(t *testing.T) {
	c, d := newTestClient(t, nil, nil)
	c.hbInterval = time.Hour
	defer c.Disconnect()
	sock := register(t, c, d)

	c.UpdateGuilds([]string{"g1", "g2"})
	waitFor(t, time.Second, "first sync", func() bool {
		return len(guildFrames(sock)) == 1
	})

	c.UpdateGuilds([]string{"g1", "g2"})
	time.Sleep(30 * time.Millisecond)
	if n := len(guildFrames(sock)); n != 1 {
		t.Errorf("guild heartbeats = %d, want 1 (unchanged list not resent)", n)
	}
}

func TestForceGuildUpdate_Requeues(t *testing.T) {
	c, d := newTestClient(t, nil, nil)
	c.hbInterval = time.Hour
	defer c.Disconnect()
	sock := register(t, c, d)

	c.UpdateGuilds([]string{"g1"})
	waitFor(t, time.Second, "first sync", func() bool {
		return len(guildFrames(sock)) == 1
	})

	c.ForceGuildUpdate([]string{"g1"})
	waitFor(t, time.Second, "forced resync", func() bool {
		return len(guildFrames(sock)) == 2
	})
}

func TestGuildRetry_FlushesAfterLateRegistration(t *testing.T) {
	c, d := newTestClient(t, nil, nil)
	c.hbInterval = time.Hour
	defer c.Disconnect()

	c.UpdateGuilds([]string{"g1"})

	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	sock := d.Last()

	// Not yet registered: the retry timer re-arms without sending.
	time.Sleep(35 * time.Millisecond)
	if n := len(guildFrames(sock)); n != 0 {
		t.Fatalf("guild heartbeats before registration = %d, want 0", n)
	}

	sock.Inject(FrameRegisterAck, RegisterAckPayload{Success: true})
	waitFor(t, time.Second, "sync after registration", func() bool {
		return len(guildFrames(sock)) == 1
	})
}
