package conductor

import (
	"log"
	"time"
)

// GuildRetryInterval is how long the sync queue waits before re-checking
// connectivity when a guild update could not be sent.
const GuildRetryInterval = 5 * time.Second

// guildSync buffers the host's desired guild list until it can be sent.
// Last write wins: a newer list supersedes any queued one, never a list of
// lists. Guarded by the client mutex.
type guildSync struct {
	pending []string
	dirty   bool
	sending bool // a flush holds this so concurrent flushes cannot double-send
	timer   *time.Timer
}

func (g *guildSync) disarm() {
	if g.timer != nil {
		g.timer.Stop()
		g.timer = nil
	}
}

// UpdateGuilds records the host's current guild list as the desired state
// and syncs it to the conductor. If the list was already sent and has not
// changed, this is a no-op; use ForceGuildUpdate after membership changes.
func (c *Client) UpdateGuilds(guilds []string) {
	c.mu.Lock()
	if !c.guilds.dirty && sameGuilds(c.guilds.pending, guilds) {
		c.mu.Unlock()
		return
	}
	c.guilds.pending = guilds
	c.guilds.dirty = true
	c.mu.Unlock()
	c.flushGuilds()
}

// ForceGuildUpdate re-queues the list even if an identical one was already
// considered sent.
func (c *Client) ForceGuildUpdate(guilds []string) {
	c.mu.Lock()
	c.guilds.pending = guilds
	c.guilds.dirty = true
	c.mu.Unlock()
	c.flushGuilds()
}

// flushGuilds sends the pending guild list if the transport is open and
// registered. Otherwise it arms a single retry timer that re-checks
// connectivity; the timer re-arms itself until the list is sent, and
// disarms on success.
func (c *Client) flushGuilds() {
	c.mu.Lock()
	if !c.guilds.dirty || c.guilds.sending {
		if !c.guilds.dirty {
			c.guilds.disarm()
		}
		c.mu.Unlock()
		return
	}
	if c.state != StateRegistered {
		c.armGuildRetryLocked()
		c.mu.Unlock()
		return
	}
	c.guilds.sending = true
	guilds := c.guilds.pending
	c.mu.Unlock()

	hb := HeartbeatPayload{
		BotID:     c.botID,
		Timestamp: time.Now().UTC(),
		Status:    "online",
		Guilds:    guilds,
	}
	if err := c.send(FrameHeartbeat, hb); err != nil {
		log.Printf("conductor: guild sync: %v", err)
		c.mu.Lock()
		c.guilds.sending = false
		c.armGuildRetryLocked()
		c.mu.Unlock()
		return
	}

	c.mu.Lock()
	c.guilds.sending = false
	// Only clear if no newer list arrived while sending.
	if sameGuilds(c.guilds.pending, guilds) {
		c.guilds.dirty = false
		c.guilds.disarm()
	}
	c.mu.Unlock()
	log.Printf("conductor: synced %d guilds", len(guilds))
}

// armGuildRetryLocked schedules one retry. Caller holds the client mutex.
func (c *Client) armGuildRetryLocked() {
	if c.guilds.timer != nil {
		return
	}
	c.guilds.timer = time.AfterFunc(c.guildRetry, func() {
		c.mu.Lock()
		c.guilds.timer = nil
		c.mu.Unlock()
		c.flushGuilds()
	})
}

func sameGuilds(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
