package conductor

import (
	"context"
	"log"
)

// handleTurn processes one inbound response_request. The typing indicator
// is toggled on then off exactly once on every path, the generator is
// invoked exactly once, and a response_complete frame is always sent
// (empty on generator failure) so the conductor's turn is never left
// hanging. Runs on its own goroutine; a slow generator must not stall the
// dispatch path.
func (c *Client) handleTurn(req ResponseRequestPayload) {
	log.Printf("conductor: turn %s granted for event %s", req.TurnID, req.EventID)

	hasChannel := req.ChannelID != "" || req.GuildID != ""
	if hasChannel {
		c.typing(req.ChannelID, req.GuildID, true)
	}

	ctx := c.runContext()
	text, err := c.generator(ctx, req.Context)
	failed := err != nil
	if failed {
		log.Printf("conductor: turn %s generator failed: %v", req.TurnID, err)
		text = ""
	}

	if hasChannel {
		c.typing(req.ChannelID, req.GuildID, false)
	}

	if err := c.send(FrameResponseComplete, ResponseCompletePayload{
		TurnID:       req.TurnID,
		ResponseText: text,
	}); err != nil {
		log.Printf("conductor: turn %s completion: %v", req.TurnID, err)
	}

	// The host gets the notification even on failure (empty text) so it
	// never hangs waiting for this turn.
	select {
	case c.ready <- ResponseReady{TurnID: req.TurnID, EventID: req.EventID, Text: text, Failed: failed}:
	default:
		log.Printf("conductor: ready channel full, dropping notification for event %s", req.EventID)
	}
}

// runContext returns the context the client was connected with, for passing
// to the generator.
func (c *Client) runContext() context.Context {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.runCtx != nil {
		return c.runCtx
	}
	return context.Background()
}
