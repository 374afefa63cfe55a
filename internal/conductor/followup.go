package conductor

import (
	"context"
	"log"
	"time"
)

// FollowUpTimeout is how long a follow-up request waits for an ack before
// resolving locally as denied.
const FollowUpTimeout = 10 * time.Second

// Denial reasons produced locally, without a conductor round trip.
const (
	ReasonNotConnected   = "not_connected"
	ReasonTimeout        = "timeout"
	ReasonAlreadyPending = "already_pending"
	ReasonCancelled      = "cancelled"
)

// pendingFollowUp correlates one outstanding request with its eventual
// resolution. Exactly one of the ack path, the timeout path, or teardown
// delivers on ch; presence in the client's map decides the winner.
type pendingFollowUp struct {
	ch    chan FollowUpAckPayload
	timer *time.Timer
}

// RequestFollowUp bids for another turn within the same event. It blocks
// until the conductor acks or a local timeout fires, whichever comes first,
// and always returns a well-formed resolution, never an error.
//
// At most one arbitration per eventId may be pending at a time; a second
// request while the first is unresolved is denied with
// ReasonAlreadyPending and does not disturb the first.
func (c *Client) RequestFollowUp(ctx context.Context, eventID, targetBotID, reason string) FollowUpAckPayload {
	c.mu.Lock()
	if c.state != StateConnected && c.state != StateRegistered {
		c.mu.Unlock()
		return FollowUpAckPayload{EventID: eventID, Approved: false, Reason: ReasonNotConnected}
	}
	if _, exists := c.followups[eventID]; exists {
		c.mu.Unlock()
		log.Printf("conductor: follow-up for %s already pending", eventID)
		return FollowUpAckPayload{EventID: eventID, Approved: false, Reason: ReasonAlreadyPending}
	}
	p := &pendingFollowUp{ch: make(chan FollowUpAckPayload, 1)}
	p.timer = time.AfterFunc(c.fuTimeout, func() {
		c.expireFollowUp(eventID)
	})
	c.followups[eventID] = p
	c.mu.Unlock()

	req := FollowUpRequestPayload{
		EventID:     eventID,
		BotID:       c.botID,
		TargetBotID: targetBotID,
		Reason:      reason,
	}
	if err := c.send(FrameFollowUpRequest, req); err != nil {
		log.Printf("conductor: send follow-up %s: %v", eventID, err)
		if p, ok := c.removeFollowUp(eventID); ok {
			p.timer.Stop()
			return FollowUpAckPayload{EventID: eventID, Approved: false, Reason: ReasonNotConnected}
		}
		// Ack or timeout won the race while the send error surfaced.
		return <-p.ch
	}

	select {
	case ack := <-p.ch:
		return ack
	case <-ctx.Done():
		if p, ok := c.removeFollowUp(eventID); ok {
			p.timer.Stop()
			return FollowUpAckPayload{EventID: eventID, Approved: false, Reason: ReasonCancelled}
		}
		return <-p.ch
	}
}

// resolveFollowUp completes a pending arbitration from an inbound ack. An
// ack with no pending entry (late, duplicate, or unsolicited) is dropped.
func (c *Client) resolveFollowUp(ack FollowUpAckPayload) {
	p, ok := c.removeFollowUp(ack.EventID)
	if !ok {
		log.Printf("conductor: drop follow_up_ack for unknown event %s", ack.EventID)
		return
	}
	p.timer.Stop()
	p.ch <- ack
}

// expireFollowUp resolves a pending arbitration as denied when no ack
// arrived in time.
func (c *Client) expireFollowUp(eventID string) {
	p, ok := c.removeFollowUp(eventID)
	if !ok {
		return
	}
	log.Printf("conductor: follow-up %s timed out", eventID)
	p.ch <- FollowUpAckPayload{EventID: eventID, Approved: false, Reason: ReasonTimeout}
}

// removeFollowUp claims the pending entry for eventID. The claimer is the
// single party allowed to deliver its resolution.
func (c *Client) removeFollowUp(eventID string) (*pendingFollowUp, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.followups[eventID]
	if ok {
		delete(c.followups, eventID)
	}
	return p, ok
}

// takeFollowUpsLocked drains the pending table for teardown. Caller holds
// the client mutex.
func (c *Client) takeFollowUpsLocked() map[string]*pendingFollowUp {
	pending := c.followups
	c.followups = make(map[string]*pendingFollowUp)
	return pending
}
