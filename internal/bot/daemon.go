// Package bot runs the Troupe daemon: it joins the chat platform through a
// stage.Adapter, reports mentions to the conductor, and posts responses when
// the conductor grants this bot a turn.
package bot

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"time"

	"github.com/banterlabs/troupe/internal/conductor"
	"github.com/banterlabs/troupe/internal/config"
	"github.com/banterlabs/troupe/internal/greenroom"
	"github.com/banterlabs/troupe/internal/models"
	"github.com/banterlabs/troupe/internal/stage"
	"gorm.io/gorm"
)

// TurnContext is the per-event state parked in the greenroom between the
// mention report and the granted turn.
type TurnContext struct {
	GuildID   string
	ChannelID string
	MessageID string
	AuthorID  string
}

// Daemon is the main troupe process.
type Daemon struct {
	db        *gorm.DB
	cfg       *config.Config
	adapter   stage.Adapter
	generator conductor.Generator
	out       io.Writer

	queue  *greenroom.Queue
	client *conductor.Client
}

// DaemonOpts holds parameters for creating a new Daemon.
type DaemonOpts struct {
	DB        *gorm.DB
	Config    *config.Config
	Adapter   stage.Adapter
	Generator conductor.Generator
	Out       io.Writer // defaults to os.Stdout
}

// NewDaemon creates a Daemon with the given options.
func NewDaemon(opts DaemonOpts) (*Daemon, error) {
	if opts.DB == nil {
		return nil, fmt.Errorf("bot: db is required")
	}
	if opts.Config == nil {
		return nil, fmt.Errorf("bot: config is required")
	}
	if opts.Adapter == nil {
		return nil, fmt.Errorf("bot: adapter is required")
	}
	if opts.Generator == nil {
		return nil, fmt.Errorf("bot: generator is required")
	}
	out := opts.Out
	if out == nil {
		out = os.Stdout
	}
	return &Daemon{
		db:        opts.DB,
		cfg:       opts.Config,
		adapter:   opts.Adapter,
		generator: opts.Generator,
		out:       out,
		queue:     greenroom.NewQueue(greenroom.QueueOpts{}),
	}, nil
}

// Client returns the conductor client, available after Run has started it.
func (d *Daemon) Client() *conductor.Client {
	return d.client
}

// Run starts the daemon. It connects the adapter and the conductor client,
// then pumps inbound messages and granted turns until the context is
// cancelled. On shutdown it disconnects both gracefully.
func (d *Daemon) Run(ctx context.Context) error {
	fmt.Fprintf(d.out, "Troupe connecting...\n")
	if err := d.adapter.Connect(ctx); err != nil {
		return fmt.Errorf("bot: connect adapter: %w", err)
	}

	client, err := conductor.New(conductor.Opts{
		BaseURL:              d.cfg.Conductor.URL,
		APIKey:               d.cfg.Bot.APIKey,
		BotID:                d.cfg.Bot.ID,
		BotName:              d.cfg.Bot.Name,
		ReconnectInterval:    time.Duration(d.cfg.Conductor.ReconnectIntervalSec) * time.Second,
		MaxReconnectAttempts: d.cfg.Conductor.MaxReconnectAttempts,
		Generator:            d.generator,
		Typing: func(channelID, guildID string, typing bool) {
			if err := d.adapter.Typing(ctx, channelID, typing); err != nil {
				log.Printf("bot: typing indicator: %v", err)
			}
		},
	})
	if err != nil {
		d.adapter.Close()
		return fmt.Errorf("bot: build conductor client: %w", err)
	}
	d.client = client

	if err := client.Connect(ctx); err != nil {
		d.adapter.Close()
		return fmt.Errorf("bot: connect conductor: %w", err)
	}
	client.UpdateGuilds(d.adapter.Guilds())

	inbound, err := d.adapter.Listen(ctx)
	if err != nil {
		client.Disconnect()
		d.adapter.Close()
		return fmt.Errorf("bot: listen: %w", err)
	}

	go d.queue.Run(ctx)
	go d.runDigestScheduler(ctx)

	fmt.Fprintf(d.out, "Troupe online\n")

	for {
		select {
		case <-ctx.Done():
			fmt.Fprintf(d.out, "Troupe shutting down...\n")
			client.Disconnect()
			if err := d.adapter.Close(); err != nil {
				log.Printf("bot: close adapter: %v", err)
			}
			fmt.Fprintf(d.out, "Troupe stopped\n")
			return nil

		case msg, ok := <-inbound:
			if !ok {
				fmt.Fprintf(d.out, "Troupe inbound channel closed\n")
				client.Disconnect()
				return nil
			}
			d.handleInbound(msg)

		case guilds, ok := <-d.adapter.GuildChanges():
			if ok {
				client.ForceGuildUpdate(guilds)
			}

		case ready := <-client.Ready():
			d.handleReady(ctx, ready)

		case invite := <-client.Invites():
			log.Printf("bot: invited to banter in channel %s (event %s, %d bots)",
				invite.ChannelID, invite.EventID, len(invite.Bots))
		}
	}
}

// handleInbound reports qualifying messages to the conductor and parks the
// message context in the greenroom until a turn is granted.
func (d *Daemon) handleInbound(msg stage.InboundMessage) {
	if !msg.Mentioned {
		return
	}

	eventID := EventID(msg.MessageID)
	if !d.queue.Put(eventID, TurnContext{
		GuildID:   msg.GuildID,
		ChannelID: msg.ChannelID,
		MessageID: msg.MessageID,
		AuthorID:  msg.UserID,
	}) {
		// Duplicate delivery of the same message; the first report stands.
		return
	}

	d.client.NotifyMention(conductor.MentionPayload{
		EventID:   eventID,
		MessageID: msg.MessageID,
		ChannelID: msg.ChannelID,
		GuildID:   msg.GuildID,
		AuthorID:  msg.UserID,
		Content:   msg.Text,
	})
}

// handleReady posts the generated response to the originating channel and
// records the turn.
func (d *Daemon) handleReady(ctx context.Context, ready conductor.ResponseReady) {
	entry, ok := d.queue.Get(ready.EventID)

	rec := models.TurnRecord{
		TurnID:   ready.TurnID,
		EventID:  ready.EventID,
		Response: ready.Text,
		Status:   models.TurnCompleted,
	}
	if ready.Failed {
		rec.Status = models.TurnFailed
	}

	var tc TurnContext
	if ok {
		tc, _ = entry.Payload.(TurnContext)
		rec.GuildID = tc.GuildID
		rec.ChannelID = tc.ChannelID
		rec.MessageID = tc.MessageID
		rec.LatencyMS = time.Since(entry.CreatedAt).Milliseconds()
	}

	if !ready.Failed && ready.Text != "" && tc.ChannelID != "" {
		err := d.adapter.Send(ctx, stage.OutboundMessage{
			ChannelID: tc.ChannelID,
			ReplyToID: tc.MessageID,
			Text:      ready.Text,
		})
		if err != nil {
			log.Printf("bot: post response for event %s: %v", ready.EventID, err)
			rec.Status = models.TurnFailed
			rec.Error = err.Error()
		}
	}

	now := time.Now()
	rec.CompletedAt = &now
	if err := d.db.Create(&rec).Error; err != nil {
		log.Printf("bot: record turn %s: %v", ready.TurnID, err)
	}
}

// RequestFollowUp bids for another turn in an event this bot already
// responded to. It blocks until the conductor resolves the request (or the
// local timeout fires) and records the outcome.
func (d *Daemon) RequestFollowUp(ctx context.Context, eventID, targetBotID, reason string) conductor.FollowUpAckPayload {
	ack := d.client.RequestFollowUp(ctx, eventID, targetBotID, reason)

	now := time.Now()
	rec := models.FollowUpRecord{
		EventID:       eventID,
		TargetBotID:   targetBotID,
		Reason:        reason,
		Approved:      ack.Approved,
		TurnID:        ack.TurnID,
		QueuePosition: ack.QueuePosition,
		ResolvedAt:    &now,
	}
	if !ack.Approved {
		rec.DenyReason = ack.Reason
	}
	if err := d.db.Create(&rec).Error; err != nil {
		log.Printf("bot: record follow-up for event %s: %v", eventID, err)
	}
	return ack
}

// EventID derives the coordination event id from a platform message id, so
// a re-reported mention maps to the same event at the conductor.
func EventID(messageID string) string {
	return "evt-" + messageID
}
