package bot

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/banterlabs/troupe/internal/models"
	"github.com/banterlabs/troupe/internal/stage"
	"github.com/robfig/cron/v3"
)

// cronParser uses standard 5-field cron expressions (minute, hour, dom, month, dow).
var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// nextCronDuration parses a 5-field cron expression and returns the duration
// until the next fire time. Returns 0 on parse error.
func nextCronDuration(expr string) time.Duration {
	sched, err := cronParser.Parse(expr)
	if err != nil {
		return 0
	}
	next := sched.Next(time.Now())
	d := time.Until(next)
	if d < 0 {
		return 0
	}
	return d
}

// runDigestScheduler posts a periodic coordination digest to the configured
// channel. It returns immediately if the digest is disabled.
func (d *Daemon) runDigestScheduler(ctx context.Context) {
	cfg := d.cfg.Digest
	if !cfg.Enabled || cfg.Cron == "" || cfg.ChannelID == "" {
		return
	}

	wait := nextCronDuration(cfg.Cron)
	if wait <= 0 {
		log.Printf("bot: digest cron %q did not parse; digest disabled", cfg.Cron)
		return
	}
	timer := time.NewTimer(wait)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
			d.fireDigest(ctx)
			if next := nextCronDuration(cfg.Cron); next > 0 {
				timer.Reset(next)
			} else {
				return
			}
		}
	}
}

// fireDigest builds and posts one digest covering the last 24 hours.
func (d *Daemon) fireDigest(ctx context.Context) {
	text, err := d.buildDigest(time.Now().Add(-24 * time.Hour))
	if err != nil {
		log.Printf("bot: build digest: %v", err)
		return
	}
	if text == "" {
		// No activity; suppress the digest.
		return
	}
	if err := d.adapter.Send(ctx, stage.OutboundMessage{
		ChannelID: d.cfg.Digest.ChannelID,
		Text:      text,
	}); err != nil {
		log.Printf("bot: send digest: %v", err)
	}
}

// buildDigest summarizes turn and follow-up activity since the cutoff.
// Returns an empty string when there was no activity.
func (d *Daemon) buildDigest(since time.Time) (string, error) {
	var completed, failed int64
	if err := d.db.Model(&models.TurnRecord{}).
		Where("created_at >= ? AND status = ?", since, models.TurnCompleted).
		Count(&completed).Error; err != nil {
		return "", fmt.Errorf("bot: count completed turns: %w", err)
	}
	if err := d.db.Model(&models.TurnRecord{}).
		Where("created_at >= ? AND status = ?", since, models.TurnFailed).
		Count(&failed).Error; err != nil {
		return "", fmt.Errorf("bot: count failed turns: %w", err)
	}

	var approved, denied int64
	if err := d.db.Model(&models.FollowUpRecord{}).
		Where("created_at >= ? AND approved = ?", since, true).
		Count(&approved).Error; err != nil {
		return "", fmt.Errorf("bot: count approved follow-ups: %w", err)
	}
	if err := d.db.Model(&models.FollowUpRecord{}).
		Where("created_at >= ? AND approved = ?", since, false).
		Count(&denied).Error; err != nil {
		return "", fmt.Errorf("bot: count denied follow-ups: %w", err)
	}

	if completed+failed+approved+denied == 0 {
		return "", nil
	}

	return fmt.Sprintf(
		"**%s coordination digest**\nTurns: %d completed, %d failed\nFollow-ups: %d approved, %d denied",
		d.cfg.Bot.Name, completed, failed, approved, denied), nil
}
