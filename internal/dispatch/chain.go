package dispatch

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/dripsend/dripsend/internal/config"
	"github.com/dripsend/dripsend/internal/models"
	"github.com/dripsend/dripsend/internal/schedule"
	"github.com/dripsend/dripsend/internal/storage"
)

// Chain materializes dependent messages once their parent resolves. A
// dependent waits with a far-future send_at; its real send time is computed
// from when the parent was actually sent, not when it was queued.
type Chain struct {
	store     storage.Storage
	agg       *Aggregator
	notifier  Notifier
	clock     Clock
	log       zerolog.Logger
	window    schedule.Window
	maxWait   time.Duration
	staleness time.Duration
}

func NewChain(cfg config.DispatchConfig, store storage.Storage, agg *Aggregator, notifier Notifier, clock Clock, log zerolog.Logger) *Chain {
	return &Chain{
		store:     store,
		agg:       agg,
		notifier:  notifier,
		clock:     clock,
		log:       log,
		window:    cfg.Window(),
		maxWait:   cfg.MaxWait,
		staleness: cfg.ParentStaleness,
	}
}

// OnParentSent schedules every dependent of parentID relative to sentAt.
// Idempotent: only rows still in waiting_for_parent transition, so processing
// the same parent-sent event twice is a no-op the second time.
func (c *Chain) OnParentSent(ctx context.Context, parentID string, sentAt time.Time) error {
	deps, err := c.store.DependentsOf(ctx, parentID)
	if err != nil {
		return err
	}
	for i := range deps {
		dep := &deps[i]
		if dep.Status != models.MessageWaitingForParent {
			continue
		}
		dep.SendAt = schedule.SendAt(sentAt, dep.ParentDelay, c.window, c.clock.Now(), c.maxWait)
		dep.Status = models.MessageScheduled
		if err := c.store.UpdateMessage(ctx, dep); err != nil {
			return err
		}
		c.log.Debug().
			Str("message_id", dep.ID).
			Str("parent_id", parentID).
			Time("send_at", dep.SendAt).
			Msg("dependent message scheduled")
		c.notifier.MessageStatusChanged(dep)
	}
	return nil
}

// OnParentFailed cancels every dependent of parentID still waiting, recording
// a reason that points back to the parent failure.
func (c *Chain) OnParentFailed(ctx context.Context, parentID, reason string) error {
	deps, err := c.store.DependentsOf(ctx, parentID)
	if err != nil {
		return err
	}
	for i := range deps {
		dep := &deps[i]
		if dep.Status != models.MessageWaitingForParent {
			continue
		}
		if err := c.cancel(ctx, dep, fmt.Sprintf("parent message %s failed: %s", parentID, reason)); err != nil {
			return err
		}
	}
	return nil
}

// SweepStale cancels dependents whose parent reached a terminal failure
// without the event being processed, and dependents that waited longer than
// the staleness threshold on a parent that was never acknowledged.
func (c *Chain) SweepStale(ctx context.Context) (int, error) {
	cutoff := c.clock.Now().Add(-c.staleness)
	stale, err := c.store.StaleWaiting(ctx, cutoff)
	if err != nil {
		return 0, err
	}

	cancelled := 0
	for i := range stale {
		dep := &stale[i]
		reason := fmt.Sprintf("parent message unresolved after %s", c.staleness)
		if dep.ParentID != nil {
			if p, err := c.store.GetMessage(ctx, *dep.ParentID); err == nil && p != nil && (p.Status == models.MessageFailed || p.Status == models.MessageCancelled) {
				reason = fmt.Sprintf("parent message %s %s", p.ID, p.Status)
			}
		}
		if err := c.cancel(ctx, dep, reason); err != nil {
			return cancelled, err
		}
		cancelled++
	}
	return cancelled, nil
}

func (c *Chain) cancel(ctx context.Context, dep *models.Message, reason string) error {
	dep.Status = models.MessageCancelled
	dep.CancelReason = reason
	if err := c.store.UpdateMessage(ctx, dep); err != nil {
		return err
	}
	c.log.Info().
		Str("message_id", dep.ID).
		Str("reason", reason).
		Msg("dependent message cancelled")
	c.notifier.MessageStatusChanged(dep)
	return c.agg.Observe(ctx, dep.CampaignID)
}
