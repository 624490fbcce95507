package dispatch

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/dripsend/dripsend/internal/models"
	"github.com/dripsend/dripsend/internal/storage"
)

// Aggregator derives campaign status from member message counts. Completion
// is terminal: once a campaign is completed or cancelled it never changes.
type Aggregator struct {
	store    storage.Storage
	notifier Notifier
	clock    Clock
	log      zerolog.Logger
}

func NewAggregator(store storage.Storage, notifier Notifier, clock Clock, log zerolog.Logger) *Aggregator {
	return &Aggregator{store: store, notifier: notifier, clock: clock, log: log}
}

// Observe recomputes counts for a campaign after a member transition and
// advances the campaign state: scheduled -> sending on the first processed
// message, anything -> completed once no pending member remains or every
// counted member is processed. Cancelled messages count toward neither total
// nor processed.
func (a *Aggregator) Observe(ctx context.Context, campaignID string) error {
	c, err := a.store.GetCampaign(ctx, campaignID)
	if err != nil {
		return err
	}
	if c == nil || c.Status.Terminal() {
		return nil
	}

	counts, err := a.store.CampaignCounts(ctx, campaignID)
	if err != nil {
		return err
	}
	if counts.Total == 0 {
		// Every member was cancelled; the cancel path owns the campaign status.
		return nil
	}

	if counts.Pending == 0 || counts.Processed() >= counts.Total {
		now := a.clock.Now()
		if err := a.store.UpdateCampaignStatus(ctx, c.ID, models.CampaignCompleted, &now); err != nil {
			return err
		}
		a.log.Info().
			Str("campaign_id", c.ID).
			Int64("total", counts.Total).
			Int64("failed", counts.Failed).
			Msg("campaign completed")
		a.notifier.CampaignCompleted(c.ID)
		return nil
	}

	if c.Status == models.CampaignScheduled && counts.Processed() > 0 {
		return a.store.UpdateCampaignStatus(ctx, c.ID, models.CampaignSending, nil)
	}
	return nil
}
