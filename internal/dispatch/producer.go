package dispatch

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/dripsend/dripsend/internal/models"
	"github.com/dripsend/dripsend/internal/schedule"
	"github.com/dripsend/dripsend/internal/storage"
)

var (
	ErrInvalidCampaign  = errors.New("invalid campaign")
	ErrCampaignNotFound = errors.New("campaign not found")
)

// CampaignSpec describes a campaign to create: one root message per
// recipient, plus an optional follow-up message per recipient that waits
// until its root is confirmed sent.
type CampaignSpec struct {
	Name          string         `json:"name"`
	Recipients    []string       `json:"recipients"`
	Body          string         `json:"body"`
	MediaURL      string         `json:"media_url,omitempty"`
	FollowUpBody  string         `json:"follow_up_body,omitempty"`
	FollowUpDelay schedule.Delay `json:"follow_up_delay,omitempty"`
}

// Producer creates campaigns with their message rows and handles external
// cancellation. Root messages enter scheduled; follow-ups enter
// waiting_for_parent with the far-future sentinel.
type Producer struct {
	store    storage.Storage
	notifier Notifier
	clock    Clock
	log      zerolog.Logger
}

func NewProducer(store storage.Storage, notifier Notifier, clock Clock, log zerolog.Logger) *Producer {
	return &Producer{store: store, notifier: notifier, clock: clock, log: log}
}

func (p *Producer) CreateCampaign(ctx context.Context, spec CampaignSpec) (*models.Campaign, error) {
	if spec.Name == "" {
		return nil, fmt.Errorf("%w: name is required", ErrInvalidCampaign)
	}
	if len(spec.Recipients) == 0 {
		return nil, fmt.Errorf("%w: at least one recipient is required", ErrInvalidCampaign)
	}
	if spec.Body == "" {
		return nil, fmt.Errorf("%w: body is required", ErrInvalidCampaign)
	}
	if spec.FollowUpDelay.Negative() {
		return nil, fmt.Errorf("%w: follow-up delay must not be negative", ErrInvalidCampaign)
	}
	if spec.FollowUpBody == "" && spec.FollowUpDelay.Duration() > 0 {
		return nil, fmt.Errorf("%w: follow-up delay given without a follow-up body", ErrInvalidCampaign)
	}

	now := p.clock.Now()
	c := &models.Campaign{
		ID:        models.NewID("cmp"),
		Name:      spec.Name,
		Status:    models.CampaignScheduled,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := p.store.CreateCampaign(ctx, c); err != nil {
		return nil, err
	}

	for _, recipient := range spec.Recipients {
		root := &models.Message{
			ID:         models.NewID("msg"),
			CampaignID: c.ID,
			Recipient:  recipient,
			Body:       spec.Body,
			MediaURL:   spec.MediaURL,
			Status:     models.MessageScheduled,
			SendAt:     now,
			CreatedAt:  now,
			UpdatedAt:  now,
		}
		if err := p.store.CreateMessage(ctx, root); err != nil {
			return nil, err
		}

		if spec.FollowUpBody != "" {
			parentID := root.ID
			dep := &models.Message{
				ID:          models.NewID("msg"),
				CampaignID:  c.ID,
				Recipient:   recipient,
				Body:        spec.FollowUpBody,
				Status:      models.MessageWaitingForParent,
				SendAt:      models.FarFuture,
				ParentID:    &parentID,
				ParentDelay: spec.FollowUpDelay.Duration(),
				CreatedAt:   now,
				UpdatedAt:   now,
			}
			if err := p.store.CreateMessage(ctx, dep); err != nil {
				return nil, err
			}
		}
	}

	p.log.Info().
		Str("campaign_id", c.ID).
		Str("name", c.Name).
		Int("recipients", len(spec.Recipients)).
		Bool("follow_up", spec.FollowUpBody != "").
		Msg("campaign created")
	return c, nil
}

// CancelCampaign cancels every member still scheduled or waiting on a parent.
// Messages already sent keep their recorded timestamps and stay untouched.
func (p *Producer) CancelCampaign(ctx context.Context, id string) (int64, error) {
	c, err := p.store.GetCampaign(ctx, id)
	if err != nil {
		return 0, err
	}
	if c == nil {
		return 0, ErrCampaignNotFound
	}
	if c.Status.Terminal() {
		return 0, fmt.Errorf("%w: campaign already %s", ErrInvalidCampaign, c.Status)
	}

	n, err := p.store.CancelPending(ctx, id, "campaign cancelled")
	if err != nil {
		return 0, err
	}
	if err := p.store.UpdateCampaignStatus(ctx, id, models.CampaignCancelled, nil); err != nil {
		return n, err
	}
	p.log.Info().Str("campaign_id", id).Int64("cancelled_messages", n).Msg("campaign cancelled")
	p.notifier.CampaignCancelled(id)
	return n, nil
}
