package dispatch

import (
	"context"
	"sync"

	"github.com/rs/zerolog"

	"github.com/dripsend/dripsend/internal/channel"
	"github.com/dripsend/dripsend/internal/models"
	"github.com/dripsend/dripsend/internal/storage"
)

// AckProcessor applies gateway acknowledgments to messages. Acks arrive at
// least once, possibly out of order and possibly unmatched; status only ever
// moves forward through sent -> delivered -> read.
type AckProcessor struct {
	store    storage.Storage
	chain    *Chain
	agg      *Aggregator
	notifier Notifier
	clock    Clock
	log      zerolog.Logger

	// Serializes ack application. Webhook deliveries land on concurrent
	// handler goroutines; without this a slow lower-level write could land
	// after a faster higher-level one and move the status backwards.
	mu sync.Mutex
}

func NewAckProcessor(store storage.Storage, chain *Chain, agg *Aggregator, notifier Notifier, clock Clock, log zerolog.Logger) *AckProcessor {
	return &AckProcessor{store: store, chain: chain, agg: agg, notifier: notifier, clock: clock, log: log}
}

// Attach subscribes the processor to a channel's ack stream.
func (p *AckProcessor) Attach(ch channel.Channel) {
	ch.Subscribe(func(ack channel.Ack) {
		if err := p.Process(context.Background(), ack); err != nil {
			p.log.Error().Err(err).Str("external_id", ack.ExternalID).Msg("ack processing failed")
		}
	})
}

// Process correlates an ack by exact external id and advances the message
// status if the ack level is strictly ahead of it. Unmatched acks are logged
// and dropped; stale or regressive acks are ignored. Neither is fatal.
// Acks are applied one at a time: the check and the write happen under the
// same lock, so status only ever moves forward.
func (p *AckProcessor) Process(ctx context.Context, ack channel.Ack) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	levelRank, ok := ack.Level.Rank()
	if !ok {
		acksTotal.WithLabelValues(string(ack.Level), "invalid").Inc()
		p.log.Warn().Str("level", string(ack.Level)).Str("external_id", ack.ExternalID).
			Msg("dropping ack with unknown level")
		return nil
	}

	m, err := p.store.GetMessageByExternalID(ctx, ack.ExternalID)
	if err != nil {
		return err
	}
	if m == nil {
		acksTotal.WithLabelValues(string(ack.Level), "unmatched").Inc()
		p.log.Warn().Str("external_id", ack.ExternalID).Str("level", string(ack.Level)).
			Msg("ack did not match any message, dropping")
		return nil
	}

	current, advanceable := m.Status.Rank()
	if !advanceable || levelRank <= current {
		acksTotal.WithLabelValues(string(ack.Level), "stale").Inc()
		p.log.Debug().
			Str("message_id", m.ID).
			Str("status", string(m.Status)).
			Str("level", string(ack.Level)).
			Msg("ignoring ack that would not advance status")
		return nil
	}

	now := p.clock.Now()
	firstSent := current < 1
	m.Status = ack.Level.Status()
	switch ack.Level {
	case models.AckSent:
		if m.SentAt == nil {
			m.SentAt = &now
		}
	case models.AckDelivered:
		if m.SentAt == nil {
			m.SentAt = &now
		}
		if m.DeliveredAt == nil {
			m.DeliveredAt = &now
		}
	case models.AckRead:
		if m.SentAt == nil {
			m.SentAt = &now
		}
		if m.ReadAt == nil {
			m.ReadAt = &now
		}
	}

	if err := p.store.UpdateMessage(ctx, m); err != nil {
		return err
	}
	acksTotal.WithLabelValues(string(ack.Level), "applied").Inc()
	p.log.Debug().
		Str("message_id", m.ID).
		Str("status", string(m.Status)).
		Msg("ack applied")
	p.notifier.MessageStatusChanged(m)

	// First confirmation the message left the gateway: release any dependents.
	if firstSent {
		if err := p.chain.OnParentSent(ctx, m.ID, *m.SentAt); err != nil {
			return err
		}
	}
	return p.agg.Observe(ctx, m.CampaignID)
}
