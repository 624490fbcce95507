package dispatch

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/dripsend/dripsend/internal/channel"
	"github.com/dripsend/dripsend/internal/config"
	"github.com/dripsend/dripsend/internal/models"
	"github.com/dripsend/dripsend/internal/schedule"
	"github.com/dripsend/dripsend/internal/storage"
)

type State int

const (
	StateIdle State = iota
	StateDispatching
	StateWaiting
)

func (s State) String() string {
	switch s {
	case StateDispatching:
		return "dispatching"
	case StateWaiting:
		return "waiting"
	default:
		return "idle"
	}
}

// Dispatcher is the per-queue scheduling cursor. It selects the earliest-due
// scheduled message, sends it through the channel, paces consecutive sends,
// and stays idle while the current instant is outside the send window. At
// most one send is in flight; all state transitions happen on this single
// timeline, so messages need no locking.
type Dispatcher struct {
	store    storage.Storage
	ch       channel.Channel
	chain    *Chain
	agg      *Aggregator
	notifier Notifier
	clock    Clock
	log      zerolog.Logger

	window        schedule.Window
	interval      time.Duration
	maxPerDay     int
	idleRecheck   time.Duration
	windowRecheck time.Duration

	state       State
	lastSentAt  *time.Time
	lastSweptAt time.Time
}

func NewDispatcher(cfg config.DispatchConfig, store storage.Storage, ch channel.Channel, chain *Chain, agg *Aggregator, notifier Notifier, clock Clock, log zerolog.Logger) *Dispatcher {
	return &Dispatcher{
		store:         store,
		ch:            ch,
		chain:         chain,
		agg:           agg,
		notifier:      notifier,
		clock:         clock,
		log:           log,
		window:        cfg.Window(),
		interval:      cfg.Interval(),
		maxPerDay:     cfg.MaxMessagesPerDay,
		idleRecheck:   cfg.IdleRecheck,
		windowRecheck: cfg.WindowRecheck,
	}
}

func (d *Dispatcher) State() State { return d.state }

// Run drives the queue until the context is cancelled. Each tick is one call
// to Step; the returned wait decides when the next tick fires.
func (d *Dispatcher) Run(ctx context.Context) {
	d.log.Info().
		Dur("interval", d.interval).
		Int("max_per_day", d.maxPerDay).
		Msg("dispatcher started")

	for {
		wait, err := d.Step(ctx)
		if err != nil {
			d.log.Error().Err(err).Msg("dispatch tick failed")
			if wait <= 0 {
				wait = d.idleRecheck
			}
		}
		if wait <= 0 {
			continue
		}
		select {
		case <-ctx.Done():
			d.log.Info().Msg("dispatcher stopped")
			return
		case <-time.After(wait):
		}
	}
}

// Step evaluates the queue once against the current instant and performs at
// most one send attempt. It returns how long to wait before the next tick;
// zero means re-evaluate immediately (a send just completed).
func (d *Dispatcher) Step(ctx context.Context) (time.Duration, error) {
	now := d.clock.Now()
	d.maybeSweep(ctx, now)

	if !d.window.Contains(now) {
		if d.state != StateIdle {
			d.log.Info().Time("next_open", d.window.NextOpen(now)).Msg("outside send window, pausing")
		}
		d.state = StateIdle
		wait := min(d.windowRecheck, d.window.NextOpen(now).Sub(now))
		if wait <= 0 {
			wait = time.Second
		}
		return wait, nil
	}

	if d.maxPerDay > 0 {
		sentToday, err := d.store.CountSentSince(ctx, startOfDay(now))
		if err != nil {
			return d.idleRecheck, err
		}
		if sentToday >= int64(d.maxPerDay) {
			if d.state != StateIdle {
				d.log.Info().Int64("sent_today", sentToday).Msg("daily send cap reached, pausing")
			}
			d.state = StateIdle
			return d.windowRecheck, nil
		}
	}

	if d.lastSentAt != nil {
		if next := d.lastSentAt.Add(d.interval); now.Before(next) {
			d.state = StateWaiting
			return next.Sub(now), nil
		}
	}

	due, err := d.store.DueMessages(ctx, now, 1)
	if err != nil {
		return d.idleRecheck, err
	}
	if len(due) == 0 {
		d.state = StateIdle
		return d.idleRecheck, nil
	}

	d.state = StateDispatching
	d.dispatch(ctx, &due[0])

	attemptedAt := d.clock.Now()
	d.lastSentAt = &attemptedAt
	d.state = StateWaiting
	return 0, nil
}

// dispatch performs exactly one send attempt. A failure fails only this
// message; the loop proceeds to the next eligible one.
func (d *Dispatcher) dispatch(ctx context.Context, m *models.Message) {
	timer := prometheus.NewTimer(sendDuration)
	externalID, err := d.ch.Send(ctx, m.Recipient, m.Body, m.MediaURL)
	timer.ObserveDuration()

	now := d.clock.Now()
	if err != nil {
		m.Status = models.MessageFailed
		m.ErrorMessage = err.Error()
		if uerr := d.store.UpdateMessage(ctx, m); uerr != nil {
			d.log.Error().Err(uerr).Str("message_id", m.ID).Msg("failed to record send failure")
		}
		sendsTotal.WithLabelValues("failure").Inc()
		d.log.Warn().Err(err).
			Str("message_id", m.ID).
			Str("recipient", m.Recipient).
			Msg("send failed")
		d.notifier.MessageStatusChanged(m)
		if cerr := d.chain.OnParentFailed(ctx, m.ID, m.ErrorMessage); cerr != nil {
			d.log.Error().Err(cerr).Str("message_id", m.ID).Msg("failed to cancel dependents")
		}
	} else {
		m.ExternalID = externalID
		m.Status = models.MessageSent
		m.SentAt = &now
		// Recorded before it is reported sent: storage first, events after.
		if uerr := d.store.UpdateMessage(ctx, m); uerr != nil {
			d.log.Error().Err(uerr).Str("message_id", m.ID).Msg("failed to record sent message")
		}
		sendsTotal.WithLabelValues("success").Inc()
		d.log.Info().
			Str("message_id", m.ID).
			Str("external_id", externalID).
			Str("recipient", m.Recipient).
			Msg("message sent")
		d.notifier.MessageStatusChanged(m)
		if cerr := d.chain.OnParentSent(ctx, m.ID, now); cerr != nil {
			d.log.Error().Err(cerr).Str("message_id", m.ID).Msg("failed to schedule dependents")
		}
	}

	if aerr := d.agg.Observe(ctx, m.CampaignID); aerr != nil {
		d.log.Error().Err(aerr).Str("campaign_id", m.CampaignID).Msg("campaign aggregation failed")
	}
}

// maybeSweep cancels stale waiting dependents at most once per windowRecheck.
// Anchored to the tick itself rather than the empty-queue branch, so a
// continuously busy queue still sweeps.
func (d *Dispatcher) maybeSweep(ctx context.Context, now time.Time) {
	if !d.lastSweptAt.IsZero() && now.Sub(d.lastSweptAt) < d.windowRecheck {
		return
	}
	d.lastSweptAt = now
	if _, err := d.chain.SweepStale(ctx); err != nil {
		d.log.Error().Err(err).Msg("stale dependent sweep failed")
	}
}

func startOfDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}
