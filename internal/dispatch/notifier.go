package dispatch

import (
	"github.com/rs/zerolog"

	"github.com/dripsend/dripsend/internal/models"
)

// Notifier receives boundary events as messages and campaigns change state.
// Implementations must be fast; they are called inline on the dispatch timeline.
type Notifier interface {
	MessageStatusChanged(m *models.Message)
	CampaignCompleted(campaignID string)
	CampaignCancelled(campaignID string)
}

type LogNotifier struct {
	log zerolog.Logger
}

func NewLogNotifier(log zerolog.Logger) *LogNotifier {
	return &LogNotifier{log: log}
}

func (n *LogNotifier) MessageStatusChanged(m *models.Message) {
	n.log.Debug().
		Str("message_id", m.ID).
		Str("campaign_id", m.CampaignID).
		Str("status", string(m.Status)).
		Msg("message status changed")
}

func (n *LogNotifier) CampaignCompleted(campaignID string) {
	n.log.Info().Str("campaign_id", campaignID).Msg("campaign completed")
}

func (n *LogNotifier) CampaignCancelled(campaignID string) {
	n.log.Info().Str("campaign_id", campaignID).Msg("campaign cancelled")
}
