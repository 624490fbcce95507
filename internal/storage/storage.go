package storage

import (
	"context"
	"time"

	"github.com/dripsend/dripsend/internal/models"
)

type Storage interface {
	// Campaigns
	CreateCampaign(ctx context.Context, c *models.Campaign) error
	GetCampaign(ctx context.Context, id string) (*models.Campaign, error)
	ListCampaigns(ctx context.Context) ([]models.Campaign, error)
	UpdateCampaignStatus(ctx context.Context, id string, status models.CampaignStatus, completedAt *time.Time) error

	// Messages
	CreateMessage(ctx context.Context, m *models.Message) error
	GetMessage(ctx context.Context, id string) (*models.Message, error)
	GetMessageByExternalID(ctx context.Context, externalID string) (*models.Message, error)
	UpdateMessage(ctx context.Context, m *models.Message) error
	ListMessages(ctx context.Context, campaignID string, limit, offset int) ([]models.Message, error)

	// Dispatch queries
	DueMessages(ctx context.Context, now time.Time, limit int) ([]models.Message, error)
	DependentsOf(ctx context.Context, parentID string) ([]models.Message, error)
	StaleWaiting(ctx context.Context, cutoff time.Time) ([]models.Message, error)
	CancelPending(ctx context.Context, campaignID, reason string) (int64, error)
	CountSentSince(ctx context.Context, since time.Time) (int64, error)

	// Aggregation
	CampaignCounts(ctx context.Context, campaignID string) (*Counts, error)
	GetStats(ctx context.Context) (*Stats, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}

// Counts are the per-campaign aggregate counters the completion rule is
// derived from. Cancelled messages are excluded from Total.
type Counts struct {
	Total     int64 `json:"total"`
	Sent      int64 `json:"sent"`
	Delivered int64 `json:"delivered"`
	Read      int64 `json:"read"`
	Failed    int64 `json:"failed"`
	Cancelled int64 `json:"cancelled"`
	Pending   int64 `json:"pending"`
}

// Processed counts every message that reached a terminal outcome. A plain
// sent counts as processed; gateways that never report receipts must still
// let campaigns finish.
func (c *Counts) Processed() int64 {
	return c.Sent + c.Delivered + c.Read + c.Failed
}

type Stats struct {
	TotalCampaigns  int64   `json:"total_campaigns"`
	ActiveCampaigns int64   `json:"active_campaigns"`
	TotalMessages   int64   `json:"total_messages"`
	SentCount       int64   `json:"sent_count"`
	FailedCount     int64   `json:"failed_count"`
	PendingCount    int64   `json:"pending_count"`
	DeliveryRate    float64 `json:"delivery_rate"`
}
