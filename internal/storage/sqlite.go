package storage

import (
	"context"
	"database/sql"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/dripsend/dripsend/internal/models"
)

type SQLiteStorage struct {
	db *sql.DB
}

func NewSQLite(path string) (*SQLiteStorage, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	return &SQLiteStorage{db: db}, nil
}

func (s *SQLiteStorage) Migrate(ctx context.Context) error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS campaigns (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			status TEXT NOT NULL DEFAULT 'scheduled',
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			completed_at DATETIME
		)`,
		`CREATE TABLE IF NOT EXISTS messages (
			id TEXT PRIMARY KEY,
			campaign_id TEXT NOT NULL REFERENCES campaigns(id) ON DELETE CASCADE,
			recipient TEXT NOT NULL,
			body TEXT NOT NULL,
			media_url TEXT NOT NULL DEFAULT '',
			external_id TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL DEFAULT 'scheduled',
			send_at DATETIME NOT NULL,
			parent_id TEXT REFERENCES messages(id),
			parent_delay_seconds INTEGER NOT NULL DEFAULT 0,
			sent_at DATETIME,
			delivered_at DATETIME,
			read_at DATETIME,
			error_message TEXT NOT NULL DEFAULT '',
			cancel_reason TEXT NOT NULL DEFAULT '',
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_campaign ON messages(campaign_id)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_external ON messages(external_id) WHERE external_id != ''`,
		`CREATE INDEX IF NOT EXISTS idx_messages_parent ON messages(parent_id) WHERE parent_id IS NOT NULL`,
		`CREATE INDEX IF NOT EXISTS idx_messages_due ON messages(send_at, created_at) WHERE status = 'scheduled'`,
	}

	for _, q := range queries {
		if _, err := s.db.ExecContext(ctx, q); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

// --- Campaigns ---

func (s *SQLiteStorage) CreateCampaign(ctx context.Context, c *models.Campaign) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO campaigns (id, name, status, created_at, updated_at) VALUES (?, ?, ?, ?, ?)`,
		c.ID, c.Name, c.Status, c.CreatedAt, c.UpdatedAt,
	)
	return err
}

func (s *SQLiteStorage) GetCampaign(ctx context.Context, id string) (*models.Campaign, error) {
	var c models.Campaign
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, status, created_at, updated_at, completed_at FROM campaigns WHERE id = ?`, id,
	).Scan(&c.ID, &c.Name, &c.Status, &c.CreatedAt, &c.UpdatedAt, &c.CompletedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return &c, err
}

func (s *SQLiteStorage) ListCampaigns(ctx context.Context) ([]models.Campaign, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, status, created_at, updated_at, completed_at FROM campaigns ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var campaigns []models.Campaign
	for rows.Next() {
		var c models.Campaign
		if err := rows.Scan(&c.ID, &c.Name, &c.Status, &c.CreatedAt, &c.UpdatedAt, &c.CompletedAt); err != nil {
			return nil, err
		}
		campaigns = append(campaigns, c)
	}
	return campaigns, rows.Err()
}

func (s *SQLiteStorage) UpdateCampaignStatus(ctx context.Context, id string, status models.CampaignStatus, completedAt *time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE campaigns SET status = ?, completed_at = ?, updated_at = ? WHERE id = ?`,
		status, completedAt, time.Now().UTC(), id,
	)
	return err
}

// --- Messages ---

const messageColumns = `id, campaign_id, recipient, body, media_url, external_id, status, send_at,
	parent_id, parent_delay_seconds, sent_at, delivered_at, read_at, error_message, cancel_reason,
	created_at, updated_at`

func (s *SQLiteStorage) CreateMessage(ctx context.Context, m *models.Message) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO messages (`+messageColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.ID, m.CampaignID, m.Recipient, m.Body, m.MediaURL, m.ExternalID, m.Status, m.SendAt,
		m.ParentID, int64(m.ParentDelay/time.Second), m.SentAt, m.DeliveredAt, m.ReadAt,
		m.ErrorMessage, m.CancelReason, m.CreatedAt, m.UpdatedAt,
	)
	return err
}

func (s *SQLiteStorage) scanMessage(row interface{ Scan(...interface{}) error }) (*models.Message, error) {
	var m models.Message
	var delaySeconds int64
	err := row.Scan(&m.ID, &m.CampaignID, &m.Recipient, &m.Body, &m.MediaURL, &m.ExternalID,
		&m.Status, &m.SendAt, &m.ParentID, &delaySeconds, &m.SentAt, &m.DeliveredAt, &m.ReadAt,
		&m.ErrorMessage, &m.CancelReason, &m.CreatedAt, &m.UpdatedAt)
	if err != nil {
		return nil, err
	}
	m.ParentDelay = time.Duration(delaySeconds) * time.Second
	return &m, nil
}

func (s *SQLiteStorage) GetMessage(ctx context.Context, id string) (*models.Message, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+messageColumns+` FROM messages WHERE id = ?`, id)
	m, err := s.scanMessage(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return m, err
}

func (s *SQLiteStorage) GetMessageByExternalID(ctx context.Context, externalID string) (*models.Message, error) {
	if externalID == "" {
		return nil, nil
	}
	row := s.db.QueryRowContext(ctx,
		`SELECT `+messageColumns+` FROM messages WHERE external_id = ?`, externalID)
	m, err := s.scanMessage(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return m, err
}

func (s *SQLiteStorage) UpdateMessage(ctx context.Context, m *models.Message) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE messages SET external_id = ?, status = ?, send_at = ?, sent_at = ?, delivered_at = ?,
		 read_at = ?, error_message = ?, cancel_reason = ?, updated_at = ? WHERE id = ?`,
		m.ExternalID, m.Status, m.SendAt, m.SentAt, m.DeliveredAt, m.ReadAt,
		m.ErrorMessage, m.CancelReason, time.Now().UTC(), m.ID,
	)
	return err
}

func (s *SQLiteStorage) ListMessages(ctx context.Context, campaignID string, limit, offset int) ([]models.Message, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+messageColumns+` FROM messages WHERE campaign_id = ? ORDER BY created_at, id LIMIT ? OFFSET ?`,
		campaignID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return s.collectMessages(rows)
}

func (s *SQLiteStorage) collectMessages(rows *sql.Rows) ([]models.Message, error) {
	var msgs []models.Message
	for rows.Next() {
		m, err := s.scanMessage(rows)
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, *m)
	}
	return msgs, rows.Err()
}

// --- Dispatch queries ---

// DueMessages returns eligible messages ordered by send_at, then insertion
// order so equal send times dispatch FIFO.
func (s *SQLiteStorage) DueMessages(ctx context.Context, now time.Time, limit int) ([]models.Message, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+messageColumns+` FROM messages
		 WHERE status = 'scheduled' AND send_at <= ?
		 ORDER BY send_at ASC, created_at ASC, id ASC LIMIT ?`,
		now, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return s.collectMessages(rows)
}

func (s *SQLiteStorage) DependentsOf(ctx context.Context, parentID string) ([]models.Message, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+messageColumns+` FROM messages WHERE parent_id = ? ORDER BY created_at, id`, parentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return s.collectMessages(rows)
}

// StaleWaiting returns waiting dependents whose parent already failed or was
// cancelled, plus those created before cutoff whose parent was never resolved.
func (s *SQLiteStorage) StaleWaiting(ctx context.Context, cutoff time.Time) ([]models.Message, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+prefixedMessageColumns("m")+` FROM messages m
		 JOIN messages p ON p.id = m.parent_id
		 WHERE m.status = 'waiting_for_parent'
		   AND (p.status IN ('failed', 'cancelled') OR m.created_at <= ?)`,
		cutoff)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return s.collectMessages(rows)
}

func prefixedMessageColumns(alias string) string {
	return alias + `.id, ` + alias + `.campaign_id, ` + alias + `.recipient, ` + alias + `.body, ` +
		alias + `.media_url, ` + alias + `.external_id, ` + alias + `.status, ` + alias + `.send_at, ` +
		alias + `.parent_id, ` + alias + `.parent_delay_seconds, ` + alias + `.sent_at, ` +
		alias + `.delivered_at, ` + alias + `.read_at, ` + alias + `.error_message, ` +
		alias + `.cancel_reason, ` + alias + `.created_at, ` + alias + `.updated_at`
}

func (s *SQLiteStorage) CancelPending(ctx context.Context, campaignID, reason string) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE messages SET status = 'cancelled', cancel_reason = ?, updated_at = ?
		 WHERE campaign_id = ? AND status IN ('scheduled', 'waiting_for_parent')`,
		reason, time.Now().UTC(), campaignID,
	)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (s *SQLiteStorage) CountSentSince(ctx context.Context, since time.Time) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM messages WHERE sent_at IS NOT NULL AND sent_at >= ?`, since,
	).Scan(&n)
	return n, err
}

// --- Aggregation ---

func (s *SQLiteStorage) CampaignCounts(ctx context.Context, campaignID string) (*Counts, error) {
	counts := &Counts{}
	err := s.db.QueryRowContext(ctx,
		`SELECT
			COUNT(CASE WHEN status != 'cancelled' THEN 1 END),
			COUNT(CASE WHEN status = 'sent' THEN 1 END),
			COUNT(CASE WHEN status = 'delivered' THEN 1 END),
			COUNT(CASE WHEN status = 'read' THEN 1 END),
			COUNT(CASE WHEN status = 'failed' THEN 1 END),
			COUNT(CASE WHEN status = 'cancelled' THEN 1 END),
			COUNT(CASE WHEN status IN ('scheduled', 'waiting_for_parent') THEN 1 END)
		 FROM messages WHERE campaign_id = ?`, campaignID,
	).Scan(&counts.Total, &counts.Sent, &counts.Delivered, &counts.Read,
		&counts.Failed, &counts.Cancelled, &counts.Pending)
	if err != nil {
		return nil, err
	}
	return counts, nil
}

func (s *SQLiteStorage) GetStats(ctx context.Context) (*Stats, error) {
	stats := &Stats{}

	s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM campaigns`).Scan(&stats.TotalCampaigns)
	s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM campaigns WHERE status IN ('scheduled', 'sending')`).Scan(&stats.ActiveCampaigns)
	s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM messages`).Scan(&stats.TotalMessages)
	s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM messages WHERE status IN ('sent', 'delivered', 'read')`).Scan(&stats.SentCount)
	s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM messages WHERE status = 'failed'`).Scan(&stats.FailedCount)
	s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM messages WHERE status IN ('scheduled', 'waiting_for_parent')`).Scan(&stats.PendingCount)

	if attempted := stats.SentCount + stats.FailedCount; attempted > 0 {
		stats.DeliveryRate = float64(stats.SentCount) / float64(attempted) * 100
	}
	return stats, nil
}
