package models

import "time"

type MessageStatus string

const (
	MessageScheduled        MessageStatus = "scheduled"
	MessageWaitingForParent MessageStatus = "waiting_for_parent"
	MessageSent             MessageStatus = "sent"
	MessageDelivered        MessageStatus = "delivered"
	MessageRead             MessageStatus = "read"
	MessageFailed           MessageStatus = "failed"
	MessageCancelled        MessageStatus = "cancelled"
)

// FarFuture is the send_at sentinel for messages waiting on a parent. The due
// query never reaches it; chain materialization replaces it with a real instant.
var FarFuture = time.Date(9999, 12, 31, 23, 59, 59, 0, time.UTC)

type Message struct {
	ID           string        `json:"id"`
	CampaignID   string        `json:"campaign_id"`
	Recipient    string        `json:"recipient"`
	Body         string        `json:"body"`
	MediaURL     string        `json:"media_url,omitempty"`
	ExternalID   string        `json:"external_id,omitempty"`
	Status       MessageStatus `json:"status"`
	SendAt       time.Time     `json:"send_at"`
	ParentID     *string       `json:"parent_id,omitempty"`
	ParentDelay  time.Duration `json:"parent_delay,omitempty"`
	SentAt       *time.Time    `json:"sent_at,omitempty"`
	DeliveredAt  *time.Time    `json:"delivered_at,omitempty"`
	ReadAt       *time.Time    `json:"read_at,omitempty"`
	ErrorMessage string        `json:"error_message,omitempty"`
	CancelReason string        `json:"cancel_reason,omitempty"`
	CreatedAt    time.Time     `json:"created_at"`
	UpdatedAt    time.Time     `json:"updated_at"`
}

// statusRank orders the delivery lifecycle. failed and cancelled are not
// ranked; they never accept further transitions.
var statusRank = map[MessageStatus]int{
	MessageScheduled:        0,
	MessageWaitingForParent: 0,
	MessageSent:             1,
	MessageDelivered:        2,
	MessageRead:             3,
}

// Rank returns the position of the status in the delivery order and whether
// the status can still advance.
func (s MessageStatus) Rank() (rank int, ok bool) {
	rank, ok = statusRank[s]
	return rank, ok
}
