package channel

import (
	"context"
	"errors"

	"github.com/dripsend/dripsend/internal/models"
)

// ErrNotReady means the gateway cannot accept sends right now. The dispatcher
// records it on the message and moves on; it never stops the loop.
var ErrNotReady = errors.New("channel not ready")

// Ack is an asynchronous delivery acknowledgment from the gateway, keyed by
// the external id the gateway assigned at send time. Acks arrive at least
// once and possibly out of order.
type Ack struct {
	ExternalID string          `json:"message_id"`
	Level      models.AckLevel `json:"status"`
}

type AckFunc func(Ack)

// Channel is the messaging gateway the dispatcher sends through. Send returns
// the gateway-assigned external id used to correlate later acks.
type Channel interface {
	Send(ctx context.Context, recipient, body, mediaURL string) (externalID string, err error)
	Subscribe(fn AckFunc)
}
