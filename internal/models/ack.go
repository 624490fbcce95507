package models

// AckLevel is a delivery acknowledgment stage reported by the messaging
// gateway. Levels form a total order: sent < delivered < read.
type AckLevel string

const (
	AckSent      AckLevel = "sent"
	AckDelivered AckLevel = "delivered"
	AckRead      AckLevel = "read"
)

var ackRank = map[AckLevel]int{
	AckSent:      1,
	AckDelivered: 2,
	AckRead:      3,
}

func (l AckLevel) Rank() (rank int, ok bool) {
	rank, ok = ackRank[l]
	return rank, ok
}

// Status maps an ack level to the message status it advances to.
func (l AckLevel) Status() MessageStatus {
	switch l {
	case AckSent:
		return MessageSent
	case AckDelivered:
		return MessageDelivered
	case AckRead:
		return MessageRead
	}
	return ""
}
