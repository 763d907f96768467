package chat

import "time"

// DeliveryStatus orders sent < delivered < read. The numeric values are
// persisted, so the storage-level guard "status < $new" matches Advances.
type DeliveryStatus int16

const (
	StatusSent DeliveryStatus = iota
	StatusDelivered
	StatusRead
)

func (s DeliveryStatus) String() string {
	switch s {
	case StatusSent:
		return "sent"
	case StatusDelivered:
		return "delivered"
	case StatusRead:
		return "read"
	default:
		return "unknown"
	}
}

// Advances reports whether moving from s to next is a forward transition.
// Repeated or backward acks are no-ops.
func (s DeliveryStatus) Advances(next DeliveryStatus) bool {
	return s < next
}

type Chat struct {
	ID            string
	Name          string
	IsGroup       bool
	CreatedBy     string
	LastMessageID string
	Participants  []string
	CreatedAt     time.Time
}

// HasParticipant is the authorization predicate for both the send and the
// ack path.
func (c *Chat) HasParticipant(userID string) bool {
	for _, p := range c.Participants {
		if p == userID {
			return true
		}
	}
	return false
}

// Recipients returns the participant set minus the sender, i.e. the users
// that get a delivery record for a message.
func (c *Chat) Recipients(senderID string) []string {
	recipients := make([]string, 0, len(c.Participants))
	for _, p := range c.Participants {
		if p != senderID {
			recipients = append(recipients, p)
		}
	}
	return recipients
}

type Message struct {
	ID        string
	ChatID    string
	SenderID  string
	Content   string
	ReplyToID string
	FileIDs   []string
	CreatedAt time.Time
}

type DeliveryRecord struct {
	MessageID string
	ChatID    string
	UserID    string
	Status    DeliveryStatus
	UpdatedAt time.Time
}

// Sender carries the minimal display fields attached to pushed and
// replayed messages.
type Sender struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
}

// MessageView is the wire shape of a message inside `message` and
// `unread_messages` events.
type MessageView struct {
	ID        string    `json:"id"`
	ChatID    string    `json:"chat_id"`
	Sender    Sender    `json:"sender"`
	Content   string    `json:"content"`
	ReplyToID string    `json:"reply_to_id,omitempty"`
	FileIDs   []string  `json:"file_ids,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// PendingMessage is one replayable ledger entry joined with its message.
type PendingMessage struct {
	ChatID  string
	Status  DeliveryStatus
	Message MessageView
}
