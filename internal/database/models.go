package database

import (
	"time"

	"github.com/lib/pq"
)

type User struct {
	ID          string `gorm:"type:uuid;primaryKey"`
	Username    string `gorm:"uniqueIndex"`
	FirstName   string
	LastName    string
	Email       string `gorm:"uniqueIndex"`
	PhoneNumber string
	PushToken   string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

type Chat struct {
	ID            string  `gorm:"type:uuid;primaryKey"`
	Name          string
	IsGroup       bool
	CreatedBy     string  `gorm:"type:uuid"`
	LastMessageID *string `gorm:"type:uuid"`
	// DirectKey is "<low>:<high>" of the two participant ids for direct
	// chats, null for groups. The unique index is what makes
	// find-or-create idempotent per unordered pair.
	DirectKey *string `gorm:"uniqueIndex"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

type ChatParticipant struct {
	ChatID   string `gorm:"type:uuid;primaryKey"`
	UserID   string `gorm:"type:uuid;primaryKey;index"`
	JoinedAt time.Time
}

type Message struct {
	ID        string         `gorm:"type:uuid;primaryKey"`
	ChatID    string         `gorm:"type:uuid;index"`
	CreatedBy string         `gorm:"type:uuid"`
	Content   string
	ReplyToID *string        `gorm:"type:uuid"`
	FileIDs   pq.StringArray `gorm:"type:text[]"`
	CreatedAt time.Time
}

type MessageDelivery struct {
	MessageID string `gorm:"type:uuid;primaryKey"`
	UserID    string `gorm:"type:uuid;primaryKey;index:idx_deliveries_user_status"`
	ChatID    string `gorm:"type:uuid"`
	Status    int16  `gorm:"index:idx_deliveries_user_status"`
	UpdatedAt time.Time
}
