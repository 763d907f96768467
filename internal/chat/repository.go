package chat

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"nesgem/infrastructure"
	"nesgem/internal/directory"
)

type ChatRepository interface {
	FindChatByID(ctx context.Context, chatID string) (*Chat, error)
	FindOrCreateDirectChat(ctx context.Context, userA, userB string) (*Chat, error)
	IsParticipant(ctx context.Context, chatID, userID string) (bool, error)
	SetLastMessage(ctx context.Context, chatID, messageID string) error
	ListChatsFor(ctx context.Context, userID string) ([]*Chat, error)
}

type MessageRepository interface {
	CreateMessage(ctx context.Context, message *Message) error
	GetMessage(ctx context.Context, messageID string) (*Message, error)
	ListChatMessages(ctx context.Context, chatID string, limit, offset int) ([]*Message, error)
}

type DeliveryRepository interface {
	// CreateRecords inserts one `sent` record per recipient in a single
	// transaction.
	CreateRecords(ctx context.Context, message *Message, recipients []string) error
	GetRecord(ctx context.Context, messageID, userID string) (*DeliveryRecord, error)
	// Advance moves the (messageID, userID) record to next only if the
	// current status precedes it. It reports whether a row actually moved;
	// out-of-order and duplicate acks return false with no error.
	Advance(ctx context.Context, messageID, userID string, next DeliveryStatus) (bool, error)
	// ListPending returns this user's not-yet-read entries joined with
	// their messages and sender display fields, oldest first.
	ListPending(ctx context.Context, userID string) ([]*PendingMessage, error)
}

// DirectKey normalizes an unordered user pair into the unique key that
// makes direct-chat creation idempotent.
func DirectKey(userA, userB string) string {
	if strings.Compare(userA, userB) > 0 {
		userA, userB = userB, userA
	}
	return userA + ":" + userB
}

type PostgresChatRepository struct {
	db *sql.DB
}

func NewPostgresChatRepository(db *sql.DB) *PostgresChatRepository {
	return &PostgresChatRepository{db: db}
}

func (r *PostgresChatRepository) FindChatByID(ctx context.Context, chatID string) (*Chat, error) {
	var chat Chat
	var lastMessageID sql.NullString
	err := r.db.QueryRowContext(ctx, `
		SELECT id::text, COALESCE(name, ''), is_group, created_by::text, last_message_id::text, created_at
		FROM chats WHERE id = $1
	`, chatID).Scan(&chat.ID, &chat.Name, &chat.IsGroup, &chat.CreatedBy, &lastMessageID, &chat.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, infrastructure.ErrChatNotFound
	}
	if err != nil {
		return nil, err
	}
	chat.LastMessageID = lastMessageID.String

	participants, err := r.participants(ctx, chat.ID)
	if err != nil {
		return nil, err
	}
	chat.Participants = participants
	return &chat, nil
}

func (r *PostgresChatRepository) participants(ctx context.Context, chatID string) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT user_id::text FROM chat_participants WHERE chat_id = $1 ORDER BY joined_at
	`, chatID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var participants []string
	for rows.Next() {
		var userID string
		if err := rows.Scan(&userID); err != nil {
			return nil, err
		}
		participants = append(participants, userID)
	}
	return participants, rows.Err()
}

func (r *PostgresChatRepository) FindOrCreateDirectChat(ctx context.Context, userA, userB string) (*Chat, error) {
	key := DirectKey(userA, userB)

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	// The unique index on direct_key makes a concurrent second create a
	// no-op; both callers read back the same row.
	_, err = tx.ExecContext(ctx, `
		INSERT INTO chats (id, name, is_group, created_by, direct_key, created_at, updated_at)
		VALUES ($1, '', FALSE, $2, $3, NOW(), NOW())
		ON CONFLICT (direct_key) DO NOTHING
	`, uuid.New().String(), userA, key)
	if err != nil {
		return nil, fmt.Errorf("failed to upsert direct chat: %w", err)
	}

	var chatID string
	var createdBy string
	var createdAt time.Time
	err = tx.QueryRowContext(ctx, `
		SELECT id::text, created_by::text, created_at FROM chats WHERE direct_key = $1
	`, key).Scan(&chatID, &createdBy, &createdAt)
	if err != nil {
		return nil, fmt.Errorf("failed to load direct chat: %w", err)
	}

	for _, userID := range []string{userA, userB} {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO chat_participants (chat_id, user_id, joined_at)
			VALUES ($1, $2, NOW())
			ON CONFLICT (chat_id, user_id) DO NOTHING
		`, chatID, userID)
		if err != nil {
			return nil, fmt.Errorf("failed to insert participant: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit direct chat: %w", err)
	}

	return &Chat{
		ID:           chatID,
		IsGroup:      false,
		CreatedBy:    createdBy,
		Participants: []string{userA, userB},
		CreatedAt:    createdAt,
	}, nil
}

func (r *PostgresChatRepository) IsParticipant(ctx context.Context, chatID, userID string) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx, `
		SELECT EXISTS (SELECT 1 FROM chat_participants WHERE chat_id = $1 AND user_id = $2)
	`, chatID, userID).Scan(&exists)
	return exists, err
}

func (r *PostgresChatRepository) SetLastMessage(ctx context.Context, chatID, messageID string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE chats SET last_message_id = $1, updated_at = NOW() WHERE id = $2
	`, messageID, chatID)
	return err
}

func (r *PostgresChatRepository) ListChatsFor(ctx context.Context, userID string) ([]*Chat, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT c.id::text, COALESCE(c.name, ''), c.is_group, c.created_by::text, c.last_message_id::text, c.created_at,
		       ARRAY(SELECT p2.user_id::text FROM chat_participants p2 WHERE p2.chat_id = c.id ORDER BY p2.joined_at)
		FROM chats c
		JOIN chat_participants p ON p.chat_id = c.id
		WHERE p.user_id = $1
		ORDER BY c.updated_at DESC
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var chats []*Chat
	for rows.Next() {
		var chat Chat
		var lastMessageID sql.NullString
		var participants pq.StringArray
		err := rows.Scan(&chat.ID, &chat.Name, &chat.IsGroup, &chat.CreatedBy, &lastMessageID, &chat.CreatedAt, &participants)
		if err != nil {
			return nil, err
		}
		chat.LastMessageID = lastMessageID.String
		chat.Participants = participants
		chats = append(chats, &chat)
	}
	return chats, rows.Err()
}

type PostgresMessageRepository struct {
	db *sql.DB
}

func NewPostgresMessageRepository(db *sql.DB) *PostgresMessageRepository {
	return &PostgresMessageRepository{db: db}
}

func (r *PostgresMessageRepository) CreateMessage(ctx context.Context, message *Message) error {
	var replyTo any
	if message.ReplyToID != "" {
		replyTo = message.ReplyToID
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO messages (id, chat_id, created_by, content, reply_to_id, file_ids, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, message.ID, message.ChatID, message.SenderID, message.Content, replyTo, pq.Array(message.FileIDs), message.CreatedAt)
	return err
}

func (r *PostgresMessageRepository) GetMessage(ctx context.Context, messageID string) (*Message, error) {
	var msg Message
	var replyTo sql.NullString
	var fileIDs pq.StringArray
	err := r.db.QueryRowContext(ctx, `
		SELECT id::text, chat_id::text, created_by::text, content, reply_to_id::text, file_ids, created_at
		FROM messages WHERE id = $1
	`, messageID).Scan(&msg.ID, &msg.ChatID, &msg.SenderID, &msg.Content, &replyTo, &fileIDs, &msg.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, infrastructure.ErrMessageNotFound
	}
	if err != nil {
		return nil, err
	}
	msg.ReplyToID = replyTo.String
	msg.FileIDs = fileIDs
	return &msg, nil
}

func (r *PostgresMessageRepository) ListChatMessages(ctx context.Context, chatID string, limit, offset int) ([]*Message, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id::text, chat_id::text, created_by::text, content, reply_to_id::text, file_ids, created_at
		FROM messages WHERE chat_id = $1 ORDER BY created_at DESC LIMIT $2 OFFSET $3
	`, chatID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var messages []*Message
	for rows.Next() {
		var msg Message
		var replyTo sql.NullString
		var fileIDs pq.StringArray
		err := rows.Scan(&msg.ID, &msg.ChatID, &msg.SenderID, &msg.Content, &replyTo, &fileIDs, &msg.CreatedAt)
		if err != nil {
			return nil, err
		}
		msg.ReplyToID = replyTo.String
		msg.FileIDs = fileIDs
		messages = append(messages, &msg)
	}
	return messages, rows.Err()
}

type PostgresDeliveryRepository struct {
	db *sql.DB
}

func NewPostgresDeliveryRepository(db *sql.DB) *PostgresDeliveryRepository {
	return &PostgresDeliveryRepository{db: db}
}

func (r *PostgresDeliveryRepository) CreateRecords(ctx context.Context, message *Message, recipients []string) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	for _, userID := range recipients {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO message_deliveries (message_id, user_id, chat_id, status, updated_at)
			VALUES ($1, $2, $3, $4, NOW())
		`, message.ID, userID, message.ChatID, StatusSent)
		if err != nil {
			return fmt.Errorf("failed to insert delivery record: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit delivery records: %w", err)
	}
	return nil
}

func (r *PostgresDeliveryRepository) GetRecord(ctx context.Context, messageID, userID string) (*DeliveryRecord, error) {
	var rec DeliveryRecord
	err := r.db.QueryRowContext(ctx, `
		SELECT message_id::text, chat_id::text, user_id::text, status, updated_at
		FROM message_deliveries WHERE message_id = $1 AND user_id = $2
	`, messageID, userID).Scan(&rec.MessageID, &rec.ChatID, &rec.UserID, &rec.Status, &rec.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, infrastructure.ErrDeliveryNotFound
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

func (r *PostgresDeliveryRepository) Advance(ctx context.Context, messageID, userID string, next DeliveryStatus) (bool, error) {
	// The status guard lives in the WHERE clause so a late `delivered`
	// cannot overwrite a `read` that won the race.
	res, err := r.db.ExecContext(ctx, `
		UPDATE message_deliveries SET status = $1, updated_at = NOW()
		WHERE message_id = $2 AND user_id = $3 AND status < $1
	`, next, messageID, userID)
	if err != nil {
		return false, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

func (r *PostgresDeliveryRepository) ListPending(ctx context.Context, userID string) ([]*PendingMessage, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT d.chat_id::text, d.status,
		       m.id::text, m.created_by::text, m.content, m.reply_to_id::text, m.file_ids, m.created_at,
		       u.username, u.first_name, u.last_name, u.email, u.phone_number
		FROM message_deliveries d
		JOIN messages m ON m.id = d.message_id
		JOIN users u ON u.id = m.created_by
		WHERE d.user_id = $1 AND d.status < $2
		ORDER BY m.created_at
	`, userID, StatusRead)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var pending []*PendingMessage
	for rows.Next() {
		var p PendingMessage
		var replyTo sql.NullString
		var fileIDs pq.StringArray
		var username, firstName, lastName, email, phone string
		err := rows.Scan(&p.ChatID, &p.Status,
			&p.Message.ID, &p.Message.Sender.ID, &p.Message.Content, &replyTo, &fileIDs, &p.Message.CreatedAt,
			&username, &firstName, &lastName, &email, &phone)
		if err != nil {
			return nil, err
		}
		p.Message.ChatID = p.ChatID
		p.Message.ReplyToID = replyTo.String
		p.Message.FileIDs = fileIDs
		p.Message.Sender.DisplayName = directory.DisplayName(username, firstName, lastName, email, phone)
		pending = append(pending, &p)
	}
	return pending, rows.Err()
}
