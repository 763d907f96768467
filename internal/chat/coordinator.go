package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"nesgem/infrastructure"
	"nesgem/internal/notifications"
	"nesgem/internal/presence"
)

// Server-pushed protocol events.
const (
	EventMessage          = "message"
	EventMessageDelivered = "message_delivered"
	EventMessageRead      = "message_read"
	EventUnreadMessages   = "unread_messages"
	EventError            = "error"
)

// MessageEvent is the payload of a live `message` push.
type MessageEvent struct {
	Message MessageView `json:"message"`
	Status  string      `json:"status"`
}

// StatusEvent is the payload of `message_delivered` / `message_read`
// relays to the other participants.
type StatusEvent struct {
	ChatID    string `json:"chat_id"`
	MessageID string `json:"message_id"`
}

// UnreadEvent is one replayed message on reconnect.
type UnreadEvent struct {
	ChatID  string      `json:"chat_id"`
	Message MessageView `json:"message"`
}

type Presence interface {
	IsOnline(userID string) bool
	ConnectionsFor(userID string) []presence.Conn
}

type Directory interface {
	ResolveDisplayName(ctx context.Context, userID string) (string, error)
	ResolvePushToken(ctx context.Context, userID string) (string, error)
}

// Coordinator orchestrates the message lifecycle: persist, fan out to live
// connections or the push channel, apply acknowledged status transitions,
// and replay still-owed messages on reconnect.
type Coordinator struct {
	chats     ChatRepository
	messages  MessageRepository
	ledger    DeliveryRepository
	presence  Presence
	directory Directory
	push      notifications.Dispatcher
	log       *slog.Logger

	previewLength int
	deepLinkBase  string
}

type CoordinatorOptions struct {
	PreviewLength int
	DeepLinkBase  string
}

func NewCoordinator(
	chats ChatRepository,
	messages MessageRepository,
	ledger DeliveryRepository,
	presence Presence,
	directory Directory,
	push notifications.Dispatcher,
	opts CoordinatorOptions,
	log *slog.Logger,
) *Coordinator {
	if opts.PreviewLength <= 0 {
		opts.PreviewLength = 120
	}
	return &Coordinator{
		chats:         chats,
		messages:      messages,
		ledger:        ledger,
		presence:      presence,
		directory:     directory,
		push:          push,
		log:           log,
		previewLength: opts.PreviewLength,
		deepLinkBase:  opts.DeepLinkBase,
	}
}

// Send persists a message, creates one `sent` ledger record per recipient
// and fans it out. Recipients with a live connection get a `message` push;
// the rest are handed to the push-notification dispatcher. Status is never
// advanced here: `delivered` is asserted by recipients, not by transport
// success.
func (c *Coordinator) Send(ctx context.Context, senderID, chatID, content, replyToID string, fileIDs []string) (*Message, error) {
	if chatID == "" || strings.TrimSpace(content) == "" {
		return nil, infrastructure.ErrInvalidInput
	}

	chat, err := c.chats.FindChatByID(ctx, chatID)
	if err != nil {
		return nil, err
	}
	if !chat.HasParticipant(senderID) {
		return nil, infrastructure.ErrNotParticipant
	}

	message := &Message{
		ID:        uuid.New().String(),
		ChatID:    chatID,
		SenderID:  senderID,
		Content:   content,
		ReplyToID: replyToID,
		FileIDs:   fileIDs,
		CreatedAt: time.Now().UTC(),
	}

	if err := c.messages.CreateMessage(ctx, message); err != nil {
		return nil, fmt.Errorf("failed to create message: %w", err)
	}

	if err := c.ledger.CreateRecords(ctx, message, chat.Recipients(senderID)); err != nil {
		// The message row exists but has no delivery records, so it will
		// never be pushed or replayed. Surface the failure to the sender
		// and leave a trail for manual reconciliation.
		c.log.Error("message persisted without delivery records",
			"message_id", message.ID, "chat_id", chatID, "error", err)
		return nil, fmt.Errorf("failed to create delivery records: %w", err)
	}

	if err := c.chats.SetLastMessage(ctx, chatID, message.ID); err != nil {
		c.log.Warn("failed to update chat last message", "chat_id", chatID, "error", err)
	}

	c.fanOut(ctx, chat, message)

	return message, nil
}

func (c *Coordinator) fanOut(ctx context.Context, chat *Chat, message *Message) {
	senderName, err := c.directory.ResolveDisplayName(ctx, message.SenderID)
	if err != nil {
		c.log.Warn("failed to resolve sender display name", "user_id", message.SenderID, "error", err)
	}

	view := c.view(message, senderName)
	event := MessageEvent{Message: view, Status: StatusSent.String()}

	for _, recipient := range chat.Recipients(message.SenderID) {
		if c.presence.IsOnline(recipient) {
			c.pushLive(recipient, EventMessage, event)
			continue
		}
		c.notifyOffline(ctx, recipient, senderName, message)
	}
}

// pushLive writes an event to every live connection of the user. A failed
// write is logged and skipped; delivery status only ever moves on an
// explicit ack, so a silent transport failure here just leaves the record
// at `sent` for replay.
func (c *Coordinator) pushLive(userID, event string, data any) {
	for _, conn := range c.presence.ConnectionsFor(userID) {
		if err := conn.Send(event, data); err != nil {
			c.log.Warn("failed to push event to connection",
				"user_id", userID, "event", event, "error", err)
		}
	}
}

func (c *Coordinator) notifyOffline(ctx context.Context, recipient, senderName string, message *Message) {
	token, err := c.directory.ResolvePushToken(ctx, recipient)
	if err != nil {
		if !errors.Is(err, infrastructure.ErrUserNotFound) {
			c.log.Warn("failed to resolve push token", "user_id", recipient, "error", err)
		}
		return
	}
	if token == "" {
		return
	}

	title := "New message from " + senderName
	body := truncate(message.Content, c.previewLength)
	deepLink := c.deepLinkBase + "/chats/" + message.ChatID

	// Fire-and-forget: the sender never waits on, or hears about, push
	// dispatch. The background context outlives the send request.
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := c.push.Send(ctx, token, title, body, deepLink); err != nil {
			c.log.Warn("push notification dispatch failed",
				"user_id", recipient, "message_id", message.ID, "error", err)
		}
	}()
}

// AckDelivered handles a recipient's `message_delivered` acknowledgment.
func (c *Coordinator) AckDelivered(ctx context.Context, userID, messageID string) error {
	return c.ack(ctx, userID, messageID, StatusDelivered, EventMessageDelivered)
}

// AckRead handles a recipient's `message_read` acknowledgment.
func (c *Coordinator) AckRead(ctx context.Context, userID, messageID string) error {
	return c.ack(ctx, userID, messageID, StatusRead, EventMessageRead)
}

func (c *Coordinator) ack(ctx context.Context, userID, messageID string, next DeliveryStatus, event string) error {
	record, err := c.ledger.GetRecord(ctx, messageID, userID)
	if errors.Is(err, infrastructure.ErrDeliveryNotFound) {
		// No record means the acker is not a recipient of this message:
		// either a stray retransmit or a spoofed ack. Ignore it.
		return nil
	}
	if err != nil {
		return err
	}

	chat, err := c.chats.FindChatByID(ctx, record.ChatID)
	if err != nil {
		return err
	}
	if !chat.HasParticipant(userID) {
		return infrastructure.ErrNotParticipant
	}

	advanced, err := c.ledger.Advance(ctx, messageID, userID, next)
	if err != nil {
		return err
	}
	if !advanced {
		// Out-of-order or duplicate ack; the record already moved past
		// this status.
		return nil
	}

	relay := StatusEvent{ChatID: record.ChatID, MessageID: messageID}
	for _, participant := range chat.Recipients(userID) {
		c.pushLive(participant, event, relay)
	}
	return nil
}

// Replay emits every message still owed to the connection's user (status
// before `read`) as `unread_messages` events. Replay is at-least-once and
// never advances status; clients deduplicate by message id and ack
// explicitly, same as the live path.
func (c *Coordinator) Replay(ctx context.Context, conn presence.Conn) error {
	pending, err := c.ledger.ListPending(ctx, conn.UserID())
	if err != nil {
		return fmt.Errorf("failed to list pending deliveries: %w", err)
	}

	for _, entry := range pending {
		err := conn.Send(EventUnreadMessages, UnreadEvent{
			ChatID:  entry.ChatID,
			Message: entry.Message,
		})
		if err != nil {
			// The connection is gone or backed up; the next register
			// replays the same set again.
			return fmt.Errorf("failed to replay message %s: %w", entry.Message.ID, err)
		}
	}
	return nil
}

func (c *Coordinator) view(message *Message, senderName string) MessageView {
	return MessageView{
		ID:        message.ID,
		ChatID:    message.ChatID,
		Sender:    Sender{ID: message.SenderID, DisplayName: senderName},
		Content:   message.Content,
		ReplyToID: message.ReplyToID,
		FileIDs:   message.FileIDs,
		CreatedAt: message.CreatedAt,
	}
}

func truncate(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max]) + "…"
}
