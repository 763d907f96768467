package socket

import "encoding/json"

// Client-originated protocol events. Server-pushed event names live in the
// chat package next to their payloads.
const (
	EventRegister = "register"
	EventAck      = "ack"
)

// Envelope is one inbound protocol frame. AckID is optional and
// client-chosen; when present the server answers the frame with an `ack`
// event carrying the same id.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
	AckID string          `json:"ack_id,omitempty"`
}

type outboundEnvelope struct {
	Event string `json:"event"`
	Data  any    `json:"data,omitempty"`
}

type MessagePayload struct {
	ChatID    string   `json:"chat_id" validate:"required"`
	Content   string   `json:"content" validate:"required"`
	ReplyToID string   `json:"reply_to_id,omitempty"`
	FileIDs   []string `json:"file_ids,omitempty"`
}

type AckPayload struct {
	MessageID string `json:"message_id" validate:"required"`
}

type AckResult struct {
	AckID  string `json:"ack_id"`
	Status string `json:"status"`
}

type ErrorPayload struct {
	Msg string `json:"msg"`
}

const (
	ackOK    = "ok"
	ackError = "error"
)
