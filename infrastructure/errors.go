package infrastructure

import "errors"

var (
	ErrChatNotFound     = errors.New("chat not found")
	ErrMessageNotFound  = errors.New("message not found")
	ErrDeliveryNotFound = errors.New("delivery record not found")
	ErrUserNotFound     = errors.New("user not found")
	ErrNotParticipant   = errors.New("user is not a chat participant")
	ErrInvalidInput     = errors.New("invalid input")
	ErrUnauthorized     = errors.New("unauthorized")
	ErrInternalServer   = errors.New("internal server error")

	ErrMissingToken = errors.New("missing access token")
	ErrInvalidToken = errors.New("invalid access token")
	ErrTokenExpired = errors.New("access token has expired")

	ErrSlowConsumer  = errors.New("connection send buffer is full")
	ErrSessionClosed = errors.New("session is closed")
)
