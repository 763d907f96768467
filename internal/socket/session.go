package socket

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/websocket"

	"nesgem/infrastructure"
	"nesgem/internal/chat"
	"nesgem/internal/presence"
)

// Core is the coordinator surface a session drives. It is satisfied by
// *chat.Coordinator; tests substitute a fake.
type Core interface {
	Send(ctx context.Context, senderID, chatID, content, replyToID string, fileIDs []string) (*chat.Message, error)
	AckDelivered(ctx context.Context, userID, messageID string) error
	AckRead(ctx context.Context, userID, messageID string) error
	Replay(ctx context.Context, conn presence.Conn) error
}

type SessionOptions struct {
	WriteTimeout   time.Duration
	PongTimeout    time.Duration
	MaxMessageSize int64
	SendBuffer     int
}

func (o *SessionOptions) withDefaults() {
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = 10 * time.Second
	}
	if o.PongTimeout <= 0 {
		o.PongTimeout = 60 * time.Second
	}
	if o.MaxMessageSize <= 0 {
		o.MaxMessageSize = 64 * 1024
	}
	if o.SendBuffer <= 0 {
		o.SendBuffer = 64
	}
}

type handlerFunc func(ctx context.Context, env *Envelope)

// Session is the protocol state machine for one live connection. The user
// identity is bound once at construction, from the gateway's validated
// token, and never re-derived from client data.
type Session struct {
	userID   string
	ws       *websocket.Conn
	core     Core
	registry *presence.Registry
	validate *validator.Validate
	log      *slog.Logger
	opts     SessionOptions

	handlers map[string]handlerFunc
	send     chan outboundEnvelope
	done     chan struct{}
	once     sync.Once
}

func NewSession(userID string, ws *websocket.Conn, core Core, registry *presence.Registry, opts SessionOptions, log *slog.Logger) *Session {
	opts.withDefaults()
	s := &Session{
		userID:   userID,
		ws:       ws,
		core:     core,
		registry: registry,
		validate: validator.New(),
		log:      log.With("user_id", userID),
		opts:     opts,
		send:     make(chan outboundEnvelope, opts.SendBuffer),
		done:     make(chan struct{}),
	}
	s.handlers = map[string]handlerFunc{
		EventRegister:              s.handleRegister,
		chat.EventMessage:          s.handleMessage,
		chat.EventMessageDelivered: s.handleDelivered,
		chat.EventMessageRead:      s.handleRead,
	}
	return s
}

func (s *Session) UserID() string { return s.userID }

// Send queues an event for the write pump. It never blocks: a full buffer
// means the client is not draining and the event is dropped with an error,
// leaving the delivery ledger to replay anything that mattered.
func (s *Session) Send(event string, data any) error {
	select {
	case <-s.done:
		return infrastructure.ErrSessionClosed
	default:
	}

	select {
	case s.send <- outboundEnvelope{Event: event, Data: data}:
		return nil
	default:
		return infrastructure.ErrSlowConsumer
	}
}

// dispatch routes one inbound frame through the handler table. Unknown
// events are dropped, matching the original transport's behavior.
func (s *Session) dispatch(ctx context.Context, env *Envelope) {
	handler, ok := s.handlers[env.Event]
	if !ok {
		s.log.Debug("unknown event", "event", env.Event)
		return
	}
	handler(ctx, env)
}

func (s *Session) handleRegister(ctx context.Context, _ *Envelope) {
	s.registry.Register(s.userID, s)
	s.log.Info("connection registered")

	if err := s.core.Replay(ctx, s); err != nil {
		s.log.Warn("replay failed", "error", err)
	}
}

func (s *Session) handleMessage(ctx context.Context, env *Envelope) {
	var payload MessagePayload
	if err := json.Unmarshal(env.Data, &payload); err != nil {
		s.ack(env.AckID, ackError)
		return
	}
	if err := s.validate.Struct(&payload); err != nil {
		s.ack(env.AckID, ackError)
		return
	}

	_, err := s.core.Send(ctx, s.userID, payload.ChatID, payload.Content, payload.ReplyToID, payload.FileIDs)
	if err != nil {
		s.log.Warn("send failed", "chat_id", payload.ChatID, "error", err)
		s.ack(env.AckID, ackError)
		if err := s.Send(chat.EventError, ErrorPayload{Msg: "Server error"}); err != nil {
			s.log.Debug("failed to emit error event", "error", err)
		}
		return
	}

	s.ack(env.AckID, ackOK)
}

func (s *Session) handleDelivered(ctx context.Context, env *Envelope) {
	messageID, ok := s.ackPayload(env)
	if !ok {
		return
	}
	if err := s.core.AckDelivered(ctx, s.userID, messageID); err != nil {
		s.log.Warn("delivered ack failed", "message_id", messageID, "error", err)
	}
}

func (s *Session) handleRead(ctx context.Context, env *Envelope) {
	messageID, ok := s.ackPayload(env)
	if !ok {
		return
	}
	if err := s.core.AckRead(ctx, s.userID, messageID); err != nil {
		s.log.Warn("read ack failed", "message_id", messageID, "error", err)
	}
}

func (s *Session) ackPayload(env *Envelope) (string, bool) {
	var payload AckPayload
	if err := json.Unmarshal(env.Data, &payload); err != nil {
		return "", false
	}
	if err := s.validate.Struct(&payload); err != nil {
		return "", false
	}
	return payload.MessageID, true
}

func (s *Session) ack(ackID, status string) {
	if ackID == "" {
		return
	}
	if err := s.Send(EventAck, AckResult{AckID: ackID, Status: status}); err != nil {
		s.log.Debug("failed to send ack", "ack_id", ackID, "error", err)
	}
}

// ReadPump consumes frames until the connection dies, then tears the
// session down. Runs on the gateway's request goroutine.
func (s *Session) ReadPump(ctx context.Context) {
	defer s.Close()

	s.ws.SetReadLimit(s.opts.MaxMessageSize)
	_ = s.ws.SetReadDeadline(time.Now().Add(s.opts.PongTimeout))
	s.ws.SetPongHandler(func(string) error {
		return s.ws.SetReadDeadline(time.Now().Add(s.opts.PongTimeout))
	})

	for {
		_, data, err := s.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.log.Debug("connection closed unexpectedly", "error", err)
			}
			return
		}

		var env Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			if err := s.Send(chat.EventError, ErrorPayload{Msg: "invalid envelope"}); err != nil {
				s.log.Debug("failed to emit error event", "error", err)
			}
			continue
		}
		s.dispatch(ctx, &env)
	}
}

// WritePump serializes queued events onto the wire and keeps the
// connection alive with pings.
func (s *Session) WritePump() {
	pingPeriod := s.opts.PongTimeout * 9 / 10
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		s.Close()
	}()

	for {
		select {
		case env := <-s.send:
			_ = s.ws.SetWriteDeadline(time.Now().Add(s.opts.WriteTimeout))
			if err := s.ws.WriteJSON(env); err != nil {
				s.log.Debug("write failed", "event", env.Event, "error", err)
				return
			}
		case <-ticker.C:
			_ = s.ws.SetWriteDeadline(time.Now().Add(s.opts.WriteTimeout))
			if err := s.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-s.done:
			return
		}
	}
}

// Close unbinds the session from the presence registry and closes the
// transport. Safe to call from either pump.
func (s *Session) Close() {
	s.once.Do(func() {
		s.registry.Unregister(s)
		close(s.done)
		if s.ws != nil {
			_ = s.ws.Close()
		}
		s.log.Info("connection closed")
	})
}
