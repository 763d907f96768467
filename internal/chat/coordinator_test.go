package chat

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"nesgem/infrastructure"
	"nesgem/internal/presence"
)

type fakeChatRepo struct {
	mu           sync.Mutex
	chats        map[string]*Chat
	lastMessages map[string]string
}

func newFakeChatRepo(chats ...*Chat) *fakeChatRepo {
	r := &fakeChatRepo{
		chats:        make(map[string]*Chat),
		lastMessages: make(map[string]string),
	}
	for _, c := range chats {
		r.chats[c.ID] = c
	}
	return r
}

func (r *fakeChatRepo) FindChatByID(_ context.Context, chatID string) (*Chat, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.chats[chatID]
	if !ok {
		return nil, infrastructure.ErrChatNotFound
	}
	return c, nil
}

func (r *fakeChatRepo) FindOrCreateDirectChat(_ context.Context, userA, userB string) (*Chat, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := DirectKey(userA, userB)
	for _, c := range r.chats {
		if !c.IsGroup && DirectKey(c.Participants[0], c.Participants[1]) == key {
			return c, nil
		}
	}
	c := &Chat{ID: "direct-" + key, Participants: []string{userA, userB}}
	r.chats[c.ID] = c
	return c, nil
}

func (r *fakeChatRepo) IsParticipant(_ context.Context, chatID, userID string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.chats[chatID]
	if !ok {
		return false, nil
	}
	return c.HasParticipant(userID), nil
}

func (r *fakeChatRepo) SetLastMessage(_ context.Context, chatID, messageID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lastMessages[chatID] = messageID
	return nil
}

func (r *fakeChatRepo) ListChatsFor(_ context.Context, userID string) ([]*Chat, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*Chat
	for _, c := range r.chats {
		if c.HasParticipant(userID) {
			out = append(out, c)
		}
	}
	return out, nil
}

type fakeMessageRepo struct {
	mu        sync.Mutex
	messages  map[string]*Message
	createErr error
}

func newFakeMessageRepo() *fakeMessageRepo {
	return &fakeMessageRepo{messages: make(map[string]*Message)}
}

func (r *fakeMessageRepo) CreateMessage(_ context.Context, message *Message) error {
	if r.createErr != nil {
		return r.createErr
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages[message.ID] = message
	return nil
}

func (r *fakeMessageRepo) GetMessage(_ context.Context, messageID string) (*Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.messages[messageID]
	if !ok {
		return nil, infrastructure.ErrMessageNotFound
	}
	return m, nil
}

func (r *fakeMessageRepo) ListChatMessages(_ context.Context, chatID string, _, _ int) ([]*Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*Message
	for _, m := range r.messages {
		if m.ChatID == chatID {
			out = append(out, m)
		}
	}
	return out, nil
}

// fakeLedger mirrors the storage-level guard: Advance only moves a record
// forward, exactly like the conditional UPDATE in postgres.
type fakeLedger struct {
	mu        sync.Mutex
	records   map[string]*DeliveryRecord
	order     []string
	messages  *fakeMessageRepo
	names     map[string]string
	createErr error
}

func newFakeLedger(messages *fakeMessageRepo, names map[string]string) *fakeLedger {
	return &fakeLedger{
		records:  make(map[string]*DeliveryRecord),
		messages: messages,
		names:    names,
	}
}

func ledgerKey(messageID, userID string) string { return messageID + "|" + userID }

func (l *fakeLedger) CreateRecords(_ context.Context, message *Message, recipients []string) error {
	if l.createErr != nil {
		return l.createErr
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, userID := range recipients {
		key := ledgerKey(message.ID, userID)
		l.records[key] = &DeliveryRecord{
			MessageID: message.ID,
			ChatID:    message.ChatID,
			UserID:    userID,
			Status:    StatusSent,
			UpdatedAt: time.Now(),
		}
		l.order = append(l.order, key)
	}
	return nil
}

func (l *fakeLedger) GetRecord(_ context.Context, messageID, userID string) (*DeliveryRecord, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	rec, ok := l.records[ledgerKey(messageID, userID)]
	if !ok {
		return nil, infrastructure.ErrDeliveryNotFound
	}
	copied := *rec
	return &copied, nil
}

func (l *fakeLedger) Advance(_ context.Context, messageID, userID string, next DeliveryStatus) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	rec, ok := l.records[ledgerKey(messageID, userID)]
	if !ok || !rec.Status.Advances(next) {
		return false, nil
	}
	rec.Status = next
	rec.UpdatedAt = time.Now()
	return true, nil
}

func (l *fakeLedger) ListPending(_ context.Context, userID string) ([]*PendingMessage, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	var pending []*PendingMessage
	for _, key := range l.order {
		rec := l.records[key]
		if rec.UserID != userID || rec.Status >= StatusRead {
			continue
		}
		msg, err := l.messages.GetMessage(context.Background(), rec.MessageID)
		if err != nil {
			return nil, err
		}
		pending = append(pending, &PendingMessage{
			ChatID: rec.ChatID,
			Status: rec.Status,
			Message: MessageView{
				ID:        msg.ID,
				ChatID:    msg.ChatID,
				Sender:    Sender{ID: msg.SenderID, DisplayName: l.names[msg.SenderID]},
				Content:   msg.Content,
				CreatedAt: msg.CreatedAt,
			},
		})
	}
	return pending, nil
}

func (l *fakeLedger) status(messageID, userID string) (DeliveryStatus, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	rec, ok := l.records[ledgerKey(messageID, userID)]
	if !ok {
		return 0, false
	}
	return rec.Status, true
}

type recordedEvent struct {
	event string
	data  any
}

type recordingConn struct {
	mu      sync.Mutex
	userID  string
	events  []recordedEvent
	sendErr error
}

func (c *recordingConn) UserID() string { return c.userID }

func (c *recordingConn) Send(event string, data any) error {
	if c.sendErr != nil {
		return c.sendErr
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, recordedEvent{event: event, data: data})
	return nil
}

func (c *recordingConn) recorded() []recordedEvent {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]recordedEvent, len(c.events))
	copy(out, c.events)
	return out
}

func (c *recordingConn) count(event string) int {
	n := 0
	for _, e := range c.recorded() {
		if e.event == event {
			n++
		}
	}
	return n
}

type fakeDirectory struct {
	names  map[string]string
	tokens map[string]string
}

func (d *fakeDirectory) ResolveDisplayName(_ context.Context, userID string) (string, error) {
	name, ok := d.names[userID]
	if !ok {
		return "", infrastructure.ErrUserNotFound
	}
	return name, nil
}

func (d *fakeDirectory) ResolvePushToken(_ context.Context, userID string) (string, error) {
	return d.tokens[userID], nil
}

type dispatchedPush struct {
	token, title, body, deepLink string
}

type fakeDispatcher struct {
	ch chan dispatchedPush
}

func newFakeDispatcher() *fakeDispatcher {
	return &fakeDispatcher{ch: make(chan dispatchedPush, 8)}
}

func (d *fakeDispatcher) Send(_ context.Context, token, title, body, deepLink string) error {
	d.ch <- dispatchedPush{token: token, title: title, body: body, deepLink: deepLink}
	return nil
}

func (d *fakeDispatcher) wait(t *testing.T) dispatchedPush {
	t.Helper()
	select {
	case p := <-d.ch:
		return p
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for push dispatch")
		return dispatchedPush{}
	}
}

func (d *fakeDispatcher) expectNone(t *testing.T) {
	t.Helper()
	select {
	case p := <-d.ch:
		t.Fatalf("unexpected push dispatch to token %q", p.token)
	case <-time.After(100 * time.Millisecond):
	}
}

type coordinatorEnv struct {
	coordinator *Coordinator
	chats       *fakeChatRepo
	messages    *fakeMessageRepo
	ledger      *fakeLedger
	registry    *presence.Registry
	directory   *fakeDirectory
	dispatcher  *fakeDispatcher
}

func newCoordinatorEnv(chats ...*Chat) *coordinatorEnv {
	names := map[string]string{"alice": "Alice", "bob": "Bob", "carol": "Carol"}
	messages := newFakeMessageRepo()
	env := &coordinatorEnv{
		chats:    newFakeChatRepo(chats...),
		messages: messages,
		ledger:   newFakeLedger(messages, names),
		registry: presence.NewRegistry(),
		directory: &fakeDirectory{
			names:  names,
			tokens: map[string]string{"bob": "bob-token"},
		},
		dispatcher: newFakeDispatcher(),
	}
	env.coordinator = NewCoordinator(
		env.chats, env.messages, env.ledger, env.registry, env.directory, env.dispatcher,
		CoordinatorOptions{PreviewLength: 32, DeepLinkBase: "https://nesgem.com"},
		slog.New(slog.NewTextHandler(io.Discard, nil)),
	)
	return env
}

func (env *coordinatorEnv) connect(userID string) *recordingConn {
	conn := &recordingConn{userID: userID}
	env.registry.Register(userID, conn)
	return conn
}

func chatWith(id string, participants ...string) *Chat {
	return &Chat{ID: id, Participants: participants}
}

func TestSendCreatesOneRecordPerRecipient(t *testing.T) {
	t.Parallel()
	env := newCoordinatorEnv(chatWith("c1", "alice", "bob", "carol"))

	msg, err := env.coordinator.Send(context.Background(), "alice", "c1", "hi", "", nil)
	if err != nil {
		t.Fatalf("Send: %v", err)
	}

	if _, ok := env.ledger.status(msg.ID, "alice"); ok {
		t.Fatal("sender must not get a delivery record")
	}
	for _, recipient := range []string{"bob", "carol"} {
		status, ok := env.ledger.status(msg.ID, recipient)
		if !ok {
			t.Fatalf("expected delivery record for %s", recipient)
		}
		if status != StatusSent {
			t.Fatalf("expected %s record at sent, got %s", recipient, status)
		}
	}

	if env.chats.lastMessages["c1"] != msg.ID {
		t.Fatalf("expected chat last message to be %s", msg.ID)
	}
}

func TestSendPushesToOnlineRecipient(t *testing.T) {
	t.Parallel()
	env := newCoordinatorEnv(chatWith("c1", "alice", "bob"))

	bobConn := env.connect("bob")
	aliceConn := env.connect("alice")

	msg, err := env.coordinator.Send(context.Background(), "alice", "c1", "hi bob", "", nil)
	if err != nil {
		t.Fatalf("Send: %v", err)
	}

	if got := bobConn.count(EventMessage); got != 1 {
		t.Fatalf("expected 1 message event for bob, got %d", got)
	}
	event := bobConn.recorded()[0].data.(MessageEvent)
	if event.Message.ID != msg.ID || event.Message.Sender.DisplayName != "Alice" {
		t.Fatalf("unexpected message event: %+v", event)
	}
	if event.Status != "sent" {
		t.Fatalf("expected pushed status sent, got %q", event.Status)
	}

	if got := aliceConn.count(EventMessage); got != 0 {
		t.Fatalf("sender must not receive their own message, got %d events", got)
	}
	env.dispatcher.expectNone(t)

	// Transport push alone never advances the ledger.
	if status, _ := env.ledger.status(msg.ID, "bob"); status != StatusSent {
		t.Fatalf("expected record to stay at sent, got %s", status)
	}
}

func TestSendNotifiesOfflineRecipient(t *testing.T) {
	t.Parallel()
	env := newCoordinatorEnv(chatWith("c1", "alice", "bob"))

	msg, err := env.coordinator.Send(context.Background(), "alice", "c1", "hi bob", "", nil)
	if err != nil {
		t.Fatalf("Send: %v", err)
	}

	push := env.dispatcher.wait(t)
	if push.token != "bob-token" {
		t.Fatalf("expected bob's token, got %q", push.token)
	}
	if push.title != "New message from Alice" {
		t.Fatalf("unexpected push title %q", push.title)
	}
	if push.body != "hi bob" {
		t.Fatalf("unexpected push body %q", push.body)
	}
	if push.deepLink != "https://nesgem.com/chats/c1" {
		t.Fatalf("unexpected deep link %q", push.deepLink)
	}
	env.dispatcher.expectNone(t)

	if status, _ := env.ledger.status(msg.ID, "bob"); status != StatusSent {
		t.Fatalf("expected record at sent, got %s", status)
	}
}

func TestSendValidation(t *testing.T) {
	t.Parallel()
	env := newCoordinatorEnv(chatWith("c1", "alice", "bob"))

	tests := []struct {
		name    string
		chatID  string
		content string
	}{
		{"missing chat id", "", "hi"},
		{"missing content", "c1", ""},
		{"blank content", "c1", "   "},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			_, err := env.coordinator.Send(context.Background(), "alice", tt.chatID, tt.content, "", nil)
			if err != infrastructure.ErrInvalidInput {
				t.Fatalf("expected ErrInvalidInput, got %v", err)
			}
		})
	}

	if len(env.messages.messages) != 0 {
		t.Fatal("invalid sends must not persist messages")
	}
}

func TestSendRejectsNonParticipant(t *testing.T) {
	t.Parallel()
	env := newCoordinatorEnv(chatWith("c1", "alice", "bob"))

	_, err := env.coordinator.Send(context.Background(), "carol", "c1", "let me in", "", nil)
	if err != infrastructure.ErrNotParticipant {
		t.Fatalf("expected ErrNotParticipant, got %v", err)
	}
	if len(env.messages.messages) != 0 {
		t.Fatal("unauthorized sends must not persist messages")
	}
}

func TestSendSurfacesLedgerFailure(t *testing.T) {
	t.Parallel()
	env := newCoordinatorEnv(chatWith("c1", "alice", "bob"))
	env.ledger.createErr = infrastructure.ErrInternalServer

	_, err := env.coordinator.Send(context.Background(), "alice", "c1", "hi", "", nil)
	if err == nil {
		t.Fatal("expected error when ledger creation fails")
	}

	// The message row stays behind for reconciliation; the client sees an
	// error and resubmits.
	if len(env.messages.messages) != 1 {
		t.Fatalf("expected persisted message, got %d", len(env.messages.messages))
	}
	env.dispatcher.expectNone(t)
}

func TestAckDeliveredAdvancesAndRelays(t *testing.T) {
	t.Parallel()
	env := newCoordinatorEnv(chatWith("c1", "alice", "bob"))

	msg, err := env.coordinator.Send(context.Background(), "alice", "c1", "hi", "", nil)
	if err != nil {
		t.Fatalf("Send: %v", err)
	}

	aliceConn := env.connect("alice")
	bobConn := env.connect("bob")

	if err := env.coordinator.AckDelivered(context.Background(), "bob", msg.ID); err != nil {
		t.Fatalf("AckDelivered: %v", err)
	}

	if status, _ := env.ledger.status(msg.ID, "bob"); status != StatusDelivered {
		t.Fatalf("expected delivered, got %s", status)
	}

	if got := aliceConn.count(EventMessageDelivered); got != 1 {
		t.Fatalf("expected 1 delivered relay to sender, got %d", got)
	}
	relay := aliceConn.recorded()[0].data.(StatusEvent)
	if relay.ChatID != "c1" || relay.MessageID != msg.ID {
		t.Fatalf("unexpected relay payload: %+v", relay)
	}

	if got := bobConn.count(EventMessageDelivered); got != 0 {
		t.Fatalf("acker must not receive their own relay, got %d", got)
	}
}

func TestAckStatusIsMonotonic(t *testing.T) {
	t.Parallel()
	env := newCoordinatorEnv(chatWith("c1", "alice", "bob"))

	msg, err := env.coordinator.Send(context.Background(), "alice", "c1", "hi", "", nil)
	if err != nil {
		t.Fatalf("Send: %v", err)
	}

	aliceConn := env.connect("alice")

	if err := env.coordinator.AckRead(context.Background(), "bob", msg.ID); err != nil {
		t.Fatalf("AckRead: %v", err)
	}
	if status, _ := env.ledger.status(msg.ID, "bob"); status != StatusRead {
		t.Fatalf("expected read, got %s", status)
	}

	// A late delivered ack after read is a no-op: no regression, no relay.
	if err := env.coordinator.AckDelivered(context.Background(), "bob", msg.ID); err != nil {
		t.Fatalf("AckDelivered: %v", err)
	}
	if status, _ := env.ledger.status(msg.ID, "bob"); status != StatusRead {
		t.Fatalf("expected status to stay read, got %s", status)
	}
	if got := aliceConn.count(EventMessageDelivered); got != 0 {
		t.Fatalf("no-op ack must not relay, got %d events", got)
	}

	// Duplicate read acks are equally silent.
	if err := env.coordinator.AckRead(context.Background(), "bob", msg.ID); err != nil {
		t.Fatalf("AckRead: %v", err)
	}
	if got := aliceConn.count(EventMessageRead); got != 1 {
		t.Fatalf("expected exactly 1 read relay, got %d", got)
	}
}

func TestAckFromNonRecipientIsIgnored(t *testing.T) {
	t.Parallel()
	env := newCoordinatorEnv(chatWith("c1", "alice", "bob"))

	msg, err := env.coordinator.Send(context.Background(), "alice", "c1", "hi", "", nil)
	if err != nil {
		t.Fatalf("Send: %v", err)
	}

	aliceConn := env.connect("alice")

	// carol is not a participant of c1 and has no delivery record.
	if err := env.coordinator.AckDelivered(context.Background(), "carol", msg.ID); err != nil {
		t.Fatalf("expected silent no-op, got %v", err)
	}

	if status, _ := env.ledger.status(msg.ID, "bob"); status != StatusSent {
		t.Fatalf("spoofed ack must not mutate the ledger, got %s", status)
	}
	if got := len(aliceConn.recorded()); got != 0 {
		t.Fatalf("spoofed ack must not relay, got %d events", got)
	}
}

func TestReplayOwedMessages(t *testing.T) {
	t.Parallel()
	env := newCoordinatorEnv(chatWith("c1", "alice", "bob"))

	first, err := env.coordinator.Send(context.Background(), "alice", "c1", "first", "", nil)
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	second, err := env.coordinator.Send(context.Background(), "alice", "c1", "second", "", nil)
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	third, err := env.coordinator.Send(context.Background(), "alice", "c1", "third", "", nil)
	if err != nil {
		t.Fatalf("Send: %v", err)
	}

	// first stays sent, second is delivered-not-read, third is read.
	if err := env.coordinator.AckDelivered(context.Background(), "bob", second.ID); err != nil {
		t.Fatalf("AckDelivered: %v", err)
	}
	if err := env.coordinator.AckRead(context.Background(), "bob", third.ID); err != nil {
		t.Fatalf("AckRead: %v", err)
	}

	conn := &recordingConn{userID: "bob"}
	if err := env.coordinator.Replay(context.Background(), conn); err != nil {
		t.Fatalf("Replay: %v", err)
	}

	events := conn.recorded()
	if len(events) != 2 {
		t.Fatalf("expected 2 replayed messages, got %d", len(events))
	}
	got := map[string]bool{}
	for _, e := range events {
		if e.event != EventUnreadMessages {
			t.Fatalf("expected unread_messages event, got %q", e.event)
		}
		unread := e.data.(UnreadEvent)
		if unread.ChatID != "c1" {
			t.Fatalf("unexpected chat id %q", unread.ChatID)
		}
		got[unread.Message.ID] = true
	}
	if !got[first.ID] || !got[second.ID] || got[third.ID] {
		t.Fatalf("expected replay of first and second only, got %v", got)
	}

	// Replay never advances status; a second replay sends the same set.
	if status, _ := env.ledger.status(second.ID, "bob"); status != StatusDelivered {
		t.Fatalf("expected second to stay delivered, got %s", status)
	}
	again := &recordingConn{userID: "bob"}
	if err := env.coordinator.Replay(context.Background(), again); err != nil {
		t.Fatalf("Replay: %v", err)
	}
	if len(again.recorded()) != 2 {
		t.Fatalf("expected reconnect replay to repeat 2 messages, got %d", len(again.recorded()))
	}
}

func TestFanOutIsolatesRecipientFailures(t *testing.T) {
	t.Parallel()
	env := newCoordinatorEnv(chatWith("c1", "alice", "bob", "carol"))

	broken := &recordingConn{userID: "bob", sendErr: infrastructure.ErrSlowConsumer}
	env.registry.Register("bob", broken)
	carolConn := env.connect("carol")

	if _, err := env.coordinator.Send(context.Background(), "alice", "c1", "hi", "", nil); err != nil {
		t.Fatalf("Send: %v", err)
	}

	if got := carolConn.count(EventMessage); got != 1 {
		t.Fatalf("expected carol to receive the message despite bob's failure, got %d", got)
	}
}
