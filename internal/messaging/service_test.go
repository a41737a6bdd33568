package messaging

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/gasyway/gasyway-backend/internal/models"
)

type fakeConvStore struct {
	mu    sync.Mutex
	convs []models.Conversation
}

func (s *fakeConvStore) ListForUser(ctx context.Context, userID uuid.UUID) ([]models.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Conversation
	for _, c := range s.convs {
		if c.UserID == userID {
			out = append(out, c)
		}
	}
	return out, nil
}

func (s *fakeConvStore) ListAll(ctx context.Context) ([]models.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.Conversation(nil), s.convs...), nil
}

func (s *fakeConvStore) Get(ctx context.Context, id uuid.UUID) (*models.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.convs {
		if c.ID == id {
			cp := c
			return &cp, nil
		}
	}
	return nil, nil
}

func (s *fakeConvStore) Create(ctx context.Context, conv *models.Conversation, firstMessage string) (uuid.UUID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	conv.ID = uuid.New()
	conv.Status = models.ConversationActive
	s.convs = append(s.convs, *conv)
	return conv.ID, nil
}

type receiptKey struct {
	messageID uuid.UUID
	viewerID  uuid.UUID
}

type fakeMsgStore struct {
	mu            sync.Mutex
	messages      map[uuid.UUID][]models.Message
	unread        map[uuid.UUID]int
	receipts      map[receiptKey]bool
	bulkReadCalls []uuid.UUID
	readCalls     []uuid.UUID
	inserted      []models.Message
}

func newFakeMsgStore() *fakeMsgStore {
	return &fakeMsgStore{
		messages: make(map[uuid.UUID][]models.Message),
		unread:   make(map[uuid.UUID]int),
		receipts: make(map[receiptKey]bool),
	}
}

func (s *fakeMsgStore) ListWithReadState(ctx context.Context, conversationID, viewerID uuid.UUID) ([]models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.Message(nil), s.messages[conversationID]...), nil
}

func (s *fakeMsgStore) Insert(ctx context.Context, m *models.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m.ID = uuid.New()
	m.CreatedAt = time.Now()
	s.inserted = append(s.inserted, *m)
	s.messages[m.ConversationID] = append(s.messages[m.ConversationID], *m)
	return nil
}

func (s *fakeMsgStore) UnreadCount(ctx context.Context, conversationID, viewerID uuid.UUID) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.unread[conversationID], nil
}

func (s *fakeMsgStore) MarkConversationRead(ctx context.Context, conversationID, viewerID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bulkReadCalls = append(s.bulkReadCalls, conversationID)
	return nil
}

func (s *fakeMsgStore) MarkRead(ctx context.Context, messageID, viewerID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.readCalls = append(s.readCalls, messageID)
	// Upsert semantics: a repeated pair is a no-op, never an error.
	s.receipts[receiptKey{messageID, viewerID}] = true
	return nil
}

func (s *fakeMsgStore) receiptCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.receipts)
}

// gatedMsgStore blocks the feed query until released, so tests can land
// live events while a load is in flight.
type gatedMsgStore struct {
	*fakeMsgStore
	entered chan struct{}
	release chan struct{}
}

func (s *gatedMsgStore) ListWithReadState(ctx context.Context, conversationID, viewerID uuid.UUID) ([]models.Message, error) {
	s.entered <- struct{}{}
	<-s.release
	return s.fakeMsgStore.ListWithReadState(ctx, conversationID, viewerID)
}

type fakeBusSub struct {
	pattern string
	ch      chan Event
}

type fakeBus struct {
	mu        sync.Mutex
	subs      map[int]*fakeBusSub
	next      int
	published []struct {
		Topic string
		Event Event
	}
}

func newFakeBus() *fakeBus {
	return &fakeBus{subs: make(map[int]*fakeBusSub)}
}

func (b *fakeBus) Subscribe(pattern string) (<-chan Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := b.next
	b.next++
	sub := &fakeBusSub{pattern: pattern, ch: make(chan Event, 16)}
	b.subs[id] = sub
	return sub.ch, func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if s, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(s.ch)
		}
	}
}

func (b *fakeBus) Publish(ctx context.Context, topic string, evt Event) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.published = append(b.published, struct {
		Topic string
		Event Event
	}{topic, evt})
	for _, sub := range b.subs {
		if topicMatches(sub.pattern, topic) {
			select {
			case sub.ch <- evt:
			default:
			}
		}
	}
	return nil
}

func (b *fakeBus) activePatterns() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []string
	for _, sub := range b.subs {
		out = append(out, sub.pattern)
	}
	return out
}

type updateRecorder struct {
	mu      sync.Mutex
	updates []Update
}

func (r *updateRecorder) sink(u Update) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.updates = append(r.updates, u)
}

func (r *updateRecorder) kinds() []UpdateKind {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []UpdateKind
	for _, u := range r.updates {
		out = append(out, u.Kind)
	}
	return out
}

func seedConv(convs *fakeConvStore, owner uuid.UUID) models.Conversation {
	c := models.Conversation{
		ID:     uuid.New(),
		Type:   models.ConversationGeneralSupport,
		UserID: owner,
		Status: models.ConversationActive,
	}
	convs.convs = append(convs.convs, c)
	return c
}

func TestListConversationsScopedByRole(t *testing.T) {
	convs := &fakeConvStore{}
	msgs := newFakeMsgStore()
	ana, bob := uuid.New(), uuid.New()
	cAna := seedConv(convs, ana)
	seedConv(convs, bob)
	msgs.unread[cAna.ID] = 3

	traveler := NewService(ana, models.RoleTraveler, convs, msgs, newFakeBus(), nil, nil)
	list, err := traveler.ListConversations(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(list) != 1 || list[0].UserID != ana {
		t.Fatalf("traveler must only see own threads, got %d", len(list))
	}
	if list[0].UnreadCount != 3 {
		t.Fatalf("expected unread count 3, got %d", list[0].UnreadCount)
	}

	admin := NewService(uuid.New(), models.RoleAdmin, convs, msgs, newFakeBus(), nil, nil)
	list, err = admin.ListConversations(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(list) != 2 {
		t.Fatalf("admin must see every thread, got %d", len(list))
	}
}

func TestLoadConversationsActivatesFirstThread(t *testing.T) {
	convs := &fakeConvStore{}
	msgs := newFakeMsgStore()
	bus := newFakeBus()
	ana := uuid.New()
	c := seedConv(convs, ana)
	msgs.messages[c.ID] = []models.Message{
		{ID: uuid.New(), ConversationID: c.ID, SenderID: ana, SenderRole: models.RoleTraveler, Content: "hello"},
	}

	rec := &updateRecorder{}
	svc := NewService(ana, models.RoleTraveler, convs, msgs, bus, nil, rec.sink)
	defer svc.Close()

	if err := svc.LoadConversations(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	_, activeID, feed := svc.Snapshot()
	if activeID != c.ID {
		t.Fatal("expected the first thread to auto-activate")
	}
	if len(feed) != 1 {
		t.Fatalf("expected the feed to load, got %d messages", len(feed))
	}
	if len(msgs.bulkReadCalls) != 1 || msgs.bulkReadCalls[0] != c.ID {
		t.Fatal("activation must bulk-mark the thread read")
	}

	kinds := rec.kinds()
	if len(kinds) < 2 || kinds[0] != UpdateConversations {
		t.Fatalf("expected a conversations update first, got %v", kinds)
	}
}

func TestLoadMessagesDeniesNonParticipant(t *testing.T) {
	convs := &fakeConvStore{}
	msgs := newFakeMsgStore()
	bob := uuid.New()
	c := seedConv(convs, bob)

	svc := NewService(uuid.New(), models.RoleTraveler, convs, msgs, newFakeBus(), nil, nil)
	if _, err := svc.LoadMessages(context.Background(), c.ID); err != ErrNotParticipant {
		t.Fatalf("expected ErrNotParticipant, got %v", err)
	}

	admin := NewService(uuid.New(), models.RoleAdmin, convs, msgs, newFakeBus(), nil, nil)
	if _, err := admin.LoadMessages(context.Background(), c.ID); err != nil {
		t.Fatalf("admins may read any thread, got %v", err)
	}
}

func TestSendMessageGuards(t *testing.T) {
	convs := &fakeConvStore{}
	msgs := newFakeMsgStore()
	ana := uuid.New()

	svc := NewService(ana, models.RoleTraveler, convs, msgs, newFakeBus(), nil, nil)
	if err := svc.SendMessage(context.Background(), "hello"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(msgs.inserted) != 0 {
		t.Fatal("sending without an active thread must be a silent no-op")
	}

	c := seedConv(convs, ana)
	if err := svc.Activate(context.Background(), c.ID); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := svc.SendMessage(context.Background(), "   "); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(msgs.inserted) != 0 {
		t.Fatal("blank text must be a silent no-op")
	}

	svc.Close()
	if err := svc.SendMessage(context.Background(), "hello"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(msgs.inserted) != 0 {
		t.Fatal("a closed service must not send")
	}
}

func TestSendMessageNeverAppendsOptimistically(t *testing.T) {
	convs := &fakeConvStore{}
	msgs := newFakeMsgStore()
	bus := newFakeBus()
	ana := uuid.New()
	c := seedConv(convs, ana)

	// No live subscription here: the send's own publish must not reach the
	// feed through any local shortcut.
	svc := NewService(ana, models.RoleTraveler, convs, msgs, bus, nil, nil)
	if err := svc.Activate(context.Background(), c.ID); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	svc.mu.Lock()
	if svc.msgUnsub != nil {
		unsub := svc.msgUnsub
		svc.msgUnsub = nil
		svc.mu.Unlock()
		unsub()
	} else {
		svc.mu.Unlock()
	}

	before := len(msgs.messages[c.ID])
	if err := svc.SendMessage(context.Background(), "hello"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(msgs.inserted) != 1 {
		t.Fatalf("expected one insert, got %d", len(msgs.inserted))
	}

	_, _, feed := svc.Snapshot()
	if len(feed) != before {
		t.Fatal("the local feed must only grow through the push channel")
	}

	// The insert still reaches the wire for everyone else.
	found := false
	for _, p := range bus.published {
		if p.Topic == MessageTopic(c.ID) && p.Event.Kind == EventInsert {
			found = true
		}
	}
	if !found {
		t.Fatal("expected the message event on the message topic")
	}
}

func TestApplyLiveAppendsAndReceipts(t *testing.T) {
	convs := &fakeConvStore{}
	msgs := newFakeMsgStore()
	ana, admin := uuid.New(), uuid.New()
	c := seedConv(convs, ana)

	rec := &updateRecorder{}
	svc := NewService(ana, models.RoleTraveler, convs, msgs, newFakeBus(), nil, rec.sink)
	defer svc.Close()
	if err := svc.Activate(context.Background(), c.ID); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	incoming := models.Message{
		ID:             uuid.New(),
		ConversationID: c.ID,
		SenderID:       admin,
		SenderRole:     models.RoleAdmin,
		Content:        "how can we help?",
	}
	svc.applyLive(Event{Kind: EventInsert, Table: "messages", ConversationID: c.ID, Message: &incoming})

	_, _, feed := svc.Snapshot()
	if len(feed) != 1 {
		t.Fatalf("expected the live message appended, got %d", len(feed))
	}
	if feed[0].SenderName != "GasyWay" {
		t.Fatalf("admin messages must carry the support label, got %q", feed[0].SenderName)
	}
	if len(msgs.readCalls) != 1 || msgs.readCalls[0] != incoming.ID {
		t.Fatal("a visible incoming message must be receipted immediately")
	}

	// A message for another thread is ignored.
	other := models.Message{ID: uuid.New(), ConversationID: uuid.New(), SenderID: admin, SenderRole: models.RoleAdmin, Content: "x"}
	svc.applyLive(Event{Kind: EventInsert, Table: "messages", ConversationID: other.ConversationID, Message: &other})
	_, _, feed = svc.Snapshot()
	if len(feed) != 1 {
		t.Fatal("messages for inactive threads must not enter the feed")
	}

	// The viewer's own echoed message appends without a receipt call.
	own := models.Message{ID: uuid.New(), ConversationID: c.ID, SenderID: ana, SenderRole: models.RoleTraveler, Content: "thanks"}
	svc.applyLive(Event{Kind: EventInsert, Table: "messages", ConversationID: c.ID, Message: &own})
	_, _, feed = svc.Snapshot()
	if len(feed) != 2 {
		t.Fatalf("expected the echo appended, got %d", len(feed))
	}
	if !feed[1].IsRead {
		t.Fatal("own messages are read by definition")
	}
	if len(msgs.readCalls) != 1 {
		t.Fatal("own messages must not be receipted")
	}
	if feed[1].SenderName != "Vous" {
		t.Fatalf("own messages carry the self label, got %q", feed[1].SenderName)
	}
}

func TestLiveMessageDuringFeedLoadIsKept(t *testing.T) {
	convs := &fakeConvStore{}
	inner := newFakeMsgStore()
	msgs := &gatedMsgStore{fakeMsgStore: inner, entered: make(chan struct{}), release: make(chan struct{})}
	bus := newFakeBus()
	ana, admin := uuid.New(), uuid.New()
	c := seedConv(convs, ana)
	inner.messages[c.ID] = []models.Message{
		{ID: uuid.New(), ConversationID: c.ID, SenderID: ana, SenderRole: models.RoleTraveler, Content: "hello", CreatedAt: time.Now().Add(-time.Minute)},
	}

	svc := NewService(ana, models.RoleTraveler, convs, msgs, bus, nil, nil)
	defer svc.Close()

	done := make(chan error, 1)
	go func() { done <- svc.Activate(context.Background(), c.ID) }()

	<-msgs.entered
	pushed := models.Message{
		ID:             uuid.New(),
		ConversationID: c.ID,
		SenderID:       admin,
		SenderRole:     models.RoleAdmin,
		Content:        "while you were loading",
		CreatedAt:      time.Now(),
	}
	if err := bus.Publish(context.Background(), MessageTopic(c.ID), Event{
		Kind: EventInsert, Table: "messages", ConversationID: c.ID, Message: &pushed,
	}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	close(msgs.release)

	if err := <-done; err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		_, _, feed := svc.Snapshot()
		if len(feed) == 2 && feed[1].ID == pushed.ID {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("a message pushed mid-load must survive the load, feed has %d messages", len(feed))
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestApplyLiveSkipsMessagesAlreadyLoaded(t *testing.T) {
	convs := &fakeConvStore{}
	msgs := newFakeMsgStore()
	ana, admin := uuid.New(), uuid.New()
	c := seedConv(convs, ana)
	loaded := models.Message{
		ID:             uuid.New(),
		ConversationID: c.ID,
		SenderID:       admin,
		SenderRole:     models.RoleAdmin,
		Content:        "already persisted",
	}
	msgs.messages[c.ID] = []models.Message{loaded}

	svc := NewService(ana, models.RoleTraveler, convs, msgs, newFakeBus(), nil, nil)
	defer svc.Close()
	if err := svc.Activate(context.Background(), c.ID); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	svc.applyLive(Event{Kind: EventInsert, Table: "messages", ConversationID: c.ID, Message: &loaded})

	_, _, feed := svc.Snapshot()
	if len(feed) != 1 {
		t.Fatalf("a row both loaded and pushed must appear once, got %d", len(feed))
	}
}

func TestMarkAsReadRepeatsAreSafe(t *testing.T) {
	msgs := newFakeMsgStore()
	svc := NewService(uuid.New(), models.RoleTraveler, &fakeConvStore{}, msgs, newFakeBus(), nil, nil)
	defer svc.Close()

	id := uuid.New()
	for i := 0; i < 2; i++ {
		if err := svc.MarkAsRead(context.Background(), id); err != nil {
			t.Fatalf("unexpected error on call %d: %v", i+1, err)
		}
	}
	if got := msgs.receiptCount(); got != 1 {
		t.Fatalf("expected one receipt for the repeated pair, got %d", got)
	}
}

func TestFeedOrderedByCreationAcrossLoadAndLive(t *testing.T) {
	convs := &fakeConvStore{}
	msgs := newFakeMsgStore()
	ana, admin := uuid.New(), uuid.New()
	c := seedConv(convs, ana)
	base := time.Now().Add(-time.Hour)
	msgs.messages[c.ID] = []models.Message{
		{ID: uuid.New(), ConversationID: c.ID, SenderID: ana, SenderRole: models.RoleTraveler, Content: "first", CreatedAt: base},
		{ID: uuid.New(), ConversationID: c.ID, SenderID: admin, SenderRole: models.RoleAdmin, Content: "second", CreatedAt: base.Add(time.Minute)},
	}

	svc := NewService(ana, models.RoleTraveler, convs, msgs, newFakeBus(), nil, nil)
	defer svc.Close()
	if err := svc.Activate(context.Background(), c.ID); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	for i, content := range []string{"third", "fourth"} {
		m := models.Message{
			ID:             uuid.New(),
			ConversationID: c.ID,
			SenderID:       admin,
			SenderRole:     models.RoleAdmin,
			Content:        content,
			CreatedAt:      base.Add(time.Duration(i+2) * time.Minute),
		}
		svc.applyLive(Event{Kind: EventInsert, Table: "messages", ConversationID: c.ID, Message: &m})
	}

	_, _, feed := svc.Snapshot()
	if len(feed) != 4 {
		t.Fatalf("expected 4 messages, got %d", len(feed))
	}
	for i := 1; i < len(feed); i++ {
		if feed[i].CreatedAt.Before(feed[i-1].CreatedAt) {
			t.Fatalf("feed out of order at %d: %v before %v", i, feed[i].CreatedAt, feed[i-1].CreatedAt)
		}
	}
}

func TestActivateSwitchTearsDownPreviousSubscription(t *testing.T) {
	convs := &fakeConvStore{}
	msgs := newFakeMsgStore()
	bus := newFakeBus()
	ana := uuid.New()
	c1 := seedConv(convs, ana)
	c2 := seedConv(convs, ana)

	svc := NewService(ana, models.RoleTraveler, convs, msgs, bus, nil, nil)
	defer svc.Close()

	if err := svc.Activate(context.Background(), c1.ID); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := svc.Activate(context.Background(), c2.ID); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	patterns := bus.activePatterns()
	if len(patterns) != 1 || patterns[0] != MessageTopic(c2.ID) {
		t.Fatalf("expected only the new thread's subscription, got %v", patterns)
	}
}

func TestCloseTearsDownAllSubscriptions(t *testing.T) {
	convs := &fakeConvStore{}
	msgs := newFakeMsgStore()
	bus := newFakeBus()
	ana := uuid.New()
	c := seedConv(convs, ana)

	svc := NewService(ana, models.RoleTraveler, convs, msgs, bus, nil, nil)
	svc.Start(context.Background())
	if err := svc.Activate(context.Background(), c.ID); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(bus.activePatterns()) != 2 {
		t.Fatalf("expected two live subscriptions, got %v", bus.activePatterns())
	}

	svc.Close()
	if len(bus.activePatterns()) != 0 {
		t.Fatalf("expected every subscription torn down, got %v", bus.activePatterns())
	}
}

func TestCreateConversationActivatesAndPublishes(t *testing.T) {
	convs := &fakeConvStore{}
	msgs := newFakeMsgStore()
	bus := newFakeBus()
	ana := uuid.New()
	bookingID := uuid.New()

	rec := &updateRecorder{}
	svc := NewService(ana, models.RoleTraveler, convs, msgs, bus, nil, rec.sink)
	defer svc.Close()

	convID, err := svc.CreateConversation(context.Background(), &bookingID, nil, "Trip to Nosy Be", "My booking needs a change")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	conv, _ := convs.Get(context.Background(), convID)
	if conv == nil || conv.Type != models.ConversationBookingSupport {
		t.Fatalf("expected booking_support inferred from the booking ref, got %+v", conv)
	}

	_, activeID, _ := svc.Snapshot()
	if activeID != convID {
		t.Fatal("a fresh thread must become active")
	}

	found := false
	for _, p := range bus.published {
		if p.Topic == ConversationTopic(ana) && p.Event.ConversationID == convID {
			found = true
		}
	}
	if !found {
		t.Fatal("expected a conversation event on the owner topic")
	}
}

func TestCreateConversationRequiresFirstMessage(t *testing.T) {
	svc := NewService(uuid.New(), models.RoleTraveler, &fakeConvStore{}, newFakeMsgStore(), newFakeBus(), nil, nil)
	defer svc.Close()

	if _, err := svc.CreateConversation(context.Background(), nil, nil, "", "   "); err == nil {
		t.Fatal("expected an error for a blank first message")
	}
}
