// Package messaging maintains a role-scoped conversation list and, for one
// active conversation, a live message feed with per-viewer read receipts.
// Local state mutates from two sources: the actor's own calls and events
// pushed over the realtime bus.
package messaging

import (
	"context"
	"errors"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/gasyway/gasyway-backend/internal/models"
)

// ErrNotParticipant is returned when a traveler touches a thread that is
// not theirs.
var ErrNotParticipant = errors.New("not a participant of this conversation")

// Sender display labels. Admins always appear under the support label; the
// viewer's own messages are "Vous"; other travelers stay generic.
const (
	adminDisplayName = "GasyWay"
	selfDisplayName  = "Vous"
	otherDisplayName = "Voyageur"
)

// ConversationStore is the persistence slice for threads.
type ConversationStore interface {
	ListForUser(ctx context.Context, userID uuid.UUID) ([]models.Conversation, error)
	ListAll(ctx context.Context) ([]models.Conversation, error)
	Get(ctx context.Context, id uuid.UUID) (*models.Conversation, error)
	Create(ctx context.Context, conv *models.Conversation, firstMessage string) (uuid.UUID, error)
}

// MessageStore is the persistence slice for messages and receipts.
type MessageStore interface {
	ListWithReadState(ctx context.Context, conversationID, viewerID uuid.UUID) ([]models.Message, error)
	Insert(ctx context.Context, m *models.Message) error
	UnreadCount(ctx context.Context, conversationID, viewerID uuid.UUID) (int, error)
	MarkConversationRead(ctx context.Context, conversationID, viewerID uuid.UUID) error
	MarkRead(ctx context.Context, messageID, viewerID uuid.UUID) error
}

// Notifier fans a new message out to offline delivery (queue). May be nil.
type Notifier interface {
	MessageCreated(ctx context.Context, m *models.Message)
}

type UpdateKind string

const (
	UpdateConversations   UpdateKind = "conversations"
	UpdateMessagesLoaded  UpdateKind = "messages_loaded"
	UpdateMessageAppended UpdateKind = "message_appended"
)

// Update is pushed to the sink (typically a WebSocket writer) whenever
// local state changes.
type Update struct {
	Kind          UpdateKind            `json:"kind"`
	Conversations []models.Conversation `json:"conversations,omitempty"`
	Messages      []models.Message      `json:"messages,omitempty"`
	Message       *models.Message       `json:"message,omitempty"`
	ActiveID      uuid.UUID             `json:"active_id,omitempty"`
}

// Service holds one actor's messaging state. Close is mandatory: leaked
// subscriptions cause duplicate delivery and memory growth.
type Service struct {
	actorID  uuid.UUID
	role     models.UserRole
	convs    ConversationStore
	msgs     MessageStore
	bus      Bus
	notifier Notifier
	sink     func(Update)

	mu            sync.Mutex
	conversations []models.Conversation
	activeID      uuid.UUID
	feed          []models.Message
	loading       bool
	buffered      []Event
	convUnsub     func()
	msgUnsub      func()
	closed        bool
}

func NewService(actorID uuid.UUID, role models.UserRole, convs ConversationStore, msgs MessageStore, bus Bus, notifier Notifier, sink func(Update)) *Service {
	return &Service{
		actorID:  actorID,
		role:     role,
		convs:    convs,
		msgs:     msgs,
		bus:      bus,
		notifier: notifier,
		sink:     sink,
	}
}

// Start opens the conversation-level subscription: own topic for travelers,
// everything for admins. Any pushed change triggers a coarse refetch.
func (s *Service) Start(ctx context.Context) {
	pattern := ConversationTopic(s.actorID)
	if s.role == models.RoleAdmin {
		pattern = ConversationTopicAll
	}

	ch, unsub := s.bus.Subscribe(pattern)
	s.mu.Lock()
	s.convUnsub = unsub
	s.mu.Unlock()

	go func() {
		for range ch {
			if s.isClosed() {
				return
			}
			refetchCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			if err := s.LoadConversations(refetchCtx); err != nil {
				log.Printf("messaging: conversation refetch failed: %v", err)
			}
			cancel()
		}
	}()
}

// Close tears down both subscriptions. Idempotent.
func (s *Service) Close() {
	s.mu.Lock()
	s.closed = true
	convUnsub := s.convUnsub
	msgUnsub := s.msgUnsub
	s.convUnsub = nil
	s.msgUnsub = nil
	s.mu.Unlock()

	if msgUnsub != nil {
		msgUnsub()
	}
	if convUnsub != nil {
		convUnsub()
	}
}

// ListConversations fetches the role-scoped list with unread counts. It
// never touches the active thread, so read-only callers get no receipt
// side effects.
func (s *Service) ListConversations(ctx context.Context) ([]models.Conversation, error) {
	var (
		list []models.Conversation
		err  error
	)
	if s.role == models.RoleAdmin {
		list, err = s.convs.ListAll(ctx)
	} else {
		list, err = s.convs.ListForUser(ctx, s.actorID)
	}
	if err != nil {
		return nil, err
	}

	for i := range list {
		count, err := s.msgs.UnreadCount(ctx, list[i].ID, s.actorID)
		if err != nil {
			return nil, err
		}
		list[i].UnreadCount = count
	}
	return list, nil
}

// LoadConversations fetches the role-scoped list with unread counts and
// publishes it. When nothing is active yet, the first thread activates.
func (s *Service) LoadConversations(ctx context.Context) error {
	list, err := s.ListConversations(ctx)
	if err != nil {
		return err
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.conversations = list
	activeID := s.activeID
	s.mu.Unlock()

	s.emit(Update{Kind: UpdateConversations, Conversations: list, ActiveID: activeID})

	if activeID == uuid.Nil && len(list) > 0 {
		return s.Activate(ctx, list[0].ID)
	}
	return nil
}

// Activate switches the live thread: the previous message subscription is
// torn down first, then the new channel opens and the feed loads.
func (s *Service) Activate(ctx context.Context, conversationID uuid.UUID) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	prevUnsub := s.msgUnsub
	s.msgUnsub = nil
	s.activeID = conversationID
	s.feed = nil
	s.mu.Unlock()

	if prevUnsub != nil {
		prevUnsub()
	}

	ch, unsub := s.bus.Subscribe(MessageTopic(conversationID))
	s.mu.Lock()
	if s.closed || s.activeID != conversationID {
		s.mu.Unlock()
		unsub()
		return nil
	}
	s.msgUnsub = unsub
	// Events that land between here and the feed snapshot are buffered and
	// replayed once the snapshot is in place, so nothing races the query.
	s.loading = true
	s.buffered = nil
	s.mu.Unlock()

	go func() {
		for evt := range ch {
			s.applyLive(evt)
		}
	}()

	_, err := s.LoadMessages(ctx, conversationID)
	if err != nil {
		s.drainBuffered(conversationID)
	}
	return err
}

// drainBuffered replays events held back during a feed load.
func (s *Service) drainBuffered(conversationID uuid.UUID) {
	s.mu.Lock()
	if s.activeID != conversationID {
		s.mu.Unlock()
		return
	}
	held := s.buffered
	s.buffered = nil
	s.loading = false
	s.mu.Unlock()

	for _, evt := range held {
		s.applyLive(evt)
	}
}

// LoadMessages fetches the full ordered feed with per-viewer read state,
// resolves display names, and bulk-marks everything read for the viewer.
func (s *Service) LoadMessages(ctx context.Context, conversationID uuid.UUID) ([]models.Message, error) {
	if s.role != models.RoleAdmin {
		conv, err := s.convs.Get(ctx, conversationID)
		if err != nil {
			return nil, err
		}
		if conv == nil || conv.UserID != s.actorID {
			return nil, ErrNotParticipant
		}
	}

	feed, err := s.msgs.ListWithReadState(ctx, conversationID, s.actorID)
	if err != nil {
		return nil, err
	}
	for i := range feed {
		s.resolveSenderName(&feed[i])
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return feed, nil
	}
	var held []Event
	if s.activeID == conversationID {
		s.feed = feed
		held = s.buffered
		s.buffered = nil
		s.loading = false
	}
	s.mu.Unlock()

	// One bulk statement, not a per-message loop.
	if err := s.msgs.MarkConversationRead(ctx, conversationID, s.actorID); err != nil {
		log.Printf("messaging: bulk mark-as-read failed: %v", err)
	}

	s.emit(Update{Kind: UpdateMessagesLoaded, Messages: feed, ActiveID: conversationID})
	for _, evt := range held {
		s.applyLive(evt)
	}
	return feed, nil
}

// MarkAsRead upserts a single read receipt; calling it repeatedly for the
// same message is safe.
func (s *Service) MarkAsRead(ctx context.Context, messageID uuid.UUID) error {
	return s.msgs.MarkRead(ctx, messageID, s.actorID)
}

// SendMessage inserts a row for the active conversation. Blank text, no
// active thread, or a closed service short-circuit silently. The message
// reaches local state only through the push channel, never optimistically.
func (s *Service) SendMessage(ctx context.Context, text string) error {
	text = strings.TrimSpace(text)

	s.mu.Lock()
	activeID := s.activeID
	closed := s.closed
	s.mu.Unlock()

	if text == "" || activeID == uuid.Nil || closed {
		return nil
	}

	m := &models.Message{
		ConversationID: activeID,
		SenderID:       s.actorID,
		SenderRole:     s.role,
		Content:        text,
		Type:           models.MessageText,
	}
	if err := s.msgs.Insert(ctx, m); err != nil {
		return err
	}

	s.publishMessage(ctx, m)
	if s.notifier != nil {
		s.notifier.MessageCreated(ctx, m)
	}
	return nil
}

// CreateConversation atomically creates a thread plus its seed message,
// activates it, and reloads the list.
func (s *Service) CreateConversation(ctx context.Context, bookingID, packID *uuid.UUID, title, firstMessage string) (uuid.UUID, error) {
	firstMessage = strings.TrimSpace(firstMessage)
	if firstMessage == "" {
		return uuid.Nil, errors.New("first message is required")
	}

	convType := models.ConversationGeneralSupport
	switch {
	case bookingID != nil:
		convType = models.ConversationBookingSupport
	case packID != nil:
		convType = models.ConversationPackInquiry
	}

	conv := &models.Conversation{
		Type:      convType,
		Title:     title,
		UserID:    s.actorID,
		BookingID: bookingID,
		PackID:    packID,
		Priority:  models.PriorityNormal,
	}
	convID, err := s.convs.Create(ctx, conv, firstMessage)
	if err != nil {
		return uuid.Nil, err
	}

	if err := s.bus.Publish(ctx, ConversationTopic(s.actorID), Event{
		Kind:           EventInsert,
		Table:          "conversations",
		ConversationID: convID,
		UserID:         s.actorID,
	}); err != nil {
		log.Printf("messaging: conversation event publish failed: %v", err)
	}

	if err := s.Activate(ctx, convID); err != nil {
		return convID, err
	}
	return convID, s.LoadConversations(ctx)
}

// Snapshot returns the current list, active thread and feed.
func (s *Service) Snapshot() ([]models.Conversation, uuid.UUID, []models.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conversations, s.activeID, s.feed
}

// applyLive appends a pushed message to the tail of the active feed and
// immediately receipts it when someone else authored it.
func (s *Service) applyLive(evt Event) {
	if evt.Kind != EventInsert || evt.Message == nil {
		return
	}

	m := *evt.Message
	s.resolveSenderName(&m)

	s.mu.Lock()
	if s.closed || m.ConversationID != s.activeID {
		s.mu.Unlock()
		return
	}
	if s.loading {
		s.buffered = append(s.buffered, evt)
		s.mu.Unlock()
		return
	}
	// The feed snapshot may already carry a row that was also pushed live.
	for i := range s.feed {
		if s.feed[i].ID == m.ID {
			s.mu.Unlock()
			return
		}
	}
	if m.SenderID == s.actorID {
		m.IsRead = true
	}
	s.feed = append(s.feed, m)
	s.mu.Unlock()

	if m.SenderID != s.actorID {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := s.MarkAsRead(ctx, m.ID); err != nil {
			log.Printf("messaging: live mark-as-read failed: %v", err)
		} else {
			m.IsRead = true
		}
		cancel()
	}

	s.emit(Update{Kind: UpdateMessageAppended, Message: &m, ActiveID: m.ConversationID})
}

// publishMessage pushes the insert to the message topic and pokes the
// conversation topic so lists refetch.
func (s *Service) publishMessage(ctx context.Context, m *models.Message) {
	if err := s.bus.Publish(ctx, MessageTopic(m.ConversationID), Event{
		Kind:           EventInsert,
		Table:          "messages",
		ConversationID: m.ConversationID,
		Message:        m,
	}); err != nil {
		log.Printf("messaging: message event publish failed: %v", err)
	}

	ownerID := s.conversationOwner(ctx, m.ConversationID)
	if ownerID == uuid.Nil {
		return
	}
	if err := s.bus.Publish(ctx, ConversationTopic(ownerID), Event{
		Kind:           EventUpdate,
		Table:          "conversations",
		ConversationID: m.ConversationID,
		UserID:         ownerID,
	}); err != nil {
		log.Printf("messaging: conversation event publish failed: %v", err)
	}
}

func (s *Service) conversationOwner(ctx context.Context, conversationID uuid.UUID) uuid.UUID {
	s.mu.Lock()
	for _, c := range s.conversations {
		if c.ID == conversationID {
			s.mu.Unlock()
			return c.UserID
		}
	}
	s.mu.Unlock()

	conv, err := s.convs.Get(ctx, conversationID)
	if err != nil || conv == nil {
		return uuid.Nil
	}
	return conv.UserID
}

func (s *Service) resolveSenderName(m *models.Message) {
	switch {
	case m.SenderRole == models.RoleAdmin:
		m.SenderName = adminDisplayName
	case m.SenderID == s.actorID:
		m.SenderName = selfDisplayName
	default:
		m.SenderName = otherDisplayName
	}
}

func (s *Service) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *Service) emit(u Update) {
	if s.sink != nil {
		s.sink(u)
	}
}
