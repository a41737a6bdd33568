package messaging

import (
	"context"
	"encoding/json"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/gasyway/gasyway-backend/internal/models"
)

// channelPrefix namespaces every topic on the Redis wire.
const channelPrefix = "gasyway:"

type EventKind string

const (
	EventInsert EventKind = "insert"
	EventUpdate EventKind = "update"
	EventDelete EventKind = "delete"
)

// Event is the payload pushed over Redis when a row changes. Message is
// set only for message inserts.
type Event struct {
	Kind           EventKind       `json:"kind"`
	Table          string          `json:"table"`
	ConversationID uuid.UUID       `json:"conversation_id,omitempty"`
	UserID         uuid.UUID       `json:"user_id,omitempty"`
	Message        *models.Message `json:"message,omitempty"`
}

// ConversationTopic scopes conversation changes to their owning traveler.
func ConversationTopic(userID uuid.UUID) string { return "conv:" + userID.String() }

// ConversationTopicAll is the admin subscription: every traveler's topic.
const ConversationTopicAll = "conv:*"

// MessageTopic scopes message inserts to one conversation.
func MessageTopic(conversationID uuid.UUID) string { return "msg:" + conversationID.String() }

// Bus is the push channel the messaging service subscribes to. Subscribe
// returns a delivery channel plus a mandatory teardown func; forgetting the
// teardown leaks the subscription and causes duplicate delivery.
type Bus interface {
	Subscribe(pattern string) (<-chan Event, func())
	Publish(ctx context.Context, topic string, evt Event) error
}

type hubSub struct {
	pattern string
	ch      chan Event
}

// Hub is the Redis-backed Bus: one shared pattern subscription per process
// fans events out to local subscribers.
type Hub struct {
	rdb *redis.Client

	mu      sync.RWMutex
	subs    map[int]*hubSub
	next    int
	started sync.Once
}

func NewHub(rdb *redis.Client) *Hub {
	return &Hub{rdb: rdb, subs: make(map[int]*hubSub)}
}

// Start ensures a single shared Redis listener per instance.
func (h *Hub) Start(ctx context.Context) {
	h.started.Do(func() {
		go h.run(ctx)
	})
}

func (h *Hub) run(ctx context.Context) {
	backoff := time.Second

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		func() {
			pubsub := h.rdb.PSubscribe(ctx, channelPrefix+"*")
			defer pubsub.Close()

			log.Printf("✅ Realtime subscriber started (pattern: %s*)", channelPrefix)

			for {
				msg, err := pubsub.ReceiveMessage(ctx)
				if err != nil {
					if ctx.Err() != nil {
						return
					}
					log.Printf("realtime: subscriber error: %v", err)
					time.Sleep(backoff)
					backoff *= 2
					if backoff > 30*time.Second {
						backoff = 30 * time.Second
					}
					return
				}

				backoff = time.Second

				var evt Event
				if err := json.Unmarshal([]byte(msg.Payload), &evt); err != nil {
					log.Printf("realtime: failed to unmarshal event: %v", err)
					continue
				}

				h.fanOut(strings.TrimPrefix(msg.Channel, channelPrefix), evt)
			}
		}()
	}
}

// Subscribe registers a local subscriber for a topic or a trailing-*
// pattern. The returned func tears the subscription down; calling it more
// than once is safe.
func (h *Hub) Subscribe(pattern string) (<-chan Event, func()) {
	ch := make(chan Event, 16)

	h.mu.Lock()
	id := h.next
	h.next++
	h.subs[id] = &hubSub{pattern: pattern, ch: ch}
	h.mu.Unlock()

	var once sync.Once
	unsubscribe := func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs, id)
			h.mu.Unlock()
			close(ch)
		})
	}
	return ch, unsubscribe
}

// Publish pushes an event onto the wire for every instance, including this
// one; local state mutates only when the event comes back around.
func (h *Hub) Publish(ctx context.Context, topic string, evt Event) error {
	data, err := json.Marshal(evt)
	if err != nil {
		return err
	}
	return h.rdb.Publish(ctx, channelPrefix+topic, data).Err()
}

func (h *Hub) fanOut(topic string, evt Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, sub := range h.subs {
		if !topicMatches(sub.pattern, topic) {
			continue
		}
		select {
		case sub.ch <- evt:
		default:
			// Slow consumer; drop rather than block the shared listener.
			log.Printf("realtime: dropping event for slow subscriber (pattern %s)", sub.pattern)
		}
	}
}

func topicMatches(pattern, topic string) bool {
	if strings.HasSuffix(pattern, "*") {
		return strings.HasPrefix(topic, strings.TrimSuffix(pattern, "*"))
	}
	return pattern == topic
}
