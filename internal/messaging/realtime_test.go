package messaging

import (
	"testing"

	"github.com/google/uuid"
)

func TestTopicMatches(t *testing.T) {
	id := uuid.New()
	cases := []struct {
		pattern string
		topic   string
		want    bool
	}{
		{ConversationTopic(id), ConversationTopic(id), true},
		{ConversationTopic(id), ConversationTopic(uuid.New()), false},
		{ConversationTopicAll, ConversationTopic(id), true},
		{ConversationTopicAll, MessageTopic(id), false},
		{MessageTopic(id), MessageTopic(id), true},
		{MessageTopic(id), ConversationTopic(id), false},
	}
	for _, tc := range cases {
		if got := topicMatches(tc.pattern, tc.topic); got != tc.want {
			t.Fatalf("topicMatches(%q, %q) = %v, want %v", tc.pattern, tc.topic, got, tc.want)
		}
	}
}

func TestHubSubscribeUnsubscribeIdempotent(t *testing.T) {
	h := NewHub(nil)

	ch, unsub := h.Subscribe("conv:*")
	evt := Event{Kind: EventInsert, Table: "conversations", UserID: uuid.New()}
	h.fanOut(ConversationTopic(evt.UserID), evt)

	select {
	case got := <-ch:
		if got.UserID != evt.UserID {
			t.Fatalf("unexpected event: %+v", got)
		}
	default:
		t.Fatal("expected the event delivered to the matching subscriber")
	}

	unsub()
	unsub() // second call must not panic

	if _, ok := <-ch; ok {
		t.Fatal("expected the delivery channel closed after unsubscribe")
	}

	// Events after teardown go nowhere.
	h.fanOut(ConversationTopic(evt.UserID), evt)
}

func TestHubFanOutDropsForSlowSubscribers(t *testing.T) {
	h := NewHub(nil)
	ch, unsub := h.Subscribe("msg:*")
	defer unsub()

	convID := uuid.New()
	for i := 0; i < cap(ch)+5; i++ {
		h.fanOut(MessageTopic(convID), Event{Kind: EventInsert, Table: "messages", ConversationID: convID})
	}

	// The buffer holds exactly its capacity; the overflow was dropped, not
	// blocked on.
	if len(ch) != cap(ch) {
		t.Fatalf("expected a full buffer, got %d of %d", len(ch), cap(ch))
	}
}
