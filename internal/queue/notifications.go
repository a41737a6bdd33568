// Package queue fans message.created events through RabbitMQ so offline
// participants can be notified out-of-band (the consumer currently writes
// logs/notifications.log; a mailer can replace it without touching the
// publisher side).
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/gasyway/gasyway-backend/internal/models"
)

const notificationQueueName = "message.created"

// Notification is the queue payload for one new message.
type Notification struct {
	MessageID      string    `json:"message_id"`
	ConversationID string    `json:"conversation_id"`
	SenderID       string    `json:"sender_id"`
	SenderRole     string    `json:"sender_role"`
	Preview        string    `json:"preview"`
	CreatedAt      time.Time `json:"created_at"`
}

// Publisher pushes notifications onto the broker. A Publisher with an
// empty URL is a no-op, so an absent broker never blocks message sends.
type Publisher struct {
	url string

	mu   sync.Mutex
	conn *amqp.Connection
	ch   *amqp.Channel
}

func NewPublisher(url string) *Publisher {
	return &Publisher{url: url}
}

// MessageCreated implements the messaging notifier. Failures are logged
// and dropped; a broken broker must never fail a message send.
func (p *Publisher) MessageCreated(ctx context.Context, m *models.Message) {
	if p == nil || p.url == "" {
		return
	}

	preview := m.Content
	if len(preview) > 120 {
		preview = preview[:120]
	}
	body, err := json.Marshal(Notification{
		MessageID:      m.ID.String(),
		ConversationID: m.ConversationID.String(),
		SenderID:       m.SenderID.String(),
		SenderRole:     string(m.SenderRole),
		Preview:        preview,
		CreatedAt:      m.CreatedAt,
	})
	if err != nil {
		return
	}

	ch, err := p.channel()
	if err != nil {
		log.Printf("queue: broker unavailable, dropping notification: %v", err)
		return
	}

	err = ch.PublishWithContext(ctx, "", notificationQueueName, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Body:         body,
	})
	if err != nil {
		log.Printf("queue: publish failed: %v", err)
		p.reset()
	}
}

// Close shuts the broker connection down.
func (p *Publisher) Close() {
	p.reset()
}

func (p *Publisher) channel() (*amqp.Channel, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.ch != nil {
		return p.ch, nil
	}

	conn, err := amqp.Dial(p.url)
	if err != nil {
		return nil, err
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, err
	}
	if _, err := ch.QueueDeclare(notificationQueueName, true, false, false, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return nil, err
	}

	p.conn = conn
	p.ch = ch
	return ch, nil
}

func (p *Publisher) reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ch != nil {
		p.ch.Close()
		p.ch = nil
	}
	if p.conn != nil {
		p.conn.Close()
		p.conn = nil
	}
}

// StartNotificationConsumer connects to RabbitMQ, declares the durable
// message.created queue, and consumes it forever with a reconnect loop.
// Each notification is appended to logs/notifications.log in a single-line,
// human-friendly format; processing errors reject the message and keep the
// loop running.
func StartNotificationConsumer(url string) {
	if url == "" {
		log.Println("queue: no broker configured, notification consumer not started")
		return
	}

	backoff := time.Second
	for {
		conn, err := amqp.Dial(url)
		if err != nil {
			log.Printf("queue: failed to dial broker: %v; retrying in %s", err, backoff)
			time.Sleep(backoff)
			if backoff < 30*time.Second {
				backoff *= 2
			}
			continue
		}
		backoff = time.Second

		if err := consumeLoop(conn); err != nil {
			log.Printf("queue: consume loop ended: %v; reconnecting", err)
		}
		conn.Close()
		time.Sleep(time.Second)
	}
}

func consumeLoop(conn *amqp.Connection) error {
	ch, err := conn.Channel()
	if err != nil {
		return err
	}
	defer ch.Close()

	if _, err := ch.QueueDeclare(notificationQueueName, true, false, false, false, nil); err != nil {
		return err
	}

	deliveries, err := ch.Consume(notificationQueueName, "", false, false, false, false, nil)
	if err != nil {
		return err
	}

	log.Printf("✅ Notification consumer started (queue: %s)", notificationQueueName)

	for d := range deliveries {
		if err := handleNotification(d.Body); err != nil {
			log.Printf("queue: failed to process notification: %v", err)
			d.Reject(false)
			continue
		}
		d.Ack(false)
	}
	return fmt.Errorf("delivery channel closed")
}

func handleNotification(body []byte) error {
	var n Notification
	if err := json.Unmarshal(body, &n); err != nil {
		return err
	}

	if err := os.MkdirAll("logs", 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(filepath.Join("logs", "notifications.log"), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	line := fmt.Sprintf("%s conversation=%s sender=%s role=%s preview=%q\n",
		n.CreatedAt.UTC().Format(time.RFC3339), n.ConversationID, n.SenderID, n.SenderRole, n.Preview)
	_, err = f.WriteString(line)
	return err
}
