package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rongwang/sitetrack-server/internal/utils"
)

// Publisher emits approval events. Failures are returned so callers can
// log them; they never undo the approval itself.
type Publisher interface {
	PublishApprovalResolved(ctx context.Context, event ApprovalResolvedEvent) error
	Close() error
}

// NopPublisher is used when no broker is configured
type NopPublisher struct{}

func (NopPublisher) PublishApprovalResolved(context.Context, ApprovalResolvedEvent) error { return nil }
func (NopPublisher) Close() error                                                       { return nil }

// AMQPPublisher publishes persistent messages to a durable queue. The
// connection is opened lazily and re-opened after a failed publish.
type AMQPPublisher struct {
	url    string
	queue  string
	logger *utils.Logger

	mu   sync.Mutex
	conn *amqp.Connection
	ch   *amqp.Channel
}

func NewAMQPPublisher(url, queue string, logger *utils.Logger) *AMQPPublisher {
	return &AMQPPublisher{url: url, queue: queue, logger: logger}
}

func (p *AMQPPublisher) PublishApprovalResolved(ctx context.Context, event ApprovalResolvedEvent) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.ensureChannel(); err != nil {
		return err
	}

	err = p.ch.PublishWithContext(ctx,
		"",      // default exchange
		p.queue, // routing key = queue name
		false,   // mandatory
		false,   // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			Timestamp:    time.Now().UTC(),
			MessageId:    event.RequestID,
			Body:         body,
		},
	)
	if err != nil {
		p.reset()
		return fmt.Errorf("publish: %w", err)
	}

	p.logger.Debug("approval event published", "request_id", event.RequestID, "status", event.Status)
	return nil
}

func (p *AMQPPublisher) ensureChannel() error {
	if p.ch != nil && !p.ch.IsClosed() {
		return nil
	}
	p.reset()

	conn, err := amqp.Dial(p.url)
	if err != nil {
		return fmt.Errorf("dial broker: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return fmt.Errorf("open channel: %w", err)
	}
	if _, err := ch.QueueDeclare(p.queue, true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return fmt.Errorf("declare queue: %w", err)
	}

	p.conn, p.ch = conn, ch
	return nil
}

func (p *AMQPPublisher) reset() {
	if p.ch != nil {
		_ = p.ch.Close()
		p.ch = nil
	}
	if p.conn != nil {
		_ = p.conn.Close()
		p.conn = nil
	}
}

func (p *AMQPPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.reset()
	return nil
}
