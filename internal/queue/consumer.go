package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rongwang/sitetrack-server/internal/utils"
)

// RunAuditConsumer consumes approval events and writes one structured log
// line per event. It reconnects with exponential backoff until ctx is done.
func RunAuditConsumer(ctx context.Context, url, queue string, logger *utils.Logger) {
	backoff := time.Second
	for {
		if ctx.Err() != nil {
			return
		}

		conn, err := amqp.Dial(url)
		if err != nil {
			logger.Warn("audit consumer: dial failed", "error", err, "retry_in", backoff)
			if !sleep(ctx, backoff) {
				return
			}
			if backoff < 30*time.Second {
				backoff *= 2
			}
			continue
		}
		backoff = time.Second

		err = consumeLoop(ctx, conn, queue, logger)
		_ = conn.Close()
		if err == nil {
			return
		}
		logger.Warn("audit consumer: loop ended, reconnecting", "error", err)
		if !sleep(ctx, 2*time.Second) {
			return
		}
	}
}

// consumeLoop returns nil only when ctx is cancelled
func consumeLoop(ctx context.Context, conn *amqp.Connection, queue string, logger *utils.Logger) error {
	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("channel open: %w", err)
	}
	defer func() { _ = ch.Close() }()

	if err := ch.Qos(50, 0, false); err != nil {
		logger.Warn("audit consumer: set QoS failed", "error", err)
	}
	if _, err := ch.QueueDeclare(queue, true, false, false, false, nil); err != nil {
		return fmt.Errorf("queue declare: %w", err)
	}

	msgs, err := ch.Consume(queue, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("queue consume: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case d, ok := <-msgs:
			if !ok {
				return errors.New("deliveries channel closed")
			}
			if err := HandleApprovalResolved(d.Body, logger); err != nil {
				logger.Warn("audit consumer: bad message", "error", err)
				_ = d.Nack(false, false) // do not requeue poison messages
				continue
			}
			_ = d.Ack(false)
		}
	}
}

// HandleApprovalResolved records one event in the audit log
func HandleApprovalResolved(body []byte, logger *utils.Logger) error {
	ev, err := DecodeApprovalResolved(body)
	if err != nil {
		return err
	}
	logger.Info("approval resolved",
		"request_id", ev.RequestID,
		"status", ev.Status,
		"investor_id", ev.InvestorID,
		"resolved_by", ev.ResolvedBy,
		"changes", ev.Changes,
		"applied", ev.Applied,
		"failed", ev.Failed,
		"resolved_at", ev.ResolvedAt.Format(time.RFC3339),
	)
	return nil
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
