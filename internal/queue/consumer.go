package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/iliyamo/linklink-server/internal/metrics"
)

const maxBackoff = 30 * time.Second

// Consumer reads notification events from the broker, renders them and
// hands them to a Sender.
type Consumer struct {
	url    string
	queue  string
	sender Sender
	logger *slog.Logger
}

// NewConsumer creates a consumer for the given broker URL and queue.
func NewConsumer(url, queue string, sender Sender, logger *slog.Logger) *Consumer {
	if queue == "" {
		queue = DefaultQueue
	}
	return &Consumer{url: url, queue: queue, sender: sender, logger: logger}
}

// Run connects to the broker and consumes until ctx is cancelled. Dial
// failures and closed channels are retried with exponential backoff, so
// the server keeps running while the broker is away. Run returns ctx.Err()
// on shutdown.
func (c *Consumer) Run(ctx context.Context) error {
	backoff := time.Second
	for {
		conn, err := amqp.Dial(c.url)
		if err != nil {
			c.logger.WarnContext(ctx, "notification consumer: dial failed",
				slog.String("error", err.Error()),
				slog.Duration("retry_in", backoff),
			)
			if !sleep(ctx, backoff) {
				return ctx.Err()
			}
			if backoff < maxBackoff {
				backoff *= 2
			}
			continue
		}
		backoff = time.Second

		err = c.consumeLoop(ctx, conn)
		_ = conn.Close()
		if ctx.Err() != nil {
			return ctx.Err()
		}
		c.logger.WarnContext(ctx, "notification consumer: loop ended, reconnecting",
			slog.String("error", err.Error()),
		)
		if !sleep(ctx, 2*time.Second) {
			return ctx.Err()
		}
	}
}

func (c *Consumer) consumeLoop(ctx context.Context, conn *amqp.Connection) error {
	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("channel open: %w", err)
	}
	defer func() { _ = ch.Close() }()

	if err := ch.Qos(50, 0, false); err != nil {
		c.logger.WarnContext(ctx, "notification consumer: set QoS failed", slog.String("error", err.Error()))
	}
	if _, err := ch.QueueDeclare(c.queue, true, false, false, false, nil); err != nil {
		return fmt.Errorf("queue declare: %w", err)
	}
	msgs, err := ch.Consume(c.queue, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("queue consume: %w", err)
	}

	c.logger.InfoContext(ctx, "notification consumer started", slog.String("queue", c.queue))
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case d, ok := <-msgs:
			if !ok {
				return errors.New("deliveries channel closed")
			}
			if err := c.handleMessage(ctx, d.Body); err != nil {
				c.logger.ErrorContext(ctx, "notification consumer: handle message failed",
					slog.String("error", err.Error()),
				)
				// reject without requeue to avoid tight redelivery loops
				_ = d.Nack(false, false)
				continue
			}
			_ = d.Ack(false)
		}
	}
}

func (c *Consumer) handleMessage(ctx context.Context, body []byte) error {
	var ev UserNotificationEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		return fmt.Errorf("unmarshal: %w", err)
	}
	msg, err := Render(ev)
	if err != nil {
		return err
	}
	if err := c.sender.Send(ctx, msg); err != nil {
		metrics.NotificationsPublished.WithLabelValues(c.sender.Name(), "error").Inc()
		return err
	}
	metrics.NotificationsPublished.WithLabelValues(c.sender.Name(), "ok").Inc()
	c.logger.InfoContext(ctx, "notification delivered",
		slog.String("type", string(ev.Type)),
		slog.String("username", ev.Username),
		slog.String("channel", c.sender.Name()),
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
