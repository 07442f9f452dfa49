package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/iliyamo/linklink-server/internal/metrics"
	"github.com/iliyamo/linklink-server/internal/model"
	"github.com/iliyamo/linklink-server/internal/utils"
)

// DefaultQueue is the durable queue carrying account notifications.
const DefaultQueue = "user.notifications"

// Publisher turns account events into broker messages. It satisfies the
// auth service's Mailer interface, so a registration or decision never
// waits on SMTP.
type Publisher struct {
	url        string
	queue      string
	adminEmail string
	clock      utils.Clock
	logger     *slog.Logger

	// send delivers one encoded message; replaced in tests.
	send func(ctx context.Context, body []byte) error
}

// NewPublisher creates a publisher for the given broker URL and queue.
// Registration notices are addressed to adminEmail.
func NewPublisher(url, queue, adminEmail string, clock utils.Clock, logger *slog.Logger) *Publisher {
	if queue == "" {
		queue = DefaultQueue
	}
	p := &Publisher{
		url:        url,
		queue:      queue,
		adminEmail: adminEmail,
		clock:      clock,
		logger:     logger,
	}
	p.send = p.publishAMQP
	return p
}

// SendRegistrationNotice tells the admin that u is waiting for approval.
// It is a no-op when no admin address is configured.
func (p *Publisher) SendRegistrationNotice(ctx context.Context, u *model.User) error {
	if p.adminEmail == "" {
		return nil
	}
	return p.Publish(ctx, UserNotificationEvent{
		Type:     EventRegistration,
		To:       p.adminEmail,
		Username: u.Username,
		Email:    u.Email,
	})
}

// SendDecisionNotice tells u the outcome of their registration.
func (p *Publisher) SendDecisionNotice(ctx context.Context, u *model.User, approved bool, reason string) error {
	ev := UserNotificationEvent{
		Type:     EventRejected,
		To:       u.Email,
		Username: u.Username,
		Email:    u.Email,
		Reason:   reason,
	}
	if approved {
		ev.Type = EventApproved
		ev.Reason = ""
	}
	return p.Publish(ctx, ev)
}

// Publish encodes ev and hands it to the broker. Failures are logged and
// returned so the caller can choose to ignore them.
func (p *Publisher) Publish(ctx context.Context, ev UserNotificationEvent) error {
	if ev.OccurredAt == "" {
		ev.OccurredAt = p.clock.Now().UTC().Format(time.RFC3339)
	}
	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}
	if err := p.send(ctx, body); err != nil {
		metrics.NotificationsPublished.WithLabelValues("amqp", "error").Inc()
		p.logger.WarnContext(ctx, "publish notification failed",
			slog.String("type", string(ev.Type)),
			slog.String("username", ev.Username),
			slog.String("error", err.Error()),
		)
		return err
	}
	metrics.NotificationsPublished.WithLabelValues("amqp", "ok").Inc()
	return nil
}

// publishAMQP dials per message. Notifications are rare enough that a
// long-lived channel is not worth the reconnect bookkeeping.
func (p *Publisher) publishAMQP(ctx context.Context, body []byte) error {
	conn, err := amqp.Dial(p.url)
	if err != nil {
		return fmt.Errorf("rabbitmq dial: %w", err)
	}
	defer func() { _ = conn.Close() }()

	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("rabbitmq channel: %w", err)
	}
	defer func() { _ = ch.Close() }()

	if _, err := ch.QueueDeclare(p.queue, true, false, false, false, nil); err != nil {
		return fmt.Errorf("rabbitmq queue declare: %w", err)
	}

	pub := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    p.clock.Now().UTC(),
		Body:         body,
	}
	if err := ch.PublishWithContext(ctx, "", p.queue, false, false, pub); err != nil {
		return fmt.Errorf("rabbitmq publish: %w", err)
	}
	return nil
}
