package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"
)

const (
	ExchangeName = "entries.site"
	RoutingKey   = "posts.snapshot_loaded"
	QueueName    = "site.snapshot_loaded"
)

var ErrPublisherClosed = errors.New("publisher closed")

var _ Publisher = (*RabbitMQPublisher)(nil)

// RabbitMQPublisher sends snapshot events to a durable topic exchange. If the
// broker closes the channel, later publishes fail with ErrPublisherClosed;
// loads keep working since events are best effort.
type RabbitMQPublisher struct {
	conn    *amqp.Connection
	channel *amqp.Channel
	logger  *slog.Logger
	mu      sync.Mutex
	once    sync.Once
}

func NewRabbitMQPublisher(url string, logger *slog.Logger) (*RabbitMQPublisher, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("dial rabbitmq: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}
	if err := ch.ExchangeDeclare(ExchangeName, "topic", true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("declare exchange: %w", err)
	}

	p := &RabbitMQPublisher{conn: conn, channel: ch, logger: logger}
	go p.watch(ch.NotifyClose(make(chan *amqp.Error, 1)))
	return p, nil
}

func (p *RabbitMQPublisher) watch(closed <-chan *amqp.Error) {
	amqpErr, ok := <-closed
	if !ok {
		return
	}
	p.logger.Warn("rabbitmq channel closed", "code", amqpErr.Code, "reason", amqpErr.Reason)
	p.mu.Lock()
	p.channel = nil
	p.mu.Unlock()
}

func (p *RabbitMQPublisher) PublishSnapshotLoaded(ctx context.Context, e SnapshotLoaded) error {
	body, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.channel == nil {
		return ErrPublisherClosed
	}
	err = p.channel.PublishWithContext(ctx, ExchangeName, RoutingKey, false, false, amqp.Publishing{
		ContentType:  "application/json",
		MessageId:    e.ID.String(),
		Type:         e.Type,
		Timestamp:    e.Timestamp,
		Body:         body,
		DeliveryMode: amqp.Persistent,
	})
	if err != nil {
		return fmt.Errorf("publish %s: %w", e.ID, err)
	}
	return nil
}

func (p *RabbitMQPublisher) Close() error {
	var err error
	p.once.Do(func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		if p.channel != nil {
			err = p.channel.Close()
			p.channel = nil
		}
		if p.conn != nil {
			if closeErr := p.conn.Close(); closeErr != nil && err == nil {
				err = closeErr
			}
			p.conn = nil
		}
	})
	return err
}
