package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/jeremyjsx/entries-site/internal/config"
	"github.com/jeremyjsx/entries-site/internal/events"
	amqp "github.com/rabbitmq/amqp091-go"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))

	if err := run(logger); err != nil {
		logger.Error("worker stopped", "error", err)
		os.Exit(1)
	}
}

func run(logger *slog.Logger) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if cfg.RabbitMQURL == "" {
		return errors.New("RABBITMQ_URL is required")
	}

	conn, err := amqp.Dial(cfg.RabbitMQURL)
	if err != nil {
		return fmt.Errorf("connect to rabbitmq: %w", err)
	}
	defer conn.Close()

	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("open channel: %w", err)
	}
	defer ch.Close()

	if err := ch.ExchangeDeclare(events.ExchangeName, "topic", true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare exchange: %w", err)
	}

	q, err := ch.QueueDeclare(events.QueueName, true, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("declare queue: %w", err)
	}

	if err := ch.QueueBind(q.Name, events.RoutingKey, events.ExchangeName, false, nil); err != nil {
		return fmt.Errorf("bind queue: %w", err)
	}

	deliveries, err := ch.Consume(q.Name, "snapshot-worker", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("start consuming: %w", err)
	}

	logger.Info("snapshot worker started", "queue", q.Name)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	for {
		select {
		case <-quit:
			logger.Info("worker shutting down")
			return nil
		case d, ok := <-deliveries:
			if !ok {
				return errors.New("delivery channel closed")
			}
			handleSnapshotLoaded(logger, d)
		}
	}
}

func handleSnapshotLoaded(logger *slog.Logger, d amqp.Delivery) {
	e, err := events.DecodeSnapshotLoaded(d.Body)
	if err != nil {
		if errors.Is(err, events.ErrUnknownType) {
			logger.Debug("ignoring event", "error", err)
			_ = d.Ack(false)
			return
		}
		logger.Error("invalid event body", "error", err)
		_ = d.Nack(false, false)
		return
	}
	logger.Info("posts snapshot loaded",
		"event_id", e.ID,
		"post_count", e.Payload.PostCount,
		"total", e.Payload.Total,
		"loaded_at", e.Timestamp,
	)
	if e.Payload.Total > e.Payload.PostCount {
		logger.Warn("snapshot is missing posts; raise POSTS_PAGE_LIMIT",
			"post_count", e.Payload.PostCount,
			"total", e.Payload.Total,
		)
	}

	if err := d.Ack(false); err != nil {
		logger.Error("failed to ack", "error", err)
	}
}
