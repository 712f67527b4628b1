package rabbitmq

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// PublisherConfig holds publish target and retry settings
type PublisherConfig struct {
	URL          string
	ExchangeName string
	ExchangeType string
	Durable      bool
	RoutingKey   string
	Heartbeat    time.Duration
	Retries      int
	RetryDelay   time.Duration
	BackoffMult  float64
}

// Publisher writes job events to an exchange
type Publisher struct {
	config  PublisherConfig
	conn    Connection
	channel Channel
	logger  *slog.Logger
}

// NewPublisher connects to the broker and declares the exchange
func NewPublisher(config PublisherConfig, logger *slog.Logger, dial Dialer) (*Publisher, error) {
	if dial == nil {
		dial = Dial
	}
	if config.ExchangeType == "" {
		config.ExchangeType = DefaultExchangeType
	}
	if config.Heartbeat <= 0 {
		config.Heartbeat = DefaultHeartbeat
	}

	conn, err := dial(config.URL, amqpConfig(config.Heartbeat))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to create channel: %w", err)
	}

	err = ch.ExchangeDeclare(
		config.ExchangeName, // name
		config.ExchangeType, // type
		config.Durable,      // durable
		false,               // auto-deleted
		false,               // internal
		false,               // no-wait
		nil,                 // arguments
	)
	if err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("failed to declare exchange: %w", err)
	}

	return &Publisher{
		config:  config,
		conn:    conn,
		channel: ch,
		logger:  logger,
	}, nil
}

// PublishWithRetry publishes body with exponential backoff between attempts
func (p *Publisher) PublishWithRetry(ctx context.Context, body []byte, contentType string) error {
	maxRetries := p.config.Retries
	if maxRetries <= 0 {
		maxRetries = 3
	}

	baseDelay := p.config.RetryDelay
	if baseDelay <= 0 {
		baseDelay = 100 * time.Millisecond
	}

	backoffMult := p.config.BackoffMult
	if backoffMult <= 0 {
		backoffMult = 2.0
	}

	var lastErr error
	delay := baseDelay
	for attempt := 0; attempt <= maxRetries; attempt++ {
		err := p.channel.PublishWithContext(
			ctx,
			p.config.ExchangeName, // exchange
			p.config.RoutingKey,   // routing key
			false,                 // mandatory
			false,                 // immediate
			amqp.Publishing{
				ContentType:  contentType,
				Body:         body,
				DeliveryMode: amqp.Persistent,
				Timestamp:    time.Now(),
			},
		)
		if err == nil {
			p.logger.Debug("Message published to RabbitMQ",
				slog.String("exchange", p.config.ExchangeName),
				slog.String("routing_key", p.config.RoutingKey),
				slog.Int("attempt", attempt+1),
				slog.Int("body_size", len(body)),
			)
			return nil
		}

		lastErr = err
		if attempt == maxRetries {
			break
		}

		p.logger.Warn("Failed to publish message to RabbitMQ, retrying...",
			slog.Int("attempt", attempt+1),
			slog.Int("max_retries", maxRetries),
			slog.Duration("retry_after", delay),
			slog.Any("error", err),
		)

		select {
		case <-ctx.Done():
			return fmt.Errorf("publish cancelled: %w", ctx.Err())
		case <-time.After(delay):
		}
		delay = time.Duration(float64(delay) * backoffMult)
	}

	return fmt.Errorf("failed to publish message after %d attempts: %w", maxRetries+1, lastErr)
}

// Close closes the channel and connection
func (p *Publisher) Close() error {
	if err := p.channel.Close(); err != nil {
		p.logger.Warn("Failed to close RabbitMQ channel", slog.Any("error", err))
	}
	if err := p.conn.Close(); err != nil {
		return fmt.Errorf("failed to close RabbitMQ connection: %w", err)
	}
	return nil
}
