package rabbitmq

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// State is the connection state of a Listener
type State int32

// Listener states
const (
	StateDisconnected State = iota
	StateConnecting
	StateDeclaring
	StateConsuming
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateDeclaring:
		return "declaring"
	case StateConsuming:
		return "consuming"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Listener consumes an exchange and reconnects whenever the broker goes away
type Listener struct {
	config      Config
	logger      *slog.Logger
	dial        Dialer
	onReconnect func(err error)
	state       atomic.Int32
}

// Option configures a Listener
type Option func(*Listener)

// WithDialer replaces the AMQP dialer
func WithDialer(d Dialer) Option {
	return func(l *Listener) {
		l.dial = d
	}
}

// WithReconnectHook registers a callback invoked before each reconnect wait
func WithReconnectHook(fn func(err error)) Option {
	return func(l *Listener) {
		l.onReconnect = fn
	}
}

// NewListener creates a Listener. Defaults are applied to config.
func NewListener(config Config, logger *slog.Logger, opts ...Option) (*Listener, error) {
	config.ApplyDefaults()
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid rabbitmq config: %w", err)
	}

	l := &Listener{
		config: config,
		logger: logger,
		dial:   Dial,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l, nil
}

// State returns the current connection state
func (l *Listener) State() State {
	return State(l.state.Load())
}

func (l *Listener) setState(s State) {
	l.state.Store(int32(s))
}

// Run consumes until ctx is cancelled, passing every delivery to onMessage.
// onMessage is called on the listener goroutine and must not block.
//
// Transport failures are retried after ReconnectInterval unless
// ExitOnTransportError is set. Broker refusals while declaring the topology
// or starting the consumer (mismatched declarations, missing permissions)
// are returned as *ConfigError.
func (l *Listener) Run(ctx context.Context, onMessage func(Message)) error {
	defer l.setState(StateDisconnected)

	for {
		err := l.consume(ctx, onMessage)
		l.setState(StateDisconnected)

		if ctx.Err() != nil {
			l.logger.Info("Listener stopped", slog.String("exchange", l.config.ExchangeName))
			return nil
		}

		var cerr *ConfigError
		if errors.As(err, &cerr) {
			l.logger.Error("Broker rejected listener configuration", slog.Any("error", err))
			return cerr
		}

		var terr *TransportError
		if !errors.As(err, &terr) {
			terr = &TransportError{Op: "session", Err: err}
		}

		if l.config.ExitOnTransportError {
			return terr
		}

		l.logger.Error("Lost connection to RabbitMQ, reconnecting",
			slog.Any("error", terr),
			slog.Duration("retry_after", l.config.ReconnectInterval),
		)
		if l.onReconnect != nil {
			l.onReconnect(terr)
		}

		timer := time.NewTimer(l.config.ReconnectInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			l.logger.Info("Listener stopped", slog.String("exchange", l.config.ExchangeName))
			return nil
		case <-timer.C:
		}
	}
}

// consume runs one connection session. It always returns a non-nil error.
func (l *Listener) consume(ctx context.Context, onMessage func(Message)) error {
	l.setState(StateConnecting)
	l.logger.Info("Connecting to RabbitMQ", slog.String("exchange", l.config.ExchangeName))

	conn, err := l.dial(l.config.URL, amqpConfig(l.config.Heartbeat))
	if err != nil {
		return &TransportError{Op: "dial", Err: err}
	}
	defer func() {
		if !conn.IsClosed() {
			_ = conn.Close()
		}
	}()

	ch, err := conn.Channel()
	if err != nil {
		return &TransportError{Op: "open channel", Err: err}
	}

	connClosed := conn.NotifyClose(make(chan *amqp.Error, 1))
	chanClosed := ch.NotifyClose(make(chan *amqp.Error, 1))

	l.setState(StateDeclaring)
	queue, err := l.declare(ch)
	if err != nil {
		return setupError(err)
	}

	deliveries, err := ch.Consume(
		queue,                // queue
		l.config.ConsumerTag, // consumer tag
		l.config.AutoAck,     // auto-ack
		false,                // exclusive
		false,                // no-local
		false,                // no-wait
		nil,                  // args
	)
	if err != nil {
		return setupError(fmt.Errorf("failed to consume messages: %w", err))
	}

	sess := newSession(ch, l.config.AutoAck, l.logger)
	defer sess.close()

	l.setState(StateConsuming)
	l.logger.Info("Started consuming messages from RabbitMQ",
		slog.String("exchange", l.config.ExchangeName),
		slog.String("queue", queue),
		slog.Int("prefetch", l.config.PrefetchCount),
	)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case cmd := <-sess.commands:
			sess.execute(cmd)

		case amqpErr, ok := <-connClosed:
			return &TransportError{Op: "connection", Err: closeReason(amqpErr, ok)}

		case amqpErr, ok := <-chanClosed:
			return &TransportError{Op: "channel", Err: closeReason(amqpErr, ok)}

		case d, ok := <-deliveries:
			if !ok {
				return &TransportError{Op: "consume", Err: ErrDeliveriesClosed}
			}
			onMessage(newMessage(d, sess))
		}
	}
}

// declare sets up exchange, queue and bindings and returns the queue name
func (l *Listener) declare(ch Channel) (string, error) {
	err := ch.ExchangeDeclare(
		l.config.ExchangeName, // name
		l.config.ExchangeType, // type
		l.config.Durable,      // durable
		false,                 // auto-deleted
		false,                 // internal
		false,                 // no-wait
		nil,                   // arguments
	)
	if err != nil {
		return "", fmt.Errorf("failed to declare exchange: %w", err)
	}

	durable, autoDelete, exclusive := l.config.Durable, false, false
	if l.config.QueueName == "" {
		durable, autoDelete, exclusive = false, true, true
	}

	q, err := ch.QueueDeclare(
		l.config.QueueName, // name
		durable,            // durable
		autoDelete,         // auto-delete
		exclusive,          // exclusive
		false,              // no-wait
		nil,                // arguments
	)
	if err != nil {
		return "", fmt.Errorf("failed to declare queue: %w", err)
	}

	keys := l.config.RoutingKeys
	if len(keys) == 0 {
		keys = []string{""}
	}
	for _, key := range keys {
		err = ch.QueueBind(
			q.Name,                // queue name
			key,                   // routing key
			l.config.ExchangeName, // exchange
			false,                 // no-wait
			nil,                   // arguments
		)
		if err != nil {
			return "", fmt.Errorf("failed to bind queue with key %q: %w", key, err)
		}
	}

	if err := ch.Qos(l.config.PrefetchCount, 0, false); err != nil {
		return "", fmt.Errorf("failed to set QoS: %w", err)
	}

	return q.Name, nil
}

func newMessage(d amqp.Delivery, sess *session) Message {
	return Message{
		Body:         d.Body,
		DeliveryTag:  d.DeliveryTag,
		Exchange:     d.Exchange,
		RoutingKey:   d.RoutingKey,
		ContentType:  d.ContentType,
		MessageID:    d.MessageId,
		Headers:      d.Headers,
		Redelivered:  d.Redelivered,
		Timestamp:    d.Timestamp,
		Acknowledger: &PendingAck{tag: d.DeliveryTag, session: sess},
	}
}

func closeReason(amqpErr *amqp.Error, ok bool) error {
	if !ok || amqpErr == nil {
		return amqp.ErrClosed
	}
	return amqpErr
}
