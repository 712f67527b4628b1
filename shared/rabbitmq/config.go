package rabbitmq

import (
	"errors"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Default values applied by Config.ApplyDefaults
const (
	DefaultExchangeType      = amqp.ExchangeFanout
	DefaultPrefetchCount     = 1
	DefaultReconnectInterval = 15 * time.Second
	DefaultHeartbeat         = 10 * time.Second
)

// Config describes the exchange a Listener consumes from.
//
// An empty QueueName makes the broker generate an exclusive, auto-deleted
// queue that lives only as long as the connection; it is declared again on
// every reconnect. An empty RoutingKeys list binds the queue once with the
// empty key.
type Config struct {
	URL               string
	ExchangeName      string
	ExchangeType      string
	QueueName         string
	RoutingKeys       []string
	Durable           bool
	PrefetchCount     int
	ReconnectInterval time.Duration
	AutoAck           bool
	Heartbeat         time.Duration
	ConsumerTag       string

	// ExitOnTransportError makes Run return the first TransportError
	// instead of reconnecting.
	ExitOnTransportError bool
}

// ApplyDefaults fills unset fields with their defaults
func (c *Config) ApplyDefaults() {
	if c.ExchangeType == "" {
		c.ExchangeType = DefaultExchangeType
	}
	if c.PrefetchCount <= 0 {
		c.PrefetchCount = DefaultPrefetchCount
	}
	if c.ReconnectInterval <= 0 {
		c.ReconnectInterval = DefaultReconnectInterval
	}
	if c.Heartbeat <= 0 {
		c.Heartbeat = DefaultHeartbeat
	}
}

// Validate checks the configuration after defaults were applied
func (c *Config) Validate() error {
	if c.URL == "" {
		return errors.New("rabbitmq url is required")
	}
	if c.ExchangeName == "" {
		return errors.New("rabbitmq exchange name is required")
	}
	switch c.ExchangeType {
	case amqp.ExchangeDirect, amqp.ExchangeFanout, amqp.ExchangeTopic, amqp.ExchangeHeaders:
	default:
		return fmt.Errorf("unsupported exchange type %q", c.ExchangeType)
	}
	return nil
}

// TransportError reports a lost or unreachable broker connection
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("rabbitmq transport error during %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

var (
	// ErrChannelClosed is returned when a message is settled after its channel went away.
	// The broker redelivers the message.
	ErrChannelClosed = errors.New("channel closed before settlement")

	// ErrAlreadySettled is returned on a second Ack or Nack of the same delivery
	ErrAlreadySettled = errors.New("delivery already settled")

	// ErrDeliveriesClosed is reported when the broker stops the delivery stream
	ErrDeliveriesClosed = errors.New("delivery stream closed")
)

// ConfigError reports a broker refusal of the listener's topology or
// consumer setup. Reconnecting cannot fix it.
type ConfigError struct {
	Err error
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("broker rejected configuration: %v", e.Err)
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

// setupError classifies an error from declare, Qos or Consume. Close
// notifications and dial errors never pass through here: the same codes
// arrive there for transient reasons (consumer ack timeout, vhost missing
// during a broker restart).
func setupError(err error) error {
	if isConfigError(err) {
		return &ConfigError{Err: err}
	}
	return err
}

// isConfigError reports broker refusals that reconnecting cannot fix
func isConfigError(err error) bool {
	var amqpErr *amqp.Error
	if !errors.As(err, &amqpErr) {
		return false
	}
	switch amqpErr.Code {
	case amqp.PreconditionFailed, amqp.AccessRefused, amqp.NotAllowed, amqp.CommandInvalid:
		return true
	}
	return false
}
