package rabbitmq

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Acknowledger settles a single delivery
type Acknowledger interface {
	Ack() error
	Nack(requeue bool) error
}

// Message is a delivery handed to the consumer callback.
// It is safe to settle from any goroutine.
type Message struct {
	Body        []byte
	DeliveryTag uint64
	Exchange    string
	RoutingKey  string
	ContentType string
	MessageID   string
	Headers     amqp.Table
	Redelivered bool
	Timestamp   time.Time

	Acknowledger Acknowledger
}

// Ack acknowledges the message
func (m Message) Ack() error {
	if m.Acknowledger == nil {
		return nil
	}
	return m.Acknowledger.Ack()
}

// Nack rejects the message, optionally returning it to the queue
func (m Message) Nack(requeue bool) error {
	if m.Acknowledger == nil {
		return nil
	}
	return m.Acknowledger.Nack(requeue)
}

type ackCommand struct {
	tag     uint64
	ack     bool
	requeue bool
	result  chan error
}

// session is the state shared between the listener goroutine and the
// PendingAcks of the deliveries it produced. Channel methods are only
// called from the listener goroutine; other goroutines post commands.
type session struct {
	ch       Channel
	commands chan ackCommand
	done     chan struct{}
	autoAck  bool
	logger   *slog.Logger
}

func newSession(ch Channel, autoAck bool, logger *slog.Logger) *session {
	return &session{
		ch:       ch,
		commands: make(chan ackCommand),
		done:     make(chan struct{}),
		autoAck:  autoAck,
		logger:   logger,
	}
}

// submit hands cmd to the listener goroutine and waits for the outcome
func (s *session) submit(cmd ackCommand) error {
	if s.autoAck {
		return nil
	}

	cmd.result = make(chan error, 1)
	select {
	case s.commands <- cmd:
	case <-s.done:
		s.logger.Warn("Delivery not settled, channel already closed",
			slog.Uint64("delivery_tag", cmd.tag),
			slog.Bool("ack", cmd.ack),
		)
		return ErrChannelClosed
	}
	return <-cmd.result
}

// execute runs on the listener goroutine
func (s *session) execute(cmd ackCommand) {
	var err error
	if s.ch.IsClosed() {
		err = ErrChannelClosed
	} else if cmd.ack {
		err = s.ch.Ack(cmd.tag, false)
	} else {
		err = s.ch.Nack(cmd.tag, false, cmd.requeue)
	}

	if errors.Is(err, amqp.ErrClosed) {
		err = ErrChannelClosed
	}
	if err != nil {
		s.logger.Warn("Failed to settle delivery",
			slog.Uint64("delivery_tag", cmd.tag),
			slog.Bool("ack", cmd.ack),
			slog.Any("error", err),
		)
	}
	cmd.result <- err
}

// close releases goroutines blocked in submit
func (s *session) close() {
	close(s.done)
}

// PendingAck settles one delivery through the session that received it
type PendingAck struct {
	tag     uint64
	session *session
	once    sync.Once
}

// Ack acknowledges the delivery
func (p *PendingAck) Ack() error {
	return p.settle(ackCommand{tag: p.tag, ack: true})
}

// Nack rejects the delivery
func (p *PendingAck) Nack(requeue bool) error {
	return p.settle(ackCommand{tag: p.tag, requeue: requeue})
}

func (p *PendingAck) settle(cmd ackCommand) error {
	err := ErrAlreadySettled
	p.once.Do(func() {
		err = p.session.submit(cmd)
	})
	return err
}
