package rabbitmq

import (
	"context"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

type queueDeclare struct {
	name       string
	durable    bool
	autoDelete bool
	exclusive  bool
}

type queueBind struct {
	queue    string
	key      string
	exchange string
}

// fakeBroker hands out in-memory connections and records what they were asked to do
type fakeBroker struct {
	mu sync.Mutex

	failDials       int
	dialErr         error
	exchangeErr     error
	consumeErr      error
	publishFailures int

	dialTimes  []time.Time
	conns      []*fakeConn
	channels   []*fakeChannel
	queueSeq   int
	declares   []queueDeclare
	binds      []queueBind
	qos        []int
	published  []amqp.Publishing
	exchangeTy []string
}

func (b *fakeBroker) dial(url string, cfg amqp.Config) (Connection, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.dialTimes = append(b.dialTimes, time.Now())
	if b.failDials > 0 {
		b.failDials--
		if b.dialErr != nil {
			return nil, b.dialErr
		}
		return nil, fmt.Errorf("dial tcp: connection refused")
	}

	conn := &fakeConn{broker: b}
	b.conns = append(b.conns, conn)
	return conn, nil
}

func (b *fakeBroker) dialCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.dialTimes)
}

func (b *fakeBroker) consumingChannels() []*fakeChannel {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []*fakeChannel
	for _, ch := range b.channels {
		if ch.deliveries != nil {
			out = append(out, ch)
		}
	}
	return out
}

func (b *fakeBroker) lastConn() *fakeConn {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.conns[len(b.conns)-1]
}

func (b *fakeBroker) snapshotDeclares() []queueDeclare {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]queueDeclare(nil), b.declares...)
}

func (b *fakeBroker) snapshotBinds() []queueBind {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]queueBind(nil), b.binds...)
}

type fakeConn struct {
	broker *fakeBroker

	mu        sync.Mutex
	closed    bool
	receivers []chan *amqp.Error
	channel   *fakeChannel
}

func (c *fakeConn) Channel() (Channel, error) {
	ch := &fakeChannel{broker: c.broker}
	c.mu.Lock()
	c.channel = ch
	c.mu.Unlock()

	c.broker.mu.Lock()
	c.broker.channels = append(c.broker.channels, ch)
	c.broker.mu.Unlock()
	return ch, nil
}

func (c *fakeConn) NotifyClose(receiver chan *amqp.Error) chan *amqp.Error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.receivers = append(c.receivers, receiver)
	return receiver
}

func (c *fakeConn) IsClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *fakeConn) Close() error {
	c.shutdown(nil)
	return nil
}

// drop simulates the broker going away
func (c *fakeConn) drop() {
	c.shutdown(&amqp.Error{Code: amqp.ConnectionForced, Reason: "CONNECTION_FORCED - broker shutdown", Server: true})
}

func (c *fakeConn) shutdown(reason *amqp.Error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	receivers := c.receivers
	c.receivers = nil
	ch := c.channel
	c.mu.Unlock()

	if ch != nil {
		ch.markClosed()
	}
	for _, r := range receivers {
		if reason != nil {
			r <- reason
		}
		close(r)
	}
}

type fakeChannel struct {
	broker *fakeBroker

	mu         sync.Mutex
	closed     bool
	deliveries chan amqp.Delivery
	acks       []uint64
	nacks      map[uint64]bool
}

func (ch *fakeChannel) ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error {
	ch.broker.mu.Lock()
	defer ch.broker.mu.Unlock()
	ch.broker.exchangeTy = append(ch.broker.exchangeTy, kind)
	return ch.broker.exchangeErr
}

func (ch *fakeChannel) QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error) {
	ch.broker.mu.Lock()
	defer ch.broker.mu.Unlock()
	ch.broker.declares = append(ch.broker.declares, queueDeclare{name, durable, autoDelete, exclusive})
	if name == "" {
		ch.broker.queueSeq++
		name = fmt.Sprintf("amq.gen-%d", ch.broker.queueSeq)
	}
	return amqp.Queue{Name: name}, nil
}

func (ch *fakeChannel) QueueBind(name, key, exchange string, noWait bool, args amqp.Table) error {
	ch.broker.mu.Lock()
	defer ch.broker.mu.Unlock()
	ch.broker.binds = append(ch.broker.binds, queueBind{name, key, exchange})
	return nil
}

func (ch *fakeChannel) Qos(prefetchCount, prefetchSize int, global bool) error {
	ch.broker.mu.Lock()
	defer ch.broker.mu.Unlock()
	ch.broker.qos = append(ch.broker.qos, prefetchCount)
	return nil
}

func (ch *fakeChannel) Consume(queue, consumer string, autoAck, exclusive, noLocal, noWait bool, args amqp.Table) (<-chan amqp.Delivery, error) {
	ch.broker.mu.Lock()
	if err := ch.broker.consumeErr; err != nil {
		ch.broker.mu.Unlock()
		return nil, err
	}
	deliveries := make(chan amqp.Delivery, 16)
	ch.deliveries = deliveries
	ch.broker.mu.Unlock()
	return deliveries, nil
}

func (ch *fakeChannel) PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error {
	ch.broker.mu.Lock()
	defer ch.broker.mu.Unlock()
	if ch.broker.publishFailures > 0 {
		ch.broker.publishFailures--
		return amqp.ErrClosed
	}
	ch.broker.published = append(ch.broker.published, msg)
	return nil
}

func (ch *fakeChannel) Ack(tag uint64, multiple bool) error {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	if ch.closed {
		return amqp.ErrClosed
	}
	ch.acks = append(ch.acks, tag)
	return nil
}

func (ch *fakeChannel) Nack(tag uint64, multiple, requeue bool) error {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	if ch.closed {
		return amqp.ErrClosed
	}
	if ch.nacks == nil {
		ch.nacks = make(map[uint64]bool)
	}
	ch.nacks[tag] = requeue
	return nil
}

func (ch *fakeChannel) NotifyClose(receiver chan *amqp.Error) chan *amqp.Error {
	return receiver
}

func (ch *fakeChannel) IsClosed() bool {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	return ch.closed
}

func (ch *fakeChannel) Close() error {
	ch.markClosed()
	return nil
}

func (ch *fakeChannel) markClosed() {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	ch.closed = true
}

func (ch *fakeChannel) deliver(tag uint64, body string) {
	ch.deliveries <- amqp.Delivery{DeliveryTag: tag, Body: []byte(body), RoutingKey: "jobs"}
}

func (ch *fakeChannel) ackedTags() []uint64 {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	return append([]uint64(nil), ch.acks...)
}

func (ch *fakeChannel) nackedTags() map[uint64]bool {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	out := make(map[uint64]bool, len(ch.nacks))
	for k, v := range ch.nacks {
		out[k] = v
	}
	return out
}
