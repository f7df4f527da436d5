package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// ErrBufferFull is returned by Broker.Publish when nothing is draining the
// topic and its buffer is exhausted.
var ErrBufferFull = errors.New("queue buffer full")

// Broker is an in-process queue for single-binary deployments and tests.
// It redelivers requeued messages after their delay and dead-letters a
// message once it has been delivered maxAttempts times without success.
type Broker struct {
	maxAttempts int
	deadLetter  DeadLetter

	mu         sync.Mutex
	topics     map[string]chan Delivery
	stopped    bool
	done       chan struct{}
	bufferSize int
}

func NewBroker(maxAttempts int, deadLetter DeadLetter) *Broker {
	if maxAttempts <= 0 {
		maxAttempts = 5
	}
	return &Broker{
		maxAttempts: maxAttempts,
		deadLetter:  deadLetter,
		topics:      make(map[string]chan Delivery),
		done:        make(chan struct{}),
		bufferSize:  1024,
	}
}

// SetDeadLetter replaces the sink used once a message runs out of attempts.
// Call it before publishing.
func (b *Broker) SetDeadLetter(dl DeadLetter) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.deadLetter = dl
}

func (b *Broker) topic(name string) chan Delivery {
	b.mu.Lock()
	defer b.mu.Unlock()
	ch, ok := b.topics[name]
	if !ok {
		ch = make(chan Delivery, b.bufferSize)
		b.topics[name] = ch
	}
	return ch
}

func (b *Broker) Publish(topic string, body []byte) error {
	b.mu.Lock()
	stopped := b.stopped
	b.mu.Unlock()
	if stopped {
		return fmt.Errorf("broker stopped")
	}
	msg := make([]byte, len(body))
	copy(msg, body)
	select {
	case b.topic(topic) <- &memoryDelivery{broker: b, topic: topic, body: msg, attempts: 1}:
		return nil
	default:
		return fmt.Errorf("publish to %s: %w", topic, ErrBufferFull)
	}
}

func (b *Broker) enqueue(d *memoryDelivery) {
	select {
	case b.topic(d.topic) <- d:
	case <-b.done:
	}
}

// Subscribe returns a Source reading topic. Subscribers of the same
// topic share its messages.
func (b *Broker) Subscribe(topic string) Source {
	return &memorySource{broker: b, ch: b.topic(topic)}
}

// Stop cancels pending redeliveries.
func (b *Broker) Stop() {
	b.mu.Lock()
	if b.stopped {
		b.mu.Unlock()
		return
	}
	b.stopped = true
	b.mu.Unlock()
	close(b.done)
}

func (b *Broker) redeliver(d *memoryDelivery, delay time.Duration) {
	if d.attempts >= b.maxAttempts {
		reason := fmt.Sprintf("exceeded %d delivery attempts", b.maxAttempts)
		slog.Error("discarding message", "topic", d.topic, "attempts", d.attempts, "reason", reason)
		b.mu.Lock()
		dl := b.deadLetter
		b.mu.Unlock()
		if dl != nil {
			if err := dl.Record(context.Background(), d.topic, d.body, reason); err != nil {
				slog.Error("failed to record dead letter", "topic", d.topic, "error", err)
			}
		}
		return
	}
	next := &memoryDelivery{broker: b, topic: d.topic, body: d.body, attempts: d.attempts + 1}
	if delay <= 0 {
		go b.enqueue(next)
		return
	}
	time.AfterFunc(delay, func() { b.enqueue(next) })
}

type memorySource struct {
	broker *Broker
	ch     chan Delivery
}

func (s *memorySource) Deliveries() <-chan Delivery { return s.ch }
func (s *memorySource) Stop()                       {}

type memoryDelivery struct {
	broker   *Broker
	topic    string
	body     []byte
	attempts int
	once     sync.Once
}

func (d *memoryDelivery) Body() []byte  { return d.body }
func (d *memoryDelivery) Attempts() int { return d.attempts }
func (d *memoryDelivery) Ack()          { d.once.Do(func() {}) }
func (d *memoryDelivery) Discard()      { d.once.Do(func() {}) }

func (d *memoryDelivery) Requeue(delay time.Duration) {
	d.once.Do(func() { d.broker.redeliver(d, delay) })
}
