// Package membus provides an in-process broadcast bus implementing the
// datapool transport contract, usually for tests and single-process setups.
//
// Publish stamps each message once and invokes every subscriber of the topic
// synchronously on the publisher's goroutine, including subscribers belonging
// to the publishing pool itself. Real transports deliver asynchronously; code
// under test must not rely on the synchronous behavior.
package membus

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	datapool "github.com/ashleydavies/data-pool"
)

// DefaultMaxPayload mirrors the payload ceiling of the size-limited broadcast
// transports the bus stands in for.
const DefaultMaxPayload = 1024

// ErrPayloadTooLarge indicates that a published payload exceeds the bus
// payload ceiling.
var ErrPayloadTooLarge = errors.New("membus: payload too large")

// Option configures the bus on creation.
type Option func(*Bus)

// WithClock sets the time source used to stamp published messages.
func WithClock(clock func() time.Time) Option {
	return func(b *Bus) {
		if clock != nil {
			b.clock = clock
		}
	}
}

// WithMaxPayload sets the payload ceiling in bytes. Zero disables the check.
func WithMaxPayload(n int) Option {
	return func(b *Bus) {
		b.maxPayload = n
	}
}

// Bus is an in-process topic bus. It is safe for concurrent use.
type Bus struct {
	clock      func() time.Time
	maxPayload int

	mu   sync.Mutex
	subs map[string][]*subscription
}

// New creates an empty bus.
func New(opts ...Option) *Bus {
	b := &Bus{
		clock:      time.Now,
		maxPayload: DefaultMaxPayload,
		subs:       make(map[string][]*subscription),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(b)
		}
	}
	return b
}

// Publish stamps the payload and delivers it to every current subscriber of
// the topic before returning.
func (b *Bus) Publish(ctx context.Context, topic string, payload []byte) error {
	if ctx != nil {
		if err := ctx.Err(); err != nil {
			return err
		}
	}
	if b.maxPayload > 0 && len(payload) > b.maxPayload {
		return fmt.Errorf("%w: %d bytes, limit %d", ErrPayloadTooLarge, len(payload), b.maxPayload)
	}
	d := datapool.Delivery{Payload: payload, SentAt: b.clock()}

	b.mu.Lock()
	targets := make([]*subscription, len(b.subs[topic]))
	copy(targets, b.subs[topic])
	b.mu.Unlock()

	for _, sub := range targets {
		sub.handler(d)
	}
	return nil
}

// Subscribe registers a handler for the topic.
func (b *Bus) Subscribe(topic string, h datapool.Handler) (datapool.Subscription, error) {
	if h == nil {
		return nil, fmt.Errorf("membus: handler cannot be nil")
	}
	sub := &subscription{bus: b, topic: topic, handler: h}
	b.mu.Lock()
	b.subs[topic] = append(b.subs[topic], sub)
	b.mu.Unlock()
	return sub, nil
}

type subscription struct {
	bus     *Bus
	topic   string
	handler datapool.Handler
}

func (s *subscription) Unsubscribe() error {
	b := s.bus
	b.mu.Lock()
	subs := b.subs[s.topic]
	for i, sub := range subs {
		if sub == s {
			b.subs[s.topic] = append(subs[:i:i], subs[i+1:]...)
			break
		}
	}
	if len(b.subs[s.topic]) == 0 {
		delete(b.subs, s.topic)
	}
	b.mu.Unlock()
	return nil
}
