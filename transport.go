package datapool

import (
	"context"
	"time"
)

// Delivery is one broadcast message handed to a subscriber.
//
// SentAt is the transport's timestamp for the message, stamped once when the
// message was accepted for broadcast. Redeliveries of the same message carry
// the same stamp, which is what lets the pool treat retransmitted duplicates
// as ties instead of newer updates.
type Delivery struct {
	Payload []byte
	SentAt  time.Time
}

// Handler consumes one delivered message. Deliveries arrive asynchronously
// and possibly concurrently with local calls; handlers must be safe for that.
type Handler func(d Delivery)

// Subscription is a live registration on a topic.
type Subscription interface {
	// Unsubscribe stops deliveries to the handler. Idempotent.
	Unsubscribe() error
}

// Transport is the broadcast primitive pools are built on: at-least-once,
// best-effort, unordered publish/subscribe with a bounded payload size.
//
// Implementations must deliver every published message to every subscriber of
// the topic, including subscribers in the publishing process itself. Pools
// rely on that loopback to apply their own mutations; a transport that does
// not loop back leaves the publishing node's view lagging its own writes.
//
// Payloads are size-limited (a ceiling on the order of 1 KiB is typical).
// Publish rejects oversize payloads; callers keep serialized contributions
// under the ceiling minus envelope overhead. Nothing here chunks, compresses,
// deduplicates, or orders messages.
type Transport interface {
	Publish(ctx context.Context, topic string, payload []byte) error
	Subscribe(topic string, h Handler) (Subscription, error)
}
