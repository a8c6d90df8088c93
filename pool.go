package datapool

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ashleydavies/data-pool/internal/wire"
)

const topicPrefix = "datapool/"

func topicFor(name string) string {
	return topicPrefix + name
}

// entry is the authoritative contribution recorded for one key. Entries are
// replaced wholesale on accepted updates, never mutated in place.
type entry[T any] struct {
	source string
	seenAt time.Time
	value  T
}

// Contribution is one replicated entry as observed by this node.
type Contribution[T any] struct {
	Value  T
	Source string
	SeenAt time.Time
}

// Pool is a named, replicated key→value set synchronized across nodes via
// broadcast. Each node owns the entries it published; entries from all nodes
// merge into one local view, converging under last-writer-wins by transport
// stamp. It is safe for concurrent use by multiple goroutines.
type Pool[T any] struct {
	name      string
	topic     string
	nodeID    string
	hasher    Hasher[T]
	codec     Codec[T]
	transport Transport
	registry  *Registry
	sub       Subscription
	clock     func() time.Time
	onChange  func(value T, isNew bool)
	onRemove  func(key string)
	onError   func(error)

	replayInterval time.Duration
	done           chan struct{}
	wg             sync.WaitGroup

	// mu guards the pair of maps below for the full duration of each message
	// application, so handler invocations never interleave and notifications
	// fire in mutation order.
	mu            sync.Mutex
	contributions map[string]entry[T]
	bySource      map[string]map[string]struct{}
	refreshEpoch  uint64
	closed        bool
}

// New creates a pool, registers its name, subscribes to the pool's topic and
// announces this node so peers replay their contributions.
//
// The subscription is load-bearing: without it the local view would silently
// diverge, so a subscription failure aborts construction. A failed presence
// announcement is reported through the error handler instead; the pool still
// receives organic updates, it only misses history from before this point.
func New[T any](name string, hasher Hasher[T], codec Codec[T], transport Transport, opts ...Option[T]) (*Pool[T], error) {
	if name == "" {
		return nil, fmt.Errorf("datapool: pool name cannot be empty")
	}
	if codec == nil {
		return nil, fmt.Errorf("datapool: codec cannot be nil")
	}
	if transport == nil {
		return nil, fmt.Errorf("datapool: transport cannot be nil")
	}

	cfg := defaultConfig[T]()
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(&cfg); err != nil {
			return nil, err
		}
	}
	if err := cfg.finalize(); err != nil {
		return nil, err
	}
	if cfg.hasher == nil {
		cfg.hasher = hasher
	}
	if cfg.hasher == nil {
		return nil, fmt.Errorf("datapool: hasher cannot be nil")
	}

	p := &Pool[T]{
		name:           name,
		topic:          topicFor(name),
		nodeID:         cfg.nodeID,
		hasher:         cfg.hasher,
		codec:          codec,
		transport:      transport,
		registry:       cfg.registry,
		clock:          cfg.clock,
		onChange:       cfg.onChange,
		onRemove:       cfg.onRemove,
		onError:        cfg.onError,
		replayInterval: cfg.replayInterval,
		done:           make(chan struct{}),
		contributions:  make(map[string]entry[T]),
		bySource:       make(map[string]map[string]struct{}),
	}
	if p.onError == nil {
		p.onError = func(error) {}
	}

	if err := cfg.registry.register(name, p); err != nil {
		return nil, err
	}
	sub, err := transport.Subscribe(p.topic, p.deliver)
	if err != nil {
		cfg.registry.release(name, p)
		return nil, fmt.Errorf("datapool: subscribe %q: %w", p.topic, err)
	}
	p.sub = sub

	if err := p.publish(context.Background(), wire.Message{Kind: wire.KindRefresh, Source: p.nodeID}); err != nil {
		p.onError(fmt.Errorf("datapool: announce presence: %w", err))
	}
	return p, nil
}

// Name returns the pool name shared by all nodes on the topic.
func (p *Pool[T]) Name() string { return p.name }

// ID returns this node's identifier, the source stamped on its messages.
func (p *Pool[T]) ID() string { return p.nodeID }

// KeyOf returns the key the pool derives for a value. Callers need it to
// remove contributions from pools with content-derived keys.
func (p *Pool[T]) KeyOf(value T) string { return p.hasher(value) }

// ReplaceContribution broadcasts this node's current value. The local view is
// updated by the transport's loopback delivery, so a publish failure leaves
// local state untouched and the caller may retry.
func (p *Pool[T]) ReplaceContribution(ctx context.Context, value T) error {
	if err := p.check(ctx); err != nil {
		return err
	}
	data, err := p.codec.Marshal(value)
	if err != nil {
		return err
	}
	if err := p.publish(ctx, wire.Message{Kind: wire.KindSet, Source: p.nodeID, Data: data}); err != nil {
		return fmt.Errorf("datapool: publish set: %w", err)
	}
	return nil
}

// RemoveContribution broadcasts deletion of the key. Peers honor it only
// while this node is the key's recorded owner.
func (p *Pool[T]) RemoveContribution(ctx context.Context, key string) error {
	if err := p.check(ctx); err != nil {
		return err
	}
	if err := p.publish(ctx, wire.Message{Kind: wire.KindRemove, Source: p.nodeID, Key: key}); err != nil {
		return fmt.Errorf("datapool: publish remove: %w", err)
	}
	return nil
}

// EmptyContributions broadcasts deletion of every key this node owns. Close
// emits the same message on orderly shutdown.
func (p *Pool[T]) EmptyContributions(ctx context.Context) error {
	if err := p.check(ctx); err != nil {
		return err
	}
	if err := p.publish(ctx, wire.Message{Kind: wire.KindClear, Source: p.nodeID}); err != nil {
		return fmt.Errorf("datapool: publish clear: %w", err)
	}
	return nil
}

// GetContribution returns the value stored under key.
// It returns ErrNotFound if no node currently contributes the key.
func (p *Pool[T]) GetContribution(ctx context.Context, key string) (T, error) {
	var zero T
	if err := mapContextErr(ctx); err != nil {
		return zero, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return zero, ErrClosed
	}
	current, ok := p.contributions[key]
	if !ok {
		return zero, ErrNotFound
	}
	return current.value, nil
}

// GetAllContributions returns a snapshot of all current values in
// unspecified order.
func (p *Pool[T]) GetAllContributions(ctx context.Context) ([]T, error) {
	if err := mapContextErr(ctx); err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil, ErrClosed
	}
	values := make([]T, 0, len(p.contributions))
	for _, current := range p.contributions {
		values = append(values, current.value)
	}
	return values, nil
}

// Snapshot returns a point-in-time copy of all entries keyed by pool key,
// including each entry's owner and stamp.
func (p *Pool[T]) Snapshot(ctx context.Context) (map[string]Contribution[T], error) {
	if err := mapContextErr(ctx); err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil, ErrClosed
	}
	out := make(map[string]Contribution[T], len(p.contributions))
	for key, current := range p.contributions {
		out[key] = Contribution[T]{
			Value:  current.value,
			Source: current.source,
			SeenAt: current.seenAt,
		}
	}
	return out, nil
}

// Len returns the number of entries currently in the merged view.
func (p *Pool[T]) Len(ctx context.Context) (int, error) {
	if err := mapContextErr(ctx); err != nil {
		return 0, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return 0, ErrClosed
	}
	return len(p.contributions), nil
}

// Close performs the orderly shutdown: it stops any replay in flight, then
// broadcasts a clear so peers purge this node's contributions, unsubscribes
// and releases the pool's name. The departure announcement is best-effort
// only; a crashed process never sends it and peers keep the dead node's
// entries. Further operations return ErrClosed.
func (p *Pool[T]) Close(ctx context.Context) error {
	if err := mapContextErr(ctx); err != nil {
		return err
	}
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrClosed
	}
	p.closed = true
	p.mu.Unlock()

	// Drain replay before announcing departure. A replay step that slipped
	// past the closed check must publish its set before the clear goes out,
	// or peers would process the two in the wrong order and resurrect an
	// entry from a node that just left.
	close(p.done)
	p.wg.Wait()

	var errs []error
	if err := p.publish(ctx, wire.Message{Kind: wire.KindClear, Source: p.nodeID}); err != nil {
		errs = append(errs, fmt.Errorf("datapool: announce departure: %w", err))
	}
	if err := p.sub.Unsubscribe(); err != nil {
		errs = append(errs, fmt.Errorf("datapool: unsubscribe: %w", err))
	}
	p.registry.release(p.name, p)
	return errors.Join(errs...)
}

// deliver is the subscription handler: it validates the envelope and applies
// one message to local state. Undecodable or unknown messages are reported
// and dropped; they never take the subscription down.
func (p *Pool[T]) deliver(d Delivery) {
	msg, err := wire.Decode(d.Payload)
	if err != nil {
		p.reportErr(fmt.Errorf("datapool: drop message: %w", err))
		return
	}
	switch msg.Kind {
	case wire.KindSet:
		stamp := d.SentAt
		if stamp.IsZero() {
			stamp = p.clock()
		}
		p.applySet(msg.Source, msg.Data, stamp)
	case wire.KindRemove:
		p.applyRemove(msg.Source, msg.Key)
	case wire.KindClear:
		p.applyClear(msg.Source)
	case wire.KindRefresh:
		p.applyRefresh()
	}
}

// applySet merges one asserted value. The entry with the later stamp wins
// regardless of arrival order; an exact tie keeps the incumbent so a
// retransmitted duplicate cannot flip owners or re-fire events.
func (p *Pool[T]) applySet(src, data string, stamp time.Time) {
	value, err := p.codec.Unmarshal(data)
	if err != nil {
		p.reportErr(fmt.Errorf("datapool: drop set from %s: %w", src, err))
		return
	}
	key := p.hasher(value)

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	current, exists := p.contributions[key]
	if exists && !stamp.After(current.seenAt) {
		return
	}
	if exists && current.source != src {
		p.unindexLocked(current.source, key)
	}
	p.contributions[key] = entry[T]{source: src, seenAt: stamp, value: value}
	keys := p.bySource[src]
	if keys == nil {
		keys = make(map[string]struct{})
		p.bySource[src] = keys
	}
	keys[key] = struct{}{}
	if p.onChange != nil {
		p.onChange(value, !exists)
	}
}

// applyRemove deletes a key on behalf of its owner. Removes from any other
// source are discarded: a stale remove, issued before the key changed hands,
// must not delete the newer owner's contribution.
func (p *Pool[T]) applyRemove(src, key string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	current, exists := p.contributions[key]
	if !exists || current.source != src {
		return
	}
	delete(p.contributions, key)
	p.unindexLocked(src, key)
	if p.onRemove != nil {
		p.onRemove(key)
	}
}

// applyClear purges every key the sender owns. The sender only asserts about
// itself here, so no ownership check applies.
func (p *Pool[T]) applyClear(src string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	keys := p.bySource[src]
	delete(p.bySource, src)
	for key := range keys {
		delete(p.contributions, key)
		if p.onRemove != nil {
			p.onRemove(key)
		}
	}
}

// applyRefresh starts replaying this node's owned keys so the requester
// catches up. Bumping the epoch first cancels any replay already in flight:
// only the newest request's replay stays active.
func (p *Pool[T]) applyRefresh() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.refreshEpoch++
	owned := p.bySource[p.nodeID]
	if len(owned) == 0 {
		return
	}
	keys := make([]string, 0, len(owned))
	for key := range owned {
		keys = append(keys, key)
	}
	p.wg.Add(1)
	go p.replay(p.refreshEpoch, keys)
}

type replayAction int

const (
	replayPublish replayAction = iota
	replaySkip
	replayAbort
)

// replayValue revalidates one snapshotted key under the lock before it is
// replayed. A key that left our owned set while the replay slept was removed
// through the regular path and is skipped, since replaying it would resurrect
// the deletion. A key still in our owned set but missing from contributions means
// the two maps diverged, which the locking makes impossible short of a bug.
func (p *Pool[T]) replayValue(epoch uint64, key string) (T, replayAction) {
	var zero T
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed || p.refreshEpoch != epoch {
		return zero, replayAbort
	}
	if _, ok := p.bySource[p.nodeID][key]; !ok {
		return zero, replaySkip
	}
	current, ok := p.contributions[key]
	if !ok {
		panic(fmt.Sprintf("datapool: owned key %q missing from contributions", key))
	}
	return current.value, replayPublish
}

// replay re-broadcasts the current value of each snapshotted key, pausing
// between messages to stay under transport rate ceilings. The epoch check
// before every step aborts the moment a newer refresh supersedes this one.
func (p *Pool[T]) replay(epoch uint64, keys []string) {
	defer p.wg.Done()
	for _, key := range keys {
		value, action := p.replayValue(epoch, key)
		switch action {
		case replayAbort:
			return
		case replaySkip:
			continue
		}
		data, err := p.codec.Marshal(value)
		if err != nil {
			p.reportErr(fmt.Errorf("datapool: replay %q: %w", key, err))
			continue
		}
		msg := wire.Message{Kind: wire.KindSet, Source: p.nodeID, Data: data}
		if err := p.publish(context.Background(), msg); err != nil {
			p.reportErr(fmt.Errorf("datapool: replay %q: %w", key, err))
		}
		select {
		case <-p.done:
			return
		case <-time.After(p.replayInterval):
		}
	}
}

// unindexLocked drops key from src's owned set, pruning the set when empty.
func (p *Pool[T]) unindexLocked(src, key string) {
	keys := p.bySource[src]
	delete(keys, key)
	if len(keys) == 0 {
		delete(p.bySource, src)
	}
}

func (p *Pool[T]) publish(ctx context.Context, msg wire.Message) error {
	payload, err := wire.Encode(msg)
	if err != nil {
		return err
	}
	return p.transport.Publish(ctx, p.topic, payload)
}

func (p *Pool[T]) check(ctx context.Context) error {
	if err := mapContextErr(ctx); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrClosed
	}
	return nil
}

func (p *Pool[T]) reportErr(err error) {
	if err == nil {
		return
	}
	p.onError(err)
}

func mapContextErr(ctx context.Context) error {
	if ctx == nil {
		return nil
	}
	if err := ctx.Err(); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return ErrTimeout
		}
		if errors.Is(err, context.Canceled) {
			return ErrCanceled
		}
		return err
	}
	return nil
}
