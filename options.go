package datapool

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"
)

// Option configures a pool on creation.
// Return an error to reject an invalid option value.
type Option[T any] func(*config[T]) error

type config[T any] struct {
	nodeID         string
	registry       *Registry
	clock          func() time.Time
	replayInterval time.Duration
	hasher         Hasher[T]
	onChange       func(value T, isNew bool)
	onRemove       func(key string)
	onError        func(error)
}

func defaultConfig[T any]() config[T] {
	return config[T]{
		replayInterval: 500 * time.Millisecond,
	}
}

func (c *config[T]) finalize() error {
	if c.nodeID == "" {
		id, err := randomNodeID()
		if err != nil {
			return err
		}
		c.nodeID = id
	}
	if c.registry == nil {
		c.registry = defaultRegistry
	}
	if c.clock == nil {
		c.clock = time.Now
	}
	if c.replayInterval <= 0 {
		return fmt.Errorf("datapool: replay interval must be positive")
	}
	return nil
}

// WithNodeID sets the node identifier stamped on this pool's outgoing
// messages. It identifies the runtime instance for its lifetime, not a stable
// peer identity across restarts. If omitted, a random ID is generated.
func WithNodeID[T any](nodeID string) Option[T] {
	return func(c *config[T]) error {
		if nodeID == "" {
			return fmt.Errorf("datapool: node id cannot be empty")
		}
		c.nodeID = nodeID
		return nil
	}
}

// WithRegistry registers the pool in the given registry instead of the
// process-wide default. Separate registries keep pool names isolated, which
// is how several nodes can coexist in one process (or one test).
func WithRegistry[T any](registry *Registry) Option[T] {
	return func(c *config[T]) error {
		if registry == nil {
			return fmt.Errorf("datapool: registry cannot be nil")
		}
		c.registry = registry
		return nil
	}
}

// WithClock sets the time source used when a delivery arrives without a
// transport stamp. Defaults to time.Now.
func WithClock[T any](clock func() time.Time) Option[T] {
	return func(c *config[T]) error {
		if clock == nil {
			return fmt.Errorf("datapool: clock cannot be nil")
		}
		c.clock = clock
		return nil
	}
}

// WithReplayInterval sets the pause between messages while replaying owned
// keys in response to a refresh request. The pause keeps replay bursts under
// transport rate ceilings; any value preserves the cancel-on-newer-refresh
// behavior.
func WithReplayInterval[T any](interval time.Duration) Option[T] {
	return func(c *config[T]) error {
		if interval <= 0 {
			return fmt.Errorf("datapool: replay interval must be positive")
		}
		c.replayInterval = interval
		return nil
	}
}

// WithHasher overrides the pool's key derivation. Useful with JSON pools
// whose values carry their own identity (hash the ID field, not the content).
func WithHasher[T any](hasher Hasher[T]) Option[T] {
	return func(c *config[T]) error {
		if hasher == nil {
			return fmt.Errorf("datapool: hasher cannot be nil")
		}
		c.hasher = hasher
		return nil
	}
}

// WithChangeHandler sets a callback invoked after a contribution is created
// or replaced; isNew reports whether the key had no entry before. Callbacks
// run on the delivery path in mutation order: they must be fast and must not
// call back into the pool.
func WithChangeHandler[T any](handler func(value T, isNew bool)) Option[T] {
	return func(c *config[T]) error {
		if handler == nil {
			return fmt.Errorf("datapool: change handler cannot be nil")
		}
		c.onChange = handler
		return nil
	}
}

// WithRemoveHandler sets a callback invoked after a contribution is deleted.
// Same contract as WithChangeHandler.
func WithRemoveHandler[T any](handler func(key string)) Option[T] {
	return func(c *config[T]) error {
		if handler == nil {
			return fmt.Errorf("datapool: remove handler cannot be nil")
		}
		c.onRemove = handler
		return nil
	}
}

// WithErrorHandler sets a callback for errors that occur off the caller's
// stack (undecodable messages, failed refresh announcements, replay publish
// failures). It is best-effort and must be fast and non-blocking.
func WithErrorHandler[T any](handler func(error)) Option[T] {
	return func(c *config[T]) error {
		if handler == nil {
			return fmt.Errorf("datapool: error handler cannot be nil")
		}
		c.onError = handler
		return nil
	}
}

func randomNodeID() (string, error) {
	var buf [8]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return "", fmt.Errorf("datapool: generate node id: %w", err)
	}
	return hex.EncodeToString(buf[:]), nil
}
