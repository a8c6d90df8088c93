// Package udpmesh implements the datapool transport contract over a UDP
// flooding mesh: every published frame is delivered locally, sent to all
// known peers and re-forwarded on first sight, with an LRU of frame IDs
// breaking forwarding cycles. Delivery is best-effort and at-least-once;
// duplicate suppression here is an optimization, not a guarantee, and pools
// handle whatever slips through.
package udpmesh

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru"

	datapool "github.com/ashleydavies/data-pool"
	"github.com/ashleydavies/data-pool/internal/discovery"
)

// MaxPayload is the ceiling for published payloads, leaving datagram headroom
// for the frame envelope.
const MaxPayload = 1024

const seenCacheSize = 4096

var (
	// ErrPayloadTooLarge indicates that a published payload exceeds MaxPayload.
	ErrPayloadTooLarge = errors.New("udpmesh: payload too large")
	// ErrClosed indicates that the mesh has been stopped.
	ErrClosed = errors.New("udpmesh: mesh is closed")
)

// Option configures a mesh on creation.
type Option func(*config)

type config struct {
	nodeID    string
	peers     []string
	discovery bool
	clock     func() time.Time
	onError   func(error)
}

// WithNodeID sets the identifier announced over discovery so a node can
// filter out its own mDNS records. If omitted, a random ID is generated.
func WithNodeID(nodeID string) Option {
	return func(c *config) {
		if nodeID != "" {
			c.nodeID = nodeID
		}
	}
}

// WithPeers sets the initial seed peer addresses (host:port).
func WithPeers(peers []string) Option {
	return func(c *config) {
		c.peers = append([]string(nil), peers...)
	}
}

// WithDiscovery enables mDNS peer discovery on the local network.
func WithDiscovery(enabled bool) Option {
	return func(c *config) {
		c.discovery = enabled
	}
}

// WithClock sets the time source used to stamp published frames.
func WithClock(clock func() time.Time) Option {
	return func(c *config) {
		if clock != nil {
			c.clock = clock
		}
	}
}

// WithErrorHandler sets a callback for asynchronous mesh errors (undecodable
// datagrams, per-peer send failures). It must be fast and non-blocking.
func WithErrorHandler(handler func(error)) Option {
	return func(c *config) {
		if handler != nil {
			c.onError = handler
		}
	}
}

// Mesh is a UDP broadcast mesh node. It is safe for concurrent use.
type Mesh struct {
	nodeID   string
	bindAddr string
	clock    func() time.Time
	onError  func(error)

	conn *net.UDPConn
	seen *lru.Cache
	mdns *discovery.MDNS
	stop chan struct{}
	wg   sync.WaitGroup

	peersMu  sync.RWMutex
	peers    []string
	peersSet map[string]struct{}

	subsMu sync.Mutex
	subs   map[string][]*subscription

	closeOnce sync.Once
}

var _ datapool.Transport = (*Mesh)(nil)

// New binds bindAddr and starts the mesh read loop. The returned mesh
// broadcasts to the seed peers plus any peers discovered over mDNS when
// discovery is enabled.
func New(bindAddr string, opts ...Option) (*Mesh, error) {
	cfg := config{clock: time.Now, onError: func(error) {}}
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}
	if cfg.nodeID == "" {
		id, err := randomID(8)
		if err != nil {
			return nil, fmt.Errorf("udpmesh: generate node id: %w", err)
		}
		cfg.nodeID = id
	}

	addr, err := net.ResolveUDPAddr("udp", bindAddr)
	if err != nil {
		return nil, fmt.Errorf("udpmesh: resolve bind addr: %w", err)
	}
	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("udpmesh: listen: %w", err)
	}
	seen, err := lru.New(seenCacheSize)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("udpmesh: seen cache: %w", err)
	}

	// Filter against the resolved address, not the bind string: binding to
	// port 0 leaves the literal string useless for self-detection.
	localAddr := conn.LocalAddr().String()
	filtered := filterPeers(localAddr, cfg.peers)
	peersSet := make(map[string]struct{}, len(filtered))
	for _, peer := range filtered {
		peersSet[peer] = struct{}{}
	}
	m := &Mesh{
		nodeID:   cfg.nodeID,
		bindAddr: localAddr,
		clock:    cfg.clock,
		onError:  cfg.onError,
		conn:     conn,
		seen:     seen,
		stop:     make(chan struct{}),
		peers:    filtered,
		peersSet: peersSet,
		subs:     make(map[string][]*subscription),
	}

	if cfg.discovery {
		mdns, err := discovery.NewMDNS(cfg.nodeID, localAddr, m.AddPeers)
		if err != nil {
			conn.Close()
			return nil, err
		}
		m.mdns = mdns
	}

	m.wg.Add(1)
	go m.readLoop()
	return m, nil
}

// Addr returns the resolved address the mesh is listening on. Hand it to
// other nodes as a seed peer.
func (m *Mesh) Addr() string { return m.bindAddr }

// Publish frames the payload, delivers it to local subscribers and fans it
// out to all known peers. Per-peer send failures are reported through the
// error handler; the publish still counts as long as the frame went out
// best-effort.
func (m *Mesh) Publish(ctx context.Context, topic string, payload []byte) error {
	if ctx != nil {
		if err := ctx.Err(); err != nil {
			return err
		}
	}
	select {
	case <-m.stop:
		return ErrClosed
	default:
	}
	if len(payload) > MaxPayload {
		return fmt.Errorf("%w: %d bytes, limit %d", ErrPayloadTooLarge, len(payload), MaxPayload)
	}
	id, err := randomID(16)
	if err != nil {
		return fmt.Errorf("udpmesh: frame id: %w", err)
	}
	f := frame{
		ID:      id,
		Topic:   topic,
		SentAt:  m.clock(),
		Payload: payload,
	}
	data, err := encodeFrame(f)
	if err != nil {
		return fmt.Errorf("udpmesh: encode frame: %w", err)
	}

	m.seen.Add(f.ID, struct{}{})
	m.dispatch(f)
	m.fanOut(data, nil)
	return nil
}

// Subscribe registers a handler for the topic.
func (m *Mesh) Subscribe(topic string, h datapool.Handler) (datapool.Subscription, error) {
	if h == nil {
		return nil, fmt.Errorf("udpmesh: handler cannot be nil")
	}
	sub := &subscription{mesh: m, topic: topic, handler: h}
	m.subsMu.Lock()
	m.subs[topic] = append(m.subs[topic], sub)
	m.subsMu.Unlock()
	return sub, nil
}

// AddPeers adds peer addresses to the fan-out set, dropping self and
// duplicates. Discovery feeds this as records arrive.
func (m *Mesh) AddPeers(peers []string) {
	filtered := filterPeers(m.bindAddr, peers)
	if len(filtered) == 0 {
		return
	}
	m.peersMu.Lock()
	for _, peer := range filtered {
		if _, ok := m.peersSet[peer]; ok {
			continue
		}
		m.peersSet[peer] = struct{}{}
		m.peers = append(m.peers, peer)
	}
	m.peersMu.Unlock()
}

// Close stops discovery and the read loop and closes the socket. Idempotent.
func (m *Mesh) Close() error {
	m.closeOnce.Do(func() {
		close(m.stop)
		if m.mdns != nil {
			m.mdns.Stop()
		}
		m.conn.Close()
		m.wg.Wait()
	})
	return nil
}

func (m *Mesh) readLoop() {
	defer m.wg.Done()
	buf := make([]byte, 64*1024)

	for {
		m.conn.SetReadDeadline(time.Now().Add(500 * time.Millisecond))
		n, addr, err := m.conn.ReadFromUDP(buf)
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			select {
			case <-m.stop:
				return
			default:
				continue
			}
		}

		f, err := decodeFrame(buf[:n])
		if err != nil {
			m.onError(fmt.Errorf("udpmesh: decode frame: %w", err))
			continue
		}
		if _, dup := m.seen.Get(f.ID); dup {
			continue
		}
		m.seen.Add(f.ID, struct{}{})
		m.dispatch(f)

		// Re-forward so peers the origin cannot reach still hear the frame.
		// The seen cache stops the flood from echoing forever.
		forward := make([]byte, n)
		copy(forward, buf[:n])
		m.fanOut(forward, addr)
	}
}

func (m *Mesh) dispatch(f frame) {
	m.subsMu.Lock()
	targets := make([]*subscription, len(m.subs[f.Topic]))
	copy(targets, m.subs[f.Topic])
	m.subsMu.Unlock()

	d := datapool.Delivery{Payload: f.Payload, SentAt: f.SentAt}
	for _, sub := range targets {
		sub.handler(d)
	}
}

func (m *Mesh) fanOut(data []byte, skip *net.UDPAddr) {
	m.peersMu.RLock()
	peers := make([]string, len(m.peers))
	copy(peers, m.peers)
	m.peersMu.RUnlock()

	for _, peer := range peers {
		peerAddr, err := net.ResolveUDPAddr("udp", peer)
		if err != nil {
			m.onError(fmt.Errorf("udpmesh: resolve peer %q: %w", peer, err))
			continue
		}
		if skip != nil && peerAddr.String() == skip.String() {
			continue
		}
		if _, err := m.conn.WriteToUDP(data, peerAddr); err != nil {
			m.onError(fmt.Errorf("udpmesh: send to %q: %w", peer, err))
		}
	}
}

type subscription struct {
	mesh    *Mesh
	topic   string
	handler datapool.Handler
}

func (s *subscription) Unsubscribe() error {
	m := s.mesh
	m.subsMu.Lock()
	subs := m.subs[s.topic]
	for i, sub := range subs {
		if sub == s {
			m.subs[s.topic] = append(subs[:i:i], subs[i+1:]...)
			break
		}
	}
	if len(m.subs[s.topic]) == 0 {
		delete(m.subs, s.topic)
	}
	m.subsMu.Unlock()
	return nil
}

func filterPeers(bindAddr string, peers []string) []string {
	seen := make(map[string]struct{}, len(peers))
	out := make([]string, 0, len(peers))
	for _, peer := range peers {
		if peer == "" || peer == bindAddr {
			continue
		}
		if _, ok := seen[peer]; ok {
			continue
		}
		seen[peer] = struct{}{}
		out = append(out, peer)
	}
	return out
}

func randomID(size int) (string, error) {
	buf := make([]byte, size)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
