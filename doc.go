// Package datapool provides named, replicated key-value sets ("pools")
// synchronized between processes over a broadcast pub/sub transport.
//
// # Overview
//
// datapool is designed for groups of long-running nodes that cannot address
// each other directly but share an unreliable, size-limited broadcast
// channel. Each node publishes its own contributions; every node merges the
// contributions of all nodes into one local view that converges without
// coordination.
//
// # Data model
//
// Every contribution is stored under a key derived from the value by an
// application-supplied hasher. Each key has exactly one owning node at a
// time. Concurrent, duplicated and reordered updates for a key resolve by
// last-writer-wins on the transport stamp, with exact ties keeping the
// incumbent entry so retransmits are inert. Only a key's owner can remove
// it, and a departing node revokes all of its keys at once.
//
// # Catch-up
//
// A node announces itself when it joins. Peers respond by replaying their
// owned entries one message at a time, paced to respect transport rate
// ceilings; a newer announcement supersedes and cancels any replay still in
// flight.
//
// # Transports
//
// Pools speak to the network through the Transport interface. The membus
// subpackage provides a synchronous in-process bus, udpmesh a UDP mesh with
// flooding, duplicate suppression and optional mDNS peer discovery. Any
// at-least-once broadcast medium with loopback delivery can back a pool.
//
// # Serialization
//
// Values travel through a Codec. StringCodec and NumberCodec cover flat
// values, JSONCodec any JSON-encodable type; NewStringPool, NewNumberPool
// and NewJSONPool bundle the matching codec and key derivation.
//
// Example
//
//	bus := membus.New()
//	pool, err := datapool.NewStringPool("Players", bus)
//	if err != nil {
//		// handle error
//	}
//	_ = pool.ReplaceContribution(context.Background(), "alice")
//	_, _ = pool.GetContribution(context.Background(), "alice")
package datapool
