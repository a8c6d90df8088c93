// Package discovery announces a mesh node over mDNS and browses the LAN for
// other nodes running the same service.
package discovery

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync"

	"github.com/grandcat/zeroconf"
)

const (
	service = "_datapool._udp"
	domain  = "local."
)

// MDNS announces the local node and reports discovered peers until stopped.
type MDNS struct {
	nodeID string
	server *zeroconf.Server
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewMDNS registers the node under the datapool service and starts browsing.
// onPeer receives the host:port addresses of each discovered node; entries
// announced by this node itself are filtered out by ID.
func NewMDNS(nodeID, bindAddr string, onPeer func(peers []string)) (*MDNS, error) {
	_, portStr, err := net.SplitHostPort(bindAddr)
	if err != nil {
		return nil, fmt.Errorf("discovery: invalid bind addr %q: %w", bindAddr, err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return nil, fmt.Errorf("discovery: invalid port %q: %w", portStr, err)
	}

	server, err := zeroconf.Register(nodeID, service, domain, port, []string{
		"id=" + nodeID,
	}, nil)
	if err != nil {
		return nil, fmt.Errorf("discovery: announce: %w", err)
	}

	resolver, err := zeroconf.NewResolver(nil)
	if err != nil {
		server.Shutdown()
		return nil, fmt.Errorf("discovery: resolver: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	m := &MDNS{
		nodeID: nodeID,
		server: server,
		cancel: cancel,
	}

	entries := make(chan *zeroconf.ServiceEntry)
	m.wg.Add(1)
	go m.consume(entries, onPeer)

	if err := resolver.Browse(ctx, service, domain, entries); err != nil {
		cancel()
		server.Shutdown()
		m.wg.Wait()
		return nil, fmt.Errorf("discovery: browse: %w", err)
	}
	return m, nil
}

func (m *MDNS) consume(entries <-chan *zeroconf.ServiceEntry, onPeer func(peers []string)) {
	defer m.wg.Done()
	for entry := range entries {
		if entryID(entry) == m.nodeID {
			continue
		}
		peers := entryAddrs(entry)
		if len(peers) > 0 {
			onPeer(peers)
		}
	}
}

// Stop withdraws the announcement and ends browsing.
func (m *MDNS) Stop() {
	if m == nil {
		return
	}
	m.cancel()
	m.wg.Wait()
	m.server.Shutdown()
}

func entryID(entry *zeroconf.ServiceEntry) string {
	for _, txt := range entry.Text {
		if id, ok := strings.CutPrefix(txt, "id="); ok {
			return id
		}
	}
	return ""
}

func entryAddrs(entry *zeroconf.ServiceEntry) []string {
	port := strconv.Itoa(entry.Port)
	addrs := make([]string, 0, len(entry.AddrIPv4)+len(entry.AddrIPv6))
	for _, ip := range entry.AddrIPv4 {
		addrs = append(addrs, net.JoinHostPort(ip.String(), port))
	}
	for _, ip := range entry.AddrIPv6 {
		addrs = append(addrs, net.JoinHostPort(ip.String(), port))
	}
	return addrs
}
