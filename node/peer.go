package node

import (
	"fmt"
	"time"

	"github.com/sony/gobreaker"

	"github.com/kolibri-swarm/kolibri/swarm"
)

// Peer is a gossip partner identified by (host, port, node_id), with a
// process-local circuit breaker guarding outbound sends to it. The
// breaker state is never persisted or put on the wire.
type Peer struct {
	Host       string
	Port       int
	NodeID     uint32
	LastSeenMs uint64

	breaker *gobreaker.CircuitBreaker
}

func newPeer(host string, port int) *Peer {
	p := &Peer{Host: host, Port: port}
	settings := gobreaker.Settings{
		Name:        fmt.Sprintf("peer:%s:%d", host, port),
		MaxRequests: 1,
		Interval:    0,
		Timeout:     10 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
	}
	p.breaker = gobreaker.NewCircuitBreaker(settings)
	return p
}

// SendFormula broadcasts a MigrateRule to the peer through its breaker.
// A tripped breaker fails fast without attempting the network call; per
// spec.md 5, a missed peer simply waits for the next auto_sync_ms beat.
func (p *Peer) SendFormula(nodeID uint32, digits []uint8, fitness float64) error {
	_, err := p.breaker.Execute(func() (interface{}, error) {
		return nil, swarm.SendFormula(p.Host, p.Port, nodeID, digits, fitness)
	})
	return err
}

// SendHello announces nodeID to the peer through its breaker.
func (p *Peer) SendHello(nodeID uint32) error {
	_, err := p.breaker.Execute(func() (interface{}, error) {
		return nil, swarm.SendHello(p.Host, p.Port, nodeID)
	})
	return err
}

// Registry holds the node's configured peers.
type Registry struct {
	peers []*Peer
}

// NewRegistry builds an empty peer registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// Add registers a peer by host:port, returning its handle.
func (r *Registry) Add(host string, port int) *Peer {
	p := newPeer(host, port)
	r.peers = append(r.peers, p)
	return p
}

// All returns every registered peer.
func (r *Registry) All() []*Peer {
	return r.peers
}

// Touch records that a peer identified by nodeID was seen at nowMs,
// matching it by NodeID if already known.
func (r *Registry) Touch(nodeID uint32, nowMs uint64) {
	for _, p := range r.peers {
		if p.NodeID == nodeID {
			p.LastSeenMs = nowMs
			return
		}
	}
}
