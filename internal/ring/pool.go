package ring

import (
	"sync"

	"github.com/foodmesh/core/internal/endpoint"
	"github.com/foodmesh/core/internal/transport"
	"github.com/foodmesh/core/internal/wire"
)

// peerPool lazily dials and reuses outbound connections to other
// replicas, keyed by endpoint string. It implements transport.Inbox so
// replies arriving on a connection it dialed route back into the same
// Manager that owns it (spec.md §4.1's request/reply ring-control
// exchanges never need more than one socket per peer).
type peerPool struct {
	mgr *Manager

	mu    sync.Mutex
	conns map[string]*transport.Channel
}

func newPeerPool(mgr *Manager) *peerPool {
	return &peerPool{mgr: mgr, conns: make(map[string]*transport.Channel)}
}

func (p *peerPool) get(ep endpoint.Endpoint) (*transport.Channel, error) {
	addr := ep.String()

	p.mu.Lock()
	if ch, ok := p.conns[addr]; ok {
		p.mu.Unlock()
		return ch, nil
	}
	p.mu.Unlock()

	ch, err := transport.Dial(addr, p, p.mgr.logger)
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	if existing, ok := p.conns[addr]; ok {
		p.mu.Unlock()
		ch.Close()
		return existing, nil
	}
	p.conns[addr] = ch
	p.mu.Unlock()
	return ch, nil
}

func (p *peerPool) closeAll() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for addr, ch := range p.conns {
		ch.Close()
		delete(p.conns, addr)
	}
}

// Dispatch implements transport.Inbox for connections this pool dialed.
func (p *peerPool) Dispatch(ch *transport.Channel, f wire.Frame) {
	p.mgr.HandleFrame(ch, f)
}

// ConnectionClosed implements transport.Inbox: drop the cached channel so
// the next get redials.
func (p *peerPool) ConnectionClosed(peerAddr string) {
	p.mu.Lock()
	delete(p.conns, peerAddr)
	p.mu.Unlock()
}
