// Package router implements the single transport.Inbox a replica's
// Acceptor hands every inbound frame to. It splits ring-control traffic
// (spec.md §4.1/§4.2) from business traffic (spec.md §4.3) by tag and
// forwards each half to the component that owns it.
package router

import (
	"github.com/foodmesh/core/internal/coordinator"
	"github.com/foodmesh/core/internal/ring"
	"github.com/foodmesh/core/internal/transport"
	"github.com/foodmesh/core/internal/wire"
)

var ringTags = map[wire.Tag]bool{
	wire.TagWhoIsLeader:       true,
	wire.TagLeaderIs:          true,
	wire.TagLeaderElection:    true,
	wire.TagPing:              true,
	wire.TagPong:              true,
	wire.TagRequestNewUpdates: true,
	wire.TagUpdates:           true,
	wire.TagRequestAllStorage: true,
	wire.TagStorageSnapshot:   true,
}

// Replica is the Inbox wired into transport.NewAcceptor for a replica
// process: it demultiplexes between the Ring Manager and the
// Coordinator, the two components a peer connection can be talking to.
type Replica struct {
	ring        *ring.Manager
	coordinator *coordinator.Coordinator
}

func NewReplica(m *ring.Manager, c *coordinator.Coordinator) *Replica {
	return &Replica{ring: m, coordinator: c}
}

func (r *Replica) Dispatch(ch *transport.Channel, f wire.Frame) {
	if ringTags[f.Tag] {
		r.ring.HandleFrame(ch, f)
		return
	}
	r.coordinator.Dispatch(ch, f)
}

func (r *Replica) ConnectionClosed(peerAddr string) {
	r.coordinator.ConnectionClosed(peerAddr)
}
