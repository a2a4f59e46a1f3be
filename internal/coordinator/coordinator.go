// Package coordinator implements the inbound-connection bookkeeping of
// spec.md §4.3: mapping each connected peer to the user it registered as,
// forwarding business messages to the leader-only services, and replying
// RetryLater when a follower is asked to do leader-only work.
package coordinator

import (
	"github.com/foodmesh/core/internal/agent"
	"github.com/foodmesh/core/internal/endpoint"
	"github.com/foodmesh/core/internal/logging"
	"github.com/foodmesh/core/internal/store"
	"github.com/foodmesh/core/internal/transport"
	"github.com/foodmesh/core/internal/wire"
	"go.uber.org/zap"
)

// LeaderLocator tells the coordinator whether this replica is the
// leader, and who is if not, so it can forward or bounce business
// traffic accordingly (spec.md §4.3).
type LeaderLocator interface {
	IsLeader() bool
	Leader() endpoint.Endpoint
}

// BusinessRouter dispatches a decoded business-kind frame to the service
// that owns it. Implemented by the order/locator services wiring in
// cmd/replica; kept as an interface so coordinator has no import cycle
// on orders/locator.
type BusinessRouter interface {
	HandleUserFrame(peerAddr string, kind wire.UserKind, userID string, f wire.Frame)
}

// connState tracks what a single connected peer registered as.
type connState struct {
	ch     *transport.Channel
	kind   wire.UserKind
	userID string
}

// Coordinator is the single Inbox every inbound connection dispatches
// through. It owns the peer<->user bimap: byAddr and byUserID index the
// same connState entries.
type Coordinator struct {
	mailbox *agent.Mailbox
	logger  *zap.SugaredLogger
	leader  LeaderLocator
	router  BusinessRouter
	store   *store.Store

	byAddr   map[string]*connState
	byUserID map[string]*connState

	onDisconnect func(kind wire.UserKind, userID string)
}

func New(logger *zap.SugaredLogger, leader LeaderLocator, st *store.Store, onDisconnect func(wire.UserKind, string)) *Coordinator {
	return &Coordinator{
		mailbox:      agent.New(256),
		logger:       logger.With(logging.Fields("coordinator", "")...),
		leader:       leader,
		store:        st,
		byAddr:       make(map[string]*connState),
		byUserID:     make(map[string]*connState),
		onDisconnect: onDisconnect,
	}
}

// SetRouter wires the business-logic router once the order/locator
// services exist; cmd/replica does this after constructing everything
// to break the natural import cycle.
func (c *Coordinator) SetRouter(r BusinessRouter) {
	agent.Cast(c.mailbox, func() { c.router = r })
}

func (c *Coordinator) Run(stop <-chan struct{}) { c.mailbox.Run(stop) }

// Dispatch implements transport.Inbox.
func (c *Coordinator) Dispatch(ch *transport.Channel, f wire.Frame) {
	agent.Cast(c.mailbox, func() { c.dispatch(ch, f) })
}

// ConnectionClosed implements transport.Inbox.
func (c *Coordinator) ConnectionClosed(peerAddr string) {
	agent.Cast(c.mailbox, func() { c.connectionClosed(peerAddr) })
}

func (c *Coordinator) dispatch(ch *transport.Channel, f wire.Frame) {
	if f.Tag == wire.TagRegisterUser {
		c.handleRegister(ch, f)
		return
	}

	state, ok := c.byAddr[ch.PeerAddr()]
	if !ok {
		c.logger.Warnw("frame from unregistered peer", "peer_addr", ch.PeerAddr(), "tag", f.Tag)
		return
	}

	if !c.leader.IsLeader() {
		resp, _ := wire.Encode(wire.TagRetryLater, wire.RetryLaterMsg{Leader: c.leader.Leader()})
		ch.Send(resp)
		return
	}

	if c.router != nil {
		c.router.HandleUserFrame(ch.PeerAddr(), state.kind, state.userID, f)
	}
}

func (c *Coordinator) handleRegister(ch *transport.Channel, f wire.Frame) {
	var msg wire.RegisterUserMsg
	if wire.Decode(f, &msg) != nil {
		return
	}

	if !c.leader.IsLeader() {
		resp, _ := wire.Encode(wire.TagRetryLater, wire.RetryLaterMsg{Leader: c.leader.Leader()})
		ch.Send(resp)
		return
	}

	st := &connState{ch: ch, kind: msg.Kind, userID: msg.UserID}
	c.byAddr[ch.PeerAddr()] = st
	c.byUserID[registryKey(msg.Kind, msg.UserID)] = st

	c.logger.Infow("user registered", "kind", msg.Kind, "user_id", msg.UserID, "peer_addr", ch.PeerAddr())

	if c.router != nil {
		c.router.HandleUserFrame(ch.PeerAddr(), msg.Kind, msg.UserID, f)
	}
}

func (c *Coordinator) connectionClosed(peerAddr string) {
	state, ok := c.byAddr[peerAddr]
	if !ok {
		return
	}
	delete(c.byAddr, peerAddr)
	delete(c.byUserID, registryKey(state.kind, state.userID))
	c.logger.Infow("user disconnected", "kind", state.kind, "user_id", state.userID)
	if c.onDisconnect != nil {
		c.onDisconnect(state.kind, state.userID)
	}
}

// Send delivers f to the connection currently registered for (kind,
// userID), if any is still connected. Used by the order/locator services
// to push notifications without needing to know transport details.
func (c *Coordinator) Send(kind wire.UserKind, userID string, f wire.Frame) {
	agent.Cast(c.mailbox, func() {
		if st, ok := c.byUserID[registryKey(kind, userID)]; ok {
			st.ch.Send(f)
		}
	})
}

func registryKey(kind wire.UserKind, userID string) string {
	return string(kind) + ":" + userID
}
