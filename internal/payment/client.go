// Package payment implements both sides of spec.md §6's payment
// authority contract: a client the order service uses to request
// authorization/capture, and the authority server itself.
package payment

import (
	"fmt"
	"sync"
	"time"

	"github.com/foodmesh/core/internal/endpoint"
	"github.com/foodmesh/core/internal/logging"
	"github.com/foodmesh/core/internal/transport"
	"github.com/foodmesh/core/internal/wire"
	"go.uber.org/zap"
)

// Client is what the order service calls to authorize and capture
// payment for an order (spec.md §4.4).
type Client interface {
	RequestAuthorization(orderID uint64) (approved bool, err error)
	RequestCharge(orderID uint64) error
}

// pendingReply is how RPCClient turns the async frame-based protocol
// into the blocking Client interface the order service wants.
type pendingReply struct {
	ch chan wire.Frame
}

// RPCClient dials the payment authority once and multiplexes concurrent
// requests over the single connection by order id, the same shape as a
// Peer Channel (internal/transport) but scoped to one fixed peer.
type RPCClient struct {
	logger *zap.SugaredLogger
	ch     *transport.Channel

	pending *pendingRegistry
}

func NewRPCClient(authority endpoint.Endpoint, logger *zap.SugaredLogger) (*RPCClient, error) {
	reg := newPendingRegistry()
	c := &RPCClient{logger: logger.With(logging.Fields("payment-client", authority.String())...), pending: reg}
	ch, err := transport.Dial(authority.String(), reg, logger)
	if err != nil {
		return nil, fmt.Errorf("payment: dial authority: %w", err)
	}
	c.ch = ch
	return c, nil
}

const rpcTimeout = 3 * time.Second

func (c *RPCClient) RequestAuthorization(orderID uint64) (bool, error) {
	waiter := c.pending.register(orderID)
	defer c.pending.forget(orderID)

	f, _ := wire.Encode(wire.TagRequestAuthorization, wire.RequestAuthorizationMsg{OrderID: orderID})
	c.ch.Send(f)

	select {
	case reply := <-waiter.ch:
		return reply.Tag == wire.TagAuthorizedOrder, nil
	case <-time.After(rpcTimeout):
		return false, fmt.Errorf("payment: authorization request %d timed out", orderID)
	}
}

func (c *RPCClient) RequestCharge(orderID uint64) error {
	waiter := c.pending.register(orderID)
	defer c.pending.forget(orderID)

	f, _ := wire.Encode(wire.TagRequestCharge, wire.RequestChargeMsg{OrderID: orderID})
	c.ch.Send(f)

	select {
	case <-waiter.ch:
		return nil
	case <-time.After(rpcTimeout):
		return fmt.Errorf("payment: charge request %d timed out", orderID)
	}
}

// pendingRegistry implements transport.Inbox for RPCClient: it correlates
// an inbound reply frame back to the order id that is awaiting it.
type pendingRegistry struct {
	mu      sync.Mutex
	waiters map[uint64]*pendingReply
}

func newPendingRegistry() *pendingRegistry {
	return &pendingRegistry{waiters: make(map[uint64]*pendingReply)}
}

func (r *pendingRegistry) register(orderID uint64) *pendingReply {
	r.mu.Lock()
	defer r.mu.Unlock()
	w := &pendingReply{ch: make(chan wire.Frame, 1)}
	r.waiters[orderID] = w
	return w
}

func (r *pendingRegistry) forget(orderID uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.waiters, orderID)
}

func (r *pendingRegistry) Dispatch(ch *transport.Channel, f wire.Frame) {
	orderID, ok := orderIDOf(f)
	if !ok {
		return
	}
	r.mu.Lock()
	w, ok := r.waiters[orderID]
	r.mu.Unlock()
	if !ok {
		return
	}
	select {
	case w.ch <- f:
	default:
	}
}

func (r *pendingRegistry) ConnectionClosed(peerAddr string) {}

func orderIDOf(f wire.Frame) (uint64, bool) {
	switch f.Tag {
	case wire.TagAuthorizedOrder:
		var m wire.AuthorizedOrderMsg
		if wire.Decode(f, &m) != nil {
			return 0, false
		}
		return m.OrderID, true
	case wire.TagDeniedOrder:
		var m wire.DeniedOrderMsg
		if wire.Decode(f, &m) != nil {
			return 0, false
		}
		return m.OrderID, true
	case wire.TagPaymentCompleted:
		var m wire.PaymentCompletedMsg
		if wire.Decode(f, &m) != nil {
			return 0, false
		}
		return m.OrderID, true
	default:
		return 0, false
	}
}
