package payment

import (
	"math/rand"
	"sync"

	"github.com/foodmesh/core/internal/logging"
	"github.com/foodmesh/core/internal/transport"
	"github.com/foodmesh/core/internal/wire"
	"go.uber.org/zap"
)

// orderState is what the authority remembers per order id (spec.md §9
// Open Question (b): modeled as holding {authorized, captured} per id,
// which satisfies both the stateless and stateful readings of the
// source material).
type orderState struct {
	authorized bool
	captured   bool
}

// Authority is the standalone payment authority process of spec.md §6:
// stateless with respect to message ordering, but it remembers per-order
// authorization outcomes so a later RequestCharge can be validated.
type Authority struct {
	logger     *zap.SugaredLogger
	pAuth      float64
	randSource *rand.Rand

	mu     sync.Mutex
	orders map[uint64]*orderState
}

func NewAuthority(pAuth float64, logger *zap.SugaredLogger) *Authority {
	return &Authority{
		logger:     logger.With(logging.Fields("payment-authority", "")...),
		pAuth:      pAuth,
		randSource: rand.New(rand.NewSource(1)),
		orders:     make(map[uint64]*orderState),
	}
}

// Dispatch implements transport.Inbox.
func (a *Authority) Dispatch(ch *transport.Channel, f wire.Frame) {
	switch f.Tag {
	case wire.TagRequestAuthorization:
		var msg wire.RequestAuthorizationMsg
		if wire.Decode(f, &msg) != nil {
			return
		}
		a.handleAuthorize(ch, msg.OrderID)
	case wire.TagRequestCharge:
		var msg wire.RequestChargeMsg
		if wire.Decode(f, &msg) != nil {
			return
		}
		a.handleCharge(ch, msg.OrderID)
	}
}

// ConnectionClosed implements transport.Inbox; the authority is
// stateless per-connection, so there is nothing to clean up.
func (a *Authority) ConnectionClosed(peerAddr string) {}

func (a *Authority) handleAuthorize(ch *transport.Channel, orderID uint64) {
	a.mu.Lock()
	approved := a.randSource.Float64() < a.pAuth
	a.orders[orderID] = &orderState{authorized: approved}
	a.mu.Unlock()

	a.logger.Infow("authorization decided", "order_id", orderID, "approved", approved)

	if approved {
		resp, _ := wire.Encode(wire.TagAuthorizedOrder, wire.AuthorizedOrderMsg{OrderID: orderID})
		ch.Send(resp)
	} else {
		resp, _ := wire.Encode(wire.TagDeniedOrder, wire.DeniedOrderMsg{OrderID: orderID})
		ch.Send(resp)
	}
}

func (a *Authority) handleCharge(ch *transport.Channel, orderID uint64) {
	a.mu.Lock()
	st, ok := a.orders[orderID]
	if ok && st.authorized {
		st.captured = true
	}
	a.mu.Unlock()

	if !ok || !st.authorized {
		// spec.md §4.4: a charge on any other order is a no-op.
		return
	}
	resp, _ := wire.Encode(wire.TagPaymentCompleted, wire.PaymentCompletedMsg{OrderID: orderID})
	ch.Send(resp)
}
