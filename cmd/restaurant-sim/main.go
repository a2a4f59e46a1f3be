// Command restaurant-sim is a minimal external restaurant collaborator:
// it accepts a new order, walks it through Pending -> Preparing ->
// ReadyForDelivery on a fixed prep schedule, and confirms a courier's
// pickup once one is offered (spec.md §6 Restaurant payloads).
package main

import (
	"flag"
	"sync"
	"time"

	"github.com/foodmesh/core/internal/endpoint"
	"github.com/foodmesh/core/internal/logging"
	"github.com/foodmesh/core/internal/store"
	"github.com/foodmesh/core/internal/transport"
	"github.com/foodmesh/core/internal/wire"
	"go.uber.org/zap"
)

type inbox struct {
	logger    *zap.SugaredLogger
	prepDelay time.Duration

	mu     sync.Mutex
	ch     *transport.Channel
	redial func(endpoint.Endpoint)
}

func (b *inbox) Dispatch(ch *transport.Channel, f wire.Frame) {
	switch f.Tag {
	case wire.TagRetryLater:
		var msg wire.RetryLaterMsg
		if wire.Decode(f, &msg) == nil && !msg.Leader.IsZero() {
			b.logger.Infow("redirected to leader", "leader", msg.Leader.String())
			go b.redial(msg.Leader)
		}
	case wire.TagNewOrder:
		var msg wire.NewOrderMsg
		wire.Decode(f, &msg)
		b.logger.Infow("new order", "order_id", msg.Order.OrderID, "dish", msg.Order.Dish)
		b.progress(msg.Order.OrderID)
	case wire.TagDeliveryAvailable:
		var msg wire.DeliveryAvailableMsg
		wire.Decode(f, &msg)
		b.logger.Infow("courier available, confirming pickup", "order_id", msg.Order.OrderID)
		confirm, _ := wire.Encode(wire.TagDeliverThisOrder, wire.DeliverThisOrderMsg{Order: msg.Order})
		b.send(confirm)
	case wire.TagOrderFinalized:
		var msg wire.OrderFinalizedMsg
		wire.Decode(f, &msg)
		b.logger.Infow("order finalized", "order_id", msg.Order.OrderID, "status", msg.Order.Status)
	}
}

func (b *inbox) ConnectionClosed(peerAddr string) {
	b.logger.Warnw("connection closed", "peer_addr", peerAddr)
}

// progress walks a freshly-authorized order through the restaurant-owned
// transitions on a fixed schedule (spec.md §4.4 transition table).
func (b *inbox) progress(orderID uint64) {
	time.AfterFunc(b.prepDelay, func() {
		pending, _ := wire.Encode(wire.TagUpdateOrderStatus, wire.UpdateOrderStatusMsg{OrderID: orderID, Status: store.OrderPending})
		b.send(pending)

		time.AfterFunc(b.prepDelay, func() {
			preparing, _ := wire.Encode(wire.TagUpdateOrderStatus, wire.UpdateOrderStatusMsg{OrderID: orderID, Status: store.OrderPreparing})
			b.send(preparing)

			time.AfterFunc(b.prepDelay, func() {
				ready, _ := wire.Encode(wire.TagUpdateOrderStatus, wire.UpdateOrderStatusMsg{OrderID: orderID, Status: store.OrderReadyForDelivery})
				b.send(ready)
			})
		})
	})
}

func (b *inbox) send(f wire.Frame) {
	b.mu.Lock()
	ch := b.ch
	b.mu.Unlock()
	if ch != nil {
		ch.Send(f)
	}
}

func main() {
	replicaAddr := flag.String("replica", "127.0.0.1:8081", "a replica's host:port to connect to")
	restaurantID := flag.String("restaurant-id", "restaurant-1", "this restaurant's id")
	x := flag.Float64("x", 0, "restaurant position x")
	y := flag.Float64("y", 0, "restaurant position y")
	prepDelay := flag.Duration("prep-delay", 1*time.Second, "simulated time spent per preparation step")
	debug := flag.Bool("debug", false, "enable debug-level logging")
	flag.Parse()

	logger := logging.New(*debug)
	defer logger.Sync()

	pos := store.Position{X: *x, Y: *y}
	b := &inbox{logger: logger, prepDelay: *prepDelay}

	register := func() {
		reg, _ := wire.Encode(wire.TagRegisterUser, wire.RegisterUserMsg{Kind: wire.KindRestaurant, UserID: *restaurantID, Position: pos})
		b.send(reg)
	}
	b.redial = func(ep endpoint.Endpoint) {
		connect(b, ep.String(), logger)
		register()
	}

	connect(b, *replicaAddr, logger)
	register()

	select {}
}

func connect(b *inbox, addr string, logger *zap.SugaredLogger) {
	ch, err := transport.Dial(addr, b, logger)
	if err != nil {
		logger.Fatalw("failed to connect", "addr", addr, "error", err)
	}
	b.mu.Lock()
	b.ch = ch
	b.mu.Unlock()
}
