// Command courier-sim is a minimal external courier collaborator: it
// registers as available, accepts every delivery offer it receives, and
// simulates completing the delivery after a short travel delay (spec.md
// §6 Courier payloads).
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
	logger      *zap.SugaredLogger
	travelDelay time.Duration

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
	case wire.TagRecoveredUserInfo:
		var msg wire.RecoveredUserInfoMsg
		wire.Decode(f, &msg)
		b.logger.Infow("recovered user info", "order", msg.Order)
	case wire.TagNewOfferToDeliver:
		var msg wire.NewOfferToDeliverMsg
		wire.Decode(f, &msg)
		b.logger.Infow("offer received", "order_id", msg.OrderID)
		accept, _ := wire.Encode(wire.TagDeliveryAccepted, wire.DeliveryAcceptedMsg{OrderID: msg.OrderID})
		b.send(accept)
	case wire.TagDeliveryNotNeeded:
		var msg wire.DeliveryNotNeededMsg
		wire.Decode(f, &msg)
		b.logger.Infow("delivery not needed, lost the race", "order_id", msg.OrderID)
	case wire.TagDeliverThisOrder:
		var msg wire.DeliverThisOrderMsg
		wire.Decode(f, &msg)
		orderID := msg.Order.OrderID
		b.logger.Infow("picked up order, delivering", "order_id", orderID)
		time.AfterFunc(b.travelDelay, func() {
			delivered, _ := wire.Encode(wire.TagDelivered, wire.DeliveredMsg{OrderID: orderID})
			b.send(delivered)
			b.logger.Infow("delivered order", "order_id", orderID)
		})
	}
}

func (b *inbox) ConnectionClosed(peerAddr string) {
	b.logger.Warnw("connection closed", "peer_addr", peerAddr)
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
	courierID := flag.String("courier-id", "courier-1", "this courier's id")
	x := flag.Float64("x", 0, "courier position x")
	y := flag.Float64("y", 0, "courier position y")
	travelDelay := flag.Duration("travel-delay", 3*time.Second, "simulated time spent delivering an accepted order")
	debug := flag.Bool("debug", false, "enable debug-level logging")
	flag.Parse()

	logger := logging.New(*debug)
	defer logger.Sync()

	pos := store.Position{X: *x, Y: *y}
	b := &inbox{logger: logger, travelDelay: *travelDelay}

	register := func() {
		reg, _ := wire.Encode(wire.TagRegisterUser, wire.RegisterUserMsg{Kind: wire.KindCourier, UserID: *courierID, Position: pos})
		b.send(reg)
		avail, _ := wire.Encode(wire.TagIAmAvailable, wire.IAmAvailableMsg{Position: pos})
		b.send(avail)
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
