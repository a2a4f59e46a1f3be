// Command client-sim is a minimal external client collaborator: it
// registers with a replica, places one order, and logs every event the
// core sends back until the order reaches a terminal state (spec.md §6
// Client payloads).
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
	logger *zap.SugaredLogger
	mu     sync.Mutex
	ch     *transport.Channel
	redial func(endpoint.Endpoint)
	done   chan struct{}
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
	case wire.TagNearbyRestaurants:
		var msg wire.NearbyRestaurantsMsg
		wire.Decode(f, &msg)
		b.logger.Infow("nearby restaurants", "count", len(msg.Restaurants))
	case wire.TagAuthorizationResult:
		var msg wire.AuthorizationResultMsg
		wire.Decode(f, &msg)
		b.logger.Infow("authorization result", "order_id", msg.OrderID, "approved", msg.Approved)
	case wire.TagNotifyOrderUpdated:
		var msg wire.NotifyOrderUpdatedMsg
		wire.Decode(f, &msg)
		b.logger.Infow("order updated", "order_id", msg.Order.OrderID, "status", msg.Order.Status)
	case wire.TagOrderFinalized:
		var msg wire.OrderFinalizedMsg
		wire.Decode(f, &msg)
		b.logger.Infow("order finalized", "order_id", msg.Order.OrderID, "status", msg.Order.Status)
		close(b.done)
	}
}

func (b *inbox) ConnectionClosed(peerAddr string) {
	b.logger.Warnw("connection closed", "peer_addr", peerAddr)
}

func main() {
	replicaAddr := flag.String("replica", "127.0.0.1:8081", "a replica's host:port to connect to")
	clientID := flag.String("client-id", "client-1", "this client's id")
	x := flag.Float64("x", 0, "client position x")
	y := flag.Float64("y", 0, "client position y")
	dish := flag.String("dish", "pizza", "dish to order")
	restaurantID := flag.String("restaurant-id", "restaurant-1", "restaurant to order from")
	debug := flag.Bool("debug", false, "enable debug-level logging")
	flag.Parse()

	logger := logging.New(*debug)
	defer logger.Sync()

	pos := store.Position{X: *x, Y: *y}
	done := make(chan struct{})
	b := &inbox{logger: logger, done: done}
	register := func() {
		reg, _ := wire.Encode(wire.TagRegisterUser, wire.RegisterUserMsg{Kind: wire.KindClient, UserID: *clientID, Position: pos})
		b.send(reg)
	}
	b.redial = func(ep endpoint.Endpoint) {
		connect(b, ep.String(), logger)
		register()
	}

	connect(b, *replicaAddr, logger)
	register()

	time.Sleep(200 * time.Millisecond)
	order, _ := wire.Encode(wire.TagRequestThisOrder, wire.RequestThisOrderMsg{Dish: *dish, RestaurantID: *restaurantID, Position: pos})
	b.send(order)

	select {
	case <-done:
	case <-time.After(60 * time.Second):
		logger.Warnw("timed out waiting for order to finalize")
	}
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

func (b *inbox) send(f wire.Frame) {
	b.mu.Lock()
	ch := b.ch
	b.mu.Unlock()
	if ch != nil {
		ch.Send(f)
	}
}
