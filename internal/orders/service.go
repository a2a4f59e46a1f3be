// Package orders implements the Order Service of spec.md §4.4: the order
// lifecycle state machine, payment-authorization orchestration, and the
// courier-offer protocol arbitrated through the store's single-threaded
// mutual exclusion.
package orders

import (
	"time"

	"github.com/foodmesh/core/internal/agent"
	"github.com/foodmesh/core/internal/config"
	"github.com/foodmesh/core/internal/endpoint"
	"github.com/foodmesh/core/internal/locator"
	"github.com/foodmesh/core/internal/logging"
	"github.com/foodmesh/core/internal/metrics"
	"github.com/foodmesh/core/internal/payment"
	"github.com/foodmesh/core/internal/store"
	"github.com/foodmesh/core/internal/wire"
	"go.uber.org/zap"
)

// Sender delivers a frame to whichever connection a user is currently
// registered on; satisfied by *coordinator.Coordinator.
type Sender interface {
	Send(kind wire.UserKind, userID string, f wire.Frame)
}

// offerRound tracks one order's in-flight courier search.
type offerRound struct {
	round    int
	deadline *time.Timer
}

// Service is the Order Service agent. Its business logic is gated by
// isLeaderFn on every dispatch so it is harmless to run on a follower
// (spec.md §4.3 "Leader-only business logic").
type Service struct {
	mailbox *agent.Mailbox
	logger  *zap.SugaredLogger
	cfg     config.Config
	store   *store.Store
	sender  Sender
	locator *locator.Service
	payment payment.Client
	metrics *metrics.Registry

	isLeaderFn func() bool

	offers map[uint64]*offerRound
}

func New(logger *zap.SugaredLogger, cfg config.Config, st *store.Store, sender Sender, loc *locator.Service, pay payment.Client, isLeaderFn func() bool, reg *metrics.Registry) *Service {
	return &Service{
		mailbox:    agent.New(256),
		logger:     logger.With(logging.Fields("orders", "")...),
		cfg:        cfg,
		store:      st,
		sender:     sender,
		locator:    loc,
		payment:    pay,
		metrics:    reg,
		isLeaderFn: isLeaderFn,
		offers:     make(map[uint64]*offerRound),
	}
}

func (s *Service) recordStatus(status store.OrderStatus) {
	if s.metrics != nil {
		s.metrics.OrdersByStatus.WithLabelValues(string(status)).Inc()
	}
}

func (s *Service) Run(stop <-chan struct{}) { s.mailbox.Run(stop) }

// OnLeadershipChange implements ring.LeadershipObserver: a replica that
// loses leadership abandons its in-flight offer timers, since the new
// leader's store state (replicated) is what matters going forward.
func (s *Service) OnLeadershipChange(isLeader bool, _ endpoint.Endpoint) {
	if isLeader {
		return
	}
	agent.Cast(s.mailbox, func() {
		for id, o := range s.offers {
			o.deadline.Stop()
			delete(s.offers, id)
		}
	})
}

// HandleUserFrame implements coordinator.BusinessRouter.
func (s *Service) HandleUserFrame(peerAddr string, kind wire.UserKind, userID string, f wire.Frame) {
	agent.Cast(s.mailbox, func() { s.dispatch(kind, userID, f) })
}

func (s *Service) dispatch(kind wire.UserKind, userID string, f wire.Frame) {
	if !s.isLeaderFn() {
		return
	}
	switch f.Tag {
	case wire.TagRegisterUser:
		s.handleRegister(kind, userID, f)
	case wire.TagRequestNearbyRestaurants:
		s.handleRequestNearbyRestaurants(userID, f)
	case wire.TagRequestThisOrder:
		s.handleRequestThisOrder(userID, f)
	case wire.TagUpdateOrderStatus:
		s.handleUpdateOrderStatus(f)
	case wire.TagCancelOrder:
		s.handleCancelOrder(f)
	case wire.TagRequestDelivery:
		s.handleRequestDelivery(f)
	case wire.TagDeliveryAvailable, wire.TagDeliverThisOrder:
		s.handleRestaurantConfirmsDelivery(f)
	case wire.TagIAmAvailable:
		s.handleCourierAvailable(userID, f)
	case wire.TagDeliveryAccepted:
		s.handleDeliveryAccepted(userID, f)
	case wire.TagDeliveryNotNeeded:
		// No-op: the losing courier acknowledges; nothing further to do.
	case wire.TagDelivered:
		s.handleDelivered(userID, f)
	}
}

// --- registration & recovery (spec.md §7 scenario 5) ---

func (s *Service) handleRegister(kind wire.UserKind, userID string, f wire.Frame) {
	var msg wire.RegisterUserMsg
	if wire.Decode(f, &msg) != nil {
		return
	}
	var recovered *store.Order
	switch kind {
	case wire.KindClient:
		c, ok := store.GetClient(s.store, userID)
		if !ok {
			s.store.AppendAsLeader(store.AddClient{ClientID: userID, Position: msg.Position})
		} else {
			s.store.AppendAsLeader(store.TouchClient{ClientID: userID})
			if c.ActiveOrderID != nil {
				if o, ok := store.GetOrder(s.store, *c.ActiveOrderID); ok {
					recovered = &o
				}
			}
		}
	case wire.KindRestaurant:
		if _, ok := store.GetRestaurant(s.store, userID); !ok {
			s.store.AppendAsLeader(store.AddRestaurant{RestaurantID: userID, Position: msg.Position})
		} else {
			s.store.AppendAsLeader(store.TouchRestaurant{RestaurantID: userID})
		}
	case wire.KindCourier:
		c, ok := store.GetCourier(s.store, userID)
		if !ok {
			s.store.AppendAsLeader(store.AddCourier{CourierID: userID, Position: msg.Position})
		} else {
			s.store.AppendAsLeader(store.TouchCourier{CourierID: userID})
			if c.CurrentOrderID != nil {
				if o, ok := store.GetOrder(s.store, *c.CurrentOrderID); ok {
					recovered = &o
				}
			}
		}
	}
	resp, _ := wire.Encode(wire.TagRecoveredUserInfo, wire.RecoveredUserInfoMsg{Order: recovered})
	s.sender.Send(kind, userID, resp)
}

func (s *Service) handleRequestNearbyRestaurants(userID string, f wire.Frame) {
	var msg wire.RequestNearbyRestaurantsMsg
	if wire.Decode(f, &msg) != nil {
		return
	}
	restaurants := s.locator.NearbyRestaurants(msg.Position)
	resp, _ := wire.Encode(wire.TagNearbyRestaurants, wire.NearbyRestaurantsMsg{Restaurants: restaurants})
	s.sender.Send(wire.KindClient, userID, resp)
}

// --- placement & authorization (spec.md §4.4) ---

func (s *Service) handleRequestThisOrder(clientID string, f wire.Frame) {
	var msg wire.RequestThisOrderMsg
	if wire.Decode(f, &msg) != nil {
		return
	}
	order := store.Order{
		Dish:           msg.Dish,
		ClientID:       clientID,
		RestaurantID:   msg.RestaurantID,
		Status:         store.OrderRequested,
		ClientPosition: msg.Position,
	}
	idxs, err := s.store.AppendAsLeader(store.AddOrder{Order: order})
	if err != nil || len(idxs) == 0 {
		s.logger.Errorw("failed to place order", "error", err)
		return
	}
	orderID := idxs[0]
	s.store.AppendAsLeader(store.SetClientActiveOrder{ClientID: clientID, OrderID: &orderID})

	authorized, err := s.payment.RequestAuthorization(orderID)
	if err != nil {
		s.logger.Errorw("payment authority unreachable", "error", err)
		return
	}
	if authorized {
		s.onAuthorized(orderID)
	} else {
		s.onDenied(orderID)
	}
}

func (s *Service) onAuthorized(orderID uint64) {
	order, ok := store.GetOrder(s.store, orderID)
	if !ok {
		return
	}
	s.store.AppendAsLeader(
		store.SetOrderStatus{OrderID: orderID, Status: store.OrderAuthorized},
		store.AddAuthorizedOrderToRestaurant{RestaurantID: order.RestaurantID, OrderID: orderID},
	)
	s.recordStatus(store.OrderAuthorized)
	order, _ = store.GetOrder(s.store, orderID)

	f, _ := wire.Encode(wire.TagNewOrder, wire.NewOrderMsg{Order: order})
	s.sender.Send(wire.KindRestaurant, order.RestaurantID, f)

	resp, _ := wire.Encode(wire.TagAuthorizationResult, wire.AuthorizationResultMsg{OrderID: orderID, Approved: true})
	s.sender.Send(wire.KindClient, order.ClientID, resp)
}

func (s *Service) onDenied(orderID uint64) {
	order, ok := store.GetOrder(s.store, orderID)
	if !ok {
		return
	}
	s.store.AppendAsLeader(store.SetOrderStatus{OrderID: orderID, Status: store.OrderCancelled})
	s.recordStatus(store.OrderCancelled)
	resp, _ := wire.Encode(wire.TagAuthorizationResult, wire.AuthorizationResultMsg{OrderID: orderID, Approved: false})
	s.sender.Send(wire.KindClient, order.ClientID, resp)
}

// --- restaurant-driven transitions (spec.md §4.4 transition table) ---

func (s *Service) handleUpdateOrderStatus(f wire.Frame) {
	var msg wire.UpdateOrderStatusMsg
	if wire.Decode(f, &msg) != nil {
		return
	}
	order, ok := store.GetOrder(s.store, msg.OrderID)
	if !ok {
		return
	}

	switch msg.Status {
	case store.OrderPending:
		if order.Status != store.OrderAuthorized {
			return
		}
		s.store.AppendAsLeader(
			store.MoveOrderToPending{RestaurantID: order.RestaurantID, OrderID: msg.OrderID},
			store.SetOrderStatus{OrderID: msg.OrderID, Status: store.OrderPending},
		)
		s.recordStatus(store.OrderPending)
	case store.OrderPreparing:
		if order.Status != store.OrderPending {
			return
		}
		s.store.AppendAsLeader(store.SetOrderStatus{OrderID: msg.OrderID, Status: store.OrderPreparing})
		s.recordStatus(store.OrderPreparing)
	case store.OrderReadyForDelivery:
		if order.Status != store.OrderPreparing {
			return
		}
		s.store.AppendAsLeader(store.SetOrderStatus{OrderID: msg.OrderID, Status: store.OrderReadyForDelivery})
		s.recordStatus(store.OrderReadyForDelivery)
		s.beginOffering(msg.OrderID, 0)
	default:
		return
	}

	order, ok = store.GetOrder(s.store, msg.OrderID)
	if !ok {
		return
	}
	resp, _ := wire.Encode(wire.TagNotifyOrderUpdated, wire.NotifyOrderUpdatedMsg{Order: order})
	s.sender.Send(wire.KindClient, order.ClientID, resp)
}

func (s *Service) handleRequestDelivery(f wire.Frame) {
	var msg wire.RequestDeliveryMsg
	if wire.Decode(f, &msg) != nil {
		return
	}
	order, ok := store.GetOrder(s.store, msg.OrderID)
	if !ok || order.Status != store.OrderReadyForDelivery {
		return
	}
	s.beginOffering(msg.OrderID, 0)
}

func (s *Service) handleCancelOrder(f wire.Frame) {
	var msg wire.CancelOrderMsg
	if wire.Decode(f, &msg) != nil {
		return
	}
	s.cancelOrder(msg.OrderID, "restaurant_cancelled")
}

func (s *Service) cancelOrder(orderID uint64, reason string) {
	order, ok := store.GetOrder(s.store, orderID)
	if !ok || order.Status == store.OrderDelivered || order.Status == store.OrderCancelled {
		return
	}
	if o, ok := s.offers[orderID]; ok {
		o.deadline.Stop()
		delete(s.offers, orderID)
	}
	s.store.AppendAsLeader(store.SetOrderStatus{OrderID: orderID, Status: store.OrderCancelled})
	s.recordStatus(store.OrderCancelled)
	s.logger.Infow("order cancelled", "order_id", orderID, "reason", reason)

	order, ok = store.GetOrder(s.store, orderID)
	if !ok {
		return
	}
	f, _ := wire.Encode(wire.TagOrderFinalized, wire.OrderFinalizedMsg{Order: order})
	s.sender.Send(wire.KindClient, order.ClientID, f)
	s.sender.Send(wire.KindRestaurant, order.RestaurantID, f)
}

// --- courier offers & mutual-exclusion arbitration (spec.md §4.4) ---

func (s *Service) beginOffering(orderID uint64, round int) {
	if round >= len(s.cfg.OfferRadiusLadder) || (s.cfg.MaxOfferRounds > 0 && round >= s.cfg.MaxOfferRounds) {
		s.cancelOrder(orderID, "no_courier_available")
		return
	}
	order, ok := store.GetOrder(s.store, orderID)
	if !ok || order.Status != store.OrderReadyForDelivery {
		return
	}

	radius := s.cfg.OfferRadiusLadder[round]
	candidates := s.locator.NearbyAvailableCouriers(order.ClientPosition, radius)
	if len(candidates) == 0 && round+1 < len(s.cfg.OfferRadiusLadder) {
		s.scheduleNextRound(orderID, round+1)
		return
	}

	for _, c := range candidates {
		offer, _ := wire.Encode(wire.TagNewOfferToDeliver, wire.NewOfferToDeliverMsg{OrderID: orderID})
		s.sender.Send(wire.KindCourier, c.CourierID, offer)
		if s.metrics != nil {
			s.metrics.OffersSent.Inc()
		}
	}

	deadline := time.AfterFunc(s.cfg.OfferTimeout, func() {
		agent.Cast(s.mailbox, func() { s.offerTimedOut(orderID, round) })
	})
	s.offers[orderID] = &offerRound{round: round, deadline: deadline}
}

func (s *Service) scheduleNextRound(orderID uint64, round int) {
	deadline := time.AfterFunc(10*time.Millisecond, func() {
		agent.Cast(s.mailbox, func() { s.beginOffering(orderID, round) })
	})
	s.offers[orderID] = &offerRound{round: round, deadline: deadline}
}

func (s *Service) offerTimedOut(orderID uint64, round int) {
	if o, ok := s.offers[orderID]; ok && o.round == round {
		delete(s.offers, orderID)
	} else {
		// A later round already superseded this timer; ignore.
		return
	}
	order, ok := store.GetOrder(s.store, orderID)
	if !ok || order.Status != store.OrderReadyForDelivery || order.CourierID != "" {
		return
	}
	s.beginOffering(orderID, round+1)
}

func (s *Service) handleCourierAvailable(courierID string, f wire.Frame) {
	var msg wire.IAmAvailableMsg
	if wire.Decode(f, &msg) != nil {
		return
	}
	s.store.AppendAsLeader(
		store.TouchCourier{CourierID: courierID},
		store.SetCourierStatus{CourierID: courierID, Status: store.CourierAvailable},
	)
}

func (s *Service) handleDeliveryAccepted(courierID string, f wire.Frame) {
	var msg wire.DeliveryAcceptedMsg
	if wire.Decode(f, &msg) != nil {
		return
	}
	won, _, err := s.store.TryAssignCourier(msg.OrderID, courierID)
	if err != nil {
		s.logger.Warnw("delivery accept for unknown order", "order_id", msg.OrderID, "error", err)
		return
	}
	if !won {
		resp, _ := wire.Encode(wire.TagDeliveryNotNeeded, wire.DeliveryNotNeededMsg{OrderID: msg.OrderID})
		s.sender.Send(wire.KindCourier, courierID, resp)
		return
	}

	if o, ok := s.offers[msg.OrderID]; ok {
		o.deadline.Stop()
		delete(s.offers, msg.OrderID)
	}

	s.store.AppendAsLeader(
		store.SetCourierStatus{CourierID: courierID, Status: store.CourierAwaitingConfirmation},
		store.SetCourierForOrder{OrderID: msg.OrderID, CourierID: courierID},
	)

	order, ok := store.GetOrder(s.store, msg.OrderID)
	if !ok {
		return
	}
	avail, _ := wire.Encode(wire.TagDeliveryAvailable, wire.DeliveryAvailableMsg{Order: order})
	s.sender.Send(wire.KindRestaurant, order.RestaurantID, avail)
}

func (s *Service) handleRestaurantConfirmsDelivery(f wire.Frame) {
	var msg wire.DeliverThisOrderMsg
	if wire.Decode(f, &msg) != nil {
		return
	}
	order, ok := store.GetOrder(s.store, msg.Order.OrderID)
	if !ok || order.CourierID == "" {
		return
	}
	s.store.AppendAsLeader(
		store.SetOrderStatus{OrderID: order.OrderID, Status: store.OrderDelivering},
		store.SetCourierStatus{CourierID: order.CourierID, Status: store.CourierDelivering},
		store.SetCourierAssignment{CourierID: order.CourierID, ClientID: order.ClientID, OrderID: &order.OrderID},
	)
	s.recordStatus(store.OrderDelivering)
	order, ok = store.GetOrder(s.store, order.OrderID)
	if !ok {
		return
	}
	deliver, _ := wire.Encode(wire.TagDeliverThisOrder, wire.DeliverThisOrderMsg{Order: order})
	s.sender.Send(wire.KindCourier, order.CourierID, deliver)

	updated, _ := wire.Encode(wire.TagNotifyOrderUpdated, wire.NotifyOrderUpdatedMsg{Order: order})
	s.sender.Send(wire.KindClient, order.ClientID, updated)
}

// --- capture & finalization (spec.md §4.4 "Capture") ---

func (s *Service) handleDelivered(courierID string, f wire.Frame) {
	var msg wire.DeliveredMsg
	if wire.Decode(f, &msg) != nil {
		return
	}
	order, ok := store.GetOrder(s.store, msg.OrderID)
	if !ok || order.CourierID != courierID || order.Status != store.OrderDelivering {
		return
	}
	if err := s.payment.RequestCharge(msg.OrderID); err != nil {
		s.logger.Errorw("capture failed", "order_id", msg.OrderID, "error", err)
		return
	}

	s.store.AppendAsLeader(
		store.SetOrderStatus{OrderID: msg.OrderID, Status: store.OrderDelivered},
		store.SetCourierStatus{CourierID: courierID, Status: store.CourierAvailable},
		store.SetCourierAssignment{CourierID: courierID, ClientID: "", OrderID: nil},
		store.SetClientActiveOrder{ClientID: order.ClientID, OrderID: nil},
	)
	s.recordStatus(store.OrderDelivered)

	order, ok = store.GetOrder(s.store, msg.OrderID)
	if !ok {
		return
	}
	final, _ := wire.Encode(wire.TagOrderFinalized, wire.OrderFinalizedMsg{Order: order})
	s.sender.Send(wire.KindClient, order.ClientID, final)
	s.sender.Send(wire.KindRestaurant, order.RestaurantID, final)
}

// --- reaper integration (spec.md §4.6) ---

// CheckReap is invoked by the reaper when a user's grace timer fires. It
// removes the entity only if no newer activity has superseded the
// timer, and cancels any non-Delivering order the entity owned.
func (s *Service) CheckReap(kind wire.UserKind, userID string, scheduledAt time.Time) {
	agent.Cast(s.mailbox, func() { s.checkReap(kind, userID, scheduledAt) })
}

func (s *Service) checkReap(kind wire.UserKind, userID string, scheduledAt time.Time) {
	if !s.isLeaderFn() {
		return
	}
	switch kind {
	case wire.KindClient:
		c, ok := store.GetClient(s.store, userID)
		if !ok || c.LastSeen.After(scheduledAt) {
			return
		}
		if c.ActiveOrderID != nil {
			s.cancelOrderIfNotDelivering(*c.ActiveOrderID, "client_disconnected")
		}
		s.store.AppendAsLeader(store.RemoveClient{ClientID: userID})
		s.recordReap(kind)
	case wire.KindRestaurant:
		r, ok := store.GetRestaurant(s.store, userID)
		if !ok || r.LastSeen.After(scheduledAt) {
			return
		}
		for orderID := range r.AuthorizedOrders {
			s.cancelOrderIfNotDelivering(orderID, "restaurant_disconnected")
		}
		for orderID := range r.PendingOrders {
			s.cancelOrderIfNotDelivering(orderID, "restaurant_disconnected")
		}
		s.store.AppendAsLeader(store.RemoveRestaurant{RestaurantID: userID})
		s.recordReap(kind)
	case wire.KindCourier:
		c, ok := store.GetCourier(s.store, userID)
		if !ok || c.LastSeen.After(scheduledAt) {
			return
		}
		if c.Status == store.CourierDelivering {
			// In-flight delivery continues; spec.md §4.6 keeps the
			// courier around so it can still complete it.
			return
		}
		s.store.AppendAsLeader(store.RemoveCourier{CourierID: userID})
		s.recordReap(kind)
	}
}

func (s *Service) recordReap(kind wire.UserKind) {
	if s.metrics != nil {
		s.metrics.ReapedEntities.WithLabelValues(string(kind)).Inc()
	}
}

func (s *Service) cancelOrderIfNotDelivering(orderID uint64, reason string) {
	order, ok := store.GetOrder(s.store, orderID)
	if !ok || order.Status == store.OrderDelivering || order.Status == store.OrderDelivered {
		return
	}
	s.cancelOrder(orderID, reason)
}
