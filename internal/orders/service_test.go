package orders

import (
	"sync"
	"testing"
	"time"

	"github.com/foodmesh/core/internal/config"
	"github.com/foodmesh/core/internal/locator"
	"github.com/foodmesh/core/internal/store"
	"github.com/foodmesh/core/internal/wire"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// fakeSender records every frame pushed to a user, keyed by (kind, id),
// standing in for *coordinator.Coordinator in these tests.
type fakeSender struct {
	mu   sync.Mutex
	sent map[string][]wire.Frame
}

func newFakeSender() *fakeSender { return &fakeSender{sent: make(map[string][]wire.Frame)} }

func (f *fakeSender) Send(kind wire.UserKind, userID string, fr wire.Frame) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := string(kind) + ":" + userID
	f.sent[key] = append(f.sent[key], fr)
}

func (f *fakeSender) last(kind wire.UserKind, userID string) (wire.Frame, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := string(kind) + ":" + userID
	frames := f.sent[key]
	if len(frames) == 0 {
		return wire.Frame{}, false
	}
	return frames[len(frames)-1], true
}

// fakePayment authorizes according to its authorize field and always
// captures; RequestAuthorization
// and RequestCharge are the only two calls the order service makes.
type fakePayment struct {
	authorize bool
}

func (p *fakePayment) RequestAuthorization(orderID uint64) (bool, error) { return p.authorize, nil }
func (p *fakePayment) RequestCharge(orderID uint64) error                { return nil }

func newTestService(t *testing.T, cfg config.Config, pay *fakePayment) (*Service, *store.Store, *fakeSender) {
	t.Helper()
	logger := zap.NewNop().Sugar()
	st := store.NewStore(logger)
	storeStop := make(chan struct{})
	go st.Run(storeStop)
	t.Cleanup(func() { close(storeStop) })

	loc := locator.New(st, cfg)
	sender := newFakeSender()
	svc := New(logger, cfg, st, sender, loc, pay, func() bool { return true }, nil)
	svcStop := make(chan struct{})
	go svc.Run(svcStop)
	t.Cleanup(func() { close(svcStop) })

	return svc, st, sender
}

func testConfig() config.Config {
	cfg := config.Default()
	cfg.OfferTimeout = 50 * time.Millisecond
	cfg.OfferRadiusLadder = []float64{5.0}
	return cfg
}

func TestOrderPlacementIsAuthorizedAndNotifiesBoth(t *testing.T) {
	cfg := testConfig()
	svc, st, sender := newTestService(t, cfg, &fakePayment{authorize: true})

	_, err := st.AppendAsLeader(
		store.AddClient{ClientID: "c1", Position: store.Position{X: 0, Y: 0}},
		store.AddRestaurant{RestaurantID: "r1", Position: store.Position{X: 1, Y: 1}},
	)
	require.NoError(t, err)

	reqFrame, _ := wire.Encode(wire.TagRequestThisOrder, wire.RequestThisOrderMsg{
		Dish: "soup", RestaurantID: "r1", Position: store.Position{X: 0, Y: 0},
	})
	svc.HandleUserFrame("c1-addr", wire.KindClient, "c1", reqFrame)

	require.Eventually(t, func() bool {
		_, ok := sender.last(wire.KindClient, "c1")
		return ok
	}, time.Second, 5*time.Millisecond)

	authFrame, ok := sender.last(wire.KindClient, "c1")
	require.True(t, ok)
	require.Equal(t, wire.TagAuthorizationResult, authFrame.Tag)
	var authMsg wire.AuthorizationResultMsg
	require.NoError(t, wire.Decode(authFrame, &authMsg))
	require.True(t, authMsg.Approved)

	newOrderFrame, ok := sender.last(wire.KindRestaurant, "r1")
	require.True(t, ok)
	require.Equal(t, wire.TagNewOrder, newOrderFrame.Tag)

	order, ok := store.GetOrder(st, authMsg.OrderID)
	require.True(t, ok)
	require.Equal(t, store.OrderAuthorized, order.Status)
}

func TestOrderPlacementDeniedCancelsOrder(t *testing.T) {
	cfg := testConfig()
	svc, st, sender := newTestService(t, cfg, &fakePayment{authorize: false})

	_, err := st.AppendAsLeader(
		store.AddClient{ClientID: "c1", Position: store.Position{}},
		store.AddRestaurant{RestaurantID: "r1", Position: store.Position{}},
	)
	require.NoError(t, err)

	reqFrame, _ := wire.Encode(wire.TagRequestThisOrder, wire.RequestThisOrderMsg{Dish: "soup", RestaurantID: "r1"})
	svc.HandleUserFrame("c1-addr", wire.KindClient, "c1", reqFrame)

	require.Eventually(t, func() bool {
		f, ok := sender.last(wire.KindClient, "c1")
		return ok && f.Tag == wire.TagAuthorizationResult
	}, time.Second, 5*time.Millisecond)

	authFrame, _ := sender.last(wire.KindClient, "c1")
	var authMsg wire.AuthorizationResultMsg
	require.NoError(t, wire.Decode(authFrame, &authMsg))
	require.False(t, authMsg.Approved)

	order, ok := store.GetOrder(st, authMsg.OrderID)
	require.True(t, ok)
	require.Equal(t, store.OrderCancelled, order.Status)
}

func TestReadyForDeliveryOffersNearbyAvailableCourier(t *testing.T) {
	cfg := testConfig()
	svc, st, sender := newTestService(t, cfg, &fakePayment{authorize: true})

	_, err := st.AppendAsLeader(
		store.AddClient{ClientID: "c1", Position: store.Position{}},
		store.AddRestaurant{RestaurantID: "r1", Position: store.Position{}},
		store.AddCourier{CourierID: "k1", Position: store.Position{X: 1, Y: 0}},
	)
	require.NoError(t, err)

	idxs, err := st.AppendAsLeader(store.AddOrder{Order: store.Order{
		Dish: "soup", ClientID: "c1", RestaurantID: "r1",
		Status: store.OrderAuthorized, ClientPosition: store.Position{},
	}})
	require.NoError(t, err)
	orderID := idxs[0]

	pending, _ := wire.Encode(wire.TagUpdateOrderStatus, wire.UpdateOrderStatusMsg{OrderID: orderID, Status: store.OrderPending})
	svc.HandleUserFrame("r1-addr", wire.KindRestaurant, "r1", pending)

	preparing, _ := wire.Encode(wire.TagUpdateOrderStatus, wire.UpdateOrderStatusMsg{OrderID: orderID, Status: store.OrderPreparing})
	svc.HandleUserFrame("r1-addr", wire.KindRestaurant, "r1", preparing)

	ready, _ := wire.Encode(wire.TagUpdateOrderStatus, wire.UpdateOrderStatusMsg{OrderID: orderID, Status: store.OrderReadyForDelivery})
	svc.HandleUserFrame("r1-addr", wire.KindRestaurant, "r1", ready)

	require.Eventually(t, func() bool {
		f, ok := sender.last(wire.KindCourier, "k1")
		return ok && f.Tag == wire.TagNewOfferToDeliver
	}, time.Second, 5*time.Millisecond)
}

func TestDeliveryAcceptedIsMutualExclusionBetweenCouriers(t *testing.T) {
	cfg := testConfig()
	svc, st, sender := newTestService(t, cfg, &fakePayment{authorize: true})

	idxs, err := st.AppendAsLeader(
		store.AddRestaurant{RestaurantID: "r1", Position: store.Position{}},
		store.AddCourier{CourierID: "k1", Position: store.Position{}},
		store.AddCourier{CourierID: "k2", Position: store.Position{}},
	)
	require.NoError(t, err)
	_ = idxs
	orderIdxs, err := st.AppendAsLeader(store.AddOrder{Order: store.Order{
		Dish: "soup", ClientID: "c1", RestaurantID: "r1", Status: store.OrderReadyForDelivery,
	}})
	require.NoError(t, err)
	orderID := orderIdxs[0]

	accept1, _ := wire.Encode(wire.TagDeliveryAccepted, wire.DeliveryAcceptedMsg{OrderID: orderID})
	svc.HandleUserFrame("k1-addr", wire.KindCourier, "k1", accept1)
	accept2, _ := wire.Encode(wire.TagDeliveryAccepted, wire.DeliveryAcceptedMsg{OrderID: orderID})
	svc.HandleUserFrame("k2-addr", wire.KindCourier, "k2", accept2)

	require.Eventually(t, func() bool {
		order, ok := store.GetOrder(st, orderID)
		return ok && order.CourierID != ""
	}, time.Second, 5*time.Millisecond)

	order, ok := store.GetOrder(st, orderID)
	require.True(t, ok)

	loserKind := "k2"
	if order.CourierID == "k2" {
		loserKind = "k1"
	}
	require.Eventually(t, func() bool {
		f, ok := sender.last(wire.KindCourier, loserKind)
		return ok && f.Tag == wire.TagDeliveryNotNeeded
	}, time.Second, 5*time.Millisecond)
}

func TestFullDeliveryLifecycleAssignsAndClearsCourierAssignment(t *testing.T) {
	cfg := testConfig()
	svc, st, sender := newTestService(t, cfg, &fakePayment{authorize: true})

	_, err := st.AppendAsLeader(
		store.AddClient{ClientID: "c1", Position: store.Position{}},
		store.AddRestaurant{RestaurantID: "r1", Position: store.Position{}},
		store.AddCourier{CourierID: "k1", Position: store.Position{}},
	)
	require.NoError(t, err)

	reqFrame, _ := wire.Encode(wire.TagRequestThisOrder, wire.RequestThisOrderMsg{Dish: "soup", RestaurantID: "r1"})
	svc.HandleUserFrame("c1-addr", wire.KindClient, "c1", reqFrame)

	var orderID uint64
	require.Eventually(t, func() bool {
		f, ok := sender.last(wire.KindClient, "c1")
		if !ok || f.Tag != wire.TagAuthorizationResult {
			return false
		}
		var msg wire.AuthorizationResultMsg
		require.NoError(t, wire.Decode(f, &msg))
		orderID = msg.OrderID
		return msg.Approved
	}, time.Second, 5*time.Millisecond)

	for _, status := range []store.OrderStatus{store.OrderPending, store.OrderPreparing, store.OrderReadyForDelivery} {
		f, _ := wire.Encode(wire.TagUpdateOrderStatus, wire.UpdateOrderStatusMsg{OrderID: orderID, Status: status})
		svc.HandleUserFrame("r1-addr", wire.KindRestaurant, "r1", f)
	}

	require.Eventually(t, func() bool {
		f, ok := sender.last(wire.KindCourier, "k1")
		return ok && f.Tag == wire.TagNewOfferToDeliver
	}, time.Second, 5*time.Millisecond)

	accept, _ := wire.Encode(wire.TagDeliveryAccepted, wire.DeliveryAcceptedMsg{OrderID: orderID})
	svc.HandleUserFrame("k1-addr", wire.KindCourier, "k1", accept)

	require.Eventually(t, func() bool {
		f, ok := sender.last(wire.KindRestaurant, "r1")
		return ok && f.Tag == wire.TagDeliveryAvailable
	}, time.Second, 5*time.Millisecond)

	order, ok := store.GetOrder(st, orderID)
	require.True(t, ok)
	confirm, _ := wire.Encode(wire.TagDeliverThisOrder, wire.DeliverThisOrderMsg{Order: order})
	svc.HandleUserFrame("r1-addr", wire.KindRestaurant, "r1", confirm)

	require.Eventually(t, func() bool {
		c, ok := store.GetCourier(st, "k1")
		return ok && c.Status == store.CourierDelivering
	}, time.Second, 5*time.Millisecond)

	courier, ok := store.GetCourier(st, "k1")
	require.True(t, ok)
	require.Equal(t, store.CourierDelivering, courier.Status)
	require.NotNil(t, courier.CurrentOrderID, "a Delivering courier must carry current_order_id (spec.md §3/§8 invariant)")
	require.Equal(t, orderID, *courier.CurrentOrderID)
	require.Equal(t, "c1", courier.CurrentClientID)

	delivered, _ := wire.Encode(wire.TagDelivered, wire.DeliveredMsg{OrderID: orderID})
	svc.HandleUserFrame("k1-addr", wire.KindCourier, "k1", delivered)

	require.Eventually(t, func() bool {
		c, ok := store.GetCourier(st, "k1")
		return ok && c.Status == store.CourierAvailable
	}, time.Second, 5*time.Millisecond)

	courier, ok = store.GetCourier(st, "k1")
	require.True(t, ok)
	require.Nil(t, courier.CurrentOrderID, "current_order_id must clear once delivered")

	order, ok = store.GetOrder(st, orderID)
	require.True(t, ok)
	require.Equal(t, store.OrderDelivered, order.Status)
}

func TestCheckReapPreservesDeliveringCourier(t *testing.T) {
	cfg := testConfig()
	svc, st, _ := newTestService(t, cfg, &fakePayment{authorize: true})

	_, err := st.AppendAsLeader(
		store.AddCourier{CourierID: "k1", Position: store.Position{}},
		store.SetCourierStatus{CourierID: "k1", Status: store.CourierDelivering},
	)
	require.NoError(t, err)

	before, _ := store.GetCourier(st, "k1")
	svc.CheckReap(wire.KindCourier, "k1", before.LastSeen.Add(time.Hour))

	require.Never(t, func() bool {
		_, ok := store.GetCourier(st, "k1")
		return !ok
	}, 200*time.Millisecond, 10*time.Millisecond, "a courier mid-delivery must not be reaped")
}

func TestCheckReapSkipsIfSupersededByNewerActivity(t *testing.T) {
	cfg := testConfig()
	svc, st, _ := newTestService(t, cfg, &fakePayment{authorize: true})

	_, err := st.AppendAsLeader(store.AddClient{ClientID: "c1", Position: store.Position{}})
	require.NoError(t, err)

	scheduledAt := time.Now().Add(-time.Hour)
	svc.CheckReap(wire.KindClient, "c1", scheduledAt)

	require.Eventually(t, func() bool {
		_, ok := store.GetClient(st, "c1")
		return ok
	}, time.Second, 5*time.Millisecond, "client whose LastSeen is after scheduledAt must survive")
}
