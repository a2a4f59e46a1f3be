package store

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s := NewStore(zap.NewNop().Sugar())
	stop := make(chan struct{})
	go s.Run(stop)
	t.Cleanup(func() { close(stop) })
	return s
}

func TestAppendAsLeaderAssignsMonotoneIndicesAndOrderID(t *testing.T) {
	s := newTestStore(t)

	idxs, err := s.AppendAsLeader(
		AddClient{ClientID: "c1", Position: Position{X: 1, Y: 1}},
		AddRestaurant{RestaurantID: "r1", Position: Position{X: 2, Y: 2}},
	)
	require.NoError(t, err)
	require.Equal(t, []uint64{1, 2}, idxs)

	idxs, err = s.AppendAsLeader(AddOrder{Order: Order{Dish: "soup", ClientID: "c1", RestaurantID: "r1"}})
	require.NoError(t, err)
	require.Len(t, idxs, 1)

	order, ok := GetOrder(s, idxs[0])
	require.True(t, ok)
	require.Equal(t, idxs[0], order.OrderID, "AddOrder must stamp OrderID to its own log index")
}

func TestTryAssignCourierIsMutualExclusion(t *testing.T) {
	s := newTestStore(t)
	idxs, err := s.AppendAsLeader(AddOrder{Order: Order{Dish: "soup", ClientID: "c1", RestaurantID: "r1"}})
	require.NoError(t, err)
	orderID := idxs[0]

	won1, _, err := s.TryAssignCourier(orderID, "courier-a")
	require.NoError(t, err)
	require.True(t, won1, "first caller should win the assignment")

	won2, _, err := s.TryAssignCourier(orderID, "courier-b")
	require.NoError(t, err)
	require.False(t, won2, "second caller must lose, not overwrite the winner")

	order, ok := GetOrder(s, orderID)
	require.True(t, ok)
	require.Equal(t, "courier-a", order.CourierID)

	// A second call from the original winner is also a no-op (idempotent).
	wonAgain, _, err := s.TryAssignCourier(orderID, "courier-a")
	require.NoError(t, err)
	require.False(t, wonAgain)
}

func TestTryAssignCourierUnknownOrder(t *testing.T) {
	s := newTestStore(t)
	won, _, err := s.TryAssignCourier(999, "courier-a")
	require.Error(t, err)
	require.False(t, won)
}

func TestReconcileAsLeaderGCsFullyRoundTrippedEntries(t *testing.T) {
	s := newTestStore(t)
	idxs, err := s.AppendAsLeader(AddClient{ClientID: "c1", Position: Position{}})
	require.NoError(t, err)
	require.Equal(t, 1, s.LogLen())

	entry, ok := s.log.get(idxs[0])
	require.True(t, ok)

	// The predecessor's reply contains the same entry the leader already
	// has: it has been fully replicated around the ring and can be
	// garbage collected.
	s.ReconcileAsLeader([]LogEntry{{Index: idxs[0], Mutation: entry}})
	require.Equal(t, 0, s.LogLen())
}

func TestReconcileAsFollowerAppliesRemovesAndLeavesUntouched(t *testing.T) {
	leader := newTestStore(t)
	_, err := leader.AppendAsLeader(
		AddClient{ClientID: "c1", Position: Position{X: 1}},
		AddRestaurant{RestaurantID: "r1", Position: Position{X: 2}},
	)
	require.NoError(t, err)
	full := leader.log.all()

	follower := newTestStore(t)
	require.NoError(t, follower.ReconcileAsFollower(full))

	c, ok := GetClient(follower, "c1")
	require.True(t, ok)
	require.Equal(t, 1.0, c.Position.X)
	r, ok := GetRestaurant(follower, "r1")
	require.True(t, ok)
	require.Equal(t, 2.0, r.Position.X)
	require.Equal(t, 2, follower.LogLen())

	// Re-reconciling with the same set leaves everything untouched.
	require.NoError(t, follower.ReconcileAsFollower(full))
	require.Equal(t, 2, follower.LogLen())

	// The predecessor no longer has the AddClient entry: remove-if-gone.
	onlyRestaurant := []LogEntry{full[1]}
	if full[0].Mutation.Type != TypeAddClient {
		onlyRestaurant = []LogEntry{full[0]}
	}
	require.NoError(t, follower.ReconcileAsFollower(onlyRestaurant))
	require.Equal(t, 1, follower.LogLen())
}

func TestSnapshotRoundTrip(t *testing.T) {
	s := newTestStore(t)
	_, err := s.AppendAsLeader(
		AddClient{ClientID: "c1", Position: Position{X: 1, Y: 1}},
		AddRestaurant{RestaurantID: "r1", Position: Position{X: 2, Y: 2}},
		AddCourier{CourierID: "k1", Position: Position{X: 3, Y: 3}},
	)
	require.NoError(t, err)
	idxs, err := s.AppendAsLeader(AddOrder{Order: Order{Dish: "soup", ClientID: "c1", RestaurantID: "r1"}})
	require.NoError(t, err)
	orderID := idxs[0]
	_, _, err = s.TryAssignCourier(orderID, "k1")
	require.NoError(t, err)

	ops, entries := s.Snapshot()

	fresh := NewStore(zap.NewNop().Sugar())
	stop := make(chan struct{})
	go fresh.Run(stop)
	defer close(stop)
	fresh.InstallSnapshot(ops, entries)

	order, ok := GetOrder(fresh, orderID)
	require.True(t, ok)
	require.Equal(t, "k1", order.CourierID)
	require.Equal(t, "soup", order.Dish)

	c, ok := GetClient(fresh, "c1")
	require.True(t, ok)
	require.Equal(t, Position{X: 1, Y: 1}, c.Position)

	// A subsequent AppendAsLeader on the reconstructed replica must not
	// collide with an index already present in the installed log.
	nextIdxs, err := fresh.AppendAsLeader(AddClient{ClientID: "c2", Position: Position{}})
	require.NoError(t, err)
	require.Greater(t, nextIdxs[0], orderID)
}

func TestEncodeDecodeMutationRoundTrip(t *testing.T) {
	m := SetOrderStatus{OrderID: 42, Status: OrderPreparing}
	env, err := EncodeMutation(m)
	require.NoError(t, err)
	require.Equal(t, TypeSetOrderStatus, env.Type)

	decoded, err := DecodeMutation(env)
	require.NoError(t, err)
	st := newState()
	st.Orders[42] = &Order{OrderID: 42, Status: OrderPending}
	decoded.Apply(st)
	require.Equal(t, OrderPreparing, st.Orders[42].Status)
}

func TestNearbyQueriesFilterByRadiusAndStatus(t *testing.T) {
	s := newTestStore(t)
	_, err := s.AppendAsLeader(
		AddRestaurant{RestaurantID: "near", Position: Position{X: 0, Y: 0}},
		AddRestaurant{RestaurantID: "far", Position: Position{X: 100, Y: 100}},
		AddCourier{CourierID: "k-near", Position: Position{X: 1, Y: 0}},
		AddCourier{CourierID: "k-busy", Position: Position{X: 1, Y: 0}},
	)
	require.NoError(t, err)
	_, err = s.AppendAsLeader(SetCourierStatus{CourierID: "k-busy", Status: CourierDelivering})
	require.NoError(t, err)

	restaurants := NearbyRestaurants(s, Position{X: 0, Y: 0}, 5)
	require.Len(t, restaurants, 1)
	require.Equal(t, "near", restaurants[0].RestaurantID)

	couriers := NearbyAvailableCouriers(s, Position{X: 0, Y: 0}, 5)
	require.Len(t, couriers, 1)
	require.Equal(t, "k-near", couriers[0].CourierID)
}

func TestTouchClientUpdatesLastSeen(t *testing.T) {
	s := newTestStore(t)
	_, err := s.AppendAsLeader(AddClient{ClientID: "c1", Position: Position{}})
	require.NoError(t, err)
	before, ok := GetClient(s, "c1")
	require.True(t, ok)

	time.Sleep(time.Millisecond)
	_, err = s.AppendAsLeader(TouchClient{ClientID: "c1"})
	require.NoError(t, err)
	after, ok := GetClient(s, "c1")
	require.True(t, ok)
	require.True(t, after.LastSeen.After(before.LastSeen))
}
