package store

// State is the in-memory authoritative table set (spec.md §3). It is
// never accessed outside of the owning Store's single goroutine.
type State struct {
	Clients     map[string]*Client
	Restaurants map[string]*Restaurant
	Couriers    map[string]*Courier
	Orders      map[uint64]*Order
}

func newState() *State {
	return &State{
		Clients:     map[string]*Client{},
		Restaurants: map[string]*Restaurant{},
		Couriers:    map[string]*Courier{},
		Orders:      map[uint64]*Order{},
	}
}

// Reconstruction returns a mutation sequence that, replayed in order from
// empty state, reproduces s. Clients, restaurants and couriers are emitted
// before any order, and each order before the SetCourierForOrder mutation
// that binds its courier (SPEC_FULL.md §4). The order ids recorded on
// clients, restaurants and couriers are plain ids and are replayed before
// the AddOrder mutations they name.
func (s *State) Reconstruction() []Mutation {
	var ops []Mutation
	for _, c := range s.Clients {
		ops = append(ops, AddClient{ClientID: c.ClientID, Position: c.Position})
		if c.ActiveOrderID != nil {
			id := *c.ActiveOrderID
			ops = append(ops, SetClientActiveOrder{ClientID: c.ClientID, OrderID: &id})
		}
	}
	for _, r := range s.Restaurants {
		ops = append(ops, AddRestaurant{RestaurantID: r.RestaurantID, Position: r.Position})
		for id := range r.AuthorizedOrders {
			ops = append(ops, AddAuthorizedOrderToRestaurant{RestaurantID: r.RestaurantID, OrderID: id})
		}
		for id := range r.PendingOrders {
			ops = append(ops,
				AddAuthorizedOrderToRestaurant{RestaurantID: r.RestaurantID, OrderID: id},
				MoveOrderToPending{RestaurantID: r.RestaurantID, OrderID: id},
			)
		}
	}
	for _, c := range s.Couriers {
		ops = append(ops, AddCourier{CourierID: c.CourierID, Position: c.Position})
		ops = append(ops, SetCourierStatus{CourierID: c.CourierID, Status: c.Status})
		if c.CurrentOrderID != nil {
			id := *c.CurrentOrderID
			ops = append(ops, SetCourierAssignment{CourierID: c.CourierID, ClientID: c.CurrentClientID, OrderID: &id})
		}
	}
	for _, o := range s.Orders {
		ops = append(ops, AddOrder{Order: *o})
		if o.CourierID != "" {
			ops = append(ops, SetCourierForOrder{OrderID: o.OrderID, CourierID: o.CourierID})
		}
	}
	return ops
}
