package store

import "time"

// MutationType tags a Mutation for the wire codec and the operation log.
type MutationType string

const (
	TypeAddClient               MutationType = "AddClient"
	TypeRemoveClient             MutationType = "RemoveClient"
	TypeTouchClient              MutationType = "TouchClient"
	TypeSetClientActiveOrder     MutationType = "SetClientActiveOrder"
	TypeAddRestaurant            MutationType = "AddRestaurant"
	TypeRemoveRestaurant         MutationType = "RemoveRestaurant"
	TypeTouchRestaurant          MutationType = "TouchRestaurant"
	TypeAddAuthorizedOrder       MutationType = "AddAuthorizedOrderToRestaurant"
	TypeMoveOrderToPending       MutationType = "MoveOrderToPending"
	TypeRemoveOrderFromRestaurant MutationType = "RemoveOrderFromRestaurant"
	TypeAddCourier               MutationType = "AddCourier"
	TypeRemoveCourier            MutationType = "RemoveCourier"
	TypeTouchCourier             MutationType = "TouchCourier"
	TypeSetCourierStatus         MutationType = "SetCourierStatus"
	TypeSetCourierAssignment     MutationType = "SetCourierAssignment"
	TypeAddOrder                 MutationType = "AddOrder"
	TypeSetOrderStatus           MutationType = "SetOrderStatus"
	TypeSetCourierForOrder       MutationType = "SetCourierForOrder"
	TypeRemoveOrder               MutationType = "RemoveOrder"
)

// Mutation is one value-carrying state transition. Every replica applies
// mutations, in log-index order, to reach bit-identical state (spec.md §3
// invariant 6).
type Mutation interface {
	Type() MutationType
	Apply(s *State)
}

// --- client mutations ---

type AddClient struct {
	ClientID string   `json:"client_id"`
	Position Position `json:"position"`
}

func (AddClient) Type() MutationType { return TypeAddClient }
func (m AddClient) Apply(s *State) {
	s.Clients[m.ClientID] = &Client{ClientID: m.ClientID, Position: m.Position, LastSeen: time.Now()}
}

type RemoveClient struct {
	ClientID string `json:"client_id"`
}

func (RemoveClient) Type() MutationType { return TypeRemoveClient }
func (m RemoveClient) Apply(s *State)   { delete(s.Clients, m.ClientID) }

type TouchClient struct {
	ClientID string `json:"client_id"`
}

func (TouchClient) Type() MutationType { return TypeTouchClient }
func (m TouchClient) Apply(s *State) {
	if c, ok := s.Clients[m.ClientID]; ok {
		c.LastSeen = time.Now()
	}
}

type SetClientActiveOrder struct {
	ClientID string  `json:"client_id"`
	OrderID  *uint64 `json:"order_id,omitempty"`
}

func (SetClientActiveOrder) Type() MutationType { return TypeSetClientActiveOrder }
func (m SetClientActiveOrder) Apply(s *State) {
	if c, ok := s.Clients[m.ClientID]; ok {
		c.ActiveOrderID = m.OrderID
	}
}

// --- restaurant mutations ---

type AddRestaurant struct {
	RestaurantID string   `json:"restaurant_id"`
	Position     Position `json:"position"`
}

func (AddRestaurant) Type() MutationType { return TypeAddRestaurant }
func (m AddRestaurant) Apply(s *State) {
	s.Restaurants[m.RestaurantID] = &Restaurant{
		RestaurantID:     m.RestaurantID,
		Position:         m.Position,
		AuthorizedOrders: map[uint64]bool{},
		PendingOrders:    map[uint64]bool{},
		LastSeen:         time.Now(),
	}
}

type RemoveRestaurant struct {
	RestaurantID string `json:"restaurant_id"`
}

func (RemoveRestaurant) Type() MutationType { return TypeRemoveRestaurant }
func (m RemoveRestaurant) Apply(s *State)   { delete(s.Restaurants, m.RestaurantID) }

type TouchRestaurant struct {
	RestaurantID string `json:"restaurant_id"`
}

func (TouchRestaurant) Type() MutationType { return TypeTouchRestaurant }
func (m TouchRestaurant) Apply(s *State) {
	if r, ok := s.Restaurants[m.RestaurantID]; ok {
		r.LastSeen = time.Now()
	}
}

type AddAuthorizedOrderToRestaurant struct {
	RestaurantID string `json:"restaurant_id"`
	OrderID      uint64 `json:"order_id"`
}

func (AddAuthorizedOrderToRestaurant) Type() MutationType { return TypeAddAuthorizedOrder }
func (m AddAuthorizedOrderToRestaurant) Apply(s *State) {
	if r, ok := s.Restaurants[m.RestaurantID]; ok {
		r.AuthorizedOrders[m.OrderID] = true
	}
}

type MoveOrderToPending struct {
	RestaurantID string `json:"restaurant_id"`
	OrderID      uint64 `json:"order_id"`
}

func (MoveOrderToPending) Type() MutationType { return TypeMoveOrderToPending }
func (m MoveOrderToPending) Apply(s *State) {
	if r, ok := s.Restaurants[m.RestaurantID]; ok {
		delete(r.AuthorizedOrders, m.OrderID)
		r.PendingOrders[m.OrderID] = true
	}
}

type RemoveOrderFromRestaurant struct {
	RestaurantID string `json:"restaurant_id"`
	OrderID      uint64 `json:"order_id"`
}

func (RemoveOrderFromRestaurant) Type() MutationType { return TypeRemoveOrderFromRestaurant }
func (m RemoveOrderFromRestaurant) Apply(s *State) {
	if r, ok := s.Restaurants[m.RestaurantID]; ok {
		delete(r.AuthorizedOrders, m.OrderID)
		delete(r.PendingOrders, m.OrderID)
	}
}

// --- courier mutations ---

type AddCourier struct {
	CourierID string   `json:"courier_id"`
	Position  Position `json:"position"`
}

func (AddCourier) Type() MutationType { return TypeAddCourier }
func (m AddCourier) Apply(s *State) {
	s.Couriers[m.CourierID] = &Courier{
		CourierID: m.CourierID,
		Position:  m.Position,
		Status:    CourierAvailable,
		LastSeen:  time.Now(),
	}
}

type RemoveCourier struct {
	CourierID string `json:"courier_id"`
}

func (RemoveCourier) Type() MutationType { return TypeRemoveCourier }
func (m RemoveCourier) Apply(s *State)   { delete(s.Couriers, m.CourierID) }

type TouchCourier struct {
	CourierID string `json:"courier_id"`
}

func (TouchCourier) Type() MutationType { return TypeTouchCourier }
func (m TouchCourier) Apply(s *State) {
	if c, ok := s.Couriers[m.CourierID]; ok {
		c.LastSeen = time.Now()
	}
}

type SetCourierStatus struct {
	CourierID string        `json:"courier_id"`
	Status    CourierStatus `json:"status"`
}

func (SetCourierStatus) Type() MutationType { return TypeSetCourierStatus }
func (m SetCourierStatus) Apply(s *State) {
	if c, ok := s.Couriers[m.CourierID]; ok {
		c.Status = m.Status
	}
}

type SetCourierAssignment struct {
	CourierID string  `json:"courier_id"`
	ClientID  string  `json:"client_id,omitempty"`
	OrderID   *uint64 `json:"order_id,omitempty"`
}

func (SetCourierAssignment) Type() MutationType { return TypeSetCourierAssignment }
func (m SetCourierAssignment) Apply(s *State) {
	if c, ok := s.Couriers[m.CourierID]; ok {
		c.CurrentClientID = m.ClientID
		c.CurrentOrderID = m.OrderID
	}
}

// --- order mutations ---

type AddOrder struct {
	Order Order `json:"order"`
}

func (AddOrder) Type() MutationType { return TypeAddOrder }
func (m AddOrder) Apply(s *State) {
	o := m.Order
	o.LastSeen = time.Now()
	s.Orders[o.OrderID] = &o
}

type SetOrderStatus struct {
	OrderID uint64      `json:"order_id"`
	Status  OrderStatus `json:"status"`
}

func (SetOrderStatus) Type() MutationType { return TypeSetOrderStatus }
func (m SetOrderStatus) Apply(s *State) {
	if o, ok := s.Orders[m.OrderID]; ok {
		o.Status = m.Status
		o.LastSeen = time.Now()
	}
}

type SetCourierForOrder struct {
	OrderID   uint64 `json:"order_id"`
	CourierID string `json:"courier_id"`
}

func (SetCourierForOrder) Type() MutationType { return TypeSetCourierForOrder }
func (m SetCourierForOrder) Apply(s *State) {
	if o, ok := s.Orders[m.OrderID]; ok {
		o.CourierID = m.CourierID
		o.LastSeen = time.Now()
	}
}

type RemoveOrder struct {
	OrderID uint64 `json:"order_id"`
}

func (RemoveOrder) Type() MutationType { return TypeRemoveOrder }
func (m RemoveOrder) Apply(s *State)   { delete(s.Orders, m.OrderID) }
