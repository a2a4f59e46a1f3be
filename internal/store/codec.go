package store

import (
	"encoding/json"
	"fmt"
)

// Envelope is the tagged-union wire form of a Mutation: {"type": ...,
// "data": ...}. The operation log and the replication messages that carry
// it (RequestNewUpdates/Updates, RequestAllStorage/StorageSnapshot) both
// use this envelope so a Mutation survives the trip through
// internal/wire's JSON frames.
type Envelope struct {
	Type MutationType    `json:"type"`
	Data json.RawMessage `json:"data"`
}

var mutationFactories = map[MutationType]func() Mutation{
	TypeAddClient:               func() Mutation { return &AddClient{} },
	TypeRemoveClient:            func() Mutation { return &RemoveClient{} },
	TypeTouchClient:             func() Mutation { return &TouchClient{} },
	TypeSetClientActiveOrder:    func() Mutation { return &SetClientActiveOrder{} },
	TypeAddRestaurant:           func() Mutation { return &AddRestaurant{} },
	TypeRemoveRestaurant:        func() Mutation { return &RemoveRestaurant{} },
	TypeTouchRestaurant:         func() Mutation { return &TouchRestaurant{} },
	TypeAddAuthorizedOrder:      func() Mutation { return &AddAuthorizedOrderToRestaurant{} },
	TypeMoveOrderToPending:      func() Mutation { return &MoveOrderToPending{} },
	TypeRemoveOrderFromRestaurant: func() Mutation { return &RemoveOrderFromRestaurant{} },
	TypeAddCourier:              func() Mutation { return &AddCourier{} },
	TypeRemoveCourier:           func() Mutation { return &RemoveCourier{} },
	TypeTouchCourier:            func() Mutation { return &TouchCourier{} },
	TypeSetCourierStatus:        func() Mutation { return &SetCourierStatus{} },
	TypeSetCourierAssignment:    func() Mutation { return &SetCourierAssignment{} },
	TypeAddOrder:                func() Mutation { return &AddOrder{} },
	TypeSetOrderStatus:          func() Mutation { return &SetOrderStatus{} },
	TypeSetCourierForOrder:      func() Mutation { return &SetCourierForOrder{} },
	TypeRemoveOrder:             func() Mutation { return &RemoveOrder{} },
}

// EncodeMutation wraps a Mutation in its Envelope.
func EncodeMutation(m Mutation) (Envelope, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return Envelope{}, fmt.Errorf("store: encode mutation %s: %w", m.Type(), err)
	}
	return Envelope{Type: m.Type(), Data: data}, nil
}

// DecodeMutation reverses EncodeMutation.
func DecodeMutation(e Envelope) (Mutation, error) {
	factory, ok := mutationFactories[e.Type]
	if !ok {
		return nil, fmt.Errorf("store: unknown mutation type %q", e.Type)
	}
	m := factory()
	if err := json.Unmarshal(e.Data, m); err != nil {
		return nil, fmt.Errorf("store: decode mutation %s: %w", e.Type, err)
	}
	return m, nil
}
