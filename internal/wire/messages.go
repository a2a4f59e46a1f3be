package wire

import (
	"github.com/foodmesh/core/internal/endpoint"
	"github.com/foodmesh/core/internal/store"
)

// Tag identifies a message's shape. The set below is exactly spec.md §6's
// catalog. Timer expiries have no tags: they are delivered to the owning
// agent as closures on its mailbox and never cross the wire.
type Tag string

const (
	// Ring control
	TagWhoIsLeader     Tag = "WhoIsLeader"
	TagLeaderIs        Tag = "LeaderIs"
	TagLeaderElection  Tag = "LeaderElection"
	TagPing            Tag = "Ping"
	TagPong            Tag = "Pong"

	// Replication
	TagRequestNewUpdates Tag = "RequestNewUpdates"
	TagUpdates           Tag = "Updates"
	TagApplyUpdates      Tag = "ApplyUpdates"
	TagRequestAllStorage Tag = "RequestAllStorage"
	TagStorageSnapshot   Tag = "StorageSnapshot"

	// User lifecycle
	TagRegisterUser      Tag = "RegisterUser"
	TagRecoveredUserInfo Tag = "RecoveredUserInfo"
	TagRetryLater        Tag = "RetryLater"
	TagShutdown          Tag = "Shutdown"

	// Client
	TagRequestNearbyRestaurants Tag = "RequestNearbyRestaurants"
	TagNearbyRestaurants        Tag = "NearbyRestaurants"
	TagRequestThisOrder         Tag = "RequestThisOrder"
	TagAuthorizationResult      Tag = "AuthorizationResult"
	TagNotifyOrderUpdated       Tag = "NotifyOrderUpdated"
	TagOrderFinalized           Tag = "OrderFinalized"

	// Restaurant
	TagNewOrder         Tag = "NewOrder"
	TagUpdateOrderStatus Tag = "UpdateOrderStatus"
	TagCancelOrder      Tag = "CancelOrder"
	TagRequestDelivery  Tag = "RequestDelivery"
	TagDeliveryAvailable Tag = "DeliveryAvailable"
	TagDeliverThisOrder Tag = "DeliverThisOrder"

	// Courier
	TagIAmAvailable       Tag = "IAmAvailable"
	TagNewOfferToDeliver  Tag = "NewOfferToDeliver"
	TagDeliveryAccepted   Tag = "DeliveryAccepted"
	TagDeliveryNotNeeded  Tag = "DeliveryNotNeeded"
	TagDelivered          Tag = "Delivered"

	// Payment authority
	TagRequestAuthorization Tag = "RequestAuthorization"
	TagAuthorizedOrder      Tag = "AuthorizedOrder"
	TagDeniedOrder          Tag = "DeniedOrder"
	TagRequestCharge        Tag = "RequestCharge"
	TagPaymentCompleted     Tag = "PaymentCompleted"
)

// --- ring control payloads ---

type LeaderIsMsg struct {
	Leader endpoint.Endpoint `json:"leader"`
}

type LeaderElectionMsg struct {
	Vector []endpoint.Endpoint `json:"vector"`
}

// --- replication payloads ---

type RequestNewUpdatesMsg struct {
	MinIndex uint64 `json:"min_index"`
}

type UpdatesMsg struct {
	Entries []store.LogEntry `json:"entries"`
}

type ApplyUpdatesMsg struct {
	Entries []store.LogEntry `json:"entries"`
}

type StorageSnapshotMsg struct {
	ReconstructionOps []store.Envelope `json:"reconstruction_ops"`
	Log               []store.LogEntry `json:"log"`
}

// --- user lifecycle payloads ---

// UserKind distinguishes the three external collaborator roles that
// register with the core (spec.md §3 entities).
type UserKind string

const (
	KindClient     UserKind = "client"
	KindRestaurant UserKind = "restaurant"
	KindCourier    UserKind = "courier"
)

type RegisterUserMsg struct {
	Kind     UserKind       `json:"kind"`
	UserID   string         `json:"user_id"`
	Position store.Position `json:"position"`
}

type RecoveredUserInfoMsg struct {
	Order *store.Order `json:"order,omitempty"`
}

type RetryLaterMsg struct {
	Leader endpoint.Endpoint `json:"leader"`
}

// --- client payloads ---

type RequestNearbyRestaurantsMsg struct {
	Position store.Position `json:"position"`
}

type NearbyRestaurantsMsg struct {
	Restaurants []store.Restaurant `json:"restaurants"`
}

type RequestThisOrderMsg struct {
	Dish         string         `json:"dish"`
	RestaurantID string         `json:"restaurant_id"`
	Position     store.Position `json:"position"`
}

type AuthorizationResultMsg struct {
	OrderID  uint64 `json:"order_id"`
	Approved bool   `json:"approved"`
}

type NotifyOrderUpdatedMsg struct {
	Order store.Order `json:"order"`
}

type OrderFinalizedMsg struct {
	Order store.Order `json:"order"`
}

// --- restaurant payloads ---

type NewOrderMsg struct {
	Order store.Order `json:"order"`
}

type UpdateOrderStatusMsg struct {
	OrderID uint64           `json:"order_id"`
	Status  store.OrderStatus `json:"status"`
}

type CancelOrderMsg struct {
	OrderID uint64 `json:"order_id"`
}

type RequestDeliveryMsg struct {
	OrderID uint64 `json:"order_id"`
}

type DeliveryAvailableMsg struct {
	Order store.Order `json:"order"`
}

type DeliverThisOrderMsg struct {
	Order store.Order `json:"order"`
}

// --- courier payloads ---

type IAmAvailableMsg struct {
	Position store.Position `json:"position"`
}

type NewOfferToDeliverMsg struct {
	OrderID uint64 `json:"order_id"`
}

type DeliveryAcceptedMsg struct {
	OrderID uint64 `json:"order_id"`
}

type DeliveryNotNeededMsg struct {
	OrderID uint64 `json:"order_id"`
}

type DeliveredMsg struct {
	OrderID uint64 `json:"order_id"`
}

// --- payment authority payloads ---

type RequestAuthorizationMsg struct {
	OrderID uint64 `json:"order_id"`
}

type AuthorizedOrderMsg struct {
	OrderID uint64 `json:"order_id"`
}

type DeniedOrderMsg struct {
	OrderID uint64 `json:"order_id"`
}

type RequestChargeMsg struct {
	OrderID uint64 `json:"order_id"`
}

type PaymentCompletedMsg struct {
	OrderID uint64 `json:"order_id"`
}
