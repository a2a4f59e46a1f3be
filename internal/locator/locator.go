// Package locator implements the Locator Services of spec.md §4.5: pure,
// stateless reads over the store answering "what's nearby" queries for
// clients and the order service.
package locator

import (
	"github.com/foodmesh/core/internal/config"
	"github.com/foodmesh/core/internal/store"
)

// Service has no state of its own; every call is a direct store read.
type Service struct {
	store  *store.Store
	radius float64
}

func New(st *store.Store, cfg config.Config) *Service {
	return &Service{store: st, radius: cfg.ProximityRadius}
}

// NearbyRestaurants returns restaurants within the configured proximity
// radius of pos, for a client's RequestNearbyRestaurants.
func (s *Service) NearbyRestaurants(pos store.Position) []store.Restaurant {
	return store.NearbyRestaurants(s.store, pos, s.radius)
}

// NearbyAvailableCouriers returns Available couriers within radius of
// pos. radius is explicit (rather than the configured default) so the
// order service can walk its expanding-radius offer ladder.
func (s *Service) NearbyAvailableCouriers(pos store.Position, radius float64) []store.Courier {
	return store.NearbyAvailableCouriers(s.store, pos, radius)
}
