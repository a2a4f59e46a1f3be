package store

// The helpers below are thin, commonly-needed View wrappers. They copy
// just enough of an entity to hand safely across an agent boundary.

func GetClient(s *Store, id string) (Client, bool) {
	return View(s, func(st *State) (Client, bool) {
		c, ok := st.Clients[id]
		if !ok {
			return Client{}, false
		}
		return *c, true
	})
}

func GetRestaurant(s *Store, id string) (Restaurant, bool) {
	return View(s, func(st *State) (Restaurant, bool) {
		r, ok := st.Restaurants[id]
		if !ok {
			return Restaurant{}, false
		}
		return *r, true
	})
}

func GetCourier(s *Store, id string) (Courier, bool) {
	return View(s, func(st *State) (Courier, bool) {
		c, ok := st.Couriers[id]
		if !ok {
			return Courier{}, false
		}
		return *c, true
	})
}

func GetOrder(s *Store, id uint64) (Order, bool) {
	return View(s, func(st *State) (Order, bool) {
		o, ok := st.Orders[id]
		if !ok {
			return Order{}, false
		}
		return *o, true
	})
}

// NearbyRestaurants returns every restaurant within radius of pos
// (spec.md §4.5).
func NearbyRestaurants(s *Store, pos Position, radius float64) []Restaurant {
	return View(s, func(st *State) []Restaurant {
		var out []Restaurant
		for _, r := range st.Restaurants {
			if r.Position.Distance(pos) <= radius {
				out = append(out, *r)
			}
		}
		return out
	})
}

// NearbyAvailableCouriers returns every Available courier within radius
// of pos (spec.md §4.5).
func NearbyAvailableCouriers(s *Store, pos Position, radius float64) []Courier {
	return View(s, func(st *State) []Courier {
		var out []Courier
		for _, c := range st.Couriers {
			if c.Status == CourierAvailable && c.Position.Distance(pos) <= radius {
				out = append(out, *c)
			}
		}
		return out
	})
}
