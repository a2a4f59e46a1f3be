// Package config loads the static cluster configuration every process
// boundary in spec.md §6 needs: the K possible replica endpoints, the
// payment-authority endpoint, T_leader, T_reap, the replication-pull
// interval, the authorization-success probability and the proximity
// radius.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/foodmesh/core/internal/endpoint"
	"gopkg.in/yaml.v3"
)

// Config is the whole-cluster static configuration shared by every
// process (replicas, the payment authority, and the external simulator
// collaborators).
type Config struct {
	// Replicas lists every possible replica endpoint that makes up the
	// ring (spec.md §4.1 "static set of possible endpoints").
	Replicas []endpoint.Endpoint `yaml:"replicas"`

	// Payment is the payment authority's endpoint (spec.md §6).
	Payment endpoint.Endpoint `yaml:"payment"`

	// LeaderTimeout is T_leader (spec.md §4.1): a follower that hears no
	// Pong reply within this long from the leader starts an election.
	LeaderTimeout time.Duration `yaml:"leader_timeout"`

	// ReapGrace is T_reap (spec.md §4.6): how long a disconnected peer's
	// entity survives before the reaper removes it.
	ReapGrace time.Duration `yaml:"reap_grace"`

	// PingInterval is how often a follower pings the leader; T_leader is
	// sized relative to it (spec.md §4.1, "≈ 3x ping interval").
	PingInterval time.Duration `yaml:"ping_interval"`

	// ReplicationPullInterval paces the predecessor pull (spec.md §4.2).
	ReplicationPullInterval time.Duration `yaml:"replication_pull_interval"`

	// DiscoveryTimeout bounds how long a starting replica waits for a
	// WhoIsLeader? reply before it starts a ring election (spec.md §4.1).
	// The replica declares itself leader directly only when no other
	// replica is reachable to forward the election vector to.
	DiscoveryTimeout time.Duration `yaml:"discovery_timeout"`

	// OfferTimeout bounds how long the order service waits for a courier
	// to accept an offer before retrying (spec.md §4.4).
	OfferTimeout time.Duration `yaml:"offer_timeout"`

	// AuthorizationSuccessProbability is p_auth (spec.md §4.4).
	AuthorizationSuccessProbability float64 `yaml:"authorization_success_probability"`

	// ProximityRadius is the distance threshold locator queries use
	// (spec.md §4.5).
	ProximityRadius float64 `yaml:"proximity_radius"`

	// OfferRadiusLadder is the expanding-radius retry ladder described in
	// SPEC_FULL.md §4; the first entry should equal ProximityRadius.
	OfferRadiusLadder []float64 `yaml:"offer_radius_ladder"`

	// MaxOfferRounds caps the ladder walk before the order is cancelled
	// with reason "no_courier_available" (spec.md §7). Zero leaves the
	// ladder length as the only cap.
	MaxOfferRounds int `yaml:"max_offer_rounds"`
}

// Default returns the configuration used by the end-to-end scenarios in
// spec.md §8: replicas at 8081/8082/8083, payment at 8080, p_auth = 1.0.
func Default() Config {
	return Config{
		Replicas: []endpoint.Endpoint{
			{Host: "127.0.0.1", Port: 8081},
			{Host: "127.0.0.1", Port: 8082},
			{Host: "127.0.0.1", Port: 8083},
		},
		Payment:                         endpoint.Endpoint{Host: "127.0.0.1", Port: 8080},
		LeaderTimeout:                   900 * time.Millisecond,
		ReapGrace:                       10 * time.Second,
		PingInterval:                    300 * time.Millisecond,
		ReplicationPullInterval:         250 * time.Millisecond,
		DiscoveryTimeout:                1500 * time.Millisecond,
		OfferTimeout:                    2 * time.Second,
		AuthorizationSuccessProbability: 1.0,
		ProximityRadius:                 5.0,
		OfferRadiusLadder:               []float64{5.0, 10.0, 20.0, 1e9},
		MaxOfferRounds:                  4,
	}
}

// Load reads a YAML configuration file over Default(), so any field the
// file does not set keeps its default and a partial file is still usable.
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return cfg, nil
}
