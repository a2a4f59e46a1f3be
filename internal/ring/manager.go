// Package ring implements the Ring Manager of spec.md §4.1/§4.2: leader
// election over a logical ring of replicas, heartbeat-based failure
// detection, and the pull-based replication of the operation log.
package ring

import (
	"math/rand"
	"sync"
	"time"

	"github.com/foodmesh/core/internal/config"
	"github.com/foodmesh/core/internal/endpoint"
	"github.com/foodmesh/core/internal/logging"
	"github.com/foodmesh/core/internal/metrics"
	"github.com/foodmesh/core/internal/store"
	"github.com/foodmesh/core/internal/transport"
	"github.com/foodmesh/core/internal/wire"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// LeadershipObserver is notified whenever this replica's view of the
// leader changes, so the order service can gate its leader-only business
// logic (spec.md §4.3 "Leader-only business logic").
type LeadershipObserver interface {
	OnLeadershipChange(isLeader bool, leader endpoint.Endpoint)
}

// Manager is the Ring Manager agent. One exists per replica.
type Manager struct {
	self   endpoint.Endpoint
	all    []endpoint.Endpoint
	cfg    config.Config
	store  *store.Store
	logger *zap.SugaredLogger

	observer LeadershipObserver
	metrics  *metrics.Registry

	mu           sync.Mutex
	leader       endpoint.Endpoint
	haveLeader   bool
	fresh        bool // true until the first successful snapshot install or self-declared bootstrap
	discoveryCh  chan endpoint.Endpoint
	electionVote string // id of the in-flight election round, for logging only
	pongSignal   chan struct{}

	pool *peerPool

	stopCh chan struct{}
}

// New constructs a Manager. Call Start to begin discovery and the
// background loops.
func New(self endpoint.Endpoint, all []endpoint.Endpoint, st *store.Store, cfg config.Config, logger *zap.SugaredLogger, observer LeadershipObserver, reg *metrics.Registry) *Manager {
	m := &Manager{
		self:     self,
		all:      all,
		cfg:      cfg,
		store:    st,
		logger:   logger.With(logging.Fields("ring", self.String())...),
		observer: observer,
		metrics:  reg,
		fresh:    true,
		stopCh:   make(chan struct{}),
	}
	m.pool = newPeerPool(m)
	return m
}

// SetObserver wires the leadership observer once it exists. cmd/replica
// constructs the Manager before the order service (which implements
// LeadershipObserver) and closes the cycle here, the same pattern
// coordinator.SetRouter uses.
func (m *Manager) SetObserver(observer LeadershipObserver) {
	m.mu.Lock()
	m.observer = observer
	m.mu.Unlock()
}

// Self returns this replica's own endpoint.
func (m *Manager) Self() endpoint.Endpoint { return m.self }

// IsLeader reports whether this replica currently believes itself to be
// the leader.
func (m *Manager) IsLeader() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.haveLeader && m.leader.Equal(m.self)
}

// Leader returns the currently known leader endpoint, or the zero value
// if none is known yet.
func (m *Manager) Leader() endpoint.Endpoint {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.leader
}

// Start launches discovery and the background heartbeat/replication
// loops. It returns once discovery completes: either a leader replied, or
// an election was started, in which case the leader may not be known yet.
func (m *Manager) Start() {
	go m.replicationLoop()
	go m.heartbeatLoop()
	m.discover()
}

// Stop tears down background loops and peer connections.
func (m *Manager) Stop() {
	close(m.stopCh)
	m.pool.closeAll()
}

func (m *Manager) setLeader(ep endpoint.Endpoint) {
	m.mu.Lock()
	changed := !m.haveLeader || !m.leader.Equal(ep)
	m.leader = ep
	m.haveLeader = true
	m.mu.Unlock()
	if changed {
		isLeader := ep.Equal(m.self)
		m.logger.Infow("leader changed", "new_leader", ep.String(), "is_leader", isLeader)
		if m.metrics != nil {
			if isLeader {
				m.metrics.IsLeader.Set(1)
			} else {
				m.metrics.IsLeader.Set(0)
			}
		}
		if m.observer != nil {
			m.observer.OnLeadershipChange(isLeader, ep)
		}
	}
}

// --- startup discovery (spec.md §4.1) ---

func (m *Manager) discover() {
	discoveryCh := make(chan endpoint.Endpoint, len(m.all))
	m.mu.Lock()
	m.discoveryCh = discoveryCh
	m.mu.Unlock()

	for _, ep := range m.all {
		if ep.Equal(m.self) {
			continue
		}
		go func(ep endpoint.Endpoint) {
			ch, err := m.pool.get(ep)
			if err != nil {
				return
			}
			f, _ := wire.Encode(wire.TagWhoIsLeader, nil)
			ch.Send(f)
		}(ep)
	}

	select {
	case leaderEp := <-discoveryCh:
		m.setLeader(leaderEp)
		m.coldStart(leaderEp)
	case <-time.After(m.cfg.DiscoveryTimeout):
		m.logger.Infow("no WhoIsLeader reply within discovery window, initiating election")
		m.fresh = false
		m.startElection()
	}

	m.mu.Lock()
	m.discoveryCh = nil
	m.mu.Unlock()
}

// coldStart requests a full snapshot from the predecessor so a brand-new
// replica can participate correctly (spec.md §4.2 cold-start snapshot).
func (m *Manager) coldStart(leaderEp endpoint.Endpoint) {
	pred, ch, err := m.effectivePredecessor()
	if err != nil {
		m.logger.Warnw("cold start: no reachable predecessor, starting empty", "error", err)
		m.fresh = false
		return
	}
	f, _ := wire.Encode(wire.TagRequestAllStorage, nil)
	ch.Send(f)
	m.logger.Infow("cold start: requested snapshot", "predecessor", pred.String())
	// InstallSnapshot completes asynchronously in handleStorageSnapshot;
	// Design Notes requires this replica not participate in pulls before
	// it does, which m.fresh (cleared there) enforces.
}

// --- frame dispatch ---

// HandleFrame routes one inbound frame from ch by tag. Replies, when
// needed, are written back on the same connection the request arrived
// on (spec.md §4.1's request/reply pairs never need a fresh dial).
func (m *Manager) HandleFrame(ch *transport.Channel, f wire.Frame) {
	switch f.Tag {
	case wire.TagWhoIsLeader:
		m.handleWhoIsLeader(ch)
	case wire.TagLeaderIs:
		var msg wire.LeaderIsMsg
		if wire.Decode(f, &msg) == nil {
			m.setLeader(msg.Leader)
		}
	case wire.TagLeaderElection:
		var msg wire.LeaderElectionMsg
		if wire.Decode(f, &msg) == nil {
			m.handleLeaderElection(msg.Vector)
		}
	case wire.TagPing:
		resp, _ := wire.Encode(wire.TagPong, nil)
		ch.Send(resp)
	case wire.TagPong:
		m.handlePong()
	case wire.TagRequestNewUpdates:
		var msg wire.RequestNewUpdatesMsg
		if wire.Decode(f, &msg) == nil {
			m.handleRequestNewUpdates(ch, msg.MinIndex)
		}
	case wire.TagUpdates:
		var msg wire.UpdatesMsg
		if wire.Decode(f, &msg) == nil {
			m.handleUpdates(msg.Entries)
		}
	case wire.TagRequestAllStorage:
		m.handleRequestAllStorage(ch)
	case wire.TagStorageSnapshot:
		var msg wire.StorageSnapshotMsg
		if wire.Decode(f, &msg) == nil {
			m.handleStorageSnapshot(msg)
		}
	}
}

func (m *Manager) handleWhoIsLeader(ch *transport.Channel) {
	m.mu.Lock()
	leader, ok := m.leader, m.haveLeader
	m.mu.Unlock()
	if !ok {
		return
	}
	resp, _ := wire.Encode(wire.TagLeaderIs, wire.LeaderIsMsg{Leader: leader})
	ch.Send(resp)
}

// --- election (spec.md §4.1 "Ring election algorithm") ---

func (m *Manager) startElection() {
	roundID := uuid.NewString()
	m.mu.Lock()
	m.electionVote = roundID
	m.mu.Unlock()
	m.logger.Infow("starting election", "round", roundID)
	if m.metrics != nil {
		m.metrics.Elections.Inc()
	}
	// Seed the vector with self and send it straight to the successor: the
	// initiator must not run it through handleLeaderElection's termination
	// check, or Contains(vector, self) is immediately true and it declares
	// itself leader without the vector ever going around the ring.
	m.forwardElectionVector([]endpoint.Endpoint{m.self})
}

func (m *Manager) handleLeaderElection(vector []endpoint.Endpoint) {
	if endpoint.Contains(vector, m.self) {
		winner := endpoint.Min(vector)
		m.logger.Infow("election completed", "winner", winner.String())
		m.broadcastLeaderIs(winner)
		return
	}
	m.forwardElectionVector(append(append([]endpoint.Endpoint{}, vector...), m.self))
}

func (m *Manager) forwardElectionVector(vector []endpoint.Endpoint) {
	_, ch, err := m.effectiveSuccessor()
	if err != nil {
		// We are the only reachable replica: the vector can only ever
		// contain ourselves, so we are trivially the minimum.
		m.broadcastLeaderIs(m.self)
		return
	}
	f, _ := wire.Encode(wire.TagLeaderElection, wire.LeaderElectionMsg{Vector: vector})
	ch.Send(f)
}

func (m *Manager) broadcastLeaderIs(winner endpoint.Endpoint) {
	m.setLeader(winner)
	for _, ep := range m.all {
		if ep.Equal(m.self) {
			continue
		}
		go func(ep endpoint.Endpoint) {
			ch, err := m.pool.get(ep)
			if err != nil {
				return
			}
			f, _ := wire.Encode(wire.TagLeaderIs, wire.LeaderIsMsg{Leader: winner})
			ch.Send(f)
		}(ep)
	}
}

// --- heartbeat & failure detection (spec.md §4.1) ---

func (m *Manager) heartbeatLoop() {
	pongCh := make(chan struct{}, 1)
	m.mu.Lock()
	m.pongSignal = pongCh
	m.mu.Unlock()

	timer := time.NewTimer(m.cfg.LeaderTimeout)
	defer timer.Stop()
	ticker := time.NewTicker(m.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.stopCh:
			return
		case <-ticker.C:
			if m.IsLeader() {
				continue
			}
			leader := m.Leader()
			if leader.IsZero() {
				continue
			}
			ch, err := m.pool.get(leader)
			if err != nil {
				continue
			}
			f, _ := wire.Encode(wire.TagPing, nil)
			ch.Send(f)
		case <-pongCh:
			if !timer.Stop() {
				<-timer.C
			}
			timer.Reset(m.cfg.LeaderTimeout)
		case <-timer.C:
			if m.IsLeader() {
				timer.Reset(m.cfg.LeaderTimeout)
				continue
			}
			m.logger.Warnw("leader heartbeat timed out, starting election")
			m.startElection()
			timer.Reset(m.cfg.LeaderTimeout + time.Duration(rand.Int63n(int64(m.cfg.LeaderTimeout))))
		}
	}
}

func (m *Manager) handlePong() {
	m.mu.Lock()
	ch := m.pongSignal
	m.mu.Unlock()
	if ch == nil {
		return
	}
	select {
	case ch <- struct{}{}:
	default:
	}
}
