package ring

import (
	"fmt"
	"time"

	"github.com/foodmesh/core/internal/endpoint"
	"github.com/foodmesh/core/internal/store"
	"github.com/foodmesh/core/internal/transport"
	"github.com/foodmesh/core/internal/wire"
)

// ringNeighbor walks the sorted ring starting immediately after (dir=+1)
// or before (dir=-1) self, dialing each candidate in turn until one
// accepts a connection. This is how a dead predecessor or successor is
// skipped over transparently: "the detector simply reconnects to the
// predecessor-of-the-predecessor" (spec.md §4.1).
func (m *Manager) ringNeighbor(dir int) (endpoint.Endpoint, *transport.Channel, error) {
	sorted := endpoint.Sorted(m.all)
	n := len(sorted)
	selfIdx := -1
	for i, e := range sorted {
		if e.Equal(m.self) {
			selfIdx = i
			break
		}
	}
	if selfIdx < 0 {
		return endpoint.Endpoint{}, nil, fmt.Errorf("ring: self %s not in configured ring", m.self)
	}
	for step := 1; step < n; step++ {
		idx := ((selfIdx+dir*step)%n + n) % n
		candidate := sorted[idx]
		ch, err := m.pool.get(candidate)
		if err != nil {
			continue
		}
		return candidate, ch, nil
	}
	return endpoint.Endpoint{}, nil, fmt.Errorf("ring: no other reachable replica")
}

func (m *Manager) effectiveSuccessor() (endpoint.Endpoint, *transport.Channel, error) {
	return m.ringNeighbor(1)
}

func (m *Manager) effectivePredecessor() (endpoint.Endpoint, *transport.Channel, error) {
	return m.ringNeighbor(-1)
}

// --- replication pull loop (spec.md §4.2) ---

func (m *Manager) replicationLoop() {
	ticker := time.NewTicker(m.cfg.ReplicationPullInterval)
	defer ticker.Stop()
	for {
		select {
		case <-m.stopCh:
			return
		case <-ticker.C:
			m.mu.Lock()
			fresh := m.fresh
			m.mu.Unlock()
			if fresh {
				// Cold-start snapshot install hasn't completed yet; a
				// pull before that would race the reconstruction order.
				continue
			}
			m.pullOnce()
		}
	}
}

func (m *Manager) pullOnce() {
	_, ch, err := m.effectivePredecessor()
	if err != nil {
		return
	}
	minIndex := m.store.MinIndex()
	f, _ := wire.Encode(wire.TagRequestNewUpdates, wire.RequestNewUpdatesMsg{MinIndex: minIndex})
	ch.Send(f)
	if m.metrics != nil {
		m.metrics.ReplicationPulls.Inc()
		m.metrics.LogLength.Set(float64(m.store.LogLen()))
	}
}

// handleRequestNewUpdates answers a predecessor pull from a successor
// (spec.md §4.2: "the predecessor replies with Updates(map)"). Every
// entry at or after minIndex in the local log is returned.
func (m *Manager) handleRequestNewUpdates(ch *transport.Channel, minIndex uint64) {
	entries := m.store.PullSince(minIndex)
	f, _ := wire.Encode(wire.TagUpdates, wire.UpdatesMsg{Entries: entries})
	ch.Send(f)
}

// handleUpdates reconciles a predecessor's reply into the local log. The
// leader additionally runs its log-GC rule; a follower applies the
// three-way reconciliation and forwards newly-applied mutations into its
// own state via Store.ReconcileAsFollower (spec.md §4.2).
func (m *Manager) handleUpdates(entries []store.LogEntry) {
	if m.IsLeader() {
		m.store.ReconcileAsLeader(entries)
		return
	}
	if err := m.store.ReconcileAsFollower(entries); err != nil {
		m.logger.Warnw("reconcile as follower failed", "error", err)
	}
}

// --- cold-start snapshot (spec.md §4.2) ---

func (m *Manager) handleRequestAllStorage(ch *transport.Channel) {
	ops, entries := m.store.Snapshot()
	f, _ := wire.Encode(wire.TagStorageSnapshot, wire.StorageSnapshotMsg{
		ReconstructionOps: encodeEnvelopes(ops),
		Log:               entries,
	})
	ch.Send(f)
}

func (m *Manager) handleStorageSnapshot(msg wire.StorageSnapshotMsg) {
	ops, err := decodeEnvelopes(msg.ReconstructionOps)
	if err != nil {
		m.logger.Errorw("cold start: bad snapshot", "error", err)
		return
	}
	m.store.InstallSnapshot(ops, msg.Log)
	m.mu.Lock()
	m.fresh = false
	m.mu.Unlock()
	m.logger.Infow("cold start: snapshot installed", "ops", len(ops), "log_entries", len(msg.Log))
}

func encodeEnvelopes(muts []store.Mutation) []store.Envelope {
	out := make([]store.Envelope, 0, len(muts))
	for _, mut := range muts {
		env, err := store.EncodeMutation(mut)
		if err != nil {
			continue
		}
		out = append(out, env)
	}
	return out
}

func decodeEnvelopes(envs []store.Envelope) ([]store.Mutation, error) {
	out := make([]store.Mutation, 0, len(envs))
	for _, env := range envs {
		mut, err := store.DecodeMutation(env)
		if err != nil {
			return nil, err
		}
		out = append(out, mut)
	}
	return out, nil
}
