package store

import (
	"errors"

	"github.com/foodmesh/core/internal/agent"
	"github.com/foodmesh/core/internal/logging"
	"go.uber.org/zap"
)

var ErrOrderNotFound = errors.New("store: order not found")

// Store is the single agent owning the authoritative state tables and the
// operation log (spec.md §3, §4.2). Every read and write is a message
// processed on Store's own goroutine; callers never touch State or Log
// directly.
type Store struct {
	mailbox   *agent.Mailbox
	logger    *zap.SugaredLogger
	state     *State
	log       *Log
	nextIndex uint64
}

// NewStore constructs an empty Store. Call Run in its own goroutine before
// using it.
func NewStore(logger *zap.SugaredLogger) *Store {
	return &Store{
		mailbox:   agent.New(256),
		logger:    logger.With(logging.Fields("store", "")...),
		state:     newState(),
		log:       newLog(),
		nextIndex: 1,
	}
}

// Run drains the Store's mailbox until stop is closed. Must run on its own
// goroutine: `go store.Run(stopCh)`.
func (s *Store) Run(stop <-chan struct{}) { s.mailbox.Run(stop) }

// View executes fn against the live state on the Store's goroutine and
// returns its result. fn must not retain state beyond the call.
func View[T any](s *Store, fn func(*State) T) T {
	return agent.Call(s.mailbox, func() T { return fn(s.state) })
}

// AppendAsLeader applies each mutation locally, in order, and assigns each
// one the next globally-unique log index (spec.md §4.2: "The leader is
// the sole assigner of new indices"). Must only be called by the replica
// currently holding leadership.
//
// An AddOrder mutation has its Order.OrderID set to the assigned index
// before being applied: the log index doubles as the monotone,
// leader-clock order id spec.md §4.4 calls for, so callers placing a new
// order read the id straight back out of the returned index.
func (s *Store) AppendAsLeader(muts ...Mutation) ([]uint64, error) {
	return agent.Call2(s.mailbox, func() ([]uint64, error) {
		indices := make([]uint64, 0, len(muts))
		for _, m := range muts {
			idx := s.nextIndex
			if add, ok := m.(AddOrder); ok {
				add.Order.OrderID = idx
				m = add
			}
			m.Apply(s.state)
			if err := s.log.append(idx, m); err != nil {
				return nil, err
			}
			s.nextIndex++
			indices = append(indices, idx)
		}
		return indices, nil
	})
}

// TryAssignCourier is the store-side arbitration point for courier offers
// (spec.md §4.4): the first caller to observe an unset CourierID on the
// order wins, and the winning assignment is logged like any other leader
// mutation. A second call for the same order is a no-op (spec.md §8
// round-trip law (b)).
type assignResult struct {
	won bool
	idx uint64
	err error
}

func (s *Store) TryAssignCourier(orderID uint64, courierID string) (won bool, logIndex uint64, err error) {
	r := agent.Call(s.mailbox, func() assignResult {
		o, ok := s.state.Orders[orderID]
		if !ok {
			return assignResult{false, 0, ErrOrderNotFound}
		}
		if o.CourierID != "" {
			return assignResult{false, 0, nil}
		}
		m := SetCourierForOrder{OrderID: orderID, CourierID: courierID}
		idx := s.nextIndex
		m.Apply(s.state)
		if err := s.log.append(idx, m); err != nil {
			return assignResult{false, 0, err}
		}
		s.nextIndex++
		return assignResult{true, idx, nil}
	})
	return r.won, r.idx, r.err
}

// PullSince answers a predecessor's RequestNewUpdates(minIndex) with every
// log entry at or above minIndex (spec.md §4.2).
func (s *Store) PullSince(minIndex uint64) []LogEntry {
	return agent.Call(s.mailbox, func() []LogEntry { return s.log.since(minIndex) })
}

// MinIndex is the smallest index this replica currently holds, sent as
// the argument of its own RequestNewUpdates.
func (s *Store) MinIndex() uint64 {
	return agent.Call(s.mailbox, func() uint64 { return s.log.min() })
}

// LogLen reports how many entries remain in the local log (observability
// only).
func (s *Store) LogLen() int {
	return agent.Call(s.mailbox, func() int { return s.log.len() })
}

// ReconcileAsLeader implements the leader side of spec.md §4.2's
// three-way reconciliation: an entry that appears both in the
// predecessor's reply and in the leader's own log has traveled the full
// ring and returned, so it is now fully replicated and can be garbage
// collected locally.
func (s *Store) ReconcileAsLeader(updates []LogEntry) {
	agent.Cast(s.mailbox, func() {
		for _, e := range updates {
			if _, ok := s.log.get(e.Index); ok {
				s.log.remove(e.Index)
			}
		}
	})
}

// ReconcileAsFollower implements the follower side of spec.md §4.2:
// entries the predecessor no longer has are removed locally too; entries
// present in both are left untouched; new entries are applied to state
// and recorded in the local log.
func (s *Store) ReconcileAsFollower(updates []LogEntry) error {
	return agent.Call(s.mailbox, func() error {
		received := make(map[uint64]Envelope, len(updates))
		for _, e := range updates {
			received[e.Index] = e.Mutation
		}
		for idx := range s.log.entries {
			if _, ok := received[idx]; !ok {
				s.log.remove(idx)
			}
		}
		for idx, env := range received {
			if _, ok := s.log.entries[idx]; ok {
				continue
			}
			m, err := DecodeMutation(env)
			if err != nil {
				return err
			}
			m.Apply(s.state)
			s.log.entries[idx] = env
			if idx >= s.nextIndex {
				s.nextIndex = idx + 1
			}
		}
		return nil
	})
}

// Snapshot returns a reconstruction mutation sequence plus the full log,
// answering a new replica's RequestAllStorage (spec.md §4.2 cold start).
func (s *Store) Snapshot() ([]Mutation, []LogEntry) {
	return agent.Call2(s.mailbox, func() ([]Mutation, []LogEntry) {
		return s.state.Reconstruction(), s.log.all()
	})
}

// InstallSnapshot replaces local state and log wholesale from a received
// StorageSnapshot and must complete before this replica participates in
// any replication pull (spec.md Design Notes).
func (s *Store) InstallSnapshot(ops []Mutation, entries []LogEntry) {
	agent.Sync(s.mailbox, func() {
		s.state = newState()
		for _, m := range ops {
			m.Apply(s.state)
		}
		s.log.installAll(entries)
		var max uint64
		for _, e := range entries {
			if e.Index > max {
				max = e.Index
			}
		}
		s.nextIndex = max + 1
	})
}
