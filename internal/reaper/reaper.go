// Package reaper implements spec.md §4.6: deferred garbage collection of
// peers that disconnect and do not reconnect within a grace window.
package reaper

import (
	"time"

	"github.com/foodmesh/core/internal/agent"
	"github.com/foodmesh/core/internal/config"
	"github.com/foodmesh/core/internal/logging"
	"github.com/foodmesh/core/internal/wire"
	"go.uber.org/zap"
)

// CheckReapFn is called when a user's grace timer fires; implemented by
// *orders.Service.CheckReap. Kept as a function type (rather than an
// interface) since it is the only method the reaper needs.
type CheckReapFn func(kind wire.UserKind, userID string, scheduledAt time.Time)

type pendingTimer struct {
	timer *time.Timer
}

// Reaper is its own single-threaded agent: Notify and timer firings both
// funnel through its mailbox so the per-user timer map needs no lock.
type Reaper struct {
	mailbox *agent.Mailbox
	logger  *zap.SugaredLogger
	grace   time.Duration
	check   CheckReapFn

	timers map[string]*pendingTimer
}

func New(logger *zap.SugaredLogger, cfg config.Config, check CheckReapFn) *Reaper {
	return &Reaper{
		mailbox: agent.New(64),
		logger:  logger.With(logging.Fields("reaper", "")...),
		grace:   cfg.ReapGrace,
		check:   check,
		timers:  make(map[string]*pendingTimer),
	}
}

func (r *Reaper) Run(stop <-chan struct{}) { r.mailbox.Run(stop) }

// Notify starts (or restarts) the grace timer for (kind, userID),
// invoked by the coordinator on ConnectionClosed (spec.md §4.3).
func (r *Reaper) Notify(kind wire.UserKind, userID string) {
	agent.Cast(r.mailbox, func() { r.notify(kind, userID) })
}

func (r *Reaper) notify(kind wire.UserKind, userID string) {
	key := registryKey(kind, userID)
	if existing, ok := r.timers[key]; ok {
		existing.timer.Stop()
	}
	scheduledAt := time.Now()
	t := time.AfterFunc(r.grace, func() {
		agent.Cast(r.mailbox, func() { r.fire(kind, userID, scheduledAt) })
	})
	r.timers[key] = &pendingTimer{timer: t}
	r.logger.Infow("reap timer armed", "kind", kind, "user_id", userID, "grace", r.grace)
}

func (r *Reaper) fire(kind wire.UserKind, userID string, scheduledAt time.Time) {
	key := registryKey(kind, userID)
	delete(r.timers, key)
	r.check(kind, userID, scheduledAt)
}

func registryKey(kind wire.UserKind, userID string) string {
	return string(kind) + ":" + userID
}
