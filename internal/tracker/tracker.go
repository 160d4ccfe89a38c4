package tracker

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/platformsre/patchrun/internal/helpers"
	"github.com/platformsre/patchrun/internal/types"
)

// Tracker owns the maintenance units of one pipeline stage. Units are
// registered before their goroutines start, mutated through Unit handles,
// and read back as snapshots by the polling aggregator. A tracker is
// discarded when its stage ends.
type Tracker struct {
	mu    sync.Mutex
	units []*Unit
}

// Unit is a handle to one tracked asynchronous operation. All mutation goes
// through the owning tracker's lock; state transitions that would move the
// unit backwards are ignored and logged.
type Unit struct {
	tracker  *Tracker
	id       string
	scope    types.UnitScope
	server   string
	database string
	state    types.UnitState
	phase    string
	percent  float64
	err      error
}

func New() *Tracker {
	return &Tracker{}
}

// Register adds a server-scoped unit in the Queued state.
func (t *Tracker) Register(server string) *Unit {
	return t.register(types.ScopeServer, server, "")
}

// RegisterDatabase adds a database-scoped unit in the Queued state.
func (t *Tracker) RegisterDatabase(server, database string) *Unit {
	return t.register(types.ScopeDatabase, server, database)
}

func (t *Tracker) register(scope types.UnitScope, server, database string) *Unit {
	t.mu.Lock()
	defer t.mu.Unlock()

	unit := &Unit{
		tracker:  t,
		id:       uuid.New().String(),
		scope:    scope,
		server:   server,
		database: database,
		state:    types.UnitQueued,
	}
	t.units = append(t.units, unit)
	return unit
}

func (u *Unit) transition(next types.UnitState, phase string, err error) {
	u.tracker.mu.Lock()
	defer u.tracker.mu.Unlock()

	if !u.state.AllowsTransitionTo(next) {
		log.Printf("Warning: ignoring backwards transition %s -> %s for %s", u.state, next, u.server)
		return
	}
	u.state = next
	if phase != "" {
		u.phase = phase
	}
	if err != nil {
		u.err = err
	}
}

func (u *Unit) Start(phase string) {
	u.transition(types.UnitRunning, phase, nil)
}

func (u *Unit) Complete(phase string) {
	u.tracker.mu.Lock()
	if u.state == types.UnitRunning || u.state == types.UnitQueued {
		u.percent = 100
	}
	u.tracker.mu.Unlock()
	u.transition(types.UnitCompleted, phase, nil)
}

func (u *Unit) Fail(err error) {
	u.transition(types.UnitFailed, "error", err)
}

// SetProgress updates phase and percent without changing state. Progress on
// a terminal unit is dropped.
func (u *Unit) SetProgress(phase string, percent float64) {
	u.tracker.mu.Lock()
	defer u.tracker.mu.Unlock()

	if u.state.Terminal() {
		return
	}
	u.phase = phase
	u.percent = percent
}

// Snapshot returns a copy of this unit's current state.
func (u *Unit) Snapshot() types.UnitSnapshot {
	u.tracker.mu.Lock()
	defer u.tracker.mu.Unlock()
	return u.snapshotLocked()
}

func (u *Unit) snapshotLocked() types.UnitSnapshot {
	snap := types.UnitSnapshot{
		ID:       u.id,
		Scope:    u.scope,
		Server:   u.server,
		Database: u.database,
		State:    u.state,
		Phase:    u.phase,
		Percent:  u.percent,
	}
	if u.err != nil {
		snap.Err = helpers.GetCleanErrorMessage(u.err)
	}
	return snap
}

// Snapshot copies every unit under one lock acquisition.
func (t *Tracker) Snapshot() []types.UnitSnapshot {
	t.mu.Lock()
	defer t.mu.Unlock()

	snaps := make([]types.UnitSnapshot, 0, len(t.units))
	for _, u := range t.units {
		snaps = append(snaps, u.snapshotLocked())
	}
	return snaps
}

// AllTerminal reports whether every registered unit has finished.
func (t *Tracker) AllTerminal() bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	for _, u := range t.units {
		if !u.state.Terminal() {
			return false
		}
	}
	return true
}

// FailedCount returns how many units ended Failed.
func (t *Tracker) FailedCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	failed := 0
	for _, u := range t.units {
		if u.state == types.UnitFailed {
			failed++
		}
	}
	return failed
}

// Wait polls until every unit is terminal, printing a status table each
// iteration. A zero bound polls forever; otherwise Wait gives up once the
// bound elapses and returns false. Cancelling the context stops the polling
// only, never the units themselves.
func (t *Tracker) Wait(ctx context.Context, interval, bound time.Duration) bool {
	deadline := time.Time{}
	if bound > 0 {
		deadline = time.Now().Add(bound)
	}

	for {
		PrintTable(t.Snapshot())

		if t.AllTerminal() {
			return true
		}
		if !deadline.IsZero() && time.Now().After(deadline) {
			log.Printf("Warning: gave up waiting for units after %v", bound)
			return false
		}

		select {
		case <-ctx.Done():
			return t.AllTerminal()
		case <-time.After(interval):
		}
	}
}
