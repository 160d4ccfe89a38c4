package types

// UnitState is the lifecycle of one maintenance unit. Transitions are
// forward-only: Queued -> Running -> Completed or Failed.
type UnitState string

const (
	UnitQueued    UnitState = "queued"
	UnitRunning   UnitState = "running"
	UnitCompleted UnitState = "completed"
	UnitFailed    UnitState = "failed"
)

// Terminal reports whether a unit in this state will never change again.
func (s UnitState) Terminal() bool {
	return s == UnitCompleted || s == UnitFailed
}

// rank orders states so that a transition can be rejected when it would
// move a unit backwards.
func (s UnitState) rank() int {
	switch s {
	case UnitQueued:
		return 0
	case UnitRunning:
		return 1
	case UnitCompleted, UnitFailed:
		return 2
	}
	return -1
}

// AllowsTransitionTo reports whether moving from s to next keeps the unit
// state machine forward-only.
func (s UnitState) AllowsTransitionTo(next UnitState) bool {
	return next.rank() > s.rank()
}

type UnitScope string

const (
	ScopeServer   UnitScope = "server"
	ScopeDatabase UnitScope = "database"
)

// UnitSnapshot is a point-in-time copy of one maintenance unit, safe to
// read without holding the tracker's lock.
type UnitSnapshot struct {
	ID       string
	Scope    UnitScope
	Server   string
	Database string
	State    UnitState
	Phase    string
	Percent  float64
	Err      string
}

// Identity renders the unit's subject for status tables.
func (u UnitSnapshot) Identity() string {
	if u.Scope == ScopeDatabase {
		return u.Server + "/" + u.Database
	}
	return u.Server
}
