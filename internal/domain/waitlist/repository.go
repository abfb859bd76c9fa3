package waitlist

import (
	"context"
	"database/sql"
	"time"
)

// Stats holds per-status registrant counts for one cycle.
type Stats struct {
	Waiting   int
	Invited   int
	Confirmed int
	Declined  int
	Expired   int
	Attended  int
}

// Repository defines persistence for cycles and registrants. Implementations
// must provide the store capabilities the promotion engine relies on:
// atomically claiming the next waiting registrant by ranking order without
// handing the same row to two concurrent callers, unique constraints on
// (cycle, identity) and (cycle, position), and compare-and-set status
// transitions.
type Repository interface {
	// Cycle methods
	CreateCycle(ctx context.Context, c *Cycle) error
	CycleByID(ctx context.Context, id int64) (*Cycle, error)
	UpdateCycle(ctx context.Context, c *Cycle) error
	// MarkRolledOut flips OPEN → ROLLED_OUT and reports whether this call won
	// the flip. A false result means the cycle was not in OPEN status.
	MarkRolledOut(ctx context.Context, id int64) (bool, error)
	SetAutomation(ctx context.Context, id int64, enabled bool) error
	ListCyclesByStatus(ctx context.Context, status CycleStatus) ([]*Cycle, error)
	// ListActiveCycles returns cycles that are neither completed nor cancelled.
	ListActiveCycles(ctx context.Context) ([]*Cycle, error)

	// Registrant methods
	// Enroll creates a WAITING registrant at position 1 + current max for the
	// cycle, atomically. Returns ErrDuplicateRegistration if the identity is
	// already enrolled in the cycle.
	Enroll(ctx context.Context, cycleID, chatID int64, class PriorityClass) (*Registrant, error)
	RegistrantByID(ctx context.Context, id int64) (*Registrant, error)
	RegistrantByChat(ctx context.Context, cycleID, chatID int64) (*Registrant, error)
	// ClaimNextWaiting selects the lowest (priorityClassRank, position)
	// WAITING registrant of the cycle and marks it INVITED with the given
	// timestamps, as one atomic unit. Two concurrent callers never receive
	// the same registrant. Returns ErrNoneWaiting when the queue is empty.
	ClaimNextWaiting(ctx context.Context, cycleID int64, invitedAt, deadline time.Time) (*Registrant, error)
	// InsertOverride creates an admin-added registrant directly in INVITED
	// status, outside the 1..capacity accounting.
	InsertOverride(ctx context.Context, cycleID, chatID int64, invitedAt, deadline time.Time) (*Registrant, error)
	// TransitionStatus moves the registrant from one status to another only
	// if it still holds the expected current status, and reports whether the
	// swap happened. The response deadline is cleared on leaving INVITED.
	TransitionStatus(ctx context.Context, id int64, from, to Status, respondedAt sql.NullTime) (bool, error)
	// SetPriorityClass updates a WAITING registrant's priority class, changing
	// its promotion ranking, and reports whether the update happened. A false
	// result means the registrant already left WAITING.
	SetPriorityClass(ctx context.Context, id int64, class PriorityClass) (bool, error)
	// ListDueInvited returns the cycle's INVITED registrants whose response
	// deadline is at or before now, oldest deadline first.
	ListDueInvited(ctx context.Context, cycleID int64, now time.Time) ([]*Registrant, error)
	// CountActiveInvites counts INVITED and CONFIRMED registrants excluding
	// manual overrides; rollout subtracts this from capacity.
	CountActiveInvites(ctx context.Context, cycleID int64) (int, error)
	CountByStatus(ctx context.Context, cycleID int64) (Stats, error)
}
