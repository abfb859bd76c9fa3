package waitlist

import (
	"database/sql"
	"time"
)

// Status is the lifecycle state of one registrant within one cycle.
type Status string

const (
	StatusWaiting   Status = "WAITING"
	StatusInvited   Status = "INVITED"
	StatusConfirmed Status = "CONFIRMED"
	StatusDeclined  Status = "DECLINED"
	StatusExpired   Status = "EXPIRED"
	StatusAttended  Status = "ATTENDED"
)

// Terminal reports whether the status can never re-enter the waiting queue.
// Confirmed counts as terminal for queueing purposes even though it may still
// move to attended or, before cutoff, to declined.
func (s Status) Terminal() bool {
	switch s {
	case StatusConfirmed, StatusAttended, StatusDeclined, StatusExpired:
		return true
	}
	return false
}

// PriorityClass biases promotion order. Priority registrants drain before
// normal ones regardless of queue position.
type PriorityClass string

const (
	ClassNormal   PriorityClass = "NORMAL"
	ClassPriority PriorityClass = "PRIORITY"
)

// Rank returns the sort rank of the class within the promotion ranking key
// (priority before normal).
func (p PriorityClass) Rank() int {
	if p == ClassPriority {
		return 0
	}
	return 1
}

// Registrant is one person's participation in one cycle. Corresponds to the
// 'registrants' table. Queue positions are dense, unique per cycle and never
// reused; rows in terminal states persist for audit.
type Registrant struct {
	ID               int64
	CycleID          int64
	ChatID           int64 // opaque identity reference, owned externally
	Position         int
	Status           Status
	PriorityClass    PriorityClass
	ManualOverride   bool // admin-added outside the 1..capacity ranking
	InvitedAt        sql.NullTime
	ResponseDeadline sql.NullTime // set only while status = INVITED
	RespondedAt      sql.NullTime
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// DeadlineElapsed reports whether the registrant's response deadline has
// passed at the given instant. A registrant without a deadline never expires.
func (r *Registrant) DeadlineElapsed(now time.Time) bool {
	return r.ResponseDeadline.Valid && !now.Before(r.ResponseDeadline.Time)
}
