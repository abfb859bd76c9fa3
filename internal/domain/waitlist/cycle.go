package waitlist

import "time"

// CycleStatus is the lifecycle state of a weekly event cycle.
type CycleStatus string

const (
	CycleDraft     CycleStatus = "DRAFT"
	CycleOpen      CycleStatus = "OPEN"
	CycleRolledOut CycleStatus = "ROLLED_OUT"
	CycleCompleted CycleStatus = "COMPLETED"
	CycleCancelled CycleStatus = "CANCELLED"
)

// Active reports whether the cycle can still mutate its registrants.
func (s CycleStatus) Active() bool {
	return s != CycleCompleted && s != CycleCancelled
}

// Cycle is one instance of the recurring event, from registration through
// completion. Corresponds to the 'cycles' table.
type Cycle struct {
	ID                int64
	EventAt           time.Time // scheduled event time
	WindowOpensAt     time.Time // start of the registration window
	CutoffAt          time.Time // end of all automated promotion
	Capacity          int
	Status            CycleStatus
	AutomationEnabled bool   // kill switch: false halts automated promotion
	Timezone          string // IANA name, e.g. "Europe/Berlin"
	Venue             Venue
	CreatedAt         time.Time
}

// Location resolves the cycle's configured time zone, falling back to UTC
// when the name does not resolve.
func (c *Cycle) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}
