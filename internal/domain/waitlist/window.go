package waitlist

import "time"

// responseWindow is how long an invited registrant has to respond before the
// invitation expires, subject to the cutoff clamp.
const responseWindow = 24 * time.Hour

// RegistrationOpen reports whether registration is open at the given instant:
// from the cycle's window-open timestamp until the end of that same calendar
// day in the cycle's configured time zone.
func RegistrationOpen(now time.Time, c *Cycle) bool {
	if c.WindowOpensAt.IsZero() || now.Before(c.WindowOpensAt) {
		return false
	}
	loc := c.Location()
	open := c.WindowOpensAt.In(loc)
	endOfDay := time.Date(open.Year(), open.Month(), open.Day(), 0, 0, 0, 0, loc).AddDate(0, 0, 1)
	return now.Before(endOfDay)
}

// ResponseDeadline computes the deadline for an invitation issued now:
// now + 24h, clamped to the cycle's cutoff. The clamp is a fairness rule:
// nobody is invited after cutoff and nobody's response window extends past
// it, so invitations issued near cutoff get a shorter window.
func ResponseDeadline(now time.Time, c *Cycle) time.Time {
	deadline := now.Add(responseWindow)
	if !c.CutoffAt.IsZero() && deadline.After(c.CutoffAt) {
		return c.CutoffAt
	}
	return deadline
}

// PastCutoff reports whether automated promotion and sweeping are inert for
// the cycle. Already-invited registrants whose deadlines fall before the
// cutoff still expire at their own deadline.
func PastCutoff(now time.Time, c *Cycle) bool {
	return !c.CutoffAt.IsZero() && !now.Before(c.CutoffAt)
}

// CheckInOpen reports whether event-day check-in is open: the calendar day of
// the event in the cycle's configured time zone.
func CheckInOpen(now time.Time, c *Cycle) bool {
	loc := c.Location()
	ev := c.EventAt.In(loc)
	start := time.Date(ev.Year(), ev.Month(), ev.Day(), 0, 0, 0, 0, loc)
	return !now.Before(start) && now.Before(start.AddDate(0, 0, 1))
}
