package waitlist

import "fmt"

// Trigger is an event that may move a registrant between statuses.
type Trigger string

const (
	TriggerPromote Trigger = "PROMOTE"  // vacancy filled from the queue
	TriggerAccept  Trigger = "ACCEPT"   // registrant accepts the invitation
	TriggerDecline Trigger = "DECLINE"  // registrant declines or hero-cancels
	TriggerExpire  Trigger = "EXPIRE"   // response deadline elapsed
	TriggerCheckIn Trigger = "CHECK_IN" // event-day check-in
)

// Next returns the status that applying trigger to current yields.
//
//	WAITING → INVITED → {CONFIRMED, DECLINED, EXPIRED}
//	CONFIRMED → {ATTENDED, DECLINED}
//
// Repeating the trigger that already produced the current status is an
// idempotent no-op: the current status comes back unchanged with no error,
// so retried requests (double taps, redelivered callbacks) never fail.
// Any other combination returns ErrInvalidTransition and changes nothing.
//
// Time-based guards (response deadline, cutoff, event-day window) are the
// window policy's concern and are evaluated by the calling service; the
// table itself is a pure function.
func Next(current Status, trigger Trigger) (Status, error) {
	switch trigger {
	case TriggerPromote:
		switch current {
		case StatusWaiting:
			return StatusInvited, nil
		case StatusInvited:
			return StatusInvited, nil
		}
	case TriggerAccept:
		switch current {
		case StatusInvited:
			return StatusConfirmed, nil
		case StatusConfirmed:
			return StatusConfirmed, nil
		}
	case TriggerDecline:
		// CONFIRMED → DECLINED is the hero cancellation: a voluntary release
		// of a confirmed seat, treated like any decline for vacancy purposes.
		switch current {
		case StatusInvited, StatusConfirmed:
			return StatusDeclined, nil
		case StatusDeclined:
			return StatusDeclined, nil
		}
	case TriggerExpire:
		switch current {
		case StatusInvited:
			return StatusExpired, nil
		case StatusExpired:
			return StatusExpired, nil
		}
	case TriggerCheckIn:
		switch current {
		case StatusConfirmed:
			return StatusAttended, nil
		case StatusAttended:
			return StatusAttended, nil
		}
	}
	return current, fmt.Errorf("%w: %s on %s", ErrInvalidTransition, trigger, current)
}
