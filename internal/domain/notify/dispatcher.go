// Package notify defines the lifecycle events the waitlist core emits and the
// dispatcher interface a delivery collaborator (e.g. the Telegram adapter)
// implements. Delivery success or failure is invisible to the core and never
// blocks a state transition.
package notify

import (
	"context"

	"event_waitlist_bot/internal/domain/waitlist"
)

// Kind identifies a registrant lifecycle event.
type Kind string

const (
	KindInvited   Kind = "INVITED"
	KindConfirmed Kind = "CONFIRMED"
	KindDeclined  Kind = "DECLINED"
	KindExpired   Kind = "EXPIRED"
)

// Event carries a lifecycle change together with the cycle context the
// dispatcher needs to render it (venue, event time, response deadline).
type Event struct {
	Kind       Kind
	Registrant *waitlist.Registrant
	Cycle      *waitlist.Cycle
}

// Dispatcher delivers lifecycle events to an external collaborator.
type Dispatcher interface {
	Dispatch(ctx context.Context, ev Event) error
}
