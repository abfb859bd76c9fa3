package waitlist

import "fmt"

// Error taxonomy shared by the repositories and services. A failed transition
// always leaves the registrant in its prior status, safe to retry.
var (
	// ErrDuplicateRegistration: the identity already has a registrant for the
	// cycle. User-visible, non-retryable.
	ErrDuplicateRegistration = fmt.Errorf("identity already registered for this cycle")

	// ErrInvalidTransition: a state machine guard failed. User-visible as
	// "expired / already decided".
	ErrInvalidTransition = fmt.Errorf("invalid status transition")

	// ErrRegistrationClosed: outside the registration window.
	ErrRegistrationClosed = fmt.Errorf("registration window is closed")

	// ErrPastCutoff: the cycle's automated-promotion cutoff has passed.
	ErrPastCutoff = fmt.Errorf("cycle cutoff has passed")

	// ErrAlreadyRolledOut: the bulk rollout already happened for this cycle.
	ErrAlreadyRolledOut = fmt.Errorf("cycle already rolled out")

	// ErrTransientContention: the per-cycle serialization retry budget was
	// exhausted. Retryable by the caller; never a hard end-user failure.
	ErrTransientContention = fmt.Errorf("transient contention, retry")

	// ErrCycleCompleted: the cycle is completed or cancelled; its registrants
	// can no longer mutate.
	ErrCycleCompleted = fmt.Errorf("cycle is completed")

	ErrCycleNotFound      = fmt.Errorf("cycle not found")
	ErrRegistrantNotFound = fmt.Errorf("registrant not found")

	// ErrNoneWaiting: the cycle has no registrant in WAITING status. A no-op
	// signal for promotion, not a failure.
	ErrNoneWaiting = fmt.Errorf("no waiting registrant")
)
