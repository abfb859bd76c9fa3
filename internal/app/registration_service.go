package app

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"event_waitlist_bot/internal/domain/notify"
	"event_waitlist_bot/internal/domain/waitlist"

	"github.com/sirupsen/logrus"
)

// RegistrationService implements the registrant-facing operations: enrolling
// into a cycle's queue, responding to an invitation and event-day check-in.
type RegistrationService struct {
	repo       waitlist.Repository
	promo      *PromotionService
	dispatcher notify.Dispatcher
	log        *logrus.Logger
	now        func() time.Time
}

func NewRegistrationService(repo waitlist.Repository, promo *PromotionService, dispatcher notify.Dispatcher, log *logrus.Logger) *RegistrationService {
	return &RegistrationService{
		repo:       repo,
		promo:      promo,
		dispatcher: dispatcher,
		log:        log,
		now:        time.Now,
	}
}

// Register enrolls an identity into the cycle's queue at the next position.
func (s *RegistrationService) Register(ctx context.Context, cycleID, chatID int64, class waitlist.PriorityClass) (*waitlist.Registrant, error) {
	cycle, err := s.repo.CycleByID(ctx, cycleID)
	if err != nil {
		return nil, err
	}
	if !cycle.Status.Active() {
		return nil, waitlist.ErrCycleCompleted
	}
	now := s.now()
	if cycle.Status == waitlist.CycleDraft || !waitlist.RegistrationOpen(now, cycle) {
		return nil, waitlist.ErrRegistrationClosed
	}
	if class == "" {
		class = waitlist.ClassNormal
	}

	reg, err := s.repo.Enroll(ctx, cycleID, chatID, class)
	if err != nil {
		return nil, err
	}
	s.log.WithFields(logrus.Fields{"cycle_id": cycleID, "chat_id": chatID, "position": reg.Position}).
		Info("registrant enrolled")
	return reg, nil
}

// Respond processes an invited registrant's accept or decline. Declining (or
// hero-cancelling a confirmed seat before cutoff) frees the seat and triggers
// exactly one promotion attempt for the vacancy. Responding after the
// deadline expires the invitation instead and reports ErrInvalidTransition.
func (s *RegistrationService) Respond(ctx context.Context, registrantID int64, accept bool) (*waitlist.Registrant, error) {
	reg, err := s.repo.RegistrantByID(ctx, registrantID)
	if err != nil {
		return nil, err
	}
	cycle, err := s.repo.CycleByID(ctx, reg.CycleID)
	if err != nil {
		return nil, err
	}
	if !cycle.Status.Active() {
		return nil, waitlist.ErrCycleCompleted
	}
	now := s.now()

	// A response that arrives after the deadline finds an invitation the
	// sweeper just hasn't reached yet; expire it here rather than letting a
	// late click confirm a seat.
	if reg.Status == waitlist.StatusInvited && reg.DeadlineElapsed(now) {
		s.expireLate(ctx, reg, cycle, now)
		return nil, fmt.Errorf("%w: response deadline elapsed", waitlist.ErrInvalidTransition)
	}

	trigger := waitlist.TriggerAccept
	if !accept {
		trigger = waitlist.TriggerDecline
	}
	next, err := waitlist.Next(reg.Status, trigger)
	if err != nil {
		return nil, err
	}
	if next == reg.Status {
		// Idempotent repeat (double tap, redelivered callback).
		return reg, nil
	}
	if !accept && waitlist.PastCutoff(now, cycle) {
		// Hero cancellation closes at cutoff; the seat can no longer be
		// refilled, so the confirmation stands.
		return nil, waitlist.ErrPastCutoff
	}

	swapped, err := s.repo.TransitionStatus(ctx, reg.ID, reg.Status, next, sql.NullTime{Time: now, Valid: true})
	if err != nil {
		return nil, err
	}
	if !swapped {
		// Lost a race with the sweeper or another response; report whatever
		// state won.
		current, err := s.repo.RegistrantByID(ctx, reg.ID)
		if err != nil {
			return nil, err
		}
		if current.Status == next {
			return current, nil
		}
		return nil, fmt.Errorf("%w: already %s", waitlist.ErrInvalidTransition, current.Status)
	}

	updated, err := s.repo.RegistrantByID(ctx, reg.ID)
	if err != nil {
		return nil, err
	}
	if accept {
		s.log.WithFields(logrus.Fields{"registrant_id": reg.ID, "cycle_id": cycle.ID}).Info("invitation confirmed")
		s.dispatch(ctx, notify.KindConfirmed, updated, cycle)
		return updated, nil
	}

	s.log.WithFields(logrus.Fields{"registrant_id": reg.ID, "cycle_id": cycle.ID, "was": reg.Status}).
		Info("seat declined")
	s.dispatch(ctx, notify.KindDeclined, updated, cycle)
	s.backfill(ctx, cycle.ID)
	return updated, nil
}

// CheckIn marks a confirmed registrant attended during the event-day window.
func (s *RegistrationService) CheckIn(ctx context.Context, registrantID int64) (*waitlist.Registrant, error) {
	reg, err := s.repo.RegistrantByID(ctx, registrantID)
	if err != nil {
		return nil, err
	}
	cycle, err := s.repo.CycleByID(ctx, reg.CycleID)
	if err != nil {
		return nil, err
	}
	if !cycle.Status.Active() {
		return nil, waitlist.ErrCycleCompleted
	}
	next, err := waitlist.Next(reg.Status, waitlist.TriggerCheckIn)
	if err != nil {
		return nil, err
	}
	if next == reg.Status {
		return reg, nil
	}
	if !waitlist.CheckInOpen(s.now(), cycle) {
		return nil, fmt.Errorf("%w: check-in window closed", waitlist.ErrInvalidTransition)
	}

	swapped, err := s.repo.TransitionStatus(ctx, reg.ID, waitlist.StatusConfirmed, waitlist.StatusAttended, sql.NullTime{})
	if err != nil {
		return nil, err
	}
	if !swapped {
		return nil, fmt.Errorf("%w: registrant no longer confirmed", waitlist.ErrInvalidTransition)
	}
	s.log.WithFields(logrus.Fields{"registrant_id": reg.ID, "cycle_id": cycle.ID}).Info("registrant checked in")
	return s.repo.RegistrantByID(ctx, reg.ID)
}

// expireLate drives a past-deadline invitation to expired and backfills the
// vacancy, mirroring what the next sweep tick would do.
func (s *RegistrationService) expireLate(ctx context.Context, reg *waitlist.Registrant, cycle *waitlist.Cycle, now time.Time) {
	swapped, err := s.repo.TransitionStatus(ctx, reg.ID, waitlist.StatusInvited, waitlist.StatusExpired, sql.NullTime{})
	if err != nil {
		s.log.WithError(err).WithField("registrant_id", reg.ID).Error("failed to expire overdue invitation")
		return
	}
	if !swapped {
		return // sweeper got there first
	}
	expired := *reg
	expired.Status = waitlist.StatusExpired
	expired.ResponseDeadline = sql.NullTime{}
	s.log.WithFields(logrus.Fields{"registrant_id": reg.ID, "cycle_id": cycle.ID, "deadline": reg.ResponseDeadline.Time}).
		Info("overdue invitation expired on late response")
	s.dispatch(ctx, notify.KindExpired, &expired, cycle)
	s.backfill(ctx, cycle.ID)
}

// backfill makes exactly one promotion attempt for a freed seat. A transient
// failure is retried once; an empty queue is a normal outcome.
func (s *RegistrationService) backfill(ctx context.Context, cycleID int64) {
	if _, err := s.promo.PromoteOne(ctx, cycleID); err != nil {
		s.log.WithError(err).WithField("cycle_id", cycleID).Warn("vacancy backfill failed, retrying once")
		if _, err := s.promo.PromoteOne(ctx, cycleID); err != nil {
			s.log.WithError(err).WithField("cycle_id", cycleID).Error("vacancy backfill failed")
		}
	}
}

func (s *RegistrationService) dispatch(ctx context.Context, kind notify.Kind, reg *waitlist.Registrant, cycle *waitlist.Cycle) {
	if s.dispatcher == nil {
		return
	}
	if err := s.dispatcher.Dispatch(ctx, notify.Event{Kind: kind, Registrant: reg, Cycle: cycle}); err != nil {
		s.log.WithError(err).WithFields(logrus.Fields{"kind": kind, "registrant_id": reg.ID}).
			Warn("notification dispatch failed")
	}
}
