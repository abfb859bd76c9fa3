package app

import (
	"context"
	"fmt"
	"time"

	"event_waitlist_bot/internal/domain/notify"
	"event_waitlist_bot/internal/domain/waitlist"

	"github.com/sirupsen/logrus"
)

// CycleService orchestrates one weekly cycle: creation, opening the
// registration window, the bulk rollout, the kill switch and closing.
type CycleService struct {
	repo       waitlist.Repository
	promo      *PromotionService
	dispatcher notify.Dispatcher
	log        *logrus.Logger
	now        func() time.Time
}

func NewCycleService(repo waitlist.Repository, promo *PromotionService, dispatcher notify.Dispatcher, log *logrus.Logger) *CycleService {
	return &CycleService{
		repo:       repo,
		promo:      promo,
		dispatcher: dispatcher,
		log:        log,
		now:        time.Now,
	}
}

// CreateCycleParams is the validated admin payload for a new cycle.
type CreateCycleParams struct {
	EventAt       time.Time
	WindowOpensAt time.Time
	CutoffAt      time.Time
	Capacity      int
	Timezone      string
	Venue         waitlist.Venue
}

func (p CreateCycleParams) validate() error {
	if err := p.Venue.Validate(); err != nil {
		return err
	}
	if p.Capacity <= 0 {
		return fmt.Errorf("cycle capacity must be positive, got %d", p.Capacity)
	}
	if !p.CutoffAt.After(p.WindowOpensAt) {
		return fmt.Errorf("cutoff must be after the registration window opens")
	}
	if p.EventAt.Before(p.WindowOpensAt) {
		return fmt.Errorf("event time must not precede the registration window")
	}
	if p.Timezone != "" {
		if _, err := time.LoadLocation(p.Timezone); err != nil {
			return fmt.Errorf("invalid timezone %q: %w", p.Timezone, err)
		}
	}
	return nil
}

// CreateCycle records a new draft cycle with automation enabled.
func (s *CycleService) CreateCycle(ctx context.Context, p CreateCycleParams) (*waitlist.Cycle, error) {
	if err := p.validate(); err != nil {
		return nil, err
	}
	tz := p.Timezone
	if tz == "" {
		tz = "UTC"
	}
	cycle := &waitlist.Cycle{
		EventAt:           p.EventAt,
		WindowOpensAt:     p.WindowOpensAt,
		CutoffAt:          p.CutoffAt,
		Capacity:          p.Capacity,
		Status:            waitlist.CycleDraft,
		AutomationEnabled: true,
		Timezone:          tz,
		Venue:             p.Venue,
	}
	if err := s.repo.CreateCycle(ctx, cycle); err != nil {
		return nil, err
	}
	s.log.WithFields(logrus.Fields{"cycle_id": cycle.ID, "event_at": cycle.EventAt, "capacity": cycle.Capacity}).
		Info("cycle created")
	return cycle, nil
}

// OpenRegistration moves a draft cycle to open. Re-opening an already open
// cycle is a no-op.
func (s *CycleService) OpenRegistration(ctx context.Context, cycleID int64) (*waitlist.Cycle, error) {
	cycle, err := s.repo.CycleByID(ctx, cycleID)
	if err != nil {
		return nil, err
	}
	switch cycle.Status {
	case waitlist.CycleOpen:
		return cycle, nil
	case waitlist.CycleDraft:
	default:
		if !cycle.Status.Active() {
			return nil, waitlist.ErrCycleCompleted
		}
		return nil, fmt.Errorf("cannot open registration for cycle in status %s", cycle.Status)
	}

	cycle.Status = waitlist.CycleOpen
	if cycle.WindowOpensAt.IsZero() {
		cycle.WindowOpensAt = s.now()
	}
	if err := s.repo.UpdateCycle(ctx, cycle); err != nil {
		return nil, err
	}
	s.log.WithField("cycle_id", cycleID).Info("registration opened")
	return cycle, nil
}

// Rollout performs the initial bulk promotion: capacity minus seats already
// held by non-override invitations. The OPEN → ROLLED_OUT flip is a
// compare-and-set, so a second call (or a concurrent one) gets
// ErrAlreadyRolledOut instead of double-inviting.
func (s *CycleService) Rollout(ctx context.Context, cycleID int64) ([]*waitlist.Registrant, error) {
	cycle, err := s.repo.CycleByID(ctx, cycleID)
	if err != nil {
		return nil, err
	}
	if cycle.Status == waitlist.CycleRolledOut {
		return nil, waitlist.ErrAlreadyRolledOut
	}
	if !cycle.Status.Active() {
		return nil, waitlist.ErrCycleCompleted
	}
	if waitlist.PastCutoff(s.now(), cycle) {
		return nil, waitlist.ErrPastCutoff
	}

	won, err := s.repo.MarkRolledOut(ctx, cycleID)
	if err != nil {
		return nil, err
	}
	if !won {
		current, err := s.repo.CycleByID(ctx, cycleID)
		if err != nil {
			return nil, err
		}
		if current.Status == waitlist.CycleRolledOut {
			return nil, waitlist.ErrAlreadyRolledOut
		}
		return nil, fmt.Errorf("cycle %d is not open for rollout (status %s)", cycleID, current.Status)
	}

	held, err := s.repo.CountActiveInvites(ctx, cycleID)
	if err != nil {
		return nil, err
	}
	seats := cycle.Capacity - held
	if seats < 0 {
		seats = 0
	}
	promoted, err := s.promo.PromoteBatch(ctx, cycleID, seats)
	if err != nil {
		return promoted, err
	}
	s.log.WithFields(logrus.Fields{"cycle_id": cycleID, "capacity": cycle.Capacity, "held": held, "promoted": len(promoted)}).
		Info("cycle rolled out")
	return promoted, nil
}

// SetAutomation flips the cycle's kill switch. Disabling halts all future
// automated promotion immediately without touching deadlines already set;
// the switch is reversible.
func (s *CycleService) SetAutomation(ctx context.Context, cycleID int64, enabled bool) error {
	if err := s.repo.SetAutomation(ctx, cycleID, enabled); err != nil {
		return err
	}
	s.log.WithFields(logrus.Fields{"cycle_id": cycleID, "enabled": enabled}).Warn("automation switch changed")
	return nil
}

// CloseCycle marks the cycle completed; its registrants can no longer mutate.
func (s *CycleService) CloseCycle(ctx context.Context, cycleID int64) error {
	return s.finish(ctx, cycleID, waitlist.CycleCompleted)
}

// CancelCycle marks the cycle cancelled.
func (s *CycleService) CancelCycle(ctx context.Context, cycleID int64) error {
	return s.finish(ctx, cycleID, waitlist.CycleCancelled)
}

func (s *CycleService) finish(ctx context.Context, cycleID int64, terminal waitlist.CycleStatus) error {
	cycle, err := s.repo.CycleByID(ctx, cycleID)
	if err != nil {
		return err
	}
	if cycle.Status == terminal {
		return nil
	}
	if !cycle.Status.Active() {
		return waitlist.ErrCycleCompleted
	}
	cycle.Status = terminal
	if err := s.repo.UpdateCycle(ctx, cycle); err != nil {
		return err
	}
	s.log.WithFields(logrus.Fields{"cycle_id": cycleID, "status": terminal}).Info("cycle finished")
	return nil
}

// AddManualOverride inserts an admin-added registrant directly as invited,
// outside the 1..capacity accounting. Once created it behaves like any other
// invited registrant: declining or expiring frees a seat for the waterfall.
func (s *CycleService) AddManualOverride(ctx context.Context, cycleID, chatID int64) (*waitlist.Registrant, error) {
	cycle, err := s.repo.CycleByID(ctx, cycleID)
	if err != nil {
		return nil, err
	}
	if !cycle.Status.Active() {
		return nil, waitlist.ErrCycleCompleted
	}
	now := s.now()
	if waitlist.PastCutoff(now, cycle) {
		return nil, waitlist.ErrPastCutoff
	}

	reg, err := s.repo.InsertOverride(ctx, cycleID, chatID, now, waitlist.ResponseDeadline(now, cycle))
	if err != nil {
		return nil, err
	}
	s.log.WithFields(logrus.Fields{"cycle_id": cycleID, "chat_id": chatID, "registrant_id": reg.ID}).
		Info("manual override invited")
	if s.dispatcher != nil {
		if err := s.dispatcher.Dispatch(ctx, notify.Event{Kind: notify.KindInvited, Registrant: reg, Cycle: cycle}); err != nil {
			s.log.WithError(err).WithField("registrant_id", reg.ID).Warn("notification dispatch failed")
		}
	}
	return reg, nil
}

// SetPriorityClass marks a waiting registrant as priority (or back to
// normal), moving it ahead of every normal registrant for future promotions.
// Only waiting registrants change class; anyone already invited keeps the
// invitation they hold.
func (s *CycleService) SetPriorityClass(ctx context.Context, registrantID int64, class waitlist.PriorityClass) (*waitlist.Registrant, error) {
	if class != waitlist.ClassNormal && class != waitlist.ClassPriority {
		return nil, fmt.Errorf("unknown priority class %q", class)
	}
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

	swapped, err := s.repo.SetPriorityClass(ctx, registrantID, class)
	if err != nil {
		return nil, err
	}
	if !swapped {
		return nil, fmt.Errorf("%w: only waiting registrants change class", waitlist.ErrInvalidTransition)
	}
	s.log.WithFields(logrus.Fields{"registrant_id": registrantID, "cycle_id": cycle.ID, "class": class}).
		Info("priority class changed")
	return s.repo.RegistrantByID(ctx, registrantID)
}

// Stats returns per-status registrant counts for the cycle.
func (s *CycleService) Stats(ctx context.Context, cycleID int64) (waitlist.Stats, error) {
	if _, err := s.repo.CycleByID(ctx, cycleID); err != nil {
		return waitlist.Stats{}, err
	}
	return s.repo.CountByStatus(ctx, cycleID)
}

// OpenDue opens every draft cycle whose registration window time has
// arrived. The scheduler calls this on its weekly tick.
func (s *CycleService) OpenDue(ctx context.Context, now time.Time) (int, error) {
	drafts, err := s.repo.ListCyclesByStatus(ctx, waitlist.CycleDraft)
	if err != nil {
		return 0, err
	}
	opened := 0
	for _, cycle := range drafts {
		if cycle.WindowOpensAt.IsZero() || now.Before(cycle.WindowOpensAt) {
			continue
		}
		if _, err := s.OpenRegistration(ctx, cycle.ID); err != nil {
			s.log.WithError(err).WithField("cycle_id", cycle.ID).Error("failed to open due cycle")
			continue
		}
		opened++
	}
	return opened, nil
}
