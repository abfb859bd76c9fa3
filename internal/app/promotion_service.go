package app

import (
	"context"
	"errors"
	"sync"
	"time"

	"event_waitlist_bot/internal/domain/notify"
	"event_waitlist_bot/internal/domain/waitlist"

	"github.com/sirupsen/logrus"
)

// defaultLockWait bounds how long a promotion blocks on the per-cycle
// serialization point before surfacing ErrTransientContention.
const defaultLockWait = 5 * time.Second

// PromotionService fills vacancies from the waiting queue. Concurrent
// triggers (a decline, a sweep tick, an admin rollout) may call it at the
// same instant on the same cycle; select-and-invite is serialized per cycle
// so that no two callers receive the same registrant and nobody is skipped.
type PromotionService struct {
	repo       waitlist.Repository
	dispatcher notify.Dispatcher
	log        *logrus.Logger

	// One single-slot semaphore per cycle. Cycles never contend with each
	// other. The repository's claim is atomic on its own; this lock keeps
	// batch promotion and single promotions on one cycle strictly ordered.
	locks    sync.Map // cycle ID → chan struct{}
	lockWait time.Duration

	now func() time.Time
}

func NewPromotionService(repo waitlist.Repository, dispatcher notify.Dispatcher, log *logrus.Logger) *PromotionService {
	return &PromotionService{
		repo:       repo,
		dispatcher: dispatcher,
		log:        log,
		lockWait:   defaultLockWait,
		now:        time.Now,
	}
}

// acquire takes the cycle's promotion slot, waiting at most lockWait.
func (s *PromotionService) acquire(ctx context.Context, cycleID int64) (release func(), err error) {
	v, _ := s.locks.LoadOrStore(cycleID, make(chan struct{}, 1))
	slot := v.(chan struct{})

	timer := time.NewTimer(s.lockWait)
	defer timer.Stop()
	select {
	case slot <- struct{}{}:
		return func() { <-slot }, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-timer.C:
		return nil, waitlist.ErrTransientContention
	}
}

// promotable checks the guards evaluated at the start of every promotion:
// cycle still active, kill switch enabled, cutoff not reached. An in-flight
// promotion completes even if the switch flips afterwards.
func promotable(c *waitlist.Cycle, now time.Time) bool {
	return c.Status.Active() && c.AutomationEnabled && !waitlist.PastCutoff(now, c)
}

// PromoteOne promotes exactly one waiting registrant of the cycle to invited
// and returns it. It returns (nil, nil) when nobody is waiting or when the
// cycle is not promotable; a no-op call has no side effects.
func (s *PromotionService) PromoteOne(ctx context.Context, cycleID int64) (*waitlist.Registrant, error) {
	cycle, err := s.repo.CycleByID(ctx, cycleID)
	if err != nil {
		return nil, err
	}
	now := s.now()
	if !promotable(cycle, now) {
		s.log.WithFields(logrus.Fields{"cycle_id": cycleID, "status": cycle.Status, "automation": cycle.AutomationEnabled}).
			Debug("promotion skipped: cycle not promotable")
		return nil, nil
	}

	release, err := s.acquire(ctx, cycleID)
	if err != nil {
		return nil, err
	}
	defer release()

	reg, err := s.repo.ClaimNextWaiting(ctx, cycleID, now, waitlist.ResponseDeadline(now, cycle))
	if errors.Is(err, waitlist.ErrNoneWaiting) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	s.log.WithFields(logrus.Fields{"cycle_id": cycleID, "registrant_id": reg.ID, "position": reg.Position,
		"class": reg.PriorityClass, "deadline": reg.ResponseDeadline.Time}).
		Info("registrant promoted to invited")
	s.dispatch(ctx, notify.KindInvited, reg, cycle)
	return reg, nil
}

// PromoteBatch promotes up to n registrants in ranking order, holding the
// cycle's promotion slot for the whole batch. Used for the initial rollout.
func (s *PromotionService) PromoteBatch(ctx context.Context, cycleID int64, n int) ([]*waitlist.Registrant, error) {
	if n <= 0 {
		return nil, nil
	}
	cycle, err := s.repo.CycleByID(ctx, cycleID)
	if err != nil {
		return nil, err
	}
	now := s.now()
	if !promotable(cycle, now) {
		return nil, nil
	}

	release, err := s.acquire(ctx, cycleID)
	if err != nil {
		return nil, err
	}
	defer release()

	deadline := waitlist.ResponseDeadline(now, cycle)
	promoted := make([]*waitlist.Registrant, 0, n)
	for i := 0; i < n; i++ {
		reg, err := s.repo.ClaimNextWaiting(ctx, cycleID, now, deadline)
		if errors.Is(err, waitlist.ErrNoneWaiting) {
			break
		}
		if err != nil {
			return promoted, err
		}
		promoted = append(promoted, reg)
		s.dispatch(ctx, notify.KindInvited, reg, cycle)
	}
	s.log.WithFields(logrus.Fields{"cycle_id": cycleID, "requested": n, "promoted": len(promoted)}).
		Info("batch promotion finished")
	return promoted, nil
}

// dispatch hands a lifecycle event to the notification collaborator. Delivery
// failure is logged and never propagated; the state transition already
// happened and must not be blocked.
func (s *PromotionService) dispatch(ctx context.Context, kind notify.Kind, reg *waitlist.Registrant, cycle *waitlist.Cycle) {
	if s.dispatcher == nil {
		return
	}
	if err := s.dispatcher.Dispatch(ctx, notify.Event{Kind: kind, Registrant: reg, Cycle: cycle}); err != nil {
		s.log.WithError(err).WithFields(logrus.Fields{"kind": kind, "registrant_id": reg.ID}).
			Warn("notification dispatch failed")
	}
}
