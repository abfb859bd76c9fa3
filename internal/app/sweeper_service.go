package app

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"event_waitlist_bot/internal/domain/notify"
	"event_waitlist_bot/internal/domain/waitlist"

	"github.com/sirupsen/logrus"
)

// SweeperService expires invitations whose response deadline has elapsed and
// backfills each vacancy with one promotion attempt. It is safe to invoke at
// any frequency: a registrant that already left invited status is skipped,
// and one cycle's failure never stops the sweep of the others.
type SweeperService struct {
	repo       waitlist.Repository
	promo      *PromotionService
	dispatcher notify.Dispatcher
	log        *logrus.Logger
}

func NewSweeperService(repo waitlist.Repository, promo *PromotionService, dispatcher notify.Dispatcher, log *logrus.Logger) *SweeperService {
	return &SweeperService{
		repo:       repo,
		promo:      promo,
		dispatcher: dispatcher,
		log:        log,
	}
}

// Sweep expires every due invitation across all active, non-past-cutoff
// cycles and returns the registrants it expired. Deadlines are facts, so
// expiry proceeds even with the kill switch off; the backfill promotion then
// finds the cycle unpromotable and no-ops until automation is re-enabled.
func (s *SweeperService) Sweep(ctx context.Context, now time.Time) ([]*waitlist.Registrant, error) {
	cycles, err := s.repo.ListActiveCycles(ctx)
	if err != nil {
		return nil, err
	}

	expired := make([]*waitlist.Registrant, 0)
	var errs []error
	for _, cycle := range cycles {
		if waitlist.PastCutoff(now, cycle) {
			continue
		}
		swept, err := s.sweepCycle(ctx, cycle, now)
		expired = append(expired, swept...)
		if err != nil {
			s.log.WithError(err).WithField("cycle_id", cycle.ID).Error("sweep failed for cycle")
			errs = append(errs, err)
		}
	}
	return expired, errors.Join(errs...)
}

func (s *SweeperService) sweepCycle(ctx context.Context, cycle *waitlist.Cycle, now time.Time) ([]*waitlist.Registrant, error) {
	due, err := s.repo.ListDueInvited(ctx, cycle.ID, now)
	if err != nil {
		return nil, err
	}

	expired := make([]*waitlist.Registrant, 0, len(due))
	for _, reg := range due {
		swapped, err := s.repo.TransitionStatus(ctx, reg.ID, waitlist.StatusInvited, waitlist.StatusExpired, sql.NullTime{})
		if err != nil {
			return expired, err
		}
		if !swapped {
			// Responded (or was expired elsewhere) between listing and now.
			continue
		}
		reg.Status = waitlist.StatusExpired
		deadline := reg.ResponseDeadline.Time
		reg.ResponseDeadline = sql.NullTime{}
		expired = append(expired, reg)

		s.log.WithFields(logrus.Fields{"registrant_id": reg.ID, "cycle_id": cycle.ID, "deadline": deadline}).
			Info("invitation expired")
		if s.dispatcher != nil {
			if err := s.dispatcher.Dispatch(ctx, notify.Event{Kind: notify.KindExpired, Registrant: reg, Cycle: cycle}); err != nil {
				s.log.WithError(err).WithField("registrant_id", reg.ID).Warn("notification dispatch failed")
			}
		}

		// Exactly one promotion attempt per freed seat. A transient lock
		// failure gets one retry here so the vacancy is not dropped.
		if _, err := s.promo.PromoteOne(ctx, cycle.ID); err != nil {
			if !errors.Is(err, waitlist.ErrTransientContention) {
				return expired, err
			}
			if _, err := s.promo.PromoteOne(ctx, cycle.ID); err != nil {
				return expired, err
			}
		}
	}
	return expired, nil
}
