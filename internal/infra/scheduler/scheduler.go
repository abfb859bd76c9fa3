package scheduler

import (
	"context"
	"time"

	"event_waitlist_bot/internal/app"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

// Job timeouts. A sweep touches many rows and may cascade promotions; the
// open-due check is a handful of cycle updates.
const (
	sweepTimeout   = 2 * time.Minute
	openDueTimeout = 30 * time.Second
)

// WaitlistScheduler runs the recurring waitlist jobs: the expiry sweep tick
// and the open-registration check for due cycles.
type WaitlistScheduler struct {
	cronEngine      *cron.Cron
	sweeper         *app.SweeperService
	cycles          *app.CycleService
	log             *logrus.Logger
	cronSpecSweep   string
	cronSpecOpenDue string
}

func NewWaitlistScheduler(
	sweeper *app.SweeperService,
	cycles *app.CycleService,
	log *logrus.Logger,
	cronSpecSweep string, // e.g. "* * * * *" (every minute)
	cronSpecOpenDue string, // e.g. "*/5 * * * *"
) *WaitlistScheduler {
	return &WaitlistScheduler{
		cronEngine:      cron.New(cron.WithLocation(time.Local)),
		sweeper:         sweeper,
		cycles:          cycles,
		log:             log,
		cronSpecSweep:   cronSpecSweep,
		cronSpecOpenDue: cronSpecOpenDue,
	}
}

func (s *WaitlistScheduler) Start() {
	s.log.Info("Starting waitlist scheduler...")

	_, err := s.cronEngine.AddFunc(s.cronSpecSweep, func() {
		ctx, cancel := context.WithTimeout(context.Background(), sweepTimeout)
		defer cancel()
		now := time.Now()
		expired, err := s.sweeper.Sweep(ctx, now)
		if err != nil {
			s.log.WithError(err).Error("Expiry sweep finished with errors")
		}
		if len(expired) > 0 {
			s.log.WithField("expired", len(expired)).Info("Expiry sweep processed overdue invitations")
		}
	})
	if err != nil {
		s.log.Fatalf("Could not add expiry sweep cron job: %v", err)
	}

	_, err = s.cronEngine.AddFunc(s.cronSpecOpenDue, func() {
		ctx, cancel := context.WithTimeout(context.Background(), openDueTimeout)
		defer cancel()
		opened, err := s.cycles.OpenDue(ctx, time.Now())
		if err != nil {
			s.log.WithError(err).Error("Open-due check failed")
			return
		}
		if opened > 0 {
			s.log.WithField("opened", opened).Info("Opened registration for due cycles")
		}
	})
	if err != nil {
		s.log.Fatalf("Could not add open-due cron job: %v", err)
	}

	s.cronEngine.Start()
	s.log.Info("Waitlist scheduler started with jobs.")
}

func (s *WaitlistScheduler) Stop() {
	s.log.Info("Stopping waitlist scheduler...")
	ctx := s.cronEngine.Stop() // waits for running jobs
	<-ctx.Done()
	s.log.Info("Waitlist scheduler gracefully stopped.")
}
