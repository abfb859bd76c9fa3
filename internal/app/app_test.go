package app

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"event_waitlist_bot/internal/domain/notify"
	"event_waitlist_bot/internal/domain/waitlist"
	"event_waitlist_bot/internal/infra/database"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
)

// recordingDispatcher captures lifecycle events for assertions.
type recordingDispatcher struct {
	mu     sync.Mutex
	events []notify.Event
}

func (d *recordingDispatcher) Dispatch(_ context.Context, ev notify.Event) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.events = append(d.events, ev)
	return nil
}

func (d *recordingDispatcher) count(kind notify.Kind) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := 0
	for _, ev := range d.events {
		if ev.Kind == kind {
			n++
		}
	}
	return n
}

func quietLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

type fixture struct {
	repo       *database.MemoryWaitlistRepository
	dispatcher *recordingDispatcher
	promo      *PromotionService
	reg        *RegistrationService
	sweeper    *SweeperService
	cycles     *CycleService
}

func newFixture() *fixture {
	repo := database.NewMemoryWaitlistRepository()
	dispatcher := &recordingDispatcher{}
	log := quietLogger()
	promo := NewPromotionService(repo, dispatcher, log)
	return &fixture{
		repo:       repo,
		dispatcher: dispatcher,
		promo:      promo,
		reg:        NewRegistrationService(repo, promo, dispatcher, log),
		sweeper:    NewSweeperService(repo, promo, dispatcher, log),
		cycles:     NewCycleService(repo, promo, dispatcher, log),
	}
}

// setNow pins every service clock to the given instant.
func (f *fixture) setNow(now time.Time) {
	f.promo.now = func() time.Time { return now }
	f.reg.now = func() time.Time { return now }
	f.cycles.now = func() time.Time { return now }
}

// openCycle creates and opens a cycle whose registration window starts at
// base, with cutoff base+72h and the event at base+96h.
func (f *fixture) openCycle(t *testing.T, base time.Time, capacity int) *waitlist.Cycle {
	t.Helper()
	f.setNow(base)
	cycle, err := f.cycles.CreateCycle(context.Background(), CreateCycleParams{
		EventAt:       base.Add(96 * time.Hour),
		WindowOpensAt: base,
		CutoffAt:      base.Add(72 * time.Hour),
		Capacity:      capacity,
		Timezone:      "UTC",
		Venue:         waitlist.Venue{Name: "Test Hall", Address: "Somewhere 1", Capacity: capacity},
	})
	require.NoError(t, err)
	opened, err := f.cycles.OpenRegistration(context.Background(), cycle.ID)
	require.NoError(t, err)
	return opened
}

// enroll registers n normal-class identities starting at chat ID 1000.
func (f *fixture) enroll(t *testing.T, cycleID int64, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		_, err := f.reg.Register(context.Background(), cycleID, int64(1000+i), waitlist.ClassNormal)
		require.NoError(t, err)
	}
}
