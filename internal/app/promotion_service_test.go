package app

import (
	"context"
	"sync"
	"testing"
	"time"

	"event_waitlist_bot/internal/domain/notify"
	"event_waitlist_bot/internal/domain/waitlist"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPromoteOneInvitesLowestRankedWaiting(t *testing.T) {
	f := newFixture()
	base := time.Now()
	cycle := f.openCycle(t, base, 10)
	f.enroll(t, cycle.ID, 3)

	reg, err := f.promo.PromoteOne(context.Background(), cycle.ID)
	require.NoError(t, err)
	require.NotNil(t, reg)
	assert.Equal(t, 1, reg.Position)
	assert.Equal(t, waitlist.StatusInvited, reg.Status)
	assert.Equal(t, 1, f.dispatcher.count(notify.KindInvited))
}

func TestPromoteOneEmptyQueueIsSilentNoOp(t *testing.T) {
	f := newFixture()
	cycle := f.openCycle(t, time.Now(), 10)

	reg, err := f.promo.PromoteOne(context.Background(), cycle.ID)
	require.NoError(t, err)
	assert.Nil(t, reg)
	assert.Empty(t, f.dispatcher.events, "a no-op call produces no side effects")
}

func TestPromoteOneRespectsKillSwitch(t *testing.T) {
	f := newFixture()
	cycle := f.openCycle(t, time.Now(), 10)
	f.enroll(t, cycle.ID, 2)

	require.NoError(t, f.cycles.SetAutomation(context.Background(), cycle.ID, false))
	reg, err := f.promo.PromoteOne(context.Background(), cycle.ID)
	require.NoError(t, err)
	assert.Nil(t, reg)

	require.NoError(t, f.cycles.SetAutomation(context.Background(), cycle.ID, true))
	reg, err = f.promo.PromoteOne(context.Background(), cycle.ID)
	require.NoError(t, err)
	assert.NotNil(t, reg, "re-enabling the switch resumes promotion")
}

func TestPromoteOneInertPastCutoff(t *testing.T) {
	f := newFixture()
	base := time.Now()
	cycle := f.openCycle(t, base, 10)
	f.enroll(t, cycle.ID, 2)

	f.setNow(cycle.CutoffAt)
	reg, err := f.promo.PromoteOne(context.Background(), cycle.ID)
	require.NoError(t, err)
	assert.Nil(t, reg)
}

func TestPromoteOneDeadlineClampedAtCutoff(t *testing.T) {
	f := newFixture()
	base := time.Now()
	cycle := f.openCycle(t, base, 10)
	f.enroll(t, cycle.ID, 1)

	// Two hours before cutoff the response window shrinks to exactly the
	// cutoff instant.
	f.setNow(cycle.CutoffAt.Add(-2 * time.Hour))
	reg, err := f.promo.PromoteOne(context.Background(), cycle.ID)
	require.NoError(t, err)
	require.NotNil(t, reg)
	require.True(t, reg.ResponseDeadline.Valid)
	assert.True(t, reg.ResponseDeadline.Time.Equal(cycle.CutoffAt))
}

func TestConcurrentPromoteOnePromotesDistinctRegistrants(t *testing.T) {
	f := newFixture()
	base := time.Now()
	cycle := f.openCycle(t, base, 50)
	const waiting = 30
	f.enroll(t, cycle.ID, waiting)

	const callers = 50
	results := make(chan *waitlist.Registrant, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			reg, err := f.promo.PromoteOne(context.Background(), cycle.ID)
			assert.NoError(t, err)
			if reg != nil {
				results <- reg
			}
		}()
	}
	wg.Wait()
	close(results)

	promoted := make(map[int64]bool)
	maxPosition := 0
	for reg := range results {
		assert.False(t, promoted[reg.ID], "registrant %d promoted twice", reg.ID)
		promoted[reg.ID] = true
		if reg.Position > maxPosition {
			maxPosition = reg.Position
		}
	}
	assert.Len(t, promoted, waiting, "exactly min(waiting, callers) promotions")
	assert.Equal(t, waiting, maxPosition, "promotions follow ranking order with nobody skipped")
	assert.Equal(t, waiting, f.dispatcher.count(notify.KindInvited))
}

func TestPromoteOneSurfacesContentionWhenSlotHeld(t *testing.T) {
	f := newFixture()
	cycle := f.openCycle(t, time.Now(), 10)
	f.enroll(t, cycle.ID, 1)

	f.promo.lockWait = 50 * time.Millisecond
	release, err := f.promo.acquire(context.Background(), cycle.ID)
	require.NoError(t, err)

	start := time.Now()
	reg, err := f.promo.PromoteOne(context.Background(), cycle.ID)
	assert.Nil(t, reg)
	assert.ErrorIs(t, err, waitlist.ErrTransientContention)
	assert.Less(t, time.Since(start), time.Second, "the wait on the slot is bounded")

	// Once the slot frees up the same call succeeds.
	release()
	reg, err = f.promo.PromoteOne(context.Background(), cycle.ID)
	require.NoError(t, err)
	assert.NotNil(t, reg)
}

func TestPromoteOneHonorsContextWhileWaitingForSlot(t *testing.T) {
	f := newFixture()
	cycle := f.openCycle(t, time.Now(), 10)
	f.enroll(t, cycle.ID, 1)

	release, err := f.promo.acquire(context.Background(), cycle.ID)
	require.NoError(t, err)
	defer release()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = f.promo.PromoteOne(ctx, cycle.ID)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestPromoteBatchDrainsPriorityClassFirst(t *testing.T) {
	f := newFixture()
	base := time.Now()
	cycle := f.openCycle(t, base, 10)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, err := f.reg.Register(ctx, cycle.ID, int64(2000+i), waitlist.ClassNormal)
		require.NoError(t, err)
	}
	prio, err := f.reg.Register(ctx, cycle.ID, 3000, waitlist.ClassPriority) // position 6
	require.NoError(t, err)

	promoted, err := f.promo.PromoteBatch(ctx, cycle.ID, 3)
	require.NoError(t, err)
	require.Len(t, promoted, 3)
	assert.Equal(t, prio.ID, promoted[0].ID, "priority class drains before any normal registrant")
	assert.Equal(t, 1, promoted[1].Position)
	assert.Equal(t, 2, promoted[2].Position)
}

func TestPromoteBatchStopsAtEmptyQueue(t *testing.T) {
	f := newFixture()
	cycle := f.openCycle(t, time.Now(), 10)
	f.enroll(t, cycle.ID, 2)

	promoted, err := f.promo.PromoteBatch(context.Background(), cycle.ID, 5)
	require.NoError(t, err)
	assert.Len(t, promoted, 2)
}
