package database

import (
	"context"
	"database/sql"
	"sync"
	"testing"
	"time"

	"event_waitlist_bot/internal/domain/waitlist"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCycle(t *testing.T, repo *MemoryWaitlistRepository) *waitlist.Cycle {
	t.Helper()
	now := time.Now()
	cycle := &waitlist.Cycle{
		EventAt:           now.Add(96 * time.Hour),
		WindowOpensAt:     now,
		CutoffAt:          now.Add(72 * time.Hour),
		Capacity:          10,
		Status:            waitlist.CycleOpen,
		AutomationEnabled: true,
		Timezone:          "UTC",
		Venue:             waitlist.Venue{Name: "Test Hall", Capacity: 10},
	}
	require.NoError(t, repo.CreateCycle(context.Background(), cycle))
	return cycle
}

func TestEnrollAssignsDensePositionsConcurrently(t *testing.T) {
	repo := NewMemoryWaitlistRepository()
	cycle := newTestCycle(t, repo)
	ctx := context.Background()

	const n = 100
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(chatID int64) {
			defer wg.Done()
			_, err := repo.Enroll(ctx, cycle.ID, chatID, waitlist.ClassNormal)
			assert.NoError(t, err)
		}(int64(1000 + i))
	}
	wg.Wait()

	seen := make(map[int]bool)
	for i := 0; i < n; i++ {
		reg, err := repo.RegistrantByChat(ctx, cycle.ID, int64(1000+i))
		require.NoError(t, err)
		assert.False(t, seen[reg.Position], "position %d assigned twice", reg.Position)
		assert.GreaterOrEqual(t, reg.Position, 1)
		assert.LessOrEqual(t, reg.Position, n, "positions must be dense, no gaps")
		seen[reg.Position] = true
	}
}

func TestEnrollRejectsDuplicateIdentity(t *testing.T) {
	repo := NewMemoryWaitlistRepository()
	cycle := newTestCycle(t, repo)
	ctx := context.Background()

	_, err := repo.Enroll(ctx, cycle.ID, 42, waitlist.ClassNormal)
	require.NoError(t, err)
	_, err = repo.Enroll(ctx, cycle.ID, 42, waitlist.ClassNormal)
	assert.ErrorIs(t, err, waitlist.ErrDuplicateRegistration)
}

func TestClaimNextWaitingPrefersPriorityClass(t *testing.T) {
	repo := NewMemoryWaitlistRepository()
	cycle := newTestCycle(t, repo)
	ctx := context.Background()

	_, err := repo.Enroll(ctx, cycle.ID, 1, waitlist.ClassNormal) // position 1
	require.NoError(t, err)
	_, err = repo.Enroll(ctx, cycle.ID, 2, waitlist.ClassNormal) // position 2
	require.NoError(t, err)
	prio, err := repo.Enroll(ctx, cycle.ID, 3, waitlist.ClassPriority) // position 3
	require.NoError(t, err)

	now := time.Now()
	first, err := repo.ClaimNextWaiting(ctx, cycle.ID, now, now.Add(24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, prio.ID, first.ID, "priority class wins regardless of position")
	assert.Equal(t, waitlist.StatusInvited, first.Status)
	assert.True(t, first.ResponseDeadline.Valid)

	second, err := repo.ClaimNextWaiting(ctx, cycle.ID, now, now.Add(24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, second.Position, "then the lowest normal position")
}

func TestClaimNextWaitingEmptyQueue(t *testing.T) {
	repo := NewMemoryWaitlistRepository()
	cycle := newTestCycle(t, repo)
	now := time.Now()

	_, err := repo.ClaimNextWaiting(context.Background(), cycle.ID, now, now.Add(24*time.Hour))
	assert.ErrorIs(t, err, waitlist.ErrNoneWaiting)
}

func TestClaimNextWaitingNeverHandsOutTheSameRegistrantTwice(t *testing.T) {
	repo := NewMemoryWaitlistRepository()
	cycle := newTestCycle(t, repo)
	ctx := context.Background()

	const waiting = 20
	for i := 0; i < waiting; i++ {
		_, err := repo.Enroll(ctx, cycle.ID, int64(100+i), waitlist.ClassNormal)
		require.NoError(t, err)
	}

	const callers = 30
	results := make(chan *waitlist.Registrant, callers)
	var wg sync.WaitGroup
	now := time.Now()
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			reg, err := repo.ClaimNextWaiting(ctx, cycle.ID, now, now.Add(24*time.Hour))
			if err == nil {
				results <- reg
			} else {
				assert.ErrorIs(t, err, waitlist.ErrNoneWaiting)
			}
		}()
	}
	wg.Wait()
	close(results)

	claimed := make(map[int64]bool)
	for reg := range results {
		assert.False(t, claimed[reg.ID], "registrant %d claimed twice", reg.ID)
		claimed[reg.ID] = true
	}
	assert.Len(t, claimed, waiting, "exactly min(waiting, callers) distinct claims")
}

func TestTransitionStatusIsCompareAndSet(t *testing.T) {
	repo := NewMemoryWaitlistRepository()
	cycle := newTestCycle(t, repo)
	ctx := context.Background()

	reg, err := repo.Enroll(ctx, cycle.ID, 7, waitlist.ClassNormal)
	require.NoError(t, err)
	now := time.Now()
	invited, err := repo.ClaimNextWaiting(ctx, cycle.ID, now, now.Add(time.Hour))
	require.NoError(t, err)
	require.Equal(t, reg.ID, invited.ID)

	swapped, err := repo.TransitionStatus(ctx, reg.ID, waitlist.StatusInvited, waitlist.StatusConfirmed, sql.NullTime{Time: now, Valid: true})
	require.NoError(t, err)
	assert.True(t, swapped)

	// The stale expectation loses.
	swapped, err = repo.TransitionStatus(ctx, reg.ID, waitlist.StatusInvited, waitlist.StatusExpired, sql.NullTime{})
	require.NoError(t, err)
	assert.False(t, swapped, "a transition from a stale status must not apply")

	current, err := repo.RegistrantByID(ctx, reg.ID)
	require.NoError(t, err)
	assert.Equal(t, waitlist.StatusConfirmed, current.Status)
	assert.False(t, current.ResponseDeadline.Valid, "deadline is cleared on leaving invited")
}

func TestInsertOverrideOutsideQueueAccounting(t *testing.T) {
	repo := NewMemoryWaitlistRepository()
	cycle := newTestCycle(t, repo)
	ctx := context.Background()

	_, err := repo.Enroll(ctx, cycle.ID, 1, waitlist.ClassNormal)
	require.NoError(t, err)

	now := time.Now()
	override, err := repo.InsertOverride(ctx, cycle.ID, 99, now, now.Add(24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, waitlist.StatusInvited, override.Status)
	assert.True(t, override.ManualOverride)

	n, err := repo.CountActiveInvites(ctx, cycle.ID)
	require.NoError(t, err)
	assert.Zero(t, n, "overrides do not count against capacity")
}
