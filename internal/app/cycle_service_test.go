package app

import (
	"context"
	"testing"
	"time"

	"event_waitlist_bot/internal/domain/notify"
	"event_waitlist_bot/internal/domain/waitlist"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateCycleValidation(t *testing.T) {
	f := newFixture()
	base := time.Now()
	valid := CreateCycleParams{
		EventAt:       base.Add(96 * time.Hour),
		WindowOpensAt: base,
		CutoffAt:      base.Add(72 * time.Hour),
		Capacity:      20,
		Timezone:      "Europe/Berlin",
		Venue:         waitlist.Venue{Name: "Hall", Address: "Street 1", Capacity: 20},
	}

	cases := []struct {
		name   string
		mutate func(*CreateCycleParams)
	}{
		{"zero capacity", func(p *CreateCycleParams) { p.Capacity = 0 }},
		{"cutoff before window", func(p *CreateCycleParams) { p.CutoffAt = base.Add(-time.Hour) }},
		{"event before window", func(p *CreateCycleParams) { p.EventAt = base.Add(-time.Hour) }},
		{"bad timezone", func(p *CreateCycleParams) { p.Timezone = "Mars/Olympus" }},
		{"unnamed venue", func(p *CreateCycleParams) { p.Venue.Name = "" }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			p := valid
			tc.mutate(&p)
			_, err := f.cycles.CreateCycle(context.Background(), p)
			assert.Error(t, err)
		})
	}

	cycle, err := f.cycles.CreateCycle(context.Background(), valid)
	require.NoError(t, err)
	assert.Equal(t, waitlist.CycleDraft, cycle.Status)
	assert.True(t, cycle.AutomationEnabled)
}

func TestRolloutFillsCapacityPriorityFirst(t *testing.T) {
	f := newFixture()
	base := time.Now()
	cycle := f.openCycle(t, base, 100)
	ctx := context.Background()

	// 150 enrollments; three priority identities arrive late in the order.
	priorityAt := map[int]bool{120: true, 135: true, 140: true}
	for i := 1; i <= 150; i++ {
		class := waitlist.ClassNormal
		if priorityAt[i] {
			class = waitlist.ClassPriority
		}
		_, err := f.reg.Register(ctx, cycle.ID, int64(i), class)
		require.NoError(t, err)
	}

	promoted, err := f.cycles.Rollout(ctx, cycle.ID)
	require.NoError(t, err)
	require.Len(t, promoted, 100)
	assert.Equal(t, 100, f.dispatcher.count(notify.KindInvited))

	// The three priority registrants are invited despite their late positions.
	for _, chatID := range []int64{120, 135, 140} {
		reg, err := f.repo.RegistrantByChat(ctx, cycle.ID, chatID)
		require.NoError(t, err)
		assert.Equal(t, waitlist.StatusInvited, reg.Status, "priority chat %d", chatID)
	}
	// The remaining 97 seats go to the 97 earliest normal registrants.
	first, err := f.repo.RegistrantByChat(ctx, cycle.ID, 97)
	require.NoError(t, err)
	assert.Equal(t, waitlist.StatusInvited, first.Status)
	bumped, err := f.repo.RegistrantByChat(ctx, cycle.ID, 98)
	require.NoError(t, err)
	assert.Equal(t, waitlist.StatusWaiting, bumped.Status)

	stats, err := f.cycles.Stats(ctx, cycle.ID)
	require.NoError(t, err)
	assert.Equal(t, 100, stats.Invited)
	assert.Equal(t, 50, stats.Waiting)
}

func TestRolloutIsNotRepeatable(t *testing.T) {
	f := newFixture()
	cycle := f.openCycle(t, time.Now(), 5)
	ctx := context.Background()
	f.enroll(t, cycle.ID, 8)

	promoted, err := f.cycles.Rollout(ctx, cycle.ID)
	require.NoError(t, err)
	require.Len(t, promoted, 5)

	_, err = f.cycles.Rollout(ctx, cycle.ID)
	assert.ErrorIs(t, err, waitlist.ErrAlreadyRolledOut)
	assert.Equal(t, 5, f.dispatcher.count(notify.KindInvited), "no double invitations")
}

func TestRolloutSubtractsSeatsAlreadyHeld(t *testing.T) {
	f := newFixture()
	cycle := f.openCycle(t, time.Now(), 5)
	ctx := context.Background()
	f.enroll(t, cycle.ID, 8)

	// One seat is already held by an earlier single promotion.
	_, err := f.promo.PromoteOne(ctx, cycle.ID)
	require.NoError(t, err)

	promoted, err := f.cycles.Rollout(ctx, cycle.ID)
	require.NoError(t, err)
	assert.Len(t, promoted, 4)

	stats, err := f.cycles.Stats(ctx, cycle.ID)
	require.NoError(t, err)
	assert.Equal(t, 5, stats.Invited)
}

func TestRolloutRejectedPastCutoff(t *testing.T) {
	f := newFixture()
	base := time.Now()
	cycle := f.openCycle(t, base, 5)
	f.enroll(t, cycle.ID, 2)

	f.setNow(base.Add(73 * time.Hour))
	_, err := f.cycles.Rollout(context.Background(), cycle.ID)
	assert.ErrorIs(t, err, waitlist.ErrPastCutoff)
}

func TestManualOverrideOutsideCapacity(t *testing.T) {
	f := newFixture()
	cycle := f.openCycle(t, time.Now(), 2)
	ctx := context.Background()
	f.enroll(t, cycle.ID, 3)

	promoted, err := f.cycles.Rollout(ctx, cycle.ID)
	require.NoError(t, err)
	require.Len(t, promoted, 2)

	override, err := f.cycles.AddManualOverride(ctx, cycle.ID, 9000)
	require.NoError(t, err)
	assert.True(t, override.ManualOverride)
	assert.Equal(t, waitlist.StatusInvited, override.Status)
	assert.Equal(t, 3, f.dispatcher.count(notify.KindInvited))

	// The override rides above the 1..capacity accounting.
	held, err := f.repo.CountActiveInvites(ctx, cycle.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, held)

	// Declining an override frees the seat into the normal waterfall.
	_, err = f.reg.Respond(ctx, override.ID, false)
	require.NoError(t, err)
	next, err := f.repo.RegistrantByChat(ctx, cycle.ID, 1002)
	require.NoError(t, err)
	assert.Equal(t, waitlist.StatusInvited, next.Status)
}

func TestSetPriorityClassReranksWaitingRegistrant(t *testing.T) {
	f := newFixture()
	cycle := f.openCycle(t, time.Now(), 10)
	ctx := context.Background()
	f.enroll(t, cycle.ID, 5)

	late, err := f.repo.RegistrantByChat(ctx, cycle.ID, 1004)
	require.NoError(t, err)
	updated, err := f.cycles.SetPriorityClass(ctx, late.ID, waitlist.ClassPriority)
	require.NoError(t, err)
	assert.Equal(t, waitlist.ClassPriority, updated.PriorityClass)

	promoted, err := f.promo.PromoteOne(ctx, cycle.ID)
	require.NoError(t, err)
	require.NotNil(t, promoted)
	assert.Equal(t, late.ID, promoted.ID, "priority outranks every earlier position")

	// Already invited, no longer reclassifiable.
	_, err = f.cycles.SetPriorityClass(ctx, promoted.ID, waitlist.ClassNormal)
	assert.ErrorIs(t, err, waitlist.ErrInvalidTransition)

	_, err = f.cycles.SetPriorityClass(ctx, late.ID, waitlist.PriorityClass("VIP"))
	assert.Error(t, err)
}

func TestManualOverrideRejectedPastCutoff(t *testing.T) {
	f := newFixture()
	base := time.Now()
	cycle := f.openCycle(t, base, 2)

	f.setNow(base.Add(73 * time.Hour))
	_, err := f.cycles.AddManualOverride(context.Background(), cycle.ID, 9000)
	assert.ErrorIs(t, err, waitlist.ErrPastCutoff)
}

func TestOpenDueOpensOnlyRipeDrafts(t *testing.T) {
	f := newFixture()
	base := time.Now()
	ctx := context.Background()

	mkDraft := func(opens time.Time) *waitlist.Cycle {
		cycle, err := f.cycles.CreateCycle(ctx, CreateCycleParams{
			EventAt:       opens.Add(96 * time.Hour),
			WindowOpensAt: opens,
			CutoffAt:      opens.Add(72 * time.Hour),
			Capacity:      10,
			Venue:         waitlist.Venue{Name: "Hall", Address: "Street 1", Capacity: 10},
		})
		require.NoError(t, err)
		return cycle
	}
	ripe := mkDraft(base.Add(-time.Hour))
	early := mkDraft(base.Add(48 * time.Hour))

	opened, err := f.cycles.OpenDue(ctx, base)
	require.NoError(t, err)
	assert.Equal(t, 1, opened)

	got, err := f.repo.CycleByID(ctx, ripe.ID)
	require.NoError(t, err)
	assert.Equal(t, waitlist.CycleOpen, got.Status)
	got, err = f.repo.CycleByID(ctx, early.ID)
	require.NoError(t, err)
	assert.Equal(t, waitlist.CycleDraft, got.Status)
}

func TestCloseCycleIsTerminal(t *testing.T) {
	f := newFixture()
	cycle := f.openCycle(t, time.Now(), 5)
	ctx := context.Background()

	require.NoError(t, f.cycles.CloseCycle(ctx, cycle.ID))
	// Closing again is a no-op, cancelling a completed cycle is not.
	require.NoError(t, f.cycles.CloseCycle(ctx, cycle.ID))
	assert.ErrorIs(t, f.cycles.CancelCycle(ctx, cycle.ID), waitlist.ErrCycleCompleted)

	_, err := f.cycles.Rollout(ctx, cycle.ID)
	assert.ErrorIs(t, err, waitlist.ErrCycleCompleted)
}
