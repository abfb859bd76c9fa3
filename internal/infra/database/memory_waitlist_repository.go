package database

import (
	"context"
	"database/sql"
	"sort"
	"sync"
	"time"

	"event_waitlist_bot/internal/domain/waitlist"
)

// MemoryWaitlistRepository implements waitlist.Repository on in-process maps
// guarded by a single mutex. The mutex is the store-level serialization point
// for single-process deployments: claim-next and position assignment happen
// entirely under it, giving the same atomicity the Postgres repository gets
// from FOR UPDATE SKIP LOCKED.
type MemoryWaitlistRepository struct {
	mu               sync.Mutex
	cycles           map[int64]*waitlist.Cycle
	registrants      map[int64]*waitlist.Registrant
	nextCycleID      int64
	nextRegistrantID int64
}

func NewMemoryWaitlistRepository() *MemoryWaitlistRepository {
	return &MemoryWaitlistRepository{
		cycles:      make(map[int64]*waitlist.Cycle),
		registrants: make(map[int64]*waitlist.Registrant),
	}
}

func copyCycle(c *waitlist.Cycle) *waitlist.Cycle {
	cp := *c
	return &cp
}

func copyRegistrant(r *waitlist.Registrant) *waitlist.Registrant {
	cp := *r
	return &cp
}

// --- Cycle methods ---

func (m *MemoryWaitlistRepository) CreateCycle(_ context.Context, c *waitlist.Cycle) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextCycleID++
	c.ID = m.nextCycleID
	c.CreatedAt = time.Now()
	m.cycles[c.ID] = copyCycle(c)
	return nil
}

func (m *MemoryWaitlistRepository) CycleByID(_ context.Context, id int64) (*waitlist.Cycle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.cycles[id]
	if !ok {
		return nil, waitlist.ErrCycleNotFound
	}
	return copyCycle(c), nil
}

func (m *MemoryWaitlistRepository) UpdateCycle(_ context.Context, c *waitlist.Cycle) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.cycles[c.ID]; !ok {
		return waitlist.ErrCycleNotFound
	}
	m.cycles[c.ID] = copyCycle(c)
	return nil
}

func (m *MemoryWaitlistRepository) MarkRolledOut(_ context.Context, id int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.cycles[id]
	if !ok {
		return false, waitlist.ErrCycleNotFound
	}
	if c.Status != waitlist.CycleOpen {
		return false, nil
	}
	c.Status = waitlist.CycleRolledOut
	return true, nil
}

func (m *MemoryWaitlistRepository) SetAutomation(_ context.Context, id int64, enabled bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.cycles[id]
	if !ok {
		return waitlist.ErrCycleNotFound
	}
	c.AutomationEnabled = enabled
	return nil
}

func (m *MemoryWaitlistRepository) ListCyclesByStatus(_ context.Context, status waitlist.CycleStatus) ([]*waitlist.Cycle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*waitlist.Cycle, 0)
	for _, c := range m.cycles {
		if c.Status == status {
			out = append(out, copyCycle(c))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EventAt.Before(out[j].EventAt) })
	return out, nil
}

func (m *MemoryWaitlistRepository) ListActiveCycles(_ context.Context) ([]*waitlist.Cycle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*waitlist.Cycle, 0)
	for _, c := range m.cycles {
		if c.Status.Active() {
			out = append(out, copyCycle(c))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EventAt.Before(out[j].EventAt) })
	return out, nil
}

// --- Registrant methods ---

// maxPositionLocked assumes m.mu is held.
func (m *MemoryWaitlistRepository) maxPositionLocked(cycleID int64) int {
	max := 0
	for _, r := range m.registrants {
		if r.CycleID == cycleID && r.Position > max {
			max = r.Position
		}
	}
	return max
}

func (m *MemoryWaitlistRepository) insertLocked(cycleID, chatID int64, status waitlist.Status, class waitlist.PriorityClass, override bool, invitedAt, deadline sql.NullTime) (*waitlist.Registrant, error) {
	if _, ok := m.cycles[cycleID]; !ok {
		return nil, waitlist.ErrCycleNotFound
	}
	for _, r := range m.registrants {
		if r.CycleID == cycleID && r.ChatID == chatID {
			return nil, waitlist.ErrDuplicateRegistration
		}
	}
	m.nextRegistrantID++
	now := time.Now()
	reg := &waitlist.Registrant{
		ID:               m.nextRegistrantID,
		CycleID:          cycleID,
		ChatID:           chatID,
		Position:         m.maxPositionLocked(cycleID) + 1,
		Status:           status,
		PriorityClass:    class,
		ManualOverride:   override,
		InvitedAt:        invitedAt,
		ResponseDeadline: deadline,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	m.registrants[reg.ID] = reg
	return copyRegistrant(reg), nil
}

func (m *MemoryWaitlistRepository) Enroll(_ context.Context, cycleID, chatID int64, class waitlist.PriorityClass) (*waitlist.Registrant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.insertLocked(cycleID, chatID, waitlist.StatusWaiting, class, false, sql.NullTime{}, sql.NullTime{})
}

func (m *MemoryWaitlistRepository) RegistrantByID(_ context.Context, id int64) (*waitlist.Registrant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.registrants[id]
	if !ok {
		return nil, waitlist.ErrRegistrantNotFound
	}
	return copyRegistrant(r), nil
}

func (m *MemoryWaitlistRepository) RegistrantByChat(_ context.Context, cycleID, chatID int64) (*waitlist.Registrant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.registrants {
		if r.CycleID == cycleID && r.ChatID == chatID {
			return copyRegistrant(r), nil
		}
	}
	return nil, waitlist.ErrRegistrantNotFound
}

func (m *MemoryWaitlistRepository) ClaimNextWaiting(_ context.Context, cycleID int64, invitedAt, deadline time.Time) (*waitlist.Registrant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var next *waitlist.Registrant
	for _, r := range m.registrants {
		if r.CycleID != cycleID || r.Status != waitlist.StatusWaiting {
			continue
		}
		if next == nil {
			next = r
			continue
		}
		if r.PriorityClass.Rank() < next.PriorityClass.Rank() ||
			(r.PriorityClass.Rank() == next.PriorityClass.Rank() && r.Position < next.Position) {
			next = r
		}
	}
	if next == nil {
		return nil, waitlist.ErrNoneWaiting
	}

	next.Status = waitlist.StatusInvited
	next.InvitedAt = sql.NullTime{Time: invitedAt, Valid: true}
	next.ResponseDeadline = sql.NullTime{Time: deadline, Valid: true}
	next.UpdatedAt = time.Now()
	return copyRegistrant(next), nil
}

func (m *MemoryWaitlistRepository) InsertOverride(_ context.Context, cycleID, chatID int64, invitedAt, deadline time.Time) (*waitlist.Registrant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.insertLocked(cycleID, chatID, waitlist.StatusInvited, waitlist.ClassPriority, true,
		sql.NullTime{Time: invitedAt, Valid: true}, sql.NullTime{Time: deadline, Valid: true})
}

func (m *MemoryWaitlistRepository) TransitionStatus(_ context.Context, id int64, from, to waitlist.Status, respondedAt sql.NullTime) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.registrants[id]
	if !ok {
		return false, waitlist.ErrRegistrantNotFound
	}
	if r.Status != from {
		return false, nil
	}
	r.Status = to
	if respondedAt.Valid {
		r.RespondedAt = respondedAt
	}
	if from == waitlist.StatusInvited && to != waitlist.StatusInvited {
		r.ResponseDeadline = sql.NullTime{}
	}
	r.UpdatedAt = time.Now()
	return true, nil
}

func (m *MemoryWaitlistRepository) SetPriorityClass(_ context.Context, id int64, class waitlist.PriorityClass) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.registrants[id]
	if !ok {
		return false, waitlist.ErrRegistrantNotFound
	}
	if r.Status != waitlist.StatusWaiting {
		return false, nil
	}
	r.PriorityClass = class
	r.UpdatedAt = time.Now()
	return true, nil
}

func (m *MemoryWaitlistRepository) ListDueInvited(_ context.Context, cycleID int64, now time.Time) ([]*waitlist.Registrant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*waitlist.Registrant, 0)
	for _, r := range m.registrants {
		if r.CycleID == cycleID && r.Status == waitlist.StatusInvited && r.DeadlineElapsed(now) {
			out = append(out, copyRegistrant(r))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].ResponseDeadline.Time.Before(out[j].ResponseDeadline.Time)
	})
	return out, nil
}

func (m *MemoryWaitlistRepository) CountActiveInvites(_ context.Context, cycleID int64) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, r := range m.registrants {
		if r.CycleID == cycleID && !r.ManualOverride &&
			(r.Status == waitlist.StatusInvited || r.Status == waitlist.StatusConfirmed) {
			n++
		}
	}
	return n, nil
}

func (m *MemoryWaitlistRepository) CountByStatus(_ context.Context, cycleID int64) (waitlist.Stats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	stats := waitlist.Stats{}
	for _, r := range m.registrants {
		if r.CycleID != cycleID {
			continue
		}
		switch r.Status {
		case waitlist.StatusWaiting:
			stats.Waiting++
		case waitlist.StatusInvited:
			stats.Invited++
		case waitlist.StatusConfirmed:
			stats.Confirmed++
		case waitlist.StatusDeclined:
			stats.Declined++
		case waitlist.StatusExpired:
			stats.Expired++
		case waitlist.StatusAttended:
			stats.Attended++
		}
	}
	return stats, nil
}
