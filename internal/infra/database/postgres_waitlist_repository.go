package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"event_waitlist_bot/internal/domain/waitlist"

	"github.com/lib/pq"
)

const (
	uniqueViolation = "23505"

	cycleChatConstraint     = "registrants_cycle_chat_key"
	cyclePositionConstraint = "registrants_cycle_position_key"

	// Position assignment can collide under concurrent enrollment; the
	// unique constraint catches it and the insert is retried.
	enrollRetries = 5
)

const cycleColumns = `id, event_at, window_opens_at, cutoff_at, capacity, status, automation_enabled,
	timezone, venue_name, venue_address, venue_lat, venue_lng, venue_capacity, created_at`

const registrantColumns = `id, cycle_id, chat_id, position, status, priority_class, manual_override,
	invited_at, response_deadline, responded_at, created_at, updated_at`

// rankingOrder is the promotion ranking key: priority class before normal,
// then queue position ascending.
const rankingOrder = `CASE priority_class WHEN 'PRIORITY' THEN 0 ELSE 1 END, position`

// PostgresWaitlistRepository implements waitlist.Repository on PostgreSQL
// through database/sql and the lib/pq driver.
type PostgresWaitlistRepository struct {
	db *sql.DB
}

func NewPostgresWaitlistRepository(db *sql.DB) *PostgresWaitlistRepository {
	return &PostgresWaitlistRepository{db: db}
}

func isUniqueViolation(err error, constraint string) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == uniqueViolation && pqErr.Constraint == constraint
	}
	return false
}

// --- Cycle methods ---

func (r *PostgresWaitlistRepository) CreateCycle(ctx context.Context, c *waitlist.Cycle) error {
	query := `INSERT INTO cycles (event_at, window_opens_at, cutoff_at, capacity, status, automation_enabled,
                timezone, venue_name, venue_address, venue_lat, venue_lng, venue_capacity)
               VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
               RETURNING id, created_at`
	err := r.db.QueryRowContext(ctx, query,
		c.EventAt, c.WindowOpensAt, c.CutoffAt, c.Capacity, c.Status, c.AutomationEnabled,
		c.Timezone, c.Venue.Name, c.Venue.Address, c.Venue.Latitude, c.Venue.Longitude, c.Venue.Capacity,
	).Scan(&c.ID, &c.CreatedAt)
	if err != nil {
		return fmt.Errorf("error creating cycle: %w", err)
	}
	return nil
}

func scanCycle(row interface{ Scan(...any) error }) (*waitlist.Cycle, error) {
	c := waitlist.Cycle{}
	err := row.Scan(&c.ID, &c.EventAt, &c.WindowOpensAt, &c.CutoffAt, &c.Capacity, &c.Status,
		&c.AutomationEnabled, &c.Timezone, &c.Venue.Name, &c.Venue.Address,
		&c.Venue.Latitude, &c.Venue.Longitude, &c.Venue.Capacity, &c.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (r *PostgresWaitlistRepository) CycleByID(ctx context.Context, id int64) (*waitlist.Cycle, error) {
	query := `SELECT ` + cycleColumns + ` FROM cycles WHERE id = $1`
	c, err := scanCycle(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, waitlist.ErrCycleNotFound
		}
		return nil, fmt.Errorf("error getting cycle by ID: %w", err)
	}
	return c, nil
}

func (r *PostgresWaitlistRepository) UpdateCycle(ctx context.Context, c *waitlist.Cycle) error {
	query := `UPDATE cycles
               SET event_at = $1, window_opens_at = $2, cutoff_at = $3, capacity = $4, status = $5,
                   automation_enabled = $6, timezone = $7
               WHERE id = $8`
	res, err := r.db.ExecContext(ctx, query,
		c.EventAt, c.WindowOpensAt, c.CutoffAt, c.Capacity, c.Status, c.AutomationEnabled, c.Timezone, c.ID)
	if err != nil {
		return fmt.Errorf("error updating cycle: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return waitlist.ErrCycleNotFound
	}
	return nil
}

func (r *PostgresWaitlistRepository) MarkRolledOut(ctx context.Context, id int64) (bool, error) {
	query := `UPDATE cycles SET status = $1 WHERE id = $2 AND status = $3`
	res, err := r.db.ExecContext(ctx, query, waitlist.CycleRolledOut, id, waitlist.CycleOpen)
	if err != nil {
		return false, fmt.Errorf("error marking cycle rolled out: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("error reading rollout result: %w", err)
	}
	return n > 0, nil
}

func (r *PostgresWaitlistRepository) SetAutomation(ctx context.Context, id int64, enabled bool) error {
	res, err := r.db.ExecContext(ctx, `UPDATE cycles SET automation_enabled = $1 WHERE id = $2`, enabled, id)
	if err != nil {
		return fmt.Errorf("error setting automation flag: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return waitlist.ErrCycleNotFound
	}
	return nil
}

func (r *PostgresWaitlistRepository) ListCyclesByStatus(ctx context.Context, status waitlist.CycleStatus) ([]*waitlist.Cycle, error) {
	query := `SELECT ` + cycleColumns + ` FROM cycles WHERE status = $1 ORDER BY event_at`
	rows, err := r.db.QueryContext(ctx, query, status)
	if err != nil {
		return nil, fmt.Errorf("error listing cycles by status: %w", err)
	}
	defer rows.Close()
	return collectCycles(rows)
}

func (r *PostgresWaitlistRepository) ListActiveCycles(ctx context.Context) ([]*waitlist.Cycle, error) {
	query := `SELECT ` + cycleColumns + ` FROM cycles WHERE status NOT IN ($1, $2) ORDER BY event_at`
	rows, err := r.db.QueryContext(ctx, query, waitlist.CycleCompleted, waitlist.CycleCancelled)
	if err != nil {
		return nil, fmt.Errorf("error listing active cycles: %w", err)
	}
	defer rows.Close()
	return collectCycles(rows)
}

func collectCycles(rows *sql.Rows) ([]*waitlist.Cycle, error) {
	cycles := make([]*waitlist.Cycle, 0)
	for rows.Next() {
		c, err := scanCycle(rows)
		if err != nil {
			return nil, fmt.Errorf("error scanning cycle row: %w", err)
		}
		cycles = append(cycles, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating cycle rows: %w", err)
	}
	return cycles, nil
}

// --- Registrant methods ---

func scanRegistrant(row interface{ Scan(...any) error }) (*waitlist.Registrant, error) {
	reg := waitlist.Registrant{}
	err := row.Scan(&reg.ID, &reg.CycleID, &reg.ChatID, &reg.Position, &reg.Status, &reg.PriorityClass,
		&reg.ManualOverride, &reg.InvitedAt, &reg.ResponseDeadline, &reg.RespondedAt,
		&reg.CreatedAt, &reg.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &reg, nil
}

func (r *PostgresWaitlistRepository) Enroll(ctx context.Context, cycleID, chatID int64, class waitlist.PriorityClass) (*waitlist.Registrant, error) {
	query := `INSERT INTO registrants (cycle_id, chat_id, position, status, priority_class, manual_override)
               SELECT $1, $2, COALESCE(MAX(position), 0) + 1, $3, $4, FALSE
               FROM registrants WHERE cycle_id = $1
               RETURNING ` + registrantColumns

	var lastErr error
	for attempt := 0; attempt < enrollRetries; attempt++ {
		reg, err := scanRegistrant(r.db.QueryRowContext(ctx, query, cycleID, chatID, waitlist.StatusWaiting, class))
		if err == nil {
			return reg, nil
		}
		if isUniqueViolation(err, cycleChatConstraint) {
			return nil, waitlist.ErrDuplicateRegistration
		}
		if isUniqueViolation(err, cyclePositionConstraint) {
			lastErr = err
			continue // another enrollment won the position, recompute
		}
		return nil, fmt.Errorf("error enrolling registrant: %w", err)
	}
	return nil, fmt.Errorf("%w: enroll position contention: %v", waitlist.ErrTransientContention, lastErr)
}

func (r *PostgresWaitlistRepository) RegistrantByID(ctx context.Context, id int64) (*waitlist.Registrant, error) {
	query := `SELECT ` + registrantColumns + ` FROM registrants WHERE id = $1`
	reg, err := scanRegistrant(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, waitlist.ErrRegistrantNotFound
		}
		return nil, fmt.Errorf("error getting registrant by ID: %w", err)
	}
	return reg, nil
}

func (r *PostgresWaitlistRepository) RegistrantByChat(ctx context.Context, cycleID, chatID int64) (*waitlist.Registrant, error) {
	query := `SELECT ` + registrantColumns + ` FROM registrants WHERE cycle_id = $1 AND chat_id = $2`
	reg, err := scanRegistrant(r.db.QueryRowContext(ctx, query, cycleID, chatID))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, waitlist.ErrRegistrantNotFound
		}
		return nil, fmt.Errorf("error getting registrant by chat: %w", err)
	}
	return reg, nil
}

// ClaimNextWaiting selects the next waiting registrant by ranking key and
// marks it invited, in one transaction. FOR UPDATE SKIP LOCKED lets
// concurrent claimers each take a distinct row instead of blocking on rows
// already claimed by an in-flight transaction.
func (r *PostgresWaitlistRepository) ClaimNextWaiting(ctx context.Context, cycleID int64, invitedAt, deadline time.Time) (*waitlist.Registrant, error) {
	txn, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin claim transaction: %w", err)
	}
	defer txn.Rollback()

	selectQuery := `SELECT ` + registrantColumns + `
               FROM registrants
               WHERE cycle_id = $1 AND status = $2
               ORDER BY ` + rankingOrder + `
               LIMIT 1
               FOR UPDATE SKIP LOCKED`
	reg, err := scanRegistrant(txn.QueryRowContext(ctx, selectQuery, cycleID, waitlist.StatusWaiting))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, waitlist.ErrNoneWaiting
		}
		return nil, fmt.Errorf("error selecting next waiting registrant: %w", err)
	}

	updateQuery := `UPDATE registrants
               SET status = $1, invited_at = $2, response_deadline = $3, updated_at = NOW()
               WHERE id = $4
               RETURNING updated_at`
	if err := txn.QueryRowContext(ctx, updateQuery, waitlist.StatusInvited, invitedAt, deadline, reg.ID).Scan(&reg.UpdatedAt); err != nil {
		return nil, fmt.Errorf("error marking registrant invited: %w", err)
	}
	if err := txn.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit claim: %w", err)
	}

	reg.Status = waitlist.StatusInvited
	reg.InvitedAt = sql.NullTime{Time: invitedAt, Valid: true}
	reg.ResponseDeadline = sql.NullTime{Time: deadline, Valid: true}
	return reg, nil
}

func (r *PostgresWaitlistRepository) InsertOverride(ctx context.Context, cycleID, chatID int64, invitedAt, deadline time.Time) (*waitlist.Registrant, error) {
	query := `INSERT INTO registrants (cycle_id, chat_id, position, status, priority_class, manual_override, invited_at, response_deadline)
               SELECT $1, $2, COALESCE(MAX(position), 0) + 1, $3, $4, TRUE, $5, $6
               FROM registrants WHERE cycle_id = $1
               RETURNING ` + registrantColumns

	var lastErr error
	for attempt := 0; attempt < enrollRetries; attempt++ {
		reg, err := scanRegistrant(r.db.QueryRowContext(ctx, query,
			cycleID, chatID, waitlist.StatusInvited, waitlist.ClassPriority, invitedAt, deadline))
		if err == nil {
			return reg, nil
		}
		if isUniqueViolation(err, cycleChatConstraint) {
			return nil, waitlist.ErrDuplicateRegistration
		}
		if isUniqueViolation(err, cyclePositionConstraint) {
			lastErr = err
			continue
		}
		return nil, fmt.Errorf("error inserting override registrant: %w", err)
	}
	return nil, fmt.Errorf("%w: override position contention: %v", waitlist.ErrTransientContention, lastErr)
}

func (r *PostgresWaitlistRepository) TransitionStatus(ctx context.Context, id int64, from, to waitlist.Status, respondedAt sql.NullTime) (bool, error) {
	// Deadline is defined only while INVITED; clear it on the way out.
	query := `UPDATE registrants
               SET status = $1,
                   responded_at = COALESCE($2, responded_at),
                   response_deadline = CASE WHEN $3 = 'INVITED' AND $1 <> 'INVITED' THEN NULL ELSE response_deadline END,
                   updated_at = NOW()
               WHERE id = $4 AND status = $3`
	res, err := r.db.ExecContext(ctx, query, to, respondedAt, from, id)
	if err != nil {
		return false, fmt.Errorf("error transitioning registrant %d from %s to %s: %w", id, from, to, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("error reading transition result: %w", err)
	}
	return n > 0, nil
}

func (r *PostgresWaitlistRepository) SetPriorityClass(ctx context.Context, id int64, class waitlist.PriorityClass) (bool, error) {
	query := `UPDATE registrants SET priority_class = $1, updated_at = NOW()
               WHERE id = $2 AND status = $3`
	res, err := r.db.ExecContext(ctx, query, class, id, waitlist.StatusWaiting)
	if err != nil {
		return false, fmt.Errorf("error setting priority class for registrant %d: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("error reading priority class result: %w", err)
	}
	return n > 0, nil
}

func (r *PostgresWaitlistRepository) ListDueInvited(ctx context.Context, cycleID int64, now time.Time) ([]*waitlist.Registrant, error) {
	query := `SELECT ` + registrantColumns + `
               FROM registrants
               WHERE cycle_id = $1 AND status = $2 AND response_deadline <= $3
               ORDER BY response_deadline ASC`
	rows, err := r.db.QueryContext(ctx, query, cycleID, waitlist.StatusInvited, now)
	if err != nil {
		return nil, fmt.Errorf("error querying due invited registrants: %w", err)
	}
	defer rows.Close()

	regs := make([]*waitlist.Registrant, 0)
	for rows.Next() {
		reg, err := scanRegistrant(rows)
		if err != nil {
			return nil, fmt.Errorf("error scanning registrant row: %w", err)
		}
		regs = append(regs, reg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating registrant rows: %w", err)
	}
	return regs, nil
}

func (r *PostgresWaitlistRepository) CountActiveInvites(ctx context.Context, cycleID int64) (int, error) {
	query := `SELECT COUNT(*) FROM registrants
               WHERE cycle_id = $1 AND status = ANY($2::varchar[]) AND manual_override = FALSE`
	var n int
	statuses := []string{string(waitlist.StatusInvited), string(waitlist.StatusConfirmed)}
	if err := r.db.QueryRowContext(ctx, query, cycleID, pq.Array(statuses)).Scan(&n); err != nil {
		return 0, fmt.Errorf("error counting active invites: %w", err)
	}
	return n, nil
}

func (r *PostgresWaitlistRepository) CountByStatus(ctx context.Context, cycleID int64) (waitlist.Stats, error) {
	query := `SELECT status, COUNT(*) FROM registrants WHERE cycle_id = $1 GROUP BY status`
	rows, err := r.db.QueryContext(ctx, query, cycleID)
	if err != nil {
		return waitlist.Stats{}, fmt.Errorf("error counting registrants by status: %w", err)
	}
	defer rows.Close()

	stats := waitlist.Stats{}
	for rows.Next() {
		var status waitlist.Status
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return waitlist.Stats{}, fmt.Errorf("error scanning status count: %w", err)
		}
		switch status {
		case waitlist.StatusWaiting:
			stats.Waiting = n
		case waitlist.StatusInvited:
			stats.Invited = n
		case waitlist.StatusConfirmed:
			stats.Confirmed = n
		case waitlist.StatusDeclined:
			stats.Declined = n
		case waitlist.StatusExpired:
			stats.Expired = n
		case waitlist.StatusAttended:
			stats.Attended = n
		}
	}
	if err := rows.Err(); err != nil {
		return waitlist.Stats{}, fmt.Errorf("error iterating status counts: %w", err)
	}
	return stats, nil
}
