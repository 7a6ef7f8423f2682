package appointment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// ActiveInsuredIndex is the partial unique index that enforces one active
// appointment per insured:
//
//	CREATE UNIQUE INDEX appointments_active_insured_uidx
//	    ON appointments (insured_id) WHERE status IN ('PENDING', 'CONFIRMED');
const ActiveInsuredIndex = "appointments_active_insured_uidx"

const pgUniqueViolation = "23505"

const appointmentColumns = `id, insured_id, schedule_id, country_code, status, created_at, updated_at`

type pgQuerier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PgRepository is the Postgres-backed central index.
type PgRepository struct {
	pool pgQuerier
}

var _ IndexStore = (*PgRepository)(nil)

// NewPgRepository accepts a *pgxpool.Pool or any compatible querier.
func NewPgRepository(pool pgQuerier) *PgRepository {
	if pool == nil {
		panic("appointment: pgx pool required")
	}
	return &PgRepository{pool: pool}
}

func scanAppointment(row pgx.Row) (*Appointment, error) {
	var s Snapshot

	err := row.Scan(
		&s.ID,
		&s.InsuredID,
		&s.ScheduleID,
		&s.CountryCode,
		&s.Status,
		&s.CreatedAt,
		&s.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAppointmentNotFound
		}
		return nil, err
	}

	return Restore(s)
}

func (r *PgRepository) collect(ctx context.Context, op, sql string, args ...any) ([]*Appointment, error) {
	rows, err := r.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, storeError(op, err)
	}
	defer rows.Close()

	var result []*Appointment
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, storeError(op, err)
		}
		result = append(result, a)
	}

	if err := rows.Err(); err != nil {
		return nil, storeError(op, err)
	}

	return result, nil
}

func (r *PgRepository) FindByID(ctx context.Context, id string) (*Appointment, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE id = $1
	`, id)
	a, err := scanAppointment(row)
	if err != nil {
		if errors.Is(err, ErrAppointmentNotFound) {
			return nil, err
		}
		return nil, storeError("find appointment", err)
	}
	return a, nil
}

func (r *PgRepository) FindNonTerminalByInsuredID(ctx context.Context, insuredID InsuredID) ([]*Appointment, error) {
	return r.collect(ctx, "find active appointments", `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE insured_id = $1
		  AND status IN ('PENDING', 'CONFIRMED')
	`, string(insuredID))
}

func (r *PgRepository) FindByInsuredID(ctx context.Context, insuredID InsuredID) ([]*Appointment, error) {
	return r.collect(ctx, "list appointments", `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE insured_id = $1
		ORDER BY created_at DESC
	`, string(insuredID))
}

func (r *PgRepository) FindStalePending(ctx context.Context, createdBefore time.Time, limit int) ([]*Appointment, error) {
	if limit <= 0 {
		limit = 100
	}
	return r.collect(ctx, "find stale pending", `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE status = 'PENDING'
		  AND created_at < $1
		ORDER BY created_at
		LIMIT $2
	`, createdBefore, limit)
}

// Create relies on ActiveInsuredIndex, so the uniqueness check and the
// insert are one statement.
func (r *PgRepository) Create(ctx context.Context, a *Appointment) error {
	s := a.Snapshot()
	_, err := r.pool.Exec(ctx, `
		INSERT INTO appointments (`+appointmentColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, s.ID, s.InsuredID, s.ScheduleID, s.CountryCode, s.Status, s.CreatedAt, s.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation && pgErr.ConstraintName == ActiveInsuredIndex {
			return ErrDuplicatePendingAppointment
		}
		return storeError("insert appointment", err)
	}
	return nil
}

func (r *PgRepository) Update(ctx context.Context, a *Appointment, from Status) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE appointments
		SET status = $2,
		    updated_at = $3
		WHERE id = $1
		  AND status = $4
	`, a.ID(), string(a.Status()), a.UpdatedAt(), string(from))
	if err != nil {
		return storeError("update appointment", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s is no longer %s", ErrConcurrentUpdate, a.ID(), from)
	}
	return nil
}
