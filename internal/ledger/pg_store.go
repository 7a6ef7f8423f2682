package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/hackgods/insured-appointments/internal/appointment"
)

// ErrCountryMismatch is returned when an appointment is offered to the
// ledger of another country.
var ErrCountryMismatch = errors.New("appointment belongs to another country")

type pgQuerier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PgStore is a country's system of record. Each country has its own
// database and its own table, appointments_<country>.
type PgStore struct {
	country appointment.Country
	table   string
	pool    pgQuerier
}

var _ appointment.LedgerStore = (*PgStore)(nil)

func NewPgStore(country appointment.Country, pool pgQuerier) *PgStore {
	if pool == nil {
		panic("ledger: pgx pool required")
	}
	return &PgStore{
		country: country,
		table:   TableName(country),
		pool:    pool,
	}
}

// TableName is the ledger table of a country.
func TableName(country appointment.Country) string {
	return "appointments_" + strings.ToLower(string(country))
}

func (s *PgStore) Country() appointment.Country { return s.country }

func (s *PgStore) ExistsByID(ctx context.Context, id string) (bool, error) {
	var one int
	err := s.pool.QueryRow(ctx, `SELECT 1 FROM `+s.table+` WHERE appointment_id = $1`, id).Scan(&one)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("%s ledger lookup: %w: %w", s.country, appointment.ErrStore, err)
	}
	return true, nil
}

// Insert records a once; a second insert of the same id is a no-op and
// reports inserted=false.
func (s *PgStore) Insert(ctx context.Context, a *appointment.Appointment) (bool, error) {
	if a.Country() != s.country {
		return false, fmt.Errorf("%w: %s is %s, ledger is %s", ErrCountryMismatch, a.ID(), a.Country(), s.country)
	}

	tag, err := s.pool.Exec(ctx, `
		INSERT INTO `+s.table+` (appointment_id, insured_id, schedule_id, country_code, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (appointment_id) DO NOTHING
	`, a.ID(), string(a.InsuredID()), a.ScheduleID(), string(a.Country()), a.CreatedAt())
	if err != nil {
		return false, fmt.Errorf("%s ledger insert: %w: %w", s.country, appointment.ErrStore, err)
	}
	return tag.RowsAffected() > 0, nil
}
