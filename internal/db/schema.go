package db

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
)

type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// IndexSchema creates the central index table. The partial unique index is
// what makes two concurrent creations for one insured collide.
var IndexSchema = []string{
	`CREATE TABLE IF NOT EXISTS appointments (
		id           TEXT PRIMARY KEY,
		insured_id   CHAR(5) NOT NULL,
		schedule_id  TEXT NOT NULL,
		country_code CHAR(2) NOT NULL,
		status       TEXT NOT NULL,
		created_at   TIMESTAMPTZ NOT NULL,
		updated_at   TIMESTAMPTZ NOT NULL
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS appointments_active_insured_uidx
		ON appointments (insured_id) WHERE status IN ('PENDING', 'CONFIRMED')`,
	`CREATE INDEX IF NOT EXISTS appointments_insured_created_idx
		ON appointments (insured_id, created_at DESC)`,
	`CREATE INDEX IF NOT EXISTS appointments_pending_created_idx
		ON appointments (created_at) WHERE status = 'PENDING'`,
}

// LedgerSchema creates one country's ledger table.
func LedgerSchema(table string) []string {
	return []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			appointment_id TEXT PRIMARY KEY,
			insured_id     CHAR(5) NOT NULL,
			schedule_id    TEXT NOT NULL,
			country_code   CHAR(2) NOT NULL,
			created_at     TIMESTAMPTZ NOT NULL,
			recorded_at    TIMESTAMPTZ NOT NULL DEFAULT now()
		)`, table),
	}
}

// ApplySchema runs idempotent DDL in order.
func ApplySchema(ctx context.Context, conn execer, stmts []string) error {
	for _, stmt := range stmts {
		if _, err := conn.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
	}
	return nil
}
