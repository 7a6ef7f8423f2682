package appointment

import (
	"context"
	"time"
)

// IndexStore is the central index: every mutating call is a conditional
// write so concurrent callers cannot both win.
type IndexStore interface {
	FindByID(ctx context.Context, id string) (*Appointment, error)
	FindNonTerminalByInsuredID(ctx context.Context, insuredID InsuredID) ([]*Appointment, error)
	FindByInsuredID(ctx context.Context, insuredID InsuredID) ([]*Appointment, error)

	// Create must fail with ErrDuplicatePendingAppointment when the insured
	// already holds a PENDING or CONFIRMED appointment.
	Create(ctx context.Context, a *Appointment) error

	// Update persists a's status and updatedAt only if the stored status is
	// still from. Otherwise it returns ErrConcurrentUpdate.
	Update(ctx context.Context, a *Appointment, from Status) error

	// Reconciliation sweep
	FindStalePending(ctx context.Context, createdBefore time.Time, limit int) ([]*Appointment, error)
}

// LedgerStore is one country's system of record.
type LedgerStore interface {
	Country() Country
	ExistsByID(ctx context.Context, id string) (bool, error)

	// Insert is idempotent by id; inserted is false when the row already existed.
	Insert(ctx context.Context, a *Appointment) (inserted bool, err error)
}

// Publisher sends a message body with transport attributes.
type Publisher interface {
	Publish(ctx context.Context, body []byte, attrs map[string]string) error
}
