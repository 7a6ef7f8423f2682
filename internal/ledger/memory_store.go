package ledger

import (
	"context"
	"fmt"
	"sync"

	"github.com/hackgods/insured-appointments/internal/appointment"
)

// MemoryStore is an in-process ledger for tests and local runs.
type MemoryStore struct {
	country appointment.Country

	mu   sync.Mutex
	rows map[string]appointment.Snapshot
	// writes counts successful inserts, so tests can assert idempotence.
	writes int
}

var _ appointment.LedgerStore = (*MemoryStore)(nil)

func NewMemoryStore(country appointment.Country) *MemoryStore {
	return &MemoryStore{country: country, rows: make(map[string]appointment.Snapshot)}
}

func (s *MemoryStore) Country() appointment.Country { return s.country }

func (s *MemoryStore) ExistsByID(_ context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.rows[id]
	return ok, nil
}

func (s *MemoryStore) Insert(_ context.Context, a *appointment.Appointment) (bool, error) {
	if a.Country() != s.country {
		return false, fmt.Errorf("%w: %s is %s, ledger is %s", ErrCountryMismatch, a.ID(), a.Country(), s.country)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.rows[a.ID()]; ok {
		return false, nil
	}
	s.rows[a.ID()] = a.Snapshot()
	s.writes++
	return true, nil
}

// Len is the number of ledgered appointments.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.rows)
}

// Writes is the number of rows ever inserted.
func (s *MemoryStore) Writes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writes
}
