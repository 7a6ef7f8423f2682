package appointment

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// MemoryRepository is an in-process IndexStore for tests and local runs.
type MemoryRepository struct {
	mu    sync.Mutex
	items map[string]Snapshot
}

var _ IndexStore = (*MemoryRepository)(nil)

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{items: make(map[string]Snapshot)}
}

func (r *MemoryRepository) FindByID(_ context.Context, id string) (*Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.items[id]
	if !ok {
		return nil, ErrAppointmentNotFound
	}
	return Restore(s)
}

func (r *MemoryRepository) filter(keep func(Snapshot) bool) ([]*Appointment, error) {
	var out []*Appointment
	for _, s := range r.items {
		if !keep(s) {
			continue
		}
		a, err := Restore(s)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, nil
}

func (r *MemoryRepository) FindNonTerminalByInsuredID(_ context.Context, insuredID InsuredID) ([]*Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.filter(func(s Snapshot) bool {
		return s.InsuredID == string(insuredID) && Status(s.Status).Active()
	})
}

func (r *MemoryRepository) FindByInsuredID(_ context.Context, insuredID InsuredID) ([]*Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	out, err := r.filter(func(s Snapshot) bool { return s.InsuredID == string(insuredID) })
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt().After(out[j].CreatedAt()) })
	return out, nil
}

func (r *MemoryRepository) FindStalePending(_ context.Context, createdBefore time.Time, limit int) ([]*Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	out, err := r.filter(func(s Snapshot) bool {
		return s.Status == string(StatusPending) && s.CreatedAt.Before(createdBefore)
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt().Before(out[j].CreatedAt()) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *MemoryRepository) Create(_ context.Context, a *Appointment) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.items[a.ID()]; exists {
		return fmt.Errorf("appointment %s already exists", a.ID())
	}
	for _, s := range r.items {
		if s.InsuredID == string(a.InsuredID()) && Status(s.Status).Active() {
			return ErrDuplicatePendingAppointment
		}
	}
	r.items[a.ID()] = a.Snapshot()
	return nil
}

func (r *MemoryRepository) Update(_ context.Context, a *Appointment, from Status) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.items[a.ID()]
	if !ok || s.Status != string(from) {
		return fmt.Errorf("%w: %s is no longer %s", ErrConcurrentUpdate, a.ID(), from)
	}
	r.items[a.ID()] = a.Snapshot()
	return nil
}
