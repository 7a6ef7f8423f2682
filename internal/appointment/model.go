package appointment

import (
	"fmt"
	"time"
)

type Status string

const (
	StatusPending   Status = "PENDING"
	StatusConfirmed Status = "CONFIRMED"
	StatusCompleted Status = "COMPLETED"
	StatusCancelled Status = "CANCELLED"
)

// Active reports whether the status counts against the single active
// booking per insured.
func (s Status) Active() bool {
	return s == StatusPending || s == StatusConfirmed
}

func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

func ParseStatus(raw string) (Status, error) {
	switch s := Status(raw); s {
	case StatusPending, StatusConfirmed, StatusCompleted, StatusCancelled:
		return s, nil
	}
	return "", fmt.Errorf("unknown status %q", raw)
}

// Country is one of the jurisdictions that run their own ledger.
type Country string

const (
	CountryPE Country = "PE"
	CountryCL Country = "CL"
)

// Countries lists every supported jurisdiction.
func Countries() []Country {
	return []Country{CountryPE, CountryCL}
}

func ParseCountry(raw string) (Country, error) {
	switch c := Country(raw); c {
	case CountryPE, CountryCL:
		return c, nil
	}
	return "", fmt.Errorf("unsupported country code %q", raw)
}

// InsuredID is the 5 digit identifier of the insured person.
type InsuredID string

func ParseInsuredID(raw string) (InsuredID, error) {
	if len(raw) != 5 {
		return "", fmt.Errorf("insured id %q must have exactly 5 digits", raw)
	}
	for i := 0; i < len(raw); i++ {
		if raw[i] < '0' || raw[i] > '9' {
			return "", fmt.Errorf("insured id %q must have exactly 5 digits", raw)
		}
	}
	return InsuredID(raw), nil
}

// Appointment is the aggregate root. Status only changes through Confirm,
// Complete and Cancel.
type Appointment struct {
	id         string
	insuredID  InsuredID
	scheduleID string
	country    Country
	status     Status
	createdAt  time.Time
	updatedAt  time.Time
}

// New builds a PENDING appointment.
func New(id string, insuredID InsuredID, scheduleID string, country Country, now time.Time) *Appointment {
	now = now.UTC()
	return &Appointment{
		id:         id,
		insuredID:  insuredID,
		scheduleID: scheduleID,
		country:    country,
		status:     StatusPending,
		createdAt:  now,
		updatedAt:  now,
	}
}

// Snapshot is the flat, untyped view stores and envelopes exchange.
type Snapshot struct {
	ID          string
	InsuredID   string
	ScheduleID  string
	CountryCode string
	Status      string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Restore rehydrates an aggregate from persisted data, validating every field.
func Restore(s Snapshot) (*Appointment, error) {
	if s.ID == "" {
		return nil, fmt.Errorf("restore appointment: empty id")
	}
	insured, err := ParseInsuredID(s.InsuredID)
	if err != nil {
		return nil, fmt.Errorf("restore appointment %s: %w", s.ID, err)
	}
	if s.ScheduleID == "" {
		return nil, fmt.Errorf("restore appointment %s: empty schedule id", s.ID)
	}
	country, err := ParseCountry(s.CountryCode)
	if err != nil {
		return nil, fmt.Errorf("restore appointment %s: %w", s.ID, err)
	}
	status, err := ParseStatus(s.Status)
	if err != nil {
		return nil, fmt.Errorf("restore appointment %s: %w", s.ID, err)
	}
	return &Appointment{
		id:         s.ID,
		insuredID:  insured,
		scheduleID: s.ScheduleID,
		country:    country,
		status:     status,
		createdAt:  s.CreatedAt.UTC(),
		updatedAt:  s.UpdatedAt.UTC(),
	}, nil
}

func (a *Appointment) Snapshot() Snapshot {
	return Snapshot{
		ID:          a.id,
		InsuredID:   string(a.insuredID),
		ScheduleID:  a.scheduleID,
		CountryCode: string(a.country),
		Status:      string(a.status),
		CreatedAt:   a.createdAt,
		UpdatedAt:   a.updatedAt,
	}
}

func (a *Appointment) ID() string           { return a.id }
func (a *Appointment) InsuredID() InsuredID { return a.insuredID }
func (a *Appointment) ScheduleID() string   { return a.scheduleID }
func (a *Appointment) Country() Country     { return a.country }
func (a *Appointment) Status() Status       { return a.status }
func (a *Appointment) CreatedAt() time.Time { return a.createdAt }
func (a *Appointment) UpdatedAt() time.Time { return a.updatedAt }

// Confirm records that the country ledger accepted the booking.
func (a *Appointment) Confirm() error {
	return a.transition(StatusConfirmed, StatusPending)
}

// Complete records that the appointment took place.
func (a *Appointment) Complete() error {
	return a.transition(StatusCompleted, StatusConfirmed)
}

func (a *Appointment) Cancel() error {
	return a.transition(StatusCancelled, StatusPending, StatusConfirmed)
}

var now = func() time.Time { return time.Now().UTC() }

func (a *Appointment) transition(to Status, allowedFrom ...Status) error {
	for _, from := range allowedFrom {
		if a.status != from {
			continue
		}
		at := now()
		if at.Before(a.updatedAt) {
			at = a.updatedAt
		}
		a.status = to
		a.updatedAt = at
		return nil
	}
	return &InvalidStateTransitionError{From: a.status, Attempted: to}
}
