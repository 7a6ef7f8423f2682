package appointment

import (
	"encoding/json"
	"fmt"
	"time"
)

const (
	EventCreated   = "created"
	EventConfirmed = "confirmed"

	// AttrCountryCode is the transport attribute subscribers filter on.
	AttrCountryCode = "countryCode"
	AttrEventType   = "eventType"
)

// CreatedEvent is the fan-out envelope emitted once an appointment is stored.
type CreatedEvent struct {
	EventType     string    `json:"eventType"`
	AppointmentID string    `json:"appointmentId"`
	InsuredID     string    `json:"insuredId"`
	ScheduleID    string    `json:"scheduleId"`
	CountryCode   string    `json:"countryCode"`
	Status        string    `json:"status"`
	CreatedAt     time.Time `json:"createdAt"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

// ConfirmedEvent is emitted by a country processor after its ledger write.
type ConfirmedEvent struct {
	EventType     string `json:"eventType"`
	AppointmentID string `json:"appointmentId"`
	CountryCode   string `json:"countryCode"`
}

func NewCreatedEvent(a *Appointment) CreatedEvent {
	s := a.Snapshot()
	return CreatedEvent{
		EventType:     EventCreated,
		AppointmentID: s.ID,
		InsuredID:     s.InsuredID,
		ScheduleID:    s.ScheduleID,
		CountryCode:   s.CountryCode,
		Status:        s.Status,
		CreatedAt:     s.CreatedAt,
		UpdatedAt:     s.UpdatedAt,
	}
}

// Attributes returns the transport attributes that accompany an event.
func Attributes(eventType string, country Country) map[string]string {
	return map[string]string{
		AttrEventType:   eventType,
		AttrCountryCode: string(country),
	}
}

// EncodeCreated renders the fan-out body and its attributes.
func EncodeCreated(a *Appointment) ([]byte, map[string]string, error) {
	body, err := json.Marshal(NewCreatedEvent(a))
	if err != nil {
		return nil, nil, fmt.Errorf("encode created event: %w", err)
	}
	return body, Attributes(EventCreated, a.Country()), nil
}

// DecodeCreated parses and validates a fan-out body into an aggregate.
func DecodeCreated(body []byte) (*Appointment, error) {
	var ev CreatedEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		return nil, fmt.Errorf("decode created event: %w", err)
	}
	if ev.EventType != EventCreated {
		return nil, fmt.Errorf("decode created event: unexpected event type %q", ev.EventType)
	}
	a, err := Restore(Snapshot{
		ID:          ev.AppointmentID,
		InsuredID:   ev.InsuredID,
		ScheduleID:  ev.ScheduleID,
		CountryCode: ev.CountryCode,
		Status:      ev.Status,
		CreatedAt:   ev.CreatedAt,
		UpdatedAt:   ev.UpdatedAt,
	})
	if err != nil {
		return nil, fmt.Errorf("decode created event: %w", err)
	}
	return a, nil
}

func EncodeConfirmed(appointmentID string, country Country) ([]byte, map[string]string, error) {
	body, err := json.Marshal(ConfirmedEvent{
		EventType:     EventConfirmed,
		AppointmentID: appointmentID,
		CountryCode:   string(country),
	})
	if err != nil {
		return nil, nil, fmt.Errorf("encode confirmed event: %w", err)
	}
	return body, Attributes(EventConfirmed, country), nil
}

// DecodeConfirmed parses a confirmation body and returns the appointment id
// and the reporting country.
func DecodeConfirmed(body []byte) (string, Country, error) {
	var ev ConfirmedEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		return "", "", fmt.Errorf("decode confirmed event: %w", err)
	}
	if ev.EventType != EventConfirmed {
		return "", "", fmt.Errorf("decode confirmed event: unexpected event type %q", ev.EventType)
	}
	if ev.AppointmentID == "" {
		return "", "", fmt.Errorf("decode confirmed event: empty appointment id")
	}
	country, err := ParseCountry(ev.CountryCode)
	if err != nil {
		return "", "", fmt.Errorf("decode confirmed event: %w", err)
	}
	return ev.AppointmentID, country, nil
}
