package api

import (
	"time"

	"github.com/hackgods/insured-appointments/internal/appointment"
)

type AppointmentResponse struct {
	ID          string    `json:"appointmentId"`
	InsuredID   string    `json:"insuredId"`
	ScheduleID  string    `json:"scheduleId"`
	CountryCode string    `json:"countryCode"`
	Status      string    `json:"status"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

type ListAppointmentsResponse struct {
	InsuredID    string                `json:"insuredId"`
	Appointments []AppointmentResponse `json:"appointments"`
}

type ErrorResponse struct {
	Error   string   `json:"error"`
	Details []string `json:"details,omitempty"`
}

func toResponse(a *appointment.Appointment) AppointmentResponse {
	return AppointmentResponse{
		ID:          a.ID(),
		InsuredID:   string(a.InsuredID()),
		ScheduleID:  a.ScheduleID(),
		CountryCode: string(a.Country()),
		Status:      string(a.Status()),
		CreatedAt:   a.CreatedAt(),
		UpdatedAt:   a.UpdatedAt(),
	}
}
