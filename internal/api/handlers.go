package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hackgods/insured-appointments/internal/appointment"
)

const maxBodyBytes = 1 << 16

func createAppointmentHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req appointment.CreateRequest
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}

		cmd, err := appointment.ParseCreateRequest(req)
		if err != nil {
			handleError(w, err)
			return
		}

		appt, err := svc.Create(r.Context(), cmd)
		if err != nil {
			handleError(w, err)
			return
		}

		writeJSON(w, http.StatusCreated, toResponse(appt))
	}
}

func getAppointmentHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		appt, err := svc.Get(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			handleError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, toResponse(appt))
	}
}

func listByInsuredHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		insuredID, err := appointment.ParseInsuredID(chi.URLParam(r, "insuredId"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_insured_id", err.Error())
			return
		}

		appts, err := svc.ListByInsured(r.Context(), insuredID)
		if err != nil {
			handleError(w, err)
			return
		}

		resp := ListAppointmentsResponse{
			InsuredID:    string(insuredID),
			Appointments: make([]AppointmentResponse, 0, len(appts)),
		}
		for _, a := range appts {
			resp.Appointments = append(resp.Appointments, toResponse(a))
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func completeAppointmentHandler(svc *appointment.Service) http.HandlerFunc {
	return transitionHandler(svc.Complete)
}

func cancelAppointmentHandler(svc *appointment.Service) http.HandlerFunc {
	return transitionHandler(svc.Cancel)
}

func transitionHandler(apply func(ctx context.Context, id string) (*appointment.Appointment, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		appt, err := apply(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			handleError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, toResponse(appt))
	}
}

func handleError(w http.ResponseWriter, err error) {
	var verr *appointment.ValidationError
	switch {
	case errors.As(err, &verr):
		writeErrorDetails(w, http.StatusBadRequest, "validation_failed", verr.Problems)
	case errors.Is(err, appointment.ErrDuplicatePendingAppointment):
		writeError(w, http.StatusConflict, "duplicate_pending_appointment", err.Error())
	case errors.Is(err, appointment.ErrAppointmentNotFound):
		writeError(w, http.StatusNotFound, "appointment_not_found", err.Error())
	case errors.Is(err, appointment.ErrInvalidStatusTransition):
		writeError(w, http.StatusConflict, "invalid_status_transition", err.Error())
	case errors.Is(err, appointment.ErrConcurrentUpdate):
		writeError(w, http.StatusConflict, "concurrent_update", "appointment changed, please retry")
	case errors.Is(err, appointment.ErrStore):
		writeError(w, http.StatusServiceUnavailable, "store_unavailable", "please retry shortly")
	default:
		writeError(w, http.StatusInternalServerError, "internal_error", "unexpected error")
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, detail string) {
	writeErrorDetails(w, status, code, []string{detail})
}

func writeErrorDetails(w http.ResponseWriter, status int, code string, details []string) {
	writeJSON(w, status, ErrorResponse{Error: code, Details: details})
}
