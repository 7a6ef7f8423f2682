package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hackgods/insured-appointments/internal/appointment"
	"github.com/hackgods/insured-appointments/internal/bootstrap"
	"github.com/hackgods/insured-appointments/internal/config"
	"github.com/hackgods/insured-appointments/internal/messaging"
	"github.com/hackgods/insured-appointments/internal/metrics"
	"github.com/hackgods/insured-appointments/pkg/logging"
)

type testServer struct {
	handler http.Handler
	store   *appointment.MemoryRepository
	fanout  *messaging.MemoryQueue
}

func newTestServer(t *testing.T, checks ...bootstrap.Check) *testServer {
	t.Helper()
	store := appointment.NewMemoryRepository()
	fanout := messaging.NewMemoryQueue()
	reg := prometheus.NewRegistry()
	svc := appointment.NewService(store, fanout, nil, config.Config{}, logging.Nop(), metrics.New(reg))

	return &testServer{
		handler: NewRouter(RouterConfig{
			Service:  svc,
			Checks:   checks,
			Gatherer: reg,
			Logger:   logging.Nop(),
			Env:      "test",
		}),
		store:  store,
		fanout: fanout,
	}
}

func (s *testServer) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v))
	return v
}

func TestCreateAppointment(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodPost, "/appointments", `{"insuredId":"01234","scheduleId":"100","countryCode":"pe"}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.NotEmpty(t, rec.Header().Get(headerRequestID))

	resp := decode[AppointmentResponse](t, rec)
	assert.NotEmpty(t, resp.ID)
	assert.Equal(t, "PENDING", resp.Status)
	assert.Equal(t, "PE", resp.CountryCode)
	assert.Equal(t, 1, s.fanout.Len())

	rec = s.do(t, http.MethodGet, "/appointments/"+resp.ID, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, resp.ID, decode[AppointmentResponse](t, rec).ID)
}

func TestCreateAppointment_Validation(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodPost, "/appointments", `{"insuredId":"12","scheduleId":"","countryCode":"AR"}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	resp := decode[ErrorResponse](t, rec)
	assert.Equal(t, "validation_failed", resp.Error)
	assert.Len(t, resp.Details, 3)

	rec = s.do(t, http.MethodPost, "/appointments", `{`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_request_body", decode[ErrorResponse](t, rec).Error)

	assert.Zero(t, s.fanout.Len())
}

func TestCreateAppointment_Duplicate(t *testing.T) {
	s := newTestServer(t)
	body := `{"insuredId":"01234","scheduleId":"100","countryCode":"CL"}`

	require.Equal(t, http.StatusCreated, s.do(t, http.MethodPost, "/appointments", body).Code)

	rec := s.do(t, http.MethodPost, "/appointments", body)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "duplicate_pending_appointment", decode[ErrorResponse](t, rec).Error)
}

func TestGetAppointment_NotFound(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodGet, "/appointments/nope", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestTransitions(t *testing.T) {
	s := newTestServer(t)
	a := appointment.New("a-1", "01234", "100", appointment.CountryPE, time.Now())
	require.NoError(t, s.store.Create(context.Background(), a))

	// Not confirmed yet.
	rec := s.do(t, http.MethodPost, "/appointments/a-1/complete", "")
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "invalid_status_transition", decode[ErrorResponse](t, rec).Error)

	rec = s.do(t, http.MethodPost, "/appointments/a-1/cancel", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "CANCELLED", decode[AppointmentResponse](t, rec).Status)

	assert.Equal(t, http.StatusNotFound, s.do(t, http.MethodPost, "/appointments/missing/cancel", "").Code)
}

func TestListByInsured(t *testing.T) {
	s := newTestServer(t)
	require.Equal(t, http.StatusCreated, s.do(t, http.MethodPost, "/appointments", `{"insuredId":"55555","scheduleId":"1","countryCode":"PE"}`).Code)

	rec := s.do(t, http.MethodGet, "/insureds/55555/appointments", "")
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decode[ListAppointmentsResponse](t, rec)
	assert.Len(t, resp.Appointments, 1)

	rec = s.do(t, http.MethodGet, "/insureds/00000/appointments", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, decode[ListAppointmentsResponse](t, rec).Appointments)

	assert.Equal(t, http.StatusBadRequest, s.do(t, http.MethodGet, "/insureds/abc/appointments", "").Code)
}

func TestRequestIDIsPropagated(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/health/live", nil)
	req.Header.Set(headerRequestID, "req-42")
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)

	assert.Equal(t, "req-42", rec.Header().Get(headerRequestID))
}

func TestReadiness(t *testing.T) {
	ok := func(context.Context) error { return nil }
	down := func(context.Context) error { return errors.New("down") }

	cases := []struct {
		name   string
		checks []bootstrap.Check
		code   int
		status string
	}{
		{"all up", []bootstrap.Check{{Name: "postgres", Critical: true, Ping: ok}, {Name: "redis", Ping: ok}}, http.StatusOK, "ok"},
		{"optional down", []bootstrap.Check{{Name: "postgres", Critical: true, Ping: ok}, {Name: "redis", Ping: down}}, http.StatusOK, "degraded"},
		{"critical down", []bootstrap.Check{{Name: "postgres", Critical: true, Ping: down}, {Name: "redis", Ping: ok}}, http.StatusServiceUnavailable, "error"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			s := newTestServer(t, tc.checks...)
			rec := s.do(t, http.MethodGet, "/health/ready", "")
			assert.Equal(t, tc.code, rec.Code)
			assert.Equal(t, tc.status, decode[ReadinessResponse](t, rec).Status)
		})
	}
}

func TestMetricsEndpoint(t *testing.T) {
	s := newTestServer(t)
	require.Equal(t, http.StatusCreated, s.do(t, http.MethodPost, "/appointments", `{"insuredId":"01234","scheduleId":"100","countryCode":"PE"}`).Code)

	rec := s.do(t, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `appointments_created_total{country="PE",outcome="created"} 1`)
}
