package appointment

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseCreateRequest_Valid(t *testing.T) {
	cmd, err := ParseCreateRequest(CreateRequest{
		InsuredID:   " 01234 ",
		ScheduleID:  "100",
		CountryCode: "cl",
	})
	require.NoError(t, err)
	assert.Equal(t, InsuredID("01234"), cmd.InsuredID)
	assert.Equal(t, "100", cmd.ScheduleID)
	assert.Equal(t, CountryCL, cmd.Country)
}

func TestParseCreateRequest_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		req     CreateRequest
		problem string
	}{
		{"missing insured", CreateRequest{ScheduleID: "1", CountryCode: "PE"}, "insuredId is required"},
		{"insured too short", CreateRequest{InsuredID: "123", ScheduleID: "1", CountryCode: "PE"}, "insuredId must have exactly 5 digits"},
		{"insured letters", CreateRequest{InsuredID: "abcde", ScheduleID: "1", CountryCode: "PE"}, "insuredId must have exactly 5 digits"},
		{"missing schedule", CreateRequest{InsuredID: "12345", CountryCode: "PE"}, "scheduleId is required"},
		{"unknown country", CreateRequest{InsuredID: "12345", ScheduleID: "1", CountryCode: "AR"}, "countryCode must be one of PE, CL"},
		{"iso country outside the set", CreateRequest{InsuredID: "12345", ScheduleID: "1", CountryCode: "us"}, "countryCode must be one of PE, CL"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseCreateRequest(tt.req)
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrValidation))

			var ve *ValidationError
			require.ErrorAs(t, err, &ve)
			assert.Contains(t, ve.Problems, tt.problem)
		})
	}
}

func TestParseCreateRequest_ReportsEveryProblem(t *testing.T) {
	_, err := ParseCreateRequest(CreateRequest{})

	var ve *ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Len(t, ve.Problems, 3)
}

func TestParseCreateRequest_RejectedCountryNeverReachesStore(t *testing.T) {
	store := NewMemoryRepository()
	svc := newTestService(t, store, &recordingPublisher{}, nil)

	_, err := ParseCreateRequest(CreateRequest{InsuredID: "12345", ScheduleID: "1", CountryCode: "AR"})
	require.ErrorIs(t, err, ErrValidation)

	cmd, err := ParseCreateRequest(CreateRequest{InsuredID: "12345", ScheduleID: "1", CountryCode: "PE"})
	require.NoError(t, err)
	appt, err := svc.Create(context.Background(), cmd)
	require.NoError(t, err)

	got, err := svc.Get(context.Background(), appt.ID())
	require.NoError(t, err)
	assert.Equal(t, CountryPE, got.Country())
}
