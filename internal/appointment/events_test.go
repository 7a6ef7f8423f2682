package appointment

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreatedEvent_RoundTripKeepsCountryAttribute(t *testing.T) {
	a := New("appt-7", "54321", "sched-1", CountryCL, time.Date(2024, 5, 2, 8, 30, 0, 0, time.UTC))

	body, attrs, err := EncodeCreated(a)
	require.NoError(t, err)
	assert.Equal(t, "CL", attrs[AttrCountryCode])
	assert.Equal(t, EventCreated, attrs[AttrEventType])
	assert.Contains(t, string(body), `"countryCode":"CL"`)

	decoded, err := DecodeCreated(body)
	require.NoError(t, err)
	assert.Equal(t, a.Snapshot(), decoded.Snapshot())
}

func TestDecodeCreated_RejectsMalformed(t *testing.T) {
	for name, body := range map[string]string{
		"not json":      `{`,
		"wrong type":    `{"eventType":"confirmed","appointmentId":"a","insuredId":"12345","scheduleId":"s","countryCode":"PE","status":"PENDING"}`,
		"bad insured":   `{"eventType":"created","appointmentId":"a","insuredId":"1","scheduleId":"s","countryCode":"PE","status":"PENDING"}`,
		"bad country":   `{"eventType":"created","appointmentId":"a","insuredId":"12345","scheduleId":"s","countryCode":"BR","status":"PENDING"}`,
		"missing sched": `{"eventType":"created","appointmentId":"a","insuredId":"12345","countryCode":"PE","status":"PENDING"}`,
	} {
		t.Run(name, func(t *testing.T) {
			_, err := DecodeCreated([]byte(body))
			assert.Error(t, err)
		})
	}
}

func TestConfirmedEvent(t *testing.T) {
	body, attrs, err := EncodeConfirmed("appt-7", CountryPE)
	require.NoError(t, err)
	assert.Equal(t, EventConfirmed, attrs[AttrEventType])

	id, country, err := DecodeConfirmed(body)
	require.NoError(t, err)
	assert.Equal(t, "appt-7", id)
	assert.Equal(t, CountryPE, country)

	_, _, err = DecodeConfirmed([]byte(`{"eventType":"confirmed","countryCode":"PE"}`))
	assert.Error(t, err)
}
