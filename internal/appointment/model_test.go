package appointment

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fixedNow(t *testing.T, at time.Time) {
	t.Helper()
	prev := now
	now = func() time.Time { return at }
	t.Cleanup(func() { now = prev })
}

func TestNew_StartsPending(t *testing.T) {
	created := time.Date(2024, 3, 1, 10, 0, 0, 0, time.FixedZone("PET", -5*3600))
	a := New("appt-1", "12345", "sched-9", CountryPE, created)

	assert.Equal(t, StatusPending, a.Status())
	assert.Equal(t, time.UTC, a.CreatedAt().Location())
	assert.Equal(t, a.CreatedAt(), a.UpdatedAt())
	assert.True(t, a.CreatedAt().Equal(created))
}

func TestTransitions(t *testing.T) {
	base := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

	tests := []struct {
		name    string
		from    Status
		apply   func(*Appointment) error
		want    Status
		wantErr bool
	}{
		{"confirm pending", StatusPending, (*Appointment).Confirm, StatusConfirmed, false},
		{"confirm confirmed", StatusConfirmed, (*Appointment).Confirm, StatusConfirmed, true},
		{"confirm cancelled", StatusCancelled, (*Appointment).Confirm, StatusCancelled, true},
		{"complete confirmed", StatusConfirmed, (*Appointment).Complete, StatusCompleted, false},
		{"complete pending", StatusPending, (*Appointment).Complete, StatusPending, true},
		{"cancel pending", StatusPending, (*Appointment).Cancel, StatusCancelled, false},
		{"cancel confirmed", StatusConfirmed, (*Appointment).Cancel, StatusCancelled, false},
		{"cancel completed", StatusCompleted, (*Appointment).Cancel, StatusCompleted, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fixedNow(t, base.Add(time.Hour))
			a, err := Restore(Snapshot{
				ID: "appt-1", InsuredID: "12345", ScheduleID: "s", CountryCode: "CL",
				Status: string(tt.from), CreatedAt: base, UpdatedAt: base,
			})
			require.NoError(t, err)

			err = tt.apply(a)
			assert.Equal(t, tt.want, a.Status())
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errors.Is(err, ErrInvalidStatusTransition))
				var te *InvalidStateTransitionError
				require.ErrorAs(t, err, &te)
				assert.Equal(t, tt.from, te.From)
				assert.Equal(t, base, a.UpdatedAt())
				return
			}
			require.NoError(t, err)
			assert.Equal(t, base.Add(time.Hour), a.UpdatedAt())
		})
	}
}

func TestTransition_UpdatedAtNeverMovesBackwards(t *testing.T) {
	base := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	fixedNow(t, base.Add(-time.Minute))

	a := New("appt-1", "12345", "s", CountryPE, base)
	require.NoError(t, a.Confirm())
	assert.Equal(t, base, a.UpdatedAt())
}

func TestRestore_RejectsInvalidData(t *testing.T) {
	valid := Snapshot{
		ID: "appt-1", InsuredID: "00042", ScheduleID: "s", CountryCode: "PE", Status: "PENDING",
	}

	_, err := Restore(valid)
	require.NoError(t, err)

	for name, mutate := range map[string]func(*Snapshot){
		"empty id":      func(s *Snapshot) { s.ID = "" },
		"short insured": func(s *Snapshot) { s.InsuredID = "1234" },
		"alpha insured": func(s *Snapshot) { s.InsuredID = "12a45" },
		"empty sched":   func(s *Snapshot) { s.ScheduleID = "" },
		"country":       func(s *Snapshot) { s.CountryCode = "AR" },
		"status":        func(s *Snapshot) { s.Status = "BOOKED" },
	} {
		t.Run(name, func(t *testing.T) {
			s := valid
			mutate(&s)
			_, err := Restore(s)
			assert.Error(t, err)
		})
	}
}

func TestParseInsuredID(t *testing.T) {
	for _, ok := range []string{"00000", "12345", "99999"} {
		_, err := ParseInsuredID(ok)
		assert.NoError(t, err, ok)
	}
	for _, bad := range []string{"", "1234", "123456", "12 45", "-1234", "１２３４５"} {
		_, err := ParseInsuredID(bad)
		assert.Error(t, err, bad)
	}
}

func TestStatusPredicates(t *testing.T) {
	assert.True(t, StatusPending.Active())
	assert.True(t, StatusConfirmed.Active())
	assert.False(t, StatusCompleted.Active())
	assert.True(t, StatusCancelled.Terminal())
	assert.False(t, StatusPending.Terminal())
}
