package leave

import (
	"encoding/json"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRangesOverlap(t *testing.T) {
	existingStart := MustParseDate("2024-02-01")
	existingEnd := MustParseDate("2024-02-05")

	assert.True(t, RangesOverlap(existingStart, existingEnd,
		MustParseDate("2024-02-03"), MustParseDate("2024-02-08")))
	assert.False(t, RangesOverlap(existingStart, existingEnd,
		MustParseDate("2024-02-10"), MustParseDate("2024-02-12")))

	// Touching on a single day counts.
	assert.True(t, RangesOverlap(existingStart, existingEnd,
		MustParseDate("2024-02-05"), MustParseDate("2024-02-06")))
}

func TestWorkingDays(t *testing.T) {
	// 2024-02-05 is a Monday.
	assert.True(t, decimal.NewFromInt(5).Equal(
		WorkingDays(MustParseDate("2024-02-05"), MustParseDate("2024-02-11"))))
	assert.Equal(t, 7, CalendarDays(MustParseDate("2024-02-05"), MustParseDate("2024-02-11")))
}

func TestLeaveRequest_Validate(t *testing.T) {
	valid := func() LeaveRequest {
		return LeaveRequest{
			EmployeeID: "emp-1",
			LeaveType:  Annual,
			StartDate:  MustParseDate("2024-03-04"),
			EndDate:    MustParseDate("2024-03-08"),
			Days:       decimal.NewFromInt(5),
		}
	}

	r := valid()
	require.NoError(t, r.Validate())

	tests := []struct {
		name   string
		mutate func(*LeaveRequest)
		field  string
	}{
		{"zero days", func(r *LeaveRequest) { r.Days = decimal.Zero }, "days"},
		{"negative days", func(r *LeaveRequest) { r.Days = decimal.NewFromInt(-1) }, "days"},
		{"end before start", func(r *LeaveRequest) { r.EndDate = MustParseDate("2024-03-01") }, "end_date"},
		{"unknown type", func(r *LeaveRequest) { r.LeaveType = "sabbatical" }, "leave_type"},
		{"too many days", func(r *LeaveRequest) { r.Days = decimal.NewFromInt(6) }, "days"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := valid()
			tt.mutate(&r)
			err := r.Validate()
			require.ErrorIs(t, err, ErrValidation)
			var ve *ValidationError
			require.ErrorAs(t, err, &ve)
			assert.Equal(t, tt.field, ve.Field)
		})
	}
}

func TestDate_JSON(t *testing.T) {
	var payload struct {
		Start Date `json:"start"`
		End   Date `json:"end"`
	}
	require.NoError(t, json.Unmarshal([]byte(`{"start":"2024-02-01","end":null}`), &payload))
	assert.Equal(t, "2024-02-01", payload.Start.String())
	assert.True(t, payload.End.IsZero())

	out, err := json.Marshal(payload)
	require.NoError(t, err)
	assert.JSONEq(t, `{"start":"2024-02-01","end":null}`, string(out))

	assert.ErrorIs(t, json.Unmarshal([]byte(`{"start":"01/02/2024"}`), &payload), ErrValidation)
}

func TestErrorHelpers(t *testing.T) {
	assert.True(t, IsRetryable(ErrConcurrentModification))
	assert.False(t, IsRetryable(ErrValidation))
	assert.True(t, IsClientError(&OverlapError{EmployeeID: "e", Conflicting: []string{"r1"}}))
	assert.True(t, IsClientError(&LockedError{RequestID: "r"}))
	assert.True(t, IsNotFound(NotFoundError("request", "r1")))
	assert.True(t, IsNotFound(&OrgInfoError{EmployeeID: "e"}))

	ib := &InsufficientBalanceError{Available: decimal.NewFromInt(3), Requested: decimal.NewFromInt(5)}
	assert.True(t, decimal.NewFromInt(2).Equal(ib.Shortfall()))
}
