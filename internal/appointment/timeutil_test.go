package appointment

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeTime(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"09:00", "09:00"},
		{"9:05", "09:05"},
		{"14:30:00", "14:30"},
		{" 08:15 ", "08:15"},
		{"2024-11-25 13:40:00", "13:40"},
		{"2024-11-25T07:05:00", "07:05"},
		{"2024-11-25T16:45:00Z", "16:45"},
		{"2024-11-25T16:45:00+02:00", "16:45"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := NormalizeTime(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNormalizeTimeRejects(t *testing.T) {
	for _, in := range []string{"", "25:00", "9", "09:60", "9:5", "ab:cd", "10:00:75", "2024-13-45 10:00"} {
		t.Run(in, func(t *testing.T) {
			_, err := NormalizeTime(in)
			assert.ErrorIs(t, err, ErrInvalidTimeFormat)
		})
	}
}

func TestIsWithinBusinessHours(t *testing.T) {
	assert.True(t, IsWithinBusinessHours("08:00", "09:00"))
	assert.True(t, IsWithinBusinessHours("17:00", "18:00"))
	assert.False(t, IsWithinBusinessHours("07:30", "08:30"))
	assert.False(t, IsWithinBusinessHours("17:30", "18:30"))
	assert.False(t, IsWithinBusinessHours("18:00", "18:30"))
	assert.False(t, IsWithinBusinessHours("bad", "09:00"))
}

func TestDurationMinutes(t *testing.T) {
	d, err := DurationMinutes("09:00", "09:45")
	require.NoError(t, err)
	assert.Equal(t, 45, d)

	d, err = DurationMinutes("10:00", "09:00")
	assert.ErrorIs(t, err, ErrInvalidDuration)
	assert.Equal(t, -60, d)

	_, err = DurationMinutes("10:00", "10:00")
	assert.ErrorIs(t, err, ErrInvalidDuration)

	d, err = DurationMinutes("09:00", "09:10")
	assert.ErrorIs(t, err, ErrDurationTooShort)
	assert.Equal(t, 10, d)

	_, err = DurationMinutes("09:00", "12:01")
	assert.ErrorIs(t, err, ErrDurationTooLong)

	_, err = DurationMinutes("09:00", "12:00")
	assert.NoError(t, err)
}

func TestDateHelpers(t *testing.T) {
	d, err := ParseDate("2024-01-31T10:00:00Z")
	require.NoError(t, err)
	assert.Equal(t, "2024-01-31", d.String())

	assert.Equal(t, "2024-02-29", d.AddMonthsClamped(1).String())
	assert.Equal(t, "2023-02-28", NewDate(2023, 1, 31).AddMonthsClamped(1).String())
	assert.Equal(t, "2024-12-31", d.AddMonthsClamped(11).String())
	assert.Equal(t, "2024-02-01", d.AddDays(1).String())

	_, err = ParseDate("31/01/2024")
	assert.Error(t, err)
}

func TestDateJSON(t *testing.T) {
	var d Date
	require.NoError(t, d.UnmarshalJSON([]byte(`"2024-03-04"`)))
	assert.Equal(t, NewDate(2024, 3, 4), d)

	b, err := d.MarshalJSON()
	require.NoError(t, err)
	assert.JSONEq(t, `"2024-03-04"`, string(b))

	require.NoError(t, d.UnmarshalJSON([]byte(`null`)))
	assert.True(t, d.IsZero())
	b, err = d.MarshalJSON()
	require.NoError(t, err)
	assert.Equal(t, "null", string(b))
}
