package appointment

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func draftOn(date Date) Draft {
	return Draft{
		DoctorID:  1,
		PatientID: 2,
		Date:      date,
		StartTime: "09:00",
		EndTime:   "10:00",
		Status:    StatusScheduled,
	}
}

func dates(instances []Draft) []string {
	out := make([]string, 0, len(instances))
	for _, in := range instances {
		out = append(out, in.Date.String())
	}
	return out
}

func datePtr(d Date) *Date { return &d }

func TestExpandNone(t *testing.T) {
	anchor := NewDate(2030, 1, 7)
	exp := Expand(draftOn(anchor), NoRecurrence{}, anchor)
	require.Len(t, exp.Instances, 1)
	assert.Nil(t, exp.Instances[0].Series)

	exp = Expand(draftOn(anchor), nil, anchor)
	require.Len(t, exp.Instances, 1)
}

func TestExpandDaily(t *testing.T) {
	anchor := NewDate(2030, 1, 7)
	exp := Expand(draftOn(anchor), DailyRecurrence{Interval: 1, EndDate: datePtr(anchor.AddDays(4))}, anchor)

	assert.Equal(t, []string{"2030-01-07", "2030-01-08", "2030-01-09", "2030-01-10", "2030-01-11"}, dates(exp.Instances))
	for i, in := range exp.Instances {
		require.NotNil(t, in.Series)
		assert.Equal(t, i+1, in.Series.Sequence)
		assert.Equal(t, 5, in.Series.Total)
		assert.True(t, in.Series.IsRecurringInstance)
		assert.Equal(t, anchor, in.Series.AnchorDate)
		assert.Equal(t, RecurrenceDaily, in.Series.Type)
		assert.Equal(t, "09:00", in.StartTime)
	}
}

func TestExpandDailyInterval(t *testing.T) {
	anchor := NewDate(2030, 1, 1)
	exp := Expand(draftOn(anchor), DailyRecurrence{Interval: 3, EndDate: datePtr(anchor.AddDays(9))}, anchor)
	assert.Equal(t, []string{"2030-01-01", "2030-01-04", "2030-01-07", "2030-01-10"}, dates(exp.Instances))
}

func TestExpandWeeklyDaysOfWeek(t *testing.T) {
	anchor := NewDate(2030, 1, 7) // Monday
	require.Equal(t, time.Monday, anchor.Weekday())

	rec := WeeklyRecurrence{
		Interval:   1,
		EndDate:    datePtr(anchor.AddDays(13)),
		DaysOfWeek: []time.Weekday{time.Friday, time.Monday, time.Wednesday},
	}
	exp := Expand(draftOn(anchor), rec, anchor)

	assert.Equal(t, []string{
		"2030-01-07", "2030-01-09", "2030-01-11",
		"2030-01-14", "2030-01-16", "2030-01-18",
	}, dates(exp.Instances))
	assert.Equal(t, []int{1, 3, 5}, exp.Instances[0].Series.DaysOfWeek)
}

func TestExpandWeeklyAnchorNotInDays(t *testing.T) {
	anchor := NewDate(2030, 1, 8) // Tuesday
	rec := WeeklyRecurrence{
		Interval:   2,
		EndDate:    datePtr(NewDate(2030, 1, 31)),
		DaysOfWeek: []time.Weekday{time.Monday, time.Thursday},
	}
	exp := Expand(draftOn(anchor), rec, anchor)

	// Thursday of the anchor week, then Monday and Thursday two weeks later.
	assert.Equal(t, []string{"2030-01-10", "2030-01-21", "2030-01-24"}, dates(exp.Instances))
}

func TestExpandWeeklyWithoutDays(t *testing.T) {
	anchor := NewDate(2030, 1, 7)
	exp := Expand(draftOn(anchor), WeeklyRecurrence{Interval: 2, EndDate: datePtr(NewDate(2030, 2, 28))}, anchor)
	assert.Equal(t, []string{"2030-01-07", "2030-01-21", "2030-02-04", "2030-02-18"}, dates(exp.Instances))
}

func TestExpandMonthlyClampsDay(t *testing.T) {
	anchor := NewDate(2028, 1, 31)
	exp := Expand(draftOn(anchor), MonthlyRecurrence{Interval: 1, EndDate: datePtr(NewDate(2028, 4, 30))}, anchor)
	assert.Equal(t, []string{"2028-01-31", "2028-02-29", "2028-03-31", "2028-04-30"}, dates(exp.Instances))

	anchor = NewDate(2029, 1, 31)
	exp = Expand(draftOn(anchor), MonthlyRecurrence{Interval: 1, EndDate: datePtr(NewDate(2029, 3, 1))}, anchor)
	assert.Equal(t, []string{"2029-01-31", "2029-02-28"}, dates(exp.Instances))
}

func TestExpandCapsInstances(t *testing.T) {
	anchor := NewDate(2030, 1, 1)
	exp := Expand(draftOn(anchor), DailyRecurrence{Interval: 1}, anchor)
	assert.Len(t, exp.Instances, MaxRecurrenceInstances)
	assert.Equal(t, MaxRecurrenceInstances, exp.Instances[0].Series.Total)
	assert.Equal(t, MaxRecurrenceInstances, exp.Instances[MaxRecurrenceInstances-1].Series.Sequence)
	assert.False(t, exp.Truncated, "no end date means the cap is the bound")
}

func TestExpandReportsCapBeforeEndDate(t *testing.T) {
	anchor := NewDate(2030, 1, 1)

	exp := Expand(draftOn(anchor), DailyRecurrence{Interval: 1, EndDate: datePtr(anchor.AddDays(99))}, anchor)
	assert.Len(t, exp.Instances, MaxRecurrenceInstances)
	assert.True(t, exp.Truncated)

	// exactly 52 dates fit: the cap is reached but nothing is lost
	exp = Expand(draftOn(anchor), DailyRecurrence{Interval: 1, EndDate: datePtr(anchor.AddDays(MaxRecurrenceInstances - 1))}, anchor)
	assert.Len(t, exp.Instances, MaxRecurrenceInstances)
	assert.False(t, exp.Truncated)

	exp = Expand(draftOn(anchor), WeeklyRecurrence{Interval: 1, EndDate: datePtr(anchor.AddDays(7 * 60)), DaysOfWeek: []time.Weekday{time.Monday, time.Friday}}, anchor)
	assert.Len(t, exp.Instances, MaxRecurrenceInstances)
	assert.True(t, exp.Truncated)
}

func TestExpandSkipsPastDates(t *testing.T) {
	anchor := NewDate(2030, 1, 7)
	today := anchor.AddDays(2)
	exp := Expand(draftOn(anchor), DailyRecurrence{Interval: 1, EndDate: datePtr(anchor.AddDays(4))}, today)

	assert.Equal(t, []string{"2030-01-09", "2030-01-10", "2030-01-11"}, dates(exp.Instances))
	require.Len(t, exp.SkippedDates, 2)
	assert.Equal(t, "2030-01-07", exp.SkippedDates[0].String())
	assert.Equal(t, 1, exp.Instances[0].Series.Sequence)
	assert.Equal(t, 3, exp.Instances[0].Series.Total)
}

func TestExpandAllPast(t *testing.T) {
	anchor := NewDate(2020, 1, 6)
	exp := Expand(draftOn(anchor), DailyRecurrence{Interval: 1, EndDate: datePtr(anchor.AddDays(2))}, NewDate(2030, 1, 1))
	assert.Empty(t, exp.Instances)
	assert.Len(t, exp.SkippedDates, 3)
}

func TestRecurrenceSpecConversion(t *testing.T) {
	spec := &RecurrenceSpec{Type: RecurrenceWeekly, DaysOfWeek: []int{1, 3}}
	rec, errs := spec.Recurrence()
	require.Empty(t, errs)
	weekly, ok := rec.(WeeklyRecurrence)
	require.True(t, ok)
	assert.Equal(t, 1, weekly.Interval)
	assert.Equal(t, []time.Weekday{time.Monday, time.Wednesday}, weekly.DaysOfWeek)

	back := Spec(rec)
	assert.Equal(t, RecurrenceWeekly, back.Type)
	assert.Equal(t, []int{1, 3}, back.DaysOfWeek)

	var nilSpec *RecurrenceSpec
	rec, errs = nilSpec.Recurrence()
	require.Empty(t, errs)
	assert.Equal(t, RecurrenceNone, rec.Type())
}

func TestRecurrenceSpecRejects(t *testing.T) {
	tests := []struct {
		name string
		spec RecurrenceSpec
	}{
		{"unknown type", RecurrenceSpec{Type: "yearly"}},
		{"missing type", RecurrenceSpec{}},
		{"bad weekday", RecurrenceSpec{Type: RecurrenceWeekly, DaysOfWeek: []int{7}}},
		{"negative interval", RecurrenceSpec{Type: RecurrenceDaily, Interval: -1}},
		{"days on daily", RecurrenceSpec{Type: RecurrenceDaily, DaysOfWeek: []int{1}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, errs := tt.spec.Recurrence()
			assert.Nil(t, rec)
			require.NotEmpty(t, errs)
			assert.True(t, HasCode(errs, CodeInvalidRecurrence))
		})
	}
}
