package appointment

import (
	"errors"
	"fmt"
	"reflect"
	"sort"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

type RecurrenceType string

const (
	RecurrenceNone    RecurrenceType = "none"
	RecurrenceDaily   RecurrenceType = "daily"
	RecurrenceWeekly  RecurrenceType = "weekly"
	RecurrenceMonthly RecurrenceType = "monthly"
)

const (
	// MaxRecurrenceInstances caps every series, roughly a year of weekly visits.
	MaxRecurrenceInstances = 52

	maxExpansionSteps = 5000
)

// Recurrence is one of NoRecurrence, DailyRecurrence, WeeklyRecurrence or
// MonthlyRecurrence.
type Recurrence interface {
	Type() RecurrenceType
	recurrence()
}

type NoRecurrence struct{}

type DailyRecurrence struct {
	Interval int
	EndDate  *Date
}

type WeeklyRecurrence struct {
	Interval int
	EndDate  *Date
	// DaysOfWeek switches from "every N weeks on the anchor weekday" to
	// "these weekdays, every N weeks".
	DaysOfWeek []time.Weekday
}

type MonthlyRecurrence struct {
	Interval int
	EndDate  *Date
}

func (NoRecurrence) Type() RecurrenceType      { return RecurrenceNone }
func (DailyRecurrence) Type() RecurrenceType   { return RecurrenceDaily }
func (WeeklyRecurrence) Type() RecurrenceType  { return RecurrenceWeekly }
func (MonthlyRecurrence) Type() RecurrenceType { return RecurrenceMonthly }

func (NoRecurrence) recurrence()      {}
func (DailyRecurrence) recurrence()   {}
func (WeeklyRecurrence) recurrence()  {}
func (MonthlyRecurrence) recurrence() {}

// RecurrenceSpec is the wire form of a Recurrence.
type RecurrenceSpec struct {
	Type       RecurrenceType `json:"type" validate:"required,oneof=none daily weekly monthly"`
	Interval   int            `json:"interval,omitempty" validate:"gte=0,lte=52"`
	EndDate    *Date          `json:"end_date,omitempty"`
	DaysOfWeek []int          `json:"days_of_week,omitempty" validate:"omitempty,max=7,dive,gte=0,lte=6"`
}

var validate = newStructValidator()

func newStructValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// Recurrence converts the wire form into its typed variant. A nil spec
// means no recurrence.
func (s *RecurrenceSpec) Recurrence() (Recurrence, []ValidationError) {
	if s == nil {
		return NoRecurrence{}, nil
	}
	if err := validate.Struct(s); err != nil {
		return nil, recurrenceErrors(err)
	}

	interval := s.Interval
	if interval == 0 {
		interval = 1
	}
	if len(s.DaysOfWeek) > 0 && s.Type != RecurrenceWeekly {
		return nil, []ValidationError{{
			Message: "days_of_week only applies to weekly recurrence",
			Field:   "recurrence.days_of_week",
			Code:    CodeInvalidRecurrence,
		}}
	}

	switch s.Type {
	case RecurrenceDaily:
		return DailyRecurrence{Interval: interval, EndDate: s.EndDate}, nil
	case RecurrenceWeekly:
		days := make([]time.Weekday, 0, len(s.DaysOfWeek))
		for _, d := range s.DaysOfWeek {
			days = append(days, time.Weekday(d))
		}
		return WeeklyRecurrence{Interval: interval, EndDate: s.EndDate, DaysOfWeek: days}, nil
	case RecurrenceMonthly:
		return MonthlyRecurrence{Interval: interval, EndDate: s.EndDate}, nil
	default:
		return NoRecurrence{}, nil
	}
}

func recurrenceErrors(err error) []ValidationError {
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return []ValidationError{{Message: err.Error(), Field: "recurrence", Code: CodeInvalidRecurrence}}
	}
	out := make([]ValidationError, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		msg := fmt.Sprintf("failed %q rule", fe.Tag())
		if fe.Param() != "" {
			msg = fmt.Sprintf("failed %q rule (%s)", fe.Tag(), fe.Param())
		}
		out = append(out, ValidationError{
			Message: msg,
			Field:   "recurrence." + fe.Field(),
			Code:    CodeInvalidRecurrence,
		})
	}
	return out
}

// Spec converts a typed recurrence back into its wire form.
func Spec(r Recurrence) RecurrenceSpec {
	switch v := r.(type) {
	case DailyRecurrence:
		return RecurrenceSpec{Type: RecurrenceDaily, Interval: v.Interval, EndDate: v.EndDate}
	case WeeklyRecurrence:
		spec := RecurrenceSpec{Type: RecurrenceWeekly, Interval: v.Interval, EndDate: v.EndDate}
		for _, d := range v.DaysOfWeek {
			spec.DaysOfWeek = append(spec.DaysOfWeek, int(d))
		}
		return spec
	case MonthlyRecurrence:
		return RecurrenceSpec{Type: RecurrenceMonthly, Interval: v.Interval, EndDate: v.EndDate}
	default:
		return RecurrenceSpec{Type: RecurrenceNone}
	}
}

// Expansion is the result of expanding a template into a series.
// SkippedDates lists candidate dates dropped for being before today.
// Truncated is set when the instance cap ended the series before its end
// date.
type Expansion struct {
	Instances    []Draft `json:"instances"`
	SkippedDates []Date  `json:"skipped_dates"`
	Truncated    bool    `json:"truncated"`
}

// Expand turns template plus a recurrence into concrete instances, in date
// order. Dates before today are skipped without ending the walk. The walk
// stops past the end date or after MaxRecurrenceInstances instances.
func Expand(template Draft, rec Recurrence, today Date) Expansion {
	if rec == nil || rec.Type() == RecurrenceNone {
		return Expansion{Instances: []Draft{template}}
	}

	anchor := template.Date
	var (
		next     func(step int, prev Date) Date
		interval int
		endDate  *Date
		days     []int
	)

	switch r := rec.(type) {
	case DailyRecurrence:
		interval, endDate = positive(r.Interval), r.EndDate
		next = func(step int, _ Date) Date { return anchor.AddDays(step * interval) }
	case WeeklyRecurrence:
		interval, endDate = positive(r.Interval), r.EndDate
		weekdays := sortedWeekdays(r.DaysOfWeek)
		for _, d := range weekdays {
			days = append(days, int(d))
		}
		if len(weekdays) == 0 {
			next = func(step int, _ Date) Date { return anchor.AddDays(7 * step * interval) }
		} else {
			next = func(step int, prev Date) Date {
				if step == 0 && containsWeekday(weekdays, anchor.Weekday()) {
					return anchor
				}
				if step == 0 {
					prev = anchor
				}
				return nextWeeklyDate(prev, weekdays, interval)
			}
		}
	case MonthlyRecurrence:
		interval, endDate = positive(r.Interval), r.EndDate
		next = func(step int, _ Date) Date { return anchor.AddMonthsClamped(step * interval) }
	default:
		return Expansion{Instances: []Draft{template}}
	}

	var (
		dates, skipped []Date
		truncated      bool
	)
	prev := anchor
	for step := 0; step < maxExpansionSteps; step++ {
		d := next(step, prev)
		prev = d
		if endDate != nil && d.After(*endDate) {
			break
		}
		if d.Before(today) {
			skipped = append(skipped, d)
			continue
		}
		dates = append(dates, d)
		if len(dates) >= MaxRecurrenceInstances {
			truncated = endDate != nil && !next(step+1, d).After(*endDate)
			break
		}
	}

	instances := make([]Draft, 0, len(dates))
	for i, d := range dates {
		inst := template
		inst.Date = d
		inst.Series = &SeriesInfo{
			Type:                rec.Type(),
			Interval:            interval,
			EndDate:             endDate,
			DaysOfWeek:          days,
			Sequence:            i + 1,
			Total:               len(dates),
			IsRecurringInstance: true,
			AnchorDate:          anchor,
		}
		instances = append(instances, inst)
	}
	return Expansion{Instances: instances, SkippedDates: skipped, Truncated: truncated}
}

// nextWeeklyDate moves to the next configured weekday in the current week,
// or to the first configured weekday interval weeks later.
func nextWeeklyDate(from Date, days []time.Weekday, interval int) Date {
	wd := from.Weekday()
	for _, d := range days {
		if d > wd {
			return from.AddDays(int(d - wd))
		}
	}
	weekStart := from.AddDays(-int(wd))
	return weekStart.AddDays(7*interval + int(days[0]))
}

func sortedWeekdays(in []time.Weekday) []time.Weekday {
	seen := make(map[time.Weekday]bool, len(in))
	out := make([]time.Weekday, 0, len(in))
	for _, d := range in {
		if d < time.Sunday || d > time.Saturday || seen[d] {
			continue
		}
		seen[d] = true
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func containsWeekday(days []time.Weekday, wd time.Weekday) bool {
	for _, d := range days {
		if d == wd {
			return true
		}
	}
	return false
}

func positive(n int) int {
	if n < 1 {
		return 1
	}
	return n
}
