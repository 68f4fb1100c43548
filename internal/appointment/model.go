package appointment

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

type AppointmentStatus string

const (
	StatusScheduled AppointmentStatus = "scheduled"
	StatusConfirmed AppointmentStatus = "confirmed"
	StatusCancelled AppointmentStatus = "cancelled"
	StatusCompleted AppointmentStatus = "completed"
)

func (s AppointmentStatus) Valid() bool {
	switch s {
	case StatusScheduled, StatusConfirmed, StatusCancelled, StatusCompleted:
		return true
	}
	return false
}

// Terminal reports whether no further transition is allowed from s.
func (s AppointmentStatus) Terminal() bool {
	return s == StatusCancelled || s == StatusCompleted
}

const dateLayout = "2006-01-02"

// Date is a calendar day with no time-of-day or zone attached. The wall
// clock is always midnight UTC so that day arithmetic never crosses DST.
type Date struct {
	time.Time
}

// NewDate builds a Date from its parts, normalizing overflow like time.Date.
func NewDate(year int, month time.Month, day int) Date {
	return Date{time.Date(year, month, day, 0, 0, 0, 0, time.UTC)}
}

// DateOf truncates t to its calendar day, keeping t's own wall clock.
func DateOf(t time.Time) Date {
	return NewDate(t.Year(), t.Month(), t.Day())
}

func ParseDate(s string) (Date, error) {
	s = strings.TrimSpace(s)
	if len(s) > len(dateLayout) {
		s = s[:len(dateLayout)]
	}
	t, err := time.Parse(dateLayout, s)
	if err != nil {
		return Date{}, fmt.Errorf("parse date %q: %w", s, err)
	}
	return Date{t}, nil
}

func (d Date) String() string {
	if d.IsZero() {
		return ""
	}
	return d.Format(dateLayout)
}

func (d Date) AddDays(n int) Date {
	return Date{d.AddDate(0, 0, n)}
}

// AddMonthsClamped moves n months forward and clamps the day to the last
// day of the target month (Jan 31 + 1 month is Feb 28 or 29).
func (d Date) AddMonthsClamped(n int) Date {
	y, m, day := d.Date()
	first := time.Date(y, m+time.Month(n), 1, 0, 0, 0, 0, time.UTC)
	last := first.AddDate(0, 1, -1).Day()
	if day > last {
		day = last
	}
	return NewDate(first.Year(), first.Month(), day)
}

func (d Date) Before(o Date) bool { return d.Time.Before(o.Time) }
func (d Date) After(o Date) bool  { return d.Time.After(o.Time) }
func (d Date) Equal(o Date) bool  { return d.Time.Equal(o.Time) }

func (d Date) MarshalJSON() ([]byte, error) {
	if d.IsZero() {
		return []byte("null"), nil
	}
	return json.Marshal(d.String())
}

func (d *Date) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	if s == "" {
		*d = Date{}
		return nil
	}
	parsed, err := ParseDate(s)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

type Doctor struct {
	ID        int64  `json:"id"`
	Name      string `json:"name"`
	Email     string `json:"email,omitempty"`
	Specialty string `json:"specialty,omitempty"`
}

type Patient struct {
	ID    int64  `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email,omitempty"`
}

// SeriesInfo is attached to every instance generated from a recurrence.
type SeriesInfo struct {
	SeriesID            uuid.UUID      `json:"series_id"`
	Type                RecurrenceType `json:"type"`
	Interval            int            `json:"interval"`
	EndDate             *Date          `json:"end_date,omitempty"`
	DaysOfWeek          []int          `json:"days_of_week,omitempty"`
	Sequence            int            `json:"sequence"`
	Total               int            `json:"total"`
	IsRecurringInstance bool           `json:"is_recurring_instance"`
	AnchorDate          Date           `json:"anchor_date"`
}

// Appointment is a persisted booking. Doctor and Patient are display copies
// and never authoritative.
type Appointment struct {
	ID         int64             `json:"id"`
	ClinicSlug string            `json:"clinic_slug"`
	DoctorID   int64             `json:"doctor_id"`
	PatientID  int64             `json:"patient_id"`
	Date       Date              `json:"date"`
	StartTime  string            `json:"start_time"`
	EndTime    string            `json:"end_time"`
	Status     AppointmentStatus `json:"status"`
	Notes      string            `json:"notes,omitempty"`
	Room       string            `json:"room,omitempty"`
	Series     *SeriesInfo       `json:"recurrence,omitempty"`
	Doctor     *Doctor           `json:"doctor,omitempty"`
	Patient    *Patient          `json:"patient,omitempty"`
	CreatedAt  time.Time         `json:"created_at"`
	UpdatedAt  time.Time         `json:"updated_at"`
}

func (a Appointment) Slot() Slot {
	return Slot{DoctorID: a.DoctorID, Date: a.Date, StartTime: a.StartTime, EndTime: a.EndTime}
}

// Draft is an appointment that has not been persisted yet.
type Draft struct {
	DoctorID  int64             `json:"doctor_id"`
	PatientID int64             `json:"patient_id"`
	Date      Date              `json:"date"`
	StartTime string            `json:"start_time"`
	EndTime   string            `json:"end_time"`
	Status    AppointmentStatus `json:"status"`
	Notes     string            `json:"notes,omitempty"`
	Room      string            `json:"room,omitempty"`
	Series    *SeriesInfo       `json:"recurrence,omitempty"`
}

func (d Draft) Slot() Slot {
	return Slot{DoctorID: d.DoctorID, Date: d.Date, StartTime: d.StartTime, EndTime: d.EndTime}
}

// Patch is a partial update. Nil fields are left untouched.
type Patch struct {
	DoctorID  *int64             `json:"doctor_id,omitempty"`
	PatientID *int64             `json:"patient_id,omitempty"`
	Date      *Date              `json:"date,omitempty"`
	StartTime *string            `json:"start_time,omitempty"`
	EndTime   *string            `json:"end_time,omitempty"`
	Status    *AppointmentStatus `json:"status,omitempty"`
	Notes     *string            `json:"notes,omitempty"`
	Room      *string            `json:"room,omitempty"`
}

// Temporal reports whether the patch touches the booked slot.
func (p Patch) Temporal() bool {
	return p.DoctorID != nil || p.Date != nil || p.StartTime != nil || p.EndTime != nil
}

// Apply returns a copy of a with the patch merged in.
func (p Patch) Apply(a Appointment) Appointment {
	if p.DoctorID != nil {
		a.DoctorID = *p.DoctorID
	}
	if p.PatientID != nil {
		a.PatientID = *p.PatientID
	}
	if p.Date != nil {
		a.Date = *p.Date
	}
	if p.StartTime != nil {
		a.StartTime = *p.StartTime
	}
	if p.EndTime != nil {
		a.EndTime = *p.EndTime
	}
	if p.Status != nil {
		a.Status = *p.Status
	}
	if p.Notes != nil {
		a.Notes = *p.Notes
	}
	if p.Room != nil {
		a.Room = *p.Room
	}
	return a
}

// Slot is the (doctor, date, start, end) tuple under validation.
type Slot struct {
	DoctorID  int64  `json:"doctor_id"`
	Date      Date   `json:"date"`
	StartTime string `json:"start_time"`
	EndTime   string `json:"end_time"`
}

// Filters narrow a clinic listing. Zero values mean "any".
type Filters struct {
	DoctorID  int64
	PatientID int64
	Status    AppointmentStatus
	From      *Date
	To        *Date
	SeriesID  uuid.UUID
	Search    string
}

// Matches applies the filter predicate to a single appointment.
func (f Filters) Matches(a Appointment) bool {
	if f.DoctorID != 0 && a.DoctorID != f.DoctorID {
		return false
	}
	if f.PatientID != 0 && a.PatientID != f.PatientID {
		return false
	}
	if f.Status != "" && a.Status != f.Status {
		return false
	}
	if f.From != nil && a.Date.Before(*f.From) {
		return false
	}
	if f.To != nil && a.Date.After(*f.To) {
		return false
	}
	if f.SeriesID != uuid.Nil && (a.Series == nil || a.Series.SeriesID != f.SeriesID) {
		return false
	}
	if q := strings.ToLower(strings.TrimSpace(f.Search)); q != "" {
		var haystack []string
		if a.Doctor != nil {
			haystack = append(haystack, a.Doctor.Name)
		}
		if a.Patient != nil {
			haystack = append(haystack, a.Patient.Name)
		}
		haystack = append(haystack, a.Notes)
		if !strings.Contains(strings.ToLower(strings.Join(haystack, "\n")), q) {
			return false
		}
	}
	return true
}

// Filter keeps the appointments matching f, preserving order.
func (f Filters) Filter(in []Appointment) []Appointment {
	out := make([]Appointment, 0, len(in))
	for _, a := range in {
		if f.Matches(a) {
			out = append(out, a)
		}
	}
	return out
}

type EventLog struct {
	ID            int64
	EventType     string
	ClinicSlug    string
	AppointmentID *int64
	Payload       []byte
	CreatedAt     time.Time
}
