package appointment

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

const (
	BusinessHoursStart = "08:00"
	BusinessHoursEnd   = "18:00"

	MinDurationMinutes = 15
	MaxDurationMinutes = 180
)

var (
	ErrInvalidTimeFormat = errors.New("invalid time format")
	ErrInvalidDuration   = errors.New("end time must be after start time")
	ErrDurationTooShort  = fmt.Errorf("appointment must last at least %d minutes", MinDurationMinutes)
	ErrDurationTooLong   = fmt.Errorf("appointment must last at most %d minutes", MaxDurationMinutes)
)

var hhmmPattern = regexp.MustCompile(`^([0-1]?[0-9]|2[0-3]):[0-5][0-9]$`)

// Layouts accepted for datetime-shaped input. Zone information is
// ignored: the wall clock as written is the appointment time.
var datetimeLayouts = []string{
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02T15:04:05.000Z",
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02 15:04:05Z07:00",
}

// NormalizeTime turns a bare time ("9:05", "09:05:30") or a full datetime
// ("2024-11-25 13:40:00") into zero padded "HH:MM".
func NormalizeTime(input string) (string, error) {
	s := strings.TrimSpace(input)
	if s == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidTimeFormat)
	}

	if looksLikeDatetime(s) {
		for _, layout := range datetimeLayouts {
			if t, err := time.Parse(layout, s); err == nil {
				return fmt.Sprintf("%02d:%02d", t.Hour(), t.Minute()), nil
			}
		}
		return "", fmt.Errorf("%w: %q", ErrInvalidTimeFormat, input)
	}

	parts := strings.Split(s, ":")
	if len(parts) < 2 || len(parts) > 3 {
		return "", fmt.Errorf("%w: %q", ErrInvalidTimeFormat, input)
	}
	hour := parts[0]
	if len(hour) == 1 {
		hour = "0" + hour
	}
	out := hour + ":" + parts[1]
	if !hhmmPattern.MatchString(out) {
		return "", fmt.Errorf("%w: %q", ErrInvalidTimeFormat, input)
	}
	if len(parts) == 3 {
		if sec, err := strconv.Atoi(parts[2]); err != nil || sec < 0 || sec > 59 {
			return "", fmt.Errorf("%w: %q", ErrInvalidTimeFormat, input)
		}
	}
	return out, nil
}

func looksLikeDatetime(s string) bool {
	return strings.ContainsAny(s, "T -") && len(s) > len("15:04:05")
}

// minutesOf converts a normalized "HH:MM" into minutes after midnight.
func minutesOf(hhmm string) (int, error) {
	if !hhmmPattern.MatchString(hhmm) {
		return 0, fmt.Errorf("%w: %q", ErrInvalidTimeFormat, hhmm)
	}
	h, m, _ := strings.Cut(hhmm, ":")
	hours, _ := strconv.Atoi(h)
	mins, _ := strconv.Atoi(m)
	return hours*60 + mins, nil
}

// IsWithinBusinessHours reports whether [start, end) sits inside 08:00-18:00.
// Unparseable input is never within business hours.
func IsWithinBusinessHours(start, end string) bool {
	s, err := minutesOf(start)
	if err != nil {
		return false
	}
	e, err := minutesOf(end)
	if err != nil {
		return false
	}
	open, _ := minutesOf(BusinessHoursStart)
	closing, _ := minutesOf(BusinessHoursEnd)
	return s >= open && s < closing && e > open && e <= closing
}

// DurationMinutes returns end-start in minutes. The duration is returned
// even when it falls outside the allowed range so callers can report it.
func DurationMinutes(start, end string) (int, error) {
	s, err := minutesOf(start)
	if err != nil {
		return 0, err
	}
	e, err := minutesOf(end)
	if err != nil {
		return 0, err
	}
	d := e - s
	switch {
	case d <= 0:
		return d, ErrInvalidDuration
	case d < MinDurationMinutes:
		return d, ErrDurationTooShort
	case d > MaxDurationMinutes:
		return d, ErrDurationTooLong
	}
	return d, nil
}
