package appointment

import (
	"errors"
	"fmt"
)

// ErrUnreadableSlot marks a stored appointment whose times cannot be
// normalized. Such a row is never assumed free.
var ErrUnreadableSlot = errors.New("appointment times cannot be read")

// slotMinutes normalizes both ends of s (bare, with seconds or datetime)
// and returns them as minutes after midnight.
func slotMinutes(s Slot) (start, end int, err error) {
	st, err := NormalizeTime(s.StartTime)
	if err != nil {
		return 0, 0, err
	}
	et, err := NormalizeTime(s.EndTime)
	if err != nil {
		return 0, 0, err
	}
	if start, err = minutesOf(st); err != nil {
		return 0, 0, err
	}
	if end, err = minutesOf(et); err != nil {
		return 0, 0, err
	}
	return start, end, nil
}

// Overlaps reports whether two slots on the same day share any minute.
// Intervals are half-open so back-to-back bookings never overlap.
func Overlaps(a, b Slot) (bool, error) {
	if !a.Date.Equal(b.Date) {
		return false, nil
	}
	as, ae, err := slotMinutes(a)
	if err != nil {
		return false, err
	}
	bs, be, err := slotMinutes(b)
	if err != nil {
		return false, err
	}
	return as < be && bs < ae, nil
}

// HasConflict checks candidate against the doctor's existing bookings.
// The appointment whose id equals excludeID is skipped (0 skips nothing),
// and cancelled appointments never block a slot.
func HasConflict(candidate Slot, existing []Appointment, excludeID int64) (bool, error) {
	clash, err := Conflicts(candidate, existing, excludeID)
	return len(clash) > 0, err
}

// Conflicts returns the existing appointments that overlap candidate. An
// existing row with unreadable times fails the whole check.
func Conflicts(candidate Slot, existing []Appointment, excludeID int64) ([]Appointment, error) {
	var out []Appointment
	for _, a := range existing {
		if excludeID != 0 && a.ID == excludeID {
			continue
		}
		if a.Status == StatusCancelled {
			continue
		}
		ok, err := Overlaps(candidate, a.Slot())
		if err != nil {
			return nil, fmt.Errorf("%w: appointment %d (%q-%q): %v",
				ErrUnreadableSlot, a.ID, a.StartTime, a.EndTime, err)
		}
		if ok {
			out = append(out, a)
		}
	}
	return out, nil
}
