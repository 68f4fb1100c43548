package appointment

import (
	"context"
	"errors"
	"fmt"
)

// AppointmentLookup is the read-only view the validator needs.
type AppointmentLookup interface {
	ListByDoctor(ctx context.Context, clinic string, doctorID int64) ([]Appointment, error)
}

type Validator struct {
	lookup AppointmentLookup
}

func NewValidator(lookup AppointmentLookup) *Validator {
	return &Validator{lookup: lookup}
}

// CheckSlot runs the checks that need no I/O: time format, business hours
// and duration. On success the returned slot carries normalized times.
// Format errors short-circuit; hours and duration errors accumulate.
func CheckSlot(slot Slot) (Slot, []ValidationError) {
	start, errStart := NormalizeTime(slot.StartTime)
	end, errEnd := NormalizeTime(slot.EndTime)

	var errs []ValidationError
	if errStart != nil {
		errs = append(errs, ValidationError{
			Message: fmt.Sprintf("start time %q is not a valid HH:MM time", slot.StartTime),
			Field:   "start_time",
			Code:    CodeInvalidTimeFormat,
		})
	}
	if errEnd != nil {
		errs = append(errs, ValidationError{
			Message: fmt.Sprintf("end time %q is not a valid HH:MM time", slot.EndTime),
			Field:   "end_time",
			Code:    CodeInvalidTimeFormat,
		})
	}
	if len(errs) > 0 {
		return slot, errs
	}

	slot.StartTime = start
	slot.EndTime = end

	if !IsWithinBusinessHours(start, end) {
		errs = append(errs, ValidationError{
			Message: fmt.Sprintf("appointment must be between %s and %s", BusinessHoursStart, BusinessHoursEnd),
			Field:   "start_time",
			Code:    CodeOutsideBusinessHours,
		})
	}

	if _, err := DurationMinutes(start, end); err != nil {
		ve := ValidationError{Message: err.Error(), Field: "end_time"}
		switch {
		case errors.Is(err, ErrInvalidDuration):
			ve.Code = CodeInvalidDuration
		case errors.Is(err, ErrDurationTooShort):
			ve.Code = CodeDurationTooShort
		case errors.Is(err, ErrDurationTooLong):
			ve.Code = CodeDurationTooLong
		default:
			ve.Code = CodeInvalidTimeFormat
		}
		errs = append(errs, ve)
	}

	return slot, errs
}

// Validate runs the full pass for one slot. The conflict check reads the
// doctor's current appointments and only runs once the slot itself is
// well formed. The returned error is reserved for lookup failures; rule
// violations come back in the slice.
func (v *Validator) Validate(ctx context.Context, clinic string, slot Slot, excludeID int64) ([]ValidationError, error) {
	normalized, errs := CheckSlot(slot)
	if len(errs) > 0 {
		return errs, nil
	}

	existing, err := v.lookup.ListByDoctor(ctx, clinic, normalized.DoctorID)
	if err != nil {
		return nil, fmt.Errorf("load doctor appointments: %w", err)
	}

	clash, err := Conflicts(normalized, existing, excludeID)
	if err != nil {
		return nil, fmt.Errorf("check doctor appointments: %w", err)
	}
	if len(clash) > 0 {
		return []ValidationError{{
			Message: fmt.Sprintf("doctor already has an appointment on %s from %s to %s",
				clash[0].Date, displayTime(clash[0].StartTime), displayTime(clash[0].EndTime)),
			Field: "start_time",
			Code:  CodeTimeConflict,
		}}, nil
	}

	return nil, nil
}

// displayTime renders a stored time as HH:MM when it can be normalized.
func displayTime(s string) string {
	if v, err := NormalizeTime(s); err == nil {
		return v
	}
	return s
}
