package appointment

import (
	"errors"
	"fmt"
	"strings"
)

type ErrorCode string

const (
	CodeInvalidTimeFormat    ErrorCode = "INVALID_TIME_FORMAT"
	CodeOutsideBusinessHours ErrorCode = "OUTSIDE_BUSINESS_HOURS"
	CodeInvalidDuration      ErrorCode = "INVALID_DURATION"
	CodeDurationTooShort     ErrorCode = "DURATION_TOO_SHORT"
	CodeDurationTooLong      ErrorCode = "DURATION_TOO_LONG"
	CodeTimeConflict         ErrorCode = "TIME_CONFLICT"
	CodeMissingRequiredField ErrorCode = "MISSING_REQUIRED_FIELD"
	CodeInvalidRecurrence    ErrorCode = "INVALID_RECURRENCE"
	CodeEmptySeries          ErrorCode = "EMPTY_SERIES"
	CodeInvalidSeriesUpdate  ErrorCode = "INVALID_SERIES_UPDATE"
	CodeInvalidStatus        ErrorCode = "INVALID_STATUS"
)

// ErrValidationFailed matches any *ValidationFailedError via errors.Is.
var ErrValidationFailed = errors.New("validation failed")

// ValidationError is one rule violation. Date is set when the violation
// belongs to a specific instance of a recurring series.
type ValidationError struct {
	Message string    `json:"message"`
	Field   string    `json:"field,omitempty"`
	Code    ErrorCode `json:"code"`
	Date    string    `json:"date,omitempty"`
}

func (e ValidationError) Error() string {
	var b strings.Builder
	b.WriteString(string(e.Code))
	if e.Date != "" {
		b.WriteString(" [" + e.Date + "]")
	}
	if e.Field != "" {
		b.WriteString(" " + e.Field)
	}
	b.WriteString(": " + e.Message)
	return b.String()
}

// ValidationFailedError carries every violation found in one pass.
type ValidationFailedError struct {
	Errors []ValidationError
}

func (e *ValidationFailedError) Error() string {
	parts := make([]string, 0, len(e.Errors))
	for _, ve := range e.Errors {
		parts = append(parts, ve.Error())
	}
	return fmt.Sprintf("%s: %s", ErrValidationFailed, strings.Join(parts, "; "))
}

func (e *ValidationFailedError) Is(target error) bool {
	return target == ErrValidationFailed
}

// HasCode reports whether any collected error carries code.
func (e *ValidationFailedError) HasCode(code ErrorCode) bool {
	return HasCode(e.Errors, code)
}

func HasCode(errs []ValidationError, code ErrorCode) bool {
	for _, ve := range errs {
		if ve.Code == code {
			return true
		}
	}
	return false
}

func validationFailed(errs []ValidationError) error {
	if len(errs) == 0 {
		return nil
	}
	return &ValidationFailedError{Errors: errs}
}
