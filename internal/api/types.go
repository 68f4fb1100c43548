package api

import (
	"encoding/json"
	"net/http"

	"github.com/hackgods/clinic-appointment-scheduling/internal/appointment"
)

type CreateAppointmentRequest struct {
	DoctorID   int64                       `json:"doctor_id"`
	PatientID  int64                       `json:"patient_id"`
	Date       appointment.Date            `json:"date"`
	StartTime  string                      `json:"start_time"`
	EndTime    string                      `json:"end_time"`
	Notes      string                      `json:"notes,omitempty"`
	Room       string                      `json:"room,omitempty"`
	Recurrence *appointment.RecurrenceSpec `json:"recurrence,omitempty"`
}

// toDomain converts the wire recurrence into its typed form. Recurrence
// errors are returned so they surface as a 422 like any other rule.
func (r CreateAppointmentRequest) toDomain() (appointment.CreateRequest, []appointment.ValidationError) {
	rec, errs := r.Recurrence.Recurrence()
	return appointment.CreateRequest{
		DoctorID:   r.DoctorID,
		PatientID:  r.PatientID,
		Date:       r.Date,
		StartTime:  r.StartTime,
		EndTime:    r.EndTime,
		Notes:      r.Notes,
		Room:       r.Room,
		Recurrence: rec,
	}, errs
}

type UpdateScope struct {
	UpdateAll bool `json:"update_all"`
}

type UpdateAppointmentRequest struct {
	appointment.Patch
	Recurrence *UpdateScope `json:"recurrence,omitempty"`
}

func (r UpdateAppointmentRequest) updateAll() bool {
	return r.Recurrence != nil && r.Recurrence.UpdateAll
}

type ValidateSlotRequest struct {
	DoctorID  int64            `json:"doctor_id"`
	Date      appointment.Date `json:"date"`
	StartTime string           `json:"start_time"`
	EndTime   string           `json:"end_time"`
	ExcludeID int64            `json:"exclude_id,omitempty"`
}

type ValidateSlotResponse struct {
	Valid  bool                          `json:"valid"`
	Errors []appointment.ValidationError `json:"errors"`
}

type ListResponse struct {
	Appointments []appointment.Appointment `json:"appointments"`
	Count        int                       `json:"count"`
}

type ErrorResponse struct {
	Error   string                        `json:"error"`
	Details string                        `json:"details,omitempty"`
	Errors  []appointment.ValidationError `json:"errors,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, details string) {
	writeJSON(w, status, ErrorResponse{Error: code, Details: details})
}

func listResponse(appts []appointment.Appointment) ListResponse {
	if appts == nil {
		appts = []appointment.Appointment{}
	}
	return ListResponse{Appointments: appts, Count: len(appts)}
}
