package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/hackgods/clinic-appointment-scheduling/internal/appointment"
	"github.com/hackgods/clinic-appointment-scheduling/internal/clinicapi"
	redisclient "github.com/hackgods/clinic-appointment-scheduling/internal/redis"
	"github.com/hackgods/clinic-appointment-scheduling/pkg/logging"
)

type appointmentHandler struct {
	svc    *appointment.Service
	logger *logging.Logger
}

func (h *appointmentHandler) list(w http.ResponseWriter, r *http.Request) {
	f, err := parseFilters(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_filter", err.Error())
		return
	}

	appts, err := h.svc.List(r.Context(), clinicFrom(r), f)
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, listResponse(appts))
}

func (h *appointmentHandler) listByDoctor(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "doctorID")
	if !ok {
		return
	}
	appts, err := h.svc.ListByDoctor(r.Context(), clinicFrom(r), id)
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, listResponse(appts))
}

func (h *appointmentHandler) listByPatient(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "patientID")
	if !ok {
		return
	}
	appts, err := h.svc.ListByPatient(r.Context(), clinicFrom(r), id)
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, listResponse(appts))
}

func (h *appointmentHandler) get(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	appt, err := h.svc.Get(r.Context(), clinicFrom(r), id)
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, appt)
}

func (h *appointmentHandler) create(w http.ResponseWriter, r *http.Request) {
	var req CreateAppointmentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
		return
	}

	in, errs := req.toDomain()
	if len(errs) > 0 {
		h.handleError(w, r, &appointment.ValidationFailedError{Errors: errs})
		return
	}

	res, err := h.svc.Create(r.Context(), clinicFrom(r), in)
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	if res.SkippedDates == nil {
		res.SkippedDates = []appointment.Date{}
	}
	writeJSON(w, http.StatusCreated, res)
}

func (h *appointmentHandler) update(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}

	var req UpdateAppointmentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
		return
	}

	updated, err := h.svc.Update(r.Context(), clinicFrom(r), id, req.Patch, req.updateAll())
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	if !req.updateAll() && len(updated) == 1 {
		writeJSON(w, http.StatusOK, updated[0])
		return
	}
	writeJSON(w, http.StatusOK, listResponse(updated))
}

func (h *appointmentHandler) delete(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	cascade, _ := strconv.ParseBool(r.URL.Query().Get("cascade"))

	if err := h.svc.Delete(r.Context(), clinicFrom(r), id, cascade); err != nil {
		h.handleError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *appointmentHandler) confirm(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.svc.Confirm)
}

func (h *appointmentHandler) cancel(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.svc.Cancel)
}

func (h *appointmentHandler) complete(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.svc.Complete)
}

type transitionFunc func(ctx context.Context, clinic string, id int64) (*appointment.Appointment, error)

func (h *appointmentHandler) transition(w http.ResponseWriter, r *http.Request, fn transitionFunc) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	appt, err := fn(r.Context(), clinicFrom(r), id)
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, appt)
}

// validate runs the full slot validation without writing anything.
func (h *appointmentHandler) validate(w http.ResponseWriter, r *http.Request) {
	var req ValidateSlotRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
		return
	}

	slot := appointment.Slot{DoctorID: req.DoctorID, Date: req.Date, StartTime: req.StartTime, EndTime: req.EndTime}
	errs, err := h.svc.Validator().Validate(r.Context(), clinicFrom(r), slot, req.ExcludeID)
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	if errs == nil {
		errs = []appointment.ValidationError{}
	}
	writeJSON(w, http.StatusOK, ValidateSlotResponse{Valid: len(errs) == 0, Errors: errs})
}

// expand previews the instances a create request would produce.
func (h *appointmentHandler) expand(w http.ResponseWriter, r *http.Request) {
	var req CreateAppointmentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
		return
	}

	in, errs := req.toDomain()
	if len(errs) > 0 {
		h.handleError(w, r, &appointment.ValidationFailedError{Errors: errs})
		return
	}

	exp, err := h.svc.Preview(in)
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	if exp.SkippedDates == nil {
		exp.SkippedDates = []appointment.Date{}
	}
	writeJSON(w, http.StatusOK, exp)
}

func (h *appointmentHandler) handleError(w http.ResponseWriter, r *http.Request, err error) {
	var vfe *appointment.ValidationFailedError
	var apiErr *clinicapi.APIError

	switch {
	case errors.As(err, &vfe):
		writeJSON(w, http.StatusUnprocessableEntity, ErrorResponse{
			Error:  "validation_failed",
			Errors: vfe.Errors,
		})
	case errors.Is(err, appointment.ErrAppointmentNotFound):
		writeError(w, http.StatusNotFound, "appointment_not_found", err.Error())
	case errors.Is(err, appointment.ErrInvalidStatusTransition):
		writeError(w, http.StatusConflict, "invalid_status_transition", err.Error())
	case errors.Is(err, appointment.ErrScheduleBusy),
		errors.Is(err, redisclient.ErrLockNotAcquired):
		writeError(w, http.StatusConflict, "schedule_busy", "doctor schedule is being modified, please retry shortly")
	case errors.Is(err, appointment.ErrUnreadableSlot):
		h.logger.Error("stored appointment unreadable", "error", err, "request_id", GetRequestID(r.Context()))
		writeError(w, http.StatusBadGateway, "unreadable_appointment", err.Error())
	case errors.As(err, &apiErr):
		h.logger.Warn("clinic api error", "status", apiErr.StatusCode, "error", apiErr.Message, "request_id", GetRequestID(r.Context()))
		writeError(w, http.StatusBadGateway, "upstream_error", apiErr.Message)
	default:
		h.logger.Error("request failed", "path", r.URL.Path, "error", err, "request_id", GetRequestID(r.Context()))
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
	}
}

func pathID(w http.ResponseWriter, r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "invalid_"+strings.ToLower(name), name+" must be a positive integer")
		return 0, false
	}
	return id, true
}

func parseFilters(r *http.Request) (appointment.Filters, error) {
	q := r.URL.Query()
	var f appointment.Filters

	parseID := func(key string) (int64, error) {
		v := q.Get(key)
		if v == "" {
			return 0, nil
		}
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil || id <= 0 {
			return 0, errors.New(key + " must be a positive integer")
		}
		return id, nil
	}
	parseDate := func(key string) (*appointment.Date, error) {
		v := q.Get(key)
		if v == "" {
			return nil, nil
		}
		d, err := appointment.ParseDate(v)
		if err != nil {
			return nil, errors.New(key + " must be YYYY-MM-DD")
		}
		return &d, nil
	}

	var err error
	if f.DoctorID, err = parseID("doctor_id"); err != nil {
		return f, err
	}
	if f.PatientID, err = parseID("patient_id"); err != nil {
		return f, err
	}
	if f.From, err = parseDate("from"); err != nil {
		return f, err
	}
	if f.To, err = parseDate("to"); err != nil {
		return f, err
	}
	if v := q.Get("status"); v != "" {
		f.Status = appointment.AppointmentStatus(v)
		if !f.Status.Valid() {
			return f, errors.New("unknown status " + strconv.Quote(v))
		}
	}
	if v := q.Get("series_id"); v != "" {
		if f.SeriesID, err = uuid.Parse(v); err != nil {
			return f, errors.New("series_id must be a UUID")
		}
	}
	f.Search = q.Get("search")
	return f, nil
}
