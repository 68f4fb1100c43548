package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hackgods/clinic-appointment-scheduling/internal/appointment"
	"github.com/hackgods/clinic-appointment-scheduling/internal/observability/metrics"
	redisclient "github.com/hackgods/clinic-appointment-scheduling/internal/redis"
	"github.com/hackgods/clinic-appointment-scheduling/pkg/logging"
)

type testServer struct {
	handler http.Handler
	repo    *appointment.MemoryRepository
}

func newTestServer(t *testing.T, checks ...HealthCheck) *testServer {
	t.Helper()
	repo := appointment.NewMemoryRepository()
	repo.AddDoctor("sunrise", appointment.Doctor{ID: 1, Name: "Dr. Ana Silva"})
	repo.AddPatient("sunrise", appointment.Patient{ID: 100, Name: "Jamie Park"})

	svc := appointment.NewService(repo, redisclient.NopLocker{},
		appointment.WithLogger(logging.Discard()),
		appointment.WithEventRecorder(repo),
		appointment.WithClock(func() time.Time { return time.Date(2030, 1, 1, 8, 0, 0, 0, time.UTC) }),
	)
	return &testServer{
		handler: NewRouter(RouterConfig{
			Service:      svc,
			Logger:       logging.Discard(),
			Metrics:      metrics.NewSchedulingMetrics(prometheus.NewRegistry()),
			HealthChecks: checks,
			Env:          "test",
			Version:      "v0.0.1",
		}),
		repo: repo,
	}
}

func (s *testServer) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func createBody(date, start, end string) map[string]any {
	return map[string]any{
		"doctor_id":  1,
		"patient_id": 100,
		"date":       date,
		"start_time": start,
		"end_time":   end,
	}
}

func TestCreateAndGetAppointment(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodPost, "/clinics/sunrise/appointments", createBody("2030-01-07", "9:00", "10:00"))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	res := decode[appointment.CreateResult](t, rec)
	require.Len(t, res.Appointments, 1)
	assert.Equal(t, "09:00", res.Appointments[0].StartTime)
	assert.Empty(t, res.SkippedDates)

	rec = s.do(t, http.MethodGet, "/clinics/sunrise/appointments/1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	got := decode[appointment.Appointment](t, rec)
	assert.Equal(t, "2030-01-07", got.Date.String())
	require.NotNil(t, got.Doctor)
	assert.Equal(t, "Dr. Ana Silva", got.Doctor.Name)
}

func TestCreateValidationFailure(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodPost, "/clinics/sunrise/appointments", createBody("2030-01-07", "07:00", "07:05"))
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	resp := decode[ErrorResponse](t, rec)
	assert.Equal(t, "validation_failed", resp.Error)
	assert.True(t, appointment.HasCode(resp.Errors, appointment.CodeOutsideBusinessHours))
	assert.True(t, appointment.HasCode(resp.Errors, appointment.CodeDurationTooShort))
}

func TestCreateRejectsBadRecurrence(t *testing.T) {
	s := newTestServer(t)

	body := createBody("2030-01-07", "09:00", "10:00")
	body["recurrence"] = map[string]any{"type": "yearly"}
	rec := s.do(t, http.MethodPost, "/clinics/sunrise/appointments", body)
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	resp := decode[ErrorResponse](t, rec)
	assert.True(t, appointment.HasCode(resp.Errors, appointment.CodeInvalidRecurrence))
}

func TestCreateRecurringAndCascadeDelete(t *testing.T) {
	s := newTestServer(t)

	body := createBody("2030-01-07", "09:00", "10:00")
	body["recurrence"] = map[string]any{"type": "weekly", "days_of_week": []int{1, 3, 5}, "end_date": "2030-01-20"}
	rec := s.do(t, http.MethodPost, "/clinics/sunrise/appointments", body)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	res := decode[appointment.CreateResult](t, rec)
	require.Len(t, res.Appointments, 6)
	seriesID := res.Appointments[0].Series.SeriesID

	rec = s.do(t, http.MethodGet, "/clinics/sunrise/appointments?series_id="+seriesID.String(), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 6, decode[ListResponse](t, rec).Count)

	rec = s.do(t, http.MethodDelete, "/clinics/sunrise/appointments/2?cascade=true", nil)
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = s.do(t, http.MethodGet, "/clinics/sunrise/appointments", nil)
	assert.Equal(t, 0, decode[ListResponse](t, rec).Count)
}

func TestConflictReturns422(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodPost, "/clinics/sunrise/appointments", createBody("2030-01-07", "09:00", "10:00"))
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = s.do(t, http.MethodPost, "/clinics/sunrise/appointments", createBody("2030-01-07", "09:30", "10:30"))
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.True(t, appointment.HasCode(decode[ErrorResponse](t, rec).Errors, appointment.CodeTimeConflict))
}

func TestUpdateAndTransitions(t *testing.T) {
	s := newTestServer(t)
	rec := s.do(t, http.MethodPost, "/clinics/sunrise/appointments", createBody("2030-01-07", "09:00", "10:00"))
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = s.do(t, http.MethodPut, "/clinics/sunrise/appointments/1", map[string]any{"notes": "fasting", "start_time": "09:30", "end_time": "10:30"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	updated := decode[appointment.Appointment](t, rec)
	assert.Equal(t, "fasting", updated.Notes)
	assert.Equal(t, "09:30", updated.StartTime)

	for _, step := range []struct {
		action string
		want   appointment.AppointmentStatus
	}{
		{"confirm", appointment.StatusConfirmed},
		{"complete", appointment.StatusCompleted},
		{"cancel", appointment.StatusCancelled},
	} {
		rec = s.do(t, http.MethodPost, "/clinics/sunrise/appointments/1/"+step.action, nil)
		require.Equal(t, http.StatusOK, rec.Code, step.action)
		assert.Equal(t, step.want, decode[appointment.Appointment](t, rec).Status)
	}
}

func TestNotFoundAndBadInput(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodGet, "/clinics/sunrise/appointments/99", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = s.do(t, http.MethodGet, "/clinics/sunrise/appointments/abc", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(t, http.MethodGet, "/clinics/Sunrise_Clinic/appointments", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(t, http.MethodGet, "/clinics/sunrise/appointments?status=lost", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(t, http.MethodGet, "/clinics/sunrise/appointments?from=07-01-2030", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	req := httptest.NewRequest(http.MethodPost, "/clinics/sunrise/appointments", bytes.NewBufferString("{"))
	rr := httptest.NewRecorder()
	s.handler.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestDoctorAndPatientListings(t *testing.T) {
	s := newTestServer(t)
	rec := s.do(t, http.MethodPost, "/clinics/sunrise/appointments", createBody("2030-01-07", "09:00", "10:00"))
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = s.do(t, http.MethodGet, "/clinics/sunrise/doctors/1/appointments", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, decode[ListResponse](t, rec).Count)

	rec = s.do(t, http.MethodGet, "/clinics/sunrise/patients/100/appointments", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, decode[ListResponse](t, rec).Count)

	rec = s.do(t, http.MethodGet, "/clinics/other/doctors/1/appointments", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 0, decode[ListResponse](t, rec).Count)
}

func TestValidateEndpoint(t *testing.T) {
	s := newTestServer(t)
	rec := s.do(t, http.MethodPost, "/clinics/sunrise/appointments", createBody("2030-01-07", "09:00", "10:00"))
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = s.do(t, http.MethodPost, "/clinics/sunrise/appointments/validate", map[string]any{
		"doctor_id": 1, "date": "2030-01-07", "start_time": "09:30", "end_time": "10:30",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decode[ValidateSlotResponse](t, rec)
	assert.False(t, resp.Valid)
	assert.True(t, appointment.HasCode(resp.Errors, appointment.CodeTimeConflict))

	rec = s.do(t, http.MethodPost, "/clinics/sunrise/appointments/validate", map[string]any{
		"doctor_id": 1, "date": "2030-01-07", "start_time": "09:30", "end_time": "10:30", "exclude_id": 1,
	})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, decode[ValidateSlotResponse](t, rec).Valid)
}

func TestExpandEndpoint(t *testing.T) {
	s := newTestServer(t)

	body := createBody("2029-12-30", "09:00", "10:00")
	body["recurrence"] = map[string]any{"type": "daily", "end_date": "2030-01-03"}
	rec := s.do(t, http.MethodPost, "/clinics/sunrise/appointments/expand", body)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	exp := decode[appointment.Expansion](t, rec)
	assert.Len(t, exp.Instances, 3)
	assert.Len(t, exp.SkippedDates, 2)
	assert.False(t, exp.Truncated)

	body["recurrence"] = map[string]any{"type": "daily", "end_date": "2030-06-30"}
	rec = s.do(t, http.MethodPost, "/clinics/sunrise/appointments/expand", body)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	exp = decode[appointment.Expansion](t, rec)
	assert.Len(t, exp.Instances, appointment.MaxRecurrenceInstances)
	assert.True(t, exp.Truncated)

	all, err := s.repo.ListByClinic(context.Background(), "sunrise", appointment.Filters{})
	require.NoError(t, err)
	assert.Empty(t, all, "preview must not write")
}

func TestHealthEndpoints(t *testing.T) {
	s := newTestServer(t,
		HealthCheck{Name: "postgres", Critical: true, Pinger: PingFunc(func(context.Context) error { return nil })},
		HealthCheck{Name: "redis", Pinger: PingFunc(func(context.Context) error { return errors.New("down") })},
	)

	rec := s.do(t, http.MethodGet, "/health/live", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "v0.0.1", decode[LivenessResponse](t, rec).Version)

	rec = s.do(t, http.MethodGet, "/health/ready", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	ready := decode[ReadinessResponse](t, rec)
	assert.Equal(t, "degraded", ready.Status)
	assert.Equal(t, "down", ready.Dependencies["redis"])
	assert.Equal(t, "ok", ready.Dependencies["postgres"])
}

func TestReadinessFailsOnCriticalDependency(t *testing.T) {
	s := newTestServer(t,
		HealthCheck{Name: "postgres", Critical: true, Pinger: PingFunc(func(context.Context) error { return errors.New("refused") })},
	)

	rec := s.do(t, http.MethodGet, "/health/ready", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "error", decode[ReadinessResponse](t, rec).Status)
}
