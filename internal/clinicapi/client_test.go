package clinicapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hackgods/clinic-appointment-scheduling/internal/appointment"
	"github.com/hackgods/clinic-appointment-scheduling/internal/session"
	"github.com/hackgods/clinic-appointment-scheduling/pkg/logging"
)

func newTestClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return NewClient(srv.URL+"/", WithHTTPClient(srv.Client()), WithLogger(logging.Discard()))
}

func TestListByClinicSendsFiltersAndToken(t *testing.T) {
	var gotPath, gotQuery, gotAuth, gotRequestID string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotQuery = r.URL.RawQuery
		gotAuth = r.Header.Get("Authorization")
		gotRequestID = r.Header.Get("X-Request-ID")
		_, _ = w.Write([]byte(`[{"id":1,"doctor_id":3,"patient_id":4,"date":"2030-01-07","start_time":"09:00","end_time":"10:00","status":"scheduled"}]`))
	})

	ctx := session.WithSession(context.Background(), session.Session{Token: "tok-123", RequestID: "req-9"})
	from := appointment.NewDate(2030, 1, 1)
	got, err := c.ListByClinic(ctx, "sunrise", appointment.Filters{DoctorID: 3, Status: appointment.StatusScheduled, From: &from})
	require.NoError(t, err)

	assert.Equal(t, "/clinics/sunrise/appointments", gotPath)
	assert.Equal(t, "doctor_id=3&from=2030-01-01&status=scheduled", gotQuery)
	assert.Equal(t, "Bearer tok-123", gotAuth)
	assert.Equal(t, "req-9", gotRequestID)

	require.Len(t, got, 1)
	assert.Equal(t, "2030-01-07", got[0].Date.String())
	assert.Equal(t, appointment.StatusScheduled, got[0].Status)
}

func TestGetNotFound(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"message":"no such appointment"}`, http.StatusNotFound)
	})

	_, err := c.Get(context.Background(), "sunrise", 42)
	assert.ErrorIs(t, err, appointment.ErrAppointmentNotFound)
}

func TestUpstreamErrorBecomesAPIError(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		_, _ = w.Write([]byte(`{"message":"doctor is inactive"}`))
	})

	_, err := c.Create(context.Background(), "sunrise", appointment.Draft{DoctorID: 1})
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusUnprocessableEntity, apiErr.StatusCode)
	assert.Equal(t, "doctor is inactive", apiErr.Message)
}

func TestCreateBatchPostsAllInstances(t *testing.T) {
	var body struct {
		Appointments []appointment.Draft `json:"appointments"`
	}
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/clinics/sunrise/appointments/batch", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`[{"id":1},{"id":2}]`))
	})

	drafts := []appointment.Draft{
		{DoctorID: 1, PatientID: 2, Date: appointment.NewDate(2030, 1, 7), StartTime: "09:00", EndTime: "10:00"},
		{DoctorID: 1, PatientID: 2, Date: appointment.NewDate(2030, 1, 8), StartTime: "09:00", EndTime: "10:00"},
	}
	got, err := c.CreateBatch(context.Background(), "sunrise", drafts)
	require.NoError(t, err)
	assert.Len(t, got, 2)
	require.Len(t, body.Appointments, 2)
	assert.Equal(t, "2030-01-08", body.Appointments[1].Date.String())
}

func TestUpdateSendsOnlyPatchedFields(t *testing.T) {
	var raw map[string]any
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPut, r.Method)
		assert.Equal(t, "/clinics/sunrise/appointments/7/series", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&raw))
		_, _ = w.Write([]byte(`[{"id":7,"notes":"updated"}]`))
	})

	notes := "updated"
	got, err := c.UpdateSeries(context.Background(), "sunrise", 7, appointment.Patch{Notes: &notes})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, map[string]any{"notes": "updated"}, raw)
}

func TestDeleteAcceptsNoContent(t *testing.T) {
	var gotMethod, gotPath string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotMethod, gotPath = r.Method, r.URL.Path
		w.WriteHeader(http.StatusNoContent)
	})

	require.NoError(t, c.Delete(context.Background(), "sunrise", 5))
	assert.Equal(t, http.MethodDelete, gotMethod)
	assert.Equal(t, "/clinics/sunrise/appointments/5", gotPath)

	require.NoError(t, c.DeleteSeries(context.Background(), "sunrise", 5))
	assert.Equal(t, "/clinics/sunrise/appointments/5/series", gotPath)
}

func TestNoSessionSendsNoAuthorization(t *testing.T) {
	var gotAuth string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		_, _ = w.Write([]byte(`[]`))
	})

	_, err := c.ListByDoctor(context.Background(), "sunrise", 3)
	require.NoError(t, err)
	assert.Empty(t, gotAuth)
}

func TestServiceSeesConflictsInUpstreamDatetimeRows(t *testing.T) {
	var posted bool
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodGet && r.URL.Path == "/clinics/sunrise/doctors/1/appointments":
			_, _ = w.Write([]byte(`[{"id":5,"doctor_id":1,"patient_id":9,"date":"2030-06-10T00:00:00.000Z",` +
				`"start_time":"2030-06-10T09:00:00.000Z","end_time":"2030-06-10T09:30:00.000Z","status":"scheduled"}]`))
		case r.Method == http.MethodPost:
			posted = true
			w.WriteHeader(http.StatusCreated)
			_, _ = w.Write([]byte(`{"id":6}`))
		default:
			http.NotFound(w, r)
		}
	})

	svc := appointment.NewService(c, nil,
		appointment.WithLogger(logging.Discard()),
		appointment.WithClock(func() time.Time { return time.Date(2030, 6, 1, 8, 0, 0, 0, time.UTC) }),
	)
	_, err := svc.Create(context.Background(), "sunrise", appointment.CreateRequest{
		DoctorID: 1, PatientID: 100, Date: appointment.NewDate(2030, 6, 10), StartTime: "09:00", EndTime: "09:30",
	})

	var vfe *appointment.ValidationFailedError
	require.ErrorAs(t, err, &vfe)
	assert.True(t, vfe.HasCode(appointment.CodeTimeConflict))
	assert.False(t, posted, "conflicting booking must not reach the upstream API")
}
