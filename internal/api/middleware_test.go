package api

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/hackgods/clinic-appointment-scheduling/internal/session"
)

func TestSessionMiddlewareCarriesTokenAndRequestID(t *testing.T) {
	var got session.Session
	var ok bool
	h := RequestIDMiddleware(SessionMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got, ok = session.FromContext(r.Context())
	})))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer abc.def")
	req.Header.Set("X-Request-ID", "req-42")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.True(t, ok)
	assert.Equal(t, "abc.def", got.Token)
	assert.Equal(t, "req-42", got.RequestID)
	assert.Equal(t, "req-42", rec.Header().Get("X-Request-ID"))
}

func TestClinicSlugPattern(t *testing.T) {
	for _, slug := range []string{"sunrise", "clinic-42", "a"} {
		assert.True(t, clinicSlugPattern.MatchString(slug), slug)
	}
	for _, slug := range []string{"", "-lead", "Upper", "under_score", "has space"} {
		assert.False(t, clinicSlugPattern.MatchString(slug), slug)
	}
}
