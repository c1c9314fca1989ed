package api

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clinicdesk/clinic-scheduling/internal/booking"
)

func TestRequestIDMiddleware(t *testing.T) {
	t.Run("generates an ID when none supplied", func(t *testing.T) {
		var captured string
		handler := RequestIDMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			captured = GetRequestID(r.Context())
		}))

		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

		require.NotEmpty(t, captured)
		assert.Equal(t, captured, rec.Header().Get("X-Request-ID"))
	})

	t.Run("propagates a supplied ID", func(t *testing.T) {
		var captured string
		handler := RequestIDMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			captured = GetRequestID(r.Context())
		}))

		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("X-Request-ID", "req-123")
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		assert.Equal(t, "req-123", captured)
	})
}

func TestIdentityMiddleware(t *testing.T) {
	okHandler := func(got *booking.Identity) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ident, ok := GetIdentity(r.Context())
			require.True(t, ok)
			*got = ident
		})
	}

	t.Run("patient identity", func(t *testing.T) {
		userID := uuid.New()
		patientID := uuid.New()

		var got booking.Identity
		req := httptest.NewRequest(http.MethodGet, "/appointments", nil)
		req.Header.Set("X-User-ID", userID.String())
		req.Header.Set("X-User-Role", "patient")
		req.Header.Set("X-Patient-ID", patientID.String())

		rec := httptest.NewRecorder()
		IdentityMiddleware(okHandler(&got)).ServeHTTP(rec, req)

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, userID, got.UserID)
		assert.Equal(t, booking.RolePatient, got.Role)
		assert.Equal(t, patientID, got.PatientID)
	})

	t.Run("doctor identity", func(t *testing.T) {
		userID := uuid.New()
		doctorID := uuid.New()

		var got booking.Identity
		req := httptest.NewRequest(http.MethodGet, "/appointments", nil)
		req.Header.Set("X-User-ID", userID.String())
		req.Header.Set("X-User-Role", "doctor")
		req.Header.Set("X-Doctor-ID", doctorID.String())

		rec := httptest.NewRecorder()
		IdentityMiddleware(okHandler(&got)).ServeHTTP(rec, req)

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, booking.RoleDoctor, got.Role)
		assert.Equal(t, doctorID, got.DoctorID)
	})

	t.Run("missing user ID rejected", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/appointments", nil)
		rec := httptest.NewRecorder()
		IdentityMiddleware(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
			t.Fatal("handler must not run")
		})).ServeHTTP(rec, req)

		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("patient without patient ID rejected", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/appointments", nil)
		req.Header.Set("X-User-ID", uuid.New().String())
		req.Header.Set("X-User-Role", "patient")

		rec := httptest.NewRecorder()
		IdentityMiddleware(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
			t.Fatal("handler must not run")
		})).ServeHTTP(rec, req)

		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("unknown role rejected", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/appointments", nil)
		req.Header.Set("X-User-ID", uuid.New().String())
		req.Header.Set("X-User-Role", "admin")

		rec := httptest.NewRecorder()
		IdentityMiddleware(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
			t.Fatal("handler must not run")
		})).ServeHTTP(rec, req)

		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})
}
