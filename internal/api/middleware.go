package api

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/clinicdesk/clinic-scheduling/internal/booking"
	"github.com/clinicdesk/clinic-scheduling/pkg/logging"
)

type contextKey string

const (
	requestIDKey contextKey = "request_id"
	identityKey  contextKey = "identity"
)

// RequestIDMiddleware adds a unique request ID to each request context
func RequestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = uuid.New().String()
		}

		ctx := context.WithValue(r.Context(), requestIDKey, requestID)
		w.Header().Set("X-Request-ID", requestID)

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// LoggingMiddleware logs method, path, status, duration and request ID.
func LoggingMiddleware(logger *logging.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = logging.Default()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
			next.ServeHTTP(wrapped, r)

			logger.Info("http request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", wrapped.statusCode,
				"duration", time.Since(start),
				"request_id", GetRequestID(r.Context()))
		})
	}
}

// IdentityMiddleware extracts the verified caller identity placed in headers
// by the upstream auth layer. This service never authenticates.
func IdentityMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID, err := uuid.Parse(r.Header.Get("X-User-ID"))
		if err != nil {
			writeError(w, http.StatusUnauthorized, "missing_identity", "X-User-ID header is required")
			return
		}

		ident := booking.Identity{
			UserID: userID,
			Role:   booking.Role(r.Header.Get("X-User-Role")),
		}

		switch ident.Role {
		case booking.RolePatient:
			id, err := uuid.Parse(r.Header.Get("X-Patient-ID"))
			if err != nil {
				writeError(w, http.StatusUnauthorized, "missing_identity", "X-Patient-ID header is required for patients")
				return
			}
			ident.PatientID = id
		case booking.RoleDoctor:
			id, err := uuid.Parse(r.Header.Get("X-Doctor-ID"))
			if err != nil {
				writeError(w, http.StatusUnauthorized, "missing_identity", "X-Doctor-ID header is required for doctors")
				return
			}
			ident.DoctorID = id
		default:
			writeError(w, http.StatusUnauthorized, "invalid_role", "X-User-Role must be patient or doctor")
			return
		}

		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), identityKey, ident)))
	})
}

// GetRequestID retrieves the request ID from context
func GetRequestID(ctx context.Context) string {
	if id, ok := ctx.Value(requestIDKey).(string); ok {
		return id
	}
	return ""
}

// GetIdentity retrieves the verified caller from context.
func GetIdentity(ctx context.Context) (booking.Identity, bool) {
	ident, ok := ctx.Value(identityKey).(booking.Identity)
	return ident, ok
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}
