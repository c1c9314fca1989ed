package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/clinicdesk/clinic-scheduling/internal/booking"
	"github.com/clinicdesk/clinic-scheduling/pkg/logging"
)

type RouterConfig struct {
	Service  *booking.Service
	PgPool   *pgxpool.Pool
	Redis    *redis.Client
	Registry *prometheus.Registry
	Logger   *logging.Logger
	Env      string
	Version  string
}

func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(cfg.Logger))

	// Health and metrics carry no caller identity.
	health := NewHealthHandler(cfg.PgPool, cfg.Redis, cfg.Env, cfg.Version)
	r.Get("/health/live", health.Liveness)
	r.Get("/health/ready", health.Readiness)
	if cfg.Registry != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(cfg.Registry, promhttp.HandlerOpts{}))
	}

	r.Group(func(r chi.Router) {
		r.Use(IdentityMiddleware)

		r.Post("/appointments", bookSlotHandler(cfg.Service))
		r.Post("/appointments/direct", directAppointmentHandler(cfg.Service))
		r.Get("/appointments", listAppointmentsHandler(cfg.Service))
		r.Get("/appointments/{id}", getAppointmentHandler(cfg.Service))
		r.Post("/appointments/{id}/accept", acceptHandler(cfg.Service))
		r.Post("/appointments/{id}/reject", rejectHandler(cfg.Service))
		r.Post("/appointments/{id}/cancel", cancelHandler(cfg.Service))
		r.Post("/appointments/{id}/complete", completeHandler(cfg.Service))

		r.Post("/slots", createSlotHandler(cfg.Service))
		r.Post("/slots/generate", generateSlotsHandler(cfg.Service))
		r.Post("/slots/{id}/cancel", cancelSlotHandler(cfg.Service))

		r.Post("/blocked-dates", createBlockedDateHandler(cfg.Service))
		r.Get("/blocked-dates", listBlockedDatesHandler(cfg.Service))
		r.Delete("/blocked-dates/{id}", deleteBlockedDateHandler(cfg.Service))
	})

	return r
}
