package metrics

import "github.com/prometheus/client_golang/prometheus"

// BookingMetrics counts booking outcomes and lifecycle transitions.
// A nil receiver is a no-op so callers never need to guard.
type BookingMetrics struct {
	bookingsTotal    *prometheus.CounterVec
	transitionsTotal *prometheus.CounterVec
}

func NewBookingMetrics(reg prometheus.Registerer) *BookingMetrics {
	m := &BookingMetrics{
		bookingsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "clinicdesk",
			Subsystem: "booking",
			Name:      "attempts_total",
			Help:      "Booking attempts by outcome",
		}, []string{"outcome"}),
		transitionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "clinicdesk",
			Subsystem: "booking",
			Name:      "transitions_total",
			Help:      "Appointment status transitions",
		}, []string{"to"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.bookingsTotal, m.transitionsTotal)
	return m
}

func (m *BookingMetrics) ObserveBooking(outcome string) {
	if m == nil {
		return
	}
	m.bookingsTotal.WithLabelValues(outcome).Inc()
}

func (m *BookingMetrics) ObserveTransition(to string) {
	if m == nil {
		return
	}
	m.transitionsTotal.WithLabelValues(to).Inc()
}

// ReminderMetrics tracks dispatcher runs.
type ReminderMetrics struct {
	sentTotal    prometheus.Counter
	skippedTotal prometheus.Counter
	runDuration  prometheus.Histogram
}

func NewReminderMetrics(reg prometheus.Registerer) *ReminderMetrics {
	m := &ReminderMetrics{
		sentTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "clinicdesk",
			Subsystem: "reminder",
			Name:      "sent_total",
			Help:      "Reminders delivered",
		}),
		skippedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "clinicdesk",
			Subsystem: "reminder",
			Name:      "skipped_total",
			Help:      "Reminder candidates skipped (lost claim, missing email, delivery failure)",
		}),
		runDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "clinicdesk",
			Subsystem: "reminder",
			Name:      "run_duration_seconds",
			Help:      "Duration of a dispatcher run",
			Buckets:   prometheus.DefBuckets,
		}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.sentTotal, m.skippedTotal, m.runDuration)
	return m
}

func (m *ReminderMetrics) ObserveRun(sent, skipped int, seconds float64) {
	if m == nil {
		return
	}
	m.sentTotal.Add(float64(sent))
	m.skippedTotal.Add(float64(skipped))
	m.runDuration.Observe(seconds)
}
