// Package reminder implements the periodic reminder dispatcher. Multiple
// instances may run against the same store; coordination happens only through
// the conditional reminder_sent update, never through shared process state.
package reminder

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/clinicdesk/clinic-scheduling/internal/booking"
	"github.com/clinicdesk/clinic-scheduling/internal/metrics"
	"github.com/clinicdesk/clinic-scheduling/pkg/logging"
)

// Store is the slice of the booking repository the dispatcher needs.
type Store interface {
	FindReminderCandidates(ctx context.Context, from, to time.Time) ([]booking.Appointment, error)
	ClaimReminder(ctx context.Context, id uuid.UUID) (bool, error)
	GetPatientByID(ctx context.Context, id uuid.UUID) (*booking.Patient, error)
	GetDoctorByID(ctx context.Context, id uuid.UUID) (*booking.Doctor, error)
}

// Summary reports one dispatcher run. Skipped covers lost claims, missing
// recipient emails and failed deliveries; all leave the claim in place.
type Summary struct {
	Sent    int
	Skipped int
}

type Dispatcher struct {
	store       Store
	mailer      Mailer
	metrics     *metrics.ReminderMetrics
	logger      *logging.Logger
	loc         *time.Location
	lookahead   time.Duration
	sendTimeout time.Duration
	now         func() time.Time
}

func NewDispatcher(store Store, mailer Mailer, m *metrics.ReminderMetrics, loc *time.Location, lookahead, sendTimeout time.Duration, logger *logging.Logger) *Dispatcher {
	if logger == nil {
		logger = logging.Default()
	}
	if loc == nil {
		loc = time.UTC
	}
	if lookahead <= 0 {
		lookahead = 24 * time.Hour
	}
	if sendTimeout <= 0 {
		sendTimeout = 10 * time.Second
	}
	return &Dispatcher{
		store:       store,
		mailer:      mailer,
		metrics:     m,
		logger:      logger,
		loc:         loc,
		lookahead:   lookahead,
		sendTimeout: sendTimeout,
		now:         time.Now,
	}
}

// Run performs one dispatch pass: coarse candidate query at clinic-day
// granularity, in-process refinement to the exact lookahead window, then a
// claim-before-send loop. One failing appointment never aborts the batch.
func (d *Dispatcher) Run(ctx context.Context) (Summary, error) {
	start := d.now()

	dayFrom := startOfDay(start, d.loc)
	dayTo := dayFrom.AddDate(0, 0, 2) // end of tomorrow, exclusive

	candidates, err := d.store.FindReminderCandidates(ctx, dayFrom, dayTo)
	if err != nil {
		return Summary{}, err
	}

	var sum Summary
	for i := range candidates {
		appt := &candidates[i]

		// The store filter is day-granular; the 24h rule needs the instant.
		if appt.StartAt.Before(start) || appt.StartAt.After(start.Add(d.lookahead)) {
			continue
		}

		d.processOne(ctx, appt, &sum)
	}

	elapsed := time.Since(start)
	d.metrics.ObserveRun(sum.Sent, sum.Skipped, elapsed.Seconds())
	d.logger.Info("reminder run complete",
		"sent", sum.Sent, "skipped", sum.Skipped, "candidates", len(candidates), "duration", elapsed)

	return sum, nil
}

func (d *Dispatcher) processOne(ctx context.Context, appt *booking.Appointment, sum *Summary) {
	// Claim first: it is cheap and safe to race on. The send only ever
	// happens after an exclusive claim, and the claim is never rolled back.
	claimed, err := d.store.ClaimReminder(ctx, appt.ID)
	if err != nil {
		d.logger.Warn("reminder claim failed", "appointment_id", appt.ID, "error", err)
		sum.Skipped++
		return
	}
	if !claimed {
		d.logger.Debug("reminder already claimed by another instance", "appointment_id", appt.ID)
		sum.Skipped++
		return
	}

	patient, err := d.store.GetPatientByID(ctx, appt.PatientID)
	if err != nil {
		d.logger.Warn("load patient for reminder failed", "appointment_id", appt.ID, "error", err)
		sum.Skipped++
		return
	}
	doctor, err := d.store.GetDoctorByID(ctx, appt.DoctorID)
	if err != nil {
		d.logger.Warn("load doctor for reminder failed", "appointment_id", appt.ID, "error", err)
		sum.Skipped++
		return
	}

	if patient.Email == nil || *patient.Email == "" || doctor.Email == nil || *doctor.Email == "" {
		// The claim is the durability record that the reminder was handled;
		// leaving it in place avoids reprocessing rows that can never send.
		d.logger.Warn("reminder recipient missing email",
			"appointment_id", appt.ID, "patient_id", appt.PatientID, "doctor_id", appt.DoctorID)
		sum.Skipped++
		return
	}

	location := ""
	if doctor.Location != nil {
		location = *doctor.Location
	}

	sendCtx, cancel := context.WithTimeout(ctx, d.sendTimeout)
	err = d.mailer.SendReminder(sendCtx, Reminder{
		AppointmentID: appt.ID,
		PatientEmail:  *patient.Email,
		PatientName:   patient.Name,
		DoctorEmail:   *doctor.Email,
		DoctorName:    doctor.Name,
		StartAt:       appt.StartAt,
		Location:      location,
		Mode:          string(appt.Type),
	})
	cancel()
	if err != nil {
		d.logger.Error("reminder delivery failed", "appointment_id", appt.ID, "error", err)
		sum.Skipped++
		return
	}

	sum.Sent++
}

func startOfDay(t time.Time, loc *time.Location) time.Time {
	y, m, d := t.In(loc).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, loc)
}
