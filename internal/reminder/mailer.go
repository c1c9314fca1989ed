package reminder

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"

	"github.com/clinicdesk/clinic-scheduling/pkg/logging"
)

// Reminder carries everything a delivery needs, resolved before sending.
type Reminder struct {
	AppointmentID uuid.UUID
	PatientEmail  string
	PatientName   string
	DoctorEmail   string
	DoctorName    string
	StartAt       time.Time
	Location      string
	Mode          string
}

// Mailer delivers one reminder to both parties. A single call is treated as
// all-or-nothing by the dispatcher: the patient message is sent first and the
// first failure aborts the call. The reminder claim stands either way.
type Mailer interface {
	SendReminder(ctx context.Context, r Reminder) error
}

// SendGridMailer sends reminder emails through the SendGrid API.
type SendGridMailer struct {
	client   *sendgrid.Client
	from     string
	fromName string
	loc      *time.Location
	logger   *logging.Logger
}

type SendGridConfig struct {
	APIKey   string
	From     string
	FromName string
	Location *time.Location
}

func NewSendGridMailer(cfg SendGridConfig, logger *logging.Logger) *SendGridMailer {
	if cfg.APIKey == "" {
		return nil
	}
	if logger == nil {
		logger = logging.Default()
	}
	loc := cfg.Location
	if loc == nil {
		loc = time.UTC
	}
	return &SendGridMailer{
		client:   sendgrid.NewSendClient(cfg.APIKey),
		from:     cfg.From,
		fromName: cfg.FromName,
		loc:      loc,
		logger:   logger,
	}
}

func (m *SendGridMailer) SendReminder(ctx context.Context, r Reminder) error {
	when := r.StartAt.In(m.loc).Format("Monday, Jan 2 at 15:04")

	patientBody := fmt.Sprintf(
		"Hi %s,\n\nThis is a reminder of your upcoming appointment with %s on %s (%s, %s).\n\nClinicDesk",
		r.PatientName, r.DoctorName, when, r.Mode, r.Location)
	if err := m.send(ctx, r.PatientEmail, r.PatientName, "Appointment reminder", patientBody); err != nil {
		return fmt.Errorf("patient reminder: %w", err)
	}

	doctorBody := fmt.Sprintf(
		"Hi %s,\n\nReminder: %s has an appointment with you on %s (%s, %s).\n\nClinicDesk",
		r.DoctorName, r.PatientName, when, r.Mode, r.Location)
	if err := m.send(ctx, r.DoctorEmail, r.DoctorName, "Appointment reminder", doctorBody); err != nil {
		return fmt.Errorf("doctor reminder: %w", err)
	}

	return nil
}

func (m *SendGridMailer) send(ctx context.Context, to, toName, subject, body string) error {
	from := mail.NewEmail(m.fromName, m.from)
	rcpt := mail.NewEmail(toName, to)
	message := mail.NewSingleEmail(from, subject, rcpt, body, body)

	resp, err := m.client.SendWithContext(ctx, message)
	if err != nil {
		return err
	}
	if resp.StatusCode >= 400 {
		return fmt.Errorf("sendgrid returned status %d", resp.StatusCode)
	}
	return nil
}

// StubMailer logs instead of sending; used in dev and when no API key is set.
type StubMailer struct {
	logger *logging.Logger
}

func NewStubMailer(logger *logging.Logger) *StubMailer {
	if logger == nil {
		logger = logging.Default()
	}
	return &StubMailer{logger: logger}
}

func (m *StubMailer) SendReminder(_ context.Context, r Reminder) error {
	m.logger.Info("stub mailer: would send reminder",
		"appointment_id", r.AppointmentID,
		"patient", r.PatientEmail,
		"doctor", r.DoctorEmail,
		"start_at", r.StartAt)
	return nil
}
