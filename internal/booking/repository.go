package booking

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	ErrPatientNotFound     = errors.New("patient not found")
	ErrDoctorNotFound      = errors.New("doctor not found")
	ErrSlotNotFound        = errors.New("slot not found")
	ErrAppointmentNotFound = errors.New("appointment not found")
	ErrBlockNotFound       = errors.New("blocked date not found")
)

// Repository contains all DB interactions needed by the service and the
// reminder dispatcher. ClaimSlot, ClaimReminder and TransitionAppointment
// must be single conditional statements: the reported row count is the only
// coordination mechanism between concurrent writers.
type Repository interface {
	GetPatientByID(ctx context.Context, id uuid.UUID) (*Patient, error)
	GetDoctorByID(ctx context.Context, id uuid.UUID) (*Doctor, error)

	// Slots
	GetSlotByID(ctx context.Context, id uuid.UUID) (*TimeSlot, error)
	CreateSlot(ctx context.Context, slot *TimeSlot) error
	CreateSlots(ctx context.Context, slots []TimeSlot) error
	// ClaimSlot sets status=booked where status=available; reports whether
	// this caller won the slot.
	ClaimSlot(ctx context.Context, id uuid.UUID) (bool, error)
	// ReleaseSlot unconditionally returns a slot to available.
	ReleaseSlot(ctx context.Context, id uuid.UUID) error
	// CancelSlot sets status=cancelled where status=available.
	CancelSlot(ctx context.Context, id uuid.UUID) (bool, error)
	ListOpenSlots(ctx context.Context, doctorID uuid.UUID, from time.Time, limit int) ([]TimeSlot, error)

	// Appointments
	CreateAppointment(ctx context.Context, appt *Appointment) error
	GetAppointmentByID(ctx context.Context, id uuid.UUID) (*Appointment, error)
	// TransitionAppointment moves status to "to" only if the current status is
	// one of "from"; zero matched rows yields ErrAppointmentNotFound so lost
	// races and missing rows are indistinguishable to the store, as intended.
	TransitionAppointment(ctx context.Context, id uuid.UUID, from []AppointmentStatus, to AppointmentStatus) (*Appointment, error)
	// CompleteAppointment is confirmed->completed with an optional prescription
	// attached in the same conditional statement.
	CompleteAppointment(ctx context.Context, id uuid.UUID, prescriptionID *uuid.UUID) (*Appointment, error)
	FindActiveAppointmentForSlot(ctx context.Context, slotID uuid.UUID) (*Appointment, error)
	HasOverlappingAppointment(ctx context.Context, patientID uuid.UUID, start, end time.Time) (bool, error)
	ListAppointmentsByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]Appointment, error)
	ListAppointmentsByDoctor(ctx context.Context, doctorID uuid.UUID, limit, offset int) ([]Appointment, error)

	// Blocked dates
	ListBlockedDates(ctx context.Context, doctorID uuid.UUID, fromDay, toDay time.Time) ([]BlockedDate, error)
	CreateBlockedDate(ctx context.Context, block *BlockedDate) error
	DeleteBlockedDate(ctx context.Context, id, doctorID uuid.UUID) error

	// Reminder dispatcher
	FindReminderCandidates(ctx context.Context, from, to time.Time) ([]Appointment, error)
	// ClaimReminder sets reminder_sent=true where reminder_sent=false; reports
	// whether this caller owns delivery.
	ClaimReminder(ctx context.Context, id uuid.UUID) (bool, error)

	// Notifications
	CreateNotification(ctx context.Context, n *Notification) error
}
