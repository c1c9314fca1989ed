package booking

import (
	"time"

	"github.com/google/uuid"
)

type AppointmentStatus string

const (
	StatusPending   AppointmentStatus = "pending"
	StatusConfirmed AppointmentStatus = "confirmed"
	StatusRejected  AppointmentStatus = "rejected"
	StatusCompleted AppointmentStatus = "completed"
	StatusCancelled AppointmentStatus = "cancelled"
)

// Terminal reports whether no further transitions are allowed from s.
func (s AppointmentStatus) Terminal() bool {
	switch s {
	case StatusRejected, StatusCompleted, StatusCancelled:
		return true
	}
	return false
}

type SlotStatus string

const (
	SlotAvailable SlotStatus = "available"
	SlotBooked    SlotStatus = "booked"
	SlotCancelled SlotStatus = "cancelled"
)

type AppointmentType string

const (
	TypeInPerson AppointmentType = "in_person"
	TypeVideo    AppointmentType = "video"
)

type Role string

const (
	RolePatient Role = "patient"
	RoleDoctor  Role = "doctor"
)

// Identity is the already-verified caller passed in by the auth layer.
type Identity struct {
	UserID    uuid.UUID
	Role      Role
	PatientID uuid.UUID // set when Role == RolePatient
	DoctorID  uuid.UUID // set when Role == RoleDoctor
}

type Patient struct {
	ID        uuid.UUID
	Name      string
	Email     *string
	CreatedAt time.Time
	UpdatedAt time.Time
}

type Doctor struct {
	ID        uuid.UUID
	Name      string
	Email     *string
	Specialty *string
	Location  *string
	CreatedAt time.Time
	UpdatedAt time.Time
}

type TimeSlot struct {
	ID        uuid.UUID
	DoctorID  uuid.UUID
	StartTime time.Time
	EndTime   time.Time
	Status    SlotStatus
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Appointment stores its window as UTC instants. Slot-bound rows copy the
// slot's window at creation; direct rows carry the caller-supplied window.
type Appointment struct {
	ID             uuid.UUID
	PatientID      uuid.UUID
	DoctorID       uuid.UUID
	SlotID         *uuid.UUID
	StartAt        time.Time
	EndAt          time.Time
	Type           AppointmentType
	Status         AppointmentStatus
	ReminderSent   bool
	Notes          string
	PrescriptionID *uuid.UUID
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// SlotBound reports whether the appointment was created against a TimeSlot.
func (a *Appointment) SlotBound() bool {
	return a.SlotID != nil
}

// BlockedDate marks doctor unavailability. Day is midnight of the clinic-tz
// calendar day, stored as UTC. A full-day block ignores StartTime/EndTime;
// a partial block carries both.
type BlockedDate struct {
	ID        uuid.UUID
	DoctorID  uuid.UUID
	Day       time.Time
	FullDay   bool
	StartTime *time.Time
	EndTime   *time.Time
	Reason    *string
	CreatedAt time.Time
}

type NotificationType string

const (
	NotifyAppointmentRequested NotificationType = "APPOINTMENT_REQUESTED"
	NotifyAppointmentAccepted  NotificationType = "APPOINTMENT_ACCEPTED"
	NotifyAppointmentRejected  NotificationType = "APPOINTMENT_REJECTED"
	NotifyAppointmentCancelled NotificationType = "APPOINTMENT_CANCELLED"
	NotifyAppointmentCompleted NotificationType = "APPOINTMENT_COMPLETED"
)

type Notification struct {
	ID            uuid.UUID
	UserID        uuid.UUID
	Type          NotificationType
	Title         string
	Message       string
	AppointmentID *uuid.UUID
	IsRead        bool
	CreatedAt     time.Time
}
