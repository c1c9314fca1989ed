package api

import (
	"time"

	"github.com/google/uuid"
)

type BookSlotRequest struct {
	SlotID string `json:"slot_id"`
	Type   string `json:"type"`
	Notes  string `json:"notes,omitempty"`
}

type DirectAppointmentRequest struct {
	DoctorID string    `json:"doctor_id"`
	StartAt  time.Time `json:"start_at"`
	EndAt    time.Time `json:"end_at"`
	Type     string    `json:"type"`
	Notes    string    `json:"notes,omitempty"`
}

type RejectRequest struct {
	Reason string `json:"reason,omitempty"`
}

type CompleteRequest struct {
	PrescriptionID *string `json:"prescription_id,omitempty"`
}

type CreateSlotRequest struct {
	StartTime time.Time `json:"start_time"`
	EndTime   time.Time `json:"end_time"`
}

type GenerateSlotsRequest struct {
	FromDate     string `json:"from_date"` // YYYY-MM-DD
	ToDate       string `json:"to_date"`   // YYYY-MM-DD
	DayStart     string `json:"day_start"` // HH:MM
	DayEnd       string `json:"day_end"`   // HH:MM
	SlotDuration string `json:"slot_duration"`
}

type BlockedDateRequest struct {
	Date      string     `json:"date"` // YYYY-MM-DD
	FullDay   bool       `json:"full_day"`
	StartTime *time.Time `json:"start_time,omitempty"`
	EndTime   *time.Time `json:"end_time,omitempty"`
	Reason    *string    `json:"reason,omitempty"`
}

type AppointmentResponse struct {
	ID             uuid.UUID  `json:"id"`
	PatientID      uuid.UUID  `json:"patient_id"`
	DoctorID       uuid.UUID  `json:"doctor_id"`
	SlotID         *uuid.UUID `json:"slot_id,omitempty"`
	StartAt        time.Time  `json:"start_at"`
	EndAt          time.Time  `json:"end_at"`
	Type           string     `json:"type"`
	Status         string     `json:"status"`
	Notes          string     `json:"notes,omitempty"`
	PrescriptionID *uuid.UUID `json:"prescription_id,omitempty"`
}

type SlotResponse struct {
	ID        uuid.UUID `json:"id"`
	DoctorID  uuid.UUID `json:"doctor_id"`
	StartTime time.Time `json:"start_time"`
	EndTime   time.Time `json:"end_time"`
	Status    string    `json:"status"`
}

type RejectResponse struct {
	Appointment  AppointmentResponse `json:"appointment"`
	Alternatives []SlotResponse      `json:"alternatives,omitempty"`
}

type BlockedDateResponse struct {
	ID        uuid.UUID  `json:"id"`
	DoctorID  uuid.UUID  `json:"doctor_id"`
	Date      string     `json:"date"`
	FullDay   bool       `json:"full_day"`
	StartTime *time.Time `json:"start_time,omitempty"`
	EndTime   *time.Time `json:"end_time,omitempty"`
	Reason    *string    `json:"reason,omitempty"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}
