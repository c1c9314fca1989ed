package booking

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/clinicdesk/clinic-scheduling/internal/config"
	"github.com/clinicdesk/clinic-scheduling/internal/metrics"
	"github.com/clinicdesk/clinic-scheduling/pkg/logging"
)

var (
	ErrSlotNotOpen       = errors.New("slot is not available")
	ErrSlotAlreadyBooked = errors.New("slot already booked")
	ErrSlotOccupied      = errors.New("slot has an active appointment")
	ErrPatientBusy       = errors.New("appointment already exists at this time")
	ErrAlreadyCancelled  = errors.New("appointment already cancelled")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrForbidden         = errors.New("caller does not own this resource")
	ErrValidation        = errors.New("validation failed")
	ErrDuplicateBlock    = errors.New("conflicting blocked date")
)

// CacheInvalidator signals the external availability read-cache that a
// doctor's slots changed. Fire-and-forget from the service's perspective.
type CacheInvalidator interface {
	InvalidateDoctor(ctx context.Context, doctorID uuid.UUID)
}

// Notifier persists a notification and pushes it to the user.
type Notifier interface {
	Notify(ctx context.Context, n Notification)
}

type Service struct {
	repo    Repository
	cache   CacheInvalidator
	notify  Notifier
	metrics *metrics.BookingMetrics
	logger  *logging.Logger
	cfg     config.Config
	loc     *time.Location
	now     func() time.Time
}

func NewService(repo Repository, cache CacheInvalidator, notifier Notifier, m *metrics.BookingMetrics, cfg config.Config, logger *logging.Logger) *Service {
	if logger == nil {
		logger = logging.Default()
	}
	loc := cfg.ClinicLocation
	if loc == nil {
		loc = time.UTC
	}
	return &Service{
		repo:    repo,
		cache:   cache,
		notify:  notifier,
		metrics: m,
		logger:  logger,
		cfg:     cfg,
		loc:     loc,
		now:     time.Now,
	}
}

// BookSlot reserves an open slot for a patient. The claim is a single
// conditional update; everything after a successful claim that fails must
// roll the slot back before returning.
func (s *Service) BookSlot(ctx context.Context, caller Identity, slotID uuid.UUID, apptType AppointmentType, notes string) (*Appointment, error) {
	if caller.Role != RolePatient {
		return nil, ErrForbidden
	}

	patient, err := s.repo.GetPatientByID(ctx, caller.PatientID)
	if err != nil {
		if errors.Is(err, ErrPatientNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("load patient: %w", err)
	}

	slot, err := s.repo.GetSlotByID(ctx, slotID)
	if err != nil {
		return nil, fmt.Errorf("load slot: %w", err)
	}

	// Fast-fail read. The conditional update below is the safety mechanism;
	// this only spares a write for slots that are obviously gone.
	if slot.Status != SlotAvailable {
		s.metrics.ObserveBooking("conflict")
		return nil, ErrSlotNotOpen
	}

	if !slot.StartTime.After(s.now()) {
		return nil, fmt.Errorf("%w: slot start is in the past", ErrValidation)
	}

	if err := s.doctorAvailable(ctx, slot.DoctorID, slot.StartTime, slot.EndTime); err != nil {
		return nil, err
	}

	claimed, err := s.repo.ClaimSlot(ctx, slotID)
	if err != nil {
		return nil, fmt.Errorf("claim slot: %w", err)
	}
	if !claimed {
		s.metrics.ObserveBooking("conflict")
		return nil, ErrSlotAlreadyBooked
	}

	// The slot is ours from here on. Any failure before the appointment row
	// exists must release it (compensating action).
	busy, err := s.repo.HasOverlappingAppointment(ctx, patient.ID, slot.StartTime, slot.EndTime)
	if err != nil {
		s.releaseSlot(ctx, slotID, slot.DoctorID)
		return nil, fmt.Errorf("check patient schedule: %w", err)
	}
	if busy {
		s.releaseSlot(ctx, slotID, slot.DoctorID)
		s.metrics.ObserveBooking("conflict")
		return nil, ErrPatientBusy
	}

	appt := &Appointment{
		ID:        uuid.New(),
		PatientID: patient.ID,
		DoctorID:  slot.DoctorID,
		SlotID:    &slot.ID,
		StartAt:   slot.StartTime.UTC(),
		EndAt:     slot.EndTime.UTC(),
		Type:      apptType,
		Status:    StatusPending,
		Notes:     notes,
	}
	if err := s.repo.CreateAppointment(ctx, appt); err != nil {
		s.releaseSlot(ctx, slotID, slot.DoctorID)
		return nil, fmt.Errorf("create appointment: %w", err)
	}

	s.metrics.ObserveBooking("booked")
	s.notifyUser(ctx, slot.DoctorID, NotifyAppointmentRequested,
		"New appointment request",
		fmt.Sprintf("%s requested %s", patient.Name, slot.StartTime.In(s.loc).Format("Mon Jan 2 15:04")),
		&appt.ID)
	s.invalidate(ctx, slot.DoctorID)

	return appt, nil
}

// RequestAppointment is the direct (slotless) booking path.
func (s *Service) RequestAppointment(ctx context.Context, caller Identity, doctorID uuid.UUID, startAt, endAt time.Time, apptType AppointmentType, notes string) (*Appointment, error) {
	if caller.Role != RolePatient {
		return nil, ErrForbidden
	}

	if err := s.validateWindow(startAt, endAt); err != nil {
		return nil, err
	}

	patient, err := s.repo.GetPatientByID(ctx, caller.PatientID)
	if err != nil {
		if errors.Is(err, ErrPatientNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("load patient: %w", err)
	}

	doctor, err := s.repo.GetDoctorByID(ctx, doctorID)
	if err != nil {
		return nil, fmt.Errorf("load doctor: %w", err)
	}

	if err := s.doctorAvailable(ctx, doctor.ID, startAt, endAt); err != nil {
		return nil, err
	}

	busy, err := s.repo.HasOverlappingAppointment(ctx, patient.ID, startAt, endAt)
	if err != nil {
		return nil, fmt.Errorf("check patient schedule: %w", err)
	}
	if busy {
		return nil, ErrPatientBusy
	}

	appt := &Appointment{
		ID:        uuid.New(),
		PatientID: patient.ID,
		DoctorID:  doctor.ID,
		StartAt:   startAt.UTC(),
		EndAt:     endAt.UTC(),
		Type:      apptType,
		Status:    StatusPending,
		Notes:     notes,
	}
	if err := s.repo.CreateAppointment(ctx, appt); err != nil {
		return nil, fmt.Errorf("create appointment: %w", err)
	}

	s.metrics.ObserveBooking("requested")
	s.notifyUser(ctx, doctor.ID, NotifyAppointmentRequested,
		"New appointment request",
		fmt.Sprintf("%s requested %s", patient.Name, startAt.In(s.loc).Format("Mon Jan 2 15:04")),
		&appt.ID)

	return appt, nil
}

// Accept moves a pending appointment to confirmed.
func (s *Service) Accept(ctx context.Context, caller Identity, id uuid.UUID) (*Appointment, error) {
	appt, err := s.loadOwnedByDoctor(ctx, caller, id)
	if err != nil {
		return nil, err
	}
	if appt.Status != StatusPending {
		return nil, ErrInvalidTransition
	}

	updated, err := s.repo.TransitionAppointment(ctx, id, []AppointmentStatus{StatusPending}, StatusConfirmed)
	if err != nil {
		if errors.Is(err, ErrAppointmentNotFound) {
			// Row exists, so the guarded update lost a race.
			return nil, ErrInvalidTransition
		}
		return nil, fmt.Errorf("confirm appointment: %w", err)
	}

	if updated.SlotBound() {
		// Re-assert the slot; it is normally already booked from the claim.
		if _, err := s.repo.ClaimSlot(ctx, *updated.SlotID); err != nil {
			s.logger.Warn("reassert slot on accept failed", "slot_id", *updated.SlotID, "error", err)
		}
	}

	s.metrics.ObserveTransition(string(StatusConfirmed))
	s.notifyUser(ctx, updated.PatientID, NotifyAppointmentAccepted,
		"Appointment confirmed",
		fmt.Sprintf("Your appointment on %s was confirmed", updated.StartAt.In(s.loc).Format("Mon Jan 2 15:04")),
		&updated.ID)
	s.invalidate(ctx, updated.DoctorID)

	return updated, nil
}

// Reject declines a pending appointment, releasing its slot and suggesting
// up to three alternative open slots in the rejection notification.
func (s *Service) Reject(ctx context.Context, caller Identity, id uuid.UUID, reason string) (*Appointment, []TimeSlot, error) {
	appt, err := s.loadOwnedByDoctor(ctx, caller, id)
	if err != nil {
		return nil, nil, err
	}
	if appt.Status != StatusPending {
		return nil, nil, ErrInvalidTransition
	}

	updated, err := s.repo.TransitionAppointment(ctx, id, []AppointmentStatus{StatusPending}, StatusRejected)
	if err != nil {
		if errors.Is(err, ErrAppointmentNotFound) {
			return nil, nil, ErrInvalidTransition
		}
		return nil, nil, fmt.Errorf("reject appointment: %w", err)
	}

	if updated.SlotBound() {
		if err := s.repo.ReleaseSlot(ctx, *updated.SlotID); err != nil {
			s.logger.Error("release slot on reject failed", "slot_id", *updated.SlotID, "error", err)
		}
		s.invalidate(ctx, updated.DoctorID)
	}

	alternatives, err := s.repo.ListOpenSlots(ctx, updated.DoctorID, s.now(), 3)
	if err != nil {
		s.logger.Warn("list alternative slots failed", "doctor_id", updated.DoctorID, "error", err)
		alternatives = nil
	}

	msg := "Your appointment request was declined"
	if reason != "" {
		msg += ": " + reason
	}
	if len(alternatives) > 0 {
		var when []string
		for _, alt := range alternatives {
			when = append(when, alt.StartTime.In(s.loc).Format("Mon Jan 2 15:04"))
		}
		msg += ". Open alternatives: " + strings.Join(when, ", ")
	}

	s.metrics.ObserveTransition(string(StatusRejected))
	s.notifyUser(ctx, updated.PatientID, NotifyAppointmentRejected, "Appointment declined", msg, &updated.ID)

	return updated, alternatives, nil
}

// Cancel moves a pending or confirmed appointment to cancelled. Cancelling an
// already-cancelled appointment is a conflict, not a no-op.
func (s *Service) Cancel(ctx context.Context, caller Identity, id uuid.UUID) (*Appointment, error) {
	appt, err := s.loadOwnedByParty(ctx, caller, id)
	if err != nil {
		return nil, err
	}

	switch appt.Status {
	case StatusCancelled:
		return nil, ErrAlreadyCancelled
	case StatusPending, StatusConfirmed:
	default:
		return nil, ErrInvalidTransition
	}

	updated, err := s.repo.TransitionAppointment(ctx, id,
		[]AppointmentStatus{StatusPending, StatusConfirmed}, StatusCancelled)
	if err != nil {
		if errors.Is(err, ErrAppointmentNotFound) {
			return nil, ErrAlreadyCancelled
		}
		return nil, fmt.Errorf("cancel appointment: %w", err)
	}

	if updated.SlotBound() {
		if err := s.repo.ReleaseSlot(ctx, *updated.SlotID); err != nil {
			s.logger.Error("release slot on cancel failed", "slot_id", *updated.SlotID, "error", err)
		}
		s.invalidate(ctx, updated.DoctorID)
	}

	counterparty := updated.DoctorID
	if caller.Role == RoleDoctor {
		counterparty = updated.PatientID
	}

	s.metrics.ObserveTransition(string(StatusCancelled))
	s.notifyUser(ctx, counterparty, NotifyAppointmentCancelled,
		"Appointment cancelled",
		fmt.Sprintf("The appointment on %s was cancelled", updated.StartAt.In(s.loc).Format("Mon Jan 2 15:04")),
		&updated.ID)

	return updated, nil
}

// Complete marks a confirmed appointment completed, optionally attaching a
// prescription in the same conditional update. The slot stays booked to
// reflect historical occupancy.
func (s *Service) Complete(ctx context.Context, caller Identity, id uuid.UUID, prescriptionID *uuid.UUID) (*Appointment, error) {
	appt, err := s.loadOwnedByDoctor(ctx, caller, id)
	if err != nil {
		return nil, err
	}
	if appt.Status != StatusConfirmed {
		return nil, ErrInvalidTransition
	}

	updated, err := s.repo.CompleteAppointment(ctx, id, prescriptionID)
	if err != nil {
		if errors.Is(err, ErrAppointmentNotFound) {
			return nil, ErrInvalidTransition
		}
		return nil, fmt.Errorf("complete appointment: %w", err)
	}

	s.metrics.ObserveTransition(string(StatusCompleted))
	s.notifyUser(ctx, updated.PatientID, NotifyAppointmentCompleted,
		"Appointment completed",
		fmt.Sprintf("Your appointment on %s was marked completed", updated.StartAt.In(s.loc).Format("Mon Jan 2 15:04")),
		&updated.ID)

	return updated, nil
}

// CreateSlot opens a single bookable window for the calling doctor.
func (s *Service) CreateSlot(ctx context.Context, caller Identity, start, end time.Time) (*TimeSlot, error) {
	if caller.Role != RoleDoctor {
		return nil, ErrForbidden
	}
	if err := s.validateWindow(start, end); err != nil {
		return nil, err
	}
	if err := s.doctorAvailable(ctx, caller.DoctorID, start, end); err != nil {
		return nil, err
	}

	slot := &TimeSlot{
		ID:        uuid.New(),
		DoctorID:  caller.DoctorID,
		StartTime: start.UTC(),
		EndTime:   end.UTC(),
		Status:    SlotAvailable,
	}
	if err := s.repo.CreateSlot(ctx, slot); err != nil {
		return nil, fmt.Errorf("create slot: %w", err)
	}

	s.invalidate(ctx, caller.DoctorID)
	return slot, nil
}

const maxGenerateDays = 31

// GenerateSlots bulk-creates fixed-duration slots between dayStart and dayEnd
// (clock offsets from midnight, clinic timezone) for each day in [fromDay, toDay],
// skipping windows that intersect the doctor's blocked dates.
func (s *Service) GenerateSlots(ctx context.Context, caller Identity, fromDay, toDay time.Time, dayStart, dayEnd, slotLen time.Duration) ([]TimeSlot, error) {
	if caller.Role != RoleDoctor {
		return nil, ErrForbidden
	}
	if slotLen < s.cfg.MinSlotDuration || slotLen > s.cfg.MaxSlotDuration {
		return nil, fmt.Errorf("%w: slot duration %s out of range", ErrValidation, slotLen)
	}
	if dayEnd <= dayStart {
		return nil, fmt.Errorf("%w: day end must be after day start", ErrValidation)
	}

	first := clinicDay(fromDay, s.loc)
	last := clinicDay(toDay, s.loc)
	if last.Before(first) {
		return nil, fmt.Errorf("%w: date range is inverted", ErrValidation)
	}
	if int(last.Sub(first).Hours()/24) >= maxGenerateDays {
		return nil, fmt.Errorf("%w: date range exceeds %d days", ErrValidation, maxGenerateDays)
	}

	blocks, err := s.repo.ListBlockedDates(ctx, caller.DoctorID, first, last)
	if err != nil {
		return nil, fmt.Errorf("load blocked dates: %w", err)
	}

	var slots []TimeSlot
	for day := first; !day.After(last); day = day.AddDate(0, 0, 1) {
		for off := dayStart; off+slotLen <= dayEnd; off += slotLen {
			start := day.Add(off)
			end := start.Add(slotLen)
			if !start.After(s.now()) {
				continue
			}
			if CheckDoctorAvailable(blocks, start, end) != nil {
				continue
			}
			slots = append(slots, TimeSlot{
				ID:        uuid.New(),
				DoctorID:  caller.DoctorID,
				StartTime: start.UTC(),
				EndTime:   end.UTC(),
				Status:    SlotAvailable,
			})
		}
	}

	if err := s.repo.CreateSlots(ctx, slots); err != nil {
		return nil, fmt.Errorf("create slots: %w", err)
	}

	s.invalidate(ctx, caller.DoctorID)
	return slots, nil
}

// CancelSlot withdraws an open slot. Slots with an active appointment must go
// through appointment cancellation instead.
func (s *Service) CancelSlot(ctx context.Context, caller Identity, slotID uuid.UUID) error {
	if caller.Role != RoleDoctor {
		return ErrForbidden
	}

	slot, err := s.repo.GetSlotByID(ctx, slotID)
	if err != nil {
		return fmt.Errorf("load slot: %w", err)
	}
	if slot.DoctorID != caller.DoctorID {
		return ErrForbidden
	}

	switch slot.Status {
	case SlotBooked:
		return ErrSlotOccupied
	case SlotCancelled:
		return ErrSlotNotOpen
	}

	ok, err := s.repo.CancelSlot(ctx, slotID)
	if err != nil {
		return fmt.Errorf("cancel slot: %w", err)
	}
	if !ok {
		// Lost a race with a concurrent booking.
		return ErrSlotOccupied
	}

	s.invalidate(ctx, caller.DoctorID)
	return nil
}

// AddBlockedDate declares unavailability, enforcing one full-day block per
// day and pairwise-disjoint partial blocks.
func (s *Service) AddBlockedDate(ctx context.Context, caller Identity, day time.Time, fullDay bool, start, end *time.Time, reason *string) (*BlockedDate, error) {
	if caller.Role != RoleDoctor {
		return nil, ErrForbidden
	}

	block := &BlockedDate{
		ID:        uuid.New(),
		DoctorID:  caller.DoctorID,
		Day:       clinicDay(day, s.loc),
		FullDay:   fullDay,
		StartTime: start,
		EndTime:   end,
		Reason:    reason,
	}

	if !fullDay {
		if start == nil || end == nil {
			return nil, fmt.Errorf("%w: partial block requires start and end times", ErrValidation)
		}
	}

	existing, err := s.repo.ListBlockedDates(ctx, caller.DoctorID, block.Day, block.Day)
	if err != nil {
		return nil, fmt.Errorf("load blocked dates: %w", err)
	}
	if err := validateBlock(existing, block); err != nil {
		return nil, err
	}

	if err := s.repo.CreateBlockedDate(ctx, block); err != nil {
		return nil, fmt.Errorf("create blocked date: %w", err)
	}

	return block, nil
}

func (s *Service) RemoveBlockedDate(ctx context.Context, caller Identity, id uuid.UUID) error {
	if caller.Role != RoleDoctor {
		return ErrForbidden
	}
	return s.repo.DeleteBlockedDate(ctx, id, caller.DoctorID)
}

func (s *Service) ListBlockedDates(ctx context.Context, caller Identity, fromDay, toDay time.Time) ([]BlockedDate, error) {
	if caller.Role != RoleDoctor {
		return nil, ErrForbidden
	}
	return s.repo.ListBlockedDates(ctx, caller.DoctorID, clinicDay(fromDay, s.loc), clinicDay(toDay, s.loc))
}

// GetAppointment returns an appointment visible only to its two owners.
func (s *Service) GetAppointment(ctx context.Context, caller Identity, id uuid.UUID) (*Appointment, error) {
	return s.loadOwnedByParty(ctx, caller, id)
}

func (s *Service) ListAppointments(ctx context.Context, caller Identity, limit, offset int) ([]Appointment, error) {
	if limit <= 0 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}

	switch caller.Role {
	case RolePatient:
		return s.repo.ListAppointmentsByPatient(ctx, caller.PatientID, limit, offset)
	case RoleDoctor:
		return s.repo.ListAppointmentsByDoctor(ctx, caller.DoctorID, limit, offset)
	}
	return nil, ErrForbidden
}

// helpers

func (s *Service) validateWindow(start, end time.Time) error {
	if !end.After(start) {
		return fmt.Errorf("%w: end must be after start", ErrValidation)
	}
	if !start.After(s.now()) {
		return fmt.Errorf("%w: start is in the past", ErrValidation)
	}
	d := end.Sub(start)
	if d < s.cfg.MinSlotDuration || d > s.cfg.MaxSlotDuration {
		return fmt.Errorf("%w: duration %s out of range", ErrValidation, d)
	}
	return nil
}

func (s *Service) doctorAvailable(ctx context.Context, doctorID uuid.UUID, start, end time.Time) error {
	days := daysTouched(start, end, s.loc)
	blocks, err := s.repo.ListBlockedDates(ctx, doctorID, days[0], days[len(days)-1])
	if err != nil {
		return fmt.Errorf("load blocked dates: %w", err)
	}
	return CheckDoctorAvailable(blocks, start, end)
}

func (s *Service) loadOwnedByDoctor(ctx context.Context, caller Identity, id uuid.UUID) (*Appointment, error) {
	if caller.Role != RoleDoctor {
		return nil, ErrForbidden
	}
	appt, err := s.repo.GetAppointmentByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if appt.DoctorID != caller.DoctorID {
		return nil, ErrForbidden
	}
	return appt, nil
}

func (s *Service) loadOwnedByParty(ctx context.Context, caller Identity, id uuid.UUID) (*Appointment, error) {
	appt, err := s.repo.GetAppointmentByID(ctx, id)
	if err != nil {
		return nil, err
	}
	switch caller.Role {
	case RolePatient:
		if appt.PatientID != caller.PatientID {
			return nil, ErrForbidden
		}
	case RoleDoctor:
		if appt.DoctorID != caller.DoctorID {
			return nil, ErrForbidden
		}
	default:
		return nil, ErrForbidden
	}
	return appt, nil
}

func (s *Service) releaseSlot(ctx context.Context, slotID, doctorID uuid.UUID) {
	if err := s.repo.ReleaseSlot(ctx, slotID); err != nil {
		s.logger.Error("compensating slot release failed", "slot_id", slotID, "error", err)
		return
	}
	s.invalidate(ctx, doctorID)
}

func (s *Service) notifyUser(ctx context.Context, userID uuid.UUID, typ NotificationType, title, message string, apptID *uuid.UUID) {
	if s.notify == nil {
		return
	}
	s.notify.Notify(ctx, Notification{
		ID:            uuid.New(),
		UserID:        userID,
		Type:          typ,
		Title:         title,
		Message:       message,
		AppointmentID: apptID,
	})
}

func (s *Service) invalidate(ctx context.Context, doctorID uuid.UUID) {
	if s.cache == nil {
		return
	}
	s.cache.InvalidateDoctor(ctx, doctorID)
}
