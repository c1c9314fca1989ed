package booking

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// dbConn is the subset of pgxpool.Pool the repository uses. Tests substitute
// a pgxmock pool.
type dbConn interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
}

type PgRepository struct {
	db dbConn
}

func NewPgRepository(pool *pgxpool.Pool) *PgRepository {
	return &PgRepository{db: pool}
}

func newPgRepositoryWithConn(db dbConn) *PgRepository {
	return &PgRepository{db: db}
}

// Helpers

func scanPatient(row pgx.Row) (*Patient, error) {
	var p Patient

	err := row.Scan(
		&p.ID,
		&p.Name,
		&p.Email,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrPatientNotFound
		}
		return nil, err
	}

	return &p, nil
}

func scanDoctor(row pgx.Row) (*Doctor, error) {
	var d Doctor

	err := row.Scan(
		&d.ID,
		&d.Name,
		&d.Email,
		&d.Specialty,
		&d.Location,
		&d.CreatedAt,
		&d.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrDoctorNotFound
		}
		return nil, err
	}

	return &d, nil
}

func scanSlot(row pgx.Row) (*TimeSlot, error) {
	var s TimeSlot

	err := row.Scan(
		&s.ID,
		&s.DoctorID,
		&s.StartTime,
		&s.EndTime,
		&s.Status,
		&s.CreatedAt,
		&s.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrSlotNotFound
		}
		return nil, err
	}

	return &s, nil
}

const appointmentColumns = `id, patient_id, doctor_id, slot_id, start_at, end_at, type, status, reminder_sent, notes, prescription_id, created_at, updated_at`

func scanAppointment(row pgx.Row) (*Appointment, error) {
	var a Appointment

	err := row.Scan(
		&a.ID,
		&a.PatientID,
		&a.DoctorID,
		&a.SlotID,
		&a.StartAt,
		&a.EndAt,
		&a.Type,
		&a.Status,
		&a.ReminderSent,
		&a.Notes,
		&a.PrescriptionID,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAppointmentNotFound
		}
		return nil, err
	}

	return &a, nil
}

func scanBlockedDate(row pgx.Row) (*BlockedDate, error) {
	var b BlockedDate

	err := row.Scan(
		&b.ID,
		&b.DoctorID,
		&b.Day,
		&b.FullDay,
		&b.StartTime,
		&b.EndTime,
		&b.Reason,
		&b.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrBlockNotFound
		}
		return nil, err
	}

	return &b, nil
}

// Interface methods

func (r *PgRepository) GetPatientByID(ctx context.Context, id uuid.UUID) (*Patient, error) {
	row := r.db.QueryRow(ctx, `
		SELECT id, name, email, created_at, updated_at
		FROM patients
		WHERE id = $1
	`, id)
	return scanPatient(row)
}

func (r *PgRepository) GetDoctorByID(ctx context.Context, id uuid.UUID) (*Doctor, error) {
	row := r.db.QueryRow(ctx, `
		SELECT id, name, email, specialty, location, created_at, updated_at
		FROM doctors
		WHERE id = $1
	`, id)
	return scanDoctor(row)
}

func (r *PgRepository) GetSlotByID(ctx context.Context, id uuid.UUID) (*TimeSlot, error) {
	row := r.db.QueryRow(ctx, `
		SELECT id, doctor_id, start_time, end_time, status, created_at, updated_at
		FROM time_slots
		WHERE id = $1
	`, id)
	return scanSlot(row)
}

func (r *PgRepository) CreateSlot(ctx context.Context, slot *TimeSlot) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO time_slots (id, doctor_id, start_time, end_time, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, now(), now())
	`, slot.ID, slot.DoctorID, slot.StartTime, slot.EndTime, slot.Status)
	if err != nil {
		return fmt.Errorf("insert slot: %w", err)
	}
	return nil
}

func (r *PgRepository) CreateSlots(ctx context.Context, slots []TimeSlot) error {
	if len(slots) == 0 {
		return nil
	}

	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin slot batch: %w", err)
	}
	defer tx.Rollback(ctx)

	for i := range slots {
		s := &slots[i]
		_, err := tx.Exec(ctx, `
			INSERT INTO time_slots (id, doctor_id, start_time, end_time, status, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, now(), now())
		`, s.ID, s.DoctorID, s.StartTime, s.EndTime, s.Status)
		if err != nil {
			return fmt.Errorf("insert slot batch: %w", err)
		}
	}

	return tx.Commit(ctx)
}

// ClaimSlot is the booking-side compare-and-swap. The WHERE clause carries the
// expected prior state so the check and the write happen in one round trip.
func (r *PgRepository) ClaimSlot(ctx context.Context, id uuid.UUID) (bool, error) {
	ct, err := r.db.Exec(ctx, `
		UPDATE time_slots
		SET status = 'booked',
		    updated_at = now()
		WHERE id = $1
		  AND status = 'available'
	`, id)
	if err != nil {
		return false, fmt.Errorf("claim slot: %w", err)
	}
	return ct.RowsAffected() == 1, nil
}

// ReleaseSlot is unconditional: release always originates from the exclusive
// holder of the owning appointment.
func (r *PgRepository) ReleaseSlot(ctx context.Context, id uuid.UUID) error {
	_, err := r.db.Exec(ctx, `
		UPDATE time_slots
		SET status = 'available',
		    updated_at = now()
		WHERE id = $1
	`, id)
	if err != nil {
		return fmt.Errorf("release slot: %w", err)
	}
	return nil
}

func (r *PgRepository) CancelSlot(ctx context.Context, id uuid.UUID) (bool, error) {
	ct, err := r.db.Exec(ctx, `
		UPDATE time_slots
		SET status = 'cancelled',
		    updated_at = now()
		WHERE id = $1
		  AND status = 'available'
	`, id)
	if err != nil {
		return false, fmt.Errorf("cancel slot: %w", err)
	}
	return ct.RowsAffected() == 1, nil
}

func (r *PgRepository) ListOpenSlots(ctx context.Context, doctorID uuid.UUID, from time.Time, limit int) ([]TimeSlot, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, doctor_id, start_time, end_time, status, created_at, updated_at
		FROM time_slots
		WHERE doctor_id = $1
		  AND status = 'available'
		  AND start_time >= $2
		ORDER BY start_time
		LIMIT $3
	`, doctorID, from, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []TimeSlot
	for rows.Next() {
		s, err := scanSlot(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *s)
	}

	return result, rows.Err()
}

func (r *PgRepository) CreateAppointment(ctx context.Context, appt *Appointment) error {
	row := r.db.QueryRow(ctx, `
		INSERT INTO appointments (id, patient_id, doctor_id, slot_id, start_at, end_at, type, status, reminder_sent, notes, prescription_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, false, $9, NULL, now(), now())
		RETURNING `+appointmentColumns+`
	`, appt.ID, appt.PatientID, appt.DoctorID, appt.SlotID, appt.StartAt, appt.EndAt, appt.Type, appt.Status, appt.Notes)

	created, err := scanAppointment(row)
	if err != nil {
		return fmt.Errorf("insert appointment: %w", err)
	}
	*appt = *created
	return nil
}

func (r *PgRepository) GetAppointmentByID(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	row := r.db.QueryRow(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE id = $1
	`, id)
	return scanAppointment(row)
}

func (r *PgRepository) TransitionAppointment(ctx context.Context, id uuid.UUID, from []AppointmentStatus, to AppointmentStatus) (*Appointment, error) {
	states := make([]string, len(from))
	for i, s := range from {
		states[i] = string(s)
	}

	row := r.db.QueryRow(ctx, `
		UPDATE appointments
		SET status = $2,
		    updated_at = now()
		WHERE id = $1
		  AND status = ANY($3)
		RETURNING `+appointmentColumns+`
	`, id, to, states)

	return scanAppointment(row)
}

func (r *PgRepository) CompleteAppointment(ctx context.Context, id uuid.UUID, prescriptionID *uuid.UUID) (*Appointment, error) {
	row := r.db.QueryRow(ctx, `
		UPDATE appointments
		SET status = 'completed',
		    prescription_id = COALESCE($2, prescription_id),
		    updated_at = now()
		WHERE id = $1
		  AND status = 'confirmed'
		RETURNING `+appointmentColumns+`
	`, id, prescriptionID)

	return scanAppointment(row)
}

func (r *PgRepository) FindActiveAppointmentForSlot(ctx context.Context, slotID uuid.UUID) (*Appointment, error) {
	row := r.db.QueryRow(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE slot_id = $1
		  AND status IN ('pending', 'confirmed')
	`, slotID)
	return scanAppointment(row)
}

func (r *PgRepository) HasOverlappingAppointment(ctx context.Context, patientID uuid.UUID, start, end time.Time) (bool, error) {
	var exists bool
	err := r.db.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1
			FROM appointments
			WHERE patient_id = $1
			  AND status IN ('pending', 'confirmed')
			  AND start_at < $3
			  AND end_at > $2
		)
	`, patientID, start, end).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check overlapping appointment: %w", err)
	}
	return exists, nil
}

func (r *PgRepository) ListAppointmentsByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]Appointment, error) {
	return r.listAppointments(ctx, `patient_id`, patientID, limit, offset)
}

func (r *PgRepository) ListAppointmentsByDoctor(ctx context.Context, doctorID uuid.UUID, limit, offset int) ([]Appointment, error) {
	return r.listAppointments(ctx, `doctor_id`, doctorID, limit, offset)
}

func (r *PgRepository) listAppointments(ctx context.Context, ownerCol string, ownerID uuid.UUID, limit, offset int) ([]Appointment, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE `+ownerCol+` = $1
		ORDER BY start_at DESC
		LIMIT $2 OFFSET $3
	`, ownerID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []Appointment
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *a)
	}

	return result, rows.Err()
}

func (r *PgRepository) ListBlockedDates(ctx context.Context, doctorID uuid.UUID, fromDay, toDay time.Time) ([]BlockedDate, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, doctor_id, day, full_day, start_time, end_time, reason, created_at
		FROM blocked_dates
		WHERE doctor_id = $1
		  AND day >= $2
		  AND day <= $3
		ORDER BY day, start_time
	`, doctorID, fromDay, toDay)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []BlockedDate
	for rows.Next() {
		b, err := scanBlockedDate(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *b)
	}

	return result, rows.Err()
}

func (r *PgRepository) CreateBlockedDate(ctx context.Context, block *BlockedDate) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO blocked_dates (id, doctor_id, day, full_day, start_time, end_time, reason, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, now())
	`, block.ID, block.DoctorID, block.Day, block.FullDay, block.StartTime, block.EndTime, block.Reason)
	if err != nil {
		return fmt.Errorf("insert blocked date: %w", err)
	}
	return nil
}

func (r *PgRepository) DeleteBlockedDate(ctx context.Context, id, doctorID uuid.UUID) error {
	ct, err := r.db.Exec(ctx, `
		DELETE FROM blocked_dates
		WHERE id = $1
		  AND doctor_id = $2
	`, id, doctorID)
	if err != nil {
		return fmt.Errorf("delete blocked date: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return ErrBlockNotFound
	}
	return nil
}

// FindReminderCandidates is the coarse store-side filter. The dispatcher
// refines the result against the exact lookahead window before claiming.
func (r *PgRepository) FindReminderCandidates(ctx context.Context, from, to time.Time) ([]Appointment, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE status IN ('pending', 'confirmed')
		  AND reminder_sent = false
		  AND start_at >= $1
		  AND start_at < $2
		ORDER BY start_at
	`, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []Appointment
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *a)
	}

	return result, rows.Err()
}

// ClaimReminder is the dispatcher-side compare-and-swap, same shape as
// ClaimSlot. reminder_sent is monotonic: nothing ever resets it.
func (r *PgRepository) ClaimReminder(ctx context.Context, id uuid.UUID) (bool, error) {
	ct, err := r.db.Exec(ctx, `
		UPDATE appointments
		SET reminder_sent = true,
		    updated_at = now()
		WHERE id = $1
		  AND reminder_sent = false
	`, id)
	if err != nil {
		return false, fmt.Errorf("claim reminder: %w", err)
	}
	return ct.RowsAffected() == 1, nil
}

func (r *PgRepository) CreateNotification(ctx context.Context, n *Notification) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO notifications (id, user_id, type, title, message, appointment_id, is_read, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, false, now())
	`, n.ID, n.UserID, n.Type, n.Title, n.Message, n.AppointmentID)
	if err != nil {
		return fmt.Errorf("insert notification: %w", err)
	}
	return nil
}
