package booking

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockRepo(t *testing.T) (pgxmock.PgxPoolIface, *PgRepository) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	return mock, newPgRepositoryWithConn(mock)
}

func apptRows(a Appointment) *pgxmock.Rows {
	return pgxmock.NewRows([]string{
		"id", "patient_id", "doctor_id", "slot_id", "start_at", "end_at",
		"type", "status", "reminder_sent", "notes", "prescription_id",
		"created_at", "updated_at",
	}).AddRow(
		a.ID, a.PatientID, a.DoctorID, a.SlotID, a.StartAt, a.EndAt,
		a.Type, a.Status, a.ReminderSent, a.Notes, a.PrescriptionID,
		a.CreatedAt, a.UpdatedAt,
	)
}

func TestClaimSlot(t *testing.T) {
	id := uuid.New()

	t.Run("wins when the row flips", func(t *testing.T) {
		mock, repo := newMockRepo(t)
		mock.ExpectExec("UPDATE time_slots").
			WithArgs(id).
			WillReturnResult(pgxmock.NewResult("UPDATE", 1))

		claimed, err := repo.ClaimSlot(context.Background(), id)
		require.NoError(t, err)
		assert.True(t, claimed)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("loses when no row matched", func(t *testing.T) {
		mock, repo := newMockRepo(t)
		mock.ExpectExec("UPDATE time_slots").
			WithArgs(id).
			WillReturnResult(pgxmock.NewResult("UPDATE", 0))

		claimed, err := repo.ClaimSlot(context.Background(), id)
		require.NoError(t, err)
		assert.False(t, claimed)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestCancelSlotConditional(t *testing.T) {
	id := uuid.New()

	mock, repo := newMockRepo(t)
	mock.ExpectExec("UPDATE time_slots").
		WithArgs(id).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	ok, err := repo.CancelSlot(context.Background(), id)
	require.NoError(t, err)
	assert.False(t, ok, "a slot that is no longer available must not cancel")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestClaimReminder(t *testing.T) {
	id := uuid.New()

	t.Run("first claimer wins", func(t *testing.T) {
		mock, repo := newMockRepo(t)
		mock.ExpectExec("UPDATE appointments").
			WithArgs(id).
			WillReturnResult(pgxmock.NewResult("UPDATE", 1))

		claimed, err := repo.ClaimReminder(context.Background(), id)
		require.NoError(t, err)
		assert.True(t, claimed)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("second claimer loses", func(t *testing.T) {
		mock, repo := newMockRepo(t)
		mock.ExpectExec("UPDATE appointments").
			WithArgs(id).
			WillReturnResult(pgxmock.NewResult("UPDATE", 0))

		claimed, err := repo.ClaimReminder(context.Background(), id)
		require.NoError(t, err)
		assert.False(t, claimed)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestTransitionAppointment(t *testing.T) {
	id := uuid.New()

	t.Run("guarded update returns the new row", func(t *testing.T) {
		mock, repo := newMockRepo(t)
		now := time.Now().UTC()
		want := Appointment{
			ID:        id,
			PatientID: uuid.New(),
			DoctorID:  uuid.New(),
			StartAt:   now.Add(24 * time.Hour),
			EndAt:     now.Add(24*time.Hour + 30*time.Minute),
			Type:      TypeInPerson,
			Status:    StatusConfirmed,
			CreatedAt: now,
			UpdatedAt: now,
		}

		mock.ExpectQuery("UPDATE appointments").
			WithArgs(id, StatusConfirmed, []string{"pending"}).
			WillReturnRows(apptRows(want))

		got, err := repo.TransitionAppointment(context.Background(), id,
			[]AppointmentStatus{StatusPending}, StatusConfirmed)
		require.NoError(t, err)
		assert.Equal(t, StatusConfirmed, got.Status)
		assert.Equal(t, want.PatientID, got.PatientID)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("zero matched rows maps to not found", func(t *testing.T) {
		mock, repo := newMockRepo(t)
		mock.ExpectQuery("UPDATE appointments").
			WithArgs(id, StatusCancelled, []string{"pending", "confirmed"}).
			WillReturnError(pgx.ErrNoRows)

		_, err := repo.TransitionAppointment(context.Background(), id,
			[]AppointmentStatus{StatusPending, StatusConfirmed}, StatusCancelled)
		assert.ErrorIs(t, err, ErrAppointmentNotFound)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestCompleteAppointmentRepo(t *testing.T) {
	id := uuid.New()
	rx := uuid.New()

	mock, repo := newMockRepo(t)
	want := Appointment{
		ID:             id,
		PatientID:      uuid.New(),
		DoctorID:       uuid.New(),
		Type:           TypeVideo,
		Status:         StatusCompleted,
		PrescriptionID: &rx,
	}

	mock.ExpectQuery("UPDATE appointments").
		WithArgs(id, &rx).
		WillReturnRows(apptRows(want))

	got, err := repo.CompleteAppointment(context.Background(), id, &rx)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, got.Status)
	require.NotNil(t, got.PrescriptionID)
	assert.Equal(t, rx, *got.PrescriptionID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetAppointmentByIDNotFound(t *testing.T) {
	mock, repo := newMockRepo(t)
	id := uuid.New()

	mock.ExpectQuery("SELECT (.+) FROM appointments").
		WithArgs(id).
		WillReturnError(pgx.ErrNoRows)

	_, err := repo.GetAppointmentByID(context.Background(), id)
	assert.ErrorIs(t, err, ErrAppointmentNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDeleteBlockedDateNotFound(t *testing.T) {
	mock, repo := newMockRepo(t)
	id, doctorID := uuid.New(), uuid.New()

	mock.ExpectExec("DELETE FROM blocked_dates").
		WithArgs(id, doctorID).
		WillReturnResult(pgxmock.NewResult("DELETE", 0))

	err := repo.DeleteBlockedDate(context.Background(), id, doctorID)
	assert.ErrorIs(t, err, ErrBlockNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateSlotsBatch(t *testing.T) {
	mock, repo := newMockRepo(t)
	doctorID := uuid.New()
	now := time.Now().UTC()

	slots := []TimeSlot{
		{ID: uuid.New(), DoctorID: doctorID, StartTime: now, EndTime: now.Add(30 * time.Minute), Status: SlotAvailable},
		{ID: uuid.New(), DoctorID: doctorID, StartTime: now.Add(30 * time.Minute), EndTime: now.Add(time.Hour), Status: SlotAvailable},
	}

	mock.ExpectBegin()
	for _, s := range slots {
		mock.ExpectExec("INSERT INTO time_slots").
			WithArgs(s.ID, s.DoctorID, s.StartTime, s.EndTime, s.Status).
			WillReturnResult(pgxmock.NewResult("INSERT", 1))
	}
	mock.ExpectCommit()
	mock.ExpectRollback()

	require.NoError(t, repo.CreateSlots(context.Background(), slots))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestHasOverlappingAppointment(t *testing.T) {
	mock, repo := newMockRepo(t)
	patientID := uuid.New()
	start := time.Now().UTC()
	end := start.Add(time.Hour)

	mock.ExpectQuery("SELECT EXISTS").
		WithArgs(patientID, start, end).
		WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(true))

	busy, err := repo.HasOverlappingAppointment(context.Background(), patientID, start, end)
	require.NoError(t, err)
	assert.True(t, busy)
	assert.NoError(t, mock.ExpectationsWereMet())
}
