package booking

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clinicdesk/clinic-scheduling/internal/config"
)

// memRepo is an in-memory Repository. The mutex makes every method a single
// atomic step, mirroring the one-statement guarantee of the SQL repository.
type memRepo struct {
	mu            sync.Mutex
	patients      map[uuid.UUID]Patient
	doctors       map[uuid.UUID]Doctor
	slots         map[uuid.UUID]TimeSlot
	appointments  map[uuid.UUID]Appointment
	blocks        map[uuid.UUID]BlockedDate
	notifications []Notification

	// failure injection
	overlapErr    error
	createApptErr error
}

func newMemRepo() *memRepo {
	return &memRepo{
		patients:     make(map[uuid.UUID]Patient),
		doctors:      make(map[uuid.UUID]Doctor),
		slots:        make(map[uuid.UUID]TimeSlot),
		appointments: make(map[uuid.UUID]Appointment),
		blocks:       make(map[uuid.UUID]BlockedDate),
	}
}

func (r *memRepo) GetPatientByID(_ context.Context, id uuid.UUID) (*Patient, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.patients[id]
	if !ok {
		return nil, ErrPatientNotFound
	}
	return &p, nil
}

func (r *memRepo) GetDoctorByID(_ context.Context, id uuid.UUID) (*Doctor, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.doctors[id]
	if !ok {
		return nil, ErrDoctorNotFound
	}
	return &d, nil
}

func (r *memRepo) GetSlotByID(_ context.Context, id uuid.UUID) (*TimeSlot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.slots[id]
	if !ok {
		return nil, ErrSlotNotFound
	}
	return &s, nil
}

func (r *memRepo) CreateSlot(_ context.Context, slot *TimeSlot) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.slots[slot.ID] = *slot
	return nil
}

func (r *memRepo) CreateSlots(_ context.Context, slots []TimeSlot) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range slots {
		r.slots[s.ID] = s
	}
	return nil
}

func (r *memRepo) ClaimSlot(_ context.Context, id uuid.UUID) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.slots[id]
	if !ok || s.Status != SlotAvailable {
		return false, nil
	}
	s.Status = SlotBooked
	r.slots[id] = s
	return true, nil
}

func (r *memRepo) ReleaseSlot(_ context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.slots[id]
	if !ok {
		return nil
	}
	s.Status = SlotAvailable
	r.slots[id] = s
	return nil
}

func (r *memRepo) CancelSlot(_ context.Context, id uuid.UUID) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.slots[id]
	if !ok || s.Status != SlotAvailable {
		return false, nil
	}
	s.Status = SlotCancelled
	r.slots[id] = s
	return true, nil
}

func (r *memRepo) ListOpenSlots(_ context.Context, doctorID uuid.UUID, from time.Time, limit int) ([]TimeSlot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var result []TimeSlot
	for _, s := range r.slots {
		if s.DoctorID == doctorID && s.Status == SlotAvailable && !s.StartTime.Before(from) {
			result = append(result, s)
		}
		if len(result) == limit {
			break
		}
	}
	return result, nil
}

func (r *memRepo) CreateAppointment(_ context.Context, appt *Appointment) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.createApptErr != nil {
		return r.createApptErr
	}
	r.appointments[appt.ID] = *appt
	return nil
}

func (r *memRepo) GetAppointmentByID(_ context.Context, id uuid.UUID) (*Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.appointments[id]
	if !ok {
		return nil, ErrAppointmentNotFound
	}
	return &a, nil
}

func (r *memRepo) TransitionAppointment(_ context.Context, id uuid.UUID, from []AppointmentStatus, to AppointmentStatus) (*Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.appointments[id]
	if !ok {
		return nil, ErrAppointmentNotFound
	}
	matched := false
	for _, s := range from {
		if a.Status == s {
			matched = true
			break
		}
	}
	if !matched {
		return nil, ErrAppointmentNotFound
	}
	a.Status = to
	r.appointments[id] = a
	return &a, nil
}

func (r *memRepo) CompleteAppointment(_ context.Context, id uuid.UUID, prescriptionID *uuid.UUID) (*Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.appointments[id]
	if !ok || a.Status != StatusConfirmed {
		return nil, ErrAppointmentNotFound
	}
	a.Status = StatusCompleted
	if prescriptionID != nil {
		a.PrescriptionID = prescriptionID
	}
	r.appointments[id] = a
	return &a, nil
}

func (r *memRepo) FindActiveAppointmentForSlot(_ context.Context, slotID uuid.UUID) (*Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, a := range r.appointments {
		if a.SlotID != nil && *a.SlotID == slotID && (a.Status == StatusPending || a.Status == StatusConfirmed) {
			return &a, nil
		}
	}
	return nil, ErrAppointmentNotFound
}

func (r *memRepo) HasOverlappingAppointment(_ context.Context, patientID uuid.UUID, start, end time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.overlapErr != nil {
		return false, r.overlapErr
	}
	for _, a := range r.appointments {
		if a.PatientID != patientID {
			continue
		}
		if a.Status != StatusPending && a.Status != StatusConfirmed {
			continue
		}
		if overlaps(a.StartAt, a.EndAt, start, end) {
			return true, nil
		}
	}
	return false, nil
}

func (r *memRepo) ListAppointmentsByPatient(_ context.Context, patientID uuid.UUID, limit, offset int) ([]Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var result []Appointment
	for _, a := range r.appointments {
		if a.PatientID == patientID {
			result = append(result, a)
		}
	}
	return result, nil
}

func (r *memRepo) ListAppointmentsByDoctor(_ context.Context, doctorID uuid.UUID, limit, offset int) ([]Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var result []Appointment
	for _, a := range r.appointments {
		if a.DoctorID == doctorID {
			result = append(result, a)
		}
	}
	return result, nil
}

func (r *memRepo) ListBlockedDates(_ context.Context, doctorID uuid.UUID, fromDay, toDay time.Time) ([]BlockedDate, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var result []BlockedDate
	for _, b := range r.blocks {
		if b.DoctorID == doctorID && !b.Day.Before(fromDay) && !b.Day.After(toDay) {
			result = append(result, b)
		}
	}
	return result, nil
}

func (r *memRepo) CreateBlockedDate(_ context.Context, block *BlockedDate) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.blocks[block.ID] = *block
	return nil
}

func (r *memRepo) DeleteBlockedDate(_ context.Context, id, doctorID uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.blocks[id]
	if !ok || b.DoctorID != doctorID {
		return ErrBlockNotFound
	}
	delete(r.blocks, id)
	return nil
}

func (r *memRepo) FindReminderCandidates(_ context.Context, from, to time.Time) ([]Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var result []Appointment
	for _, a := range r.appointments {
		if a.ReminderSent {
			continue
		}
		if a.Status != StatusPending && a.Status != StatusConfirmed {
			continue
		}
		if a.StartAt.Before(from) || !a.StartAt.Before(to) {
			continue
		}
		result = append(result, a)
	}
	return result, nil
}

func (r *memRepo) ClaimReminder(_ context.Context, id uuid.UUID) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.appointments[id]
	if !ok || a.ReminderSent {
		return false, nil
	}
	a.ReminderSent = true
	r.appointments[id] = a
	return true, nil
}

func (r *memRepo) CreateNotification(_ context.Context, n *Notification) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notifications = append(r.notifications, *n)
	return nil
}

func (r *memRepo) slotStatus(t *testing.T, id uuid.UUID) SlotStatus {
	t.Helper()
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.slots[id]
	require.True(t, ok)
	return s.Status
}

func (r *memRepo) apptStatus(t *testing.T, id uuid.UUID) AppointmentStatus {
	t.Helper()
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.appointments[id]
	require.True(t, ok)
	return a.Status
}

// recordingNotifier captures everything the service raised.
type recordingNotifier struct {
	mu    sync.Mutex
	notes []Notification
}

func (n *recordingNotifier) Notify(_ context.Context, note Notification) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.notes = append(n.notes, note)
}

func (n *recordingNotifier) byType(typ NotificationType) []Notification {
	n.mu.Lock()
	defer n.mu.Unlock()
	var result []Notification
	for _, note := range n.notes {
		if note.Type == typ {
			result = append(result, note)
		}
	}
	return result
}

type recordingInvalidator struct {
	mu      sync.Mutex
	doctors []uuid.UUID
}

func (i *recordingInvalidator) InvalidateDoctor(_ context.Context, doctorID uuid.UUID) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.doctors = append(i.doctors, doctorID)
}

type fixture struct {
	repo     *memRepo
	notifier *recordingNotifier
	inval    *recordingInvalidator
	svc      *Service
	now      time.Time

	patient Patient
	doctor  Doctor
	slot    TimeSlot
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	repo := newMemRepo()
	notifier := &recordingNotifier{}
	inval := &recordingInvalidator{}

	cfg := config.Config{
		MinSlotDuration: 5 * time.Minute,
		MaxSlotDuration: 4 * time.Hour,
		ClinicLocation:  time.UTC,
	}

	svc := NewService(repo, inval, notifier, nil, cfg, nil)

	now := time.Date(2026, 3, 10, 8, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return now }

	patient := Patient{ID: uuid.New(), Name: "Ada Tran", Email: strptr("ada@example.com")}
	doctor := Doctor{ID: uuid.New(), Name: "Dr. Okafor", Email: strptr("okafor@example.com")}
	repo.patients[patient.ID] = patient
	repo.doctors[doctor.ID] = doctor

	slot := TimeSlot{
		ID:        uuid.New(),
		DoctorID:  doctor.ID,
		StartTime: now.Add(26 * time.Hour),
		EndTime:   now.Add(26*time.Hour + 30*time.Minute),
		Status:    SlotAvailable,
	}
	repo.slots[slot.ID] = slot

	return &fixture{
		repo:     repo,
		notifier: notifier,
		inval:    inval,
		svc:      svc,
		now:      now,
		patient:  patient,
		doctor:   doctor,
		slot:     slot,
	}
}

func (f *fixture) patientCaller() Identity {
	return Identity{UserID: f.patient.ID, Role: RolePatient, PatientID: f.patient.ID}
}

func (f *fixture) doctorCaller() Identity {
	return Identity{UserID: f.doctor.ID, Role: RoleDoctor, DoctorID: f.doctor.ID}
}

func (f *fixture) book(t *testing.T) *Appointment {
	t.Helper()
	appt, err := f.svc.BookSlot(context.Background(), f.patientCaller(), f.slot.ID, TypeInPerson, "")
	require.NoError(t, err)
	return appt
}

func TestBookSlot(t *testing.T) {
	t.Run("happy path books slot and notifies doctor", func(t *testing.T) {
		f := newFixture(t)

		appt, err := f.svc.BookSlot(context.Background(), f.patientCaller(), f.slot.ID, TypeInPerson, "knee pain")
		require.NoError(t, err)

		assert.Equal(t, StatusPending, appt.Status)
		assert.Equal(t, f.patient.ID, appt.PatientID)
		assert.Equal(t, f.doctor.ID, appt.DoctorID)
		require.NotNil(t, appt.SlotID)
		assert.Equal(t, f.slot.ID, *appt.SlotID)
		assert.True(t, appt.StartAt.Equal(f.slot.StartTime))

		assert.Equal(t, SlotBooked, f.repo.slotStatus(t, f.slot.ID))

		requested := f.notifier.byType(NotifyAppointmentRequested)
		require.Len(t, requested, 1)
		assert.Equal(t, f.doctor.ID, requested[0].UserID)

		assert.Contains(t, f.inval.doctors, f.doctor.ID)
	})

	t.Run("doctor cannot book", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.svc.BookSlot(context.Background(), f.doctorCaller(), f.slot.ID, TypeInPerson, "")
		assert.ErrorIs(t, err, ErrForbidden)
	})

	t.Run("unknown slot", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.svc.BookSlot(context.Background(), f.patientCaller(), uuid.New(), TypeInPerson, "")
		assert.ErrorIs(t, err, ErrSlotNotFound)
	})

	t.Run("booked slot fails fast", func(t *testing.T) {
		f := newFixture(t)
		f.book(t)

		other := Patient{ID: uuid.New(), Name: "Ben Cole"}
		f.repo.patients[other.ID] = other

		_, err := f.svc.BookSlot(context.Background(),
			Identity{UserID: other.ID, Role: RolePatient, PatientID: other.ID},
			f.slot.ID, TypeInPerson, "")
		assert.ErrorIs(t, err, ErrSlotNotOpen)
	})

	t.Run("full-day block rejects booking before claim", func(t *testing.T) {
		f := newFixture(t)
		blockDay := clinicDay(f.slot.StartTime, time.UTC)
		f.repo.blocks[uuid.New()] = BlockedDate{
			ID: uuid.New(), DoctorID: f.doctor.ID, Day: blockDay, FullDay: true,
		}

		_, err := f.svc.BookSlot(context.Background(), f.patientCaller(), f.slot.ID, TypeInPerson, "")
		assert.ErrorIs(t, err, ErrDoctorUnavailable)
		assert.Equal(t, SlotAvailable, f.repo.slotStatus(t, f.slot.ID))
	})

	t.Run("patient with overlapping appointment releases the slot", func(t *testing.T) {
		f := newFixture(t)

		existing := Appointment{
			ID:        uuid.New(),
			PatientID: f.patient.ID,
			DoctorID:  uuid.New(),
			StartAt:   f.slot.StartTime,
			EndAt:     f.slot.EndTime,
			Status:    StatusConfirmed,
		}
		f.repo.appointments[existing.ID] = existing

		_, err := f.svc.BookSlot(context.Background(), f.patientCaller(), f.slot.ID, TypeInPerson, "")
		assert.ErrorIs(t, err, ErrPatientBusy)

		// The compensating release must undo the claim.
		assert.Equal(t, SlotAvailable, f.repo.slotStatus(t, f.slot.ID))
	})

	t.Run("failed appointment insert releases the slot", func(t *testing.T) {
		f := newFixture(t)
		f.repo.createApptErr = errors.New("insert boom")

		_, err := f.svc.BookSlot(context.Background(), f.patientCaller(), f.slot.ID, TypeInPerson, "")
		require.Error(t, err)
		assert.Equal(t, SlotAvailable, f.repo.slotStatus(t, f.slot.ID))
	})

	t.Run("overlap check error releases the slot", func(t *testing.T) {
		f := newFixture(t)
		f.repo.overlapErr = errors.New("query boom")

		_, err := f.svc.BookSlot(context.Background(), f.patientCaller(), f.slot.ID, TypeInPerson, "")
		require.Error(t, err)
		assert.Equal(t, SlotAvailable, f.repo.slotStatus(t, f.slot.ID))
	})
}

func TestBookSlotConcurrent(t *testing.T) {
	f := newFixture(t)

	const n = 32
	patients := make([]Patient, n)
	for i := range patients {
		patients[i] = Patient{ID: uuid.New(), Name: "patient"}
		f.repo.patients[patients[i].ID] = patients[i]
	}

	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			caller := Identity{UserID: patients[i].ID, Role: RolePatient, PatientID: patients[i].ID}
			_, errs[i] = f.svc.BookSlot(context.Background(), caller, f.slot.ID, TypeInPerson, "")
		}(i)
	}
	wg.Wait()

	var won, lost int
	for _, err := range errs {
		switch {
		case err == nil:
			won++
		case errors.Is(err, ErrSlotAlreadyBooked) || errors.Is(err, ErrSlotNotOpen):
			lost++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}

	assert.Equal(t, 1, won, "exactly one booking may win the slot")
	assert.Equal(t, n-1, lost)
	assert.Equal(t, SlotBooked, f.repo.slotStatus(t, f.slot.ID))

	// Exactly one appointment row for the slot.
	active, err := f.repo.FindActiveAppointmentForSlot(context.Background(), f.slot.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusPending, active.Status)
	assert.Len(t, f.repo.appointments, 1)
}

func TestRequestAppointment(t *testing.T) {
	f := newFixture(t)
	start := f.now.Add(30 * time.Hour)
	end := start.Add(time.Hour)

	t.Run("creates pending appointment without slot", func(t *testing.T) {
		appt, err := f.svc.RequestAppointment(context.Background(), f.patientCaller(), f.doctor.ID, start, end, TypeVideo, "")
		require.NoError(t, err)
		assert.Equal(t, StatusPending, appt.Status)
		assert.Nil(t, appt.SlotID)
		assert.False(t, appt.SlotBound())
	})

	t.Run("window in the past rejected", func(t *testing.T) {
		_, err := f.svc.RequestAppointment(context.Background(), f.patientCaller(), f.doctor.ID,
			f.now.Add(-time.Hour), f.now, TypeVideo, "")
		assert.ErrorIs(t, err, ErrValidation)
	})

	t.Run("duration out of range rejected", func(t *testing.T) {
		_, err := f.svc.RequestAppointment(context.Background(), f.patientCaller(), f.doctor.ID,
			start, start.Add(time.Minute), TypeVideo, "")
		assert.ErrorIs(t, err, ErrValidation)
	})

	t.Run("unknown doctor", func(t *testing.T) {
		_, err := f.svc.RequestAppointment(context.Background(), f.patientCaller(), uuid.New(),
			start.Add(48*time.Hour), start.Add(49*time.Hour), TypeVideo, "")
		assert.ErrorIs(t, err, ErrDoctorNotFound)
	})
}

func TestAccept(t *testing.T) {
	t.Run("pending becomes confirmed and patient is notified", func(t *testing.T) {
		f := newFixture(t)
		appt := f.book(t)

		updated, err := f.svc.Accept(context.Background(), f.doctorCaller(), appt.ID)
		require.NoError(t, err)
		assert.Equal(t, StatusConfirmed, updated.Status)

		accepted := f.notifier.byType(NotifyAppointmentAccepted)
		require.Len(t, accepted, 1)
		assert.Equal(t, f.patient.ID, accepted[0].UserID)

		// Slot stays booked across the transition.
		assert.Equal(t, SlotBooked, f.repo.slotStatus(t, f.slot.ID))
	})

	t.Run("accepting twice is an invalid transition", func(t *testing.T) {
		f := newFixture(t)
		appt := f.book(t)

		_, err := f.svc.Accept(context.Background(), f.doctorCaller(), appt.ID)
		require.NoError(t, err)

		_, err = f.svc.Accept(context.Background(), f.doctorCaller(), appt.ID)
		assert.ErrorIs(t, err, ErrInvalidTransition)
	})

	t.Run("another doctor is forbidden, not told the row exists", func(t *testing.T) {
		f := newFixture(t)
		appt := f.book(t)

		other := Identity{UserID: uuid.New(), Role: RoleDoctor, DoctorID: uuid.New()}
		_, err := f.svc.Accept(context.Background(), other, appt.ID)
		assert.ErrorIs(t, err, ErrForbidden)
		assert.NotErrorIs(t, err, ErrAppointmentNotFound)
	})

	t.Run("patient cannot accept", func(t *testing.T) {
		f := newFixture(t)
		appt := f.book(t)

		_, err := f.svc.Accept(context.Background(), f.patientCaller(), appt.ID)
		assert.ErrorIs(t, err, ErrForbidden)
	})
}

func TestReject(t *testing.T) {
	t.Run("releases slot and suggests alternatives", func(t *testing.T) {
		f := newFixture(t)
		appt := f.book(t)

		// Another open slot the rejection can point at.
		alt := TimeSlot{
			ID:        uuid.New(),
			DoctorID:  f.doctor.ID,
			StartTime: f.now.Add(50 * time.Hour),
			EndTime:   f.now.Add(50*time.Hour + 30*time.Minute),
			Status:    SlotAvailable,
		}
		f.repo.slots[alt.ID] = alt

		updated, alternatives, err := f.svc.Reject(context.Background(), f.doctorCaller(), appt.ID, "double booked")
		require.NoError(t, err)
		assert.Equal(t, StatusRejected, updated.Status)
		assert.Equal(t, SlotAvailable, f.repo.slotStatus(t, f.slot.ID))

		require.Len(t, alternatives, 1)
		assert.Equal(t, alt.ID, alternatives[0].ID)

		rejected := f.notifier.byType(NotifyAppointmentRejected)
		require.Len(t, rejected, 1)
		assert.Equal(t, f.patient.ID, rejected[0].UserID)
		assert.Contains(t, rejected[0].Message, "double booked")
	})

	t.Run("rejecting a confirmed appointment fails", func(t *testing.T) {
		f := newFixture(t)
		appt := f.book(t)

		_, err := f.svc.Accept(context.Background(), f.doctorCaller(), appt.ID)
		require.NoError(t, err)

		_, _, err = f.svc.Reject(context.Background(), f.doctorCaller(), appt.ID, "")
		assert.ErrorIs(t, err, ErrInvalidTransition)
	})
}

func TestCancel(t *testing.T) {
	t.Run("patient cancels pending, slot released, doctor notified", func(t *testing.T) {
		f := newFixture(t)
		appt := f.book(t)

		updated, err := f.svc.Cancel(context.Background(), f.patientCaller(), appt.ID)
		require.NoError(t, err)
		assert.Equal(t, StatusCancelled, updated.Status)
		assert.Equal(t, SlotAvailable, f.repo.slotStatus(t, f.slot.ID))

		cancelled := f.notifier.byType(NotifyAppointmentCancelled)
		require.Len(t, cancelled, 1)
		assert.Equal(t, f.doctor.ID, cancelled[0].UserID)
	})

	t.Run("doctor cancels confirmed, patient notified", func(t *testing.T) {
		f := newFixture(t)
		appt := f.book(t)

		_, err := f.svc.Accept(context.Background(), f.doctorCaller(), appt.ID)
		require.NoError(t, err)

		_, err = f.svc.Cancel(context.Background(), f.doctorCaller(), appt.ID)
		require.NoError(t, err)

		cancelled := f.notifier.byType(NotifyAppointmentCancelled)
		require.Len(t, cancelled, 1)
		assert.Equal(t, f.patient.ID, cancelled[0].UserID)
	})

	t.Run("second cancel is a conflict", func(t *testing.T) {
		f := newFixture(t)
		appt := f.book(t)

		_, err := f.svc.Cancel(context.Background(), f.patientCaller(), appt.ID)
		require.NoError(t, err)

		_, err = f.svc.Cancel(context.Background(), f.patientCaller(), appt.ID)
		assert.ErrorIs(t, err, ErrAlreadyCancelled)
	})

	t.Run("completed appointment cannot be cancelled", func(t *testing.T) {
		f := newFixture(t)
		appt := f.book(t)

		_, err := f.svc.Accept(context.Background(), f.doctorCaller(), appt.ID)
		require.NoError(t, err)
		_, err = f.svc.Complete(context.Background(), f.doctorCaller(), appt.ID, nil)
		require.NoError(t, err)

		_, err = f.svc.Cancel(context.Background(), f.patientCaller(), appt.ID)
		assert.ErrorIs(t, err, ErrInvalidTransition)
	})

	t.Run("unrelated patient is forbidden", func(t *testing.T) {
		f := newFixture(t)
		appt := f.book(t)

		other := Identity{UserID: uuid.New(), Role: RolePatient, PatientID: uuid.New()}
		_, err := f.svc.Cancel(context.Background(), other, appt.ID)
		assert.ErrorIs(t, err, ErrForbidden)
	})
}

func TestComplete(t *testing.T) {
	t.Run("confirmed becomes completed with prescription, slot stays booked", func(t *testing.T) {
		f := newFixture(t)
		appt := f.book(t)

		_, err := f.svc.Accept(context.Background(), f.doctorCaller(), appt.ID)
		require.NoError(t, err)

		rx := uuid.New()
		updated, err := f.svc.Complete(context.Background(), f.doctorCaller(), appt.ID, &rx)
		require.NoError(t, err)
		assert.Equal(t, StatusCompleted, updated.Status)
		require.NotNil(t, updated.PrescriptionID)
		assert.Equal(t, rx, *updated.PrescriptionID)

		assert.Equal(t, SlotBooked, f.repo.slotStatus(t, f.slot.ID))

		completed := f.notifier.byType(NotifyAppointmentCompleted)
		require.Len(t, completed, 1)
		assert.Equal(t, f.patient.ID, completed[0].UserID)
	})

	t.Run("pending cannot be completed", func(t *testing.T) {
		f := newFixture(t)
		appt := f.book(t)

		_, err := f.svc.Complete(context.Background(), f.doctorCaller(), appt.ID, nil)
		assert.ErrorIs(t, err, ErrInvalidTransition)
	})
}

func TestCreateSlot(t *testing.T) {
	f := newFixture(t)
	start := f.now.Add(5 * time.Hour)

	t.Run("doctor creates open slot", func(t *testing.T) {
		slot, err := f.svc.CreateSlot(context.Background(), f.doctorCaller(), start, start.Add(30*time.Minute))
		require.NoError(t, err)
		assert.Equal(t, SlotAvailable, slot.Status)
		assert.Equal(t, f.doctor.ID, slot.DoctorID)
	})

	t.Run("patient cannot create slots", func(t *testing.T) {
		_, err := f.svc.CreateSlot(context.Background(), f.patientCaller(), start, start.Add(30*time.Minute))
		assert.ErrorIs(t, err, ErrForbidden)
	})

	t.Run("slot inside blocked window rejected", func(t *testing.T) {
		blockStart := at(clinicDay(start, time.UTC), 0, 0)
		f.repo.blocks[uuid.New()] = BlockedDate{
			ID: uuid.New(), DoctorID: f.doctor.ID, Day: blockStart, FullDay: true,
		}
		_, err := f.svc.CreateSlot(context.Background(), f.doctorCaller(), start, start.Add(30*time.Minute))
		assert.ErrorIs(t, err, ErrDoctorUnavailable)
	})
}

func TestGenerateSlots(t *testing.T) {
	f := newFixture(t)
	day1 := f.now.AddDate(0, 0, 1)
	day2 := f.now.AddDate(0, 0, 2)

	t.Run("generates per-day grid skipping blocked days", func(t *testing.T) {
		f.repo.blocks[uuid.New()] = BlockedDate{
			ID: uuid.New(), DoctorID: f.doctor.ID, Day: clinicDay(day2, time.UTC), FullDay: true,
		}

		slots, err := f.svc.GenerateSlots(context.Background(), f.doctorCaller(),
			day1, day2, 9*time.Hour, 12*time.Hour, 30*time.Minute)
		require.NoError(t, err)

		// 6 half-hour slots on day1; day2 is fully blocked.
		require.Len(t, slots, 6)
		for _, s := range slots {
			assert.Equal(t, clinicDay(day1, time.UTC), clinicDay(s.StartTime, time.UTC))
			assert.Equal(t, SlotAvailable, s.Status)
		}
	})

	t.Run("slot length outside bounds rejected", func(t *testing.T) {
		_, err := f.svc.GenerateSlots(context.Background(), f.doctorCaller(),
			day1, day2, 9*time.Hour, 12*time.Hour, time.Minute)
		assert.ErrorIs(t, err, ErrValidation)
	})

	t.Run("range over a month rejected", func(t *testing.T) {
		_, err := f.svc.GenerateSlots(context.Background(), f.doctorCaller(),
			day1, day1.AddDate(0, 0, 40), 9*time.Hour, 12*time.Hour, 30*time.Minute)
		assert.ErrorIs(t, err, ErrValidation)
	})
}

func TestCancelSlot(t *testing.T) {
	t.Run("open slot cancelled", func(t *testing.T) {
		f := newFixture(t)
		require.NoError(t, f.svc.CancelSlot(context.Background(), f.doctorCaller(), f.slot.ID))
		assert.Equal(t, SlotCancelled, f.repo.slotStatus(t, f.slot.ID))
	})

	t.Run("booked slot refuses withdrawal", func(t *testing.T) {
		f := newFixture(t)
		f.book(t)
		err := f.svc.CancelSlot(context.Background(), f.doctorCaller(), f.slot.ID)
		assert.ErrorIs(t, err, ErrSlotOccupied)
	})

	t.Run("foreign slot forbidden", func(t *testing.T) {
		f := newFixture(t)
		other := Identity{UserID: uuid.New(), Role: RoleDoctor, DoctorID: uuid.New()}
		err := f.svc.CancelSlot(context.Background(), other, f.slot.ID)
		assert.ErrorIs(t, err, ErrForbidden)
	})
}

func TestAddBlockedDate(t *testing.T) {
	f := newFixture(t)
	day := f.now.AddDate(0, 0, 3)

	t.Run("full-day block created", func(t *testing.T) {
		block, err := f.svc.AddBlockedDate(context.Background(), f.doctorCaller(), day, true, nil, nil, strptr("vacation"))
		require.NoError(t, err)
		assert.True(t, block.FullDay)
	})

	t.Run("second full-day block on same day rejected", func(t *testing.T) {
		_, err := f.svc.AddBlockedDate(context.Background(), f.doctorCaller(), day, true, nil, nil, nil)
		assert.ErrorIs(t, err, ErrDuplicateBlock)
	})

	t.Run("partial block requires both times", func(t *testing.T) {
		start := at(clinicDay(day, time.UTC), 13, 0)
		_, err := f.svc.AddBlockedDate(context.Background(), f.doctorCaller(), day, false, &start, nil, nil)
		assert.ErrorIs(t, err, ErrValidation)
	})

	t.Run("disjoint partial blocks allowed", func(t *testing.T) {
		d := clinicDay(day.AddDate(0, 0, 1), time.UTC)
		s1, e1 := at(d, 9, 0), at(d, 12, 0)
		_, err := f.svc.AddBlockedDate(context.Background(), f.doctorCaller(), d, false, &s1, &e1, nil)
		require.NoError(t, err)

		s2, e2 := at(d, 12, 0), at(d, 14, 0)
		_, err = f.svc.AddBlockedDate(context.Background(), f.doctorCaller(), d, false, &s2, &e2, nil)
		require.NoError(t, err)

		s3, e3 := at(d, 13, 0), at(d, 15, 0)
		_, err = f.svc.AddBlockedDate(context.Background(), f.doctorCaller(), d, false, &s3, &e3, nil)
		assert.ErrorIs(t, err, ErrDuplicateBlock)
	})
}

func TestGetAppointmentVisibility(t *testing.T) {
	f := newFixture(t)
	appt := f.book(t)

	t.Run("owning patient sees it", func(t *testing.T) {
		got, err := f.svc.GetAppointment(context.Background(), f.patientCaller(), appt.ID)
		require.NoError(t, err)
		assert.Equal(t, appt.ID, got.ID)
	})

	t.Run("owning doctor sees it", func(t *testing.T) {
		_, err := f.svc.GetAppointment(context.Background(), f.doctorCaller(), appt.ID)
		require.NoError(t, err)
	})

	t.Run("stranger gets forbidden", func(t *testing.T) {
		other := Identity{UserID: uuid.New(), Role: RolePatient, PatientID: uuid.New()}
		_, err := f.svc.GetAppointment(context.Background(), other, appt.ID)
		assert.ErrorIs(t, err, ErrForbidden)
	})

	t.Run("missing row is not found", func(t *testing.T) {
		_, err := f.svc.GetAppointment(context.Background(), f.patientCaller(), uuid.New())
		assert.ErrorIs(t, err, ErrAppointmentNotFound)
	})
}
