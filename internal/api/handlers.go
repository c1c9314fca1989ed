package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/clinicdesk/clinic-scheduling/internal/booking"
)

func bookSlotHandler(svc *booking.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		caller, ok := GetIdentity(r.Context())
		if !ok {
			writeError(w, http.StatusUnauthorized, "missing_identity", "no verified caller")
			return
		}

		var req BookSlotRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}

		slotID, err := uuid.Parse(req.SlotID)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_slot_id", "slot_id must be a valid UUID")
			return
		}

		appt, err := svc.BookSlot(r.Context(), caller, slotID, appointmentType(req.Type), req.Notes)
		if err != nil {
			handleServiceError(w, err)
			return
		}

		writeJSON(w, http.StatusCreated, toAppointmentResponse(appt))
	}
}

func directAppointmentHandler(svc *booking.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		caller, ok := GetIdentity(r.Context())
		if !ok {
			writeError(w, http.StatusUnauthorized, "missing_identity", "no verified caller")
			return
		}

		var req DirectAppointmentRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}

		doctorID, err := uuid.Parse(req.DoctorID)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_doctor_id", "doctor_id must be a valid UUID")
			return
		}

		appt, err := svc.RequestAppointment(r.Context(), caller, doctorID, req.StartAt, req.EndAt, appointmentType(req.Type), req.Notes)
		if err != nil {
			handleServiceError(w, err)
			return
		}

		writeJSON(w, http.StatusCreated, toAppointmentResponse(appt))
	}
}

func acceptHandler(svc *booking.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		caller, id, ok := callerAndID(w, r)
		if !ok {
			return
		}

		appt, err := svc.Accept(r.Context(), caller, id)
		if err != nil {
			handleServiceError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, toAppointmentResponse(appt))
	}
}

func rejectHandler(svc *booking.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		caller, id, ok := callerAndID(w, r)
		if !ok {
			return
		}

		var req RejectRequest
		if r.Body != nil {
			_ = json.NewDecoder(r.Body).Decode(&req)
		}

		appt, alternatives, err := svc.Reject(r.Context(), caller, id, req.Reason)
		if err != nil {
			handleServiceError(w, err)
			return
		}

		resp := RejectResponse{Appointment: toAppointmentResponse(appt)}
		for _, alt := range alternatives {
			resp.Alternatives = append(resp.Alternatives, toSlotResponse(&alt))
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func cancelHandler(svc *booking.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		caller, id, ok := callerAndID(w, r)
		if !ok {
			return
		}

		appt, err := svc.Cancel(r.Context(), caller, id)
		if err != nil {
			handleServiceError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, toAppointmentResponse(appt))
	}
}

func completeHandler(svc *booking.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		caller, id, ok := callerAndID(w, r)
		if !ok {
			return
		}

		var req CompleteRequest
		if r.Body != nil {
			_ = json.NewDecoder(r.Body).Decode(&req)
		}

		var prescriptionID *uuid.UUID
		if req.PrescriptionID != nil {
			pid, err := uuid.Parse(*req.PrescriptionID)
			if err != nil {
				writeError(w, http.StatusBadRequest, "invalid_prescription_id", "prescription_id must be a valid UUID")
				return
			}
			prescriptionID = &pid
		}

		appt, err := svc.Complete(r.Context(), caller, id, prescriptionID)
		if err != nil {
			handleServiceError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, toAppointmentResponse(appt))
	}
}

func getAppointmentHandler(svc *booking.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		caller, id, ok := callerAndID(w, r)
		if !ok {
			return
		}

		appt, err := svc.GetAppointment(r.Context(), caller, id)
		if err != nil {
			handleServiceError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, toAppointmentResponse(appt))
	}
}

func listAppointmentsHandler(svc *booking.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		caller, ok := GetIdentity(r.Context())
		if !ok {
			writeError(w, http.StatusUnauthorized, "missing_identity", "no verified caller")
			return
		}

		limit := queryInt(r, "limit", 20)
		offset := queryInt(r, "offset", 0)

		appts, err := svc.ListAppointments(r.Context(), caller, limit, offset)
		if err != nil {
			handleServiceError(w, err)
			return
		}

		resp := make([]AppointmentResponse, 0, len(appts))
		for i := range appts {
			resp = append(resp, toAppointmentResponse(&appts[i]))
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func createSlotHandler(svc *booking.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		caller, ok := GetIdentity(r.Context())
		if !ok {
			writeError(w, http.StatusUnauthorized, "missing_identity", "no verified caller")
			return
		}

		var req CreateSlotRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}

		slot, err := svc.CreateSlot(r.Context(), caller, req.StartTime, req.EndTime)
		if err != nil {
			handleServiceError(w, err)
			return
		}

		writeJSON(w, http.StatusCreated, toSlotResponse(slot))
	}
}

func generateSlotsHandler(svc *booking.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		caller, ok := GetIdentity(r.Context())
		if !ok {
			writeError(w, http.StatusUnauthorized, "missing_identity", "no verified caller")
			return
		}

		var req GenerateSlotsRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}

		fromDay, err := time.Parse("2006-01-02", req.FromDate)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_from_date", "from_date must be YYYY-MM-DD")
			return
		}
		toDay, err := time.Parse("2006-01-02", req.ToDate)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_to_date", "to_date must be YYYY-MM-DD")
			return
		}
		dayStart, err := parseClock(req.DayStart)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_day_start", "day_start must be HH:MM")
			return
		}
		dayEnd, err := parseClock(req.DayEnd)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_day_end", "day_end must be HH:MM")
			return
		}
		slotLen, err := time.ParseDuration(req.SlotDuration)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_slot_duration", "slot_duration must be a duration like 30m")
			return
		}

		slots, err := svc.GenerateSlots(r.Context(), caller, fromDay, toDay, dayStart, dayEnd, slotLen)
		if err != nil {
			handleServiceError(w, err)
			return
		}

		resp := make([]SlotResponse, 0, len(slots))
		for i := range slots {
			resp = append(resp, toSlotResponse(&slots[i]))
		}
		writeJSON(w, http.StatusCreated, resp)
	}
}

func cancelSlotHandler(svc *booking.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		caller, id, ok := callerAndID(w, r)
		if !ok {
			return
		}

		if err := svc.CancelSlot(r.Context(), caller, id); err != nil {
			handleServiceError(w, err)
			return
		}

		w.WriteHeader(http.StatusNoContent)
	}
}

func createBlockedDateHandler(svc *booking.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		caller, ok := GetIdentity(r.Context())
		if !ok {
			writeError(w, http.StatusUnauthorized, "missing_identity", "no verified caller")
			return
		}

		var req BlockedDateRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}

		day, err := time.Parse("2006-01-02", req.Date)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_date", "date must be YYYY-MM-DD")
			return
		}

		block, err := svc.AddBlockedDate(r.Context(), caller, day, req.FullDay, req.StartTime, req.EndTime, req.Reason)
		if err != nil {
			handleServiceError(w, err)
			return
		}

		writeJSON(w, http.StatusCreated, toBlockedDateResponse(block))
	}
}

func listBlockedDatesHandler(svc *booking.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		caller, ok := GetIdentity(r.Context())
		if !ok {
			writeError(w, http.StatusUnauthorized, "missing_identity", "no verified caller")
			return
		}

		from := time.Now()
		to := from.AddDate(0, 1, 0)
		if v := r.URL.Query().Get("from"); v != "" {
			if parsed, err := time.Parse("2006-01-02", v); err == nil {
				from = parsed
			}
		}
		if v := r.URL.Query().Get("to"); v != "" {
			if parsed, err := time.Parse("2006-01-02", v); err == nil {
				to = parsed
			}
		}

		blocks, err := svc.ListBlockedDates(r.Context(), caller, from, to)
		if err != nil {
			handleServiceError(w, err)
			return
		}

		resp := make([]BlockedDateResponse, 0, len(blocks))
		for i := range blocks {
			resp = append(resp, toBlockedDateResponse(&blocks[i]))
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func deleteBlockedDateHandler(svc *booking.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		caller, id, ok := callerAndID(w, r)
		if !ok {
			return
		}

		if err := svc.RemoveBlockedDate(r.Context(), caller, id); err != nil {
			handleServiceError(w, err)
			return
		}

		w.WriteHeader(http.StatusNoContent)
	}
}

// handleServiceError maps the booking error taxonomy to HTTP statuses.
func handleServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, booking.ErrPatientNotFound):
		writeError(w, http.StatusNotFound, "patient_not_found", err.Error())
	case errors.Is(err, booking.ErrDoctorNotFound):
		writeError(w, http.StatusNotFound, "doctor_not_found", err.Error())
	case errors.Is(err, booking.ErrSlotNotFound):
		writeError(w, http.StatusNotFound, "slot_not_found", err.Error())
	case errors.Is(err, booking.ErrAppointmentNotFound):
		writeError(w, http.StatusNotFound, "appointment_not_found", err.Error())
	case errors.Is(err, booking.ErrBlockNotFound):
		writeError(w, http.StatusNotFound, "blocked_date_not_found", err.Error())
	case errors.Is(err, booking.ErrSlotNotOpen):
		writeError(w, http.StatusConflict, "slot_not_open", err.Error())
	case errors.Is(err, booking.ErrSlotAlreadyBooked):
		writeError(w, http.StatusConflict, "slot_already_booked", err.Error())
	case errors.Is(err, booking.ErrSlotOccupied):
		writeError(w, http.StatusConflict, "slot_occupied", err.Error())
	case errors.Is(err, booking.ErrPatientBusy):
		writeError(w, http.StatusConflict, "appointment_exists", err.Error())
	case errors.Is(err, booking.ErrAlreadyCancelled):
		writeError(w, http.StatusConflict, "already_cancelled", err.Error())
	case errors.Is(err, booking.ErrInvalidTransition):
		writeError(w, http.StatusConflict, "invalid_status_transition", err.Error())
	case errors.Is(err, booking.ErrDuplicateBlock):
		writeError(w, http.StatusConflict, "conflicting_block", err.Error())
	case errors.Is(err, booking.ErrDoctorUnavailable):
		writeError(w, http.StatusConflict, "doctor_unavailable", err.Error())
	case errors.Is(err, booking.ErrForbidden):
		writeError(w, http.StatusForbidden, "forbidden", err.Error())
	case errors.Is(err, booking.ErrValidation):
		writeError(w, http.StatusUnprocessableEntity, "validation_failed", err.Error())
	default:
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
	}
}

// helpers

func callerAndID(w http.ResponseWriter, r *http.Request) (booking.Identity, uuid.UUID, bool) {
	caller, ok := GetIdentity(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "missing_identity", "no verified caller")
		return booking.Identity{}, uuid.Nil, false
	}

	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_id", "id must be a valid UUID")
		return booking.Identity{}, uuid.Nil, false
	}

	return caller, id, true
}

func appointmentType(raw string) booking.AppointmentType {
	if raw == string(booking.TypeVideo) {
		return booking.TypeVideo
	}
	return booking.TypeInPerson
}

func parseClock(raw string) (time.Duration, error) {
	t, err := time.Parse("15:04", raw)
	if err != nil {
		return 0, err
	}
	return time.Duration(t.Hour())*time.Hour + time.Duration(t.Minute())*time.Minute, nil
}

func queryInt(r *http.Request, key string, def int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func toAppointmentResponse(a *booking.Appointment) AppointmentResponse {
	return AppointmentResponse{
		ID:             a.ID,
		PatientID:      a.PatientID,
		DoctorID:       a.DoctorID,
		SlotID:         a.SlotID,
		StartAt:        a.StartAt,
		EndAt:          a.EndAt,
		Type:           string(a.Type),
		Status:         string(a.Status),
		Notes:          a.Notes,
		PrescriptionID: a.PrescriptionID,
	}
}

func toSlotResponse(s *booking.TimeSlot) SlotResponse {
	return SlotResponse{
		ID:        s.ID,
		DoctorID:  s.DoctorID,
		StartTime: s.StartTime,
		EndTime:   s.EndTime,
		Status:    string(s.Status),
	}
}

func toBlockedDateResponse(b *booking.BlockedDate) BlockedDateResponse {
	return BlockedDateResponse{
		ID:        b.ID,
		DoctorID:  b.DoctorID,
		Date:      b.Day.Format("2006-01-02"),
		FullDay:   b.FullDay,
		StartTime: b.StartTime,
		EndTime:   b.EndTime,
		Reason:    b.Reason,
	}
}
