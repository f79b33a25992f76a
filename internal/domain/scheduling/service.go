package scheduling

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/healthcenter/hms/internal/domain/patient"
	"github.com/healthcenter/hms/internal/platform/apperr"
	"github.com/healthcenter/hms/internal/platform/auth"
	"github.com/healthcenter/hms/internal/platform/storage"
)

// Patients is the part of the patient store booking depends on.
type Patients interface {
	Resolve(patientID string) (patient.Record, bool)
	AttachAppointment(ctx context.Context, patientID, apptID string) error
}

// OpRecorder receives the outcome of every appointment mutation.
type OpRecorder interface {
	RecordAppointmentOp(op string, err error)
}

type Service struct {
	appts    *storage.Table[Appointment]
	patients Patients
	recorder OpRecorder
	now      func() time.Time
	logger   zerolog.Logger
}

func NewService(ctx context.Context, gw storage.Gateway, patients Patients, logger zerolog.Logger) (*Service, error) {
	appts, err := storage.OpenTable[Appointment](ctx, gw, storage.Appointments, logger)
	if err != nil {
		return nil, err
	}
	return &Service{
		appts:    appts,
		patients: patients,
		now:      time.Now,
		logger:   logger.With().Str("store", "scheduling").Logger(),
	}, nil
}

func (s *Service) SetRecorder(r OpRecorder) {
	s.recorder = r
}

// Observe forwards collection writes to o.
func (s *Service) Observe(o storage.WriteObserver) {
	s.appts.Observe(o)
}

// Reload re-reads the appointments collection.
func (s *Service) Reload(ctx context.Context) {
	s.appts.Reload(ctx)
}

func (s *Service) record(op string, err error) {
	if s.recorder != nil {
		s.recorder.RecordAppointmentOp(op, err)
	}
}

func (s *Service) denied(requester auth.Session, action auth.Action, op string) {
	s.logger.Debug().
		Str("user_id", requester.UserID).
		Str("role", string(requester.Role)).
		Str("action", string(action)).
		Msgf("%s denied", op)
}

func (s *Service) find(apptID string) (*Appointment, bool) {
	return s.appts.Find(func(a *Appointment) bool { return a.ApptID == apptID })
}

func (s *Service) nextID() string {
	ids := make([]string, 0, s.appts.Len())
	for _, a := range s.appts.Rows() {
		ids = append(ids, a.ApptID)
	}
	return storage.NextID("A", ids)
}

// visible reports whether requester may see a: patients their own, doctors
// their own schedule, everyone else all appointments.
func visible(requester auth.Session, a *Appointment) bool {
	switch requester.Role {
	case auth.RolePatient:
		return a.PatientID == requester.PatientID
	case auth.RoleDoctor:
		return a.Doctor == requester.Name
	default:
		return true
	}
}

func validateSlot(date, slot string) error {
	if _, err := time.Parse(DateLayout, date); err != nil {
		return apperr.Validation("date must be YYYY-MM-DD")
	}
	if !isSlot(slot) {
		return apperr.Validation("time must be a half-hour slot between 09:00 and 16:30")
	}
	return nil
}

// Book creates a Pending appointment and appends it to the patient's record.
// A slot held by a non-cancelled appointment of the same doctor is a conflict.
func (s *Service) Book(ctx context.Context, requester auth.Session, b Booking) (a *Appointment, err error) {
	if !requester.Can(auth.BookAppointment) {
		s.denied(requester, auth.BookAppointment, "book")
		return nil, nil
	}
	if requester.Role == auth.RolePatient && b.PatientID != requester.PatientID {
		s.denied(requester, auth.BookAppointment, "book for another patient")
		return nil, nil
	}
	defer func() { s.record("book", err) }()

	if b.PatientID == "" || b.Doctor == "" || b.Date == "" || b.Time == "" || b.Reason == "" {
		return nil, apperr.Validation("all fields are required")
	}
	if err := validateSlot(b.Date, b.Time); err != nil {
		return nil, err
	}
	if _, ok := s.patients.Resolve(b.PatientID); !ok {
		return nil, apperr.NotFound("patient", b.PatientID)
	}
	if _, taken := s.appts.Find(func(o *Appointment) bool {
		return o.Status != StatusCancelled && o.occupies(b.Doctor, b.Date, b.Time)
	}); taken {
		return nil, apperr.ErrSlotConflict
	}

	a = &Appointment{
		ApptID:    s.nextID(),
		PatientID: b.PatientID,
		Doctor:    b.Doctor,
		Date:      b.Date,
		Time:      b.Time,
		Reason:    b.Reason,
		Status:    StatusPending,
		CreatedAt: s.now().Format(CreatedAtLayout),
	}
	s.appts.Append(a)
	if err := s.appts.Flush(ctx); err != nil {
		return nil, err
	}
	if err := s.patients.AttachAppointment(ctx, b.PatientID, a.ApptID); err != nil {
		return nil, err
	}

	s.logger.Info().
		Str("appt_id", a.ApptID).
		Str("patient_id", a.PatientID).
		Str("by", requester.UserID).
		Msg("appointment booked")
	return a, nil
}

// Reschedule moves apptID to a new date and slot. Any appointment of the same
// doctor in that slot blocks the move, whatever its status, including the
// appointment itself.
func (s *Service) Reschedule(ctx context.Context, requester auth.Session, apptID, date, slot string) (a *Appointment, err error) {
	if !requester.Can(auth.BookAppointment) {
		s.denied(requester, auth.BookAppointment, "reschedule")
		return nil, nil
	}
	defer func() { s.record("reschedule", err) }()

	a, ok := s.find(apptID)
	if !ok || !visible(requester, a) {
		return nil, apperr.NotFound("appointment", apptID)
	}
	if date == "" {
		return nil, apperr.Validation("please set a date")
	}
	if slot == "" {
		return nil, apperr.Validation("please set a time")
	}
	if err := validateSlot(date, slot); err != nil {
		return nil, err
	}
	if _, taken := s.appts.Find(func(o *Appointment) bool { return o.occupies(a.Doctor, date, slot) }); taken {
		return nil, apperr.ErrSlotConflict
	}

	a.Date = date
	a.Time = slot
	if err := s.appts.Flush(ctx); err != nil {
		return nil, err
	}
	s.logger.Info().Str("appt_id", apptID).Str("by", requester.UserID).Msg("appointment rescheduled")
	return a, nil
}

// UpdateStatus overwrites the status of apptID with any of the four statuses.
func (s *Service) UpdateStatus(ctx context.Context, requester auth.Session, apptID, status string) (a *Appointment, err error) {
	if !requester.Can(auth.UpdateAppointmentStatus) {
		s.denied(requester, auth.UpdateAppointmentStatus, "update status")
		return nil, nil
	}
	defer func() { s.record("update_status", err) }()

	if !validStatuses[status] {
		return nil, apperr.Validation("unknown status %q", status)
	}
	return s.setStatus(ctx, requester, apptID, status)
}

// Cancel marks apptID Cancelled. The record is kept.
func (s *Service) Cancel(ctx context.Context, requester auth.Session, apptID string) (a *Appointment, err error) {
	if !requester.Can(auth.BookAppointment) {
		s.denied(requester, auth.BookAppointment, "cancel")
		return nil, nil
	}
	defer func() { s.record("cancel", err) }()
	return s.setStatus(ctx, requester, apptID, StatusCancelled)
}

func (s *Service) setStatus(ctx context.Context, requester auth.Session, apptID, status string) (*Appointment, error) {
	a, ok := s.find(apptID)
	if !ok || !visible(requester, a) {
		return nil, apperr.NotFound("appointment", apptID)
	}
	a.Status = status
	if err := s.appts.Flush(ctx); err != nil {
		return nil, err
	}
	s.logger.Info().
		Str("appt_id", apptID).
		Str("status", status).
		Str("by", requester.UserID).
		Msg("appointment status changed")
	return a, nil
}

func (s *Service) matches(a *Appointment, filter string, now time.Time) bool {
	switch filter {
	case FilterToday:
		return a.Date == now.Format(DateLayout)
	case FilterUpcoming:
		return a.At(now.Location()).After(now)
	case FilterPast:
		return !a.At(now.Location()).After(now)
	case StatusPending, StatusConfirmed, StatusCancelled, StatusCompleted:
		return a.Status == filter
	default:
		return true
	}
}

func (s *Service) entry(a *Appointment) (Entry, bool) {
	rec, ok := s.patients.Resolve(a.PatientID)
	if !ok {
		return Entry{}, false
	}
	return Entry{Appointment: a, PatientName: rec.User.DisplayName()}, true
}

// List returns the appointments visible to requester that pass filter, in
// collection order. Appointments whose patient cannot be resolved are left
// out. Unknown filters behave like All.
func (s *Service) List(requester auth.Session, filter string) []Entry {
	now := s.now()
	out := []Entry{}
	for _, a := range s.appts.Rows() {
		if !visible(requester, a) || !s.matches(a, filter, now) {
			continue
		}
		if e, ok := s.entry(a); ok {
			out = append(out, e)
		}
	}
	return out
}

// ListByDoctor returns the whole schedule of doctor for staff. Doctors always
// get their own schedule.
func (s *Service) ListByDoctor(requester auth.Session, doctor string) []Entry {
	out := []Entry{}
	if !requester.Can(auth.ViewAllPatients) {
		return out
	}
	if requester.Role == auth.RoleDoctor {
		doctor = requester.Name
	}
	for _, a := range s.appts.Rows() {
		if a.Doctor != doctor {
			continue
		}
		if e, ok := s.entry(a); ok {
			out = append(out, e)
		}
	}
	return out
}

// Get returns apptID when it is visible to requester.
func (s *Service) Get(requester auth.Session, apptID string) (*Appointment, error) {
	a, ok := s.find(apptID)
	if !ok || !visible(requester, a) {
		return nil, apperr.NotFound("appointment", apptID)
	}
	return a, nil
}

// Detail returns apptID with its patient's name.
func (s *Service) Detail(requester auth.Session, apptID string) (Entry, error) {
	a, err := s.Get(requester, apptID)
	if err != nil {
		return Entry{}, err
	}
	e, ok := s.entry(a)
	if !ok {
		return Entry{Appointment: a}, nil
	}
	return e, nil
}
