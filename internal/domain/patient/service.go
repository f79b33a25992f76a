package patient

import (
	"context"
	"strconv"
	"strings"

	"github.com/rs/zerolog"

	"github.com/healthcenter/hms/internal/domain/identity"
	"github.com/healthcenter/hms/internal/platform/apperr"
	"github.com/healthcenter/hms/internal/platform/auth"
	"github.com/healthcenter/hms/internal/platform/storage"
)

// Default recovery credentials given to users created at patient intake.
const (
	DefaultSecurityQuestion = "What is your favorite color?"
	DefaultSecurityAnswer   = "blue"
)

// Users is the part of the identity store the patient store depends on.
type Users interface {
	FindByPatientID(patientID string) (*identity.User, bool)
	PatientIDs() []string
	AddUser(ctx context.Context, u *identity.User) error
	SaveUsers(ctx context.Context) error
	Hasher() *identity.Hasher
}

type Service struct {
	patients        *storage.Table[Patient]
	users           Users
	defaultPassword string
	logger          zerolog.Logger
}

func NewService(ctx context.Context, gw storage.Gateway, users Users, defaultPassword string, logger zerolog.Logger) (*Service, error) {
	patients, err := storage.OpenTable[Patient](ctx, gw, storage.Patients, logger)
	if err != nil {
		return nil, err
	}
	return &Service{
		patients:        patients,
		users:           users,
		defaultPassword: defaultPassword,
		logger:          logger.With().Str("store", "patient").Logger(),
	}, nil
}

// Observe forwards collection writes to o.
func (s *Service) Observe(o storage.WriteObserver) {
	s.patients.Observe(o)
}

// Reload re-reads the patients collection.
func (s *Service) Reload(ctx context.Context) {
	s.patients.Reload(ctx)
}

func (s *Service) denied(requester auth.Session, action auth.Action, op string) {
	s.logger.Debug().
		Str("user_id", requester.UserID).
		Str("role", string(requester.Role)).
		Str("action", string(action)).
		Msgf("%s denied", op)
}

// NextPatientID allocates over both patient records and the patient ids held
// by users, so an id already handed to a user is never reused.
func (s *Service) NextPatientID() string {
	ids := s.users.PatientIDs()
	for _, p := range s.patients.Rows() {
		ids = append(ids, p.PatientID)
	}
	return AllocatePatientID(ids)
}

// Find returns the patient record with patientID.
func (s *Service) Find(patientID string) (*Patient, bool) {
	if patientID == "" {
		return nil, false
	}
	return s.patients.Find(func(p *Patient) bool { return p.PatientID == patientID })
}

// HasPatient reports whether a patient record with patientID exists.
func (s *Service) HasPatient(patientID string) bool {
	_, ok := s.Find(patientID)
	return ok
}

// Resolve returns the record/user pair for patientID.
func (s *Service) Resolve(patientID string) (Record, bool) {
	p, ok := s.Find(patientID)
	if !ok {
		return Record{}, false
	}
	u, ok := s.users.FindByPatientID(patientID)
	if !ok {
		return Record{}, false
	}
	return Record{Patient: p, User: u}, true
}

func newRecord(patientID string) *Patient {
	return &Patient{
		PatientID:     patientID,
		Appointments:  &[]string{},
		DoctorNotes:   storage.Ptr(""),
		Prescriptions: emptyList(),
	}
}

// LinkNewPatient creates an empty record for a freshly registered Patient
// user. An existing record is left as it is.
func (s *Service) LinkNewPatient(ctx context.Context, patientID string) error {
	if _, ok := s.Find(patientID); ok {
		return nil
	}
	s.patients.Append(newRecord(patientID))
	if err := s.patients.Flush(ctx); err != nil {
		return err
	}
	s.logger.Info().Str("patient_id", patientID).Msg("patient record linked")
	return nil
}

// AttachAppointment appends apptID to the patient's appointment list and
// writes the collection.
func (s *Service) AttachAppointment(ctx context.Context, patientID, apptID string) error {
	p, ok := s.Find(patientID)
	if !ok {
		return apperr.NotFound("patient record", patientID)
	}
	p.AddAppointment(apptID)
	return s.patients.Flush(ctx)
}

func parseAge(s string) (int, error) {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0, apperr.Validation("age must be a number")
	}
	return n, nil
}

// Create registers a patient: a Patient-role user logging in with the email
// address and the default password, and the paired patient record.
func (s *Service) Create(ctx context.Context, requester auth.Session, in NewPatient) (*Record, error) {
	if !requester.Can(auth.ViewAllPatients) {
		s.denied(requester, auth.ViewAllPatients, "create patient")
		return nil, nil
	}
	if in.Name == "" || in.Age == "" || in.Gender == "" || in.Email == "" {
		return nil, apperr.Validation("please fill in all required fields")
	}
	age, err := parseAge(in.Age)
	if err != nil {
		return nil, err
	}
	hash, err := s.users.Hasher().Hash(s.defaultPassword)
	if err != nil {
		return nil, err
	}

	pid := s.NextPatientID()
	p := newRecord(pid)
	p.MedicalHistory = storage.Ptr(in.MedicalHistory)
	p.Allergies = storage.Ptr(in.Allergies)
	p.CurrentMedications = storage.Ptr(in.CurrentMedications)

	u := &identity.User{
		PatientID:        storage.Ptr(pid),
		Username:         in.Email,
		Password:         hash,
		Name:             storage.Ptr(in.Name),
		Role:             auth.RolePatient,
		Age:              storage.Number(age),
		Gender:           storage.Ptr(in.Gender),
		Email:            storage.Ptr(in.Email),
		ContactNo:        storage.Ptr(in.ContactNo),
		SecurityQuestion: storage.Ptr(DefaultSecurityQuestion),
		SecurityAnswer:   storage.Ptr(DefaultSecurityAnswer),
	}

	s.patients.Append(p)
	if err := s.patients.Flush(ctx); err != nil {
		return nil, err
	}
	if err := s.users.AddUser(ctx, u); err != nil {
		return nil, err
	}

	s.logger.Info().
		Str("patient_id", pid).
		Str("user_id", u.UserID).
		Str("by", requester.UserID).
		Msg("patient created")
	return &Record{Patient: p, User: u}, nil
}

// Update applies a sparse patch to the pair of patientID. Doctor notes and
// prescriptions are dropped unless the requester may edit clinical fields.
func (s *Service) Update(ctx context.Context, requester auth.Session, patientID string, p Patch) (*Record, error) {
	if !requester.Can(auth.ViewAllPatients) {
		s.denied(requester, auth.ViewAllPatients, "update patient")
		return nil, nil
	}
	rec, ok := s.Resolve(patientID)
	if !ok {
		return nil, apperr.NotFound("patient", patientID)
	}
	var age int
	if p.Age != "" {
		n, err := parseAge(p.Age)
		if err != nil {
			return nil, err
		}
		age = n
	}

	u := rec.User
	if p.Name != "" {
		u.Name = storage.Ptr(p.Name)
	}
	if p.Age != "" {
		u.Age = storage.Number(age)
	}
	if p.Gender != "" {
		u.Gender = storage.Ptr(p.Gender)
	}
	if p.Email != "" {
		u.Email = storage.Ptr(p.Email)
	}
	if p.ContactNo != "" {
		u.ContactNo = storage.Ptr(p.ContactNo)
	}

	pt := rec.Patient
	if p.MedicalHistory != nil {
		pt.MedicalHistory = storage.Ptr(*p.MedicalHistory)
	}
	if p.Allergies != nil {
		pt.Allergies = storage.Ptr(*p.Allergies)
	}
	if p.CurrentMedications != nil {
		pt.CurrentMedications = storage.Ptr(*p.CurrentMedications)
	}
	if p.DoctorNotes != nil || p.Prescriptions != nil {
		if requester.Can(auth.EditClinicalFields) {
			if p.DoctorNotes != nil {
				pt.DoctorNotes = storage.Ptr(*p.DoctorNotes)
			}
			if p.Prescriptions != nil {
				pt.Prescriptions = storage.Text(*p.Prescriptions)
			}
		} else {
			s.denied(requester, auth.EditClinicalFields, "clinical field edit")
		}
	}

	if err := s.patients.Flush(ctx); err != nil {
		return nil, err
	}
	if err := s.users.SaveUsers(ctx); err != nil {
		return nil, err
	}
	s.logger.Info().Str("patient_id", patientID).Str("by", requester.UserID).Msg("patient updated")
	return &rec, nil
}

// ListVisible returns the pairs the requester may see in patients order. A
// Patient sees only its own pair; records without a paired user are left out.
func (s *Service) ListVisible(requester auth.Session) []Record {
	own := requester.Role == auth.RolePatient
	out := []Record{}
	for _, p := range s.patients.Rows() {
		if own && p.PatientID != requester.PatientID {
			continue
		}
		u, ok := s.users.FindByPatientID(p.PatientID)
		if !ok {
			continue
		}
		out = append(out, Record{Patient: p, User: u})
	}
	return out
}

// Get returns the pair of patientID. Patients can only read their own.
func (s *Service) Get(requester auth.Session, patientID string) (*Record, error) {
	if requester.Role == auth.RolePatient && requester.PatientID != patientID {
		return nil, apperr.NotFound("patient", patientID)
	}
	rec, ok := s.Resolve(patientID)
	if !ok {
		return nil, apperr.NotFound("patient", patientID)
	}
	return &rec, nil
}
