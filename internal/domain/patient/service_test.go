package patient

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"github.com/healthcenter/hms/internal/domain/identity"
	"github.com/healthcenter/hms/internal/platform/apperr"
	"github.com/healthcenter/hms/internal/platform/auth"
	"github.com/healthcenter/hms/internal/platform/storage"
)

const seedUsers = `[
    {"user_id": "U0001", "username": "admin", "password": "x", "name": "Ada Admin", "role": "Admin"},
    {"user_id": "U0002", "username": "house", "password": "x", "name": "Greg House", "role": "Doctor"},
    {"user_id": "U0003", "username": "joy", "password": "x", "name": "Nurse Joy", "role": "Nurse"},
    {"user_id": "U0004", "patient_id": "P0001", "username": "pat@example.com", "password": "x",
     "name": "Pat Doe", "role": "Patient", "age": 31, "gender": "Male", "email": "pat@example.com"},
    {"user_id": "U0005", "patient_id": "P0002", "username": "sam@example.com", "password": "x",
     "name": "Sam Roe", "role": "Patient", "age": "44"}
]`

const seedPatients = `[
    {"patient_id": "P0001", "appointments": ["A0001"], "medical_history": "asthma",
     "allergies": "none", "current_medications": "", "doctor_notes": "", "prescriptions": [], "ward": "B"},
    {"patient_id": "P0002", "appointments": [], "doctor_notes": "follow up", "prescriptions": "ibuprofen"},
    {"patient_id": "P0003"}
]`

var (
	adminSess   = auth.Session{UserID: "U0001", Name: "Ada Admin", Role: auth.RoleAdmin}
	doctorSess  = auth.Session{UserID: "U0002", Name: "Greg House", Role: auth.RoleDoctor}
	nurseSess   = auth.Session{UserID: "U0003", Name: "Nurse Joy", Role: auth.RoleNurse}
	patientSess = auth.Session{UserID: "U0004", Name: "Pat Doe", Role: auth.RolePatient, PatientID: "P0001"}
)

type fixture struct {
	gw    *storage.MemoryGateway
	users *identity.Service
	svc   *Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	gw := storage.NewMemoryGateway()
	gw.Put(storage.Users, []byte(seedUsers))
	gw.Put(storage.Patients, []byte(seedPatients))

	hasher, err := identity.NewHasher(identity.SchemeSHA256)
	if err != nil {
		t.Fatalf("NewHasher: %v", err)
	}
	users, err := identity.NewService(ctx, gw, hasher, zerolog.Nop())
	if err != nil {
		t.Fatalf("identity.NewService: %v", err)
	}
	svc, err := NewService(ctx, gw, users, "default_password", zerolog.Nop())
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	users.SetPatientLinker(svc)
	return &fixture{gw: gw, users: users, svc: svc}
}

func (f *fixture) stored(t *testing.T, c storage.Collection) []map[string]interface{} {
	t.Helper()
	var rows []map[string]interface{}
	if err := json.Unmarshal(f.gw.Bytes(c), &rows); err != nil {
		t.Fatalf("decode %s: %v", c, err)
	}
	return rows
}

func TestAllocatePatientID(t *testing.T) {
	tests := []struct {
		existing []string
		want     string
	}{
		{nil, "P0001"},
		{[]string{}, "P0001"},
		{[]string{"P0003"}, "P0004"},
		{[]string{"P0001", "P0005"}, "P0006"},
		{[]string{"P0002", "legacy", "Pabc"}, "P0003"},
	}
	for _, tt := range tests {
		if got := AllocatePatientID(tt.existing); got != tt.want {
			t.Errorf("AllocatePatientID(%v) = %s, want %s", tt.existing, got, tt.want)
		}
	}
}

func TestNextPatientID_ScansUsers(t *testing.T) {
	f := newFixture(t)
	if got := f.svc.NextPatientID(); got != "P0004" {
		t.Errorf("NextPatientID = %s, want P0004", got)
	}

	// A user holding an id with no record yet still blocks reuse.
	u := &identity.User{Username: "ghost", PatientID: storage.Ptr("P0009"), Role: auth.RolePatient}
	if err := f.users.AddUser(context.Background(), u); err != nil {
		t.Fatalf("AddUser: %v", err)
	}
	if got := f.svc.NextPatientID(); got != "P0010" {
		t.Errorf("NextPatientID = %s, want P0010", got)
	}
}

func TestCreate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	rec, err := f.svc.Create(ctx, nurseSess, NewPatient{
		Name: "Lee Park", Age: " 52 ", Gender: "Female", Email: "lee@example.com",
		MedicalHistory: "hypertension",
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if rec.Patient.PatientID != "P0004" {
		t.Errorf("patient id = %s, want P0004", rec.Patient.PatientID)
	}
	if rec.User.UserID != "U0006" || rec.User.Username != "lee@example.com" || rec.User.Role != auth.RolePatient {
		t.Errorf("unexpected user %+v", rec.User.Profile())
	}

	// The new user logs in with the default password.
	if _, err := f.users.Authenticate(ctx, "lee@example.com", "default_password"); err != nil {
		t.Errorf("default password rejected: %v", err)
	}

	patients := f.stored(t, storage.Patients)
	last := patients[len(patients)-1]
	for _, key := range []string{"appointments", "medical_history", "allergies", "current_medications", "doctor_notes", "prescriptions"} {
		if _, ok := last[key]; !ok {
			t.Errorf("new patient record missing %q", key)
		}
	}
	users := f.stored(t, storage.Users)
	lastUser := users[len(users)-1]
	if lastUser["age"] != float64(52) {
		t.Errorf("age stored as %#v, want number 52", lastUser["age"])
	}
	if lastUser["security_answer"] != DefaultSecurityAnswer || lastUser["patient_id"] != "P0004" {
		t.Errorf("unexpected stored user %v", lastUser)
	}
	if _, ok := lastUser["contact_no"]; !ok {
		t.Error("contact_no should be present even when blank")
	}
}

func TestCreate_Validation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	tests := []struct {
		name string
		in   NewPatient
		msg  string
	}{
		{"missing email", NewPatient{Name: "A", Age: "3", Gender: "Male"}, "required fields"},
		{"missing name", NewPatient{Age: "3", Gender: "Male", Email: "a@b"}, "required fields"},
		{"age not a number", NewPatient{Name: "A", Age: "three", Gender: "Male", Email: "a@b"}, "age must be a number"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.Create(ctx, adminSess, tt.in)
			if !errors.Is(err, apperr.ErrValidation) || !strings.Contains(err.Error(), tt.msg) {
				t.Errorf("got %v, want validation %q", err, tt.msg)
			}
		})
	}
	if n := len(f.stored(t, storage.Patients)); n != 3 {
		t.Errorf("failed creates wrote records: %d", n)
	}
}

func TestCreate_DeniedForPatient(t *testing.T) {
	f := newFixture(t)
	rec, err := f.svc.Create(context.Background(), patientSess, NewPatient{Name: "A", Age: "3", Gender: "M", Email: "a@b"})
	if rec != nil || err != nil {
		t.Errorf("expected silent no-op, got %v %v", rec, err)
	}
}

func TestCreate_StorageFailure(t *testing.T) {
	f := newFixture(t)
	f.gw.FailWrites = errors.New("disk full")
	_, err := f.svc.Create(context.Background(), adminSess, NewPatient{Name: "A", Age: "3", Gender: "M", Email: "a@b"})
	if !errors.Is(err, apperr.ErrStorage) {
		t.Errorf("expected ErrStorage, got %v", err)
	}
}

func TestUpdate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	notes := "stable"
	rx := "amoxicillin"
	empty := ""

	rec, err := f.svc.Update(ctx, doctorSess, "P0001", Patch{
		ContactNo:          "555-1234",
		CurrentMedications: storage.Ptr("salbutamol"),
		Allergies:          &empty,
		DoctorNotes:        &notes,
		Prescriptions:      &rx,
	})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	v := rec.View()
	if v.ContactNo != "555-1234" || v.Name != "Pat Doe" {
		t.Errorf("user fields: %+v", v)
	}
	if v.CurrentMedications != "salbutamol" || v.Allergies != "" || v.MedicalHistory != "asthma" {
		t.Errorf("patient fields: %+v", v)
	}
	if v.DoctorNotes != "stable" || v.Prescriptions != "amoxicillin" {
		t.Errorf("doctor should edit clinical fields: %+v", v)
	}

	stored := f.stored(t, storage.Patients)[0]
	if stored["ward"] != "B" {
		t.Error("unknown key lost on update")
	}
}

func TestUpdate_NurseCannotEditClinicalFields(t *testing.T) {
	f := newFixture(t)
	notes := "overwritten"
	rx := "none"

	rec, err := f.svc.Update(context.Background(), nurseSess, "P0002", Patch{
		Name:          "Samuel Roe",
		DoctorNotes:   &notes,
		Prescriptions: &rx,
	})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	v := rec.View()
	if v.Name != "Samuel Roe" {
		t.Errorf("name = %s", v.Name)
	}
	if v.DoctorNotes != "follow up" || v.Prescriptions != "ibuprofen" {
		t.Errorf("clinical fields changed by nurse: %+v", v)
	}
}

func TestUpdate_Errors(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if _, err := f.svc.Update(ctx, adminSess, "P0003", Patch{Name: "x"}); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("unpaired record: expected ErrNotFound, got %v", err)
	}
	if _, err := f.svc.Update(ctx, adminSess, "P0001", Patch{Age: "old"}); !errors.Is(err, apperr.ErrValidation) {
		t.Errorf("bad age: expected ErrValidation, got %v", err)
	}
	rec, err := f.svc.Update(ctx, patientSess, "P0001", Patch{Name: "x"})
	if rec != nil || err != nil {
		t.Errorf("patient update should be a no-op, got %v %v", rec, err)
	}
}

func TestListVisible(t *testing.T) {
	f := newFixture(t)

	staff := f.svc.ListVisible(nurseSess)
	if len(staff) != 2 {
		t.Fatalf("staff sees %d records, want 2 (unpaired excluded)", len(staff))
	}
	if staff[0].Patient.PatientID != "P0001" || staff[1].Patient.PatientID != "P0002" {
		t.Errorf("order: %s %s", staff[0].Patient.PatientID, staff[1].Patient.PatientID)
	}

	own := f.svc.ListVisible(patientSess)
	if len(own) != 1 || own[0].User.UserID != "U0004" {
		t.Errorf("patient sees %+v", own)
	}
}

func TestGet(t *testing.T) {
	f := newFixture(t)

	if rec, err := f.svc.Get(patientSess, "P0001"); err != nil || rec.User.UserID != "U0004" {
		t.Errorf("own record: %v %v", rec, err)
	}
	if _, err := f.svc.Get(patientSess, "P0002"); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("other patient's record: expected ErrNotFound, got %v", err)
	}
	if _, err := f.svc.Get(doctorSess, "P0404"); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("unknown record: expected ErrNotFound, got %v", err)
	}
}

func TestRegisterPatientUserLinksRecord(t *testing.T) {
	f := newFixture(t)
	u, err := f.users.Register(context.Background(), adminSess, identity.Registration{
		Name: "Kim Lo", Username: "kim", Password: "pw", Confirm: "pw", Role: "Patient",
		Age: "20", Gender: "Female", Email: "kim@example.com", ContactNo: "1",
		SecurityQuestion: "q", SecurityAnswer: "a",
	})
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if storage.Str(u.PatientID) != "P0004" {
		t.Fatalf("patient id = %s", storage.Str(u.PatientID))
	}
	if _, err := f.svc.Get(adminSess, "P0004"); err != nil {
		t.Errorf("linked record missing: %v", err)
	}
}

func TestAttachAppointment(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if err := f.svc.AttachAppointment(ctx, "P0002", "A0007"); err != nil {
		t.Fatalf("AttachAppointment: %v", err)
	}
	p, _ := f.svc.Find("P0002")
	if ids := p.AppointmentIDs(); len(ids) != 1 || ids[0] != "A0007" {
		t.Errorf("appointments = %v", ids)
	}
	if err := f.svc.AttachAppointment(ctx, "P0404", "A0008"); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestPatient_AbsentAppointmentsStayAbsent(t *testing.T) {
	var p Patient
	if err := json.Unmarshal([]byte(`{"patient_id":"P0003"}`), &p); err != nil {
		t.Fatal(err)
	}
	out, err := json.Marshal(p)
	if err != nil {
		t.Fatal(err)
	}
	if string(out) != `{"patient_id":"P0003"}` {
		t.Errorf("round trip = %s", out)
	}

	if err := json.Unmarshal([]byte(`{"patient_id":"P0001","appointments":[]}`), &p); err != nil {
		t.Fatal(err)
	}
	out, _ = json.Marshal(p)
	if !strings.Contains(string(out), `"appointments":[]`) {
		t.Errorf("empty list lost: %s", out)
	}
}

func TestDeletePairedUserKeepsPairing(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if err := f.users.Delete(ctx, adminSess, "U0004"); !errors.Is(err, apperr.ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
	if _, ok := f.svc.Resolve("P0001"); !ok {
		t.Error("patient P0001 lost its user")
	}
	if got := len(f.svc.ListVisible(adminSess)); got != 2 {
		t.Errorf("visible records = %d, want 2", got)
	}
}
