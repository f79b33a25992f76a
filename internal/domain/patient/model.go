package patient

import (
	"github.com/healthcenter/hms/internal/domain/identity"
	"github.com/healthcenter/hms/internal/platform/storage"
)

// Patient is one entry of the patients collection. It is paired with the
// Patient-role user holding the same patient_id.
type Patient struct {
	PatientID          string         `json:"patient_id,omitempty"`
	Appointments       *[]string      `json:"appointments,omitempty"`
	MedicalHistory     *string        `json:"medical_history,omitempty"`
	Allergies          *string        `json:"allergies,omitempty"`
	CurrentMedications *string        `json:"current_medications,omitempty"`
	DoctorNotes        *string        `json:"doctor_notes,omitempty"`
	Prescriptions      *storage.Value `json:"prescriptions,omitempty"`

	extra storage.Extra
}

type patientJSON Patient

func (p *Patient) UnmarshalJSON(b []byte) error {
	extra, err := storage.DecodeRecord(b, (*patientJSON)(p))
	p.extra = extra
	return err
}

func (p Patient) MarshalJSON() ([]byte, error) {
	return storage.EncodeRecord(patientJSON(p), p.extra)
}

// AppointmentIDs returns the booked appointment ids in booking order.
func (p *Patient) AppointmentIDs() []string {
	if p.Appointments == nil {
		return nil
	}
	return *p.Appointments
}

// AddAppointment records apptID on the patient.
func (p *Patient) AddAppointment(apptID string) {
	ids := append(p.AppointmentIDs(), apptID)
	p.Appointments = &ids
}

// AllocatePatientID returns the next "P%04d" id after the highest numeric
// suffix in existing.
func AllocatePatientID(existing []string) string {
	return storage.NextID("P", existing)
}

func emptyList() *storage.Value {
	v := &storage.Value{}
	_ = v.UnmarshalJSON([]byte("[]"))
	return v
}

// NewPatient carries the intake form: account fields first, then the
// clinical background recorded at intake.
type NewPatient struct {
	Name               string `json:"name"`
	Age                string `json:"age"`
	Gender             string `json:"gender"`
	Email              string `json:"email"`
	ContactNo          string `json:"contact_no"`
	MedicalHistory     string `json:"medical_history"`
	Allergies          string `json:"allergies"`
	CurrentMedications string `json:"current_medications"`
}

// Patch is a sparse update. Blank account fields are left alone; clinical
// text fields overwrite whenever they are present, even when empty.
type Patch struct {
	Name      string `json:"name"`
	Age       string `json:"age"`
	Gender    string `json:"gender"`
	Email     string `json:"email"`
	ContactNo string `json:"contact_no"`

	MedicalHistory     *string `json:"medical_history"`
	Allergies          *string `json:"allergies"`
	CurrentMedications *string `json:"current_medications"`
	DoctorNotes        *string `json:"doctor_notes"`
	Prescriptions      *string `json:"prescriptions"`
}

// Record pairs a patient with its user.
type Record struct {
	Patient *Patient
	User    *identity.User
}

// View is the outward shape of a Record.
type View struct {
	PatientID          string   `json:"patient_id"`
	UserID             string   `json:"user_id"`
	Name               string   `json:"name"`
	Age                string   `json:"age"`
	Gender             string   `json:"gender"`
	Email              string   `json:"email"`
	ContactNo          string   `json:"contact_no"`
	MedicalHistory     string   `json:"medical_history"`
	Allergies          string   `json:"allergies"`
	CurrentMedications string   `json:"current_medications"`
	DoctorNotes        string   `json:"doctor_notes"`
	Prescriptions      string   `json:"prescriptions"`
	Appointments       []string `json:"appointments"`
}

func (r Record) View() View {
	appts := r.Patient.AppointmentIDs()
	if appts == nil {
		appts = []string{}
	}
	return View{
		PatientID:          r.Patient.PatientID,
		UserID:             r.User.UserID,
		Name:               r.User.DisplayName(),
		Age:                r.User.Age.String(),
		Gender:             storage.Str(r.User.Gender),
		Email:              storage.Str(r.User.Email),
		ContactNo:          storage.Str(r.User.ContactNo),
		MedicalHistory:     storage.Str(r.Patient.MedicalHistory),
		Allergies:          storage.Str(r.Patient.Allergies),
		CurrentMedications: storage.Str(r.Patient.CurrentMedications),
		DoctorNotes:        storage.Str(r.Patient.DoctorNotes),
		Prescriptions:      r.Patient.Prescriptions.String(),
		Appointments:       appts,
	}
}

// Views maps records to their outward shape.
func Views(records []Record) []View {
	out := make([]View, 0, len(records))
	for _, r := range records {
		out = append(out, r.View())
	}
	return out
}
