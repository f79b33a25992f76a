// Package sandbox fills empty record stores with reproducible demo data:
// staff accounts, patients and a spread of appointments. Everything goes
// through the regular store operations, so seeded data obeys the same rules
// as data entered by hand.
package sandbox

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/healthcenter/hms/internal/domain/identity"
	"github.com/healthcenter/hms/internal/domain/patient"
	"github.com/healthcenter/hms/internal/domain/scheduling"
	"github.com/healthcenter/hms/internal/platform/apperr"
	"github.com/healthcenter/hms/internal/platform/auth"
)

// SeedConfig controls the volume of generated data.
type SeedConfig struct {
	DoctorCount            int
	NurseCount             int
	PatientCount           int
	AppointmentsPerPatient int
	// StaffPassword is given to every seeded staff account.
	StaffPassword string
	// Start is the first day appointments may fall on. Defaults to tomorrow.
	Start time.Time
	// Days is how many days after Start appointments are spread over.
	Days int
	Seed int64
}

func DefaultSeedConfig() SeedConfig {
	return SeedConfig{
		DoctorCount:            3,
		NurseCount:             2,
		PatientCount:           10,
		AppointmentsPerPatient: 2,
		StaffPassword:          "changeme",
		Days:                   14,
		Seed:                   1,
	}
}

var (
	firstNames = []string{
		"James", "Robert", "Michael", "David", "William", "Joseph", "Thomas",
		"Daniel", "Samuel", "Gregory", "Mary", "Patricia", "Jennifer", "Linda",
		"Elizabeth", "Susan", "Sarah", "Karen", "Lisa", "Emily", "Rachel", "Helen",
	}
	lastNames = []string{
		"Smith", "Johnson", "Williams", "Brown", "Garcia", "Miller", "Davis",
		"Martinez", "Wilson", "Anderson", "Taylor", "Moore", "Lee", "Harris",
		"Clark", "Lewis", "Walker", "Young", "Nguyen", "Adams", "Okafor", "Mensah",
	}
	genders   = []string{"Male", "Female"}
	histories = []string{"", "hypertension", "type 2 diabetes", "asthma", "appendectomy (2015)", "migraine"}
	allergies = []string{"", "none", "penicillin", "peanuts", "latex", "shellfish"}
	meds      = []string{"", "metformin", "lisinopril", "salbutamol inhaler", "ibuprofen as needed"}
	reasons   = []string{"annual checkup", "follow up", "persistent cough", "back pain", "blood test review", "vaccination"}
)

// DataGenerator produces deterministic form input.
type DataGenerator struct {
	rng     *rand.Rand
	counter int
}

// NewDataGenerator returns a generator seeded for reproducibility. If seed is
// 0 a time-based seed is chosen.
func NewDataGenerator(seed int64) *DataGenerator {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &DataGenerator{rng: rand.New(rand.NewSource(seed))}
}

func (g *DataGenerator) pick(pool []string) string {
	return pool[g.rng.Intn(len(pool))]
}

func (g *DataGenerator) name() (first, last string) {
	g.counter++
	return g.pick(firstNames), g.pick(lastNames)
}

func (g *DataGenerator) randomPhone() string {
	return fmt.Sprintf("(%03d) %03d-%04d", 200+g.rng.Intn(800), 200+g.rng.Intn(800), g.rng.Intn(10000))
}

// Staff returns a registration for a staff member of role.
func (g *DataGenerator) Staff(role auth.Role, password string) identity.Registration {
	first, last := g.name()
	username := fmt.Sprintf("%s.%s%d", strings.ToLower(first[:1]), strings.ToLower(last), g.counter)
	return identity.Registration{
		Name:             first + " " + last,
		Username:         username,
		Password:         password,
		Confirm:          password,
		Role:             string(role),
		Age:              fmt.Sprint(28 + g.rng.Intn(35)),
		Gender:           g.pick(genders),
		Email:            username + "@hms.example",
		ContactNo:        g.randomPhone(),
		SecurityQuestion: "What city were you born in?",
		SecurityAnswer:   "Springfield",
	}
}

// Patient returns an intake form for a new patient.
func (g *DataGenerator) Patient() patient.NewPatient {
	first, last := g.name()
	return patient.NewPatient{
		Name:               first + " " + last,
		Age:                fmt.Sprint(1 + g.rng.Intn(90)),
		Gender:             g.pick(genders),
		Email:              fmt.Sprintf("%s.%s.%d@mail.example", strings.ToLower(first), strings.ToLower(last), g.counter),
		ContactNo:          g.randomPhone(),
		MedicalHistory:     g.pick(histories),
		Allergies:          g.pick(allergies),
		CurrentMedications: g.pick(meds),
	}
}

// Booking returns an appointment request within days of start.
func (g *DataGenerator) Booking(patientID, doctor string, start time.Time, days int) scheduling.Booking {
	slots := scheduling.TimeSlots()
	day := start.AddDate(0, 0, g.rng.Intn(days))
	return scheduling.Booking{
		PatientID: patientID,
		Doctor:    doctor,
		Date:      day.Format(scheduling.DateLayout),
		Time:      slots[g.rng.Intn(len(slots))],
		Reason:    g.pick(reasons),
	}
}

// Stores are the record store operations the seeder drives.
type Stores struct {
	Users interface {
		Register(ctx context.Context, requester auth.Session, reg identity.Registration) (*identity.User, error)
	}
	Patients interface {
		Create(ctx context.Context, requester auth.Session, in patient.NewPatient) (*patient.Record, error)
	}
	Appointments interface {
		Book(ctx context.Context, requester auth.Session, b scheduling.Booking) (*scheduling.Appointment, error)
	}
}

// SeedResult summarizes a Generate run.
type SeedResult struct {
	Doctors      int           `json:"doctors"`
	Nurses       int           `json:"nurses"`
	Patients     int           `json:"patients"`
	Appointments int           `json:"appointments"`
	Conflicts    int           `json:"conflicts"`
	Duration     time.Duration `json:"duration"`
}

// Seeder writes generated data into the stores on behalf of an admin.
type Seeder struct {
	generator *DataGenerator
	config    SeedConfig
	stores    Stores
	logger    zerolog.Logger
}

func NewSeeder(config SeedConfig, stores Stores, logger zerolog.Logger) *Seeder {
	if config.Days <= 0 {
		config.Days = 1
	}
	if config.Start.IsZero() {
		config.Start = time.Now().AddDate(0, 0, 1)
	}
	return &Seeder{
		generator: NewDataGenerator(config.Seed),
		config:    config,
		stores:    stores,
		logger:    logger.With().Str("component", "sandbox").Logger(),
	}
}

var errDenied = errors.New("requester may not seed the record stores")

// Generate creates staff, patients and appointments. Bookings that land on a
// taken slot are counted as conflicts and skipped.
func (s *Seeder) Generate(ctx context.Context, admin auth.Session) (*SeedResult, error) {
	start := time.Now()
	result := &SeedResult{}

	var doctors []string
	for i := 0; i < s.config.DoctorCount+s.config.NurseCount; i++ {
		role := auth.RoleDoctor
		if i >= s.config.DoctorCount {
			role = auth.RoleNurse
		}
		u, err := s.stores.Users.Register(ctx, admin, s.generator.Staff(role, s.config.StaffPassword))
		if err != nil {
			return result, fmt.Errorf("register %s: %w", role, err)
		}
		if u == nil {
			return result, errDenied
		}
		if role == auth.RoleDoctor {
			doctors = append(doctors, u.DisplayName())
			result.Doctors++
		} else {
			result.Nurses++
		}
	}

	for i := 0; i < s.config.PatientCount; i++ {
		rec, err := s.stores.Patients.Create(ctx, admin, s.generator.Patient())
		if err != nil {
			return result, fmt.Errorf("create patient: %w", err)
		}
		if rec == nil {
			return result, errDenied
		}
		result.Patients++
		if len(doctors) == 0 {
			continue
		}

		for j := 0; j < s.config.AppointmentsPerPatient; j++ {
			doctor := doctors[(i+j)%len(doctors)]
			b := s.generator.Booking(rec.Patient.PatientID, doctor, s.config.Start, s.config.Days)
			_, err := s.stores.Appointments.Book(ctx, admin, b)
			switch {
			case errors.Is(err, apperr.ErrSlotConflict):
				result.Conflicts++
			case err != nil:
				return result, fmt.Errorf("book appointment: %w", err)
			default:
				result.Appointments++
			}
		}
	}

	result.Duration = time.Since(start)
	s.logger.Info().
		Int("doctors", result.Doctors).
		Int("nurses", result.Nurses).
		Int("patients", result.Patients).
		Int("appointments", result.Appointments).
		Int("conflicts", result.Conflicts).
		Dur("duration", result.Duration).
		Msg("sandbox data seeded")
	return result, nil
}
