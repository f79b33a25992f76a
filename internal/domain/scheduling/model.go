package scheduling

import (
	"fmt"
	"time"

	"github.com/healthcenter/hms/internal/platform/storage"
)

// Appointment statuses.
const (
	StatusPending   = "Pending"
	StatusConfirmed = "Confirmed"
	StatusCancelled = "Cancelled"
	StatusCompleted = "Completed"
)

var validStatuses = map[string]bool{
	StatusPending: true, StatusConfirmed: true, StatusCancelled: true, StatusCompleted: true,
}

// List filters. Status names double as filters.
const (
	FilterAll      = "All"
	FilterToday    = "Today"
	FilterUpcoming = "Upcoming"
	FilterPast     = "Past"
)

const (
	DateLayout      = "2006-01-02"
	TimeLayout      = "15:04"
	CreatedAtLayout = "2006-01-02 15:04:05"
)

// Appointment is one entry of the appointments collection.
type Appointment struct {
	ApptID    string `json:"appt_id,omitempty"`
	PatientID string `json:"patient_id,omitempty"`
	Doctor    string `json:"doctor,omitempty"`
	Date      string `json:"date,omitempty"`
	Time      string `json:"time,omitempty"`
	Reason    string `json:"reason,omitempty"`
	Status    string `json:"status,omitempty"`
	CreatedAt string `json:"created_at,omitempty"`

	extra storage.Extra
}

type appointmentJSON Appointment

func (a *Appointment) UnmarshalJSON(b []byte) error {
	extra, err := storage.DecodeRecord(b, (*appointmentJSON)(a))
	a.extra = extra
	return err
}

func (a Appointment) MarshalJSON() ([]byte, error) {
	return storage.EncodeRecord(appointmentJSON(a), a.extra)
}

// At returns the scheduled instant in loc. Dates or times that do not parse
// are treated as the Unix epoch.
func (a *Appointment) At(loc *time.Location) time.Time {
	t, err := time.ParseInLocation(DateLayout+" "+TimeLayout, a.Date+" "+a.Time, loc)
	if err != nil {
		return time.Date(1970, 1, 1, 0, 0, 0, 0, loc)
	}
	return t
}

func (a *Appointment) occupies(doctor, date, slot string) bool {
	return a.Doctor == doctor && a.Date == date && a.Time == slot
}

// TimeSlots lists the bookable half-hour slots from 09:00 to 16:30.
func TimeSlots() []string {
	slots := make([]string, 0, 16)
	for h := 9; h < 17; h++ {
		slots = append(slots, fmt.Sprintf("%02d:00", h), fmt.Sprintf("%02d:30", h))
	}
	return slots
}

func isSlot(s string) bool {
	for _, slot := range TimeSlots() {
		if slot == s {
			return true
		}
	}
	return false
}

// Booking is a request for a new appointment.
type Booking struct {
	PatientID string `json:"patient_id"`
	Doctor    string `json:"doctor"`
	Date      string `json:"date"`
	Time      string `json:"time"`
	Reason    string `json:"reason"`
}

// Entry is an appointment together with its patient's name.
type Entry struct {
	Appointment *Appointment
	PatientName string
}

type View struct {
	ApptID      string `json:"appt_id"`
	PatientID   string `json:"patient_id"`
	PatientName string `json:"patient_name"`
	Doctor      string `json:"doctor"`
	Date        string `json:"date"`
	Time        string `json:"time"`
	Reason      string `json:"reason"`
	Status      string `json:"status"`
	CreatedAt   string `json:"created_at"`
}

func (e Entry) View() View {
	a := e.Appointment
	return View{
		ApptID:      a.ApptID,
		PatientID:   a.PatientID,
		PatientName: e.PatientName,
		Doctor:      a.Doctor,
		Date:        a.Date,
		Time:        a.Time,
		Reason:      a.Reason,
		Status:      a.Status,
		CreatedAt:   a.CreatedAt,
	}
}

func Views(entries []Entry) []View {
	out := make([]View, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.View())
	}
	return out
}
