package identity

import (
	"github.com/google/uuid"

	"github.com/healthcenter/hms/internal/platform/auth"
	"github.com/healthcenter/hms/internal/platform/storage"
)

// User is one entry of the users collection. Optional fields are pointers so
// a record read from disk is written back with the same keys.
type User struct {
	UserID           string         `json:"user_id,omitempty"`
	PatientID        *string        `json:"patient_id,omitempty"`
	Username         string         `json:"username,omitempty"`
	Password         string         `json:"password,omitempty"`
	Name             *string        `json:"name,omitempty"`
	Role             auth.Role      `json:"role,omitempty"`
	Age              *storage.Value `json:"age,omitempty"`
	Gender           *string        `json:"gender,omitempty"`
	Email            *string        `json:"email,omitempty"`
	ContactNo        *string        `json:"contact_no,omitempty"`
	SecurityQuestion *string        `json:"security_question,omitempty"`
	SecurityAnswer   *string        `json:"security_answer,omitempty"`

	extra storage.Extra
}

type userJSON User

func (u *User) UnmarshalJSON(b []byte) error {
	extra, err := storage.DecodeRecord(b, (*userJSON)(u))
	u.extra = extra
	return err
}

func (u User) MarshalJSON() ([]byte, error) {
	return storage.EncodeRecord(userJSON(u), u.extra)
}

// DisplayName returns the user's name, or "" when absent.
func (u *User) DisplayName() string {
	return storage.Str(u.Name)
}

// Session opens a new session for u.
func (u *User) Session() auth.Session {
	return auth.Session{
		ID:        uuid.New(),
		UserID:    u.UserID,
		Username:  u.Username,
		Name:      u.DisplayName(),
		Role:      u.Role,
		PatientID: storage.Str(u.PatientID),
	}
}

// Profile is the outward view of a user: no password hash and no security
// answer.
type Profile struct {
	UserID           string `json:"user_id"`
	Username         string `json:"username"`
	Name             string `json:"name"`
	Role             string `json:"role"`
	Age              string `json:"age,omitempty"`
	Gender           string `json:"gender,omitempty"`
	Email            string `json:"email,omitempty"`
	ContactNo        string `json:"contact_no,omitempty"`
	SecurityQuestion string `json:"security_question,omitempty"`
	PatientID        string `json:"patient_id,omitempty"`
}

func (u *User) Profile() Profile {
	return Profile{
		UserID:           u.UserID,
		Username:         u.Username,
		Name:             u.DisplayName(),
		Role:             string(u.Role),
		Age:              u.Age.String(),
		Gender:           storage.Str(u.Gender),
		Email:            storage.Str(u.Email),
		ContactNo:        storage.Str(u.ContactNo),
		SecurityQuestion: storage.Str(u.SecurityQuestion),
		PatientID:        storage.Str(u.PatientID),
	}
}

// Profiles maps users to their outward view.
func Profiles(users []*User) []Profile {
	out := make([]Profile, 0, len(users))
	for _, u := range users {
		out = append(out, u.Profile())
	}
	return out
}

// Registration carries the fields of a new account.
type Registration struct {
	Name             string `json:"name"`
	Username         string `json:"username"`
	Password         string `json:"password"`
	Confirm          string `json:"confirm"`
	Role             string `json:"role"`
	Age              string `json:"age"`
	Gender           string `json:"gender"`
	Email            string `json:"email"`
	ContactNo        string `json:"contact_no"`
	SecurityQuestion string `json:"security_question"`
	SecurityAnswer   string `json:"security_answer"`
}

// UserPatch is a sparse update: blank fields are left alone, and a Gender of
// "None" also means unchanged.
type UserPatch struct {
	Name             string `json:"name"`
	Username         string `json:"username"`
	Password         string `json:"password"`
	Confirm          string `json:"confirm"`
	Role             string `json:"role"`
	Age              string `json:"age"`
	Gender           string `json:"gender"`
	Email            string `json:"email"`
	ContactNo        string `json:"contact_no"`
	SecurityQuestion string `json:"security_question"`
	SecurityAnswer   string `json:"security_answer"`
}

// Role filters accepted by List.
const (
	FilterAll = "All"
)
