package identity

import (
	"context"
	"strings"

	"github.com/rs/zerolog"

	"github.com/healthcenter/hms/internal/platform/apperr"
	"github.com/healthcenter/hms/internal/platform/auth"
	"github.com/healthcenter/hms/internal/platform/storage"
)

// PatientLinker is implemented by the patient store. Registration uses it to
// allocate a patient id and to create the paired patient record.
type PatientLinker interface {
	NextPatientID() string
	LinkNewPatient(ctx context.Context, patientID string) error
	HasPatient(patientID string) bool
}

// AuthRecorder receives the outcome of logins and password recoveries.
type AuthRecorder interface {
	RecordAuthAttempt(method string, err error)
}

type Service struct {
	users    *storage.Table[User]
	hasher   *Hasher
	linker   PatientLinker
	recorder AuthRecorder
	logger   zerolog.Logger
}

// NewService loads the users collection and backfills missing user ids.
func NewService(ctx context.Context, gw storage.Gateway, hasher *Hasher, logger zerolog.Logger) (*Service, error) {
	users, err := storage.OpenTable[User](ctx, gw, storage.Users, logger)
	if err != nil {
		return nil, err
	}
	s := &Service{
		users:  users,
		hasher: hasher,
		logger: logger.With().Str("store", "identity").Logger(),
	}
	s.backfillIDs()
	return s, nil
}

// SetPatientLinker wires the patient store in after both services exist.
func (s *Service) SetPatientLinker(l PatientLinker) {
	s.linker = l
}

func (s *Service) SetRecorder(r AuthRecorder) {
	s.recorder = r
}

// Observe forwards collection writes to o.
func (s *Service) Observe(o storage.WriteObserver) {
	s.users.Observe(o)
}

// Hasher returns the password hasher used for new credentials.
func (s *Service) Hasher() *Hasher {
	return s.hasher
}

// Reload re-reads the users collection.
func (s *Service) Reload(ctx context.Context) {
	s.users.Reload(ctx)
	s.backfillIDs()
}

// backfillIDs gives every user without a user_id its own id. The change stays
// in memory until the next write.
func (s *Service) backfillIDs() {
	ids := s.userIDs()
	filled := 0
	for _, u := range s.users.Rows() {
		if u.UserID != "" {
			continue
		}
		u.UserID = storage.NextID("U", ids)
		ids = append(ids, u.UserID)
		filled++
	}
	if filled > 0 {
		s.logger.Info().Int("count", filled).Msg("assigned missing user ids")
	}
}

func (s *Service) userIDs() []string {
	ids := make([]string, 0, s.users.Len())
	for _, u := range s.users.Rows() {
		ids = append(ids, u.UserID)
	}
	return ids
}

func (s *Service) record(method string, err error) {
	if s.recorder != nil {
		s.recorder.RecordAuthAttempt(method, err)
	}
}

func (s *Service) denied(requester auth.Session, action auth.Action, op string) {
	s.logger.Debug().
		Str("user_id", requester.UserID).
		Str("role", string(requester.Role)).
		Str("action", string(action)).
		Msgf("%s denied", op)
}

func (s *Service) findByUsername(username string) (*User, bool) {
	return s.users.Find(func(u *User) bool { return u.Username == username })
}

func (s *Service) findByID(userID string) (*User, bool) {
	return s.users.Find(func(u *User) bool { return u.UserID == userID })
}

// AdminExists reports whether any user has the Admin role.
func (s *Service) AdminExists() bool {
	_, ok := s.users.Find(func(u *User) bool { return u.Role == auth.RoleAdmin })
	return ok
}

// Authenticate matches username exactly and verifies password against the
// first user holding that username.
func (s *Service) Authenticate(ctx context.Context, username, password string) (*User, error) {
	if username == "" || password == "" {
		err := apperr.Validation("please enter both username and password")
		s.record("password", err)
		return nil, err
	}

	u, ok := s.findByUsername(username)
	if !ok || !s.hasher.Verify(u.Password, password) {
		s.record("password", apperr.ErrInvalidCredentials)
		s.logger.Info().Str("username", username).Msg("login failed")
		return nil, apperr.ErrInvalidCredentials
	}

	s.record("password", nil)
	s.logger.Info().Str("user_id", u.UserID).Str("role", string(u.Role)).Msg("login")
	return u, nil
}

func validateRegistration(reg Registration, requireRole bool) error {
	fields := []string{
		reg.Name, reg.Username, reg.Password, reg.Confirm, reg.Age, reg.Gender,
		reg.Email, reg.ContactNo, reg.SecurityQuestion, reg.SecurityAnswer,
	}
	if requireRole {
		fields = append(fields, reg.Role)
	}
	for _, f := range fields {
		if f == "" {
			return apperr.Validation("all fields are required")
		}
	}
	if reg.Password != reg.Confirm {
		return apperr.Validation("passwords don't match")
	}
	return nil
}

func (s *Service) hasAccount(username, name string) bool {
	_, ok := s.users.Find(func(u *User) bool {
		return u.Username == username && u.DisplayName() == name
	})
	return ok
}

func (s *Service) newUser(reg Registration, role auth.Role) (*User, error) {
	hash, err := s.hasher.Hash(reg.Password)
	if err != nil {
		return nil, err
	}
	return &User{
		UserID:           storage.NextID("U", s.userIDs()),
		Username:         reg.Username,
		Password:         hash,
		Name:             storage.Ptr(reg.Name),
		Role:             role,
		Age:              storage.Text(reg.Age),
		Gender:           storage.Ptr(reg.Gender),
		Email:            storage.Ptr(reg.Email),
		ContactNo:        storage.Ptr(reg.ContactNo),
		SecurityQuestion: storage.Ptr(reg.SecurityQuestion),
		SecurityAnswer:   storage.Ptr(reg.SecurityAnswer),
	}, nil
}

// BootstrapAdmin creates the first Admin account. It is refused once any
// Admin exists.
func (s *Service) BootstrapAdmin(ctx context.Context, reg Registration) (*User, error) {
	if s.AdminExists() {
		return nil, apperr.Validation("an admin account already exists")
	}
	if err := validateRegistration(reg, false); err != nil {
		return nil, err
	}
	if s.hasAccount(reg.Username, reg.Name) {
		return nil, apperr.Validation("username already exists")
	}

	u, err := s.newUser(reg, auth.RoleAdmin)
	if err != nil {
		return nil, err
	}
	s.users.Append(u)
	if err := s.users.Flush(ctx); err != nil {
		return nil, err
	}
	s.logger.Info().Str("user_id", u.UserID).Msg("admin account created")
	return u, nil
}

// Register creates an account of any role on behalf of an administrator.
// Registering a Patient allocates a patient id and creates the paired
// patient record through the linker.
func (s *Service) Register(ctx context.Context, requester auth.Session, reg Registration) (*User, error) {
	if !requester.Can(auth.ManageUsers) {
		s.denied(requester, auth.ManageUsers, "register")
		return nil, nil
	}
	if err := validateRegistration(reg, true); err != nil {
		return nil, err
	}
	role, ok := auth.ParseRole(reg.Role)
	if !ok {
		return nil, apperr.Validation("unknown role %q", reg.Role)
	}
	if s.hasAccount(reg.Username, reg.Name) {
		return nil, apperr.Validation("this user already has an account")
	}

	u, err := s.newUser(reg, role)
	if err != nil {
		return nil, err
	}
	if role == auth.RolePatient {
		u.PatientID = storage.Ptr(s.nextPatientID())
	}

	s.users.Append(u)
	if err := s.users.Flush(ctx); err != nil {
		return nil, err
	}
	if role == auth.RolePatient && s.linker != nil {
		if err := s.linker.LinkNewPatient(ctx, *u.PatientID); err != nil {
			return nil, err
		}
	}

	s.logger.Info().
		Str("user_id", u.UserID).
		Str("role", string(role)).
		Str("by", requester.UserID).
		Msg("user registered")
	return u, nil
}

func (s *Service) nextPatientID() string {
	if s.linker != nil {
		return s.linker.NextPatientID()
	}
	return storage.NextID("P", s.PatientIDs())
}

// SecurityQuestion returns the recovery question of username.
func (s *Service) SecurityQuestion(username string) (string, error) {
	if username == "" {
		return "", apperr.Validation("please enter your username")
	}
	u, ok := s.findByUsername(username)
	if !ok {
		return "", apperr.NotFound("user", username)
	}
	return storage.Str(u.SecurityQuestion), nil
}

// RecoverPassword replaces the password of username when answer matches the
// stored security answer, ignoring case.
func (s *Service) RecoverPassword(ctx context.Context, username, answer, newPassword string) (err error) {
	defer func() { s.record("recovery", err) }()

	if username == "" {
		return apperr.Validation("please enter your username")
	}
	u, ok := s.findByUsername(username)
	if !ok {
		return apperr.NotFound("user", username)
	}
	if answer == "" || newPassword == "" {
		return apperr.Validation("please provide answer in both fields")
	}
	if strings.ToLower(answer) != strings.ToLower(storage.Str(u.SecurityAnswer)) {
		s.logger.Info().Str("user_id", u.UserID).Msg("password recovery failed")
		return apperr.ErrRecovery
	}

	hash, err := s.hasher.Hash(newPassword)
	if err != nil {
		return err
	}
	u.Password = hash
	if err := s.users.Flush(ctx); err != nil {
		return err
	}
	s.logger.Info().Str("user_id", u.UserID).Msg("password reset")
	return nil
}

// SetPassword overwrites the password of username without a security check.
// It backs the operator reset command.
func (s *Service) SetPassword(ctx context.Context, username, newPassword string) error {
	if newPassword == "" {
		return apperr.Validation("password is required")
	}
	u, ok := s.findByUsername(username)
	if !ok {
		return apperr.NotFound("user", username)
	}
	hash, err := s.hasher.Hash(newPassword)
	if err != nil {
		return err
	}
	u.Password = hash
	return s.users.Flush(ctx)
}

// Update applies a sparse patch to userID.
func (s *Service) Update(ctx context.Context, requester auth.Session, userID string, p UserPatch) (*User, error) {
	if !requester.Can(auth.ManageUsers) {
		s.denied(requester, auth.ManageUsers, "update user")
		return nil, nil
	}
	u, ok := s.findByID(userID)
	if !ok {
		return nil, apperr.NotFound("user", userID)
	}
	if p.Password != "" && p.Password != p.Confirm {
		return nil, apperr.Validation("passwords don't match")
	}
	if p.Username != "" {
		if _, taken := s.users.Find(func(o *User) bool {
			return o.UserID != userID && o.Username == p.Username
		}); taken {
			return nil, apperr.Validation("username already exists")
		}
	}

	var role auth.Role
	if p.Role != "" {
		r, ok := auth.ParseRole(p.Role)
		if !ok {
			return nil, apperr.Validation("unknown role %q", p.Role)
		}
		if r != u.Role && (r == auth.RolePatient || u.Role == auth.RolePatient) {
			return nil, apperr.Validation("cannot change role to or from Patient")
		}
		role = r
	}

	var hash string
	if p.Password != "" {
		h, err := s.hasher.Hash(p.Password)
		if err != nil {
			return nil, err
		}
		hash = h
	}

	if p.Name != "" {
		u.Name = storage.Ptr(p.Name)
	}
	if p.Username != "" {
		u.Username = p.Username
	}
	if hash != "" {
		u.Password = hash
	}
	if role != "" {
		u.Role = role
	}
	if p.Age != "" {
		u.Age = storage.Text(p.Age)
	}
	if p.Gender != "" && p.Gender != "None" {
		u.Gender = storage.Ptr(p.Gender)
	}
	if p.Email != "" {
		u.Email = storage.Ptr(p.Email)
	}
	if p.ContactNo != "" {
		u.ContactNo = storage.Ptr(p.ContactNo)
	}
	if p.SecurityQuestion != "" {
		u.SecurityQuestion = storage.Ptr(p.SecurityQuestion)
	}
	if p.SecurityAnswer != "" {
		u.SecurityAnswer = storage.Ptr(p.SecurityAnswer)
	}

	if err := s.users.Flush(ctx); err != nil {
		return nil, err
	}
	s.logger.Info().Str("user_id", userID).Str("by", requester.UserID).Msg("user updated")
	return u, nil
}

// Delete removes userID. Deleting an unknown id does nothing.
func (s *Service) Delete(ctx context.Context, requester auth.Session, userID string) error {
	if !requester.Can(auth.ManageUsers) {
		s.denied(requester, auth.ManageUsers, "delete user")
		return nil
	}
	if u, ok := s.findByID(userID); ok && u.Role == auth.RolePatient && s.linker != nil {
		if pid := storage.Str(u.PatientID); pid != "" && s.linker.HasPatient(pid) {
			return apperr.Validation("user %s owns patient record %s and cannot be deleted", userID, pid)
		}
	}
	removed := s.users.Retain(func(u *User) bool { return u.UserID != userID })
	if removed == 0 {
		return nil
	}
	if err := s.users.Flush(ctx); err != nil {
		return err
	}
	s.logger.Info().Str("user_id", userID).Str("by", requester.UserID).Msg("user deleted")
	return nil
}

// List returns users matching roleFilter ("All" or a role name; anything
// else is treated as All). Without view-all-users only the requester's own
// record can appear.
func (s *Service) List(requester auth.Session, roleFilter string) []*User {
	role, filtered := auth.ParseRole(roleFilter)
	all := requester.Can(auth.ViewAllUsers)

	out := []*User{}
	for _, u := range s.users.Rows() {
		if !all && u.UserID != requester.UserID {
			continue
		}
		if filtered && u.Role != role {
			continue
		}
		out = append(out, u)
	}
	return out
}

// Get returns userID. Requesters without view-all-users can only see
// themselves.
func (s *Service) Get(requester auth.Session, userID string) (*User, error) {
	if !requester.Can(auth.ViewAllUsers) && requester.UserID != userID {
		return nil, apperr.NotFound("user", userID)
	}
	u, ok := s.findByID(userID)
	if !ok {
		return nil, apperr.NotFound("user", userID)
	}
	return u, nil
}

// ResolveSession refreshes sess from the stored account. A user id that now
// belongs to a different username does not resolve, since ids of deleted
// users can be handed out again.
func (s *Service) ResolveSession(sess auth.Session) (auth.Session, bool) {
	u, ok := s.findByID(sess.UserID)
	if !ok || u.Username != sess.Username {
		return auth.Session{}, false
	}
	sess.Name = u.DisplayName()
	sess.Role = u.Role
	sess.PatientID = storage.Str(u.PatientID)
	return sess, true
}

// Doctors returns the names of users with the Doctor role in collection
// order.
func (s *Service) Doctors() []string {
	names := []string{}
	for _, u := range s.users.Rows() {
		if u.Role == auth.RoleDoctor && u.DisplayName() != "" {
			names = append(names, u.DisplayName())
		}
	}
	return names
}

// FindByPatientID returns the user paired with patientID.
func (s *Service) FindByPatientID(patientID string) (*User, bool) {
	if patientID == "" {
		return nil, false
	}
	return s.users.Find(func(u *User) bool { return storage.Str(u.PatientID) == patientID })
}

// PatientIDs lists every patient_id held by a user.
func (s *Service) PatientIDs() []string {
	var ids []string
	for _, u := range s.users.Rows() {
		if u.PatientID != nil {
			ids = append(ids, *u.PatientID)
		}
	}
	return ids
}

// SaveUsers writes the users collection after a caller changed records in
// place.
func (s *Service) SaveUsers(ctx context.Context) error {
	return s.users.Flush(ctx)
}

// AddUser assigns u a fresh user id, appends it and writes the collection.
func (s *Service) AddUser(ctx context.Context, u *User) error {
	u.UserID = storage.NextID("U", s.userIDs())
	s.users.Append(u)
	return s.users.Flush(ctx)
}
