// Package session holds the process-wide session/workspace state: who is
// signed in and which apartment is active. It survives restarts through the
// key-value store (apartment snapshot only; identity is re-derived from the
// provider on every cold start) and reacts to provider auth events.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/jabvlabs/roommate/internal/backend"
	"github.com/jabvlabs/roommate/internal/domain"
	"github.com/jabvlabs/roommate/internal/kv"
	"github.com/rs/zerolog"
)

// apartmentKey is where the active-apartment snapshot is persisted.
const apartmentKey = "session.apartment"

// createCodeAttempts bounds the generate-and-check loop that keeps freshly
// generated join codes from colliding with existing ones.
const createCodeAttempts = 5

// State is the explicit session lifecycle. It replaces inferring the state
// from which fields happen to be nil.
type State int

const (
	StateUninitialized State = iota
	StateInitializing
	StateSignedOut
	StateNoApartment // authenticated, no active apartment
	StateReady       // authenticated with an active apartment
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateInitializing:
		return "initializing"
	case StateSignedOut:
		return "signed-out"
	case StateNoApartment:
		return "no-apartment"
	case StateReady:
		return "ready"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// AuthProvider is the identity-provider surface the store depends on.
// *backend.Auth implements it.
type AuthProvider interface {
	SignIn(ctx context.Context, email, password string) (*domain.User, error)
	SignUp(ctx context.Context, email, password string) (*domain.User, bool, error)
	SignOut(ctx context.Context) error
	CurrentUser(ctx context.Context) (*domain.User, error)
	OnStateChange(fn func(backend.AuthEvent, *domain.User)) func()
}

// Directory is the apartment/membership lookup surface the store depends
// on. *backend.Directory implements it.
type Directory interface {
	ApartmentByID(ctx context.Context, id uuid.UUID) (*domain.Apartment, error)
	ApartmentByOwner(ctx context.Context, ownerID uuid.UUID) (*domain.Apartment, error)
	ApartmentsByOwner(ctx context.Context, ownerID uuid.UUID) ([]domain.Apartment, error)
	ApartmentByCode(ctx context.Context, code string) (*domain.Apartment, error)
	CreateApartment(ctx context.Context, apt *domain.Apartment) error
	AddMember(ctx context.Context, m *domain.ApartmentMember) error
	RemoveMember(ctx context.Context, apartmentID, userID uuid.UUID) error
	MembershipsByUser(ctx context.Context, userID uuid.UUID) ([]domain.ApartmentMember, error)
	MembersByApartment(ctx context.Context, apartmentID uuid.UUID) ([]domain.ApartmentMember, error)
}

// ApartmentContext is the persisted subset of workspace state.
type ApartmentContext struct {
	ID       uuid.UUID `json:"id"`
	JoinCode string    `json:"room_code"`
	Name     string    `json:"name"`
	OwnerID  uuid.UUID `json:"user_id"`
}

// CreateResult reports a created apartment plus the outcome of the
// best-effort owner-membership write.
type CreateResult struct {
	ApartmentID uuid.UUID
	JoinCode    string
	Membership  domain.Outcome
}

// JoinResult reports a joined apartment plus the outcome of the best-effort
// membership write.
type JoinResult struct {
	ApartmentID uuid.UUID
	Membership  domain.Outcome
}

// Store is the single source of truth for session and workspace state. All
// methods are safe for concurrent use.
type Store struct {
	auth     AuthProvider
	dir      Directory
	kv       kv.Store
	log      zerolog.Logger
	validate *validator.Validate

	mu          sync.Mutex
	state       State
	user        *domain.User
	apartment   *ApartmentContext
	lastErr     error
	initialized bool
	unsubscribe func()
}

// New creates an uninitialized store. Call Initialize before use.
func New(auth AuthProvider, dir Directory, store kv.Store, logger zerolog.Logger) *Store {
	return &Store{
		auth:     auth,
		dir:      dir,
		kv:       store,
		log:      logger,
		validate: validator.New(),
		state:    StateUninitialized,
	}
}

// Initialize restores the persisted session and subscribes to provider auth
// events. It is idempotent: concurrent and repeated calls register exactly
// one subscription. The owned-apartment lookup for a restored identity runs
// asynchronously; observe completion through State, not the return value.
func (s *Store) Initialize(ctx context.Context) error {
	s.mu.Lock()
	if s.state != StateUninitialized {
		s.mu.Unlock()
		return nil
	}
	s.state = StateInitializing
	s.mu.Unlock()

	unsubscribe := s.auth.OnStateChange(s.handleAuthEvent)

	user, err := s.auth.CurrentUser(ctx)
	if err != nil {
		s.log.Warn().Err(err).Msg("session restore failed, starting signed out")
		user = nil
	}

	var apt *ApartmentContext
	if user != nil {
		apt = s.loadApartmentSnapshot(ctx)
	}

	s.mu.Lock()
	s.unsubscribe = unsubscribe
	s.user = user
	s.apartment = apt
	s.initialized = true
	switch {
	case user == nil:
		s.state = StateSignedOut
	case apt == nil:
		s.state = StateNoApartment
	default:
		s.state = StateReady
	}
	needLookup := user != nil && apt == nil
	s.mu.Unlock()

	if needLookup {
		go s.populateOwnedApartment(user.ID)
	}
	return nil
}

// IsInitialized reports whether Initialize has completed its synchronous
// part. The asynchronous owned-apartment lookup may still be pending.
func (s *Store) IsInitialized() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.initialized
}

// Close drops the auth-event subscription.
func (s *Store) Close() {
	s.mu.Lock()
	unsub := s.unsubscribe
	s.unsubscribe = nil
	s.mu.Unlock()
	if unsub != nil {
		unsub()
	}
}

// handleAuthEvent reacts to provider-side sign-in/sign-out, which can happen
// outside any store operation (another device, token expiry).
func (s *Store) handleAuthEvent(event backend.AuthEvent, user *domain.User) {
	switch event {
	case backend.EventSignedIn:
		s.mu.Lock()
		s.user = user
		if s.apartment == nil {
			s.state = StateNoApartment
		} else {
			s.state = StateReady
		}
		needLookup := s.apartment == nil
		s.mu.Unlock()
		if needLookup && user != nil {
			s.populateOwnedApartment(user.ID)
		}

	case backend.EventSignedOut:
		s.mu.Lock()
		s.user = nil
		s.apartment = nil
		s.state = StateSignedOut
		s.mu.Unlock()

	case backend.EventTokenRefreshed:
		// Identity unchanged.
	}
}

// populateOwnedApartment fills the workspace fields from the apartment the
// user owns, if any. "Logged in" and "apartment known" are two independently
// observable facts; this is the second one arriving.
func (s *Store) populateOwnedApartment(userID uuid.UUID) {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	apt, err := s.dir.ApartmentByOwner(ctx, userID)
	if err != nil {
		s.log.Warn().Err(err).Msg("owned-apartment lookup failed")
		return
	}
	if apt == nil {
		return
	}

	s.mu.Lock()
	// A concurrent create/join/switch wins over the background lookup.
	if s.user == nil || s.user.ID != userID || s.apartment != nil {
		s.mu.Unlock()
		return
	}
	s.setApartmentLocked(apt)
	s.mu.Unlock()
}

// Login authenticates with the provider. On success the identity is set
// immediately; workspace population arrives through the auth-event handler,
// so callers must not assume the apartment is known when Login returns.
func (s *Store) Login(ctx context.Context, email, password string) error {
	in := domain.UserLogin{Email: email, Password: password}
	if err := s.validate.Struct(in); err != nil {
		return s.fail(&domain.AuthError{Message: "email and password are required"})
	}

	user, err := s.auth.SignIn(ctx, email, password)
	if err != nil {
		return s.fail(&domain.AuthError{Message: err.Error()})
	}

	s.mu.Lock()
	s.user = user
	if s.apartment == nil {
		s.state = StateNoApartment
	} else {
		s.state = StateReady
	}
	s.lastErr = nil
	s.mu.Unlock()
	return nil
}

// Register creates an account. pendingConfirmation is true when the
// deployment requires email confirmation before a session exists; that is
// not an error and has no workspace side effects.
func (s *Store) Register(ctx context.Context, email, password string) (pendingConfirmation bool, err error) {
	in := domain.UserCreate{Email: email, Password: password}
	if err := s.validate.Struct(in); err != nil {
		return false, s.fail(&domain.AuthError{Message: "email and password are required"})
	}

	user, active, err := s.auth.SignUp(ctx, email, password)
	if err != nil {
		return false, s.fail(&domain.AuthError{Message: err.Error()})
	}
	if !active {
		return true, nil
	}

	s.mu.Lock()
	s.user = user
	s.state = StateNoApartment
	s.lastErr = nil
	s.mu.Unlock()
	return false, nil
}

// Logout signs out with the provider; identity and workspace fields are
// cleared atomically on success and left untouched on failure.
func (s *Store) Logout(ctx context.Context) error {
	if err := s.auth.SignOut(ctx); err != nil {
		return s.fail(&domain.AuthError{Message: err.Error()})
	}

	s.mu.Lock()
	s.user = nil
	s.apartment = nil
	s.state = StateSignedOut
	s.lastErr = nil
	s.mu.Unlock()

	if err := s.kv.Delete(ctx, apartmentKey); err != nil {
		s.log.Warn().Err(err).Msg("failed to clear apartment snapshot")
	}
	return nil
}

// CreateApartment creates a workspace owned by the current identity. The
// join code is generated client-side and checked against existing codes a
// bounded number of times; the owner-membership row is written best-effort
// because workspace creation is the operation of record.
func (s *Store) CreateApartment(ctx context.Context, name string) (*CreateResult, error) {
	user, err := s.requireUser("create apartment")
	if err != nil {
		return nil, err
	}
	if name == "" {
		name = "My Apartment"
	}

	code, err := s.pickJoinCode(ctx)
	if err != nil {
		return nil, s.fail(err)
	}

	apt := &domain.Apartment{
		ID:        uuid.New(),
		JoinCode:  code,
		Name:      name,
		OwnerID:   user.ID,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.dir.CreateApartment(ctx, apt); err != nil {
		return nil, s.fail(&domain.StoreError{Op: "create apartment", Err: err})
	}

	membership := s.addMembership(ctx, apt.ID, user.ID, domain.RoleOwner)

	s.mu.Lock()
	s.setApartmentLocked(apt)
	s.lastErr = nil
	s.mu.Unlock()

	return &CreateResult{ApartmentID: apt.ID, JoinCode: apt.JoinCode, Membership: membership}, nil
}

// pickJoinCode generates codes until one is unused. Uniqueness is still not
// server-enforced, so joins tie-break on the first match; the check only
// makes collisions unlikely, not impossible.
func (s *Store) pickJoinCode(ctx context.Context) (string, error) {
	code := GenerateJoinCode()
	for attempt := 0; attempt < createCodeAttempts; attempt++ {
		existing, err := s.dir.ApartmentByCode(ctx, code)
		if err != nil {
			// The lookup is advisory; creation proceeds on the generated code.
			s.log.Warn().Err(err).Msg("join-code collision check failed")
			return code, nil
		}
		if existing == nil {
			return code, nil
		}
		code = GenerateJoinCode()
	}
	return "", &domain.StoreError{Op: "create apartment", Err: errors.New("could not find an unused join code")}
}

// JoinApartment joins the workspace matching code. A miss surfaces as an
// invalid-code NotFoundError; the membership row is written best-effort.
func (s *Store) JoinApartment(ctx context.Context, code string) (*JoinResult, error) {
	user, err := s.requireUser("join apartment")
	if err != nil {
		return nil, err
	}
	if len(code) < 3 {
		return nil, s.fail(&domain.NotFoundError{Message: "invalid room code"})
	}

	apt, err := s.dir.ApartmentByCode(ctx, code)
	if err != nil {
		return nil, s.fail(&domain.StoreError{Op: "join apartment", Err: err})
	}
	if apt == nil {
		return nil, s.fail(&domain.NotFoundError{Message: "invalid room code"})
	}

	role := domain.RoleMember
	if apt.OwnerID == user.ID {
		role = domain.RoleOwner
	}
	membership := s.addMembership(ctx, apt.ID, user.ID, role)

	s.mu.Lock()
	s.setApartmentLocked(apt)
	s.lastErr = nil
	s.mu.Unlock()

	return &JoinResult{ApartmentID: apt.ID, Membership: membership}, nil
}

// LeaveApartment removes the caller's membership best-effort (the table may
// not exist in all deployments) and always clears the workspace fields.
func (s *Store) LeaveApartment(ctx context.Context) error {
	user, err := s.requireUser("leave apartment")
	if err != nil {
		return err
	}

	s.mu.Lock()
	apt := s.apartment
	s.mu.Unlock()
	if apt == nil {
		return s.fail(&domain.NotFoundError{Message: "no active apartment"})
	}

	if err := s.dir.RemoveMember(ctx, apt.ID, user.ID); err != nil {
		s.log.Warn().Err(err).Msg("best-effort membership delete failed")
	}

	s.mu.Lock()
	s.apartment = nil
	s.state = StateNoApartment
	s.lastErr = nil
	s.mu.Unlock()

	if err := s.kv.Delete(ctx, apartmentKey); err != nil {
		s.log.Warn().Err(err).Msg("failed to clear apartment snapshot")
	}
	return nil
}

// SwitchApartment makes another workspace the active one. The caller must
// actually belong to it: owner by the apartment row, or member by a
// membership row (a membership table that is not deployed cannot veto).
func (s *Store) SwitchApartment(ctx context.Context, id uuid.UUID) error {
	user, err := s.requireUser("switch apartment")
	if err != nil {
		return err
	}

	apt, err := s.dir.ApartmentByID(ctx, id)
	if err != nil {
		return s.fail(&domain.StoreError{Op: "switch apartment", Err: err})
	}
	if apt == nil {
		return s.fail(&domain.NotFoundError{Message: "apartment not found"})
	}

	if apt.OwnerID != user.ID {
		member := false
		members, err := s.dir.MembersByApartment(ctx, apt.ID)
		if err != nil {
			if !errors.Is(err, domain.ErrRelationMissing) {
				return s.fail(&domain.StoreError{Op: "switch apartment", Err: err})
			}
			member = true // membership table not deployed; nothing to check against
		} else {
			for _, m := range members {
				if m.UserID == user.ID {
					member = true
					break
				}
			}
		}
		if !member {
			return s.fail(&domain.NotFoundError{Message: "not a member of this apartment"})
		}
	}

	s.mu.Lock()
	s.setApartmentLocked(apt)
	s.lastErr = nil
	s.mu.Unlock()
	return nil
}

// ListMyApartments returns the union of apartments the identity belongs to
// (membership table, when deployed) and apartments it owns, de-duplicated by
// id with the owner role winning when the sources disagree.
func (s *Store) ListMyApartments(ctx context.Context) ([]domain.ApartmentSummary, error) {
	user, err := s.requireUser("list apartments")
	if err != nil {
		return nil, err
	}

	roles := make(map[uuid.UUID]string)

	memberships, err := s.dir.MembershipsByUser(ctx, user.ID)
	if err != nil {
		if !errors.Is(err, domain.ErrRelationMissing) {
			return nil, s.fail(&domain.StoreError{Op: "list apartments", Err: err})
		}
		memberships = nil
	}
	for _, m := range memberships {
		roles[m.ApartmentID] = m.Role
	}

	owned, err := s.dir.ApartmentsByOwner(ctx, user.ID)
	if err != nil {
		return nil, s.fail(&domain.StoreError{Op: "list apartments", Err: err})
	}

	apartments := make(map[uuid.UUID]domain.Apartment, len(owned))
	for _, apt := range owned {
		apartments[apt.ID] = apt
		roles[apt.ID] = domain.RoleOwner // ownership query is authoritative
	}
	for id := range roles {
		if _, ok := apartments[id]; ok {
			continue
		}
		apt, err := s.dir.ApartmentByID(ctx, id)
		if err != nil {
			return nil, s.fail(&domain.StoreError{Op: "list apartments", Err: err})
		}
		if apt == nil {
			// Stale membership row pointing at a deleted apartment.
			delete(roles, id)
			continue
		}
		apartments[id] = *apt
	}

	out := make([]domain.ApartmentSummary, 0, len(apartments))
	for id, apt := range apartments {
		out = append(out, domain.ApartmentSummary{Apartment: apt, Role: roles[id]})
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Apartment.CreatedAt.Equal(out[j].Apartment.CreatedAt) {
			return out[i].Apartment.CreatedAt.Before(out[j].Apartment.CreatedAt)
		}
		return out[i].Apartment.ID.String() < out[j].Apartment.ID.String()
	})
	return out, nil
}

// IsOwner reports whether the current identity owns the active apartment.
// False when either is absent.
func (s *Store) IsOwner() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.user != nil && s.apartment != nil && s.user.ID == s.apartment.OwnerID
}

// State returns the current lifecycle state.
func (s *Store) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// User returns the signed-in identity, or nil.
func (s *Store) User() *domain.User {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.user == nil {
		return nil
	}
	u := *s.user
	return &u
}

// Apartment returns the active workspace context, or nil.
func (s *Store) Apartment() *ApartmentContext {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.apartment == nil {
		return nil
	}
	a := *s.apartment
	return &a
}

// Err returns the last surfaced error, if any.
func (s *Store) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}

// ClearError clears the last surfaced error without other side effects.
func (s *Store) ClearError() {
	s.mu.Lock()
	s.lastErr = nil
	s.mu.Unlock()
}

// addMembership is the shared best-effort membership write.
func (s *Store) addMembership(ctx context.Context, apartmentID, userID uuid.UUID, role string) domain.Outcome {
	m := &domain.ApartmentMember{
		ApartmentID: apartmentID,
		UserID:      userID,
		Role:        role,
		JoinedAt:    time.Now().UTC(),
	}
	outcome := domain.Outcome{Attempted: true, Err: s.dir.AddMember(ctx, m)}
	if outcome.Failed() {
		s.log.Warn().Err(outcome.Err).
			Str("apartment_id", apartmentID.String()).
			Str("role", role).
			Msg("best-effort membership insert failed")
	}
	return outcome
}

// setApartmentLocked installs the workspace fields and persists the
// snapshot. Callers hold the mutex.
func (s *Store) setApartmentLocked(apt *domain.Apartment) {
	s.apartment = &ApartmentContext{
		ID:       apt.ID,
		JoinCode: apt.JoinCode,
		Name:     apt.Name,
		OwnerID:  apt.OwnerID,
	}
	if s.user != nil {
		s.state = StateReady
	}

	data, err := json.Marshal(s.apartment)
	if err != nil {
		return
	}
	if err := s.kv.Set(context.Background(), apartmentKey, data); err != nil {
		s.log.Warn().Err(err).Msg("failed to persist apartment snapshot")
	}
}

func (s *Store) loadApartmentSnapshot(ctx context.Context) *ApartmentContext {
	data, err := s.kv.Get(ctx, apartmentKey)
	if err != nil {
		if !errors.Is(err, kv.ErrNotFound) {
			s.log.Warn().Err(err).Msg("failed to read apartment snapshot")
		}
		return nil
	}
	var apt ApartmentContext
	if err := json.Unmarshal(data, &apt); err != nil {
		s.log.Warn().Err(err).Msg("discarding unreadable apartment snapshot")
		_ = s.kv.Delete(ctx, apartmentKey)
		return nil
	}
	return &apt
}

func (s *Store) requireUser(op string) (*domain.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.user == nil {
		err := &domain.NotAuthenticatedError{Op: op}
		s.lastErr = err
		return nil, err
	}
	u := *s.user
	return &u, nil
}

// fail records and returns a surfaced error.
func (s *Store) fail(err error) error {
	s.mu.Lock()
	s.lastErr = err
	s.mu.Unlock()
	return err
}
