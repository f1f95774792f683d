// ABOUTME: User directory service for registration, login, and profile lookup
// ABOUTME: Hashes passwords with bcrypt and resolves display attributes through an optional cache

package directory

import (
	"context"
	"errors"
	"log/slog"
	"net/mail"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"github.com/2389/parley/internal/apperr"
	"github.com/2389/parley/internal/store"
)

// ErrInvalidCredentials is returned for an unknown email or a wrong password.
var ErrInvalidCredentials = apperr.New(apperr.KindInvalidArgument, "Invalid credentials")

// Registration limits
const (
	MinUsernameLength = 3
	MinPasswordLength = 6
	ListLimit         = 50
)

// Profile is the public face of a user attached to API and push payloads.
type Profile struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Email    string `json:"email,omitempty"`
	Avatar   string `json:"avatar"`
}

func profileOf(u *store.User) Profile {
	return Profile{ID: u.ID, Username: u.Username, Avatar: u.Avatar}
}

// Cache stores public profiles keyed by user id. Misses are simply absent
// from the returned map.
type Cache interface {
	GetProfiles(ctx context.Context, ids []string) (map[string]Profile, error)
	PutProfiles(ctx context.Context, profiles []Profile) error
}

// RegisterInput is the registration request body.
type RegisterInput struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
	Avatar   string `json:"avatar"`
}

// Service resolves and manages directory entries.
type Service struct {
	users  store.UserStore
	cache  Cache
	cost   int
	logger *slog.Logger
}

// NewService creates a directory service. cache may be nil. Pass nil logger for default.
func NewService(users store.UserStore, cache Cache, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		users:  users,
		cache:  cache,
		cost:   bcrypt.DefaultCost,
		logger: logger.With("component", "directory"),
	}
}

func validateRegister(in RegisterInput) error {
	var problems []string
	if len(strings.TrimSpace(in.Username)) < MinUsernameLength {
		problems = append(problems, "Username must be at least 3 characters long")
	}
	if _, err := mail.ParseAddress(in.Email); err != nil || strings.TrimSpace(in.Email) == "" {
		problems = append(problems, "Please provide a valid email address")
	}
	if len(in.Password) < MinPasswordLength {
		problems = append(problems, "Password must be at least 6 characters long")
	}
	if len(problems) > 0 {
		return apperr.New(apperr.KindInvalidArgument, strings.Join(problems, ", "))
	}
	return nil
}

// Register creates a user and returns its full profile.
func (s *Service) Register(ctx context.Context, in RegisterInput) (*Profile, error) {
	if err := validateRegister(in); err != nil {
		return nil, err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(in.Password), s.cost)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, "Server error", err)
	}

	u := &store.User{
		Username:     strings.TrimSpace(in.Username),
		Email:        strings.ToLower(strings.TrimSpace(in.Email)),
		PasswordHash: string(hash),
		Avatar:       in.Avatar,
	}
	if err := s.users.CreateUser(ctx, u); err != nil {
		return nil, err
	}

	s.logger.Info("user registered", "user_id", u.ID, "username", u.Username)
	p := profileOf(u)
	p.Email = u.Email
	return &p, nil
}

// Authenticate checks an email/password pair.
func (s *Service) Authenticate(ctx context.Context, email, password string) (*Profile, error) {
	if strings.TrimSpace(email) == "" || password == "" {
		return nil, apperr.New(apperr.KindInvalidArgument, "Email and password are required")
	}

	u, err := s.users.GetUserByEmail(ctx, strings.ToLower(strings.TrimSpace(email)))
	if errors.Is(err, store.ErrUserNotFound) {
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)); err != nil {
		return nil, ErrInvalidCredentials
	}

	p := profileOf(u)
	p.Email = u.Email
	return &p, nil
}

// Get returns the full profile for id, including email.
func (s *Service) Get(ctx context.Context, id string) (*Profile, error) {
	u, err := s.users.GetUser(ctx, id)
	if err != nil {
		return nil, err
	}
	p := profileOf(u)
	p.Email = u.Email
	return &p, nil
}

// Exists reports whether a user with id is registered.
func (s *Service) Exists(ctx context.Context, id string) (bool, error) {
	profiles, err := s.lookup(ctx, []string{id})
	if err != nil {
		return false, err
	}
	_, ok := profiles[id]
	return ok, nil
}

// Lookup resolves public profiles for ids. Unknown ids get a placeholder
// profile with only the id set rather than an error.
func (s *Service) Lookup(ctx context.Context, ids []string) (map[string]Profile, error) {
	found, err := s.lookup(ctx, ids)
	if err != nil {
		return nil, err
	}
	for _, id := range ids {
		if _, ok := found[id]; !ok {
			found[id] = Profile{ID: id}
		}
	}
	return found, nil
}

// lookup returns only the profiles that exist. Cache failures are logged and
// fall through to the store.
func (s *Service) lookup(ctx context.Context, ids []string) (map[string]Profile, error) {
	ids = uniqueNonEmpty(ids)
	found := make(map[string]Profile, len(ids))
	if len(ids) == 0 {
		return found, nil
	}

	missing := ids
	if s.cache != nil {
		cached, err := s.cache.GetProfiles(ctx, ids)
		if err != nil {
			s.logger.Warn("profile cache read failed", "error", err)
		}
		missing = make([]string, 0, len(ids))
		for _, id := range ids {
			if p, ok := cached[id]; ok {
				found[id] = p
				continue
			}
			missing = append(missing, id)
		}
	}
	if len(missing) == 0 {
		return found, nil
	}

	users, err := s.users.GetUsers(ctx, missing)
	if err != nil {
		return nil, err
	}
	fresh := make([]Profile, 0, len(users))
	for _, u := range users {
		p := profileOf(u)
		found[u.ID] = p
		fresh = append(fresh, p)
	}

	if s.cache != nil && len(fresh) > 0 {
		if err := s.cache.PutProfiles(ctx, fresh); err != nil {
			s.logger.Warn("profile cache write failed", "error", err)
		}
	}
	return found, nil
}

// List returns up to ListLimit public profiles ordered by username.
func (s *Service) List(ctx context.Context) ([]Profile, error) {
	users, err := s.users.ListUsers(ctx, ListLimit)
	if err != nil {
		return nil, err
	}
	out := make([]Profile, len(users))
	for i, u := range users {
		out[i] = profileOf(u)
	}
	return out, nil
}

func uniqueNonEmpty(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
