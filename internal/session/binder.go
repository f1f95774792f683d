// ABOUTME: Session binder that ties a live push connection to a verified user id
// ABOUTME: Tracks the Unauthenticated -> Authenticated -> Closed lifecycle per connection

package session

import (
	"errors"
	"log/slog"
	"sync"

	"github.com/2389/parley/internal/auth"
	"github.com/2389/parley/internal/rooms"
)

// State is the lifecycle position of a connection.
type State int

const (
	StateUnknown State = iota
	StateUnauthenticated
	StateAuthenticated
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateUnauthenticated:
		return "unauthenticated"
	case StateAuthenticated:
		return "authenticated"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// ErrUnknownConnection is returned for connection ids that were never opened or are closed.
var ErrUnknownConnection = errors.New("unknown connection")

type binding struct {
	// authMu serializes Authenticate per connection so the state update
	// and the room changes it implies happen as one step.
	authMu sync.Mutex

	sub    rooms.Subscriber
	state  State
	userID string
}

// Binder owns the per-connection session state.
type Binder struct {
	mu       sync.Mutex
	sessions map[string]*binding

	verifier auth.TokenVerifier
	registry *rooms.Registry
	logger   *slog.Logger
}

// NewBinder creates a binder. Pass nil logger for default.
func NewBinder(verifier auth.TokenVerifier, registry *rooms.Registry, logger *slog.Logger) *Binder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Binder{
		sessions: make(map[string]*binding),
		verifier: verifier,
		registry: registry,
		logger:   logger.With("component", "sessions"),
	}
}

// Open registers a new connection in the Unauthenticated state.
func (b *Binder) Open(sub rooms.Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sessions[sub.ID()] = &binding{sub: sub, state: StateUnauthenticated}
}

// Authenticate verifies credential and binds the connection to its subject,
// joining the user's personal room. On failure the connection keeps whatever
// binding it already had and the error is returned for the caller to report.
// Re-authenticating as a different user leaves every room of the old identity.
func (b *Binder) Authenticate(connID, credential string) (string, error) {
	userID, err := auth.Authenticate(b.verifier, credential)
	if err != nil {
		b.logger.Debug("push authentication failed", "conn", connID, "error", err)
		return "", err
	}

	b.mu.Lock()
	s, ok := b.sessions[connID]
	b.mu.Unlock()
	if !ok {
		return "", ErrUnknownConnection
	}

	s.authMu.Lock()
	defer s.authMu.Unlock()

	b.mu.Lock()
	if s.state == StateClosed {
		b.mu.Unlock()
		return "", ErrUnknownConnection
	}
	previous := s.userID
	s.userID = userID
	s.state = StateAuthenticated
	sub := s.sub
	b.mu.Unlock()

	if previous != "" && previous != userID {
		b.registry.LeaveAll(connID)
	}
	b.registry.Join(sub, rooms.UserRoom(userID))

	// Close may have run between the unlock and the join.
	if b.State(connID) != StateAuthenticated {
		b.registry.LeaveAll(connID)
		return "", ErrUnknownConnection
	}

	b.logger.Debug("connection authenticated", "conn", connID, "user_id", userID)
	return userID, nil
}

// UserID returns the bound user for an authenticated connection.
func (b *Binder) UserID(connID string) (string, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	s, ok := b.sessions[connID]
	if !ok || s.state != StateAuthenticated {
		return "", false
	}
	return s.userID, true
}

// Subscriber returns the subscriber for an authenticated connection.
func (b *Binder) Subscriber(connID string) (rooms.Subscriber, string, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	s, ok := b.sessions[connID]
	if !ok || s.state != StateAuthenticated {
		return nil, "", false
	}
	return s.sub, s.userID, true
}

// State reports the lifecycle state of a connection.
func (b *Binder) State(connID string) State {
	b.mu.Lock()
	defer b.mu.Unlock()

	if s, ok := b.sessions[connID]; ok {
		return s.state
	}
	return StateUnknown
}

// Close transitions the connection to Closed and removes it from every room.
// The session record is discarded.
func (b *Binder) Close(connID string) {
	b.mu.Lock()
	s, ok := b.sessions[connID]
	if ok {
		s.state = StateClosed
		delete(b.sessions, connID)
	}
	b.mu.Unlock()

	b.registry.LeaveAll(connID)
	if ok {
		b.logger.Debug("connection closed", "conn", connID, "user_id", s.userID)
	}
}

// Count returns the number of open connections.
func (b *Binder) Count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.sessions)
}
