package session

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound is returned when no session has the given id.
var ErrNotFound = errors.New("session not found")

// ErrBadFilter is returned for unknown state or direction filter values.
var ErrBadFilter = errors.New("unknown filter value")

// ErrInvalidTransition is returned for non-monotonic state transitions.
var ErrInvalidTransition = errors.New("invalid state transition")

// ErrRoomConflict is returned when a room assignment would break the
// one-to-one mapping between sessions and rooms.
var ErrRoomConflict = errors.New("room already assigned")

// Manager holds every session for the lifetime of the process. Sessions
// are never deleted; ended sessions stay queryable. Safe for concurrent
// use.
type Manager struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	byRoom   map[string]string
	order    []string
	now      func() time.Time
}

// Option configures a Manager.
type Option func(*Manager)

// WithClock overrides the timestamp source, for tests.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// NewManager returns an empty session registry.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		sessions: make(map[string]*Session),
		byRoom:   make(map[string]string),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Create registers a new session with a fresh opaque id. Inbound sessions
// start in inbound_ringing, outbound sessions in created.
func (m *Manager) Create(direction Direction, caller, callee string, config map[string]any) (Session, error) {
	if direction != DirectionInbound && direction != DirectionOutbound {
		return Session{}, fmt.Errorf("direction must be %q or %q", DirectionInbound, DirectionOutbound)
	}

	s := &Session{
		ID:           uuid.NewString(),
		State:        initialState(direction),
		Direction:    direction,
		CreatedAt:    m.now().UTC(),
		CallerNumber: caller,
		CalleeNumber: callee,
		Config:       copyConfig(config),
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[s.ID] = s
	m.order = append(m.order, s.ID)
	return *s, nil
}

// Get returns a snapshot of the session with the given id.
func (m *Manager) Get(id string) (Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	if !ok {
		return Session{}, false
	}
	return *s, true
}

// GetByRoom returns a snapshot of the session bound to the given room.
func (m *Manager) GetByRoom(room string) (Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.byRoom[room]
	if !ok {
		return Session{}, false
	}
	return *m.sessions[id], true
}

// List returns session snapshots in creation order. Zero-value filters
// match everything; unknown filter values are a caller error.
func (m *Manager) List(state State, direction Direction) ([]Session, error) {
	if state != "" {
		if _, err := ParseState(string(state)); err != nil {
			return nil, err
		}
	}
	if direction != "" {
		if _, err := ParseDirection(string(direction)); err != nil {
			return nil, err
		}
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	out := []Session{}
	for _, id := range m.order {
		s := m.sessions[id]
		if state != "" && s.State != state {
			continue
		}
		if direction != "" && s.Direction != direction {
			continue
		}
		out = append(out, *s)
	}
	return out, nil
}

// AssignRoom binds the session to a provider room. The mapping is
// one-to-one: a second room for the same session or a second session for
// the same room is rejected. Rebinding the same room is a no-op.
func (m *Manager) AssignRoom(id, room string) error {
	if room == "" {
		return errors.New("room name required")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[id]
	if !ok {
		return ErrNotFound
	}
	if s.Room == room {
		return nil
	}
	if s.Room != "" {
		return fmt.Errorf("%w: session %s already bound to room %s", ErrRoomConflict, id, s.Room)
	}
	if other, taken := m.byRoom[room]; taken {
		return fmt.Errorf("%w: room %s belongs to session %s", ErrRoomConflict, room, other)
	}
	s.Room = room
	m.byRoom[room] = id
	return nil
}

// ClaimParticipant records the caller participant. The participant is set
// at most once; claimed reports whether this call performed the
// assignment.
func (m *Manager) ClaimParticipant(id, participant string) (claimed bool, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[id]
	if !ok {
		return false, ErrNotFound
	}
	if s.Participant != "" {
		return false, nil
	}
	s.Participant = participant
	return true, nil
}

// SetCallerNumber records the caller's phone number.
func (m *Manager) SetCallerNumber(id, number string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[id]
	if !ok {
		return ErrNotFound
	}
	s.CallerNumber = number
	return nil
}

// Transition moves the session forward along the lifecycle and returns
// the prior state. Non-monotonic moves fail with ErrInvalidTransition.
// ended_at is stamped exactly when the session reaches ended.
func (m *Manager) Transition(id string, to State) (State, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[id]
	if !ok {
		return "", ErrNotFound
	}
	from := s.State
	if !canTransition(from, to) {
		return from, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	s.State = to
	if to == StateEnded {
		s.EndedAt = m.now().UTC()
	}
	return from, nil
}

// End terminates the session with the given reason. Already-ended
// sessions are left untouched, so replayed terminal webhooks cannot
// resurrect or restamp a call.
func (m *Manager) End(id, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[id]
	if !ok {
		return ErrNotFound
	}
	if s.State.Terminal() {
		return nil
	}
	// Termination passes through ending to ended in one step; the
	// intermediate state is not observable from outside.
	s.State = StateEnded
	s.EndedAt = m.now().UTC()
	s.EndReason = reason
	return nil
}

// Count returns the number of registered sessions.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// CountByState returns a snapshot of session counts per state.
func (m *Manager) CountByState() map[State]int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	counts := make(map[State]int)
	for _, s := range m.sessions {
		counts[s.State]++
	}
	return counts
}

func copyConfig(config map[string]any) map[string]any {
	out := make(map[string]any, len(config))
	for k, v := range config {
		out[k] = v
	}
	return out
}
