package session

import (
	"fmt"
	"time"
)

// State is a session lifecycle state. Progression is monotonic: inbound
// calls enter at inbound_ringing, outbound calls walk created, dialing,
// ringing. Both converge at connected. Termination always passes through
// ending to ended, and ended is final.
type State string

const (
	StateCreated        State = "created"
	StateDialing        State = "dialing"
	StateRinging        State = "ringing"
	StateInboundRinging State = "inbound_ringing"
	StateConnected      State = "connected"
	StateEnding         State = "ending"
	StateEnded          State = "ended"
)

// ParseState converts a raw string to a State.
func ParseState(s string) (State, error) {
	st := State(s)
	switch st {
	case StateCreated, StateDialing, StateRinging, StateInboundRinging, StateConnected, StateEnding, StateEnded:
		return st, nil
	}
	return "", fmt.Errorf("%w: state %q", ErrBadFilter, s)
}

// Terminal reports whether no further transitions are legal from s.
func (s State) Terminal() bool {
	return s == StateEnded
}

// forward holds the legal forward edges. Ending is reachable from every
// non-terminal state and is handled separately in canTransition.
var forward = map[State]State{
	StateCreated:        StateDialing,
	StateDialing:        StateRinging,
	StateRinging:        StateConnected,
	StateInboundRinging: StateConnected,
	StateEnding:         StateEnded,
}

func canTransition(from, to State) bool {
	if from.Terminal() {
		return false
	}
	if to == StateEnding {
		return true
	}
	return forward[from] == to
}

// Well-known end reasons recorded on terminated sessions.
const (
	ReasonParticipantLeft    = "participant_left"
	ReasonRoomFinished       = "room_finished"
	ReasonUserSilenceTimeout = "user_silence_timeout"
	ReasonMaxDuration        = "max_duration_reached"
)

// Direction is the call direction.
type Direction string

const (
	DirectionInbound  Direction = "inbound"
	DirectionOutbound Direction = "outbound"
)

// ParseDirection converts a raw string to a Direction.
func ParseDirection(s string) (Direction, error) {
	d := Direction(s)
	switch d {
	case DirectionInbound, DirectionOutbound:
		return d, nil
	}
	return "", fmt.Errorf("%w: direction %q", ErrBadFilter, s)
}

// Session is one call. The id is opaque and never encodes the caller's
// number. Values handed out by the Manager are snapshots; mutation goes
// through Manager methods.
type Session struct {
	ID        string
	State     State
	Direction Direction
	CreatedAt time.Time

	Room        string
	Participant string

	CallerNumber string
	CalleeNumber string

	Config map[string]any

	EndedAt   time.Time
	EndReason string
}

// Terminal reports whether the session has fully ended.
func (s Session) Terminal() bool {
	return s.State.Terminal()
}

func initialState(direction Direction) State {
	if direction == DirectionInbound {
		return StateInboundRinging
	}
	return StateCreated
}
