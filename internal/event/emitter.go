package event

import (
	"strings"
	"time"
)

// Sink receives every emitted event. Implementations must be safe for
// concurrent use.
type Sink interface {
	Write(ev Event)
}

// Emitter builds events for a single component and forwards them to a
// sink and an optional store. A nil *Emitter discards everything, so
// callers do not need to guard optional observability.
type Emitter struct {
	component Component
	sink      Sink
	store     *Store
	now       func() time.Time
}

// EmitterOption configures an Emitter.
type EmitterOption func(*Emitter)

// WithClock overrides the timestamp source, for tests.
func WithClock(now func() time.Time) EmitterOption {
	return func(e *Emitter) { e.now = now }
}

// NewEmitter returns an emitter stamping events with the given component.
// Both sink and store may be nil.
func NewEmitter(component Component, sink Sink, store *Store, opts ...EmitterOption) *Emitter {
	e := &Emitter{component: component, sink: sink, store: store, now: time.Now}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// EmitOption adjusts a single event before it is recorded.
type EmitOption func(*Event)

// WithCorrelationID sets the correlation id. The default is the session id.
func WithCorrelationID(id string) EmitOption {
	return func(ev *Event) { ev.CorrelationID = id }
}

// WithPII attaches a PII marker other than the no-PII default.
func WithPII(pii PII) EmitOption {
	return func(ev *Event) { ev.PII = pii }
}

// Emit records a single event. The payload map is used as-is and must not
// be mutated by the caller afterwards.
func (e *Emitter) Emit(eventType, sessionID string, severity Severity, payload map[string]any, opts ...EmitOption) {
	if e == nil {
		return
	}
	ev := Event{
		TS:            e.now().UTC(),
		SessionID:     sessionID,
		Component:     e.component,
		EventType:     eventType,
		Severity:      severity,
		CorrelationID: sessionID,
		PII:           NoPII(),
		Payload:       payload,
	}
	for _, opt := range opts {
		opt(&ev)
	}
	if ev.CorrelationID == "" {
		ev.CorrelationID = sessionID
	}
	if e.sink != nil {
		e.sink.Write(ev)
	}
	if e.store != nil {
		e.store.Add(ev)
	}
}

// Info emits with SeverityInfo, the common case.
func (e *Emitter) Info(eventType, sessionID string, payload map[string]any, opts ...EmitOption) {
	e.Emit(eventType, sessionID, SeverityInfo, payload, opts...)
}

// LiveKitRef identifies the LiveKit room, participant and track an event
// refers to. Empty fields are omitted from the payload; a fully empty ref
// serializes as null.
type LiveKitRef struct {
	Room        string
	Participant string
	Track       string
}

func (r LiveKitRef) payload() any {
	if r == (LiveKitRef{}) {
		return nil
	}
	m := map[string]any{}
	if r.Room != "" {
		m["room"] = r.Room
	}
	if r.Participant != "" {
		m["participant"] = r.Participant
	}
	if r.Track != "" {
		m["track"] = r.Track
	}
	return m
}

// CallInfo describes the call leg for call.started. The hashes are
// optional PII-safe derivations of the raw numbers.
type CallInfo struct {
	Direction  string
	CallerHash string
	CalleeHash string
}

// CallStarted emits call.started.
func (e *Emitter) CallStarted(sessionID string, info CallInfo, ref LiveKitRef) {
	call := map[string]any{"direction": info.Direction}
	if info.CallerHash != "" {
		call["caller_hash"] = info.CallerHash
	}
	if info.CalleeHash != "" {
		call["callee_hash"] = info.CalleeHash
	}
	e.Info(TypeCallStarted, sessionID, map[string]any{
		"call":    call,
		"livekit": ref.payload(),
	})
}

// CallAnswered emits call.answered.
func (e *Emitter) CallAnswered(sessionID string, ref LiveKitRef) {
	e.Info(TypeCallAnswered, sessionID, map[string]any{
		"livekit": ref.payload(),
	})
}

// CallEnded emits call.ended with the termination reason.
func (e *Emitter) CallEnded(sessionID, reason string, ref LiveKitRef) {
	e.Info(TypeCallEnded, sessionID, map[string]any{
		"reason":  reason,
		"livekit": ref.payload(),
	})
}

// SessionStateChanged emits session.state_changed.
func (e *Emitter) SessionStateChanged(sessionID, fromState, toState string) {
	e.Info(TypeSessionStateChanged, sessionID, map[string]any{
		"from_state": fromState,
		"to_state":   toState,
	})
}

// RoomCreated emits livekit.room.created.
func (e *Emitter) RoomCreated(sessionID, room string) {
	e.Info(TypeRoomCreated, sessionID, map[string]any{
		"livekit": LiveKitRef{Room: room}.payload(),
	})
}

// ParticipantJoined emits livekit.participant.joined.
func (e *Emitter) ParticipantJoined(sessionID, room, participant string) {
	e.Info(TypeParticipantJoined, sessionID, map[string]any{
		"livekit": LiveKitRef{Room: room, Participant: participant}.payload(),
	})
}

// ParticipantLeft emits livekit.participant.left.
func (e *Emitter) ParticipantLeft(sessionID, room, participant string) {
	e.Info(TypeParticipantLeft, sessionID, map[string]any{
		"livekit": LiveKitRef{Room: room, Participant: participant}.payload(),
	})
}

// TrackPublished emits livekit.track.published.
func (e *Emitter) TrackPublished(sessionID string, ref LiveKitRef) {
	e.Info(TypeTrackPublished, sessionID, map[string]any{
		"livekit": ref.payload(),
	})
}

// ProviderEvent emits provider.event for normalized provider failures and
// limits. Severity is warn when the category names an error or a limit,
// info otherwise.
func (e *Emitter) ProviderEvent(sessionID, category, direction, providerName, detail string, ref LiveKitRef) {
	sev := SeverityInfo
	if strings.Contains(category, "error") || strings.Contains(category, "limited") {
		sev = SeverityWarn
	}
	var provider any
	if providerName != "" {
		provider = map[string]any{"name": providerName}
	}
	e.Emit(TypeProviderEvent, sessionID, sev, map[string]any{
		"category":  category,
		"direction": nullableString(direction),
		"provider":  provider,
		"detail":    nullableString(detail),
		"livekit":   ref.payload(),
	})
}

func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
