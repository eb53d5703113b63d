package event

import (
	"bytes"
	"encoding/json"
	"sort"
	"time"
)

// Component identifies the subsystem that emitted an event.
type Component string

const (
	ComponentControlPlane  Component = "control_plane"
	ComponentVoicePipeline Component = "voice_pipeline"
	ComponentAdapter       Component = "adapter"
	ComponentActionRunner  Component = "action_runner"
)

// IsValid reports whether c is a known component.
func (c Component) IsValid() bool {
	switch c {
	case ComponentControlPlane, ComponentVoicePipeline, ComponentAdapter, ComponentActionRunner:
		return true
	}
	return false
}

// Severity is the event severity level.
type Severity string

const (
	SeverityDebug Severity = "debug"
	SeverityInfo  Severity = "info"
	SeverityWarn  Severity = "warn"
	SeverityError Severity = "error"
)

// IsValid reports whether s is a known severity.
func (s Severity) IsValid() bool {
	switch s {
	case SeverityDebug, SeverityInfo, SeverityWarn, SeverityError:
		return true
	}
	return false
}

// Stable event type strings. Consumers match on these, so they are part of
// the external contract and must not change.
const (
	TypeCallStarted         = "call.started"
	TypeCallAnswered        = "call.answered"
	TypeCallEnded           = "call.ended"
	TypeCallDurationWarning = "call.duration_warning"

	TypeSessionStateChanged = "session.state_changed"

	TypeRoomCreated       = "livekit.room.created"
	TypeParticipantJoined = "livekit.participant.joined"
	TypeParticipantLeft   = "livekit.participant.left"
	TypeTrackPublished    = "livekit.track.published"

	TypeCommandReceived = "control.command_received"
	TypeCommandApplied  = "control.command_applied"

	TypeProviderEvent = "provider.event"

	TypeSTTFinal        = "stt.final"
	TypeTurnStarted     = "turn.started"
	TypeLLMRequest      = "llm.request"
	TypeLLMResponse     = "llm.response"
	TypeTTSStarted      = "tts.started"
	TypeTTSStopped      = "tts.stopped"
	TypeBargeInDetected = "barge_in.detected"
	TypeVADStateChanged = "vad.state_changed"

	TypeSilenceTimerFired   = "silence.timer_fired"
	TypeUXDelayAcknowledged = "ux.delay_acknowledged"
	TypeUXPromptFailed      = "ux.prompt_failed"
)

// PII describes whether an event payload carries personally identifiable
// information and how it was handled.
type PII struct {
	ContainsPII bool     `json:"contains_pii"`
	Fields      []string `json:"fields"`
	Handling    string   `json:"handling"`
}

// NoPII is the default marker: the payload carries no PII.
func NoPII() PII {
	return PII{ContainsPII: false, Fields: []string{}, Handling: "none"}
}

// RedactedPII marks the named payload fields as PII that has been redacted
// in place.
func RedactedPII(fields ...string) PII {
	return PII{ContainsPII: true, Fields: fields, Handling: "redacted"}
}

// TaggedPII marks the named payload fields as PII carried unmodified for
// internal audit use.
func TaggedPII(fields ...string) PII {
	return PII{ContainsPII: true, Fields: fields, Handling: "none"}
}

// Event is a single structured event. The envelope fields are common to
// every event; Payload carries the event-specific fields.
type Event struct {
	TS            time.Time
	SessionID     string
	Component     Component
	EventType     string
	Severity      Severity
	CorrelationID string
	PII           PII
	Payload       map[string]any
}

// envelope keys, in output order. Payload keys that collide are dropped.
var envelopeKeys = []string{"ts", "session_id", "component", "event_type", "severity", "correlation_id", "pii"}

func isEnvelopeKey(k string) bool {
	for _, ek := range envelopeKeys {
		if k == ek {
			return true
		}
	}
	return false
}

// MarshalJSON renders the event as a single JSON object with a stable key
// order: the envelope fields first, then payload fields sorted by name.
func (e Event) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')

	if err := writeField(&buf, "ts", e.TS.UTC().Format(time.RFC3339Nano), true); err != nil {
		return nil, err
	}
	if err := writeField(&buf, "session_id", e.SessionID, false); err != nil {
		return nil, err
	}
	if err := writeField(&buf, "component", e.Component, false); err != nil {
		return nil, err
	}
	if err := writeField(&buf, "event_type", e.EventType, false); err != nil {
		return nil, err
	}
	if err := writeField(&buf, "severity", e.Severity, false); err != nil {
		return nil, err
	}
	if err := writeField(&buf, "correlation_id", e.CorrelationID, false); err != nil {
		return nil, err
	}
	if err := writeField(&buf, "pii", e.PII, false); err != nil {
		return nil, err
	}

	keys := make([]string, 0, len(e.Payload))
	for k := range e.Payload {
		if isEnvelopeKey(k) {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if err := writeField(&buf, k, e.Payload[k], false); err != nil {
			return nil, err
		}
	}

	buf.WriteByte('}')
	return buf.Bytes(), nil
}

func writeField(buf *bytes.Buffer, key string, value any, first bool) error {
	if !first {
		buf.WriteByte(',')
	}
	k, err := json.Marshal(key)
	if err != nil {
		return err
	}
	buf.Write(k)
	buf.WriteByte(':')
	v, err := json.Marshal(value)
	if err != nil {
		return err
	}
	buf.Write(v)
	return nil
}
