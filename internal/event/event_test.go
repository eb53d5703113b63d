package event

import (
	"encoding/json"
	"strings"
	"testing"
	"time"
)

func TestEventMarshal_StableKeyOrder(t *testing.T) {
	ev := Event{
		TS:            time.Date(2026, 1, 2, 15, 4, 5, 0, time.UTC),
		SessionID:     "s1",
		Component:     ComponentControlPlane,
		EventType:     TypeCallStarted,
		Severity:      SeverityInfo,
		CorrelationID: "s1",
		PII:           NoPII(),
		Payload: map[string]any{
			"zeta":  1,
			"alpha": "x",
		},
	}

	data, err := json.Marshal(ev)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	want := `{"ts":"2026-01-02T15:04:05Z","session_id":"s1","component":"control_plane",` +
		`"event_type":"call.started","severity":"info","correlation_id":"s1",` +
		`"pii":{"contains_pii":false,"fields":[],"handling":"none"},"alpha":"x","zeta":1}`
	if string(data) != want {
		t.Errorf("Marshal = %s, want %s", data, want)
	}

	// Marshaling again must produce the identical byte sequence.
	again, err := json.Marshal(ev)
	if err != nil {
		t.Fatalf("Marshal again: %v", err)
	}
	if string(again) != string(data) {
		t.Errorf("second Marshal differs: %s vs %s", again, data)
	}
}

func TestEventMarshal_NormalizesToUTC(t *testing.T) {
	ams := time.FixedZone("CEST", 2*60*60)
	ev := Event{
		TS:        time.Date(2026, 7, 1, 14, 30, 0, 0, ams),
		SessionID: "s1",
		Component: ComponentVoicePipeline,
		EventType: TypeTurnStarted,
		Severity:  SeverityInfo,
		PII:       NoPII(),
	}

	data, err := json.Marshal(ev)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	if !strings.Contains(string(data), `"ts":"2026-07-01T12:30:00Z"`) {
		t.Errorf("ts not normalized to UTC: %s", data)
	}
}

func TestEventMarshal_PayloadCannotShadowEnvelope(t *testing.T) {
	ev := Event{
		TS:        time.Date(2026, 1, 2, 15, 4, 5, 0, time.UTC),
		SessionID: "s1",
		Component: ComponentControlPlane,
		EventType: TypeCallEnded,
		Severity:  SeverityInfo,
		PII:       NoPII(),
		Payload: map[string]any{
			"ts":     "shadow",
			"reason": "room_finished",
		},
	}

	data, err := json.Marshal(ev)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	if strings.Contains(string(data), "shadow") {
		t.Errorf("payload shadowed envelope key: %s", data)
	}
	if !strings.Contains(string(data), `"reason":"room_finished"`) {
		t.Errorf("payload field missing: %s", data)
	}
}

func TestEventMarshal_RoundTripsAsObject(t *testing.T) {
	ev := Event{
		TS:        time.Now(),
		SessionID: "s1",
		Component: ComponentVoicePipeline,
		EventType: TypeLLMResponse,
		Severity:  SeverityInfo,
		PII:       NoPII(),
		Payload:   map[string]any{"latency_ms": 1250},
	}

	data, err := json.Marshal(ev)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	var decoded map[string]any
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if decoded["event_type"] != "llm.response" {
		t.Errorf("event_type = %v, want llm.response", decoded["event_type"])
	}
	if decoded["latency_ms"] != float64(1250) {
		t.Errorf("latency_ms = %v, want 1250", decoded["latency_ms"])
	}
}

func TestComponentIsValid(t *testing.T) {
	for _, c := range []Component{ComponentControlPlane, ComponentVoicePipeline, ComponentAdapter, ComponentActionRunner} {
		if !c.IsValid() {
			t.Errorf("IsValid(%q) = false, want true", c)
		}
	}
	if Component("mixer").IsValid() {
		t.Error("IsValid(mixer) = true, want false")
	}
}

func TestSeverityIsValid(t *testing.T) {
	for _, s := range []Severity{SeverityDebug, SeverityInfo, SeverityWarn, SeverityError} {
		if !s.IsValid() {
			t.Errorf("IsValid(%q) = false, want true", s)
		}
	}
	if Severity("fatal").IsValid() {
		t.Error("IsValid(fatal) = true, want false")
	}
}

func TestNoPII(t *testing.T) {
	pii := NoPII()
	if pii.ContainsPII {
		t.Error("ContainsPII = true, want false")
	}
	if pii.Handling != "none" {
		t.Errorf("Handling = %q, want none", pii.Handling)
	}
	if pii.Fields == nil || len(pii.Fields) != 0 {
		t.Errorf("Fields = %v, want empty slice", pii.Fields)
	}
}

func TestRedactedPII(t *testing.T) {
	pii := RedactedPII("detail")
	if !pii.ContainsPII {
		t.Error("ContainsPII = false, want true")
	}
	if pii.Handling != "redacted" {
		t.Errorf("Handling = %q, want redacted", pii.Handling)
	}
	if len(pii.Fields) != 1 || pii.Fields[0] != "detail" {
		t.Errorf("Fields = %v, want [detail]", pii.Fields)
	}
}
