package fault

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/voxctl/voxctl/internal/event"
)

type captureSink struct {
	events []event.Event
}

func (c *captureSink) Write(ev event.Event) {
	c.events = append(c.events, ev)
}

func TestClassify(t *testing.T) {
	tests := []struct {
		msg  string
		want Category
	}{
		{"429 Too Many Requests", CategoryRateLimited},
		{"486 Busy Here", CategoryBusy},
		{"random nonsense", CategoryUnknownError},
		{"401 Unauthorized", CategoryAuthFailed},
		{"authentication failed", CategoryAuthFailed},
		{"trunk misconfigured", CategoryMisconfigured},
		{"network unreachable", CategoryNetworkError},
		{"connection refused", CategoryNetworkError},
		{"dial timeout after 5s", CategoryNetworkError},
		{"480 Temporarily Unavailable", CategoryNoAnswer},
		{"no answer from remote", CategoryNoAnswer},
		{"noanswer", CategoryNoAnswer},
		{"603 Decline", CategoryRejected},
		{"call rejected by peer", CategoryRejected},
		{"throttled by upstream", CategoryRateLimited},
		{"503 Service Unavailable", CategoryCapacityLimited},
		{"at capacity", CategoryCapacityLimited},
		{"", CategoryUnknownError},
		// Earlier rules win: "connection" is matched before "rejected".
		{"connection rejected", CategoryNetworkError},
		{"auth timeout", CategoryAuthFailed},
	}

	for _, tt := range tests {
		t.Run(tt.msg, func(t *testing.T) {
			got := Classify(errors.New(tt.msg))
			if got != tt.want {
				t.Errorf("Classify(%q) = %q, want %q", tt.msg, got, tt.want)
			}
		})
	}
}

func TestClassify_NilError(t *testing.T) {
	if got := Classify(nil); got != CategoryUnknownError {
		t.Errorf("Classify(nil) = %q, want unknown_error", got)
	}
}

func TestDetail_RedactsCredentialText(t *testing.T) {
	tests := []struct {
		msg      string
		redacted bool
	}{
		{"API secret abc123xyz leaked", true},
		{"invalid password for trunk", true},
		{"api key abc123xyz invalid", true},
		{"SECRET exposed", true},
		{"connection refused", false},
		{"486 Busy Here", false},
	}

	for _, tt := range tests {
		got := Detail(errors.New(tt.msg))
		if tt.redacted && got != redactedDetail {
			t.Errorf("Detail(%q) = %q, want full redaction", tt.msg, got)
		}
		if !tt.redacted && got != tt.msg {
			t.Errorf("Detail(%q) = %q, want passthrough", tt.msg, got)
		}
	}
}

func TestHandle_EmitsProviderEvent(t *testing.T) {
	sink := &captureSink{}
	em := event.NewEmitter(event.ComponentControlPlane, sink, nil)
	h := NewHandler(em)

	got := h.Handle("sess-1", errors.New("429 Too Many Requests"), "outbound", "livekit",
		event.LiveKitRef{Room: "call-abc"})

	if got != CategoryRateLimited {
		t.Fatalf("Handle = %q, want rate_limited", got)
	}
	if len(sink.events) != 1 {
		t.Fatalf("emitted %d events, want 1", len(sink.events))
	}

	ev := sink.events[0]
	if ev.EventType != event.TypeProviderEvent {
		t.Errorf("EventType = %q", ev.EventType)
	}
	if ev.Severity != event.SeverityWarn {
		t.Errorf("Severity = %q, want warn (category names a limit)", ev.Severity)
	}
	if ev.Payload["category"] != "provider.rate_limited" {
		t.Errorf("category = %v", ev.Payload["category"])
	}
	if ev.Payload["detail"] != "429 Too Many Requests" {
		t.Errorf("detail = %v", ev.Payload["detail"])
	}
}

func TestHandle_SecretNeverReachesSerializedEvent(t *testing.T) {
	sink := &captureSink{}
	em := event.NewEmitter(event.ComponentControlPlane, sink, nil)
	h := NewHandler(em)

	h.Handle("sess-1", errors.New("API secret abc123xyz leaked"), "inbound", "", event.LiveKitRef{})

	data, err := json.Marshal(sink.events[0])
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	if strings.Contains(string(data), "abc123xyz") {
		t.Errorf("serialized event leaks the secret: %s", data)
	}
	if !strings.Contains(string(data), redactedDetail) {
		t.Errorf("serialized event missing redaction marker: %s", data)
	}
}

func TestHandle_NeverFails(t *testing.T) {
	sink := &captureSink{}
	em := event.NewEmitter(event.ComponentControlPlane, sink, nil)
	h := NewHandler(em)

	if got := h.Handle("sess-1", nil, "inbound", "", event.LiveKitRef{}); got != CategoryUnknownError {
		t.Errorf("Handle(nil) = %q, want unknown_error", got)
	}
}

func TestUserMessage(t *testing.T) {
	tests := []struct {
		category Category
		want     string
	}{
		{CategoryBusy, "Het nummer is in gesprek. Zullen we later nog eens proberen?"},
		{CategoryNoAnswer, "Er wordt niet opgenomen. Wil je het later opnieuw proberen?"},
		{CategoryRateLimited, "Momentje, het is even druk. Probeer het zo nog eens."},
		{CategoryCapacityLimited, "Momentje, het is even druk. Probeer het zo nog eens."},
		{CategoryAuthFailed, "Sorry, het lukt nu even niet."},
		{CategoryMisconfigured, "Sorry, het lukt nu even niet."},
		{CategoryRejected, "Sorry, het lukt nu even niet."},
		{CategoryUnknownError, "Sorry, het lukt nu even niet."},
		{Category("unmapped"), "Sorry, het lukt nu even niet."},
	}

	for _, tt := range tests {
		if got := UserMessage(tt.category); got != tt.want {
			t.Errorf("UserMessage(%q) = %q, want %q", tt.category, got, tt.want)
		}
	}
}
