package event

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
	"time"
)

func latencyEvent() Event {
	return Event{
		TS:            time.Date(2026, 1, 2, 15, 4, 5, 0, time.UTC),
		SessionID:     "sess-1",
		Component:     ComponentVoicePipeline,
		EventType:     TypeLLMResponse,
		Severity:      SeverityInfo,
		CorrelationID: "turn_1",
		PII:           NoPII(),
		Payload:       map[string]any{"latency_ms": 1250},
	}
}

func TestConsoleSink_PlainOutputIsValidJSON(t *testing.T) {
	var buf bytes.Buffer
	sink := NewConsoleSinkColor(&buf, false)

	sink.Write(latencyEvent())

	line := strings.TrimSuffix(buf.String(), "\n")
	var decoded map[string]any
	if err := json.Unmarshal([]byte(line), &decoded); err != nil {
		t.Fatalf("output is not valid JSON: %v\n%s", err, line)
	}
	if decoded["latency_ms"] != float64(1250) {
		t.Errorf("latency_ms = %v, want plain 1250", decoded["latency_ms"])
	}
	if strings.Contains(line, "\x1b[") {
		t.Errorf("plain output contains ANSI escapes: %q", line)
	}
}

func TestConsoleSink_ColorRendersLatency(t *testing.T) {
	var buf bytes.Buffer
	sink := NewConsoleSinkColor(&buf, true)

	sink.Write(latencyEvent())

	out := buf.String()
	want := `"latency_ms":` + ansiOrange + "1250 ms" + ansiReset
	if !strings.Contains(out, want) {
		t.Errorf("colored output = %q, want it to contain %q", out, want)
	}
}

func TestConsoleSink_ColorLeavesOtherFieldsAlone(t *testing.T) {
	var buf bytes.Buffer
	sink := NewConsoleSinkColor(&buf, true)

	ev := latencyEvent()
	ev.Payload = map[string]any{"duration_ms": 900, "transcript_length": 12}
	sink.Write(ev)

	if strings.Contains(buf.String(), "\x1b[") {
		t.Errorf("output colored without latency_ms present: %q", buf.String())
	}
}

func TestConsoleSink_OneLinePerEvent(t *testing.T) {
	var buf bytes.Buffer
	sink := NewConsoleSinkColor(&buf, false)

	sink.Write(latencyEvent())
	sink.Write(latencyEvent())

	lines := strings.Split(strings.TrimSuffix(buf.String(), "\n"), "\n")
	if len(lines) != 2 {
		t.Errorf("got %d lines, want 2", len(lines))
	}
}

func TestColorEnabled(t *testing.T) {
	var buf bytes.Buffer

	t.Setenv("NO_COLOR", "")
	t.Setenv("FORCE_COLOR", "")
	if colorEnabled(&buf) {
		t.Error("colorEnabled = true for non-terminal writer")
	}

	t.Setenv("FORCE_COLOR", "1")
	if !colorEnabled(&buf) {
		t.Error("colorEnabled = false with FORCE_COLOR=1")
	}

	// NO_COLOR wins over FORCE_COLOR.
	t.Setenv("NO_COLOR", "true")
	if colorEnabled(&buf) {
		t.Error("colorEnabled = true with NO_COLOR set")
	}
}

func TestEnvTruthy(t *testing.T) {
	tests := []struct {
		value string
		want  bool
	}{
		{"1", true},
		{"true", true},
		{"TRUE", true},
		{"yes", true},
		{" yes ", true},
		{"0", false},
		{"no", false},
		{"", false},
	}

	for _, tt := range tests {
		t.Setenv("VOXCTL_TEST_TRUTHY", tt.value)
		if got := envTruthy("VOXCTL_TEST_TRUTHY"); got != tt.want {
			t.Errorf("envTruthy(%q) = %v, want %v", tt.value, got, tt.want)
		}
	}
}
