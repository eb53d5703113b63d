package pipeline

import (
	"encoding/json"
	"strings"
)

// DispatchContext is the identity and routing information resolved from
// a job dispatch: who this call is (session id) and which scenario flow
// should answer it.
type DispatchContext struct {
	SessionID   string
	Flow        string
	MetadataRaw string
}

// ParseJobMetadata parses the freeform job metadata string. The
// provider recommends JSON but does not enforce it; anything that is
// not a JSON object yields an empty map.
func ParseJobMetadata(metadata string) map[string]any {
	if metadata == "" {
		return map[string]any{}
	}
	var parsed map[string]any
	if err := json.Unmarshal([]byte(metadata), &parsed); err != nil || parsed == nil {
		return map[string]any{}
	}
	return parsed
}

// Resolve builds the dispatch context for one job. The session id is
// taken from the job metadata when present, then from the participant
// attributes, and falls back to the room name, which correlates well
// across systems because inbound rooms are named after the session.
func Resolve(roomName, jobMetadata string, participantAttributes map[string]string) DispatchContext {
	md := ParseJobMetadata(jobMetadata)

	sessionID := stringField(md, "session_id")
	if sessionID == "" {
		sessionID = strings.TrimSpace(participantAttributes["session_id"])
	}
	if sessionID == "" {
		sessionID = roomName
	}
	if sessionID == "" {
		sessionID = "unknown"
	}

	return DispatchContext{
		SessionID:   sessionID,
		Flow:        stringField(md, "flow"),
		MetadataRaw: jobMetadata,
	}
}

// stringField returns the trimmed string at key, or "" when the value
// is missing or not a string.
func stringField(md map[string]any, key string) string {
	if v, ok := md[key].(string); ok {
		return strings.TrimSpace(v)
	}
	return ""
}
