package api

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/voxctl/voxctl/internal/event"
	"github.com/voxctl/voxctl/internal/session"
	"github.com/voxctl/voxctl/internal/telephony"
)

// maxEventLimit caps the per-query event count.
const maxEventLimit = 1000

// hangupRequest is the body for POST /control/call/hangup. For inbound
// calls the session id doubles as the provider room name.
type hangupRequest struct {
	SessionID string `json:"session_id"`
}

// sessionSummary is the JSON shape returned by the session list.
type sessionSummary struct {
	SessionID string  `json:"session_id"`
	State     string  `json:"state"`
	Direction string  `json:"direction"`
	CreatedAt string  `json:"created_at"`
	EndedAt   *string `json:"ended_at"`
	EndReason *string `json:"end_reason"`
	Room      *string `json:"livekit_room"`
}

// sessionDetail extends the summary with the participant, the phone
// numbers and the per-call config.
type sessionDetail struct {
	sessionSummary
	Participant  *string        `json:"livekit_participant"`
	CallerNumber *string        `json:"caller_number"`
	CalleeNumber *string        `json:"callee_number"`
	Config       map[string]any `json:"config"`
}

// sessionEventsResponse is the shape returned by the per-session event
// query.
type sessionEventsResponse struct {
	SessionID string        `json:"session_id"`
	Events    []event.Event `json:"events"`
	Count     int           `json:"count"`
}

func toSessionSummary(s session.Session) sessionSummary {
	out := sessionSummary{
		SessionID: s.ID,
		State:     string(s.State),
		Direction: string(s.Direction),
		CreatedAt: s.CreatedAt.Format(time.RFC3339),
		EndReason: optional(s.EndReason),
		Room:      optional(s.Room),
	}
	if !s.EndedAt.IsZero() {
		t := s.EndedAt.Format(time.RFC3339)
		out.EndedAt = &t
	}
	return out
}

func toSessionDetail(s session.Session) sessionDetail {
	cfg := s.Config
	if cfg == nil {
		cfg = map[string]any{}
	}
	return sessionDetail{
		sessionSummary: toSessionSummary(s),
		Participant:    optional(s.Participant),
		CallerNumber:   optional(s.CallerNumber),
		CalleeNumber:   optional(s.CalleeNumber),
		Config:         cfg,
	}
}

// optional maps the empty string to JSON null.
func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func newCorrelationID() string {
	return fmt.Sprintf("cmd_%d", time.Now().UnixMilli())
}

// handleHangup ends a call for all participants by deleting the provider
// room named by the session id. Both outcomes are recorded as
// control.command_applied events; the HTTP body stays generic.
func (s *Server) handleHangup(w http.ResponseWriter, r *http.Request) {
	var req hangupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeDetail(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.SessionID == "" {
		writeDetail(w, http.StatusBadRequest, "session_id is required")
		return
	}

	correlationID := newCorrelationID()

	s.deps.Emitter.Emit(event.TypeCommandReceived, req.SessionID, event.SeverityInfo,
		map[string]any{"command": "call.hangup"},
		event.WithCorrelationID(correlationID))

	if err := s.deps.Rooms.DeleteRoom(r.Context(), req.SessionID); err != nil {
		s.deps.Emitter.Emit(event.TypeCommandApplied, req.SessionID, event.SeverityError,
			map[string]any{
				"command":     "call.hangup",
				"result":      "error",
				"error_class": telephony.ErrorClass(err),
			},
			event.WithCorrelationID(correlationID))

		slog.Error("hangup: delete room failed",
			"session_id", req.SessionID,
			"correlation_id", correlationID,
			"error", err,
		)
		writeDetail(w, http.StatusBadGateway, "hangup_failed")
		return
	}

	s.deps.Emitter.Emit(event.TypeCommandApplied, req.SessionID, event.SeverityInfo,
		map[string]any{"command": "call.hangup", "result": "ok"},
		event.WithCorrelationID(correlationID))

	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleListSessions returns session summaries with optional state and
// direction filters.
func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	var state session.State
	if raw := q.Get("state"); raw != "" {
		parsed, err := session.ParseState(strings.ToLower(raw))
		if err != nil {
			writeDetail(w, http.StatusBadRequest, "Invalid state: "+raw)
			return
		}
		state = parsed
	}

	var direction session.Direction
	if raw := q.Get("direction"); raw != "" {
		parsed, err := session.ParseDirection(raw)
		if err != nil {
			writeDetail(w, http.StatusBadRequest, "Invalid direction: "+raw)
			return
		}
		direction = parsed
	}

	sessions, err := s.deps.Manager.List(state, direction)
	if err != nil {
		slog.Error("list sessions: query failed", "error", err)
		writeDetail(w, http.StatusInternalServerError, "internal server error")
		return
	}

	summaries := make([]sessionSummary, len(sessions))
	for i, sess := range sessions {
		summaries[i] = toSessionSummary(sess)
	}

	writeJSON(w, http.StatusOK, summaries)
}

// handleGetSession returns full session details by id.
func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.deps.Manager.Get(chi.URLParam(r, "sessionID"))
	if !ok {
		writeDetail(w, http.StatusNotFound, "Session not found")
		return
	}

	writeJSON(w, http.StatusOK, toSessionDetail(sess))
}

// handleSessionEvents returns the stored events for one session, oldest
// first, with optional type, component, time-range and limit filters.
func (s *Server) handleSessionEvents(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "sessionID")
	if _, ok := s.deps.Manager.Get(id); !ok {
		writeDetail(w, http.StatusNotFound, "Session not found")
		return
	}

	q := r.URL.Query()
	filter := event.Filter{
		SessionID: id,
		EventType: q.Get("event_type"),
		Component: event.Component(q.Get("component")),
	}

	if raw := q.Get("since"); raw != "" {
		t, err := parseTimestamp(raw)
		if err != nil {
			writeDetail(w, http.StatusBadRequest, "Invalid since timestamp: "+raw)
			return
		}
		filter.Since = t
	}
	if raw := q.Get("until"); raw != "" {
		t, err := parseTimestamp(raw)
		if err != nil {
			writeDetail(w, http.StatusBadRequest, "Invalid until timestamp: "+raw)
			return
		}
		filter.Until = t
	}
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > maxEventLimit {
			writeDetail(w, http.StatusBadRequest, "Invalid limit: "+raw)
			return
		}
		filter.Limit = n
	}

	events := s.deps.Store.Query(filter)

	writeJSON(w, http.StatusOK, sessionEventsResponse{
		SessionID: id,
		Events:    events,
		Count:     len(events),
	})
}
