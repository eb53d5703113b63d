package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/voxctl/voxctl/internal/config"
	"github.com/voxctl/voxctl/internal/event"
	"github.com/voxctl/voxctl/internal/session"
	"github.com/voxctl/voxctl/internal/webhook"
)

const (
	testAPIKey    = "test-key"
	testAPISecret = "test-secret"
)

// fakeRooms records DeleteRoom calls and fails with a scripted error.
type fakeRooms struct {
	mu    sync.Mutex
	calls []string
	err   error
}

func (f *fakeRooms) DeleteRoom(ctx context.Context, room string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, room)
	return f.err
}

func (f *fakeRooms) deleted() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

type testServer struct {
	srv     *Server
	mgr     *session.Manager
	store   *event.Store
	emitter *event.Emitter
	rooms   *fakeRooms
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	mgr := session.NewManager()
	store := event.NewStore(1000)
	emitter := event.NewEmitter(event.ComponentControlPlane, nil, store)
	rooms := &fakeRooms{}

	cfg := &config.Config{
		HTTPPort:        8000,
		RateLimitPerMin: 600,
	}

	srv := NewServer(cfg, Deps{
		Manager:  mgr,
		Store:    store,
		Emitter:  emitter,
		Verifier: webhook.NewVerifier(testAPIKey, testAPISecret),
		Ingester: webhook.NewIngester(mgr, emitter),
		Rooms:    rooms,
	})
	t.Cleanup(srv.Close)

	return &testServer{srv: srv, mgr: mgr, store: store, emitter: emitter, rooms: rooms}
}

func (ts *testServer) get(t *testing.T, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rr := httptest.NewRecorder()
	ts.srv.ServeHTTP(rr, req)
	return rr
}

func (ts *testServer) post(t *testing.T, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	rr := httptest.NewRecorder()
	ts.srv.ServeHTTP(rr, req)
	return rr
}

// postWebhook signs the body the way the provider does and delivers it.
func (ts *testServer) postWebhook(t *testing.T, body string) *httptest.ResponseRecorder {
	t.Helper()
	token, err := webhook.Sign(testAPIKey, testAPISecret, []byte(body))
	if err != nil {
		t.Fatalf("signing webhook body: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader(body))
	req.Header.Set("Authorization", token)
	rr := httptest.NewRecorder()
	ts.srv.ServeHTTP(rr, req)
	return rr
}

func decodeObject(t *testing.T, rr *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var m map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &m); err != nil {
		t.Fatalf("parsing response body %q: %v", rr.Body.String(), err)
	}
	return m
}

func decodeArray(t *testing.T, rr *httptest.ResponseRecorder) []map[string]any {
	t.Helper()
	var a []map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &a); err != nil {
		t.Fatalf("parsing response body %q: %v", rr.Body.String(), err)
	}
	return a
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t)

	rr := ts.get(t, "/health")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}

	body := decodeObject(t, rr)
	if body["status"] != "ok" {
		t.Fatalf("expected status ok, got %v", body["status"])
	}
	if body["component"] != "control_plane" {
		t.Fatalf("expected component control_plane, got %v", body["component"])
	}
}

func TestWebhookMissingAuthorization(t *testing.T) {
	ts := newTestServer(t)

	rr := ts.post(t, "/webhook", `{"event":"room_started","room":{"name":"call-abc"}}`)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rr.Code)
	}
	if body := decodeObject(t, rr); body["detail"] != "Missing Authorization header" {
		t.Fatalf("unexpected detail: %v", body["detail"])
	}

	if ts.mgr.Count() != 0 {
		t.Fatal("unauthenticated delivery must not touch session state")
	}
}

func TestWebhookInvalidSignature(t *testing.T) {
	ts := newTestServer(t)

	body := `{"event":"room_started","room":{"name":"call-abc"}}`
	token, err := webhook.Sign(testAPIKey, "wrong-secret", []byte(body))
	if err != nil {
		t.Fatalf("signing webhook body: %v", err)
	}

	req := httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader(body))
	req.Header.Set("Authorization", token)
	rr := httptest.NewRecorder()
	ts.srv.ServeHTTP(rr, req)

	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rr.Code)
	}
	if resp := decodeObject(t, rr); resp["detail"] != "Invalid webhook signature" {
		t.Fatalf("unexpected detail: %v", resp["detail"])
	}

	if ts.mgr.Count() != 0 {
		t.Fatal("forged delivery must not touch session state")
	}
}

func TestWebhookInvalidPayload(t *testing.T) {
	ts := newTestServer(t)

	rr := ts.postWebhook(t, "not json at all")
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
	if body := decodeObject(t, rr); body["detail"] != "Invalid webhook payload" {
		t.Fatalf("unexpected detail: %v", body["detail"])
	}
}

func TestWebhookDeliveryAccepted(t *testing.T) {
	ts := newTestServer(t)

	rr := ts.postWebhook(t, `{"event":"room_started","room":{"name":"call-abc","sid":"RM_1"}}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if body := decodeObject(t, rr); body["status"] != "ok" {
		t.Fatalf("expected status ok, got %v", body["status"])
	}

	sess, ok := ts.mgr.GetByRoom("call-abc")
	if !ok {
		t.Fatal("expected a session for room call-abc")
	}
	if sess.Direction != session.DirectionInbound {
		t.Fatalf("expected inbound session, got %s", sess.Direction)
	}
}

// TestInboundCallOverHTTP drives a full inbound call through the webhook
// endpoint and checks the resulting session and event stream through the
// control surface.
func TestInboundCallOverHTTP(t *testing.T) {
	ts := newTestServer(t)

	deliveries := []string{
		`{"event":"room_started","room":{"name":"call-abc","sid":"RM_1"}}`,
		`{"event":"participant_joined","room":{"name":"call-abc"},"participant":{"sid":"PA_1","identity":"sip:+31600000001","metadata":"{\"phone_number\":\"+31600000001\"}"}}`,
		`{"event":"participant_left","room":{"name":"call-abc"},"participant":{"sid":"PA_1"}}`,
	}
	for _, body := range deliveries {
		if rr := ts.postWebhook(t, body); rr.Code != http.StatusOK {
			t.Fatalf("delivery %s: expected 200, got %d", body, rr.Code)
		}
	}

	sess, ok := ts.mgr.GetByRoom("call-abc")
	if !ok {
		t.Fatal("expected a session for room call-abc")
	}

	rr := ts.get(t, "/control/sessions/"+sess.ID)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	detail := decodeObject(t, rr)
	if detail["state"] != "ended" {
		t.Fatalf("expected state ended, got %v", detail["state"])
	}
	if detail["direction"] != "inbound" {
		t.Fatalf("expected direction inbound, got %v", detail["direction"])
	}
	if detail["caller_number"] != "+31600000001" {
		t.Fatalf("expected caller number, got %v", detail["caller_number"])
	}
	if detail["end_reason"] != "participant_left" {
		t.Fatalf("expected end_reason participant_left, got %v", detail["end_reason"])
	}
	if detail["livekit_room"] != "call-abc" {
		t.Fatalf("expected livekit_room call-abc, got %v", detail["livekit_room"])
	}
	if detail["livekit_participant"] != "PA_1" {
		t.Fatalf("expected livekit_participant PA_1, got %v", detail["livekit_participant"])
	}
	if detail["ended_at"] == nil {
		t.Fatal("expected ended_at to be set")
	}

	rr = ts.get(t, "/control/sessions/"+sess.ID+"/events")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	resp := decodeObject(t, rr)
	events, ok := resp["events"].([]any)
	if !ok {
		t.Fatalf("expected events array, got %T", resp["events"])
	}

	var types []string
	for _, raw := range events {
		ev := raw.(map[string]any)
		types = append(types, ev["event_type"].(string))
	}
	want := []string{
		"livekit.room.created",
		"call.started",
		"session.state_changed",
		"call.answered",
		"livekit.participant.joined",
		"livekit.participant.left",
		"call.ended",
	}
	if strings.Join(types, ",") != strings.Join(want, ",") {
		t.Fatalf("unexpected event order:\n got %v\nwant %v", types, want)
	}
}
