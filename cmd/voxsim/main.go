package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/livekit/protocol/livekit"
	"google.golang.org/protobuf/encoding/protojson"

	"github.com/voxctl/voxctl/internal/event"
	"github.com/voxctl/voxctl/internal/pipeline"
	"github.com/voxctl/voxctl/internal/webhook"
)

func main() {
	baseURL := flag.String("url", "http://127.0.0.1:8000", "control plane base URL")
	apiKey := flag.String("api-key", os.Getenv("LIVEKIT_API_KEY"), "API key used to sign webhook deliveries")
	apiSecret := flag.String("api-secret", os.Getenv("LIVEKIT_API_SECRET"), "API secret used to sign webhook deliveries")
	token := flag.String("token", os.Getenv("VOXCTL_CONTROL_AUTH_TOKEN"), "control API bearer token (empty when auth is disabled)")
	room := flag.String("room", "", "room name for the simulated call (default sim_<id>)")
	number := flag.String("number", "+31612345678", "caller number on the simulated call")
	delay := flag.Duration("delay", 300*time.Millisecond, "pause between webhook deliveries")
	conversation := flag.Bool("conversation", false, "run the local conversation timing demo instead of the webhook sequence")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
	slog.SetDefault(logger)

	if *conversation {
		runConversation(*baseURL, *token)
		return
	}

	if *apiKey == "" || *apiSecret == "" {
		fmt.Fprintln(os.Stderr, "error: -api-key and -api-secret (or LIVEKIT_API_KEY / LIVEKIT_API_SECRET) are required")
		os.Exit(1)
	}
	if *room == "" {
		*room = "sim_" + uuid.NewString()[:8]
	}

	sim := &simulator{
		client:    &http.Client{Timeout: 5 * time.Second},
		baseURL:   strings.TrimRight(*baseURL, "/"),
		apiKey:    *apiKey,
		apiSecret: *apiSecret,
		token:     *token,
	}

	if err := sim.runCall(*room, *number, *delay); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// simulator plays the telephony provider against a running control
// plane: it signs webhook deliveries the way the provider does and then
// reads the resulting session back through the control API.
type simulator struct {
	client    *http.Client
	baseURL   string
	apiKey    string
	apiSecret string
	token     string
}

// runCall delivers the webhook sequence of one inbound call and prints
// the session and events the control plane recorded for it.
func (s *simulator) runCall(room, number string, delay time.Duration) error {
	roomInfo := &livekit.Room{Name: room, Sid: "RM_" + uuid.NewString()[:12]}
	caller := &livekit.ParticipantInfo{
		Sid:      "PA_" + uuid.NewString()[:12],
		Identity: "sip:" + number,
		Metadata: fmt.Sprintf(`{"phone_number": %q}`, number),
	}
	track := &livekit.TrackInfo{Sid: "TR_" + uuid.NewString()[:12]}

	steps := []*livekit.WebhookEvent{
		{Event: "room_started", Room: roomInfo},
		{Event: "participant_joined", Room: roomInfo, Participant: caller},
		{Event: "track_published", Room: roomInfo, Participant: caller, Track: track},
		{Event: "participant_left", Room: roomInfo, Participant: caller},
		{Event: "room_finished", Room: roomInfo},
	}

	fmt.Printf("simulating inbound call in room %s from %s\n", room, number)
	for i, ev := range steps {
		if i > 0 {
			time.Sleep(delay)
		}
		if err := s.deliver(ev); err != nil {
			return err
		}
		fmt.Printf("  delivered %s\n", ev.Event)
	}

	sess, err := s.findSession(room)
	if err != nil {
		return err
	}
	fmt.Printf("\nsession %s: state=%s", sess.SessionID, sess.State)
	if sess.EndReason != nil {
		fmt.Printf(" end_reason=%s", *sess.EndReason)
	}
	fmt.Println()

	events, err := s.sessionEvents(sess.SessionID)
	if err != nil {
		return err
	}
	fmt.Printf("recorded events (%d):\n", len(events))
	for _, ev := range events {
		fmt.Printf("  %s  %-28s %s\n", ev.TS.Format("15:04:05.000"), ev.EventType, ev.Component)
	}
	return nil
}

// deliver signs one webhook body and POSTs it.
func (s *simulator) deliver(ev *livekit.WebhookEvent) error {
	ev.Id = uuid.NewString()
	ev.CreatedAt = time.Now().Unix()

	body, err := protojson.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshaling %s: %w", ev.Event, err)
	}
	authToken, err := webhook.Sign(s.apiKey, s.apiSecret, body)
	if err != nil {
		return fmt.Errorf("signing %s: %w", ev.Event, err)
	}

	req, err := http.NewRequest(http.MethodPost, s.baseURL+"/webhook", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/webhook+json")
	req.Header.Set("Authorization", authToken)

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("delivering %s: %w", ev.Event, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("delivering %s: control plane answered %d", ev.Event, resp.StatusCode)
	}
	return nil
}

// control-plane response shapes, trimmed to what the simulator reads.
type sessionSummary struct {
	SessionID string  `json:"session_id"`
	State     string  `json:"state"`
	EndReason *string `json:"end_reason"`
	Room      *string `json:"livekit_room"`
}

type sessionEventsResponse struct {
	Events []event.Event `json:"events"`
}

// findSession locates the session the control plane created for room.
func (s *simulator) findSession(room string) (sessionSummary, error) {
	var sessions []sessionSummary
	if err := s.getJSON("/control/sessions", &sessions); err != nil {
		return sessionSummary{}, err
	}
	for _, sess := range sessions {
		if sess.Room != nil && *sess.Room == room {
			return sess, nil
		}
	}
	return sessionSummary{}, fmt.Errorf("no session found for room %s", room)
}

// sessionEvents fetches the recorded event stream of one session.
func (s *simulator) sessionEvents(sessionID string) ([]event.Event, error) {
	var resp sessionEventsResponse
	if err := s.getJSON("/control/sessions/"+sessionID+"/events", &resp); err != nil {
		return nil, err
	}
	return resp.Events, nil
}

func (s *simulator) getJSON(path string, out any) error {
	req, err := http.NewRequest(http.MethodGet, s.baseURL+path, nil)
	if err != nil {
		return err
	}
	if s.token != "" {
		req.Header.Set("Authorization", "Bearer "+s.token)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("GET %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("GET %s: control plane answered %d", path, resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// printingSession is the demo stand-in for a live agent session.
type printingSession struct{}

func (printingSession) Say(_ context.Context, text string, _ bool) error {
	fmt.Printf("[agent] %s\n", text)
	return nil
}

func (printingSession) Close(context.Context) error {
	fmt.Println("[agent] session closed")
	return nil
}

// runConversation drives a scripted conversation through the observer
// with real (shortened) timers: a greeting, a slow turn that triggers
// the delay acknowledgement, a barge-in, and finally enough silence to
// reprompt and close. Events stream to stdout as they happen.
func runConversation(baseURL, token string) {
	store := event.NewStore(200)
	sink := event.NewConsoleSink(os.Stdout)
	emitter := event.NewEmitter(event.ComponentVoicePipeline, sink, store)

	control := pipeline.NewControlClient(baseURL, token)
	obs := pipeline.NewObserver("sess_sim", emitter, printingSession{},
		pipeline.WithTiming(pipeline.Timing{
			ProcessingDelayAck:  700 * time.Millisecond,
			UserSilenceReprompt: 2 * time.Second,
			UserSilenceClose:    4 * time.Second,
		}),
		pipeline.WithHangup(control.RequestHangup),
	)
	defer obs.Close()

	ctx := context.Background()
	scenario := pipeline.LoadScenario("", "default")
	obs.Greet(ctx, scenario.Greeting())

	// One turn where the agent takes long enough for the delay ack.
	obs.UserInputTranscribed("Wat zijn de openingstijden?", "nl")
	time.Sleep(900 * time.Millisecond)
	obs.AgentStartedSpeaking()

	// The caller interrupts mid-answer.
	time.Sleep(400 * time.Millisecond)
	obs.UserStartedSpeaking()
	time.Sleep(100 * time.Millisecond)
	obs.AgentStoppedSpeaking("barge_in")
	obs.UserStoppedSpeaking()

	// A quick final turn, then silence until the observer closes the call.
	obs.UserInputTranscribed("Dank je, dat was alles.", "nl")
	time.Sleep(200 * time.Millisecond)
	obs.AgentStartedSpeaking()
	time.Sleep(300 * time.Millisecond)
	obs.AgentStoppedSpeaking("")

	time.Sleep(5 * time.Second)
	fmt.Printf("conversation finished, %d events recorded\n", store.Len())
}
