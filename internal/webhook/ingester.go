package webhook

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/livekit/protocol/livekit"
	"google.golang.org/protobuf/encoding/protojson"

	"github.com/voxctl/voxctl/internal/event"
	"github.com/voxctl/voxctl/internal/session"
)

// ErrBadPayload marks deliveries whose body is not a webhook event.
var ErrBadPayload = errors.New("webhook: invalid payload")

var unmarshalOpts = protojson.UnmarshalOptions{DiscardUnknown: true}

// Ingester applies webhook deliveries to the session registry and emits
// the matching lifecycle events. Deliveries are processed one at a time
// so check-then-act sequences against the registry stay atomic.
type Ingester struct {
	mu      sync.Mutex
	mgr     *session.Manager
	emitter *event.Emitter
}

// NewIngester wires the ingester to the registry and the control-plane
// emitter.
func NewIngester(mgr *session.Manager, emitter *event.Emitter) *Ingester {
	return &Ingester{mgr: mgr, emitter: emitter}
}

// Ingest parses and dispatches one delivery. The caller is responsible
// for signature verification. Unknown event kinds are acknowledged
// without effect; deliveries missing the fields their kind requires are
// dropped silently.
func (in *Ingester) Ingest(body []byte) error {
	ev := &livekit.WebhookEvent{}
	if err := unmarshalOpts.Unmarshal(body, ev); err != nil {
		return fmt.Errorf("%w: %v", ErrBadPayload, err)
	}

	in.mu.Lock()
	defer in.mu.Unlock()

	switch ev.GetEvent() {
	case "room_started":
		in.roomStarted(ev.GetRoom().GetName())
	case "participant_joined":
		in.participantJoined(ev.GetRoom().GetName(), ev.GetParticipant())
	case "participant_left":
		in.participantLeft(ev.GetRoom().GetName(), ev.GetParticipant().GetSid())
	case "track_published":
		in.trackPublished(ev.GetRoom().GetName(), ev.GetParticipant().GetSid(), ev.GetTrack().GetSid())
	case "room_finished":
		in.roomFinished(ev.GetRoom().GetName())
	}
	return nil
}

// roomStarted registers a fresh inbound call, or only acknowledges the
// room when a session (an outbound pre-registration) already owns it.
func (in *Ingester) roomStarted(room string) {
	if room == "" {
		return
	}

	if sess, ok := in.mgr.GetByRoom(room); ok {
		in.emitter.RoomCreated(sess.ID, room)
		return
	}

	sess, err := in.mgr.Create(session.DirectionInbound, "", "", nil)
	if err != nil {
		return
	}
	if err := in.mgr.AssignRoom(sess.ID, room); err != nil {
		// Lost a race with an outbound pre-registration.
		if winner, ok := in.mgr.GetByRoom(room); ok {
			in.emitter.RoomCreated(winner.ID, room)
		}
		return
	}

	in.emitter.RoomCreated(sess.ID, room)
	in.emitter.CallStarted(sess.ID,
		event.CallInfo{Direction: string(session.DirectionInbound)},
		event.LiveKitRef{Room: room})
}

// participantJoined records the caller leg and answers the call. A join
// for a room without a session creates one, so a missed room_started does
// not lose the call.
func (in *Ingester) participantJoined(room string, p *livekit.ParticipantInfo) {
	sid := p.GetSid()
	if room == "" || sid == "" {
		return
	}

	sess, ok := in.mgr.GetByRoom(room)
	if !ok {
		created, err := in.mgr.Create(session.DirectionInbound, "", "", nil)
		if err != nil {
			return
		}
		if err := in.mgr.AssignRoom(created.ID, room); err != nil {
			return
		}
		in.emitter.CallStarted(created.ID,
			event.CallInfo{Direction: string(session.DirectionInbound)},
			event.LiveKitRef{Room: room})
		sess = created
	}

	if callerIdentity(p.GetIdentity()) && sess.Participant == "" {
		claimed, err := in.mgr.ClaimParticipant(sess.ID, sid)
		if err == nil && claimed {
			if number := phoneNumber(p.GetMetadata()); number != "" {
				_ = in.mgr.SetCallerNumber(sess.ID, number)
			}
			if sess.State == session.StateInboundRinging {
				if from, err := in.mgr.Transition(sess.ID, session.StateConnected); err == nil {
					in.emitter.SessionStateChanged(sess.ID, string(from), string(session.StateConnected))
					in.emitter.CallAnswered(sess.ID, event.LiveKitRef{Room: room, Participant: sid})
				}
			}
		}
	}

	in.emitter.ParticipantJoined(sess.ID, room, sid)
}

// participantLeft ends the call when the departing participant is the
// recorded caller.
func (in *Ingester) participantLeft(room, sid string) {
	if room == "" || sid == "" {
		return
	}

	sess, ok := in.mgr.GetByRoom(room)
	if !ok {
		return
	}

	in.emitter.ParticipantLeft(sess.ID, room, sid)

	if sess.Participant == sid && !sess.Terminal() {
		if err := in.mgr.End(sess.ID, session.ReasonParticipantLeft); err == nil {
			in.emitter.CallEnded(sess.ID, session.ReasonParticipantLeft,
				event.LiveKitRef{Room: room, Participant: sid})
		}
	}
}

// trackPublished records media becoming available. No state change.
func (in *Ingester) trackPublished(room, participantSid, trackSid string) {
	if room == "" {
		return
	}

	sess, ok := in.mgr.GetByRoom(room)
	if !ok {
		return
	}

	in.emitter.TrackPublished(sess.ID, event.LiveKitRef{
		Room:        room,
		Participant: participantSid,
		Track:       trackSid,
	})
}

// roomFinished ends the call. A finish for an already-ended session is a
// no-op, so replayed webhooks cannot restamp the call.
func (in *Ingester) roomFinished(room string) {
	if room == "" {
		return
	}

	sess, ok := in.mgr.GetByRoom(room)
	if !ok || sess.Terminal() {
		return
	}

	if err := in.mgr.End(sess.ID, session.ReasonRoomFinished); err == nil {
		in.emitter.CallEnded(sess.ID, session.ReasonRoomFinished, event.LiveKitRef{Room: room})
	}
}

// callerIdentity reports whether a participant identity looks like the
// phone-side leg. SIP participants carry a sip: prefix or a phone marker
// in their identity.
func callerIdentity(identity string) bool {
	return strings.HasPrefix(identity, "sip:") || strings.Contains(strings.ToLower(identity), "phone")
}

// phoneNumber pulls phone_number out of the participant metadata JSON.
// Malformed metadata yields nothing.
func phoneNumber(metadata string) string {
	if metadata == "" {
		return ""
	}
	var meta struct {
		PhoneNumber string `json:"phone_number"`
	}
	if err := json.Unmarshal([]byte(metadata), &meta); err != nil {
		return ""
	}
	return meta.PhoneNumber
}
