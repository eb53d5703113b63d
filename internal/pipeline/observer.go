// Package pipeline implements the voice-side half of a call: the
// per-call observer that turns agent session signals into structured
// events and enforces the conversational timing rules, the dispatch
// context resolver, the scenario loader and the control-plane client
// used to hang up calls.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/voxctl/voxctl/internal/event"
	"github.com/voxctl/voxctl/internal/session"
)

// Fixed Dutch prompts spoken by the observer. These are part of the
// caller-facing product surface and must stay in sync with the scenario
// texts.
const (
	promptDelayAck        = "Momentje, ik denk even mee."
	promptReprompt        = "Ben je er nog?"
	promptSilenceClose    = "Oké, ik hoor even niks. Ik hang op. Fijne dag!"
	promptDurationWarning = "De maximale gesprekduur is bijna bereikt, het gesprek wordt over 15 seconde afgebroken"
)

// Message keys identify prompts in ux.* event payloads.
const (
	messageKeyDelayAck        = "delay_ack.thinking"
	messageKeyGreeting        = "greeting"
	messageKeyReprompt        = "silence.reprompt"
	messageKeySilenceClose    = "silence.close"
	messageKeyDurationWarning = "duration.warning"
)

// Timing holds the conversational thresholds for one call.
type Timing struct {
	// ProcessingDelayAck is how long the agent may stay silent after a
	// turn starts before the observer speaks a short acknowledgement.
	ProcessingDelayAck time.Duration

	// UserSilenceReprompt and UserSilenceClose bound user silence after
	// the agent finishes speaking: reprompt at the first threshold,
	// close the call at the second. When UserSilenceClose is not larger
	// than UserSilenceReprompt the observer skips the reprompt and
	// closes at UserSilenceClose.
	UserSilenceReprompt time.Duration
	UserSilenceClose    time.Duration

	// MaxCallDuration caps the whole call. Zero or negative disables
	// the guard.
	MaxCallDuration time.Duration
}

// DefaultTiming returns the production thresholds.
func DefaultTiming() Timing {
	return Timing{
		ProcessingDelayAck:  900 * time.Millisecond,
		UserSilenceReprompt: 7 * time.Second,
		UserSilenceClose:    14 * time.Second,
	}
}

// AgentSession is the narrow slice of the voice SDK session the observer
// drives. Say speaks a phrase over TTS; Close tears the session down.
// Implementations must not call back into the Observer.
type AgentSession interface {
	Say(ctx context.Context, text string, allowInterruptions bool) error
	Close(ctx context.Context) error
}

// HangupFunc asks the control plane to hang up a call. It reports
// whether the request was accepted; on false the observer falls back to
// closing the session directly.
type HangupFunc func(ctx context.Context, sessionID string) bool

// SleepFunc pauses for d or until ctx is cancelled, returning ctx.Err()
// when cancelled. Injected so timer tests run without real time.
type SleepFunc func(ctx context.Context, d time.Duration) error

func realSleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Observer tracks one live call. It translates agent session signals
// into events, owns the processing-delay, user-silence and max-duration
// timers, and requests hangup through the control plane when a call has
// to end.
//
// One mutex serialises signal handlers and timer bodies, so the observer
// behaves like the single-threaded event loop it replaces. Timers run as
// goroutines that sleep outside the lock and re-validate under it.
type Observer struct {
	sessionID string
	emitter   *event.Emitter
	session   AgentSession
	hangup    HangupFunc
	timing    Timing
	logger    *slog.Logger

	now   func() time.Time
	sleep SleepFunc

	mu     sync.Mutex
	closed bool

	// Turn state. turnOpen is true between turn start and the first
	// response audio of that turn.
	turnID       string
	turnOpen     bool
	ackSpoken    bool
	lastTurnMS   int64
	llmRequestAt time.Time

	ttsPlaying      bool
	ttsStartedAt    time.Time
	bargeInAt       time.Time
	userLastAudioAt time.Time

	processingCancel  context.CancelFunc
	userSilenceCancel context.CancelFunc
	durationCancel    context.CancelFunc
	durationArmed     bool

	wg sync.WaitGroup
}

// Option configures an Observer.
type Option func(*Observer)

// WithTiming overrides the conversational thresholds.
func WithTiming(t Timing) Option {
	return func(o *Observer) { o.timing = t }
}

// WithHangup sets the control-plane hangup request function.
func WithHangup(fn HangupFunc) Option {
	return func(o *Observer) { o.hangup = fn }
}

// WithNow overrides the timestamp source, for tests.
func WithNow(now func() time.Time) Option {
	return func(o *Observer) { o.now = now }
}

// WithSleep overrides the timer sleep function, for tests.
func WithSleep(sleep SleepFunc) Option {
	return func(o *Observer) { o.sleep = sleep }
}

// WithLogger sets the operational logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *Observer) { o.logger = l }
}

// NewObserver returns an observer for one call. The emitter may be nil,
// in which case events are discarded but timing behavior is unchanged.
func NewObserver(sessionID string, em *event.Emitter, sess AgentSession, opts ...Option) *Observer {
	o := &Observer{
		sessionID: sessionID,
		emitter:   em,
		session:   sess,
		timing:    DefaultTiming(),
		now:       time.Now,
		sleep:     realSleep,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(o)
	}
	o.logger = o.logger.With("session_id", sessionID)
	return o
}

// Greet speaks the opening phrase and arms the conversational safety
// nets. The user-silence timer is armed even when the greeting fails, so
// an undelivered greeting cannot leave a silent call open forever.
func (o *Observer) Greet(ctx context.Context, text string) {
	o.mu.Lock()
	if !o.closed {
		o.sayLocked(ctx, text, messageKeyGreeting)
	}
	o.mu.Unlock()

	o.ArmUserSilenceTimer()
	o.ArmMaxDurationGuard()
}

// UserInputTranscribed handles a final user transcript. It cancels the
// user-silence timer, emits stt.final and starts a turn when none is
// open yet.
func (o *Observer) UserInputTranscribed(text, language string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return
	}

	o.cancelUserSilenceLocked()

	trimmed := strings.TrimSpace(text)
	length := utf8.RuneCountInString(trimmed)
	o.logger.Debug("user transcript final", "transcript_length", length, "language", language)

	newTurn := !o.turnOpen
	if newTurn {
		o.openTurnLocked()
	}

	payload := map[string]any{"transcript_length": length}
	if language != "" {
		payload["language"] = language
	}
	opts := []event.EmitOption{event.WithCorrelationID(o.correlationLocked())}
	if trimmed != "" {
		payload["transcript_text"] = trimmed
		opts = append(opts, event.WithPII(event.TaggedPII("transcript_text")))
	}
	o.emitter.Emit(event.TypeSTTFinal, o.sessionID, event.SeverityInfo, payload, opts...)

	if newTurn {
		o.startTurnLocked(map[string]any{"transcript_length": length})
	}
}

// AgentStateChanged handles the agent state signal. A thinking state
// starts a turn when no final transcript did so first; speaking and
// listening are folded into the TTS lifecycle.
func (o *Observer) AgentStateChanged(state string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return
	}

	o.logger.Debug("agent state changed", "state", state)

	switch state {
	case "thinking":
		if !o.turnOpen {
			o.openTurnLocked()
			o.startTurnLocked(map[string]any{})
		}
	case "speaking":
		o.agentStartedSpeakingLocked()
	case "listening":
		if o.ttsPlaying {
			o.agentStoppedSpeakingLocked("")
		}
	}
}

// AgentStartedSpeaking handles the start of a TTS segment.
func (o *Observer) AgentStartedSpeaking() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return
	}
	o.agentStartedSpeakingLocked()
}

func (o *Observer) agentStartedSpeakingLocked() {
	if o.ttsPlaying {
		return
	}
	o.ttsPlaying = true

	// A speaking agent means the response arrived and the user gets a
	// fresh silence window once it finishes.
	o.cancelProcessingLocked()
	o.cancelUserSilenceLocked()

	corr := o.correlationLocked()
	if o.turnOpen {
		payload := map[string]any{}
		if !o.llmRequestAt.IsZero() {
			payload["latency_ms"] = o.now().Sub(o.llmRequestAt).Milliseconds()
		}
		o.emitter.Emit(event.TypeLLMResponse, o.sessionID, event.SeverityInfo, payload, event.WithCorrelationID(corr))
		o.turnOpen = false
	}

	o.ttsStartedAt = o.now()
	o.emitter.Emit(event.TypeTTSStarted, o.sessionID, event.SeverityInfo, nil, event.WithCorrelationID(corr))

	if !o.userLastAudioAt.IsZero() {
		o.logger.Debug("tts started",
			"turn_id", o.turnID,
			"latency_from_user_audio_ms", o.now().Sub(o.userLastAudioAt).Milliseconds(),
		)
	}
}

// AgentStoppedSpeaking handles the end of a TTS segment. An empty reason
// means the segment completed normally.
func (o *Observer) AgentStoppedSpeaking(reason string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return
	}
	o.agentStoppedSpeakingLocked(reason)
}

func (o *Observer) agentStoppedSpeakingLocked(reason string) {
	if !o.ttsPlaying {
		return
	}
	o.ttsPlaying = false

	cause := reason
	if cause == "" {
		cause = "completed"
	}

	payload := map[string]any{"cause": cause}
	if !o.ttsStartedAt.IsZero() {
		payload["latency_ms"] = o.now().Sub(o.ttsStartedAt).Milliseconds()
	}
	if cause == "barge_in" && !o.bargeInAt.IsZero() {
		payload["time_to_tts_stop_ms"] = o.now().Sub(o.bargeInAt).Milliseconds()
	}
	o.bargeInAt = time.Time{}

	o.emitter.Emit(event.TypeTTSStopped, o.sessionID, event.SeverityInfo, payload, event.WithCorrelationID(o.correlationLocked()))

	o.armUserSilenceLocked()
}

// UserStartedSpeaking handles the start of user audio. Speech during a
// playing TTS segment is a barge-in.
func (o *Observer) UserStartedSpeaking() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return
	}
	o.userStartedSpeakingLocked()
}

func (o *Observer) userStartedSpeakingLocked() {
	o.cancelUserSilenceLocked()

	if o.ttsPlaying {
		o.bargeInAt = o.now()
		o.logger.Info("barge-in detected", "turn_id", o.turnID)
		o.emitter.Emit(event.TypeBargeInDetected, o.sessionID, event.SeverityInfo, nil, event.WithCorrelationID(o.correlationLocked()))
	}
}

// UserStoppedSpeaking records the end of user audio.
func (o *Observer) UserStoppedSpeaking() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return
	}
	o.userLastAudioAt = o.now()
}

// UserStateChanged handles the VAD-driven user state signal and folds it
// into the speech lifecycle.
func (o *Observer) UserStateChanged(state string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return
	}

	o.emitter.Emit(event.TypeVADStateChanged, o.sessionID, event.SeverityDebug,
		map[string]any{"state": state}, event.WithCorrelationID(o.correlationLocked()))

	switch state {
	case "speaking":
		o.userStartedSpeakingLocked()
	case "listening", "away":
		o.userLastAudioAt = o.now()
	}
}

// ArmUserSilenceTimer arms the user-silence timer explicitly. The
// entrypoint calls this after the greeting attempt whether or not the
// greeting played, because telephony transports do not reliably signal
// agent_stopped_speaking for it.
func (o *Observer) ArmUserSilenceTimer() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return
	}
	o.armUserSilenceLocked()
}

// ArmMaxDurationGuard schedules the duration warning and the hard
// timeout. It is armed once per call, after the greeting; repeat calls
// are no-ops, as is a non-positive MaxCallDuration.
func (o *Observer) ArmMaxDurationGuard() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed || o.durationArmed || o.timing.MaxCallDuration <= 0 {
		return
	}
	o.durationArmed = true

	ctx, cancel := context.WithCancel(context.Background())
	o.durationCancel = cancel

	if warnAfter := o.timing.MaxCallDuration - 20*time.Second; warnAfter > 0 {
		o.wg.Add(1)
		go o.runDurationWarning(ctx, warnAfter)
	}
	o.wg.Add(1)
	go o.runDurationTimeout(ctx, o.timing.MaxCallDuration)
}

// Close cancels every timer and detaches the observer. It blocks until
// in-flight timer goroutines have drained and is safe to call more than
// once.
func (o *Observer) Close() {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return
	}
	o.closed = true
	o.cancelProcessingLocked()
	o.cancelUserSilenceLocked()
	if o.durationCancel != nil {
		o.durationCancel()
		o.durationCancel = nil
	}
	o.mu.Unlock()

	o.wg.Wait()
	o.logger.Debug("observer closed")
}

// openTurnLocked allocates the next turn id and resets per-turn state.
func (o *Observer) openTurnLocked() {
	ms := o.now().UnixMilli()
	if ms <= o.lastTurnMS {
		ms = o.lastTurnMS + 1
	}
	o.lastTurnMS = ms
	o.turnID = fmt.Sprintf("turn_%d", ms)
	o.turnOpen = true
	o.ackSpoken = false
}

// startTurnLocked emits the turn start pair and arms the processing
// timer. The caller already emitted stt.final when a transcript exists.
func (o *Observer) startTurnLocked(payload map[string]any) {
	corr := o.turnID
	o.emitter.Emit(event.TypeTurnStarted, o.sessionID, event.SeverityInfo, payload, event.WithCorrelationID(corr))
	o.emitter.Emit(event.TypeLLMRequest, o.sessionID, event.SeverityInfo, nil, event.WithCorrelationID(corr))
	o.llmRequestAt = o.now()

	o.logger.Debug("turn started", "turn_id", corr)

	o.armProcessingLocked(corr)
}

// correlationLocked is the correlation id for events emitted now: the
// current turn when one exists, the session otherwise.
func (o *Observer) correlationLocked() string {
	if o.turnID != "" {
		return o.turnID
	}
	return o.sessionID
}

func (o *Observer) armProcessingLocked(turnID string) {
	o.cancelProcessingLocked()
	if o.timing.ProcessingDelayAck < 0 {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	o.processingCancel = cancel
	o.wg.Add(1)
	go o.runProcessing(ctx, turnID)
}

func (o *Observer) cancelProcessingLocked() {
	if o.processingCancel != nil {
		o.processingCancel()
		o.processingCancel = nil
	}
}

// runProcessing speaks the delay acknowledgement when the agent takes
// too long to answer a turn.
func (o *Observer) runProcessing(ctx context.Context, turnID string) {
	defer o.wg.Done()

	if o.sleep(ctx, o.timing.ProcessingDelayAck) != nil {
		return
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	if ctx.Err() != nil || o.closed {
		return
	}
	if o.ttsPlaying || o.ackSpoken || o.turnID != turnID {
		return
	}
	o.ackSpoken = true

	o.emitter.Emit(event.TypeSilenceTimerFired, o.sessionID, event.SeverityInfo,
		map[string]any{"kind": "processing"}, event.WithCorrelationID(turnID))
	o.emitter.Emit(event.TypeUXDelayAcknowledged, o.sessionID, event.SeverityInfo,
		map[string]any{"message_key": messageKeyDelayAck}, event.WithCorrelationID(turnID))
	o.sayLocked(ctx, promptDelayAck, messageKeyDelayAck)
}

func (o *Observer) armUserSilenceLocked() {
	o.cancelUserSilenceLocked()
	ctx, cancel := context.WithCancel(context.Background())
	o.userSilenceCancel = cancel
	o.wg.Add(1)
	go o.runUserSilence(ctx)
}

func (o *Observer) cancelUserSilenceLocked() {
	if o.userSilenceCancel != nil {
		o.userSilenceCancel()
		o.userSilenceCancel = nil
	}
}

// runUserSilence reprompts a silent user and closes the call when the
// silence persists. With a close threshold at or below the reprompt
// threshold the reprompt is skipped.
func (o *Observer) runUserSilence(ctx context.Context) {
	defer o.wg.Done()

	reprompt := o.timing.UserSilenceReprompt
	closeAfter := o.timing.UserSilenceClose

	if closeAfter <= reprompt {
		if o.sleep(ctx, closeAfter) != nil {
			return
		}
		o.closeSilentCall(ctx)
		return
	}

	if o.sleep(ctx, reprompt) != nil {
		return
	}

	o.mu.Lock()
	if ctx.Err() != nil || o.closed {
		o.mu.Unlock()
		return
	}
	o.emitter.Emit(event.TypeSilenceTimerFired, o.sessionID, event.SeverityInfo,
		map[string]any{"kind": "user"}, event.WithCorrelationID(o.correlationLocked()))
	o.sayLocked(ctx, promptReprompt, messageKeyReprompt)
	o.mu.Unlock()

	if o.sleep(ctx, closeAfter-reprompt) != nil {
		return
	}
	o.closeSilentCall(ctx)
}

// closeSilentCall says goodbye, records the call end and hangs up.
func (o *Observer) closeSilentCall(ctx context.Context) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if ctx.Err() != nil || o.closed {
		return
	}

	o.logger.Info("closing call on user silence")
	o.sayLocked(ctx, promptSilenceClose, messageKeySilenceClose)
	o.emitter.CallEnded(o.sessionID, session.ReasonUserSilenceTimeout, event.LiveKitRef{})
	o.requestHangupLocked(ctx)
}

// runDurationWarning announces the approaching duration cap.
func (o *Observer) runDurationWarning(ctx context.Context, after time.Duration) {
	defer o.wg.Done()

	if o.sleep(ctx, after) != nil {
		return
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	if ctx.Err() != nil || o.closed {
		return
	}

	o.sayLocked(ctx, promptDurationWarning, messageKeyDurationWarning)
	o.emitter.Emit(event.TypeCallDurationWarning, o.sessionID, event.SeverityWarn,
		map[string]any{"remaining_seconds": 15}, event.WithCorrelationID(o.correlationLocked()))
}

// runDurationTimeout ends the call at the duration cap.
func (o *Observer) runDurationTimeout(ctx context.Context, after time.Duration) {
	defer o.wg.Done()

	if o.sleep(ctx, after) != nil {
		return
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	if ctx.Err() != nil || o.closed {
		return
	}

	o.logger.Info("maximum call duration reached")
	o.emitter.CallEnded(o.sessionID, session.ReasonMaxDuration, event.LiveKitRef{})
	o.requestHangupLocked(ctx)
}

// sayLocked speaks a prompt and records the failure when it cannot be
// played. Prompt failures never propagate.
func (o *Observer) sayLocked(ctx context.Context, text, messageKey string) {
	if err := o.session.Say(ctx, text, true); err != nil {
		o.logger.Warn("prompt not played", "message_key", messageKey, "error", err)
		o.emitter.Emit(event.TypeUXPromptFailed, o.sessionID, event.SeverityWarn,
			map[string]any{"message_key": messageKey, "error": err.Error()},
			event.WithCorrelationID(o.correlationLocked()))
	}
}

// requestHangupLocked asks the control plane to hang up and falls back
// to closing the session directly when the request is not accepted.
func (o *Observer) requestHangupLocked(ctx context.Context) {
	if o.hangup != nil && o.hangup(ctx, o.sessionID) {
		return
	}
	if err := o.session.Close(ctx); err != nil {
		o.logger.Warn("session close failed", "error", err)
	}
}
