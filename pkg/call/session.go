package call

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/pion/webrtc/v3"
	"github.com/sirupsen/logrus"
	"github.com/tripzi-app/calling/internal/models"
	"github.com/tripzi-app/calling/pkg/signaling"
)

// State is the local lifecycle of one call attempt
type State string

const (
	StateIdle       State = "idle"
	StateConnecting State = "connecting"
	StateConnected  State = "connected"
	StateEnded      State = "ended"
)

// ErrNoPendingOffer is returned when answering a record whose offer has
// not been written yet.
var ErrNoPendingOffer = errors.New("call: record has no pending offer")

// Config wires a session to its collaborators. Sessions never reach for
// process-wide singletons; everything they need arrives here.
type Config struct {
	LocalUserID  string
	Channel      *signaling.Channel
	NewTransport TransportFactory
	NewMedia     MediaFactory

	// RingTimeout bounds how long an outgoing call waits for an answer
	// before the session gives up and ends the record. Zero means
	// DefaultRingTimeout.
	RingTimeout time.Duration

	// OnStateChange, when set, observes every state transition. It runs
	// with the session lock held and must not call back into the session.
	OnStateChange func(State)
}

// Session drives one call attempt through ringing, connecting, connected
// and ended. A session is single-use: once ended it stays ended, and a
// process holds at most one active session at a time.
//
// All channel events are funneled through handleRemoteEvent under the
// session lock, so continuations observe the state the session is actually
// in, not the state it was in when the operation started.
type Session struct {
	cfg Config

	mu            sync.Mutex
	state         State
	callID        string
	remoteID      string
	callType      models.CallType
	isCaller      bool
	transport     PeerTransport
	media         MediaSource
	unsubscribe   func()
	answerApplied bool
	pendingICE    []webrtc.ICECandidateInit
	seenSeq       map[uint]struct{}
	ringTimer     *time.Timer
}

// NewSession builds an idle session for the local user
func NewSession(cfg Config) (*Session, error) {
	if cfg.LocalUserID == "" {
		return nil, errors.New("call: local user id is required")
	}
	if cfg.Channel == nil {
		return nil, errors.New("call: signaling channel is required")
	}
	if cfg.NewTransport == nil {
		cfg.NewTransport = func() (PeerTransport, error) {
			return NewRTCTransport(TransportOption{})
		}
	}
	if cfg.NewMedia == nil {
		cfg.NewMedia = func(callType models.CallType) (MediaSource, error) {
			return NewSampleSource(callType, DefaultStreamID)
		}
	}
	if cfg.RingTimeout <= 0 {
		cfg.RingTimeout = DefaultRingTimeout
	}

	return &Session{
		cfg:     cfg,
		state:   StateIdle,
		seenSeq: make(map[uint]struct{}),
	}, nil
}

// State returns the current session state
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// CallID returns the id of the active call, or "" before Initiate/Answer
func (s *Session) CallID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.callID
}

// Initiate starts an outgoing call: acquires media, builds the peer
// connection, creates the record, writes the offer, and begins observing
// the record for the answer. On any failure the attempt is aborted and
// every partially acquired resource is released.
func (s *Session) Initiate(ctx context.Context, receiverID string, callType models.CallType) (*models.CallRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateIdle {
		return nil, ErrSessionBusy
	}

	media, err := s.cfg.NewMedia(callType)
	if err != nil {
		return nil, asMediaError(err)
	}
	transport, err := s.cfg.NewTransport()
	if err != nil {
		media.Close()
		return nil, asPeerError("create transport", err)
	}
	if err := transport.AttachMedia(media); err != nil {
		transport.Close()
		media.Close()
		return nil, asPeerError("attach media", err)
	}

	record, err := s.cfg.Channel.CreateCall(ctx, s.cfg.LocalUserID, receiverID, callType)
	if err != nil {
		transport.Close()
		media.Close()
		return nil, &SignalingError{Op: "create call", Err: err}
	}

	s.callID = record.CallID
	s.remoteID = receiverID
	s.callType = callType
	s.isCaller = true
	s.transport = transport
	s.media = media
	s.setStateLocked(StateConnecting)

	// wire and subscribe before the offer exists: creating the offer starts
	// ICE gathering, and candidates fired in that window must be published
	s.wireTransportLocked(record.CallID)
	s.unsubscribe = s.cfg.Channel.Subscribe(signaling.ForCall(record.CallID), s.handleRemoteEvent)

	offer, err := transport.CreateOffer(ctx)
	if err != nil {
		s.abortLocked(ctx, models.EndReasonFailed)
		return nil, asPeerError("create offer", err)
	}
	updated, err := s.cfg.Channel.UpdateCall(ctx, record.CallID, signaling.Patch{OfferSDP: &offer})
	if err != nil {
		s.abortLocked(ctx, models.EndReasonFailed)
		return nil, &SignalingError{Op: "write offer", Err: err}
	}
	if updated.Status.Terminal() {
		// declined before the offer landed; the write was dropped
		s.teardownLocked()
		return updated, nil
	}

	s.ringTimer = time.AfterFunc(s.cfg.RingTimeout, s.onRingTimeout)
	return updated, nil
}

// Answer accepts a ringing call addressed to the local user: acquires
// media, applies the pending offer as the remote description, creates the
// answer and writes it back together with status answered.
func (s *Session) Answer(ctx context.Context, callID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateIdle {
		return ErrSessionBusy
	}

	record, err := s.cfg.Channel.Get(ctx, callID)
	if err != nil {
		return &SignalingError{Op: "load call", Err: err}
	}
	if record.ReceiverID != s.cfg.LocalUserID {
		return ErrNotReceiver
	}
	if record.Status != models.CallStatusRinging {
		return ErrNotRinging
	}
	if record.OfferSDP == "" {
		return ErrNoPendingOffer
	}

	media, err := s.cfg.NewMedia(record.CallType)
	if err != nil {
		return asMediaError(err)
	}
	transport, err := s.cfg.NewTransport()
	if err != nil {
		media.Close()
		return asPeerError("create transport", err)
	}
	if err := transport.AttachMedia(media); err != nil {
		transport.Close()
		media.Close()
		return asPeerError("attach media", err)
	}

	s.callID = record.CallID
	s.remoteID = record.CallerID
	s.callType = record.CallType
	s.isCaller = false
	s.transport = transport
	s.media = media
	s.setStateLocked(StateConnecting)

	// subscribe before replaying: candidates appended between the replay
	// and a later subscription would be lost for good, while the overlap
	// between live delivery and the replay is absorbed by the seq dedupe
	s.wireTransportLocked(callID)
	s.unsubscribe = s.cfg.Channel.Subscribe(signaling.ForCall(callID), s.handleRemoteEvent)

	if err := transport.SetRemoteOffer(record.OfferSDP); err != nil {
		s.abortLocked(ctx, models.EndReasonFailed)
		return asPeerError("apply offer", err)
	}
	s.answerApplied = true
	s.replayCandidatesLocked(ctx)

	answer, err := transport.CreateAnswer(ctx)
	if err != nil {
		s.abortLocked(ctx, models.EndReasonFailed)
		return asPeerError("create answer", err)
	}

	answered := models.CallStatusAnswered
	updated, err := s.cfg.Channel.UpdateCall(ctx, callID, signaling.Patch{Status: &answered, AnswerSDP: &answer})
	if err != nil {
		s.abortLocked(ctx, models.EndReasonFailed)
		return &SignalingError{Op: "write answer", Err: err}
	}
	if updated.Status.Terminal() {
		// the caller hung up while we were setting up; our write was dropped
		s.teardownLocked()
		return ErrNotRinging
	}
	return nil
}

// Decline rejects a ringing call without acquiring media or building a
// peer connection. Declining a call already in a terminal state is a no-op.
func (s *Session) Decline(ctx context.Context, callID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	record, err := s.cfg.Channel.Get(ctx, callID)
	if err != nil {
		return &SignalingError{Op: "load call", Err: err}
	}
	if record.ReceiverID != s.cfg.LocalUserID {
		return ErrNotReceiver
	}
	if record.Status.Terminal() {
		return nil
	}

	declined := models.CallStatusDeclined
	reason := models.EndReasonDeclined
	if _, err := s.cfg.Channel.UpdateCall(ctx, callID, signaling.Patch{Status: &declined, EndReason: &reason}); err != nil {
		return &SignalingError{Op: "decline call", Err: err}
	}

	if s.callID == callID && s.state != StateEnded {
		s.teardownLocked()
	}
	return nil
}

// End hangs up the active call: writes the terminal status, then releases
// the transport and media. Ending an already-ended session does nothing
// and produces no further signaling writes.
func (s *Session) End(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == StateEnded || s.callID == "" {
		return nil
	}
	s.endLocked(ctx, models.EndReasonHangup)
	return nil
}

// ToggleMute flips the local audio tracks and reports whether audio is now
// enabled. Purely local: nothing is written to the signaling channel.
func (s *Session) ToggleMute() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.media == nil {
		return false
	}
	enabled := !s.media.AudioEnabled()
	s.media.SetAudioEnabled(enabled)
	return enabled
}

// ToggleVideo flips the local video track, a no-op on audio-only calls
func (s *Session) ToggleVideo() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.media == nil || !s.media.HasVideo() {
		return false
	}
	enabled := !s.media.VideoEnabled()
	s.media.SetVideoEnabled(enabled)
	return enabled
}

// handleRemoteEvent is the dispatch point for everything the signaling
// channel observes about the active record. Events arriving after the
// session has ended are discarded without side effects.
func (s *Session) handleRemoteEvent(ev signaling.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == StateEnded || ev.Record.CallID != s.callID {
		return
	}

	switch ev.Type {
	case signaling.EventCandidate:
		s.handleCandidateLocked(ev)
	case signaling.EventCallCreated, signaling.EventCallUpdated:
		s.handleRecordLocked(ev.Record)
	}
}

func (s *Session) handleRecordLocked(record models.CallRecord) {
	if record.Status.Terminal() {
		// resolved remotely; never touch the record again
		s.teardownLocked()
		return
	}

	// events are full snapshots, so the answered status and the answer
	// payload may show up together or across two deliveries
	if s.isCaller && !s.answerApplied &&
		record.Status == models.CallStatusAnswered && record.AnswerSDP != "" {
		if err := s.transport.SetRemoteAnswer(record.AnswerSDP); err != nil {
			logrus.WithError(err).WithField("callId", s.callID).Error("Failed to apply remote answer")
			s.endLocked(context.Background(), models.EndReasonFailed)
			return
		}
		s.answerApplied = true
		s.stopRingTimerLocked()
		s.flushPendingICELocked()
	}
}

func (s *Session) handleCandidateLocked(ev signaling.Event) {
	if ev.Candidate == nil || ev.From == s.cfg.LocalUserID {
		return
	}
	if _, dup := s.seenSeq[ev.Seq]; dup {
		return
	}
	s.seenSeq[ev.Seq] = struct{}{}

	// candidates arriving before the remote description are buffered and
	// flushed once it lands
	if s.transport == nil || !s.transport.HasRemoteDescription() {
		s.pendingICE = append(s.pendingICE, *ev.Candidate)
		return
	}
	if err := s.transport.AddICECandidate(*ev.Candidate); err != nil {
		logrus.WithError(err).WithField("callId", s.callID).Warn("Failed to add remote candidate")
	}
}

func (s *Session) flushPendingICELocked() {
	for _, candidate := range s.pendingICE {
		if err := s.transport.AddICECandidate(candidate); err != nil {
			logrus.WithError(err).WithField("callId", s.callID).Warn("Failed to add buffered candidate")
		}
	}
	s.pendingICE = nil
}

// replayCandidatesLocked catches up on candidates persisted before this
// side subscribed
func (s *Session) replayCandidatesLocked(ctx context.Context) {
	events, err := s.cfg.Channel.Candidates(ctx, s.callID, 0)
	if err != nil {
		logrus.WithError(err).WithField("callId", s.callID).Warn("Failed to replay candidates")
		return
	}
	for _, ev := range events {
		s.handleCandidateLocked(ev)
	}
}

func (s *Session) wireTransportLocked(callID string) {
	localID := s.cfg.LocalUserID
	channel := s.cfg.Channel

	s.transport.OnICECandidate(func(candidate webrtc.ICECandidateInit) {
		if _, err := channel.AddCandidate(context.Background(), callID, localID, candidate); err != nil {
			logrus.WithError(err).WithField("callId", callID).Warn("Failed to publish local candidate")
		}
	})
	s.transport.OnConnectionStateChange(s.handleConnectionState)
}

func (s *Session) handleConnectionState(state webrtc.PeerConnectionState) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch state {
	case webrtc.PeerConnectionStateConnected:
		// never report connected before both descriptions are in place
		if s.state == StateConnecting && s.transport != nil && s.transport.HasRemoteDescription() {
			s.setStateLocked(StateConnected)
		}
	case webrtc.PeerConnectionStateFailed:
		if s.state == StateConnecting || s.state == StateConnected {
			s.endLocked(context.Background(), models.EndReasonFailed)
		}
	}
}

func (s *Session) onRingTimeout() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.isCaller || s.state != StateConnecting || s.answerApplied {
		return
	}
	logrus.WithField("callId", s.callID).Info("Ring timeout reached, ending call")
	s.endLocked(context.Background(), models.EndReasonTimeout)
}

// endLocked writes the terminal status, then tears down. The channel drops
// the write if the record is already terminal, so racing with the remote
// side's hangup stays idempotent.
func (s *Session) endLocked(ctx context.Context, reason string) {
	if s.callID != "" {
		ended := models.CallStatusEnded
		if _, err := s.cfg.Channel.UpdateCall(ctx, s.callID, signaling.Patch{Status: &ended, EndReason: &reason}); err != nil {
			logrus.WithError(err).WithField("callId", s.callID).Warn("Failed to write terminal status")
		}
	}
	s.teardownLocked()
}

// abortLocked is the failure path during setup: best-effort terminal write,
// then release everything
func (s *Session) abortLocked(ctx context.Context, reason string) {
	s.endLocked(ctx, reason)
}

// teardownLocked releases local resources without touching the record
func (s *Session) teardownLocked() {
	s.stopRingTimerLocked()
	if s.unsubscribe != nil {
		s.unsubscribe()
		s.unsubscribe = nil
	}
	if s.transport != nil {
		s.transport.Close()
		s.transport = nil
	}
	if s.media != nil {
		s.media.Close()
		s.media = nil
	}
	s.pendingICE = nil
	s.setStateLocked(StateEnded)
}

func (s *Session) stopRingTimerLocked() {
	if s.ringTimer != nil {
		s.ringTimer.Stop()
		s.ringTimer = nil
	}
}

func (s *Session) setStateLocked(state State) {
	if s.state == state {
		return
	}
	s.state = state
	if s.cfg.OnStateChange != nil {
		s.cfg.OnStateChange(state)
	}
}

func asMediaError(err error) error {
	var me *MediaAcquisitionError
	if errors.As(err, &me) {
		return err
	}
	return &MediaAcquisitionError{Err: err}
}

func asPeerError(op string, err error) error {
	var pe *PeerConnectionError
	if errors.As(err, &pe) {
		return err
	}
	return &PeerConnectionError{Op: op, Err: err}
}
