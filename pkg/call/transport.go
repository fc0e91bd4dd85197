package call

import (
	"context"
	"sync"

	"github.com/pion/webrtc/v3"
	"github.com/sirupsen/logrus"
)

// PeerTransport is the slice of the peer-connection API a call session
// drives. The production implementation is RTCTransport; tests substitute
// a fake so handshake logic can run without real ICE gathering.
type PeerTransport interface {
	AttachMedia(src MediaSource) error
	CreateOffer(ctx context.Context) (string, error)
	CreateAnswer(ctx context.Context) (string, error)
	SetRemoteOffer(sdp string) error
	SetRemoteAnswer(sdp string) error
	HasRemoteDescription() bool
	AddICECandidate(candidate webrtc.ICECandidateInit) error
	OnICECandidate(fn func(webrtc.ICECandidateInit))
	OnConnectionStateChange(fn func(webrtc.PeerConnectionState))
	Close() error
}

// TransportFactory builds a fresh transport per call attempt
type TransportFactory func() (PeerTransport, error)

// TransportOption WebRTC transport options
type TransportOption struct {
	ICEServers []webrtc.ICEServer `json:"iceServers"`
	StreamID   string             `json:"streamId"`
}

// RTCTransport adapts a pion peer connection to PeerTransport.
// One transport serves exactly one call attempt and is closed with it.
type RTCTransport struct {
	opt            TransportOption
	config         webrtc.Configuration
	mu             sync.RWMutex
	peerConnection *webrtc.PeerConnection
	onCandidate    func(webrtc.ICECandidateInit)
	onState        func(webrtc.PeerConnectionState)
}

func getMediaEngine() *webrtc.MediaEngine {
	m := &webrtc.MediaEngine{}

	m.RegisterCodec(webrtc.RTPCodecParameters{
		RTPCodecCapability: webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: 48000, Channels: 2},
		PayloadType:        111,
	}, webrtc.RTPCodecTypeAudio)

	m.RegisterCodec(webrtc.RTPCodecParameters{
		RTPCodecCapability: webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8, ClockRate: 90000},
		PayloadType:        96,
	}, webrtc.RTPCodecTypeVideo)

	return m
}

// NewRTCTransport creates the peer connection and wires the gathering and
// connection-state callbacks through to whatever the session registered.
func NewRTCTransport(opt TransportOption) (*RTCTransport, error) {
	if opt.StreamID == "" {
		opt.StreamID = DefaultStreamID
	}
	if len(opt.ICEServers) == 0 {
		opt.ICEServers = []webrtc.ICEServer{{URLs: []string{DefaultSTUNURL}}}
	}

	t := &RTCTransport{
		opt:    opt,
		config: webrtc.Configuration{ICEServers: opt.ICEServers},
	}

	api := webrtc.NewAPI(webrtc.WithMediaEngine(getMediaEngine()))
	connection, err := api.NewPeerConnection(t.config)
	if err != nil {
		logrus.WithError(err).Error("webrtc: NewPeerConnection")
		return nil, &PeerConnectionError{Op: "create", Err: err}
	}
	t.peerConnection = connection

	t.peerConnection.OnICECandidate(func(i *webrtc.ICECandidate) {
		if i == nil {
			return
		}
		logrus.WithField("candidate", i.ToJSON().Candidate).Debug("ICE candidate gathered")
		t.mu.RLock()
		fn := t.onCandidate
		t.mu.RUnlock()
		if fn != nil {
			fn(i.ToJSON())
		}
	})

	t.peerConnection.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		logrus.WithField("state", state.String()).Info("Connection state changed")
		t.mu.RLock()
		fn := t.onState
		t.mu.RUnlock()
		if fn != nil {
			fn(state)
		}
	})

	return t, nil
}

// AttachMedia adds the source's local tracks to the peer connection.
// Must happen before the offer or answer is created so the SDP carries
// the media sections.
func (t *RTCTransport) AttachMedia(src MediaSource) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	for _, track := range src.Tracks() {
		if _, err := t.peerConnection.AddTrack(track); err != nil {
			logrus.WithError(err).Error("Failed to add track")
			return &PeerConnectionError{Op: "add track", Err: err}
		}
	}
	return nil
}

func (t *RTCTransport) CreateOffer(ctx context.Context) (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	offer, err := t.peerConnection.CreateOffer(nil)
	if err != nil {
		logrus.WithError(err).Error("Failed to create offer")
		return "", &PeerConnectionError{Op: "create offer", Err: err}
	}
	if err := t.peerConnection.SetLocalDescription(offer); err != nil {
		logrus.WithError(err).Error("Failed to set local description")
		return "", &PeerConnectionError{Op: "set local description", Err: err}
	}
	return offer.SDP, nil
}

func (t *RTCTransport) CreateAnswer(ctx context.Context) (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	answer, err := t.peerConnection.CreateAnswer(nil)
	if err != nil {
		logrus.WithError(err).Error("Failed to create answer")
		return "", &PeerConnectionError{Op: "create answer", Err: err}
	}
	if err := t.peerConnection.SetLocalDescription(answer); err != nil {
		logrus.WithError(err).Error("Failed to set local description")
		return "", &PeerConnectionError{Op: "set local description", Err: err}
	}
	return answer.SDP, nil
}

func (t *RTCTransport) SetRemoteOffer(sdp string) error {
	return t.setRemoteDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: sdp})
}

func (t *RTCTransport) SetRemoteAnswer(sdp string) error {
	return t.setRemoteDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: sdp})
}

func (t *RTCTransport) setRemoteDescription(desc webrtc.SessionDescription) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if err := t.peerConnection.SetRemoteDescription(desc); err != nil {
		logrus.WithError(err).WithField("type", desc.Type.String()).Error("Failed to set remote description")
		return &PeerConnectionError{Op: "set remote description", Err: err}
	}
	return nil
}

func (t *RTCTransport) HasRemoteDescription() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.peerConnection.RemoteDescription() != nil
}

func (t *RTCTransport) AddICECandidate(candidate webrtc.ICECandidateInit) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if err := t.peerConnection.AddICECandidate(candidate); err != nil {
		logrus.WithError(err).WithField("candidate", candidate.Candidate).Warn("Failed to add ICE candidate")
		return &PeerConnectionError{Op: "add candidate", Err: err}
	}
	return nil
}

func (t *RTCTransport) OnICECandidate(fn func(webrtc.ICECandidateInit)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onCandidate = fn
}

func (t *RTCTransport) OnConnectionStateChange(fn func(webrtc.PeerConnectionState)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onState = fn
}

// ConnectionState reports the current peer-connection state (thread safe)
func (t *RTCTransport) ConnectionState() webrtc.PeerConnectionState {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if t.peerConnection == nil {
		return webrtc.PeerConnectionStateNew
	}
	return t.peerConnection.ConnectionState()
}

func (t *RTCTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.peerConnection != nil {
		err := t.peerConnection.Close()
		t.peerConnection = nil
		return err
	}
	return nil
}
