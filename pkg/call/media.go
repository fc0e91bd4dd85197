package call

import (
	"sync"

	"github.com/pion/webrtc/v3"
	"github.com/pion/webrtc/v3/pkg/media"
	"github.com/sirupsen/logrus"
	"github.com/tripzi-app/calling/internal/models"
)

// MediaSource owns the local capture tracks for one call attempt. The
// enabled flags are pure local state; flipping them never touches the
// signaling channel.
type MediaSource interface {
	Tracks() []webrtc.TrackLocal
	SetAudioEnabled(enabled bool)
	AudioEnabled() bool
	SetVideoEnabled(enabled bool)
	VideoEnabled() bool
	HasVideo() bool
	Close() error
}

// MediaFactory acquires capture appropriate to the call type. Returning
// an error aborts the call attempt with a MediaAcquisitionError.
type MediaFactory func(callType models.CallType) (MediaSource, error)

// SampleSource is the sample-fed MediaSource used in production: the
// capture pipeline pushes encoded frames through WriteAudioSample and
// WriteVideoSample, and mute simply drops frames before the track.
type SampleSource struct {
	mu           sync.RWMutex
	audioTrack   *webrtc.TrackLocalStaticSample
	videoTrack   *webrtc.TrackLocalStaticSample
	audioEnabled bool
	videoEnabled bool
	closed       bool
}

// NewSampleSource builds an opus audio track, plus a VP8 video track for
// video calls, under one stream id.
func NewSampleSource(callType models.CallType, streamID string) (*SampleSource, error) {
	if streamID == "" {
		streamID = DefaultStreamID
	}

	audioTrack, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: 48000, Channels: 2},
		"audio",
		streamID,
	)
	if err != nil {
		logrus.WithError(err).Error("Failed to create audio track")
		return nil, &MediaAcquisitionError{Err: err}
	}

	src := &SampleSource{
		audioTrack:   audioTrack,
		audioEnabled: true,
	}

	if callType == models.CallTypeVideo {
		videoTrack, err := webrtc.NewTrackLocalStaticSample(
			webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8, ClockRate: 90000},
			"video",
			streamID,
		)
		if err != nil {
			logrus.WithError(err).Error("Failed to create video track")
			return nil, &MediaAcquisitionError{Err: err}
		}
		src.videoTrack = videoTrack
		src.videoEnabled = true
	}

	return src, nil
}

func (s *SampleSource) Tracks() []webrtc.TrackLocal {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tracks := []webrtc.TrackLocal{s.audioTrack}
	if s.videoTrack != nil {
		tracks = append(tracks, s.videoTrack)
	}
	return tracks
}

func (s *SampleSource) SetAudioEnabled(enabled bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.audioEnabled = enabled
}

func (s *SampleSource) AudioEnabled() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.audioEnabled
}

func (s *SampleSource) SetVideoEnabled(enabled bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.videoEnabled = enabled
}

func (s *SampleSource) VideoEnabled() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.videoEnabled
}

func (s *SampleSource) HasVideo() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.videoTrack != nil
}

// WriteAudioSample forwards one encoded audio frame unless muted or closed
func (s *SampleSource) WriteAudioSample(sample media.Sample) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed || !s.audioEnabled {
		return nil
	}
	return s.audioTrack.WriteSample(sample)
}

// WriteVideoSample forwards one encoded video frame unless video is off
func (s *SampleSource) WriteVideoSample(sample media.Sample) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed || s.videoTrack == nil || !s.videoEnabled {
		return nil
	}
	return s.videoTrack.WriteSample(sample)
}

func (s *SampleSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
