package call

import (
	"errors"
	"fmt"
)

var (
	// ErrSessionBusy is returned when an operation needs an idle session
	// but a call is already in progress.
	ErrSessionBusy = errors.New("call: session already has an active call")

	// ErrNotReceiver is returned when answering or declining a call that
	// is not addressed to the local user.
	ErrNotReceiver = errors.New("call: local user is not the receiver")

	// ErrNotRinging is returned when answering a call that is no longer
	// in the ringing state.
	ErrNotRinging = errors.New("call: record is not ringing")
)

// MediaAcquisitionError wraps a failure to obtain local capture tracks.
// The call attempt is aborted, nothing is retried.
type MediaAcquisitionError struct {
	Err error
}

func (e *MediaAcquisitionError) Error() string {
	return fmt.Sprintf("media acquisition failed: %v", e.Err)
}

func (e *MediaAcquisitionError) Unwrap() error { return e.Err }

// SignalingError wraps a failed record-store write during the handshake
type SignalingError struct {
	Op  string
	Err error
}

func (e *SignalingError) Error() string {
	return fmt.Sprintf("signaling %s failed: %v", e.Op, e.Err)
}

func (e *SignalingError) Unwrap() error { return e.Err }

// PeerConnectionError wraps an SDP or ICE failure on the peer connection
type PeerConnectionError struct {
	Op  string
	Err error
}

func (e *PeerConnectionError) Error() string {
	return fmt.Sprintf("peer connection %s failed: %v", e.Op, e.Err)
}

func (e *PeerConnectionError) Unwrap() error { return e.Err }
