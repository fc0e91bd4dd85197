package call

import "time"

const (
	DefaultStreamID    = "tripzi-call"
	DefaultSTUNURL     = "stun:stun.l.google.com:19302"
	DefaultRingTimeout = 45 * time.Second
)
