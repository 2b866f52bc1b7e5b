package call

import (
	"github.com/pion/webrtc/v4"

	"github.com/swapit-app/calls/internal/signaling"
)

// Participant identifies one party of a call. Immutable for the call's
// lifetime.
type Participant struct {
	ID          int
	DisplayName string
}

// Signaler is the slice of the signaling client a session drives. A session
// exclusively owns its Signaler; it is closed during cleanup.
type Signaler interface {
	Send(signaling.Message) error
	OnMessage(func(signaling.Message))
	OnError(func(error))
	Ready() <-chan struct{}
	Close() error
}

// Peer is the slice of the peer media transport a session drives.
// Implemented by rtc.Peer; tests substitute a mock.
type Peer interface {
	CreateOffer() (webrtc.SessionDescription, error)
	CreateAnswer() (webrtc.SessionDescription, error)
	SetLocalDescription(webrtc.SessionDescription) error
	SetRemoteDescription(webrtc.SessionDescription) error
	AddICECandidate(webrtc.ICECandidateInit) error
	OnICECandidate(func(*webrtc.ICECandidate))
	OnRemoteTrack(func())
	OnStateChange(func(webrtc.PeerConnectionState))
	SetAudioEnabled(bool) error
	Close() error
}

// Stream is the local media capture handle owned by a session. Close stops
// every captured track and must be idempotent.
type Stream interface {
	Close()
}

// SetupFunc acquires local media and builds the peer transport around it.
// Media failures must carry ErrMediaAccess in the error chain so the session
// can abort before any signaling is sent. On error neither return value may
// hold live resources.
type SetupFunc func(video bool) (Peer, Stream, error)

// AudioSink controls local playback volume of the remote stream. Optional;
// it never affects what the peer hears.
type AudioSink interface {
	SetVolume(v float64)
}
