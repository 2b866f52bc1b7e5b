// Package rtc wraps the pion PeerConnection for one call's media transport.
package rtc

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/pion/interceptor"
	"github.com/pion/webrtc/v4"

	"github.com/swapit-app/calls/internal/media"
	"github.com/swapit-app/calls/internal/util"
)

// STUN servers for ICE candidate gathering. No TURN fallback: peers that are
// both behind symmetric NATs simply fail to connect, surfaced as a transport
// failure.
var stunServers = []string{
	"stun:stun.l.google.com:19302",
	"stun:stun1.l.google.com:19302",
	"stun:stun2.l.google.com:19302",
}

// Peer wraps a PeerConnection with the local capture attached. Its MediaEngine
// is populated from the stream's codec selector so the SDP matches the
// encoders actually running.
type Peer struct {
	pc          *webrtc.PeerConnection
	audioTrack  webrtc.TrackLocal
	audioSender *webrtc.RTPSender

	mu        sync.Mutex
	closeOnce sync.Once
}

// NewPeer builds the transport and attaches the stream's tracks. The stream
// stays owned by the caller; closing the Peer does not stop capture.
func NewPeer(stream *media.Stream) (*Peer, error) {
	mediaEngine := &webrtc.MediaEngine{}
	stream.CodecSelector().Populate(mediaEngine)

	registry := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(mediaEngine, registry); err != nil {
		return nil, fmt.Errorf("failed to register interceptors: %w", err)
	}

	// Generous ICE timeouts: the default 5 s disconnectedTimeout drops calls
	// on brief NAT rebinding hiccups.
	se := webrtc.SettingEngine{}
	se.SetICETimeouts(30*time.Second, 120*time.Second, 2*time.Second)

	api := webrtc.NewAPI(
		webrtc.WithMediaEngine(mediaEngine),
		webrtc.WithInterceptorRegistry(registry),
		webrtc.WithSettingEngine(se),
	)

	pc, err := api.NewPeerConnection(webrtc.Configuration{
		ICEServers: []webrtc.ICEServer{{URLs: stunServers}},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create PeerConnection: %w", err)
	}

	p := &Peer{pc: pc}
	for _, track := range stream.Tracks() {
		sender, err := pc.AddTrack(track)
		if err != nil {
			pc.Close()
			return nil, fmt.Errorf("failed to attach local track: %w", err)
		}
		if track.Kind() == webrtc.RTPCodecTypeAudio {
			p.audioTrack = track
			p.audioSender = sender
		}
	}
	return p, nil
}

// CreateOffer generates an SDP offer.
func (p *Peer) CreateOffer() (webrtc.SessionDescription, error) {
	return p.pc.CreateOffer(nil)
}

// CreateAnswer generates an SDP answer.
func (p *Peer) CreateAnswer() (webrtc.SessionDescription, error) {
	return p.pc.CreateAnswer(nil)
}

// SetLocalDescription applies the local SDP.
func (p *Peer) SetLocalDescription(sdp webrtc.SessionDescription) error {
	return p.pc.SetLocalDescription(sdp)
}

// SetRemoteDescription applies the remote SDP.
func (p *Peer) SetRemoteDescription(sdp webrtc.SessionDescription) error {
	return p.pc.SetRemoteDescription(sdp)
}

// AddICECandidate adds a remote candidate received through signaling.
func (p *Peer) AddICECandidate(candidate webrtc.ICECandidateInit) error {
	return p.pc.AddICECandidate(candidate)
}

// OnICECandidate registers a callback invoked for every locally gathered
// candidate. A nil candidate signals the end of gathering.
func (p *Peer) OnICECandidate(fn func(*webrtc.ICECandidate)) {
	p.pc.OnICECandidate(fn)
}

// OnRemoteTrack registers a callback fired when the first remote media
// arrives.
func (p *Peer) OnRemoteTrack(fn func()) {
	p.pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		util.LogDebug("remote %s track received", track.Kind())
		fn()
	})
}

// OnStateChange registers a callback for PeerConnection state changes.
func (p *Peer) OnStateChange(fn func(webrtc.PeerConnectionState)) {
	p.pc.OnConnectionStateChange(fn)
}

// SetAudioEnabled mutes or unmutes the outgoing audio by swapping the track
// out of its RTPSender. No renegotiation: the media line stays in place, the
// sender just stops (or resumes) emitting packets.
func (p *Peer) SetAudioEnabled(enabled bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.audioSender == nil {
		return errors.New("no audio sender")
	}
	if enabled {
		return p.audioSender.ReplaceTrack(p.audioTrack)
	}
	return p.audioSender.ReplaceTrack(nil)
}

// Close shuts down the PeerConnection. Idempotent.
func (p *Peer) Close() error {
	var err error
	p.closeOnce.Do(func() {
		err = p.pc.Close()
	})
	return err
}
