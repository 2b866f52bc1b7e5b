// Package call implements the call session state machine: one instance per
// call attempt, caller or callee side, driving the offer/answer/ICE exchange
// over the signaling relay and the peer media transport.
package call

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"

	"github.com/swapit-app/calls/internal/signaling"
	"github.com/swapit-app/calls/internal/util"
)

// Params configures a session. Signal and Setup are required; RemoteOffer is
// required in incoming mode (it is the offer buffered by the presence
// listener).
type Params struct {
	Self  Participant
	Peer  Participant
	Video bool

	Incoming    bool
	RemoteOffer *webrtc.SessionDescription

	Signal Signaler
	Setup  SetupFunc
	Sink   AudioSink

	OnState func(State)
	OnError func(error)
}

// Session is one call attempt. It exclusively owns its signaling connection,
// its local media capture, and its peer transport; cleanup releases all three
// exactly once, on every exit path.
type Session struct {
	id string
	p  Params

	mu        sync.Mutex
	state     State
	peer      Peer
	stream    Stream
	muted     bool
	speakerOn bool

	// negMu serializes description handling: an offer must be fully applied
	// as remote description before answer generation starts.
	negMu sync.Mutex

	cleanupOnce sync.Once
	done        chan struct{}
}

// Start validates params, registers the signaling handlers, and launches the
// session. The returned session is in StateCalling (outgoing) or StateRinging
// (incoming). Negotiation proceeds asynchronously; progress is reported via
// OnState and OnError.
func Start(ctx context.Context, p Params) (*Session, error) {
	if p.Signal == nil || p.Setup == nil {
		return nil, fmt.Errorf("call: missing signaling client or setup func")
	}
	if p.Incoming && p.RemoteOffer == nil {
		return nil, fmt.Errorf("call: incoming session requires the buffered offer")
	}

	s := &Session{
		id:        uuid.NewString()[:8],
		p:         p,
		state:     StateCalling,
		speakerOn: true,
		done:      make(chan struct{}),
	}
	if p.Incoming {
		s.state = StateRinging
	} else {
		util.Stats.AddPlaced()
	}

	p.Signal.OnMessage(s.handleMessage)
	p.Signal.OnError(func(err error) {
		s.end(fmt.Errorf("%w: %v", ErrSignaling, err))
	})

	util.LogInfo("[%s] call %s: %s (%d) ↔ %s (%d)", s.id, s.state,
		p.Self.DisplayName, p.Self.ID, p.Peer.DisplayName, p.Peer.ID)

	go s.run(ctx)
	return s, nil
}

// ID returns the session's log correlation id.
func (s *Session) ID() string { return s.id }

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Done returns a channel closed when the session has ended and cleanup ran.
func (s *Session) Done() <-chan struct{} { return s.done }

// Muted reports whether the local audio track is muted.
func (s *Session) Muted() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.muted
}

// SpeakerOn reports whether remote playback is audible.
func (s *Session) SpeakerOn() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.speakerOn
}

// run drives the setup sequence once the signaling connection is open.
func (s *Session) run(ctx context.Context) {
	select {
	case <-s.p.Signal.Ready():
	case <-ctx.Done():
		s.end(nil)
		return
	case <-s.done:
		return
	}

	peer, stream, err := s.p.Setup(s.p.Video)
	if err != nil {
		// Media denial aborts before any signaling message is sent.
		s.end(err)
		return
	}

	s.mu.Lock()
	if s.state == StateEnded {
		s.mu.Unlock()
		stream.Close()
		peer.Close()
		return
	}
	s.peer = peer
	s.stream = stream
	s.mu.Unlock()

	s.wirePeer(peer)

	if s.p.Incoming {
		err = s.answer(peer, s.p.RemoteOffer)
	} else {
		err = s.offer(peer)
	}
	if err != nil {
		s.end(fmt.Errorf("%w: %v", ErrSignaling, err))
	}
}

// wirePeer attaches the transport callbacks that feed the state machine.
func (s *Session) wirePeer(peer Peer) {
	peer.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			return
		}
		init := c.ToJSON()
		err := s.p.Signal.Send(signaling.Message{
			Type:      signaling.MsgTypeCandidate,
			Candidate: &init,
			PeerID:    s.p.Peer.ID,
		})
		if err != nil {
			util.LogWarning("[%s] failed to send ICE candidate: %v", s.id, err)
			return
		}
		util.Stats.AddCandidate()
	})

	peer.OnRemoteTrack(func() {
		s.transition(StateConnected)
	})

	peer.OnStateChange(func(st webrtc.PeerConnectionState) {
		util.LogDebug("[%s] peer transport state: %s", s.id, st)
		switch st {
		case webrtc.PeerConnectionStateConnected:
			s.transition(StateConnected)
		case webrtc.PeerConnectionStateDisconnected, webrtc.PeerConnectionStateFailed:
			s.end(fmt.Errorf("%w: %s", ErrPeerFailed, st))
		}
	})
}

// offer generates the SDP offer, applies it locally, and sends it to the
// recipient with the caller's display name.
func (s *Session) offer(peer Peer) error {
	s.negMu.Lock()
	defer s.negMu.Unlock()

	off, err := peer.CreateOffer()
	if err != nil {
		return fmt.Errorf("CreateOffer: %w", err)
	}
	if err := peer.SetLocalDescription(off); err != nil {
		return fmt.Errorf("SetLocalDescription: %w", err)
	}
	return s.p.Signal.Send(signaling.Message{
		Type:        signaling.MsgTypeOffer,
		Offer:       &off,
		RecipientID: s.p.Peer.ID,
		CallerName:  s.p.Self.DisplayName,
	})
}

// answer applies the remote offer, generates the answer, and sends it back.
// The remote description is always fully applied before answer generation;
// negMu keeps a concurrently arriving description from interleaving.
func (s *Session) answer(peer Peer, offer *webrtc.SessionDescription) error {
	s.negMu.Lock()
	defer s.negMu.Unlock()

	if err := peer.SetRemoteDescription(*offer); err != nil {
		return fmt.Errorf("SetRemoteDescription: %w", err)
	}
	ans, err := peer.CreateAnswer()
	if err != nil {
		return fmt.Errorf("CreateAnswer: %w", err)
	}
	if err := peer.SetLocalDescription(ans); err != nil {
		return fmt.Errorf("SetLocalDescription: %w", err)
	}
	if err := s.p.Signal.Send(signaling.Message{
		Type:     signaling.MsgTypeAnswer,
		Answer:   &ans,
		CallerID: s.p.Peer.ID,
	}); err != nil {
		return err
	}

	// The callee counts as connected once the answer is away; the remote
	// track and transport-connected triggers race with this and whichever
	// fires first wins.
	s.transition(StateConnected)
	return nil
}

// handleMessage routes one inbound signaling message.
func (s *Session) handleMessage(msg signaling.Message) {
	switch msg.Type {
	case signaling.MsgTypeOffer:
		if msg.Offer == nil {
			return
		}
		peer := s.currentPeer()
		if peer == nil {
			util.LogDebug("[%s] offer before transport setup, dropped", s.id)
			return
		}
		if err := s.answer(peer, msg.Offer); err != nil {
			util.LogWarning("[%s] failed to answer offer: %v", s.id, err)
		}

	case signaling.MsgTypeAnswer:
		if msg.Answer == nil {
			return
		}
		peer := s.currentPeer()
		if peer == nil {
			return
		}
		s.negMu.Lock()
		err := peer.SetRemoteDescription(*msg.Answer)
		s.negMu.Unlock()
		if err != nil {
			util.LogWarning("[%s] failed to apply answer: %v", s.id, err)
			return
		}
		s.transition(StateConnected)

	case signaling.MsgTypeCandidate:
		if msg.Candidate == nil {
			return
		}
		peer := s.currentPeer()
		if peer == nil {
			util.LogDebug("[%s] candidate before transport setup, dropped", s.id)
			return
		}
		// Late or malformed candidates are expected in small numbers and
		// must not abort the call.
		if err := peer.AddICECandidate(*msg.Candidate); err != nil {
			util.LogWarning("[%s] failed to add remote candidate: %v", s.id, err)
		}

	case signaling.MsgTypeEnd:
		// Normal termination, not an error. No-op if already ended.
		s.end(nil)
	}
}

// ToggleMute flips the local audio track and returns the new muted state.
// Purely local: no signaling message, no state transition.
func (s *Session) ToggleMute() bool {
	s.mu.Lock()
	s.muted = !s.muted
	muted := s.muted
	peer := s.peer
	s.mu.Unlock()

	if peer != nil {
		if err := peer.SetAudioEnabled(!muted); err != nil {
			util.LogWarning("[%s] failed to toggle audio track: %v", s.id, err)
		}
	}
	return muted
}

// ToggleSpeaker flips local playback of the remote stream and returns the new
// speaker state. It has no effect on what the peer hears.
func (s *Session) ToggleSpeaker() bool {
	s.mu.Lock()
	s.speakerOn = !s.speakerOn
	on := s.speakerOn
	s.mu.Unlock()

	if s.p.Sink != nil {
		if on {
			s.p.Sink.SetVolume(1)
		} else {
			s.p.Sink.SetVolume(0)
		}
	}
	return on
}

// EndCall hangs up: a call-end message is sent best-effort, then cleanup
// runs. Safe to call multiple times; cleanup happens exactly once.
func (s *Session) EndCall() {
	if s.State() != StateEnded {
		err := s.p.Signal.Send(signaling.Message{
			Type:   signaling.MsgTypeEnd,
			PeerID: s.p.Peer.ID,
		})
		if err != nil {
			util.LogWarning("[%s] failed to send call-end: %v", s.id, err)
		}
	}
	s.end(nil)
}

// currentPeer returns the peer transport, or nil before setup completes.
func (s *Session) currentPeer() Peer {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.peer
}

// transition moves the state machine to the given state. Ended is terminal;
// repeated or post-terminal transitions are ignored. This is the single
// authoritative transition point, so racing connect triggers (remote track,
// transport connected, answer sent) resolve here instead of in whichever
// callback runs first.
func (s *Session) transition(to State) {
	s.mu.Lock()
	if s.state == to || s.state == StateEnded {
		s.mu.Unlock()
		return
	}
	from := s.state
	s.state = to
	cb := s.p.OnState
	s.mu.Unlock()

	util.LogInfo("[%s] call state: %s → %s", s.id, from, to)
	if to == StateConnected {
		util.Stats.AddConnected()
	}
	if cb != nil {
		cb(to)
	}
}

// end transitions to Ended and runs cleanup exactly once: stop local media,
// close the peer transport, close the signaling connection. A non-nil err is
// surfaced to the host afterwards.
func (s *Session) end(err error) {
	s.cleanupOnce.Do(func() {
		s.transition(StateEnded)

		s.mu.Lock()
		stream, peer := s.stream, s.peer
		s.mu.Unlock()

		if stream != nil {
			stream.Close()
		}
		if peer != nil {
			if cerr := peer.Close(); cerr != nil {
				util.LogDebug("[%s] peer transport close: %v", s.id, cerr)
			}
		}
		if cerr := s.p.Signal.Close(); cerr != nil {
			util.LogDebug("[%s] signaling close: %v", s.id, cerr)
		}

		if err != nil {
			util.LogError("[%s] call failed: %v", s.id, err)
			if s.p.OnError != nil {
				s.p.OnError(err)
			}
		}
		close(s.done)
	})
}
