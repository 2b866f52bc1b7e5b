// Package media acquires local microphone/camera capture for a call.
package media

import (
	"fmt"
	"sync"

	"github.com/pion/mediadevices"
	"github.com/pion/mediadevices/pkg/codec/opus"
	"github.com/pion/mediadevices/pkg/codec/vpx"
	_ "github.com/pion/mediadevices/pkg/driver/camera"
	_ "github.com/pion/mediadevices/pkg/driver/microphone"
	"github.com/pion/mediadevices/pkg/frame"
	"github.com/pion/mediadevices/pkg/prop"
	"github.com/pion/webrtc/v4"

	"github.com/swapit-app/calls/internal/call"
	"github.com/swapit-app/calls/internal/util"
)

// Stream owns the local capture tracks for one call: Opus audio always, VP8
// video when requested.
type Stream struct {
	tracks    []mediadevices.Track
	audio     mediadevices.Track
	video     mediadevices.Track
	selector  *mediadevices.CodecSelector
	closeOnce sync.Once
}

// Capture opens the local devices. There is no retry and no fallback to a
// reduced track set: permission prompts are user-interactive, and a failure
// here must abort the call before any signaling is sent. Errors carry
// call.ErrMediaAccess.
func Capture(video bool) (*Stream, error) {
	selector, err := newCodecSelector(video)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", call.ErrMediaAccess, err)
	}

	constraints := mediadevices.MediaStreamConstraints{
		Codec: selector,
		Audio: func(_ *mediadevices.MediaTrackConstraints) {},
	}
	if video {
		constraints.Video = func(c *mediadevices.MediaTrackConstraints) {
			// Raw frame formats only; some cameras expose an MJPEG node that
			// produces malformed frames and poisons the VP8 encoder.
			c.FrameFormat = prop.FrameFormatOneOf{
				frame.FormatYUYV,
				frame.FormatI420,
				frame.FormatI444,
				frame.FormatRGBA,
			}
			c.Width = prop.IntRanged{Max: 640}
			c.Height = prop.IntRanged{Max: 480}
		}
	}

	ms, err := mediadevices.GetUserMedia(constraints)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", call.ErrMediaAccess, err)
	}

	s := &Stream{selector: selector}
	for _, track := range ms.GetTracks() {
		track.OnEnded(func(err error) {
			if err != nil {
				util.LogDebug("local track ended: %v", err)
			}
		})
		s.tracks = append(s.tracks, track)
		switch track.Kind() {
		case webrtc.RTPCodecTypeAudio:
			s.audio = track
		case webrtc.RTPCodecTypeVideo:
			s.video = track
		}
	}
	if s.audio == nil {
		s.Close()
		return nil, fmt.Errorf("%w: no audio track captured", call.ErrMediaAccess)
	}

	util.LogDebug("local media captured — %d tracks", len(s.tracks))
	return s, nil
}

// Tracks returns all captured tracks.
func (s *Stream) Tracks() []mediadevices.Track { return s.tracks }

// AudioTrack returns the captured audio track.
func (s *Stream) AudioTrack() mediadevices.Track { return s.audio }

// VideoTrack returns the captured video track, or nil for audio-only calls.
func (s *Stream) VideoTrack() mediadevices.Track { return s.video }

// CodecSelector returns the selector used for capture; the peer transport
// populates its MediaEngine from it so encoder and SDP stay in sync.
func (s *Stream) CodecSelector() *mediadevices.CodecSelector { return s.selector }

// Close stops every captured track. Idempotent.
func (s *Stream) Close() {
	s.closeOnce.Do(func() {
		for _, t := range s.tracks {
			if err := t.Close(); err != nil {
				util.LogDebug("track close: %v", err)
			}
		}
	})
}

// newCodecSelector builds an Opus (+VP8 for video calls) codec selector.
func newCodecSelector(video bool) (*mediadevices.CodecSelector, error) {
	opusParams, err := opus.NewParams()
	if err != nil {
		return nil, err
	}
	opts := []mediadevices.CodecSelectorOption{
		mediadevices.WithAudioEncoders(&opusParams),
	}
	if video {
		vpxParams, err := vpx.NewVP8Params()
		if err != nil {
			return nil, err
		}
		vpxParams.BitRate = 1_500_000 // 1.5 Mbps
		opts = append(opts, mediadevices.WithVideoEncoders(&vpxParams))
	}
	return mediadevices.NewCodecSelector(opts...), nil
}
