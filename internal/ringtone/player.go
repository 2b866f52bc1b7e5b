// Package ringtone plays the audible incoming-call alert: the user's chosen
// ringtone file when playable, otherwise a synthesized beep. An incoming call
// must never be silently swallowed, so every failure either falls back or is
// logged at error level.
package ringtone

import (
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/gen2brain/malgo"
	"github.com/go-audio/audio"
	"github.com/go-audio/wav"

	"github.com/swapit-app/calls/internal/util"
)

// Player loops one sound until stopped. Safe for concurrent use; Play while
// already playing is a no-op, as is Stop while idle.
type Player struct {
	path string

	mu      sync.Mutex
	playing bool
	stop    chan struct{}
}

// NewPlayer creates a player for the ringtone at path. An empty path skips
// straight to the fallback tone.
func NewPlayer(path string) *Player {
	return &Player{path: path}
}

// Play starts the ringtone loop in the background.
func (p *Player) Play() {
	p.mu.Lock()
	if p.playing {
		p.mu.Unlock()
		return
	}
	p.playing = true
	stop := make(chan struct{})
	p.stop = stop
	p.mu.Unlock()

	go p.loop(stop)
}

// Stop ends the ringtone loop.
func (p *Player) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.playing {
		return
	}
	p.playing = false
	close(p.stop)
}

func (p *Player) loop(stop chan struct{}) {
	pcm, rate, channels, err := loadWAV(p.path)
	if err != nil {
		util.LogWarning("ringtone %q unavailable (%v), using fallback tone", p.path, err)
		pcm, rate, channels = BeepPattern(toneRate), toneRate, 1
	}
	if err := playLoop(pcm, rate, channels, stop); err != nil {
		util.LogError("incoming-call alert could not be played: %v", err)
	}
}

// playLoop feeds the PCM buffer to the default playback device, wrapping
// around until stop is closed.
func playLoop(pcm []int16, rate, channels int, stop chan struct{}) error {
	mctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return fmt.Errorf("audio context: %w", err)
	}
	defer func() {
		_ = mctx.Uninit()
		mctx.Free()
	}()

	cfg := malgo.DefaultDeviceConfig(malgo.Playback)
	cfg.Playback.Format = malgo.FormatS16
	cfg.Playback.Channels = uint32(channels)
	cfg.SampleRate = uint32(rate)

	pos := 0
	callbacks := malgo.DeviceCallbacks{
		Data: func(out, _ []byte, frameCount uint32) {
			n := int(frameCount) * channels
			for i := 0; i < n && 2*i+1 < len(out); i++ {
				s := pcm[pos]
				out[2*i] = byte(s)
				out[2*i+1] = byte(s >> 8)
				pos = (pos + 1) % len(pcm)
			}
		},
	}

	device, err := malgo.InitDevice(mctx.Context, cfg, callbacks)
	if err != nil {
		return fmt.Errorf("playback device: %w", err)
	}
	defer device.Uninit()

	if err := device.Start(); err != nil {
		return fmt.Errorf("playback start: %w", err)
	}
	<-stop
	return nil
}

// loadWAV decodes the ringtone file into 16-bit PCM.
func loadWAV(path string) ([]int16, int, int, error) {
	if path == "" {
		return nil, 0, 0, errors.New("no ringtone configured")
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, 0, 0, err
	}
	defer f.Close()

	dec := wav.NewDecoder(f)
	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return nil, 0, 0, fmt.Errorf("decode wav: %w", err)
	}
	if buf == nil || len(buf.Data) == 0 {
		return nil, 0, 0, errors.New("empty wav file")
	}
	return pcm16(buf, int(dec.BitDepth)), buf.Format.SampleRate, buf.Format.NumChannels, nil
}

// pcm16 converts a decoded buffer of the given source bit depth to 16-bit
// samples.
func pcm16(buf *audio.IntBuffer, depth int) []int16 {
	pcm := make([]int16, len(buf.Data))
	switch {
	case depth > 16:
		shift := uint(depth - 16)
		for i, v := range buf.Data {
			pcm[i] = int16(v >> shift)
		}
	case depth < 16 && depth > 0:
		shift := uint(16 - depth)
		for i, v := range buf.Data {
			pcm[i] = int16(v << shift)
		}
	default:
		for i, v := range buf.Data {
			pcm[i] = int16(v)
		}
	}
	return pcm
}
