package ringtone

import "math"

// Fallback alert tone parameters: an 800 Hz sine burst of 200 ms at the start
// of every second, mirroring the oscillator beep used when no ringtone file
// is playable.
const (
	toneFreq   = 800
	toneRate   = 48000
	burstMs    = 200
	periodMs   = 1000
	toneVolume = 0.3
)

// BeepPattern returns one period of the fallback alert as mono 16-bit PCM at
// the given sample rate. Looping it yields the repeating beep.
func BeepPattern(rate int) []int16 {
	total := rate * periodMs / 1000
	burst := rate * burstMs / 1000
	pcm := make([]int16, total)
	for i := 0; i < burst; i++ {
		v := toneVolume * math.Sin(2*math.Pi*toneFreq*float64(i)/float64(rate))
		pcm[i] = int16(v * math.MaxInt16)
	}
	return pcm
}
