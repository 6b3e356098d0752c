package audio

import "math"

// levelGain maps typical conversational RMS energy onto the unit interval.
const levelGain = 4.0

// Level computes a normalized loudness sample from little-endian PCM16
// audio: root-mean-square energy, fixed gain, clamped to [0,1].
// Pure function, safe for every captured frame.
func Level(pcm []byte) float64 {
	return LevelWithGain(pcm, levelGain)
}

// LevelWithGain is Level with a caller-supplied gain multiplier.
func LevelWithGain(pcm []byte, gain float64) float64 {
	n := len(pcm) / 2
	if n == 0 {
		return 0
	}
	var sum float64
	for i := 0; i < n; i++ {
		s := float64(int16(uint16(pcm[i*2]) | uint16(pcm[i*2+1])<<8)) / 32768.0
		sum += s * s
	}
	v := math.Sqrt(sum/float64(n)) * gain
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// SpeechGate decides whether a stream of loudness samples constitutes
// genuine speech. Hysteresis avoids flickering between speech and silence.
type SpeechGate struct {
	speechThreshold  float64
	silenceThreshold float64
	speechFrames     int
	silenceFrames    int

	inSpeech     bool
	speechCount  int
	silenceCount int
}

// NewSpeechGate returns a gate tuned for 16 kHz 20 ms frames.
func NewSpeechGate() *SpeechGate {
	return &SpeechGate{
		speechThreshold:  0.06,
		silenceThreshold: 0.03,
		speechFrames:     3,  // ~60 ms to open
		silenceFrames:    30, // ~600 ms to close
	}
}

// Update feeds one loudness sample and reports whether speech is active.
func (g *SpeechGate) Update(level float64) bool {
	if g.inSpeech {
		if level < g.silenceThreshold {
			g.silenceCount++
			g.speechCount = 0
			if g.silenceCount >= g.silenceFrames {
				g.inSpeech = false
				g.silenceCount = 0
			}
		} else {
			g.silenceCount = 0
		}
		return g.inSpeech
	}
	if level >= g.speechThreshold {
		g.speechCount++
		g.silenceCount = 0
		if g.speechCount >= g.speechFrames {
			g.inSpeech = true
			g.speechCount = 0
		}
	} else {
		g.speechCount = 0
	}
	return g.inSpeech
}

// Reset clears internal state.
func (g *SpeechGate) Reset() {
	g.inSpeech = false
	g.speechCount = 0
	g.silenceCount = 0
}
