// Package capture turns native-rate microphone samples into fixed-size
// 16 kHz PCM16 frames ready for the wire.
package capture

import (
	"fmt"
	"math"
)

const (
	// TargetRate is the sample rate the assist backend expects on input.
	TargetRate = 16000

	// FrameSamples is the number of 16 kHz samples per outbound frame
	// (100 ms of audio).
	FrameSamples = 1600
)

// Pipeline accumulates float32 samples at a fixed native rate and emits
// complete PCM16 frames at the target rate. It is not safe for concurrent
// use; callers feed it from a single capture goroutine.
type Pipeline struct {
	nativeRate int
	ratio      float64
	need       int // native samples consumed per emitted frame

	buf   []float32
	muted bool
}

func NewPipeline(nativeRate int) (*Pipeline, error) {
	if nativeRate < TargetRate {
		return nil, fmt.Errorf("capture: native rate %d below target %d", nativeRate, TargetRate)
	}
	ratio := float64(nativeRate) / float64(TargetRate)
	return &Pipeline{
		nativeRate: nativeRate,
		ratio:      ratio,
		need:       int(math.Ceil(float64(FrameSamples) * ratio)),
	}, nil
}

// SetMuted toggles the microphone. While muted, pushed samples are dropped
// before they enter the buffer, so no frames are produced from muted audio.
func (p *Pipeline) SetMuted(muted bool) { p.muted = muted }

func (p *Pipeline) Muted() bool { return p.muted }

// Push appends captured samples and returns zero or more complete frames.
// Each frame is FrameSamples int16 values at TargetRate. Leftover native
// samples are carried to the next call.
func (p *Pipeline) Push(samples []float32) [][]int16 {
	if p.muted || len(samples) == 0 {
		return nil
	}
	p.buf = append(p.buf, samples...)

	var frames [][]int16
	for len(p.buf) >= p.need {
		frames = append(frames, p.resampleFrame(p.buf[:p.need]))
		p.buf = p.buf[:copy(p.buf, p.buf[p.need:])]
	}
	return frames
}

// resampleFrame downsamples one frame's worth of native samples by
// nearest-neighbor pick and converts to PCM16.
func (p *Pipeline) resampleFrame(native []float32) []int16 {
	out := make([]int16, FrameSamples)
	for i := range out {
		src := int(math.Floor(float64(i) * p.ratio))
		if src >= len(native) {
			src = len(native) - 1
		}
		out[i] = sampleToPCM16(native[src])
	}
	return out
}

func sampleToPCM16(s float32) int16 {
	v := math.Round(float64(s) * 32768)
	if v > 32767 {
		v = 32767
	}
	if v < -32768 {
		v = -32768
	}
	return int16(v)
}

// Bytes encodes a frame as little-endian PCM16, the layout the wire and
// the playback tools both use.
func Bytes(frame []int16) []byte {
	b := make([]byte, len(frame)*2)
	for i, s := range frame {
		b[2*i] = byte(s)
		b[2*i+1] = byte(s >> 8)
	}
	return b
}

// Level reports the RMS of a frame, normalized to [0, 1]. Callers use it to
// drive input level meters.
func Level(frame []int16) float64 {
	if len(frame) == 0 {
		return 0
	}
	var sum float64
	for _, s := range frame {
		f := float64(s) / 32768
		sum += f * f
	}
	return math.Sqrt(sum / float64(len(frame)))
}
