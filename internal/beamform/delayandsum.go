// Package beamform steers a delay-and-sum beam toward the locked talker
// and emits one enhanced monaural block per input AudioFrame.
package beamform

import (
	"fmt"
	"math"
	"math/cmplx"

	"gonum.org/v1/gonum/dsp/fourier"

	"github.com/focusfield/focusfield/internal/doa"
	"github.com/focusfield/focusfield/internal/msg"
)

// NoLockBehavior selects the output while no usable lock is present.
type NoLockBehavior string

const (
	Omni     NoLockBehavior = "omni"      // unsteered channel average
	HoldLast NoLockBehavior = "hold_last" // keep steering at the last bearing
	Mute     NoLockBehavior = "mute"      // faded silence
)

// Config tunes the beamformer.
type Config struct {
	UseLastLockMs  int64
	NoLockBehavior NoLockBehavior
	MaxLatencyMs   int64
}

// DefaultConfig returns the documented defaults.
func DefaultConfig() Config {
	return Config{UseLastLockMs: 500, NoLockBehavior: Omni, MaxLatencyMs: 50}
}

// Validate rejects unknown no-lock behaviors.
func (c Config) Validate() error {
	switch c.NoLockBehavior {
	case Omni, HoldLast, Mute:
		return nil
	}
	return fmt.Errorf("beamform: unknown no_lock_behavior %q", c.NoLockBehavior)
}

// DelayAndSum applies fractional-sample steering delays per channel in the
// frequency domain and averages. One instance per stream; not safe for
// concurrent use. Output is produced once per input block, so the stage
// adds no buffering latency of its own.
type DelayAndSum struct {
	geom *doa.Geometry
	fs   int
	n    int // block samples

	fft     *fourier.FFT
	chTime  []float64
	chSpec  []complex128
	sumSpec []complex128
	out     []float64

	lastBearing float64
	hasBearing  bool
	prevGain    float64
}

// New sizes the beamformer for fixed blocks of blockSamples.
func New(geom *doa.Geometry, sampleRateHz, blockSamples int) *DelayAndSum {
	return &DelayAndSum{
		geom:     geom,
		fs:       sampleRateHz,
		n:        blockSamples,
		fft:      fourier.NewFFT(blockSamples),
		chTime:   make([]float64, blockSamples),
		chSpec:   make([]complex128, blockSamples/2+1),
		sumSpec:  make([]complex128, blockSamples/2+1),
		out:      make([]float64, blockSamples),
		prevGain: 1,
	}
}

// Result carries one processed block and its stats.
type Result struct {
	Mono  []float64 // borrowed; valid until the next Process call
	Stats msg.AudioStats
}

// Process beamforms one frame. bearing is the steering azimuth, or nil for
// the configured no-lock behavior. The returned error marks a geometry
// fault; the caller logs it and the output falls back to omni.
func (d *DelayAndSum) Process(f *msg.AudioFrame, bearing *float64, behavior NoLockBehavior) (Result, error) {
	var geomErr error
	if f.Channels != d.geom.Channels() || f.BlockSamples != d.n {
		geomErr = fmt.Errorf("beamform: frame %dch/%d samples, expected %dch/%d",
			f.Channels, f.BlockSamples, d.geom.Channels(), d.n)
		bearing = nil
		behavior = Omni
	}

	steer := bearing
	if steer == nil && behavior == HoldLast && d.hasBearing {
		b := d.lastBearing
		steer = &b
	}

	gain := 1.0
	switch {
	case steer != nil:
		d.steered(f, *steer)
		d.lastBearing = *steer
		d.hasBearing = true
	case behavior == Mute:
		// Render omni, then let the gain crossfade take it to silence so
		// the first muted block ramps instead of clicking.
		d.omni(f)
		gain = 0
	default:
		d.omni(f)
	}

	// Gain crossfade across the block when the target changes (mute
	// enter/exit); steady state applies the flat gain.
	switch {
	case gain != d.prevGain:
		from := d.prevGain
		span := gain - from
		for i := range d.out {
			d.out[i] *= from + span*float64(i)/float64(len(d.out)-1)
		}
	case gain != 1:
		for i := range d.out {
			d.out[i] *= gain
		}
	}
	d.prevGain = gain

	return Result{Mono: d.out, Stats: d.stats(f)}, geomErr
}

// omni is the unsteered channel average. It tolerates frames that do not
// match the configured shape, since it is also the degraded fallback.
func (d *DelayAndSum) omni(f *msg.AudioFrame) {
	n := d.n
	if f.BlockSamples < n {
		n = f.BlockSamples
	}
	inv := 1 / float64(f.Channels)
	for i := 0; i < n; i++ {
		var s float64
		base := i * f.Channels
		for ch := 0; ch < f.Channels; ch++ {
			s += float64(f.PCM[base+ch])
		}
		d.out[i] = s * inv
	}
	for i := n; i < d.n; i++ {
		d.out[i] = 0
	}
}

// steered aligns each channel for the bearing via a frequency-domain phase
// shift and averages. Channel order is fixed so summation is reproducible.
func (d *DelayAndSum) steered(f *msg.AudioFrame, bearingDeg float64) {
	for k := range d.sumSpec {
		d.sumSpec[k] = 0
	}
	for ch := 0; ch < f.Channels; ch++ {
		for i := 0; i < d.n; i++ {
			d.chTime[i] = float64(f.PCM[i*f.Channels+ch])
		}
		d.fft.Coefficients(d.chSpec, d.chTime)

		// The wavefront reaches this mic Delay() seconds early; delaying
		// by the same amount aligns it with the array origin.
		delay := d.geom.Delay(ch, bearingDeg)
		phi := 2 * math.Pi * float64(d.fs) / float64(d.n) * delay
		rot := complex(1, 0)
		step := cmplx.Exp(complex(0, -phi))
		for k := range d.chSpec {
			d.sumSpec[k] += d.chSpec[k] * rot
			rot *= step
		}
	}
	d.fft.Sequence(d.out, d.sumSpec)
	// Sequence(Coefficients(x)) scales by n; fold the channel average in.
	scale := 1 / (float64(d.n) * float64(f.Channels))
	for i := range d.out {
		d.out[i] *= scale
	}
}

// stats computes RMS, clip count, and suppression relative to the
// per-channel mean energy. Clipped samples are clamped in place.
func (d *DelayAndSum) stats(f *msg.AudioFrame) msg.AudioStats {
	var outPower float64
	clipped := 0
	for i, s := range d.out {
		if s > 1 {
			d.out[i], s = 1, 1
			clipped++
		} else if s < -1 {
			d.out[i], s = -1, -1
			clipped++
		}
		outPower += s * s
	}
	outPower /= float64(len(d.out))

	var inPower float64
	for _, s := range f.PCM {
		inPower += float64(s) * float64(s)
	}
	inPower /= float64(len(f.PCM))

	st := msg.AudioStats{RMS: math.Sqrt(outPower), Clipped: clipped}
	if inPower > 0 && outPower > 0 {
		st.SuppressionDB = 10 * math.Log10(inPower/outPower)
	}
	return st
}
