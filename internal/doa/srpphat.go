package doa

import (
	"fmt"
	"math"
	"math/cmplx"

	"gonum.org/v1/gonum/dsp/fourier"
)

// Config holds the DOA estimator parameters.
type Config struct {
	BinSizeDeg     float64 // azimuth bin width; must divide 360
	FreqLoHz       float64 // lower edge of the analysis band
	FreqHiHz       float64 // upper edge of the analysis band
	FFTSize        int     // analysis window length in samples
	UpdateHz       float64 // minimum heatmap emission rate
	SmoothingAlpha float64 // EMA weight on the previous heatmap, in [0, 1]
	TopKPeaks      int
	GateOnVAD      bool
	VadGateFactor  float64 // confidence multiplier while VAD-gated
}

// DefaultConfig mirrors the documented configuration surface.
func DefaultConfig() Config {
	return Config{
		BinSizeDeg:     2,
		FreqLoHz:       300,
		FreqHiHz:       3800,
		FFTSize:        1024,
		UpdateHz:       10,
		SmoothingAlpha: 0.3,
		TopKPeaks:      3,
		GateOnVAD:      true,
		VadGateFactor:  0.3,
	}
}

// Estimator computes SRP-PHAT azimuth heatmaps. It is not safe for
// concurrent use; the DOA worker owns one.
type Estimator struct {
	cfg  Config
	geom *Geometry
	fs   int

	fft    *fourier.FFT
	window []float64
	pairs  [][2]int
	kLo    int
	kHi    int

	// Per pair, per azimuth bin: steering rotation for frequency bin kLo
	// and the per-bin increment, so the inner loop is one complex multiply.
	steerStart [][]complex128
	steerStep  [][]complex128

	binCount int
	spectra  [][]complex128
	cross    []complex128
	scratch  []float64
}

// NewEstimator precomputes windows and steering tables for the geometry.
func NewEstimator(cfg Config, geom *Geometry, sampleRateHz int) (*Estimator, error) {
	if cfg.BinSizeDeg <= 0 || math.Mod(360, cfg.BinSizeDeg) != 0 {
		return nil, fmt.Errorf("doa: bin size %v does not divide 360", cfg.BinSizeDeg)
	}
	if cfg.FFTSize < 64 {
		return nil, fmt.Errorf("doa: fft size %d too small", cfg.FFTSize)
	}
	nyquist := float64(sampleRateHz) / 2
	if cfg.FreqLoHz < 0 || cfg.FreqHiHz <= cfg.FreqLoHz || cfg.FreqHiHz > nyquist {
		return nil, fmt.Errorf("doa: frequency band [%v, %v] invalid for fs=%d", cfg.FreqLoHz, cfg.FreqHiHz, sampleRateHz)
	}
	if cfg.SmoothingAlpha < 0 || cfg.SmoothingAlpha > 1 {
		return nil, fmt.Errorf("doa: smoothing alpha %v outside [0, 1]", cfg.SmoothingAlpha)
	}

	n := cfg.FFTSize
	binCount := int(360 / cfg.BinSizeDeg)
	e := &Estimator{
		cfg:      cfg,
		geom:     geom,
		fs:       sampleRateHz,
		fft:      fourier.NewFFT(n),
		window:   hann(n),
		pairs:    geom.Pairs(),
		binCount: binCount,
		cross:    make([]complex128, n/2+1),
		scratch:  make([]float64, n),
	}

	// Frequency bin k covers k*fs/n Hz.
	e.kLo = int(math.Ceil(cfg.FreqLoHz * float64(n) / float64(sampleRateHz)))
	if e.kLo < 1 {
		e.kLo = 1 // skip DC
	}
	e.kHi = int(math.Floor(cfg.FreqHiHz * float64(n) / float64(sampleRateHz)))
	if e.kHi > n/2 {
		e.kHi = n / 2
	}

	e.spectra = make([][]complex128, geom.Channels())
	for ch := range e.spectra {
		e.spectra[ch] = make([]complex128, n/2+1)
	}

	e.steerStart = make([][]complex128, len(e.pairs))
	e.steerStep = make([][]complex128, len(e.pairs))
	for p, pair := range e.pairs {
		e.steerStart[p] = make([]complex128, binCount)
		e.steerStep[p] = make([]complex128, binCount)
		for b := 0; b < binCount; b++ {
			theta := float64(b) * cfg.BinSizeDeg
			// Expected inter-mic advance for a source at theta. The
			// whitened cross-spectrum carries exp(+j2πf·delta) for the
			// true direction, so steering multiplies by the conjugate.
			delta := geom.Delay(pair[0], theta) - geom.Delay(pair[1], theta)
			phi := 2 * math.Pi * float64(sampleRateHz) / float64(n) * delta
			e.steerStep[p][b] = cmplx.Exp(complex(0, -phi))
			e.steerStart[p][b] = cmplx.Exp(complex(0, -phi*float64(e.kLo)))
		}
	}
	return e, nil
}

// BinCount is the number of azimuth bins.
func (e *Estimator) BinCount() int { return e.binCount }

// BinAngleDeg is the azimuth of bin b.
func (e *Estimator) BinAngleDeg(b int) float64 { return float64(b) * e.cfg.BinSizeDeg }

// Analyze computes the raw steered-response scores for one analysis window.
// chans must hold Channels() slices of at least FFTSize samples each; only
// the first FFTSize samples are used. The result is unnormalized; feed it
// through Post. Accumulation order is fixed (pairs, then ascending
// frequency) so replayed runs reproduce bit-identical scores.
func (e *Estimator) Analyze(chans [][]float64) ([]float64, error) {
	if len(chans) != e.geom.Channels() {
		return nil, fmt.Errorf("doa: got %d channels, geometry has %d", len(chans), e.geom.Channels())
	}
	n := e.cfg.FFTSize
	for ch, samples := range chans {
		if len(samples) < n {
			return nil, fmt.Errorf("doa: channel %d has %d samples, need %d", ch, len(samples), n)
		}
		for i := 0; i < n; i++ {
			e.scratch[i] = samples[i] * e.window[i]
		}
		e.fft.Coefficients(e.spectra[ch], e.scratch)
	}

	scores := make([]float64, e.binCount)
	const eps = 1e-12
	for p, pair := range e.pairs {
		xi, xj := e.spectra[pair[0]], e.spectra[pair[1]]
		for k := e.kLo; k <= e.kHi; k++ {
			g := xi[k] * cmplx.Conj(xj[k])
			mag := cmplx.Abs(g)
			e.cross[k] = g * complex(1/(mag+eps), 0)
		}
		for b := 0; b < e.binCount; b++ {
			rot := e.steerStart[p][b]
			step := e.steerStep[p][b]
			var acc float64
			for k := e.kLo; k <= e.kHi; k++ {
				acc += real(e.cross[k] * rot)
				rot *= step
			}
			scores[b] += acc
		}
	}
	return scores, nil
}

func hann(n int) []float64 {
	w := make([]float64, n)
	for i := range w {
		w[i] = 0.5 * (1 - math.Cos(2*math.Pi*float64(i)/float64(n-1)))
	}
	return w
}
