package doa

import (
	"math"
	"math/cmplx"

	"gonum.org/v1/gonum/dsp/fourier"
)

// GCCPhat is the degraded-geometry fallback: a single canonical mic pair
// cross-correlated with PHAT weighting. It produces a broad single-peak
// heatmap; the caller publishes it with confidence 0.
type GCCPhat struct {
	fft      *fourier.FFT
	window   []float64
	n        int
	fs       int
	binCount int
	binSize  float64
	spacing  float64 // canonical pair spacing in metres
	axisDeg  float64 // canonical pair axis azimuth
	c        float64
	xi, xj   []complex128
	cross    []complex128
	corr     []float64
	scratch  []float64
}

// NewGCCPhat builds the fallback around the pair (0, 1) of the geometry.
func NewGCCPhat(cfg Config, geom *Geometry, sampleRateHz int) *GCCPhat {
	n := cfg.FFTSize
	return &GCCPhat{
		fft:      fourier.NewFFT(n),
		window:   hann(n),
		n:        n,
		fs:       sampleRateHz,
		binCount: int(360 / cfg.BinSizeDeg),
		binSize:  cfg.BinSizeDeg,
		spacing:  geom.PairSpacing(0, 1),
		axisDeg:  geom.PairAxisDeg(0, 1),
		c:        geom.SpeedOfSound(),
		xi:       make([]complex128, n/2+1),
		xj:       make([]complex128, n/2+1),
		cross:    make([]complex128, n/2+1),
		corr:     make([]float64, n),
		scratch:  make([]float64, n),
	}
}

// Analyze cross-correlates channels 0 and 1 and spreads a raised-cosine
// lobe around the implied bearing. The lobe is intentionally wide: with a
// single pair the estimate carries a front/back ambiguity and no elevation
// rejection, so downstream consumers only get a coarse steer hint.
func (g *GCCPhat) Analyze(chans [][]float64) []float64 {
	scores := make([]float64, g.binCount)
	if len(chans) < 2 || len(chans[0]) < g.n || len(chans[1]) < g.n {
		return scores
	}
	for i := 0; i < g.n; i++ {
		g.scratch[i] = chans[0][i] * g.window[i]
	}
	g.fft.Coefficients(g.xi, g.scratch)
	for i := 0; i < g.n; i++ {
		g.scratch[i] = chans[1][i] * g.window[i]
	}
	g.fft.Coefficients(g.xj, g.scratch)

	const eps = 1e-12
	for k := range g.cross {
		x := g.xi[k] * cmplx.Conj(g.xj[k])
		mag := cmplx.Abs(x)
		g.cross[k] = x * complex(1/(mag+eps), 0)
	}
	g.fft.Sequence(g.corr, g.cross)

	// Peak lag, constrained to physically possible delays for the pair.
	maxLag := int(math.Ceil(g.spacing / g.c * float64(g.fs)))
	if maxLag < 1 || maxLag > g.n/2 {
		maxLag = g.n / 2
	}
	bestLag, bestVal := 0, math.Inf(-1)
	for lag := -maxLag; lag <= maxLag; lag++ {
		idx := lag
		if idx < 0 {
			idx += g.n
		}
		if g.corr[idx] > bestVal {
			bestVal = g.corr[idx]
			bestLag = lag
		}
	}
	if bestVal <= 0 {
		return scores
	}

	// lag -> bearing relative to the pair axis: cos(theta) = lag*c/(fs*d).
	center := g.axisDeg
	if g.spacing > 0 {
		cosT := float64(bestLag) * g.c / (float64(g.fs) * g.spacing)
		cosT = math.Max(-1, math.Min(1, cosT))
		center = g.axisDeg + math.Acos(cosT)*180/math.Pi
	}

	// Broad raised-cosine lobe (90 degrees half-width) around the center.
	const halfWidthDeg = 90.0
	for b := 0; b < g.binCount; b++ {
		angle := float64(b) * g.binSize
		d := angle - center
		for d > 180 {
			d -= 360
		}
		for d < -180 {
			d += 360
		}
		if math.Abs(d) <= halfWidthDeg {
			scores[b] = 0.5 * (1 + math.Cos(math.Pi*d/halfWidthDeg))
		}
	}
	return scores
}
