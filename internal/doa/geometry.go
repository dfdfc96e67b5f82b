// Package doa estimates the direction of arrival of active talkers from
// multichannel audio blocks, producing a 360-degree azimuth likelihood
// heatmap per update (SRP-PHAT, with a GCC-PHAT fallback for degraded
// array geometry).
package doa

import (
	"fmt"
	"math"
)

// Geometry describes the microphone array: per-channel positions in metres
// in the array plane, plus the speed of sound used for delay computation.
// Azimuth 0 points along +x, increasing toward +y; positions are expressed
// in that frame by the capture boundary.
type Geometry struct {
	mics [][2]float64
	c    float64
}

// NewGeometry validates mic positions against the configured channel count.
func NewGeometry(positions [][2]float64, speedOfSound float64, channels int) (*Geometry, error) {
	if len(positions) != channels {
		return nil, fmt.Errorf("doa: geometry has %d mics for %d channels", len(positions), channels)
	}
	if len(positions) < 2 {
		return nil, fmt.Errorf("doa: need at least 2 mics, got %d", len(positions))
	}
	if speedOfSound <= 0 {
		return nil, fmt.Errorf("doa: speed of sound must be positive, got %v", speedOfSound)
	}
	mics := make([][2]float64, len(positions))
	copy(mics, positions)
	return &Geometry{mics: mics, c: speedOfSound}, nil
}

// Channels is the number of microphones.
func (g *Geometry) Channels() int { return len(g.mics) }

// SpeedOfSound in metres per second.
func (g *Geometry) SpeedOfSound() float64 { return g.c }

// Degenerate reports whether the array cannot support steered-response
// estimation: fewer than two distinct mic positions. Collinear arrays stay
// on SRP-PHAT; they resolve azimuth up to mirror symmetry and peak
// tie-breaking picks a stable side.
func (g *Geometry) Degenerate() bool {
	const eps = 1e-6
	for i := 1; i < len(g.mics); i++ {
		dx := g.mics[i][0] - g.mics[0][0]
		dy := g.mics[i][1] - g.mics[0][1]
		if math.Hypot(dx, dy) > eps {
			return false
		}
	}
	return true
}

// Delay returns the arrival-time advance, in seconds, of channel ch for a
// plane wave from azimuth thetaDeg: (p_ch · u(θ)) / c. Positive means the
// wavefront reaches this mic before the array origin.
func (g *Geometry) Delay(ch int, thetaDeg float64) float64 {
	r := thetaDeg * math.Pi / 180
	ux, uy := math.Cos(r), math.Sin(r)
	return (g.mics[ch][0]*ux + g.mics[ch][1]*uy) / g.c
}

// Pairs lists the unordered mic pairs (i < j) in a fixed order so that
// score accumulation is reproducible across runs.
func (g *Geometry) Pairs() [][2]int {
	n := len(g.mics)
	pairs := make([][2]int, 0, n*(n-1)/2)
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			pairs = append(pairs, [2]int{i, j})
		}
	}
	return pairs
}

// PairSpacing is the distance in metres between two mics of a pair.
func (g *Geometry) PairSpacing(i, j int) float64 {
	dx := g.mics[i][0] - g.mics[j][0]
	dy := g.mics[i][1] - g.mics[j][1]
	return math.Hypot(dx, dy)
}

// PairAxisDeg is the azimuth of the i→j axis, wrapped to [0, 360).
func (g *Geometry) PairAxisDeg(i, j int) float64 {
	dx := g.mics[j][0] - g.mics[i][0]
	dy := g.mics[j][1] - g.mics[i][1]
	deg := math.Atan2(dy, dx) * 180 / math.Pi
	if deg < 0 {
		deg += 360
	}
	return deg
}
