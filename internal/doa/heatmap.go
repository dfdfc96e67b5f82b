package doa

import (
	"math"
	"sort"

	"github.com/focusfield/focusfield/internal/msg"
)

// Post turns raw steered-response scores into the published heatmap:
// min-subtract and max-normalize, EMA against the previous frame, renormalize,
// then pick peaks and derive confidence. One Post instance per stream; it
// carries the smoothing state.
type Post struct {
	cfg    Config
	prev   []float64
	primed bool
}

// NewPost creates the post-processing stage for an estimator's output.
func NewPost(cfg Config) *Post {
	return &Post{cfg: cfg}
}

// Reset clears the smoothing state.
func (p *Post) Reset() { p.primed = false }

// Apply normalizes, smooths, and peak-picks one raw score vector; raw is
// left unmodified.
// Returns the final scores (max == 1 unless the block was silent), the
// top-K peaks, and the confidence before any VAD gating.
func (p *Post) Apply(raw []float64) ([]float64, []msg.Peak, float64) {
	scores := make([]float64, len(raw))
	copy(scores, raw)

	// Subtract the floor so wide-band noise cannot push bins negative,
	// then scale the max to 1. A silent block stays all-zero.
	min, max := minMax(scores)
	for i := range scores {
		scores[i] -= min
	}
	if span := max - min; span > 0 {
		for i := range scores {
			scores[i] /= span
		}
	}

	// EMA against the previous emitted heatmap, then renormalize so the
	// max-is-1 invariant holds after smoothing.
	alpha := p.cfg.SmoothingAlpha
	if p.primed && alpha > 0 {
		for i := range scores {
			scores[i] = (1-alpha)*scores[i] + alpha*p.prev[i]
		}
		if _, m := minMax(scores); m > 0 {
			for i := range scores {
				scores[i] /= m
			}
		}
	}
	if p.prev == nil {
		p.prev = make([]float64, len(scores))
	}
	copy(p.prev, scores)
	p.primed = true

	peaks := p.pickPeaks(scores)
	return scores, peaks, confidence(scores)
}

// pickPeaks finds up to TopKPeaks circular local maxima separated by at
// least max(3*binSize, 10) degrees. Ties break toward the higher score,
// then the smaller angle.
func (p *Post) pickPeaks(scores []float64) []msg.Peak {
	n := len(scores)
	if n == 0 {
		return nil
	}
	type cand struct {
		bin   int
		score float64
	}
	var cands []cand
	for i := 0; i < n; i++ {
		prev := scores[(i+n-1)%n]
		next := scores[(i+1)%n]
		if scores[i] > 0 && scores[i] > prev && scores[i] >= next {
			cands = append(cands, cand{bin: i, score: scores[i]})
		}
	}
	sort.Slice(cands, func(a, b int) bool {
		if cands[a].score != cands[b].score {
			return cands[a].score > cands[b].score
		}
		return cands[a].bin < cands[b].bin
	})

	sep := 3 * p.cfg.BinSizeDeg
	if sep < 10 {
		sep = 10
	}
	var peaks []msg.Peak
	for _, c := range cands {
		if len(peaks) >= p.cfg.TopKPeaks {
			break
		}
		angle := float64(c.bin) * p.cfg.BinSizeDeg
		tooClose := false
		for _, pk := range peaks {
			if msg.AngularDistanceDeg(angle, pk.AngleDeg) < sep {
				tooClose = true
				break
			}
		}
		if !tooClose {
			peaks = append(peaks, msg.Peak{AngleDeg: msg.WrapDeg(angle), Score: c.score})
		}
	}
	return peaks
}

// confidence maps heatmap sharpness to [0, 1] via the peak-to-mean ratio.
// With max normalized to 1 this reduces to 1 - mean: a flat map scores 0,
// a single sharp peak approaches 1.
func confidence(scores []float64) float64 {
	if len(scores) == 0 {
		return 0
	}
	var sum, max float64
	for _, s := range scores {
		sum += s
		if s > max {
			max = s
		}
	}
	if max <= 0 {
		return 0
	}
	c := 1 - sum/float64(len(scores))
	return math.Max(0, math.Min(1, c))
}

func minMax(xs []float64) (min, max float64) {
	if len(xs) == 0 {
		return 0, 0
	}
	min, max = xs[0], xs[0]
	for _, x := range xs[1:] {
		if x < min {
			min = x
		}
		if x > max {
			max = x
		}
	}
	return min, max
}
