// Package fusion matches acoustic DOA peaks with visually tracked faces
// and stabilizes a single target lock across time.
package fusion

import (
	"fmt"
	"math"
	"sort"

	"github.com/focusfield/focusfield/internal/msg"
)

// Weights combine the candidate component scores. They must sum to 1.
type Weights struct {
	Mouth float64
	Face  float64
	Doa   float64
}

// AssocConfig tunes the association stage.
type AssocConfig struct {
	MaxAssocDeg   float64
	Weights       Weights
	FacesMaxAgeMs int64
	UpdateHz      float64
}

// DefaultAssocConfig returns the documented defaults.
func DefaultAssocConfig() AssocConfig {
	return AssocConfig{
		MaxAssocDeg:   20,
		Weights:       Weights{Mouth: 0.4, Face: 0.25, Doa: 0.35},
		FacesMaxAgeMs: 300,
		UpdateHz:      10,
	}
}

// Validate rejects weight vectors that cannot produce scores in [0, 1].
func (c AssocConfig) Validate() error {
	w := c.Weights
	if w.Mouth < 0 || w.Face < 0 || w.Doa < 0 {
		return fmt.Errorf("fusion: negative association weight")
	}
	if sum := w.Mouth + w.Face + w.Doa; math.Abs(sum-1) > 1e-6 {
		return fmt.Errorf("fusion: association weights sum to %v, want 1", sum)
	}
	if c.MaxAssocDeg <= 0 || c.MaxAssocDeg > 180 {
		return fmt.Errorf("fusion: max_assoc_deg %v outside (0, 180]", c.MaxAssocDeg)
	}
	return nil
}

// Associator produces one scored candidate batch per tick. It is a pure
// transform; the worker owns the subscriptions and cadence.
type Associator struct {
	cfg AssocConfig
	seq uint64
}

// NewAssociator validates the config and returns the stage.
func NewAssociator(cfg AssocConfig) (*Associator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Associator{cfg: cfg}, nil
}

type pairing struct {
	peakIdx  int
	trackIdx int
	dist     float64
	combined float64
}

// Tick pairs each DOA peak with at most one face track, greedily by
// descending combined score. Unmatched peaks become audio-only candidates
// only when VAD reports speech and faces are stale or absent. An empty
// batch is still returned — the lock machine needs the heartbeat.
func (a *Associator) Tick(nowNs int64, hm *msg.DoaHeatmap, faces *msg.FaceTrackBatch, vad *msg.VoiceActivity) msg.CandidateBatch {
	a.seq++
	batch := msg.CandidateBatch{TNs: nowNs, Seq: a.seq}
	if hm == nil {
		return batch
	}

	facesFresh := faces != nil && len(faces.Tracks) > 0 &&
		nowNs-faces.TNs <= a.cfg.FacesMaxAgeMs*msToNs
	var tracks []msg.FaceTrack
	if facesFresh {
		tracks = faces.Tracks
	}

	// Score every gated (peak, track) pairing.
	w := a.cfg.Weights
	var pairs []pairing
	for pi, peak := range hm.Peaks {
		for ti, tr := range tracks {
			dist := msg.AngularDistanceDeg(peak.AngleDeg, tr.BearingDeg)
			if dist > a.cfg.MaxAssocDeg {
				continue
			}
			combined := w.Mouth*tr.MouthActivity + w.Face*tr.Confidence + w.Doa*peak.Score
			pairs = append(pairs, pairing{peakIdx: pi, trackIdx: ti, dist: dist, combined: combined})
		}
	}
	sort.Slice(pairs, func(i, j int) bool {
		if pairs[i].combined != pairs[j].combined {
			return pairs[i].combined > pairs[j].combined
		}
		return pairs[i].dist < pairs[j].dist
	})

	// Greedy matching: each track and each peak assigned at most once.
	peakUsed := make([]bool, len(hm.Peaks))
	trackUsed := make([]bool, len(tracks))
	for _, p := range pairs {
		if peakUsed[p.peakIdx] || trackUsed[p.trackIdx] {
			continue
		}
		peakUsed[p.peakIdx] = true
		trackUsed[p.trackIdx] = true
		tr := tracks[p.trackIdx]
		id := tr.TrackID
		peak := hm.Peaks[p.peakIdx]
		batch.Candidates = append(batch.Candidates, msg.AssociationCandidate{
			TNs:                nowNs,
			Seq:                a.seq,
			TrackID:            &id,
			DoaPeakDeg:         msg.WrapDeg(peak.AngleDeg),
			AngularDistanceDeg: p.dist,
			MouthScore:         tr.MouthActivity,
			FaceConfScore:      tr.Confidence,
			DoaPeakScore:       peak.Score,
			CombinedScore:      clamp01(p.combined),
		})
	}

	// Audio-only fallback. The weight vector renormalizes onto the one
	// available component so fallback scores still span [0, 1].
	if vad != nil && vad.Speech && !facesFresh {
		for pi, peak := range hm.Peaks {
			if peakUsed[pi] {
				continue
			}
			batch.Candidates = append(batch.Candidates, msg.AssociationCandidate{
				TNs:           nowNs,
				Seq:           a.seq,
				TrackID:       nil,
				DoaPeakDeg:    msg.WrapDeg(peak.AngleDeg),
				MouthScore:    0,
				FaceConfScore: 0,
				DoaPeakScore:  peak.Score,
				CombinedScore: clamp01(peak.Score),
			})
		}
	}

	sort.SliceStable(batch.Candidates, func(i, j int) bool {
		ci, cj := batch.Candidates[i], batch.Candidates[j]
		if ci.CombinedScore != cj.CombinedScore {
			return ci.CombinedScore > cj.CombinedScore
		}
		return ci.DoaPeakDeg < cj.DoaPeakDeg
	})
	return batch
}

const msToNs = 1_000_000

func clamp01(x float64) float64 {
	return math.Max(0, math.Min(1, x))
}
