package fusion

import (
	"github.com/focusfield/focusfield/internal/msg"
)

// LockConfig tunes the hysteretic target selector. DropThreshold must stay
// below AcquireThreshold; the gap is the hysteresis band.
type LockConfig struct {
	AcquireThreshold float64
	DropThreshold    float64
	SpeakingOn       float64 // mouth-activity level treated as speaking
	AcquireDwellMs   int64
	HoldMs           int64
	HandoffMinMs     int64
	HandoffMargin    float64
	RequireVAD       bool
}

// DefaultLockConfig returns the documented defaults.
func DefaultLockConfig() LockConfig {
	return LockConfig{
		AcquireThreshold: 0.6,
		DropThreshold:    0.35,
		SpeakingOn:       0.5,
		AcquireDwellMs:   150,
		HoldMs:           800,
		HandoffMinMs:     700,
		HandoffMargin:    0.1,
		RequireVAD:       true,
	}
}

// bearingMatchDeg bounds how far an audio-only candidate may drift from the
// held bearing and still count as the same target.
const bearingMatchDeg = 20.0

// visionOnlyDoaFloor: below this DOA peak score, a face-backed lock is
// running on vision evidence alone.
const visionOnlyDoaFloor = 0.2

// target is the machine's snapshot of who it is steering at.
type target struct {
	id       *string // nil while in audio-only fallback
	bearing  float64
	score    float64
	mouth    float64
	doaScore float64
}

// Machine is the five-state lock selector. All timing uses message t_ns so
// replayed runs are deterministic. Not safe for concurrent use; the lock
// worker owns one.
type Machine struct {
	cfg   LockConfig
	crash func(reason string, state any) // kind-4 hook; may be nil

	state msg.LockState
	seq   uint64

	// ACQUIRE bookkeeping
	candID     *string
	candStartT int64

	tgt        target
	holdStartT int64

	// HANDOFF bookkeeping
	chal        target
	chalStartT  int64
	lastCommitT int64

	stab   msg.StabilityStats
	reason string
}

// NewMachine creates the selector in NO_LOCK. crash is the kind-4 fault
// hook; pass nil to ignore invariant violations (tests).
func NewMachine(cfg LockConfig, crash func(reason string, state any)) *Machine {
	return &Machine{cfg: cfg, crash: crash, state: msg.StateNoLock, reason: "no lock"}
}

// State exposes the primary state for tests and diagnostics.
func (m *Machine) State() msg.LockState { return m.state }

func sameID(a, b *string) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

// resolveTarget finds the candidate that continues the current target: the
// same track id, or — when the track is gone — an audio-only candidate near
// the held bearing (the AUDIO_ONLY fallback).
func (m *Machine) resolveTarget(batch msg.CandidateBatch) *msg.AssociationCandidate {
	if m.tgt.id != nil {
		for i := range batch.Candidates {
			c := &batch.Candidates[i]
			if c.TrackID != nil && *c.TrackID == *m.tgt.id {
				return c
			}
		}
	}
	for i := range batch.Candidates {
		c := &batch.Candidates[i]
		if c.TrackID == nil && msg.AngularDistanceDeg(c.DoaPeakDeg, m.tgt.bearing) <= bearingMatchDeg {
			return c
		}
	}
	return nil
}

// bestChallenger is the strongest candidate that is not the current target.
func (m *Machine) bestChallenger(batch msg.CandidateBatch, cur *msg.AssociationCandidate) *msg.AssociationCandidate {
	for i := range batch.Candidates {
		c := &batch.Candidates[i]
		if cur != nil && c == cur {
			continue
		}
		if cur != nil && sameID(c.TrackID, cur.TrackID) && c.TrackID != nil {
			continue
		}
		return c // batch is ordered best-first
	}
	return nil
}

func candidateTarget(c *msg.AssociationCandidate) target {
	t := target{
		bearing:  c.DoaPeakDeg,
		score:    c.CombinedScore,
		mouth:    c.MouthScore,
		doaScore: c.DoaPeakScore,
	}
	if c.TrackID != nil {
		id := *c.TrackID
		t.id = &id
	}
	return t
}

// Tick consumes one candidate batch and emits one TargetLock. Transitions
// follow the documented table, first matching rule fires.
func (m *Machine) Tick(tNs int64, batch msg.CandidateBatch, vad *msg.VoiceActivity) msg.TargetLock {
	vadSpeech := vad != nil && vad.Speech
	var best *msg.AssociationCandidate
	if len(batch.Candidates) > 0 {
		best = &batch.Candidates[0]
	}

	switch m.state {
	case msg.StateNoLock:
		if best != nil && (best.MouthScore >= m.cfg.SpeakingOn || !m.cfg.RequireVAD || vadSpeech) {
			m.state = msg.StateAcquire
			m.candID = copyID(best.TrackID)
			m.candStartT = tNs
			m.tgt = candidateTarget(best)
			m.reason = "acquiring: speech evidence"
		}

	case msg.StateAcquire:
		if best == nil || !sameID(best.TrackID, m.candID) {
			m.toNoLock("acquire lost: candidate churn")
			break
		}
		m.tgt = candidateTarget(best)
		if best.CombinedScore >= m.cfg.AcquireThreshold && tNs-m.candStartT >= m.cfg.AcquireDwellMs*msToNs {
			m.state = msg.StateLocked
			m.stab.TicksLocked = 0
			m.reason = "acquired: high AV agreement"
		}

	case msg.StateLocked:
		cur := m.resolveTarget(batch)
		switch {
		case cur != nil && cur.CombinedScore >= m.cfg.DropThreshold:
			m.tgt = candidateTarget(cur)
			m.stab.TicksLocked++
			m.reason = "locked"
			m.maybeChallenge(tNs, batch, cur)
		case cur != nil || len(batch.Candidates) == 0 || !vadSpeech:
			// Weak target or brief silence: hold rather than drop.
			m.state = msg.StateHold
			m.holdStartT = tNs
			m.stab.HoldCount++
			if cur != nil {
				m.reason = "hold: score below drop threshold"
			} else {
				m.reason = "hold: silence"
			}
		default:
			// Target track lost, speech elsewhere, no audio-only fallback.
			m.toNoLock("dropped: target lost")
		}

	case msg.StateHold:
		cur := m.resolveTarget(batch)
		switch {
		case cur != nil && cur.CombinedScore >= m.cfg.DropThreshold:
			m.tgt = candidateTarget(cur)
			m.state = msg.StateLocked
			m.holdStartT = 0
			m.reason = "reacquired from hold"
		case tNs-m.holdStartT > m.cfg.HoldMs*msToNs:
			m.toNoLock("dropped: silence timeout")
		}

	case msg.StateHandoff:
		cur := m.resolveTarget(batch)
		chal := m.resolveChallenger(batch)
		curScore := 0.0
		if cur != nil {
			curScore = cur.CombinedScore
		}
		switch {
		case chal == nil || chal.CombinedScore < curScore+m.cfg.HandoffMargin:
			m.state = msg.StateLocked
			m.chalStartT = 0
			m.reason = "handoff aborted: challenger faded"
		case tNs-m.chalStartT >= m.cfg.HandoffMinMs*msToNs:
			m.commitHandoff(tNs, chal)
		default:
			if cur != nil {
				m.tgt = candidateTarget(cur)
			}
		}

	default:
		if m.crash != nil {
			m.crash("impossible lock state "+string(m.state), m.snapshot(tNs))
		}
		m.toNoLock("reset after invalid state")
	}

	return m.output(tNs)
}

// maybeChallenge starts or advances handoff tracking while LOCKED.
func (m *Machine) maybeChallenge(tNs int64, batch msg.CandidateBatch, cur *msg.AssociationCandidate) {
	chal := m.bestChallenger(batch, cur)
	if chal == nil || chal.CombinedScore < cur.CombinedScore+m.cfg.HandoffMargin {
		m.chalStartT = 0
		return
	}
	if m.chalStartT == 0 {
		m.chal = candidateTarget(chal)
		m.chalStartT = tNs
	}
	m.state = msg.StateHandoff
	m.reason = "handoff: challenger dominating"
}

func (m *Machine) resolveChallenger(batch msg.CandidateBatch) *msg.AssociationCandidate {
	for i := range batch.Candidates {
		c := &batch.Candidates[i]
		if m.chal.id != nil {
			if c.TrackID != nil && *c.TrackID == *m.chal.id {
				return c
			}
			continue
		}
		if c.TrackID == nil && msg.AngularDistanceDeg(c.DoaPeakDeg, m.chal.bearing) <= bearingMatchDeg {
			return c
		}
	}
	return nil
}

// commitHandoff installs the challenger as target. Consecutive commits must
// be separated by at least HandoffMinMs; a violation is a kind-4 fault.
func (m *Machine) commitHandoff(tNs int64, chal *msg.AssociationCandidate) {
	if m.lastCommitT > 0 && tNs-m.lastCommitT < m.cfg.HandoffMinMs*msToNs {
		if m.crash != nil {
			m.crash("handoff commits closer than handoff_min_ms", m.snapshot(tNs))
		}
		return
	}
	m.tgt = candidateTarget(chal)
	m.lastCommitT = tNs
	m.chalStartT = 0
	m.stab.HandoffCommits++
	m.stab.LastCommitTNs = tNs
	m.stab.TicksLocked = 0
	m.state = msg.StateLocked
	m.reason = "handoff committed"
}

func (m *Machine) toNoLock(reason string) {
	m.state = msg.StateNoLock
	m.candID = nil
	m.candStartT = 0
	m.holdStartT = 0
	m.chalStartT = 0
	m.tgt = target{}
	m.reason = reason
}

func (m *Machine) mode() msg.LockMode {
	switch m.state {
	case msg.StateLocked, msg.StateHold, msg.StateHandoff:
		if m.tgt.id == nil {
			return msg.ModeAudioOnly
		}
		if m.tgt.doaScore < visionOnlyDoaFloor && m.tgt.mouth >= m.cfg.SpeakingOn {
			return msg.ModeVisionOnly
		}
		return msg.ModeAVLock
	default:
		return msg.ModeNoLock
	}
}

func (m *Machine) output(tNs int64) msg.TargetLock {
	m.seq++
	out := msg.TargetLock{
		TNs:       tNs,
		Seq:       m.seq,
		State:     m.state,
		Mode:      m.mode(),
		Reason:    m.reason,
		Stability: m.stab,
	}
	switch m.state {
	case msg.StateNoLock:
		// No target identity in NO_LOCK, by contract.
	case msg.StateAcquire:
		b := m.tgt.bearing
		out.TargetBearingDeg = &b
		out.Confidence = m.tgt.score
	default:
		out.TargetID = copyID(m.tgt.id)
		b := m.tgt.bearing
		out.TargetBearingDeg = &b
		out.Confidence = m.tgt.score
	}
	return out
}

func (m *Machine) snapshot(tNs int64) map[string]any {
	return map[string]any{
		"t_ns":          tNs,
		"state":         m.state,
		"target_id":     derefID(m.tgt.id),
		"bearing":       m.tgt.bearing,
		"last_commit_t": m.lastCommitT,
	}
}

func copyID(id *string) *string {
	if id == nil {
		return nil
	}
	v := *id
	return &v
}

func derefID(id *string) string {
	if id == nil {
		return ""
	}
	return *id
}
