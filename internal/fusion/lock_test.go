package fusion

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/focusfield/focusfield/internal/msg"
)

func ms(v int64) int64 { return v * msToNs }

func cand(id string, bearing, score, mouth, face, doaScore float64) msg.AssociationCandidate {
	c := msg.AssociationCandidate{
		DoaPeakDeg:    bearing,
		CombinedScore: score,
		MouthScore:    mouth,
		FaceConfScore: face,
		DoaPeakScore:  doaScore,
	}
	if id != "" {
		c.TrackID = &id
	}
	return c
}

func batchAt(t int64, cands ...msg.AssociationCandidate) msg.CandidateBatch {
	return msg.CandidateBatch{TNs: t, Candidates: cands}
}

func vadOn() *msg.VoiceActivity  { return &msg.VoiceActivity{Speech: true, Confidence: 0.9} }
func vadOff() *msg.VoiceActivity { return &msg.VoiceActivity{Speech: false} }

// lockOn drives a fresh machine through acquisition on track id at bearing.
func lockOn(t *testing.T, m *Machine, id string, bearing float64, startT int64) msg.TargetLock {
	t.Helper()
	var out msg.TargetLock
	for i := int64(0); i <= 3; i++ {
		out = m.Tick(startT+ms(100*i), batchAt(startT+ms(100*i), cand(id, bearing, 0.9, 0.8, 0.9, 1)), vadOn())
	}
	require.Equal(t, msg.StateLocked, out.State, "machine should lock within dwell + 1 tick")
	return out
}

func TestSilenceStaysNoLock(t *testing.T) {
	m := NewMachine(DefaultLockConfig(), nil)
	// One second of empty batches with VAD off: never leaves NO_LOCK.
	for i := int64(0); i < 10; i++ {
		out := m.Tick(ms(100*i), batchAt(ms(100*i)), vadOff())
		assert.Equal(t, msg.StateNoLock, out.State)
		assert.Equal(t, msg.ModeNoLock, out.Mode)
		assert.Nil(t, out.TargetID)
		assert.Nil(t, out.TargetBearingDeg)
	}
}

func TestAcquireThenLock(t *testing.T) {
	m := NewMachine(DefaultLockConfig(), nil)

	out := m.Tick(ms(0), batchAt(ms(0), cand("A", 90, 0.9, 0.8, 0.9, 1)), vadOn())
	assert.Equal(t, msg.StateAcquire, out.State)

	out = m.Tick(ms(100), batchAt(ms(100), cand("A", 90, 0.9, 0.8, 0.9, 1)), vadOn())
	assert.Equal(t, msg.StateAcquire, out.State, "dwell of 150ms not yet met at 100ms")

	out = m.Tick(ms(200), batchAt(ms(200), cand("A", 90, 0.9, 0.8, 0.9, 1)), vadOn())
	require.Equal(t, msg.StateLocked, out.State)
	assert.Equal(t, msg.ModeAVLock, out.Mode)
	require.NotNil(t, out.TargetID)
	assert.Equal(t, "A", *out.TargetID)
	require.NotNil(t, out.TargetBearingDeg)
	assert.InDelta(t, 90, *out.TargetBearingDeg, 1e-9)
	assert.Equal(t, "acquired: high AV agreement", out.Reason)
}

func TestAcquireLostOnChurn(t *testing.T) {
	m := NewMachine(DefaultLockConfig(), nil)
	m.Tick(ms(0), batchAt(ms(0), cand("A", 90, 0.9, 0.8, 0.9, 1)), vadOn())
	out := m.Tick(ms(100), batchAt(ms(100), cand("B", 200, 0.9, 0.8, 0.9, 1)), vadOn())
	assert.Equal(t, msg.StateNoLock, out.State)
}

func TestBriefPauseHoldsAndResumes(t *testing.T) {
	m := NewMachine(DefaultLockConfig(), nil)
	lockOn(t, m, "A", 45, ms(0))

	// A goes silent for 500ms (< hold_ms=800): LOCKED -> HOLD.
	out := m.Tick(ms(400), batchAt(ms(400)), vadOff())
	assert.Equal(t, msg.StateHold, out.State)
	for i := int64(500); i <= 800; i += 100 {
		out = m.Tick(ms(i), batchAt(ms(i)), vadOff())
		assert.Equal(t, msg.StateHold, out.State, "still inside hold window at %dms", i)
	}

	// A resumes: back to LOCKED with the same target id.
	out = m.Tick(ms(900), batchAt(ms(900), cand("A", 45, 0.8, 0.8, 0.9, 1)), vadOn())
	require.Equal(t, msg.StateLocked, out.State)
	require.NotNil(t, out.TargetID)
	assert.Equal(t, "A", *out.TargetID)
}

func TestHoldTimesOutToNoLock(t *testing.T) {
	m := NewMachine(DefaultLockConfig(), nil)
	lockOn(t, m, "A", 45, ms(0))

	m.Tick(ms(400), batchAt(ms(400)), vadOff()) // -> HOLD at 400ms
	out := m.Tick(ms(1300), batchAt(ms(1300)), vadOff())
	assert.Equal(t, msg.StateNoLock, out.State)
	assert.Equal(t, "dropped: silence timeout", out.Reason)
}

func TestWeakTargetEntersHold(t *testing.T) {
	m := NewMachine(DefaultLockConfig(), nil)
	lockOn(t, m, "A", 45, ms(0))

	out := m.Tick(ms(400), batchAt(ms(400), cand("A", 45, 0.2, 0.1, 0.9, 0.3)), vadOn())
	assert.Equal(t, msg.StateHold, out.State)
	assert.Equal(t, "hold: score below drop threshold", out.Reason)
}

func TestHandoffCommitsOnceAfterMinDuration(t *testing.T) {
	m := NewMachine(DefaultLockConfig(), nil)
	lockOn(t, m, "A", 45, ms(0))

	// Talker B appears with a dominating score (margin 0.1 over A's 0.7).
	var states []msg.LockState
	var ids []string
	challengeStart := ms(1000)
	var commitT int64
	for i := int64(0); i <= 10; i++ {
		tn := challengeStart + ms(100*i)
		out := m.Tick(tn, batchAt(tn,
			cand("B", 200, 0.85, 0.9, 0.9, 1),
			cand("A", 45, 0.7, 0.6, 0.9, 0.9),
		), vadOn())
		states = append(states, out.State)
		if out.TargetID != nil {
			ids = append(ids, *out.TargetID)
		}
		if commitT == 0 && out.TargetID != nil && *out.TargetID == "B" {
			commitT = tn
		}
	}

	// Exactly one LOCKED -> HANDOFF -> LOCKED round trip: the machine was
	// LOCKED entering the loop, flips to HANDOFF on the first challenged
	// tick, and commits back to LOCKED once.
	require.Equal(t, msg.StateHandoff, states[0])
	require.Equal(t, msg.StateLocked, states[len(states)-1])
	transitions := 0
	for i := 1; i < len(states); i++ {
		if states[i] != states[i-1] {
			transitions++
		}
	}
	assert.Equal(t, 1, transitions, "states: %v", states)

	require.NotZero(t, commitT, "handoff never committed")
	assert.GreaterOrEqual(t, commitT-challengeStart, ms(700), "commit before handoff_min_ms")

	// After commit the target stays B.
	assert.Equal(t, "B", ids[len(ids)-1])
}

func TestHandoffAbortsWhenChallengerFades(t *testing.T) {
	m := NewMachine(DefaultLockConfig(), nil)
	lockOn(t, m, "A", 45, ms(0))

	out := m.Tick(ms(1000), batchAt(ms(1000),
		cand("B", 200, 0.85, 0.9, 0.9, 1),
		cand("A", 45, 0.7, 0.6, 0.9, 0.9),
	), vadOn())
	require.Equal(t, msg.StateHandoff, out.State)

	// B fades before handoff_min_ms: revert to the original target.
	out = m.Tick(ms(1200), batchAt(ms(1200),
		cand("A", 45, 0.7, 0.6, 0.9, 0.9),
		cand("B", 200, 0.5, 0.3, 0.9, 0.6),
	), vadOn())
	require.Equal(t, msg.StateLocked, out.State)
	require.NotNil(t, out.TargetID)
	assert.Equal(t, "A", *out.TargetID)
	assert.Zero(t, out.Stability.HandoffCommits)
}

func TestVisionLossFallsBackToAudioOnly(t *testing.T) {
	m := NewMachine(DefaultLockConfig(), nil)
	lockOn(t, m, "A", 45, ms(0))

	// Face tracks stop; the association stage now emits an audio-only
	// candidate at A's bearing (VAD still speech).
	out := m.Tick(ms(400), batchAt(ms(400), cand("", 44, 0.6, 0, 0, 0.6)), vadOn())
	require.Equal(t, msg.StateLocked, out.State)
	assert.Equal(t, msg.ModeAudioOnly, out.Mode)
	assert.Nil(t, out.TargetID, "audio-only lock has null target id")
	require.NotNil(t, out.TargetBearingDeg)
	assert.InDelta(t, 44, *out.TargetBearingDeg, 1e-9, "bearing retained for the beamformer")
}

func TestTargetLostWithSpeechElsewhereDropsLock(t *testing.T) {
	m := NewMachine(DefaultLockConfig(), nil)
	lockOn(t, m, "A", 45, ms(0))

	// A vanishes; an unrelated candidate far away is speaking.
	out := m.Tick(ms(400), batchAt(ms(400), cand("C", 300, 0.7, 0.8, 0.9, 0.9)), vadOn())
	assert.Equal(t, msg.StateNoLock, out.State)
}

func TestHandoffSeparationInvariant(t *testing.T) {
	// Property over the full output sequence: consecutive commits to a
	// different non-null target id are separated by >= handoff_min_ms.
	m := NewMachine(DefaultLockConfig(), nil)
	lockOn(t, m, "A", 45, ms(0))

	type commit struct {
		t  int64
		id string
	}
	var commits []commit
	lastID := "A"
	// A and B alternate dominance every 300ms for 10 seconds.
	for i := int64(4); i < 100; i++ {
		tn := ms(100 * i)
		strong, weak := "A", "B"
		if (i/3)%2 == 1 {
			strong, weak = "B", "A"
		}
		out := m.Tick(tn, batchAt(tn,
			cand(strong, 200, 0.9, 0.9, 0.9, 1),
			cand(weak, 45, 0.6, 0.5, 0.9, 0.7),
		), vadOn())
		if out.TargetID != nil && *out.TargetID != lastID {
			commits = append(commits, commit{t: tn, id: *out.TargetID})
			lastID = *out.TargetID
		}
	}
	for i := 1; i < len(commits); i++ {
		assert.GreaterOrEqual(t, commits[i].t-commits[i-1].t, ms(700),
			"commits %v and %v too close", commits[i-1], commits[i])
	}
}

func TestSeqStrictlyIncreasing(t *testing.T) {
	m := NewMachine(DefaultLockConfig(), nil)
	var last uint64
	for i := int64(0); i < 20; i++ {
		out := m.Tick(ms(100*i), batchAt(ms(100*i)), vadOff())
		require.Equal(t, last+1, out.Seq)
		last = out.Seq
	}
}
