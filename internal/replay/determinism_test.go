package replay

import (
	"bytes"
	"math"
	"testing"

	"github.com/focusfield/focusfield/internal/beamform"
	"github.com/focusfield/focusfield/internal/doa"
	"github.com/focusfield/focusfield/internal/fusion"
	"github.com/focusfield/focusfield/internal/msg"
)

// runScene drives the full pure pipeline (DOA -> association -> lock ->
// beamform) over a fixed synthetic scene and returns the serialized
// target_lock stream plus the beamformed blocks. Two invocations must
// agree exactly: all state lives in per-run instances and all timing is
// message time.
func runScene(t *testing.T) ([]byte, [][]float64) {
	t.Helper()

	const (
		fs     = 16000
		block  = 256
		blocks = 63 // ~1 second
	)
	positions := [][2]float64{{0.05, 0.05}, {-0.05, 0.05}, {-0.05, -0.05}, {0.05, -0.05}}
	geom, err := doa.NewGeometry(positions, 343, 4)
	if err != nil {
		t.Fatal(err)
	}

	doaCfg := doa.DefaultConfig()
	est, err := doa.NewEstimator(doaCfg, geom, fs)
	if err != nil {
		t.Fatal(err)
	}
	post := doa.NewPost(doaCfg)
	assoc, err := fusion.NewAssociator(fusion.DefaultAssocConfig())
	if err != nil {
		t.Fatal(err)
	}
	machine := fusion.NewMachine(fusion.DefaultLockConfig(), nil)
	das := beamform.New(geom, fs, block)

	var lockBuf bytes.Buffer
	enc := msg.NewEncoder(&lockBuf)

	// Accumulation state mirroring the DOA worker.
	bufs := make([][]float64, 4)
	for ch := range bufs {
		bufs[ch] = make([]float64, doaCfg.FFTSize)
	}
	hop := int(float64(fs) / doaCfg.UpdateHz)
	sinceEmit := hop

	var (
		lastLock  *msg.TargetLock
		heatmapSq uint64
		mono      [][]float64
	)
	freqs := []float64{700, 1300, 2200}

	for bi := 0; bi < blocks; bi++ {
		tNs := int64(bi) * int64(block) * 1e9 / fs
		frame := msg.AudioFrame{
			TNs: tNs, Seq: uint64(bi + 1), SampleRateHz: fs, BlockSamples: block, Channels: 4,
			PCM: make([]float32, block*4),
		}
		for ch := 0; ch < 4; ch++ {
			adv := geom.Delay(ch, 90)
			for i := 0; i < block; i++ {
				ts := float64(bi*block+i) / fs
				var s float64
				for _, fr := range freqs {
					s += 0.2 * math.Sin(2*math.Pi*fr*(ts+adv))
				}
				frame.PCM[i*4+ch] = float32(s)
			}
		}
		vad := &msg.VoiceActivity{TNs: tNs, Seq: frame.Seq, Speech: true, Confidence: 0.9}
		faces := &msg.FaceTrackBatch{
			TNs: tNs, Seq: frame.Seq,
			Tracks: []msg.FaceTrack{{TNs: tNs, TrackID: "talker", BearingDeg: 90, Confidence: 0.9, MouthActivity: 0.8}},
		}

		// DOA accumulation at the worker cadence.
		var scratch []float64
		for ch := range bufs {
			scratch = frame.Channel(ch, scratch)
			bufs[ch] = append(bufs[ch], scratch...)
			if extra := len(bufs[ch]) - doaCfg.FFTSize; extra > 0 {
				bufs[ch] = bufs[ch][extra:]
			}
		}
		sinceEmit += block
		if sinceEmit >= hop {
			sinceEmit = 0
			raw, err := est.Analyze(bufs)
			if err != nil {
				t.Fatal(err)
			}
			scores, peaks, conf := post.Apply(raw)
			heatmapSq++
			hm := msg.DoaHeatmap{
				TNs: tNs, Seq: heatmapSq, BinCount: len(scores), BinSizeDeg: doaCfg.BinSizeDeg,
				Scores: scores, Peaks: peaks, Confidence: conf,
			}
			batch := assoc.Tick(tNs, &hm, faces, vad)
			lock := machine.Tick(tNs, batch, vad)
			lastLock = &lock
			if err := enc.Encode(msg.TopicNameTargetLock, lock); err != nil {
				t.Fatal(err)
			}
		}

		var bearing *float64
		if lastLock != nil && lastLock.TargetBearingDeg != nil && lastLock.State == msg.StateLocked {
			bearing = lastLock.TargetBearingDeg
		}
		res, err := das.Process(&frame, bearing, beamform.Omni)
		if err != nil {
			t.Fatal(err)
		}
		out := make([]float64, len(res.Mono))
		copy(out, res.Mono)
		mono = append(mono, out)
	}

	if err := enc.Flush(); err != nil {
		t.Fatal(err)
	}
	if machine.State() != msg.StateLocked {
		t.Fatalf("scene should end locked, got %s", machine.State())
	}
	return lockBuf.Bytes(), mono
}

func TestReplayDeterminism(t *testing.T) {
	locks1, mono1 := runScene(t)
	locks2, mono2 := runScene(t)

	// Byte-identical target_lock stream.
	if !bytes.Equal(locks1, locks2) {
		t.Error("target_lock streams differ between identical runs")
	}

	// Beamformed output within 1e-6 per sample.
	if len(mono1) != len(mono2) {
		t.Fatalf("block counts differ: %d vs %d", len(mono1), len(mono2))
	}
	for b := range mono1 {
		for i := range mono1[b] {
			if math.Abs(mono1[b][i]-mono2[b][i]) > 1e-6 {
				t.Fatalf("block %d sample %d differs: %v vs %v", b, i, mono1[b][i], mono2[b][i])
			}
		}
	}
}
