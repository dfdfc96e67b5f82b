// Package monitor renders recorded traces for offline inspection: gonum
// plots of the DOA heatmap over time and an HTML report of the lock
// timeline. It consumes the JSONL trace format, not the live bus.
package monitor

import (
	"errors"
	"io"
	"os"

	"github.com/focusfield/focusfield/internal/msg"
)

// Trace is the decoded content of one JSONL trace file.
type Trace struct {
	Frames   int
	VAD      []msg.VoiceActivity
	Faces    []msg.FaceTrackBatch
	Heatmaps []msg.DoaHeatmap
	Locks    []msg.TargetLock
	Enhanced []msg.EnhancedAudio
}

// LoadTrace reads and sorts a trace file's records by topic.
func LoadTrace(path string) (*Trace, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	tr := &Trace{}
	dec := msg.NewDecoder(f)
	for {
		env, err := dec.Next()
		if errors.Is(err, io.EOF) {
			return tr, nil
		}
		if err != nil {
			return nil, err
		}
		rec, err := msg.DecodeRecord(env)
		if err != nil {
			return nil, err
		}
		switch m := rec.(type) {
		case msg.AudioFrame:
			tr.Frames++
		case msg.VoiceActivity:
			tr.VAD = append(tr.VAD, m)
		case msg.FaceTrackBatch:
			tr.Faces = append(tr.Faces, m)
		case msg.DoaHeatmap:
			tr.Heatmaps = append(tr.Heatmaps, m)
		case msg.TargetLock:
			tr.Locks = append(tr.Locks, m)
		case msg.EnhancedAudio:
			tr.Enhanced = append(tr.Enhanced, m)
		}
	}
}

// StartNs is the smallest of the first-record timestamps of the heatmap,
// lock and enhanced streams; 0 when all three are empty.
func (t *Trace) StartNs() int64 {
	var start int64
	seen := false
	consider := func(ns int64) {
		if !seen || ns < start {
			start, seen = ns, true
		}
	}
	if len(t.Heatmaps) > 0 {
		consider(t.Heatmaps[0].TNs)
	}
	if len(t.Locks) > 0 {
		consider(t.Locks[0].TNs)
	}
	if len(t.Enhanced) > 0 {
		consider(t.Enhanced[0].TNs)
	}
	return start
}
