// Package replay records bus traffic to newline-delimited JSON traces and
// plays recorded input streams back onto the bus. Components key all
// timing off message t_ns, so a replayed trace reproduces a run exactly.
package replay

import (
	"context"
	"errors"
	"io"
	"os"

	"github.com/focusfield/focusfield/internal/bus"
	"github.com/focusfield/focusfield/internal/core"
	"github.com/focusfield/focusfield/internal/msg"
)

// Recorder captures the input and output topics of a run to one JSONL
// stream, interleaved in arrival order.
type Recorder struct {
	rt  *core.Runtime
	w   io.WriteCloser
	enc *msg.Encoder
}

// NewRecorder creates a recorder writing to path.
func NewRecorder(rt *core.Runtime, path string) (*Recorder, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	return &Recorder{rt: rt, w: f, enc: msg.NewEncoder(f)}, nil
}

func (r *Recorder) Name() string { return "bench.recorder" }

// Run drains every recorded topic until shutdown, then flushes the file.
func (r *Recorder) Run(ctx context.Context) error {
	defer func() {
		r.enc.Flush()
		r.w.Close()
	}()

	frames, err := bus.Subscribe(r.rt.Bus, msg.TopicAudioFrames, 64, bus.DropOldest)
	if err != nil {
		return err
	}
	defer frames.Close()
	vad, err := bus.Subscribe(r.rt.Bus, msg.TopicVAD, 64, bus.DropOldest)
	if err != nil {
		return err
	}
	defer vad.Close()
	faces, err := bus.Subscribe(r.rt.Bus, msg.TopicFaceTracks, 64, bus.DropOldest)
	if err != nil {
		return err
	}
	defer faces.Close()
	heatmaps, err := bus.Subscribe(r.rt.Bus, msg.TopicDoaHeatmap, 64, bus.DropOldest)
	if err != nil {
		return err
	}
	defer heatmaps.Close()
	locks, err := bus.Subscribe(r.rt.Bus, msg.TopicTargetLock, 64, bus.DropOldest)
	if err != nil {
		return err
	}
	defer locks.Close()
	enhanced, err := bus.Subscribe(r.rt.Bus, msg.TopicEnhancedAudio, 64, bus.DropOldest)
	if err != nil {
		return err
	}
	defer enhanced.Close()

	// On shutdown every subscription closes after its queue drains; the
	// remaining records are flushed per topic before the file closes.
	drain := func() {
		for m := range frames.C() {
			r.write(msg.TopicNameAudioFrames, m)
		}
		for m := range vad.C() {
			r.write(msg.TopicNameVAD, m)
		}
		for m := range faces.C() {
			r.write(msg.TopicNameFaceTracks, m)
		}
		for m := range heatmaps.C() {
			r.write(msg.TopicNameDoaHeatmap, m)
		}
		for m := range locks.C() {
			r.write(msg.TopicNameTargetLock, m)
		}
		for m := range enhanced.C() {
			r.write(msg.TopicNameEnhancedAudio, m)
		}
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case m, ok := <-frames.C():
			if !ok {
				drain()
				return nil
			}
			r.write(msg.TopicNameAudioFrames, m)
		case m, ok := <-vad.C():
			if !ok {
				drain()
				return nil
			}
			r.write(msg.TopicNameVAD, m)
		case m, ok := <-faces.C():
			if !ok {
				drain()
				return nil
			}
			r.write(msg.TopicNameFaceTracks, m)
		case m, ok := <-heatmaps.C():
			if !ok {
				drain()
				return nil
			}
			r.write(msg.TopicNameDoaHeatmap, m)
		case m, ok := <-locks.C():
			if !ok {
				drain()
				return nil
			}
			r.write(msg.TopicNameTargetLock, m)
		case m, ok := <-enhanced.C():
			if !ok {
				drain()
				return nil
			}
			r.write(msg.TopicNameEnhancedAudio, m)
		}
	}
}

func (r *Recorder) write(topic string, record any) {
	if err := r.enc.Encode(topic, record); err != nil {
		r.rt.Log.Error().Err(err).Str("module", "bench.recorder").Msg("trace write failed")
	}
}

// Player republishes the input topics of a recorded trace in file order.
// Output-topic records in the trace are skipped; the live pipeline
// regenerates them, which is what determinism checks compare.
type Player struct {
	rt   *core.Runtime
	path string
}

// NewPlayer creates a player for the trace at path.
func NewPlayer(rt *core.Runtime, path string) *Player {
	return &Player{rt: rt, path: path}
}

func (p *Player) Name() string { return "bench.player" }

// Run feeds the trace, then requests shutdown so a bench run exits on its
// own once the scene is exhausted.
func (p *Player) Run(ctx context.Context) error {
	f, err := os.Open(p.path)
	if err != nil {
		return err
	}
	defer f.Close()

	dec := msg.NewDecoder(f)
	n := 0
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		env, err := dec.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return err
		}
		rec, err := msg.DecodeRecord(env)
		if err != nil {
			return err
		}
		switch m := rec.(type) {
		case msg.AudioFrame:
			err = bus.Publish(p.rt.Bus, msg.TopicAudioFrames, m)
		case msg.VoiceActivity:
			err = bus.Publish(p.rt.Bus, msg.TopicVAD, m)
		case msg.FaceTrackBatch:
			err = bus.Publish(p.rt.Bus, msg.TopicFaceTracks, m)
		default:
			continue // output topic; regenerated live
		}
		if err != nil {
			return err
		}
		n++
	}
	p.rt.Event("info", "bench.player", "trace_done", map[string]any{"records": n})
	p.rt.RequestShutdown()
	return nil
}
