package beamform

import (
	"context"
	"time"

	"github.com/focusfield/focusfield/internal/bus"
	"github.com/focusfield/focusfield/internal/core"
	"github.com/focusfield/focusfield/internal/doa"
	"github.com/focusfield/focusfield/internal/health"
	"github.com/focusfield/focusfield/internal/msg"
)

// Worker is the beamformer component: one EnhancedAudio block per input
// AudioFrame, steered by the most recent TargetLock.
type Worker struct {
	rt   *core.Runtime
	perf *health.Perf
	cfg  Config
	das  *DelayAndSum

	degradedLogged bool
}

// NewWorker wires the beamformer.
func NewWorker(rt *core.Runtime, perf *health.Perf, cfg Config, geom *doa.Geometry, sampleRateHz, blockSamples int) (*Worker, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Worker{
		rt:   rt,
		perf: perf,
		cfg:  cfg,
		das:  New(geom, sampleRateHz, blockSamples),
	}, nil
}

func (w *Worker) Name() string { return "audio.beamform" }

// Run consumes audio.frames and fusion.target_lock until shutdown.
func (w *Worker) Run(ctx context.Context) error {
	frames, err := bus.Subscribe(w.rt.Bus, msg.TopicAudioFrames, 16, bus.DropOldest)
	if err != nil {
		return err
	}
	defer frames.Close()
	locks, err := bus.Subscribe(w.rt.Bus, msg.TopicTargetLock, 4, bus.DropOldest)
	if err != nil {
		return err
	}
	defer locks.Close()

	var lastLock *msg.TargetLock
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case l, ok := <-locks.C():
			if !ok {
				return nil
			}
			lastLock = &l
		case f, ok := <-frames.C():
			if !ok {
				return nil
			}
			w.process(&f, lastLock)
		}
	}
}

// bearingFor extracts the steering angle, or nil when the lock is absent,
// bearing-less, or older than use_last_lock_ms relative to the frame.
func (w *Worker) bearingFor(f *msg.AudioFrame, lock *msg.TargetLock) *float64 {
	if lock == nil || lock.TargetBearingDeg == nil {
		return nil
	}
	switch lock.State {
	case msg.StateLocked, msg.StateHold, msg.StateHandoff:
	default:
		return nil
	}
	if f.TNs-lock.TNs > w.cfg.UseLastLockMs*1_000_000 {
		return nil
	}
	return lock.TargetBearingDeg
}

func (w *Worker) process(f *msg.AudioFrame, lock *msg.TargetLock) {
	start := time.Now()
	res, geomErr := w.das.Process(f, w.bearingFor(f, lock), w.cfg.NoLockBehavior)
	if geomErr != nil {
		// Kind-3: fall back to omni, log once per degradation event.
		if !w.degradedLogged {
			w.rt.Event("error", "audio.beamform", "degraded", map[string]any{
				"error":    geomErr.Error(),
				"fallback": "omni",
			})
			w.degradedLogged = true
		}
	} else {
		w.degradedLogged = false
	}

	mono := make([]float32, len(res.Mono))
	for i, s := range res.Mono {
		mono[i] = float32(s)
	}
	_ = bus.Publish(w.rt.Bus, msg.TopicEnhancedAudio, msg.EnhancedAudio{
		TNs:          f.TNs,
		Seq:          f.Seq, // aligned 1:1 with the input frame
		SampleRateHz: f.SampleRateHz,
		BlockSamples: f.BlockSamples,
		PCM:          mono,
		Stats:        res.Stats,
	})
	w.perf.Observe("beamform", float64(time.Since(start).Microseconds())/1000)
}
