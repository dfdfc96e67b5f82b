package fusion

import (
	"context"
	"time"

	"github.com/focusfield/focusfield/internal/bus"
	"github.com/focusfield/focusfield/internal/core"
	"github.com/focusfield/focusfield/internal/health"
	"github.com/focusfield/focusfield/internal/msg"
)

// AssocWorker drives the Associator from the bus. Ticks are keyed off
// heatmap message time, decimated to UpdateHz; a wall-clock heartbeat
// keeps downstream alive when the DOA feed stalls.
type AssocWorker struct {
	rt    *core.Runtime
	perf  *health.Perf
	assoc *Associator
	cfg   AssocConfig
}

// NewAssocWorker wires the association stage.
func NewAssocWorker(rt *core.Runtime, perf *health.Perf, cfg AssocConfig) (*AssocWorker, error) {
	assoc, err := NewAssociator(cfg)
	if err != nil {
		return nil, err
	}
	return &AssocWorker{rt: rt, perf: perf, assoc: assoc, cfg: cfg}, nil
}

func (w *AssocWorker) Name() string { return "fusion.association" }

// Run consumes heatmaps, face batches, and VAD until shutdown.
func (w *AssocWorker) Run(ctx context.Context) error {
	heatmaps, err := bus.Subscribe(w.rt.Bus, msg.TopicDoaHeatmap, 8, bus.DropOldest)
	if err != nil {
		return err
	}
	defer heatmaps.Close()
	faces, err := bus.Subscribe(w.rt.Bus, msg.TopicFaceTracks, 8, bus.DropOldest)
	if err != nil {
		return err
	}
	defer faces.Close()
	vad, err := bus.Subscribe(w.rt.Bus, msg.TopicVAD, 8, bus.DropOldest)
	if err != nil {
		return err
	}
	defer vad.Close()

	intervalNs := int64(float64(time.Second.Nanoseconds()) / w.cfg.UpdateHz)
	heartbeat := time.NewTicker(3 * time.Duration(intervalNs))
	defer heartbeat.Stop()

	var (
		lastHM    *msg.DoaHeatmap
		lastFaces *msg.FaceTrackBatch
		lastVAD   *msg.VoiceActivity
		lastEmitT int64
		idle      = true
	)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case f, ok := <-faces.C():
			if !ok {
				return nil
			}
			lastFaces = &f
		case v, ok := <-vad.C():
			if !ok {
				return nil
			}
			lastVAD = &v
		case hm, ok := <-heatmaps.C():
			if !ok {
				return nil
			}
			lastHM = &hm
			// Decimate to the association cadence using message time; the
			// 10% slack tolerates upstream jitter without halving the rate.
			if hm.TNs-lastEmitT < intervalNs*9/10 {
				continue
			}
			lastEmitT = hm.TNs
			idle = false
			w.emit(hm.TNs, lastHM, lastFaces, lastVAD)
		case <-heartbeat.C:
			// Silent upstream: keep the lock machine ticking with what we
			// have. Never fires during replay, where messages always flow.
			if idle {
				w.emit(w.rt.Clock.NowNs(), lastHM, lastFaces, lastVAD)
			}
			idle = true
		}
	}
}

func (w *AssocWorker) emit(tNs int64, hm *msg.DoaHeatmap, faces *msg.FaceTrackBatch, vad *msg.VoiceActivity) {
	start := time.Now()
	batch := w.assoc.Tick(tNs, hm, faces, vad)
	_ = bus.Publish(w.rt.Bus, msg.TopicCandidates, batch)
	w.perf.Observe("association", float64(time.Since(start).Microseconds())/1000)
}

// LockWorker drives the lock Machine from candidate batches.
type LockWorker struct {
	rt      *core.Runtime
	perf    *health.Perf
	machine *Machine
}

// NewLockWorker wires the lock stage with the kind-4 crash hook attached.
func NewLockWorker(rt *core.Runtime, perf *health.Perf, cfg LockConfig) *LockWorker {
	w := &LockWorker{rt: rt, perf: perf}
	w.machine = NewMachine(cfg, func(reason string, state any) {
		rt.Crash("fusion.lock", reason, state)
	})
	return w
}

func (w *LockWorker) Name() string { return "fusion.lock" }

// Run consumes candidate batches and VAD until shutdown.
func (w *LockWorker) Run(ctx context.Context) error {
	batches, err := bus.Subscribe(w.rt.Bus, msg.TopicCandidates, 8, bus.DropOldest)
	if err != nil {
		return err
	}
	defer batches.Close()
	vad, err := bus.Subscribe(w.rt.Bus, msg.TopicVAD, 8, bus.DropOldest)
	if err != nil {
		return err
	}
	defer vad.Close()

	heartbeat := time.NewTicker(time.Second)
	defer heartbeat.Stop()

	var lastVAD *msg.VoiceActivity
	idle := true
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case v, ok := <-vad.C():
			if !ok {
				return nil
			}
			lastVAD = &v
		case b, ok := <-batches.C():
			if !ok {
				return nil
			}
			idle = false
			start := time.Now()
			lock := w.machine.Tick(b.TNs, b, lastVAD)
			_ = bus.Publish(w.rt.Bus, msg.TopicTargetLock, lock)
			w.perf.Observe("lock", float64(time.Since(start).Microseconds())/1000)
		case <-heartbeat.C:
			// Liveness tick when association goes silent.
			if idle {
				now := w.rt.Clock.NowNs()
				lock := w.machine.Tick(now, msg.CandidateBatch{TNs: now}, lastVAD)
				_ = bus.Publish(w.rt.Bus, msg.TopicTargetLock, lock)
			}
			idle = true
		}
	}
}
