package doa

import (
	"context"
	"time"

	"github.com/focusfield/focusfield/internal/bus"
	"github.com/focusfield/focusfield/internal/core"
	"github.com/focusfield/focusfield/internal/health"
	"github.com/focusfield/focusfield/internal/msg"
)

// Processor is the DOA component: it accumulates capture blocks to the
// configured update cadence, runs the estimator, and publishes heatmaps.
// The heatmap is emitted even while VAD reports silence — the UI needs a
// continuous feed — with confidence downweighted instead.
type Processor struct {
	rt   *core.Runtime
	perf *health.Perf
	cfg  Config
	geom *Geometry
	fs   int

	est *Estimator
	fb  *GCCPhat

	post *Post
	bufs [][]float64
	seq  uint64
}

// NewProcessor builds the worker. A degenerate geometry selects the
// GCC-PHAT fallback for the life of the process.
func NewProcessor(rt *core.Runtime, perf *health.Perf, cfg Config, geom *Geometry, sampleRateHz int) (*Processor, error) {
	p := &Processor{
		rt:   rt,
		perf: perf,
		cfg:  cfg,
		geom: geom,
		fs:   sampleRateHz,
		post: NewPost(cfg),
	}
	if geom.Degenerate() {
		p.fb = NewGCCPhat(cfg, geom, sampleRateHz)
	} else {
		est, err := NewEstimator(cfg, geom, sampleRateHz)
		if err != nil {
			return nil, err
		}
		p.est = est
	}
	// Buffers start zero-filled at window length so the first update can
	// run before a full window of real samples has arrived.
	p.bufs = make([][]float64, geom.Channels())
	for ch := range p.bufs {
		p.bufs[ch] = make([]float64, cfg.FFTSize)
	}
	return p, nil
}

func (p *Processor) Name() string { return "audio.doa" }

// Run consumes audio.frames and audio.vad until shutdown.
func (p *Processor) Run(ctx context.Context) error {
	frames, err := bus.Subscribe(p.rt.Bus, msg.TopicAudioFrames, 16, bus.DropOldest)
	if err != nil {
		return err
	}
	defer frames.Close()
	vad, err := bus.Subscribe(p.rt.Bus, msg.TopicVAD, 8, bus.DropOldest)
	if err != nil {
		return err
	}
	defer vad.Close()

	if p.fb != nil {
		p.rt.Event("warn", "audio.doa", "geometry_degraded", map[string]any{
			"fallback": "gcc_phat",
		})
	}

	hop := int(float64(p.fs) / p.cfg.UpdateHz)
	sinceEmit := hop // the first valid frame emits at once
	var lastVAD *msg.VoiceActivity
	badFrameLogged := false

	var chScratch []float64
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case v, ok := <-vad.C():
			if !ok {
				return nil
			}
			lastVAD = &v
		case f, ok := <-frames.C():
			if !ok {
				return nil
			}
			if f.Channels != p.geom.Channels() || len(f.PCM) != f.BlockSamples*f.Channels {
				if !badFrameLogged {
					p.rt.Event("error", "audio.doa", "bad_frame", map[string]any{
						"channels": f.Channels,
						"samples":  len(f.PCM),
					})
					badFrameLogged = true
				}
				continue
			}
			for ch := range p.bufs {
				chScratch = f.Channel(ch, chScratch)
				p.bufs[ch] = append(p.bufs[ch], chScratch...)
				if extra := len(p.bufs[ch]) - p.cfg.FFTSize; extra > 0 {
					p.bufs[ch] = p.bufs[ch][extra:]
				}
			}
			sinceEmit += f.BlockSamples
			if sinceEmit < hop {
				continue
			}
			sinceEmit = 0
			p.emit(f.TNs, lastVAD)
		}
	}
}

func (p *Processor) emit(tNs int64, lastVAD *msg.VoiceActivity) {
	start := time.Now()

	var raw []float64
	degraded := p.fb != nil
	if degraded {
		raw = p.fb.Analyze(p.bufs)
	} else {
		var err error
		raw, err = p.est.Analyze(p.bufs)
		if err != nil {
			// Kind-3 runtime fault: recover locally, keep the feed alive.
			p.rt.Event("error", "audio.doa", "analyze_failed", map[string]any{"error": err.Error()})
			raw = make([]float64, p.est.BinCount())
		}
	}

	scores, peaks, conf := p.post.Apply(raw)

	low := false
	if degraded {
		conf = 0
		low = true
	}
	if p.cfg.GateOnVAD && lastVAD != nil && !lastVAD.Speech {
		low = true
		conf *= p.cfg.VadGateFactor
	}

	p.seq++
	_ = bus.Publish(p.rt.Bus, msg.TopicDoaHeatmap, msg.DoaHeatmap{
		TNs:           tNs,
		Seq:           p.seq,
		BinCount:      len(scores),
		BinSizeDeg:    p.cfg.BinSizeDeg,
		Scores:        scores,
		Peaks:         peaks,
		Confidence:    conf,
		LowConfidence: low,
	})
	p.perf.Observe("doa", float64(time.Since(start).Microseconds())/1000)
}
