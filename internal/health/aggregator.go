package health

import (
	"context"
	"time"

	"github.com/focusfield/focusfield/internal/bus"
	"github.com/focusfield/focusfield/internal/clock"
	"github.com/focusfield/focusfield/internal/core"
	"github.com/focusfield/focusfield/internal/msg"
)

// Config tunes snapshot cadence and staleness thresholds.
type Config struct {
	UpdateHz float64 // snapshot cadence, capped at 2 Hz by the contract
	YellowMs int64
	RedMs    int64
}

// DefaultConfig returns the documented defaults.
func DefaultConfig() Config {
	return Config{UpdateHz: 2, YellowMs: 500, RedMs: 2000}
}

// Aggregator publishes HealthSnapshot and PerfSnapshot at a slow cadence,
// derived from the bus's topic accounting and the shared Perf recorder.
type Aggregator struct {
	rt   *core.Runtime
	perf *Perf
	cfg  Config

	seqHealth uint64
	seqPerf   uint64
}

// NewAggregator wires the aggregator to the runtime and latency recorder.
func NewAggregator(rt *core.Runtime, perf *Perf, cfg Config) *Aggregator {
	if cfg.UpdateHz <= 0 || cfg.UpdateHz > 2 {
		cfg.UpdateHz = 2
	}
	return &Aggregator{rt: rt, perf: perf, cfg: cfg}
}

func (a *Aggregator) Name() string { return "core.health" }

// Run emits snapshots until cancelled.
func (a *Aggregator) Run(ctx context.Context) error {
	interval := time.Duration(float64(time.Second) / a.cfg.UpdateHz)
	tick := time.NewTicker(interval)
	defer tick.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-tick.C:
			a.emit()
		}
	}
}

func (a *Aggregator) emit() {
	now := a.rt.Clock.NowNs()
	stats := a.rt.Bus.TopicStats()

	topics := make(map[string]msg.TopicHealthStatus, len(stats))
	drops := make(map[string]uint64, len(stats))
	for name, st := range stats {
		th := msg.TopicHealthStatus{AgeMs: -1, Status: "red"}
		if st.Publishes > 0 {
			age := int64(clock.SkewMs(now, st.LastPublishNs))
			th.AgeMs = age
			switch {
			case age > a.cfg.RedMs:
				th.Status = "red"
			case age > a.cfg.YellowMs:
				th.Status = "yellow"
			default:
				th.Status = "green"
			}
		}
		topics[name] = th
		if st.Drops > 0 {
			drops[name] = st.Drops
		}
	}

	a.seqHealth++
	_ = bus.Publish(a.rt.Bus, msg.TopicHealth, msg.HealthSnapshot{
		TNs:    now,
		Seq:    a.seqHealth,
		Topics: topics,
		Drops:  drops,
	})

	a.seqPerf++
	_ = bus.Publish(a.rt.Bus, msg.TopicPerf, msg.PerfSnapshot{
		TNs:    now,
		Seq:    a.seqPerf,
		Stages: a.perf.Snapshot(),
	})
}
