// Package health tracks topic staleness, drop counts, and per-stage
// processing latency, and publishes slow-cadence snapshots for the UI and
// for mode-degradation decisions.
package health

import (
	"sort"
	"sync"

	"github.com/focusfield/focusfield/internal/msg"
)

// reservoirSize bounds the per-stage latency sample window.
const reservoirSize = 512

// Perf collects per-stage latency observations. Components call Observe on
// their hot-path exit; the aggregator drains summaries.
type Perf struct {
	mu      sync.Mutex
	samples map[string][]float64 // rolling window, newest appended
	next    map[string]int       // ring cursor once the window is full
	counts  map[string]uint64
}

// NewPerf creates an empty latency recorder.
func NewPerf() *Perf {
	return &Perf{
		samples: make(map[string][]float64),
		next:    make(map[string]int),
		counts:  make(map[string]uint64),
	}
}

// Observe records one latency measurement for a stage, in milliseconds.
func (p *Perf) Observe(stage string, ms float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.counts[stage]++
	s := p.samples[stage]
	if len(s) < reservoirSize {
		p.samples[stage] = append(s, ms)
		return
	}
	s[p.next[stage]] = ms
	p.next[stage] = (p.next[stage] + 1) % reservoirSize
}

// Snapshot summarizes every stage seen so far.
func (p *Perf) Snapshot() map[string]msg.LatencyStats {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make(map[string]msg.LatencyStats, len(p.samples))
	for stage, s := range p.samples {
		sorted := make([]float64, len(s))
		copy(sorted, s)
		sort.Float64s(sorted)
		out[stage] = msg.LatencyStats{
			P50Ms: percentile(sorted, 0.50),
			P95Ms: percentile(sorted, 0.95),
			Count: p.counts[stage],
		}
	}
	return out
}

// percentile reads q from an ascending-sorted sample window.
func percentile(sorted []float64, q float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	idx := int(q * float64(len(sorted)-1))
	return sorted[idx]
}
