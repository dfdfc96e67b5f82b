package health

import (
	"testing"
)

func TestPerfPercentiles(t *testing.T) {
	p := NewPerf()
	for i := 1; i <= 100; i++ {
		p.Observe("doa", float64(i))
	}
	snap := p.Snapshot()
	st, ok := snap["doa"]
	if !ok {
		t.Fatal("stage missing from snapshot")
	}
	if st.Count != 100 {
		t.Errorf("count = %d, want 100", st.Count)
	}
	if st.P50Ms < 45 || st.P50Ms > 55 {
		t.Errorf("p50 = %v, want ~50", st.P50Ms)
	}
	if st.P95Ms < 90 || st.P95Ms > 100 {
		t.Errorf("p95 = %v, want ~95", st.P95Ms)
	}
}

func TestPerfWindowBounded(t *testing.T) {
	p := NewPerf()
	// Far more samples than the reservoir holds; old ones roll off and
	// the percentiles reflect recent values.
	for i := 0; i < 10_000; i++ {
		p.Observe("lock", 1)
	}
	for i := 0; i < reservoirSize; i++ {
		p.Observe("lock", 100)
	}
	snap := p.Snapshot()
	if st := snap["lock"]; st.P50Ms != 100 {
		t.Errorf("p50 = %v after window rollover, want 100", st.P50Ms)
	}
}

func TestPerfEmptySnapshot(t *testing.T) {
	p := NewPerf()
	if snap := p.Snapshot(); len(snap) != 0 {
		t.Errorf("empty recorder produced %d stages", len(snap))
	}
}
