package clock

import (
	"testing"
	"time"
)

func TestMonotonicAdvances(t *testing.T) {
	c := NewMonotonic()
	a := c.NowNs()
	time.Sleep(2 * time.Millisecond)
	b := c.NowNs()
	if b <= a {
		t.Errorf("clock did not advance: %d then %d", a, b)
	}
}

func TestManual(t *testing.T) {
	c := NewManual(100)
	if got := c.NowNs(); got != 100 {
		t.Errorf("NowNs() = %d, want 100", got)
	}
	c.Advance(5 * time.Millisecond)
	if got := c.NowNs(); got != 100+5_000_000 {
		t.Errorf("NowNs() = %d after advance", got)
	}
	c.Set(42)
	if got := c.NowNs(); got != 42 {
		t.Errorf("NowNs() = %d after set", got)
	}
}

func TestSkewMs(t *testing.T) {
	if got := SkewMs(2_000_000, 1_000_000); got != 1 {
		t.Errorf("SkewMs = %v, want 1", got)
	}
	if got := SkewMs(1_000_000, 2_000_000); got != -1 {
		t.Errorf("SkewMs = %v, want -1 for future timestamp", got)
	}
}
