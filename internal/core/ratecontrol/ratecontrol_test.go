package ratecontrol

import "testing"

func TestGlobalRateBump(t *testing.T) {
	g := NewGlobalRate(1000)

	g.Bump(1.05)
	if got := g.Load(); got != 1050 {
		t.Errorf("after +5%% bump: got %v, want 1050", got)
	}

	g.Bump(0.95)
	// 1050 * 0.95 = 997.5
	if got := g.Load(); got != 997.5 {
		t.Errorf("after -5%% bump: got %v, want 997.5", got)
	}
}

func TestSpinDelayModeClampsToOne(t *testing.T) {
	g := NewGlobalRate(100000) // well above slowThreshold, spin-delay mode
	c := New(g, 1, 1)

	for i := 0; i < 200; i++ {
		c.PaceOne()
	}

	if c.Delay() < 1 {
		t.Fatalf("delay must never drop below 1, got %d", c.Delay())
	}
}

func TestSleepModeUsedBelowThreshold(t *testing.T) {
	g := NewGlobalRate(10) // well below slowThreshold
	c := New(g, 1, 1)

	if r := c.perThreadRate(); r >= slowThreshold {
		t.Fatalf("perThreadRate() = %v, want < slowThreshold", r)
	}

	c.PaceOne()
	if c.SleepNanos() <= 0 {
		t.Fatalf("sleepNS should stay positive, got %v", c.SleepNanos())
	}
}

func TestPerThreadRateDividesAcrossSendersAndStreams(t *testing.T) {
	g := NewGlobalRate(1000)
	c := New(g, 10, 2) // S=10 senders, packet_streams=2

	want := 1000.0 / (10 * 2)
	if got := c.perThreadRate(); got != want {
		t.Errorf("perThreadRate() = %v, want %v", got, want)
	}
}
