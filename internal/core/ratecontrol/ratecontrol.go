// Package ratecontrol implements the per-sender-thread pacing
// controller (spec.md §4.4). Each sender thread owns exactly one
// Controller; there is no shared token bucket. The controller runs in
// one of two modes depending on its target rate, and mutates under a
// mutex the same way the teacher's AdaptiveLimiter guards its limit
// state, with a global rate nudge applied via atomics so SIGUSR1/
// SIGUSR2 handlers never need to touch a thread's internal state
// directly.
package ratecontrol

import (
	"math"
	"sync"
	"sync/atomic"
	"time"
)

func float64bits(f float64) uint64    { return math.Float64bits(f) }
func float64frombits(b uint64) float64 { return math.Float64frombits(b) }

// slowThreshold is the pps boundary below which sleep mode is used
// instead of spin-delay mode (spec.md §4.4).
const slowThreshold = 1000.0

// GlobalRate holds the process-wide target rate in packets/sec,
// mutated atomically by SIGUSR1/SIGUSR2 handlers (+5%/-5%) and read by
// every Controller to derive its per-thread share (spec.md §6
// "Signals").
type GlobalRate struct {
	bits uint64 // float64 stored via math.Float64bits
}

// NewGlobalRate creates a shared rate holder seeded at r pps.
func NewGlobalRate(r float64) *GlobalRate {
	g := &GlobalRate{}
	g.Store(r)
	return g
}

func (g *GlobalRate) Load() float64 {
	return float64frombits(atomic.LoadUint64(&g.bits))
}

func (g *GlobalRate) Store(r float64) {
	atomic.StoreUint64(&g.bits, float64bits(r))
}

// Bump multiplies the global rate by factor (1.05 for SIGUSR1, 0.95
// for SIGUSR2), retrying under a CAS loop so concurrent signals never
// lose an update.
func (g *GlobalRate) Bump(factor float64) {
	for {
		old := atomic.LoadUint64(&g.bits)
		newRate := float64frombits(old) * factor
		if atomic.CompareAndSwapUint64(&g.bits, old, float64bits(newRate)) {
			return
		}
	}
}

// Controller paces one sender thread to its share of the global rate.
// It is owned by a single thread; the only cross-thread access is its
// read of the shared GlobalRate.
type Controller struct {
	global     *GlobalRate
	senders    int // S
	streams    int // packet_streams
	mu         sync.Mutex

	// sleep-mode state
	sleepNS float64

	// spin-delay-mode state
	delay int64

	lastTime  time.Time
	lastCount uint64
	count     uint64
	interval  uint64 // spin-delay measurement interval, in packets
}

// New creates a Controller for one of `senders` sender threads, each
// sending `streams` probes per target, sharing `global`'s target pps.
func New(global *GlobalRate, senders, streams int) *Controller {
	return &Controller{
		global:   global,
		senders:  senders,
		streams:  streams,
		sleepNS:  1e6, // 1ms initial guess
		delay:    1,
		lastTime: time.Now(),
	}
}

// perThreadRate is r = R / (S * packet_streams) from spec.md §4.4.
func (c *Controller) perThreadRate() float64 {
	denom := float64(c.senders * c.streams)
	if denom <= 0 {
		denom = 1
	}
	return c.global.Load() / denom
}

// PaceOne blocks (via sleep or busy-wait) for the duration one packet
// should take at this thread's current target rate, then records the
// send so the next call's measurement window advances.
func (c *Controller) PaceOne() {
	c.mu.Lock()
	defer c.mu.Unlock()

	r := c.perThreadRate()
	if r < slowThreshold {
		c.sleepMode(r)
	} else {
		c.spinDelayMode(r)
	}
	c.count++
}

// sleepMode implements spec.md §4.4's EMA-updated nanosleep pacing.
func (c *Controller) sleepMode(r float64) {
	now := time.Now()
	if !c.lastTime.IsZero() {
		elapsed := now.Sub(c.lastTime).Seconds()
		if elapsed > 0 {
			lastRate := 1.0 / elapsed
			c.sleepNS = c.sleepNS * ((lastRate/r)+1) / 2
		}
	}
	if c.sleepNS < 0 {
		c.sleepNS = 0
	}
	time.Sleep(time.Duration(c.sleepNS))
	c.lastTime = now
}

// spinDelayMode implements spec.md §4.4's busy-wait pacing, remeasuring
// observed rate every `interval = r/20` packets.
func (c *Controller) spinDelayMode(r float64) {
	c.interval = uint64(r / 20)
	if c.interval == 0 {
		c.interval = 1
	}

	if c.count-c.lastCount >= c.interval {
		now := time.Now()
		elapsed := now.Sub(c.lastTime).Seconds()
		if elapsed > 0 {
			observed := float64(c.count-c.lastCount) / elapsed
			mult := observed / r
			newDelay := int64(float64(c.delay) * mult)
			if newDelay == c.delay {
				if mult >= 1 {
					newDelay = c.delay * 2
				} else {
					newDelay = c.delay / 2
				}
			}
			if newDelay < 1 {
				newDelay = 1
			}
			c.delay = newDelay
		}
		c.lastTime = now
		c.lastCount = c.count
	}

	spin(c.delay)
}

// spin busy-waits for n iterations. A real deployment would use this
// to hold a core hot rather than yield to the scheduler, matching
// spec.md's "integer delay representing busy-wait iterations".
func spin(n int64) {
	var x uint64
	for i := int64(0); i < n; i++ {
		x += uint64(i)
	}
	_ = x
}

// Delay returns the current spin-delay-mode iteration count, for tests
// and monitor display.
func (c *Controller) Delay() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.delay
}

// SleepNanos returns the current sleep-mode duration, for tests and
// monitor display.
func (c *Controller) SleepNanos() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sleepNS
}
