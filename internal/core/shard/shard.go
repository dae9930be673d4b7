// Package shard implements the disjoint, single-owner slice of the
// cyclic iterator that one sender thread drives (spec.md §4.3).
package shard

import (
	"net"
	"sync/atomic"
	"time"

	"zscan/internal/core/blocklist"
	"zscan/internal/core/iterator"
)

// Status is the result of peeking or advancing a shard's position.
type Status int

const (
	Ready Status = iota
	Done
)

// CompletionCallback is invoked exactly once, from the owning sender
// thread, when a shard finishes (spec.md §4.3 "Completion callback").
type CompletionCallback func(threadID int, arg any)

// Config bundles everything needed to construct a Shard.
type Config struct {
	Params iterator.Params
	Ports  []uint16

	// ShardIndex/TotalShards partition the iterator across machines;
	// ThreadIndex/SendersPerShard partition it across sender threads
	// on this machine. Stride D = SendersPerShard*TotalShards.
	ShardIndex       int
	TotalShards      int
	ThreadIndex      int
	SendersPerShard  int

	Oracle blocklist.Oracle

	MaxTargets uint64 // 0 = unbounded
	MaxPackets uint64 // 0 = unbounded

	ThreadID int
	OnDone   CompletionCallback
	Arg      any
}

// Target is one decoded (ip, port) pair ready to probe.
type Target struct {
	IP   net.IP
	Port uint16
}

// Shard owns a disjoint, strided subsequence of the cyclic iterator.
// It has exactly one owner (the sender thread that created it) and
// performs no internal locking; see spec.md §4.3/§5.
type Shard struct {
	params iterator.Params
	ports  []uint16
	oracle blocklist.Oracle

	current     uint64
	strideMult  uint64
	stepsDone   uint64
	stepsTotal  uint64
	exhausted   bool

	maxTargets uint64
	maxPackets uint64

	targetsScanned uint64
	packetsSent    uint64
	packetsFailed  uint64
	firstScanned   time.Time
	lastScanned    time.Time

	threadID int
	onDone   CompletionCallback
	arg      any
	doneFired bool

	pending   *Target
	pendingOK bool
}

// New constructs a shard positioned at its starting exponent and
// computes its exact step budget: the number of exponent offsets k in
// [0, Prime-1) with k congruent to this shard's offset modulo the
// stride. Completion is detected by that count rather than by the
// value returning to its start, so the shards together visit every
// exponent exactly once even when the stride does not divide Prime-1.
func New(cfg Config) (*Shard, error) {
	if len(cfg.Ports) == 0 {
		return nil, errPortsRequired
	}

	stride := uint64(cfg.SendersPerShard) * uint64(cfg.TotalShards)
	if stride == 0 {
		stride = 1
	}
	shardOffset := uint64(cfg.ThreadIndex) + uint64(cfg.SendersPerShard)*uint64(cfg.ShardIndex)

	phi := cfg.Params.Prime - 1
	startExp := (cfg.Params.StartExponent + shardOffset) % phi

	s := &Shard{
		params:     cfg.Params,
		ports:      cfg.Ports,
		oracle:     cfg.Oracle,
		strideMult: cfg.Params.StrideMultiplier(stride),
		maxTargets: cfg.MaxTargets,
		maxPackets: cfg.MaxPackets,
		threadID:   cfg.ThreadID,
		onDone:     cfg.OnDone,
		arg:        cfg.Arg,
	}
	s.current = cfg.Params.ValueAt(startExp)
	s.stepsTotal = stepCount(phi, shardOffset, stride)

	return s, nil
}

// stepCount returns the number of k in [0, phi-1] with k % stride == offset%stride.
func stepCount(phi, offset, stride uint64) uint64 {
	off := offset % stride
	if off >= phi {
		return 0
	}
	return (phi-1-off)/stride + 1
}

var errPortsRequired = shardErr("shard: port list must not be empty")

type shardErr string

func (e shardErr) Error() string { return string(e) }

// CurrentTarget peeks the shard's current position without advancing it.
func (s *Shard) CurrentTarget() (Target, Status) {
	if s.pendingOK {
		return *s.pending, Ready
	}
	t, status := s.advance()
	if status == Ready {
		s.pending = &t
		s.pendingOK = true
	}
	return t, status
}

// NextTarget advances the shard and returns the newly emitted target.
// It never re-emits an index already emitted by this shard.
func (s *Shard) NextTarget() (Target, Status) {
	if s.pendingOK {
		s.pendingOK = false
		t := *s.pending
		s.pending = nil
		return t, Ready
	}
	return s.advance()
}

// advance is the only place that consumes iterator steps. It skips
// holes (group elements > N) and, if an allowlist/blocklist oracle is
// active, addresses the oracle rejects -- both still consume a step
// (spec.md §4.3), but neither counts as a scanned target.
func (s *Shard) advance() (Target, Status) {
	for {
		if s.isDone() {
			s.fireDone()
			return Target{}, Done
		}

		x := s.current
		s.current = iterator.Advance(s.current, s.strideMult, s.params.Prime)
		s.stepsDone++

		if x > s.params.N {
			continue // hole
		}

		addrOrdinal, portIndex := iterator.Decode(x, uint64(len(s.ports)))
		ip := s.oracle.Rank(addrOrdinal)
		if ip == nil {
			continue
		}
		if !s.oracle.Allowed(ip) {
			continue
		}

		return Target{IP: ip, Port: s.ports[portIndex]}, Ready
	}
}

func (s *Shard) isDone() bool {
	if s.exhausted {
		return true
	}
	if s.stepsDone >= s.stepsTotal {
		s.exhausted = true
		return true
	}
	if s.maxTargets > 0 && atomic.LoadUint64(&s.targetsScanned) >= s.maxTargets {
		s.exhausted = true
		return true
	}
	if s.maxPackets > 0 && atomic.LoadUint64(&s.packetsSent) >= s.maxPackets {
		s.exhausted = true
		return true
	}
	return false
}

func (s *Shard) fireDone() {
	if s.doneFired {
		return
	}
	s.doneFired = true
	if s.onDone != nil {
		s.onDone(s.threadID, s.arg)
	}
}

// MarkSent records the outcome of one transmitted probe.
func (s *Shard) MarkSent(ok bool) {
	atomic.AddUint64(&s.packetsSent, 1)
	if !ok {
		atomic.AddUint64(&s.packetsFailed, 1)
	}
}

// MarkScanned records that the current target has been fully probed
// (all packet_streams sent for it).
func (s *Shard) MarkScanned() {
	now := time.Now()
	if s.firstScanned.IsZero() {
		s.firstScanned = now
	}
	s.lastScanned = now
	atomic.AddUint64(&s.targetsScanned, 1)
}

// Stats is a point-in-time snapshot of shard counters, safe to read
// from a thread other than the owner (spec.md §5 "readers ... may
// observe it only via relaxed loads").
type Stats struct {
	TargetsScanned uint64
	PacketsSent    uint64
	PacketsFailed  uint64
	FirstScanned   time.Time
	LastScanned    time.Time
}

func (s *Shard) Stats() Stats {
	return Stats{
		TargetsScanned: atomic.LoadUint64(&s.targetsScanned),
		PacketsSent:    atomic.LoadUint64(&s.packetsSent),
		PacketsFailed:  atomic.LoadUint64(&s.packetsFailed),
		FirstScanned:   s.firstScanned,
		LastScanned:    s.lastScanned,
	}
}

// Done reports whether this shard has finished, without advancing it.
func (s *Shard) Done() bool {
	return s.isDone()
}
