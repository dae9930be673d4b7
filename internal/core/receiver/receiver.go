// Package receiver implements the capture-side loop (spec.md §4.6):
// classify each captured frame against the keyed PRF without trusting
// any of its embedded claims, dedup repeat responses to the same
// target, and hand validated records to an output sink. Runs until
// told to stop, then drains for one cooldown window before exiting.
package receiver

import (
	"encoding/binary"
	"net"
	"sync"
	"time"

	"zscan/internal/core/prf"
	"zscan/internal/core/probe"
	"zscan/internal/transport"
)

const (
	ethHeaderLen     = 14
	etherTypeIPv4    = 0x0800
	ipProtoICMP      = 1
	ipProtoTCP       = 6
	ipProtoUDP       = 17
	icmpDestUnreach  = 3
	icmpTimeExceeded = 11
	icmpEchoReply    = 0
)

// Dedup tracks which (target, port) pairs have already produced a
// validated response within the scan's run, so later responses from the
// same pair can be tagged as repeats, since a target may answer more
// than once per packet_streams probe (spec.md §4.6 "Dedup").
type Dedup struct {
	mu   sync.Mutex
	seen map[uint64]time.Time
}

func NewDedup() *Dedup { return &Dedup{seen: make(map[uint64]time.Time)} }

func dedupKey(ip net.IP, port uint16) uint64 {
	v4 := ip.To4()
	var k uint64
	if v4 != nil {
		k = uint64(binary.BigEndian.Uint32(v4)) << 16
	}
	return k | uint64(port)
}

// Observe records (ip, port) as seen and reports whether this is the
// first time -- subsequent calls for the same pair return false so the
// caller can still emit the response, tagged repeat=true, rather than
// drop it (spec.md §3 "A target is recorded at most once as a
// non-repeat response; all subsequent responses ... marked repeat=true",
// §8 "Dedup" testable property).
func (d *Dedup) Observe(ip net.IP, port uint16) (first bool) {
	k := dedupKey(ip, port)
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.seen[k]; ok {
		return false
	}
	d.seen[k] = time.Now()
	return true
}

// Config bundles what the receive loop needs to classify frames.
type Config struct {
	Receiver      transport.Receiver
	Module        probe.Module
	Key           prf.Key
	SrcIP         net.IP
	PacketStreams int
	Ports         probe.PortsConfig
	Dedup         *Dedup
	Cooldown      time.Duration

	// Emit is called once per validated response; repeats of an
	// already-seen (target, port) carry repeat=true.
	Emit func(probe.Record)
}

// Loop reads frames until stop fires, then continues draining for
// Cooldown before returning -- late responses from the last batch of
// probes still count (spec.md §4.6 "Cooldown").
func Loop(cfg Config, stop <-chan struct{}) error {
	deadline := time.Time{}
	stopped := false
	for {
		select {
		case <-stop:
			stopped = true
			if deadline.IsZero() {
				deadline = time.Now().Add(cfg.Cooldown)
			}
		default:
		}

		if !deadline.IsZero() && time.Now().After(deadline) {
			return nil
		}

		cfg.Receiver.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
		frame, ts, err := cfg.Receiver.Next()
		if err != nil {
			continue // timeout or transient capture error; re-check stop/deadline
		}

		// Once stop has fired we're in the cooldown drain window; every
		// record emitted from here on must say so (spec.md §4.7,
		// §8 "Cooldown monotonicity").
		rec, ok := classify(cfg, frame, ts, stopped)
		if !ok {
			continue
		}
		if cfg.Emit != nil {
			cfg.Emit(rec)
		}
	}
}

// classify extracts a candidate (target IP, target port) pair from
// the frame using only generic IP/TCP/UDP/ICMP structure, brute-forces
// probe_num against the keyed PRF, and defers to the probe module for
// the final accept/reject decision -- the module never tells us what
// to believe, only whether what we independently derived checks out.
// Every accepted response is emitted, first-seen or not, with the
// spec.md §6 system field set attached; a dedup hit is tagged
// repeat=true rather than dropped (spec.md §3, §8 "Dedup").
func classify(cfg Config, frame []byte, ts time.Time, cooldown bool) (probe.Record, bool) {
	if len(frame) < ethHeaderLen+20 {
		return nil, false
	}
	etherType := binary.BigEndian.Uint16(frame[12:14])
	if etherType != etherTypeIPv4 {
		return nil, false // IPv6 handled by a dedicated module/path
	}
	ipHdr := frame[ethHeaderLen:]
	ihl := int(ipHdr[0]&0x0F) * 4
	if ihl < 20 || len(ipHdr) < ihl {
		return nil, false
	}

	targetIP, targetPort, dport, ok := candidateTarget(ipHdr, ihl)
	if !ok {
		return nil, false
	}

	srcU32 := ipToUint32(cfg.SrcIP)
	dstU32 := ipToUint32(targetIP)

	for probeNum := 0; probeNum < cfg.PacketStreams; probeNum++ {
		words, err := prf.F(cfg.Key, srcU32, dstU32, targetPort, uint8(probeNum))
		if err != nil {
			continue
		}
		origin, ok := cfg.Module.ValidatePacket(ipHdr, words, uint8(probeNum), cfg.Ports)
		if !ok {
			continue
		}

		first := true
		if cfg.Dedup != nil {
			first = cfg.Dedup.Observe(origin, targetPort)
		}

		rec := probe.Record{
			"saddr":     origin.String(),
			"sport":     targetPort,
			"probe_num": probeNum,
			"timestamp": ts,
		}
		cfg.Module.ProcessPacket(ipHdr, words, ts, rec)

		originU32 := ipToUint32(origin)
		rec["saddr_raw"] = originU32
		rec["daddr"] = cfg.SrcIP.String()
		rec["daddr_raw"] = srcU32
		rec["dport"] = dport
		rec["ipid"] = binary.BigEndian.Uint16(ipHdr[4:6])
		rec["ttl"] = ipHdr[8]
		rec["repeat"] = !first
		rec["cooldown"] = cooldown
		rec["timestamp_str"] = ts.Format(time.RFC3339)
		rec["timestamp_ts"] = ts.Unix()
		rec["timestamp_us"] = ts.Nanosecond() / 1000

		return rec, true
	}
	return nil, false
}

// candidateTarget recovers the address/port this frame is plausibly
// answering: for a direct TCP/UDP reply, the packet's source address
// and source port, with our receiving port as dport; for an ICMP error,
// the embedded original destination address and port, with the embedded
// original source port as dport; for an echo reply, the packet's source
// address with both ports zero.
func candidateTarget(ipHdr []byte, ihl int) (ip net.IP, port, dport uint16, ok bool) {
	switch ipHdr[9] {
	case ipProtoTCP, ipProtoUDP:
		if len(ipHdr) < ihl+4 {
			return nil, 0, 0, false
		}
		srcIP := net.IP(append([]byte(nil), ipHdr[12:16]...))
		srcPort := binary.BigEndian.Uint16(ipHdr[ihl : ihl+2])
		dstPort := binary.BigEndian.Uint16(ipHdr[ihl+2 : ihl+4])
		return srcIP, srcPort, dstPort, true

	case ipProtoICMP:
		icmp := ipHdr[ihl:]
		if len(icmp) < 8 {
			return nil, 0, 0, false
		}
		switch icmp[0] {
		case icmpEchoReply:
			return net.IP(append([]byte(nil), ipHdr[12:16]...)), 0, 0, true
		case icmpDestUnreach, icmpTimeExceeded:
			inner := icmp[8:]
			if len(inner) < 20 {
				return nil, 0, 0, false
			}
			innerIHL := int(inner[0]&0x0F) * 4
			if inner[9] != ipProtoTCP && inner[9] != ipProtoUDP {
				return nil, 0, 0, false
			}
			if len(inner) < innerIHL+4 {
				return nil, 0, 0, false
			}
			// The responder is our ICMP peer, not the original target --
			// the embedded inner header carries the original addressing.
			// Inner src port is ours (the probe we sent); inner dst port
			// is the target's port we probed.
			origDst := net.IP(append([]byte(nil), inner[16:20]...))
			origSrcPort := binary.BigEndian.Uint16(inner[innerIHL : innerIHL+2])
			origDstPort := binary.BigEndian.Uint16(inner[innerIHL+2 : innerIHL+4])
			return origDst, origDstPort, origSrcPort, true
		}
		return nil, 0, 0, false

	default:
		return nil, 0, 0, false
	}
}

func ipToUint32(ip net.IP) uint32 {
	v4 := ip.To4()
	if v4 == nil {
		return 0
	}
	return uint32(v4[0])<<24 | uint32(v4[1])<<16 | uint32(v4[2])<<8 | uint32(v4[3])
}
