// Package probe defines the polymorphic probe/response module contract
// (spec.md §4.5) and a static registry mapping module name to
// implementation, the idiomatic-Go stand-in for the function-pointer
// polymorphism the spec's source language used (spec.md §9 "Patterns
// in the source that require re-architecture").
package probe

import (
	"net"
	"time"

	"zscan/internal/core/prf"
)

// FieldType is the type tag for one output field (spec.md §6 "Output
// schema").
type FieldType string

const (
	FieldString   FieldType = "string"
	FieldInt      FieldType = "int"
	FieldBool     FieldType = "bool"
	FieldBinary   FieldType = "binary"
	FieldRepeated FieldType = "repeated"
)

// FieldDef describes one field a module contributes to output records.
type FieldDef struct {
	Name string
	Type FieldType
	Desc string
}

// PortsConfig carries the configured target/source port windows a
// module's ValidatePacket needs to check a response against.
type PortsConfig struct {
	SourcePortFirst, SourcePortLast uint16
	TargetPorts                     []uint16
}

// ContainsSourcePort reports whether port falls in the configured source port
// window, the "expected window derived from V[1]" spec.md §4.2 refers
// to for TCP/UDP destination-port checks.
func (p PortsConfig) ContainsSourcePort(port uint16) bool {
	return port >= p.SourcePortFirst && port <= p.SourcePortLast
}

// DeriveSourcePort implements spec.md §3's source-port formula
// `P_lo + (V[1]+i) mod (P_hi-P_lo+1)` for probe stream i, so the
// sender and the receiver's validation both land on the same port
// without either side trusting the other's claim.
func DeriveSourcePort(v1 uint32, probeNum uint8, ports PortsConfig) uint16 {
	lo, hi := ports.SourcePortFirst, ports.SourcePortLast
	if hi <= lo {
		return lo
	}
	span := uint32(hi-lo) + 1
	return lo + uint16((v1+uint32(probeNum))%span)
}

// MakePacketArgs bundles the per-target fields make_packet patches
// into the invariant prefix prepare_packet already wrote.
type MakePacketArgs struct {
	SrcIP, DstIP net.IP
	DstPort      uint16
	TTL          uint8
	Validation   prf.Words
	ProbeNum     uint8
	IPID         uint16
	PerThread    any
	Ports        PortsConfig
}

// Record is the output fieldset a module populates in ProcessPacket,
// concatenated by the receiver with the system field set before
// handing it to an output encoder (spec.md §4.6 step 6).
type Record map[string]any

// Module is the capability set every probe/response protocol
// implements (spec.md §4.5).
type Module interface {
	// Name is the registry key (also probe_module CLI value).
	Name() string

	// GlobalInit parses module-specific args and allocates shared
	// immutable state, once, before any thread starts.
	GlobalInit(args map[string]string) error

	// ThreadInit returns per-thread state (e.g. a templated-payload
	// RNG). Called once per sender thread, at the start of its send loop.
	ThreadInit() (perThread any, err error)

	// PreparePacket writes the invariant link/network/transport
	// header prefix into buf -- everything that never changes across
	// targets for this thread.
	PreparePacket(buf []byte, srcMAC, gwMAC net.HardwareAddr, perThread any) (n int, err error)

	// MakePacket patches buf's per-target fields (addresses, ports,
	// validation words, TTL, IP ID) and recomputes checksums. Returns
	// the total packet length.
	MakePacket(buf []byte, args MakePacketArgs) (n int, err error)

	// ValidatePacket decides whether a captured packet is a response
	// to a probe this process sent, recomputing validation locally
	// rather than trusting any embedded claim (spec.md §4.5
	// "Validation discipline"). probeNum is the stream index being
	// tried so the module can reproduce the same per-stream derived
	// fields (e.g. source port) MakePacket used. extractedSaddr is
	// populated with the real target address, which for ICMP-embedded
	// errors differs from the captured packet's own source address.
	ValidatePacket(ipHdr []byte, validation prf.Words, probeNum uint8, ports PortsConfig) (extractedSaddr net.IP, ok bool)

	// ProcessPacket extracts module-specific fields from a validated
	// packet into rec.
	ProcessPacket(raw []byte, validation prf.Words, ts time.Time, rec Record)

	// Close releases module-global resources at scan teardown.
	Close() error

	// MaxPacketLength is the largest packet this module ever builds,
	// used for bandwidth<->rate conversion and buffer sizing.
	MaxPacketLength() int

	// PCAPFilter is the BPF expression the capture adapter installs
	// so the receiver only sees plausible responses.
	PCAPFilter() string

	// PortArgs reports whether the destination port varies per
	// target (true) or is fixed by probe_args (false).
	PortArgs() bool

	// OutputType names the record schema's logical protocol, e.g.
	// "tcp", "icmp", "dns".
	OutputType() string

	// FieldSchema lists the fields ProcessPacket populates.
	FieldSchema() []FieldDef
}

// registry is the static module-name -> factory map (spec.md §9
// "a static registry maps module name -> implementation").
var registry = map[string]func() Module{}

// Register adds a module factory under name. Called from each module
// package's init().
func Register(name string, factory func() Module) {
	registry[name] = factory
}

// Get constructs a fresh Module instance for name.
func Get(name string) (Module, bool) {
	factory, ok := registry[name]
	if !ok {
		return nil, false
	}
	return factory(), true
}

// Names lists every registered module, for CLI help and validation.
func Names() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	return names
}
