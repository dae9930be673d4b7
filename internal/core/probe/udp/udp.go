// Package udp implements the UDP probe module (spec.md §4.5). The
// validation words are carried in the payload; destination-port
// checks mirror the TCP module. A UDP probe frequently provokes an
// ICMP port-unreachable rather than a direct UDP reply, so
// ValidatePacket also understands ICMP-embedded error responses
// (spec.md §4.5 "For ICMP-embedded replies ... the module extracts the
// inner IP header and re-validates as if the inner packet were the
// original").
package udp

import (
	"encoding/binary"
	"net"
	"time"

	"zscan/internal/core/lib/network/netraw"
	"zscan/internal/core/prf"
	"zscan/internal/core/probe"
)

func init() {
	probe.Register("udp", func() probe.Module { return &Module{} })
}

const (
	ipHeaderLen  = 20
	udpHeaderLen = 8
	ethHeaderLen = 14

	udpProtocol  = 17
	icmpProtocol = 1

	icmpTypeDestUnreach = 3
	icmpTypeTimeExceeded = 11
)

// payloadLen is fixed: 4 bytes of validation material embedded after
// the UDP header, enough to survive truncation in most ICMP error
// quoting without losing V[0].
const payloadLen = 4

type Module struct {
	payloadTemplate string
}

func (m *Module) Name() string { return "udp" }

func (m *Module) GlobalInit(args map[string]string) error {
	m.payloadTemplate = args["payload"]
	return nil
}

func (m *Module) ThreadInit() (any, error) { return nil, nil }

func (m *Module) PreparePacket(buf []byte, srcMAC, gwMAC net.HardwareAddr, perThread any) (int, error) {
	frame, err := netraw.BuildEthernetFrame(gwMAC, srcMAC, netraw.EtherTypeIPv4, make([]byte, ipHeaderLen+udpHeaderLen+payloadLen))
	if err != nil {
		return 0, err
	}
	return copy(buf, frame), nil
}

func (m *Module) MakePacket(buf []byte, args probe.MakePacketArgs) (int, error) {
	srcPort := probe.DeriveSourcePort(args.Validation[1], args.ProbeNum, args.Ports)

	payload := make([]byte, payloadLen)
	binary.BigEndian.PutUint32(payload, args.Validation[0])

	udpHeader, err := netraw.BuildUDPHeader(args.SrcIP, args.DstIP, int(srcPort), int(args.DstPort), payload)
	if err != nil {
		return 0, err
	}
	ipPkt, err := netraw.BuildIPv4Packet(args.SrcIP, args.DstIP, udpProtocol, int(args.TTL), int(args.IPID), udpHeader)
	if err != nil {
		return 0, err
	}
	n := copy(buf[ethHeaderLen:], ipPkt)
	return ethHeaderLen + n, nil
}

func (m *Module) ValidatePacket(ipHdr []byte, validation prf.Words, probeNum uint8, ports probe.PortsConfig) (net.IP, bool) {
	if len(ipHdr) < ipHeaderLen {
		return nil, false
	}
	ihl := int(ipHdr[0]&0x0F) * 4
	if len(ipHdr) < ihl {
		return nil, false
	}

	expectedSrcPort := probe.DeriveSourcePort(validation[1], probeNum, ports)
	switch ipHdr[9] {
	case udpProtocol:
		return validateDirectReply(ipHdr, ihl, validation, expectedSrcPort)
	case icmpProtocol:
		return validateICMPError(ipHdr, ihl, validation, expectedSrcPort)
	default:
		return nil, false
	}
}

func validateDirectReply(ipHdr []byte, ihl int, validation prf.Words, expectedSrcPort uint16) (net.IP, bool) {
	if len(ipHdr) < ihl+udpHeaderLen+payloadLen {
		return nil, false
	}
	udp := ipHdr[ihl:]
	dstPort := binary.BigEndian.Uint16(udp[2:4])
	if dstPort != expectedSrcPort {
		return nil, false
	}
	gotV0 := binary.BigEndian.Uint32(udp[udpHeaderLen : udpHeaderLen+4])
	if gotV0 != validation[0] {
		return nil, false
	}
	return net.IP(append([]byte(nil), ipHdr[12:16]...)), true
}

// validateICMPError handles a port-unreachable or time-exceeded
// response that embeds our original IP+UDP header. The "target" of
// the record is the embedded original destination, not the ICMP
// responder.
func validateICMPError(ipHdr []byte, ihl int, validation prf.Words, expectedSrcPort uint16) (net.IP, bool) {
	icmp := ipHdr[ihl:]
	if len(icmp) < 8 {
		return nil, false
	}
	if icmp[0] != icmpTypeDestUnreach && icmp[0] != icmpTypeTimeExceeded {
		return nil, false
	}

	inner := icmp[8:] // embedded original IP header + as much of UDP as was quoted
	if len(inner) < ipHeaderLen {
		return nil, false
	}
	innerIHL := int(inner[0]&0x0F) * 4
	if inner[9] != udpProtocol || len(inner) < innerIHL+4 {
		return nil, false
	}
	innerUDP := inner[innerIHL:]
	srcPort := binary.BigEndian.Uint16(innerUDP[0:2])
	if srcPort != expectedSrcPort {
		return nil, false
	}

	// the embedded original destination is the target we actually probed
	origDst := net.IP(append([]byte(nil), inner[16:20]...))
	return origDst, true
}

func (m *Module) ProcessPacket(raw []byte, validation prf.Words, ts time.Time, rec probe.Record) {
	if len(raw) < ipHeaderLen {
		rec["parse_err"] = true
		return
	}
	ihl := int(raw[0]&0x0F) * 4
	switch raw[9] {
	case udpProtocol:
		rec["classification"] = "udp-reply"
		rec["success"] = true
	case icmpProtocol:
		icmp := raw[ihl:]
		rec["classification"] = "icmp-unreach"
		rec["icmp_responder"] = net.IP(append([]byte(nil), raw[12:16]...)).String()
		if len(icmp) >= 2 {
			rec["icmp_type"] = int(icmp[0])
			rec["icmp_code"] = int(icmp[1])
		}
		rec["success"] = false
	}
}

func (m *Module) Close() error { return nil }

func (m *Module) MaxPacketLength() int { return ethHeaderLen + ipHeaderLen + udpHeaderLen + payloadLen }

func (m *Module) PCAPFilter() string { return "udp or icmp" }

func (m *Module) PortArgs() bool { return true }

func (m *Module) OutputType() string { return "udp" }

func (m *Module) FieldSchema() []probe.FieldDef {
	return []probe.FieldDef{
		{Name: "classification", Type: probe.FieldString, Desc: "udp-reply or icmp-unreach"},
		{Name: "icmp_responder", Type: probe.FieldString, Desc: "address that sent the ICMP error, if any"},
		{Name: "icmp_type", Type: probe.FieldInt, Desc: "ICMP type, if an ICMP error response"},
		{Name: "icmp_code", Type: probe.FieldInt, Desc: "ICMP code, if an ICMP error response"},
		{Name: "success", Type: probe.FieldBool, Desc: "true for a direct UDP reply"},
	}
}
