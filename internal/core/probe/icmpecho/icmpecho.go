// Package icmpecho implements the ICMP echo ("ping") probe module
// (spec.md §4.5). Validation words carry the echo identifier and
// sequence number; any echo reply whose id/seq match is accepted.
package icmpecho

import (
	"encoding/binary"
	"net"
	"time"

	"zscan/internal/core/lib/network/netraw"
	"zscan/internal/core/prf"
	"zscan/internal/core/probe"
)

func init() {
	probe.Register("icmp_echo", func() probe.Module { return &Module{} })
}

const (
	ipHeaderLen  = 20
	icmpHeaderLen = 8
	ethHeaderLen = 14
	icmpProtocol = 1

	icmpTypeEchoRequest = 8
	icmpTypeEchoReply   = 0
)

type Module struct{}

func (m *Module) Name() string { return "icmp_echo" }

func (m *Module) GlobalInit(args map[string]string) error { return nil }

func (m *Module) ThreadInit() (any, error) { return nil, nil }

func (m *Module) PreparePacket(buf []byte, srcMAC, gwMAC net.HardwareAddr, perThread any) (int, error) {
	frame, err := netraw.BuildEthernetFrame(gwMAC, srcMAC, netraw.EtherTypeIPv4, make([]byte, ipHeaderLen+icmpHeaderLen))
	if err != nil {
		return 0, err
	}
	return copy(buf, frame), nil
}

func echoIDAndSeq(v prf.Words) (id, seq int) {
	return int(v[0] & 0xFFFF), int(v[1] & 0xFFFF)
}

func (m *Module) MakePacket(buf []byte, args probe.MakePacketArgs) (int, error) {
	id, seq := echoIDAndSeq(args.Validation)

	icmpPkt, err := netraw.BuildICMPEchoRequest(id, seq, nil)
	if err != nil {
		return 0, err
	}
	ipPkt, err := netraw.BuildIPv4Packet(args.SrcIP, args.DstIP, icmpProtocol, int(args.TTL), int(args.IPID), icmpPkt)
	if err != nil {
		return 0, err
	}
	n := copy(buf[ethHeaderLen:], ipPkt)
	return ethHeaderLen + n, nil
}

func (m *Module) ValidatePacket(ipHdr []byte, validation prf.Words, probeNum uint8, ports probe.PortsConfig) (net.IP, bool) {
	if len(ipHdr) < ipHeaderLen+icmpHeaderLen {
		return nil, false
	}
	ihl := int(ipHdr[0]&0x0F) * 4
	if ipHdr[9] != icmpProtocol || len(ipHdr) < ihl+icmpHeaderLen {
		return nil, false
	}
	icmp := ipHdr[ihl:]
	if icmp[0] != icmpTypeEchoReply {
		return nil, false
	}

	wantID, wantSeq := echoIDAndSeq(validation)
	gotID := int(binary.BigEndian.Uint16(icmp[4:6]))
	gotSeq := int(binary.BigEndian.Uint16(icmp[6:8]))
	if gotID != wantID || gotSeq != wantSeq {
		return nil, false
	}

	srcIP := net.IP(append([]byte(nil), ipHdr[12:16]...))
	return srcIP, true
}

func (m *Module) ProcessPacket(raw []byte, validation prf.Words, ts time.Time, rec probe.Record) {
	if len(raw) < ipHeaderLen+icmpHeaderLen {
		rec["parse_err"] = true
		return
	}
	ihl := int(raw[0]&0x0F) * 4
	icmp := raw[ihl:]
	rec["icmp_type"] = int(icmp[0])
	rec["icmp_code"] = int(icmp[1])
	rec["classification"] = "echoreply"
	rec["success"] = true
}

func (m *Module) Close() error { return nil }

func (m *Module) MaxPacketLength() int { return ethHeaderLen + ipHeaderLen + icmpHeaderLen }

func (m *Module) PCAPFilter() string { return "icmp" }

func (m *Module) PortArgs() bool { return false }

func (m *Module) OutputType() string { return "icmp" }

func (m *Module) FieldSchema() []probe.FieldDef {
	return []probe.FieldDef{
		{Name: "icmp_type", Type: probe.FieldInt, Desc: "ICMP type of the response"},
		{Name: "icmp_code", Type: probe.FieldInt, Desc: "ICMP code of the response"},
		{Name: "classification", Type: probe.FieldString, Desc: "echoreply"},
		{Name: "success", Type: probe.FieldBool, Desc: "true for echoreply"},
	}
}
