// Package tcpsyn implements the TCP SYN probe module (spec.md §4.5).
// A SYN is sent with th_seq = V[0] and source port derived from V[1];
// any SYN-ACK or RST whose ack_seq-1 matches V[0] and whose
// destination port (our source port) matches the V[1]-derived value
// is accepted as a genuine response.
package tcpsyn

import (
	"encoding/binary"
	"fmt"
	"net"
	"time"

	"zscan/internal/core/lib/network/netraw"
	"zscan/internal/core/prf"
	"zscan/internal/core/probe"
)

func init() {
	probe.Register("tcp_syn", func() probe.Module { return &Module{} })
}

const (
	ipHeaderLen  = 20
	tcpHeaderLen = 20
	ethHeaderLen = 14
)

// Module implements probe.Module for a bare TCP SYN scan.
type Module struct {
	srcMAC, gwMAC net.HardwareAddr
	window        uint16 // TCP window field on outgoing SYNs
}

// Config holds GlobalInit's parsed probe_args.
type Config struct {
	Window uint16
}

func (m *Module) Name() string { return "tcp_syn" }

func (m *Module) GlobalInit(args map[string]string) error {
	m.window = 65535
	if w, ok := args["window"]; ok {
		var v uint16
		if _, err := fmt.Sscanf(w, "%d", &v); err != nil {
			return fmt.Errorf("tcp_syn: parsing window arg: %w", err)
		}
		m.window = v
	}
	return nil
}

func (m *Module) ThreadInit() (any, error) { return nil, nil }

func (m *Module) PreparePacket(buf []byte, srcMAC, gwMAC net.HardwareAddr, perThread any) (int, error) {
	frame, err := netraw.BuildEthernetFrame(gwMAC, srcMAC, netraw.EtherTypeIPv4, make([]byte, ipHeaderLen+tcpHeaderLen))
	if err != nil {
		return 0, err
	}
	n := copy(buf, frame)
	return n, nil
}

func (m *Module) MakePacket(buf []byte, args probe.MakePacketArgs) (int, error) {
	srcPort := probe.DeriveSourcePort(args.Validation[1], args.ProbeNum, args.Ports)

	tcpHeader, err := netraw.BuildTCPHeaderWithChecksum(args.SrcIP, args.DstIP, int(srcPort), int(args.DstPort),
		args.Validation[0], 0, tcpFlagSYN, m.window, 0, nil)
	if err != nil {
		return 0, err
	}

	ipPkt, err := netraw.BuildIPv4Packet(args.SrcIP, args.DstIP, tcpProtocol, int(args.TTL), int(args.IPID), tcpHeader)
	if err != nil {
		return 0, err
	}

	// The ethernet prefix was already written by PreparePacket; only
	// the IP+TCP portion varies per target.
	n := copy(buf[ethHeaderLen:], ipPkt)
	return ethHeaderLen + n, nil
}

const (
	tcpFlagFIN = 0x01
	tcpFlagSYN = 0x02
	tcpFlagRST = 0x04
	tcpFlagACK = 0x10
	tcpProtocol = 6
)

func (m *Module) ValidatePacket(ipHdr []byte, validation prf.Words, probeNum uint8, ports probe.PortsConfig) (net.IP, bool) {
	if len(ipHdr) < ipHeaderLen+tcpHeaderLen {
		return nil, false
	}
	ihl := int(ipHdr[0]&0x0F) * 4
	if ihl < ipHeaderLen || len(ipHdr) < ihl+tcpHeaderLen {
		return nil, false
	}
	if ipHdr[9] != tcpProtocol {
		return nil, false
	}

	tcp := ipHdr[ihl:]
	dstPort := binary.BigEndian.Uint16(tcp[2:4])
	ackSeq := binary.BigEndian.Uint32(tcp[8:12])

	expectedSrcPort := probe.DeriveSourcePort(validation[1], probeNum, ports)
	if dstPort != expectedSrcPort {
		return nil, false
	}
	if ackSeq-1 != validation[0] {
		return nil, false
	}

	srcIP := net.IP(append([]byte(nil), ipHdr[12:16]...))
	return srcIP, true
}

func (m *Module) ProcessPacket(raw []byte, validation prf.Words, ts time.Time, rec probe.Record) {
	if len(raw) < ipHeaderLen+tcpHeaderLen {
		rec["parse_err"] = true
		return
	}
	ihl := int(raw[0]&0x0F) * 4
	tcp := raw[ihl:]

	flags := tcp[13]
	rec["sport"] = int(binary.BigEndian.Uint16(tcp[0:2]))
	rec["dport"] = int(binary.BigEndian.Uint16(tcp[2:4]))
	rec["seqnum"] = binary.BigEndian.Uint32(tcp[4:8])
	rec["acknum"] = binary.BigEndian.Uint32(tcp[8:12])

	switch {
	case flags&tcpFlagRST != 0:
		rec["classification"] = "rst"
		rec["success"] = false
	case flags&tcpFlagSYN != 0 && flags&tcpFlagACK != 0:
		rec["classification"] = "synack"
		rec["success"] = true
	default:
		rec["classification"] = "other"
		rec["success"] = false
	}
}

func (m *Module) Close() error { return nil }

func (m *Module) MaxPacketLength() int { return ethHeaderLen + ipHeaderLen + tcpHeaderLen }

func (m *Module) PCAPFilter() string { return "tcp" }

func (m *Module) PortArgs() bool { return true }

func (m *Module) OutputType() string { return "tcp" }

func (m *Module) FieldSchema() []probe.FieldDef {
	return []probe.FieldDef{
		{Name: "sport", Type: probe.FieldInt, Desc: "TCP source port of the response"},
		{Name: "dport", Type: probe.FieldInt, Desc: "TCP destination port of the response"},
		{Name: "seqnum", Type: probe.FieldInt, Desc: "response sequence number"},
		{Name: "acknum", Type: probe.FieldInt, Desc: "response acknowledgement number"},
		{Name: "classification", Type: probe.FieldString, Desc: "synack, rst, or other"},
		{Name: "success", Type: probe.FieldBool, Desc: "true for synack"},
	}
}
