package udp

import (
	"encoding/binary"
	"net"
	"testing"
	"time"

	"zscan/internal/core/prf"
	"zscan/internal/core/probe"
)

func probePorts() probe.PortsConfig {
	return probe.PortsConfig{SourcePortFirst: 30000, SourcePortLast: 49999, TargetPorts: []uint16{53}}
}

func probeRecord() probe.Record { return probe.Record{} }

func zeroTime() time.Time { return time.Time{} }

func buildIPv4Header(proto byte, src, dst net.IP, totalLen int) []byte {
	h := make([]byte, ipHeaderLen)
	h[0] = 0x45
	binary.BigEndian.PutUint16(h[2:4], uint16(totalLen))
	h[8] = 64
	h[9] = proto
	copy(h[12:16], src.To4())
	copy(h[16:20], dst.To4())
	return h
}

const testProbeNum = 0

func TestValidateDirectUDPReply(t *testing.T) {
	validation := prf.Words{0xAABBCCDD, 12345, 0, 0}
	srcPort := probe.DeriveSourcePort(validation[1], testProbeNum, probePorts())

	udpHdr := make([]byte, udpHeaderLen+payloadLen)
	binary.BigEndian.PutUint16(udpHdr[0:2], 53)
	binary.BigEndian.PutUint16(udpHdr[2:4], srcPort)
	binary.BigEndian.PutUint32(udpHdr[udpHeaderLen:udpHeaderLen+4], validation[0])

	ipHdr := buildIPv4Header(udpProtocol, net.ParseIP("1.2.3.4"), net.ParseIP("9.8.7.6"), ipHeaderLen+len(udpHdr))
	pkt := append(ipHdr, udpHdr...)

	m := &Module{}
	srcIP, ok := m.ValidatePacket(pkt, validation, testProbeNum, probePorts())
	if !ok {
		t.Fatal("expected direct UDP reply to validate")
	}
	if !srcIP.Equal(net.ParseIP("1.2.3.4")) {
		t.Errorf("srcIP = %v, want 1.2.3.4", srcIP)
	}
}

// Scenario: UDP probe to 1.2.3.4:53; ICMP port-unreachable arrives
// from 9.9.9.9 embedding the original probe's IP header. Expected:
// classification=icmp-unreach, icmp_responder=9.9.9.9, origin address
// fixed up to 1.2.3.4, success=false.
func TestValidateICMPPortUnreachable(t *testing.T) {
	validation := prf.Words{0xAABBCCDD, 12345, 0, 0}
	srcPort := probe.DeriveSourcePort(validation[1], testProbeNum, probePorts())

	origUDP := make([]byte, udpHeaderLen)
	binary.BigEndian.PutUint16(origUDP[0:2], srcPort)
	binary.BigEndian.PutUint16(origUDP[2:4], 53)

	origIP := buildIPv4Header(udpProtocol, net.ParseIP("6.6.6.6"), net.ParseIP("1.2.3.4"), ipHeaderLen+len(origUDP))
	embedded := append(origIP, origUDP...)

	icmp := make([]byte, 8)
	icmp[0] = icmpTypeDestUnreach
	icmp[1] = 3 // port unreachable
	icmp = append(icmp, embedded...)

	outerIP := buildIPv4Header(icmpProtocol, net.ParseIP("9.9.9.9"), net.ParseIP("6.6.6.6"), ipHeaderLen+len(icmp))
	pkt := append(outerIP, icmp...)

	m := &Module{}
	origin, ok := m.ValidatePacket(pkt, validation, testProbeNum, probePorts())
	if !ok {
		t.Fatal("expected ICMP-embedded error to validate")
	}
	if !origin.Equal(net.ParseIP("1.2.3.4")) {
		t.Errorf("fixed-up origin = %v, want 1.2.3.4", origin)
	}

	rec := probeRecord()
	m.ProcessPacket(pkt, validation, zeroTime(), rec)
	if rec["classification"] != "icmp-unreach" {
		t.Errorf("classification = %v, want icmp-unreach", rec["classification"])
	}
	if rec["icmp_responder"] != "9.9.9.9" {
		t.Errorf("icmp_responder = %v, want 9.9.9.9", rec["icmp_responder"])
	}
	if rec["success"] != false {
		t.Errorf("success = %v, want false", rec["success"])
	}
}

func TestValidateRejectsWrongSourcePort(t *testing.T) {
	validation := prf.Words{0xAABBCCDD, 12345, 0, 0}

	udpHdr := make([]byte, udpHeaderLen+payloadLen)
	binary.BigEndian.PutUint16(udpHdr[0:2], 53)
	binary.BigEndian.PutUint16(udpHdr[2:4], 1) // wrong dest port
	binary.BigEndian.PutUint32(udpHdr[udpHeaderLen:udpHeaderLen+4], validation[0])

	ipHdr := buildIPv4Header(udpProtocol, net.ParseIP("1.2.3.4"), net.ParseIP("9.8.7.6"), ipHeaderLen+len(udpHdr))
	pkt := append(ipHdr, udpHdr...)

	m := &Module{}
	if _, ok := m.ValidatePacket(pkt, validation, testProbeNum, probePorts()); ok {
		t.Fatal("expected mismatched destination port to fail validation")
	}
}

func TestDeriveSourcePortHonorsWindowAndStream(t *testing.T) {
	ports := probePorts()
	p0 := probe.DeriveSourcePort(100, 0, ports)
	p1 := probe.DeriveSourcePort(100, 1, ports)
	if p0 == p1 {
		t.Fatal("expected distinct probe streams to derive distinct source ports")
	}
	if p0 < ports.SourcePortFirst || p0 > ports.SourcePortLast {
		t.Errorf("derived port %d outside configured window [%d, %d]", p0, ports.SourcePortFirst, ports.SourcePortLast)
	}
}
