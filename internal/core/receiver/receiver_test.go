package receiver

import (
	"encoding/binary"
	"net"
	"testing"
	"time"

	"zscan/internal/core/prf"
	"zscan/internal/core/probe"
	_ "zscan/internal/core/probe/tcpsyn"
)

func buildEthIPv4TCP(t *testing.T, srcIP, dstIP net.IP, srcPort, dstPort uint16, ackSeq uint32, flags byte) []byte {
	t.Helper()
	tcp := make([]byte, 20)
	binary.BigEndian.PutUint16(tcp[0:2], srcPort)
	binary.BigEndian.PutUint16(tcp[2:4], dstPort)
	binary.BigEndian.PutUint32(tcp[8:12], ackSeq)
	tcp[13] = flags

	ip := make([]byte, 20)
	ip[0] = 0x45
	binary.BigEndian.PutUint16(ip[2:4], uint16(20+len(tcp)))
	ip[8] = 64
	ip[9] = ipProtoTCP
	copy(ip[12:16], srcIP.To4())
	copy(ip[16:20], dstIP.To4())

	eth := make([]byte, ethHeaderLen)
	binary.BigEndian.PutUint16(eth[12:14], etherTypeIPv4)

	frame := append(eth, ip...)
	frame = append(frame, tcp...)
	return frame
}

func TestClassifyAcceptsGenuineSynAck(t *testing.T) {
	module, ok := probe.Get("tcp_syn")
	if !ok {
		t.Fatal("tcp_syn module not registered")
	}

	var key prf.Key
	for i := range key {
		key[i] = byte(i)
	}

	ourIP := net.ParseIP("10.0.0.1")
	targetIP := net.ParseIP("93.184.216.34")
	targetPort := uint16(80)

	ports := probe.PortsConfig{SourcePortFirst: 20000, SourcePortLast: 49999, TargetPorts: []uint16{targetPort}}

	// Find the probeNum=0 validation words the way the sender would
	// have, then build a SYN-ACK a genuine target would send back.
	words, err := prf.F(key, ipToUint32(ourIP), ipToUint32(targetIP), targetPort, 0)
	if err != nil {
		t.Fatal(err)
	}
	ourSrcPort := probe.DeriveSourcePort(words[1], 0, ports)

	frame := buildEthIPv4TCP(t, targetIP, ourIP, targetPort, ourSrcPort, words[0]+1, 0x12)

	cfg := Config{Module: module, Key: key, SrcIP: ourIP, PacketStreams: 1, Ports: ports}
	rec, ok := classify(cfg, frame, time.Now(), false)
	if !ok {
		t.Fatal("expected genuine SYN-ACK to validate")
	}
	if rec["classification"] != "synack" {
		t.Errorf("classification = %v, want synack", rec["classification"])
	}
	if rec["saddr"] != targetIP.String() {
		t.Errorf("saddr = %v, want %v", rec["saddr"], targetIP.String())
	}
	if rec["repeat"] != false {
		t.Errorf("repeat = %v, want false on first sighting", rec["repeat"])
	}
	if rec["cooldown"] != false {
		t.Errorf("cooldown = %v, want false", rec["cooldown"])
	}
}

func TestClassifyTagsRepeatOnSecondSighting(t *testing.T) {
	module, _ := probe.Get("tcp_syn")

	var key prf.Key
	for i := range key {
		key[i] = byte(i)
	}

	ourIP := net.ParseIP("10.0.0.1")
	targetIP := net.ParseIP("93.184.216.34")
	targetPort := uint16(80)
	ports := probe.PortsConfig{SourcePortFirst: 20000, SourcePortLast: 49999, TargetPorts: []uint16{targetPort}}

	words, err := prf.F(key, ipToUint32(ourIP), ipToUint32(targetIP), targetPort, 0)
	if err != nil {
		t.Fatal(err)
	}
	ourSrcPort := probe.DeriveSourcePort(words[1], 0, ports)
	frame := buildEthIPv4TCP(t, targetIP, ourIP, targetPort, ourSrcPort, words[0]+1, 0x12)

	cfg := Config{Module: module, Key: key, SrcIP: ourIP, PacketStreams: 1, Ports: ports, Dedup: NewDedup()}

	first, ok := classify(cfg, frame, time.Now(), false)
	if !ok {
		t.Fatal("expected first SYN-ACK to validate")
	}
	if first["repeat"] != false {
		t.Errorf("repeat = %v, want false on first sighting", first["repeat"])
	}

	second, ok := classify(cfg, frame, time.Now(), false)
	if !ok {
		t.Fatal("expected duplicate SYN-ACK to still validate and be emitted")
	}
	if second["repeat"] != true {
		t.Errorf("repeat = %v, want true on second sighting", second["repeat"])
	}
}

func TestClassifyRejectsForgedAck(t *testing.T) {
	module, _ := probe.Get("tcp_syn")

	var key prf.Key
	for i := range key {
		key[i] = byte(i)
	}

	ourIP := net.ParseIP("10.0.0.1")
	targetIP := net.ParseIP("93.184.216.34")

	// A forged response that doesn't know the PRF key's validation
	// words must be rejected regardless of how plausible it looks.
	frame := buildEthIPv4TCP(t, targetIP, ourIP, 80, 22222, 0xDEADBEEF, 0x12)

	cfg := Config{Module: module, Key: key, SrcIP: ourIP, PacketStreams: 1, Ports: probe.PortsConfig{}}
	if _, ok := classify(cfg, frame, time.Now(), false); ok {
		t.Fatal("expected forged response to be rejected")
	}
}
