// Package sender implements the per-thread send loop (spec.md §4.4):
// pull the next target from an owned shard, build packet_streams
// probes for it, pace them through a ratecontrol.Controller, and hand
// each one to a transport.Sender.
package sender

import (
	"fmt"
	"net"

	"zscan/internal/core/prf"
	"zscan/internal/core/probe"
	"zscan/internal/core/ratecontrol"
	"zscan/internal/core/shard"
	"zscan/internal/transport"
)

// Config bundles everything one sender thread needs.
type Config struct {
	ThreadID int
	Shard    *shard.Shard
	Module   probe.Module
	Sender   transport.Sender
	Rate     *ratecontrol.Controller

	SrcMAC, GwMAC net.HardwareAddr
	SrcIP         net.IP
	TTL           uint8
	PacketStreams int
	BatchSize     int
	Ports         probe.PortsConfig

	Key prf.Key
}

// Loop drives one sender thread to completion. It returns when the
// owned shard reports Done, or immediately if ctx-style cancellation
// is signalled via stop.
func Loop(cfg Config, stop <-chan struct{}) error {
	perThread, err := cfg.Module.ThreadInit()
	if err != nil {
		return fmt.Errorf("sender %d: thread init: %w", cfg.ThreadID, err)
	}

	buf := make([]byte, cfg.Module.MaxPacketLength())
	prefixLen, err := cfg.Module.PreparePacket(buf, cfg.SrcMAC, cfg.GwMAC, perThread)
	if err != nil {
		return fmt.Errorf("sender %d: prepare packet: %w", cfg.ThreadID, err)
	}
	_ = prefixLen

	ipID := uint16(0)

	batchSize := cfg.BatchSize
	if batchSize < 1 {
		batchSize = 1
	}
	batch := make([][]byte, 0, batchSize)

	// flush submits the accumulated batch and attributes any shortfall
	// (frames after the first failed one) to failures, per spec.md
	// §4.4's batching contract.
	flush := func() {
		if len(batch) == 0 {
			return
		}
		sent, _ := cfg.Sender.SendBatch(batch)
		for i := range batch {
			cfg.Shard.MarkSent(i < sent)
		}
		batch = batch[:0]
	}

	for {
		select {
		case <-stop:
			flush()
			return nil
		default:
		}

		target, status := cfg.Shard.NextTarget()
		if status == shard.Done {
			flush()
			return nil
		}

		// Modules without a destination port (icmp_echo) are validated
		// by the receiver with port 0, so the PRF is keyed the same way.
		prfPort := target.Port
		if !cfg.Module.PortArgs() {
			prfPort = 0
		}
		for probeNum := 0; probeNum < cfg.PacketStreams; probeNum++ {
			words, err := prf.F(cfg.Key, ipToUint32(cfg.SrcIP), ipToUint32(target.IP), prfPort, uint8(probeNum))
			if err != nil {
				flush()
				return fmt.Errorf("sender %d: prf: %w", cfg.ThreadID, err)
			}

			ipID++
			n, err := cfg.Module.MakePacket(buf, probe.MakePacketArgs{
				SrcIP:      cfg.SrcIP,
				DstIP:      target.IP,
				DstPort:    target.Port,
				TTL:        cfg.TTL,
				Validation: words,
				ProbeNum:   uint8(probeNum),
				IPID:       ipID,
				PerThread:  perThread,
				Ports:      cfg.Ports,
			})
			if err != nil {
				cfg.Shard.MarkSent(false)
				cfg.Rate.PaceOne()
				continue
			}

			frame := make([]byte, n)
			copy(frame, buf[:n])
			batch = append(batch, frame)
			if len(batch) >= batchSize {
				flush()
			}

			cfg.Rate.PaceOne()
		}

		cfg.Shard.MarkScanned()
	}
}

func ipToUint32(ip net.IP) uint32 {
	v4 := ip.To4()
	if v4 == nil {
		return 0
	}
	return uint32(v4[0])<<24 | uint32(v4[1])<<16 | uint32(v4[2])<<8 | uint32(v4[3])
}
