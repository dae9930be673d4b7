package transport

import (
	"fmt"
	"time"

	"github.com/google/gopacket/pcap"
)

// PCAPReceiver captures frames via libpcap with a BPF filter installed
// so the receiver only wakes up for plausible probe responses
// (spec.md §4.6 "the capture adapter installs the probe module's
// PCAPFilter").
type PCAPReceiver struct {
	handle *pcap.Handle
}

// NewPCAPReceiver opens a live capture on iface with the given BPF
// filter and snapshot length.
func NewPCAPReceiver(iface, filter string, snaplen int) (*PCAPReceiver, error) {
	if snaplen <= 0 {
		snaplen = 65535
	}

	// A finite read timeout, rather than BlockForever, lets Next()
	// return periodically so the receiver loop can observe shutdown.
	handle, err := pcap.OpenLive(iface, int32(snaplen), true, time.Second)
	if err != nil {
		return nil, fmt.Errorf("opening pcap live capture on %s: %w", iface, err)
	}

	if filter != "" {
		if err := handle.SetBPFFilter(filter); err != nil {
			handle.Close()
			return nil, fmt.Errorf("setting BPF filter %q: %w", filter, err)
		}
	}

	return &PCAPReceiver{handle: handle}, nil
}

func (r *PCAPReceiver) Next() ([]byte, time.Time, error) {
	data, ci, err := r.handle.ZeroCopyReadPacketData()
	if err != nil {
		return nil, time.Time{}, err
	}
	frame := make([]byte, len(data))
	copy(frame, data)
	return frame, ci.Timestamp, nil
}

// SetReadDeadline is a no-op: libpcap's own read timeout (set at
// OpenLive) already bounds how long Next() can block.
func (r *PCAPReceiver) SetReadDeadline(t time.Time) error { return nil }

func (r *PCAPReceiver) Close() error {
	r.handle.Close()
	return nil
}

// PCAPSender writes frames through the same libpcap handle used for
// capture, useful when a platform's raw-socket send path is
// unavailable or undesired.
type PCAPSender struct {
	handle *pcap.Handle
}

// NewPCAPSender opens a live pcap handle for injection on iface.
func NewPCAPSender(iface string) (*PCAPSender, error) {
	handle, err := pcap.OpenLive(iface, 65535, false, pcap.BlockForever)
	if err != nil {
		return nil, fmt.Errorf("opening pcap handle on %s: %w", iface, err)
	}
	return &PCAPSender{handle: handle}, nil
}

func (s *PCAPSender) Send(frame []byte) error {
	return s.handle.WritePacketData(frame)
}

// SendBatch: libpcap's inject path has no multi-packet write call, so
// this submits each frame in turn under shared batch accounting.
func (s *PCAPSender) SendBatch(frames [][]byte) (int, error) { return sendFramesLoop(s, frames) }

func (s *PCAPSender) Close() error {
	s.handle.Close()
	return nil
}
