//go:build linux
// +build linux

package transport

import (
	"fmt"
	"net"
	"time"

	"golang.org/x/sys/unix"
)

// htons converts a uint16 to network byte order, matching the
// byte-swap the teacher's raw-socket code does for IP_HDRINCL setup.
func htons(v uint16) uint16 { return (v << 8) | (v >> 8) }

// AFPacketSender writes whole link-layer frames out an AF_PACKET
// socket bound to one interface, adapted from the teacher's
// syscall-based RawSocket (netraw/socket_linux.go) which opens an
// AF_INET/SOCK_RAW socket for L3 sends -- this scanner builds its own
// ethernet header, so it needs the L2 (AF_PACKET) equivalent instead.
type AFPacketSender struct {
	fd      int
	ifindex int
}

// NewAFPacketSender opens a raw AF_PACKET socket bound to ifaceName.
func NewAFPacketSender(ifaceName string) (*AFPacketSender, error) {
	fd, err := unix.Socket(unix.AF_PACKET, unix.SOCK_RAW, int(htons(unix.ETH_P_ALL)))
	if err != nil {
		return nil, fmt.Errorf("opening AF_PACKET socket: %w", err)
	}

	iface, err := net.InterfaceByName(ifaceName)
	if err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("resolving interface %s: %w", ifaceName, err)
	}

	sa := &unix.SockaddrLinklayer{
		Protocol: htons(unix.ETH_P_ALL),
		Ifindex:  iface.Index,
	}
	if err := unix.Bind(fd, sa); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("binding to %s: %w", ifaceName, err)
	}

	return &AFPacketSender{fd: fd, ifindex: iface.Index}, nil
}

func (s *AFPacketSender) Send(frame []byte) error {
	sa := &unix.SockaddrLinklayer{Ifindex: s.ifindex}
	return unix.Sendto(s.fd, frame, 0, sa)
}

// SendBatch has no native AF_PACKET scatter-gather primitive wired up
// here (that would be sendmmsg(2) or a PACKET_MMAP TX_RING), so it
// falls back to one Send per frame under shared batch accounting.
func (s *AFPacketSender) SendBatch(frames [][]byte) (int, error) { return sendFramesLoop(s, frames) }

func (s *AFPacketSender) Close() error { return unix.Close(s.fd) }

// AFPacketReceiver reads raw frames off the same kind of socket and
// returns every frame unfiltered; the receiver's classify drops frames
// it does not handle. The BPF-filtered path is the pcap adapter.
type AFPacketReceiver struct {
	fd int
}

// NewAFPacketReceiver opens and binds a receive-side AF_PACKET socket.
func NewAFPacketReceiver(ifaceName string) (*AFPacketReceiver, error) {
	fd, err := unix.Socket(unix.AF_PACKET, unix.SOCK_RAW, int(htons(unix.ETH_P_ALL)))
	if err != nil {
		return nil, fmt.Errorf("opening AF_PACKET socket: %w", err)
	}

	iface, err := net.InterfaceByName(ifaceName)
	if err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("resolving interface %s: %w", ifaceName, err)
	}

	sa := &unix.SockaddrLinklayer{Protocol: htons(unix.ETH_P_ALL), Ifindex: iface.Index}
	if err := unix.Bind(fd, sa); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("binding to %s: %w", ifaceName, err)
	}

	return &AFPacketReceiver{fd: fd}, nil
}

func (r *AFPacketReceiver) Next() ([]byte, time.Time, error) {
	buf := make([]byte, 65536)
	n, _, err := unix.Recvfrom(r.fd, buf, 0)
	if err != nil {
		return nil, time.Time{}, err
	}
	return buf[:n], time.Now(), nil
}

func (r *AFPacketReceiver) SetReadDeadline(t time.Time) error {
	tv := unix.NsecToTimeval(time.Until(t).Nanoseconds())
	return unix.SetsockoptTimeval(r.fd, unix.SOL_SOCKET, unix.SO_RCVTIMEO, &tv)
}

func (r *AFPacketReceiver) Close() error { return unix.Close(r.fd) }
