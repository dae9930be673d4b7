// Package transport abstracts how raw link-layer frames leave and
// enter the process: a real AF_PACKET socket, a libpcap capture
// handle, or a textual dry-run sink, so the sender/receiver loops
// never know which one is underneath (spec.md §4.4/§4.6).
package transport

import (
	"net"
	"time"
)

// Sender writes link-layer frames, either one at a time or as a batch.
type Sender interface {
	Send(frame []byte) error

	// SendBatch submits frames as one logical batch (spec.md §4.4
	// "Batching": fill a capacity batch, submit via send_batch). It
	// returns how many of frames were sent successfully; the caller
	// attributes the remainder to failures, and if a send fails the
	// batch stops there rather than skipping ahead.
	SendBatch(frames [][]byte) (sent int, err error)

	Close() error
}

// Receiver yields captured link-layer frames one at a time.
type Receiver interface {
	// Next blocks until a frame arrives or the deadline set by
	// SetReadDeadline passes, returning (nil, time.Time{}, err) on
	// timeout so the receiver loop can check for shutdown.
	Next() (frame []byte, ts time.Time, err error)
	SetReadDeadline(t time.Time) error
	Close() error
}

// sendFramesLoop is the shared SendBatch body for adapters with no
// native scatter-gather send primitive (none of AF_PACKET, libpcap, or
// the dry-run sink expose one here): each frame still costs its own
// Send call, but the caller still gets batch-granularity accounting,
// which is what spec.md §4.4's shortfall-attribution rule needs.
func sendFramesLoop(s Sender, frames [][]byte) (int, error) {
	for i, f := range frames {
		if err := s.Send(f); err != nil {
			return i, err
		}
	}
	return len(frames), nil
}

// Config bundles what an adapter needs to open its socket or handle.
type Config struct {
	Interface string
	SrcMAC    net.HardwareAddr
	GwMAC     net.HardwareAddr
	BPFFilter string
	SnapLen   int
}
