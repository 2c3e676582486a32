package spscale

import (
	"time"

	"github.com/spscale/spscale/spserr"
)

// Device forwards every message received on one socket to the other,
// in both directions, until Stop is called or a non-timeout error
// occurs on either side. It generalizes original_source's Device
// (core/device.rs, facade/device.rs): the Rust version polls
// can_recv on both sockets and forwards whichever side is ready; Go's
// blocking Socket.Recv lets each direction run as its own goroutine
// instead, with no readiness polling needed.
type Device struct {
	left, right *Socket
	idle        time.Duration
	stop        chan struct{}
	errc        chan error
}

// NewRelay is the degenerate single-socket Device from
// facade/device.rs's Relay: every received message is sent back out
// on the same socket (used with a Pair or Bus socket to build a
// simple loopback/rebroadcast node).
func NewRelay(s *Socket) *Device { return NewDevice(s, s) }

// NewDevice builds a bidirectional forwarder between left and right.
// If idle is non-zero, each direction's Recv uses it as a recv
// timeout so Run can notice Stop promptly instead of blocking forever
// on a quiet socket — a supplement beyond the original's model, which
// has no notion of idle shutdown.
func NewDevice(left, right *Socket, idle ...time.Duration) *Device {
	d := &Device{left: left, right: right, stop: make(chan struct{}), errc: make(chan error, 2)}
	if len(idle) > 0 {
		d.idle = idle[0]
	}
	return d
}

// Run blocks forwarding traffic in both directions until Stop is
// called or a non-timeout error terminates one direction, whichever
// happens first.
func (d *Device) Run() error {
	if d.idle > 0 {
		_ = d.left.WithRecvTimeout(d.idle)
		_ = d.right.WithRecvTimeout(d.idle)
	}
	go d.forward(d.left, d.right)
	if d.left != d.right {
		go d.forward(d.right, d.left)
	}
	select {
	case err := <-d.errc:
		return err
	case <-d.stop:
		return nil
	}
}

func (d *Device) forward(from, to *Socket) {
	for {
		select {
		case <-d.stop:
			return
		default:
		}
		body, err := from.Recv()
		if err != nil {
			if spserr.Is(err, spserr.TimedOut) {
				continue
			}
			select {
			case d.errc <- err:
			default:
			}
			return
		}
		if err := to.Send(body); err != nil {
			select {
			case d.errc <- err:
			default:
			}
			return
		}
	}
}

// Stop ends Run and closes both sockets.
func (d *Device) Stop() {
	close(d.stop)
	d.left.Close()
	if d.right != d.left {
		d.right.Close()
	}
}
