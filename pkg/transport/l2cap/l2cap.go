// Package l2cap provides sequenced-packet L2CAP channels to classic
// Bluetooth peripherals.
package l2cap

import (
	"errors"
	"fmt"
)

var (
	// ErrReceiveTimeout is returned by Receive when no packet arrived within
	// the receive timeout. The channel is still usable.
	ErrReceiveTimeout = errors.New("l2cap: receive timeout")
	// ErrClosed is returned by operations on a closed channel.
	ErrClosed = errors.New("l2cap: channel closed")
	// ErrUnsupported is returned by Dial on platforms without BlueZ sockets.
	ErrUnsupported = errors.New("l2cap: not supported on this platform")
)

// OpError describes a failed socket operation.
type OpError struct {
	Op      string
	Address string
	PSM     uint16
	Err     error
}

func (e *OpError) Error() string {
	return fmt.Sprintf("l2cap %s %s psm 0x%02x: %v", e.Op, e.Address, e.PSM, e.Err)
}

func (e *OpError) Unwrap() error { return e.Err }
