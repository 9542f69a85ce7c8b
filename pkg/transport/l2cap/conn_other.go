//go:build !linux

package l2cap

import (
	"context"
	"time"
)

// Conn is one open L2CAP channel. Only Linux is supported.
type Conn struct{}

// Dial always fails with ErrUnsupported.
func Dial(ctx context.Context, address string, psm uint16, timeout time.Duration) (*Conn, error) {
	return nil, &OpError{Op: "dial", Address: address, PSM: psm, Err: ErrUnsupported}
}

func (c *Conn) Send(b []byte) error           { return ErrUnsupported }
func (c *Conn) Receive(b []byte) (int, error) { return 0, ErrUnsupported }
func (c *Conn) Close() error                  { return nil }
func (c *Conn) Address() string               { return "" }
func (c *Conn) PSM() uint16                   { return 0 }
