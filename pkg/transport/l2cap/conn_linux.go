//go:build linux

package l2cap

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sys/unix"
	"tinygo.org/x/bluetooth"

	"github.com/mlsorensen/gobalance"
)

// Conn is one open L2CAP channel.
type Conn struct {
	mu      sync.Mutex
	fd      int
	closed  bool
	address string
	psm     uint16
}

// Dial opens a sequenced-packet channel to address on psm. A positive
// timeout bounds each Receive; zero blocks until a packet arrives.
func Dial(ctx context.Context, address string, psm uint16, timeout time.Duration) (*Conn, error) {
	mac, err := gobalance.ParseAddress(address)
	if err != nil {
		return nil, err
	}

	fd, err := unix.Socket(unix.AF_BLUETOOTH, unix.SOCK_SEQPACKET, unix.BTPROTO_L2CAP)
	if err != nil {
		return nil, &OpError{Op: "socket", Address: address, PSM: psm, Err: err}
	}
	c := newConn(fd, address, psm)
	if err := c.setReceiveTimeout(timeout); err != nil {
		_ = unix.Close(fd)
		return nil, err
	}

	log.Debug().Str("address", address).Uint16("psm", psm).Msg("connecting L2CAP channel")

	done := make(chan error, 1)
	go func() {
		done <- unix.Connect(fd, sockaddr(mac, psm))
	}()

	select {
	case err := <-done:
		if err != nil {
			_ = unix.Close(fd)
			return nil, &OpError{Op: "connect", Address: address, PSM: psm, Err: err}
		}
	case <-ctx.Done():
		// closing the socket aborts the pending connect
		_ = unix.Shutdown(fd, unix.SHUT_RDWR)
		_ = unix.Close(fd)
		<-done
		return nil, &OpError{Op: "connect", Address: address, PSM: psm, Err: ctx.Err()}
	}

	log.Debug().Str("address", address).Uint16("psm", psm).Msg("L2CAP channel open")
	return c, nil
}

func newConn(fd int, address string, psm uint16) *Conn {
	return &Conn{fd: fd, address: address, psm: psm}
}

// sockaddr maps a bluetooth.MAC (least significant octet first) onto
// SockaddrL2, whose Addr is in printed order.
func sockaddr(mac bluetooth.MAC, psm uint16) *unix.SockaddrL2 {
	sa := &unix.SockaddrL2{PSM: psm}
	for i := range sa.Addr {
		sa.Addr[i] = mac[len(mac)-1-i]
	}
	return sa
}

func (c *Conn) setReceiveTimeout(timeout time.Duration) error {
	if timeout <= 0 {
		return nil
	}
	tv := unix.NsecToTimeval(timeout.Nanoseconds())
	if err := unix.SetsockoptTimeval(c.fd, unix.SOL_SOCKET, unix.SO_RCVTIMEO, &tv); err != nil {
		return &OpError{Op: "setsockopt", Address: c.address, PSM: c.psm, Err: err}
	}
	return nil
}

func (c *Conn) file() (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return -1, ErrClosed
	}
	return c.fd, nil
}

// Send writes one packet.
func (c *Conn) Send(b []byte) error {
	fd, err := c.file()
	if err != nil {
		return err
	}
	for {
		_, err = unix.Write(fd, b)
		if err != unix.EINTR {
			break
		}
	}
	if err != nil {
		return &OpError{Op: "send", Address: c.address, PSM: c.psm, Err: err}
	}
	return nil
}

// Receive reads one packet into b. Bytes beyond len(b) are discarded.
func (c *Conn) Receive(b []byte) (int, error) {
	fd, err := c.file()
	if err != nil {
		return 0, err
	}
	var n int
	for {
		n, err = unix.Read(fd, b)
		if err != unix.EINTR {
			break
		}
	}
	switch {
	case errors.Is(err, unix.EAGAIN), errors.Is(err, unix.EWOULDBLOCK):
		return 0, ErrReceiveTimeout
	case err != nil:
		return 0, &OpError{Op: "receive", Address: c.address, PSM: c.psm, Err: err}
	}
	if n < 0 {
		n = 0
	}
	return n, nil
}

// Close releases the socket. Closing twice is a no-op.
func (c *Conn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	if err := unix.Close(c.fd); err != nil {
		return &OpError{Op: "close", Address: c.address, PSM: c.psm, Err: err}
	}
	return nil
}

// Address returns the remote address.
func (c *Conn) Address() string { return c.address }

// PSM returns the channel's protocol/service multiplexer.
func (c *Conn) PSM() uint16 { return c.psm }
