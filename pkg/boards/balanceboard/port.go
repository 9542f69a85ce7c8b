package balanceboard

import (
	"context"
	"fmt"
	"time"

	"github.com/mlsorensen/gobalance/pkg/transport/l2cap"
)

// Port is one bidirectional channel to the board. Receive blocks until a
// packet arrives, the channel's receive timeout expires (l2cap.ErrReceiveTimeout)
// or the channel fails.
type Port interface {
	Send(b []byte) error
	Receive(b []byte) (int, error)
	Close() error
}

// Dialer opens a Port to address on psm.
type Dialer func(ctx context.Context, address string, psm uint16, timeout time.Duration) (Port, error)

// DialL2CAP is the Dialer used for real boards.
func DialL2CAP(ctx context.Context, address string, psm uint16, timeout time.Duration) (Port, error) {
	conn, err := l2cap.Dial(ctx, address, psm, timeout)
	if err != nil {
		return nil, err
	}
	return conn, nil
}

// TransportError is a fatal failure of the channel to the board. Op names
// the operation that failed, e.g. "send status" or "receive".
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }
