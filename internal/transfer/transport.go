// Package transfer owns the live peer connection: admission, the reader and
// writer tasks of a session and the handling of every packet.
package transfer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"time"
)

// Conn is one duplex byte stream to a peer.
type Conn interface {
	io.Reader
	io.Writer
	// CloseWrite signals end of stream to the peer while reads continue.
	CloseWrite() error
	Close() error
	RemoteAddr() net.Addr
}

type Listener interface {
	// Accept returns net.ErrClosed once the listener is closed.
	Accept(ctx context.Context) (Conn, error)
	Addr() net.Addr
	Close() error
}

type Transport interface {
	Name() string
	Listen(ctx context.Context, addr string) (Listener, error)
	Dial(ctx context.Context, addr string) (Conn, error)
}

// peerCloser is implemented by connections that lose unacknowledged data
// when closed early. The session waits on it when the peer started the
// disconnect.
type peerCloser interface {
	WaitPeerClose(timeout time.Duration)
}

// NewTransport returns the transport registered under name.
func NewTransport(name string) (Transport, error) {
	switch strings.ToLower(name) {
	case "", "tcp":
		return TCPTransport{}, nil
	case "quic":
		return NewQUICTransport(), nil
	default:
		return nil, fmt.Errorf("unknown transport %q", name)
	}
}

func isClosed(err error) bool {
	return errors.Is(err, net.ErrClosed)
}
