package transfer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/quic-go/quic-go"
)

const (
	// streamHello is written by the dialer so the listener sees the stream.
	streamHello byte = 0x01

	DefaultStreamTimeout = 10 * time.Second
)

// QUICTransport carries the packet stream over a single bidirectional QUIC
// stream. StreamTimeout bounds how long an accepted connection may take to
// open its stream and send the hello.
type QUICTransport struct {
	Config        *quic.Config
	StreamTimeout time.Duration
}

func NewQUICTransport() *QUICTransport {
	return &QUICTransport{
		Config: &quic.Config{
			KeepAlivePeriod: 10 * time.Second,
			MaxIdleTimeout:  30 * time.Second,
		},
		StreamTimeout: DefaultStreamTimeout,
	}
}

func (t *QUICTransport) Name() string { return "quic" }

func (t *QUICTransport) Listen(ctx context.Context, addr string) (Listener, error) {
	tlsConfig, err := generateTLSConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to generate TLS config: %w", err)
	}
	ln, err := quic.ListenAddr(addr, tlsConfig, t.Config)
	if err != nil {
		return nil, fmt.Errorf("error while attempting to listen on QUIC: %w", err)
	}
	timeout := t.StreamTimeout
	if timeout <= 0 {
		timeout = DefaultStreamTimeout
	}
	return &quicListener{ln: ln, streamTimeout: timeout}, nil
}

func (t *QUICTransport) Dial(ctx context.Context, addr string) (Conn, error) {
	conn, err := quic.DialAddr(ctx, addr, clientTLSConfig(), t.Config)
	if err != nil {
		return nil, err
	}
	stream, err := conn.OpenStreamSync(ctx)
	if err != nil {
		conn.CloseWithError(0, "open stream failed")
		return nil, err
	}
	if _, err := stream.Write([]byte{streamHello}); err != nil {
		conn.CloseWithError(0, "hello failed")
		return nil, err
	}
	return &quicConn{conn: conn, stream: stream}, nil
}

type quicListener struct {
	ln            *quic.Listener
	streamTimeout time.Duration
}

func (l *quicListener) Accept(ctx context.Context) (Conn, error) {
	conn, err := l.ln.Accept(ctx)
	if err != nil {
		if errors.Is(err, quic.ErrServerClosed) {
			return nil, net.ErrClosed
		}
		return nil, err
	}
	streamCtx, cancel := context.WithTimeout(ctx, l.streamTimeout)
	defer cancel()
	stream, err := conn.AcceptStream(streamCtx)
	if err != nil {
		conn.CloseWithError(0, "no stream")
		return nil, fmt.Errorf("accepting stream from %s: %w", conn.RemoteAddr(), err)
	}
	var hello [1]byte
	stream.SetReadDeadline(time.Now().Add(l.streamTimeout))
	if _, err := io.ReadFull(stream, hello[:]); err != nil || hello[0] != streamHello {
		conn.CloseWithError(0, "bad hello")
		return nil, fmt.Errorf("invalid stream hello from %s", conn.RemoteAddr())
	}
	stream.SetReadDeadline(time.Time{})
	return &quicConn{conn: conn, stream: stream}, nil
}

func (l *quicListener) Addr() net.Addr { return l.ln.Addr() }

func (l *quicListener) Close() error { return l.ln.Close() }

type quicConn struct {
	conn   quic.Connection
	stream quic.Stream
}

func (c *quicConn) Read(p []byte) (int, error)  { return c.stream.Read(p) }
func (c *quicConn) Write(p []byte) (int, error) { return c.stream.Write(p) }
func (c *quicConn) RemoteAddr() net.Addr        { return c.conn.RemoteAddr() }

func (c *quicConn) CloseWrite() error {
	return c.stream.Close()
}

// WaitPeerClose blocks until the peer closes the connection or timeout
// passes, giving our last stream bytes time to be acknowledged.
func (c *quicConn) WaitPeerClose(timeout time.Duration) {
	select {
	case <-c.conn.Context().Done():
	case <-time.After(timeout):
	}
}

func (c *quicConn) Close() error {
	c.stream.CancelRead(0)
	return c.conn.CloseWithError(0, "connection closed")
}
