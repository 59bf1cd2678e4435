package transfer

import (
	"context"
	"io"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"songshare/internal/archive"
	"songshare/internal/catalog"
	"songshare/internal/consent/consenttest"
	"songshare/internal/protocol"
	"songshare/internal/store"
)

const fixtureRoot = "../catalog/testdata/songs"

func scanFixture(t *testing.T) []catalog.Entry {
	t.Helper()
	entries, err := catalog.NewScanner(4, nil).Scan(context.Background(), fixtureRoot)
	require.NoError(t, err)
	return entries
}

func withoutPaths(entries []catalog.Entry) []catalog.Entry {
	out := make([]catalog.Entry, len(entries))
	for i, e := range entries {
		e.Path = ""
		out[i] = e
	}
	return out
}

func identities(entries []catalog.Entry) []catalog.Entry {
	out := make([]catalog.Entry, len(entries))
	for i, e := range entries {
		out[i] = catalog.Entry{ID: e.ID, Name: e.Name}
	}
	return out
}

// newManager returns a manager whose local catalog is the song fixture.
func newManager(t *testing.T, ui *consenttest.UI) (*Manager, *store.Catalogs) {
	t.Helper()
	cats := store.NewCatalogs()
	cats.Local.Replace(scanFixture(t))
	m := NewManager(Deps{
		Catalogs:    cats,
		UI:          ui,
		Builder:     archive.NewBuilder(4, t.TempDir(), nil),
		DownloadDir: t.TempDir(),
	})
	m.QuiesceTimeout = 5 * time.Second
	return m, cats
}

// tcpPair returns both ends of a loopback TCP connection.
func tcpPair(t *testing.T) (*net.TCPConn, *net.TCPConn) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	accepted := make(chan net.Conn, 1)
	go func() {
		c, err := ln.Accept()
		if err != nil {
			close(accepted)
			return
		}
		accepted <- c
	}()
	dialed, err := net.Dial("tcp", ln.Addr().String())
	require.NoError(t, err)
	remote, ok := <-accepted
	require.True(t, ok)

	t.Cleanup(func() {
		dialed.Close()
		remote.Close()
	})
	return dialed.(*net.TCPConn), remote.(*net.TCPConn)
}

// peer is the test's side of a session, speaking raw packets.
type peer struct {
	conn *net.TCPConn
	w    *protocol.Writer
	r    *protocol.Reader
}

func newPeer(conn *net.TCPConn) *peer {
	conn.SetDeadline(time.Now().Add(30 * time.Second))
	return &peer{conn: conn, w: protocol.NewWriter(conn), r: protocol.NewReader(conn)}
}

func (p *peer) send(t *testing.T, pkt protocol.Packet) {
	t.Helper()
	require.NoError(t, p.w.WritePacket(pkt))
}

func (p *peer) recv(t *testing.T) protocol.Packet {
	t.Helper()
	pkt, err := p.r.ReadPacket()
	require.NoError(t, err)
	return pkt
}

// hangUp sends Disconnect and expects the session to answer in kind and
// then end the stream.
func (p *peer) hangUp(t *testing.T) {
	t.Helper()
	p.send(t, protocol.Disconnect{})
	require.Equal(t, protocol.Disconnect{}, p.recv(t))
	_, err := p.r.ReadPacket()
	require.ErrorIs(t, err, io.EOF)
}

// politePeer answers a Disconnect with a Disconnect and reports the headers
// it saw.
func politePeer(conn *net.TCPConn) <-chan []string {
	seen := make(chan []string, 1)
	go func() {
		var headers []string
		r, w := protocol.NewReader(conn), protocol.NewWriter(conn)
		defer func() { seen <- headers }()
		for {
			p, err := r.ReadPacket()
			if err != nil {
				return
			}
			headers = append(headers, p.Header())
			if _, ok := p.(protocol.Disconnect); ok {
				w.WritePacket(protocol.Disconnect{})
				conn.CloseWrite()
				return
			}
		}
	}()
	return seen
}

func waitDone(t *testing.T, s *Session) {
	t.Helper()
	select {
	case <-s.Done():
	case <-time.After(10 * time.Second):
		t.Fatal("session did not stop")
	}
}

func waitEvent(t *testing.T, ui *consenttest.UI, name string) consenttest.Event {
	t.Helper()
	timeout := time.After(15 * time.Second)
	for {
		select {
		case e := <-ui.Notified():
			if e.Name == name {
				return e
			}
		case <-timeout:
			t.Fatalf("no %q event, got %v", name, ui.Lines())
		}
	}
}

func eventNames(ui *consenttest.UI) []string {
	var names []string
	for _, e := range ui.Events() {
		names = append(names, e.Name)
	}
	return names
}
