package transfer

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"songshare/internal/archive"
	"songshare/internal/catalog"
	"songshare/internal/consent"
	"songshare/internal/consent/consenttest"
	apperrors "songshare/internal/errors"
	"songshare/internal/fileshare"
	"songshare/internal/protocol"
)

func TestCatalogRequestReturnsLocalCatalog(t *testing.T) {
	ui := consenttest.New(true, "")
	m, cats := newManager(t, ui)
	local, remote := tcpPair(t)
	s := m.Connect(local)
	p := newPeer(remote)

	p.send(t, protocol.CatalogRequest{})
	resp, ok := p.recv(t).(protocol.CatalogResponse)
	require.True(t, ok)

	got := resp.Entries
	sort.Slice(got, func(i, j int) bool { return got[i].ID < got[j].ID })
	var ids []uint64
	for _, e := range got {
		ids = append(ids, e.ID)
		assert.Len(t, e.Checksum, 64)
		assert.Empty(t, e.Path)
	}
	assert.Equal(t, []uint64{1752, 3030, 3756, 5445, 7380, 8033, 8284, 8299, 8830, 9040, 9197}, ids)
	assert.Equal(t, withoutPaths(cats.Local.Entries()), got)

	p.hangUp(t)
	waitDone(t, s)
	assert.Empty(t, ui.Prompts())
	assert.Equal(t, []string{consent.EventDisconnected}, eventNames(ui))
}

func TestCatalogResponseReplacesRemote(t *testing.T) {
	ui := consenttest.New(true, "")
	m, cats := newManager(t, ui)
	local, remote := tcpPair(t)
	s := m.Connect(local)
	p := newPeer(remote)

	sent := withoutPaths(cats.Local.Entries()[2:6])
	p.send(t, protocol.CatalogResponse{Entries: sent})
	waitEvent(t, ui, consent.EventRemoteCatalogUpdated)
	assert.Equal(t, sent, cats.Remote.Entries())

	p.hangUp(t)
	waitDone(t, s)
}

func TestDownloadRequestStreamsBundle(t *testing.T) {
	ui := consenttest.New(true, "")
	m, cats := newManager(t, ui)
	local, remote := tcpPair(t)
	s := m.Connect(local)
	p := newPeer(remote)

	entries := cats.Local.Entries()[:3]
	p.send(t, protocol.DownloadRequest{Entries: identities(entries)})

	resp, ok := p.recv(t).(protocol.DownloadResponse)
	require.True(t, ok)

	expected, err := archive.NewBuilder(1, t.TempDir(), nil).Build(context.Background(), entries)
	require.NoError(t, err)
	defer expected.Close()
	assert.Equal(t, expected.Size, resp.Size)

	want, err := io.ReadAll(expected)
	require.NoError(t, err)
	got, err := io.ReadAll(resp.Payload)
	require.NoError(t, err)
	assert.Equal(t, want, got)

	p.hangUp(t)
	waitDone(t, s)

	transfers := m.Tracker().Transfers()
	require.Len(t, transfers, 1)
	assert.Equal(t, fileshare.SENDING, transfers[0].Direction)
	assert.Equal(t, fileshare.COMPLETED, transfers[0].Status)
	assert.Equal(t, resp.Size, transfers[0].BytesTransferred)
}

func TestUnresolvedDownloadRequestReturnsError(t *testing.T) {
	ui := consenttest.New(true, "")
	m, cats := newManager(t, ui)
	local, remote := tcpPair(t)
	s := m.Connect(local)
	p := newPeer(remote)

	known := cats.Local.Entries()[0]
	p.send(t, protocol.DownloadRequest{Entries: []catalog.Entry{
		{ID: known.ID, Name: known.Name},
		{ID: 4242, Name: "Nobody - Nothing"},
	}})

	errPkt, ok := p.recv(t).(protocol.Error)
	require.True(t, ok)
	assert.Contains(t, errPkt.Message, "4242 Nobody - Nothing")

	p.send(t, protocol.CatalogRequest{})
	_, ok = p.recv(t).(protocol.CatalogResponse)
	assert.True(t, ok)

	p.hangUp(t)
	waitDone(t, s)
}

func bundleBytes(t *testing.T, n int) []byte {
	t.Helper()
	bundle, err := archive.NewBuilder(4, t.TempDir(), nil).Build(context.Background(), scanFixture(t)[:n])
	require.NoError(t, err)
	defer bundle.Close()
	data, err := io.ReadAll(bundle)
	require.NoError(t, err)
	return data
}

func TestDeclinedDownloadIsDrained(t *testing.T) {
	ui := consenttest.New(false, filepath.Join(t.TempDir(), "never.zip"))
	m, _ := newManager(t, ui)
	local, remote := tcpPair(t)
	s := m.Connect(local)
	p := newPeer(remote)

	data := bundleBytes(t, 3)
	p.send(t, protocol.DownloadResponse{Size: int64(len(data)), Payload: bytes.NewReader(data)})
	p.send(t, protocol.CatalogRequest{})

	_, ok := p.recv(t).(protocol.CatalogResponse)
	require.True(t, ok, "connection must still be framed after a declined download")

	assert.Equal(t, []consenttest.Prompt{{
		Title: "Download Zip",
		Text:  "You are about to download a 0 MB zip file. Continue?",
	}}, ui.Prompts())
	assert.NotContains(t, eventNames(ui), consent.EventDownloadStarted)
	_, err := os.Stat(ui.SavePath)
	assert.True(t, os.IsNotExist(err))

	transfers := m.Tracker().Transfers()
	require.Len(t, transfers, 1)
	assert.Equal(t, fileshare.RECEIVING, transfers[0].Direction)
	assert.Equal(t, fileshare.CANCELLED, transfers[0].Status)
	assert.Zero(t, transfers[0].BytesTransferred)

	p.hangUp(t)
	waitDone(t, s)
}

func TestDownloadWithoutDestinationIsDrained(t *testing.T) {
	ui := consenttest.New(true, "")
	m, _ := newManager(t, ui)
	local, remote := tcpPair(t)
	s := m.Connect(local)
	p := newPeer(remote)

	data := bundleBytes(t, 2)
	p.send(t, protocol.DownloadResponse{Size: int64(len(data)), Payload: bytes.NewReader(data)})
	p.send(t, protocol.CatalogRequest{})

	_, ok := p.recv(t).(protocol.CatalogResponse)
	require.True(t, ok)
	assert.Len(t, ui.Prompts(), 1)
	assert.NotContains(t, eventNames(ui), consent.EventDownloadStarted)
	require.Len(t, m.Tracker().Transfers(), 1)
	assert.Equal(t, fileshare.CANCELLED, m.Tracker().Transfers()[0].Status)

	p.hangUp(t)
	waitDone(t, s)
}

func TestAcceptedDownloadIsSaved(t *testing.T) {
	dest := filepath.Join(t.TempDir(), "incoming", "songs.zip")
	ui := consenttest.New(true, dest)
	m, _ := newManager(t, ui)
	local, remote := tcpPair(t)
	s := m.Connect(local)
	p := newPeer(remote)

	data := bundleBytes(t, 11)
	p.send(t, protocol.DownloadResponse{Size: int64(len(data)), Payload: bytes.NewReader(data)})
	p.send(t, protocol.CatalogRequest{})
	_, ok := p.recv(t).(protocol.CatalogResponse)
	require.True(t, ok)

	saved, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, data, saved)

	events := ui.Events()
	require.GreaterOrEqual(t, len(events), 3)
	assert.Equal(t, consent.EventDownloadStarted, events[0].Name)
	last := 0
	for _, e := range events[1 : len(events)-1] {
		require.Equal(t, consent.EventDownloadProgress, e.Name)
		percent := e.Payload.(int)
		assert.Greater(t, percent, last)
		last = percent
	}
	assert.Equal(t, 100, last)
	assert.Equal(t, consent.EventDownloadFinished, events[len(events)-1].Name)

	p.hangUp(t)
	waitDone(t, s)

	transfers := m.Tracker().Transfers()
	require.Len(t, transfers, 1)
	assert.Equal(t, fileshare.RECEIVING, transfers[0].Direction)
	assert.Equal(t, fileshare.COMPLETED, transfers[0].Status)
}

func TestEmptyDownloadHasNoProgress(t *testing.T) {
	dest := filepath.Join(t.TempDir(), "empty.zip")
	ui := consenttest.New(true, dest)
	m, _ := newManager(t, ui)
	local, remote := tcpPair(t)
	s := m.Connect(local)
	p := newPeer(remote)

	p.send(t, protocol.DownloadResponse{Size: 0})
	p.send(t, protocol.CatalogRequest{})
	_, ok := p.recv(t).(protocol.CatalogResponse)
	require.True(t, ok)

	assert.Equal(t, []string{consent.EventDownloadStarted, consent.EventDownloadFinished}, eventNames(ui))
	info, err := os.Stat(dest)
	require.NoError(t, err)
	assert.Zero(t, info.Size())

	p.hangUp(t)
	waitDone(t, s)
}

func TestUnwritableDestinationIsDrained(t *testing.T) {
	blocker := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0o644))
	ui := consenttest.New(true, filepath.Join(blocker, "songs.zip"))
	m, _ := newManager(t, ui)
	local, remote := tcpPair(t)
	s := m.Connect(local)
	p := newPeer(remote)

	data := bundleBytes(t, 1)
	p.send(t, protocol.DownloadResponse{Size: int64(len(data)), Payload: bytes.NewReader(data)})
	p.send(t, protocol.CatalogRequest{})
	_, ok := p.recv(t).(protocol.CatalogResponse)
	require.True(t, ok)
	assert.Equal(t, []string{consent.EventDownloadFailed}, eventNames(ui))

	p.hangUp(t)
	waitDone(t, s)
}

func TestUnknownPacketIsIgnored(t *testing.T) {
	ui := consenttest.New(true, "")
	m, _ := newManager(t, ui)
	local, remote := tcpPair(t)
	s := m.Connect(local)
	p := newPeer(remote)

	p.send(t, protocol.Unknown{Name: "PingPacket", Data: "hello"})
	p.send(t, protocol.CatalogRequest{})
	_, ok := p.recv(t).(protocol.CatalogResponse)
	assert.True(t, ok)

	p.hangUp(t)
	waitDone(t, s)
}

func TestErrorPacketIsReported(t *testing.T) {
	ui := consenttest.New(true, "")
	m, _ := newManager(t, ui)
	local, remote := tcpPair(t)
	s := m.Connect(local)
	p := newPeer(remote)

	p.send(t, protocol.Error{Message: "requested songs not found: 1 A - B"})
	e := waitEvent(t, ui, consent.EventRemoteError)
	assert.Equal(t, "requested songs not found: 1 A - B", e.Payload)

	p.hangUp(t)
	waitDone(t, s)
}

func TestDisconnectStopsBothTasks(t *testing.T) {
	ui := consenttest.New(true, "")
	m, _ := newManager(t, ui)
	local, remote := tcpPair(t)
	s := m.Connect(local)
	p := newPeer(remote)

	p.hangUp(t)
	waitDone(t, s)

	assert.Eventually(t, func() bool { return m.Current() == nil }, 5*time.Second, 10*time.Millisecond)
	err := m.Send(protocol.CatalogRequest{})
	assert.True(t, apperrors.IsType(err, apperrors.ErrNotConnected))
	assert.True(t, apperrors.IsType(s.Enqueue(protocol.CatalogRequest{}), apperrors.ErrNotConnected))
}

func TestPacketsAfterDisconnectAreNotProcessed(t *testing.T) {
	ui := consenttest.New(true, "")
	m, cats := newManager(t, ui)
	local, remote := tcpPair(t)
	s := m.Connect(local)

	_, err := remote.Write([]byte("DisconnectPacket\n\nMapListPacket\n[{\"id\":1,\"name\":\"A - B\",\"checksum\":\"00\"}]\n"))
	require.NoError(t, err)
	waitDone(t, s)

	assert.True(t, cats.Remote.Updated().IsZero())
	assert.NotContains(t, eventNames(ui), consent.EventRemoteCatalogUpdated)
}

func TestPeerHangupWithoutDisconnect(t *testing.T) {
	ui := consenttest.New(true, "")
	m, _ := newManager(t, ui)
	local, remote := tcpPair(t)
	s := m.Connect(local)

	require.NoError(t, remote.Close())
	waitDone(t, s)
}

func TestManagerSendReachesPeer(t *testing.T) {
	ui := consenttest.New(true, "")
	m, _ := newManager(t, ui)
	local, remote := tcpPair(t)
	s := m.Connect(local)
	p := newPeer(remote)

	require.NoError(t, m.Send(protocol.CatalogRequest{}))
	assert.Equal(t, protocol.CatalogRequest{}, p.recv(t))
	assert.Equal(t, Status{Connected: true, Peer: local.RemoteAddr().String(), Session: s.ID()}, m.Status())

	seen := politePeer(remote)
	m.Disconnect()
	select {
	case <-s.Done():
	default:
		t.Fatal("Disconnect returned before the session stopped")
	}
	assert.Equal(t, []string{protocol.HeaderDisconnect}, <-seen)
	assert.Equal(t, Status{}, m.Status())
}
