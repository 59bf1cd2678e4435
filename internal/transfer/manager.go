package transfer

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"songshare/internal/archive"
	"songshare/internal/consent"
	apperrors "songshare/internal/errors"
	"songshare/internal/fileshare"
	"songshare/internal/logger"
	"songshare/internal/metrics"
	"songshare/internal/protocol"
	"songshare/internal/store"
)

// DefaultQuiesceTimeout bounds how long a superseded session may take to
// finish its disconnect exchange before it is closed forcibly.
const DefaultQuiesceTimeout = 30 * time.Second

// Deps are the collaborators every session works with.
type Deps struct {
	Catalogs    *store.Catalogs
	UI          consent.UI
	Builder     *archive.Builder
	Tracker     *fileshare.Tracker
	DownloadDir string
	Logger      *slog.Logger

	// OnConnected runs after a session is installed, outside the manager lock.
	OnConnected func(*Session)
}

// Status describes the current connection.
type Status struct {
	Connected bool   `json:"connected"`
	Peer      string `json:"peer,omitempty"`
	Session   string `json:"session,omitempty"`
}

// Manager keeps at most one live session. mu serializes installing and
// retiring sessions; readers of the live session never take it.
type Manager struct {
	QuiesceTimeout time.Duration

	mu      sync.Mutex
	deps    Deps
	current atomic.Pointer[Session]
	log     *slog.Logger
}

// NewManager fills in a discarding logger, a default builder and a tracker
// where deps leaves them unset.
func NewManager(deps Deps) *Manager {
	if deps.Logger == nil {
		deps.Logger = logger.Discard()
	}
	if deps.Builder == nil {
		deps.Builder = archive.NewBuilder(archive.DefaultWorkers, "", deps.Logger)
	}
	if deps.Tracker == nil {
		deps.Tracker = fileshare.NewTracker(deps.Logger)
	}
	return &Manager{
		QuiesceTimeout: DefaultQuiesceTimeout,
		deps:           deps,
		log:            deps.Logger.With("component", "transfer"),
	}
}

// Attach sets the catalogs and UI. Connections cannot be made before both
// are attached.
func (m *Manager) Attach(catalogs *store.Catalogs, ui consent.UI) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deps.Catalogs = catalogs
	m.deps.UI = ui
}

// Connect installs conn as the live session. A previous session is sent a
// Disconnect and fully stopped first. Connect panics if the manager has not
// been attached.
func (m *Manager) Connect(conn Conn) *Session {
	m.mu.Lock()
	if m.deps.Catalogs == nil || m.deps.UI == nil {
		m.mu.Unlock()
		panic("transfer: connecting before the manager is attached to catalogs and UI")
	}
	if old := m.current.Load(); old != nil {
		m.log.Info("superseding session", "session", old.ID(), "peer", old.RemoteAddr())
		m.retire(old)
	}

	deps := m.deps
	s := newSession(conn, &deps)
	m.current.Store(s)
	s.start()
	m.mu.Unlock()

	s.log.Info("session started")
	go func() {
		<-s.Done()
		m.current.CompareAndSwap(s, nil)
	}()
	if deps.OnConnected != nil {
		deps.OnConnected(s)
	}
	return s
}

// retire disconnects s and waits until it has quiesced. The Disconnect is
// enqueued in the background so a full queue counts against the timeout.
func (m *Manager) retire(s *Session) {
	go s.Enqueue(protocol.Disconnect{})
	timeout := m.QuiesceTimeout
	if timeout <= 0 {
		timeout = DefaultQuiesceTimeout
	}
	select {
	case <-s.Done():
		return
	case <-time.After(timeout):
		m.log.Warn("session did not quiesce, closing", "session", s.ID())
		s.forceClose()
	}
	<-s.Done()
}

// Send enqueues p on the live session, blocking while its queue is full.
func (m *Manager) Send(p protocol.Packet) error {
	s := m.current.Load()
	if s == nil {
		return apperrors.New(apperrors.ErrNotConnected, "transfer", "not connected to a peer", nil)
	}
	return s.Enqueue(p)
}

// Disconnect ends the live session, if any, and waits for it to stop.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s := m.current.Load(); s != nil {
		m.retire(s)
		m.current.CompareAndSwap(s, nil)
	}
}

func (m *Manager) Current() *Session {
	return m.current.Load()
}

func (m *Manager) Status() Status {
	s := m.Current()
	if s == nil {
		return Status{}
	}
	return Status{Connected: true, Peer: s.RemoteAddr(), Session: s.ID()}
}

func (m *Manager) Tracker() *fileshare.Tracker {
	return m.deps.Tracker
}

// Serve admits incoming connections one at a time until ctx ends or ln is
// closed. Each connection is put to the user before it is accepted.
func (m *Manager) Serve(ctx context.Context, ln Listener) error {
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			ln.Close()
		case <-stop:
		}
	}()

	m.log.Info("listening for peers", "addr", ln.Addr().String())
	for {
		conn, err := ln.Accept(ctx)
		if err != nil {
			if ctx.Err() != nil || isClosed(err) {
				m.log.Info("listener stopped")
				return nil
			}
			m.log.Warn("failed to accept connection", "err", err)
			continue
		}
		m.admit(conn)
	}
}

func (m *Manager) admit(conn Conn) {
	addr := conn.RemoteAddr().String()
	m.mu.Lock()
	ui := m.deps.UI
	m.mu.Unlock()
	if ui == nil {
		panic("transfer: accepting before the manager is attached to catalogs and UI")
	}

	accepted, err := consent.Admit(conn, ui, addr, m.log)
	switch {
	case err != nil:
		metrics.RecordConnection("listener", "failed")
		m.log.Warn("handshake failed", "peer", addr, "err", err)
		conn.Close()
	case !accepted:
		metrics.RecordConnection("listener", "denied")
		conn.Close()
	default:
		metrics.RecordConnection("listener", "allowed")
		m.Connect(conn)
	}
}

// Dial connects to addr and waits for the peer's answer. It reports false
// when the peer declines.
func (m *Manager) Dial(ctx context.Context, tr Transport, addr string) (bool, error) {
	conn, err := tr.Dial(ctx, addr)
	if err != nil {
		metrics.RecordConnection("dialer", "failed")
		return false, apperrors.New(apperrors.ErrConnection, "transfer",
			"an error occurred when trying to connect to remote address "+addr, err)
	}

	accepted, err := consent.Await(conn)
	if err != nil {
		metrics.RecordConnection("dialer", "failed")
		conn.Close()
		return false, err
	}
	if !accepted {
		metrics.RecordConnection("dialer", "denied")
		m.log.Info("peer declined connection", "peer", addr)
		conn.Close()
		return false, nil
	}
	metrics.RecordConnection("dialer", "allowed")
	m.Connect(conn)
	return true, nil
}
