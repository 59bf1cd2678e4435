package transfer

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"songshare/internal/consent"
	apperrors "songshare/internal/errors"
	"songshare/internal/fileshare"
	"songshare/internal/metrics"
	"songshare/internal/protocol"
)

const (
	// QueueSize bounds the outbound packets waiting for the writer.
	QueueSize = 10

	lingerTimeout = 5 * time.Second
)

// Session is one admitted connection with its reader and writer tasks.
// Anything that wants to send to the peer goes through Enqueue.
type Session struct {
	id   string
	addr string
	conn Conn
	deps *Deps
	log  *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	queue      chan protocol.Packet
	mu         sync.RWMutex
	closed     bool
	writerDone chan struct{}
	readerDone chan struct{}
	done       chan struct{}

	sentDisconnect atomic.Bool
	peerFirst      atomic.Bool
}

func newSession(conn Conn, deps *Deps) *Session {
	id := uuid.NewString()
	addr := ""
	if ra := conn.RemoteAddr(); ra != nil {
		addr = ra.String()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Session{
		id:         id,
		addr:       addr,
		conn:       conn,
		deps:       deps,
		log:        deps.Logger.With("session", id, "peer", addr),
		ctx:        ctx,
		cancel:     cancel,
		queue:      make(chan protocol.Packet, QueueSize),
		writerDone: make(chan struct{}),
		readerDone: make(chan struct{}),
		done:       make(chan struct{}),
	}
}

func (s *Session) ID() string         { return s.id }
func (s *Session) RemoteAddr() string { return s.addr }

// Done is closed once both tasks have stopped and the connection is closed.
func (s *Session) Done() <-chan struct{} { return s.done }

func (s *Session) start() {
	go s.readLoop()
	go s.writeLoop()
	go func() {
		<-s.readerDone
		<-s.writerDone
		if s.peerFirst.Load() {
			if pc, ok := s.conn.(peerCloser); ok {
				pc.WaitPeerClose(lingerTimeout)
			}
		}
		s.conn.Close()
		s.cancel()
		s.log.Info("session closed")
		s.deps.UI.Notify(consent.EventDisconnected, nil)
		close(s.done)
	}()
}

// Enqueue hands p to the writer, blocking while the queue is full. It fails
// once the writer has stopped.
func (s *Session) Enqueue(p protocol.Packet) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		releasePacket(p)
		return errSessionClosed()
	}
	select {
	case s.queue <- p:
		return nil
	case <-s.writerDone:
		releasePacket(p)
		return errSessionClosed()
	}
}

func errSessionClosed() error {
	return apperrors.New(apperrors.ErrNotConnected, "transfer", "session is closed", nil)
}

// forceClose breaks both directions so blocked tasks return.
func (s *Session) forceClose() {
	s.cancel()
	s.conn.Close()
}

func (s *Session) writeLoop() {
	defer s.stopWriter()
	w := protocol.NewWriter(s.conn)
	for {
		var p protocol.Packet
		select {
		case p = <-s.queue:
		case <-s.ctx.Done():
			return
		}
		if err := s.write(w, p); err != nil {
			s.log.Warn("write failed, closing connection", "header", p.Header(), "err", err)
			s.conn.Close()
			return
		}
		if _, ok := p.(protocol.Disconnect); ok {
			if err := s.conn.CloseWrite(); err != nil {
				s.log.Debug("close write", "err", err)
			}
			return
		}
	}
}

func (s *Session) write(w *protocol.Writer, p protocol.Packet) error {
	resp, isDownload := p.(protocol.DownloadResponse)
	if !isDownload {
		if _, ok := p.(protocol.Disconnect); ok {
			s.sentDisconnect.Store(true)
		}
		err := w.WritePacket(p)
		if err == nil {
			metrics.RecordPacket(metrics.DirectionOut, p.Header())
		}
		return err
	}

	defer releasePacket(p)
	tracker := s.deps.Tracker
	id := tracker.CreateTransfer(fileshare.FileInfo{Filename: payloadName(resp.Payload), Size: resp.Size}, fileshare.SENDING)
	var sent int64
	w.OnPayload = func(written int64) {
		metrics.AddTransferBytes(metrics.DirectionOut, written-sent)
		sent = written
		tracker.UpdateTransferProgress(id, written)
	}
	defer func() { w.OnPayload = nil }()

	if err := w.WritePacket(p); err != nil {
		tracker.FailTransfer(id, err)
		return err
	}
	tracker.CompleteTransfer(id)
	metrics.RecordPacket(metrics.DirectionOut, p.Header())
	s.log.Info("bundle sent", "size", resp.Size)
	return nil
}

// stopWriter marks the queue closed and releases anything left in it.
func (s *Session) stopWriter() {
	close(s.writerDone)
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	for {
		select {
		case p := <-s.queue:
			releasePacket(p)
		default:
			return
		}
	}
}

func (s *Session) readLoop() {
	defer close(s.readerDone)
	r := protocol.NewReader(s.conn)
	for {
		p, err := r.ReadPacket()
		if err != nil {
			if !errors.Is(err, io.EOF) && !s.writerStopped() {
				s.log.Warn("read failed", "err", err)
			}
			s.Enqueue(protocol.Disconnect{})
			return
		}
		metrics.RecordPacket(metrics.DirectionIn, p.Header())

		if _, ok := p.(protocol.Disconnect); ok {
			s.log.Debug("disconnect received")
			s.peerFirst.Store(!s.sentDisconnect.Load())
			s.Enqueue(protocol.Disconnect{})
			return
		}
		if err := s.handle(p, r); err != nil {
			s.log.Error("dropping connection", "header", p.Header(), "err", err)
			s.Enqueue(protocol.Disconnect{})
			return
		}
	}
}

func (s *Session) writerStopped() bool {
	select {
	case <-s.writerDone:
		return true
	default:
		return false
	}
}

// releasePacket frees resources owned by a packet that will not be written.
func releasePacket(p protocol.Packet) {
	if resp, ok := p.(protocol.DownloadResponse); ok {
		if c, ok := resp.Payload.(io.Closer); ok {
			c.Close()
		}
	}
}

func payloadName(r io.Reader) string {
	if n, ok := r.(interface{ Name() string }); ok {
		return n.Name()
	}
	return "bundle"
}
