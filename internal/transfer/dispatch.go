package transfer

import (
	"path/filepath"
	"time"

	"songshare/internal/consent"
	"songshare/internal/fileshare"
	"songshare/internal/metrics"
	"songshare/internal/protocol"
)

// handle acts on one incoming packet. A returned error ends the session.
func (s *Session) handle(p protocol.Packet, r *protocol.Reader) error {
	switch p := p.(type) {
	case protocol.CatalogRequest:
		s.log.Debug("catalog requested")
		return s.reply(protocol.CatalogResponse{Entries: s.deps.Catalogs.Local.Entries()})

	case protocol.CatalogResponse:
		s.log.Info("remote catalog received", "entries", len(p.Entries))
		s.deps.Catalogs.Remote.Replace(p.Entries)
		s.deps.UI.Notify(consent.EventRemoteCatalogUpdated, nil)
		return nil

	case protocol.DownloadRequest:
		return s.serveDownload(p)

	case protocol.DownloadResponse:
		return s.receiveDownload(p, r)

	case protocol.Error:
		s.log.Warn("peer reported an error", "message", p.Message)
		s.deps.UI.Notify(consent.EventRemoteError, p.Message)
		return nil

	default:
		s.log.Warn("ignoring unknown packet", "header", p.Header())
		return nil
	}
}

// reply enqueues a packet from the reader task. A closed session is not an
// error here: the reader stops on its own once the connection drains.
func (s *Session) reply(p protocol.Packet) error {
	if err := s.Enqueue(p); err != nil {
		s.log.Debug("reply dropped", "header", p.Header(), "err", err)
	}
	return nil
}

func (s *Session) serveDownload(req protocol.DownloadRequest) error {
	s.log.Info("download requested", "entries", len(req.Entries))
	entries, err := s.deps.Catalogs.Local.Resolve(req.Entries)
	if err != nil {
		s.log.Warn("download request rejected", "err", err)
		return s.reply(protocol.Error{Message: err.Error()})
	}

	bundle, err := s.deps.Builder.Build(s.ctx, entries)
	if err != nil {
		if s.ctx.Err() != nil {
			return nil
		}
		s.log.Error("building bundle failed", "err", err)
		return s.reply(protocol.Error{Message: "failed to build archive: " + err.Error()})
	}
	return s.reply(protocol.DownloadResponse{Size: bundle.Size, Payload: bundle})
}

// receiveDownload asks the user whether to keep the announced bundle and
// copies it to disk. Whatever is not consumed is discarded before returning
// so the next packet starts on a frame boundary.
func (s *Session) receiveDownload(resp protocol.DownloadResponse, r *protocol.Reader) error {
	ui := s.deps.UI
	s.log.Info("download received", "size", resp.Size)

	suggested := filepath.Join(s.deps.DownloadDir, fileshare.SuggestedName(time.Now()))
	if ui.Confirm(consent.DownloadTitle, consent.DownloadPrompt(resp.Size)) {
		if path, ok := ui.SaveLocation(suggested); ok {
			s.saveDownload(resp, path)
		} else {
			s.log.Info("download skipped, no destination chosen")
			s.cancelDownload(resp, suggested)
		}
	} else {
		s.log.Info("download declined")
		s.cancelDownload(resp, suggested)
	}

	n, err := r.Discard()
	metrics.AddTransferBytes(metrics.DirectionIn, n)
	if n > 0 {
		s.log.Debug("discarded payload bytes", "size", n)
	}
	return err
}

// cancelDownload records a bundle the user chose not to keep.
func (s *Session) cancelDownload(resp protocol.DownloadResponse, name string) {
	tracker := s.deps.Tracker
	id := tracker.CreateTransfer(fileshare.FileInfo{Filename: name, Size: resp.Size}, fileshare.RECEIVING)
	tracker.CancelTransfer(id)
}

func (s *Session) saveDownload(resp protocol.DownloadResponse, path string) {
	ui, tracker := s.deps.UI, s.deps.Tracker

	file, err := fileshare.CreateFile(path, s.log)
	if err != nil {
		s.log.Error("cannot store download", "path", path, "err", err)
		ui.Notify(consent.EventDownloadFailed, err.Error())
		return
	}
	defer file.Close()

	ui.Notify(consent.EventDownloadStarted, nil)
	id := tracker.CreateTransfer(fileshare.FileInfo{Filename: file.Name(), Size: resp.Size}, fileshare.RECEIVING)
	var received int64
	_, err = fileshare.Receive(file, resp.Payload, resp.Size, func(written int64) {
		metrics.AddTransferBytes(metrics.DirectionIn, written-received)
		received = written
		if percent, advanced, _ := tracker.UpdateTransferProgress(id, written); advanced {
			ui.Notify(consent.EventDownloadProgress, percent)
		}
	})
	if err != nil {
		tracker.FailTransfer(id, err)
		s.log.Error("download failed", "path", file.Name(), "err", err)
		ui.Notify(consent.EventDownloadFailed, err.Error())
		return
	}
	tracker.CompleteTransfer(id)
	s.log.Info("download saved", "path", file.Name(), "size", resp.Size)
	ui.Notify(consent.EventDownloadFinished, nil)
}
