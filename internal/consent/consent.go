// Package consent defines the user-facing decision points of a sync session
// and the one-byte admission handshake.
package consent

import (
	"fmt"
	"io"
	"log/slog"
	"strconv"

	apperrors "songshare/internal/errors"
)

// Events passed to UI.Notify.
const (
	EventRemoteCatalogUpdated = "remote-songs-updated"
	EventDownloadStarted      = "download-started"
	EventDownloadProgress     = "download-progress"
	EventDownloadFinished     = "download-finished"
	EventDownloadFailed       = "download-failed"
	EventRemoteError          = "remote-error"
	EventDisconnected         = "disconnected"
)

const (
	ConnectionTitle = "Accept connection"
	DownloadTitle   = "Download Zip"
)

// UI is the human side of the protocol. Implementations may block for as
// long as the user takes to answer.
type UI interface {
	Confirm(title, prompt string) bool
	// SaveLocation asks where to store a received bundle. ok is false when
	// the user cancels.
	SaveLocation(suggested string) (path string, ok bool)
	Notify(event string, payload any)
}

// Outcome is the handshake byte written by the listening side.
type Outcome byte

const (
	Denied  Outcome = 0
	Allowed Outcome = 255
)

func ConnectionPrompt(addr string) string {
	return fmt.Sprintf("Accept incoming connection from %s?", addr)
}

func DownloadPrompt(size int64) string {
	return fmt.Sprintf("You are about to download a %d MB zip file. Continue?", size/1_000_000)
}

// Admit asks ui whether to accept a connection from addr and writes the
// answer to conn.
func Admit(conn io.Writer, ui UI, addr string, log *slog.Logger) (bool, error) {
	accepted := ui.Confirm(ConnectionTitle, ConnectionPrompt(addr))
	outcome := Denied
	if accepted {
		outcome = Allowed
	}
	if _, err := conn.Write([]byte{byte(outcome)}); err != nil {
		return false, apperrors.New(apperrors.ErrIO, "consent", "writing handshake to "+addr, err)
	}
	if log != nil {
		log.Info("connection request answered", "peer", addr, "accepted", accepted)
	}
	return accepted, nil
}

// Await reads the handshake byte on the dialing side.
func Await(conn io.Reader) (bool, error) {
	var b [1]byte
	if _, err := io.ReadFull(conn, b[:]); err != nil {
		return false, apperrors.New(apperrors.ErrIO, "consent", "reading handshake", err)
	}
	switch Outcome(b[0]) {
	case Allowed:
		return true, nil
	case Denied:
		return false, nil
	default:
		return false, apperrors.New(apperrors.ErrUnexpectedMessage, "consent",
			"unexpected handshake byte "+strconv.Itoa(int(b[0])), nil)
	}
}
