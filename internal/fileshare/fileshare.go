// Package fileshare moves bundle bytes between the wire and the local disk
// and keeps a record of every transfer.
package fileshare

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/exp/rand"

	apperrors "songshare/internal/errors"
)

const chunkSize = 32 * 1024

// SuggestedName is the default file name for a bundle received at t.
func SuggestedName(t time.Time) string {
	return "songs-" + t.Format("20060102-150405") + ".zip"
}

// Receive copies exactly size bytes from src to dst in bounded chunks,
// calling onChunk with the running total after each one.
func Receive(dst io.Writer, src io.Reader, size int64, onChunk func(written int64)) (int64, error) {
	buf := make([]byte, chunkSize)
	var written int64
	for written < size {
		chunk := buf
		if remaining := size - written; remaining < int64(len(chunk)) {
			chunk = chunk[:remaining]
		}
		n, err := src.Read(chunk)
		if n > 0 {
			if _, werr := dst.Write(chunk[:n]); werr != nil {
				return written, apperrors.New(apperrors.ErrIO, "fileshare", "writing received data", werr)
			}
			written += int64(n)
			if onChunk != nil {
				onChunk(written)
			}
		}
		if err == io.EOF {
			if written < size {
				return written, apperrors.New(apperrors.ErrIO, "fileshare",
					fmt.Sprintf("stream ended after %d of %d bytes", written, size), io.ErrUnexpectedEOF)
			}
			break
		}
		if err != nil {
			return written, apperrors.New(apperrors.ErrIO, "fileshare", "reading received data", err)
		}
	}
	return written, nil
}

// CreateFile creates path without overwriting anything. When path exists a
// random suffix is tried a few times before giving up.
func CreateFile(path string, log *slog.Logger) (*os.File, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, apperrors.New(apperrors.ErrIO, "fileshare", "creating download directory", err)
	}
	file, err := create(path)
	if err == nil {
		return file, nil
	}
	if !errors.Is(err, os.ErrExist) {
		return nil, apperrors.New(apperrors.ErrIO, "fileshare", "creating "+path, err)
	}

	extension := filepath.Ext(path)
	base := path[:len(path)-len(extension)]
	for retry := 5; retry > 0; retry-- {
		candidate := fmt.Sprintf("%s-%d%s", base, rand.Intn(10000), extension)
		file, err := create(candidate)
		if err == nil {
			if log != nil {
				log.Info("file already exists, using new name", "path", candidate)
			}
			return file, nil
		}
		if log != nil {
			log.Debug("retry failed", "path", candidate, "remaining", retry-1)
		}
	}
	return nil, apperrors.New(apperrors.ErrIO, "fileshare", "exceeded retry attempts, could not create file: "+path, err)
}

func create(path string) (*os.File, error) {
	return os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
}
