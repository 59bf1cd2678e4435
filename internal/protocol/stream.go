package protocol

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"

	apperrors "songshare/internal/errors"
)

// ChunkSize bounds a single payload read or write.
const ChunkSize = 32 * 1024

// Writer frames packets onto w and flushes after each one.
type Writer struct {
	bw  *bufio.Writer
	buf []byte

	// OnPayload, if set, is called with the running payload byte count
	// after each chunk of a DownloadResponse.
	OnPayload func(written int64)
}

func NewWriter(w io.Writer) *Writer {
	return &Writer{bw: bufio.NewWriter(w), buf: make([]byte, ChunkSize)}
}

// WritePacket writes p and, for a DownloadResponse, exactly Size payload
// bytes. A payload that ends early is an error; the stream is then no
// longer framed and must be dropped.
func (w *Writer) WritePacket(p Packet) error {
	header, data, err := Encode(p)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w.bw, "%s\n%s\n", header, data); err != nil {
		return ioError("writing "+header, err)
	}
	if resp, ok := p.(DownloadResponse); ok && resp.Size > 0 {
		if resp.Payload == nil {
			return apperrors.New(apperrors.ErrProtocol, "protocol", "download response without payload", nil)
		}
		if err := w.copyPayload(resp); err != nil {
			return err
		}
	}
	if err := w.bw.Flush(); err != nil {
		return ioError("flushing "+header, err)
	}
	return nil
}

func (w *Writer) copyPayload(resp DownloadResponse) error {
	var written int64
	for written < resp.Size {
		chunk := w.buf
		if remaining := resp.Size - written; remaining < int64(len(chunk)) {
			chunk = chunk[:remaining]
		}
		n, err := resp.Payload.Read(chunk)
		if n > 0 {
			if _, werr := w.bw.Write(chunk[:n]); werr != nil {
				return ioError("writing payload", werr)
			}
			written += int64(n)
			if w.OnPayload != nil {
				w.OnPayload(written)
			}
		}
		if err == io.EOF {
			if written < resp.Size {
				return ioError(fmt.Sprintf("payload ended after %d of %d bytes", written, resp.Size), io.ErrUnexpectedEOF)
			}
			break
		}
		if err != nil {
			return ioError("reading payload", err)
		}
	}
	return nil
}

// Reader reads framed packets from r.
type Reader struct {
	br      *bufio.Reader
	pending *io.LimitedReader
}

func NewReader(r io.Reader) *Reader {
	return &Reader{br: bufio.NewReaderSize(r, ChunkSize)}
}

// ReadPacket returns the next packet. Payload bytes left unread from a
// previous DownloadResponse are discarded first. io.EOF is returned only
// when the stream ends cleanly between packets.
func (r *Reader) ReadPacket() (Packet, error) {
	if _, err := r.Discard(); err != nil {
		return nil, err
	}

	header, err := r.readLine()
	if err != nil {
		if errors.Is(err, io.EOF) && header == "" {
			return nil, io.EOF
		}
		return nil, ioError("reading packet header", unexpected(err))
	}
	data, err := r.readLine()
	if err != nil {
		return nil, ioError("reading "+header+" data", unexpected(err))
	}

	p, err := Decode(header, data)
	if err != nil {
		return nil, err
	}
	if resp, ok := p.(DownloadResponse); ok {
		r.pending = &io.LimitedReader{R: r.br, N: resp.Size}
		resp.Payload = r.pending
		p = resp
	}
	return p, nil
}

// Discard drops whatever is left of the current payload and reports how
// many bytes that was.
func (r *Reader) Discard() (int64, error) {
	if r.pending == nil {
		return 0, nil
	}
	want := r.pending.N
	n, err := io.Copy(io.Discard, r.pending)
	r.pending = nil
	if err == nil && n < want {
		err = io.ErrUnexpectedEOF
	}
	if err != nil {
		return n, ioError("discarding payload", err)
	}
	return n, nil
}

func (r *Reader) readLine() (string, error) {
	line, err := r.br.ReadString('\n')
	if err != nil {
		return line, err
	}
	return strings.TrimSuffix(line, "\n"), nil
}

func unexpected(err error) error {
	if errors.Is(err, io.EOF) {
		return io.ErrUnexpectedEOF
	}
	return err
}

func ioError(msg string, err error) error {
	return apperrors.New(apperrors.ErrIO, "protocol", msg, err)
}
