// Package protocol implements the framed packet format spoken between two
// peers. Every packet is "<header>\n<data>\n"; a download response is
// followed by exactly Size raw bytes.
package protocol

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"

	"songshare/internal/catalog"
	apperrors "songshare/internal/errors"
)

const (
	HeaderCatalogRequest   = "MapListRequestPacket"
	HeaderCatalogResponse  = "MapListPacket"
	HeaderDownloadRequest  = "DownloadRequestPacket"
	HeaderDownloadResponse = "DownloadResponsePacket"
	HeaderDisconnect       = "DisconnectPacket"
	HeaderError            = "ErrorPacket"
)

// Packet is one of the types in this file; the set is closed.
type Packet interface {
	Header() string
	packet()
}

// CatalogRequest asks the peer for its local catalog.
type CatalogRequest struct{}

// CatalogResponse carries the sender's local catalog.
type CatalogResponse struct {
	Entries []catalog.Entry
}

// DownloadRequest names the entries the sender wants as a bundle.
type DownloadRequest struct {
	Entries []catalog.Entry
}

// DownloadResponse announces Size bytes of bundle data. On the sending side
// Payload is the bundle; on the receiving side it reads the bytes straight
// off the connection and must be consumed before the next ReadPacket, which
// otherwise discards what is left.
type DownloadResponse struct {
	Size    int64
	Payload io.Reader
}

// Disconnect ends the session. Nothing is written after it.
type Disconnect struct{}

// Error reports a failed request back to the peer.
type Error struct {
	Message string
}

// Unknown is any packet with a header this side does not understand.
type Unknown struct {
	Name string
	Data string
}

func (CatalogRequest) Header() string   { return HeaderCatalogRequest }
func (CatalogResponse) Header() string  { return HeaderCatalogResponse }
func (DownloadRequest) Header() string  { return HeaderDownloadRequest }
func (DownloadResponse) Header() string { return HeaderDownloadResponse }
func (Disconnect) Header() string       { return HeaderDisconnect }
func (Error) Header() string            { return HeaderError }
func (u Unknown) Header() string        { return u.Name }

func (CatalogRequest) packet()   {}
func (CatalogResponse) packet()  {}
func (DownloadRequest) packet()  {}
func (DownloadResponse) packet() {}
func (Disconnect) packet()       {}
func (Error) packet()            {}
func (Unknown) packet()          {}

// Encode returns the header and data lines of p, without newlines.
func Encode(p Packet) (string, string, error) {
	var data string
	switch p := p.(type) {
	case CatalogRequest, Disconnect:
	case CatalogResponse:
		s, err := encodeEntries(p.Entries)
		if err != nil {
			return "", "", err
		}
		data = s
	case DownloadRequest:
		s, err := encodeEntries(p.Entries)
		if err != nil {
			return "", "", err
		}
		data = s
	case DownloadResponse:
		if p.Size < 0 {
			return "", "", protocolError(fmt.Sprintf("negative payload size %d", p.Size), nil)
		}
		data = strconv.FormatInt(p.Size, 10)
	case Error:
		b, err := json.Marshal(p.Message)
		if err != nil {
			return "", "", protocolError("encoding error message", err)
		}
		data = string(b)
	case Unknown:
		data = p.Data
	default:
		return "", "", protocolError(fmt.Sprintf("unsupported packet %T", p), nil)
	}

	header := p.Header()
	if header == "" || strings.ContainsRune(header, '\n') || strings.ContainsRune(data, '\n') {
		return "", "", protocolError("packet "+strconv.Quote(header)+" contains a line break", nil)
	}
	return header, data, nil
}

// Decode builds a packet from its header and data lines. DownloadResponse
// comes back without a Payload.
func Decode(header, data string) (Packet, error) {
	switch header {
	case HeaderCatalogRequest:
		return CatalogRequest{}, nil
	case HeaderCatalogResponse:
		entries, err := decodeEntries(data)
		if err != nil {
			return nil, err
		}
		return CatalogResponse{Entries: entries}, nil
	case HeaderDownloadRequest:
		entries, err := decodeEntries(data)
		if err != nil {
			return nil, err
		}
		return DownloadRequest{Entries: entries}, nil
	case HeaderDownloadResponse:
		size, err := strconv.ParseInt(data, 10, 64)
		if err != nil || size < 0 {
			return nil, protocolError("invalid download size "+strconv.Quote(data), err)
		}
		return DownloadResponse{Size: size}, nil
	case HeaderDisconnect:
		return Disconnect{}, nil
	case HeaderError:
		var msg string
		if err := json.Unmarshal([]byte(data), &msg); err != nil {
			return nil, protocolError("decoding error message", err)
		}
		return Error{Message: msg}, nil
	default:
		return Unknown{Name: header, Data: data}, nil
	}
}

func encodeEntries(entries []catalog.Entry) (string, error) {
	if entries == nil {
		entries = []catalog.Entry{}
	}
	b, err := json.Marshal(entries)
	if err != nil {
		return "", protocolError("encoding catalog", err)
	}
	return string(b), nil
}

func decodeEntries(data string) ([]catalog.Entry, error) {
	var entries []catalog.Entry
	if err := json.Unmarshal([]byte(data), &entries); err != nil {
		return nil, protocolError("decoding catalog", err)
	}
	if entries == nil {
		entries = []catalog.Entry{}
	}
	return entries, nil
}

func protocolError(msg string, err error) error {
	return apperrors.New(apperrors.ErrProtocol, "protocol", msg, err)
}
