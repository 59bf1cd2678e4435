// Package app ties the catalogs, the archive builder and the connection
// manager together behind the operations the CLI and the HTTP API expose.
package app

import (
	"context"
	"log/slog"
	"strconv"
	"strings"
	"sync"

	"songshare/internal/archive"
	"songshare/internal/catalog"
	"songshare/internal/config"
	"songshare/internal/consent"
	apperrors "songshare/internal/errors"
	"songshare/internal/fileshare"
	"songshare/internal/logger"
	"songshare/internal/protocol"
	"songshare/internal/store"
	"songshare/internal/transfer"
)

type App struct {
	cfg       *config.Config
	log       *slog.Logger
	scanner   *catalog.Scanner
	catalogs  *store.Catalogs
	manager   *transfer.Manager
	transport transfer.Transport

	mu       sync.RWMutex
	songsDir string
}

// Status is the snapshot returned by the status command and endpoint.
type Status struct {
	transfer.Status
	SongsDir    string                   `json:"songs_dir"`
	Transport   string                   `json:"transport"`
	LocalSongs  int                      `json:"local_songs"`
	RemoteSongs int                      `json:"remote_songs"`
	Transfers   []fileshare.FileTransfer `json:"transfers"`
}

// Matches holds both catalogs annotated against each other.
type Matches struct {
	Local  []catalog.Match `json:"local"`
	Remote []catalog.Match `json:"remote"`
}

func New(cfg *config.Config, ui consent.UI, log *slog.Logger) (*App, error) {
	if log == nil {
		log = logger.Discard()
	}
	tr, err := transfer.NewTransport(cfg.Transport)
	if err != nil {
		return nil, apperrors.New(apperrors.ErrConnection, "app", "selecting transport", err)
	}

	a := &App{
		cfg:       cfg,
		log:       log.With("component", "app"),
		scanner:   catalog.NewScanner(cfg.Workers, log),
		catalogs:  store.NewCatalogs(),
		transport: tr,
		songsDir:  cfg.SongsDir,
	}
	deps := transfer.Deps{
		Builder:     archive.NewBuilder(cfg.Workers, "", log),
		Tracker:     fileshare.NewTracker(log),
		DownloadDir: cfg.DownloadDir,
		Logger:      log,
	}
	if cfg.AutoRequestCatalog {
		deps.OnConnected = func(s *transfer.Session) {
			if err := s.Enqueue(protocol.CatalogRequest{}); err != nil {
				a.log.Debug("initial catalog request dropped", "err", err)
			}
		}
	}
	a.manager = transfer.NewManager(deps)
	a.manager.Attach(a.catalogs, ui)
	return a, nil
}

func (a *App) SongsDir() string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.songsDir
}

// SetSongsDir switches the songs directory and rescans it. The previous
// directory and catalog are kept when the scan fails.
func (a *App) SetSongsDir(ctx context.Context, dir string) ([]catalog.Entry, error) {
	entries, err := a.scanner.Scan(ctx, dir)
	if err != nil {
		return nil, err
	}
	a.mu.Lock()
	a.songsDir = dir
	a.mu.Unlock()
	a.catalogs.Local.Replace(entries)
	a.log.Info("songs directory changed", "dir", dir, "entries", len(entries))
	return entries, nil
}

// Rescan rebuilds the local catalog from the songs directory.
func (a *App) Rescan(ctx context.Context) ([]catalog.Entry, error) {
	return a.SetSongsDir(ctx, a.SongsDir())
}

func (a *App) LocalCatalog() []catalog.Entry  { return a.catalogs.Local.Entries() }
func (a *App) RemoteCatalog() []catalog.Entry { return a.catalogs.Remote.Entries() }

func (a *App) Matches() Matches {
	local, remote := a.LocalCatalog(), a.RemoteCatalog()
	return Matches{
		Local:  catalog.Annotate(local, remote),
		Remote: catalog.Annotate(remote, local),
	}
}

// Connect dials addr and reports whether the peer accepted.
func (a *App) Connect(ctx context.Context, addr string) (bool, error) {
	a.log.Info("connecting", "addr", addr, "transport", a.transport.Name())
	return a.manager.Dial(ctx, a.transport, addr)
}

func (a *App) RequestRemoteCatalog() error {
	return a.manager.Send(protocol.CatalogRequest{})
}

// RequestDownload asks the peer for the remote entries with the given ids.
// Every id must be present in the remote catalog.
func (a *App) RequestDownload(ids []uint64) error {
	if len(ids) == 0 {
		return apperrors.New(apperrors.ErrUnresolvedEntry, "app", "no songs selected", nil)
	}
	var wanted []catalog.Entry
	var unknown []uint64
	for _, id := range ids {
		found := a.catalogs.Remote.ByID(id)
		if len(found) == 0 {
			unknown = append(unknown, id)
			continue
		}
		wanted = append(wanted, found...)
	}
	if len(unknown) > 0 {
		return apperrors.New(apperrors.ErrUnresolvedEntry, "app",
			"songs not in the remote catalog: "+formatIDs(unknown), nil)
	}
	return a.request(wanted)
}

// RequestMissing asks the peer for every remote entry the local catalog
// lacks. It returns how many entries were requested.
func (a *App) RequestMissing() (int, error) {
	missing := catalog.MissingFrom(a.LocalCatalog(), a.RemoteCatalog())
	if len(missing) == 0 {
		return 0, nil
	}
	return len(missing), a.request(missing)
}

func (a *App) request(entries []catalog.Entry) error {
	a.log.Info("requesting download", "entries", len(entries))
	return a.manager.Send(protocol.DownloadRequest{Entries: entries})
}

func (a *App) Disconnect() {
	a.manager.Disconnect()
}

func (a *App) Status() Status {
	return Status{
		Status:      a.manager.Status(),
		SongsDir:    a.SongsDir(),
		Transport:   a.transport.Name(),
		LocalSongs:  a.catalogs.Local.Len(),
		RemoteSongs: a.catalogs.Remote.Len(),
		Transfers:   a.manager.Tracker().Transfers(),
	}
}

// Serve listens on the configured address until ctx is cancelled.
func (a *App) Serve(ctx context.Context) error {
	ln, err := a.Listen(ctx)
	if err != nil {
		return err
	}
	return a.ServeListener(ctx, ln)
}

func (a *App) Listen(ctx context.Context) (transfer.Listener, error) {
	ln, err := a.transport.Listen(ctx, a.cfg.ListenAddr)
	if err != nil {
		return nil, apperrors.New(apperrors.ErrConnection, "app", "starting listener", err)
	}
	return ln, nil
}

func (a *App) ServeListener(ctx context.Context, ln transfer.Listener) error {
	return a.manager.Serve(ctx, ln)
}

func formatIDs(ids []uint64) string {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = strconv.FormatUint(id, 10)
	}
	return strings.Join(parts, ", ")
}
