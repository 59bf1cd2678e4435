package archive

import (
	"context"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/klauspost/compress/zip"
	"golang.org/x/sync/errgroup"

	"songshare/internal/catalog"
	apperrors "songshare/internal/errors"
	"songshare/internal/logger"
	"songshare/internal/metrics"
)

const (
	DefaultWorkers = 4
	DefaultBuffer  = 24
)

// Builder turns catalog entries into one bundle zip holding an .osz per entry.
type Builder struct {
	Workers int
	Buffer  int
	TempDir string
	Logger  *slog.Logger
}

// NewBuilder returns a Builder with workers packers; an empty tempDir means os.TempDir.
func NewBuilder(workers int, tempDir string, log *slog.Logger) *Builder {
	if workers < 1 {
		workers = DefaultWorkers
	}
	if log == nil {
		log = logger.Discard()
	}
	return &Builder{Workers: workers, Buffer: DefaultBuffer, TempDir: tempDir, Logger: log}
}

// Bundle is a finished archive positioned at offset 0. Close removes it.
type Bundle struct {
	*os.File
	Size int64
}

func (b *Bundle) Close() error {
	err := b.File.Close()
	if rmErr := os.Remove(b.File.Name()); err == nil && rmErr != nil && !os.IsNotExist(rmErr) {
		err = rmErr
	}
	return err
}

type packed struct {
	index int
	name  string
	path  string
}

// Build packs entries concurrently and writes them into the bundle in input
// order. Only this goroutine touches the bundle writer.
func (b *Builder) Build(ctx context.Context, entries []catalog.Entry) (*Bundle, error) {
	start := time.Now()
	for _, e := range entries {
		if e.Path == "" {
			return nil, apperrors.New(apperrors.ErrInvalidPath, "archive", "entry has no local path: "+e.FolderName(), nil)
		}
	}

	out, err := os.CreateTemp(b.TempDir, "songshare-*.zip")
	if err != nil {
		return nil, apperrors.New(apperrors.ErrIO, "archive", "creating bundle", err)
	}
	bundle := &Bundle{File: out}

	if err := b.fill(ctx, out, entries); err != nil {
		bundle.Close()
		b.Logger.Warn("archive build failed", "entries", len(entries), "err", err)
		return nil, err
	}

	size, err := out.Seek(0, io.SeekEnd)
	if err == nil {
		_, err = out.Seek(0, io.SeekStart)
	}
	if err != nil {
		bundle.Close()
		return nil, apperrors.New(apperrors.ErrIO, "archive", "rewinding bundle", err)
	}
	bundle.Size = size

	metrics.ObserveArchiveBuild(time.Since(start).Seconds())
	b.Logger.Info("archive built", "entries", len(entries), "size", size, "path", out.Name())
	return bundle, nil
}

func (b *Builder) fill(ctx context.Context, out io.Writer, entries []catalog.Entry) error {
	workers, buffer := b.Workers, b.Buffer
	if workers < 1 {
		workers = DefaultWorkers
	}
	if buffer < 1 {
		buffer = DefaultBuffer
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	results := make(chan packed, buffer)

	go func() {
		for i, e := range entries {
			if gctx.Err() != nil {
				break
			}
			g.Go(func() error {
				path, err := b.packTemp(e.Path)
				if err != nil {
					return err
				}
				select {
				case results <- packed{index: i, name: e.FolderName() + Ext, path: path}:
					return nil
				case <-gctx.Done():
					os.Remove(path)
					return gctx.Err()
				}
			})
		}
		_ = g.Wait()
		close(results)
	}()

	zw := zip.NewWriter(out)
	pending := make(map[int]packed)
	next := 0
	var writeErr error
	for r := range results {
		if writeErr != nil {
			os.Remove(r.path)
			continue
		}
		pending[r.index] = r
		for {
			p, ok := pending[next]
			if !ok {
				break
			}
			delete(pending, next)
			next++
			if err := appendFile(zw, p.name, p.path); err != nil {
				writeErr = apperrors.New(apperrors.ErrIO, "archive", "writing "+p.name, err)
				cancel()
				break
			}
		}
	}
	for _, p := range pending {
		os.Remove(p.path)
	}

	err := g.Wait()
	if writeErr != nil {
		return writeErr
	}
	if err == nil {
		err = ctx.Err()
	}
	if err != nil {
		return err
	}
	if err := zw.Close(); err != nil {
		return apperrors.New(apperrors.ErrIO, "archive", "finishing bundle", err)
	}
	return nil
}

func (b *Builder) packTemp(dir string) (string, error) {
	f, err := os.CreateTemp(b.TempDir, "songshare-*"+Ext)
	if err != nil {
		return "", apperrors.New(apperrors.ErrIO, "archive", "creating temp archive", err)
	}
	if err := PackFolder(dir, f); err != nil {
		f.Close()
		os.Remove(f.Name())
		return "", err
	}
	if err := f.Close(); err != nil {
		os.Remove(f.Name())
		return "", apperrors.New(apperrors.ErrIO, "archive", "closing temp archive", err)
	}
	return f.Name(), nil
}

// appendFile stores the file at path as name, then removes it. Headers carry
// no timestamp so equal inputs give equal bundles.
func appendFile(zw *zip.Writer, name, path string) error {
	defer os.Remove(path)
	w, err := zw.CreateHeader(&zip.FileHeader{Name: name, Method: zip.Store})
	if err != nil {
		return err
	}
	return copyFile(w, path)
}
