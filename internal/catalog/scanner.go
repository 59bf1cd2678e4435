package catalog

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"songshare/internal/logger"
	"songshare/internal/metrics"
)

const (
	DefaultWorkers = 4
	chunkSize      = 4
)

// Scanner reads every song folder directly below a root directory.
type Scanner struct {
	Workers int
	Logger  *slog.Logger
}

func NewScanner(workers int, log *slog.Logger) *Scanner {
	if workers < 1 {
		workers = DefaultWorkers
	}
	if log == nil {
		log = logger.Discard()
	}
	return &Scanner{Workers: workers, Logger: log}
}

// Candidates lists the song folders directly below root, in name order.
func Candidates(root string) ([]string, error) {
	dirents, err := os.ReadDir(root)
	if err != nil {
		return nil, ioError("reading songs directory "+root, err)
	}
	var paths []string
	for _, d := range dirents {
		path := filepath.Join(root, d.Name())
		if IsFolder(path) {
			paths = append(paths, path)
		}
	}
	return paths, nil
}

// Scan builds a catalog of root. Folders are checksummed by a bounded pool
// of workers; the first failure cancels the rest and is returned. The
// result is sorted by id, then name.
func (s *Scanner) Scan(ctx context.Context, root string) ([]Entry, error) {
	start := time.Now()
	paths, err := Candidates(root)
	if err != nil {
		return nil, err
	}
	s.Logger.Debug("scanning song folders", "path", root, "entries", len(paths))

	workers := s.Workers
	if workers < 1 {
		workers = DefaultWorkers
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	results := make(chan Entry, workers*chunkSize)

	go func() {
		for _, chunk := range chunks(paths, chunkSize) {
			if gctx.Err() != nil {
				break
			}
			g.Go(func() error {
				for _, path := range chunk {
					if err := gctx.Err(); err != nil {
						return err
					}
					entry, err := NewEntry(path)
					if err != nil {
						return err
					}
					select {
					case results <- entry:
					case <-gctx.Done():
						return gctx.Err()
					}
				}
				return nil
			})
		}
		// Wait result is read again below once results is drained.
		_ = g.Wait()
		close(results)
	}()

	entries := make([]Entry, 0, len(paths))
	for entry := range results {
		entries = append(entries, entry)
	}
	err = g.Wait()
	if err == nil {
		err = ctx.Err()
	}
	if err != nil {
		s.Logger.Warn("scan aborted", "path", root, "err", err)
		return nil, err
	}

	sort.Slice(entries, func(i, j int) bool {
		if entries[i].ID != entries[j].ID {
			return entries[i].ID < entries[j].ID
		}
		return entries[i].Name < entries[j].Name
	})
	metrics.ObserveScan(time.Since(start).Seconds())
	s.Logger.Info("catalog scanned", "path", root, "entries", len(entries))
	return entries, nil
}

func chunks(paths []string, size int) [][]string {
	var out [][]string
	for size < len(paths) {
		paths, out = paths[size:], append(out, paths[0:size:size])
	}
	if len(paths) > 0 {
		out = append(out, paths)
	}
	return out
}
