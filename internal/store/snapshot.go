// Package store holds the catalog snapshots shared between the control
// surface and the connection tasks.
package store

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"songshare/internal/catalog"
	apperrors "songshare/internal/errors"
)

// Snapshot is a catalog that is only ever replaced as a whole.
type Snapshot struct {
	mu      sync.RWMutex
	entries []catalog.Entry
	updated time.Time
}

func NewSnapshot() *Snapshot {
	return &Snapshot{}
}

func (s *Snapshot) Replace(entries []catalog.Entry) {
	cp := make([]catalog.Entry, len(entries))
	copy(cp, entries)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = cp
	s.updated = time.Now()
}

// Entries returns a copy of the current catalog.
func (s *Snapshot) Entries() []catalog.Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cp := make([]catalog.Entry, len(s.entries))
	copy(cp, s.entries)
	return cp
}

func (s *Snapshot) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// Updated is the time of the last Replace, zero if never replaced.
func (s *Snapshot) Updated() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.updated
}

func (s *Snapshot) Lookup(id uint64, name string) (catalog.Entry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	want := catalog.Entry{ID: id, Name: name}
	for _, e := range s.entries {
		if e.SameItem(want) {
			return e, true
		}
	}
	return catalog.Entry{}, false
}

// ByID returns every entry with the given id.
func (s *Snapshot) ByID(id uint64) []catalog.Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []catalog.Entry
	for _, e := range s.entries {
		if e.ID == id {
			out = append(out, e)
		}
	}
	return out
}

// Resolve maps requested identities onto snapshot entries, keeping request
// order. It fails as a whole if any request is unknown.
func (s *Snapshot) Resolve(requests []catalog.Entry) ([]catalog.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	resolved := make([]catalog.Entry, 0, len(requests))
	var unknown []string
	for _, req := range requests {
		found := false
		for _, e := range s.entries {
			if e.SameItem(req) {
				resolved = append(resolved, e)
				found = true
				break
			}
		}
		if !found {
			unknown = append(unknown, fmt.Sprintf("%d %s", req.ID, req.Name))
		}
	}
	if len(unknown) > 0 {
		return nil, apperrors.New(apperrors.ErrUnresolvedEntry, "store",
			"requested songs not found: "+strings.Join(unknown, ", "), nil)
	}
	return resolved, nil
}

// Catalogs pairs the local and remote snapshots of one process.
type Catalogs struct {
	Local  *Snapshot
	Remote *Snapshot
}

func NewCatalogs() *Catalogs {
	return &Catalogs{Local: NewSnapshot(), Remote: NewSnapshot()}
}
