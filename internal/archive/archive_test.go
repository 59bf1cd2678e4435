package archive

import (
	"bytes"
	"context"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"testing"

	"github.com/klauspost/compress/zip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"songshare/internal/catalog"
	apperrors "songshare/internal/errors"
)

const fixtureRoot = "../catalog/testdata/songs"

func scanFixture(t *testing.T) []catalog.Entry {
	t.Helper()
	entries, err := catalog.NewScanner(4, nil).Scan(context.Background(), fixtureRoot)
	require.NoError(t, err)
	require.Len(t, entries, 11)
	return entries
}

// folderFiles maps slash paths below dir to their contents; directories map to nil.
func folderFiles(t *testing.T, dir string) map[string][]byte {
	t.Helper()
	files := map[string][]byte{}
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		require.NoError(t, err)
		if path == dir {
			return nil
		}
		rel, _ := filepath.Rel(dir, path)
		if d.IsDir() {
			files[filepath.ToSlash(rel)+"/"] = nil
			return nil
		}
		data, err := os.ReadFile(path)
		require.NoError(t, err)
		files[filepath.ToSlash(rel)] = data
		return nil
	})
	require.NoError(t, err)
	return files
}

func zipFiles(t *testing.T, data []byte) map[string][]byte {
	t.Helper()
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	require.NoError(t, err)
	files := map[string][]byte{}
	for _, f := range zr.File {
		if f.FileInfo().IsDir() {
			files[f.Name] = nil
			continue
		}
		rc, err := f.Open()
		require.NoError(t, err)
		body, err := io.ReadAll(rc)
		rc.Close()
		require.NoError(t, err)
		files[f.Name] = body
	}
	return files
}

func TestPackFolderRoundTrip(t *testing.T) {
	dir := filepath.Join(fixtureRoot, "8299 Wiklund - Whip the Blip")
	var buf bytes.Buffer
	require.NoError(t, PackFolder(dir, &buf))

	got := zipFiles(t, buf.Bytes())
	assert.Equal(t, folderFiles(t, dir), got)
	assert.Contains(t, got, "sb/")
	assert.Contains(t, got, "sb/intro.osb")
}

func TestPackFolderMissing(t *testing.T) {
	err := PackFolder(filepath.Join(t.TempDir(), "gone"), io.Discard)
	assert.True(t, apperrors.IsType(err, apperrors.ErrIO))
}

func TestBuildBundle(t *testing.T) {
	entries := scanFixture(t)
	b := NewBuilder(4, t.TempDir(), nil)

	bundle, err := b.Build(context.Background(), entries)
	require.NoError(t, err)
	defer bundle.Close()

	pos, err := bundle.Seek(0, io.SeekCurrent)
	require.NoError(t, err)
	assert.Zero(t, pos, "bundle must be rewound")

	data, err := io.ReadAll(bundle)
	require.NoError(t, err)
	assert.EqualValues(t, bundle.Size, len(data))

	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	require.NoError(t, err)
	require.Len(t, zr.File, len(entries))
	for i, f := range zr.File {
		assert.Equal(t, filepath.Base(entries[i].Path)+Ext, f.Name)
	}

	nested := zipFiles(t, data)[filepath.Base(entries[4].Path)+Ext]
	assert.Equal(t, folderFiles(t, entries[4].Path), zipFiles(t, nested))
}

func TestBuildIsDeterministic(t *testing.T) {
	entries := scanFixture(t)[:3]

	sizes := map[int64]bool{}
	var first []byte
	for _, workers := range []int{1, 2, 4} {
		bundle, err := NewBuilder(workers, t.TempDir(), nil).Build(context.Background(), entries)
		require.NoError(t, err)
		data, err := io.ReadAll(bundle)
		require.NoError(t, err)
		require.NoError(t, bundle.Close())
		sizes[bundle.Size] = true
		if first == nil {
			first = data
		} else {
			assert.Equal(t, first, data)
		}
	}
	assert.Len(t, sizes, 1)
}

func TestBuildRemovesTempFiles(t *testing.T) {
	tmp := t.TempDir()
	entries := scanFixture(t)

	bundle, err := NewBuilder(4, tmp, nil).Build(context.Background(), entries)
	require.NoError(t, err)

	names := dirNames(t, tmp)
	assert.Equal(t, []string{filepath.Base(bundle.Name())}, names)

	require.NoError(t, bundle.Close())
	assert.Empty(t, dirNames(t, tmp))
}

func TestBuildFailsOnMissingFolder(t *testing.T) {
	tmp := t.TempDir()
	entries := scanFixture(t)
	entries[6].Path = filepath.Join(t.TempDir(), "8284 Gone - Away")

	bundle, err := NewBuilder(4, tmp, nil).Build(context.Background(), entries)
	assert.Nil(t, bundle)
	assert.True(t, apperrors.IsType(err, apperrors.ErrIO))
	assert.Empty(t, dirNames(t, tmp), "no partial output may be left behind")
}

func TestBuildRejectsRemoteEntries(t *testing.T) {
	_, err := NewBuilder(4, t.TempDir(), nil).Build(context.Background(), []catalog.Entry{{ID: 1, Name: "A - B"}})
	assert.True(t, apperrors.IsType(err, apperrors.ErrInvalidPath))
}

func TestBuildEmpty(t *testing.T) {
	bundle, err := NewBuilder(4, t.TempDir(), nil).Build(context.Background(), nil)
	require.NoError(t, err)
	defer bundle.Close()

	data, err := io.ReadAll(bundle)
	require.NoError(t, err)
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	require.NoError(t, err)
	assert.Empty(t, zr.File)
}

func dirNames(t *testing.T, dir string) []string {
	t.Helper()
	ents, err := os.ReadDir(dir)
	require.NoError(t, err)
	var names []string
	for _, e := range ents {
		names = append(names, e.Name())
	}
	sort.Strings(names)
	return names
}
