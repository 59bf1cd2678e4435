// Package archive packs song folders into .osz archives and bundles a set
// of them into a single zip for transfer.
package archive

import (
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/zip"

	apperrors "songshare/internal/errors"
)

// Ext is the extension of a packed song folder.
const Ext = ".osz"

// PackFolder writes dir as a zip to w. Paths are relative to dir and every
// subdirectory gets its own entry; dir itself does not.
func PackFolder(dir string, w io.Writer) error {
	zw := zip.NewWriter(w)
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if path == dir {
			return nil
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		info, err := os.Stat(path)
		if err != nil {
			return err
		}
		hdr, err := zip.FileInfoHeader(info)
		if err != nil {
			return err
		}
		hdr.Name = filepath.ToSlash(rel)
		if info.IsDir() {
			hdr.Name += "/"
			hdr.Method = zip.Store
			_, err = zw.CreateHeader(hdr)
			return err
		}
		if !info.Mode().IsRegular() {
			return nil
		}
		hdr.Method = zip.Deflate
		fw, err := zw.CreateHeader(hdr)
		if err != nil {
			return err
		}
		return copyFile(fw, path)
	})
	if err != nil {
		zw.Close()
		return apperrors.New(apperrors.ErrIO, "archive", "packing "+dir, err)
	}
	if err := zw.Close(); err != nil {
		return apperrors.New(apperrors.ErrIO, "archive", "finishing "+dir, err)
	}
	return nil
}

func copyFile(w io.Writer, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = io.Copy(w, f)
	return err
}
