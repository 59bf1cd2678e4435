// Package catalog reads song folders from disk and describes them as
// catalog entries that can be exchanged with a peer.
package catalog

import (
	"crypto/sha256"
	"encoding/hex"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	apperrors "songshare/internal/errors"
)

// ChecksumSuffix selects the files that contribute to a folder checksum.
const ChecksumSuffix = ".osu"

// "<id> <artist> - <title>"; the id may be empty.
var folderFormat = regexp.MustCompile(`^([0-9]*) (.+ - .+)$`)

// Entry is one song folder. Path is only known for local entries and is
// never sent to a peer.
type Entry struct {
	ID       uint64 `json:"id"`
	Name     string `json:"name"`
	Checksum string `json:"checksum"`
	Path     string `json:"-"`
}

// SameItem reports whether e and other name the same logical folder.
// The checksum is not part of the identity.
func (e Entry) SameItem(other Entry) bool {
	return e.ID == other.ID && e.Name == other.Name
}

// FolderName is the on-disk directory name of the entry.
func (e Entry) FolderName() string {
	if e.Path != "" {
		return filepath.Base(e.Path)
	}
	return strconv.FormatUint(e.ID, 10) + " " + e.Name
}

// IsFolder reports whether path is a directory named like a song folder.
func IsFolder(path string) bool {
	info, err := os.Stat(path)
	if err != nil || !info.IsDir() {
		return false
	}
	return folderFormat.MatchString(filepath.Base(path))
}

// ParseFolderName splits a folder name into its id and title. A missing or
// out of range id parses as 0.
func ParseFolderName(name string) (uint64, string, error) {
	groups := folderFormat.FindStringSubmatch(name)
	if groups == nil {
		return 0, "", apperrors.New(apperrors.ErrInvalidFolderName, "catalog", "unable to parse folder name: "+name, nil)
	}
	id, err := strconv.ParseUint(groups[1], 10, 64)
	if err != nil {
		id = 0
	}
	return id, groups[2], nil
}

// NewEntry builds the catalog entry for the song folder at path.
func NewEntry(path string) (Entry, error) {
	if !IsFolder(path) {
		return Entry{}, apperrors.New(apperrors.ErrInvalidPath, "catalog",
			"the path "+path+" does not correspond to a valid song folder", nil)
	}
	id, name, err := ParseFolderName(filepath.Base(path))
	if err != nil {
		return Entry{}, err
	}
	sum, err := Checksum(path)
	if err != nil {
		return Entry{}, err
	}
	return Entry{ID: id, Name: name, Checksum: sum, Path: path}, nil
}

// Checksum hashes the .osu files directly inside dir, in name order, and
// returns the uppercase hex SHA-256. Other files and subdirectories are
// ignored.
func Checksum(dir string) (string, error) {
	files, err := os.ReadDir(dir)
	if err != nil {
		return "", ioError("reading folder "+dir, err)
	}

	hasher := sha256.New()
	for _, f := range files {
		if f.IsDir() || !strings.HasSuffix(f.Name(), ChecksumSuffix) {
			continue
		}
		if err := hashFile(hasher, filepath.Join(dir, f.Name())); err != nil {
			return "", err
		}
	}
	return strings.ToUpper(hex.EncodeToString(hasher.Sum(nil))), nil
}

func hashFile(w io.Writer, path string) error {
	file, err := os.Open(path)
	if err != nil {
		return ioError("opening "+path, err)
	}
	defer file.Close()
	if _, err := io.Copy(w, file); err != nil {
		return ioError("reading "+path, err)
	}
	return nil
}

func ioError(msg string, err error) error {
	return apperrors.New(apperrors.ErrIO, "catalog", msg, err)
}
