// Package fs implements the agent's sandboxed file storage: every operation
// is scoped to one root directory and every supplied filename is sanitized
// before it ever reaches the filesystem.
package fs

import (
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/otusfleet/fleetctl/internal/apperr"
)

// allowedName matches the closed character set permitted in a
// filename once directory components have been stripped.
var allowedName = regexp.MustCompile(`^[A-Za-z0-9._-]+$`)

// Entry describes one file or directory inside the storage root.
type Entry struct {
	Name     string    `json:"name"`
	IsDir    bool      `json:"is_dir"`
	Size     int64     `json:"size"`
	Modified time.Time `json:"modified"`
}

// Store scopes every operation to Root; Root must already exist.
type Store struct {
	Root string
}

// NewStore creates the storage root if it does not already exist.
func NewStore(root string) (*Store, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, err
	}
	return &Store{Root: root}, nil
}

// Sanitize strips any directory components from name and rejects it if
// what remains contains anything outside [A-Za-z0-9._-] or starts with a
// dot. It never returns a name containing a path
// separator. Any ".." path component is rejected outright rather than
// stripped — the invariant is that a traversal attempt must fail,
// not silently resolve to the basename it happens to share with a
// legitimate file.
func Sanitize(name string) (string, error) {
	for _, part := range strings.FieldsFunc(name, isPathSeparator) {
		if part == ".." {
			return "", apperr.BadRequestf("filename %q must not contain a parent reference", name)
		}
	}

	base := filepath.Base(name)
	if base == "." || base == ".." || base == string(filepath.Separator) {
		return "", apperr.BadRequestf("invalid filename %q", name)
	}
	if strings.HasPrefix(base, ".") {
		return "", apperr.BadRequestf("filename %q must not begin with a dot", name)
	}
	if !allowedName.MatchString(base) {
		return "", apperr.BadRequestf("filename %q contains disallowed characters", name)
	}
	return base, nil
}

func isPathSeparator(r rune) bool {
	return r == '/' || r == '\\'
}

func (s *Store) resolve(name string) (string, error) {
	clean, err := Sanitize(name)
	if err != nil {
		return "", err
	}
	return filepath.Join(s.Root, clean), nil
}

// List returns every entry directly under the storage root.
func (s *Store) List() ([]Entry, error) {
	dirEntries, err := os.ReadDir(s.Root)
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, "listing storage directory", err)
	}

	entries := make([]Entry, 0, len(dirEntries))
	for _, de := range dirEntries {
		info, err := de.Info()
		if err != nil {
			continue
		}
		entries = append(entries, Entry{
			Name:     de.Name(),
			IsDir:    de.IsDir(),
			Size:     info.Size(),
			Modified: info.ModTime(),
		})
	}
	return entries, nil
}

// Read returns the verbatim contents of name.
func (s *Store) Read(name string) ([]byte, error) {
	path, err := s.resolve(name)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, apperr.NotFoundf("file %q not found", name)
		}
		return nil, apperr.Wrap(apperr.Internal, "reading file", err)
	}
	return data, nil
}

// Write creates or overwrites name with content.
func (s *Store) Write(name string, content []byte) error {
	path, err := s.resolve(name)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, content, 0o644); err != nil {
		return apperr.Wrap(apperr.Internal, "writing file", err)
	}
	return nil
}

// Delete removes name from the storage root.
func (s *Store) Delete(name string) error {
	path, err := s.resolve(name)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil {
		if os.IsNotExist(err) {
			return apperr.NotFoundf("file %q not found", name)
		}
		return apperr.Wrap(apperr.Internal, "deleting file", err)
	}
	return nil
}

// Rename moves oldName to newName, both resolved and sanitized within the
// storage root.
func (s *Store) Rename(oldName, newName string) error {
	oldPath, err := s.resolve(oldName)
	if err != nil {
		return err
	}
	newPath, err := s.resolve(newName)
	if err != nil {
		return err
	}
	if err := os.Rename(oldPath, newPath); err != nil {
		if os.IsNotExist(err) {
			return apperr.NotFoundf("file %q not found", oldName)
		}
		return apperr.Wrap(apperr.Internal, "renaming file", err)
	}
	return nil
}

// Path returns the resolved, sandboxed absolute path for name — used by
// callers (e.g. auto-install) that need to hand a path to an external
// command rather than read/write bytes through the store directly.
func (s *Store) Path(name string) (string, error) {
	return s.resolve(name)
}
