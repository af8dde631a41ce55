// Package storage manages the content root that holds uploaded game builds.
//
// Every game owns exactly one directory directly under the content root. The
// directory name is a generated storage id and is never derived from user
// input, so callers must go through Resolve or Path to reach anything on disk.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

var (
	// ErrNotFound indicates no directory exists for the storage id.
	ErrNotFound = errors.New("storage entry not found")

	// ErrInvalidID indicates the value is not a generated storage id.
	ErrInvalidID = errors.New("invalid storage id")

	// ErrInvalidPath indicates a relative path that would leave the game directory.
	ErrInvalidPath = errors.New("invalid relative path")

	// ErrStorage wraps filesystem failures (permissions, disk full).
	ErrStorage = errors.New("storage failure")
)

// idLength is the length of a storage id: 128 bits rendered as lowercase hex.
const idLength = 32

// Store is the on-disk archive store rooted at a single content directory.
type Store struct {
	root      string
	urlPrefix string
}

// New creates the content root if needed and returns a Store serving it
// under urlPrefix (for example "/GameBuilds").
func New(root, urlPrefix string) (*Store, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve content root %q: %w", root, err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("create content root %q: %w: %w", abs, ErrStorage, err)
	}
	return &Store{
		root:      abs,
		urlPrefix: "/" + strings.Trim(urlPrefix, "/"),
	}, nil
}

// Root returns the absolute content root.
func (s *Store) Root() string {
	return s.root
}

// URLPrefix returns the path prefix the content root is served under.
func (s *Store) URLPrefix() string {
	return s.urlPrefix
}

// Allocate generates a fresh storage id and creates its empty directory.
func (s *Store) Allocate(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	id, err := newID()
	if err != nil {
		return "", fmt.Errorf("generate storage id: %w: %w", ErrStorage, err)
	}

	// Mkdir (not MkdirAll) so an id collision fails instead of sharing a directory.
	if err := os.Mkdir(filepath.Join(s.root, id), 0o755); err != nil {
		return "", fmt.Errorf("create directory for %s: %w: %w", id, ErrStorage, err)
	}
	return id, nil
}

// Resolve returns the directory of a previously allocated id.
func (s *Store) Resolve(id string) (string, error) {
	if err := ValidateID(id); err != nil {
		return "", err
	}

	dir := filepath.Join(s.root, id)
	info, err := os.Lstat(dir)
	if errors.Is(err, fs.ErrNotExist) {
		return "", fmt.Errorf("resolve %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("stat %s: %w: %w", id, ErrStorage, err)
	}
	if !info.IsDir() {
		return "", fmt.Errorf("resolve %s: %w", id, ErrNotFound)
	}
	return dir, nil
}

// Path returns the location of relativePath inside the directory of id.
func (s *Store) Path(id, relativePath string) (string, error) {
	dir, err := s.Resolve(id)
	if err != nil {
		return "", err
	}
	clean, err := CleanRelativePath(relativePath)
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, filepath.FromSlash(clean)), nil
}

// Remove recursively deletes the directory of id. Removing an id that has no
// directory is not an error.
func (s *Store) Remove(id string) error {
	if err := ValidateID(id); err != nil {
		return err
	}
	if err := os.RemoveAll(filepath.Join(s.root, id)); err != nil {
		return fmt.Errorf("remove %s: %w: %w", id, ErrStorage, err)
	}
	return nil
}

// URL composes the externally servable URL of relativePath inside the
// directory of id. An empty baseURL yields a host-relative URL.
func (s *Store) URL(baseURL, id, relativePath string) (string, error) {
	if err := ValidateID(id); err != nil {
		return "", err
	}
	clean, err := CleanRelativePath(relativePath)
	if err != nil {
		return "", err
	}

	segments := strings.Split(clean, "/")
	for i, seg := range segments {
		segments[i] = url.PathEscape(seg)
	}
	p := path.Join(s.urlPrefix, id) + "/" + strings.Join(segments, "/")

	if baseURL == "" {
		return p, nil
	}
	base, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil || base.Scheme == "" || base.Host == "" {
		return "", fmt.Errorf("invalid base URL %q", baseURL)
	}
	return base.String() + p, nil
}

// ValidateID reports whether id has the exact shape of a generated storage id.
func ValidateID(id string) error {
	if len(id) != idLength {
		return fmt.Errorf("%q: %w", id, ErrInvalidID)
	}
	for _, r := range id {
		if !(r >= '0' && r <= '9' || r >= 'a' && r <= 'f') {
			return fmt.Errorf("%q: %w", id, ErrInvalidID)
		}
	}
	if _, err := uuid.Parse(id); err != nil {
		return fmt.Errorf("%q: %w", id, ErrInvalidID)
	}
	return nil
}

// CleanRelativePath normalizes a slash-separated path and rejects anything
// that is empty, absolute, or contains a ".." segment.
func CleanRelativePath(p string) (string, error) {
	slashed := strings.ReplaceAll(p, "\\", "/")
	if strings.TrimSpace(slashed) == "" || strings.ContainsRune(slashed, 0) {
		return "", fmt.Errorf("%q: %w", p, ErrInvalidPath)
	}
	if strings.HasPrefix(slashed, "/") || filepath.IsAbs(p) || hasVolume(slashed) {
		return "", fmt.Errorf("%q is absolute: %w", p, ErrInvalidPath)
	}
	for _, seg := range strings.Split(slashed, "/") {
		if seg == ".." {
			return "", fmt.Errorf("%q escapes its directory: %w", p, ErrInvalidPath)
		}
	}
	clean := path.Clean(slashed)
	if clean == "." {
		return "", fmt.Errorf("%q: %w", p, ErrInvalidPath)
	}
	return clean, nil
}

func hasVolume(p string) bool {
	return len(p) >= 2 && p[1] == ':' && (p[0] >= 'a' && p[0] <= 'z' || p[0] >= 'A' && p[0] <= 'Z')
}

func newID() (string, error) {
	u, err := uuid.NewRandom()
	if err != nil {
		return "", err
	}
	return strings.ReplaceAll(u.String(), "-", ""), nil
}
