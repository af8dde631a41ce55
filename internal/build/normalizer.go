// Package build prepares an extracted web game build for static serving.
//
// Normalization runs three steps in order: nested Build folders are
// flattened, the entry page is located, and relative asset references inside
// the entry page are rewritten so the build works from its own subdirectory.
package build

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// EntryPageName is the file served as a build's root document.
const EntryPageName = "index.html"

const buildDirName = "Build"

// ErrEntryPageNotFound indicates the build contains no entry page.
var ErrEntryPageNotFound = errors.New("entry page not found")

// assetPrefixes are the folder references Unity WebGL templates emit
// relative to the page.
var assetPrefixes = []string{"Build/", "TemplateData/", "StreamingAssets/"}

// Result describes a normalized build.
type Result struct {
	// EntryPage is the slash-separated path of the entry page relative to the
	// build root.
	EntryPage string

	// FlattenedDirs counts the nested Build folders merged into their parent.
	FlattenedDirs int
}

// Normalizer runs the normalization steps on a build directory.
type Normalizer struct{}

// NewNormalizer returns a Normalizer.
func NewNormalizer() *Normalizer {
	return &Normalizer{}
}

// Normalize flattens nested Build folders under root, locates the entry
// page and rewrites its asset references.
func (n *Normalizer) Normalize(ctx context.Context, root string) (*Result, error) {
	flattened, err := FlattenNestedBuildFolders(root)
	if err != nil {
		return nil, fmt.Errorf("flatten build folders: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	entry, err := LocateEntryPage(root)
	if err != nil {
		return nil, err
	}

	if err := RewriteAssetReferences(entry); err != nil {
		return nil, fmt.Errorf("rewrite entry page: %w", err)
	}

	rel, err := filepath.Rel(root, entry)
	if err != nil {
		return nil, err
	}
	return &Result{EntryPage: filepath.ToSlash(rel), FlattenedDirs: flattened}, nil
}

// LocateEntryPage returns the path of the entry page under root. When more
// than one file is named index.html, the shallowest wins and equal depths
// are resolved by lexicographic order of the relative path.
func LocateEntryPage(root string) (string, error) {
	var best string
	bestDepth := -1

	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.Name() != EntryPageName || !d.Type().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(root, p)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		depth := strings.Count(rel, "/")
		if bestDepth < 0 || depth < bestDepth || depth == bestDepth && rel < best {
			best, bestDepth = rel, depth
		}
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("search entry page: %w", err)
	}
	if bestDepth < 0 {
		return "", fmt.Errorf("no %s under build root: %w", EntryPageName, ErrEntryPageNotFound)
	}
	return filepath.Join(root, filepath.FromSlash(best)), nil
}

// FlattenNestedBuildFolders merges every Build/Build directory under root
// into its parent Build directory. Inner entries replace outer entries of the
// same name. Folders are processed deepest first so arbitrarily deep nesting
// collapses into one level. It returns the number of folders merged.
func FlattenNestedBuildFolders(root string) (int, error) {
	var dirs []string
	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if p != root && d.IsDir() && d.Name() == buildDirName {
			dirs = append(dirs, p)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	sort.SliceStable(dirs, func(i, j int) bool {
		di, dj := strings.Count(dirs[i], string(filepath.Separator)), strings.Count(dirs[j], string(filepath.Separator))
		if di != dj {
			return di > dj
		}
		return dirs[i] < dirs[j]
	})

	merged := 0
	for _, outer := range dirs {
		inner := filepath.Join(outer, buildDirName)
		info, err := os.Lstat(inner)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return merged, err
		}
		if !info.IsDir() {
			continue
		}

		// Move the inner folder aside first so an inner entry that is itself
		// named Build can take its place.
		staging, err := os.MkdirTemp(outer, ".flatten-")
		if err != nil {
			return merged, err
		}
		moved := filepath.Join(staging, buildDirName)
		if err := os.Rename(inner, moved); err != nil {
			return merged, err
		}
		if err := mergeInto(moved, outer); err != nil {
			return merged, err
		}
		if err := os.RemoveAll(staging); err != nil {
			return merged, err
		}
		merged++
	}
	return merged, nil
}

// mergeInto moves every entry of src into dst, replacing existing entries
// and merging directories recursively. src is removed afterwards.
func mergeInto(src, dst string) error {
	entries, err := os.ReadDir(src)
	if err != nil {
		return err
	}
	for _, e := range entries {
		from := filepath.Join(src, e.Name())
		to := filepath.Join(dst, e.Name())

		existing, err := os.Lstat(to)
		switch {
		case errors.Is(err, fs.ErrNotExist):
		case err != nil:
			return err
		case e.IsDir() && existing.IsDir():
			if err := mergeInto(from, to); err != nil {
				return err
			}
			continue
		default:
			if err := os.RemoveAll(to); err != nil {
				return err
			}
		}

		if err := os.Rename(from, to); err != nil {
			return err
		}
	}
	return os.Remove(src)
}

// RewriteAssetReferences rewrites the asset references of the page at path
// in place. The file is replaced atomically and left untouched when nothing
// changes.
func RewriteAssetReferences(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	rewritten := RewriteAssetText(string(data))
	if rewritten == string(data) {
		return nil
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".index-*.tmp")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.WriteString(rewritten); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Chmod(info.Mode().Perm()); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

// RewriteAssetText prefixes every Build/, TemplateData/ and StreamingAssets/
// reference with "./". Occurrences already preceded by "./" are left alone,
// so applying it twice gives the same text as applying it once.
func RewriteAssetText(s string) string {
	for _, prefix := range assetPrefixes {
		s = prefixRelative(s, prefix)
	}
	return s
}

func prefixRelative(s, token string) string {
	if !strings.Contains(s, token) {
		return s
	}

	var b strings.Builder
	b.Grow(len(s) + 16)
	start := 0
	for {
		i := strings.Index(s[start:], token)
		if i < 0 {
			break
		}
		i += start
		b.WriteString(s[start:i])
		if !strings.HasSuffix(s[:i], "./") {
			b.WriteString("./")
		}
		b.WriteString(token)
		start = i + len(token)
	}
	b.WriteString(s[start:])
	return b.String()
}
