// Package archive provides safe zip extraction.
//
// Extraction runs in two passes. The first pass validates every entry (path
// containment, entry type, entry count, declared sizes) before anything is
// written. The second pass writes entries while enforcing the size limit on
// the bytes actually decompressed. Any failure removes everything the
// extraction created, so callers observe either a complete extraction or the
// target directory as it was before the call.
package archive

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"
)

var (
	// ErrInvalidArchive indicates malformed input: empty, wrong magic bytes,
	// corrupted central directory, checksum mismatch, or an entry that
	// collides with an existing file.
	ErrInvalidArchive = errors.New("invalid archive")

	// ErrUnsafePath indicates an entry whose destination would fall outside
	// the target directory, or an entry type that could redirect writes
	// (symlinks, devices).
	ErrUnsafePath = errors.New("unsafe archive entry path")

	// ErrArchiveTooLarge indicates the archive exceeds the configured entry
	// count or total uncompressed size.
	ErrArchiveTooLarge = errors.New("archive exceeds extraction limits")
)

// Options bounds the resources a single extraction may consume.
type Options struct {
	// MaxEntries is the maximum number of entries (files and directories).
	MaxEntries int

	// MaxTotalSize is the maximum total uncompressed size in bytes.
	MaxTotalSize int64
}

// DefaultOptions are the limits used when none are configured.
var DefaultOptions = Options{
	MaxEntries:   10000,
	MaxTotalSize: 1 << 30, // 1GB
}

// Result summarizes a successful extraction.
type Result struct {
	Files      int
	Dirs       int
	TotalBytes int64
}

var (
	localFileMagic = []byte("PK\x03\x04")
	emptyZipMagic  = []byte("PK\x05\x06")
)

// Extractor unpacks zip archives into a directory.
type Extractor struct {
	opts Options
}

// NewExtractor returns an Extractor enforcing opts. Zero limits fall back to
// DefaultOptions.
func NewExtractor(opts Options) *Extractor {
	if opts.MaxEntries <= 0 {
		opts.MaxEntries = DefaultOptions.MaxEntries
	}
	if opts.MaxTotalSize <= 0 {
		opts.MaxTotalSize = DefaultOptions.MaxTotalSize
	}
	return &Extractor{opts: opts}
}

// ExtractFile extracts the zip archive at archivePath into targetDir.
func (e *Extractor) ExtractFile(ctx context.Context, archivePath, targetDir string) (*Result, error) {
	f, err := os.Open(archivePath)
	if err != nil {
		return nil, fmt.Errorf("open archive: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat archive: %w", err)
	}
	return e.Extract(ctx, f, info.Size(), targetDir)
}

// plannedEntry is a validated archive entry with its resolved destination.
type plannedEntry struct {
	file *zip.File
	dest string
	dir  bool
}

// Extract extracts the zip archive read from r (size bytes long) into
// targetDir, which must already exist.
func (e *Extractor) Extract(ctx context.Context, r io.ReaderAt, size int64, targetDir string) (*Result, error) {
	if err := checkMagic(r, size); err != nil {
		return nil, err
	}

	root, err := filepath.Abs(targetDir)
	if err != nil {
		return nil, fmt.Errorf("resolve target directory: %w", err)
	}
	if info, err := os.Stat(root); err != nil || !info.IsDir() {
		return nil, fmt.Errorf("target directory %q is not a directory", targetDir)
	}

	zr, err := zip.NewReader(r, size)
	if errors.Is(err, zip.ErrInsecurePath) {
		return nil, fmt.Errorf("%w: %w", ErrUnsafePath, err)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidArchive, err)
	}

	plan, err := e.plan(zr, root)
	if err != nil {
		return nil, err
	}

	w := &writer{root: root, budget: e.opts.MaxTotalSize}
	result, err := w.write(ctx, plan)
	if err != nil {
		w.rollback()
		return nil, err
	}
	return result, nil
}

// plan validates all entries before anything touches the disk.
func (e *Extractor) plan(zr *zip.Reader, root string) ([]plannedEntry, error) {
	if len(zr.File) > e.opts.MaxEntries {
		return nil, fmt.Errorf("%d entries, limit %d: %w", len(zr.File), e.opts.MaxEntries, ErrArchiveTooLarge)
	}

	plan := make([]plannedEntry, 0, len(zr.File))
	var declared uint64
	for _, f := range zr.File {
		dest, err := safeJoin(root, f.Name)
		if err != nil {
			return nil, err
		}

		mode := f.Mode()
		switch {
		case mode&fs.ModeSymlink != 0:
			return nil, fmt.Errorf("symlink entry %q: %w", f.Name, ErrUnsafePath)
		case mode.IsDir():
			plan = append(plan, plannedEntry{file: f, dest: dest, dir: true})
			continue
		case !mode.IsRegular():
			return nil, fmt.Errorf("entry %q has unsupported type %s: %w", f.Name, mode.Type(), ErrUnsafePath)
		}

		if dest == root {
			return nil, fmt.Errorf("file entry %q resolves to the target directory: %w", f.Name, ErrInvalidArchive)
		}

		declared += f.UncompressedSize64
		if declared > uint64(e.opts.MaxTotalSize) {
			return nil, fmt.Errorf("declared size exceeds %d bytes: %w", e.opts.MaxTotalSize, ErrArchiveTooLarge)
		}
		plan = append(plan, plannedEntry{file: f, dest: dest})
	}
	return plan, nil
}

// writer performs the write pass and remembers what it created.
type writer struct {
	root    string
	budget  int64
	written int64
	created []string
	result  Result
}

func (w *writer) write(ctx context.Context, plan []plannedEntry) (*Result, error) {
	for _, entry := range plan {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if entry.dir {
			if err := w.ensureDir(entry.dest); err != nil {
				return nil, fmt.Errorf("entry %q: %w", entry.file.Name, err)
			}
			continue
		}
		if err := w.ensureDir(filepath.Dir(entry.dest)); err != nil {
			return nil, fmt.Errorf("entry %q: %w", entry.file.Name, err)
		}
		if err := w.writeFile(entry); err != nil {
			return nil, err
		}
	}
	w.result.TotalBytes = w.written
	return &w.result, nil
}

// ensureDir creates dir and any missing parents below root, recording each
// directory it creates.
func (w *writer) ensureDir(dir string) error {
	if dir == w.root {
		return nil
	}
	info, err := os.Lstat(dir)
	switch {
	case err == nil && info.IsDir():
		return nil
	case err == nil:
		return fmt.Errorf("%w: %s collides with an existing file", ErrInvalidArchive, w.rel(dir))
	case !errors.Is(err, fs.ErrNotExist):
		return err
	}

	if err := w.ensureDir(filepath.Dir(dir)); err != nil {
		return err
	}
	if err := os.Mkdir(dir, 0o755); err != nil {
		return err
	}
	w.created = append(w.created, dir)
	w.result.Dirs++
	return nil
}

func (w *writer) writeFile(entry plannedEntry) error {
	src, err := entry.file.Open()
	if err != nil {
		return fmt.Errorf("%w: open entry %q: %w", ErrInvalidArchive, entry.file.Name, err)
	}
	defer src.Close()

	// O_EXCL: never overwrite the caller's files or an earlier duplicate entry.
	out, err := os.OpenFile(entry.dest, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if errors.Is(err, fs.ErrExist) {
		return fmt.Errorf("%w: entry %q collides with an existing file", ErrInvalidArchive, entry.file.Name)
	}
	if err != nil {
		return fmt.Errorf("create %s: %w", w.rel(entry.dest), err)
	}
	w.created = append(w.created, entry.dest)

	remaining := w.budget - w.written
	n, copyErr := io.Copy(out, io.LimitReader(src, remaining+1))
	closeErr := out.Close()
	w.written += n

	switch {
	case n > remaining:
		return fmt.Errorf("decompressed size exceeds %d bytes: %w", w.budget, ErrArchiveTooLarge)
	case copyErr != nil:
		return fmt.Errorf("%w: read entry %q: %w", ErrInvalidArchive, entry.file.Name, copyErr)
	case closeErr != nil:
		return fmt.Errorf("write %s: %w", w.rel(entry.dest), closeErr)
	}
	w.result.Files++
	return nil
}

// rollback removes created paths in reverse order so directories are empty
// by the time they are removed.
func (w *writer) rollback() {
	for i := len(w.created) - 1; i >= 0; i-- {
		_ = os.Remove(w.created[i])
	}
	w.created = nil
}

func (w *writer) rel(p string) string {
	if r, err := filepath.Rel(w.root, p); err == nil {
		return filepath.ToSlash(r)
	}
	return p
}

// checkMagic rejects input that cannot be a zip container before the central
// directory is parsed.
func checkMagic(r io.ReaderAt, size int64) error {
	if size <= 0 {
		return fmt.Errorf("%w: empty input", ErrInvalidArchive)
	}
	if size < int64(len(localFileMagic)) {
		return fmt.Errorf("%w: %d bytes is too short", ErrInvalidArchive, size)
	}
	head := make([]byte, len(localFileMagic))
	if _, err := r.ReadAt(head, 0); err != nil {
		return fmt.Errorf("%w: read header: %w", ErrInvalidArchive, err)
	}
	if !bytes.Equal(head, localFileMagic) && !bytes.Equal(head, emptyZipMagic) {
		return fmt.Errorf("%w: bad magic bytes", ErrInvalidArchive)
	}
	return nil
}

// safeJoin resolves an entry name against root, rejecting absolute names,
// any ".." segment, and anything whose result is not inside root.
func safeJoin(root, name string) (string, error) {
	slashed := strings.ReplaceAll(name, "\\", "/")
	if strings.TrimSpace(slashed) == "" || strings.ContainsRune(slashed, 0) {
		return "", fmt.Errorf("entry %q: %w", name, ErrUnsafePath)
	}
	if strings.HasPrefix(slashed, "/") || filepath.IsAbs(name) || hasVolume(slashed) {
		return "", fmt.Errorf("absolute entry %q: %w", name, ErrUnsafePath)
	}
	for _, seg := range strings.Split(slashed, "/") {
		if seg == ".." {
			return "", fmt.Errorf("traversing entry %q: %w", name, ErrUnsafePath)
		}
	}

	dest := filepath.Join(root, filepath.FromSlash(path.Clean(slashed)))
	rel, err := filepath.Rel(root, dest)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("entry %q escapes target: %w", name, ErrUnsafePath)
	}
	return dest, nil
}

func hasVolume(p string) bool {
	return len(p) >= 2 && p[1] == ':' && (p[0] >= 'a' && p[0] <= 'z' || p[0] >= 'A' && p[0] <= 'Z')
}
