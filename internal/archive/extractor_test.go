package archive

import (
	"archive/zip"
	"bytes"
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type zipEntry struct {
	name string
	body string
	mode fs.FileMode
}

func buildZip(t *testing.T, entries ...zipEntry) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, e := range entries {
		hdr := &zip.FileHeader{Name: e.name, Method: zip.Deflate}
		if e.mode != 0 {
			hdr.SetMode(e.mode)
		}
		w, err := zw.CreateHeader(hdr)
		require.NoError(t, err)
		if e.body != "" {
			_, err = w.Write([]byte(e.body))
			require.NoError(t, err)
		}
	}
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

func extract(t *testing.T, e *Extractor, data []byte, target string) (*Result, error) {
	t.Helper()
	return e.Extract(context.Background(), bytes.NewReader(data), int64(len(data)), target)
}

func listTree(t *testing.T, root string) []string {
	t.Helper()
	var out []string
	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if p == root {
			return nil
		}
		rel, err := filepath.Rel(root, p)
		if err != nil {
			return err
		}
		out = append(out, filepath.ToSlash(rel))
		return nil
	})
	require.NoError(t, err)
	return out
}

func TestExtract_WritesAllEntries(t *testing.T) {
	target := t.TempDir()
	data := buildZip(t,
		zipEntry{name: "index.html", body: "<html></html>"},
		zipEntry{name: "Build/"},
		zipEntry{name: "Build/game.wasm", body: "wasm"},
		zipEntry{name: "TemplateData/style.css", body: "body{}"},
	)

	res, err := extract(t, NewExtractor(DefaultOptions), data, target)
	require.NoError(t, err)

	assert.Equal(t, 3, res.Files)
	assert.Equal(t, 2, res.Dirs)
	assert.Equal(t, int64(len("<html></html>")+len("wasm")+len("body{}")), res.TotalBytes)

	got, err := os.ReadFile(filepath.Join(target, "Build", "game.wasm"))
	require.NoError(t, err)
	assert.Equal(t, "wasm", string(got))
}

func TestExtract_ZipSlipRejected(t *testing.T) {
	parent := t.TempDir()
	target := filepath.Join(parent, "game")
	require.NoError(t, os.Mkdir(target, 0o755))

	data := buildZip(t,
		zipEntry{name: "index.html", body: "ok"},
		zipEntry{name: "../../evil.txt", body: "pwned"},
	)

	_, err := extract(t, NewExtractor(DefaultOptions), data, target)
	require.ErrorIs(t, err, ErrUnsafePath)

	assert.Empty(t, listTree(t, target), "nothing may be written when any entry is unsafe")
	assert.Equal(t, []string{"game"}, listTree(t, parent))
	_, statErr := os.Stat(filepath.Join(filepath.Dir(parent), "evil.txt"))
	assert.ErrorIs(t, statErr, fs.ErrNotExist)
}

func TestExtract_UnsafeNames(t *testing.T) {
	names := []string{
		"/etc/passwd",
		"..\\..\\evil.txt",
		"a/../../evil.txt",
		"C:/Windows/evil.txt",
		"..",
	}
	for _, name := range names {
		t.Run(name, func(t *testing.T) {
			target := t.TempDir()
			data := buildZip(t, zipEntry{name: name, body: "x"})
			_, err := extract(t, NewExtractor(DefaultOptions), data, target)
			assert.ErrorIs(t, err, ErrUnsafePath)
			assert.Empty(t, listTree(t, target))
		})
	}
}

func TestExtract_SymlinkRejected(t *testing.T) {
	target := t.TempDir()
	data := buildZip(t,
		zipEntry{name: "index.html", body: "ok"},
		zipEntry{name: "link", body: "/etc/passwd", mode: fs.ModeSymlink | 0o777},
	)

	_, err := extract(t, NewExtractor(DefaultOptions), data, target)
	assert.ErrorIs(t, err, ErrUnsafePath)
	assert.Empty(t, listTree(t, target))
}

func TestExtract_InvalidInput(t *testing.T) {
	tests := []struct {
		name string
		data []byte
	}{
		{"empty", nil},
		{"too short", []byte("PK")},
		{"bad magic", []byte("definitely not a zip archive")},
		{"truncated central directory", buildZip(t, zipEntry{name: "a.txt", body: "hello"})[:40]},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			target := t.TempDir()
			_, err := extract(t, NewExtractor(DefaultOptions), tt.data, target)
			assert.ErrorIs(t, err, ErrInvalidArchive)
			assert.Empty(t, listTree(t, target))
		})
	}
}

func TestExtract_EntryLimit(t *testing.T) {
	target := t.TempDir()
	data := buildZip(t,
		zipEntry{name: "a.txt", body: "a"},
		zipEntry{name: "b.txt", body: "b"},
		zipEntry{name: "c.txt", body: "c"},
	)

	_, err := extract(t, NewExtractor(Options{MaxEntries: 2, MaxTotalSize: 1 << 20}), data, target)
	assert.ErrorIs(t, err, ErrArchiveTooLarge)
	assert.Empty(t, listTree(t, target))
}

func TestExtract_SizeLimit(t *testing.T) {
	target := t.TempDir()
	data := buildZip(t,
		zipEntry{name: "small.txt", body: "tiny"},
		zipEntry{name: "dir/big.bin", body: strings.Repeat("x", 4096)},
	)

	_, err := extract(t, NewExtractor(Options{MaxEntries: 10, MaxTotalSize: 1024}), data, target)
	assert.ErrorIs(t, err, ErrArchiveTooLarge)
	assert.Empty(t, listTree(t, target))
}

func TestExtract_PreservesExistingFilesOnFailure(t *testing.T) {
	target := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(target, "upload.zip"), []byte("raw"), 0o644))

	data := buildZip(t,
		zipEntry{name: "Build/a.js", body: "a"},
		zipEntry{name: "upload.zip", body: "clobber"},
	)

	_, err := extract(t, NewExtractor(DefaultOptions), data, target)
	require.ErrorIs(t, err, ErrInvalidArchive)

	assert.Equal(t, []string{"upload.zip"}, listTree(t, target))
	got, err := os.ReadFile(filepath.Join(target, "upload.zip"))
	require.NoError(t, err)
	assert.Equal(t, "raw", string(got))
}

func TestExtract_DuplicateEntryRejected(t *testing.T) {
	target := t.TempDir()
	data := buildZip(t,
		zipEntry{name: "index.html", body: "one"},
		zipEntry{name: "index.html", body: "two"},
	)

	_, err := extract(t, NewExtractor(DefaultOptions), data, target)
	assert.ErrorIs(t, err, ErrInvalidArchive)
	assert.Empty(t, listTree(t, target))
}

func TestExtract_CanceledContext(t *testing.T) {
	target := t.TempDir()
	data := buildZip(t, zipEntry{name: "index.html", body: "ok"})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewExtractor(DefaultOptions).Extract(ctx, bytes.NewReader(data), int64(len(data)), target)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, listTree(t, target))
}

func TestExtractFile(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "out")
	require.NoError(t, os.Mkdir(target, 0o755))
	archivePath := filepath.Join(dir, "build.zip")
	require.NoError(t, os.WriteFile(archivePath, buildZip(t, zipEntry{name: "index.html", body: "ok"}), 0o644))

	res, err := NewExtractor(Options{}).ExtractFile(context.Background(), archivePath, target)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Files)
	assert.FileExists(t, filepath.Join(target, "index.html"))
}
