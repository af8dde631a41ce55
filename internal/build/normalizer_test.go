package build

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFiles(t *testing.T, root string, files map[string]string) {
	t.Helper()
	for name, body := range files {
		p := filepath.Join(root, filepath.FromSlash(name))
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
		require.NoError(t, os.WriteFile(p, []byte(body), 0o644))
	}
}

func readFile(t *testing.T, p string) string {
	t.Helper()
	b, err := os.ReadFile(p)
	require.NoError(t, err)
	return string(b)
}

func TestFlattenNestedBuildFolders_Union(t *testing.T) {
	root := t.TempDir()
	writeFiles(t, root, map[string]string{
		"index.html":               "page",
		"Build/outer.data":         "outer",
		"Build/shared.js":          "outer-version",
		"Build/Build/inner.wasm":   "inner",
		"Build/Build/shared.js":    "inner-version",
		"Build/Build/sub/deep.txt": "deep",
	})

	n, err := FlattenNestedBuildFolders(root)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	assert.NoDirExists(t, filepath.Join(root, "Build", "Build"))
	assert.Equal(t, "outer", readFile(t, filepath.Join(root, "Build", "outer.data")))
	assert.Equal(t, "inner", readFile(t, filepath.Join(root, "Build", "inner.wasm")))
	assert.Equal(t, "inner-version", readFile(t, filepath.Join(root, "Build", "shared.js")))
	assert.Equal(t, "deep", readFile(t, filepath.Join(root, "Build", "sub", "deep.txt")))

	entries, err := os.ReadDir(filepath.Join(root, "Build"))
	require.NoError(t, err)
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	assert.Equal(t, []string{"inner.wasm", "outer.data", "shared.js", "sub"}, names)
}

func TestFlattenNestedBuildFolders_DeepNesting(t *testing.T) {
	root := t.TempDir()
	writeFiles(t, root, map[string]string{
		"MyGame/Build/Build/Build/a.js": "a",
		"MyGame/Build/Build/b.js":       "b",
		"Other/Build/c.js":              "c",
	})

	n, err := FlattenNestedBuildFolders(root)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	assert.Equal(t, "a", readFile(t, filepath.Join(root, "MyGame", "Build", "a.js")))
	assert.Equal(t, "b", readFile(t, filepath.Join(root, "MyGame", "Build", "b.js")))
	assert.Equal(t, "c", readFile(t, filepath.Join(root, "Other", "Build", "c.js")))
	assert.NoDirExists(t, filepath.Join(root, "MyGame", "Build", "Build"))
}

func TestFlattenNestedBuildFolders_InnerFileNamedBuild(t *testing.T) {
	root := t.TempDir()
	writeFiles(t, root, map[string]string{
		"Build/Build/Build": "a file, not a folder",
	})

	_, err := FlattenNestedBuildFolders(root)
	require.NoError(t, err)
	assert.Equal(t, "a file, not a folder", readFile(t, filepath.Join(root, "Build", "Build")))
}

func TestFlattenNestedBuildFolders_NothingToDo(t *testing.T) {
	root := t.TempDir()
	writeFiles(t, root, map[string]string{"Build/a.js": "a", "index.html": "x"})

	n, err := FlattenNestedBuildFolders(root)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Equal(t, "a", readFile(t, filepath.Join(root, "Build", "a.js")))
}

func TestLocateEntryPage_TieBreak(t *testing.T) {
	root := t.TempDir()
	writeFiles(t, root, map[string]string{
		"z/index.html":            "z",
		"a/index.html":            "a",
		"a/nested/index.html":     "nested",
		"TemplateData/index.html": "template",
		"Index.html":              "wrong case",
	})

	got, err := LocateEntryPage(root)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, "TemplateData", "index.html"), got)

	writeFiles(t, root, map[string]string{"index.html": "root"})
	got, err = LocateEntryPage(root)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, "index.html"), got)
}

func TestLocateEntryPage_NotFound(t *testing.T) {
	root := t.TempDir()
	writeFiles(t, root, map[string]string{"Build/a.js": "a", "INDEX.HTML": "no"})

	_, err := LocateEntryPage(root)
	assert.ErrorIs(t, err, ErrEntryPageNotFound)
}

func TestRewriteAssetText(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{`<script src="Build/game.loader.js">`, `<script src="./Build/game.loader.js">`},
		{`href="TemplateData/style.css"`, `href="./TemplateData/style.css"`},
		{`streamingAssetsUrl: "StreamingAssets/"`, `streamingAssetsUrl: "./StreamingAssets/"`},
		{`var buildUrl = "./Build/";`, `var buildUrl = "./Build/";`},
		{`src="../Build/x.js"`, `src="../Build/x.js"`},
		{`Build/a Build/b`, `./Build/a ./Build/b`},
		{`no references here`, `no references here`},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, RewriteAssetText(tt.in))
		})
	}
}

func TestRewriteAssetText_Idempotent(t *testing.T) {
	inputs := []string{
		`<link href="TemplateData/favicon.ico"><script src="Build/UnityLoader.js"></script>`,
		`dataUrl: buildUrl + "/Build/web.data", streamingAssetsUrl: "StreamingAssets",`,
		`StreamingAssets/Build/TemplateData/`,
		`././Build/ ./Build/ Build/`,
	}
	for _, in := range inputs {
		once := RewriteAssetText(in)
		assert.Equal(t, once, RewriteAssetText(once), "input %q", in)
	}
}

func TestRewriteAssetReferences_File(t *testing.T) {
	root := t.TempDir()
	page := filepath.Join(root, "index.html")
	writeFiles(t, root, map[string]string{"index.html": `<script src="Build/a.js"></script>`})

	require.NoError(t, RewriteAssetReferences(page))
	assert.Equal(t, `<script src="./Build/a.js"></script>`, readFile(t, page))

	require.NoError(t, RewriteAssetReferences(page))
	assert.Equal(t, `<script src="./Build/a.js"></script>`, readFile(t, page))

	entries, err := os.ReadDir(root)
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temporary files must not be left behind")
}

func TestNormalize(t *testing.T) {
	root := t.TempDir()
	writeFiles(t, root, map[string]string{
		"WebGL/index.html":             `<script src="Build/WebGL.loader.js"></script>`,
		"WebGL/Build/Build/WebGL.wasm": "wasm",
		"WebGL/Build/WebGL.loader.js":  "loader",
		"WebGL/TemplateData/style.css": "css",
	})

	res, err := NewNormalizer().Normalize(context.Background(), root)
	require.NoError(t, err)

	assert.Equal(t, "WebGL/index.html", res.EntryPage)
	assert.Equal(t, 1, res.FlattenedDirs)
	assert.FileExists(t, filepath.Join(root, "WebGL", "Build", "WebGL.wasm"))
	assert.Equal(t, `<script src="./Build/WebGL.loader.js"></script>`, readFile(t, filepath.Join(root, "WebGL", "index.html")))
}

func TestNormalize_MissingEntryPage(t *testing.T) {
	root := t.TempDir()
	writeFiles(t, root, map[string]string{"Build/a.js": "a"})

	_, err := NewNormalizer().Normalize(context.Background(), root)
	assert.ErrorIs(t, err, ErrEntryPageNotFound)
}
