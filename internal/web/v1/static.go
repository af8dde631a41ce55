package v1

import (
	"net/http"
	"path"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/duynhne/game-service/internal/build"
)

// assetTypes are content types for Unity WebGL build files that the
// standard MIME table does not know or gets wrong.
var assetTypes = map[string]string{
	".wasm":     "application/wasm",
	".js":       "application/javascript",
	".data":     "application/octet-stream",
	".mem":      "application/octet-stream",
	".unityweb": "application/octet-stream",
	".symbols":  "application/octet-stream",
	".json":     "application/json",
}

// assetEncodings map precompressed file suffixes to Content-Encoding.
var assetEncodings = map[string]string{
	".gz": "gzip",
	".br": "br",
}

// AssetHeaders returns the Content-Type and Content-Encoding to serve a
// build file with. Empty values leave detection to the file server.
func AssetHeaders(name string) (contentType, contentEncoding string) {
	base := strings.ToLower(path.Base(name))

	ext := path.Ext(base)
	if enc, ok := assetEncodings[ext]; ok {
		contentEncoding = enc
		base = strings.TrimSuffix(base, ext)
		ext = path.Ext(base)
	}

	contentType = assetTypes[ext]
	if contentType == "" && contentEncoding != "" {
		contentType = "application/octet-stream"
	}
	return contentType, contentEncoding
}

func assetHeaders() gin.HandlerFunc {
	return func(c *gin.Context) {
		contentType, contentEncoding := AssetHeaders(c.Request.URL.Path)
		if contentType != "" {
			c.Header("Content-Type", contentType)
		}
		if contentEncoding != "" {
			c.Header("Content-Encoding", contentEncoding)
		}
		c.Header("X-Content-Type-Options", "nosniff")
		c.Next()
	}
}

// RegisterStatic serves the content root read-only under urlPrefix.
// Directory listings are disabled.
func RegisterStatic(r gin.IRouter, urlPrefix, root string) {
	files := r.Group(urlPrefix, assetHeaders())
	handler := serveBuildFile(gin.Dir(root, false))
	files.GET("/*filepath", handler)
	files.HEAD("/*filepath", handler)
}

// serveBuildFile serves files as they are named. Unlike http.FileServer it
// does not redirect ".../index.html" to the directory, so the entry page URL
// returned by an upload answers with the page itself. A directory request
// ending in "/" serves the directory's index.html.
func serveBuildFile(fsys http.FileSystem) gin.HandlerFunc {
	return func(c *gin.Context) {
		name := path.Clean("/" + c.Param("filepath"))

		f, err := fsys.Open(name)
		if err != nil {
			c.Status(http.StatusNotFound)
			return
		}
		defer f.Close()

		info, err := f.Stat()
		if err != nil {
			c.Status(http.StatusInternalServerError)
			return
		}

		if info.IsDir() {
			if !strings.HasSuffix(c.Request.URL.Path, "/") {
				c.Redirect(http.StatusMovedPermanently, path.Base(c.Request.URL.Path)+"/")
				return
			}
			index, err := fsys.Open(path.Join(name, build.EntryPageName))
			if err != nil {
				c.Status(http.StatusNotFound)
				return
			}
			defer index.Close()
			if info, err = index.Stat(); err != nil || info.IsDir() {
				c.Status(http.StatusNotFound)
				return
			}
			f = index
		}

		http.ServeContent(c.Writer, c.Request, info.Name(), info.ModTime(), f)
	}
}
