// Package spa serves the browser terminal page and its assets.
package spa

import (
	"net/http"
	"net/http/httputil"
	"net/url"
	"os"
	"path"
	"strings"

	"github.com/rs/zerolog/log"
)

type FileServer struct {
	fileSystem http.FileSystem
	fileServer http.Handler
}

func NewFileServer(fileSystem http.FileSystem) *FileServer {
	return &FileServer{
		fileSystem: fileSystem,
		fileServer: http.FileServer(fileSystem),
	}
}

// ServeHTTP serves the requested asset, falling back to index.html for
// unknown paths.
func (s *FileServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	name := path.Clean("/" + r.URL.Path)

	f, err := s.fileSystem.Open(name)
	switch {
	case err == nil:
		_ = f.Close()
		setCacheHeaders(w, name)
		s.fileServer.ServeHTTP(w, r)
	case os.IsNotExist(err):
		noCache(w)
		r.URL.Path = "/"
		s.fileServer.ServeHTTP(w, r)
	default:
		log.Error().Err(err).Str("path", name).Msg("file system open")
		w.WriteHeader(http.StatusInternalServerError)
	}
}

func setCacheHeaders(w http.ResponseWriter, name string) {
	if name == "/" || strings.HasSuffix(name, ".html") {
		// the page must always pick up a new relay build
		noCache(w)
		return
	}
	w.Header().Set("Cache-Control", "public, max-age=3600")
}

func noCache(w http.ResponseWriter) {
	w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
	w.Header().Set("Pragma", "no-cache")
	w.Header().Set("Expires", "0")
}

// ReverseProxyServer forwards asset requests to a frontend dev server.
type ReverseProxyServer struct {
	reverseProxy *httputil.ReverseProxy
}

func NewReverseProxyServer(frontend string) *ReverseProxyServer {
	u, err := url.Parse(frontend)
	if err != nil {
		log.Error().Err(err).Str("frontend", frontend).Msg("failed to parse frontend URL")
		u = &url.URL{}
	}
	return &ReverseProxyServer{
		reverseProxy: httputil.NewSingleHostReverseProxy(u),
	}
}

func (s *ReverseProxyServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.reverseProxy.ServeHTTP(w, r)
}
