// Package web serves a built frontend from disk as a single-page
// application. The API never depends on it; when no directory is configured
// only the API routes exist.
package web

import (
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"strings"
)

// SPAHandler serves static files from dir and falls back to index.html for
// paths that do not match a file. It returns nil when dir has no index.html.
func SPAHandler(dir string) http.Handler {
	if dir == "" {
		return nil
	}
	root := os.DirFS(dir)
	if _, err := fs.Stat(root, "index.html"); err != nil {
		slog.Warn("Frontend directory has no index.html, not serving it", "dir", dir, "error", err)
		return nil
	}
	return spa(root)
}

func spa(root fs.FS) http.Handler {
	fileServer := http.FileServer(http.FS(root))

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := strings.TrimPrefix(r.URL.Path, "/")
		if path == "" {
			path = "index.html"
		}

		if f, err := root.Open(path); err == nil {
			if closeErr := f.Close(); closeErr != nil {
				slog.Debug("web: failed to close file", "path", path, "error", closeErr)
			}
			fileServer.ServeHTTP(w, r)
			return
		}

		// Unknown paths belong to client-side routing.
		r.URL.Path = "/"
		fileServer.ServeHTTP(w, r)
	})
}
