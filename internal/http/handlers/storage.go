package handlers

import (
	"net/http"
	"os"

	"github.com/go-chi/chi/v5"
)

// ServeStorage serves persisted uploads, previews and outputs as raw bytes.
func (a *App) ServeStorage(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "*")
	path, err := a.Store.Resolve(key)
	if err != nil {
		a.json(w, http.StatusNotFound, map[string]string{"error": "file not found"})
		return
	}
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		a.json(w, http.StatusNotFound, map[string]string{"error": "file not found"})
		return
	}
	http.ServeFile(w, r, path)
}
