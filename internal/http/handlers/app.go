package handlers

import (
	"encoding/json"
	"net/http"

	"server/internal/infra"
	"server/internal/pipeline"
	"server/internal/storage"
)

// App bundles the handler dependencies: configuration, logger, the storage
// bucket and the request pipeline.
type App struct {
	Cfg      *infra.Config
	Log      infra.Logger
	Store    *storage.FileStore
	Pipeline *pipeline.Service
}

// NewApp constructs the handler container.
func NewApp(cfg *infra.Config, log infra.Logger, store *storage.FileStore, pipe *pipeline.Service) *App {
	return &App{Cfg: cfg, Log: log, Store: store, Pipeline: pipe}
}

func (a *App) json(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func (a *App) badRequest(w http.ResponseWriter, msg string) {
	a.json(w, http.StatusBadRequest, map[string]string{"error": msg})
}

func (a *App) failure(w http.ResponseWriter, code int, errMsg, detail string) {
	a.json(w, code, map[string]string{"error": errMsg, "message": detail})
}

func (a *App) fileURL(key string) string {
	return a.Cfg.PublicBaseURL + "/storage/" + key
}
