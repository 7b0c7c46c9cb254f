package handlers

import (
	"net/http"
	"sync"
	"time"
)

var (
	healthMu sync.Mutex
	lastTS   int64
)

// healthTS returns the current unix-millisecond timestamp, bumped when two
// probes land inside the same millisecond so successive values always grow.
func healthTS() int64 {
	healthMu.Lock()
	defer healthMu.Unlock()
	now := time.Now().UnixMilli()
	if now <= lastTS {
		now = lastTS + 1
	}
	lastTS = now
	return now
}

func (a *App) Health(w http.ResponseWriter, r *http.Request) {
	a.json(w, http.StatusOK, map[string]any{
		"status": "ok",
		"ts":     healthTS(),
	})
}
