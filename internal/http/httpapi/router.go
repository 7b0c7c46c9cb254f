package httpapi

import (
	stdhttp "net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"server/internal/http/handlers"
	"server/internal/infra/geoip"
	"server/internal/middleware"
)

// NewRouter assembles the service routes with the cross-cutting middleware
// chain applied to every request.
func NewRouter(app *handlers.App, resolver geoip.CountryResolver) stdhttp.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID, chimw.RealIP, chimw.Recoverer)
	r.Use(middleware.Logger(app.Log, resolver))
	r.Use(middleware.Secure, middleware.CORS)
	r.Use(middleware.RateLimit(app.Cfg.RateLimit, app.Cfg.RateLimitWindow))

	r.Get("/health", app.Health)
	r.Post("/process", app.Process)
	r.Get("/storage/*", app.ServeStorage)

	return r
}
