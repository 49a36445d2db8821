package api

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/2223010198-web/MonicGpio/internal/auth"
)

// SetupDataRouter serves the node-facing HTTP bridge.
func SetupDataRouter(apiHandler *APIHandler) *chi.Mux {
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.With(apiHandler.auth.APIKeyMiddleware).Post("/data/{kind}", apiHandler.HandleDataIngest)

	return r
}

// SetupUIRouter serves the dashboard read API, commands and the live feed.
func SetupUIRouter(apiHandler *APIHandler) *chi.Mux {
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Get("/health", apiHandler.HandleHealth)
	r.Get("/ws", apiHandler.HandleWebSocket)

	r.Route("/api", func(r chi.Router) {
		r.Get("/snapshot", apiHandler.HandleSnapshot)
		r.Get("/history/{metric}", apiHandler.HandleHistory)
		r.Get("/timeline", apiHandler.HandleTimeline)
		r.Get("/alerts", apiHandler.HandleAlerts)
		r.Get("/audio/latest", apiHandler.HandleLatestAudio)
		r.Get("/archive/events", apiHandler.HandleArchiveEvents)
		r.Post("/login", apiHandler.HandleLogin)

		r.Group(func(r chi.Router) {
			r.Use(apiHandler.auth.JWTMiddleware)
			r.Use(auth.RequireRole("admin", "operator"))
			r.Post("/audio", apiHandler.HandleAudioCommand)
		})
	})

	return r
}
