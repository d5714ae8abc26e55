package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/doubtsolver/assistant/internal/middleware"
)

func NewRouter(apiHandler *APIHandler, allowedOrigins []string) http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.Logger)       // Basic request logging
	r.Use(chimiddleware.Recoverer)    // Recover from panics
	r.Use(chimiddleware.StripSlashes) // Ensure consistent path handling
	r.Use(middleware.CORS(allowedOrigins))

	// All API routes will be under /api
	r.Route("/api", func(r chi.Router) {
		r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
			w.Write([]byte(`{"status":"ok"}`))
		})

		// Credential routes
		r.Put("/credential", apiHandler.SetCredentialHandler)
		r.Get("/credential", apiHandler.GetCredentialHandler)

		// Session routes
		r.Post("/sessions", apiHandler.OpenSessionHandler)
		r.Get("/sessions/{sessionID}", apiHandler.GetSessionHandler)
		r.Post("/sessions/{sessionID}/messages", apiHandler.PostMessageHandler)
		r.Delete("/sessions/{sessionID}", apiHandler.CloseSessionHandler)
	})

	return r
}
