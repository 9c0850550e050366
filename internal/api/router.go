package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/starford/raido/internal/store"
)

// NewRouter creates a chi router with all API routes mounted.
// authEnabled controls whether Bearer token auth is enforced.
// sseHandler, if non-nil, is mounted at GET /events inside the auth group.
// counts and events may be nil.
func NewRouter(st store.Store, counts Counter, events Publisher, authEnabled bool, token string, sseHandler http.Handler) chi.Router {
	h := NewHandler(NewService(st, counts, events))

	r := chi.NewRouter()
	r.Use(AuthMiddleware(authEnabled, token))

	r.Get("/entities", h.ListEntities)
	r.Get("/entities/{entity}/records", h.ListRecords)
	r.Get("/entities/{entity}/records/{ref}", h.GetRecord)
	r.Post("/save", h.Save)

	// SSE endpoint (protected by same auth middleware).
	if sseHandler != nil {
		r.Get("/events", sseHandler.ServeHTTP)
	}

	return r
}
