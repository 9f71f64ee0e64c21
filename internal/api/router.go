package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/AndreiStanca/account-supervisor/internal/metrics"
)

func NewRouter(h *Handler) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Route("/v1", func(r chi.Router) {
		r.Post("/accounts", h.CreateAccount)
		r.Get("/accounts", h.ListAccounts)
		r.Delete("/accounts/{id}", h.DeleteAccount)
		r.Post("/messages", h.SendMessage)
		r.Get("/health", h.Health)
	})

	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	return r
}
