package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	custommiddleware "github.com/ankudinov/miniapp-billing/internal/middleware"
)

// SetupRouter настраивает HTTP-маршруты и middleware биллинг-сервиса.
func (h *Handler) SetupRouter(allowedOrigin string) *chi.Mux {
	r := chi.NewRouter()

	r.Use(custommiddleware.Logger(h.logger))
	r.Use(custommiddleware.CORS(allowedOrigin))

	r.Route("/api/payments", func(r chi.Router) {
		r.Post("/init", h.InitPayment)
		r.Post("/notification", h.Notification)
		r.Post("/status", h.CheckStatus)
	})

	r.Get("/api/users/balance", h.GetBalance)
	r.Get("/api/users/history", h.GetHistory)
	r.Get("/ping", h.Ping)

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
	})

	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
	})

	return r
}
