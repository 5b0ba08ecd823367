/*
server.go - HTTP router configuration

PURPOSE:
  Wires the chi router: middleware, CORS and the route tree. Kept apart
  from the handlers so the surface of the API is readable in one place.

SEE ALSO:
  - handlers.go: Handler implementations
*/
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// NewRouter builds the complete route tree.
func NewRouter(h *Handler) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"http://localhost:5173", "http://localhost:8080"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Route("/api", func(r chi.Router) {
		r.Post("/sales", h.CreateSale)
		r.Route("/sales/{id}", func(r chi.Router) {
			r.Get("/financials", h.GetSaleFinancials)
			r.Post("/payments", h.RegisterPayment)
			r.Post("/opening/confirm", h.ConfirmOpening)
			r.Post("/cancel", h.CancelSale)
		})

		r.Post("/payments/{id}/confirm", h.ConfirmPayment)

		r.Route("/customers/{id}/loyalty", func(r chi.Router) {
			r.Get("/", h.GetLoyaltySummary)
			r.Post("/redeem", h.RedeemPoints)
			r.Get("/validate", h.ValidateAccount)
		})

		r.Route("/admin/loyalty", func(r chi.Router) {
			r.Post("/sweep", h.TriggerSweep)
			r.Post("/repair", h.RepairAccount)
			r.Get("/validate", h.ValidatePortfolio)
		})
	})

	return r
}
