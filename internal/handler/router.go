package handler

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	custommiddleware "github.com/mmeshcher/foodmarket-system/internal/middleware"
)

func parseInt64(s string) (int64, error) {
	return strconv.ParseInt(s, 10, 64)
}

// SetupRouter настраивает HTTP-маршруты и middleware маркетплейса.
func (h *Handler) SetupRouter() *chi.Mux {
	r := chi.NewRouter()

	r.Use(custommiddleware.GzipMiddleware)
	r.Use(custommiddleware.Logger(h.logger))

	r.Route("/api", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(h.actorMiddleware.Middleware)

			r.Post("/orders", h.CreateOrder)
			r.Get("/orders/{orderID}", h.GetOrder)
			r.Post("/orders/{orderID}/status", h.TransitionOrder)
			r.Get("/orders/{orderID}/breakdown", h.GetBreakdown)
			r.Get("/orders/{orderID}/history", h.GetStatusHistory)
			r.Get("/orders/{orderID}/settlement", h.GetSettlementEntries)
			r.Post("/orders/{orderID}/corrections", h.RecordCorrection)

			r.Get("/earnings/{party}/{partyID}", h.GetEarnings)
		})
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
	})

	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
	})

	return r
}
