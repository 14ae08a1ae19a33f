package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	custommiddleware "github.com/mmeshcher/crajybot/internal/middleware"
)

// SetupRouter настраивает HTTP-маршруты и middleware командного шлюза.
func (h *Handler) SetupRouter() *chi.Mux {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.Recoverer)
	r.Use(custommiddleware.GzipMiddleware)
	r.Use(custommiddleware.Logger(h.logger))

	r.Route("/api", func(r chi.Router) {
		r.Use(h.authMiddleware.Middleware)

		r.Route("/economy", func(r chi.Router) {
			r.Post("/withdraw", h.Withdraw)
			r.Post("/deposit", h.Deposit)
			r.Get("/balance", h.GetBalance)
			r.Get("/leaderboard", h.GetLeaderboard)

			r.Post("/work", h.Work)
			r.Post("/hustle", h.Hustle)
			r.Post("/crime", h.Crime)

			r.Post("/loan", h.TakeLoan)
			r.Post("/loan/repay", h.RepayLoan)

			r.Get("/inventory", h.GetInventory)
			r.Get("/shop", h.GetShop)
			r.Post("/buy", h.Buy)
			r.Post("/sell", h.Sell)
			r.Post("/use", h.UseItem)

			r.Post("/give", h.Give)
			r.Post("/rob", h.Rob)
		})

		r.Route("/metrics", func(r chi.Router) {
			r.Get("/", h.GetMetrics)
			r.Post("/messages", h.RecordMessage)
			r.Post("/start", h.StartMetrics)
			r.Post("/stop", h.StopMetrics)
			r.Get("/status", h.GetMetricsStatus)
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
