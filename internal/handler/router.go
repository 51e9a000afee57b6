package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	custommiddleware "github.com/mmeshcher/library-system/internal/middleware"
)

// SetupRouter настраивает HTTP-маршруты и middleware библиотечного сервиса.
func (h *Handler) SetupRouter() *chi.Mux {
	r := chi.NewRouter()

	r.Use(custommiddleware.GzipMiddleware)
	r.Use(custommiddleware.Logger(h.logger))

	r.Route("/api", func(r chi.Router) {
		r.Post("/user/register", h.Register)
		r.Post("/user/login", h.Login)

		r.Group(func(r chi.Router) {
			r.Use(h.authMiddleware.Middleware)

			r.Post("/books", h.AddBook)
			r.Get("/books", h.ListBooks)

			r.Post("/loans", h.Borrow)
			r.Get("/loans", h.GetRecords)
			r.Post("/loans/{id}/return", h.ReturnCopy)
			r.Post("/loans/{id}/extend", h.Extend)
			r.Post("/loans/{id}/lost", h.ReportLost)
			r.Post("/loans/{id}/damaged", h.ReportDamaged)

			r.Get("/fines", h.GetFines)
			r.Get("/fines/balance", h.GetBalance)
			r.Post("/fines/{id}/pay", h.PayFine)
			r.Post("/fines/{id}/waive", h.WaiveFine)
			r.Post("/fines/{id}/cancel", h.CancelFine)
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
