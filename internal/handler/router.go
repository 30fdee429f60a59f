package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	custommiddleware "github.com/mmeshcher/packpool-system/internal/middleware"
)

// SetupRouter настраивает HTTP-маршруты и middleware сервиса packpool.
func (h *Handler) SetupRouter() *chi.Mux {
	r := chi.NewRouter()

	r.Use(custommiddleware.GzipMiddleware)
	r.Use(custommiddleware.Logger(h.logger))

	r.Route("/api/user", func(r chi.Router) {
		r.Post("/register", h.Register)
		r.Post("/login", h.Login)

		r.Group(func(r chi.Router) {
			r.Use(h.authMiddleware.Middleware)

			r.Get("/profile", h.GetProfile)
			r.Put("/account", h.UpdateAccount)
			r.Get("/packs", h.ListUserPacks)
			r.Get("/created-packs", h.ListCreatedPacks)
			r.Get("/payments", h.ListUserPayments)
		})
	})

	r.Route("/api/packs", func(r chi.Router) {
		r.Use(h.authMiddleware.Middleware)

		r.Post("/", h.CreatePack)
		r.Get("/", h.ListPacks)

		r.Route("/{packID}", func(r chi.Router) {
			r.Get("/", h.GetPack)
			r.Patch("/", h.UpdatePack)

			r.Get("/members", h.ListMembers)
			r.Post("/members", h.AddMember)
			r.Delete("/members/{userID}", h.RemoveMember)

			r.Get("/payments", h.ListPackPayments)
		})
	})

	r.Route("/api/payments", func(r chi.Router) {
		r.Use(h.authMiddleware.Middleware)

		r.Post("/initiate", h.InitiateContribution)
		r.Post("/initiate-payout", h.InitiatePayout)
		r.Get("/verify/{txRef}", h.VerifyContribution)
		r.Get("/verify-payout/{txRef}", h.VerifyPayout)
	})

	// Вебхук аутентифицируется подписью, а не cookie.
	r.Post("/webhooks/flutterwave", h.Webhook)

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
	})

	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
	})

	return r
}
