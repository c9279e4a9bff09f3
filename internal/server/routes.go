package server

import (
	"compress/gzip"
	"net/http"

	"github.com/VladKvetkin/minimart/internal/handler"
	"github.com/VladKvetkin/minimart/internal/middleware"
	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

func (s *Server) setupRoutes(handler *handler.Handler) {
	s.setupMiddleware()

	s.mux.Get("/healthz", func(res http.ResponseWriter, req *http.Request) {
		res.WriteHeader(http.StatusOK)
	})

	// Gateway notifications authenticate by signature, not by session.
	s.mux.Post("/callback", handler.Callback)

	s.mux.Route("/api", func(r chi.Router) {
		r.Post("/user/login", handler.Login)

		r.Group(func(r chi.Router) {
			r.Use(middleware.Auth(s.tokens))

			r.Route("/pay/orders", func(r chi.Router) {
				r.Post("/", handler.CreatePayment)
				r.Get("/", handler.GetOrders)
				r.Get("/{orderNo}", handler.GetOrder)
				r.Post("/{orderNo}/cancel", handler.CancelOrder)
			})

			r.Get("/commission", handler.GetCommission)

			r.Route("/withdrawals", func(r chi.Router) {
				r.Post("/", handler.Withdraw)
				r.Get("/", handler.GetWithdrawals)
				r.Post("/cancel", handler.CancelWithdrawal)
				r.Post("/{billNo}/sync", handler.SyncWithdrawal)
			})
		})
	})
}

func (s *Server) setupMiddleware() {
	s.mux.Use(
		chiMiddleware.RequestID,
		chiMiddleware.RealIP,
		middleware.Logger,
		chiMiddleware.Recoverer,
		cors.Handler(cors.Options{
			AllowedOrigins:   s.config.CORSAllowedOrigins,
			AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
			AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
			AllowCredentials: true,
			MaxAge:           300,
		}),
		middleware.DecompressBodyReader,
		chiMiddleware.Compress(gzip.BestCompression, "application/json", "text/html", "text/plain"),
	)
}
