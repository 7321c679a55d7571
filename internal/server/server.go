// Пакет server — HTTP-сервер storefront с graceful shutdown.
// Без TLS — TLS termination на ingress.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/bigkaa/gostorefront/internal/api/handlers"
	"github.com/bigkaa/gostorefront/internal/config"
)

// Routes — обработчики и middleware, из которых собирается роутер.
type Routes struct {
	API    *handlers.APIHandler
	Health *handlers.HealthHandler
	// Auth — JWT middleware для защищённых маршрутов
	Auth func(http.Handler) http.Handler
	// Middlewares — общие middleware (metrics, logging, i18n) в порядке применения
	Middlewares []func(http.Handler) http.Handler
}

// NewRouter собирает chi-роутер storefront.
func NewRouter(rt Routes) http.Handler {
	router := chi.NewRouter()
	for _, mw := range rt.Middlewares {
		router.Use(mw)
	}

	router.Get("/health/live", rt.Health.HealthLive)
	router.Get("/health/ready", rt.Health.HealthReady)
	router.Get("/metrics", rt.Health.GetMetrics)
	router.Get("/.well-known/jwks.json", rt.API.GetJWKS)

	router.Route("/api/v1", func(r chi.Router) {
		r.Post("/auth/otp", rt.API.RequestOTP)
		r.Delete("/auth/otp", rt.API.CancelOTP)
		r.Post("/auth/otp/verify", rt.API.VerifyOTP)
		r.Get("/reviews", rt.API.ListReviews)

		r.Group(func(r chi.Router) {
			r.Use(rt.Auth)
			r.Get("/auth/session", rt.API.GetSession)
			r.Post("/auth/logout", rt.API.Logout)
			r.Post("/reviews", rt.API.SubmitReview)
		})
	})

	return router
}

// Server — HTTP-сервер storefront.
type Server struct {
	httpServer      *http.Server
	shutdownTimeout time.Duration
	logger          *slog.Logger
}

// New создаёт HTTP-сервер с готовым роутером.
func New(cfg *config.Config, logger *slog.Logger, handler http.Handler) *Server {
	return &Server{
		httpServer: &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.Port),
			Handler:           handler,
			ReadHeaderTimeout: 10 * time.Second,
			ReadTimeout:       30 * time.Second,
			WriteTimeout:      30 * time.Second,
			IdleTimeout:       120 * time.Second,
		},
		shutdownTimeout: cfg.ShutdownTimeout,
		logger:          logger.With(slog.String("component", "server")),
	}
}

// Run запускает сервер и ожидает сигнала завершения (SIGINT, SIGTERM)
// или отмены ctx. Затем выполняется graceful shutdown.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)

	go func() {
		s.logger.Info("HTTP-сервер запущен",
			slog.String("addr", s.httpServer.Addr),
		)

		err := s.httpServer.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	select {
	case sig := <-quit:
		s.logger.Info("Получен сигнал завершения", slog.String("signal", sig.String()))
	case <-ctx.Done():
		s.logger.Info("Контекст сервера отменён")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("ошибка HTTP-сервера: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
	defer cancel()

	s.logger.Info("Выполняется graceful shutdown...")
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("ошибка при graceful shutdown: %w", err)
	}

	s.logger.Info("HTTP-сервер остановлен")
	return nil
}
