// Package server exposes the meet API to browsers through the token-backed
// client, translating client errors into HTTP responses.
package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"

	"github.com/go-authgate/meetgate/meet"
)

// Booking is the slice of the meet client the routes use.
type Booking interface {
	ListDoctors(ctx context.Context) ([]meet.Doctor, error)
	GetDoctor(ctx context.Context, id string) (*meet.Doctor, error)
	GetAvailability(ctx context.Context, doctorID string, date time.Time) (*meet.Availability, error)
	ListProducts(ctx context.Context) ([]meet.Product, error)
	CreateOrder(ctx context.Context, req meet.OrderRequest) (*meet.Order, error)
	CreatePayment(ctx context.Context, req meet.PaymentRequest) (*meet.Payment, error)
}

// HealthFunc reports whether the token store is reachable.
type HealthFunc func(ctx context.Context) error

type handlers struct {
	booking Booking
	log     *zap.Logger
}

// NewRouter mounts the API, /metrics and /healthz.
func NewRouter(booking Booking, health HealthFunc, log *zap.Logger) http.Handler {
	if log == nil {
		log = zap.NewNop()
	}
	if health == nil {
		health = func(context.Context) error { return nil }
	}
	h := &handlers{booking: booking, log: log}

	r := chi.NewMux()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(zapLoggerMiddleware(log))

	r.Handle("/metrics", promhttp.Handler())
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 500*time.Millisecond)
		defer cancel()
		if err := health(ctx); err != nil {
			log.Warn("health check failed", zap.Error(err))
			http.Error(w, "unhealthy", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	})

	r.Route("/api", func(r chi.Router) {
		r.Get("/doctors", h.listDoctors)
		r.Get("/doctors/{id}", h.getDoctor)
		r.Get("/doctors/{id}/availability", h.getAvailability)
		r.Get("/products", h.listProducts)
		r.Post("/orders", h.createOrder)
		r.Post("/payments", h.createPayment)
	})

	return otelhttp.NewHandler(r, "meetgate")
}

// New returns an http.Server for addr with the router installed.
func New(addr string, booking Booking, health HealthFunc, log *zap.Logger) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           NewRouter(booking, health, log),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func Run(ctx context.Context, srv *http.Server, log *zap.Logger) error {
	errCh := make(chan error, 1)
	go func() {
		log.Info("listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	graceCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(graceCtx); err != nil {
		log.Error("server shutdown error", zap.Error(err))
		return err
	}
	return <-errCh
}

func zapLoggerMiddleware(log *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			log.Info("http",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.String("request_id", middleware.GetReqID(r.Context())),
				zap.Duration("elapsed", time.Since(start)),
			)
		})
	}
}
