// Package router wires the booking engine's HTTP surface.
package router

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/clinicdesk/booking-engine/internal/api/handlers"
	httpmiddleware "github.com/clinicdesk/booking-engine/internal/http/middleware"
	"github.com/clinicdesk/booking-engine/pkg/logging"
)

// Config holds router configuration.
type Config struct {
	Logger             *logging.Logger
	BookingHandler     *handlers.BookingHandler
	MetricsHandler     http.Handler
	DashboardJWTSecret string
	CORSAllowedOrigins []string
	RateLimitPerSecond float64
	RateLimitBurst     int
}

// New creates a chi router with all routes configured.
func New(cfg *Config) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Compress(5))
	if len(cfg.CORSAllowedOrigins) > 0 {
		r.Use(httpmiddleware.CORS(cfg.CORSAllowedOrigins))
	}
	if cfg.Logger != nil {
		r.Use(httpmiddleware.RequestLogger(cfg.Logger))
	}
	if cfg.RateLimitPerSecond > 0 {
		r.Use(httpmiddleware.RateLimit(cfg.RateLimitPerSecond, cfg.RateLimitBurst))
	}

	// Public endpoints.
	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok"}`))
	})
	if cfg.MetricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", cfg.MetricsHandler)
	}

	// Booking wizard endpoints, dashboard-authenticated.
	r.Route("/v1", func(v1 chi.Router) {
		v1.Use(httpmiddleware.DashboardJWT(cfg.DashboardJWTSecret))

		v1.Route("/sessions", func(s chi.Router) {
			s.Post("/", cfg.BookingHandler.CreateSession)
			s.Route("/{id}", func(sess chi.Router) {
				sess.Get("/", cfg.BookingHandler.GetSession)
				sess.Delete("/", cfg.BookingHandler.CancelSession)
				sess.Post("/clinic", cfg.BookingHandler.ChooseClinic)
				sess.Post("/doctor", cfg.BookingHandler.ChooseDoctor)
				sess.Post("/date", cfg.BookingHandler.ChooseDate)
				sess.Post("/time", cfg.BookingHandler.ChooseTime)
				sess.Post("/back", cfg.BookingHandler.GoBack)
				sess.Post("/submit", cfg.BookingHandler.Submit)
			})
		})
	})

	return r
}
