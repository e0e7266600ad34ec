package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"

	"github.com/akontos/tradeledger/internal/config"
	"github.com/akontos/tradeledger/internal/database"
	"github.com/akontos/tradeledger/internal/modules/accounts"
	"github.com/akontos/tradeledger/internal/modules/auth"
	"github.com/akontos/tradeledger/internal/modules/feed"
	"github.com/akontos/tradeledger/internal/modules/insights"
	"github.com/akontos/tradeledger/internal/modules/trades"
	"github.com/akontos/tradeledger/internal/modules/transactions"
)

// Config holds server configuration
type Config struct {
	Port    int
	Log     zerolog.Logger
	DB      *database.DB
	Config  *config.Config
	DevMode bool

	Auth         *auth.Handler
	Accounts     *accounts.Handler
	Transactions *transactions.Handler
	Trades       *trades.Handler
	Insights     *insights.Handler
	Feed         *feed.Handler
}

// Server represents the HTTP server
type Server struct {
	router *chi.Mux
	server *http.Server
	log    zerolog.Logger
	db     *database.DB
	cfg    *config.Config
}

// New creates a new HTTP server
func New(cfg Config) *Server {
	s := &Server{
		router: chi.NewRouter(),
		log:    cfg.Log.With().Str("component", "server").Logger(),
		db:     cfg.DB,
		cfg:    cfg.Config,
	}

	s.setupMiddleware(cfg.DevMode)
	s.setupRoutes(cfg)

	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// setupMiddleware configures middleware
func (s *Server) setupMiddleware(devMode bool) {
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(s.loggingMiddleware)
	s.router.Use(middleware.Timeout(60 * time.Second))

	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", feed.HeaderTimestamp, feed.HeaderSignature},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	if !devMode {
		s.router.Use(middleware.Compress(5))
	}
}

// setupRoutes configures all routes
func (s *Server) setupRoutes(cfg Config) {
	s.router.Get("/health", s.handleHealth)

	s.router.Route("/api", func(r chi.Router) {
		// Unauthenticated surfaces: login/registration and the HMAC-signed
		// broker feed.
		r.Route("/auth", func(r chi.Router) {
			r.Post("/register", cfg.Auth.HandleRegister)
			r.Post("/login", cfg.Auth.HandleLogin)
		})
		r.Route("/feed", func(r chi.Router) {
			r.Post("/trades", cfg.Feed.HandleIngestTrade)
		})

		// Everything else requires a bearer token.
		r.Group(func(r chi.Router) {
			r.Use(cfg.Auth.Middleware)

			r.Route("/system", func(r chi.Router) {
				r.Get("/status", s.handleSystemStatus)
			})

			r.Route("/accounts", func(r chi.Router) {
				r.Post("/", cfg.Accounts.HandleCreate)
				r.Get("/", cfg.Accounts.HandleList)
				r.Get("/{id}", cfg.Accounts.HandleGet)
				r.Delete("/{id}", cfg.Accounts.HandleDelete)
			})

			r.Route("/transactions", func(r chi.Router) {
				r.Post("/", cfg.Transactions.HandleCreate)
				r.Get("/", cfg.Transactions.HandleList)
				r.Put("/{id}", cfg.Transactions.HandleUpdate)
				r.Delete("/{id}", cfg.Transactions.HandleDelete)
			})

			r.Route("/trades", func(r chi.Router) {
				r.Post("/", cfg.Trades.HandleCreate)
				r.Get("/", cfg.Trades.HandleList)
				r.Get("/{id}", cfg.Trades.HandleGet)
				r.Put("/{id}", cfg.Trades.HandleUpdate)
				r.Delete("/{id}", cfg.Trades.HandleDelete)
			})

			r.Route("/insights", func(r chi.Router) {
				r.Get("/summary", cfg.Insights.HandleSummary)
				r.Get("/instruments", cfg.Insights.HandleInstruments)
				r.Get("/directions", cfg.Insights.HandleDirections)
				r.Get("/months", cfg.Insights.HandleMonths)
				r.Get("/sessions", cfg.Insights.HandleSessions)
			})
		})
	})
}

// Start starts the HTTP server
func (s *Server) Start() error {
	s.log.Info().Int("port", s.cfg.Port).Msg("Starting HTTP server")
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info().Msg("Shutting down HTTP server")
	return s.server.Shutdown(ctx)
}

// loggingMiddleware logs HTTP requests
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		s.log.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Int("bytes", ww.BytesWritten()).
			Dur("duration_ms", time.Since(start)).
			Str("request_id", middleware.GetReqID(r.Context())).
			Msg("HTTP request")
	})
}
