// Package api provides the HTTP API for the Posta daemon: card CRUD, sync
// triggers, optimistic actions, and status. The daemon binds to loopback by
// default; the desktop client is the only intended consumer.
package api

import (
	"context"
	"crypto/subtle"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/postaworks/posta/internal/config"
	"github.com/postaworks/posta/internal/engine"
	"github.com/postaworks/posta/internal/model"
	"github.com/postaworks/posta/internal/poller"
	"github.com/postaworks/posta/internal/scheduler"
	"github.com/postaworks/posta/internal/store"
)

// CardPosition is an alias for store.CardPosition so handlers can decode
// reorder payloads without importing the store package's internals.
type CardPosition = store.CardPosition

// CardStore defines the store operations the API needs.
type CardStore interface {
	ListCards(accountID string) ([]model.Card, error)
	ListAllCards() ([]model.Card, error)
	GetCard(id string) (*model.Card, error)
	InsertCard(c model.Card) error
	UpdateCard(c model.Card) error
	DeleteCard(id string) error
	ReorderCards(orders []CardPosition) error
}

// PrefStore is the flat key/value preference store behind the layout and
// action-ordering settings the desktop client persists.
type PrefStore interface {
	GetPref(key string) (string, error)
	SetPref(key, value string) error
	DeletePref(key string) error
}

// SyncController drives incremental sync, loads, and mutations for the
// daemon's accounts. Implemented by the daemon wiring in cmd/posta.
type SyncController interface {
	TriggerSync(accountID string) error
	Focus(accountID string) error
	PollerStatus() []poller.Status
	LoadCard(ctx context.Context, card model.Card) (*model.CacheEntry, error)
	LoadMore(ctx context.Context, card model.Card) (bool, error)
	Apply(ctx context.Context, accountID string, req engine.ActionRequest) error
	Undo(ctx context.Context, accountID string) error
	ClearCache(accountID, cardID string) error
}

// RefreshScheduler defines the full-refresh scheduler operations the API
// needs.
type RefreshScheduler interface {
	IsScheduled(accountID string) bool
	TriggerRefresh(accountID string) error
	Status() []scheduler.AccountStatus
}

// Server is the daemon's HTTP API server.
type Server struct {
	cfg         *config.Config
	cards       CardStore
	prefs       PrefStore
	sync        SyncController
	refresher   RefreshScheduler
	logger      *slog.Logger
	router      chi.Router
	server      *http.Server
	rateLimiter *RateLimiter
}

// NewServer creates an API server. refresher may be nil when no account has
// a full-refresh schedule.
func NewServer(cfg *config.Config, cards CardStore, prefs PrefStore, sync SyncController, refresher RefreshScheduler, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		cfg:       cfg,
		cards:     cards,
		prefs:     prefs,
		sync:      sync,
		refresher: refresher,
		logger:    logger,
	}
	s.router = s.setupRouter()
	return s
}

func (s *Server) setupRouter() chi.Router {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(s.loggerMiddleware)
	r.Use(chimw.Recoverer)
	r.Use(chimw.Timeout(60 * time.Second))

	if len(s.cfg.Server.CORSOrigins) > 0 {
		r.Use(CORSMiddleware(CORSConfig{
			AllowedOrigins: s.cfg.Server.CORSOrigins,
			AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
			AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", "X-API-Key"},
			MaxAge:         86400,
		}))
	}

	s.rateLimiter = NewRateLimiter(10, 20)
	r.Use(RateLimitMiddleware(s.rateLimiter))

	r.Get("/health", s.handleHealth)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(s.authMiddleware)

		r.Get("/status", s.handleStatus)

		r.Route("/cards", func(r chi.Router) {
			r.Get("/", s.handleListCards)
			r.Post("/", s.handleCreateCard)
			r.Put("/reorder", s.handleReorderCards)
			r.Get("/{id}", s.handleGetCard)
			r.Put("/{id}", s.handleUpdateCard)
			r.Delete("/{id}", s.handleDeleteCard)
			r.Get("/{id}/snapshot", s.handleCardSnapshot)
			r.Post("/{id}/more", s.handleLoadMore)
		})

		r.Get("/prefs/{key}", s.handleGetPref)
		r.Put("/prefs/{key}", s.handleSetPref)
		r.Delete("/prefs/{key}", s.handleDeletePref)

		r.Post("/sync/{account}", s.handleTriggerSync)
		r.Post("/focus/{account}", s.handleFocus)
		r.Post("/refresh/{account}", s.handleTriggerRefresh)

		r.Post("/accounts/{account}/actions", s.handleApplyAction)
		r.Post("/accounts/{account}/undo", s.handleUndo)
	})

	return r
}

// Start begins listening for HTTP requests. Blocks until the listener
// closes.
func (s *Server) Start() error {
	if err := s.cfg.Server.ValidateSecure(); err != nil {
		return err
	}

	bindAddr := s.cfg.Server.BindAddr
	if bindAddr == "" {
		bindAddr = "127.0.0.1"
	}
	addr := net.JoinHostPort(bindAddr, strconv.Itoa(s.cfg.Server.APIPort))

	if s.cfg.Server.APIKey == "" {
		s.logger.Warn("API server running without authentication; set [server] api_key in config.toml")
	}

	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	s.logger.Info("starting API server", "addr", addr)
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	s.logger.Info("shutting down API server")
	return s.server.Shutdown(ctx)
}

// Router returns the chi router for testing.
func (s *Server) Router() chi.Router {
	return s.router
}

// loggerMiddleware logs HTTP requests.
func (s *Server) loggerMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)

		defer func() {
			s.logger.Info("http request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"bytes", ww.BytesWritten(),
				"duration", time.Since(start),
				"request_id", chimw.GetReqID(r.Context()),
			)
		}()

		next.ServeHTTP(ww, r)
	})
}

// authMiddleware validates the API key.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Skip auth if no API key configured
		if s.cfg.Server.APIKey == "" {
			next.ServeHTTP(w, r)
			return
		}

		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			authHeader = r.Header.Get("X-API-Key")
		}
		if len(authHeader) > 7 && authHeader[:7] == "Bearer " {
			authHeader = authHeader[7:]
		}

		if subtle.ConstantTimeCompare([]byte(authHeader), []byte(s.cfg.Server.APIKey)) != 1 {
			s.logger.Warn("unauthorized API request",
				"path", r.URL.Path,
				"remote_addr", r.RemoteAddr,
			)
			writeError(w, http.StatusUnauthorized, "unauthorized", "Invalid or missing API key")
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}
