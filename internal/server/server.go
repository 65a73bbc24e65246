package server

import (
	"context"
	"net/http"
	"slices"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"

	"github.com/ziadkadry99/insightpdf/internal/db"
	"github.com/ziadkadry99/insightpdf/internal/rag"
)

// Engine is the question-answering core the HTTP layer drives.
type Engine interface {
	Ingest(ctx context.Context, data []byte, opts ...rag.IngestOption) (*rag.IngestResult, error)
	Answer(ctx context.Context, question string, history []rag.Turn) (*rag.Answer, error)
	Status(ctx context.Context) (*rag.Status, error)
	Reset(ctx context.Context) error
}

// IngestionLog exposes the ingestion audit trail. It is optional.
type IngestionLog interface {
	Latest(ctx context.Context) (*db.Ingestion, error)
	List(ctx context.Context, limit int) ([]db.Ingestion, error)
}

// Config holds server configuration.
type Config struct {
	Addr           string
	AllowedOrigins []string
	MaxUploadBytes int64
	RequestTimeout time.Duration
}

const defaultMaxUploadBytes = 25 << 20

// Server is the HTTP front end of the PDF question-answering service.
type Server struct {
	cfg        Config
	engine     Engine
	ingestions IngestionLog
	logger     zerolog.Logger
	renderer   *Renderer
	validate   *validator.Validate
	router     chi.Router
	httpServer *http.Server
}

// New creates a server around engine. ingestions may be nil.
func New(cfg Config, engine Engine, ingestions IngestionLog, logger zerolog.Logger) *Server {
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = defaultMaxUploadBytes
	}
	s := &Server{
		cfg:        cfg,
		engine:     engine,
		ingestions: ingestions,
		logger:     logger,
		renderer:   NewRenderer(),
		validate:   validator.New(),
	}

	s.router = s.buildRouter()
	return s
}

// buildRouter creates and configures the chi router with all routes.
func (s *Server) buildRouter() chi.Router {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RealIP)
	r.Use(hlog.NewHandler(s.logger))
	r.Use(hlog.RequestIDHandler("req_id", "X-Request-Id"))
	r.Use(hlog.RemoteAddrHandler("ip"))
	r.Use(hlog.AccessHandler(func(r *http.Request, status, size int, duration time.Duration) {
		hlog.FromRequest(r).Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", status).
			Int("size", size).
			Dur("duration", duration).
			Msg("request")
	}))
	r.Use(middleware.Recoverer)

	// CORS
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   s.cfg.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", "X-Request-Id"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/", s.handleWelcome)
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	// Websocket connections outlive the request timeout.
	r.Get("/ws/chat", s.handleWebSocket)

	r.Group(func(r chi.Router) {
		if s.cfg.RequestTimeout > 0 {
			r.Use(middleware.Timeout(s.cfg.RequestTimeout))
		}
		r.Post("/upload", s.handleUpload)
		r.Post("/chat", s.handleChat)
		r.Route("/api", func(r chi.Router) {
			r.Get("/status", s.handleStatus)
			r.Get("/ingestions", s.handleIngestions)
			r.Delete("/index", s.handleReset)
		})
	})

	return r
}

// Router returns the chi router.
func (s *Server) Router() chi.Router { return s.router }

// originAllowed applies the CORS origin list to websocket handshakes.
// Requests without an Origin header come from non-browser clients.
func (s *Server) originAllowed(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	return slices.Contains(s.cfg.AllowedOrigins, "*") || slices.Contains(s.cfg.AllowedOrigins, origin)
}

// Start begins listening on the configured address.
func (s *Server) Start() error {
	writeTimeout := 120 * time.Second
	if s.cfg.RequestTimeout > 0 {
		writeTimeout = s.cfg.RequestTimeout + 10*time.Second
	}
	s.httpServer = &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      writeTimeout,
		IdleTimeout:       120 * time.Second,
	}

	s.logger.Info().Str("addr", s.cfg.Addr).Msg("insightpdf server listening")
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer != nil {
		return s.httpServer.Shutdown(ctx)
	}
	return nil
}
