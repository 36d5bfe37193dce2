package server

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/hashicorp/go-hclog"

	"github.com/SmitUplenchwar2687/bottlegate/internal/admission"
	"github.com/SmitUplenchwar2687/bottlegate/internal/clock"
	"github.com/SmitUplenchwar2687/bottlegate/internal/denylist"
	"github.com/SmitUplenchwar2687/bottlegate/internal/identity"
	"github.com/SmitUplenchwar2687/bottlegate/internal/recorder"
)

// Admitter decides submissions. *admission.Pipeline implements it.
type Admitter interface {
	Submit(ctx context.Context, s admission.Submission) admission.Verdict
	Identify(s admission.Submission) []identity.Identity
}

// Persister stores accepted submissions. *recorder.Sink implements it.
type Persister interface {
	Persist(ctx context.Context, rec recorder.AcceptedRecord) error
}

// DenylistReader answers denylist lookups for the admin endpoint.
type DenylistReader interface {
	IsActive(ctx context.Context, id identity.Identity) (denylist.Entry, bool, error)
}

// Config holds the HTTP settings of a Server.
type Config struct {
	Addr string
	// AdminKey must match the x-admin-key header on admin routes. Empty
	// disables them.
	AdminKey        string
	MaxFormBytes    int64
	ForwardedHeader string
}

// Server is the bottlegate HTTP front end for the admission pipeline.
type Server struct {
	cfg        Config
	httpServer *http.Server
	router     chi.Router

	admitter  Admitter
	persister Persister
	recorder  *recorder.Recorder
	denylist  DenylistReader
	metrics   http.Handler
	hub       *Hub
	clock     clock.Clock
	logger    hclog.Logger
}

// Option customizes a Server.
type Option func(*Server)

// WithPersister stores accepted submissions.
func WithPersister(p Persister) Option { return func(s *Server) { s.persister = p } }

// WithRecorder captures every submission for later replay.
func WithRecorder(r *recorder.Recorder) Option { return func(s *Server) { s.recorder = r } }

// WithDenylist enables GET /admin/denylist/{kind}/{value}.
func WithDenylist(d DenylistReader) Option { return func(s *Server) { s.denylist = d } }

// WithMetrics serves h on GET /metrics.
func WithMetrics(h http.Handler) Option { return func(s *Server) { s.metrics = h } }

// WithHub serves live decision events on GET /ws and the dashboard.
func WithHub(h *Hub) Option { return func(s *Server) { s.hub = h } }

// WithClock sets the clock used for timestamps.
func WithClock(c clock.Clock) Option { return func(s *Server) { s.clock = c } }

// WithLogger sets the server logger.
func WithLogger(l hclog.Logger) Option { return func(s *Server) { s.logger = l } }

// New creates a new bottlegate server.
func New(cfg Config, admitter Admitter, opts ...Option) *Server {
	if cfg.MaxFormBytes <= 0 {
		cfg.MaxFormBytes = 10 << 20
	}
	s := &Server{
		cfg:      cfg,
		admitter: admitter,
		clock:    clock.NewRealClock(),
		logger:   hclog.NewNullLogger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.routes()
	s.httpServer = &http.Server{
		Addr:              cfg.Addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

func (s *Server) routes() {
	r := chi.NewRouter()
	r.Use(requestID)
	r.Use(middleware.Recoverer)
	r.Use(accessLog(s.logger))

	r.Get("/", s.handleRoot)
	r.Get("/health", s.handleHealth)
	r.Post("/submit", s.handleSubmit)

	if s.metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.metrics)
	}
	if s.hub != nil {
		r.Get("/ws", s.hub.HandleWebSocket)
		r.Get("/dashboard", handleDashboard)
	}
	if s.denylist != nil && s.cfg.AdminKey != "" {
		r.Route("/admin", func(r chi.Router) {
			r.Use(requireAdminKey(s.cfg.AdminKey))
			r.Get("/denylist/{kind}/{value}", s.handleDenylistLookup)
		})
	}

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	})
	s.router = r
}

// Handler returns the router, for httptest.
func (s *Server) Handler() http.Handler { return s.router }

// handleRoot serves a welcome message.
func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"service": "bottlegate",
		"status":  "running",
		"time":    s.clock.Now().Format(time.RFC3339),
	})
}

// handleHealth returns server health status.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// Start begins listening. It blocks until the server is shut down.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return err
	}
	return s.StartOnListener(ln)
}

// StartOnListener begins serving on the provided listener.
// Useful for tests that need to pick an ephemeral port.
func (s *Server) StartOnListener(ln net.Listener) error {
	s.logger.Info("bottlegate server listening", "addr", ln.Addr().String())
	return s.httpServer.Serve(ln)
}

// Shutdown gracefully shuts down the server and disconnects websocket
// clients.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.hub != nil {
		s.hub.Close()
	}
	return s.httpServer.Shutdown(ctx)
}
