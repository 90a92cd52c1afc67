package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"echoapp/logger"
	"echoapp/metrics"
	"echoapp/models"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
)

// SubprotocolJSON selects envelope mode on the handshake.
const SubprotocolJSON = "echo.json"

const (
	defaultExchangeLimit = 50
	maxExchangeLimit     = 500
	closeFrameTimeout    = time.Second
)

// ExchangeLister serves the recent-exchanges endpoint.
type ExchangeLister interface {
	RecentExchanges(ctx context.Context, limit int) ([]models.Exchange, error)
}

// TokenVerifier abstracts OIDC token verification.
type TokenVerifier interface {
	Verify(ctx context.Context, raw string) error
}

// ReadinessCheck reports whether a dependency is usable.
type ReadinessCheck func(ctx context.Context) error

// Options are the per-connection limits.
type Options struct {
	MaxMessageBytes int64
	WriteTimeout    time.Duration
	PongWait        time.Duration
	PingInterval    time.Duration
	AllowedOrigins  []string
}

func DefaultOptions() Options {
	return Options{
		MaxMessageBytes: 64 << 10,
		WriteTimeout:    10 * time.Second,
		PongWait:        60 * time.Second,
		PingInterval:    54 * time.Second,
	}
}

// Deps are optional collaborators; nil fields disable the feature that needs them.
type Deps struct {
	Recorder  Recorder
	Exchanges ExchangeLister
	Verifier  TokenVerifier
	Checks    map[string]ReadinessCheck
}

type Server struct {
	router    chi.Router
	hub       *Hub
	upgrader  websocket.Upgrader
	validator *EnvelopeValidator
	opts      Options
	deps      Deps
}

// withDefaults fills zero or negative fields from DefaultOptions.
func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.MaxMessageBytes <= 0 {
		o.MaxMessageBytes = d.MaxMessageBytes
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = d.WriteTimeout
	}
	if o.PongWait <= 0 {
		o.PongWait = d.PongWait
	}
	if o.PingInterval <= 0 {
		o.PingInterval = o.PongWait * 9 / 10
	}
	return o
}

func NewServer(opts Options, deps Deps) (*Server, error) {
	opts = opts.withDefaults()
	if opts.PingInterval >= opts.PongWait {
		return nil, fmt.Errorf("ping interval %s must be shorter than pong wait %s", opts.PingInterval, opts.PongWait)
	}
	v, err := NewEnvelopeValidator()
	if err != nil {
		return nil, err
	}
	s := &Server{
		router:    chi.NewRouter(),
		hub:       NewHub(),
		validator: v,
		opts:      opts,
		deps:      deps,
	}
	s.upgrader = websocket.Upgrader{
		HandshakeTimeout: opts.WriteTimeout,
		Subprotocols:     []string{SubprotocolJSON},
		CheckOrigin:      originChecker(opts.AllowedOrigins),
	}
	s.routes()
	return s, nil
}

func (s *Server) routes() {
	s.router.Use(middleware.RequestID, middleware.RealIP, middleware.Recoverer)
	s.router.Get("/ws", s.handleWS)
	s.router.Get("/healthz", s.handleHealth)
	s.router.Get("/readyz", s.handleReady)
	s.router.Method(http.MethodGet, "/metrics", metrics.Handler())
	s.router.With(s.withAuth).Get("/exchanges", s.handleExchanges)
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.router.ServeHTTP(w, r) }

// Sessions reports the number of live websocket sessions.
func (s *Server) Sessions() int { return s.hub.Count() }

// Shutdown asks every session to close with 1001 and waits for them to finish.
// When ctx expires first the remaining connections are dropped.
func (s *Server) Shutdown(ctx context.Context) error {
	deadline := time.Now().Add(closeFrameTimeout)
	if dl, ok := ctx.Deadline(); ok && dl.Before(deadline) {
		deadline = dl
	}
	s.hub.CloseAll(websocket.CloseGoingAway, "server shutting down", deadline)
	done := make(chan struct{})
	go func() {
		s.hub.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		s.hub.Terminate()
		<-done
		return ctx.Err()
	}
}

// withAuth enforces a bearer token when a verifier is configured.
func (s *Server) withAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.deps.Verifier == nil {
			next.ServeHTTP(w, r)
			return
		}
		token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok || token == "" {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		if err := s.deps.Verifier.Verify(r.Context(), token); err != nil {
			logger.Error("token verification failed", err)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	if s.deps.Verifier != nil {
		token := r.URL.Query().Get("token")
		if token == "" || s.deps.Verifier.Verify(r.Context(), token) != nil {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
	}
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the HTTP error response.
		logger.Error("websocket upgrade failed", err)
		return
	}
	sess := newSession(conn, s.opts, s.validator, s.deps.Recorder)
	if !s.hub.Add(sess) {
		sess.closeWith(websocket.CloseGoingAway, "server shutting down")
		_ = conn.Close()
		return
	}
	metrics.IncWSConnections()
	go func() {
		defer func() { s.hub.Remove(sess); metrics.DecWSConnections() }()
		sess.serve()
	}()
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	for name, check := range s.deps.Checks {
		if err := check(ctx); err != nil {
			logger.Error("readiness check failed", err, logger.FieldKV("dependency", name))
			http.Error(w, name+" not ready", http.StatusServiceUnavailable)
			return
		}
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}

func (s *Server) handleExchanges(w http.ResponseWriter, r *http.Request) {
	if s.deps.Exchanges == nil {
		http.Error(w, "transcript storage not configured", http.StatusServiceUnavailable)
		return
	}
	limit := ParseLimit(r.URL.Query().Get("limit"), defaultExchangeLimit, maxExchangeLimit)
	list, err := s.deps.Exchanges.RecentExchanges(r.Context(), limit)
	if err != nil {
		logger.Error("fetch exchanges failed", err)
		http.Error(w, "fetch failed", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(list)
}

// ParseLimit parses a positive integer, using fallback for anything else and capping at max.
func ParseLimit(v string, fallback, max int) int {
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return fallback
	}
	if n > max {
		return max
	}
	return n
}

// originChecker allows any origin when allowed is empty. Requests without an Origin
// header are not browser requests and always pass.
func originChecker(allowed []string) func(*http.Request) bool {
	if len(allowed) == 0 {
		return func(*http.Request) bool { return true }
	}
	set := make(map[string]struct{}, len(allowed))
	for _, a := range allowed {
		set[strings.ToLower(strings.TrimSpace(a))] = struct{}{}
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		u, err := url.Parse(origin)
		if err != nil {
			return false
		}
		if _, ok := set[strings.ToLower(u.Host)]; ok {
			return true
		}
		_, ok := set[strings.ToLower(origin)]
		return ok
	}
}
