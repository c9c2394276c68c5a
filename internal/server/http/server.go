package http

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/mux"
	"github.com/klauspost/compress/gzhttp"
	"github.com/rs/zerolog/log"
	httpSwagger "github.com/swaggo/http-swagger"

	"github.com/brianly1003/chatcast/internal/domain/ports"
	"github.com/brianly1003/chatcast/internal/hub"
	"github.com/brianly1003/chatcast/internal/security"
	"github.com/brianly1003/chatcast/internal/server/http/middleware"
	"github.com/brianly1003/chatcast/internal/store"
)

// Defaults applied by New when Options leaves them zero.
const (
	DefaultRequestTimeout = 10 * time.Second
	DefaultMaxBodyBytes   = 64 << 10
	DefaultMaxListLimit   = 200
)

// Core is the part of the broadcast hub the API needs.
type Core interface {
	ports.MessagePublisher
	Stats() hub.Stats
}

// MessageStore persists messages and conversation membership.
type MessageStore interface {
	Create(ctx context.Context, userID int64, text string) (store.Message, error)
	List(ctx context.Context, limit int, before int64) ([]store.Message, error)
	AddMember(ctx context.Context, conversation, principal string) error
	RemoveMember(ctx context.Context, conversation, principal string) (bool, error)
	Members(ctx context.Context, conversation string) ([]string, error)
}

// TokenValidator validates bearer tokens.
type TokenValidator interface {
	Validate(token string) (*security.TokenPayload, error)
}

// Options configures the API server.
type Options struct {
	Addr           string
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	RequestTimeout time.Duration
	MaxBodyBytes   int64
	MaxListLimit   int
	EnableSwagger  bool
	AllowedOrigins []string
	TrustedProxies []string
	Operators      []string // principals allowed to broadcast and manage members
	RateLimiter    *middleware.RateLimiter
	WebSocket      http.Handler // served at /ws, outside compression and timeouts
	Now            func() time.Time
}

func (o *Options) applyDefaults() {
	if o.RequestTimeout <= 0 {
		o.RequestTimeout = DefaultRequestTimeout
	}
	if o.MaxBodyBytes <= 0 {
		o.MaxBodyBytes = DefaultMaxBodyBytes
	}
	if o.MaxListLimit <= 0 {
		o.MaxListLimit = DefaultMaxListLimit
	}
	if o.Now == nil {
		o.Now = time.Now
	}
}

// Server is the HTTP API server.
type Server struct {
	opts     Options
	core     Core
	store    MessageStore
	tokens   TokenValidator
	validate *validator.Validate
	origins  *security.OriginChecker
	resolver *security.ClientIPResolver
	started  time.Time
	handler  http.Handler

	mu        sync.RWMutex
	operators map[string]struct{}

	server   *http.Server
	listener net.Listener
}

// New creates the API server and its routes.
func New(core Core, st MessageStore, tokens TokenValidator, opts Options) (*Server, error) {
	opts.applyDefaults()

	resolver, err := security.NewClientIPResolver(opts.TrustedProxies)
	if err != nil {
		return nil, err
	}

	s := &Server{
		opts:     opts,
		core:     core,
		store:    st,
		tokens:   tokens,
		validate: newValidator(),
		origins:  security.NewOriginChecker(opts.AllowedOrigins),
		resolver: resolver,
		started:  opts.Now(),
	}
	s.SetOperators(opts.Operators)
	s.handler = s.routes()
	return s, nil
}

func (s *Server) routes() http.Handler {
	router := mux.NewRouter()
	router.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)

	api := router.PathPrefix("/api").Subrouter()
	api.Use(s.authMiddleware)
	if s.opts.RateLimiter != nil {
		keys := middleware.PrincipalKeyExtractor(middleware.IPKeyExtractor(s.resolver))
		api.Use(middleware.RateLimitMiddleware(s.opts.RateLimiter, keys))
		log.Info().Msg("rate limiting enabled for /api")
	}
	api.HandleFunc("/stats", s.handleStats).Methods(http.MethodGet)
	api.HandleFunc("/messages", s.handleCreateMessage).Methods(http.MethodPost)
	api.HandleFunc("/messages", s.handleListMessages).Methods(http.MethodGet)
	api.HandleFunc("/broadcast", s.handleBroadcast).Methods(http.MethodPost)
	api.HandleFunc("/conversations/{conversation}/members", s.handleAddMember).Methods(http.MethodPost)
	api.HandleFunc("/conversations/{conversation}/members", s.handleListMembers).Methods(http.MethodGet)
	api.HandleFunc("/conversations/{conversation}/members/{principal}", s.handleRemoveMember).Methods(http.MethodDelete)

	if s.opts.EnableSwagger {
		router.PathPrefix("/swagger/").Handler(httpSwagger.Handler(
			httpSwagger.DeepLinking(true),
			httpSwagger.DocExpansion("none"),
			httpSwagger.DomID("swagger-ui"),
		))
	}

	// request -> cors -> timeout -> gzip -> router
	var handler http.Handler = router
	handler = gzhttp.GzipHandler(handler)
	handler = timeoutMiddleware(s.opts.RequestTimeout, handler)
	handler = s.corsMiddleware(handler)

	root := http.NewServeMux()
	if s.opts.WebSocket != nil {
		root.Handle("/ws", s.opts.WebSocket)
	}
	root.Handle("/", handler)
	return requestLoggingMiddleware(root)
}

// Handler returns the root handler, including /ws when configured.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// SetOperators replaces the operator allowlist. Safe to call while serving.
func (s *Server) SetOperators(operators []string) {
	set := make(map[string]struct{}, len(operators))
	for _, op := range operators {
		if op = strings.TrimSpace(op); op != "" {
			set[op] = struct{}{}
		}
	}
	s.mu.Lock()
	s.operators = set
	s.mu.Unlock()
}

func (s *Server) isOperator(principal string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.operators[principal]
	return ok
}

// Start binds the listener. Serve must be called to accept requests.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.opts.Addr)
	if err != nil {
		return err
	}
	s.listener = ln
	s.server = &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: s.opts.RequestTimeout,
		ReadTimeout:       s.opts.ReadTimeout,
		WriteTimeout:      s.opts.WriteTimeout,
	}
	log.Info().Str("addr", ln.Addr().String()).Msg("HTTP server listening")
	return nil
}

// Serve accepts connections until Stop is called.
func (s *Server) Serve() error {
	if s.server == nil {
		return errors.New("http server not started")
	}
	if err := s.server.Serve(s.listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Addr returns the bound address, or the configured one before Start.
func (s *Server) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.opts.Addr
}

// Stop gracefully stops the HTTP server. Hijacked websocket connections are
// not tracked by Shutdown; the hub closes those.
func (s *Server) Stop(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	log.Info().Msg("HTTP server stopping")
	return s.server.Shutdown(ctx)
}

// handleHealth handles GET /health
//
//	@Summary		Health check
//	@Description	Returns the health status of the server
//	@Tags			health
//	@Produce		json
//	@Success		200	{object}	HealthResponse
//	@Router			/health [get]
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	stats := s.core.Stats()
	writeJSON(w, http.StatusOK, HealthResponse{
		Status:      "ok",
		Time:        s.opts.Now().UTC().Format(time.RFC3339),
		Connections: stats.Registry.Connections,
	})
}

// handleStats handles GET /api/stats
//
//	@Summary		Hub statistics
//	@Description	Returns registry, dispatcher and reaper counters. Operators only,
//	@Description	since the channel list names private channels.
//	@Tags			health
//	@Produce		json
//	@Security		BearerAuth
//	@Success		200	{object}	StatsResponse
//	@Failure		401	{object}	ErrorResponse
//	@Failure		403	{object}	ErrorResponse
//	@Router			/api/stats [get]
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	if !s.requireOperator(w, r) {
		return
	}
	writeJSON(w, http.StatusOK, StatsResponse{
		UptimeSeconds: int64(s.opts.Now().Sub(s.started).Seconds()),
		Hub:           s.core.Stats(),
	})
}

// requestLoggingMiddleware logs all incoming requests.
func requestLoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		log.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Str("remote_addr", r.RemoteAddr).
			Dur("duration", time.Since(start)).
			Msg("request completed")
	})
}

// timeoutMiddleware bounds handler run time via the request context.
func timeoutMiddleware(timeout time.Duration, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" || strings.HasPrefix(r.URL.Path, "/swagger/") {
			next.ServeHTTP(w, r)
			return
		}

		ctx, cancel := context.WithTimeout(r.Context(), timeout)
		defer cancel()

		done := make(chan struct{})
		tw := &timeoutResponseWriter{ResponseWriter: w}

		go func() {
			defer close(done)
			next.ServeHTTP(tw, r.WithContext(ctx))
		}()

		select {
		case <-done:
		case <-ctx.Done():
			tw.mu.Lock()
			if !tw.written {
				tw.written = true
				tw.timedOut = true
				tw.mu.Unlock()
				log.Warn().
					Str("method", r.Method).
					Str("path", r.URL.Path).
					Dur("timeout", timeout).
					Msg("request timed out")
				writeErrorMessage(w, http.StatusGatewayTimeout, "TIMEOUT", "request timed out")
			} else {
				tw.mu.Unlock()
			}
			<-done
		}
	})
}

// timeoutResponseWriter drops writes made after the timeout response.
type timeoutResponseWriter struct {
	http.ResponseWriter
	mu       sync.Mutex
	written  bool
	timedOut bool
}

func (tw *timeoutResponseWriter) WriteHeader(code int) {
	tw.mu.Lock()
	defer tw.mu.Unlock()
	if tw.written {
		return
	}
	tw.written = true
	tw.ResponseWriter.WriteHeader(code)
}

func (tw *timeoutResponseWriter) Write(b []byte) (int, error) {
	tw.mu.Lock()
	defer tw.mu.Unlock()
	if tw.timedOut {
		return 0, http.ErrHandlerTimeout
	}
	tw.written = true
	return tw.ResponseWriter.Write(b)
}

func extractBearerToken(authHeader string) string {
	const bearerPrefix = "Bearer "
	if len(authHeader) > len(bearerPrefix) && strings.HasPrefix(authHeader, bearerPrefix) {
		return strings.TrimSpace(authHeader[len(bearerPrefix):])
	}
	return ""
}

// authMiddleware requires a valid bearer token and stores its principal in
// the request context.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := extractBearerToken(r.Header.Get("Authorization"))
		if token == "" {
			writeErrorMessage(w, http.StatusUnauthorized, ErrCodeUnauthenticated, "missing bearer token")
			return
		}
		payload, err := s.tokens.Validate(token)
		if err != nil {
			log.Debug().Err(err).Str("remote_addr", r.RemoteAddr).Msg("rejected bearer token")
			writeErrorMessage(w, http.StatusUnauthorized, ErrCodeUnauthenticated, "invalid bearer token")
			return
		}
		next.ServeHTTP(w, r.WithContext(middleware.WithPrincipal(r.Context(), payload.Principal)))
	})
}

// corsMiddleware adds CORS headers for allowed origins.
func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if origin := r.Header.Get("Origin"); origin != "" {
			if !s.origins.CheckOrigin(r) {
				log.Warn().
					Str("origin", origin).
					Str("remote", r.RemoteAddr).
					Msg("CORS request rejected - origin not allowed")
				writeErrorMessage(w, http.StatusForbidden, ErrCodeForbidden, "origin not allowed")
				return
			}
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Credentials", "true")
			w.Header().Add("Vary", "Origin")
		}

		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}
