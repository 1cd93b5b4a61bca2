package server

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/tg123/go-htpasswd"
	"golang.org/x/sync/errgroup"

	"drivegate/internal/cache"
	"drivegate/internal/config"
	"drivegate/internal/filesystem"
	"drivegate/internal/handlers"
	"drivegate/internal/metrics"
	"drivegate/internal/resolver"
	"drivegate/internal/storage"
)

const (
	shutdownTimeout = 30 * time.Second
	gcInterval      = 10 * time.Minute
)

// Service endpoints sit under their own prefix; every other path belongs to
// the remote tree.
const (
	servicePrefix = "/_drivegate/"
	healthPath    = servicePrefix + "health"
	metricsPath   = servicePrefix + "metrics"
)

type Server struct {
	config     *config.Config
	backend    filesystem.Backend
	store      *storage.IndexStore
	paths      *cache.PathCache
	fs         *filesystem.RemoteFS
	httpServer *http.Server
	gateway    *handlers.GatewayHandler
	// users is set when basic auth is backed by an htpasswd file
	users      *htpasswd.File

	closeOnce sync.Once
	closeErr  error
}

// New logs into backend and wires the gateway. The server owns backend from
// here on and closes it on Stop.
func New(ctx context.Context, cfg *config.Config, backend filesystem.Backend) (*Server, error) {
	var users *htpasswd.File
	if cfg.AuthEnabled && cfg.AuthFile != "" {
		var err error
		users, err = htpasswd.New(cfg.AuthFile, htpasswd.DefaultSystems, nil)
		if err != nil {
			return nil, fmt.Errorf("failed to load htpasswd file %s: %w", cfg.AuthFile, err)
		}
	}

	store, err := storage.New(cfg.DataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to create index store: %w", err)
	}

	var opts []filesystem.Option
	var paths *cache.PathCache
	if cfg.UsePathCache {
		paths = cache.New(cfg.PathCacheTTL, cfg.PathCacheSize)
		opts = append(opts, filesystem.WithPathCache(paths))
	}

	fs, err := filesystem.Login(ctx, backend, store, opts...)
	if err != nil {
		if paths != nil {
			paths.Close()
		}
		store.Close()
		return nil, fmt.Errorf("failed to log into %s backend: %w", backend.Type(), err)
	}

	mux := http.NewServeMux()
	server := &Server{
		config:  cfg,
		backend: backend,
		store:   store,
		paths:   paths,
		fs:      fs,
		gateway: handlers.NewGatewayHandler(resolver.New(fs)),
		users:   users,
		httpServer: &http.Server{
			Addr:         cfg.Addr(),
			Handler:      mux,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
	}

	server.setupRoutes(mux)

	return server, nil
}

func (s *Server) setupRoutes(mux *http.ServeMux) {
	mux.HandleFunc(healthPath, s.handleHealth)
	mux.Handle(metricsPath, metrics.Handler())

	handler := s.loggingMiddleware(s.gateway.ServeHTTP)
	if s.config.AuthEnabled {
		handler = s.basicAuthMiddleware(handler)
	}

	mux.HandleFunc("/", handler)
}

type healthResponse struct {
	Status  string `json:"status"`
	Backend string `json:"backend"`
	Indexed int    `json:"indexed"`
	Cached  int    `json:"cached"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{Status: "healthy", Backend: s.backend.Type()}
	status := http.StatusOK

	count, err := s.store.CountRecords()
	if err != nil {
		log.Warnf("Health check could not read index store: %v", err)
		resp.Status = "degraded"
		status = http.StatusServiceUnavailable
	}
	resp.Indexed = count
	if s.paths != nil {
		resp.Cached = s.paths.Size()
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(resp)
}

// basicAuthMiddleware provides HTTP Basic authentication
func (s *Server) basicAuthMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		username, password, ok := r.BasicAuth()
		if !ok {
			w.Header().Set("WWW-Authenticate", `Basic realm="drivegate"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}

		if !s.authorized(username, password) {
			w.Header().Set("WWW-Authenticate", `Basic realm="drivegate"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}

		next(w, r)
	}
}

func (s *Server) authorized(username, password string) bool {
	if s.users != nil {
		return s.users.Match(username, password)
	}
	usernameMatch := subtle.ConstantTimeCompare([]byte(username), []byte(s.config.AuthUser)) == 1
	passwordMatch := subtle.ConstantTimeCompare([]byte(password), []byte(s.config.AuthPass)) == 1
	return usernameMatch && passwordMatch
}

// loggingMiddleware logs and measures gateway requests
func (s *Server) loggingMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		// Wrap response writer to capture status code
		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next(wrapped, r)

		duration := time.Since(start)
		method := resolver.ParseMethod(r.URL.Query().Get("method"))
		metrics.RecordRequest(string(method), wrapped.statusCode, duration)

		log.WithFields(log.Fields{
			"http_method": r.Method,
			"path":        r.URL.Path,
			"query":       r.URL.RawQuery,
			"status":      wrapped.statusCode,
			"duration":    duration,
			"user_agent":  r.UserAgent(),
		}).Info("Request served")
	}
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Start serves until SIGINT or SIGTERM and then shuts down gracefully.
func (s *Server) Start() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	return s.Run(ctx)
}

// Run serves until ctx is done or the listener fails.
func (s *Server) Run(ctx context.Context) error {
	log.WithFields(log.Fields{
		"addr":       s.config.Addr(),
		"backend":    s.backend.Type(),
		"data_dir":   s.config.DataDir,
		"path_cache": s.config.UsePathCache,
		"auth":       s.config.AuthEnabled,
	}).Info("Starting drivegate server")

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		s.collectGarbage(ctx, gcInterval)
		return nil
	})

	g.Go(func() error {
		return s.waitForShutdown(ctx)
	})

	return g.Wait()
}

// collectGarbage periodically reclaims index store space until ctx is done
func (s *Server) collectGarbage(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.store.RunGarbageCollection(); err != nil {
				log.Debugf("Index store garbage collection: %v", err)
			}
		}
	}
}

// waitForShutdown blocks until ctx is done and then stops the server
func (s *Server) waitForShutdown(ctx context.Context) error {
	<-ctx.Done()
	log.Info("Shutting down server...")

	if err := s.Stop(); err != nil {
		log.Errorf("Server forced to shutdown: %v", err)
		return err
	}

	log.Info("Server shutdown complete")
	return nil
}

// Stop shuts down the HTTP server and releases the backend, the path cache
// and the index store. It is safe to call more than once.
func (s *Server) Stop() error {
	s.closeOnce.Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		if err := s.httpServer.Shutdown(ctx); err != nil {
			s.closeErr = err
		}
		if s.paths != nil {
			s.paths.Close()
		}
		if err := s.backend.Close(); err != nil {
			log.Warnf("Error closing backend: %v", err)
		}
		if err := s.store.Close(); err != nil && s.closeErr == nil {
			s.closeErr = err
		}
	})
	return s.closeErr
}
