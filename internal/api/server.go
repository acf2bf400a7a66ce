// Package api serves the faucet over HTTP.
package api

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/netip"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/Klingon-tech/klingnet-faucet/internal/faucet"
	"github.com/Klingon-tech/klingnet-faucet/internal/faucetdb"
	klog "github.com/Klingon-tech/klingnet-faucet/internal/log"
	"github.com/Klingon-tech/klingnet-faucet/internal/metrics"
)

// maxBodySize is the maximum allowed request body size (64 KB).
const maxBodySize = 64 << 10

// shutdownGrace bounds how long Stop waits for requests in flight.
var shutdownGrace = 5 * time.Second

// Faucet is the controller surface the server drives.
type Faucet interface {
	HandleSend(ctx context.Context, destination string) (*faucet.SendResult, error)
	HandleAdminRebalance(ctx context.Context, secret string) (*faucet.RebalanceResult, error)
	IsAdminSecret(s string) bool
	Status() faucet.Status
}

// History lists journaled submissions, newest first.
type History interface {
	Recent(limit int) ([]faucetdb.Entry, error)
}

// Config controls listening, rate limiting and CORS. A zero RatePerMinute
// disables rate limiting; empty CORSOrigins disables CORS headers.
// TrustedProxies lists the reverse proxies whose forwarding headers name
// the real client.
type Config struct {
	Addr           string
	RatePerMinute  float64
	Burst          int
	CORSOrigins    []string
	TrustedProxies []netip.Prefix
}

// Server is the faucet HTTP server.
type Server struct {
	addr        string
	faucet      Faucet
	history     History          // nil = /history disabled
	metrics     *metrics.Metrics // nil = /metrics disabled
	limiter     *RateLimiter
	corsOrigins []string
	router      chi.Router
	server      *http.Server
	logger      zerolog.Logger
	ln          net.Listener

	// Parent of every request context; cancelled when Stop gives up waiting.
	baseCtx    context.Context
	cancelBase context.CancelFunc
}

// New creates a server for f.
func New(cfg Config, f Faucet) *Server {
	s := &Server{
		addr:        cfg.Addr,
		faucet:      f,
		limiter:     NewRateLimiter(cfg.RatePerMinute, cfg.Burst, cfg.TrustedProxies...),
		corsOrigins: cfg.CORSOrigins,
		logger:      klog.API,
	}
	s.baseCtx, s.cancelBase = context.WithCancel(context.Background())
	s.router = s.routes()
	s.server = &http.Server{
		Handler:     s.router,
		ReadTimeout: 30 * time.Second,
		// A send waits on the node for balance queries and submission.
		WriteTimeout: 2 * time.Minute,
		BaseContext:  func(net.Listener) context.Context { return s.baseCtx },
	}
	return s
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(s.cors)

	r.Get("/healthz", s.handleHealth)
	r.Get("/metrics", s.handleMetrics)
	r.Route("/api/v1", func(r chi.Router) {
		r.With(s.limiter.Middleware).Post("/request", s.handleRequest)
		r.Post("/admin/rebalance", s.handleAdminRebalance)
		r.Get("/status", s.handleStatus)
		r.Get("/history", s.handleHistory)
	})
	return r
}

// SetHistory enables the history endpoint.
func (s *Server) SetHistory(h History) {
	s.history = h
}

// SetMetrics enables the metrics endpoint and request counters.
func (s *Server) SetMetrics(m *metrics.Metrics) {
	s.metrics = m
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start begins listening and serving in a background goroutine.
// It returns immediately after the listener is bound.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("api listen: %w", err)
	}
	s.ln = ln

	go func() {
		if err := s.server.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.logger.Error().Err(err).Msg("API server error")
		}
	}()

	s.logger.Info().Str("addr", ln.Addr().String()).Msg("API server listening")
	return nil
}

// Addr returns the listener address (useful when bound to :0).
func (s *Server) Addr() string {
	if s.ln != nil {
		return s.ln.Addr().String()
	}
	return s.addr
}

// Stop gracefully shuts down the server. Requests still running after
// the grace period have their contexts cancelled; Stop does not wait for
// them to return.
func (s *Server) Stop() error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	err := s.server.Shutdown(ctx)
	s.cancelBase()
	return err
}

// cors adds CORS headers based on the configured origins and answers
// preflight requests.
func (s *Server) cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if origin := r.Header.Get("Origin"); origin != "" && len(s.corsOrigins) > 0 {
			for _, o := range s.corsOrigins {
				if o == "*" || o == origin {
					w.Header().Set("Access-Control-Allow-Origin", o)
					w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
					w.Header().Set("Access-Control-Allow-Headers", "Content-Type, "+secretHeader)
					break
				}
			}
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}
