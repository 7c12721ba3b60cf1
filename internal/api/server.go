package api

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"

	"swapgrid/internal/eventbus"
	"swapgrid/internal/models"
	"swapgrid/internal/refresher"
	"swapgrid/internal/repository"
)

// Server is the HTTP read surface: tickers, market data, health and the
// operator cache endpoints. All handlers are read-only except the cache
// refresh trigger.
type Server struct {
	repo       *repository.Repository
	readAPI    *refresher.ReadAPI
	statuses   *refresher.StatusRegistry
	supp       *refresher.SupplementaryFetcher
	bus        *eventbus.Bus
	httpServer *http.Server

	markets    []models.Market
	tokenPools map[string]string

	tickersTTL   time.Duration
	tickersCache *responseCache
	jwtSecret    string

	hub      *Hub
	done     chan struct{}
	stopOnce sync.Once
}

// Option tweaks server construction.
type Option func(*Server)

// WithTickersTTL sets the response-cache TTL for the tickers endpoint.
func WithTickersTTL(ttl time.Duration) Option {
	return func(s *Server) { s.tickersTTL = ttl }
}

// WithJWTSecret enables bearer auth on the operator endpoints.
func WithJWTSecret(secret string) Option {
	return func(s *Server) { s.jwtSecret = secret }
}

func NewServer(repo *repository.Repository, readAPI *refresher.ReadAPI, statuses *refresher.StatusRegistry, supp *refresher.SupplementaryFetcher, bus *eventbus.Bus, markets []models.Market, tokenPools map[string]string, port string, opts ...Option) *Server {
	s := &Server{
		repo:       repo,
		readAPI:    readAPI,
		statuses:   statuses,
		supp:       supp,
		bus:        bus,
		markets:    markets,
		tokenPools: tokenPools,
		tickersTTL: 30 * time.Second,
		hub:        newHub(),
		done:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.tickersCache = newResponseCache(s.tickersTTL)

	r := mux.NewRouter()
	r.Use(commonMiddleware)
	r.Use(requestIDMiddleware)
	r.Use(rateLimitMiddleware)

	registerRoutes(r, s)

	s.httpServer = &http.Server{
		Addr:    ":" + port,
		Handler: r,
	}
	return s
}

func (s *Server) Start() error {
	go s.hub.run(s.done)
	go s.runStatusFeed()
	return s.httpServer.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	err := s.httpServer.Shutdown(ctx)
	s.stopOnce.Do(func() { close(s.done) })
	return err
}

func commonMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}
