package api

import (
	"github.com/gorilla/mux"

	"swapgrid/internal/metrics"
)

func registerRoutes(r *mux.Router, s *Server) {
	r.HandleFunc("/health", s.handleHealth).Methods("GET", "OPTIONS")
	r.Handle("/metrics", metrics.Handler()).Methods("GET")
	r.HandleFunc("/ws/status", s.handleStatusWebSocket).Methods("GET", "OPTIONS")

	r.HandleFunc("/api/tickers", s.tickersCache.wrap(s.handleTickers)).Methods("GET", "OPTIONS")
	r.HandleFunc("/api/market-data", s.handleMarketData).Methods("GET", "OPTIONS")

	r.HandleFunc("/api/health", s.handleAPIHealth).Methods("GET", "OPTIONS")
	r.HandleFunc("/api/health/history", s.handleHealthHistory).Methods("GET", "OPTIONS")

	r.HandleFunc("/api/cache/status", s.handleCacheStatus).Methods("GET", "OPTIONS")
	r.HandleFunc("/api/cache/refresh", s.requireOperator(s.handleCacheRefresh)).Methods("POST", "OPTIONS")
}
