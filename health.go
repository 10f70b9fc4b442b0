package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/AquaToken/aqua-bribes/metrics"
)

// HealthServer serves the health and Prometheus metrics endpoints.
type HealthServer struct {
	name      string
	port      int
	startTime time.Time
	server    *http.Server
	logger    *zap.Logger
}

// HealthResponse is the JSON response for /health
type HealthResponse struct {
	Status  string `json:"status"`
	Service string `json:"service"`
	Uptime  string `json:"uptime"`
}

// NewHealthServer creates a new health server
func NewHealthServer(name string, port int, m *metrics.Metrics, logger *zap.Logger) *HealthServer {
	hs := &HealthServer{
		name:      name,
		port:      port,
		startTime: time.Now(),
		logger:    logger,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/health", hs.handleHealth)
	mux.Handle("/metrics", m.Handler())
	hs.server = &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: mux,
	}
	return hs
}

// Start starts the health HTTP server
func (hs *HealthServer) Start() {
	go func() {
		if err := hs.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			hs.logger.Error("health server failed", zap.Error(err))
		}
	}()
}

// Stop gracefully stops the health server
func (hs *HealthServer) Stop() error {
	return hs.server.Close()
}

func (hs *HealthServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{
		Status:  "healthy",
		Service: hs.name,
		Uptime:  time.Since(hs.startTime).String(),
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}
