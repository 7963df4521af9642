package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/user/ytstats-ingest/internal/store"
)

// Prometheus collectors for ingestion progress. Incremented by the pipeline
// and the API gateway.
var (
	VideosSaved = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "ytstats_videos_saved_total",
		Help: "Total number of videos upserted into the database",
	})

	CommentsSaved = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "ytstats_comments_saved_total",
		Help: "Total number of comments upserted into the database",
	})

	FetchFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ytstats_fetch_failures_total",
		Help: "Total number of failed per-video fetch tasks",
	}, []string{"stage"})

	KeyRotations = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "ytstats_key_rotations_total",
		Help: "Total number of API key rotations triggered by quota exhaustion",
	})

	Stalls = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "ytstats_stalls_total",
		Help: "Total number of watchdog-triggered run restarts",
	})

	RunDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "ytstats_run_duration_seconds",
		Help:    "Duration of complete channel-processing passes in seconds",
		Buckets: prometheus.ExponentialBuckets(10, 2, 12),
	})
)

func init() {
	prometheus.MustRegister(VideosSaved)
	prometheus.MustRegister(CommentsSaved)
	prometheus.MustRegister(FetchFailures)
	prometheus.MustRegister(KeyRotations)
	prometheus.MustRegister(Stalls)
	prometheus.MustRegister(RunDuration)
}

// HealthResponse represents the health check response
type HealthResponse struct {
	Status   string `json:"status"`
	Database string `json:"database"`
	Videos   int64  `json:"videos"`
	Uptime   string `json:"uptime"`
}

// Server handles HTTP requests for health checks and metrics
type Server struct {
	store     store.Store
	router    *http.ServeMux
	server    *http.Server
	startTime time.Time
}

// NewServer creates a new HTTP server instance
func NewServer(store store.Store) *Server {
	s := &Server{
		store:     store,
		router:    http.NewServeMux(),
		startTime: time.Now(),
	}

	s.router.HandleFunc("/health", s.handleHealth)
	s.router.Handle("/metrics", promhttp.Handler())
	return s
}

// Start begins listening on the given port. Blocks until the server stops.
func (s *Server) Start(port int) error {
	s.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s.server.ListenAndServe()
}

// Stop gracefully shuts down the server
func (s *Server) Stop(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	resp := HealthResponse{
		Status:   "ok",
		Database: "ok",
		Uptime:   time.Since(s.startTime).Round(time.Second).String(),
	}

	status := http.StatusOK
	if err := s.store.Ping(ctx); err != nil {
		log.Warn().Err(err).Msg("Health check: database unreachable")
		resp.Status = "degraded"
		resp.Database = "unreachable"
		status = http.StatusServiceUnavailable
	} else if count, err := s.store.CountVideos(ctx); err == nil {
		resp.Videos = count
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		log.Error().Err(err).Msg("Failed to encode health response")
	}
}
