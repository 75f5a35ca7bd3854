// Package metrics defines the Prometheus collectors for the chat server and
// an optional exposition endpoint.
package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// ActiveConnections tracks currently open client connections.
	ActiveConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "doodlechat",
		Name:      "active_connections",
		Help:      "Number of currently open client connections.",
	})

	// RoomSubscribers tracks subscribers per room.
	RoomSubscribers = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "doodlechat",
		Name:      "room_subscribers",
		Help:      "Number of subscribers currently attached to each room.",
	}, []string{"room"})

	// BroadcastsTotal counts messages committed to room history.
	BroadcastsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "doodlechat",
		Name:      "broadcasts_total",
		Help:      "Messages committed to room history, by room.",
	}, []string{"room"})

	// DroppedDeliveriesTotal counts messages dropped on dead transports.
	DroppedDeliveriesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "doodlechat",
		Name:      "dropped_deliveries_total",
		Help:      "Messages dropped because the subscriber transport was dead.",
	})

	// SessionsActive tracks live sessions in the registry.
	SessionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "doodlechat",
		Name:      "sessions_active",
		Help:      "Number of live sessions in the registry.",
	})

	// AIRequestsTotal counts completion requests, including cache hits.
	AIRequestsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "doodlechat",
		Name:      "ai_requests_total",
		Help:      "Completion requests, including those served from cache.",
	})

	// AICacheHitsTotal counts completions served from the response cache.
	AICacheHitsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "doodlechat",
		Name:      "ai_cache_hits_total",
		Help:      "Completions served from the response cache.",
	})

	// AICacheMissesTotal counts completions that went upstream.
	AICacheMissesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "doodlechat",
		Name:      "ai_cache_misses_total",
		Help:      "Completions that required an upstream call.",
	})

	// AIFailuresTotal counts completions where the primary path failed.
	AIFailuresTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "doodlechat",
		Name:      "ai_failures_total",
		Help:      "Completions where the primary upstream path failed.",
	})
)

// Server exposes the /metrics endpoint on a dedicated listener.
type Server struct {
	httpServer *http.Server
}

// NewServer creates a metrics server bound to addr. A nil server is returned
// when addr is empty, meaning the endpoint is disabled.
func NewServer(addr string) *Server {
	if addr == "" {
		return nil
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	return &Server{
		httpServer: &http.Server{
			Addr:              addr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		},
	}
}

// Start begins serving in a background goroutine. Errors other than
// http.ErrServerClosed are reported on the returned channel.
func (s *Server) Start() <-chan error {
	errCh := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()
	return errCh
}

// Shutdown stops the metrics listener.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
