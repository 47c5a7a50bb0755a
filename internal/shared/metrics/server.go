package metrics

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

type HealthFunc func(ctx context.Context) error

// HealthCheck é uma dependência verificada pelo /healthz (postgres, redis, ...).
type HealthCheck struct {
	Name string
	Fn   HealthFunc
}

// Handler monta o mux com /metrics e /healthz.
func Handler(checks ...HealthCheck) http.Handler {
	mux := http.NewServeMux()

	mux.Handle("/metrics", promhttp.Handler())

	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 500*time.Millisecond)
		defer cancel()

		for _, c := range checks {
			if err := c.Fn(ctx); err != nil {
				w.WriteHeader(http.StatusServiceUnavailable)
				_, _ = w.Write([]byte(fmt.Sprintf("unhealthy: %s: %v", c.Name, err)))
				return
			}
		}

		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	return mux
}

// StartMetricsServer sobe um servidor HTTP leve só pra /metrics e /healthz.
// Roda numa goroutine; o chamador faz Shutdown no encerramento.
func StartMetricsServer(port string, log *zap.Logger, checks ...HealthCheck) *http.Server {
	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           Handler(checks...),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		log.Info("metrics/health listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("metrics server", zap.Error(err))
		}
	}()

	return srv
}
