package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

var scrapeDuration = prometheus.NewHistogram(
	prometheus.HistogramOpts{
		Namespace: "imgpipe",
		Subsystem: "http",
		Name:      "scrape_duration_seconds",
		Help:      "Duration of /metrics requests in seconds",
		Buckets:   prometheus.DefBuckets,
	},
)

func init() {
	prometheus.MustRegister(scrapeDuration)
}

// NewRouter returns a chi router serving /metrics.
func NewRouter() http.Handler {
	r := chi.NewRouter()
	r.Use(timing)
	r.Handle("/metrics", promhttp.Handler())
	return r
}

func timing(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		scrapeDuration.Observe(time.Since(start).Seconds())
	})
}

// Serve runs the metrics listener on addr until ctx is canceled.
func Serve(ctx context.Context, addr string, log zerolog.Logger) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           NewRouter(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", addr).Msg("metrics listener started")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}
