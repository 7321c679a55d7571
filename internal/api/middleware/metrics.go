// metrics.go — Prometheus HTTP метрики storefront.
// Регистрирует метрики: sf_http_requests_total, sf_http_request_duration_seconds.
package middleware

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// HTTP метрики
var (
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sf_http_requests_total",
			Help: "Общее количество HTTP-запросов к storefront",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "sf_http_request_duration_seconds",
			Help:    "Длительность HTTP-запросов к storefront в секундах",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)
)

// knownPaths — маршруты API. Прочие пути попадают в метки как "other",
// чтобы сканеры не раздували кардинальность.
var knownPaths = map[string]struct{}{
	"/health/live":            {},
	"/health/ready":           {},
	"/metrics":                {},
	"/.well-known/jwks.json":  {},
	"/api/v1/auth/otp":        {},
	"/api/v1/auth/otp/verify": {},
	"/api/v1/auth/session":    {},
	"/api/v1/auth/logout":     {},
	"/api/v1/reviews":         {},
}

// MetricsMiddleware возвращает HTTP middleware для сбора Prometheus метрик.
func MetricsMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			path := normalizePath(r.URL.Path)

			ww := wrap(w, r)
			next.ServeHTTP(ww, r)

			status := strconv.Itoa(statusOf(ww))
			httpRequestsTotal.WithLabelValues(r.Method, path, status).Inc()
			httpRequestDuration.WithLabelValues(r.Method, path).Observe(time.Since(start).Seconds())
		})
	}
}

func normalizePath(path string) string {
	if _, ok := knownPaths[path]; ok {
		return path
	}
	return "other"
}
