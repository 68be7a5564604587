package middleware

import (
	"crypto/sha256"
	"crypto/subtle"
	"log/slog"
	"net/http"
)

// MetricsAuthMiddleware guards the prometheus endpoint with basic auth.
//
// Without credentials the endpoint is open in development and closed in
// production.
type MetricsAuthMiddleware struct {
	userDigest [sha256.Size]byte
	passDigest [sha256.Size]byte
	mode       metricsAccess
	logger     *slog.Logger
}

type metricsAccess int

const (
	metricsBasicAuth metricsAccess = iota
	metricsOpen
	metricsClosed
)

// NewMetricsAuthMiddleware creates a new metrics auth middleware.
// production decides what happens when no credentials are configured.
func NewMetricsAuthMiddleware(username, password string, production bool, logger *slog.Logger) *MetricsAuthMiddleware {
	m := &MetricsAuthMiddleware{
		userDigest: sha256.Sum256([]byte(username)),
		passDigest: sha256.Sum256([]byte(password)),
		logger:     logger,
	}

	switch {
	case username != "" || password != "":
		m.mode = metricsBasicAuth
	case production:
		m.mode = metricsClosed
		logger.Warn("metrics endpoint disabled; set METRICS_USERNAME and METRICS_PASSWORD to enable it")
	default:
		m.mode = metricsOpen
		logger.Warn("metrics endpoint is not protected; set METRICS_USERNAME and METRICS_PASSWORD")
	}
	return m
}

// Handler returns middleware that enforces the configured access mode.
func (m *MetricsAuthMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch m.mode {
		case metricsOpen:
			next.ServeHTTP(w, r)
			return
		case metricsClosed:
			http.NotFound(w, r)
			return
		}

		user, pass, ok := r.BasicAuth()
		if !ok || !m.matches(user, pass) {
			m.logger.Info("metrics scrape rejected", "remote_addr", getClientIP(r), "has_credentials", ok)
			w.Header().Set("WWW-Authenticate", `Basic realm="sturgeon metrics"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// matches compares fixed-size digests so the comparison time does not depend
// on the length of the configured credentials.
func (m *MetricsAuthMiddleware) matches(user, pass string) bool {
	u := sha256.Sum256([]byte(user))
	p := sha256.Sum256([]byte(pass))
	userOK := subtle.ConstantTimeCompare(u[:], m.userDigest[:])
	passOK := subtle.ConstantTimeCompare(p[:], m.passDigest[:])
	return userOK&passOK == 1
}
