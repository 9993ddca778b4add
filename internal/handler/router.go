package handler

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"otp-auth-service/internal/util"
)

const healthTimeout = 5 * time.Second

// HealthReporter checks every backing dependency. A nil error means healthy.
type HealthReporter interface {
	HealthCheck(ctx context.Context) map[string]error
}

type RouterOptions struct {
	// RequireTLS answers plain HTTP requests with 426.
	RequireTLS     bool
	AllowedOrigins []string
	RequestTimeout time.Duration
	// TrustedProxies are CIDRs allowed to name the client in X-Forwarded-For,
	// X-Real-IP or True-Client-IP. Requests from anywhere else are keyed on
	// the connection address.
	TrustedProxies []string
}

// requireHTTPS rejects any request that wasn't made over TLS
func requireHTTPS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.TLS == nil {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUpgradeRequired)
			_, _ = w.Write([]byte(`{"success":false,"error":"https_required","message":"HTTPS required."}`))
			return
		}
		next.ServeHTTP(w, r)
	})
}

// NewRouter creates the chi router with the middleware stack, the health
// endpoint and the auth routes under /api/v1.
func NewRouter(authHandler *AuthHandler, health HealthReporter, opts RouterOptions, logger *zap.Logger) chi.Router {
	router := chi.NewRouter()

	if opts.RequireTLS {
		router.Use(requireHTTPS)
	}

	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 30 * time.Second
	}
	if len(opts.AllowedOrigins) == 0 {
		opts.AllowedOrigins = []string{"https://*"}
	}

	router.Use(middleware.RequestID)
	if proxies := parseProxies(opts.TrustedProxies, logger); len(proxies) > 0 {
		router.Use(trustedRealIP(proxies))
	}
	router.Use(LoggerMiddleware(logger))
	router.Use(middleware.Recoverer)
	router.Use(middleware.Timeout(opts.RequestTimeout))

	router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   opts.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", "X-Request-Id"},
		ExposedHeaders:   []string{"X-Request-Id"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	router.Get("/health", healthHandler(health, logger))

	router.Route("/api/v1", func(r chi.Router) {
		authHandler.RegisterRoutes(r)
	})

	router.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusNotFound, errorResponse("not_found", "Endpoint not found."))
	})

	router.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusMethodNotAllowed, errorResponse("method_not_allowed", "Method not allowed."))
	})

	return router
}

// trustedRealIP applies middleware.RealIP only when the peer is a trusted
// proxy, so a direct client cannot pick its own address.
func trustedRealIP(proxies []*net.IPNet) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		forwarded := middleware.RealIP(next)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if fromTrustedProxy(r.RemoteAddr, proxies) {
				forwarded.ServeHTTP(w, r)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func fromTrustedProxy(remoteAddr string, proxies []*net.IPNet) bool {
	ip := net.ParseIP(hostOf(remoteAddr))
	if ip == nil {
		return false
	}
	for _, n := range proxies {
		if n.Contains(ip) {
			return true
		}
	}
	return false
}

func parseProxies(cidrs []string, logger *zap.Logger) []*net.IPNet {
	var out []*net.IPNet
	for _, cidr := range cidrs {
		_, n, err := net.ParseCIDR(cidr)
		if err != nil {
			logger.Warn("Ignoring invalid trusted proxy range", util.String("cidr", cidr), zap.Error(err))
			continue
		}
		out = append(out, n)
	}
	return out
}

func healthHandler(health HealthReporter, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
		defer cancel()

		components := make(map[string]string)
		status, code := "healthy", http.StatusOK
		for name, err := range health.HealthCheck(ctx) {
			if err != nil {
				components[name] = err.Error()
				status, code = "unhealthy", http.StatusServiceUnavailable
				logger.Warn("Health check failed", util.String("component", name), zap.Error(err))
				continue
			}
			components[name] = "ok"
		}

		writeJSON(w, code, map[string]interface{}{
			"status":     status,
			"service":    "otp-auth-service",
			"components": components,
		})
	}
}

func writeJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(data)
}

// LoggerMiddleware creates a middleware that logs HTTP requests
func LoggerMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			defer func() {
				logger.Info("HTTP request",
					util.String("method", r.Method),
					util.String("path", r.URL.Path),
					util.IP(r.RemoteAddr),
					util.String("request_id", middleware.GetReqID(r.Context())),
					util.Int("status", ww.Status()),
					util.Duration("duration", time.Since(start)),
				)
			}()
			next.ServeHTTP(ww, r)
		})
	}
}
