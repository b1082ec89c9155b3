package server

import (
	"context"
	"crypto/subtle"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

type contextKey string

const correlationIDKey contextKey = "correlation_id"

// correlationHeader carries the caller's trace id. One is generated when the
// caller does not send one, so every response is traceable.
const correlationHeader = "X-Correlation-ID"

func correlationID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(correlationHeader)
		if id == "" {
			id = uuid.New().String()
		}
		w.Header().Set(correlationHeader, id)
		ctx := context.WithValue(r.Context(), correlationIDKey, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// correlationIDFrom returns the request's correlation id, or "" outside the
// middleware chain.
func correlationIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(correlationIDKey).(string)
	return id
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()
		next.ServeHTTP(rec, r)
		zap.L().Info("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", rec.status),
			zap.Duration("duration", time.Since(start)),
			zap.String("correlation_id", correlationIDFrom(r.Context())),
		)
	})
}

// apiKeyAuth requires X-API-Key on every request when a key is configured.
// An empty configured key disables auth (local development).
func apiKeyAuth(key string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if key == "" {
				next.ServeHTTP(w, r)
				return
			}
			provided := r.Header.Get("X-API-Key")
			if subtle.ConstantTimeCompare([]byte(provided), []byte(key)) != 1 {
				writeError(w, http.StatusUnauthorized, "invalid or missing API key")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// rateLimit applies a token-bucket limit per client address. Buckets for idle
// clients are pruned so the map does not grow without bound.
func rateLimit(perSec float64, burst int) func(http.Handler) http.Handler {
	type client struct {
		limiter *rate.Limiter
		seen    time.Time
	}

	var (
		mu      sync.Mutex
		clients = make(map[string]*client)
	)

	lookup := func(addr string) *rate.Limiter {
		mu.Lock()
		defer mu.Unlock()

		c, ok := clients[addr]
		if !ok {
			c = &client{limiter: rate.NewLimiter(rate.Limit(perSec), burst)}
			clients[addr] = c
		}
		c.seen = time.Now()

		if len(clients) > 10000 {
			cutoff := time.Now().Add(-10 * time.Minute)
			for k, v := range clients {
				if v.seen.Before(cutoff) {
					delete(clients, k)
				}
			}
		}
		return c.limiter
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if perSec <= 0 {
				next.ServeHTTP(w, r)
				return
			}
			if !lookup(r.RemoteAddr).Allow() {
				w.Header().Set("Retry-After", "1")
				writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
