// Package ratelimit limits how fast callers may hit the route layer.
// Every command ends up on the same browser session, so a burst of
// callers only queues behind the session lock.
package ratelimit

import (
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Limiter combines a global token bucket with one bucket per client.
type Limiter struct {
	mu           sync.Mutex
	limiter      *rate.Limiter
	perClient    map[string]*clientLimiter
	defaultRate  rate.Limit
	defaultBurst int
}

type clientLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewLimiter creates a limiter. A non-positive rate disables limiting.
func NewLimiter(requestsPerSecond float64, burst int) *Limiter {
	if burst < 1 {
		burst = 1
	}
	limit := rate.Limit(requestsPerSecond)
	if requestsPerSecond <= 0 {
		limit = rate.Inf
	}
	return &Limiter{
		limiter:      rate.NewLimiter(limit, burst),
		perClient:    make(map[string]*clientLimiter),
		defaultRate:  limit,
		defaultBurst: burst,
	}
}

// AllowClient checks the global bucket and then the client's own bucket.
func (l *Limiter) AllowClient(client string) bool {
	if !l.limiter.Allow() {
		return false
	}

	l.mu.Lock()
	cl, exists := l.perClient[client]
	if !exists {
		cl = &clientLimiter{limiter: rate.NewLimiter(l.defaultRate, l.defaultBurst)}
		l.perClient[client] = cl
	}
	cl.lastSeen = time.Now()
	l.mu.Unlock()

	return cl.limiter.Allow()
}

// Prune forgets clients idle for longer than idle.
func (l *Limiter) Prune(idle time.Duration) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	cutoff := time.Now().Add(-idle)
	removed := 0
	for client, cl := range l.perClient {
		if cl.lastSeen.Before(cutoff) {
			delete(l.perClient, client)
			removed++
		}
	}
	return removed
}

// Middleware rejects requests over the limit with 429 and a Retry-After
// header. onReject, if set, is called for every rejected request.
func (l *Limiter) Middleware(onReject func(*http.Request)) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !l.AllowClient(ClientKey(r)) {
				if onReject != nil {
					onReject(r)
				}
				w.Header().Set("Retry-After", strconv.Itoa(l.retryAfterSeconds()))
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusTooManyRequests)
				w.Write([]byte(`{"success":false,"error":"rate limit exceeded"}`))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func (l *Limiter) retryAfterSeconds() int {
	l.mu.Lock()
	limit := l.defaultRate
	l.mu.Unlock()

	if limit == rate.Inf || limit <= 0 {
		return 1
	}
	secs := int(1/float64(limit) + 0.999)
	if secs < 1 {
		secs = 1
	}
	return secs
}

// ClientKey identifies the caller by remote IP.
func ClientKey(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// Stats returns rate limiter statistics.
func (l *Limiter) Stats() LimiterStats {
	l.mu.Lock()
	defer l.mu.Unlock()

	return LimiterStats{
		ClientCount:  len(l.perClient),
		DefaultRate:  float64(l.defaultRate),
		DefaultBurst: l.defaultBurst,
	}
}

// LimiterStats contains rate limiter statistics.
type LimiterStats struct {
	ClientCount  int     `json:"client_count"`
	DefaultRate  float64 `json:"default_rate"`
	DefaultBurst int     `json:"default_burst"`
}
