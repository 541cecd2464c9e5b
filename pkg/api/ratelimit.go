package api

import (
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/tesserahq/tessera/pkg/auth"
)

// RateLimits carries requests-per-minute thresholds per request class.
type RateLimits struct {
	ReadRPM  int
	WriteRPM int
	AdminRPM int
}

// RateLimiter enforces per-actor limits. Authenticated requests key by
// principal, everything else by remote IP. Stale actors are evicted in
// the background.
type RateLimiter struct {
	mu       sync.Mutex
	visitors map[string]*visitor
	limits   RateLimits
	stopCh   chan struct{}
}

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

func NewRateLimiter(limits RateLimits) *RateLimiter {
	rl := &RateLimiter{
		visitors: make(map[string]*visitor),
		limits:   limits,
		stopCh:   make(chan struct{}),
	}
	go rl.cleanup()
	return rl
}

// Close stops the background eviction loop.
func (rl *RateLimiter) Close() {
	close(rl.stopCh)
}

func (rl *RateLimiter) cleanup() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-rl.stopCh:
			return
		case <-ticker.C:
			rl.mu.Lock()
			for key, v := range rl.visitors {
				if time.Since(v.lastSeen) > 3*time.Minute {
					delete(rl.visitors, key)
				}
			}
			rl.mu.Unlock()
		}
	}
}

// classRPM picks the threshold for a request. GETs are reads; key and
// override endpoints count as admin; everything else is a write.
func (rl *RateLimiter) classRPM(r *http.Request) int {
	switch {
	case strings.Contains(r.URL.Path, "/api-keys") || strings.HasSuffix(r.URL.Path, "/force"):
		return rl.limits.AdminRPM
	case r.Method == http.MethodGet || r.Method == http.MethodHead:
		return rl.limits.ReadRPM
	default:
		return rl.limits.WriteRPM
	}
}

func (rl *RateLimiter) limiterFor(key string, rpm int) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	v, ok := rl.visitors[key]
	if !ok {
		v = &visitor{limiter: rate.NewLimiter(rate.Limit(rpm)/60, rpm)}
		rl.visitors[key] = v
	}
	v.lastSeen = time.Now()
	return v.limiter
}

// Middleware enforces the limits, answering 429 with Retry-After.
func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rpm := rl.classRPM(r)
		if rpm <= 0 {
			next.ServeHTTP(w, r)
			return
		}

		key := actorKey(r)
		if !rl.limiterFor(key, rpm).Allow() {
			retryAfter := 60 / rpm
			if retryAfter < 1 {
				retryAfter = 1
			}
			w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
			writeEnvelope(w, r, http.StatusTooManyRequests, errorBody{
				Code:    "RATE_LIMITED",
				Message: "rate limit exceeded, retry after the indicated interval",
			})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func actorKey(r *http.Request) string {
	if p, err := auth.GetPrincipal(r.Context()); err == nil {
		return p.TeamID + "/" + p.ActorID
	}
	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		ip = strings.Trim(r.RemoteAddr, "[]")
	}
	return "ip/" + ip
}
