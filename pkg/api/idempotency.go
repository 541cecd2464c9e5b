package api

import (
	"bytes"
	"net/http"
	"sync"
	"time"
)

// cachedResponse is a previously-seen response held for replay.
type cachedResponse struct {
	StatusCode int
	Body       []byte
	CachedAt   time.Time
}

// IdempotencyStore caches mutation responses keyed by Idempotency-Key,
// so clients can retry a publish or acknowledgment without double
// effect.
type IdempotencyStore struct {
	mu      sync.RWMutex
	entries map[string]*cachedResponse
	ttl     time.Duration
	stopCh  chan struct{}
}

func NewIdempotencyStore(ttl time.Duration) *IdempotencyStore {
	if ttl <= 0 {
		ttl = time.Hour
	}
	s := &IdempotencyStore{
		entries: make(map[string]*cachedResponse),
		ttl:     ttl,
		stopCh:  make(chan struct{}),
	}
	go s.cleanup()
	return s
}

// Close stops the background eviction loop.
func (s *IdempotencyStore) Close() {
	close(s.stopCh)
}

func (s *IdempotencyStore) cleanup() {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.mu.Lock()
			now := time.Now()
			for k, v := range s.entries {
				if now.Sub(v.CachedAt) > s.ttl {
					delete(s.entries, k)
				}
			}
			s.mu.Unlock()
		}
	}
}

func (s *IdempotencyStore) check(key string) (*cachedResponse, bool) {
	s.mu.RLock()
	cached, ok := s.entries[key]
	s.mu.RUnlock()
	if ok && time.Since(cached.CachedAt) < s.ttl {
		return cached, true
	}
	return nil, false
}

func (s *IdempotencyStore) set(key string, statusCode int, body []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[key] = &cachedResponse{
		StatusCode: statusCode,
		Body:       body,
		CachedAt:   time.Now(),
	}
}

// replayCapture records the response for later replay.
type replayCapture struct {
	http.ResponseWriter
	statusCode int
	body       bytes.Buffer
}

func (rc *replayCapture) WriteHeader(code int) {
	rc.statusCode = code
	rc.ResponseWriter.WriteHeader(code)
}

func (rc *replayCapture) Write(b []byte) (int, error) {
	rc.body.Write(b)
	return rc.ResponseWriter.Write(b)
}

// Middleware replays cached responses for repeated Idempotency-Key
// values on mutating requests. Only 2xx responses are cached; a failed
// attempt may be retried with the same key.
func (s *IdempotencyStore) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost && r.Method != http.MethodPut && r.Method != http.MethodPatch {
			next.ServeHTTP(w, r)
			return
		}
		key := r.Header.Get("Idempotency-Key")
		if key == "" {
			next.ServeHTTP(w, r)
			return
		}

		if cached, ok := s.check(key); ok {
			w.Header().Set("Content-Type", "application/json")
			w.Header().Set("X-Idempotent-Replay", "true")
			w.WriteHeader(cached.StatusCode)
			_, _ = w.Write(cached.Body)
			return
		}

		capture := &replayCapture{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(capture, r)
		if capture.statusCode >= 200 && capture.statusCode < 300 {
			s.set(key, capture.statusCode, capture.body.Bytes())
		}
	})
}
