package api

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/tesserahq/tessera/pkg/auth"
	"github.com/tesserahq/tessera/pkg/contracts"
)

type requestIDKey struct{}

// RequestIDMiddleware stamps every request with an X-Request-ID,
// reusing the client's when present.
func RequestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = uuid.New().String()
		}
		w.Header().Set("X-Request-ID", requestID)
		ctx := context.WithValue(r.Context(), requestIDKey{}, requestID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// GetRequestID extracts the request ID from the context.
func GetRequestID(ctx context.Context) string {
	if id, ok := ctx.Value(requestIDKey{}).(string); ok {
		return id
	}
	return ""
}

// statusRecorder captures the status code for the access log.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (rec *statusRecorder) WriteHeader(code int) {
	rec.status = code
	rec.ResponseWriter.WriteHeader(code)
}

// LoggingMiddleware emits one structured access-log line per request.
func LoggingMiddleware(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rec, r)
			logger.Info("request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", rec.status,
				"duration_ms", time.Since(start).Milliseconds(),
				"request_id", GetRequestID(r.Context()),
			)
		})
	}
}

// CORSMiddleware handles cross-origin requests and preflights.
func CORSMiddleware(allowedOrigins []string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if origin := r.Header.Get("Origin"); origin != "" && originAllowed(origin, allowedOrigins) {
				w.Header().Set("Access-Control-Allow-Origin", origin)
			}
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Authorization, Content-Type, Idempotency-Key")
			w.Header().Set("Access-Control-Expose-Headers", "Retry-After, X-Request-ID")
			w.Header().Set("Access-Control-Max-Age", "86400")

			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func originAllowed(origin string, allowed []string) bool {
	if len(allowed) == 0 {
		return true
	}
	for _, a := range allowed {
		if a == "*" || a == origin {
			return true
		}
	}
	return false
}

// AuthMiddleware resolves the caller's Principal. Bearer tokens in the
// API key format authenticate against the key store; anything else is
// treated as a session token. Fails closed.
func AuthMiddleware(keys *auth.Authenticator, sessions *auth.Sessions) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			if header == "" {
				writeErrorCode(w, r, contracts.CodeMissingAPIKey, "missing Authorization header")
				return
			}
			parts := strings.SplitN(header, " ", 2)
			if len(parts) != 2 || parts[0] != "Bearer" || parts[1] == "" {
				writeErrorCode(w, r, contracts.CodeInvalidAuth, "expected 'Bearer <token>'")
				return
			}
			token := parts[1]

			var principal *auth.Principal
			var err error
			if strings.HasPrefix(token, "tess_") || keys.IsBootstrap(token) {
				principal, err = keys.AuthenticateKey(r.Context(), token)
			} else if sessions != nil {
				principal, err = sessions.Verify(r.Context(), token)
			} else {
				writeErrorCode(w, r, contracts.CodeInvalidAPIKey, "unrecognized credential")
				return
			}
			if err != nil {
				writeError(w, r, err)
				return
			}

			ctx := auth.WithPrincipal(r.Context(), principal)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// requireScope fetches the Principal and checks a scope, writing the
// error response itself on failure.
func requireScope(w http.ResponseWriter, r *http.Request, scope contracts.Scope) (*auth.Principal, bool) {
	p, err := auth.GetPrincipal(r.Context())
	if err != nil {
		writeErrorCode(w, r, contracts.CodeMissingAPIKey, "authentication required")
		return nil, false
	}
	if !p.Can(scope) {
		writeErrorCode(w, r, contracts.CodeNoScope, "scope "+string(scope)+" required")
		return nil, false
	}
	return p, true
}

// Chain applies middleware outermost-first.
func Chain(h http.Handler, mw ...func(http.Handler) http.Handler) http.Handler {
	for i := len(mw) - 1; i >= 0; i-- {
		h = mw[i](h)
	}
	return h
}
