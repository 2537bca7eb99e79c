package api

import (
	"bufio"
	"context"
	"errors"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/nerrad567/gray-logic-dobiss/internal/auth"
)

type contextKey int

const (
	ctxKeyRequest contextKey = iota
	ctxKeyClaims
)

// maxRequestBodySize caps request bodies. A state change is a few bytes.
const maxRequestBodySize = 64 << 10

// maxRequestIDLen bounds a client-supplied X-Request-ID before it is
// echoed and logged.
const maxRequestIDLen = 64

// requestInfo is shared by the middleware chain so the access log can name
// the caller that authMiddleware identified further in.
type requestInfo struct {
	id      string
	subject string
}

func requestInfoFrom(ctx context.Context) *requestInfo {
	info, _ := ctx.Value(ctxKeyRequest).(*requestInfo) //nolint:errcheck // nil outside the chain
	return info
}

// requestIDFromContext returns the request ID, or "" outside the chain.
func requestIDFromContext(ctx context.Context) string {
	if info := requestInfoFrom(ctx); info != nil {
		return info.id
	}
	return ""
}

// validRequestID accepts printable ASCII without spaces, so a client ID
// cannot inject into log lines.
func validRequestID(id string) bool {
	if id == "" || len(id) > maxRequestIDLen {
		return false
	}
	for i := 0; i < len(id); i++ {
		if id[i] <= ' ' || id[i] > '~' {
			return false
		}
	}
	return true
}

// requestIDMiddleware keeps a well-formed X-Request-ID from the client or
// assigns a UUID, and echoes it on the response.
func (s *Server) requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if !validRequestID(id) {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", id)

		ctx := context.WithValue(r.Context(), ctxKeyRequest, &requestInfo{id: id})
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// loggingMiddleware writes one access log line per request. Server errors
// log at error, client errors at warn, the rest at info.
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, r)

		args := []any{
			"method", r.Method,
			"path", r.URL.Path,
			"status", sw.status,
			"duration_ms", time.Since(start).Milliseconds(),
		}
		if info := requestInfoFrom(r.Context()); info != nil {
			args = append(args, "request_id", info.id)
			if info.subject != "" {
				args = append(args, "subject", info.subject)
			}
		}

		switch {
		case sw.status >= http.StatusInternalServerError:
			s.logger.Error("http request", args...)
		case sw.status >= http.StatusBadRequest:
			s.logger.Warn("http request", args...)
		default:
			s.logger.Info("http request", args...)
		}
	})
}

// recoveryMiddleware turns a handler panic into a 500.
func (s *Server) recoveryMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.logger.Error("panic recovered in HTTP handler",
					"panic", rec,
					"method", r.Method,
					"path", r.URL.Path,
					"request_id", requestIDFromContext(r.Context()),
				)
				writeInternalError(w, "internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func (s *Server) bodySizeLimitMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Body != nil {
			r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		}
		next.ServeHTTP(w, r)
	})
}

// bearerToken extracts the token from an Authorization header. The scheme
// is matched case-insensitively.
func bearerToken(header string) (string, bool) {
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

// authMiddleware validates the bearer token and stores its claims in the
// request context.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := bearerToken(r.Header.Get("Authorization"))
		if !ok {
			writeUnauthorized(w, "bearer token required")
			return
		}

		claims, err := auth.ParseToken(token, s.secCfg.JWT.Secret.Value())
		if err != nil {
			s.logger.Debug("rejected bearer token", "error", err, "request_id", requestIDFromContext(r.Context()))
			writeUnauthorized(w, "invalid or expired token")
			return
		}

		if info := requestInfoFrom(r.Context()); info != nil {
			info.subject = claims.Subject
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ctxKeyClaims, claims)))
	})
}

// requirePermission rejects callers whose role lacks perm. It runs after
// authMiddleware.
func (s *Server) requirePermission(perm auth.Permission) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims := claimsFromContext(r.Context())
			switch {
			case claims == nil:
				writeUnauthorized(w, "bearer token required")
			case !auth.HasPermission(claims.Role, perm):
				writeError(w, http.StatusForbidden, ErrCodeForbidden, "role "+string(claims.Role)+" lacks "+string(perm))
			default:
				next.ServeHTTP(w, r)
			}
		})
	}
}

// claimsFromContext returns the caller's claims, or nil outside
// authMiddleware.
func claimsFromContext(ctx context.Context) *auth.Claims {
	claims, _ := ctx.Value(ctxKeyClaims).(*auth.Claims) //nolint:errcheck // nil when absent
	return claims
}

// statusWriter records the response status for the access log.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

func (w *statusWriter) Unwrap() http.ResponseWriter { return w.ResponseWriter }

// Hijack lets the WebSocket upgrade take over the connection.
func (w *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	w.status = http.StatusSwitchingProtocols
	return h.Hijack()
}
