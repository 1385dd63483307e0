package api

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"

	"grimm.is/vpnadmin/internal/audit"
	"grimm.is/vpnadmin/internal/auth"
	"grimm.is/vpnadmin/internal/clock"
	"grimm.is/vpnadmin/internal/errors"
)

type requestIDKey struct{}

// requestIDMiddleware tags every request with an ID, reusing a well-formed
// X-Request-ID from the caller.
func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if _, err := uuid.Parse(id); err != nil {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", id)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), requestIDKey{}, id)))
	})
}

func requestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

// loggingMiddleware logs all API requests
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := clock.Now()
		wrapped := &responseWriter{ResponseWriter: w}

		next.ServeHTTP(wrapped, r)

		duration := clock.Since(start)
		status := wrapped.Status()

		// Pattern keeps the metric labels bounded; it is set by the mux.
		pattern := r.Pattern
		if pattern == "" {
			pattern = "unmatched"
		}
		s.metrics.RecordAPIRequest(r.Method, pattern, status, duration.Seconds())

		if r.URL.Path == "/metrics" || r.URL.Path == "/api/metrics" || strings.HasPrefix(r.URL.Path, "/healthz") {
			return
		}
		args := []any{
			"method", r.Method,
			"path", r.URL.Path,
			"status", status,
			"bytes", wrapped.size,
			"duration", duration.Round(time.Millisecond),
			"ip", s.clientIP(r),
			"request_id", requestID(r.Context()),
		}
		switch {
		case status >= 500:
			s.logger.Error("request", args...)
		case status >= 400:
			s.logger.Warn("request", args...)
		default:
			s.logger.Info("request", args...)
		}
	})
}

// corsMiddleware answers for the configured dashboard origins. With no
// origins configured no CORS headers are sent.
func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		allowed := s.Config().API.CORSOrigins
		if origin == "" || !(slices.Contains(allowed, origin) || slices.Contains(allowed, "*")) {
			next.ServeHTTP(w, r)
			return
		}

		h := w.Header()
		h.Set("Access-Control-Allow-Origin", origin)
		h.Add("Vary", "Origin")
		h.Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		h.Set("Access-Control-Allow-Headers", "Authorization, Content-Type, X-API-Key, X-Request-ID")
		h.Set("Access-Control-Expose-Headers", "X-Request-ID")
		h.Set("Access-Control-Max-Age", "600")
		if r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != "" {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// maxBodyMiddleware limits the size of request bodies to prevent memory exhaustion.
func (s *Server) maxBodyMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet || r.Method == http.MethodHead || r.Method == http.MethodOptions {
			next.ServeHTTP(w, r)
			return
		}

		maxBytes := s.Config().API.MaxBodyBytes
		if r.ContentLength > maxBytes {
			WriteError(w, http.StatusRequestEntityTooLarge, "Request body too large")
			return
		}
		r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
		next.ServeHTTP(w, r)
	})
}

// require authenticates the request and checks perm before calling handler.
func (s *Server) require(perm auth.Permission, handler http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c := s.components()
		if !c.cfg.API.AuthRequired() {
			handler.ServeHTTP(w, r)
			return
		}

		key, err := c.auth.Authenticate(r, clientIP(r, c.proxies), perm)
		if err != nil {
			if errors.IsKind(err, errors.KindUnauthorized) {
				w.Header().Set("WWW-Authenticate", `Bearer realm="vpnadmin"`)
			}
			WriteError(w, errors.KindOf(err).HTTPStatus(), errors.ClientMessage(err))
			return
		}
		handler.ServeHTTP(w, r.WithContext(auth.WithKey(r.Context(), key)))
	})
}

type auditDetailsKey struct{}

// annotate adds a detail to the audit event of the current request. It is a
// no-op outside audited handlers. Never pass secrets or file contents.
func annotate(r *http.Request, key string, value any) {
	if d, ok := r.Context().Value(auditDetailsKey{}).(map[string]any); ok {
		d[key] = value
	}
}

// audited records the outcome of a mutating handler in the audit trail.
func (s *Server) audited(action string, handler http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		details := make(map[string]any)
		wrapped := &responseWriter{ResponseWriter: w}

		handler(wrapped, r.WithContext(context.WithValue(r.Context(), auditDetailsKey{}, details)))

		actor := "anonymous"
		if key := auth.KeyFromContext(r.Context()); key != nil {
			actor = key.Name
		}
		evt := audit.Event{
			Actor:     actor,
			RequestID: requestID(r.Context()),
			Action:    action,
			Resource:  r.URL.Path,
			Details:   details,
			Status:    wrapped.Status(),
			IP:        s.clientIP(r),
		}
		if s.audit == nil {
			s.logger.Audit(evt.Action, evt.Resource, map[string]any{
				"actor":      evt.Actor,
				"status":     evt.Status,
				"ip":         evt.IP,
				"request_id": evt.RequestID,
			})
			return
		}
		if err := s.audit.Write(evt); err != nil {
			s.requestLogger(r).Error("failed to write audit event", "action", action, "error", err)
		}
	})
}

// responseWriter captures the status code and size for logging and audit.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
	size       int
}

func (rw *responseWriter) WriteHeader(code int) {
	if rw.statusCode == 0 {
		rw.statusCode = code
	}
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	if rw.statusCode == 0 {
		rw.statusCode = http.StatusOK
	}
	n, err := rw.ResponseWriter.Write(b)
	rw.size += n
	return n, err
}

// Status returns the status sent, 200 if the handler wrote nothing.
func (rw *responseWriter) Status() int {
	if rw.statusCode == 0 {
		return http.StatusOK
	}
	return rw.statusCode
}

// Implement http.Flusher for file downloads
func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Implement http.Hijacker for websocket support
func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if h, ok := rw.ResponseWriter.(http.Hijacker); ok {
		rw.statusCode = http.StatusSwitchingProtocols
		return h.Hijack()
	}
	return nil, nil, fmt.Errorf("hijack not supported")
}
