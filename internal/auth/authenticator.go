// Package auth checks API keys and permission scopes for the dispatcher.
//
// Keys are presented as "Authorization: Bearer <key>" or "X-API-Key: <key>"
// and compared against bcrypt hashes from the configuration. Clients that keep
// presenting bad keys are locked out for the rest of the window.
package auth

import (
	"context"
	"crypto/sha256"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/bcrypt"

	"grimm.is/vpnadmin/internal/errors"
	"grimm.is/vpnadmin/internal/logging"
	"grimm.is/vpnadmin/internal/metrics"
	"grimm.is/vpnadmin/internal/ratelimit"
)

const (
	// MaxFailures is the number of failed attempts allowed per client per
	// FailureWindow.
	MaxFailures   = 10
	FailureWindow = 5 * time.Minute
)

type contextKey struct{}

// WithKey returns a context carrying the authenticated key.
func WithKey(ctx context.Context, k *Key) context.Context {
	return context.WithValue(ctx, contextKey{}, k)
}

// KeyFromContext returns the authenticated key, or nil.
func KeyFromContext(ctx context.Context) *Key {
	k, _ := ctx.Value(contextKey{}).(*Key)
	return k
}

// Authenticator validates request credentials.
type Authenticator struct {
	keys     []*Key
	failures *ratelimit.Limiter
	logger   *logging.Logger
	metrics  *metrics.Registry

	// verified caches bcrypt successes by SHA-256 of the presented key.
	mu       sync.RWMutex
	verified map[[32]byte]*Key
}

// NewAuthenticator creates an Authenticator for keys. failures counts bad
// attempts per client; a nil limiter gets a fresh one. Sharing the limiter
// across reloads keeps lockouts in force.
func NewAuthenticator(keys []*Key, failures *ratelimit.Limiter, logger *logging.Logger, m *metrics.Registry) *Authenticator {
	if logger == nil {
		logger = logging.Default()
	}
	if failures == nil {
		failures = NewFailureLimiter()
	}
	return &Authenticator{
		keys:     keys,
		failures: failures,
		logger:   logger.WithComponent("auth"),
		metrics:  m,
		verified: make(map[[32]byte]*Key),
	}
}

// NewFailureLimiter returns a limiter sized for MaxFailures per
// FailureWindow.
func NewFailureLimiter() *ratelimit.Limiter {
	return ratelimit.NewLimiter(MaxFailures, FailureWindow)
}

// Authenticate checks the request credentials and the required permission.
// clientIP identifies the caller for lockout and allow-list checks.
func (a *Authenticator) Authenticate(r *http.Request, clientIP string, required Permission) (*Key, error) {
	if a.failures.Exhausted(clientIP) {
		a.count("locked_out")
		return nil, errors.New(errors.KindRateLimited, "too many failed authentication attempts")
	}

	token := Token(r)
	if token == "" {
		a.fail(clientIP, "missing")
		return nil, errors.New(errors.KindUnauthorized, "authentication required")
	}

	key := a.lookup(token)
	if key == nil {
		a.fail(clientIP, "invalid")
		a.logger.Warn("invalid API key", "ip", clientIP, "path", r.URL.Path)
		return nil, errors.New(errors.KindUnauthorized, "invalid API key")
	}
	if !key.IsIPAllowed(clientIP) {
		a.count("ip_denied")
		a.logger.Warn("API key used from disallowed address", "key", key.Name, "ip", clientIP)
		return nil, errors.New(errors.KindForbidden, "API key not allowed from this address")
	}
	if required != "" && !key.HasPermission(required) {
		a.count("permission")
		return nil, errors.Newf(errors.KindForbidden, "permission %s required", required)
	}
	return key, nil
}

func (a *Authenticator) lookup(token string) *Key {
	sum := sha256.Sum256([]byte(token))

	a.mu.RLock()
	k, ok := a.verified[sum]
	a.mu.RUnlock()
	if ok {
		return k
	}

	for _, k := range a.keys {
		if bcrypt.CompareHashAndPassword([]byte(k.Hash), []byte(token)) == nil {
			a.mu.Lock()
			a.verified[sum] = k
			a.mu.Unlock()
			return k
		}
	}
	return nil
}

func (a *Authenticator) fail(clientIP, reason string) {
	a.failures.Allow(clientIP)
	a.count(reason)
}

func (a *Authenticator) count(reason string) {
	if a.metrics != nil {
		a.metrics.AuthFailures.WithLabelValues(reason).Inc()
	}
}

// Token extracts the presented API key from the request. Websocket
// upgrades may pass it as the api_key query parameter.
func Token(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		if scheme, token, ok := strings.Cut(h, " "); ok && strings.EqualFold(scheme, "Bearer") {
			return strings.TrimSpace(token)
		}
	}
	if k := strings.TrimSpace(r.Header.Get("X-API-Key")); k != "" {
		return k
	}
	// Browsers cannot set headers on websocket upgrades.
	if strings.EqualFold(r.Header.Get("Upgrade"), "websocket") {
		return r.URL.Query().Get("api_key")
	}
	return ""
}
