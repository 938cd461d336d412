package router

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"net"
	"net/http"
	"runtime/debug"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/khattlab/khatt/pkg/logging"
)

const requestIDHeader = "X-Request-ID"

type (
	requestIDKey struct{}
	cspNonceKey  struct{}
)

// RequestID propagates the client's X-Request-ID or assigns a new one, and
// echoes it in the response.
func RequestID() Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := r.Header.Get(requestIDHeader)
			if id == "" {
				id = uuid.NewString()
				r.Header.Set(requestIDHeader, id)
			}
			w.Header().Set(requestIDHeader, id)
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), requestIDKey{}, id)))
		})
	}
}

func GetRequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

// Recovery answers 500 when a handler panics. http.ErrAbortHandler is
// re-raised so the server aborts the response as usual.
func Recovery(logger logging.Logger) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				rec := recover()
				if rec == nil {
					return
				}
				if rec == http.ErrAbortHandler {
					panic(rec)
				}
				logger.Error("handler panic",
					logging.String("path", r.URL.Path),
					logging.Any("panic", rec),
					logging.String("stack", string(debug.Stack())),
				)
				http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
			}()
			next.ServeHTTP(w, r)
		})
	}
}

// SecureHeadersConfig configures SecureHeadersWithConfig. Empty strings omit
// the header.
type SecureHeadersConfig struct {
	FrameOptions      string
	ReferrerPolicy    string
	PermissionsPolicy string
	// HSTSMaxAge in seconds, sent over HTTPS only. Zero disables it.
	HSTSMaxAge int
	// CSPNonce adds a per-request nonce to script-src. Layouts read it with
	// GetCSPNonce.
	CSPNonce bool
}

func DefaultSecureHeadersConfig() SecureHeadersConfig {
	return SecureHeadersConfig{
		FrameOptions:   "DENY",
		ReferrerPolicy: "strict-origin-when-cross-origin",
		// The copy action needs clipboard-write.
		PermissionsPolicy: "geolocation=(), microphone=(), camera=(), clipboard-write=(self)",
		HSTSMaxAge:        31536000,
		CSPNonce:          true,
	}
}

func GetCSPNonce(ctx context.Context) string {
	nonce, _ := ctx.Value(cspNonceKey{}).(string)
	return nonce
}

func newNonce() string {
	b := make([]byte, 16)
	rand.Read(b)
	return base64.StdEncoding.EncodeToString(b)
}

// contentSecurityPolicy allows data: and blob: images because exports and
// uploaded backgrounds travel as such URLs.
func contentSecurityPolicy(nonce string) string {
	return strings.Join([]string{
		"default-src 'self'",
		"script-src 'self' 'nonce-" + nonce + "'",
		"style-src 'self' 'unsafe-inline'",
		"img-src 'self' data: blob:",
		"font-src 'self' data:",
		"connect-src 'self' ws: wss:",
		"frame-ancestors 'none'",
		"base-uri 'self'",
		"form-action 'self'",
	}, "; ")
}

func SecureHeaders() Middleware {
	return SecureHeadersWithConfig(DefaultSecureHeadersConfig())
}

func SecureHeadersWithConfig(cfg SecureHeadersConfig) Middleware {
	static := map[string]string{
		"X-Content-Type-Options": "nosniff",
		"X-Frame-Options":        cfg.FrameOptions,
		"Referrer-Policy":        cfg.ReferrerPolicy,
		"Permissions-Policy":     cfg.PermissionsPolicy,
	}
	hsts := ""
	if cfg.HSTSMaxAge > 0 {
		hsts = "max-age=" + strconv.Itoa(cfg.HSTSMaxAge) + "; includeSubDomains"
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			h := w.Header()
			for k, v := range static {
				if v != "" {
					h.Set(k, v)
				}
			}
			if hsts != "" && (r.TLS != nil || r.Header.Get("X-Forwarded-Proto") == "https") {
				h.Set("Strict-Transport-Security", hsts)
			}
			if cfg.CSPNonce {
				nonce := newNonce()
				h.Set("Content-Security-Policy", contentSecurityPolicy(nonce))
				r = r.WithContext(context.WithValue(r.Context(), cspNonceKey{}, nonce))
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RateLimit allows each client perSecond requests per second with bursts of
// the same size. Buckets idle for a minute are dropped.
func RateLimit(perSecond int) Middleware {
	l := &limiter{rate: float64(perSecond), buckets: make(map[string]*bucket)}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !l.allow(clientIP(r), time.Now()) {
				w.Header().Set("Retry-After", "1")
				http.Error(w, http.StatusText(http.StatusTooManyRequests), http.StatusTooManyRequests)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

const bucketIdle = time.Minute

type bucket struct {
	tokens float64
	seen   time.Time
}

type limiter struct {
	rate float64

	mu        sync.Mutex
	buckets   map[string]*bucket
	lastPrune time.Time
}

func (l *limiter) allow(key string, now time.Time) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if now.Sub(l.lastPrune) > bucketIdle {
		for k, b := range l.buckets {
			if now.Sub(b.seen) > bucketIdle {
				delete(l.buckets, k)
			}
		}
		l.lastPrune = now
	}

	b, ok := l.buckets[key]
	if !ok {
		b = &bucket{tokens: l.rate, seen: now}
		l.buckets[key] = b
	}
	b.tokens = min(b.tokens+now.Sub(b.seen).Seconds()*l.rate, l.rate)
	b.seen = now
	if b.tokens < 1 {
		return false
	}
	b.tokens--
	return true
}

func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		return strings.TrimSpace(first)
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
