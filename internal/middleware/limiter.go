package middleware

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"slices"
	"strings"
	"sync"
	"time"

	"marketplace-be/internal/utils"

	"golang.org/x/time/rate"
)

// Rate Limit Tiers
const (
	// Order creation (Strict)
	limitStrict = rate.Limit(2)
	burstStrict = 5

	// Payment provider callbacks, which arrive in bursts from few addresses
	limitWebhook = rate.Limit(50)
	burstWebhook = 200

	// General (Default)
	limitGeneral = rate.Limit(10)
	burstGeneral = 20

	// Frontend-heavy apps
	limitFrontend = rate.Limit(20)
	burstFrontend = 40

	// Internal / trusted services
	limitInternal = rate.Limit(100)
	burstInternal = 200
)

const (
	visitorIdleTTL  = 3 * time.Minute
	cleanupInterval = time.Minute
)

// visitor holds the rate limiter and the last time it was seen.
type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

type RateLimiter struct {
	mu           sync.Mutex
	visitors     map[string]*visitor
	internalKey  string
	strictPaths  []string
	webhookPaths []string
	now          func() time.Time
}

type LimiterOption func(*RateLimiter)

// StrictPaths puts POSTs to the given paths (exact match) on the strict tier.
func StrictPaths(paths ...string) LimiterOption {
	return func(l *RateLimiter) { l.strictPaths = append(l.strictPaths, paths...) }
}

// WebhookPaths puts POSTs to the given paths on the webhook tier.
func WebhookPaths(paths ...string) LimiterOption {
	return func(l *RateLimiter) { l.webhookPaths = append(l.webhookPaths, paths...) }
}

// NewRateLimiter starts a cleanup loop that runs until ctx is done.
func NewRateLimiter(ctx context.Context, internalKey string, opts ...LimiterOption) *RateLimiter {
	l := &RateLimiter{
		visitors:    make(map[string]*visitor),
		internalKey: internalKey,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	go l.cleanupLoop(ctx)
	return l
}

// getVisitor retrieves or creates a rate limiter for the given key.
func (l *RateLimiter) getVisitor(key string, r rate.Limit, b int) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	v, exists := l.visitors[key]
	if !exists {
		limiter := rate.NewLimiter(r, b)
		l.visitors[key] = &visitor{limiter, l.now()}
		return limiter
	}

	v.lastSeen = l.now()
	return v.limiter
}

func (l *RateLimiter) cleanupLoop(ctx context.Context) {
	ticker := time.NewTicker(cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.cleanup()
		}
	}
}

// cleanup removes idle visitors so the map does not grow without bound.
func (l *RateLimiter) cleanup() {
	l.mu.Lock()
	defer l.mu.Unlock()
	for key, v := range l.visitors {
		if l.now().Sub(v.lastSeen) > visitorIdleTTL {
			delete(l.visitors, key)
		}
	}
}

// Middleware checks if the request is allowed by the rate limiter.
func (l *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		limit, burst, tier := l.resolveRateTier(r)

		// Same identity gets separate quotas per tier, e.g. "user:1:strict".
		key := fmt.Sprintf("%s:%s", identity(r), tier)

		if !l.getVisitor(key, limit, burst).Allow() {
			utils.WriteJSONError(w, http.StatusText(http.StatusTooManyRequests), http.StatusTooManyRequests)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// identity only trusts the verified user id; anonymous callers share the
// bucket of their remote address.
func identity(r *http.Request) string {
	if userID, ok := utils.GetUserIDFromContext(r.Context()); ok {
		return fmt.Sprintf("user:%d", userID)
	}
	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		ip = r.RemoteAddr
	}
	return "ip:" + ip
}

// resolveRateTier determines which rate limit policy applies to the request.
func (l *RateLimiter) resolveRateTier(r *http.Request) (rate.Limit, int, string) {
	if l.internalKey != "" && r.Header.Get("X-Service-Auth") == l.internalKey {
		return limitInternal, burstInternal, "internal"
	}

	if r.Method == http.MethodPost {
		path := strings.TrimSuffix(r.URL.Path, "/")
		if slices.Contains(l.webhookPaths, path) {
			return limitWebhook, burstWebhook, "webhook"
		}
		if slices.Contains(l.strictPaths, path) {
			return limitStrict, burstStrict, "strict"
		}
	}

	if r.Header.Get("X-Client-Type") == "frontend-heavy" {
		return limitFrontend, burstFrontend, "frontend"
	}

	return limitGeneral, burstGeneral, "general"
}
