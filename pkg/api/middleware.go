package api

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/covenant-labs/covenant/pkg/auth"
)

// Limiter decides whether a caller may proceed. Keys are caller identities
// (fallback: remote address).
type Limiter interface {
	Allow(ctx context.Context, key string) (bool, error)
}

// LocalLimiter keeps a token bucket per caller in process memory.
type LocalLimiter struct {
	mu      sync.Mutex
	buckets map[string]*callerBucket
	rps     rate.Limit
	burst   int
}

type callerBucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

func NewLocalLimiter(rps, burst int) *LocalLimiter {
	l := &LocalLimiter{
		buckets: make(map[string]*callerBucket),
		rps:     rate.Limit(rps),
		burst:   burst,
	}
	go l.cleanup()
	return l
}

func (l *LocalLimiter) Allow(_ context.Context, key string) (bool, error) {
	l.mu.Lock()
	b, ok := l.buckets[key]
	if !ok {
		b = &callerBucket{limiter: rate.NewLimiter(l.rps, l.burst)}
		l.buckets[key] = b
	}
	b.lastSeen = time.Now()
	l.mu.Unlock()
	return b.limiter.Allow(), nil
}

// cleanup removes stale buckets to bound memory.
func (l *LocalLimiter) cleanup() {
	for {
		time.Sleep(time.Minute)
		l.mu.Lock()
		for key, b := range l.buckets {
			if time.Since(b.lastSeen) > 3*time.Minute {
				delete(l.buckets, key)
			}
		}
		l.mu.Unlock()
	}
}

// Authenticate extracts the bearer token, resolves the caller identity, and
// attaches both to the request context. Requests without a resolvable
// identity proceed anonymously; operations claiming an identity will then
// fail their auth check.
func Authenticate(resolve func(token string) (string, error)) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			if strings.HasPrefix(header, "Bearer ") {
				raw := strings.TrimPrefix(header, "Bearer ")
				ctx := auth.WithToken(r.Context(), raw)
				if resolve != nil {
					if subject, err := resolve(raw); err == nil {
						ctx = auth.WithCaller(ctx, subject)
					}
				}
				r = r.WithContext(ctx)
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RateLimit enforces a per-caller limit, keyed by proven identity when
// present and remote address otherwise.
func RateLimit(limiter Limiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if limiter == nil {
				next.ServeHTTP(w, r)
				return
			}
			key, ok := auth.CallerFrom(r.Context())
			if !ok {
				key = r.RemoteAddr
			}
			allowed, err := limiter.Allow(r.Context(), key)
			if err != nil {
				// Fail open on limiter backend trouble.
				next.ServeHTTP(w, r)
				return
			}
			if !allowed {
				WriteError(w, r, http.StatusTooManyRequests, "Rate Limited", "too many requests")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
