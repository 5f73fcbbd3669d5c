package middleware

import (
	"crypto/subtle"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"paygate-be/internal/utils"

	"golang.org/x/time/rate"
)

// Rate Limit Tiers
const (
	// Browser-facing payment routes: checkout initiation and card returns
	limitStrict = rate.Limit(2)
	burstStrict = 5

	// Server-to-server provider callbacks, one bucket per provider host
	limitProvider = rate.Limit(50)
	burstProvider = 100

	limitGeneral = rate.Limit(10)
	burstGeneral = 20

	// Internal / trusted services
	limitInternal = rate.Limit(100)
	burstInternal = 200
)

const visitorTTL = 3 * time.Minute

// providerCallbacks are posted by the providers' own servers, so many orders
// settle from a single address.
var providerCallbacks = map[string]bool{
	"/callbacks/wallet":      true,
	"/callbacks/mobilemoney": true,
	"/callbacks/delivery":    true,
}

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter keeps one token bucket per caller and tier.
type RateLimiter struct {
	internalKey string

	mu          sync.Mutex
	visitors    map[string]*visitor
	lastCleanup time.Time
	now         func() time.Time
}

func NewRateLimiter(internalKey string) *RateLimiter {
	return &RateLimiter{
		internalKey: internalKey,
		visitors:    make(map[string]*visitor),
		lastCleanup: time.Now(),
		now:         time.Now,
	}
}

func (l *RateLimiter) getVisitor(key string, r rate.Limit, b int) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if now.Sub(l.lastCleanup) > time.Minute {
		for k, v := range l.visitors {
			if now.Sub(v.lastSeen) > visitorTTL {
				delete(l.visitors, k)
			}
		}
		l.lastCleanup = now
	}

	v, ok := l.visitors[key]
	if !ok {
		v = &visitor{limiter: rate.NewLimiter(r, b)}
		l.visitors[key] = v
	}
	v.lastSeen = now
	return v.limiter
}

// Middleware keys callers by user when an earlier middleware authenticated
// the request, and by client IP otherwise.
func (l *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		limit, burst, tier := l.resolveTier(r)

		var identity string
		if userID, ok := utils.GetUserIDFromContext(r.Context()); ok {
			identity = fmt.Sprintf("user:%d", userID)
		} else {
			identity = "ip:" + clientIP(r)
		}

		if !l.getVisitor(identity+":"+tier, limit, burst).Allow() {
			http.Error(w, http.StatusText(http.StatusTooManyRequests), http.StatusTooManyRequests)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (l *RateLimiter) resolveTier(r *http.Request) (rate.Limit, int, string) {
	if l.internalKey != "" &&
		subtle.ConstantTimeCompare([]byte(r.Header.Get(ServiceAuthHeader)), []byte(l.internalKey)) == 1 {
		return limitInternal, burstInternal, "internal"
	}

	if r.Method == http.MethodPost && providerCallbacks[r.URL.Path] {
		return limitProvider, burstProvider, "provider"
	}

	if strings.HasPrefix(r.URL.Path, "/callbacks/") ||
		(r.Method == http.MethodPost && strings.HasSuffix(r.URL.Path, "/payments")) {
		return limitStrict, burstStrict, "strict"
	}

	return limitGeneral, burstGeneral, "general"
}

func clientIP(r *http.Request) string {
	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return ip
}
