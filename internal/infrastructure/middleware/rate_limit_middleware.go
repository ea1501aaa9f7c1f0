package middleware

import (
	"net/http"
	"sync"
	"time"

	"camlink/pkg/config"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

// limiterIdleTimeout is how long a client IP may stay quiet before its
// limiter is forgotten.
const limiterIdleTimeout = time.Minute

type clientLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// ipLimiters hands out one limiter per client IP. Idle entries are pruned
// opportunistically so the map stays bounded on a public endpoint.
type ipLimiters struct {
	mu        sync.Mutex
	limiters  map[string]*clientLimiter
	rate      rate.Limit
	burst     int
	nextPrune time.Time
}

func newIPLimiters(r rate.Limit, burst int) *ipLimiters {
	return &ipLimiters{
		limiters:  make(map[string]*clientLimiter),
		rate:      r,
		burst:     burst,
		nextPrune: time.Now().Add(limiterIdleTimeout),
	}
}

func (s *ipLimiters) allow(ip string) bool {
	now := time.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	if now.After(s.nextPrune) {
		for key, cl := range s.limiters {
			if now.Sub(cl.lastSeen) > limiterIdleTimeout {
				delete(s.limiters, key)
			}
		}
		s.nextPrune = now.Add(limiterIdleTimeout)
	}

	cl, ok := s.limiters[ip]
	if !ok {
		cl = &clientLimiter{limiter: rate.NewLimiter(s.rate, s.burst)}
		s.limiters[ip] = cl
	}
	cl.lastSeen = now
	return cl.limiter.Allow()
}

// NewHTTPRateLimitMiddleware throttles the issuance API per client IP, with
// an optional cap on globally concurrent requests.
func NewHTTPRateLimitMiddleware(cfg *config.Config) gin.HandlerFunc {
	if !cfg.RateLimiting.Enabled {
		return func(c *gin.Context) {
			c.Next()
		}
	}

	store := newIPLimiters(
		rate.Limit(cfg.RateLimiting.HTTP.RequestsPerSecond),
		cfg.RateLimiting.HTTP.Burst,
	)

	var sem chan struct{}
	if cfg.RateLimiting.HTTP.MaxConcurrent > 0 {
		sem = make(chan struct{}, cfg.RateLimiting.HTTP.MaxConcurrent)
	}

	return func(c *gin.Context) {
		if sem != nil {
			select {
			case sem <- struct{}{}:
				defer func() { <-sem }()
			default:
				c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{
					"error": "too many concurrent requests",
				})
				return
			}
		}

		if !store.allow(c.ClientIP()) {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error": "rate limit exceeded",
			})
			return
		}
		c.Next()
	}
}
