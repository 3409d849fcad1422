package otp

import (
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"bloodbank-auth/internal/apperr"
	"bloodbank-auth/internal/httpx"
	"bloodbank-auth/internal/observability"
)

const bucketIdleTTL = 10 * time.Minute

type bucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RequestLimiter is a per-client-IP token bucket for OTP requests. Buckets
// live in process memory.
type RequestLimiter struct {
	mu        sync.Mutex
	buckets   map[string]*bucket
	every     time.Duration
	burst     int
	responder *httpx.Responder
	now       func() time.Time
}

// NewRequestLimiter allows burst requests per IP, refilled one every
// interval.
func NewRequestLimiter(every time.Duration, burst int, responder *httpx.Responder) *RequestLimiter {
	if every <= 0 {
		every = 20 * time.Second
	}
	if burst <= 0 {
		burst = 3
	}
	return &RequestLimiter{
		buckets:   make(map[string]*bucket),
		every:     every,
		burst:     burst,
		responder: responder,
		now:       time.Now,
	}
}

func (l *RequestLimiter) Allow(ip string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	b, ok := l.buckets[ip]
	if !ok {
		l.evictIdle(now)
		b = &bucket{limiter: rate.NewLimiter(rate.Every(l.every), l.burst)}
		l.buckets[ip] = b
	}
	b.lastSeen = now
	return b.limiter.AllowN(now, 1)
}

func (l *RequestLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !l.Allow(observability.ClientIP(r)) {
			l.responder.Error(w, r, apperr.TooManyRequests("Too many OTP requests. Try again later.", l.now().Add(l.every)))
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (l *RequestLimiter) evictIdle(now time.Time) {
	for ip, b := range l.buckets {
		if now.Sub(b.lastSeen) > bucketIdleTTL {
			delete(l.buckets, ip)
		}
	}
}
