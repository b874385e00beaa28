package httpx

import (
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"
)

const sweepEvery = 5 * time.Minute

// RateLimiter counts requests per key in fixed windows. The memory limiter
// serves a single API process; the Redis limiter shares counts between
// replicas.
type RateLimiter interface {
	Allow(key string, limit int, window time.Duration) rateDecision
	Close()
}

type rateDecision struct {
	allowed   bool
	count     int
	windowEnd time.Time
}

func (d rateDecision) remaining(limit int) int {
	return max(limit-d.count, 0)
}

type fixedWindow struct {
	count int
	ends  time.Time
}

type memoryRateLimiter struct {
	mu      sync.Mutex
	windows map[string]fixedWindow
	now     func() time.Time
	done    chan struct{}
	once    sync.Once
}

// NewMemoryRateLimiter returns a limiter local to this process.
func NewMemoryRateLimiter() RateLimiter {
	rl := &memoryRateLimiter{
		windows: make(map[string]fixedWindow),
		now:     time.Now,
		done:    make(chan struct{}),
	}
	go rl.sweepLoop()
	return rl
}

func (rl *memoryRateLimiter) Allow(key string, limit int, window time.Duration) rateDecision {
	if limit <= 0 {
		return rateDecision{allowed: true}
	}
	if window <= 0 {
		window = rateWindowDefault
	}
	now := rl.now()

	rl.mu.Lock()
	defer rl.mu.Unlock()
	w, ok := rl.windows[key]
	if !ok || !now.Before(w.ends) {
		w = fixedWindow{ends: now.Add(window)}
	}
	if w.count >= limit {
		return rateDecision{count: w.count, windowEnd: w.ends}
	}
	w.count++
	rl.windows[key] = w
	return rateDecision{allowed: true, count: w.count, windowEnd: w.ends}
}

// sweep drops windows that ended before now.
func (rl *memoryRateLimiter) sweep(now time.Time) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	for key, w := range rl.windows {
		if !now.Before(w.ends) {
			delete(rl.windows, key)
		}
	}
}

func (rl *memoryRateLimiter) sweepLoop() {
	ticker := time.NewTicker(sweepEvery)
	defer ticker.Stop()
	for {
		select {
		case <-rl.done:
			return
		case now := <-ticker.C:
			rl.sweep(now)
		}
	}
}

func (rl *memoryRateLimiter) Close() {
	rl.once.Do(func() { close(rl.done) })
}

// withRateLimit throttles next per route and remote address.
func (r *Router) withRateLimit(route string, limit int, window time.Duration, next http.HandlerFunc) http.HandlerFunc {
	if limit <= 0 || r.limiter == nil {
		return next
	}
	return func(w http.ResponseWriter, req *http.Request) {
		decision := r.limiter.Allow(route+"|ip:"+remoteHost(req), limit, window)
		applyRateHeaders(w, limit, decision)
		if !decision.allowed {
			r.metrics.rateLimited(route, "ip")
			writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}
		next(w, req)
	}
}

// remoteHost is the peer address. Forwarded headers are ignored so clients
// cannot pick their own bucket.
func remoteHost(req *http.Request) string {
	host, _, err := net.SplitHostPort(strings.TrimSpace(req.RemoteAddr))
	if err != nil {
		host = strings.TrimSpace(req.RemoteAddr)
	}
	if host == "" {
		return "unknown"
	}
	return host
}

func applyRateHeaders(w http.ResponseWriter, limit int, decision rateDecision) {
	h := w.Header()
	h.Set("X-RateLimit-Limit", strconv.Itoa(limit))
	h.Set("X-RateLimit-Remaining", strconv.Itoa(decision.remaining(limit)))
	if !decision.windowEnd.IsZero() {
		h.Set("X-RateLimit-Reset", strconv.FormatInt(decision.windowEnd.Unix(), 10))
	}
}

// clientIP prefers the first X-Forwarded-For hop. It is only logged.
func clientIP(req *http.Request) string {
	if forwarded := req.Header.Get("X-Forwarded-For"); forwarded != "" {
		first, _, _ := strings.Cut(forwarded, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}
	return remoteHost(req)
}
