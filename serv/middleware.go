package serv

import (
	"net/http"
	"strings"
	"sync"

	"github.com/rs/cors"
	"github.com/rs/xid"
	"golang.org/x/time/rate"
)

const requestIDHeader = "X-Request-Id"

// requestIDHandler tags every request and response with a unique id.
func requestIDHandler(next http.Handler) http.Handler {
	fn := func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(requestIDHeader)
		if id == "" {
			id = xid.New().String()
			r.Header.Set(requestIDHeader, id)
		}
		w.Header().Set(requestIDHeader, id)
		next.ServeHTTP(w, r)
	}
	return http.HandlerFunc(fn)
}

// corsHandler applies the configured CORS policy.
func corsHandler(conf *Config, next http.Handler) http.Handler {
	c := cors.New(cors.Options{
		AllowedOrigins:   conf.AllowedOrigins,
		AllowedHeaders:   conf.AllowedHeaders,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowCredentials: true,
		Debug:            conf.DebugCORS,
	})
	return c.Handler(next)
}

// ipLimiters hands out one token bucket per client ip.
type ipLimiters struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	rate     rate.Limit
	bucket   int
}

func newIPLimiters(r float64, bucket int) *ipLimiters {
	return &ipLimiters{
		limiters: make(map[string]*rate.Limiter),
		rate:     rate.Limit(r),
		bucket:   bucket,
	}
}

func (l *ipLimiters) get(ip string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	lim, ok := l.limiters[ip]
	if !ok {
		lim = rate.NewLimiter(l.rate, l.bucket)
		l.limiters[ip] = lim
	}
	return lim
}

// rateLimiterHandler rejects requests above the configured per-client rate.
func rateLimiterHandler(s1 *HttpService, next http.Handler) http.Handler {
	s := s1.Load().(*squirrelsService)
	limiters := newIPLimiters(s.conf.RateLimiter.Rate, s.conf.RateLimiter.Bucket)
	ipHeader := s.conf.RateLimiter.IPHeader

	fn := func(w http.ResponseWriter, r *http.Request) {
		ip := clientIP(r, ipHeader)
		if !limiters.get(ip).Allow() {
			http.Error(w, http.StatusText(http.StatusTooManyRequests),
				http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	}
	return http.HandlerFunc(fn)
}

// clientIP picks the client address from the configured header, falling back
// to the connection's remote address.
func clientIP(r *http.Request, ipHeader string) string {
	if ipHeader != "" {
		if v := r.Header.Get(ipHeader); v != "" {
			// the header may carry a proxy chain; the client is first
			if i := strings.IndexByte(v, ','); i > 0 {
				return strings.TrimSpace(v[:i])
			}
			return strings.TrimSpace(v)
		}
	}
	host := r.RemoteAddr
	if i := strings.LastIndexByte(host, ':'); i > 0 {
		host = host[:i]
	}
	return host
}
