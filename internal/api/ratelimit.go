package api

import (
	"fmt"
	"net"
	"net/http"
	"net/netip"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// visitorTTL is how long an idle client keeps its limiter.
const visitorTTL = 10 * time.Minute

// maxForwardedFor caps how many X-Forwarded-For hops are examined.
const maxForwardedFor = 16

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter throttles requests per client IP. A nil RateLimiter allows
// everything.
type RateLimiter struct {
	limit   rate.Limit
	burst   int
	proxies []netip.Prefix

	mu        sync.Mutex
	visitors  map[string]*visitor
	lastSweep time.Time
	now       func() time.Time
}

// NewRateLimiter allows perMinute requests per client with the given burst.
// It returns nil when perMinute is not positive. Forwarding headers are
// honored only on connections from one of proxies.
func NewRateLimiter(perMinute float64, burst int, proxies ...netip.Prefix) *RateLimiter {
	if perMinute <= 0 {
		return nil
	}
	if burst <= 0 {
		burst = 1
	}
	return &RateLimiter{
		limit:    rate.Limit(perMinute / 60.0),
		burst:    burst,
		proxies:  proxies,
		visitors: make(map[string]*visitor),
		now:      time.Now,
	}
}

// Middleware rejects requests over the client's budget with 429.
func (l *RateLimiter) Middleware(next http.Handler) http.Handler {
	if l == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !l.Allow(clientID(r, l.proxies)) {
			writeJSON(w, http.StatusTooManyRequests, errorResponse{Error: "Too many requests, try again later."})
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Allow reports whether client id may make a request now.
func (l *RateLimiter) Allow(id string) bool {
	if l == nil {
		return true
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if now.Sub(l.lastSweep) > visitorTTL {
		for k, v := range l.visitors {
			if now.Sub(v.lastSeen) > visitorTTL {
				delete(l.visitors, k)
			}
		}
		l.lastSweep = now
	}

	v, ok := l.visitors[id]
	if !ok {
		v = &visitor{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.visitors[id] = v
	}
	v.lastSeen = now
	return v.limiter.AllowN(now, 1)
}

// ParseTrustedProxies parses proxy addresses ("10.0.0.1") and networks
// ("10.0.0.0/8").
func ParseTrustedProxies(list []string) ([]netip.Prefix, error) {
	var out []netip.Prefix
	for _, entry := range list {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		if strings.Contains(entry, "/") {
			p, err := netip.ParsePrefix(entry)
			if err != nil {
				return nil, fmt.Errorf("trusted proxy %q: %w", entry, err)
			}
			out = append(out, p.Masked())
			continue
		}
		a, err := netip.ParseAddr(entry)
		if err != nil {
			return nil, fmt.Errorf("trusted proxy %q: %w", entry, err)
		}
		a = a.Unmap()
		out = append(out, netip.PrefixFrom(a, a.BitLen()))
	}
	return out, nil
}

func trusted(a netip.Addr, proxies []netip.Prefix) bool {
	for _, p := range proxies {
		if p.Contains(a) {
			return true
		}
	}
	return false
}

// parseHost accepts "ip" or "ip:port".
func parseHost(s string) (netip.Addr, bool) {
	s = strings.TrimSpace(s)
	if ap, err := netip.ParseAddrPort(s); err == nil {
		return ap.Addr().Unmap(), true
	}
	a, err := netip.ParseAddr(s)
	if err != nil {
		return netip.Addr{}, false
	}
	return a.Unmap(), true
}

// clientID identifies the caller by its connection address. X-Real-IP and
// X-Forwarded-For are read only when the connection comes from a trusted
// proxy; the forwarded chain is walked right to left past trusted hops.
func clientID(r *http.Request, proxies []netip.Prefix) string {
	remote, ok := parseHost(r.RemoteAddr)
	if !ok {
		host, _, err := net.SplitHostPort(r.RemoteAddr)
		if err != nil {
			return r.RemoteAddr
		}
		return host
	}
	if !trusted(remote, proxies) {
		return remote.String()
	}

	if a, ok := parseHost(r.Header.Get("X-Real-IP")); ok {
		return a.String()
	}
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		hops := strings.Split(fwd, ",")
		if len(hops) > maxForwardedFor {
			return remote.String()
		}
		for i := len(hops) - 1; i >= 0; i-- {
			a, ok := parseHost(hops[i])
			if !ok {
				return remote.String()
			}
			if !trusted(a, proxies) {
				return a.String()
			}
		}
	}
	return remote.String()
}
