package server

import (
	"fmt"
	"net"
	"net/http"
	"net/netip"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/cors"
	"golang.org/x/time/rate"

	"teraresolve/internal"
)

const requestIDHeader = "X-Request-ID"

// Recovery turns a handler panic into a JSON 500
func Recovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if recovered := recover(); recovered != nil {
				internal.LogError("panic recovered: %v\n%s", recovered, debug.Stack())
				writeJSON(w, http.StatusInternalServerError, errorResponse{
					Status:  "error",
					Message: "Unexpected server error",
				})
			}
		}()

		next.ServeHTTP(w, r)
	})
}

// Logging tags every request with an X-Request-ID and logs its outcome
func Logging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get(requestIDHeader)
		if requestID == "" {
			requestID = uuid.NewString()
		}
		w.Header().Set(requestIDHeader, requestID)

		started := time.Now()
		wrapped := &responseWriter{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		line := fmt.Sprintf("request_id=%s method=%s path=%s status=%d duration_ms=%d remote=%s",
			requestID, r.Method, r.URL.Path, wrapped.status, time.Since(started).Milliseconds(), peerAddr(r))
		switch {
		case wrapped.status >= 500:
			internal.LogError("%s", line)
		case wrapped.status >= 400:
			internal.LogWarn("%s", line)
		default:
			internal.LogInfo("%s", line)
		}
	})
}

type responseWriter struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
}

func (rw *responseWriter) WriteHeader(statusCode int) {
	if rw.wroteHeader {
		return
	}
	rw.status = statusCode
	rw.wroteHeader = true
	rw.ResponseWriter.WriteHeader(statusCode)
}

// CORS allows browser clients from origins
func CORS(origins []string) func(http.Handler) http.Handler {
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	handler := cors.New(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type", requestIDHeader},
		ExposedHeaders: []string{requestIDHeader},
		MaxAge:         3600,
	})

	return handler.Handler
}

type clientLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter enforces a per-client requests-per-minute limit. Forwarding
// headers identify the client only when the peer is a trusted proxy.
type RateLimiter struct {
	rpm     int
	trusted []netip.Prefix
	mu      sync.Mutex
	clients map[string]*clientLimiter
}

// NewRateLimiter creates a limiter. rpm <= 0 disables limiting.
func NewRateLimiter(rpm int, trusted []netip.Prefix) *RateLimiter {
	return &RateLimiter{rpm: rpm, trusted: trusted, clients: map[string]*clientLimiter{}}
}

// ParseTrustedProxies converts IP and CIDR entries into prefixes
func ParseTrustedProxies(entries []string) ([]netip.Prefix, error) {
	prefixes := make([]netip.Prefix, 0, len(entries))
	for _, entry := range entries {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		if strings.Contains(entry, "/") {
			prefix, err := netip.ParsePrefix(entry)
			if err != nil {
				return nil, fmt.Errorf("invalid trusted proxy %q: %w", entry, err)
			}
			prefixes = append(prefixes, prefix.Masked())
			continue
		}
		addr, err := netip.ParseAddr(entry)
		if err != nil {
			return nil, fmt.Errorf("invalid trusted proxy %q: %w", entry, err)
		}
		addr = addr.Unmap()
		prefixes = append(prefixes, netip.PrefixFrom(addr, addr.BitLen()))
	}
	return prefixes, nil
}

// Handler is the middleware
func (m *RateLimiter) Handler(next http.Handler) http.Handler {
	if m.rpm <= 0 {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !m.get(clientIP(r, m.trusted)).Allow() {
			w.Header().Set("Retry-After", "60")
			writeJSON(w, http.StatusTooManyRequests, errorResponse{
				Status:  "error",
				Message: "Too many requests",
			})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (m *RateLimiter) get(client string) *rate.Limiter {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	if entry, ok := m.clients[client]; ok {
		entry.lastSeen = now
		return entry.limiter
	}

	m.gcLocked(now)
	entry := &clientLimiter{
		limiter:  rate.NewLimiter(rate.Every(time.Minute/time.Duration(m.rpm)), m.rpm),
		lastSeen: now,
	}
	m.clients[client] = entry
	return entry.limiter
}

func (m *RateLimiter) gcLocked(now time.Time) {
	if len(m.clients) < 1000 {
		return
	}
	cutoff := now.Add(-10 * time.Minute)
	for client, entry := range m.clients {
		if entry.lastSeen.Before(cutoff) {
			delete(m.clients, client)
		}
	}
}

// peerAddr is the host of the connection's remote address
func peerAddr(r *http.Request) string {
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil && host != "" {
		return host
	}
	if r.RemoteAddr == "" {
		return "unknown"
	}
	return r.RemoteAddr
}

// clientIP identifies the caller. X-Forwarded-For is read right to left,
// skipping trusted hops; X-Real-IP is the next choice. Both are ignored
// unless the peer itself is trusted.
func clientIP(r *http.Request, trusted []netip.Prefix) string {
	peer := peerAddr(r)
	if !isTrusted(peer, trusted) {
		return peer
	}

	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		hops := strings.Split(forwarded, ",")
		for i := len(hops) - 1; i >= 0; i-- {
			hop := strings.TrimSpace(hops[i])
			if hop != "" && !isTrusted(hop, trusted) {
				return hop
			}
		}
	}
	if realIP := strings.TrimSpace(r.Header.Get("X-Real-IP")); realIP != "" {
		return realIP
	}
	return peer
}

func isTrusted(ip string, trusted []netip.Prefix) bool {
	if len(trusted) == 0 {
		return false
	}
	addr, err := netip.ParseAddr(ip)
	if err != nil {
		return false
	}
	addr = addr.Unmap()
	for _, prefix := range trusted {
		if prefix.Contains(addr) {
			return true
		}
	}
	return false
}
