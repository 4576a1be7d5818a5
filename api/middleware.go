package api

import (
	"net"
	"net/http"
	"time"

	"golang.org/x/time/rate"
)

type limiter interface {
	Allow() bool
}

// rateLimitMiddleware limits requests per client IP.
func (s *Server) rateLimitMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := clientIP(r)
		s.rateLimitersMu.Lock()
		entry, exists := s.rateLimiters[ip]
		if !exists {
			entry = &rateLimiterEntry{
				limiter:  rate.NewLimiter(rate.Limit(s.cfg.RateLimit), s.burst()),
				lastSeen: time.Now(),
			}
			s.rateLimiters[ip] = entry
		} else {
			entry.lastSeen = time.Now()
		}
		// Capture while holding the lock; cleanup may delete the entry.
		l := entry.limiter
		s.rateLimitersMu.Unlock()

		if !l.Allow() {
			http.Error(w, "Too many requests", http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) burst() int {
	if s.cfg.Burst > 0 {
		return s.cfg.Burst
	}
	return 1
}

// cleanupRateLimiters drops limiters idle for an hour until the server stops.
func (s *Server) cleanupRateLimiters() {
	ticker := time.NewTicker(1 * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.rateLimitersMu.Lock()
			for ip, entry := range s.rateLimiters {
				if time.Since(entry.lastSeen) > 1*time.Hour {
					delete(s.rateLimiters, ip)
				}
			}
			s.rateLimitersMu.Unlock()
		case <-s.stopCh:
			return
		}
	}
}

func clientIP(r *http.Request) string {
	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return ip
}
