package middleware

import (
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
)

type senderEntry struct {
	count     int
	expiresAt time.Time
}

// RateLimiter limits requests per sender within a fixed window. A sender is
// the client IP plus the Origin header, so two browser extensions on the same
// host are counted separately. The cleanup goroutine exits when done closes.
func RateLimiter(maxRequests int, window time.Duration, done <-chan struct{}) gin.HandlerFunc {
	var mu sync.Mutex
	entries := make(map[string]*senderEntry)

	go func() {
		ticker := time.NewTicker(window)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				mu.Lock()
				now := time.Now()
				for key, entry := range entries {
					if now.After(entry.expiresAt) {
						delete(entries, key)
					}
				}
				mu.Unlock()
			}
		}
	}()

	return func(c *gin.Context) {
		key := senderKey(c.Request)

		mu.Lock()
		entry, exists := entries[key]
		now := time.Now()

		if !exists || now.After(entry.expiresAt) {
			entries[key] = &senderEntry{count: 1, expiresAt: now.Add(window)}
			mu.Unlock()
			c.Next()
			return
		}

		entry.count++
		if entry.count > maxRequests {
			mu.Unlock()
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error": "rate limit exceeded",
			})
			return
		}
		mu.Unlock()
		c.Next()
	}
}

func senderKey(r *http.Request) string {
	ip, _, _ := net.SplitHostPort(r.RemoteAddr)
	if ip == "" {
		ip = r.RemoteAddr
	}
	return ip + "|" + r.Header.Get("Origin")
}
