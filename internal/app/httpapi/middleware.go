package httpapi

import (
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/smarter-poker/diamond-ledger/internal/app/storage"
)

type storageResult = storage.MutationResult

func timeNow() time.Time { return time.Now().UTC() }

func secondsToDuration(seconds int64) time.Duration {
	if seconds <= 0 {
		return 0
	}
	return time.Duration(seconds) * time.Second
}

// rateLimit throttles per client address. Limiters are dropped after an
// idle hour so the map does not grow without bound.
func rateLimit(next http.Handler, perSecond float64, burst int) http.Handler {
	if burst <= 0 {
		burst = int(perSecond) + 1
	}
	type client struct {
		limiter  *rate.Limiter
		lastSeen time.Time
	}
	var (
		mu      sync.Mutex
		clients = make(map[string]*client)
	)
	cleanup := func(now time.Time) {
		for addr, c := range clients {
			if now.Sub(c.lastSeen) > time.Hour {
				delete(clients, addr)
			}
		}
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		addr, _, err := net.SplitHostPort(r.RemoteAddr)
		if err != nil {
			addr = r.RemoteAddr
		}
		now := time.Now()
		mu.Lock()
		c, ok := clients[addr]
		if !ok {
			c = &client{limiter: rate.NewLimiter(rate.Limit(perSecond), burst)}
			clients[addr] = c
			if len(clients)%256 == 0 {
				cleanup(now)
			}
		}
		c.lastSeen = now
		allowed := c.limiter.Allow()
		mu.Unlock()

		if !allowed {
			w.Header().Set("Retry-After", "1")
			http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}
