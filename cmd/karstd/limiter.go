package main

import "net/http"

// limiter caps in-flight requests so a replication storm cannot
// exhaust the listener.
type limiter struct {
	sem chan struct{}
}

func newLimiter(n int) *limiter {
	return &limiter{sem: make(chan struct{}, n)}
}

func (l *limiter) wrap(h http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case l.sem <- struct{}{}:
			defer func() { <-l.sem }()
			h.ServeHTTP(w, r)
		default:
			http.Error(w, "too many requests", http.StatusTooManyRequests)
		}
	})
}
