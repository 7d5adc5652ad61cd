package main

import (
	"encoding/json"
	"net/http"

	apperrors "wadeliver/internal/errors"

	"golang.org/x/time/rate"
)

// apiRateLimit bounds the request rate on the API surface. The delivery
// queue has its own admission bucket; this guard keeps a misbehaving
// caller from monopolizing the server itself.
const (
	apiRatePerSec = 50
	apiBurst      = 100
)

func rateLimitMiddleware(limiter *rate.Limiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !limiter.Allow() {
				appErr := apperrors.NewRateLimitError(apiRatePerSec, "1s")
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(apperrors.HTTPStatusCode(appErr))
				_ = json.NewEncoder(w).Encode(appErr)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
