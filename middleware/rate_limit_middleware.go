package middleware

import (
	"context"
	"errors"

	"golang.org/x/time/rate"

	"go-ubus/message"
)

// ErrRateLimited is reported for calls rejected by RateLimitMiddleware.
var ErrRateLimited = errors.New("rate limit exceeded")

// RateLimitMiddleware rejects calls beyond r per second with bursts of up
// to burst, using a token bucket.
func RateLimitMiddleware(r float64, burst int) Middleware {
	limiter := rate.NewLimiter(rate.Limit(r), burst)
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *message.Request) *message.Response {
			if !limiter.Allow() {
				return &message.Response{Err: ErrRateLimited}
			}
			return next(ctx, req)
		}
	}
}

// ThrottleMiddleware delays calls to at most r per second instead of
// rejecting them. A call whose context ends while waiting fails with the
// context's error.
func ThrottleMiddleware(r float64, burst int) Middleware {
	limiter := rate.NewLimiter(rate.Limit(r), burst)
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *message.Request) *message.Response {
			if err := limiter.Wait(ctx); err != nil {
				return &message.Response{Err: err}
			}
			return next(ctx, req)
		}
	}
}
