package middleware

import (
	"context"
	"time"

	"go-ubus/message"
)

// TimeOutMiddleware bounds a call to timeout. An expired call reports
// StatusTimeout, as if the broker had not answered.
func TimeOutMiddleware(timeout time.Duration) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *message.Request) *message.Response {
			ctx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()

			done := make(chan *message.Response, 1)
			go func() {
				done <- next(ctx, req)
			}()

			select {
			case resp := <-done:
				return resp
			case <-ctx.Done():
				return &message.Response{Status: message.StatusTimeout}
			}
		}
	}
}
