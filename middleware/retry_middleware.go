package middleware

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"go-ubus/message"
)

// RetryMiddleware repeats calls that timed out or were rate limited, up to
// maxRetries more times, sleeping baseDelay, 2*baseDelay, 4*baseDelay ...
// between attempts. Other failures return at once. Only wrap methods that
// are safe to repeat.
func RetryMiddleware(maxRetries int, baseDelay time.Duration, logger *zap.Logger) Middleware {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *message.Request) *message.Response {
			resp := next(ctx, req)
			for i := 0; i < maxRetries && retryable(resp); i++ {
				logger.Info("retrying call",
					zap.String("object", req.Object),
					zap.String("method", req.Method),
					zap.Int("attempt", i+1))

				select {
				case <-time.After(baseDelay * time.Duration(1<<i)):
				case <-ctx.Done():
					return resp
				}
				resp = next(ctx, req)
			}
			return resp
		}
	}
}

func retryable(resp *message.Response) bool {
	if resp.Err != nil {
		return errors.Is(resp.Err, ErrRateLimited)
	}
	return resp.Status == message.StatusTimeout
}
